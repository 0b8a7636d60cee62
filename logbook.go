package main

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

const adifVersion = "3.1.0"

// adifFieldPattern matches one ADIF tagged field: <NAME:LENGTH>VALUE.
var adifFieldPattern = regexp.MustCompile(`(?i)<([A-Z0-9_]+):(\d+)(?::[A-Z])?>`)

// Logbook exclusively owns the worked-index and the ADIF file handle
// (spec.md §3 "Ownership"). Grounded on the teacher's append-only,
// synchronous-flush log writers (http_log_buffer.go, chat_logger.go), which
// likewise hold a single os.File under a mutex rather than buffering writes.
type Logbook struct {
	mu   sync.Mutex
	path string
	file *os.File

	worked  map[WorkedKey]time.Time
	profile StationProfile

	telemetry *MQTTTelemetry
}

// SetTelemetry wires an optional MQTT publisher that LogQSO notifies after
// every successful append (SPEC_FULL.md §4.8 "(ADDED)"). A nil telemetry
// disables publishing entirely; the logbook's own ownership of the
// worked-index and ADIF file is unaffected either way.
func (lb *Logbook) SetTelemetry(t *MQTTTelemetry) {
	lb.mu.Lock()
	lb.telemetry = t
	lb.mu.Unlock()
}

// NewLogbook opens (or creates) the ADIF file at path, scanning any existing
// contents into the worked-index.
func NewLogbook(path string, profile StationProfile) (*Logbook, error) {
	lb := &Logbook{
		path:    path,
		worked:  make(map[WorkedKey]time.Time),
		profile: profile,
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := lb.loadFromBytes(data, true); err != nil {
			backupPath := fmt.Sprintf("%s.corrupt-%d", path, time.Now().UTC().Unix())
			log.Printf("logbook: %s failed catastrophic scan (%v), backing up to %s and starting fresh", path, err, backupPath)
			os.Rename(path, backupPath)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("logbook: read %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("logbook: open %s: %w", path, err)
	}
	lb.file = f

	if info, statErr := f.Stat(); statErr == nil && info.Size() == 0 {
		if _, err := f.WriteString(adifHeader()); err != nil {
			return nil, fmt.Errorf("logbook: write header: %w", err)
		}
		f.Sync()
	}

	return lb, nil
}

func adifHeader() string {
	var b strings.Builder
	fmt.Fprintf(&b, "wsjtx-hub logbook %s\n", adifField("ADIF_VER", adifVersion))
	fmt.Fprintf(&b, "%s\n", adifField("PROGRAMID", "wsjtx-hub"))
	b.WriteString("<EOH>\n")
	return b.String()
}

func adifField(name, value string) string {
	return fmt.Sprintf("<%s:%d>%s", name, len(value), value)
}

// loadFromBytes parses the data region after <EOH>, splitting on <EOR>.
// A record that fails to yield a usable key is skipped, not fatal; only a
// read or structural failure upstream of this call is treated as
// catastrophic. When overwriteExisting is false, a key already present in
// lb.worked is left untouched rather than replaced — ImportFromFile's
// merge-unseen-keys-only semantics (spec.md §4.8), as opposed to the
// sequential last-write-wins rescan used at startup.
func (lb *Logbook) loadFromBytes(data []byte, overwriteExisting bool) error {
	text := string(data)
	idx := strings.Index(strings.ToUpper(text), "<EOH>")
	if idx < 0 {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return fmt.Errorf("missing <EOH> header terminator")
	}
	body := text[idx+len("<EOH>"):]

	for _, rec := range strings.Split(body, "<EOR>") {
		if strings.TrimSpace(rec) == "" {
			continue
		}
		fields := parseADIFRecord(rec)
		call := strings.ToUpper(fields["CALL"])
		band := strings.ToLower(fields["BAND"])
		mode := strings.ToUpper(fields["MODE"])
		if call == "" || band == "" || mode == "" {
			continue
		}
		ts, ok := parseADIFTimestamp(fields["QSO_DATE"], firstNonEmpty(fields["TIME_OFF"], fields["TIME_ON"]))
		if !ok {
			continue
		}
		key := WorkedKey{Call: call, Band: band, Mode: mode}
		if !overwriteExisting {
			if _, exists := lb.worked[key]; exists {
				continue
			}
		}
		lb.worked[key] = ts
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseADIFRecord(rec string) map[string]string {
	out := make(map[string]string)
	matches := adifFieldPattern.FindAllStringSubmatchIndex(rec, -1)
	for _, m := range matches {
		name := strings.ToUpper(rec[m[2]:m[3]])
		length, err := strconv.Atoi(rec[m[4]:m[5]])
		if err != nil {
			continue
		}
		valueStart := m[1]
		valueEnd := valueStart + length
		if valueEnd > len(rec) {
			continue
		}
		out[name] = rec[valueStart:valueEnd]
	}
	return out
}

func parseADIFTimestamp(date, hms string) (time.Time, bool) {
	if len(date) != 8 {
		return time.Time{}, false
	}
	if len(hms) != 6 {
		hms = "000000"
	}
	ts, err := time.Parse("20060102150405", date+hms)
	if err != nil {
		return time.Time{}, false
	}
	return ts.UTC(), true
}

func workedKeyFor(call, band, mode string) WorkedKey {
	return WorkedKey{Call: strings.ToUpper(call), Band: strings.ToLower(band), Mode: strings.ToUpper(mode)}
}

// LogQSO appends a new record (synchronous, flushed) and updates the
// worked-index.
func (lb *Logbook) LogQSO(q QSORecord) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	record := lb.renderRecord(q)
	if _, err := lb.file.WriteString(record); err != nil {
		return fmt.Errorf("logbook: append: %w", err)
	}
	if err := lb.file.Sync(); err != nil {
		return fmt.Errorf("logbook: sync: %w", err)
	}

	key := workedKeyFor(q.Callsign, q.Band, q.Mode)
	lb.worked[key] = q.EndTime.UTC()

	if lb.telemetry != nil {
		lb.telemetry.PublishQSO(q)
	}
	return nil
}

func (lb *Logbook) renderRecord(q QSORecord) string {
	var b strings.Builder
	writeField := func(name, value string) {
		if value == "" {
			return
		}
		b.WriteString(adifField(name, value))
	}

	writeField("CALL", q.Callsign)
	writeField("QSO_DATE", q.StartTime.UTC().Format("20060102"))
	writeField("TIME_ON", q.StartTime.UTC().Format("150405"))
	writeField("TIME_OFF", q.EndTime.UTC().Format("150405"))
	writeField("BAND", q.Band)
	if q.DialHz > 0 {
		writeField("FREQ", strconv.FormatFloat(float64(q.DialHz)/1e6, 'f', 6, 64))
	}
	writeField("MODE", q.Mode)
	writeField("RST_SENT", q.ReportSent)
	writeField("RST_RCVD", q.ReportReceived)
	writeField("GRIDSQUARE", q.Grid)
	if q.TxPowerWatts > 0 {
		writeField("TX_PWR", strconv.Itoa(q.TxPowerWatts))
	}
	writeField("COMMENT", q.Notes)
	writeField("MY_GRIDSQUARE", lb.profile.Grid)
	writeField("STATION_CALLSIGN", lb.profile.Callsign)
	b.WriteString("<EOR>\n")
	return b.String()
}

// ClearLogbook backs up the current file and reinitializes with a fresh
// header and an empty worked-index.
func (lb *Logbook) ClearLogbook() error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if err := lb.file.Close(); err != nil {
		return fmt.Errorf("logbook: close for backup: %w", err)
	}
	backupPath := fmt.Sprintf("%s.bak-%d", lb.path, time.Now().UTC().Unix())
	if err := os.Rename(lb.path, backupPath); err != nil {
		return fmt.Errorf("logbook: backup: %w", err)
	}

	f, err := os.OpenFile(lb.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("logbook: reinit: %w", err)
	}
	if _, err := f.WriteString(adifHeader()); err != nil {
		return fmt.Errorf("logbook: reinit header: %w", err)
	}
	f.Sync()

	lb.file = f
	lb.worked = make(map[WorkedKey]time.Time)
	return nil
}

// ExportToFile copies the current log to path.
func (lb *Logbook) ExportToFile(path string) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if err := lb.file.Sync(); err != nil {
		return fmt.Errorf("logbook: sync before export: %w", err)
	}
	data, err := os.ReadFile(lb.path)
	if err != nil {
		return fmt.Errorf("logbook: read for export: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// ImportFromFile scans an external ADIF file and merges previously-unseen
// worked-index keys. It does not append the external records to this
// logbook's own file — only the duplicate index is merged.
func (lb *Logbook) ImportFromFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("logbook: read import file: %w", err)
	}

	lb.mu.Lock()
	defer lb.mu.Unlock()

	before := len(lb.worked)
	if err := lb.loadFromBytes(data, false); err != nil {
		return 0, fmt.Errorf("logbook: import scan: %w", err)
	}
	return len(lb.worked) - before, nil
}

// IsWorked reports whether (call, band, mode) already has a logged contact.
func (lb *Logbook) IsWorked(call, band, mode string) bool {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	_, ok := lb.worked[workedKeyFor(call, band, mode)]
	return ok
}

// IsWorkedOnBand reports whether call has been worked on band in any mode.
func (lb *Logbook) IsWorkedOnBand(call, band string) bool {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	call = strings.ToUpper(call)
	band = strings.ToLower(band)
	for k := range lb.worked {
		if k.Call == call && k.Band == band {
			return true
		}
	}
	return false
}

// IsWorkedAnywhere reports whether call has been worked on any band or mode.
func (lb *Logbook) IsWorkedAnywhere(call string) bool {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	call = strings.ToUpper(call)
	for k := range lb.worked {
		if k.Call == call {
			return true
		}
	}
	return false
}

// Close flushes and closes the underlying file.
func (lb *Logbook) Close() error {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if lb.file == nil {
		return nil
	}
	return lb.file.Close()
}
