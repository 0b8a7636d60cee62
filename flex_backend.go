package main

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	flexDefaultPort      = 4992
	flexInitialRetryDelay = 1 * time.Second
	flexMaxRetryDelay     = 60 * time.Second
)

// flexSliceState is the backend's own idea of one slice's live attributes,
// used only to detect active-flag transitions that drive slice-added /
// slice-removed events.
type flexSliceState struct {
	active   bool
	freqHz   uint64
	mode     string
	txActive bool
	audioCh  int
}

// FlexBackend implements RadioBackend against a FlexRadio-style line
// protocol: text commands prefixed "C<seq>|", responses framed
// "R<seq>|<code>|<payload>", and unsolicited "S<handle>|<payload>" status
// lines carrying "slice <index> key=value ..." updates. Grounded on the
// teacher's RotctlClient in rotctl.go for its connect/reconnect/backoff
// shape and its line-oriented sendCommand pattern; the command grammar
// itself has no teacher analogue and is built directly from spec.md §4.5.
type FlexBackend struct {
	mu   sync.Mutex
	host string
	port int

	conn      net.Conn
	reader    *bufio.Reader
	connected bool
	closing   bool

	seq    uint32
	slices map[int]*flexSliceState

	onSliceAdded   []func(int)
	onSliceRemoved []func(int)
	onSliceUpdated []func(int, BackendUpdate)
	onError        []func(error)
	onConnected    []func()
	onDisconnected []func()
}

// WithPort overrides the CAT control port before Connect is called,
// matching spec.md §6's "flex.cat-base-port" config field; the protocol
// itself is fixed at port 4992 (spec.md §4.5) so this only matters for
// operators running a non-default setup.
func (f *FlexBackend) WithPort(port int) *FlexBackend {
	f.mu.Lock()
	f.port = port
	f.mu.Unlock()
	return f
}

func NewFlexBackend() *FlexBackend {
	return &FlexBackend{
		port:   flexDefaultPort,
		slices: make(map[int]*flexSliceState),
	}
}

func (f *FlexBackend) Connect(host string) error {
	f.mu.Lock()
	f.host = host
	if f.port == 0 {
		f.port = flexDefaultPort
	}
	f.mu.Unlock()

	go f.connectWithBackoff()
	return nil
}

func (f *FlexBackend) connectWithBackoff() {
	delay := flexInitialRetryDelay
	for attempt := 1; ; attempt++ {
		if err := f.dialAndRun(); err != nil {
			f.emitError(err)
			if attempt == 1 || attempt%10 == 0 {
				log.Printf("flex backend: connect attempt %d failed: %v, retrying in %v", attempt, err, delay)
			}
		}

		f.mu.Lock()
		closing := f.closing
		f.mu.Unlock()
		if closing {
			return
		}

		time.Sleep(delay)
		delay *= 2
		if delay > flexMaxRetryDelay {
			delay = flexMaxRetryDelay
		}
	}
}

// dialAndRun connects once, runs the read loop until the connection drops,
// and returns the error (or nil on a clean close requested via Disconnect).
func (f *FlexBackend) dialAndRun() error {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", f.host, f.port), 5*time.Second)
	if err != nil {
		return fmt.Errorf("flex backend: dial: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.reader = bufio.NewReader(conn)
	f.connected = true
	f.mu.Unlock()

	f.send("sub slice all")

	for _, cb := range f.onConnected {
		cb()
	}

	defer func() {
		f.mu.Lock()
		f.connected = false
		f.conn = nil
		f.mu.Unlock()
		for _, cb := range f.onDisconnected {
			cb()
		}
	}()

	for {
		line, err := f.reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("flex backend: read: %w", err)
		}
		f.handleLine(strings.TrimRight(line, "\r\n"))

		f.mu.Lock()
		closing := f.closing
		f.mu.Unlock()
		if closing {
			return nil
		}
	}
}

func (f *FlexBackend) handleLine(line string) {
	if line == "" {
		return
	}
	if !strings.HasPrefix(line, "S") {
		return
	}
	parts := strings.SplitN(line, "|", 2)
	if len(parts) != 2 {
		return
	}
	f.handleStatus(parts[1])
}

// handleStatus parses "slice <index> key=value key=value ..." updates.
func (f *FlexBackend) handleStatus(payload string) {
	fields := strings.Fields(payload)
	if len(fields) < 2 || fields[0] != "slice" {
		return
	}
	index, err := strconv.Atoi(fields[1])
	if err != nil {
		return
	}

	kv := make(map[string]string)
	for _, tok := range fields[2:] {
		eq := strings.IndexByte(tok, '=')
		if eq < 0 {
			continue
		}
		kv[tok[:eq]] = tok[eq+1:]
	}
	if len(kv) == 0 {
		return
	}

	f.mu.Lock()
	state, existed := f.slices[index]
	if !existed {
		state = &flexSliceState{}
		f.slices[index] = state
	}

	var update BackendUpdate
	if v, ok := kv["freq"]; ok {
		if mhz, err := strconv.ParseFloat(v, 64); err == nil {
			hz := uint64(mhz * 1_000_000)
			state.freqHz = hz
			update.FreqHz = &hz
		}
	}
	if v, ok := kv["mode"]; ok {
		state.mode = v
		update.Mode = &v
	}
	if v, ok := kv["tx"]; ok {
		tx := v == "1"
		state.txActive = tx
		update.IsTx = &tx
	}
	if v, ok := kv["audio_channel"]; ok {
		if ch, err := strconv.Atoi(v); err == nil {
			state.audioCh = ch
			update.AudioRx = &ch
		}
	}

	var wasActive, nowActive bool
	wasActive = state.active
	if v, ok := kv["active"]; ok {
		nowActive = v == "1"
		state.active = nowActive
	} else {
		nowActive = wasActive
	}
	f.mu.Unlock()

	if !wasActive && nowActive {
		for _, cb := range f.onSliceAdded {
			cb(index)
		}
	} else if wasActive && !nowActive {
		for _, cb := range f.onSliceRemoved {
			cb(index)
		}
		f.mu.Lock()
		delete(f.slices, index)
		f.mu.Unlock()
	} else {
		for _, cb := range f.onSliceUpdated {
			cb(index, update)
		}
	}
}

func (f *FlexBackend) send(cmd string) {
	f.mu.Lock()
	conn := f.conn
	seq := f.seq
	f.seq++
	f.mu.Unlock()

	if conn == nil {
		return
	}
	fmt.Fprintf(conn, "C%d|%s\n", seq, cmd)
}

func (f *FlexBackend) Disconnect() error {
	f.mu.Lock()
	f.closing = true
	conn := f.conn
	f.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (f *FlexBackend) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *FlexBackend) ListSlices() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, 0, len(f.slices))
	for idx := range f.slices {
		out = append(out, idx)
	}
	return out
}

func (f *FlexBackend) TuneSlice(index int, freqHz uint64) error {
	if !f.IsConnected() {
		return fmt.Errorf("flex backend: not connected")
	}
	mhz := float64(freqHz) / 1_000_000
	f.send(fmt.Sprintf("slice tune %d %.6f", index, mhz))
	return nil
}

func (f *FlexBackend) SetSliceMode(index int, mode string) error {
	if !f.IsConnected() {
		return fmt.Errorf("flex backend: not connected")
	}
	f.send(fmt.Sprintf("slice set %d mode=%s", index, mode))
	return nil
}

func (f *FlexBackend) SetSliceTx(index int, tx bool) error {
	if !f.IsConnected() {
		return fmt.Errorf("flex backend: not connected")
	}
	v := 0
	if tx {
		v = 1
	}
	f.send(fmt.Sprintf("slice set %d tx=%d", index, v))
	return nil
}

func (f *FlexBackend) SetSliceAudio(index int, channel int) error {
	if !f.IsConnected() {
		return fmt.Errorf("flex backend: not connected")
	}
	f.send(fmt.Sprintf("slice set %d audio_channel=%d", index, channel))
	return nil
}

func (f *FlexBackend) OnSliceAdded(cb func(index int))                     { f.onSliceAdded = append(f.onSliceAdded, cb) }
func (f *FlexBackend) OnSliceRemoved(cb func(index int))                   { f.onSliceRemoved = append(f.onSliceRemoved, cb) }
func (f *FlexBackend) OnSliceUpdated(cb func(index int, u BackendUpdate))  { f.onSliceUpdated = append(f.onSliceUpdated, cb) }
func (f *FlexBackend) OnError(cb func(err error))                         { f.onError = append(f.onError, cb) }
func (f *FlexBackend) OnConnected(cb func())                              { f.onConnected = append(f.onConnected, cb) }
func (f *FlexBackend) OnDisconnected(cb func())                           { f.onDisconnected = append(f.onDisconnected, cb) }

func (f *FlexBackend) emitError(err error) {
	for _, cb := range f.onError {
		cb(err)
	}
}
