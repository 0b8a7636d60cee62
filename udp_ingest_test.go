package main

import (
	"testing"
	"time"
)

// buildStatusFrame encodes a Status datagram matching handleStatus's field
// order (spec.md §4.2).
func buildStatusFrame(dialFreq uint64, mode string, txEnabled, transmitting, decoding bool, rxOffset, txOffset uint32) []byte {
	w := newUDPWriter()
	w.writeHeader(msgTypeStatus, "wsjtx-hub")
	w.writeUint64(dialFreq)
	w.writeLatin1String(mode)
	w.writeLatin1String("") // dx-call
	w.writeLatin1String("") // report
	w.writeLatin1String("") // tx-mode
	w.writeBool(txEnabled)
	w.writeBool(transmitting)
	w.writeBool(decoding)
	w.writeUint32(rxOffset)
	w.writeUint32(txOffset)
	return w.bytes()
}

// buildDecodeFrame encodes a Decode datagram matching handleDecode's field
// order.
func buildDecodeFrame(snr int32, dt float64, deltaFreq uint32, mode, message string, lowConfidence, offAir bool) []byte {
	w := newUDPWriter()
	w.writeHeader(msgTypeDecode, "wsjtx-hub")
	w.writeBool(true) // new-flag
	w.writeUint32(0)  // time-of-day, superseded by wall clock
	w.writeInt32(snr)
	w.writeFloat64(dt)
	w.writeUint32(deltaFreq)
	w.writeLatin1String(mode)
	w.writeLatin1String(message)
	w.writeBool(lowConfidence)
	w.writeBool(offAir)
	return w.bytes()
}

func julianTimestamp(t time.Time) (uint64, uint32) {
	t = t.UTC()
	days := int64(t.Unix()/86400) + julianUnixEpochDay
	msOfDay := uint32((t.Unix() % 86400) * 1000)
	return uint64(days), msOfDay
}

// buildQSOLoggedFrame encodes a QSO-Logged datagram matching
// handleQSOLogged's field order.
func buildQSOLoggedFrame(timeOff time.Time, dxCall, dxGrid string, txFreq uint64, mode, reportSent, reportReceived, txPower string, timeOn time.Time) []byte {
	w := newUDPWriter()
	w.writeHeader(msgTypeQSOLogged, "wsjtx-hub")
	offDay, offMs := julianTimestamp(timeOff)
	w.writeUint64(offDay)
	w.writeUint32(offMs)
	w.writeBool(true) // UTC
	w.writeLatin1String(dxCall)
	w.writeLatin1String(dxGrid)
	w.writeUint64(txFreq)
	w.writeLatin1String(mode)
	w.writeLatin1String(reportSent)
	w.writeLatin1String(reportReceived)
	w.writeLatin1String(txPower)
	w.writeLatin1String("") // comments
	w.writeLatin1String("") // name
	onDay, onMs := julianTimestamp(timeOn)
	w.writeUint64(onDay)
	w.writeUint32(onMs)
	w.writeBool(true) // UTC
	return w.bytes()
}

func buildHeartbeatFrame() []byte {
	w := newUDPWriter()
	w.writeHeader(msgTypeHeartbeat, "wsjtx-hub")
	return w.bytes()
}

func buildCloseFrame() []byte {
	w := newUDPWriter()
	w.writeHeader(msgTypeClose, "wsjtx-hub")
	return w.bytes()
}

func TestHandleDatagramHeartbeatRecordsHeartbeat(t *testing.T) {
	core := NewStateCore(time.Minute)
	ingest := NewSliceIngest(0, core, nil, testProfile())

	ingest.handleDatagram(buildHeartbeatFrame())

	ch, _ := core.Channel(0)
	if ch.LastHeartbeat.IsZero() {
		t.Error("expected a heartbeat datagram to record LastHeartbeat")
	}
}

func TestHandleDatagramStatusUpdatesChannel(t *testing.T) {
	core := NewStateCore(time.Minute)
	ingest := NewSliceIngest(0, core, nil, testProfile())

	frame := buildStatusFrame(14074000, "FT8", true, false, true, 1500, 2000)
	ingest.handleDatagram(frame)

	ch, _ := core.Channel(0)
	if ch.DialFrequencyHz != 14074000 {
		t.Errorf("expected dial frequency 14074000, got %d", ch.DialFrequencyHz)
	}
	if ch.DecoderMode != "FT8" {
		t.Errorf("expected mode FT8, got %q", ch.DecoderMode)
	}
	if !ch.DecoderTxEnabled || ch.DecoderTransmitting || !ch.DecoderDecoding {
		t.Errorf("unexpected decoder flags: tx=%v transmitting=%v decoding=%v", ch.DecoderTxEnabled, ch.DecoderTransmitting, ch.DecoderDecoding)
	}
	if ch.RxAudioOffsetHz != 1500 || ch.TxAudioOffsetHz != 2000 {
		t.Errorf("unexpected offsets: rx=%d tx=%d", ch.RxAudioOffsetHz, ch.TxAudioOffsetHz)
	}
}

func TestHandleDatagramDecodeDropsInvalidCallsign(t *testing.T) {
	core := NewStateCore(time.Minute)
	ingest := NewSliceIngest(0, core, nil, testProfile())

	frame := buildDecodeFrame(-10, 0.2, 100, "FT8", "garbled not a real decode line ####", false, false)
	ingest.handleDatagram(frame)

	if len(core.AllDecodesWithin(time.Hour)) != 0 {
		t.Error("expected an unparseable decode line to be dropped, not stored")
	}
}

func TestHandleDatagramDecodeStoresEnrichedRecord(t *testing.T) {
	core := NewStateCore(time.Minute)
	freq := uint64(14074000)
	core.UpdateFromBackend(0, BackendUpdate{FreqHz: &freq})

	profile := StationProfile{Callsign: "K1XYZ", Grid: "FN42", Continent: "NA", DXCCPrefix: "K"}
	ingest := NewSliceIngest(0, core, nil, profile)

	var captured InternalDecodeRecord
	captured.ChannelIndex = -1
	ingest.SetDecodeCallback(func(channel int, rec InternalDecodeRecord) {
		captured = rec
	})

	frame := buildDecodeFrame(-5, 0.3, 1200, "FT8", "CQ EA4IFI IM79", false, false)
	ingest.handleDatagram(frame)

	decodes := core.AllDecodesWithin(time.Hour)
	if len(decodes) != 1 {
		t.Fatalf("expected exactly 1 stored decode, got %d", len(decodes))
	}
	rec := decodes[0]
	if rec.Callsign != "EA4IFI" {
		t.Errorf("expected callsign EA4IFI, got %q", rec.Callsign)
	}
	if !rec.IsCQ {
		t.Error("expected the decode to be recognized as a CQ")
	}
	if rec.DistanceKm == nil || rec.BearingDeg == nil {
		t.Error("expected distance/bearing to be computed from the two grids")
	}
	if rec.RFHz != freq+1200 {
		t.Errorf("expected RF frequency to be dial+offset, got %d", rec.RFHz)
	}
	if captured.ChannelIndex != 0 {
		t.Error("expected the decode callback to fire with the enriched record")
	}
}

func TestHandleDatagramQSOLoggedUpdatesLogbookAndCounter(t *testing.T) {
	core := NewStateCore(time.Minute)
	lb, _ := newTestLogbook(t)
	ingest := NewSliceIngest(0, core, lb, testProfile())

	timeOn := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	timeOff := time.Date(2026, 6, 1, 12, 5, 0, 0, time.UTC)
	frame := buildQSOLoggedFrame(timeOff, "EA4IFI", "IM79", 14074000, "FT8", "+05", "-02", "50", timeOn)
	ingest.handleDatagram(frame)

	ch, _ := core.Channel(0)
	if ch.QSOCount != 1 {
		t.Errorf("expected the state core's QSO counter to bump, got %d", ch.QSOCount)
	}
	if !lb.IsWorked("EA4IFI", "20m", "FT8") {
		t.Error("expected the logbook to record the logged QSO")
	}
}

func TestHandleDatagramCloseMarksOffline(t *testing.T) {
	core := NewStateCore(time.Minute)
	core.RecordHeartbeat(0)
	ingest := NewSliceIngest(0, core, nil, testProfile())

	ingest.handleDatagram(buildCloseFrame())

	ch, _ := core.Channel(0)
	if ch.Status != StatusOffline {
		t.Errorf("expected channel status offline after a close frame, got %s", ch.Status)
	}
	if ch.Connected {
		t.Error("expected Connected to be cleared after a close frame")
	}
}

func TestParseIntOrZero(t *testing.T) {
	cases := map[string]int{
		"":     0,
		"50":   50,
		"-5":   -5,
		"abc":  0,
		"0":    0,
		"1234": 1234,
	}
	for in, want := range cases {
		if got := parseIntOrZero(in); got != want {
			t.Errorf("parseIntOrZero(%q) = %d, want %d", in, got, want)
		}
	}
}
