package main

import (
	"testing"
	"time"
)

func TestStateCorePortInvariants(t *testing.T) {
	sc := NewStateCore(15 * time.Minute)
	snap := sc.Snapshot()
	if len(snap.Channels) != 4 {
		t.Fatalf("expected 4 channels, got %d", len(snap.Channels))
	}
	for i, ch := range snap.Channels {
		if ch.UDPPort != 2237+i {
			t.Errorf("channel %d: expected udp port %d, got %d", i, 2237+i, ch.UDPPort)
		}
		if ch.TCPPort != 7809+i {
			t.Errorf("channel %d: expected tcp port %d, got %d", i, 7809+i, ch.TCPPort)
		}
		if ch.AudioRxChannel != i+1 {
			t.Errorf("channel %d: expected audio-rx %d, got %d", i, i+1, ch.AudioRxChannel)
		}
	}
}

func TestSetTxChannelAtomicAndIdempotent(t *testing.T) {
	sc := NewStateCore(time.Minute)

	sc.SetTxChannel(1)
	snap := sc.Snapshot()
	txCount := 0
	for i, ch := range snap.Channels {
		if ch.IsTx {
			txCount++
			if i != 1 {
				t.Errorf("expected only channel 1 to have IsTx, channel %d also set", i)
			}
		}
	}
	if txCount != 1 {
		t.Fatalf("expected exactly one TX channel, got %d", txCount)
	}
	if snap.TxChannelIndex != 1 {
		t.Errorf("expected TxChannelIndex 1, got %d", snap.TxChannelIndex)
	}

	sc.SetTxChannel(1)
	snap2 := sc.Snapshot()
	for i, ch := range snap2.Channels {
		if ch.IsTx != (i == 1) {
			t.Errorf("idempotent SetTxChannel changed channel %d IsTx to %v", i, ch.IsTx)
		}
	}

	sc.SetTxChannel(2)
	snap3 := sc.Snapshot()
	for i, ch := range snap3.Channels {
		if ch.IsTx != (i == 2) {
			t.Errorf("after retargeting TX to 2, channel %d IsTx=%v", i, ch.IsTx)
		}
	}
}

func TestUpdateFromBackendSetsTxAtomically(t *testing.T) {
	sc := NewStateCore(time.Minute)
	sc.SetTxChannel(0)

	isTx := true
	sc.UpdateFromBackend(3, BackendUpdate{IsTx: &isTx})

	snap := sc.Snapshot()
	if !snap.Channels[3].IsTx {
		t.Fatal("expected channel 3 to be TX after UpdateFromBackend")
	}
	if snap.Channels[0].IsTx {
		t.Fatal("expected channel 0 to have TX cleared")
	}
	if snap.TxChannelIndex != 3 {
		t.Errorf("expected TxChannelIndex 3, got %d", snap.TxChannelIndex)
	}
}

func TestRecordHeartbeatLiftsOfflineToIdle(t *testing.T) {
	sc := NewStateCore(time.Minute)
	ch, _ := sc.Channel(0)
	if ch.Status != StatusOffline {
		t.Fatalf("expected fresh channel to start offline, got %s", ch.Status)
	}

	sc.RecordHeartbeat(0)

	ch, _ = sc.Channel(0)
	if ch.Status != StatusIdle {
		t.Errorf("expected heartbeat to lift offline -> idle, got %s", ch.Status)
	}
	if !ch.Connected {
		t.Error("expected RecordHeartbeat to set connected=true")
	}
}

func TestUpdateFromDecoderStatusTransitions(t *testing.T) {
	sc := NewStateCore(time.Minute)
	sc.RecordHeartbeat(0) // offline -> idle

	decoding := true
	sc.UpdateFromDecoderStatus(0, DecoderStatusUpdate{Decoding: &decoding})
	ch, _ := sc.Channel(0)
	if ch.Status != StatusDecoding {
		t.Fatalf("expected idle -> decoding on first decode, got %s", ch.Status)
	}

	transmitting := true
	sc.UpdateFromDecoderStatus(0, DecoderStatusUpdate{Transmitting: &transmitting})
	ch, _ = sc.Channel(0)
	if ch.Status != StatusCalling {
		t.Fatalf("expected decoding -> calling on transmitting=true, got %s", ch.Status)
	}
}

func TestUpdateFromDecoderStatusTrustsDialFrequency(t *testing.T) {
	sc := NewStateCore(time.Minute)
	freq := uint64(14074000)
	sc.UpdateFromBackend(0, BackendUpdate{FreqHz: &freq})

	decoderFreq := uint64(7074000)
	sc.UpdateFromDecoderStatus(0, DecoderStatusUpdate{DialFreqHz: &decoderFreq})

	ch, _ := sc.Channel(0)
	if ch.DialFrequencyHz != decoderFreq {
		t.Fatalf("expected decoder-reported frequency to win, got %d", ch.DialFrequencyHz)
	}
	if ch.Band != "40m" {
		t.Errorf("expected recomputed band 40m, got %s", ch.Band)
	}
}

func TestAddDecodeRejectsMissingCallsignUpstream(t *testing.T) {
	// AddDecode itself trusts its caller (the ingest/enrichment layer drops
	// callsign-less records before calling it); verify it still stores and
	// counts a well-formed record end to end.
	sc := NewStateCore(time.Minute)
	rec := InternalDecodeRecord{
		ChannelIndex: 2,
		SliceLetter:  "C",
		Timestamp:    time.Now().UTC(),
		Callsign:     "W1ABCXX",
	}
	sc.AddDecode(rec)

	got := sc.DecodesWithin(2, time.Minute)
	if len(got) != 1 || got[0].Callsign != "W1ABCXX" {
		t.Fatalf("expected the decode to be stored, got %+v", got)
	}
	ch, _ := sc.Channel(2)
	if ch.DecodeCount != 1 {
		t.Errorf("expected DecodeCount 1, got %d", ch.DecodeCount)
	}
}

func TestRegisterInstancePreservesTxAssignment(t *testing.T) {
	sc := NewStateCore(time.Minute)
	sc.SetTxChannel(1)
	sc.RegisterInstance(1, "wsjtx-b")

	snap := sc.Snapshot()
	if !snap.Channels[1].IsTx {
		t.Error("expected RegisterInstance to preserve the prior TX assignment (spec.md §9 open question)")
	}
}

func TestInstanceRestartCountBump(t *testing.T) {
	sc := NewStateCore(time.Minute)
	sc.RegisterInstance(0, "wsjtx-a")

	for i := 1; i <= 3; i++ {
		got := sc.BumpRestartCount(0)
		if got != i {
			t.Fatalf("expected restart count %d, got %d", i, got)
		}
	}
	if sc.InstanceRestartCount(0) != 3 {
		t.Errorf("expected stable read of restart count 3, got %d", sc.InstanceRestartCount(0))
	}
}

func TestChangeFanOutDebounces(t *testing.T) {
	sc := NewStateCore(time.Minute)
	calls := 0
	done := make(chan struct{})
	sc.Subscribe(func(Snapshot) {
		calls++
		close(done)
	})

	// Several rapid mutations inside one debounce window should coalesce
	// into a single notification (spec.md §5 ordering guarantee (c)).
	sc.RecordHeartbeat(0)
	sc.RecordHeartbeat(1)
	sc.RecordHeartbeat(2)

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for debounced notification")
	}

	time.Sleep(150 * time.Millisecond)
	if calls != 1 {
		t.Errorf("expected exactly one debounced notification, got %d", calls)
	}
}
