package main

import "testing"

func TestHandleStatusSliceAddedOnActiveTransition(t *testing.T) {
	f := NewFlexBackend()

	var added []int
	f.OnSliceAdded(func(index int) { added = append(added, index) })

	f.handleLine("S1|slice 0 active=1 freq=14.074000 mode=DIGU tx=0 audio_channel=1")

	if len(added) != 1 || added[0] != 0 {
		t.Fatalf("expected slice-added event for index 0, got %v", added)
	}
	if len(f.ListSlices()) != 1 {
		t.Errorf("expected one tracked slice, got %d", len(f.ListSlices()))
	}
}

func TestHandleStatusSliceRemovedOnInactiveTransition(t *testing.T) {
	f := NewFlexBackend()
	f.handleLine("S1|slice 0 active=1 freq=14.074000 mode=DIGU")

	var removed []int
	f.OnSliceRemoved(func(index int) { removed = append(removed, index) })

	f.handleLine("S1|slice 0 active=0")

	if len(removed) != 1 || removed[0] != 0 {
		t.Fatalf("expected slice-removed event for index 0, got %v", removed)
	}
	if len(f.ListSlices()) != 0 {
		t.Errorf("expected the slice to be untracked after removal, got %d", len(f.ListSlices()))
	}
}

func TestHandleStatusUpdateOnUnchangedActiveFlag(t *testing.T) {
	f := NewFlexBackend()
	f.handleLine("S1|slice 0 active=1 freq=14.074000 mode=DIGU tx=0 audio_channel=1")

	var updates []BackendUpdate
	f.OnSliceUpdated(func(index int, u BackendUpdate) { updates = append(updates, u) })

	f.handleLine("S1|slice 0 freq=7.074000 mode=DIGL")

	if len(updates) != 1 {
		t.Fatalf("expected exactly one slice-updated event, got %d", len(updates))
	}
	u := updates[0]
	if u.FreqHz == nil || *u.FreqHz != 7074000 {
		t.Errorf("expected freq to convert MHz to Hz, got %v", u.FreqHz)
	}
	if u.Mode == nil || *u.Mode != "DIGL" {
		t.Errorf("expected mode DIGL, got %v", u.Mode)
	}
}

func TestHandleStatusParsesTxAndAudioChannel(t *testing.T) {
	f := NewFlexBackend()
	f.handleLine("S1|slice 0 active=1")

	var updates []BackendUpdate
	f.OnSliceUpdated(func(index int, u BackendUpdate) { updates = append(updates, u) })

	f.handleLine("S1|slice 0 tx=1 audio_channel=2")

	if len(updates) != 1 {
		t.Fatalf("expected one update, got %d", len(updates))
	}
	if updates[0].IsTx == nil || !*updates[0].IsTx {
		t.Error("expected tx=1 to parse as true")
	}
	if updates[0].AudioRx == nil || *updates[0].AudioRx != 2 {
		t.Errorf("expected audio_channel to parse, got %v", updates[0].AudioRx)
	}
}

func TestHandleStatusIgnoresMalformedLine(t *testing.T) {
	f := NewFlexBackend()
	f.handleLine("S1|not a slice line at all")
	if len(f.ListSlices()) != 0 {
		t.Error("expected a malformed status payload to be ignored")
	}
}

func TestHandleLineIgnoresNonStatusPrefix(t *testing.T) {
	f := NewFlexBackend()
	var updates []BackendUpdate
	f.OnSliceUpdated(func(index int, u BackendUpdate) { updates = append(updates, u) })

	f.handleLine("R1|0|some response payload")
	f.handleLine("")

	if len(updates) != 0 {
		t.Error("expected response and empty lines to never produce slice events")
	}
}

func TestTuneSliceRequiresConnection(t *testing.T) {
	f := NewFlexBackend()
	if err := f.TuneSlice(0, 14074000); err == nil {
		t.Error("expected TuneSlice to fail when not connected")
	}
}

func TestWithPortOverridesDefault(t *testing.T) {
	f := NewFlexBackend().WithPort(4993)
	if f.port != 4993 {
		t.Errorf("expected WithPort to override the default port, got %d", f.port)
	}
}
