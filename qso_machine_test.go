package main

import (
	"testing"
	"time"
)

func TestExecuteQSOFailsWithoutRecentDecode(t *testing.T) {
	core := NewStateCore(time.Minute)
	sender, err := NewEgressSender(0)
	if err != nil {
		t.Fatalf("NewEgressSender: %v", err)
	}
	defer sender.Close()
	machine := NewQSOMachine(core, func(int) *EgressSender { return sender })

	err = machine.ExecuteQSO(0, "W1ABCXX", "K1XYZ", "FN42")
	if err == nil {
		t.Fatal("expected ExecuteQSO to fail with no recent decode for the target")
	}
}

func TestExecuteQSOTwiceOnSameChannelFails(t *testing.T) {
	core := NewStateCore(time.Minute)
	core.AddDecode(InternalDecodeRecord{
		ChannelIndex: 0,
		Timestamp:    time.Now().UTC(),
		Callsign:     "W1ABCXX",
		RawText:      "CQ W1ABCXX FN42",
	})

	sender, err := NewEgressSender(0)
	if err != nil {
		t.Fatalf("NewEgressSender: %v", err)
	}
	defer sender.Close()

	machine := NewQSOMachine(core, func(int) *EgressSender { return sender })

	if err := machine.ExecuteQSO(0, "W1ABCXX", "K1XYZ", "FN42"); err != nil {
		t.Fatalf("first ExecuteQSO should succeed: %v", err)
	}
	if err := machine.ExecuteQSO(0, "W1ABCXX", "K1XYZ", "FN42"); err == nil {
		t.Fatal("expected a second concurrent ExecuteQSO on the same channel to fail")
	}
}

func TestFormatSignalReport(t *testing.T) {
	cases := []struct {
		snr  int
		want string
	}{
		{5, "+05"},
		{-5, "-05"},
		{0, "+00"},
		{23, "+23"},
		{-1, "-01"},
	}
	for _, c := range cases {
		got := formatSignalReport(c.snr)
		if got != c.want {
			t.Errorf("formatSignalReport(%d) = %q, want %q", c.snr, got, c.want)
		}
	}
}

func TestQSOTransitionsThroughReportAndRR73(t *testing.T) {
	core := NewStateCore(time.Minute)
	core.AddDecode(InternalDecodeRecord{
		ChannelIndex: 0,
		Timestamp:    time.Now().UTC(),
		Callsign:     "W1ABCXX",
		SNRDb:        -5,
		RawText:      "CQ W1ABCXX FN42",
	})

	sender, err := NewEgressSender(0)
	if err != nil {
		t.Fatalf("NewEgressSender: %v", err)
	}
	defer sender.Close()

	machine := NewQSOMachine(core, func(int) *EgressSender { return sender })
	if err := machine.ExecuteQSO(0, "W1ABCXX", "K1XYZ", "FN42"); err != nil {
		t.Fatalf("ExecuteQSO: %v", err)
	}
	if machine.ActiveState(0) != QSOWaitingReply {
		t.Fatalf("expected WAITING_REPLY after ExecuteQSO, got %s", machine.ActiveState(0))
	}

	machine.OnDecode(0, InternalDecodeRecord{
		Callsign: "W1ABCXX",
		SNRDb:    -9,
		RawText:  "K1XYZ W1ABCXX -09",
	})
	if machine.ActiveState(0) != QSOWaitingReport {
		t.Fatalf("expected WAITING_REPORT after their reply, got %s", machine.ActiveState(0))
	}

	machine.OnDecode(0, InternalDecodeRecord{
		Callsign: "W1ABCXX",
		RawText:  "K1XYZ W1ABCXX R-09",
	})
	if machine.ActiveState(0) != QSOWaiting73 {
		t.Fatalf("expected WAITING_73 after their report ack, got %s", machine.ActiveState(0))
	}

	machine.OnDecode(0, InternalDecodeRecord{
		Callsign: "W1ABCXX",
		RawText:  "K1XYZ W1ABCXX 73",
	})
	if machine.ActiveState(0) != QSOComplete {
		t.Fatalf("expected COMPLETE after 73, got %s", machine.ActiveState(0))
	}
}

func TestQSOUnrelatedDecodeDoesNotAdvance(t *testing.T) {
	core := NewStateCore(time.Minute)
	core.AddDecode(InternalDecodeRecord{
		ChannelIndex: 0,
		Timestamp:    time.Now().UTC(),
		Callsign:     "W1ABCXX",
		RawText:      "CQ W1ABCXX FN42",
	})
	sender, err := NewEgressSender(0)
	if err != nil {
		t.Fatalf("NewEgressSender: %v", err)
	}
	defer sender.Close()

	machine := NewQSOMachine(core, func(int) *EgressSender { return sender })
	if err := machine.ExecuteQSO(0, "W1ABCXX", "K1XYZ", "FN42"); err != nil {
		t.Fatalf("ExecuteQSO: %v", err)
	}

	machine.OnDecode(0, InternalDecodeRecord{Callsign: "XX9ZZZZ", RawText: "CQ XX9ZZZZ JN58"})
	if machine.ActiveState(0) != QSOWaitingReply {
		t.Fatalf("expected unrelated decode to leave state unchanged, got %s", machine.ActiveState(0))
	}
}
