package main

import (
	"testing"
	"time"
)

func TestWatchdogSweepTripsOnStaleHeartbeat(t *testing.T) {
	core := NewStateCore(time.Minute)
	core.RegisterInstance(0, "wsjtx-hub-A")
	core.RecordHeartbeat(0)

	core.mu.Lock()
	core.channels[0].LastHeartbeat = time.Now().UTC().Add(-2 * heartbeatTimeout)
	core.mu.Unlock()

	var requests []RestartRequest
	core.OnRestartNeeded(func(req RestartRequest) { requests = append(requests, req) })

	w := NewStateWatchdog(core)
	w.sweep()

	ch, _ := core.Channel(0)
	if ch.Connected {
		t.Error("expected a stale channel to be marked disconnected")
	}
	if ch.Status != StatusOffline {
		t.Errorf("expected status offline after watchdog trip, got %s", ch.Status)
	}
	if len(requests) != 1 || requests[0].ChannelIndex != 0 {
		t.Fatalf("expected exactly one restart request for channel 0, got %v", requests)
	}
}

func TestWatchdogSweepDoesNotRepeatRequestWhileStillDead(t *testing.T) {
	core := NewStateCore(time.Minute)
	core.RegisterInstance(0, "wsjtx-hub-A")
	core.RecordHeartbeat(0)
	core.mu.Lock()
	core.channels[0].LastHeartbeat = time.Now().UTC().Add(-2 * heartbeatTimeout)
	core.mu.Unlock()

	var requests []RestartRequest
	core.OnRestartNeeded(func(req RestartRequest) { requests = append(requests, req) })

	w := NewStateWatchdog(core)
	w.sweep()
	w.sweep()
	w.sweep()

	if len(requests) != 1 {
		t.Errorf("expected the restart request to fire once while the channel stays dead, got %d", len(requests))
	}
}

func TestWatchdogSweepIgnoresHealthyChannel(t *testing.T) {
	core := NewStateCore(time.Minute)
	core.RecordHeartbeat(0)

	var requests []RestartRequest
	core.OnRestartNeeded(func(req RestartRequest) { requests = append(requests, req) })

	w := NewStateWatchdog(core)
	w.sweep()

	ch, _ := core.Channel(0)
	if !ch.Connected {
		t.Error("expected a healthy channel to stay connected")
	}
	if len(requests) != 0 {
		t.Error("expected no restart request for a healthy channel")
	}
}

func TestWatchdogSweepRearmsAfterRecovery(t *testing.T) {
	core := NewStateCore(time.Minute)
	core.RegisterInstance(0, "wsjtx-hub-A")
	core.RecordHeartbeat(0)
	core.mu.Lock()
	core.channels[0].LastHeartbeat = time.Now().UTC().Add(-2 * heartbeatTimeout)
	core.mu.Unlock()

	var requests []RestartRequest
	core.OnRestartNeeded(func(req RestartRequest) { requests = append(requests, req) })

	w := NewStateWatchdog(core)
	w.sweep()

	core.RecordHeartbeat(0) // recovers
	w.sweep()

	core.mu.Lock()
	core.channels[0].LastHeartbeat = time.Now().UTC().Add(-2 * heartbeatTimeout)
	core.mu.Unlock()
	w.sweep()

	if len(requests) != 2 {
		t.Errorf("expected a fresh restart request after a recovery-then-relapse cycle, got %d", len(requests))
	}
}
