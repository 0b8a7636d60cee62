package main

import (
	"context"
	"time"
)

// watchdogInterval is the heartbeat-check cadence (spec.md §4.1).
const watchdogInterval = 5 * time.Second

// StateWatchdog periodically scans every channel's last-heartbeat age and
// drives disconnection plus restart-request emission once a channel has
// gone quiet past heartbeatTimeout. Modeled on the teacher's decoder_health.go
// poll loop: a plain ticker goroutine owning no state of its own beyond what
// it needs to avoid re-firing a restart request every tick.
type StateWatchdog struct {
	core *StateCore

	// requested tracks channels for which a restart has already been
	// requested since the last successful heartbeat, so a still-dead
	// channel doesn't spam RestartCallback every 5s.
	requested [4]bool
}

func NewStateWatchdog(core *StateCore) *StateWatchdog {
	return &StateWatchdog{core: core}
}

// Run blocks, ticking every watchdogInterval until ctx is canceled.
func (w *StateWatchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *StateWatchdog) sweep() {
	now := time.Now().UTC()
	for i := 0; i < 4; i++ {
		ch, ok := w.core.Channel(i)
		if !ok || !ch.Connected {
			continue
		}
		if ch.LastHeartbeat.IsZero() {
			continue
		}
		if now.Sub(ch.LastHeartbeat) <= heartbeatTimeout {
			w.requested[i] = false
			continue
		}

		w.core.mu.Lock()
		w.core.channels[i].Connected = false
		w.core.channels[i].Status = StatusOffline
		w.core.diagnostics.WatchdogTrips[i]++
		w.core.scheduleChange()
		w.core.mu.Unlock()

		w.core.InstanceStopped(i, "heartbeat timeout")

		if w.requested[i] {
			continue
		}
		w.requested[i] = true

		count := w.core.InstanceRestartCount(i)
		req := RestartRequest{
			ChannelIndex: i,
			Instance:     ch.Instance,
			RestartCount: count,
		}

		w.core.mu.Lock()
		cbs := append([]RestartCallback(nil), w.core.onRestart...)
		w.core.mu.Unlock()

		for _, cb := range cbs {
			cb(req)
		}
	}
}
