package main

import (
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// SampleProcessResources reads CPU% and RSS for pid, used on the decoder
// supervisor's 5s ticker to populate each running instance's
// ProcessResourceSample. Surfaced only through internal diagnostics and the
// Prometheus exporter, never the AI tool surface (SPEC_FULL.md §4.6
// addition).
func SampleProcessResources(pid int) (ProcessResourceSample, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return ProcessResourceSample{}, err
	}

	cpuPct, err := proc.CPUPercent()
	if err != nil {
		return ProcessResourceSample{}, err
	}

	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return ProcessResourceSample{}, err
	}

	return ProcessResourceSample{
		CPUPercent: cpuPct,
		RSSBytes:   memInfo.RSS,
		SampledAt:  time.Now().UTC(),
	}, nil
}

// SampleAllInstances samples resource usage for every running instance in
// core and records the results. Called from the decoder supervisor's own
// 5s ticker, which shares the watchdog's cadence but not its goroutine.
func SampleAllInstances(core *StateCore) {
	snap := core.Snapshot()
	for idx, inst := range snap.Instances {
		if !inst.Running || inst.PID == nil {
			continue
		}
		sample, err := SampleProcessResources(*inst.PID)
		if err != nil {
			continue
		}
		core.SetInstanceResourceSample(idx, sample)
	}
}
