package main

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// ChannelSNRStats is the aggregate SNR view surfaced through the internal
// diagnostics path (SPEC_FULL.md §4.10 "Aggregate statistics"). Never part
// of any AI-facing payload.
type ChannelSNRStats struct {
	Count  int
	MeanDb float64
	StdDb  float64
}

// SNRStatsFor computes mean and (population) standard deviation SNR across
// a channel's decodes within window, using gonum/stat rather than hand-rolled
// accumulation — the one caller in this codebase that exercises the pack's
// gonum dependency (SPEC_FULL.md §11).
func SNRStatsFor(core *StateCore, channel int, window time.Duration) ChannelSNRStats {
	recs := core.DecodesWithin(channel, window)
	if len(recs) == 0 {
		return ChannelSNRStats{}
	}
	vals := make([]float64, len(recs))
	for i, r := range recs {
		vals[i] = float64(r.SNRDb)
	}
	mean, std := stat.MeanStdDev(vals, nil)
	return ChannelSNRStats{Count: len(vals), MeanDb: mean, StdDb: std}
}
