package main

import (
	"testing"
	"time"
)

func TestDecodeRingEvictsByTime(t *testing.T) {
	r := newDecodeRing(10 * time.Minute)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	r.add(InternalDecodeRecord{Callsign: "OLD1CALL", Timestamp: base}, base)
	r.add(InternalDecodeRecord{Callsign: "MID1CALL", Timestamp: base.Add(5 * time.Minute)}, base.Add(5*time.Minute))
	r.add(InternalDecodeRecord{Callsign: "NEW1CALL", Timestamp: base.Add(11 * time.Minute)}, base.Add(11*time.Minute))

	got := r.within(time.Hour, base.Add(11*time.Minute))
	if len(got) != 2 {
		t.Fatalf("expected 2 surviving entries after eviction, got %d: %+v", len(got), got)
	}
	if got[0].Callsign != "NEW1CALL" {
		t.Errorf("expected newest-first ordering, got %s first", got[0].Callsign)
	}
}

func TestDecodeRingWithinWindow(t *testing.T) {
	r := newDecodeRing(time.Hour)
	now := time.Now().UTC()
	r.add(InternalDecodeRecord{Callsign: "AAA1AAA", Timestamp: now.Add(-90 * time.Second)}, now)
	r.add(InternalDecodeRecord{Callsign: "BBB1BBB", Timestamp: now.Add(-10 * time.Second)}, now)

	got := r.within(60*time.Second, now)
	if len(got) != 1 || got[0].Callsign != "BBB1BBB" {
		t.Fatalf("expected only the recent entry within 60s, got %+v", got)
	}
}

func TestDecodeRingMostRecentFor(t *testing.T) {
	r := newDecodeRing(time.Hour)
	now := time.Now().UTC()
	r.add(InternalDecodeRecord{Callsign: "W1ABCXX", SNRDb: -5, Timestamp: now.Add(-30 * time.Second)}, now)
	r.add(InternalDecodeRecord{Callsign: "W1ABCXX", SNRDb: 3, Timestamp: now.Add(-5 * time.Second)}, now)

	got, ok := r.mostRecentFor("W1ABCXX", 60*time.Second, now)
	if !ok {
		t.Fatal("expected a match")
	}
	if got.SNRDb != 3 {
		t.Errorf("expected the more recent (SNR 3) record, got SNR %d", got.SNRDb)
	}

	if _, ok := r.mostRecentFor("W1ABCXX", 1*time.Second, now); ok {
		t.Error("expected no match outside the window")
	}
}
