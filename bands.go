package main

// bandTable maps amateur radio band names to their frequency range in Hz.
// Mirrors the fixed frequency-to-band tables amateur radio tooling ships with
// (the teacher keeps an analogous table in its own Band/frequency_reference
// handling); ours is scoped to the HF/VHF allocations the spec's digital
// modes actually run on.
var bandTable = []struct {
	name string
	lo   uint64
	hi   uint64
}{
	{"2190m", 135700, 137800},
	{"630m", 472000, 479000},
	{"160m", 1800000, 2000000},
	{"80m", 3500000, 4000000},
	{"60m", 5330500, 5406500},
	{"40m", 7000000, 7300000},
	{"30m", 10100000, 10150000},
	{"20m", 14000000, 14350000},
	{"17m", 18068000, 18168000},
	{"15m", 21000000, 21450000},
	{"12m", 24890000, 24990000},
	{"10m", 28000000, 29700000},
	{"6m", 50000000, 54000000},
	{"4m", 70000000, 70500000},
	{"2m", 144000000, 148000000},
	{"70cm", 420000000, 450000000},
}

// bandForFrequency returns the band name containing hz, or "" if hz falls
// outside every known allocation.
func bandForFrequency(hz uint64) string {
	for _, b := range bandTable {
		if hz >= b.lo && hz <= b.hi {
			return b.name
		}
	}
	return ""
}
