package main

import "log"

// tileColumns is how many decoder windows are placed per row in the
// best-effort tiled layout (spec.md §4.6 step 8).
const tileColumns = 2

// windowCellWidth and windowCellHeight are the assumed per-window footprint
// used to compute a tile position; actual placement is advisory only since
// this hub has no access to the decoder's window manager beyond what its
// own config or a future control channel might expose.
const (
	windowCellWidth  = 640
	windowCellHeight = 480
)

// PositionWindow attempts to place channel index's decoder window into its
// slot in a tiled layout. This hub has no window-manager integration, so the
// call is advisory: it logs the computed geometry for an operator or future
// companion tool to apply, and never blocks or fails the caller (spec.md
// §4.6 "best-effort").
func PositionWindow(channelIndex int) {
	col := channelIndex % tileColumns
	row := channelIndex / tileColumns
	x := col * windowCellWidth
	y := row * windowCellHeight
	log.Printf("channel %s: best-effort window placement at (%d,%d) %dx%d",
		channelLetters[channelIndex], x, y, windowCellWidth, windowCellHeight)
}

// PositionAllWindows repositions every channel's window, used after a
// graceful restart-all cycle.
func PositionAllWindows(order []int) {
	for _, idx := range order {
		PositionWindow(idx)
	}
}
