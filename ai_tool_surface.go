package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// decodeSnapshotWindow bounds how far back the resource looks when
// assembling a decode snapshot (spec.md §4.9 "default 60-second window").
const decodeSnapshotWindow = 60 * time.Second

// notifyDebounce is the minimum spacing between resources/updated
// notifications for the decodes resource (spec.md §4.9 "debounced at
// 500 ms").
const notifyDebounce = 500 * time.Millisecond

const decodesResourceURI = "wsjt-x://decodes"

// snapshotIndexEntry is what the AI tool surface remembers about a public
// decode record's id long enough to resolve answer_decoded_station back to
// the internal record it came from, without ever handing the channel index
// or slice letter back across the boundary.
type snapshotIndexEntry struct {
	Callsign  string
	SNRDb     int
	Timestamp time.Time
}

// AIToolServer presents the JSON-RPC-over-stdio tool/resource surface of
// spec.md §4.9, backed by github.com/mark3labs/mcp-go the way the teacher's
// MCPServer in mcp_server.go wraps the same library's registration API
// (here over stdio instead of the teacher's streamable-HTTP transport, per
// spec.md §4.9's "No HTTP binding for this surface").
type AIToolServer struct {
	core       *StateCore
	backend    RadioBackend
	supervisor *DecoderSupervisor
	logbook    *Logbook
	profile    StationProfile

	mcpServer *server.MCPServer

	mu         sync.Mutex
	lastIndex  map[string]snapshotIndexEntry
	notifyTmr  *time.Timer
	notifyDue  bool
}

// NewAIToolServer wires the tool/resource surface to its collaborators.
// None of them are reachable by the caller except through the tool/resource
// handlers registered here.
func NewAIToolServer(core *StateCore, backend RadioBackend, supervisor *DecoderSupervisor, logbook *Logbook, profile StationProfile) *AIToolServer {
	a := &AIToolServer{
		core:       core,
		backend:    backend,
		supervisor: supervisor,
		logbook:    logbook,
		profile:    profile,
		lastIndex:  make(map[string]snapshotIndexEntry),
	}

	a.mcpServer = server.NewMCPServer(
		"wsjtx-hub",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, true),
	)

	a.registerResource()
	a.registerTools()

	return a
}

// Serve blocks, reading JSON-RPC requests from stdin and writing responses
// to stdout, until the stream closes. spec.md §4.9 is explicit that this
// surface has no HTTP binding, so the teacher's streamable-HTTP transport
// (mcp_server.go) is swapped for mcp-go's stdio transport.
func (a *AIToolServer) Serve(ctx context.Context) error {
	return server.ServeStdio(a.mcpServer)
}

// NotifyDecodeCycle schedules (debounced) a resources/updated notification
// for the decodes resource. Called by the decoder supervisor's decode
// callback on every ingested decode; spec.md §4.9 allows implementers to
// defer this and document polling instead, but SPEC_FULL.md's resolution of
// that Open Question is to wire it, so we do.
func (a *AIToolServer) NotifyDecodeCycle() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.notifyDue {
		return
	}
	a.notifyDue = true
	a.notifyTmr = time.AfterFunc(notifyDebounce, a.fireNotify)
}

func (a *AIToolServer) fireNotify() {
	a.mu.Lock()
	a.notifyDue = false
	a.mu.Unlock()

	a.mcpServer.SendNotificationToAllClients("notifications/resources/updated", map[string]any{
		"uri": decodesResourceURI,
	})
}

// registerResource wires the single wsjt-x://decodes resource.
func (a *AIToolServer) registerResource() {
	res := mcp.NewResource(
		decodesResourceURI,
		"WSJT-X Decodes",
		mcp.WithResourceDescription("Recent decoded digital-mode messages across all channels, newest first, within a 60 second window. Routing identifiers (channel, slice) are never present."),
		mcp.WithMIMEType("application/json"),
	)
	a.mcpServer.AddResource(res, a.handleReadDecodes)
}

func (a *AIToolServer) handleReadDecodes(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	snap := a.buildSnapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal decode snapshot: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      decodesResourceURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// buildSnapshot assembles a decode snapshot per spec.md §4.9: all internal
// decodes across channels within decodeSnapshotWindow, newest first, each
// stripped of channel-index/slice-letter and given a snapshot-scoped id.
// The id->(call,snr,timestamp) mapping is retained so a later
// answer_decoded_station call can recover the owning channel without the
// id itself ever carrying that information.
func (a *AIToolServer) buildSnapshot() DecodeSnapshot {
	recs := a.core.AllDecodesWithin(decodeSnapshotWindow)

	out := make([]PublicDecodeRecord, 0, len(recs))
	index := make(map[string]snapshotIndexEntry, len(recs))

	for i, r := range recs {
		id := fmt.Sprintf("%s-%s-%d", r.SliceLetter, r.Timestamp.UTC().Format("150405.000"), i)
		pub := PublicDecodeRecord{
			ID:               id,
			Timestamp:        r.Timestamp.UTC().Format(time.RFC3339Nano),
			Band:             r.Band,
			Mode:             r.Mode,
			DialHz:           r.DialHz,
			OffsetHz:         r.OffsetHz,
			RFHz:             r.RFHz,
			SNRDb:            r.SNRDb,
			DTSec:            r.DTSec,
			Callsign:         r.Callsign,
			Grid:             r.Grid,
			IsCQ:             r.IsCQ,
			IsMyCall:         r.IsMyCall,
			IsDirectedCQToMe: r.IsDirectedCQToMe,
			CQTargetToken:    r.CQTargetToken,
			RawText:          r.RawText,
			IsNew:            r.IsNew,
			IsLowConfidence:  r.IsLowConfidence,
			IsOffAir:         r.IsOffAir,
			DistanceKm:       r.DistanceKm,
			BearingDeg:       r.BearingDeg,
		}
		out = append(out, pub)
		index[id] = snapshotIndexEntry{Callsign: r.Callsign, SNRDb: r.SNRDb, Timestamp: r.Timestamp}
	}

	a.mu.Lock()
	a.lastIndex = index
	a.mu.Unlock()

	return DecodeSnapshot{
		SnapshotID:  uuid.NewString(),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Decodes:     out,
	}
}

// registerTools registers the four tools of spec.md §4.9.
func (a *AIToolServer) registerTools() {
	a.mcpServer.AddTool(
		mcp.NewTool("call_cq",
			mcp.WithDescription("Assert transmit on the best available channel and optionally retune it, as the first step of calling CQ."),
			mcp.WithString("band", mcp.Description("Preferred band, e.g. '20m'. Falls back to the current TX channel or channel A if no connected channel matches.")),
			mcp.WithNumber("freq_hz", mcp.Description("Frequency in Hz to retune the selected channel to, if the radio backend is connected.")),
			mcp.WithString("mode", mcp.Description("Informational only; does not change the decoder's mode.")),
		),
		a.handleCallCQ,
	)

	a.mcpServer.AddTool(
		mcp.NewTool("answer_decoded_station",
			mcp.WithDescription("Answer a specific decode from the wsjt-x://decodes resource by its id, asserting TX on its channel and sending a targeted reply."),
			mcp.WithString("decode_id", mcp.Required(), mcp.Description("The id field of a decode record previously returned by the wsjt-x://decodes resource.")),
			mcp.WithString("force_mode", mcp.Description("Override the mode used for the reply frame; defaults to the decode's own mode.")),
		),
		a.handleAnswerDecodedStation,
	)

	a.mcpServer.AddTool(
		mcp.NewTool("rig_get_state",
			mcp.WithDescription("Read-only view of all four channels: letter, frequency, band, mode, TX/connected/status, and which channel currently holds TX."),
		),
		a.handleRigGetState,
	)

	a.mcpServer.AddTool(
		mcp.NewTool("rig_emergency_stop",
			mcp.WithDescription("Immediately clear TX on all four channels via the radio backend."),
		),
		a.handleRigEmergencyStop,
	)
}

func (a *AIToolServer) handleCallCQ(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	band := req.GetString("band", "")
	freqHz := req.GetFloat("freq_hz", 0)
	mode := req.GetString("mode", "")

	snap := a.core.Snapshot()
	idx := a.selectChannelForCQ(snap, band)

	a.core.SetTxChannel(idx)

	if freqHz > 0 && a.backend != nil && a.backend.IsConnected() {
		if err := a.backend.TuneSlice(idx, uint64(freqHz)); err != nil {
			log.Printf("ai tool surface: call_cq: tune failed: %v", err)
		}
	}

	ch, _ := a.core.Channel(idx)
	resultMode := ch.DecoderMode
	if resultMode == "" {
		resultMode = mode
	}
	if resultMode == "" {
		resultMode = ch.RadioMode
	}

	return toolResultJSON(map[string]any{
		"status":  "ok",
		"band":    ch.Band,
		"freq_hz": ch.DialFrequencyHz,
		"mode":    resultMode,
	})
}

// selectChannelForCQ implements spec.md §4.9's "best channel" rule: prefer
// a connected channel matching the requested band, else the current TX
// channel, else channel 0.
func (a *AIToolServer) selectChannelForCQ(snap Snapshot, band string) int {
	if band != "" {
		for i, ch := range snap.Channels {
			if ch.Connected && strings.EqualFold(ch.Band, band) {
				return i
			}
		}
	}
	if snap.TxChannelIndex >= 0 {
		return snap.TxChannelIndex
	}
	return 0
}

func (a *AIToolServer) handleAnswerDecodedStation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	decodeID := req.GetString("decode_id", "")
	forceMode := req.GetString("force_mode", "")
	if decodeID == "" {
		return mcp.NewToolResultError("decode_id is required"), nil
	}

	a.mu.Lock()
	entry, found := a.lastIndex[decodeID]
	a.mu.Unlock()
	if !found {
		return mcp.NewToolResultError(fmt.Sprintf("unknown decode_id %q", decodeID)), nil
	}

	rec, found := a.core.FindDecodeByKey(entry.Callsign, entry.SNRDb, entry.Timestamp)
	if !found {
		return mcp.NewToolResultError(fmt.Sprintf("decode %q is no longer in the ring", decodeID)), nil
	}

	mode := rec.Mode
	if forceMode != "" {
		mode = forceMode
	}

	if a.logbook != nil && a.logbook.IsWorked(rec.Callsign, rec.Band, mode) {
		log.Printf("ai tool surface: answer_decoded_station: %s already worked on %s/%s, proceeding anyway", rec.Callsign, rec.Band, mode)
	}

	a.core.SetTxChannel(rec.ChannelIndex)

	if a.supervisor != nil {
		sender := a.supervisor.EgressSenderFor(rec.ChannelIndex)
		if sender == nil {
			return mcp.NewToolResultError("no active decoder instance on the target channel"), nil
		}
		timeMs := uint32(rec.Timestamp.Hour()*3600000 + rec.Timestamp.Minute()*60000 + rec.Timestamp.Second()*1000)
		if err := sender.SendReply(timeMs, int32(rec.SNRDb), rec.DTSec, rec.OffsetHz, mode, rec.Callsign, false, true); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("send reply failed: %v", err)), nil
		}
	}

	return toolResultJSON(map[string]any{
		"status":      "ok",
		"band":        rec.Band,
		"freq_hz":     rec.DialHz,
		"mode":        mode,
		"target_call": rec.Callsign,
	})
}

type rigStateChannel struct {
	Letter     string  `json:"letter"`
	Index      int     `json:"index"`
	FreqHz     uint64  `json:"freq_hz"`
	Band       string  `json:"band"`
	Mode       string  `json:"mode"`
	IsTx       bool    `json:"is_tx"`
	Status     string  `json:"status"`
	Connected  bool    `json:"connected"`
	LastDecode string  `json:"last_decode,omitempty"`
	SNRCount   int     `json:"snr_count"`
	SNRMeanDb  float64 `json:"snr_mean_db,omitempty"`
	SNRStdDb   float64 `json:"snr_stddev_db,omitempty"`
}

func (a *AIToolServer) handleRigGetState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap := a.core.Snapshot()

	channels := make([]rigStateChannel, 0, 4)
	for i, ch := range snap.Channels {
		mode := ch.DecoderMode
		if mode == "" {
			mode = ch.RadioMode
		}
		rc := rigStateChannel{
			Letter:    ch.Letter,
			Index:     i,
			FreqHz:    ch.DialFrequencyHz,
			Band:      ch.Band,
			Mode:      mode,
			IsTx:      ch.IsTx,
			Status:    string(ch.Status),
			Connected: ch.Connected,
		}
		if !ch.LastDecode.IsZero() {
			rc.LastDecode = ch.LastDecode.UTC().Format(time.RFC3339)
		}

		snrStats := SNRStatsFor(a.core, i, decodeSnapshotWindow)
		rc.SNRCount = snrStats.Count
		rc.SNRMeanDb = snrStats.MeanDb
		rc.SNRStdDb = snrStats.StdDb

		channels = append(channels, rc)
	}

	txLetter := ""
	if snap.TxChannelIndex >= 0 {
		txLetter = channelLetters[snap.TxChannelIndex]
	}

	return toolResultJSON(map[string]any{
		"channels":          channels,
		"tx_channel":        txLetter,
		"backend_connected": snap.BackendConnected,
	})
}

func (a *AIToolServer) handleRigEmergencyStop(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if a.backend == nil || !a.backend.IsConnected() {
		return mcp.NewToolResultError("radio backend not connected"), nil
	}
	var firstErr error
	for i := 0; i < 4; i++ {
		if err := a.backend.SetSliceTx(i, false); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("emergency stop incomplete: %v", firstErr)), nil
	}
	return mcp.NewToolResultText("all channels TX cleared"), nil
}

func toolResultJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
