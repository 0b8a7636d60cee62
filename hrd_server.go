package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
)

// hrdAggregateChannel is the sentinel channel index used by the aggregate
// HRD server, which always addresses "whichever channel currently holds
// TX" rather than a fixed index (spec.md §4.4 "Aggregate server behavior").
const hrdAggregateChannel = -1

// HRDServer is one HRD-style TCP rig-control listener: either bound to a
// single channel (channelIndex >= 0) or the aggregate server that tracks
// the current TX channel (channelIndex == hrdAggregateChannel). Grounded on
// the teacher's LogReceiver accept-loop in log_receiver.go, generalized
// from a fire-and-forget log sink into a request/response protocol server
// that also pushes unsolicited lines.
type HRDServer struct {
	channelIndex int
	port         int
	core         *StateCore
	backend      RadioBackend

	mu        sync.Mutex
	listener  net.Listener
	conns     map[net.Conn]struct{}
}

func NewHRDServer(channelIndex, port int, core *StateCore, backend RadioBackend) *HRDServer {
	return &HRDServer{
		channelIndex: channelIndex,
		port:         port,
		core:         core,
		backend:      backend,
		conns:        make(map[net.Conn]struct{}),
	}
}

// Start begins accepting connections; returns once the listener is bound.
func (s *HRDServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("hrd server channel %d: listen :%d: %w", s.channelIndex, s.port, err)
	}
	s.listener = ln

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	go s.acceptLoop()
	return nil
}

func (s *HRDServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		go s.handleConn(conn)
	}
}

// Stop closes the listener and all active connections.
func (s *HRDServer) Stop() {
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.conns = make(map[net.Conn]struct{})
	s.mu.Unlock()
}

func (s *HRDServer) handleConn(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		payload, err := decodeHRDMessage(conn)
		if err != nil {
			return
		}
		reply := s.handleCommand(strings.TrimSpace(payload))
		if reply != "" {
			if _, err := conn.Write(encodeHRDMessage(reply)); err != nil {
				return
			}
		}
	}
}

// hrdWatchState is the subset of a channel's fields this server pushes
// unsolicited updates for; zero value never matches a real snapshot so the
// first subscriber callback always finds a "change".
type hrdWatchState struct {
	freqHz uint64
	mode   string
	ptt    bool
	valid  bool
}

// WatchStateCore subscribes this server to the state core's debounced
// change events and pushes an unsolicited `frequency`/`mode`/`ptt` line to
// every connected client whenever its target channel's corresponding field
// changes (spec.md §4.4 "Unsolicited updates"). Safe to call once per
// server; the callback never blocks (spec.md §5's callback rule) since
// PushUpdate only does non-blocking best-effort writes to already-open
// connections.
func (s *HRDServer) WatchStateCore() {
	var last hrdWatchState
	s.core.Subscribe(func(snap Snapshot) {
		index, ok := s.targetChannelFromSnapshot(snap)
		if !ok {
			return
		}
		ch := snap.Channels[index]
		cur := hrdWatchState{freqHz: ch.DialFrequencyHz, mode: hrdModeFor(ch), ptt: ch.IsTx, valid: true}

		if !last.valid || cur.freqHz != last.freqHz {
			s.PushUpdate(fmt.Sprintf("frequency %d", cur.freqHz))
		}
		if !last.valid || cur.mode != last.mode {
			s.PushUpdate(fmt.Sprintf("mode %s", cur.mode))
		}
		if !last.valid || cur.ptt != last.ptt {
			pttStr := "off"
			if cur.ptt {
				pttStr = "on"
			}
			s.PushUpdate("ptt " + pttStr)
		}
		last = cur
	})
}

// targetChannelFromSnapshot is targetChannel's snapshot-based twin, used by
// the change-event subscriber so it never takes the state core's lock from
// inside a callback already running under it.
func (s *HRDServer) targetChannelFromSnapshot(snap Snapshot) (int, bool) {
	if s.channelIndex != hrdAggregateChannel {
		return s.channelIndex, true
	}
	if snap.TxChannelIndex < 0 {
		return 0, false
	}
	return snap.TxChannelIndex, true
}

// PushUpdate sends an unsolicited line to every connected client of this
// server, wrapped in the header framing, used when the channel's
// freq/mode/PTT changes in the state core (spec.md §4.4 "Unsolicited
// updates").
func (s *HRDServer) PushUpdate(line string) {
	framed := encodeHRDMessage(line + "\r\n")
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Write(framed)
	}
}

// targetChannel resolves which channel index this server currently
// addresses: its own fixed index, or the live TX channel for the aggregate
// server.
func (s *HRDServer) targetChannel() (int, bool) {
	if s.channelIndex != hrdAggregateChannel {
		return s.channelIndex, true
	}
	snap := s.core.Snapshot()
	if snap.TxChannelIndex < 0 {
		return 0, false
	}
	return snap.TxChannelIndex, true
}

// handleCommand parses and executes one HRD command line, returning the
// response to write back (command + RPRT line, CRLF-joined as HRD clients
// expect).
func (s *HRDServer) handleCommand(line string) string {
	line = stripRadioSelector(line)
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return rprt(-1)
	}

	cmd := strings.ToLower(tokens[0])
	index, haveChannel := s.targetChannel()

	switch {
	case cmd == "get" && len(tokens) >= 2 && (strings.ToLower(tokens[1]) == "frequency" || strings.ToLower(tokens[1]) == "frequency-hz"):
		if !haveChannel {
			return rprt(-9)
		}
		ch, _ := s.core.Channel(index)
		return strconv.FormatUint(ch.DialFrequencyHz, 10) + "\r\n" + rprt(0)

	case cmd == "set" && len(tokens) >= 3 && strings.ToLower(tokens[1]) == "frequency-hz":
		if !haveChannel || s.backend == nil || !s.backend.IsConnected() {
			return rprt(-9)
		}
		hz, err := strconv.ParseUint(tokens[2], 10, 64)
		if err != nil {
			return rprt(-1)
		}
		if err := s.backend.TuneSlice(index, hz); err != nil {
			return rprt(-9)
		}
		return rprt(0)

	case cmd == "get" && len(tokens) >= 2 && strings.ToLower(tokens[1]) == "mode":
		if !haveChannel {
			return rprt(-9)
		}
		ch, _ := s.core.Channel(index)
		return hrdModeFor(ch) + "\r\n" + rprt(0)

	case cmd == "set" && len(tokens) >= 3 && strings.ToLower(tokens[1]) == "dropdown" && strings.EqualFold(tokens[2], "mode"):
		if len(tokens) < 4 || !haveChannel || s.backend == nil || !s.backend.IsConnected() {
			return rprt(-9)
		}
		if err := s.backend.SetSliceMode(index, tokens[3]); err != nil {
			return rprt(-9)
		}
		return rprt(0)

	case cmd == "get" && len(tokens) >= 2 && (strings.EqualFold(tokens[1], "button-select") || strings.EqualFold(tokens[1], "button-select{tx}") || strings.EqualFold(tokens[1], "button-select{ptt}")):
		return handleGetButtonSelect(s, tokens, index, haveChannel)

	case cmd == "set" && len(tokens) >= 3 && strings.HasPrefix(strings.ToLower(tokens[1]), "button-select"):
		return handleSetButtonSelect(s, tokens, index, haveChannel)

	case cmd == "get" && len(tokens) >= 2 && (strings.ToLower(tokens[1]) == "radio" || strings.ToLower(tokens[1]) == "radios"):
		return "wsjtx-hub\r\n" + rprt(0)

	case cmd == "get" && len(tokens) >= 2 && (strings.ToLower(tokens[1]) == "context" || strings.ToLower(tokens[1]) == "contexts"):
		return "0\r\n" + rprt(0)
	}

	return rprt(-1)
}

// handleGetButtonSelect answers "get button-select {TX}" / "{PTT}", which
// arrive as two tokens ("button-select" "{TX}") once a client puts a space
// before the brace, or one token if it doesn't; both are tolerated.
func handleGetButtonSelect(s *HRDServer, tokens []string, index int, haveChannel bool) string {
	if !haveChannel {
		return rprt(-9)
	}
	ch, _ := s.core.Channel(index)
	v := "0"
	if ch.IsTx {
		v = "1"
	}
	return v + "\r\n" + rprt(0)
}

func handleSetButtonSelect(s *HRDServer, tokens []string, index int, haveChannel bool) string {
	if !haveChannel || s.backend == nil || !s.backend.IsConnected() {
		return rprt(-9)
	}
	last := tokens[len(tokens)-1]
	tx := last == "1"
	if err := s.backend.SetSliceTx(index, tx); err != nil {
		return rprt(-9)
	}
	return rprt(0)
}

// hrdModeFor maps a channel's current mode to one of the HRD mode tokens.
func hrdModeFor(ch Channel) string {
	switch strings.ToUpper(ch.RadioMode) {
	case "USB", "DIGU":
		return "DIGU"
	case "LSB", "DIGL":
		return "DIGL"
	case "CW":
		return "CW"
	case "FM":
		return "FM"
	case "AM":
		return "AM"
	default:
		return "DIGU"
	}
}

func rprt(code int) string {
	return fmt.Sprintf("RPRT %d\r\n", code)
}

// stripRadioSelector removes a leading "[N] " radio-selector prefix a
// client may send.
func stripRadioSelector(line string) string {
	if !strings.HasPrefix(line, "[") {
		return line
	}
	end := strings.IndexByte(line, ']')
	if end < 0 {
		return line
	}
	return strings.TrimSpace(line[end+1:])
}

// logHRDStart is a one-line helper so every server's bind announcement has
// the same shape, matching the teacher's terse startup logging style.
func logHRDStart(channelIndex, port int) {
	if channelIndex == hrdAggregateChannel {
		log.Printf("hrd aggregate server listening on :%d", port)
		return
	}
	log.Printf("hrd server channel %d listening on :%d", channelIndex, port)
}
