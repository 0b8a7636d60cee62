package main

import (
	"sync"
	"time"
)

// debounceWindow bounds the state core's change fan-out to at most one
// notification per window, regardless of how many mutations occur inside it
// (spec.md §4.1 "Change fan-out", §5 ordering guarantee (c)).
const debounceWindow = 100 * time.Millisecond

// heartbeatTimeout is how long a channel may go without a heartbeat before
// the watchdog marks it disconnected (spec.md §4.1 "Heartbeat watchdog").
const heartbeatTimeout = 30 * time.Second

// udpIngestBasePort and hrdChannelBasePort are the fixed port offsets
// spec.md §3 assigns per channel index (udp-port = 2237+index, hrd-port =
// 7809+index). hrdAggregatePort is the fifth HRD listener tracking whichever
// channel currently holds TX.
const (
	udpIngestBasePort  = 2237
	hrdChannelBasePort = 7809
	hrdAggregatePort   = 7800
)

// Snapshot is the immutable, cloned view of canonical world state handed to
// subscribers and read-API callers. Mutating a Snapshot never affects the
// state core.
type Snapshot struct {
	Channels          [4]Channel
	Instances         map[int]DecoderInstance
	TxChannelIndex    int // -1 if none
	BackendConnected  bool
	GeneratedAt       time.Time
}

// ChangeCallback is invoked synchronously in the state core's debounce-timer
// goroutine. Per spec.md §5, callbacks must not block.
type ChangeCallback func(Snapshot)

// RestartRequest is emitted by the heartbeat watchdog when a channel's
// decoder should be restarted, subject to the supervisor's own policy.
type RestartRequest struct {
	ChannelIndex int
	Instance     string
	RestartCount int
}

// RestartCallback receives restart requests; registered by the decoder
// supervisor. The state core holds no reference back to the supervisor type,
// only this function value (spec.md §9 "Cyclic references").
type RestartCallback func(RestartRequest)

// StateCore owns the single canonical world state: the four channels, their
// decoder instances, and per-channel decode ring buffers. All mutation goes
// through its exported mutators; all external reads go through its read
// operations, which return clones.
type StateCore struct {
	mu sync.Mutex

	channels  [4]Channel
	instances map[int]DecoderInstance
	rings     [4]*decodeRing

	txChannelIndex   int
	backendConnected bool

	subscribers []ChangeCallback
	onRestart   []RestartCallback

	debounceTimer *time.Timer
	pending       bool

	diagnostics stateDiagnostics
}

// stateDiagnostics are internal counters surfaced only via GetDiagnostics,
// feeding the ambient Prometheus exporter (SPEC_FULL.md §12), never the AI
// tool surface.
type stateDiagnostics struct {
	DecodesPerChannel  [4]int64
	RestartsPerChannel [4]int64
	WatchdogTrips      [4]int64
}

// NewStateCore builds a fresh core with all four channels offline, addresses
// assigned per spec.md §3's invariants (udp-port = 2237+index, hrd-port =
// 7809+index, audio-rx = index+1).
func NewStateCore(ringMaxAge time.Duration) *StateCore {
	sc := &StateCore{
		instances:      make(map[int]DecoderInstance),
		txChannelIndex: -1,
	}
	for i := 0; i < 4; i++ {
		sc.channels[i] = Channel{
			Index:          i,
			Letter:         channelLetters[i],
			Status:         StatusOffline,
			AudioRxChannel: i + 1,
			UDPPort:        udpIngestBasePort + i,
			TCPPort:        hrdChannelBasePort + i,
		}
		sc.rings[i] = newDecodeRing(ringMaxAge)
	}
	return sc
}

// Subscribe registers a callback invoked with the current snapshot at most
// once per debounceWindow after any mutation.
func (sc *StateCore) Subscribe(cb ChangeCallback) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.subscribers = append(sc.subscribers, cb)
}

// OnRestartNeeded registers a callback invoked (outside the state core's
// lock) whenever the heartbeat watchdog decides a channel's decoder needs
// restarting.
func (sc *StateCore) OnRestartNeeded(cb RestartCallback) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.onRestart = append(sc.onRestart, cb)
}

// scheduleChange arms the debounce timer if one isn't already pending. Must
// be called with sc.mu held.
func (sc *StateCore) scheduleChange() {
	if sc.pending {
		return
	}
	sc.pending = true
	sc.debounceTimer = time.AfterFunc(debounceWindow, sc.fireChange)
}

func (sc *StateCore) fireChange() {
	sc.mu.Lock()
	sc.pending = false
	snap := sc.snapshotLocked()
	subs := append([]ChangeCallback(nil), sc.subscribers...)
	sc.mu.Unlock()

	for _, cb := range subs {
		cb(snap)
	}
}

func (sc *StateCore) snapshotLocked() Snapshot {
	snap := Snapshot{
		Channels:         sc.channels,
		TxChannelIndex:   sc.txChannelIndex,
		BackendConnected: sc.backendConnected,
		GeneratedAt:      time.Now().UTC(),
		Instances:        make(map[int]DecoderInstance, len(sc.instances)),
	}
	for k, v := range sc.instances {
		snap.Instances[k] = v.Clone()
	}
	return snap
}

// Snapshot returns a cloned, immutable view of current state.
func (sc *StateCore) Snapshot() Snapshot {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.snapshotLocked()
}

// Channel returns a clone of a single channel's state.
func (sc *StateCore) Channel(index int) (Channel, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if index < 0 || index > 3 {
		return Channel{}, false
	}
	return sc.channels[index].Clone(), true
}

// GetDiagnostics returns a copy of internal counters for the metrics exporter.
func (sc *StateCore) GetDiagnostics() stateDiagnostics {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.diagnostics
}

// --- Mutators ---

// SetBackendConnected flips the backend-connected flag, emitting a change
// event only if the value differs.
func (sc *StateCore) SetBackendConnected(connected bool) {
	sc.mu.Lock()
	changed := sc.backendConnected != connected
	sc.backendConnected = connected
	if changed {
		sc.scheduleChange()
	}
	sc.mu.Unlock()
}

// BackendUpdate carries the fields the radio backend reports for one slice.
type BackendUpdate struct {
	FreqHz   *uint64
	Mode     *string
	IsTx     *bool
	AudioRx  *int
}

// UpdateFromBackend applies a per-field diff from the radio backend.
// Setting IsTx=true on one channel atomically clears it on all others and
// updates the global TX-channel index (spec.md §4.1).
func (sc *StateCore) UpdateFromBackend(index int, u BackendUpdate) {
	if index < 0 || index > 3 {
		return
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()

	ch := &sc.channels[index]
	if u.FreqHz != nil {
		ch.DialFrequencyHz = *u.FreqHz
		ch.Band = bandForFrequency(*u.FreqHz)
	}
	if u.Mode != nil {
		ch.RadioMode = *u.Mode
	}
	if u.AudioRx != nil {
		ch.AudioRxChannel = *u.AudioRx
	}
	if u.IsTx != nil {
		if *u.IsTx {
			sc.setTxChannelLocked(index)
		} else if ch.IsTx {
			ch.IsTx = false
			if sc.txChannelIndex == index {
				sc.txChannelIndex = -1
			}
		}
	}
	sc.scheduleChange()
}

// setTxChannelLocked clears IsTx on every channel but index, sets it on
// index, and updates the global tx-channel pointer. Caller holds sc.mu.
func (sc *StateCore) setTxChannelLocked(index int) {
	for i := range sc.channels {
		sc.channels[i].IsTx = i == index
	}
	sc.txChannelIndex = index
}

// SetTxChannel is the explicit mutator form of the same atomic transition,
// idempotent under repeated calls with the same index (spec.md §8
// idempotence law).
func (sc *StateCore) SetTxChannel(index int) {
	if index < 0 || index > 3 {
		return
	}
	sc.mu.Lock()
	if sc.txChannelIndex != index {
		sc.setTxChannelLocked(index)
		sc.scheduleChange()
	}
	sc.mu.Unlock()
}

// DecoderStatusUpdate carries the fields a decoder's Status UDP message
// reports.
type DecoderStatusUpdate struct {
	DialFreqHz    *uint64
	Mode          *string
	TxEnabled     *bool
	Transmitting  *bool
	Decoding      *bool
	RxOffsetHz    *uint32
	TxOffsetHz    *uint32
}

// UpdateFromDecoderStatus applies decoder-reported fields and derives status
// transitions per spec.md §4.1.
func (sc *StateCore) UpdateFromDecoderStatus(index int, u DecoderStatusUpdate) {
	if index < 0 || index > 3 {
		return
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()

	ch := &sc.channels[index]
	if u.Mode != nil {
		ch.DecoderMode = *u.Mode
	}
	if u.TxEnabled != nil {
		ch.DecoderTxEnabled = *u.TxEnabled
	}
	if u.RxOffsetHz != nil {
		ch.RxAudioOffsetHz = *u.RxOffsetHz
	}
	if u.TxOffsetHz != nil {
		ch.TxAudioOffsetHz = *u.TxOffsetHz
	}
	if u.DialFreqHz != nil && *u.DialFreqHz != 0 && *u.DialFreqHz != ch.DialFrequencyHz {
		ch.DialFrequencyHz = *u.DialFreqHz
		ch.Band = bandForFrequency(*u.DialFreqHz)
	}
	if u.Transmitting != nil {
		ch.DecoderTransmitting = *u.Transmitting
		if *u.Transmitting && ch.Status != StatusInQSO {
			ch.Status = StatusCalling
		}
	}
	if u.Decoding != nil {
		ch.DecoderDecoding = *u.Decoding
		if *u.Decoding && ch.Status == StatusIdle {
			ch.Status = StatusDecoding
		}
	}
	sc.scheduleChange()
}

// RecordHeartbeat stamps last-heartbeat, marks the channel connected, and
// lifts offline to idle.
func (sc *StateCore) RecordHeartbeat(index int) {
	if index < 0 || index > 3 {
		return
	}
	sc.mu.Lock()
	ch := &sc.channels[index]
	ch.LastHeartbeat = time.Now().UTC()
	ch.Connected = true
	if ch.Status == StatusOffline {
		ch.Status = StatusIdle
	}
	sc.scheduleChange()
	sc.mu.Unlock()
}

// AddDecode appends a record to its channel's ring, evicting stale entries,
// and bumps counters (spec.md §4.1 "add-decode").
func (sc *StateCore) AddDecode(rec InternalDecodeRecord) {
	if rec.ChannelIndex < 0 || rec.ChannelIndex > 3 {
		return
	}
	now := time.Now().UTC()
	sc.mu.Lock()
	sc.rings[rec.ChannelIndex].add(rec, now)
	ch := &sc.channels[rec.ChannelIndex]
	ch.DecodeCount++
	ch.LastDecode = now
	sc.diagnostics.DecodesPerChannel[rec.ChannelIndex]++
	sc.scheduleChange()
	sc.mu.Unlock()
}

// DecodesWithin returns a clone of the given channel's decodes newer than
// now-window, newest first.
func (sc *StateCore) DecodesWithin(index int, window time.Duration) []InternalDecodeRecord {
	if index < 0 || index > 3 {
		return nil
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.rings[index].within(window, time.Now().UTC())
}

// AllDecodesWithin returns decodes across all four channels newer than
// now-window, newest first across the merged set (used by the decode
// snapshot assembly in the AI tool surface).
func (sc *StateCore) AllDecodesWithin(window time.Duration) []InternalDecodeRecord {
	sc.mu.Lock()
	now := time.Now().UTC()
	var all []InternalDecodeRecord
	for i := 0; i < 4; i++ {
		all = append(all, sc.rings[i].within(window, now)...)
	}
	sc.mu.Unlock()

	sortDecodesNewestFirst(all)
	return all
}

func sortDecodesNewestFirst(recs []InternalDecodeRecord) {
	for i := 1; i < len(recs); i++ {
		for j := i; j > 0 && recs[j].Timestamp.After(recs[j-1].Timestamp); j-- {
			recs[j], recs[j-1] = recs[j-1], recs[j]
		}
	}
}

// MostRecentDecodeFor locates the newest decode for callsign on channel
// index within window, used by the QSO machine to find a station to reply to.
func (sc *StateCore) MostRecentDecodeFor(index int, callsign string, window time.Duration) (InternalDecodeRecord, bool) {
	if index < 0 || index > 3 {
		return InternalDecodeRecord{}, false
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.rings[index].mostRecentFor(callsign, window, time.Now().UTC())
}

// FindDecodeByKey locates an internal decode by (callsign, snr, timestamp)
// triple across all channels, used by answer_decoded_station to recover the
// routing channel for a public decode id (spec.md §4.9).
func (sc *StateCore) FindDecodeByKey(callsign string, snr int, ts time.Time) (InternalDecodeRecord, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for i := 0; i < 4; i++ {
		for _, e := range sc.rings[i].entries {
			if e.Callsign == callsign && e.SNRDb == snr && e.Timestamp.Equal(ts) {
				return e, true
			}
		}
	}
	return InternalDecodeRecord{}, false
}

// AddQSO increments channel and global QSO counters. Worked-index
// maintenance and ADIF persistence belong exclusively to the logbook; the
// UDP ingest and AI tool handlers call both StateCore.AddQSO and the
// logbook's LogQSO for a given record (spec.md §3 "Ownership").
func (sc *StateCore) AddQSO(channelIndex int) {
	if channelIndex < 0 || channelIndex > 3 {
		return
	}
	sc.mu.Lock()
	sc.channels[channelIndex].QSOCount++
	sc.scheduleChange()
	sc.mu.Unlock()
}

// SetChannelStatus sets the status tag directly, used by the QSO machine and
// supervisor for transitions spec.md's mutator semantics don't derive
// automatically (e.g. entering/leaving in_qso, marking error).
func (sc *StateCore) SetChannelStatus(index int, status ChannelStatus) {
	if index < 0 || index > 3 {
		return
	}
	sc.mu.Lock()
	if sc.channels[index].Status != status {
		sc.channels[index].Status = status
		sc.scheduleChange()
	}
	sc.mu.Unlock()
}

// RegisterInstance creates or replaces a decoder instance record for a
// channel. Per the Open Question resolution in spec.md §9, re-registration
// never touches IsTx — the prior TX assignment is preserved across restarts.
// A respawn (the supervisor's restart policy calls BumpRestartCount before
// re-registering) must likewise preserve the accumulated RestartCount —
// otherwise every successful respawn resets the counter to 0 and the
// bounded-retry cap at maxRestartCount is never reached (spec.md §4.6
// "Restart policy").
func (sc *StateCore) RegisterInstance(channelIndex int, name string) {
	if channelIndex < 0 || channelIndex > 3 {
		return
	}
	sc.mu.Lock()
	restartCount := sc.instances[channelIndex].RestartCount
	sc.channels[channelIndex].Instance = name
	sc.instances[channelIndex] = DecoderInstance{
		Name:         name,
		ChannelIndex: channelIndex,
		LastStart:    time.Now().UTC(),
		RestartCount: restartCount,
	}
	sc.scheduleChange()
	sc.mu.Unlock()
}

// UnregisterInstance destroys the instance record when a slice disappears.
func (sc *StateCore) UnregisterInstance(channelIndex int) {
	if channelIndex < 0 || channelIndex > 3 {
		return
	}
	sc.mu.Lock()
	delete(sc.instances, channelIndex)
	sc.channels[channelIndex].Instance = ""
	sc.scheduleChange()
	sc.mu.Unlock()
}

// SetInstancePID records the OS pid of a freshly spawned decoder process.
func (sc *StateCore) SetInstancePID(channelIndex, pid int) {
	sc.mu.Lock()
	if inst, ok := sc.instances[channelIndex]; ok {
		p := pid
		inst.PID = &p
		inst.Running = true
		inst.LastStart = time.Now().UTC()
		sc.instances[channelIndex] = inst
	}
	sc.scheduleChange()
	sc.mu.Unlock()
}

// SetInstanceResourceSample attaches a resource usage sample to the instance,
// used by the decoder supervisor's health sampling (SPEC_FULL.md §4.6).
func (sc *StateCore) SetInstanceResourceSample(channelIndex int, sample ProcessResourceSample) {
	sc.mu.Lock()
	if inst, ok := sc.instances[channelIndex]; ok {
		s := sample
		inst.ResourceSample = &s
		sc.instances[channelIndex] = inst
	}
	sc.mu.Unlock()
}

// InstanceStopped marks an instance stopped with the given error, used on
// graceful shutdown, process exit, and watchdog-driven restarts.
func (sc *StateCore) InstanceStopped(channelIndex int, errMsg string) {
	sc.mu.Lock()
	if inst, ok := sc.instances[channelIndex]; ok {
		inst.Running = false
		inst.PID = nil
		inst.LastError = errMsg
		sc.instances[channelIndex] = inst
	}
	sc.scheduleChange()
	sc.mu.Unlock()
}

// BumpRestartCount increments an instance's restart counter, returning the
// new count, used by the supervisor's bounded-retry restart policy.
func (sc *StateCore) BumpRestartCount(channelIndex int) int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	inst, ok := sc.instances[channelIndex]
	if !ok {
		return 0
	}
	inst.RestartCount++
	sc.instances[channelIndex] = inst
	sc.diagnostics.RestartsPerChannel[channelIndex]++
	return inst.RestartCount
}

// InstanceRestartCount reads the current restart count without mutating it.
func (sc *StateCore) InstanceRestartCount(channelIndex int) int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.instances[channelIndex].RestartCount
}
