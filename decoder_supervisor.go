package main

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const (
	maxRestartCount     = 5
	minRestartInterval  = 5 * time.Second
	decoderStopGrace    = 5 * time.Second
	gracefulRestartWait = 3 * time.Second

	// resourceSampleInterval matches the heartbeat watchdog's cadence
	// (spec.md §4.6 "the supervisor samples the child's resource usage via
	// gopsutil ... on the same 5 s cadence as the heartbeat watchdog").
	resourceSampleInterval = 5 * time.Second
)

// runningDecoder tracks the live process and servers backing one channel.
type runningDecoder struct {
	cmd       *exec.Cmd
	hrd       *HRDServer
	ingest    *SliceIngest
	egress    *EgressSender
	freqHz    uint64
	mode      string
	permanentlyErrored bool
}

// DecoderSupervisor drives the per-slice decoder process lifecycle: spawn,
// config generation, restart-with-backoff, and graceful shutdown. Grounded
// on the teacher's StreamingDecoder in decoder_streaming.go for the
// wait-then-kill stop sequence, generalized from a short transcode job to a
// long-running GUI decoder process managed across restarts.
type DecoderSupervisor struct {
	mu       sync.Mutex
	core     *StateCore
	backend  RadioBackend
	logbook  *Logbook
	profile  StationProfile
	onDecode func(channel int, rec InternalDecodeRecord)

	// spawn defaults to spawnDecoderProcess; tests substitute a fake so the
	// restart policy's real respawn path (RegisterInstance et al.) runs
	// without launching the actual decoder binary.
	spawn func(configPath string) (*exec.Cmd, error)

	running map[int]*runningDecoder
}

// SetDecodeCallback wires the QSO machine's decode hook into every ingest
// this supervisor starts from here on.
func (ds *DecoderSupervisor) SetDecodeCallback(cb func(channel int, rec InternalDecodeRecord)) {
	ds.mu.Lock()
	ds.onDecode = cb
	ds.mu.Unlock()
}

// EgressSenderFor returns the channel's active UDP egress sender, or nil if
// no decoder instance is currently running on it. Used by the QSO machine
// and the AI tool surface's answer_decoded_station to target a Reply frame
// without either holding a handle into the supervisor's own bookkeeping.
func (ds *DecoderSupervisor) EgressSenderFor(channel int) *EgressSender {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	rd, ok := ds.running[channel]
	if !ok {
		return nil
	}
	return rd.egress
}

func NewDecoderSupervisor(core *StateCore, backend RadioBackend, logbook *Logbook, profile StationProfile) *DecoderSupervisor {
	ds := &DecoderSupervisor{
		core:    core,
		backend: backend,
		logbook: logbook,
		profile: profile,
		spawn:   spawnDecoderProcess,
		running: make(map[int]*runningDecoder),
	}
	core.OnRestartNeeded(ds.handleRestartRequest)
	return ds
}

// Run blocks, sampling every running instance's CPU/RSS on a 5s ticker
// until ctx is canceled. Mirrors StateWatchdog.Run's own ticker-loop shape
// in state_watchdog.go.
func (ds *DecoderSupervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(resourceSampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			SampleAllInstances(ds.core)
		}
	}
}

// OnSliceAdded implements the backend's slice-added callback (spec.md §4.6
// steps 1-8), naming the instance "wsjtx-hub-<letter>".
func (ds *DecoderSupervisor) OnSliceAdded(ctx context.Context, index int) {
	ds.OnSliceAddedNamed(ctx, index, fmt.Sprintf("wsjtx-hub-%s", channelLetters[index]))
}

// OnSliceAddedNamed is OnSliceAdded with an explicit instance name, used by
// standard mode (spec.md §6 "Standard mode uses a single hard-coded
// 'IC-7300' channel without a radio backend") to name channel 0's instance
// "IC-7300" instead of the backend-driven default.
func (ds *DecoderSupervisor) OnSliceAddedNamed(ctx context.Context, index int, instName string) {
	ds.mu.Lock()
	if _, exists := ds.running[index]; exists {
		ds.mu.Unlock()
		return
	}
	ds.mu.Unlock()

	letter := channelLetters[index]
	audioCh := index + 1

	if err := ds.backend.SetSliceAudio(index, audioCh); err != nil {
		log.Printf("supervisor: channel %s: set-slice-audio failed: %v", letter, err)
	}

	hrd := NewHRDServer(index, hrdChannelBasePort+index, ds.core, ds.backend)
	if err := hrd.Start(ctx); err != nil {
		log.Printf("supervisor: channel %s: hrd server start failed: %v", letter, err)
		return
	}
	hrd.WatchStateCore()
	logHRDStart(index, hrdChannelBasePort+index)

	ingest := NewSliceIngest(index, ds.core, ds.logbook, ds.profile)
	ds.mu.Lock()
	cb := ds.onDecode
	ds.mu.Unlock()
	if cb != nil {
		ingest.SetDecodeCallback(cb)
	}
	if err := ingest.StartChannel(ctx); err != nil {
		log.Printf("supervisor: channel %s: udp ingest start failed: %v", letter, err)
		hrd.Stop()
		return
	}

	egress, err := NewEgressSender(index)
	if err != nil {
		log.Printf("supervisor: channel %s: egress sender failed: %v", letter, err)
	}

	if err := ds.spawnAndRegister(index, instName, hrd, ingest, egress); err != nil {
		log.Printf("supervisor: channel %s: spawn failed: %v", letter, err)
		return
	}

	go PositionWindow(index)
}

// OnSliceRemoved implements spec.md §4.6's slice-removed sequence.
func (ds *DecoderSupervisor) OnSliceRemoved(index int) {
	ds.mu.Lock()
	rd, exists := ds.running[index]
	if !exists {
		ds.mu.Unlock()
		return
	}
	delete(ds.running, index)
	ds.mu.Unlock()

	if rd.ingest != nil {
		rd.ingest.StopChannel()
	}
	if rd.hrd != nil {
		rd.hrd.Stop()
	}
	stopProcessGraceful(rd.cmd, rd.egress)
	if rd.egress != nil {
		rd.egress.Close()
	}
	ds.core.UnregisterInstance(index)
}

// spawnAndRegister generates the config file, spawns the process, and
// registers the instance. Caller has already started the HRD server and
// UDP ingest for this channel.
func (ds *DecoderSupervisor) spawnAndRegister(index int, instName string, hrd *HRDServer, ingest *SliceIngest, egress *EgressSender) error {
	cfgPath := decoderConfigPath(index)
	ch, _ := ds.core.Channel(index)

	mode := ch.DecoderMode
	if mode == "" {
		mode = "FT8"
	}

	if err := GenerateDecoderConfig(cfgPath, DecoderConfigParams{
		ChannelIndex: index,
		Callsign:     ds.profile.Callsign,
		Grid:         ds.profile.Grid,
		DefaultMode:  mode,
	}); err != nil {
		return fmt.Errorf("generate config: %w", err)
	}

	cmd, err := ds.spawn(cfgPath)
	if err != nil {
		return fmt.Errorf("spawn process: %w", err)
	}

	ds.mu.Lock()
	ds.running[index] = &runningDecoder{cmd: cmd, hrd: hrd, ingest: ingest, egress: egress, freqHz: ch.DialFrequencyHz, mode: mode}
	ds.mu.Unlock()

	ds.core.RegisterInstance(index, instName)
	ds.core.SetInstancePID(index, cmd.Process.Pid)

	go ds.waitForExit(index, cmd)
	return nil
}

// spawnDecoderProcess starts the decoder binary in its own process group so
// a graceful signal can reach the whole group, not just the immediate
// child.
func spawnDecoderProcess(configPath string) (*exec.Cmd, error) {
	cmd := exec.Command("wsjtx", "--rig-config", configPath)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

func (ds *DecoderSupervisor) waitForExit(index int, cmd *exec.Cmd) {
	err := cmd.Wait()

	ds.mu.Lock()
	_, stillTracked := ds.running[index]
	ds.mu.Unlock()
	if !stillTracked {
		return
	}

	msg := "exited"
	if err != nil {
		msg = err.Error()
	}
	ds.core.InstanceStopped(index, msg)
}

// stopProcessGraceful signals the decoder to shut down (Close UDP frame,
// then a process-group SIGTERM), waiting decoderStopGrace before killing.
// Mirrors the teacher's StreamingDecoder.Stop wait-then-kill sequence in
// decoder_streaming.go.
func stopProcessGraceful(cmd *exec.Cmd, egress *EgressSender) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	if egress != nil {
		egress.SendClose()
	}

	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err == nil {
		unix.Kill(-pgid, syscall.SIGTERM)
	} else {
		cmd.Process.Signal(syscall.SIGTERM)
	}

	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(decoderStopGrace):
		if err == nil {
			unix.Kill(-pgid, syscall.SIGKILL)
		} else {
			cmd.Process.Kill()
		}
	}
}

// handleRestartRequest implements the bounded-retry restart policy (spec.md
// §4.6 "Restart policy").
func (ds *DecoderSupervisor) handleRestartRequest(req RestartRequest) {
	ds.mu.Lock()
	rd, exists := ds.running[req.ChannelIndex]
	ds.mu.Unlock()
	if !exists || rd.permanentlyErrored {
		return
	}

	if req.RestartCount >= maxRestartCount {
		ds.mu.Lock()
		rd.permanentlyErrored = true
		ds.mu.Unlock()
		ds.core.SetChannelStatus(req.ChannelIndex, StatusError)
		log.Printf("supervisor: channel %s: restart count %d >= %d, permanently errored",
			channelLetters[req.ChannelIndex], req.RestartCount, maxRestartCount)
		return
	}

	snap := ds.core.Snapshot()
	if inst, ok := snap.Instances[req.ChannelIndex]; ok && !inst.LastStart.IsZero() {
		if time.Since(inst.LastStart) < minRestartInterval {
			return
		}
	}

	newCount := ds.core.BumpRestartCount(req.ChannelIndex)
	log.Printf("supervisor: channel %s: restarting (attempt %d)", channelLetters[req.ChannelIndex], newCount)

	ds.mu.Lock()
	letter := channelLetters[req.ChannelIndex]
	instName := req.Instance
	if instName == "" {
		instName = fmt.Sprintf("wsjtx-hub-%s", letter)
	}
	freqHz := rd.freqHz
	mode := rd.mode
	hrd := rd.hrd
	ingest := rd.ingest
	egress := rd.egress
	ds.mu.Unlock()

	ds.core.UpdateFromDecoderStatus(req.ChannelIndex, DecoderStatusUpdate{DialFreqHz: &freqHz, Mode: &mode})

	if err := ds.spawnAndRegister(req.ChannelIndex, instName, hrd, ingest, egress); err != nil {
		log.Printf("supervisor: channel %s: restart spawn failed: %v", letter, err)
	}
}

// ShutdownAll stops every running decoder instance using the same
// close-frame/signal/wait/kill sequence as OnSliceRemoved, without
// unregistering their channels from the state core (spec.md §8 end-to-end
// scenario 6: "the ADIF file is not truncated and the worked-index is
// unchanged"; the canonical state is left as last observed, only the
// processes and listeners are torn down).
func (ds *DecoderSupervisor) ShutdownAll() {
	ds.mu.Lock()
	running := make(map[int]*runningDecoder, len(ds.running))
	for idx, rd := range ds.running {
		running[idx] = rd
	}
	ds.running = make(map[int]*runningDecoder)
	ds.mu.Unlock()

	for idx, rd := range running {
		if rd.ingest != nil {
			rd.ingest.StopChannel()
		}
		if rd.hrd != nil {
			rd.hrd.Stop()
		}
		stopProcessGraceful(rd.cmd, rd.egress)
		if rd.egress != nil {
			rd.egress.Close()
		}
		log.Printf("supervisor: channel %s: shut down", channelLetters[idx])
	}
}

// GracefulRestartAll implements spec.md §4.6's config-change restart
// sequence: snapshot, close, stop, wait, regenerate, respawn, reposition.
func (ds *DecoderSupervisor) GracefulRestartAll(ctx context.Context) {
	ds.mu.Lock()
	type snapshot struct {
		index    int
		instName string
		freqHz   uint64
		mode     string
		hrd      *HRDServer
		ingest   *SliceIngest
		egress   *EgressSender
		cmd      *exec.Cmd
	}
	var snaps []snapshot
	for idx, rd := range ds.running {
		ch, _ := ds.core.Channel(idx)
		snaps = append(snaps, snapshot{
			index: idx, instName: ch.Instance, freqHz: rd.freqHz, mode: rd.mode,
			hrd: rd.hrd, ingest: rd.ingest, egress: rd.egress, cmd: rd.cmd,
		})
	}
	ds.mu.Unlock()

	for _, s := range snaps {
		stopProcessGraceful(s.cmd, s.egress)
	}
	time.Sleep(gracefulRestartWait)

	order := make([]int, 0, len(snaps))
	for _, s := range snaps {
		if err := ds.spawnAndRegister(s.index, s.instName, s.hrd, s.ingest, s.egress); err != nil {
			log.Printf("supervisor: channel %s: graceful restart spawn failed: %v", channelLetters[s.index], err)
			continue
		}
		order = append(order, s.index)
	}
	PositionAllWindows(order)
}
