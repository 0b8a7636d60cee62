package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"
)

// decodeLookbackWindow bounds how recently a decode must have occurred to be
// a candidate target for execute-qso (spec.md §4.7).
const decodeLookbackWindow = 60 * time.Second

// udpIngestReadTimeout bounds each individual read so the listener goroutine
// can observe context cancellation promptly instead of blocking forever in
// ReadFromUDP.
const udpIngestReadTimeout = 1 * time.Second

// SliceIngest listens for one channel's decoder UDP traffic and applies
// incoming messages to the shared state core and logbook. One instance per
// channel, matching the teacher's one-broadcaster-per-purpose shape in
// decoder_wsjtx_udp.go, inverted from sender to receiver.
type SliceIngest struct {
	channelIndex int
	core         *StateCore
	logbook      *Logbook
	profile      StationProfile

	conn    *net.UDPConn
	running bool

	onDecode func(channel int, rec InternalDecodeRecord)
}

func NewSliceIngest(channelIndex int, core *StateCore, logbook *Logbook, profile StationProfile) *SliceIngest {
	return &SliceIngest{channelIndex: channelIndex, core: core, logbook: logbook, profile: profile}
}

// SetDecodeCallback registers the QSO machine's OnDecode hook so arriving
// decodes are routed into any active contact session on this channel.
func (s *SliceIngest) SetDecodeCallback(cb func(channel int, rec InternalDecodeRecord)) {
	s.onDecode = cb
}

// StartChannel binds the listener for this channel's assigned port. Calling
// it twice without an intervening StopChannel is a no-op (spec.md §4.2
// "unbalanced calls are idempotent").
func (s *SliceIngest) StartChannel(ctx context.Context) error {
	if s.running {
		return nil
	}
	port := udpIngestBasePort + s.channelIndex
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("slice %d udp ingest: listen :%d: %w", s.channelIndex, port, err)
	}
	s.conn = conn
	s.running = true

	go s.loop(ctx)
	return nil
}

// StopChannel closes the listener. Idempotent.
func (s *SliceIngest) StopChannel() {
	if !s.running {
		return
	}
	s.running = false
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *SliceIngest) loop(ctx context.Context) {
	buf := make([]byte, 65535)
	for {
		select {
		case <-ctx.Done():
			s.StopChannel()
			return
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(udpIngestReadTimeout))
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if !s.running {
				return
			}
			continue
		}
		s.handleDatagram(buf[:n])
	}
}

func (s *SliceIngest) handleDatagram(payload []byte) {
	r := newUDPReader(payload)
	msgType, _, ok := r.header()
	if !ok {
		return
	}

	switch msgType {
	case msgTypeHeartbeat:
		s.core.RecordHeartbeat(s.channelIndex)
	case msgTypeStatus:
		s.handleStatus(r)
	case msgTypeDecode:
		s.handleDecode(r)
	case msgTypeQSOLogged:
		s.handleQSOLogged(r)
	case msgTypeClose:
		s.core.SetChannelStatus(s.channelIndex, StatusOffline)
		s.core.mu.Lock()
		s.core.channels[s.channelIndex].Connected = false
		s.core.scheduleChange()
		s.core.mu.Unlock()
	}
}

func (s *SliceIngest) handleStatus(r *udpReader) {
	dialFreq := r.uint64()
	mode, _ := r.latin1String()
	_, _ = r.latin1String() // dx-call
	_, _ = r.latin1String() // report
	_, _ = r.latin1String() // tx-mode
	txEnabled := r.boolean()
	transmitting := r.boolean()
	decoding := r.boolean()
	rxOffset := r.uint32()
	txOffset := r.uint32()
	if r.err != nil {
		return
	}

	u := DecoderStatusUpdate{
		DialFreqHz:   &dialFreq,
		TxEnabled:    &txEnabled,
		Transmitting: &transmitting,
		Decoding:     &decoding,
		RxOffsetHz:   &rxOffset,
		TxOffsetHz:   &txOffset,
	}
	if mode != "" {
		u.Mode = &mode
	}
	s.core.UpdateFromDecoderStatus(s.channelIndex, u)
}

func (s *SliceIngest) handleDecode(r *udpReader) {
	_ = r.boolean() // new-flag: the hub always treats the datagram as fresh
	_ = r.uint32()  // time: ms-since-midnight, superseded by wall-clock receipt time below
	snr := r.int32()
	dt := r.float64()
	deltaFreq := r.uint32()
	mode, _ := r.latin1String()
	message, _ := r.latin1String()
	lowConfidence := r.boolean()
	offAir := r.boolean()
	if r.err != nil {
		return
	}

	ch, ok := s.core.Channel(s.channelIndex)
	if !ok {
		return
	}

	parsed := ParseDecodeText(message)
	if !parsed.Valid {
		return
	}

	now := time.Now().UTC()
	rec := InternalDecodeRecord{
		ChannelIndex: s.channelIndex,
		SliceLetter:  channelLetters[s.channelIndex],
		Timestamp:    now,
		Band:         ch.Band,
		Mode:         mode,
		DialHz:       ch.DialFrequencyHz,
		OffsetHz:     int64(deltaFreq),
		RFHz:         ch.DialFrequencyHz + uint64(int64(deltaFreq)),
		SNRDb:        int(snr),
		DTSec:        dt,
		Callsign:     parsed.Callsign,
		Grid:         parsed.Grid,
		IsCQ:         parsed.IsCQ,
		RawText:      message,
		IsLowConfidence: lowConfidence,
		IsOffAir:        offAir,
		IsNew:           true,
	}
	rec.IsMyCall = IsMyCall(message, s.profile.Callsign)
	if parsed.IsCQ {
		rec.CQTargetToken = parsed.CQTargetToken
		rec.IsDirectedCQToMe = IsDirectedToMe(parsed.CQTargetToken, s.profile)
	}
	if rec.Grid != "" && s.profile.Grid != "" {
		if distKm, bearing, ok := GreatCircle(s.profile.Grid, rec.Grid); ok {
			rec.DistanceKm = &distKm
			rec.BearingDeg = &bearing
		}
	}

	s.core.AddDecode(rec)
	if s.onDecode != nil {
		s.onDecode(s.channelIndex, rec)
	}
}

func (s *SliceIngest) handleQSOLogged(r *udpReader) {
	timeOff, _ := r.structuredTimestamp()
	dxCall, _ := r.latin1String()
	dxGrid, _ := r.latin1String()
	txFreq := r.uint64()
	mode, _ := r.latin1String()
	reportSent, _ := r.latin1String()
	reportReceived, _ := r.latin1String()
	txPower, _ := r.latin1String()
	_, _ = r.latin1String() // comments
	_, _ = r.latin1String() // name
	timeOn, _ := r.structuredTimestamp()
	if r.err != nil {
		return
	}

	ch, _ := s.core.Channel(s.channelIndex)
	band := bandForFrequency(txFreq)

	qso := QSORecord{
		StartTime:      timeOn,
		EndTime:        timeOff,
		Callsign:       dxCall,
		Grid:           dxGrid,
		Band:           band,
		DialHz:         txFreq,
		Mode:           mode,
		ReportSent:     reportSent,
		ReportReceived: reportReceived,
		TxPowerWatts:   parseIntOrZero(txPower),
		SliceLetter:    channelLetters[s.channelIndex],
		ChannelIndex:   s.channelIndex,
		DecoderInstance: ch.Instance,
	}

	s.core.AddQSO(s.channelIndex)
	if s.logbook != nil {
		if err := s.logbook.LogQSO(qso); err != nil {
			log.Printf("slice %d: logbook write failed: %v", s.channelIndex, err)
		}
	}
}

func parseIntOrZero(s string) int {
	n := 0
	neg := false
	for i, c := range s {
		if i == 0 && c == '-' {
			neg = true
			continue
		}
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	if neg {
		n = -n
	}
	return n
}
