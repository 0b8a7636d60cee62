package main

import (
	"fmt"
	"net"
)

// sliceModifierShiftHeld is bit 0x02 of the Reply message's modifiers byte,
// which causes the decoder to auto-enable TX on receipt (spec.md §4.3).
const sliceModifierShiftHeld = 0x02

// EgressSender sends encoded control frames to one channel's decoder.
// Grounded on the teacher's WSJTXUDPBroadcaster.conn usage in
// decoder_wsjtx_udp.go, narrowed to the six outbound message types this
// hub needs rather than the teacher's full spot-broadcast catalogue.
type EgressSender struct {
	channelIndex int
	conn         *net.UDPConn
}

// NewEgressSender dials the decoder's UDP ingest port for channelIndex.
func NewEgressSender(channelIndex int) (*EgressSender, error) {
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: udpIngestBasePort + channelIndex}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("egress channel %d: dial: %w", channelIndex, err)
	}
	return &EgressSender{channelIndex: channelIndex, conn: conn}, nil
}

func (e *EgressSender) Close() error {
	if e.conn == nil {
		return nil
	}
	return e.conn.Close()
}

func (e *EgressSender) send(w *udpWriter) error {
	_, err := e.conn.Write(w.bytes())
	return err
}

// SendReply answers a specific decode, reproducing its time/snr/dt/df so the
// decoder can locate the exact slot being double-clicked, per spec.md §4.3.
func (e *EgressSender) SendReply(timeMs uint32, snr int32, dt float64, offsetHz int64, mode, message string, lowConfidence, shiftHeld bool) error {
	w := newUDPWriter()
	w.writeHeader(msgTypeReply, "hub")
	w.writeUint32(timeMs)
	w.writeInt32(snr)
	w.writeFloat64(dt)
	w.writeUint32(uint32(offsetHz))
	w.writeLatin1String(mode)
	w.writeLatin1String(message)
	w.writeBool(lowConfidence)
	var modifiers byte
	if shiftHeld {
		modifiers |= sliceModifierShiftHeld
	}
	w.writeByte(modifiers)
	return e.send(w)
}

// SendFreeText sets or immediately sends arbitrary outbound text.
func (e *EgressSender) SendFreeText(text string, send bool) error {
	w := newUDPWriter()
	w.writeHeader(msgTypeFreeText, "hub")
	w.writeLatin1String(text)
	w.writeBool(send)
	return e.send(w)
}

// ConfigureParams carries the Configure message's optional fields. A nil
// pointer or empty string means "do not change" per spec.md §4.3.
type ConfigureParams struct {
	Mode              *string
	FrequencyToleranceHz *uint32
	SubMode           *string
	FastMode          *bool
	TRPeriodSec       *uint32
	RxAudioOffsetHz   *uint32
	DXCall            *string
	DXGrid            *string
	GenerateMessages  *bool
}

// SendConfigure reconfigures the decoder's operating parameters.
func (e *EgressSender) SendConfigure(p ConfigureParams) error {
	w := newUDPWriter()
	w.writeHeader(msgTypeConfigure, "hub")
	writeOptionalString(w, p.Mode)
	writeOptionalUint32(w, p.FrequencyToleranceHz)
	writeOptionalString(w, p.SubMode)
	writeOptionalBool(w, p.FastMode)
	writeOptionalUint32(w, p.TRPeriodSec)
	writeOptionalUint32(w, p.RxAudioOffsetHz)
	writeOptionalString(w, p.DXCall)
	writeOptionalString(w, p.DXGrid)
	writeOptionalBool(w, p.GenerateMessages)
	return e.send(w)
}

func writeOptionalString(w *udpWriter, s *string) {
	if s == nil || *s == "" {
		w.writeNullString()
		return
	}
	w.writeLatin1String(*s)
}

func writeOptionalUint32(w *udpWriter, v *uint32) {
	if v == nil {
		w.writeUint32(nullStringLen)
		return
	}
	w.writeUint32(*v)
}

func writeOptionalBool(w *udpWriter, b *bool) {
	if b == nil {
		w.writeBool(false)
		return
	}
	w.writeBool(*b)
}

// SendHaltTx stops transmission, optionally restricted to auto-tx-only.
func (e *EgressSender) SendHaltTx(autoTxOnly bool) error {
	w := newUDPWriter()
	w.writeHeader(msgTypeHaltTx, "hub")
	w.writeBool(autoTxOnly)
	return e.send(w)
}

// Window selectors for SendClear, naming which decode display to clear.
const (
	ClearWindowBand = 0
	ClearWindowRx   = 1
	ClearWindowTx   = 2
)

// SendClear clears a decoder display window.
func (e *EgressSender) SendClear(window uint32) error {
	w := newUDPWriter()
	w.writeHeader(msgTypeClear, "hub")
	w.writeUint32(window)
	return e.send(w)
}

// SendClose sends the graceful shutdown signal ahead of killing the process.
func (e *EgressSender) SendClose() error {
	w := newUDPWriter()
	w.writeHeader(msgTypeClose, "hub")
	return e.send(w)
}
