package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"time"

	"golang.org/x/text/encoding/charmap"
)

// Protocol constants for the per-slice UDP datagram format (spec.md §4.2/§4.3).
const (
	udpMagicNumber  uint32 = 0xADBCCBDA
	udpSchemaNumber uint32 = 2

	msgTypeHeartbeat = 0
	msgTypeStatus    = 1
	msgTypeClear     = 3
	msgTypeReply     = 4
	msgTypeQSOLogged = 5
	msgTypeClose     = 6
	msgTypeHaltTx    = 8
	msgTypeFreeText  = 9
	msgTypeDecode    = 2
	msgTypeConfigure = 15
)

// nullStringLen marks a length-prefixed string field as null rather than
// empty, distinct from a zero-length present string.
const nullStringLen uint32 = 0xFFFFFFFF

// julianUnixEpochDay is the Julian day number of 1970-01-01, used to convert
// the structured timestamp field in QSO-Logged messages (spec.md §4.2
// "Structured timestamp").
const julianUnixEpochDay = 2440588

var errShortBuffer = errors.New("udp protocol: short buffer")

// udpReader walks a received datagram's payload sequentially, decoding the
// Latin-1 string/int fields the protocol uses. Mirrors the teacher's
// WSJTXUDPBroadcaster writer in decoder_wsjtx_udp.go, inverted for reads and
// switched from UTF-8 to Latin-1 per spec.md §4.2 ("the actual sender emits
// single-byte Latin-1").
type udpReader struct {
	buf []byte
	pos int
	err error
}

func newUDPReader(buf []byte) *udpReader {
	return &udpReader{buf: buf}
}

func (r *udpReader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *udpReader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.pos+n > len(r.buf) {
		r.fail(errShortBuffer)
		return false
	}
	return true
}

func (r *udpReader) uint32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *udpReader) int32() int32 {
	return int32(r.uint32())
}

func (r *udpReader) uint64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v
}

func (r *udpReader) float64() float64 {
	if !r.need(8) {
		return 0
	}
	bits := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return math.Float64frombits(bits)
}

func (r *udpReader) boolean() bool {
	if !r.need(1) {
		return false
	}
	b := r.buf[r.pos]
	r.pos++
	return b != 0
}

// latin1String decodes a length-prefixed, single-byte Latin-1 string. A
// length of nullStringLen yields "" with ok=false (the field was null, not
// merely empty).
func (r *udpReader) latin1String() (string, bool) {
	n := r.uint32()
	if r.err != nil {
		return "", false
	}
	if n == nullStringLen {
		return "", false
	}
	if n == 0 {
		return "", true
	}
	if !r.need(int(n)) {
		return "", false
	}
	raw := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		r.fail(err)
		return "", false
	}
	return string(decoded), true
}

// structuredTimestamp decodes the Julian-day/ms-of-day/time-spec triple used
// by the QSO-Logged message's time-off and time-on fields.
func (r *udpReader) structuredTimestamp() (time.Time, bool) {
	julian := int64(r.uint64())
	msOfDay := r.uint32()
	_ = r.boolean() // time-spec: true = UTC, false = local; this hub only ever sees UTC senders
	if r.err != nil || julian == 0 {
		return time.Time{}, false
	}
	epochDay := julian - julianUnixEpochDay
	unixMs := epochDay*86400000 + int64(msOfDay)
	return time.UnixMilli(unixMs).UTC(), true
}

// header reads the shared magic/schema/msgtype/id preamble and returns the
// message type and sender id. Returns ok=false if the magic doesn't match,
// in which case the datagram should be silently discarded.
func (r *udpReader) header() (msgType uint32, id string, ok bool) {
	magic := r.uint32()
	if magic != udpMagicNumber {
		return 0, "", false
	}
	r.uint32() // schema version, not currently branched on
	msgType = r.uint32()
	id, _ = r.latin1String()
	if r.err != nil {
		return 0, "", false
	}
	return msgType, id, true
}

// udpWriter builds an outbound datagram payload for the egress encoder
// (spec.md §4.3). Mirrors the teacher's writeHeader/writeString/writeUint32
// helpers in decoder_wsjtx_udp.go, switched to Latin-1 strings.
type udpWriter struct {
	buf bytes.Buffer
}

func newUDPWriter() *udpWriter { return &udpWriter{} }

func (w *udpWriter) bytes() []byte { return w.buf.Bytes() }

func (w *udpWriter) writeHeader(msgType uint32, id string) {
	binary.Write(&w.buf, binary.BigEndian, udpMagicNumber)
	binary.Write(&w.buf, binary.BigEndian, udpSchemaNumber)
	binary.Write(&w.buf, binary.BigEndian, msgType)
	w.writeLatin1String(id)
}

func (w *udpWriter) writeUint32(v uint32) {
	binary.Write(&w.buf, binary.BigEndian, v)
}

func (w *udpWriter) writeInt32(v int32) {
	binary.Write(&w.buf, binary.BigEndian, v)
}

func (w *udpWriter) writeUint64(v uint64) {
	binary.Write(&w.buf, binary.BigEndian, v)
}

func (w *udpWriter) writeFloat64(v float64) {
	binary.Write(&w.buf, binary.BigEndian, math.Float64bits(v))
}

func (w *udpWriter) writeBool(b bool) {
	if b {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

func (w *udpWriter) writeByte(b byte) {
	w.buf.WriteByte(b)
}

// writeLatin1String writes a present string, encoding any character outside
// Latin-1 as '?' per the codec's standard replacement behavior.
func (w *udpWriter) writeLatin1String(s string) {
	encoded, _ := charmap.ISO8859_1.NewEncoder().String(s)
	binary.Write(&w.buf, binary.BigEndian, uint32(len(encoded)))
	w.buf.WriteString(encoded)
}

// writeNullString writes the nullStringLen sentinel, used by Configure to
// mean "do not change this field".
func (w *udpWriter) writeNullString() {
	binary.Write(&w.buf, binary.BigEndian, nullStringLen)
}
