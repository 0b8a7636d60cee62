package main

import (
	"testing"
	"time"
)

func TestUDPHeaderRoundTrip(t *testing.T) {
	w := newUDPWriter()
	w.writeHeader(msgTypeDecode, "instance-A")

	r := newUDPReader(w.bytes())
	msgType, id, ok := r.header()
	if !ok {
		t.Fatal("expected header to parse")
	}
	if msgType != msgTypeDecode {
		t.Errorf("msgType = %d, want %d", msgType, msgTypeDecode)
	}
	if id != "instance-A" {
		t.Errorf("id = %q, want %q", id, "instance-A")
	}
}

func TestUDPHeaderRejectsBadMagic(t *testing.T) {
	buf := []byte{0, 0, 0, 0, 0, 0, 0, 0}
	r := newUDPReader(buf)
	if _, _, ok := r.header(); ok {
		t.Error("expected bad magic to be rejected")
	}
}

func TestLatin1StringRoundTrip(t *testing.T) {
	w := newUDPWriter()
	w.writeLatin1String("DL9XYZ JO31")

	r := newUDPReader(w.bytes())
	got, ok := r.latin1String()
	if !ok {
		t.Fatal("expected present string")
	}
	if got != "DL9XYZ JO31" {
		t.Errorf("got %q", got)
	}
}

func TestLatin1StringNull(t *testing.T) {
	w := newUDPWriter()
	w.writeNullString()

	r := newUDPReader(w.bytes())
	_, ok := r.latin1String()
	if ok {
		t.Error("expected null string to report ok=false")
	}
}

func TestIntegerRoundTrip(t *testing.T) {
	w := newUDPWriter()
	w.writeUint32(123456)
	w.writeInt32(-42)
	w.writeUint64(9999999999)
	w.writeFloat64(3.14159)
	w.writeBool(true)
	w.writeByte(0x02)

	r := newUDPReader(w.bytes())
	if v := r.uint32(); v != 123456 {
		t.Errorf("uint32 = %d", v)
	}
	if v := r.int32(); v != -42 {
		t.Errorf("int32 = %d", v)
	}
	if v := r.uint64(); v != 9999999999 {
		t.Errorf("uint64 = %d", v)
	}
	if v := r.float64(); v != 3.14159 {
		t.Errorf("float64 = %f", v)
	}
	if v := r.boolean(); !v {
		t.Error("expected true")
	}
}

func TestStructuredTimestampRoundTrip(t *testing.T) {
	original := time.Date(2026, 3, 15, 14, 30, 45, 0, time.UTC)
	julian := original.Unix()/86400 + julianUnixEpochDay
	msOfDay := uint32((original.Hour()*3600+original.Minute()*60+original.Second())*1000)

	w := newUDPWriter()
	w.writeUint64(uint64(julian))
	w.writeUint32(msOfDay)
	w.writeBool(true)

	r := newUDPReader(w.bytes())
	got, ok := r.structuredTimestamp()
	if !ok {
		t.Fatal("expected a non-null timestamp")
	}
	if !got.Equal(original) {
		t.Errorf("got %v, want %v", got, original)
	}
}

func TestStructuredTimestampJulianZeroIsNull(t *testing.T) {
	w := newUDPWriter()
	w.writeUint64(0)
	w.writeUint32(0)
	w.writeBool(true)

	r := newUDPReader(w.bytes())
	if _, ok := r.structuredTimestamp(); ok {
		t.Error("expected julian day 0 to mean null")
	}
}

func TestEgressReplyEncodesAndDecodes(t *testing.T) {
	w := newUDPWriter()
	w.writeHeader(msgTypeReply, "hub")
	w.writeUint32(51300000)
	w.writeInt32(-9)
	w.writeFloat64(0.2)
	w.writeUint32(1500)
	w.writeLatin1String("FT8")
	w.writeLatin1String("DL9XYZ K1ABC +05")
	w.writeBool(false)
	w.writeByte(sliceModifierShiftHeld)

	r := newUDPReader(w.bytes())
	msgType, _, ok := r.header()
	if !ok || msgType != msgTypeReply {
		t.Fatalf("expected a Reply header, got %d ok=%v", msgType, ok)
	}
	if v := r.uint32(); v != 51300000 {
		t.Errorf("time = %d", v)
	}
	if v := r.int32(); v != -9 {
		t.Errorf("snr = %d", v)
	}
	_ = r.float64() // dt
	if v := r.uint32(); v != 1500 {
		t.Errorf("df = %d", v)
	}
	mode, _ := r.latin1String()
	if mode != "FT8" {
		t.Errorf("mode = %q", mode)
	}
	msg, _ := r.latin1String()
	if msg != "DL9XYZ K1ABC +05" {
		t.Errorf("message = %q", msg)
	}
	_ = r.boolean() // low confidence
	modifiers := r.buf[r.pos]
	if modifiers&sliceModifierShiftHeld == 0 {
		t.Error("expected shift-held modifier bit set")
	}
}
