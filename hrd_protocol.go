package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf16"
)

// HRD wire framing constants (spec.md §4.4).
const (
	hrdMagic1 uint32 = 0x1234ABCD
	hrdMagic2 uint32 = 0xABCD1234

	hrdHeaderSize = 16
)

// encodeHRDMessage frames payload (a UTF-16-LE, null-terminated string) with
// the 16-byte header: size (LE32), magic1, magic2, XOR-sum checksum of the
// payload bytes.
func encodeHRDMessage(payload string) []byte {
	body := utf16LEWithNull(payload)

	total := hrdHeaderSize + len(body)
	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(total))
	binary.LittleEndian.PutUint32(buf[4:8], hrdMagic1)
	binary.LittleEndian.PutUint32(buf[8:12], hrdMagic2)
	binary.LittleEndian.PutUint32(buf[12:16], xorChecksum(body))
	copy(buf[16:], body)
	return buf
}

func xorChecksum(b []byte) uint32 {
	var sum uint32
	for _, c := range b {
		sum ^= uint32(c)
	}
	return sum
}

// utf16LEWithNull encodes s as UTF-16LE code units followed by a null
// terminator (0x0000).
func utf16LEWithNull(s string) []byte {
	units := utf16.Encode([]rune(s))
	buf := make([]byte, (len(units)+1)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[i*2:], u)
	}
	// trailing two bytes are already zero: the null terminator
	return buf
}

// decodeHRDMessage reads one framed HRD message from r and returns its
// decoded payload string (trimmed of its null terminator).
func decodeHRDMessage(r io.Reader) (string, error) {
	header := make([]byte, hrdHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return "", err
	}
	total := binary.LittleEndian.Uint32(header[0:4])
	magic1 := binary.LittleEndian.Uint32(header[4:8])
	magic2 := binary.LittleEndian.Uint32(header[8:12])
	// The checksum field is read but never validated: spec.md §9's open
	// question on the HRD checksum algorithm concludes third-party loggers'
	// values must be tolerated on receive, only a consistent value emitted
	// on send (see DESIGN.md).

	if magic1 != hrdMagic1 || magic2 != hrdMagic2 {
		return "", fmt.Errorf("hrd protocol: bad magic (%#x, %#x)", magic1, magic2)
	}
	if total < hrdHeaderSize {
		return "", fmt.Errorf("hrd protocol: size %d smaller than header", total)
	}

	body := make([]byte, total-hrdHeaderSize)
	if len(body) > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return "", err
		}
	}

	return utf16LEToString(body), nil
}

func utf16LEToString(b []byte) string {
	n := len(b) / 2
	units := make([]uint16, 0, n)
	for i := 0; i < n; i++ {
		u := binary.LittleEndian.Uint16(b[i*2:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}
