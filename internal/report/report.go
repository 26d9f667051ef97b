// Package report decodes raw accelerometer input reports.
//
// The report layout is the vendor accelerometer format (HID usage page 0xFF00,
// usage 3): three signed 32-bit little-endian fixed-point values at byte
// offsets 6, 10 and 14, each scaled by 1/65536 (16.16 fixed point, in g).
package report

import "encoding/binary"

const (
	OffsetX = 6
	OffsetY = 10
	OffsetZ = 14

	// MinLen is the shortest buffer that carries all three axes.
	MinLen = OffsetZ + 4

	Scale = 65536.0
)

// Sample is one instantaneous accelerometer reading.
type Sample struct {
	X float64
	Y float64
	Z float64
}

// Decode extracts a Sample from buf. Short buffers are not an error: ok is
// false and the caller is expected to drop the report. Values are not range
// checked.
func Decode(buf []byte) (s Sample, ok bool) {
	if len(buf) < MinLen {
		return Sample{}, false
	}
	s.X = axis(buf, OffsetX)
	s.Y = axis(buf, OffsetY)
	s.Z = axis(buf, OffsetZ)
	return s, true
}

func axis(buf []byte, off int) float64 {
	return float64(int32(binary.LittleEndian.Uint32(buf[off:off+4]))) / Scale
}

// Encode is the inverse of Decode. It writes a MinLen report (zero header)
// and is used by replay fixtures and tests.
func Encode(s Sample) []byte {
	buf := make([]byte, MinLen)
	put := func(off int, v float64) {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(int32(v*Scale)))
	}
	put(OffsetX, s.X)
	put(OffsetY, s.Y)
	put(OffsetZ, s.Z)
	return buf
}
