package commandclass

import (
	"fmt"
	"math"
)

// Scaled is a value encoded as precision/scale/size followed by a signed
// big-endian integer (SensorMultilevel, Meter).
type Scaled struct {
	Value     float64
	Precision int
	Scale     int
	Size      int
}

// DecodeScaled parses a precision/scale/size byte and the value that follows.
// scaleMask selects the scale bits after shifting right by 3.
func DecodeScaled(data []byte, scaleMask byte) (Scaled, error) {
	if len(data) < 1 {
		return Scaled{}, ErrShortReport
	}
	pss := data[0]
	s := Scaled{
		Precision: int(pss >> 5),
		Scale:     int((pss >> 3) & scaleMask),
		Size:      int(pss & 0x07),
	}
	if s.Size != 1 && s.Size != 2 && s.Size != 4 {
		return Scaled{}, fmt.Errorf("commandclass: invalid value size %d", s.Size)
	}
	if len(data) < 1+s.Size {
		return Scaled{}, ErrShortReport
	}
	var raw int64
	switch s.Size {
	case 1:
		raw = int64(int8(data[1]))
	case 2:
		raw = int64(int16(uint16(data[1])<<8 | uint16(data[2])))
	case 4:
		raw = int64(int32(uint32(data[1])<<24 | uint32(data[2])<<16 | uint32(data[3])<<8 | uint32(data[4])))
	}
	s.Value = float64(raw) / math.Pow10(s.Precision)
	return s, nil
}

// EncodeScaled is the inverse of DecodeScaled with the smallest size that fits.
func EncodeScaled(v float64, precision, scale int) []byte {
	raw := int64(math.Round(v * math.Pow10(precision)))
	var size int
	switch {
	case raw >= math.MinInt8 && raw <= math.MaxInt8:
		size = 1
	case raw >= math.MinInt16 && raw <= math.MaxInt16:
		size = 2
	default:
		size = 4
	}
	out := []byte{byte(precision<<5) | byte((scale&0x03)<<3) | byte(size)}
	for i := size - 1; i >= 0; i-- {
		out = append(out, byte(raw>>(8*i)))
	}
	return out
}

// OnOff interprets a Basic/Binary value byte: 0x00 is off, anything else on.
func OnOff(b byte) bool {
	return b != 0x00
}

// Level normalizes a multilevel value: 0xFF ("on, last level") maps to 99, and
// reserved values above 99 are clamped.
func Level(b byte) int {
	if b > 99 {
		return 99
	}
	return int(b)
}
