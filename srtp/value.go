package srtp

import (
	"encoding/binary"
	"fmt"
	"math"
)

// wordValues decodes count 16-bit signed words from a payload.
// SRTP word data is little-endian two's complement.
func wordValues(payload []byte, count int) ([]int16, error) {
	if len(payload) < count*2 {
		return nil, &TruncatedResponseError{Section: "payload", Expected: count * 2, Got: len(payload)}
	}
	values := make([]int16, count)
	for i := 0; i < count; i++ {
		values[i] = int16(binary.LittleEndian.Uint16(payload[i*2:]))
	}
	return values, nil
}

// byteValues returns the first count bytes of a payload.
func byteValues(payload []byte, count int) ([]byte, error) {
	if len(payload) < count {
		return nil, &TruncatedResponseError{Section: "payload", Expected: count, Got: len(payload)}
	}
	values := make([]byte, count)
	copy(values, payload[:count])
	return values, nil
}

// bitValues extracts count bits from a payload, LSB-first within each byte.
func bitValues(payload []byte, count int) ([]bool, error) {
	if len(payload)*8 < count {
		return nil, &TruncatedResponseError{Section: "payload", Expected: (count + 7) / 8, Got: len(payload)}
	}
	values := make([]bool, count)
	for i := 0; i < count; i++ {
		values[i] = payload[i/8]&(1<<(i%8)) != 0
	}
	return values, nil
}

// DecodeInt32 interprets two consecutive registers as a 32-bit signed
// integer, little-endian. Values are the register contents starting at the
// lower address.
func DecodeInt32(lo, hi int16) int32 {
	return int32(uint32(uint16(lo)) | uint32(uint16(hi))<<16)
}

// DecodeFloat32 interprets two consecutive registers as an IEEE-754
// single-precision float, little-endian.
func DecodeFloat32(lo, hi int16) float32 {
	return math.Float32frombits(uint32(uint16(lo)) | uint32(uint16(hi))<<16)
}

// DecodeFloat64 interprets four consecutive registers as an IEEE-754
// double-precision float, little-endian.
func DecodeFloat64(w []int16) (float64, error) {
	if len(w) < 4 {
		return 0, fmt.Errorf("need 4 registers for float64, got %d", len(w))
	}
	bits := uint64(uint16(w[0])) | uint64(uint16(w[1]))<<16 |
		uint64(uint16(w[2]))<<32 | uint64(uint16(w[3]))<<48
	return math.Float64frombits(bits), nil
}

// TagValue represents the result of reading an SRTP address with type
// conversion helpers. Bytes holds the raw payload already trimmed to the
// requested count for the address's access mode.
type TagValue struct {
	Name   string     // Address string as requested (e.g., "%R100")
	Region Region     // Memory region
	Mode   AccessMode // Access mode the read used
	Bytes  []byte     // Raw value bytes (little-endian)
	Count  int        // Number of elements (1 for scalar, >1 for array)
	Error  error      // Per-tag error (nil if successful)
}

// Bool returns the tag value as a boolean.
// For bit reads this is the first bit; otherwise any nonzero first element.
func (v *TagValue) Bool() (bool, error) {
	if v.Error != nil {
		return false, v.Error
	}
	if len(v.Bytes) < 1 {
		return false, fmt.Errorf("insufficient data for bool")
	}
	if v.Mode == ModeBit {
		return v.Bytes[0]&0x01 != 0, nil
	}
	return v.Bytes[0] != 0, nil
}

// Int returns the first element as a signed 64-bit integer.
func (v *TagValue) Int() (int64, error) {
	if v.Error != nil {
		return 0, v.Error
	}
	switch v.Mode {
	case ModeWord:
		if len(v.Bytes) < 2 {
			return 0, fmt.Errorf("insufficient data for word")
		}
		return int64(int16(binary.LittleEndian.Uint16(v.Bytes))), nil
	case ModeByte:
		if len(v.Bytes) < 1 {
			return 0, fmt.Errorf("insufficient data for byte")
		}
		return int64(v.Bytes[0]), nil
	case ModeBit:
		if len(v.Bytes) < 1 {
			return 0, fmt.Errorf("insufficient data for bit")
		}
		if v.Bytes[0]&0x01 != 0 {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported access mode: %s", v.Mode)
	}
}

// Uint returns the first element as an unsigned 64-bit integer.
func (v *TagValue) Uint() (uint64, error) {
	if v.Error != nil {
		return 0, v.Error
	}
	switch v.Mode {
	case ModeWord:
		if len(v.Bytes) < 2 {
			return 0, fmt.Errorf("insufficient data for word")
		}
		return uint64(binary.LittleEndian.Uint16(v.Bytes)), nil
	case ModeByte:
		if len(v.Bytes) < 1 {
			return 0, fmt.Errorf("insufficient data for byte")
		}
		return uint64(v.Bytes[0]), nil
	case ModeBit:
		b, err := v.Bool()
		if err != nil {
			return 0, err
		}
		if b {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported access mode: %s", v.Mode)
	}
}

// Float returns the first two registers interpreted as an IEEE-754 float32.
// Only meaningful for word-mode reads with at least two elements.
func (v *TagValue) Float() (float64, error) {
	if v.Error != nil {
		return 0, v.Error
	}
	if v.Mode != ModeWord {
		return 0, fmt.Errorf("float decode requires word access, got %s", v.Mode)
	}
	if len(v.Bytes) < 4 {
		return 0, fmt.Errorf("insufficient data for float32: need 2 registers")
	}
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(v.Bytes))), nil
}

// GoValue returns the tag value converted to an appropriate Go type:
//   - word mode -> int64 (or []int64 for arrays)
//   - byte mode -> uint64 (or []uint64 for arrays)
//   - bit mode  -> bool (or []bool for arrays)
//
// Returns nil if the read failed.
func (v *TagValue) GoValue() interface{} {
	if v.Error != nil {
		return nil
	}

	switch v.Mode {
	case ModeWord:
		words, err := wordValues(v.Bytes, v.Count)
		if err != nil {
			return nil
		}
		if v.Count == 1 {
			return int64(words[0])
		}
		result := make([]int64, len(words))
		for i, w := range words {
			result[i] = int64(w)
		}
		return result

	case ModeByte:
		if len(v.Bytes) < v.Count {
			return nil
		}
		if v.Count == 1 {
			return uint64(v.Bytes[0])
		}
		result := make([]uint64, v.Count)
		for i := 0; i < v.Count; i++ {
			result[i] = uint64(v.Bytes[i])
		}
		return result

	case ModeBit:
		bits, err := bitValues(v.Bytes, v.Count)
		if err != nil {
			return nil
		}
		if v.Count == 1 {
			return bits[0]
		}
		return bits

	default:
		return nil
	}
}
