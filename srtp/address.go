package srtp

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Address represents a parsed SRTP memory address.
type Address struct {
	Region Region
	Mode   AccessMode
	Offset int // Zero-based element offset, passed to the wire unchanged
	Count  int // Number of elements (1 for scalar)
}

// Address strings: optional % prefix, region letters, offset, optional
// [count] for ranges, optional :B suffix for byte access on discrete
// regions. Two-letter regions must be matched before their one-letter
// prefixes.
var reAddress = regexp.MustCompile(`^%?(AI|AQ|SA|SB|SC|R|I|Q|T|M|S|G)(\d+)(?:\[(\d+)\])?(?::([B]))?$`)

// ParseAddress parses an SRTP address string and returns an Address.
// Supported formats:
//   - %R100       - Register 100 (word access)
//   - R100[10]    - Registers 100-109
//   - %AI5, %AQ2  - Analog input/output (word access)
//   - %I17        - Discrete input bit 17
//   - %I17[16]    - Discrete input bits 17-32
//   - %M22:B      - Internal memory byte 22
//   - %SA3, %G7   - System / global discrete bits
//
// Discrete regions default to bit access; the :B suffix selects byte
// access. Offsets are zero-based and passed through without adjustment.
func ParseAddress(addr string) (*Address, error) {
	addr = strings.ToUpper(strings.TrimSpace(addr))
	if addr == "" {
		return nil, fmt.Errorf("empty address")
	}

	m := reAddress.FindStringSubmatch(addr)
	if m == nil {
		return nil, fmt.Errorf("invalid SRTP address format: %s", addr)
	}

	region, ok := RegionByName(m[1])
	if !ok {
		return nil, fmt.Errorf("unknown memory region: %s", m[1])
	}

	offset, _ := strconv.Atoi(m[2])

	count := 1
	if m[3] != "" {
		count, _ = strconv.Atoi(m[3])
		if count < 1 {
			count = 1
		}
	}

	mode := defaultMode(region)
	if m[4] == "B" {
		if mode == ModeWord {
			return nil, fmt.Errorf("%s is word-addressed, byte suffix not valid", region)
		}
		mode = ModeByte
	}

	return &Address{
		Region: region,
		Mode:   mode,
		Offset: offset,
		Count:  count,
	}, nil
}

// defaultMode returns the natural access mode for a region: word for
// register and analog memory, bit for discrete memory.
func defaultMode(r Region) AccessMode {
	info := regionTable[r]
	if info.wordSel != 0 {
		return ModeWord
	}
	return ModeBit
}

// ValidateAddress checks if an address string is valid.
func ValidateAddress(addr string) error {
	_, err := ParseAddress(addr)
	return err
}

// wireParams translates a region and access mode into the segment selector
// and padded request length for the wire. Requests below the PLC's minimum
// transfer length are padded up; callers trim the result back to count.
func wireParams(region Region, mode AccessMode, count int, min Minimums) (selector byte, requestLen uint16, err error) {
	info, ok := regionTable[region]
	if !ok {
		return 0, 0, &UnsupportedModeError{Region: region, Mode: mode}
	}

	switch mode {
	case ModeWord:
		selector = info.wordSel
	case ModeByte:
		selector = info.byteSel
	case ModeBit:
		selector = info.bitSel
	}
	if selector == 0 {
		return 0, 0, &UnsupportedModeError{Region: region, Mode: mode}
	}

	requestLen = uint16(count)
	if floor := min.forMode(mode); count < floor {
		requestLen = uint16(floor)
	}

	return selector, requestLen, nil
}
