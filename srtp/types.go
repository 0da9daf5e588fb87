package srtp

import "fmt"

const (
	defaultSRTPPort = 18245
	headerSize      = 56

	// Packet types (byte 0)
	packetRequest  = 0x02
	packetResponse = 0x03

	// Message types (byte 31)
	msgRequest     = 0xC0
	msgAck         = 0xD4 // Acknowledge, no data payload
	msgAckWithData = 0x94 // Acknowledge with data payload
	msgError       = 0xD1

	// Service request codes (byte 42)
	svcShortStatus    = 0x00
	svcProgramNames   = 0x03
	svcReadSysMemory  = 0x04
	svcReturnDateTime = 0x25
	svcFaultTable     = 0x38
	svcControllerInfo = 0x43

	// Segment selectors (byte 43) - word access
	selRegistersWord  = 0x08 // %R
	selAnalogInWord   = 0x0A // %AI
	selAnalogOutWord  = 0x0C // %AQ

	// Segment selectors - byte access
	selInputsByte    = 0x10 // %I
	selOutputsByte   = 0x12 // %Q
	selTempsByte     = 0x14 // %T
	selInternalsByte = 0x16 // %M
	selSystemAByte   = 0x18 // %SA
	selSystemBByte   = 0x1A // %SB
	selSystemCByte   = 0x1C // %SC
	selSystemSByte   = 0x1E // %S
	selGlobalByte    = 0x38 // %G

	// Segment selectors - bit access
	selInputsBit    = 0x46 // %I
	selOutputsBit   = 0x48 // %Q
	selTempsBit     = 0x4A // %T
	selInternalsBit = 0x4C // %M
	selSystemABit   = 0x4E // %SA
	selSystemBBit   = 0x50 // %SB
	selSystemCBit   = 0x52 // %SC
	selSystemSBit   = 0x54 // %S
	selGlobalBit    = 0x56 // %G
)

// Region identifies a PLC memory region.
type Region int

const (
	RegionR  Region = iota // %R - Register memory (16-bit signed words)
	RegionAI               // %AI - Analog inputs
	RegionAQ               // %AQ - Analog outputs
	RegionI                // %I - Discrete inputs
	RegionQ                // %Q - Discrete outputs
	RegionT                // %T - Discrete temporaries (volatile)
	RegionM                // %M - Discrete internals
	RegionSA               // %SA - System A discrete
	RegionSB               // %SB - System B discrete
	RegionSC               // %SC - System C discrete
	RegionS                // %S - System S discrete
	RegionG                // %G - Genius global data
)

// String returns the region name with the % prefix (e.g., "%R", "%AI").
func (r Region) String() string {
	if info, ok := regionTable[r]; ok {
		return info.name
	}
	return "?"
}

// AccessMode selects how a memory region is addressed on the wire.
type AccessMode int

const (
	ModeWord AccessMode = iota // 16-bit word access
	ModeByte                   // Byte access (discrete regions)
	ModeBit                    // Individual bit access (discrete regions)
)

// String returns the access mode name.
func (m AccessMode) String() string {
	switch m {
	case ModeWord:
		return "word"
	case ModeByte:
		return "byte"
	case ModeBit:
		return "bit"
	default:
		return "?"
	}
}

// regionInfo holds the per-mode segment selectors for a memory region.
// A zero selector means the region does not support that access mode.
type regionInfo struct {
	name    string
	wordSel byte
	byteSel byte
	bitSel  byte
}

// regionTable is built once and never mutated after init.
var regionTable = map[Region]regionInfo{
	RegionR:  {name: "%R", wordSel: selRegistersWord},
	RegionAI: {name: "%AI", wordSel: selAnalogInWord},
	RegionAQ: {name: "%AQ", wordSel: selAnalogOutWord},
	RegionI:  {name: "%I", byteSel: selInputsByte, bitSel: selInputsBit},
	RegionQ:  {name: "%Q", byteSel: selOutputsByte, bitSel: selOutputsBit},
	RegionT:  {name: "%T", byteSel: selTempsByte, bitSel: selTempsBit},
	RegionM:  {name: "%M", byteSel: selInternalsByte, bitSel: selInternalsBit},
	RegionSA: {name: "%SA", byteSel: selSystemAByte, bitSel: selSystemABit},
	RegionSB: {name: "%SB", byteSel: selSystemBByte, bitSel: selSystemBBit},
	RegionSC: {name: "%SC", byteSel: selSystemCByte, bitSel: selSystemCBit},
	RegionS:  {name: "%S", byteSel: selSystemSByte, bitSel: selSystemSBit},
	RegionG:  {name: "%G", byteSel: selGlobalByte, bitSel: selGlobalBit},
}

// WordRegions returns the regions that support word access.
func WordRegions() []Region {
	return []Region{RegionR, RegionAI, RegionAQ}
}

// DiscreteRegions returns the regions that support byte and bit access.
func DiscreteRegions() []Region {
	return []Region{RegionI, RegionQ, RegionT, RegionM, RegionSA, RegionSB, RegionSC, RegionS, RegionG}
}

// RegionByName looks up a region by its name with or without the % prefix.
func RegionByName(name string) (Region, bool) {
	for r, info := range regionTable {
		if info.name == name || info.name[1:] == name {
			return r, true
		}
	}
	return 0, false
}

// Minimums holds the smallest transfer length the PLC accepts per access
// mode. Requests below these are padded up and the result trimmed back to
// the caller's count. The defaults were verified against an RX3i CPU;
// other firmware may accept smaller transfers.
type Minimums struct {
	Word int // Minimum word count for word-mode reads
	Byte int // Minimum byte count for byte-mode reads
	Bit  int // Minimum bit count for bit-mode reads
}

// DefaultMinimums returns the RX3i-verified minimum transfer lengths.
func DefaultMinimums() Minimums {
	return Minimums{Word: 4, Byte: 8, Bit: 64}
}

// forMode returns the minimum transfer length for the given access mode.
func (m Minimums) forMode(mode AccessMode) int {
	switch mode {
	case ModeWord:
		return m.Word
	case ModeByte:
		return m.Byte
	case ModeBit:
		return m.Bit
	default:
		return 1
	}
}

// Largest element count a single read request may carry per access mode.
// The wire length field is 16 bits, but the PLC caps a response payload
// well below that; longer reads must be chunked by the caller.
const (
	MaxWords = 125
	MaxBytes = 250
	MaxBits  = 2000
)

// maxForMode returns the largest element count for the given access mode.
func maxForMode(mode AccessMode) int {
	switch mode {
	case ModeWord:
		return MaxWords
	case ModeByte:
		return MaxBytes
	case ModeBit:
		return MaxBits
	default:
		return 1
	}
}

// serviceName returns a readable name for a service request code.
func serviceName(code byte) string {
	switch code {
	case svcShortStatus:
		return "short status"
	case svcProgramNames:
		return "program names"
	case svcReadSysMemory:
		return "read system memory"
	case svcReturnDateTime:
		return "return datetime"
	case svcFaultTable:
		return "fault table"
	case svcControllerInfo:
		return "controller info"
	default:
		return fmt.Sprintf("service 0x%02X", code)
	}
}
