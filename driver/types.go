package driver

// TagValue is a unified wrapper that holds tag data read from a PLC.
// It stores the pre-computed Go value alongside the raw bytes so that
// publishers can choose either representation.
type TagValue struct {
	Name   string      // Tag name or address
	Family string      // PLC family ("srtp")
	Value  interface{} // Pre-computed Go value
	Bytes  []byte      // Original raw bytes (native byte order)
	Count  int         // Number of elements (1 for scalar, >1 for array)
	Error  error       // Per-tag error (nil if successful)
}

// TagRequest represents a read request for one tag.
type TagRequest struct {
	Name string // Tag name or address
}

// DeviceInfo contains information about the connected PLC.
type DeviceInfo struct {
	Family      string // PLC family
	Vendor      string // Vendor name
	Model       string // Device model
	Description string // Additional description
}
