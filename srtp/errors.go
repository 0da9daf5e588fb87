package srtp

import (
	"errors"
	"fmt"
)

// PLC error codes carried in the first payload byte of an error response.
const (
	errInvalidService    = 0x01
	errInvalidSelector   = 0x02
	errInvalidAddress    = 0x03
	errInvalidLength     = 0x04
	errInsufficientPriv  = 0x05
	errPLCInRunMode      = 0x06
	errMemoryProtect     = 0x07
	errDeviceTimeout     = 0x08
)

// HandshakeError indicates the initialization exchange with the PLC failed.
// Exchange is 1 or 2 depending on which of the two handshake round trips
// failed.
type HandshakeError struct {
	Exchange int
	Marker   byte // First response byte when the marker check failed
	Err      error
}

func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("handshake exchange %d failed: %v", e.Exchange, e.Err)
	}
	return fmt.Sprintf("handshake exchange %d rejected: expected marker 0x01, got 0x%02X", e.Exchange, e.Marker)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// IllegalStateError indicates an operation was attempted while the session
// was not in a state that permits it.
type IllegalStateError struct {
	Op    string
	State string
}

func (e *IllegalStateError) Error() string {
	return fmt.Sprintf("%s: session is %s", e.Op, e.State)
}

// TruncatedResponseError indicates the PLC closed the connection or stalled
// before a complete header or payload arrived.
type TruncatedResponseError struct {
	Section  string // "header" or "payload"
	Expected int
	Got      int
	Err      error
}

func (e *TruncatedResponseError) Error() string {
	return fmt.Sprintf("truncated %s: expected %d bytes, got %d", e.Section, e.Expected, e.Got)
}

func (e *TruncatedResponseError) Unwrap() error { return e.Err }

// SequenceMismatchError indicates the response sequence number does not
// match the request that was sent. The session is torn down when this
// occurs since request/response pairing can no longer be trusted.
type SequenceMismatchError struct {
	Want byte
	Got  byte
}

func (e *SequenceMismatchError) Error() string {
	return fmt.Sprintf("sequence mismatch: sent %d, response echoed %d", e.Want, e.Got)
}

// MalformedHeaderError indicates a response header failed structural
// validation before any field interpretation.
type MalformedHeaderError struct {
	Reason string
}

func (e *MalformedHeaderError) Error() string {
	return fmt.Sprintf("malformed response header: %s", e.Reason)
}

// UnsupportedModeError indicates a region/access-mode combination with no
// segment selector (e.g., bit access on register memory).
type UnsupportedModeError struct {
	Region Region
	Mode   AccessMode
}

func (e *UnsupportedModeError) Error() string {
	return fmt.Sprintf("%s does not support %s access", e.Region, e.Mode)
}

// DeviceError is a rejection reported by the PLC itself in an error
// response (message type 0xD1).
type DeviceError struct {
	Code byte
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("PLC rejected request: %s (code 0x%02X)", deviceErrorMessage(e.Code), e.Code)
}

// deviceErrorMessage returns a human-readable message for a PLC error code.
func deviceErrorMessage(code byte) string {
	switch code {
	case errInvalidService:
		return "invalid service request code"
	case errInvalidSelector:
		return "invalid segment selector"
	case errInvalidAddress:
		return "invalid memory address"
	case errInvalidLength:
		return "invalid data length"
	case errInsufficientPriv:
		return "insufficient privilege level"
	case errPLCInRunMode:
		return "PLC in run mode"
	case errMemoryProtect:
		return "memory protection active"
	case errDeviceTimeout:
		return "device timeout"
	default:
		return "unknown error"
	}
}

// IsSessionError reports whether an error means the session itself is gone
// rather than a single request being rejected. DeviceError is deliberately
// excluded: the PLC refusing one read does not invalidate the connection.
func IsSessionError(err error) bool {
	var (
		transport *TransportError
		truncated *TruncatedResponseError
		sequence  *SequenceMismatchError
		malformed *MalformedHeaderError
		illegal   *IllegalStateError
		handshake *HandshakeError
	)
	return errors.As(err, &transport) ||
		errors.As(err, &truncated) ||
		errors.As(err, &sequence) ||
		errors.As(err, &malformed) ||
		errors.As(err, &illegal) ||
		errors.As(err, &handshake)
}

// TransportError wraps a socket-level failure during send or receive.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
