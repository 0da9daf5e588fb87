package srtp

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"srtplink/logging"
)

const (
	handshakeMarker    = 0x01
	handshakeExchanges = 2
)

// transport manages the TCP session to the PLC, including the two-packet
// initialization handshake that must complete before any service request.
type transport struct {
	mu          sync.Mutex
	conn        net.Conn
	address     string
	timeout     time.Duration
	connected   bool
	initialized bool
}

// newTransport creates a transport with the default timeout.
func newTransport() *transport {
	return &transport{
		timeout: 5 * time.Second,
	}
}

// state returns a name for the current session state. Must be called with
// t.mu held.
func (t *transport) state() string {
	switch {
	case t.initialized:
		return "initialized"
	case t.connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// connect dials the PLC and performs the initialization handshake.
// The session moves Disconnected -> Connected -> Initialized; any failure
// along the way closes the socket and leaves it Disconnected.
func (t *transport) connect(address string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Add default port if not specified
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		address = fmt.Sprintf("%s:%d", address, defaultSRTPPort)
	} else if port == "" {
		address = fmt.Sprintf("%s:%d", host, defaultSRTPPort)
	}
	t.address = address

	logging.DebugConnect("srtp", address)

	conn, err := net.DialTimeout("tcp", address, t.timeout)
	if err != nil {
		logging.DebugConnectError("srtp", address, err)
		return &TransportError{Op: "connect", Err: err}
	}
	t.conn = conn
	t.connected = true

	// Both handshake exchanges must succeed before the session is usable.
	for i := 1; i <= handshakeExchanges; i++ {
		if err := t.handshake(i); err != nil {
			t.conn.Close()
			t.conn = nil
			t.connected = false
			logging.DebugConnectError("srtp", address, err)
			return err
		}
	}
	t.initialized = true

	logging.DebugConnectSuccess("srtp", address, "handshake complete")
	return nil
}

// handshake performs one initialization exchange: 56 zero bytes out, a
// 56-byte reply back whose first byte must be the accepted marker.
// Must be called with t.mu held.
func (t *transport) handshake(exchange int) error {
	if err := t.conn.SetDeadline(time.Now().Add(t.timeout)); err != nil {
		return &HandshakeError{Exchange: exchange, Err: err}
	}

	init := make([]byte, headerSize)
	logging.DebugTX("srtp", init)
	if _, err := t.conn.Write(init); err != nil {
		return &HandshakeError{Exchange: exchange, Err: err}
	}

	reply := make([]byte, headerSize)
	if _, err := io.ReadFull(t.conn, reply); err != nil {
		return &HandshakeError{Exchange: exchange, Err: err}
	}
	logging.DebugRX("srtp", reply)

	if reply[0] != handshakeMarker {
		return &HandshakeError{Exchange: exchange, Marker: reply[0]}
	}

	return nil
}

// close shuts down the session.
func (t *transport) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.connected = false
	t.initialized = false
	if t.conn != nil {
		err := t.conn.Close()
		t.conn = nil
		return err
	}
	return nil
}

// isInitialized reports whether the session completed the handshake and is
// ready for service requests.
func (t *transport) isInitialized() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected && t.initialized
}

// setDisconnected marks the session dead without touching the socket.
// Used when a response-level failure makes the session unusable.
func (t *transport) setDisconnected() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	t.initialized = false
}

// sendReceive writes a request packet and reads back the 56-byte response
// header plus any payload it announces. Exactly one request is in flight at
// a time; the mutex serializes callers.
func (t *transport) sendReceive(request []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected || !t.initialized || t.conn == nil {
		return nil, &IllegalStateError{Op: "sendReceive", State: t.state()}
	}

	if err := t.conn.SetDeadline(time.Now().Add(t.timeout)); err != nil {
		t.connected = false
		t.initialized = false
		return nil, &TransportError{Op: "set deadline", Err: err}
	}

	logging.DebugTX("srtp", request)
	if _, err := t.conn.Write(request); err != nil {
		t.connected = false
		t.initialized = false
		return nil, &TransportError{Op: "write", Err: err}
	}

	// The PLC answers with a fixed-size header. Payload length is announced
	// in byte 4 and arrives as a separate read.
	header := make([]byte, headerSize)
	n, err := io.ReadFull(t.conn, header)
	if err != nil {
		t.connected = false
		t.initialized = false
		return nil, &TruncatedResponseError{Section: "header", Expected: headerSize, Got: n, Err: err}
	}
	logging.DebugRX("srtp", header)

	payloadLen := int(header[4])
	if payloadLen == 0 {
		return header, nil
	}

	payload := make([]byte, payloadLen)
	n, err = io.ReadFull(t.conn, payload)
	if err != nil {
		t.connected = false
		t.initialized = false
		return nil, &TruncatedResponseError{Section: "payload", Expected: payloadLen, Got: n, Err: err}
	}
	logging.DebugRX("srtp", payload)

	return append(header, payload...), nil
}
