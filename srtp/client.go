package srtp

import (
	"fmt"
	"sync"
	"time"
)

// Client is a high-level read-only driver for GE PLCs speaking SRTP.
// Write services exist in the protocol but are deliberately not
// implemented: the driver is built for monitoring and forensic
// acquisition, where modifying controller state is never acceptable.
type Client struct {
	t       *transport
	address string
	slot    int
	timeout time.Duration
	min     Minimums
	seq     byte
	mu      sync.Mutex
}

// options holds configuration options for Connect.
type options struct {
	port    int
	slot    int
	timeout time.Duration
	min     Minimums
}

// Option is a functional option for Connect.
type Option func(*options)

// WithPort configures the TCP port. Default is 18245.
func WithPort(port int) Option {
	return func(o *options) {
		o.port = port
	}
}

// WithSlot configures the CPU slot number for mailbox routing.
// Default is slot 1. Valid range is 0-15 since the slot is encoded in the
// high nibble of the destination byte.
func WithSlot(slot int) Option {
	return func(o *options) {
		o.slot = slot
	}
}

// WithTimeout configures the per-operation socket timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithMinimums overrides the minimum transfer lengths. The defaults were
// verified against RX3i hardware; other CPU models may accept shorter
// transfers.
func WithMinimums(m Minimums) Option {
	return func(o *options) {
		o.min = m
	}
}

// Connect establishes a session to a GE PLC at the given host.
// The host may include a port; otherwise the default SRTP port is used.
func Connect(host string, opts ...Option) (*Client, error) {
	cfg := &options{
		port:    defaultSRTPPort,
		slot:    1,
		timeout: 5 * time.Second,
		min:     DefaultMinimums(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.slot < 0 || cfg.slot > 15 {
		return nil, fmt.Errorf("Connect: slot must be 0-15, got %d", cfg.slot)
	}

	address := host
	if !hasPort(host) {
		address = fmt.Sprintf("%s:%d", host, cfg.port)
	}

	t := newTransport()
	t.timeout = cfg.timeout

	if err := t.connect(address); err != nil {
		return nil, err
	}

	return &Client{
		t:       t,
		address: address,
		slot:    cfg.slot,
		timeout: cfg.timeout,
		min:     cfg.min,
	}, nil
}

// hasPort reports whether host already carries an explicit port.
func hasPort(host string) bool {
	for i := len(host) - 1; i >= 0; i-- {
		switch host[i] {
		case ':':
			return i > 0
		case ']':
			return false
		}
	}
	return false
}

// Close releases the session.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.t.close()
}

// IsConnected returns true if the session is initialized and usable.
func (c *Client) IsConnected() bool {
	if c == nil {
		return false
	}
	return c.t.isInitialized()
}

// SetDisconnected marks the session as dead. Called when a read error
// indicates the connection is lost.
func (c *Client) SetDisconnected() {
	if c == nil {
		return
	}
	c.t.setDisconnected()
}

// Reconnect attempts to re-establish the session.
// Returns nil if already connected. There is no automatic retry: the
// caller decides when reconnection is appropriate.
func (c *Client) Reconnect() error {
	if c == nil {
		return fmt.Errorf("nil client")
	}
	if c.t.isInitialized() {
		return nil
	}

	c.t.close()

	t := newTransport()
	t.timeout = c.timeout
	if err := t.connect(c.address); err != nil {
		return err
	}

	c.mu.Lock()
	c.t = t
	c.seq = 0
	c.mu.Unlock()

	return nil
}

// ConnectionMode returns a human-readable string describing the session.
func (c *Client) ConnectionMode() string {
	if c == nil {
		return "Not connected"
	}
	if c.t.isInitialized() {
		return fmt.Sprintf("SRTP Connected (Slot %d)", c.slot)
	}
	return "Disconnected"
}

// nextSeq returns the sequence number for the next request.
// Byte arithmetic wraps at 256 on its own.
func (c *Client) nextSeq() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq := c.seq
	c.seq++
	return seq
}

// sendService sends one service request and returns the parsed header and
// payload. The echoed sequence number must match what was sent; a mismatch
// tears down the session since pairing can no longer be trusted.
func (c *Client) sendService(service, selector byte, offset, length uint16) (*Header, []byte, error) {
	seq := c.nextSeq()
	request := buildRequest(seq, service, selector, offset, length, c.slot)

	response, err := c.t.sendReceive(request)
	if err != nil {
		return nil, nil, err
	}

	header, err := parseHeader(response)
	if err != nil {
		return nil, nil, err
	}
	payload := response[headerSize:]

	if header.Seq != seq {
		c.t.setDisconnected()
		return nil, nil, &SequenceMismatchError{Want: seq, Got: header.Seq}
	}

	if header.MessageType == msgError {
		var code byte
		if len(payload) > 0 {
			code = payload[0]
		}
		return nil, nil, &DeviceError{Code: code}
	}

	return header, payload, nil
}

// readMemory issues a system memory read for a region and access mode.
// The request is padded to the PLC's minimum transfer length; the returned
// payload is raw and untrimmed.
func (c *Client) readMemory(region Region, mode AccessMode, offset, count int) ([]byte, error) {
	if count < 1 {
		return nil, fmt.Errorf("read %s: count must be at least 1, got %d", region, count)
	}
	if max := maxForMode(mode); count > max {
		return nil, fmt.Errorf("read %s: count must be at most %d for %s access, got %d", region, max, mode, count)
	}
	if offset < 0 || offset > 0xFFFF {
		return nil, fmt.Errorf("read %s: offset must be 0-65535, got %d", region, offset)
	}

	selector, requestLen, err := wireParams(region, mode, count, c.min)
	if err != nil {
		return nil, err
	}

	_, payload, err := c.sendService(svcReadSysMemory, selector, uint16(offset), requestLen)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// ReadRegisters reads count registers (%R) starting at offset.
// Registers are 16-bit signed words.
func (c *Client) ReadRegisters(offset, count int) ([]int16, error) {
	payload, err := c.readMemory(RegionR, ModeWord, offset, count)
	if err != nil {
		return nil, err
	}
	return wordValues(payload, count)
}

// ReadAnalogInputs reads count analog input words (%AI) starting at offset.
func (c *Client) ReadAnalogInputs(offset, count int) ([]int16, error) {
	payload, err := c.readMemory(RegionAI, ModeWord, offset, count)
	if err != nil {
		return nil, err
	}
	return wordValues(payload, count)
}

// ReadAnalogOutputs reads count analog output words (%AQ) starting at offset.
func (c *Client) ReadAnalogOutputs(offset, count int) ([]int16, error) {
	payload, err := c.readMemory(RegionAQ, ModeWord, offset, count)
	if err != nil {
		return nil, err
	}
	return wordValues(payload, count)
}

// ReadBits reads count bits from a discrete region starting at bit offset.
func (c *Client) ReadBits(region Region, offset, count int) ([]bool, error) {
	payload, err := c.readMemory(region, ModeBit, offset, count)
	if err != nil {
		return nil, err
	}
	return bitValues(payload, count)
}

// ReadBytes reads count bytes from a discrete region starting at byte offset.
func (c *Client) ReadBytes(region Region, offset, count int) ([]byte, error) {
	payload, err := c.readMemory(region, ModeByte, offset, count)
	if err != nil {
		return nil, err
	}
	return byteValues(payload, count)
}

// ReadDiscreteInputs reads discrete input bits (%I).
func (c *Client) ReadDiscreteInputs(offset, count int) ([]bool, error) {
	return c.ReadBits(RegionI, offset, count)
}

// ReadDiscreteOutputs reads discrete output bits (%Q).
func (c *Client) ReadDiscreteOutputs(offset, count int) ([]bool, error) {
	return c.ReadBits(RegionQ, offset, count)
}

// ReadInternals reads internal coil bits (%M).
func (c *Client) ReadInternals(offset, count int) ([]bool, error) {
	return c.ReadBits(RegionM, offset, count)
}

// ReadTemporaries reads temporary discrete bits (%T).
func (c *Client) ReadTemporaries(offset, count int) ([]bool, error) {
	return c.ReadBits(RegionT, offset, count)
}

// ReadGlobals reads Genius global data bits (%G).
func (c *Client) ReadGlobals(offset, count int) ([]bool, error) {
	return c.ReadBits(RegionG, offset, count)
}

// Read reads one or more tags by their address strings.
// Each result carries its own error status; the returned error covers
// session-level failures only.
func (c *Client) Read(addresses ...string) ([]*TagValue, error) {
	if c == nil {
		return nil, fmt.Errorf("Read: nil client")
	}

	results := make([]*TagValue, 0, len(addresses))
	for _, name := range addresses {
		addr, err := ParseAddress(name)
		if err != nil {
			results = append(results, &TagValue{Name: name, Error: err})
			continue
		}

		payload, err := c.readMemory(addr.Region, addr.Mode, addr.Offset, addr.Count)
		if err != nil {
			// Session-level failures stop the batch; per-tag failures
			// are recorded and the batch continues.
			if IsSessionError(err) {
				return results, err
			}
			results = append(results, &TagValue{
				Name:   name,
				Region: addr.Region,
				Mode:   addr.Mode,
				Count:  addr.Count,
				Error:  err,
			})
			continue
		}

		results = append(results, &TagValue{
			Name:   name,
			Region: addr.Region,
			Mode:   addr.Mode,
			Bytes:  trimPayload(payload, addr.Mode, addr.Count),
			Count:  addr.Count,
		})
	}

	return results, nil
}

// trimPayload cuts a padded payload back to the requested element count.
func trimPayload(payload []byte, mode AccessMode, count int) []byte {
	var want int
	switch mode {
	case ModeWord:
		want = count * 2
	case ModeByte:
		want = count
	case ModeBit:
		want = (count + 7) / 8
	}
	if want > 0 && len(payload) > want {
		return payload[:want]
	}
	return payload
}

// Diagnostic holds the result of a PLC diagnostic service request.
// Payload interpretation varies by controller model, so the raw bytes are
// returned alongside the piggyback status from the response header.
type Diagnostic struct {
	Service     byte    // Service request code that produced this result
	MessageType byte    // 0x94 with payload, 0xD4 without
	Payload     []byte  // Raw response payload (may be empty)
	Status      [6]byte // Piggyback status, header bytes 50-55
}

// diagnostic issues a service request with no memory addressing.
func (c *Client) diagnostic(service byte) (*Diagnostic, error) {
	header, payload, err := c.sendService(service, 0, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", serviceName(service), err)
	}
	return &Diagnostic{
		Service:     service,
		MessageType: header.MessageType,
		Payload:     payload,
		Status:      header.Status,
	}, nil
}

// Status requests the PLC short status.
func (c *Client) Status() (*Diagnostic, error) {
	return c.diagnostic(svcShortStatus)
}

// ControllerInfo requests the controller type and ID.
func (c *Client) ControllerInfo() (*Diagnostic, error) {
	return c.diagnostic(svcControllerInfo)
}

// ProgramNames requests the control program names.
func (c *Client) ProgramNames() (*Diagnostic, error) {
	return c.diagnostic(svcProgramNames)
}

// DateTime requests the PLC's current date and time.
func (c *Client) DateTime() (*Diagnostic, error) {
	return c.diagnostic(svcReturnDateTime)
}

// FaultTable requests the PLC fault table.
func (c *Client) FaultTable() (*Diagnostic, error) {
	return c.diagnostic(svcFaultTable)
}
