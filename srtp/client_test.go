package srtp

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

// fakePLC is an in-process TCP server that speaks just enough SRTP to
// exercise the client: it answers the handshake exchanges and then hands
// each 56-byte request to a test-supplied handler.
type fakePLC struct {
	handshakes int  // Number of handshake exchanges to answer (normally 2)
	badMarker  bool // Reply to the first exchange with a wrong marker
	handle     func(req []byte) (chunks [][]byte, closeConn bool)
}

// start listens on a loopback port and serves a single connection.
func (f *fakePLC) start(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		for i := 0; i < f.handshakes; i++ {
			buf := make([]byte, headerSize)
			if _, err := io.ReadFull(conn, buf); err != nil {
				return
			}
			reply := make([]byte, headerSize)
			reply[0] = handshakeMarker
			if f.badMarker && i == 0 {
				reply[0] = 0xFF
			}
			if _, err := conn.Write(reply); err != nil {
				return
			}
		}

		if f.handle == nil {
			return
		}
		for {
			req := make([]byte, headerSize)
			if _, err := io.ReadFull(conn, req); err != nil {
				return
			}
			chunks, closeConn := f.handle(req)
			for _, chunk := range chunks {
				if _, err := conn.Write(chunk); err != nil {
					return
				}
			}
			if closeConn {
				return
			}
		}
	}()

	return ln.Addr().String()
}

// makeResponse builds a response header echoing the request's sequence
// number, with the payload length announced in byte 4.
func makeResponse(req []byte, msgType byte, payload []byte) []byte {
	header := make([]byte, headerSize)
	header[0] = packetResponse
	header[2] = req[2]
	header[4] = byte(len(payload))
	header[30] = req[30]
	header[31] = msgType
	header[42] = req[42]
	header[43] = req[43]
	return header
}

func TestClientReadRegisters(t *testing.T) {
	var gotReq []byte
	plc := &fakePLC{
		handshakes: 2,
		handle: func(req []byte) ([][]byte, bool) {
			gotReq = append([]byte(nil), req...)
			// Padded 4-word response: 42, 0, 0, 0
			payload := []byte{0x2A, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
			return [][]byte{makeResponse(req, msgAckWithData, payload), payload}, false
		},
	}
	addr := plc.start(t)

	client, err := Connect(addr, WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	values, err := client.ReadRegisters(100, 1)
	if err != nil {
		t.Fatalf("ReadRegisters: %v", err)
	}
	if len(values) != 1 {
		t.Fatalf("got %d values, want 1 after trim", len(values))
	}
	if values[0] != 42 {
		t.Errorf("value = %d, want 42", values[0])
	}

	// Request wire checks: service, selector, offset, padded length.
	if gotReq[42] != svcReadSysMemory {
		t.Errorf("service = 0x%02X, want 0x%02X", gotReq[42], svcReadSysMemory)
	}
	if gotReq[43] != selRegistersWord {
		t.Errorf("selector = 0x%02X, want 0x%02X", gotReq[43], selRegistersWord)
	}
	if gotReq[44] != 100 || gotReq[45] != 0 {
		t.Errorf("offset bytes = %02X %02X, want 64 00", gotReq[44], gotReq[45])
	}
	if gotReq[46] != 4 || gotReq[47] != 0 {
		t.Errorf("length bytes = %02X %02X, want 04 00 (padded to minimum)", gotReq[46], gotReq[47])
	}
}

func TestClientReadBits(t *testing.T) {
	plc := &fakePLC{
		handshakes: 2,
		handle: func(req []byte) ([][]byte, bool) {
			if req[43] != selInternalsBit {
				t.Errorf("selector = 0x%02X, want 0x%02X", req[43], selInternalsBit)
			}
			if req[46] != 64 || req[47] != 0 {
				t.Errorf("length = %02X %02X, want padded to 64 bits", req[46], req[47])
			}
			// 8 bytes back for the 64-bit minimum; first byte 0xA5
			payload := make([]byte, 8)
			payload[0] = 0xA5
			return [][]byte{makeResponse(req, msgAckWithData, payload), payload}, false
		},
	}
	addr := plc.start(t)

	client, err := Connect(addr, WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	bits, err := client.ReadInternals(22, 4)
	if err != nil {
		t.Fatalf("ReadInternals: %v", err)
	}
	want := []bool{true, false, true, false}
	for i, b := range want {
		if bits[i] != b {
			t.Errorf("bit[%d] = %v, want %v", i, bits[i], b)
		}
	}
}

func TestClientSlotRouting(t *testing.T) {
	plc := &fakePLC{
		handshakes: 2,
		handle: func(req []byte) ([][]byte, bool) {
			if req[36] != 0x20 {
				t.Errorf("destination byte = 0x%02X, want 0x20 for slot 2", req[36])
			}
			payload := make([]byte, 8)
			return [][]byte{makeResponse(req, msgAckWithData, payload), payload}, false
		},
	}
	addr := plc.start(t)

	client, err := Connect(addr, WithSlot(2), WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	if _, err := client.ReadRegisters(0, 1); err != nil {
		t.Fatalf("ReadRegisters: %v", err)
	}
}

func TestClientInvalidSlot(t *testing.T) {
	if _, err := Connect("127.0.0.1:1", WithSlot(16)); err == nil {
		t.Error("expected error for slot 16, got nil")
	}
	if _, err := Connect("127.0.0.1:1", WithSlot(-1)); err == nil {
		t.Error("expected error for negative slot, got nil")
	}
}

func TestClientHandshakeRejected(t *testing.T) {
	plc := &fakePLC{handshakes: 2, badMarker: true}
	addr := plc.start(t)

	_, err := Connect(addr, WithTimeout(2*time.Second))
	if err == nil {
		t.Fatal("expected handshake error, got nil")
	}
	var hs *HandshakeError
	if !errors.As(err, &hs) {
		t.Fatalf("error type = %T, want *HandshakeError", err)
	}
	if hs.Exchange != 1 {
		t.Errorf("Exchange = %d, want 1", hs.Exchange)
	}
	if hs.Marker != 0xFF {
		t.Errorf("Marker = 0x%02X, want 0xFF", hs.Marker)
	}
}

func TestClientSecondHandshakeRequired(t *testing.T) {
	// Server that only answers one exchange and then closes. Both
	// exchanges must complete before the session is usable.
	plc := &fakePLC{handshakes: 1}
	addr := plc.start(t)

	_, err := Connect(addr, WithTimeout(2*time.Second))
	if err == nil {
		t.Fatal("expected handshake error, got nil")
	}
	var hs *HandshakeError
	if !errors.As(err, &hs) {
		t.Fatalf("error type = %T, want *HandshakeError", err)
	}
	if hs.Exchange != 2 {
		t.Errorf("Exchange = %d, want 2", hs.Exchange)
	}
}

func TestClientSequenceMismatch(t *testing.T) {
	plc := &fakePLC{
		handshakes: 2,
		handle: func(req []byte) ([][]byte, bool) {
			resp := makeResponse(req, msgAck, nil)
			resp[2] = req[2] + 1
			resp[30] = req[30] + 1
			return [][]byte{resp}, false
		},
	}
	addr := plc.start(t)

	client, err := Connect(addr, WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	_, err = client.ReadRegisters(0, 1)
	var mismatch *SequenceMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("error type = %T, want *SequenceMismatchError", err)
	}

	// The session is fatal after a mismatch.
	if client.IsConnected() {
		t.Error("client still connected after sequence mismatch")
	}
	_, err = client.ReadRegisters(0, 1)
	var illegal *IllegalStateError
	if !errors.As(err, &illegal) {
		t.Errorf("error type after teardown = %T, want *IllegalStateError", err)
	}
}

func TestClientDeviceError(t *testing.T) {
	plc := &fakePLC{
		handshakes: 2,
		handle: func(req []byte) ([][]byte, bool) {
			payload := []byte{errInvalidAddress}
			return [][]byte{makeResponse(req, msgError, payload), payload}, false
		},
	}
	addr := plc.start(t)

	client, err := Connect(addr, WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	_, err = client.ReadRegisters(60000, 1)
	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("error type = %T, want *DeviceError", err)
	}
	if devErr.Code != errInvalidAddress {
		t.Errorf("Code = 0x%02X, want 0x%02X", devErr.Code, errInvalidAddress)
	}

	// A device rejection is not session-fatal.
	if !client.IsConnected() {
		t.Error("client disconnected after device rejection")
	}
}

func TestClientTruncatedPayload(t *testing.T) {
	plc := &fakePLC{
		handshakes: 2,
		handle: func(req []byte) ([][]byte, bool) {
			// Announce 8 payload bytes but deliver only 4, then close.
			header := makeResponse(req, msgAckWithData, make([]byte, 8))
			return [][]byte{header, {0x01, 0x02, 0x03, 0x04}}, true
		},
	}
	addr := plc.start(t)

	client, err := Connect(addr, WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	_, err = client.ReadRegisters(0, 1)
	var trunc *TruncatedResponseError
	if !errors.As(err, &trunc) {
		t.Fatalf("error type = %T, want *TruncatedResponseError", err)
	}
	if trunc.Expected != 8 {
		t.Errorf("Expected = %d, want 8", trunc.Expected)
	}
	if client.IsConnected() {
		t.Error("client still connected after truncated response")
	}
}

func TestClientDiagnostics(t *testing.T) {
	plc := &fakePLC{
		handshakes: 2,
		handle: func(req []byte) ([][]byte, bool) {
			switch req[42] {
			case svcShortStatus:
				// Ack without payload; piggyback status in bytes 50-55.
				resp := makeResponse(req, msgAck, nil)
				resp[50] = 0x12
				resp[55] = 0x34
				return [][]byte{resp}, false
			case svcControllerInfo:
				payload := []byte("RX3i-CPE305")
				return [][]byte{makeResponse(req, msgAckWithData, payload), payload}, false
			default:
				return [][]byte{makeResponse(req, msgAck, nil)}, false
			}
		},
	}
	addr := plc.start(t)

	client, err := Connect(addr, WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.MessageType != msgAck {
		t.Errorf("MessageType = 0x%02X, want 0x%02X", status.MessageType, msgAck)
	}
	if len(status.Payload) != 0 {
		t.Errorf("Payload length = %d, want 0", len(status.Payload))
	}
	if status.Status[0] != 0x12 || status.Status[5] != 0x34 {
		t.Errorf("piggyback status = % X, want 12 at [0] and 34 at [5]", status.Status)
	}

	info, err := client.ControllerInfo()
	if err != nil {
		t.Fatalf("ControllerInfo: %v", err)
	}
	if string(info.Payload) != "RX3i-CPE305" {
		t.Errorf("Payload = %q, want %q", info.Payload, "RX3i-CPE305")
	}
}

func TestClientSequenceWraps(t *testing.T) {
	var lastSeq byte
	plc := &fakePLC{
		handshakes: 2,
		handle: func(req []byte) ([][]byte, bool) {
			lastSeq = req[2]
			payload := make([]byte, 8)
			return [][]byte{makeResponse(req, msgAckWithData, payload), payload}, false
		},
	}
	addr := plc.start(t)

	client, err := Connect(addr, WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	for i := 0; i < 258; i++ {
		if _, err := client.ReadRegisters(0, 1); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
	}
	// 258 requests starting from 0: last sequence is 257 % 256 = 1.
	if lastSeq != 1 {
		t.Errorf("last sequence = %d, want 1 after wrap", lastSeq)
	}
}

func TestClientReadAddresses(t *testing.T) {
	plc := &fakePLC{
		handshakes: 2,
		handle: func(req []byte) ([][]byte, bool) {
			if req[43] == selRegistersWord {
				payload := []byte{0x07, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
				return [][]byte{makeResponse(req, msgAckWithData, payload), payload}, false
			}
			// Reject everything else.
			payload := []byte{errInvalidSelector}
			return [][]byte{makeResponse(req, msgError, payload), payload}, false
		},
	}
	addr := plc.start(t)

	client, err := Connect(addr, WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	results, err := client.Read("%R100", "not-an-address", "%I5")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	if results[0].Error != nil {
		t.Errorf("%%R100 error: %v", results[0].Error)
	}
	if v, _ := results[0].Int(); v != 7 {
		t.Errorf("%%R100 = %d, want 7", v)
	}
	if len(results[0].Bytes) != 2 {
		t.Errorf("%%R100 bytes = %d, want 2 after trim", len(results[0].Bytes))
	}

	if results[1].Error == nil {
		t.Error("expected parse error for bad address")
	}

	var devErr *DeviceError
	if !errors.As(results[2].Error, &devErr) {
		t.Errorf("%%I5 error type = %T, want *DeviceError", results[2].Error)
	}
}

func TestClientReadValidation(t *testing.T) {
	plc := &fakePLC{handshakes: 2}
	addr := plc.start(t)

	client, err := Connect(addr, WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	if _, err := client.ReadRegisters(0, 0); err == nil {
		t.Error("expected error for count 0, got nil")
	}
	if _, err := client.ReadRegisters(-1, 1); err == nil {
		t.Error("expected error for negative offset, got nil")
	}
	if _, err := client.ReadRegisters(70000, 1); err == nil {
		t.Error("expected error for offset above 65535, got nil")
	}
}

func TestClientReadCountLimits(t *testing.T) {
	// No handler: any request reaching the wire would hang the client,
	// so a passing test proves the counts were rejected before sending.
	plc := &fakePLC{handshakes: 2}
	addr := plc.start(t)

	client, err := Connect(addr, WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	if _, err := client.ReadRegisters(0, MaxWords+1); err == nil {
		t.Errorf("expected error for word count above %d, got nil", MaxWords)
	}
	if _, err := client.ReadBytes(RegionM, 0, MaxBytes+1); err == nil {
		t.Errorf("expected error for byte count above %d, got nil", MaxBytes)
	}
	if _, err := client.ReadBits(RegionM, 0, MaxBits+1); err == nil {
		t.Errorf("expected error for bit count above %d, got nil", MaxBits)
	}

	// A count that would wrap the 16-bit wire length field must be
	// rejected outright, not truncated.
	_, err = client.ReadRegisters(0, 65540)
	if err == nil {
		t.Fatal("expected error for count 65540, got nil")
	}
	if IsSessionError(err) {
		t.Errorf("caller misuse classified as session error: %v", err)
	}
	if !client.IsConnected() {
		t.Error("client disconnected by a rejected request")
	}
}
