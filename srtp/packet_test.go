package srtp

import (
	"errors"
	"testing"
)

func TestBuildRequest(t *testing.T) {
	packet := buildRequest(7, svcReadSysMemory, selRegistersWord, 100, 4, 1)

	if len(packet) != headerSize {
		t.Fatalf("packet length = %d, want %d", len(packet), headerSize)
	}
	if packet[0] != packetRequest {
		t.Errorf("byte 0 = 0x%02X, want 0x%02X", packet[0], packetRequest)
	}
	if packet[2] != 7 || packet[30] != 7 {
		t.Errorf("sequence bytes = %d/%d, want 7/7", packet[2], packet[30])
	}
	if packet[4] != 0 {
		t.Errorf("byte 4 = %d, want 0 on requests", packet[4])
	}
	if packet[9] != 0x01 || packet[17] != 0x01 || packet[40] != 0x01 || packet[41] != 0x01 {
		t.Errorf("constant bytes 9/17/40/41 = %02X/%02X/%02X/%02X, want all 0x01",
			packet[9], packet[17], packet[40], packet[41])
	}
	if packet[31] != msgRequest {
		t.Errorf("message type = 0x%02X, want 0x%02X", packet[31], msgRequest)
	}
	for i := 32; i < 36; i++ {
		if packet[i] != 0 {
			t.Errorf("mailbox source byte %d = 0x%02X, want 0", i, packet[i])
		}
	}
	if packet[36] != 0x10 || packet[37] != 0x0E || packet[38] != 0 || packet[39] != 0 {
		t.Errorf("mailbox destination = %02X %02X %02X %02X, want 10 0E 00 00",
			packet[36], packet[37], packet[38], packet[39])
	}
	if packet[42] != svcReadSysMemory {
		t.Errorf("service code = 0x%02X, want 0x%02X", packet[42], svcReadSysMemory)
	}
	if packet[43] != selRegistersWord {
		t.Errorf("segment selector = 0x%02X, want 0x%02X", packet[43], selRegistersWord)
	}
	if packet[44] != 100 || packet[45] != 0 {
		t.Errorf("data offset = %02X %02X, want 64 00", packet[44], packet[45])
	}
	if packet[46] != 4 || packet[47] != 0 {
		t.Errorf("data length = %02X %02X, want 04 00", packet[46], packet[47])
	}
	for i := 48; i < 56; i++ {
		if packet[i] != 0 {
			t.Errorf("reserved byte %d = 0x%02X, want 0", i, packet[i])
		}
	}
}

func TestBuildRequestSlotRouting(t *testing.T) {
	tests := []struct {
		slot     int
		wantByte byte
	}{
		{0, 0x00},
		{1, 0x10},
		{2, 0x20},
		{8, 0x80},
		{15, 0xF0},
	}

	for _, tt := range tests {
		packet := buildRequest(0, svcReadSysMemory, selRegistersWord, 0, 4, tt.slot)
		if packet[36] != tt.wantByte {
			t.Errorf("slot %d: destination byte = 0x%02X, want 0x%02X", tt.slot, packet[36], tt.wantByte)
		}
		if packet[37] != 0x0E {
			t.Errorf("slot %d: byte 37 = 0x%02X, want 0x0E", tt.slot, packet[37])
		}
	}
}

func TestBuildRequestLittleEndianFields(t *testing.T) {
	packet := buildRequest(0, svcReadSysMemory, selAnalogInWord, 0x1234, 0xABCD, 1)

	if packet[44] != 0x34 || packet[45] != 0x12 {
		t.Errorf("offset bytes = %02X %02X, want 34 12", packet[44], packet[45])
	}
	if packet[46] != 0xCD || packet[47] != 0xAB {
		t.Errorf("length bytes = %02X %02X, want CD AB", packet[46], packet[47])
	}
}

func TestParseHeader(t *testing.T) {
	header := make([]byte, headerSize)
	header[0] = packetResponse
	header[2] = 42
	header[4] = 8
	header[30] = 42
	header[31] = msgAckWithData
	header[42] = svcReadSysMemory
	header[43] = selRegistersWord
	header[44] = 0x64
	header[46] = 0x04
	header[50] = 0xAA
	header[55] = 0xBB

	h, err := parseHeader(header)
	if err != nil {
		t.Fatalf("parseHeader unexpected error: %v", err)
	}
	if h.Seq != 42 {
		t.Errorf("Seq = %d, want 42", h.Seq)
	}
	if h.PayloadLen != 8 {
		t.Errorf("PayloadLen = %d, want 8", h.PayloadLen)
	}
	if h.MessageType != msgAckWithData {
		t.Errorf("MessageType = 0x%02X, want 0x%02X", h.MessageType, msgAckWithData)
	}
	if h.Offset != 0x64 {
		t.Errorf("Offset = %d, want 100", h.Offset)
	}
	if h.Length != 4 {
		t.Errorf("Length = %d, want 4", h.Length)
	}
	if h.Status[0] != 0xAA || h.Status[5] != 0xBB {
		t.Errorf("Status = % X, want AA at [0] and BB at [5]", h.Status)
	}
}

func TestParseHeaderMalformed(t *testing.T) {
	tests := []struct {
		name string
		data func() []byte
	}{
		{"short header", func() []byte {
			return make([]byte, 20)
		}},
		{"wrong packet type", func() []byte {
			data := make([]byte, headerSize)
			data[0] = packetRequest
			return data
		}},
		{"sequence duplicates disagree", func() []byte {
			data := make([]byte, headerSize)
			data[0] = packetResponse
			data[2] = 5
			data[30] = 6
			return data
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseHeader(tt.data())
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var malformed *MalformedHeaderError
			if !errors.As(err, &malformed) {
				t.Errorf("error type = %T, want *MalformedHeaderError", err)
			}
		})
	}
}
