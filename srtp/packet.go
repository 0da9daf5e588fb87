package srtp

import (
	"fmt"
	"time"
)

// Header holds the parsed fields of a 56-byte response header.
type Header struct {
	PacketType  byte
	Seq         byte
	PayloadLen  int    // From byte 4, length of payload following the header
	MessageType byte   // 0x94 ack+data, 0xD4 ack, 0xD1 error
	Service     byte
	Selector    byte
	Offset      uint16
	Length      uint16
	Status      [6]byte // Piggyback status, bytes 50-55
}

// buildRequest creates a 56-byte SRTP request packet.
//
// Layout: byte 0 packet type, byte 2 and byte 30 carry the sequence number
// (the protocol duplicates it), bytes 26-28 time of day, byte 31 message
// type, bytes 36-39 mailbox destination routed by CPU slot, byte 42 service
// code, byte 43 segment selector, bytes 44-45 data offset and 46-47 data
// length, both little-endian. Bytes 9, 17, 40 and 41 are constant 0x01.
func buildRequest(seq, service, selector byte, offset, length uint16, slot int) []byte {
	now := time.Now()

	packet := make([]byte, headerSize)
	packet[0] = packetRequest
	packet[2] = seq
	packet[9] = 0x01
	packet[17] = 0x01
	packet[26] = byte(now.Second())
	packet[27] = byte(now.Minute())
	packet[28] = byte(now.Hour())
	packet[30] = seq
	packet[31] = msgRequest

	// Mailbox source (32-35) stays zero. Destination is
	// {slot*0x10, 0x0E, 0x00, 0x00}: slot 1 -> 0x10, slot 2 -> 0x20.
	packet[36] = byte(slot) * 0x10
	packet[37] = 0x0E

	packet[40] = 0x01 // Packet number
	packet[41] = 0x01 // Total packets
	packet[42] = service
	packet[43] = selector
	packet[44] = byte(offset)
	packet[45] = byte(offset >> 8)
	packet[46] = byte(length)
	packet[47] = byte(length >> 8)

	return packet
}

// parseHeader validates and parses a response header.
// The payload (if any) is not part of the header and is read separately.
func parseHeader(data []byte) (*Header, error) {
	if len(data) < headerSize {
		return nil, &MalformedHeaderError{
			Reason: fmt.Sprintf("short header: %d bytes", len(data)),
		}
	}

	if data[0] != packetResponse {
		return nil, &MalformedHeaderError{
			Reason: fmt.Sprintf("expected packet type 0x%02X, got 0x%02X", packetResponse, data[0]),
		}
	}

	// The sequence number is carried twice; disagreement means the header
	// itself is corrupt, not that pairing failed.
	if data[2] != data[30] {
		return nil, &MalformedHeaderError{
			Reason: fmt.Sprintf("sequence duplicates disagree: byte 2 is %d, byte 30 is %d", data[2], data[30]),
		}
	}

	h := &Header{
		PacketType:  data[0],
		Seq:         data[2],
		PayloadLen:  int(data[4]),
		MessageType: data[31],
		Service:     data[42],
		Selector:    data[43],
		Offset:      uint16(data[44]) | uint16(data[45])<<8,
		Length:      uint16(data[46]) | uint16(data[47])<<8,
	}
	copy(h.Status[:], data[50:56])

	return h, nil
}
