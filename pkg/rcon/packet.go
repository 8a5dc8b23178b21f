package rcon

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// PacketType is the third header field of a stream packet.
type PacketType int32

// AUTH response and COMMAND share the same value on the wire. Which one a
// packet is depends on the direction and on whether the client has
// authenticated yet.
const (
	PacketAuth          PacketType = 3
	PacketCommand       PacketType = 2
	PacketAuthResponse  PacketType = 2
	PacketResponseValue PacketType = 0
)

const (
	// id + type + body terminator + packet terminator.
	packetOverhead = 10
	headerSize     = 12
	lengthSize     = 4

	// MaxPacketLength is the largest length field accepted from a server.
	MaxPacketLength = 4096 + packetOverhead
	// MaxBodySize is the largest command body the client will encode.
	MaxBodySize = 4096 - packetOverhead

	// Leading value of every datagram in either direction.
	datagramSentinel uint32 = 0xFFFFFFFF
	// Reserved id the server answers with when the password was rejected.
	authFailedID int32 = -1
)

var (
	ErrMalformedPacket = errors.New("malformed packet")
	ErrEmbeddedNull    = errors.New("body contains a null byte")
	ErrBodyTooLarge    = errors.New("body too large")
)

// Packet is one decoded stream transport frame.
type Packet struct {
	ID   int32
	Type PacketType
	Body string
}

// EncodePacket serialises a stream packet as
// len | id | type | body | 0x00 | 0x00 with all integers little-endian.
func EncodePacket(packet Packet) ([]byte, error) {
	body := []byte(packet.Body)
	if bytes.IndexByte(body, 0) >= 0 {
		return nil, ErrEmbeddedNull
	}

	if len(body) > MaxBodySize {
		return nil, errors.Wrapf(ErrBodyTooLarge, "%d bytes", len(body))
	}

	out := make([]byte, headerSize+len(body)+2)
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(body)+packetOverhead))
	binary.LittleEndian.PutUint32(out[4:8], uint32(packet.ID))
	binary.LittleEndian.PutUint32(out[8:12], uint32(packet.Type))
	copy(out[headerSize:], body)

	return out, nil
}

// encodeDatagram prefixes text with the datagram sentinel.
func encodeDatagram(text string) []byte {
	out := make([]byte, lengthSize+len(text))
	binary.LittleEndian.PutUint32(out, datagramSentinel)
	copy(out[lengthSize:], text)

	return out
}

// datagramText validates the sentinel and returns the text that follows it.
func datagramText(data []byte) (string, error) {
	if len(data) < lengthSize {
		return "", errors.Wrapf(ErrMalformedPacket, "datagram too short (%d bytes)", len(data))
	}

	if binary.LittleEndian.Uint32(data) != datagramSentinel {
		return "", errors.Wrap(ErrMalformedPacket, "missing datagram sentinel")
	}

	return string(data[lengthSize:]), nil
}
