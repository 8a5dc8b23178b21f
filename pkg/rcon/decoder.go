package rcon

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Decoder reassembles stream packets from arbitrarily segmented reads. It
// holds at most one incomplete packet between calls.
type Decoder struct {
	pending []byte
}

// Feed appends chunk to any buffered partial packet and returns every
// complete packet now available, in wire order. A length field outside
// [packetOverhead, MaxPacketLength] cannot be resynchronised from, so the
// buffered bytes are dropped and ErrMalformedPacket is returned alongside the
// packets decoded before the bad header.
func (d *Decoder) Feed(chunk []byte) ([]Packet, error) {
	data := chunk
	if len(d.pending) > 0 {
		data = append(d.pending, chunk...)
		d.pending = nil
	}

	var packets []Packet

	for len(data) >= lengthSize {
		length := int32(binary.LittleEndian.Uint32(data[0:4]))
		if length < packetOverhead || length > MaxPacketLength {
			return packets, errors.Wrapf(ErrMalformedPacket, "invalid length field %d", length)
		}

		total := int(length) + lengthSize
		if total > len(data) {
			break
		}

		packets = append(packets, Packet{
			ID:   int32(binary.LittleEndian.Uint32(data[4:8])),
			Type: PacketType(int32(binary.LittleEndian.Uint32(data[8:12]))),
			Body: packetBody(data[headerSize:total]),
		})

		data = data[total:]
	}

	if len(data) > 0 {
		d.pending = append([]byte(nil), data...)
	}

	return packets, nil
}

// Buffered returns the number of bytes held for the next Feed.
func (d *Decoder) Buffered() int {
	return len(d.pending)
}

// Reset drops any partial packet.
func (d *Decoder) Reset() {
	d.pending = nil
}

// packetBody drops the packet terminator then a single body terminator.
func packetBody(raw []byte) string {
	raw = raw[:len(raw)-1]
	if n := len(raw); n > 0 && raw[n-1] == 0 {
		raw = raw[:n-1]
	}

	return string(raw)
}
