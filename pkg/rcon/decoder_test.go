package rcon

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func encodeAll(t *testing.T, packets []Packet) []byte {
	t.Helper()

	var buf bytes.Buffer

	for _, packet := range packets {
		payload, errEncode := EncodePacket(packet)
		require.NoError(t, errEncode)
		buf.Write(payload)
	}

	return buf.Bytes()
}

func TestEncodePacket(t *testing.T) {
	payload, errEncode := EncodePacket(Packet{ID: 42, Type: PacketCommand, Body: "status"})
	require.NoError(t, errEncode)
	require.Equal(t, []byte{
		16, 0, 0, 0,
		42, 0, 0, 0,
		2, 0, 0, 0,
		's', 't', 'a', 't', 'u', 's',
		0, 0,
	}, payload)

	empty, errEmpty := EncodePacket(Packet{ID: -1, Type: PacketAuthResponse})
	require.NoError(t, errEmpty)
	require.Len(t, empty, 14)
	require.Equal(t, uint32(10), binary.LittleEndian.Uint32(empty))
	require.Equal(t, int32(-1), int32(binary.LittleEndian.Uint32(empty[4:])))

	_, errNull := EncodePacket(Packet{Body: "say \x00hi"})
	require.ErrorIs(t, errNull, ErrEmbeddedNull)

	_, errLarge := EncodePacket(Packet{Body: strings.Repeat("a", MaxBodySize+1)})
	require.ErrorIs(t, errLarge, ErrBodyTooLarge)

	_, errMax := EncodePacket(Packet{Body: strings.Repeat("a", MaxBodySize)})
	require.NoError(t, errMax)
}

func TestDecoderRoundTrip(t *testing.T) {
	packets := []Packet{
		{ID: 1, Type: PacketResponseValue, Body: ""},
		{ID: 1, Type: PacketAuthResponse, Body: ""},
		{ID: DefaultRequestID, Type: PacketResponseValue, Body: "hostname: test\nmap     : de_dust2\n"},
		{ID: 0, Type: PacketResponseValue, Body: strings.Repeat("x", MaxBodySize)},
		{ID: -1, Type: PacketAuthResponse, Body: ""},
	}

	var decoder Decoder

	decoded, errFeed := decoder.Feed(encodeAll(t, packets))
	require.NoError(t, errFeed)
	require.Equal(t, packets, decoded)
	require.Zero(t, decoder.Buffered())
}

// The same byte stream must decode to the same packets however it is split.
func TestDecoderChunking(t *testing.T) {
	packets := []Packet{
		{ID: 7, Type: PacketResponseValue, Body: "first"},
		{ID: 8, Type: PacketResponseValue, Body: ""},
		{ID: 9, Type: PacketResponseValue, Body: strings.Repeat("long body ", 300)},
		{ID: 10, Type: PacketAuthResponse, Body: "last"},
	}
	stream := encodeAll(t, packets)

	for _, size := range []int{1, 2, 3, 4, 5, 11, 13, 64, 1000, len(stream)} {
		var (
			decoder Decoder
			decoded []Packet
		)

		for start := 0; start < len(stream); start += size {
			end := start + size
			if end > len(stream) {
				end = len(stream)
			}

			batch, errFeed := decoder.Feed(stream[start:end])
			require.NoError(t, errFeed)

			decoded = append(decoded, batch...)
		}

		require.Equal(t, packets, decoded, "chunk size %d", size)
		require.Zero(t, decoder.Buffered(), "chunk size %d", size)
	}
}

func TestDecoderPartial(t *testing.T) {
	payload, errEncode := EncodePacket(Packet{ID: 3, Type: PacketResponseValue, Body: "partial"})
	require.NoError(t, errEncode)

	var decoder Decoder

	packets, errFeed := decoder.Feed(payload[:len(payload)-1])
	require.NoError(t, errFeed)
	require.Empty(t, packets)
	require.Equal(t, len(payload)-1, decoder.Buffered())

	decoder.Reset()
	require.Zero(t, decoder.Buffered())

	packets, errFeed = decoder.Feed(payload)
	require.NoError(t, errFeed)
	require.Len(t, packets, 1)
	require.Equal(t, "partial", packets[0].Body)
}

func TestDecoderInvalidLength(t *testing.T) {
	good, errEncode := EncodePacket(Packet{ID: 1, Type: PacketResponseValue, Body: "ok"})
	require.NoError(t, errEncode)

	for _, length := range []int32{0, 9, -5, MaxPacketLength + 1} {
		bad := make([]byte, 12)
		binary.LittleEndian.PutUint32(bad, uint32(length))

		var decoder Decoder

		packets, errFeed := decoder.Feed(append(append([]byte(nil), good...), bad...))
		require.ErrorIs(t, errFeed, ErrMalformedPacket, "length %d", length)
		require.Len(t, packets, 1)
		require.Zero(t, decoder.Buffered())

		// The decoder keeps working on data that follows.
		packets, errFeed = decoder.Feed(good)
		require.NoError(t, errFeed)
		require.Len(t, packets, 1)
	}
}

func TestDatagramText(t *testing.T) {
	text, errText := datagramText(encodeDatagram("challenge rcon 123\n"))
	require.NoError(t, errText)
	require.Equal(t, "challenge rcon 123\n", text)

	_, errShort := datagramText([]byte{0xFF, 0xFF})
	require.ErrorIs(t, errShort, ErrMalformedPacket)

	_, errSentinel := datagramText([]byte{0xFE, 0xFF, 0xFF, 0xFF, 'l'})
	require.ErrorIs(t, errSentinel, ErrMalformedPacket)
}

func TestTrimDatagramResponse(t *testing.T) {
	require.Equal(t, "hostname: test", trimDatagramResponse("lhostname: test\n\x00"))
	require.Equal(t, "", trimDatagramResponse("l\n"))
	require.Equal(t, "plain", trimDatagramResponse("plain"))
}

func TestParseTransport(t *testing.T) {
	for name, expected := range map[string]Transport{
		"":         TransportStream,
		"tcp":      TransportStream,
		"Stream":   TransportStream,
		"udp":      TransportDatagram,
		"datagram": TransportDatagram,
	} {
		transport, errParse := ParseTransport(name)
		require.NoError(t, errParse)
		require.Equal(t, expected, transport)
	}

	_, errParse := ParseTransport("sctp")
	require.Error(t, errParse)
}
