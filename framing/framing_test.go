package framing

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackParseRoundTrip(t *testing.T) {
	payload := []byte("hello world")
	pkt := Pack(PacketData, payload)

	src := NewSource(bytes.NewReader(pkt))
	typ, got, err := Parse(src)
	require.NoError(t, err)
	require.Equal(t, PacketData, typ)
	require.Equal(t, payload, got)
}

func TestParseCleanEOF(t *testing.T) {
	src := NewSource(bytes.NewReader(nil))
	_, _, err := Parse(src)
	require.ErrorIs(t, err, io.EOF)
}

func TestParseExpectedMagic(t *testing.T) {
	src := NewSource(bytes.NewReader([]byte("not the magic token at all!!")))
	_, _, err := Parse(src)

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	require.ErrorIs(t, perr, ErrExpectedMagic)
}

func TestParseTruncated(t *testing.T) {
	// A valid packet, cut off partway through the payload.
	full := Pack(PacketData, []byte("abcdefgh"))
	src := NewSource(bytes.NewReader(full[:len(full)-3]))

	_, _, err := Parse(src)
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	require.ErrorIs(t, perr, ErrTruncated)
}

func TestParseLengthTooLarge(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Magic)
	buf.WriteByte(byte(PacketData))
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF}) // huge declared length

	src := NewSource(&buf)
	_, _, err := Parse(src)
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	require.ErrorIs(t, perr, ErrLengthTooLarge)
}

func TestParseZeroLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Magic)
	buf.WriteByte(byte(PacketData))
	buf.Write([]byte{0, 0, 0, 0})

	src := NewSource(&buf)
	_, _, err := Parse(src)
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	require.ErrorIs(t, perr, ErrZeroLength)
}

func TestParseEmbeddedMagicPushesBackTail(t *testing.T) {
	// A payload that itself contains the magic token: the packet is
	// rejected, and a subsequent valid packet beginning at the embedded
	// magic must still be parseable from the same Source.
	next := Pack(PacketData, []byte("second"))
	payload := append([]byte("junk-before-"), next...)
	first := Pack(PacketData, payload)

	src := NewSource(bytes.NewReader(first))
	_, _, err := Parse(src)
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	require.ErrorIs(t, perr, ErrEmbeddedMagic)

	typ, got, err := Parse(src)
	require.NoError(t, err)
	require.Equal(t, PacketData, typ)
	require.Equal(t, []byte("second"), got)
}

func TestResyncFindsToken(t *testing.T) {
	noise := bytes.Repeat([]byte{0xAA}, 37)
	pkt := Pack(PacketKey, []byte("key-payload-bytes"))
	stream := append(noise, pkt...)

	src := NewSource(bytes.NewReader(stream))
	require.NoError(t, Resync(src))

	// Resync leaves the source positioned right after the magic token, so
	// the caller re-reads the type/length/payload to finish the packet.
	typ, payload, err := parseAfterMagic(src)
	require.NoError(t, err)
	require.Equal(t, PacketKey, typ)
	require.Equal(t, []byte("key-payload-bytes"), payload)
}

func TestResyncEndOfStream(t *testing.T) {
	src := NewSource(bytes.NewReader(bytes.Repeat([]byte{0xBB}, 12)))
	err := Resync(src)
	require.ErrorIs(t, err, ErrEndOfStream)
}

// parseAfterMagic re-reads type/length/payload assuming the magic token was
// already consumed (as Resync leaves things), by pushing Magic back first.
func parseAfterMagic(s *Source) (PacketType, []byte, error) {
	s.Unread(Magic)
	return Parse(s)
}
