package wire

import (
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoFrames = "{\"text\":\"a\"}\n{\"text\":\"b\"}\n"

func feedChunks(d *Decoder, s string, size int) []string {
	var out []string
	for len(s) > 0 {
		n := min(size, len(s))
		out = append(out, d.Feed([]byte(s[:n]))...)
		s = s[n:]
	}
	return out
}

func TestDecoderReassemblesAnyChunking(t *testing.T) {
	for size := 1; size <= len(twoFrames); size++ {
		var d Decoder
		got := feedChunks(&d, twoFrames, size)
		require.Equal(t, []string{"a", "b"}, got, "chunk size %d", size)
		assert.Zero(t, d.Buffered())
	}
}

func TestDecoderMultipleFramesInOneChunk(t *testing.T) {
	var d Decoder
	got := d.Feed([]byte(twoFrames + `{"text":"c"}` + "\n" + `{"text":"d`))
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, []string{"d"}, d.Feed([]byte("\"}\n")))
}

func TestDecoderSkipsMalformed(t *testing.T) {
	var bad []*FrameDecodeError
	d := Decoder{OnMalformed: func(e *FrameDecodeError) { bad = append(bad, e) }}

	got := d.Feed([]byte("not-json\n{\"text\":\"ok\"}\n"))

	assert.Equal(t, []string{"ok"}, got)
	require.Len(t, bad, 1)
	assert.Equal(t, "not-json", string(bad[0].Line))
}

func TestDecoderIgnoresNoise(t *testing.T) {
	var malformed int
	d := Decoder{OnMalformed: func(*FrameDecodeError) { malformed++ }}

	got := d.Feed([]byte("\n\r\n{\"type\":\"ping\"}\n{\"text\":\"\"}\n{}\n{\"text\":\"x\"}\r\n"))

	assert.Equal(t, []string{"x"}, got)
	assert.Zero(t, malformed)
}

func TestDecoderDiscardsOversizedLine(t *testing.T) {
	var bad []*FrameDecodeError
	d := Decoder{OnMalformed: func(e *FrameDecodeError) { bad = append(bad, e) }}

	big := strings.Repeat("x", 1<<20)
	for i := 0; i < MaxFrameSize/len(big)+1; i++ {
		assert.Empty(t, d.Feed([]byte(big)))
	}
	require.Len(t, bad, 1)
	assert.ErrorIs(t, bad[0], ErrFrameTooLarge)
	assert.Zero(t, d.Buffered())

	got := d.Feed([]byte("tail\n{\"text\":\"after\"}\n"))
	assert.Equal(t, []string{"after"}, got)
}

func TestDecoderReset(t *testing.T) {
	var d Decoder
	assert.Empty(t, d.Feed([]byte(`{"text":"sta`)))
	d.Reset()
	assert.Equal(t, []string{"fresh"}, d.Feed([]byte("{\"text\":\"fresh\"}\n")))
}

func TestWriteFrameNilConn(t *testing.T) {
	err := WriteFrame(nil, "x", time.Second)
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, ErrNoConnection)
}

func TestConnRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ca, cb := New(a, nil), New(b, nil)

	go func() {
		_ = ca.WriteText("first line\nsecond", time.Second)
		_ = ca.WriteProbe(time.Second)
		_ = ca.WriteText("next", time.Second)
	}()

	var got []string
	for len(got) < 2 {
		texts, err := cb.ReadTexts(time.Second)
		require.NoError(t, err)
		got = append(got, texts...)
	}
	assert.Equal(t, []string{"first line\nsecond", "next"}, got)
	assert.WithinDuration(t, time.Now(), cb.LastRead(), time.Second)
}

func TestConnReadTimeout(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	_, err := New(b, nil).ReadTexts(20 * time.Millisecond)
	assert.True(t, IsTimeout(err))
}

func TestConnReadEOF(t *testing.T) {
	a, b := net.Pipe()
	c := New(b, nil)
	a.Close()

	_, err := c.ReadTexts(time.Second)
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "read", ce.Op)
	assert.True(t, errors.Is(err, io.EOF))
}

func TestConnWriteAfterClose(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	c := New(a, nil)
	require.NoError(t, c.Close())

	err := c.WriteText("x", time.Second)
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "write", ce.Op)
}
