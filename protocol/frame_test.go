package protocol

import (
	"bytes"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := Frame{Tag: 11, Record: []byte{1, 2, 3}}
	require.NoError(t, WriteFrame(&buf, in))

	out, err := ReadFrame(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Zero(t, buf.Len())
}

func TestReadFrameEmptyRecord(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, Frame{Tag: 3}))

	out, err := ReadFrame(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, byte(3), out.Tag)
	assert.Empty(t, out.Record)
}

func TestReadFrameByteAtATime(t *testing.T) {
	var buf bytes.Buffer
	in := Frame{Tag: 2, Record: []byte("slow stream")}
	require.NoError(t, WriteFrame(&buf, in))

	out, err := ReadFrame(iotest.OneByteReader(&buf), 0)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestReadFrameStopsAtBoundary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, Frame{Tag: 1, Record: []byte("first")}))
	require.NoError(t, WriteFrame(&buf, Frame{Tag: 2, Record: []byte("second")}))

	out, err := ReadFrame(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), out.Record)

	out, err = ReadFrame(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), out.Record)
}

func TestReadFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, Frame{Tag: 1, Record: make([]byte, 100)}))

	_, err := ReadFrame(&buf, 64)
	assert.ErrorIs(t, err, ErrRecordTooLarge)
}

func TestReadFrameTruncatedStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, Frame{Tag: 1, Record: []byte("payload")}))
	half := buf.Bytes()[:buf.Len()-3]

	_, err := ReadFrame(bytes.NewReader(half), 0)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadFrameCleanEOF(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil), 0)
	assert.ErrorIs(t, err, io.EOF)
}
