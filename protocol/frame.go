package protocol

import (
	"encoding/binary"
	"errors"
	"io"
)

// Wire layout of one frame: 1 command tag byte, 4-byte big-endian record
// length N, then N record bytes. The length counts only the record bytes.
const frameHeaderLen = 5

// DefaultMaxRecordBytes caps a single inbound record. The format itself is
// unbounded; exceeding the cap must fail the connection, never truncate.
const DefaultMaxRecordBytes = 8 << 20

var (
	ErrRecordTooLarge = errors.New("protocol: record exceeds size limit")
	ErrBadFrame       = errors.New("protocol: malformed frame header")
)

// Frame is one self-delimited unit on the byte stream.
type Frame struct {
	Tag    byte
	Record []byte
}

// ReadFrame blocks until a complete frame is buffered and returns it.
// It never reads past the frame boundary. maxRecordBytes <= 0 selects
// DefaultMaxRecordBytes.
func ReadFrame(r io.Reader, maxRecordBytes int) (Frame, error) {
	if maxRecordBytes <= 0 {
		maxRecordBytes = DefaultMaxRecordBytes
	}
	var head [frameHeaderLen]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return Frame{}, err
	}
	n := int32(binary.BigEndian.Uint32(head[1:frameHeaderLen]))
	if n < 0 {
		return Frame{}, ErrBadFrame
	}
	if int(n) > maxRecordBytes {
		return Frame{}, ErrRecordTooLarge
	}
	rec := make([]byte, n)
	if _, err := io.ReadFull(r, rec); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}
	return Frame{Tag: head[0], Record: rec}, nil
}

// WriteFrame writes one frame as a single buffer.
func WriteFrame(w io.Writer, f Frame) error {
	buf := make([]byte, frameHeaderLen+len(f.Record))
	buf[0] = f.Tag
	binary.BigEndian.PutUint32(buf[1:frameHeaderLen], uint32(len(f.Record)))
	copy(buf[frameHeaderLen:], f.Record)
	_, err := w.Write(buf)
	return err
}
