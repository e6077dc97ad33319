package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Record field type tags. Stable wire values.
const (
	fieldBool   byte = 0
	fieldByte   byte = 1
	fieldInt32  byte = 2
	fieldInt64  byte = 3
	fieldString byte = 4
)

// nullStringLen marks a null string on the wire, as opposed to 0 for empty.
const nullStringLen = int32(-1)

var (
	ErrRecordInert  = errors.New("protocol: record already consumed")
	ErrTypeMismatch = errors.New("protocol: field type mismatch")
	ErrExhausted    = errors.New("protocol: no more fields")
	ErrTruncated    = errors.New("protocol: truncated record")
	ErrBadField     = errors.New("protocol: malformed field")
)

// RecordBuilder accumulates typed fields for one outbound record. It is
// write-once: after Marshal it is inert and any further use fails.
type RecordBuilder struct {
	buf  []byte
	err  error
	done bool
}

// NewRecord returns an empty builder.
func NewRecord() *RecordBuilder {
	return &RecordBuilder{}
}

func (b *RecordBuilder) check() bool {
	if b.err != nil {
		return false
	}
	if b.done {
		b.err = ErrRecordInert
		return false
	}
	return true
}

// AddBool appends a boolean field.
func (b *RecordBuilder) AddBool(v bool) *RecordBuilder {
	if !b.check() {
		return b
	}
	val := byte(0)
	if v {
		val = 1
	}
	b.buf = append(b.buf, fieldBool, val)
	return b
}

// AddByte appends a single-byte field.
func (b *RecordBuilder) AddByte(v byte) *RecordBuilder {
	if !b.check() {
		return b
	}
	b.buf = append(b.buf, fieldByte, v)
	return b
}

// AddInt32 appends a big-endian int32 field.
func (b *RecordBuilder) AddInt32(v int32) *RecordBuilder {
	if !b.check() {
		return b
	}
	b.buf = append(b.buf, fieldInt32)
	b.buf = binary.BigEndian.AppendUint32(b.buf, uint32(v))
	return b
}

// AddInt64 appends a big-endian int64 field.
func (b *RecordBuilder) AddInt64(v int64) *RecordBuilder {
	if !b.check() {
		return b
	}
	b.buf = append(b.buf, fieldInt64)
	b.buf = binary.BigEndian.AppendUint64(b.buf, uint64(v))
	return b
}

// AddString appends a string field. Empty encodes with length 0.
func (b *RecordBuilder) AddString(v string) *RecordBuilder {
	if !b.check() {
		return b
	}
	if len(v) > math.MaxInt32 {
		b.err = fmt.Errorf("%w: string too long", ErrBadField)
		return b
	}
	b.buf = append(b.buf, fieldString)
	b.buf = binary.BigEndian.AppendUint32(b.buf, uint32(len(v)))
	b.buf = append(b.buf, v...)
	return b
}

// AddOptString appends a nullable string field. nil encodes with the -1
// length sentinel and no payload bytes.
func (b *RecordBuilder) AddOptString(v *string) *RecordBuilder {
	if v == nil {
		if !b.check() {
			return b
		}
		n := nullStringLen
		b.buf = append(b.buf, fieldString)
		b.buf = binary.BigEndian.AppendUint32(b.buf, uint32(n))
		return b
	}
	return b.AddString(*v)
}

// Err reports a latched builder error, if any.
func (b *RecordBuilder) Err() error {
	return b.err
}

// Marshal serializes the fields in append order and makes the builder
// inert. The returned bytes are the record payload; the caller prefixes
// the record-length field (see WriteFrame).
func (b *RecordBuilder) Marshal() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.done {
		return nil, ErrRecordInert
	}
	b.done = true
	return b.buf, nil
}

type recordField struct {
	typ byte
	// exactly one of the following is meaningful for typ
	b   bool
	by  byte
	i32 int32
	i64 int64
	s   *string
}

// RecordReader is a sequence of decoded fields with a cursor. Fields must
// be read in wire order with the matching typed accessor. Consuming the
// last field makes the reader inert.
type RecordReader struct {
	fields []recordField
	pos    int
	inert  bool
}

// ParseRecord decodes a record payload into a reader.
func ParseRecord(payload []byte) (*RecordReader, error) {
	r := &RecordReader{}
	i := 0
	for i < len(payload) {
		typ := payload[i]
		i++
		switch typ {
		case fieldBool:
			if len(payload)-i < 1 {
				return nil, ErrTruncated
			}
			switch payload[i] {
			case 0:
				r.fields = append(r.fields, recordField{typ: typ, b: false})
			case 1:
				r.fields = append(r.fields, recordField{typ: typ, b: true})
			default:
				return nil, fmt.Errorf("%w: bad boolean value %d", ErrBadField, payload[i])
			}
			i++
		case fieldByte:
			if len(payload)-i < 1 {
				return nil, ErrTruncated
			}
			r.fields = append(r.fields, recordField{typ: typ, by: payload[i]})
			i++
		case fieldInt32:
			if len(payload)-i < 4 {
				return nil, ErrTruncated
			}
			v := int32(binary.BigEndian.Uint32(payload[i : i+4]))
			r.fields = append(r.fields, recordField{typ: typ, i32: v})
			i += 4
		case fieldInt64:
			if len(payload)-i < 8 {
				return nil, ErrTruncated
			}
			v := int64(binary.BigEndian.Uint64(payload[i : i+8]))
			r.fields = append(r.fields, recordField{typ: typ, i64: v})
			i += 8
		case fieldString:
			if len(payload)-i < 4 {
				return nil, ErrTruncated
			}
			n := int32(binary.BigEndian.Uint32(payload[i : i+4]))
			i += 4
			if n == nullStringLen {
				r.fields = append(r.fields, recordField{typ: typ})
				continue
			}
			if n < 0 || int(n) > len(payload)-i {
				return nil, ErrTruncated
			}
			s := string(payload[i : i+int(n)])
			r.fields = append(r.fields, recordField{typ: typ, s: &s})
			i += int(n)
		default:
			return nil, fmt.Errorf("%w: unknown field type %d", ErrBadField, typ)
		}
	}
	return r, nil
}

func (r *RecordReader) next(typ byte) (recordField, error) {
	if r.inert {
		return recordField{}, ErrRecordInert
	}
	if r.pos >= len(r.fields) {
		return recordField{}, ErrExhausted
	}
	f := r.fields[r.pos]
	if f.typ != typ {
		return recordField{}, fmt.Errorf("%w: want %d, have %d", ErrTypeMismatch, typ, f.typ)
	}
	r.pos++
	if r.pos >= len(r.fields) {
		r.inert = true
	}
	return f, nil
}

// Bool reads the next field as a boolean.
func (r *RecordReader) Bool() (bool, error) {
	f, err := r.next(fieldBool)
	return f.b, err
}

// Byte reads the next field as a single byte.
func (r *RecordReader) Byte() (byte, error) {
	f, err := r.next(fieldByte)
	return f.by, err
}

// Int32 reads the next field as an int32.
func (r *RecordReader) Int32() (int32, error) {
	f, err := r.next(fieldInt32)
	return f.i32, err
}

// Int64 reads the next field as an int64.
func (r *RecordReader) Int64() (int64, error) {
	f, err := r.next(fieldInt64)
	return f.i64, err
}

// String reads the next field as a string. A null string reads as "".
func (r *RecordReader) String() (string, error) {
	f, err := r.next(fieldString)
	if err != nil || f.s == nil {
		return "", err
	}
	return *f.s, nil
}

// OptString reads the next field as a nullable string. nil means the
// field carried the null sentinel.
func (r *RecordReader) OptString() (*string, error) {
	f, err := r.next(fieldString)
	if err != nil {
		return nil, err
	}
	return f.s, nil
}

// Len returns the total number of fields in the record.
func (r *RecordReader) Len() int {
	return len(r.fields)
}
