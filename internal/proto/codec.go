package proto

import (
	"encoding/binary"
	"errors"
	"math"
	"unicode/utf8"
)

// MaxStringLength bounds a single decoded string.
const MaxStringLength = 1 << 16

var (
	ErrShortBuffer    = errors.New("proto: short buffer")
	ErrStringTooLong  = errors.New("proto: string too long")
	ErrInvalidString  = errors.New("proto: invalid utf-8 string")
	ErrNegativeLength = errors.New("proto: negative length")
)

// Writer appends little-endian fields to a message buffer.
type Writer struct {
	buf []byte
}

// NewWriter starts a message with the given command tag.
func NewWriter(cmd CommandType) *Writer {
	w := &Writer{buf: make([]byte, 0, 64)}
	w.PutByte(byte(cmd))
	return w
}

// Bytes returns the encoded message.
func (w *Writer) Bytes() []byte { return w.buf }

// Len reports the encoded size so far.
func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) PutByte(b byte) {
	w.buf = append(w.buf, b)
}

func (w *Writer) PutBool(v bool) {
	if v {
		w.PutByte(1)
		return
	}
	w.PutByte(0)
}

func (w *Writer) PutUint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) PutInt32(v int32) {
	w.PutUint32(uint32(v))
}

func (w *Writer) PutUint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *Writer) PutFloat32(v float32) {
	w.PutUint32(math.Float32bits(v))
}

// PutString writes an int32 byte length followed by the UTF-8 bytes.
func (w *Writer) PutString(s string) {
	w.PutInt32(int32(len(s)))
	w.buf = append(w.buf, s...)
}

// Reader consumes fields from a message. The first error sticks and every
// later read returns a zero value, so callers check Err once at the end.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader wraps a received payload.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Err returns the first decoding error.
func (r *Reader) Err() error { return r.err }

// Remaining reports the number of unread bytes.
func (r *Reader) Remaining() int {
	if r.err != nil {
		return 0
	}
	return len(r.buf) - r.off
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n > len(r.buf)-r.off {
		r.err = ErrShortBuffer
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) Byte() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) Bool() bool {
	return r.Byte() != 0
}

func (r *Reader) Uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) Int32() int32 {
	return int32(r.Uint32())
}

func (r *Reader) Uint64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *Reader) Float32() float32 {
	return math.Float32frombits(r.Uint32())
}

// Str reads an int32 byte length followed by that many UTF-8 bytes.
func (r *Reader) Str() string {
	n := r.Int32()
	if r.err != nil {
		return ""
	}
	switch {
	case n < 0:
		r.err = ErrNegativeLength
		return ""
	case n > MaxStringLength:
		r.err = ErrStringTooLong
		return ""
	}
	b := r.take(int(n))
	if b == nil {
		return ""
	}
	if !utf8.Valid(b) {
		r.err = ErrInvalidString
		return ""
	}
	return string(b)
}

// Count reads an int32 element count and rejects values the remaining
// payload cannot possibly hold, given the minimum encoded element size.
func (r *Reader) Count(minElem int) int {
	n := r.Int32()
	if r.err != nil {
		return 0
	}
	if n < 0 {
		r.err = ErrNegativeLength
		return 0
	}
	if minElem > 0 && int(n) > r.Remaining()/minElem {
		r.err = ErrShortBuffer
		return 0
	}
	return int(n)
}
