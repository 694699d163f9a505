// Package parcel encodes request arguments and response bodies.
//
// All integers are big-endian. Strings and byte blobs carry an int32 length
// prefix; a length of -1 marks a null value.
package parcel

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrShortBuffer   = errors.New("parcel: short buffer")
	ErrInvalidLength = errors.New("parcel: invalid length")
)

const nullLength int32 = -1

// Writer accumulates an encoded parcel.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 32)}
}

func (w *Writer) Int32(v int32) *Writer {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(v))
	return w
}

func (w *Writer) Int32s(vs ...int32) *Writer {
	w.Int32(int32(len(vs)))
	for _, v := range vs {
		w.Int32(v)
	}
	return w
}

func (w *Writer) Bool(v bool) *Writer {
	if v {
		return w.Int32(1)
	}
	return w.Int32(0)
}

func (w *Writer) String(s string) *Writer {
	w.Int32(int32(len(s)))
	w.buf = append(w.buf, s...)
	return w
}

func (w *Writer) NullString() *Writer {
	return w.Int32(nullLength)
}

func (w *Writer) Strings(ss ...string) *Writer {
	w.Int32(int32(len(ss)))
	for _, s := range ss {
		w.String(s)
	}
	return w
}

func (w *Writer) Bytes(b []byte) *Writer {
	if b == nil {
		return w.Int32(nullLength)
	}
	w.Int32(int32(len(b)))
	w.buf = append(w.buf, b...)
	return w
}

// Encoded returns the accumulated parcel bytes.
func (w *Writer) Encoded() []byte {
	out := make([]byte, len(w.buf))
	copy(out, w.buf)
	return out
}

// Reader consumes an encoded parcel front to back.
type Reader struct {
	buf []byte
	off int
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *Reader) Rest() []byte {
	out := make([]byte, r.Remaining())
	copy(out, r.buf[r.off:])
	r.off = len(r.buf)
	return out
}

func (r *Reader) Int32() (int32, error) {
	if r.Remaining() < 4 {
		return 0, fmt.Errorf("%w: int32 at offset %d", ErrShortBuffer, r.off)
	}
	v := int32(binary.BigEndian.Uint32(r.buf[r.off : r.off+4]))
	r.off += 4
	return v, nil
}

func (r *Reader) Bool() (bool, error) {
	v, err := r.Int32()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (r *Reader) Int32s() ([]int32, error) {
	n, err := r.count()
	if err != nil {
		return nil, err
	}
	out := make([]int32, 0, n)
	for i := 0; i < n; i++ {
		v, err := r.Int32()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// String returns the next string; a null string decodes as "".
func (r *Reader) String() (string, error) {
	b, err := r.blob()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Reader) Strings() ([]string, error) {
	n, err := r.count()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		s, err := r.String()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Bytes returns the next blob; a null blob decodes as nil.
func (r *Reader) Bytes() ([]byte, error) {
	b, err := r.blob()
	if err != nil || b == nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (r *Reader) blob() ([]byte, error) {
	n, err := r.Int32()
	if err != nil {
		return nil, err
	}
	if n == nullLength {
		return nil, nil
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLength, n)
	}
	if int(n) > r.Remaining() {
		return nil, fmt.Errorf("%w: blob of %d bytes, %d remaining", ErrShortBuffer, n, r.Remaining())
	}
	b := r.buf[r.off : r.off+int(n)]
	r.off += int(n)
	return b, nil
}

func (r *Reader) count() (int, error) {
	n, err := r.Int32()
	if err != nil {
		return 0, err
	}
	// Each element needs at least four bytes; reject counts the buffer cannot hold.
	if n < 0 || int(n) > r.Remaining()/4 {
		return 0, fmt.Errorf("%w: count %d", ErrInvalidLength, n)
	}
	return int(n), nil
}
