package parcel

import (
	"bytes"
	"errors"
	"testing"
)

func TestWriterReaderMixedFields(t *testing.T) {
	enc := NewWriter().
		Int32(7).
		String("310260").
		NullString().
		Strings("T-Mobile", "TMO").
		Bool(true).
		Bytes([]byte{0xCA, 0xFE}).
		Int32s(1, -2, 3).
		Encoded()

	r := NewReader(enc)
	if v, err := r.Int32(); err != nil || v != 7 {
		t.Fatalf("int32: %d %v", v, err)
	}
	if s, err := r.String(); err != nil || s != "310260" {
		t.Fatalf("string: %q %v", s, err)
	}
	if s, err := r.String(); err != nil || s != "" {
		t.Fatalf("null string: %q %v", s, err)
	}
	ss, err := r.Strings()
	if err != nil || len(ss) != 2 || ss[0] != "T-Mobile" || ss[1] != "TMO" {
		t.Fatalf("strings: %v %v", ss, err)
	}
	if b, err := r.Bool(); err != nil || !b {
		t.Fatalf("bool: %v %v", b, err)
	}
	if b, err := r.Bytes(); err != nil || !bytes.Equal(b, []byte{0xCA, 0xFE}) {
		t.Fatalf("bytes: % x %v", b, err)
	}
	ints, err := r.Int32s()
	if err != nil || len(ints) != 3 || ints[1] != -2 {
		t.Fatalf("int32s: %v %v", ints, err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("expected fully consumed reader, %d left", r.Remaining())
	}
}

func TestReaderShortBufferIsDeterministic(t *testing.T) {
	_, err := NewReader([]byte{0, 0, 1}).Int32()
	if !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("expected ErrShortBuffer, got %v", err)
	}
}

func TestReaderBlobOverrunsBuffer(t *testing.T) {
	// len=5, value only 2 bytes
	_, err := NewReader([]byte{0, 0, 0, 5, 'a', 'b'}).String()
	if !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("expected ErrShortBuffer, got %v", err)
	}
}

func TestReaderRejectsImpossibleCount(t *testing.T) {
	enc := NewWriter().Int32(1 << 20).Encoded()
	_, err := NewReader(enc).Strings()
	if !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}

func TestReaderNullBytes(t *testing.T) {
	b, err := NewReader(NewWriter().Bytes(nil).Encoded()).Bytes()
	if err != nil || b != nil {
		t.Fatalf("expected nil blob, got % x %v", b, err)
	}
}

func TestReaderRest(t *testing.T) {
	r := NewReader(NewWriter().Int32(1).Int32(2).Encoded())
	if _, err := r.Int32(); err != nil {
		t.Fatalf("int32: %v", err)
	}
	if rest := r.Rest(); !bytes.Equal(rest, []byte{0, 0, 0, 2}) {
		t.Fatalf("unexpected rest: % x", rest)
	}
	if r.Remaining() != 0 {
		t.Fatalf("expected empty reader")
	}
}
