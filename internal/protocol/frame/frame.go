package frame

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// HeaderLen is the size of the big-endian length prefix.
const HeaderLen = 4

var (
	ErrShortHeader     = errors.New("frame: short length header")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 8 * 1024 * 1024,
	}
}

// UnlimitedLimits accepts any length the prefix can express.
func UnlimitedLimits() Limits {
	return Limits{MaxPayloadBytes: math.MaxUint32}
}

// ReadFrame reads one length-prefixed payload.
//
// A stream that ends cleanly before the first header byte returns io.EOF.
// A stream that ends inside a frame returns io.ErrUnexpectedEOF; both are
// end-of-stream conditions for the caller.
func ReadFrame(r io.Reader, limits Limits) ([]byte, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortHeader
		}
		return nil, err
	}

	n := DecodeLength(hdr[:])
	if uint64(n) > limits.MaxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}

	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
	return payload, nil
}

// WriteFrame writes the length prefix and payload as one buffer so a frame is
// never split across concurrent writers sharing w.
func WriteFrame(w io.Writer, payload []byte, limits Limits) error {
	buf, err := Encode(payload, limits)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// Encode returns the on-wire bytes for payload.
func Encode(payload []byte, limits Limits) ([]byte, error) {
	n := uint64(len(payload))
	if n > limits.MaxPayloadBytes || n > math.MaxUint32 {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, HeaderLen+len(payload))
	EncodeLength(buf[:HeaderLen], uint32(n))
	copy(buf[HeaderLen:], payload)
	return buf, nil
}

func EncodeLength(dst []byte, n uint32) {
	binary.BigEndian.PutUint32(dst[:HeaderLen], n)
}

func DecodeLength(b []byte) uint32 {
	return binary.BigEndian.Uint32(b[:HeaderLen])
}
