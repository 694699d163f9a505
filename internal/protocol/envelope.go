package protocol

import (
	"encoding/binary"
	"fmt"
)

// ResponseType is the leading word of every inbound payload.
type ResponseType int32

const (
	ResponseSolicited   ResponseType = 0
	ResponseUnsolicited ResponseType = 1
)

func (t ResponseType) String() string {
	switch t {
	case ResponseSolicited:
		return "solicited"
	case ResponseUnsolicited:
		return "unsolicited"
	default:
		return fmt.Sprintf("response_type(%d)", int32(t))
	}
}

// StatusSuccess is the solicited status code for a successful request.
const StatusSuccess int32 = 0

const (
	requestHeaderLen     = 8
	solicitedHeaderLen   = 8
	unsolicitedHeaderLen = 4
	responseTypeLen      = 4
)

// Request is a decoded outbound payload. Only peers and tests decode these.
type Request struct {
	Serial int32
	Kind   int32
	Args   []byte
}

// Inbound is one decoded inbound payload.
type Inbound struct {
	Type ResponseType
	// Solicited fields.
	Serial int32
	Status int32
	// Unsolicited field.
	Kind int32
	Body []byte
}

// EncodeRequest builds [serial][kind][args].
func EncodeRequest(serial int32, kind int32, args []byte) []byte {
	buf := make([]byte, requestHeaderLen+len(args))
	binary.BigEndian.PutUint32(buf[0:4], uint32(serial))
	binary.BigEndian.PutUint32(buf[4:8], uint32(kind))
	copy(buf[requestHeaderLen:], args)
	return buf
}

func ParseRequest(payload []byte) (Request, error) {
	if len(payload) < requestHeaderLen {
		return Request{}, fmt.Errorf("%w: request header needs %d bytes, got %d", ErrTruncated, requestHeaderLen, len(payload))
	}
	return Request{
		Serial: int32(binary.BigEndian.Uint32(payload[0:4])),
		Kind:   int32(binary.BigEndian.Uint32(payload[4:8])),
		Args:   copyBytes(payload[requestHeaderLen:]),
	}, nil
}

// EncodeSolicited builds [type=solicited][serial][status][body].
func EncodeSolicited(serial int32, status int32, body []byte) []byte {
	buf := make([]byte, responseTypeLen+solicitedHeaderLen+len(body))
	binary.BigEndian.PutUint32(buf[0:4], uint32(ResponseSolicited))
	binary.BigEndian.PutUint32(buf[4:8], uint32(serial))
	binary.BigEndian.PutUint32(buf[8:12], uint32(status))
	copy(buf[12:], body)
	return buf
}

// EncodeUnsolicited builds [type=unsolicited][kind][body].
func EncodeUnsolicited(kind int32, body []byte) []byte {
	buf := make([]byte, responseTypeLen+unsolicitedHeaderLen+len(body))
	binary.BigEndian.PutUint32(buf[0:4], uint32(ResponseUnsolicited))
	binary.BigEndian.PutUint32(buf[4:8], uint32(kind))
	copy(buf[8:], body)
	return buf
}

// ParseInbound classifies and splits one inbound payload. Body aliases payload.
func ParseInbound(payload []byte) (Inbound, error) {
	if len(payload) < responseTypeLen {
		return Inbound{}, fmt.Errorf("%w: missing response type", ErrTruncated)
	}
	typ := ResponseType(int32(binary.BigEndian.Uint32(payload[0:4])))
	rest := payload[responseTypeLen:]
	switch typ {
	case ResponseSolicited:
		if len(rest) < solicitedHeaderLen {
			return Inbound{}, fmt.Errorf("%w: solicited header needs %d bytes, got %d", ErrTruncated, solicitedHeaderLen, len(rest))
		}
		return Inbound{
			Type:   typ,
			Serial: int32(binary.BigEndian.Uint32(rest[0:4])),
			Status: int32(binary.BigEndian.Uint32(rest[4:8])),
			Body:   rest[solicitedHeaderLen:],
		}, nil
	case ResponseUnsolicited:
		if len(rest) < unsolicitedHeaderLen {
			return Inbound{}, fmt.Errorf("%w: unsolicited header needs %d bytes, got %d", ErrTruncated, unsolicitedHeaderLen, len(rest))
		}
		return Inbound{
			Type: typ,
			Kind: int32(binary.BigEndian.Uint32(rest[0:4])),
			Body: rest[unsolicitedHeaderLen:],
		}, nil
	default:
		return Inbound{}, fmt.Errorf("%w: %d", ErrUnknownResponseType, int32(typ))
	}
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
