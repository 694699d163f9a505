package decoders

import (
	"fmt"

	"github.com/danmuck/modemctl/internal/protocol/parcel"
	"github.com/danmuck/modemctl/internal/ril"
	"github.com/danmuck/modemctl/internal/ril/dispatch"
	"github.com/fxamacker/cbor/v2"
)

// OEMPayload is an OEM hook blob. Fields is set when the blob is a CBOR map
// with integer keys, which is how the vendor extensions we know about frame
// their data.
type OEMPayload struct {
	Raw    []byte
	Fields map[int]any
}

var decMode = mustDecMode()

func mustDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels: 16,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}

// CBOR builds a response decoder for a body holding one CBOR item of type T.
func CBOR[T any]() dispatch.ResponseDecoder {
	return func(kind ril.RequestKind, body []byte) (any, error) {
		var v T
		if err := decMode.Unmarshal(body, &v); err != nil {
			return nil, fmt.Errorf("decoders: %s cbor: %w", kind, err)
		}
		return v, nil
	}
}

// CBOREvent is the event form of CBOR.
func CBOREvent[T any]() dispatch.EventDecoder {
	return func(kind ril.EventKind, body []byte) (any, error) {
		var v T
		if err := decMode.Unmarshal(body, &v); err != nil {
			return nil, fmt.Errorf("decoders: %s cbor: %w", kind, err)
		}
		return v, nil
	}
}

func DecodeOEMHookResponse(_ ril.RequestKind, body []byte) (any, error) {
	return decodeOEM(body)
}

func DecodeOEMHookEvent(_ ril.EventKind, body []byte) (any, error) {
	return decodeOEM(body)
}

func decodeOEM(body []byte) (OEMPayload, error) {
	r := parcel.NewReader(body)
	raw, err := r.Bytes()
	if err != nil {
		return OEMPayload{}, err
	}
	if err := finish(r); err != nil {
		return OEMPayload{}, err
	}
	out := OEMPayload{Raw: raw}
	if len(raw) == 0 {
		return out, nil
	}
	var m map[int]any
	if err := decMode.Unmarshal(raw, &m); err == nil {
		out.Fields = m
	}
	return out, nil
}

// EncodeOEMFields encodes fields as a CBOR blob for an OEM_HOOK_RAW request.
func EncodeOEMFields(fields map[int]any) ([]byte, error) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	blob, err := em.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("decoders: oem cbor: %w", err)
	}
	return parcel.NewWriter().Bytes(blob).Encoded(), nil
}
