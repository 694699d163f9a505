// Package decoders holds the built-in decoders for a subset of request and
// event kinds, plus the argument encoders the CLI uses. Kinds without a
// decoder here resolve with their raw body.
package decoders

import (
	"errors"
	"fmt"

	"github.com/danmuck/modemctl/internal/protocol/parcel"
	"github.com/danmuck/modemctl/internal/ril"
	"github.com/danmuck/modemctl/internal/ril/dispatch"
)

var ErrTrailingBytes = errors.New("decoders: trailing bytes")

// SignalStrength is the standard signal report. Unknown fields are -1.
type SignalStrength struct {
	GSMSignal     int32 `cbor:"0,keyasint"`
	GSMBitErrRate int32 `cbor:"1,keyasint"`
	LTESignal     int32 `cbor:"2,keyasint"`
	LTERSRP       int32 `cbor:"3,keyasint"`
	LTERSRQ       int32 `cbor:"4,keyasint"`
}

// CallState mirrors the modem's call state word.
type CallState int32

const (
	CallActive CallState = iota
	CallHolding
	CallDialing
	CallAlerting
	CallIncoming
	CallWaiting
)

func (s CallState) String() string {
	switch s {
	case CallActive:
		return "active"
	case CallHolding:
		return "holding"
	case CallDialing:
		return "dialing"
	case CallAlerting:
		return "alerting"
	case CallIncoming:
		return "incoming"
	case CallWaiting:
		return "waiting"
	default:
		return fmt.Sprintf("call_state(%d)", int32(s))
	}
}

type Call struct {
	State   CallState
	Index   int32
	IsVoice bool
	Number  string
	Name    string
}

type Operator struct {
	Long    string
	Short   string
	Numeric string
}

// SMSResult is returned for SEND_SMS. The modem also sends it with a failure
// status, so it is registered with partial decoding.
type SMSResult struct {
	MessageRef int32
	AckPDU     string
	ErrorCode  int32
}

// Register installs every built-in decoder and vendor remap on reg.
func Register(reg *dispatch.Registry) error {
	responses := []struct {
		kind    ril.RequestKind
		decode  dispatch.ResponseDecoder
		partial bool
	}{
		{ril.RequestGetCurrentCalls, DecodeCalls, false},
		{ril.RequestDial, dispatch.VoidResponse, false},
		{ril.RequestHangup, dispatch.VoidResponse, false},
		{ril.RequestSwitchWaitingOrHoldingAndActive, dispatch.VoidResponse, false},
		{ril.RequestConference, dispatch.VoidResponse, false},
		{ril.RequestSeparateConnection, dispatch.VoidResponse, false},
		{ril.RequestExplicitCallTransfer, dispatch.VoidResponse, false},
		{ril.RequestDTMFStart, dispatch.VoidResponse, false},
		{ril.RequestDTMFStop, dispatch.VoidResponse, false},
		{ril.RequestRadioPower, dispatch.VoidResponse, false},
		{ril.RequestSignalStrength, DecodeSignalStrength, false},
		{ril.RequestVoiceRegistrationState, DecodeStrings, false},
		{ril.RequestOperator, DecodeOperator, false},
		{ril.RequestSendSMS, DecodeSMSResult, true},
		{ril.RequestGetIMEI, DecodeString, false},
		{ril.RequestBasebandVersion, DecodeString, false},
		{ril.RequestOEMHookRaw, DecodeOEMHookResponse, false},
	}
	for _, r := range responses {
		if err := reg.RegisterResponse(r.kind, r.decode, r.partial); err != nil {
			return err
		}
	}

	events := []struct {
		kind   ril.EventKind
		decode dispatch.EventDecoder
	}{
		{ril.EventRadioStateChanged, decodeRadioState},
		{ril.EventCallStateChanged, voidEvent},
		{ril.EventVoiceNetworkStateChanged, voidEvent},
		{ril.EventNewSMS, stringEvent},
		{ril.EventNITZTimeReceived, stringEvent},
		{ril.EventSignalStrength, signalStrengthEvent},
		{ril.EventCallRing, voidEvent},
		{ril.EventOEMHookRaw, DecodeOEMHookEvent},
		{ril.EventRingbackTone, decodeRingback},
		{ril.EventVendorSignalStrength, CBOREvent[SignalStrength]()},
		{ril.EventVendorCallRing, voidEvent},
		{ril.EventVendorNITZTime, stringEvent},
	}
	for _, e := range events {
		if err := reg.RegisterEvent(e.kind, e.decode); err != nil {
			return err
		}
	}

	remaps := map[ril.EventKind]ril.EventKind{
		ril.EventVendorSignalStrength: ril.EventSignalStrength,
		ril.EventVendorCallRing:       ril.EventCallRing,
		ril.EventVendorNITZTime:       ril.EventNITZTimeReceived,
	}
	for vendor, std := range remaps {
		if err := reg.RegisterRemap(vendor, std); err != nil {
			return err
		}
	}
	return nil
}

func DecodeSignalStrength(_ ril.RequestKind, body []byte) (any, error) {
	return decodeSignalStrength(body)
}

func decodeSignalStrength(body []byte) (SignalStrength, error) {
	r := parcel.NewReader(body)
	var s SignalStrength
	for _, dst := range []*int32{&s.GSMSignal, &s.GSMBitErrRate, &s.LTESignal, &s.LTERSRP, &s.LTERSRQ} {
		v, err := r.Int32()
		if err != nil {
			return SignalStrength{}, err
		}
		*dst = v
	}
	return s, finish(r)
}

func DecodeCalls(_ ril.RequestKind, body []byte) (any, error) {
	r := parcel.NewReader(body)
	n, err := r.Int32()
	if err != nil {
		return nil, err
	}
	// Smallest call record is five words.
	if n < 0 || int(n) > r.Remaining()/20 {
		return nil, fmt.Errorf("%w: call count %d", parcel.ErrInvalidLength, n)
	}
	calls := make([]Call, 0, n)
	for i := int32(0); i < n; i++ {
		var c Call
		state, err := r.Int32()
		if err != nil {
			return nil, err
		}
		c.State = CallState(state)
		if c.Index, err = r.Int32(); err != nil {
			return nil, err
		}
		if c.IsVoice, err = r.Bool(); err != nil {
			return nil, err
		}
		if c.Number, err = r.String(); err != nil {
			return nil, err
		}
		if c.Name, err = r.String(); err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	return calls, finish(r)
}

func DecodeOperator(_ ril.RequestKind, body []byte) (any, error) {
	r := parcel.NewReader(body)
	ss, err := r.Strings()
	if err != nil {
		return nil, err
	}
	if len(ss) != 3 {
		return nil, fmt.Errorf("decoders: operator wants 3 strings, got %d", len(ss))
	}
	return Operator{Long: ss[0], Short: ss[1], Numeric: ss[2]}, finish(r)
}

func DecodeSMSResult(_ ril.RequestKind, body []byte) (any, error) {
	r := parcel.NewReader(body)
	var out SMSResult
	var err error
	if out.MessageRef, err = r.Int32(); err != nil {
		return nil, err
	}
	if out.AckPDU, err = r.String(); err != nil {
		return nil, err
	}
	if out.ErrorCode, err = r.Int32(); err != nil {
		return nil, err
	}
	return out, finish(r)
}

func DecodeString(_ ril.RequestKind, body []byte) (any, error) {
	r := parcel.NewReader(body)
	s, err := r.String()
	if err != nil {
		return nil, err
	}
	return s, finish(r)
}

func DecodeStrings(_ ril.RequestKind, body []byte) (any, error) {
	r := parcel.NewReader(body)
	ss, err := r.Strings()
	if err != nil {
		return nil, err
	}
	return ss, finish(r)
}

func decodeRadioState(_ ril.EventKind, body []byte) (any, error) {
	r := parcel.NewReader(body)
	v, err := r.Int32()
	if err != nil {
		return nil, err
	}
	return v, finish(r)
}

func decodeRingback(_ ril.EventKind, body []byte) (any, error) {
	r := parcel.NewReader(body)
	v, err := r.Bool()
	if err != nil {
		return nil, err
	}
	return v, finish(r)
}

func signalStrengthEvent(_ ril.EventKind, body []byte) (any, error) {
	return decodeSignalStrength(body)
}

func stringEvent(_ ril.EventKind, body []byte) (any, error) {
	return DecodeString(0, body)
}

func voidEvent(ril.EventKind, []byte) (any, error) {
	return nil, nil
}

func finish(r *parcel.Reader) error {
	if n := r.Remaining(); n != 0 {
		return fmt.Errorf("%w: %d", ErrTrailingBytes, n)
	}
	return nil
}
