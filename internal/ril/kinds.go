package ril

import (
	"fmt"
	"strconv"
	"strings"
)

// RequestKind identifies a solicited command.
type RequestKind int32

// EventKind identifies an unsolicited event.
type EventKind int32

const (
	RequestGetCurrentCalls                 RequestKind = 9
	RequestDial                            RequestKind = 10
	RequestHangup                          RequestKind = 12
	RequestSwitchWaitingOrHoldingAndActive RequestKind = 15
	RequestConference                      RequestKind = 16
	RequestSignalStrength                  RequestKind = 19
	RequestVoiceRegistrationState          RequestKind = 20
	RequestOperator                        RequestKind = 22
	RequestRadioPower                      RequestKind = 23
	RequestSendSMS                         RequestKind = 25
	RequestGetIMEI                         RequestKind = 38
	RequestDTMFStart                       RequestKind = 49
	RequestDTMFStop                        RequestKind = 50
	RequestBasebandVersion                 RequestKind = 51
	RequestSeparateConnection              RequestKind = 52
	RequestOEMHookRaw                      RequestKind = 59
	RequestExplicitCallTransfer            RequestKind = 72
)

const (
	EventRadioStateChanged        EventKind = 1000
	EventCallStateChanged         EventKind = 1001
	EventVoiceNetworkStateChanged EventKind = 1002
	EventNewSMS                   EventKind = 1003
	EventNITZTimeReceived         EventKind = 1008
	EventSignalStrength           EventKind = 1009
	EventCallRing                 EventKind = 1018
	EventOEMHookRaw               EventKind = 1028
	EventRingbackTone             EventKind = 1029
)

// Vendor events carry the same meaning as a standard event in a vendor layout.
const (
	EventVendorSignalStrength EventKind = 11001
	EventVendorCallRing       EventKind = 11002
	EventVendorNITZTime       EventKind = 11003
)

var requestNames = map[RequestKind]string{
	RequestGetCurrentCalls:                 "GET_CURRENT_CALLS",
	RequestDial:                            "DIAL",
	RequestHangup:                          "HANGUP",
	RequestSwitchWaitingOrHoldingAndActive: "SWITCH_WAITING_OR_HOLDING_AND_ACTIVE",
	RequestConference:                      "CONFERENCE",
	RequestSignalStrength:                  "SIGNAL_STRENGTH",
	RequestVoiceRegistrationState:          "VOICE_REGISTRATION_STATE",
	RequestOperator:                        "OPERATOR",
	RequestRadioPower:                      "RADIO_POWER",
	RequestSendSMS:                         "SEND_SMS",
	RequestGetIMEI:                         "GET_IMEI",
	RequestDTMFStart:                       "DTMF_START",
	RequestDTMFStop:                        "DTMF_STOP",
	RequestBasebandVersion:                 "BASEBAND_VERSION",
	RequestSeparateConnection:              "SEPARATE_CONNECTION",
	RequestOEMHookRaw:                      "OEM_HOOK_RAW",
	RequestExplicitCallTransfer:            "EXPLICIT_CALL_TRANSFER",
}

var eventNames = map[EventKind]string{
	EventRadioStateChanged:        "UNSOL_RADIO_STATE_CHANGED",
	EventCallStateChanged:         "UNSOL_CALL_STATE_CHANGED",
	EventVoiceNetworkStateChanged: "UNSOL_VOICE_NETWORK_STATE_CHANGED",
	EventNewSMS:                   "UNSOL_NEW_SMS",
	EventNITZTimeReceived:         "UNSOL_NITZ_TIME_RECEIVED",
	EventSignalStrength:           "UNSOL_SIGNAL_STRENGTH",
	EventCallRing:                 "UNSOL_CALL_RING",
	EventOEMHookRaw:               "UNSOL_OEM_HOOK_RAW",
	EventRingbackTone:             "UNSOL_RINGBACK_TONE",
	EventVendorSignalStrength:     "UNSOL_VENDOR_SIGNAL_STRENGTH",
	EventVendorCallRing:           "UNSOL_VENDOR_CALL_RING",
	EventVendorNITZTime:           "UNSOL_VENDOR_NITZ_TIME",
}

func (k RequestKind) String() string {
	if name, ok := requestNames[k]; ok {
		return name
	}
	return fmt.Sprintf("REQUEST_%d", int32(k))
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("UNSOL_%d", int32(k))
}

// IsTone reports whether k starts or stops an in-call signaling tone.
func (k RequestKind) IsTone() bool {
	return k == RequestDTMFStart || k == RequestDTMFStop
}

// IsHoldClass reports whether k belongs to the hold/transfer/conference family.
func (k RequestKind) IsHoldClass() bool {
	switch k {
	case RequestSwitchWaitingOrHoldingAndActive,
		RequestConference,
		RequestSeparateConnection,
		RequestExplicitCallTransfer:
		return true
	default:
		return false
	}
}

// ParseRequestKind accepts a symbolic name or a decimal id.
func ParseRequestKind(raw string) (RequestKind, error) {
	want := strings.ToUpper(strings.TrimSpace(raw))
	for k, name := range requestNames {
		if name == want {
			return k, nil
		}
	}
	id, err := strconv.ParseInt(want, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("ril: unknown request kind %q", raw)
	}
	return RequestKind(id), nil
}

// ParseEventKind accepts a symbolic name, with or without the UNSOL_ prefix,
// or a decimal id.
func ParseEventKind(raw string) (EventKind, error) {
	want := strings.ToUpper(strings.TrimSpace(raw))
	for k, name := range eventNames {
		if name == want || name == "UNSOL_"+want {
			return k, nil
		}
	}
	id, err := strconv.ParseInt(want, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("ril: unknown event kind %q", raw)
	}
	return EventKind(id), nil
}
