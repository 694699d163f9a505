package ril

import (
	"errors"
	"fmt"
)

var (
	ErrTransportUnavailable = errors.New("ril: transport unavailable")
	ErrUnmatchedResponse    = errors.New("ril: unmatched response")
	ErrMalformedResponse    = errors.New("ril: malformed response")
	ErrModemRejected        = errors.New("ril: modem rejected request")
	ErrBusy                 = errors.New("ril: call control busy")
	ErrRequestTimeout       = errors.New("ril: request timed out")
	ErrToneSequence         = errors.New("ril: tone direction inconsistent with tone state")
	ErrTonePreempted        = errors.New("ril: tone discarded for hold-class request")
	ErrNotHoldClass         = errors.New("ril: not a hold-class request")
)

// Status is the solicited response status word. Zero means success.
type Status int32

const (
	StatusSuccess             Status = 0
	StatusRadioNotAvailable   Status = 1
	StatusGenericFailure      Status = 2
	StatusPasswordIncorrect   Status = 3
	StatusRequestNotSupported Status = 6
	StatusCancelled           Status = 7
	StatusInvalidState        Status = 37
)

var statusNames = map[Status]string{
	StatusSuccess:             "SUCCESS",
	StatusRadioNotAvailable:   "RADIO_NOT_AVAILABLE",
	StatusGenericFailure:      "GENERIC_FAILURE",
	StatusPasswordIncorrect:   "PASSWORD_INCORRECT",
	StatusRequestNotSupported: "REQUEST_NOT_SUPPORTED",
	StatusCancelled:           "CANCELLED",
	StatusInvalidState:        "INVALID_STATE",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS_%d", int32(s))
}

// ModemError is a non-zero status returned by the modem. Partial holds the
// decoded body for kinds that carry a payload alongside an error.
type ModemError struct {
	Kind    RequestKind
	Status  Status
	Partial any
}

func (e *ModemError) Error() string {
	return fmt.Sprintf("ril: %s rejected: %s", e.Kind, e.Status)
}

func (e *ModemError) Unwrap() error {
	return ErrModemRejected
}

// MalformedResponseError wraps a decoder failure for one response.
type MalformedResponseError struct {
	Kind RequestKind
	Err  error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("ril: malformed %s response: %v", e.Kind, e.Err)
}

func (e *MalformedResponseError) Unwrap() []error {
	return []error{ErrMalformedResponse, e.Err}
}
