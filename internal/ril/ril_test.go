package ril

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFutureResolvesOnce(t *testing.T) {
	f := NewFuture()
	if _, err := f.Result(); !errors.Is(err, ErrPending) {
		t.Fatalf("expected ErrPending, got %v", err)
	}
	if !f.Resolve(Result{Serial: 1, Kind: RequestDial}, nil) {
		t.Fatalf("first resolve should win")
	}
	if f.Resolve(Result{Serial: 2}, ErrBusy) {
		t.Fatalf("second resolve should be ignored")
	}
	res, err := f.Result()
	if err != nil || res.Serial != 1 {
		t.Fatalf("unexpected outcome: %+v %v", res, err)
	}
}

func TestFutureWaitHonorsContext(t *testing.T) {
	f := NewFuture()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	go f.Completion()(Result{Serial: 3}, nil)
	res, err := f.Wait(context.Background())
	if err != nil || res.Serial != 3 {
		t.Fatalf("unexpected outcome: %+v %v", res, err)
	}
}

func TestFailedFuture(t *testing.T) {
	f := Failed(RequestDTMFStart, ErrBusy)
	select {
	case <-f.Done():
	default:
		t.Fatalf("failed future should be resolved")
	}
	res, err := f.Result()
	if !errors.Is(err, ErrBusy) || res.Kind != RequestDTMFStart {
		t.Fatalf("unexpected outcome: %+v %v", res, err)
	}
}

func TestErrorTaxonomyUnwraps(t *testing.T) {
	var modemErr error = &ModemError{Kind: RequestConference, Status: StatusGenericFailure}
	if !errors.Is(modemErr, ErrModemRejected) {
		t.Fatalf("ModemError should unwrap to ErrModemRejected")
	}
	cause := errors.New("short buffer")
	var malformed error = &MalformedResponseError{Kind: RequestOperator, Err: cause}
	if !errors.Is(malformed, ErrMalformedResponse) || !errors.Is(malformed, cause) {
		t.Fatalf("MalformedResponseError should unwrap to both sentinel and cause")
	}
	var target *ModemError
	if !errors.As(modemErr, &target) || target.Status != StatusGenericFailure {
		t.Fatalf("errors.As failed: %v", modemErr)
	}
}

func TestKindClassification(t *testing.T) {
	for _, k := range []RequestKind{RequestSwitchWaitingOrHoldingAndActive, RequestConference, RequestSeparateConnection, RequestExplicitCallTransfer} {
		if !k.IsHoldClass() || k.IsTone() {
			t.Fatalf("%s should be hold-class only", k)
		}
	}
	for _, k := range []RequestKind{RequestDTMFStart, RequestDTMFStop} {
		if !k.IsTone() || k.IsHoldClass() {
			t.Fatalf("%s should be tone only", k)
		}
	}
	if RequestDial.IsTone() || RequestDial.IsHoldClass() {
		t.Fatalf("DIAL should be unclassified")
	}
}

func TestParseRequestKind(t *testing.T) {
	k, err := ParseRequestKind("CONFERENCE")
	if err != nil || k != RequestConference {
		t.Fatalf("by name: %v %v", k, err)
	}
	k, err = ParseRequestKind("9")
	if err != nil || k != RequestGetCurrentCalls {
		t.Fatalf("by id: %v %v", k, err)
	}
	if _, err := ParseRequestKind("NOPE"); err == nil {
		t.Fatalf("expected error for unknown name")
	}
	if RequestKind(999).String() != "REQUEST_999" || EventKind(5000).String() != "UNSOL_5000" {
		t.Fatalf("unexpected fallback names")
	}
}

func TestParseEventKind(t *testing.T) {
	cases := []struct {
		raw  string
		want EventKind
	}{
		{"UNSOL_CALL_RING", EventCallRing},
		{"call_ring", EventCallRing},
		{"1009", EventSignalStrength},
	}
	for _, tc := range cases {
		got, err := ParseEventKind(tc.raw)
		if err != nil || got != tc.want {
			t.Fatalf("%q: got %v %v", tc.raw, got, err)
		}
	}
	if _, err := ParseEventKind("ring ring"); err == nil {
		t.Fatalf("expected error")
	}
}
