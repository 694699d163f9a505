package modem

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/modemctl/internal/protocol"
	"github.com/danmuck/modemctl/internal/protocol/parcel"
	"github.com/danmuck/modemctl/internal/ril"
	"github.com/danmuck/modemctl/internal/ril/callctl"
	"github.com/danmuck/modemctl/internal/ril/decoders"
	"github.com/danmuck/modemctl/internal/ril/transport"
	"github.com/danmuck/modemctl/internal/testutil/fakemodem"
	"github.com/danmuck/modemctl/internal/testutil/testlog"
	"github.com/fxamacker/cbor/v2"
)

const wait = 2 * time.Second

func startClient(t *testing.T) (*Client, *fakemodem.Daemon) {
	t.Helper()
	d := fakemodem.Start(t)
	cfg := DefaultConfig()
	cfg.Endpoint = d.Path()
	cfg.Transport.DisconnectTimeout = time.Second
	cfg.Transport.Backoff = transport.BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 1.0}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	d.WaitConnected(t, wait)
	waitReady(t, c)
	return c, d
}

func waitReady(t *testing.T, c *Client) {
	t.Helper()
	deadline := time.Now().Add(wait)
	for !c.Ready() {
		if time.Now().After(deadline) {
			t.Fatalf("client not ready, state=%s", c.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func await(t *testing.T, f *ril.Future) (ril.Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	res, err := f.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("future did not resolve")
	}
	return res, err
}

func pending(t *testing.T, f *ril.Future) {
	t.Helper()
	if _, err := f.Result(); !errors.Is(err, ril.ErrPending) {
		t.Fatalf("expected pending future, got %v", err)
	}
}

func TestSubmitRoundTrip(t *testing.T) {
	testlog.Start(t)

	c, d := startClient(t)
	f := c.Submit(ril.RequestOperator, nil)
	req := d.NextRequest(t, wait)
	if req.Serial != 0 || req.Kind != int32(ril.RequestOperator) {
		t.Fatalf("unexpected request: %+v", req)
	}
	body := parcel.NewWriter().Strings("Example Mobile", "EXM", "310260").Encoded()
	if err := d.Respond(req.Serial, protocol.StatusSuccess, body); err != nil {
		t.Fatalf("respond: %v", err)
	}
	res, err := await(t, f)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	op, ok := res.Value.(decoders.Operator)
	if !ok || op.Short != "EXM" || res.Serial != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSubmitBeforeStartFailsUnavailable(t *testing.T) {
	testlog.Start(t)

	cfg := DefaultConfig()
	cfg.Endpoint = "/nonexistent/rild"
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := c.Submit(ril.RequestDial, nil).Result(); !errors.Is(err, ril.ErrTransportUnavailable) {
		t.Fatalf("expected ErrTransportUnavailable, got %v", err)
	}
}

func TestModemRejectionSurfacesStatus(t *testing.T) {
	testlog.Start(t)

	c, d := startClient(t)
	d.SetResponder(func(req protocol.Request) (int32, []byte, bool) {
		return int32(ril.StatusGenericFailure), parcel.NewWriter().Int32(3).String("").Int32(500).Encoded(), true
	})
	_, err := await(t, c.Submit(ril.RequestSendSMS, decoders.SMSArgs("", "0011")))
	var modemErr *ril.ModemError
	if !errors.As(err, &modemErr) || modemErr.Status != ril.StatusGenericFailure {
		t.Fatalf("expected ModemError, got %v", err)
	}
	if sms, ok := modemErr.Partial.(decoders.SMSResult); !ok || sms.ErrorCode != 500 {
		t.Fatalf("expected partial SMS result, got %#v", modemErr.Partial)
	}
}

func TestDropFailsOutstandingAndReconnectResetsSerial(t *testing.T) {
	testlog.Start(t)

	c, d := startClient(t)
	futures := []*ril.Future{
		c.Submit(ril.RequestDial, decoders.DialArgs("+15550100", 0)),
		c.Submit(ril.RequestGetCurrentCalls, nil),
		c.Submit(ril.RequestSignalStrength, nil),
	}
	for i := range futures {
		if req := d.NextRequest(t, wait); req.Serial != int32(i) {
			t.Fatalf("request %d had serial %d", i, req.Serial)
		}
	}

	d.Drop()
	for i, f := range futures {
		if _, err := await(t, f); !errors.Is(err, ril.ErrTransportUnavailable) {
			t.Fatalf("future %d: expected ErrTransportUnavailable, got %v", i, err)
		}
	}
	if n := len(c.Pending()); n != 0 {
		t.Fatalf("table not empty after drop: %d", n)
	}

	d.WaitConnected(t, wait)
	waitReady(t, c)
	c.Submit(ril.RequestBasebandVersion, nil)
	if req := d.NextRequest(t, wait); req.Serial != 0 {
		t.Fatalf("first serial after reconnect = %d, want 0", req.Serial)
	}
}

func TestLateResponseAfterReconnectIsUnmatched(t *testing.T) {
	testlog.Start(t)

	c, d := startClient(t)
	old := c.Submit(ril.RequestOperator, nil)
	d.NextRequest(t, wait)
	d.Drop()
	if _, err := await(t, old); !errors.Is(err, ril.ErrTransportUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}

	d.WaitConnected(t, wait)
	waitReady(t, c)
	// Serial 5 was never issued on the new connection.
	if err := d.Respond(5, protocol.StatusSuccess, nil); err != nil {
		t.Fatalf("respond: %v", err)
	}
	fresh := c.Submit(ril.RequestGetIMEI, nil)
	req := d.NextRequest(t, wait)
	_ = d.Respond(req.Serial, protocol.StatusSuccess, parcel.NewWriter().String("490154203237518").Encoded())
	res, err := await(t, fresh)
	if err != nil || res.Value != "490154203237518" {
		t.Fatalf("unexpected result %+v %v", res, err)
	}
}

func TestToneHoldScenarioOverTheWire(t *testing.T) {
	testlog.Start(t)

	c, d := startClient(t)

	start := c.StartTone('5')
	req := d.NextRequest(t, wait)
	if req.Kind != int32(ril.RequestDTMFStart) {
		t.Fatalf("expected DTMF_START, got %d", req.Kind)
	}

	conf := c.SubmitHoldClass(ril.RequestConference, nil)
	select {
	case r := <-d.Requests():
		t.Fatalf("conference must be deferred, saw %+v", r)
	case <-time.After(50 * time.Millisecond):
	}

	_ = d.Respond(req.Serial, protocol.StatusSuccess, nil)
	if _, err := await(t, start); err != nil {
		t.Fatalf("start: %v", err)
	}
	stop := d.NextRequest(t, wait)
	if stop.Kind != int32(ril.RequestDTMFStop) {
		t.Fatalf("expected synthesized DTMF_STOP, got %d", stop.Kind)
	}

	_ = d.Respond(stop.Serial, protocol.StatusSuccess, nil)
	held := d.NextRequest(t, wait)
	if held.Kind != int32(ril.RequestConference) {
		t.Fatalf("expected CONFERENCE, got %d", held.Kind)
	}
	pending(t, conf)

	_ = d.Respond(held.Serial, protocol.StatusSuccess, nil)
	if _, err := await(t, conf); err != nil {
		t.Fatalf("conference: %v", err)
	}

	c.SubmitTone(callctl.ToneStart, '1')
	if next := d.NextRequest(t, wait); next.Kind != int32(ril.RequestDTMFStart) {
		t.Fatalf("fresh start not sent immediately, got %d", next.Kind)
	}
}

func TestSubmitRoutesHoldAndToneKinds(t *testing.T) {
	testlog.Start(t)

	c, d := startClient(t)
	d.SetResponder(func(protocol.Request) (int32, []byte, bool) { return 0, nil, true })

	if _, err := await(t, c.Submit(ril.RequestSwitchWaitingOrHoldingAndActive, nil)); err != nil {
		t.Fatalf("switch: %v", err)
	}
	args, _ := decoders.ToneArgs('9')
	if _, err := await(t, c.Submit(ril.RequestDTMFStart, args)); err != nil {
		t.Fatalf("tone start: %v", err)
	}
	if _, err := await(t, c.Submit(ril.RequestDTMFStop, nil)); err != nil {
		t.Fatalf("tone stop: %v", err)
	}
	if c.CallControlPhase() != callctl.PhaseIdle {
		t.Fatalf("expected idle phase, got %s", c.CallControlPhase())
	}
	if _, err := c.Submit(ril.RequestDTMFStart, nil).Result(); err == nil {
		t.Fatalf("tone without digit should fail")
	}
}

func TestVendorEventArrivesAsStandardKind(t *testing.T) {
	testlog.Start(t)

	c, d := startClient(t)
	sub := c.Subscribe(ril.EventSignalStrength, ril.EventVendorSignalStrength)
	defer sub.Close()

	body, _ := cbor.Marshal(decoders.SignalStrength{GSMSignal: 31, LTESignal: -1, LTERSRP: -90, LTERSRQ: -8})
	if err := d.Unsolicited(int32(ril.EventVendorSignalStrength), body); err != nil {
		t.Fatalf("unsolicited: %v", err)
	}
	select {
	case ev := <-sub.Events():
		if ev.Kind != ril.EventSignalStrength || ev.Source != ril.EventVendorSignalStrength {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(wait):
		t.Fatalf("event not delivered")
	}
	select {
	case ev := <-sub.Events():
		t.Fatalf("event delivered twice: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeAfterCloseIsClosed(t *testing.T) {
	testlog.Start(t)

	c, _ := startClient(t)
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	sub := c.Subscribe(ril.EventCallRing)
	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Fatalf("expected closed subscription")
		}
	case <-time.After(wait):
		t.Fatalf("subscription after close left open")
	}
}

func TestRequestTimeout(t *testing.T) {
	testlog.Start(t)

	d := fakemodem.Start(t)
	cfg := DefaultConfig()
	cfg.Endpoint = d.Path()
	cfg.RequestTimeout = 30 * time.Millisecond
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = c.Close() }()
	waitReady(t, c)

	if _, err := await(t, c.Submit(ril.RequestBasebandVersion, nil)); !errors.Is(err, ril.ErrRequestTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	testlog.Start(t)

	cfg := DefaultConfig()
	if err := cfg.Validate(); !errors.Is(err, ErrEndpointRequired) {
		t.Fatalf("expected ErrEndpointRequired, got %v", err)
	}
	cfg.Endpoint = "rild"
	cfg.Dialer = "tcp"
	if err := cfg.Validate(); !errors.Is(err, ErrUnknownDialer) {
		t.Fatalf("expected ErrUnknownDialer, got %v", err)
	}
	cfg.Dialer = DialerSerial
	d, err := cfg.NewDialer()
	if err != nil || d.String() != "serial:rild" {
		t.Fatalf("serial dialer: %v %v", d, err)
	}
}

func TestSlotEndpoint(t *testing.T) {
	cases := map[int]string{0: "rild", 1: "rild2", 2: "rild3"}
	for slot, want := range cases {
		if got := SlotEndpoint("rild", slot); got != want {
			t.Fatalf("slot %d: got %q want %q", slot, got, want)
		}
	}
}
