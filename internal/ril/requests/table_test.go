package requests

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/modemctl/internal/ril"
	"github.com/danmuck/modemctl/internal/testutil/testlog"
)

func TestSubmitRejectedWhileClosed(t *testing.T) {
	testlog.Start(t)

	tbl := NewTable(0)
	if _, _, err := tbl.Submit(ril.RequestDial, nil); !errors.Is(err, ril.ErrTransportUnavailable) {
		t.Fatalf("expected ErrTransportUnavailable, got %v", err)
	}
}

func TestSubmitAssignsMonotonicSerialsFromInitial(t *testing.T) {
	testlog.Start(t)

	tbl := NewTable(0)
	tbl.Open(1)
	for i := int64(0); i < 3; i++ {
		serial, epoch, err := tbl.Submit(ril.RequestDial, nil)
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if serial != InitialSerial+i || epoch != 1 {
			t.Fatalf("unexpected serial/epoch: %d/%d", serial, epoch)
		}
	}
}

func TestConcurrentSubmitSerialsAreDistinct(t *testing.T) {
	testlog.Start(t)

	tbl := NewTable(0)
	tbl.Open(1)
	const n = 256
	serials := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, _, err := tbl.Submit(ril.RequestGetCurrentCalls, nil)
			if err != nil {
				t.Errorf("submit: %v", err)
				return
			}
			serials <- s
		}()
	}
	wg.Wait()
	close(serials)

	seen := make(map[int64]struct{}, n)
	for s := range serials {
		if _, dup := seen[s]; dup {
			t.Fatalf("duplicate serial %d", s)
		}
		seen[s] = struct{}{}
	}
	if len(seen) != n || tbl.Len() != n {
		t.Fatalf("expected %d entries, seen=%d table=%d", n, len(seen), tbl.Len())
	}
}

func TestCompleteRemovesOnce(t *testing.T) {
	testlog.Start(t)

	tbl := NewTable(0)
	tbl.Open(1)
	serial, _, _ := tbl.Submit(ril.RequestOperator, nil)

	e, ok := tbl.Complete(WireSerial(serial))
	if !ok || e.Serial != serial || e.Kind != ril.RequestOperator {
		t.Fatalf("unexpected entry: %+v %v", e, ok)
	}
	if _, ok := tbl.Complete(WireSerial(serial)); ok {
		t.Fatalf("duplicate complete should miss")
	}
	if _, ok := tbl.Complete(9999); ok {
		t.Fatalf("unknown serial should miss")
	}
}

func TestFailAllFailsEveryEntryExactlyOnce(t *testing.T) {
	testlog.Start(t)

	tbl := NewTable(0)
	tbl.Open(1)

	var mu sync.Mutex
	calls := make(map[int64]int)
	order := make([]int64, 0)
	for i := 0; i < 5; i++ {
		_, _, err := tbl.Submit(ril.RequestDial, func(res ril.Result, err error) {
			if !errors.Is(err, ril.ErrTransportUnavailable) {
				t.Errorf("unexpected error: %v", err)
			}
			mu.Lock()
			calls[res.Serial]++
			order = append(order, res.Serial)
			mu.Unlock()
		})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	if n := tbl.FailAll(ril.ErrTransportUnavailable); n != 5 {
		t.Fatalf("expected 5 failed, got %d", n)
	}
	if tbl.Len() != 0 {
		t.Fatalf("table not empty after FailAll: %d", tbl.Len())
	}
	for serial, n := range calls {
		if n != 1 {
			t.Fatalf("serial %d completed %d times", serial, n)
		}
	}
	for i, s := range order {
		if s != int64(i) {
			t.Fatalf("FailAll order not deterministic: %v", order)
		}
	}
	if tbl.FailAll(ril.ErrTransportUnavailable) != 0 {
		t.Fatalf("second FailAll should be a no-op")
	}
}

func TestFailAllClosesUntilReopenAndResetsSerial(t *testing.T) {
	testlog.Start(t)

	tbl := NewTable(0)
	tbl.Open(1)
	for i := 0; i < 3; i++ {
		_, _, _ = tbl.Submit(ril.RequestDial, nil)
	}
	tbl.FailAll(ril.ErrTransportUnavailable)
	if _, _, err := tbl.Submit(ril.RequestDial, nil); !errors.Is(err, ril.ErrTransportUnavailable) {
		t.Fatalf("submit after FailAll should be rejected, got %v", err)
	}

	tbl.Open(2)
	serial, epoch, err := tbl.Submit(ril.RequestDial, nil)
	if err != nil {
		t.Fatalf("submit after reopen: %v", err)
	}
	if serial != InitialSerial || epoch != 2 {
		t.Fatalf("expected first serial %d in epoch 2, got %d/%d", InitialSerial, serial, epoch)
	}
}

func TestCompleteRacingFailAllHasOneOwner(t *testing.T) {
	testlog.Start(t)

	for round := 0; round < 100; round++ {
		tbl := NewTable(0)
		tbl.Open(1)
		var fired atomic.Int32
		serial, _, _ := tbl.Submit(ril.RequestHangup, func(ril.Result, error) {
			fired.Add(1)
		})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if e, ok := tbl.Complete(WireSerial(serial)); ok {
				e.Resolve(ril.Result{}, nil)
			}
		}()
		go func() {
			defer wg.Done()
			tbl.FailAll(ril.ErrTransportUnavailable)
		}()
		wg.Wait()

		if got := fired.Load(); got != 1 {
			t.Fatalf("round %d: completion fired %d times", round, got)
		}
	}
}

func TestSubmitRacingFailAllLandsOnOneSide(t *testing.T) {
	testlog.Start(t)

	for round := 0; round < 100; round++ {
		tbl := NewTable(0)
		tbl.Open(1)
		var fired atomic.Int32
		var submitErr error
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _, submitErr = tbl.Submit(ril.RequestDial, func(ril.Result, error) { fired.Add(1) })
		}()
		go func() {
			defer wg.Done()
			tbl.FailAll(ril.ErrTransportUnavailable)
		}()
		wg.Wait()

		switch {
		case submitErr != nil:
			if fired.Load() != 0 {
				t.Fatalf("rejected submit must not complete")
			}
		default:
			// Inserted before FailAll (failed) or after it cannot happen: the table is closed.
			if fired.Load() != 1 {
				t.Fatalf("accepted submit must be failed exactly once, fired=%d", fired.Load())
			}
		}
		if tbl.Len() != 0 {
			t.Fatalf("round %d: table not empty", round)
		}
	}
}

func TestCancelRespectsEpoch(t *testing.T) {
	testlog.Start(t)

	tbl := NewTable(0)
	tbl.Open(1)
	serial, epoch, _ := tbl.Submit(ril.RequestDial, nil)
	if _, ok := tbl.Cancel(serial, epoch+1); ok {
		t.Fatalf("cancel with stale epoch should miss")
	}
	e, ok := tbl.Cancel(serial, epoch)
	if !ok {
		t.Fatalf("cancel should remove entry")
	}
	e.Drop()
	if tbl.Len() != 0 {
		t.Fatalf("table not empty after cancel")
	}
}

func TestRequestTimeoutExpiresEntry(t *testing.T) {
	testlog.Start(t)

	tbl := NewTable(20 * time.Millisecond)
	tbl.Open(1)
	done := make(chan error, 1)
	serial, _, _ := tbl.Submit(ril.RequestSignalStrength, func(_ ril.Result, err error) {
		done <- err
	})

	select {
	case err := <-done:
		if !errors.Is(err, ril.ErrRequestTimeout) {
			t.Fatalf("expected ErrRequestTimeout, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout did not fire")
	}
	if _, ok := tbl.Complete(WireSerial(serial)); ok {
		t.Fatalf("late response should be unmatched after expiry")
	}
}

func TestSnapshotIsOrdered(t *testing.T) {
	testlog.Start(t)

	tbl := NewTable(0)
	tbl.Open(1)
	for _, k := range []ril.RequestKind{ril.RequestDial, ril.RequestHangup, ril.RequestOperator} {
		_, _, _ = tbl.Submit(k, nil)
	}
	snap := tbl.Snapshot()
	if len(snap) != 3 || snap[0].Serial != 0 || snap[2].Kind != ril.RequestOperator {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}
