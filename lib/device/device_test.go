package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func setupTest(t *testing.T, ids ...string) (*FakeGateway, *Controller) {
	t.Helper()
	gw := NewFakeGateway(ids...)
	c := NewController(gw, NewTracker(), Options{Timeout: 200 * time.Millisecond})
	return gw, c
}

func TestTrackerUnknownDefault(t *testing.T) {
	tr := NewTracker()
	if tr.Get("nope") != UnknownIsOn {
		t.Errorf("got %v for unknown device, want %v", tr.Get("nope"), UnknownIsOn)
	}
	if _, ok := tr.Lookup("nope"); ok {
		t.Error("unknown device reported as known")
	}

	tr.Set("a", true)
	if !tr.Get("a") {
		t.Error("expected a on")
	}
	tr.Set("a", false)
	if tr.Get("a") {
		t.Error("expected last write to win")
	}
}

func TestTrackerControllingCounts(t *testing.T) {
	tr := NewTracker()
	tr.SetControlling("a", true)
	tr.SetControlling("a", true)
	tr.SetControlling("a", false)
	if !tr.IsControlling("a") {
		t.Error("flag cleared while a call is still in flight")
	}
	tr.SetControlling("a", false)
	if tr.IsControlling("a") {
		t.Error("flag not cleared")
	}
	tr.SetControlling("a", false)
	if tr.IsControlling("a") {
		t.Error("extra release must not go negative")
	}
}

func TestTrackerObserverAndSnapshot(t *testing.T) {
	tr := NewTracker()
	var mu sync.Mutex
	var seen []State
	tr.OnChange(func(st State) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	})

	tr.Set("b", true)
	tr.ForceOff([]string{"b", "a"})

	snap := tr.Snapshot()
	if len(snap) != 2 || snap[0].DeviceID != "a" || snap[1].DeviceID != "b" {
		t.Fatalf("got %+v", snap)
	}
	if snap[0].IsOn || snap[1].IsOn {
		t.Error("ForceOff left a device on")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Errorf("got %d notifications, want 3", len(seen))
	}
}

func TestSetUpdatesTracker(t *testing.T) {
	gw, c := setupTest(t, "a")
	if err := c.TurnOn(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	if !c.Tracker().Get("a") || !gw.Power("a") {
		t.Error("expected a on")
	}
	if c.Tracker().IsControlling("a") {
		t.Error("controlling flag not released")
	}
}

func TestFailedCallLeavesStateStale(t *testing.T) {
	gw, c := setupTest(t, "a")
	c.Tracker().Set("a", true)
	gw.Fail("a", errors.New("unreachable"))

	if err := c.TurnOff(context.Background(), "a"); err == nil {
		t.Fatal("expected error")
	}
	if !c.Tracker().Get("a") {
		t.Error("failed call changed tracked state")
	}
	if c.Tracker().IsControlling("a") {
		t.Error("controlling flag not released after failure")
	}
}

func TestHungCallTimesOut(t *testing.T) {
	gw, c := setupTest(t, "a")
	gw.SetDelay("a", 10*time.Second)

	start := time.Now()
	err := c.TurnOn(context.Background(), "a")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout not enforced")
	}
	if c.Tracker().IsControlling("a") {
		t.Error("controlling flag stuck after timeout")
	}
}

func TestToggleUnknownTurnsOn(t *testing.T) {
	_, c := setupTest(t, "a")
	on, err := c.Toggle(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	if !on || !c.Tracker().Get("a") {
		t.Error("toggle of unknown device should turn it on")
	}
}

func TestApplyIsParallelAndIsolated(t *testing.T) {
	gw, c := setupTest(t, "a", "b", "c")
	gw.SetDelay("a", 100*time.Millisecond)
	gw.SetDelay("b", 100*time.Millisecond)
	gw.SetDelay("c", 100*time.Millisecond)
	gw.Fail("a", errors.New("boom"))

	start := time.Now()
	rs := c.Apply(context.Background(), []Op{
		{DeviceID: "a", On: true},
		{DeviceID: "b", On: true},
		{DeviceID: "c", On: true},
	})
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Errorf("fan-out took %v, calls look serialized", elapsed)
	}

	if len(rs) != 3 || rs[0].DeviceID != "a" || rs[2].DeviceID != "c" {
		t.Fatalf("results out of order: %+v", rs)
	}
	if rs[0].Err == nil {
		t.Error("expected a to fail")
	}
	if rs.Succeeded() != 2 || len(rs.Failed()) != 1 {
		t.Errorf("got %d ok %d failed", rs.Succeeded(), len(rs.Failed()))
	}
	if rs.Err() == nil {
		t.Error("expected joined error")
	}
	if c.Tracker().Get("a") || !c.Tracker().Get("b") || !c.Tracker().Get("c") {
		t.Error("tracker does not match outcomes")
	}
}

func TestApplyIssuesEveryOpAtOnce(t *testing.T) {
	var ids []string
	for i := 0; i < 20; i++ {
		ids = append(ids, fmt.Sprintf("plug-%d", i))
	}
	gw := NewFakeGateway(ids...)
	c := NewController(gw, NewTracker(), Options{Timeout: time.Second})
	ops := make([]Op, len(ids))
	for i, id := range ids {
		gw.SetDelay(id, 300*time.Millisecond)
		ops[i] = Op{DeviceID: id, On: true}
	}

	start := time.Now()
	rs := c.Apply(context.Background(), ops)
	if elapsed := time.Since(start); elapsed > 550*time.Millisecond {
		t.Errorf("20 slow calls took %v, want one round", elapsed)
	}
	if len(rs.Failed()) != 0 {
		t.Fatalf("got failures %+v", rs.Failed())
	}

	calls := gw.Calls()
	if len(calls) != 20 {
		t.Fatalf("got %d calls, want 20", len(calls))
	}
	firstEnd := calls[0].End
	for _, call := range calls {
		if call.End.Before(firstEnd) {
			firstEnd = call.End
		}
	}
	for _, call := range calls {
		if !call.Start.Before(firstEnd) {
			t.Errorf("%s started at %v, after a call had already finished", call.DeviceID, call.Start.Sub(start))
		}
	}
}

func TestApplyHonoursLimit(t *testing.T) {
	gw := NewFakeGateway("a", "b")
	c := NewController(gw, NewTracker(), Options{MaxParallel: 1})
	gw.SetDelay("a", 80*time.Millisecond)
	gw.SetDelay("b", 80*time.Millisecond)

	c.Apply(context.Background(), []Op{{DeviceID: "a", On: true}, {DeviceID: "b", On: true}})
	calls := gw.Calls()
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
	if calls[1].Start.Before(calls[0].End) {
		t.Error("second call started before the first finished")
	}
}

func TestBlackoutHitsEveryDevice(t *testing.T) {
	gw, c := setupTest(t, "a", "b", "c", "d")
	c.Tracker().Set("a", true)
	c.Tracker().Set("b", false)

	rs := c.Blackout(context.Background())
	if len(rs) != 4 {
		t.Fatalf("got %d results, want 4", len(rs))
	}
	calls := gw.Calls()
	if len(calls) != 4 {
		t.Fatalf("got %d calls, want 4", len(calls))
	}
	seen := map[string]bool{}
	for _, call := range calls {
		if call.On {
			t.Errorf("%s turned on during blackout", call.DeviceID)
		}
		seen[call.DeviceID] = true
	}
	if len(seen) != 4 {
		t.Errorf("got calls for %v, want one per device", seen)
	}
}

func TestRefreshSeedsTracker(t *testing.T) {
	gw, c := setupTest(t, "b", "a")
	gw.SetPower("a", true)

	devs, err := c.Refresh(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(devs) != 2 || devs[0].ID != "a" {
		t.Fatalf("got %+v", devs)
	}
	if !c.Tracker().Get("a") {
		t.Error("reported state not seeded")
	}
	if _, ok := c.Tracker().Lookup("b"); ok {
		t.Error("device without reported state should stay unknown")
	}

	gw.SetListError(errors.New("offline"))
	if _, err := c.Refresh(context.Background()); err == nil {
		t.Error("expected list error")
	}
	if len(c.Devices(context.Background())) != 2 {
		t.Error("cached inventory lost after failed refresh")
	}
}

func TestUnknownDevice(t *testing.T) {
	_, c := setupTest(t, "a")
	err := c.TurnOn(context.Background(), "ghost")
	if !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("got %v, want ErrUnknownDevice", err)
	}
}
