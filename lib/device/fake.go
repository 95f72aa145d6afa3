package device

import (
	"context"
	"sync"
	"time"
)

type Call struct {
	DeviceID string
	On       bool
	Start    time.Time
	End      time.Time
}

// FakeGateway is an in-memory Gateway for tests and demo mode. Calls are
// recorded when they start so concurrent fan-out is observable.
type FakeGateway struct {
	mu      sync.Mutex
	devices []Device
	power   map[string]bool
	fail    map[string]error
	delay   map[string]time.Duration
	listErr error
	calls   []Call
	started chan Call
}

func NewFakeGateway(ids ...string) *FakeGateway {
	f := &FakeGateway{
		power:   map[string]bool{},
		fail:    map[string]error{},
		delay:   map[string]time.Duration{},
		started: make(chan Call, 256),
	}
	for _, id := range ids {
		f.devices = append(f.devices, Device{ID: id, Alias: id, Type: "fake"})
	}
	return f
}

// Fail makes every later call on id return err. A nil err clears it.
func (f *FakeGateway) Fail(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, id)
		return
	}
	f.fail[id] = err
}

// SetDelay makes calls on id take d, or until the call's context ends.
func (f *FakeGateway) SetDelay(id string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay[id] = d
}

func (f *FakeGateway) SetListError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

// SetPower sets the relay state List reports without recording a call.
func (f *FakeGateway) SetPower(id string, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.power[id] = on
}

func (f *FakeGateway) Power(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.power[id]
}

func (f *FakeGateway) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// Started delivers each call as it begins.
func (f *FakeGateway) Started() <-chan Call {
	return f.started
}

func (f *FakeGateway) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
	for {
		select {
		case <-f.started:
		default:
			return
		}
	}
}

func (f *FakeGateway) List(ctx context.Context) ([]Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]Device, len(f.devices))
	for i, d := range f.devices {
		if _, ok := f.power[d.ID]; ok {
			on := f.power[d.ID]
			d.IsOn = &on
		}
		out[i] = d
	}
	return out, nil
}

func (f *FakeGateway) TurnOn(ctx context.Context, id string) error {
	return f.set(ctx, id, true)
}

func (f *FakeGateway) TurnOff(ctx context.Context, id string) error {
	return f.set(ctx, id, false)
}

func (f *FakeGateway) set(ctx context.Context, id string, on bool) error {
	f.mu.Lock()
	idx := len(f.calls)
	call := Call{DeviceID: id, On: on, Start: time.Now()}
	f.calls = append(f.calls, call)
	d := f.delay[id]
	known := f.known(id)
	f.mu.Unlock()

	select {
	case f.started <- call:
	default:
	}

	if d > 0 {
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			f.finish(idx)
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[idx].End = time.Now()
	if !known {
		return ErrUnknownDevice
	}
	if err := f.fail[id]; err != nil {
		return err
	}
	f.power[id] = on
	return nil
}

func (f *FakeGateway) finish(idx int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[idx].End = time.Now()
}

func (f *FakeGateway) known(id string) bool {
	for _, d := range f.devices {
		if d.ID == id {
			return true
		}
	}
	return false
}
