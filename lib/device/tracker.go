package device

import (
	"sort"
	"sync"
	"time"
)

// UnknownIsOn is the state assumed for a device the tracker has never seen.
// Toggle turns such devices on.
const UnknownIsOn = false

type State struct {
	DeviceID    string    `json:"device_id"`
	IsOn        bool      `json:"is_on"`
	Controlling bool      `json:"controlling"`
	LastUpdated time.Time `json:"last_updated"`
}

// Tracker is the last known on/off state of every device plus the set of
// devices with a control call in flight. Writes are last-write-wins.
type Tracker struct {
	mu          sync.Mutex
	states      map[string]State
	controlling map[string]int
	observers   []func(State)
}

func NewTracker() *Tracker {
	return &Tracker{
		states:      map[string]State{},
		controlling: map[string]int{},
	}
}

// OnChange registers fn to be called after every state or controlling
// change. fn runs on the goroutine that made the change.
func (t *Tracker) OnChange(fn func(State)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, fn)
}

func (t *Tracker) Set(id string, on bool) {
	t.mu.Lock()
	st := State{DeviceID: id, IsOn: on, LastUpdated: time.Now(), Controlling: t.controlling[id] > 0}
	t.states[id] = st
	obs := t.observers
	t.mu.Unlock()

	notify(obs, st)
}

func (t *Tracker) Get(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[id]
	if !ok {
		return UnknownIsOn
	}
	return st.IsOn
}

func (t *Tracker) Lookup(id string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[id]
	st.Controlling = t.controlling[id] > 0
	return st, ok
}

// SetControlling marks or clears an in-flight call on id. Overlapping calls
// on the same device are counted so the flag clears only when the last one
// finishes.
func (t *Tracker) SetControlling(id string, controlling bool) {
	t.mu.Lock()
	if controlling {
		t.controlling[id]++
	} else if t.controlling[id] > 0 {
		t.controlling[id]--
		if t.controlling[id] == 0 {
			delete(t.controlling, id)
		}
	}
	st, ok := t.states[id]
	if !ok {
		st = State{DeviceID: id, IsOn: UnknownIsOn}
	}
	st.Controlling = t.controlling[id] > 0
	obs := t.observers
	t.mu.Unlock()

	notify(obs, st)
}

func (t *Tracker) IsControlling(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.controlling[id] > 0
}

// ForceOff marks ids off without talking to the devices.
func (t *Tracker) ForceOff(ids []string) {
	for _, id := range ids {
		t.Set(id, false)
	}
}

// Snapshot returns every known state ordered by device id.
func (t *Tracker) Snapshot() []State {
	t.mu.Lock()
	out := make([]State, 0, len(t.states))
	for id, st := range t.states {
		st.Controlling = t.controlling[id] > 0
		out = append(out, st)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].DeviceID < out[j].DeviceID
	})
	return out
}

func notify(obs []func(State), st State) {
	for _, fn := range obs {
		fn(st)
	}
}
