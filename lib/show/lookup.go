package show

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

func (s *Show) Group(id string) *Group {
	for _, scene := range s.Scenes {
		for _, g := range scene.DeviceGroups {
			if g.ID == id {
				return g
			}
		}
	}
	return nil
}

func (s *Show) Sequence(id string) *Sequence {
	for _, seq := range s.Sequences {
		if seq.ID == id {
			return seq
		}
	}
	return nil
}

func (s *Show) Scene(id string) *Scene {
	for _, scene := range s.Scenes {
		if scene.ID == id {
			return scene
		}
	}
	return nil
}

// SceneAt returns the scene at position idx in display order, or nil.
func (s *Show) SceneAt(idx int) *Scene {
	scenes := s.SortedScenes()
	if idx < 0 || idx >= len(scenes) {
		return nil
	}
	return scenes[idx]
}

func (s *Show) SortedScenes() []*Scene {
	scenes := make([]*Scene, len(s.Scenes))
	copy(scenes, s.Scenes)
	sort.SliceStable(scenes, func(i, j int) bool {
		return scenes[i].OrderIndex < scenes[j].OrderIndex
	})
	return scenes
}

// FindMapping returns the first mapping bound to note/channel in storage order.
func (s *Show) FindMapping(note, channel uint8) *Mapping {
	for _, m := range s.MIDIMappings {
		if m.MIDINote == note && m.MIDIChannel == channel {
			return m
		}
	}
	return nil
}

// UpsertMapping stores m, replacing any mapping already bound to the same
// note/channel. The replaced mapping keeps its position and id.
func (s *Show) UpsertMapping(m *Mapping) *Mapping {
	for i, existing := range s.MIDIMappings {
		if existing.MIDINote == m.MIDINote && existing.MIDIChannel == m.MIDIChannel {
			m.ID = existing.ID
			s.MIDIMappings[i] = m
			return existing
		}
	}
	if m.ID == "" {
		m.ID = NewID()
	}
	s.MIDIMappings = append(s.MIDIMappings, m)
	return nil
}

func (s *Show) DeleteMapping(id string) bool {
	for i, m := range s.MIDIMappings {
		if m.ID == id {
			s.MIDIMappings = append(s.MIDIMappings[:i], s.MIDIMappings[i+1:]...)
			return true
		}
	}
	return false
}

// StaleMappings lists mappings whose target no longer exists.
func (s *Show) StaleMappings() []*Mapping {
	var stale []*Mapping
	for _, m := range s.MIDIMappings {
		if !m.ActionType.NeedsTarget() || m.TargetID == nil {
			continue
		}
		var found bool
		switch m.ActionType {
		case GroupOn, GroupOff, GroupToggle:
			found = s.Group(*m.TargetID) != nil
		case SequencePlay:
			found = s.Sequence(*m.TargetID) != nil
		case SceneActivate:
			found = s.Scene(*m.TargetID) != nil
		default:
			continue
		}
		if !found {
			stale = append(stale, m)
		}
	}
	return stale
}

// SortedSteps returns a copy of the steps ordered by OrderIndex. Ties keep
// their stored order.
func (seq *Sequence) SortedSteps() []*Step {
	steps := make([]*Step, len(seq.Steps))
	copy(steps, seq.Steps)
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].OrderIndex < steps[j].OrderIndex
	})
	return steps
}

func (seq *Sequence) TotalDelayMs() uint64 {
	var total uint64
	for _, step := range seq.Steps {
		total += uint64(step.DelayMs)
	}
	return total
}

// UsedDevices returns the ids of every device the sequence acts on, in first
// appearance order.
func (seq *Sequence) UsedDevices() []string {
	seen := map[string]bool{}
	var ids []string
	for _, step := range seq.SortedSteps() {
		for _, a := range step.Actions {
			if a.DeviceID == "" || seen[a.DeviceID] {
				continue
			}
			seen[a.DeviceID] = true
			ids = append(ids, a.DeviceID)
		}
	}
	return ids
}

// Clone deep-copies the sequence so playback can read it while the show is
// edited.
func (seq *Sequence) Clone() *Sequence {
	out := &Sequence{ID: seq.ID, Name: seq.Name, Steps: make([]*Step, 0, len(seq.Steps))}
	for _, step := range seq.Steps {
		cp := &Step{ID: step.ID, DelayMs: step.DelayMs, OrderIndex: step.OrderIndex}
		for _, a := range step.Actions {
			ac := *a
			cp.Actions = append(cp.Actions, &ac)
		}
		out.Steps = append(out.Steps, cp)
	}
	return out
}

// Live holds the show currently loaded by the console. Readers get an
// immutable snapshot; edits go through Update, which swaps in a copy.
type Live struct {
	mu  sync.Mutex
	cur atomic.Pointer[Show]
}

func NewLive(s *Show) *Live {
	l := &Live{}
	l.cur.Store(s)
	return l
}

func (l *Live) Current() *Show {
	return l.cur.Load()
}

func (l *Live) Store(s *Show) {
	l.cur.Store(s)
}

// Update applies fn to a copy of the current show and publishes the copy if
// fn succeeds. Writers are serialized.
func (l *Live) Update(fn func(*Show) error) (*Show, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next, err := l.cur.Load().Clone()
	if err != nil {
		return nil, err
	}
	if err := fn(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()
	l.cur.Store(next)
	return next, nil
}
