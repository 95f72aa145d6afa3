package deck

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"stagectl/lib/device"
	"stagectl/lib/sequence"
	"stagectl/lib/show"
)

const (
	SceneIndex   = "scene_index"
	DeviceToggle = "device_toggle"
	SequenceStop = "sequence_stop"
)

// Binding ties a key to an action. Action is a mapping action type or one
// of SceneIndex, DeviceToggle and SequenceStop. SceneIndex targets count
// from 1.
type Binding struct {
	Key    int    `yaml:"key" json:"key"`
	Action string `yaml:"action" json:"action"`
	Target string `yaml:"target" json:"target"`
	Label  string `yaml:"label" json:"label"`
}

// Keypad is the drawable part of a keypad.
type Keypad interface {
	KeyCount() int
	KeySize() int
	SetKeyImage(key int, img image.Image) error
}

// Actions is what a surface triggers and reads back for its faces.
type Actions interface {
	Show() *show.Show
	ActiveScene() *show.Scene
	Controller() *device.Controller
	GroupOn(ctx context.Context, id string) (device.Results, error)
	GroupOff(ctx context.Context, id string) (device.Results, error)
	GroupToggle(ctx context.Context, id string) (device.Results, error)
	DeviceToggle(ctx context.Context, id string) (bool, error)
	PlaySequence(id string) error
	StopSequence(id string) bool
	SequenceProgress(id string) (sequence.Progress, error)
	ActivateScene(id string) error
	SelectSceneIndex(idx int) error
	Blackout(ctx context.Context) device.Results
}

// Surface drives a keypad from a set of bindings: presses become actions
// and faces follow device, sequence and scene state.
type Surface struct {
	pad      Keypad
	acts     Actions
	bindings map[int]Binding

	mu    sync.Mutex
	shown map[int]Face
	wg    sync.WaitGroup
}

func NewSurface(pad Keypad, acts Actions, bindings []Binding) (*Surface, error) {
	s := &Surface{
		pad:      pad,
		acts:     acts,
		bindings: map[int]Binding{},
		shown:    map[int]Face{},
	}
	for _, b := range bindings {
		if b.Key < 0 || b.Key >= pad.KeyCount() {
			return nil, fmt.Errorf("deck: key %d out of range", b.Key)
		}
		if !knownAction(b.Action) {
			return nil, fmt.Errorf("deck: key %d: unknown action %q", b.Key, b.Action)
		}
		if _, dup := s.bindings[b.Key]; dup {
			return nil, fmt.Errorf("deck: key %d bound twice", b.Key)
		}
		s.bindings[b.Key] = b
	}
	return s, nil
}

func knownAction(a string) bool {
	switch a {
	case SceneIndex, DeviceToggle, SequenceStop:
		return true
	}
	return show.ActionType(a).Valid()
}

// Press performs the action bound to key and waits for it. Unbound keys
// and missing targets do nothing.
func (s *Surface) Press(ctx context.Context, key int) {
	b, ok := s.bindings[key]
	if !ok {
		return
	}
	log.Info().Int("key", key).Str("action", b.Action).Str("target", b.Target).Msg("deck press")

	var err error
	switch b.Action {
	case string(show.GroupOn):
		_, err = s.acts.GroupOn(ctx, b.Target)
	case string(show.GroupOff):
		_, err = s.acts.GroupOff(ctx, b.Target)
	case string(show.GroupToggle):
		_, err = s.acts.GroupToggle(ctx, b.Target)
	case string(show.SequencePlay):
		err = s.acts.PlaySequence(b.Target)
	case SequenceStop:
		s.acts.StopSequence(b.Target)
	case string(show.SceneActivate):
		err = s.acts.ActivateScene(b.Target)
	case SceneIndex:
		var n int
		n, err = strconv.Atoi(b.Target)
		if err == nil {
			err = s.acts.SelectSceneIndex(n - 1)
		}
	case string(show.Blackout):
		s.acts.Blackout(ctx)
	case DeviceToggle:
		_, err = s.acts.DeviceToggle(ctx, b.Target)
	}
	if err != nil {
		log.Debug().Err(err).Int("key", key).Str("target", b.Target).Msg("deck action had no effect")
	}
}

// Face computes what key should show now.
func (s *Surface) Face(key int) Face {
	b, ok := s.bindings[key]
	if !ok {
		return Face{Color: color.RGBA{0, 0, 0, 255}}
	}
	sh := s.acts.Show()
	tracker := s.acts.Controller().Tracker()
	f := Face{Label: b.Label, Color: defaultColor}

	switch b.Action {
	case string(show.GroupOn), string(show.GroupOff), string(show.GroupToggle):
		g := sh.Group(b.Target)
		if g == nil {
			break
		}
		f.Color = ParseColor(g.Color)
		if f.Label == "" {
			f.Label = g.Name
		}
		for _, item := range g.Items {
			if tracker.Get(item.DeviceID) {
				f.Lit = true
				break
			}
		}
	case string(show.SequencePlay), SequenceStop:
		if seq := sh.Sequence(b.Target); seq != nil && f.Label == "" {
			f.Label = seq.Name
		}
		if pr, err := s.acts.SequenceProgress(b.Target); err == nil && pr.State != sequence.Idle {
			f.Lit = true
			f.Label = fmt.Sprintf("%s\n%.0f%%", f.Label, pr.Percent)
		}
	case string(show.SceneActivate), SceneIndex:
		scene := sh.Scene(b.Target)
		if b.Action == SceneIndex {
			if n, err := strconv.Atoi(b.Target); err == nil {
				scene = sh.SceneAt(n - 1)
			}
		}
		if scene == nil {
			break
		}
		f.Color = ParseColor(scene.Color)
		if f.Label == "" {
			f.Label = scene.Name
		}
		if active := s.acts.ActiveScene(); active != nil && active.ID == scene.ID {
			f.Lit = true
		}
	case string(show.Blackout):
		f.Color = blackoutColor
		if f.Label == "" {
			f.Label = "BLACKOUT"
		}
	case DeviceToggle:
		if f.Label == "" {
			f.Label = b.Target
		}
		f.Lit = tracker.Get(b.Target)
	}
	f.Label = wrap(f.Label, s.pad.KeySize())
	return f
}

// Render redraws every key whose face changed since the last render.
func (s *Surface) Render() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for key := 0; key < s.pad.KeyCount(); key++ {
		f := s.Face(key)
		if prev, ok := s.shown[key]; ok && prev == f {
			continue
		}
		if err := s.pad.SetKeyImage(key, f.Image(s.pad.KeySize())); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.shown[key] = f
	}
	return firstErr
}

// Run actions presses from keys and redraws after each action and every
// refresh interval, until ctx ends or keys closes.
func (s *Surface) Run(ctx context.Context, keys <-chan KeyEvent, refresh time.Duration) {
	ticker := time.NewTicker(refresh)
	defer ticker.Stop()
	defer s.wg.Wait()

	if err := s.Render(); err != nil {
		log.Warn().Err(err).Msg("deck render")
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-keys:
			if !ok {
				return
			}
			if !ev.Pressed {
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.Press(ctx, ev.Key)
				if err := s.Render(); err != nil {
					log.Warn().Err(err).Msg("deck render")
				}
			}()
		case <-ticker.C:
			if err := s.Render(); err != nil {
				log.Warn().Err(err).Msg("deck render")
			}
		}
	}
}
