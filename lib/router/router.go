package router

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"stagectl/lib/device"
	"stagectl/lib/midictl"
	"stagectl/lib/sequence"
	"stagectl/lib/show"
)

var ErrNotFound = errors.New("not found")

type Options struct {
	Sequence sequence.Options
	OnScene  func(*show.Scene)
}

// Router turns mappings and manual triggers into device operations against
// the live show. Targets that no longer exist are ignored.
type Router struct {
	ctx  context.Context
	live *show.Live
	ctrl *device.Controller
	opts Options

	mu      sync.Mutex
	players map[string]*sequence.Player
	scene   string

	wg sync.WaitGroup
}

// New builds a router. Sequences started through it run until ctx ends or
// they are stopped.
func New(ctx context.Context, live *show.Live, ctrl *device.Controller, opts Options) *Router {
	return &Router{
		ctx:     ctx,
		live:    live,
		ctrl:    ctrl,
		opts:    opts,
		players: map[string]*sequence.Player{},
	}
}

func (r *Router) Controller() *device.Controller {
	return r.ctrl
}

func (r *Router) Show() *show.Show {
	return r.live.Current()
}

// HandleNote actions the mapping bound to ev's key, if any. It returns at
// once; the action runs on its own goroutine.
func (r *Router) HandleNote(ev midictl.NoteEvent) {
	m := r.live.Current().FindMapping(ev.Note, ev.Channel)
	if m == nil {
		log.Debug().Uint64("event", ev.EventID).Stringer("key", ev.Key()).Msg("unmapped note")
		return
	}
	log.Info().Uint64("event", ev.EventID).Stringer("key", ev.Key()).Str("action", string(m.ActionType)).Str("target", m.Target()).Msg("midi trigger")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Dispatch(r.ctx, m)
	}()
}

// Wait blocks until every action started by HandleNote has returned.
func (r *Router) Wait() {
	r.wg.Wait()
}

// Dispatch performs m's action and waits for its device calls. Unknown
// action types and missing targets do nothing.
func (r *Router) Dispatch(ctx context.Context, m *show.Mapping) {
	target := m.Target()
	var err error
	switch m.ActionType {
	case show.GroupOn:
		_, err = r.GroupOn(ctx, target)
	case show.GroupOff:
		_, err = r.GroupOff(ctx, target)
	case show.GroupToggle:
		_, err = r.GroupToggle(ctx, target)
	case show.SequencePlay:
		err = r.PlaySequence(target)
	case show.SceneActivate:
		err = r.ActivateScene(target)
	case show.Blackout:
		r.Blackout(ctx)
	default:
		log.Debug().Str("action", string(m.ActionType)).Msg("unknown mapping action")
	}
	switch {
	case errors.Is(err, ErrNotFound):
		log.Debug().Str("action", string(m.ActionType)).Str("target", target).Msg("mapping target missing")
	case errors.Is(err, sequence.ErrBusy):
		log.Debug().Str("sequence", target).Msg("sequence already playing")
	}
}

// GroupOn turns on the items of the group flagged to participate in ON.
func (r *Router) GroupOn(ctx context.Context, id string) (device.Results, error) {
	g := r.live.Current().Group(id)
	if g == nil {
		return nil, ErrNotFound
	}
	var ops []device.Op
	for _, item := range g.Items {
		if item.TurnOn {
			ops = append(ops, device.Op{DeviceID: item.DeviceID, On: true})
		}
	}
	return r.apply(ctx, g, "on", ops), nil
}

// GroupOff turns off every item of the group.
func (r *Router) GroupOff(ctx context.Context, id string) (device.Results, error) {
	g := r.live.Current().Group(id)
	if g == nil {
		return nil, ErrNotFound
	}
	ops := make([]device.Op, len(g.Items))
	for i, item := range g.Items {
		ops[i] = device.Op{DeviceID: item.DeviceID}
	}
	return r.apply(ctx, g, "off", ops), nil
}

// GroupToggle flips every item of the group from its tracked state.
func (r *Router) GroupToggle(ctx context.Context, id string) (device.Results, error) {
	g := r.live.Current().Group(id)
	if g == nil {
		return nil, ErrNotFound
	}
	tracker := r.ctrl.Tracker()
	ops := make([]device.Op, len(g.Items))
	for i, item := range g.Items {
		ops[i] = device.Op{DeviceID: item.DeviceID, On: !tracker.Get(item.DeviceID)}
	}
	return r.apply(ctx, g, "toggle", ops), nil
}

func (r *Router) apply(ctx context.Context, g *show.Group, verb string, ops []device.Op) device.Results {
	rs := r.ctrl.Apply(ctx, ops)
	ev := log.Info()
	if len(rs.Failed()) > 0 {
		ev = log.Warn().Err(rs.Err())
	}
	ev.Str("group", g.ID).Str("name", g.Name).Str("op", verb).Int("devices", len(rs)).Int("failed", len(rs.Failed())).Msg("group")
	return rs
}

// DeviceToggle flips a single device.
func (r *Router) DeviceToggle(ctx context.Context, id string) (bool, error) {
	return r.ctrl.Toggle(ctx, id)
}

func (r *Router) Blackout(ctx context.Context) device.Results {
	return r.ctrl.Blackout(ctx)
}

// Player returns the player for sequence id, creating it on first use.
func (r *Router) Player(id string) *sequence.Player {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	if !ok {
		p = sequence.NewPlayer(id, r.ctrl, r.ctrl.Tracker(), r.opts.Sequence)
		r.players[id] = p
	}
	return p
}

// PlaySequence starts sequence id without waiting for it. A sequence that
// is already playing is left alone and ErrBusy returned.
func (r *Router) PlaySequence(id string) error {
	seq := r.live.Current().Sequence(id)
	if seq == nil {
		return ErrNotFound
	}
	_, err := r.Player(id).Start(r.ctx, seq)
	return err
}

func (r *Router) PauseSequence(id string) bool {
	p := r.existing(id)
	return p != nil && p.Pause()
}

func (r *Router) ResumeSequence(id string) bool {
	p := r.existing(id)
	return p != nil && p.Resume()
}

func (r *Router) StopSequence(id string) bool {
	p := r.existing(id)
	return p != nil && p.Stop()
}

// SequenceProgress reports progress for id. A sequence that has never
// played reports idle.
func (r *Router) SequenceProgress(id string) (sequence.Progress, error) {
	if r.live.Current().Sequence(id) == nil && r.existing(id) == nil {
		return sequence.Progress{}, ErrNotFound
	}
	if p := r.existing(id); p != nil {
		return p.Progress(), nil
	}
	seq := r.live.Current().Sequence(id)
	return sequence.Progress{
		SequenceID:  id,
		State:       sequence.Idle,
		TotalMs:     seq.TotalDelayMs(),
		CurrentStep: -1,
	}, nil
}

// Playing lists the progress of every sequence that is not idle, ordered
// by id.
func (r *Router) Playing() []sequence.Progress {
	r.mu.Lock()
	players := make([]*sequence.Player, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, p)
	}
	r.mu.Unlock()

	var out []sequence.Progress
	for _, p := range players {
		if pr := p.Progress(); pr.State != sequence.Idle {
			out = append(out, pr)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SequenceID < out[j].SequenceID
	})
	return out
}

// StopAll stops every playing sequence.
func (r *Router) StopAll() {
	r.mu.Lock()
	players := make([]*sequence.Player, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, p)
	}
	r.mu.Unlock()
	for _, p := range players {
		p.Stop()
	}
}

func (r *Router) existing(id string) *sequence.Player {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.players[id]
}

// ActivateScene selects the scene shown to the operator. No devices are
// touched.
func (r *Router) ActivateScene(id string) error {
	scene := r.live.Current().Scene(id)
	if scene == nil {
		return ErrNotFound
	}
	r.setScene(scene)
	return nil
}

// SelectSceneIndex selects the idx'th scene in display order, counting
// from zero.
func (r *Router) SelectSceneIndex(idx int) error {
	scene := r.live.Current().SceneAt(idx)
	if scene == nil {
		return ErrNotFound
	}
	r.setScene(scene)
	return nil
}

func (r *Router) setScene(scene *show.Scene) {
	r.mu.Lock()
	changed := r.scene != scene.ID
	r.scene = scene.ID
	r.mu.Unlock()

	if !changed {
		return
	}
	log.Info().Str("scene", scene.ID).Str("name", scene.Name).Msg("scene activated")
	if r.opts.OnScene != nil {
		r.opts.OnScene(scene)
	}
}

// ActiveScene returns the selected scene, falling back to the first scene
// when nothing valid is selected.
func (r *Router) ActiveScene() *show.Scene {
	s := r.live.Current()
	r.mu.Lock()
	id := r.scene
	r.mu.Unlock()
	if scene := s.Scene(id); scene != nil {
		return scene
	}
	return s.SceneAt(0)
}
