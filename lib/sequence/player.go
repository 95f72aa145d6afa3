package sequence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"stagectl/lib/device"
	"stagectl/lib/show"
)

const DefaultTick = 50 * time.Millisecond

var ErrBusy = errors.New("sequence already playing")

type State int

const (
	Idle State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Outcome int

const (
	Completed Outcome = iota
	Cancelled
)

func (o Outcome) String() string {
	if o == Cancelled {
		return "cancelled"
	}
	return "completed"
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

type Progress struct {
	SequenceID  string  `json:"sequence_id"`
	State       State   `json:"state"`
	ElapsedMs   int64   `json:"elapsed_ms"`
	TotalMs     uint64  `json:"total_ms"`
	Percent     float64 `json:"percent"`
	CurrentStep int     `json:"current_step"`
}

// Devices is the part of device.Controller a player drives.
type Devices interface {
	Apply(ctx context.Context, ops []device.Op) device.Results
}

// Resetter forces tracked state without device calls.
type Resetter interface {
	ForceOff(ids []string)
}

type Options struct {
	// Tick is how often OnProgress fires while waiting. Step timing does
	// not depend on it.
	Tick       time.Duration
	OnProgress func(Progress)
	OnStep     func(seqID string, step int, rs device.Results)
	OnFinish   func(seqID string, o Outcome)
}

// Player runs one sequence at a time. A finished or stopped player is idle
// again and plays from the first step.
type Player struct {
	id      string
	devs    Devices
	tracker Resetter
	opts    Options

	mu        sync.Mutex
	state     State
	run       uint64
	seq       *show.Sequence
	total     time.Duration
	cancel    context.CancelFunc
	gate      chan struct{}
	interrupt chan struct{}
	current   int
	completed bool

	// elapsed schedule time: completed step delays plus running time of
	// the current wait
	done     time.Duration
	waited   time.Duration
	waiting  bool
	segStart time.Time
}

func NewPlayer(id string, devs Devices, tracker Resetter, opts Options) *Player {
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	return &Player{
		id:        id,
		devs:      devs,
		tracker:   tracker,
		opts:      opts,
		current:   -1,
		interrupt: make(chan struct{}, 1),
	}
}

func (p *Player) ID() string {
	return p.id
}

func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start begins playing a snapshot of seq and returns a channel that
// receives the outcome. It returns ErrBusy if the player is not idle.
func (p *Player) Start(ctx context.Context, seq *show.Sequence) (<-chan Outcome, error) {
	p.mu.Lock()
	if p.state != Idle {
		p.mu.Unlock()
		return nil, ErrBusy
	}
	snap := seq.Clone()
	runCtx, cancel := context.WithCancel(ctx)
	p.run++
	run := p.run
	p.state = Playing
	p.seq = snap
	p.total = time.Duration(snap.TotalDelayMs()) * time.Millisecond
	p.cancel = cancel
	p.gate = nil
	p.current = -1
	p.completed = false
	p.done, p.waited, p.waiting = 0, 0, false
	p.mu.Unlock()

	select {
	case <-p.interrupt:
	default:
	}

	log.Info().Str("sequence", p.id).Str("name", snap.Name).Int("steps", len(snap.Steps)).Msg("sequence started")
	p.report()

	out := make(chan Outcome, 1)
	go func() {
		defer cancel()
		o := p.loop(runCtx, run, snap)
		out <- o
	}()
	return out, nil
}

// Play runs seq to the end and returns how it ended. Cancelling ctx stops
// playback.
func (p *Player) Play(ctx context.Context, seq *show.Sequence) (Outcome, error) {
	ch, err := p.Start(ctx, seq)
	if err != nil {
		return Cancelled, err
	}
	return <-ch, nil
}

func (p *Player) loop(ctx context.Context, run uint64, seq *show.Sequence) Outcome {
	calls := context.WithoutCancel(ctx)
	for i, step := range seq.SortedSteps() {
		if err := p.wait(ctx, run, step.Delay()); err != nil {
			return p.finish(run, Cancelled)
		}

		p.mu.Lock()
		if p.run != run {
			p.mu.Unlock()
			return Cancelled
		}
		p.current = i
		p.mu.Unlock()
		p.report()

		ops := make([]device.Op, 0, len(step.Actions))
		for _, a := range step.Actions {
			if a.DeviceID == "" {
				continue
			}
			ops = append(ops, device.Op{DeviceID: a.DeviceID, On: a.Action == show.On})
		}

		// A Stop that got in during the report must see no calls from
		// this step.
		p.mu.Lock()
		if p.run != run {
			p.mu.Unlock()
			return Cancelled
		}
		if ctx.Err() != nil {
			p.mu.Unlock()
			return p.finish(run, Cancelled)
		}
		p.mu.Unlock()
		rs := p.devs.Apply(calls, ops)
		for _, r := range rs.Failed() {
			log.Warn().Str("sequence", p.id).Int("step", i).Str("device", r.DeviceID).Err(r.Err).Msg("step action failed")
		}
		if p.opts.OnStep != nil {
			p.opts.OnStep(p.id, i, rs)
		}

		if ctx.Err() != nil {
			return p.finish(run, Cancelled)
		}
	}
	return p.finish(run, Completed)
}

// wait blocks for d of unpaused time.
func (p *Player) wait(ctx context.Context, run uint64, d time.Duration) error {
	p.mu.Lock()
	if p.run != run || ctx.Err() != nil {
		p.mu.Unlock()
		return context.Canceled
	}
	p.waited = 0
	p.waiting = true
	p.segStart = time.Now()
	p.mu.Unlock()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		p.mu.Lock()
		gate := p.gate
		remaining := d - p.waitedLocked()
		p.mu.Unlock()

		if gate != nil {
			select {
			case <-gate:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if remaining <= 0 {
			p.mu.Lock()
			if p.run != run {
				p.mu.Unlock()
				return context.Canceled
			}
			p.done += d
			p.waited = 0
			p.waiting = false
			p.mu.Unlock()
			return nil
		}

		t := time.NewTimer(min(remaining, p.opts.Tick))
		select {
		case <-t.C:
			if remaining > p.opts.Tick {
				p.report()
			}
		case <-p.interrupt:
			t.Stop()
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}

func (p *Player) waitedLocked() time.Duration {
	if p.waiting && p.gate == nil {
		return p.waited + time.Since(p.segStart)
	}
	return p.waited
}

func (p *Player) finish(run uint64, o Outcome) Outcome {
	p.mu.Lock()
	if p.run != run {
		// Stop already reset the player.
		p.mu.Unlock()
		return Cancelled
	}
	p.state = Idle
	p.gate = nil
	p.waiting = false
	p.current = -1
	if o == Completed {
		p.done = p.total
		p.completed = true
	} else {
		p.done = 0
	}
	p.waited = 0
	seq := p.seq
	p.mu.Unlock()

	if o == Cancelled && p.tracker != nil {
		p.tracker.ForceOff(seq.UsedDevices())
	}
	log.Info().Str("sequence", p.id).Stringer("outcome", o).Msg("sequence finished")
	p.report()
	if p.opts.OnFinish != nil {
		p.opts.OnFinish(p.id, o)
	}
	return o
}

// Pause freezes the current wait. It reports false when not playing.
func (p *Player) Pause() bool {
	p.mu.Lock()
	if p.state != Playing {
		p.mu.Unlock()
		return false
	}
	if p.waiting {
		p.waited += time.Since(p.segStart)
	}
	p.state = Paused
	p.gate = make(chan struct{})
	p.mu.Unlock()

	select {
	case p.interrupt <- struct{}{}:
	default:
	}
	p.report()
	return true
}

// Resume releases a paused player. It reports false when not paused.
func (p *Player) Resume() bool {
	p.mu.Lock()
	if p.state != Paused {
		p.mu.Unlock()
		return false
	}
	p.state = Playing
	p.segStart = time.Now()
	close(p.gate)
	p.gate = nil
	p.mu.Unlock()

	p.report()
	return true
}

// Stop cancels playback, resets the position, and marks every device the
// sequence touches as off. Device calls already in flight are not
// cancelled. It reports false when the player was idle.
func (p *Player) Stop() bool {
	p.mu.Lock()
	if p.state == Idle {
		p.mu.Unlock()
		return false
	}
	p.cancel()
	p.run++
	p.state = Idle
	p.gate = nil
	p.waiting = false
	p.current = -1
	p.done, p.waited = 0, 0
	seq := p.seq
	p.mu.Unlock()

	if p.tracker != nil {
		p.tracker.ForceOff(seq.UsedDevices())
	}
	log.Info().Str("sequence", p.id).Msg("sequence stopped")
	p.report()
	if p.opts.OnFinish != nil {
		p.opts.OnFinish(p.id, Cancelled)
	}
	return true
}

func (p *Player) Progress() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progressLocked()
}

func (p *Player) progressLocked() Progress {
	elapsed := p.done + p.waitedLocked()
	if elapsed > p.total {
		elapsed = p.total
	}
	pr := Progress{
		SequenceID:  p.id,
		State:       p.state,
		ElapsedMs:   elapsed.Milliseconds(),
		TotalMs:     uint64(p.total.Milliseconds()),
		CurrentStep: p.current,
	}
	if p.total > 0 {
		pr.Percent = float64(elapsed) / float64(p.total) * 100
	} else if p.completed {
		pr.Percent = 100
	}
	return pr
}

func (p *Player) report() {
	if p.opts.OnProgress == nil {
		return
	}
	p.opts.OnProgress(p.Progress())
}
