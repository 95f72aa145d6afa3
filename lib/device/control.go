package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const DefaultTimeout = 5 * time.Second

// Op is one requested power change.
type Op struct {
	DeviceID string
	On       bool
}

type Result struct {
	DeviceID string
	On       bool
	Err      error
}

func (r Result) MarshalJSON() ([]byte, error) {
	out := struct {
		DeviceID string `json:"device_id"`
		On       bool   `json:"on"`
		Error    string `json:"error,omitempty"`
	}{DeviceID: r.DeviceID, On: r.On}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// Results holds one entry per Op, in the order the ops were given.
type Results []Result

func (rs Results) Failed() Results {
	var out Results
	for _, r := range rs {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

func (rs Results) Succeeded() int {
	n := 0
	for _, r := range rs {
		if r.Err == nil {
			n++
		}
	}
	return n
}

// Err joins the per-device errors, or returns nil when every op succeeded.
func (rs Results) Err() error {
	var errs []error
	for _, r := range rs.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", r.DeviceID, r.Err))
	}
	return errors.Join(errs...)
}

type Options struct {
	// Timeout bounds each device call. Zero means DefaultTimeout.
	Timeout time.Duration
	// MaxParallel bounds concurrent calls in one fan-out. Zero means every
	// op is issued at once.
	MaxParallel int
}

// Controller issues device calls through a Gateway and keeps a Tracker in
// step with what succeeded.
type Controller struct {
	gw      Gateway
	tracker *Tracker
	timeout time.Duration
	limit   int

	mu        sync.Mutex
	inventory []Device
}

func NewController(gw Gateway, tracker *Tracker, opts Options) *Controller {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Controller{
		gw:      gw,
		tracker: tracker,
		timeout: opts.Timeout,
		limit:   opts.MaxParallel,
	}
}

func (c *Controller) Tracker() *Tracker {
	return c.tracker
}

// Set switches one device. The controlling flag is held for the duration of
// the call and released on every exit path, including timeout. A failed call
// leaves the tracked state untouched.
func (c *Controller) Set(ctx context.Context, id string, on bool) error {
	c.tracker.SetControlling(id, true)
	defer c.tracker.SetControlling(id, false)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var err error
	if on {
		err = c.gw.TurnOn(ctx, id)
	} else {
		err = c.gw.TurnOff(ctx, id)
	}
	if err != nil {
		log.Warn().Str("device", id).Bool("on", on).Err(err).Msg("device call failed")
		return err
	}
	c.tracker.Set(id, on)
	return nil
}

func (c *Controller) TurnOn(ctx context.Context, id string) error {
	return c.Set(ctx, id, true)
}

func (c *Controller) TurnOff(ctx context.Context, id string) error {
	return c.Set(ctx, id, false)
}

// Toggle flips the tracked state of id and returns the state it asked for.
func (c *Controller) Toggle(ctx context.Context, id string) (bool, error) {
	on := !c.tracker.Get(id)
	return on, c.Set(ctx, id, on)
}

// Apply runs every op concurrently and waits for all of them. One failure
// never stops the others.
func (c *Controller) Apply(ctx context.Context, ops []Op) Results {
	results := make(Results, len(ops))
	var g errgroup.Group
	if c.limit > 0 {
		g.SetLimit(c.limit)
	}
	for i, op := range ops {
		g.Go(func() error {
			results[i] = Result{DeviceID: op.DeviceID, On: op.On, Err: c.Set(ctx, op.DeviceID, op.On)}
			return nil
		})
	}
	g.Wait()
	return results
}

// Blackout turns off every device in the inventory regardless of its
// tracked state.
func (c *Controller) Blackout(ctx context.Context) Results {
	devs := c.Devices(ctx)
	ops := make([]Op, len(devs))
	for i, d := range devs {
		ops[i] = Op{DeviceID: d.ID}
	}
	rs := c.Apply(ctx, ops)
	log.Info().Int("devices", len(rs)).Int("failed", len(rs.Failed())).Msg("blackout")
	return rs
}

// Refresh reads the inventory from the gateway, caches it, and seeds the
// tracker with every state the gateway reported.
func (c *Controller) Refresh(ctx context.Context) ([]Device, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	devs, err := c.gw.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	sort.SliceStable(devs, func(i, j int) bool {
		return devs[i].ID < devs[j].ID
	})

	c.mu.Lock()
	c.inventory = devs
	c.mu.Unlock()

	for _, d := range devs {
		if d.IsOn != nil {
			c.tracker.Set(d.ID, *d.IsOn)
		}
	}
	return devs, nil
}

// Devices returns the cached inventory, listing the gateway first if
// nothing has been cached yet.
func (c *Controller) Devices(ctx context.Context) []Device {
	c.mu.Lock()
	devs := c.inventory
	c.mu.Unlock()
	if devs != nil {
		return devs
	}

	devs, err := c.Refresh(ctx)
	if err != nil {
		log.Error().Err(err).Msg("device inventory unavailable")
		return nil
	}
	return devs
}
