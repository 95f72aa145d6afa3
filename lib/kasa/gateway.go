package kasa

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"stagectl/lib/device"
)

// Plug is one inventory entry.
type Plug struct {
	ID    string `yaml:"id" json:"id"`
	Alias string `yaml:"alias" json:"alias"`
	Type  string `yaml:"type" json:"type"`
	Addr  string `yaml:"addr" json:"addr"`
}

// Gateway implements device.Gateway over a fixed set of plugs on the local
// network.
type Gateway struct {
	plugs   []Plug
	clients map[string]*Client
}

func NewGateway(plugs []Plug) (*Gateway, error) {
	g := &Gateway{clients: map[string]*Client{}}
	for _, p := range plugs {
		if p.ID == "" || p.Addr == "" {
			return nil, fmt.Errorf("plug %q: id and addr are required", p.Alias)
		}
		if _, dup := g.clients[p.ID]; dup {
			return nil, fmt.Errorf("duplicate plug id %q", p.ID)
		}
		g.plugs = append(g.plugs, p)
		g.clients[p.ID] = NewClient(p.Addr)
	}
	return g, nil
}

// List queries every plug concurrently. Plugs that do not answer are still
// listed, with unknown state.
func (g *Gateway) List(ctx context.Context) ([]device.Device, error) {
	out := make([]device.Device, len(g.plugs))
	var eg errgroup.Group
	for i, p := range g.plugs {
		out[i] = device.Device{ID: p.ID, Alias: p.Alias, Type: p.Type}
		eg.Go(func() error {
			info, err := g.clients[p.ID].SysInfo(ctx)
			if err != nil {
				log.Debug().Str("device", p.ID).Str("addr", p.Addr).Err(err).Msg("sysinfo failed")
				return nil
			}
			on := info.RelayState == 1
			out[i].IsOn = &on
			if out[i].Alias == "" {
				out[i].Alias = info.Alias
			}
			if out[i].Type == "" {
				out[i].Type = info.Model
			}
			return nil
		})
	}
	eg.Wait()
	return out, nil
}

func (g *Gateway) TurnOn(ctx context.Context, id string) error {
	return g.set(ctx, id, true)
}

func (g *Gateway) TurnOff(ctx context.Context, id string) error {
	return g.set(ctx, id, false)
}

func (g *Gateway) set(ctx context.Context, id string, on bool) error {
	c, ok := g.clients[id]
	if !ok {
		return fmt.Errorf("%w: %s", device.ErrUnknownDevice, id)
	}
	return c.SetRelayState(ctx, on)
}
