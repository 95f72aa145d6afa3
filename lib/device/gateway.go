package device

import (
	"context"
	"errors"
)

var ErrUnknownDevice = errors.New("unknown device")

type Device struct {
	ID    string `json:"device_id"`
	Alias string `json:"alias"`
	Type  string `json:"device_type"`
	// IsOn is the relay state reported by the last List, nil when the
	// gateway could not read it.
	IsOn *bool `json:"is_on,omitempty"`
}

// Gateway controls physical devices. Every call is an independent network
// round trip with no ordering guarantee relative to other calls.
type Gateway interface {
	List(ctx context.Context) ([]Device, error)
	TurnOn(ctx context.Context, id string) error
	TurnOff(ctx context.Context, id string) error
}
