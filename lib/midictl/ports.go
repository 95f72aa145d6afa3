package midictl

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// Input delivers raw messages in the order the driver receives them.
type Input interface {
	Name() string
	Listen(fn func(raw []byte)) (stop func(), err error)
}

type Output interface {
	Name() string
	Send(raw []byte) error
}

type Ports interface {
	Inputs() []Input
	Outputs() []Output
}

// DriverPorts lists the ports of the registered gomidi driver.
type DriverPorts struct{}

func (DriverPorts) Inputs() []Input {
	var out []Input
	for _, p := range midi.GetInPorts() {
		out = append(out, driverIn{p})
	}
	return out
}

func (DriverPorts) Outputs() []Output {
	var out []Output
	for _, p := range midi.GetOutPorts() {
		out = append(out, &driverOut{port: p})
	}
	return out
}

type driverIn struct {
	port drivers.In
}

func (p driverIn) Name() string {
	return p.port.String()
}

func (p driverIn) Listen(fn func(raw []byte)) (func(), error) {
	return midi.ListenTo(p.port, func(msg midi.Message, _ int32) {
		fn(msg)
	}, midi.HandleError(func(err error) {
		log.Warn().Str("port", p.port.String()).Err(err).Msg("midi input error")
	}))
}

type driverOut struct {
	port drivers.Out
	mu   sync.Mutex
	send func(midi.Message) error
}

func (p *driverOut) Name() string {
	return p.port.String()
}

func (p *driverOut) Send(raw []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.send == nil {
		send, err := midi.SendTo(p.port)
		if err != nil {
			return fmt.Errorf("open output port: %w", err)
		}
		p.send = send
	}
	return p.send(midi.Message(raw))
}

// FindInput returns the input named name, or failing that the first whose
// name contains it, ignoring case.
func FindInput(ports Ports, name string) (Input, error) {
	ins := ports.Inputs()
	for _, in := range ins {
		if in.Name() == name {
			return in, nil
		}
	}
	lower := strings.ToLower(name)
	for _, in := range ins {
		if strings.Contains(strings.ToLower(in.Name()), lower) {
			return in, nil
		}
	}
	return nil, fmt.Errorf("no MIDI input port matching %q", name)
}

func FindOutput(ports Ports, name string) (Output, error) {
	outs := ports.Outputs()
	for _, out := range outs {
		if out.Name() == name {
			return out, nil
		}
	}
	lower := strings.ToLower(name)
	for _, out := range outs {
		if strings.Contains(strings.ToLower(out.Name()), lower) {
			return out, nil
		}
	}
	return nil, fmt.Errorf("no MIDI output port matching %q", name)
}

func InputNames(ports Ports) []string {
	var names []string
	for _, in := range ports.Inputs() {
		names = append(names, in.Name())
	}
	return names
}

func OutputNames(ports Ports) []string {
	var names []string
	for _, out := range ports.Outputs() {
		names = append(names, out.Name())
	}
	return names
}
