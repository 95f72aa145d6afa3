package midictl

import (
	"sync"

	"gitlab.com/gomidi/midi/v2"
)

// FakeInput is an Input driven from code.
type FakeInput struct {
	name string

	mu        sync.Mutex
	fn        func(raw []byte)
	listens   int
	ListenErr error
}

func NewFakeInput(name string) *FakeInput {
	return &FakeInput{name: name}
}

func (f *FakeInput) Name() string {
	return f.name
}

func (f *FakeInput) Listen(fn func(raw []byte)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListenErr != nil {
		return nil, f.ListenErr
	}
	f.fn = fn
	f.listens++
	gen := f.listens
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.listens == gen {
			f.fn = nil
		}
	}, nil
}

// Listening reports whether a listener is attached.
func (f *FakeInput) Listening() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fn != nil
}

func (f *FakeInput) Listens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listens
}

// Send delivers raw to the listener, if any. It reports whether anyone was
// listening.
func (f *FakeInput) Send(raw []byte) bool {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(raw)
	return true
}

func (f *FakeInput) NoteOn(channel, note, velocity uint8) bool {
	return f.Send(midi.NoteOn(channel, note, velocity))
}

func (f *FakeInput) NoteOff(channel, note uint8) bool {
	return f.Send(midi.NoteOff(channel, note))
}

// FakeOutput records everything sent to it.
type FakeOutput struct {
	name string

	mu   sync.Mutex
	sent [][]byte
}

func NewFakeOutput(name string) *FakeOutput {
	return &FakeOutput{name: name}
}

func (f *FakeOutput) Name() string {
	return f.name
}

func (f *FakeOutput) Send(raw []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, len(raw))
	copy(buf, raw)
	f.sent = append(f.sent, buf)
	return nil
}

func (f *FakeOutput) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

// FakePorts is a mutable port list.
type FakePorts struct {
	mu   sync.Mutex
	ins  []Input
	outs []Output
}

func (p *FakePorts) AddInput(in Input) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ins = append(p.ins, in)
}

func (p *FakePorts) RemoveInput(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, in := range p.ins {
		if in.Name() == name {
			p.ins = append(p.ins[:i], p.ins[i+1:]...)
			return
		}
	}
}

func (p *FakePorts) AddOutput(out Output) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outs = append(p.outs, out)
}

func (p *FakePorts) Inputs() []Input {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Input, len(p.ins))
	copy(out, p.ins)
	return out
}

func (p *FakePorts) Outputs() []Output {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Output, len(p.outs))
	copy(out, p.outs)
	return out
}
