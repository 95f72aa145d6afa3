package midictl

import (
	"sync"

	"gitlab.com/gomidi/midi/v2"
)

type LEDState uint8

const (
	LEDOff   LEDState = 0
	LEDFlash LEDState = 64
	LEDOn    LEDState = 127
)

// Feedback drives pad LEDs on a controller that lights a pad when it
// receives a note-on for it. Only changes are sent.
type Feedback struct {
	out Output

	mu  sync.Mutex
	lit map[Key]LEDState
}

func NewFeedback(out Output) *Feedback {
	return &Feedback{out: out, lit: map[Key]LEDState{}}
}

func (f *Feedback) Set(k Key, state LEDState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.lit[k]; ok && cur == state {
		return nil
	}
	if err := f.send(k, state); err != nil {
		return err
	}
	f.lit[k] = state
	return nil
}

// Sync lights exactly the pads in want and turns off every other pad it has
// lit before.
func (f *Feedback) Sync(want map[Key]LEDState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	for k, cur := range f.lit {
		if _, keep := want[k]; keep || cur == LEDOff {
			continue
		}
		if err := f.send(k, LEDOff); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		f.lit[k] = LEDOff
	}
	for k, state := range want {
		if cur, ok := f.lit[k]; ok && cur == state {
			continue
		}
		if err := f.send(k, state); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		f.lit[k] = state
	}
	return firstErr
}

// Clear turns off every pad Feedback has touched.
func (f *Feedback) Clear() error {
	return f.Sync(nil)
}

func (f *Feedback) send(k Key, state LEDState) error {
	if state == LEDOff {
		return f.out.Send(midi.NoteOff(k.Channel, k.Note))
	}
	return f.out.Send(midi.NoteOn(k.Channel, k.Note, uint8(state)))
}
