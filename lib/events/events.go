package events

import (
	"encoding/json"
	"time"
)

type Type string

const (
	DeviceState      Type = "device.state"
	SequenceProgress Type = "sequence.progress"
	SequenceFinished Type = "sequence.finished"
	MIDINote         Type = "midi.note"
	SceneActive      Type = "scene.active"
)

type Event struct {
	Type Type      `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

func New(t Type, data any) Event {
	return Event{Type: t, Time: time.Now().UTC(), Data: data}
}

func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers events to one outside audience. Publish must not
// block on the network.
type Publisher interface {
	Publish(e Event)
	Close()
}

type Nop struct{}

func (Nop) Publish(Event) {}
func (Nop) Close()        {}

// Multi fans every event out to each publisher in order.
type Multi []Publisher

func (m Multi) Publish(e Event) {
	for _, p := range m {
		p.Publish(e)
	}
}

func (m Multi) Close() {
	for _, p := range m {
		p.Close()
	}
}

// Func adapts a function to Publisher.
type Func func(Event)

func (f Func) Publish(e Event) { f(e) }
func (Func) Close()            {}
