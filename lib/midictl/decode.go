package midictl

import (
	"fmt"
	"time"

	"gitlab.com/gomidi/midi/v2"
)

type Kind int

const (
	Other Kind = iota
	NoteOn
	NoteOff
)

// Message is one decoded inbound message.
type Message struct {
	Kind     Kind
	Channel  uint8
	Note     uint8
	Velocity uint8
}

// Decode classifies raw. A note-on with velocity zero is a note-off.
func Decode(raw []byte) Message {
	msg := midi.Message(raw)
	var ch, key, vel uint8
	switch {
	case msg.GetNoteStart(&ch, &key, &vel):
		return Message{Kind: NoteOn, Channel: ch, Note: key, Velocity: vel}
	case msg.GetNoteEnd(&ch, &key):
		return Message{Kind: NoteOff, Channel: ch, Note: key}
	}
	return Message{Kind: Other}
}

// Key identifies a note on a channel.
type Key struct {
	Note    uint8 `json:"note"`
	Channel uint8 `json:"channel"`
}

func (k Key) String() string {
	return fmt.Sprintf("note %d ch %d", k.Note, k.Channel+1)
}

// NoteEvent is one physical key press. EventID is the only reliable way to
// tell two presses of the same key apart.
type NoteEvent struct {
	EventID  uint64    `json:"event_id"`
	Note     uint8     `json:"note"`
	Channel  uint8     `json:"channel"`
	Velocity uint8     `json:"velocity"`
	At       time.Time `json:"at"`
}

func (e NoteEvent) Key() Key {
	return Key{Note: e.Note, Channel: e.Channel}
}

func (e NoteEvent) String() string {
	return fmt.Sprintf("#%d %s vel %d", e.EventID, e.Key(), e.Velocity)
}

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// NoteName spells note in scientific pitch notation, middle C (60) being C4.
func NoteName(note uint8) string {
	return fmt.Sprintf("%s%d", noteNames[note%12], int(note)/12-1)
}
