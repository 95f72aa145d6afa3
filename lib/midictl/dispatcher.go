package midictl

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrNoInput = errors.New("no MIDI input selected")

type NoteHandler func(NoteEvent)

// Dispatcher owns the selected MIDI input. Every note-on gets the next
// event id and is delivered, in order, to the note sinks, the armed learn
// callback, and the note handler.
type Dispatcher struct {
	ports Ports

	mu        sync.Mutex
	conn      uint64
	input     Input
	inputName string
	stop      func()
	output    Output
	loopback  bool
	counter   uint64
	last      NoteEvent
	held      map[Key]bool
	handler   NoteHandler
	sinks     []func(NoteEvent)
	learn     func(NoteEvent)
	learnID   uint64
}

func NewDispatcher(ports Ports) *Dispatcher {
	return &Dispatcher{
		ports: ports,
		held:  map[Key]bool{},
	}
}

func (d *Dispatcher) Ports() Ports {
	return d.ports
}

// SetNoteHandler installs the handler that actions mapped notes.
func (d *Dispatcher) SetNoteHandler(h NoteHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = h
}

// OnNote adds a sink that sees every note-on before learning and the note
// handler.
func (d *Dispatcher) OnNote(fn func(NoteEvent)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, fn)
}

func (d *Dispatcher) SetOutput(out Output) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.output = out
}

func (d *Dispatcher) Output() Output {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.output
}

// SetLoopback mirrors every inbound message to the output when enabled.
func (d *Dispatcher) SetLoopback(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loopback = on
}

// SelectInput detaches from the current input and attaches to the input
// named name. Selecting the input that is already attached does nothing.
func (d *Dispatcher) SelectInput(name string) error {
	d.mu.Lock()
	if d.input != nil && d.inputName == name {
		d.mu.Unlock()
		return nil
	}
	stop := d.detachLocked()
	d.inputName = name
	d.mu.Unlock()
	stop()

	return d.attach()
}

func (d *Dispatcher) attach() error {
	d.mu.Lock()
	name := d.inputName
	d.mu.Unlock()
	if name == "" {
		return ErrNoInput
	}

	in, err := FindInput(d.ports, name)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.conn++
	conn := d.conn
	d.mu.Unlock()

	stop, err := in.Listen(func(raw []byte) {
		d.handle(conn, raw)
	})
	if err != nil {
		return err
	}

	d.mu.Lock()
	if d.conn != conn {
		// superseded while listening started
		d.mu.Unlock()
		stop()
		return nil
	}
	d.input = in
	d.stop = stop
	d.mu.Unlock()

	log.Info().Str("input", in.Name()).Msg("midi input attached")
	return nil
}

// Disconnect detaches the current input and forgets its name.
func (d *Dispatcher) Disconnect() {
	d.mu.Lock()
	stop := d.detachLocked()
	d.inputName = ""
	d.mu.Unlock()
	stop()
}

// detachLocked drops the attached input. The returned func stops the
// listener and must be called without d.mu held.
func (d *Dispatcher) detachLocked() func() {
	d.conn++
	stop, in := d.stop, d.input
	d.stop = nil
	d.input = nil
	clear(d.held)
	return func() {
		if stop == nil {
			return
		}
		stop()
		log.Info().Str("input", in.Name()).Msg("midi input detached")
	}
}

// Rescan re-checks the port list. A selected input that vanished is
// detached, and one that reappeared is attached again. It reports whether
// an input is attached afterwards.
func (d *Dispatcher) Rescan() (bool, error) {
	d.mu.Lock()
	name := d.inputName
	attached := d.input != nil
	var current string
	if attached {
		current = d.input.Name()
	}
	d.mu.Unlock()

	if name == "" {
		return false, nil
	}

	present := false
	for _, n := range InputNames(d.ports) {
		if n == current {
			present = true
			break
		}
	}
	if attached && present {
		return true, nil
	}
	if attached {
		d.mu.Lock()
		stop := d.detachLocked()
		d.mu.Unlock()
		stop()
		log.Warn().Str("input", current).Msg("midi input gone")
	}
	if err := d.attach(); err != nil {
		return false, err
	}
	return true, nil
}

// Selected returns the name of the attached input, or "".
func (d *Dispatcher) Selected() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.input == nil {
		return ""
	}
	return d.input.Name()
}

func (d *Dispatcher) Inputs() []string {
	return InputNames(d.ports)
}

// Last returns the most recent note-on.
func (d *Dispatcher) Last() (NoteEvent, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last, d.counter > 0
}

func (d *Dispatcher) Held(k Key) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.held[k]
}

// StartLearning arms cb for the next note-on only, replacing any armed
// callback.
func (d *Dispatcher) StartLearning(cb func(NoteEvent)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.learnID++
	d.learn = cb
}

func (d *Dispatcher) StopLearning() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.learn = nil
}

func (d *Dispatcher) Learning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.learn != nil
}

// Learn waits for the next note-on. The capture is disarmed when ctx ends.
func (d *Dispatcher) Learn(ctx context.Context) (NoteEvent, error) {
	got := make(chan NoteEvent, 1)
	d.mu.Lock()
	d.learnID++
	id := d.learnID
	d.learn = func(ev NoteEvent) { got <- ev }
	d.mu.Unlock()

	select {
	case ev := <-got:
		return ev, nil
	case <-ctx.Done():
		d.mu.Lock()
		if d.learnID == id {
			d.learn = nil
		}
		d.mu.Unlock()
		// a press may have landed between ctx ending and disarming
		select {
		case ev := <-got:
			return ev, nil
		default:
		}
		return NoteEvent{}, ctx.Err()
	}
}

// Inject feeds raw as if it came from the attached input.
func (d *Dispatcher) Inject(raw []byte) {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	d.handle(conn, raw)
}

func (d *Dispatcher) handle(conn uint64, raw []byte) {
	d.mu.Lock()
	if conn != d.conn {
		d.mu.Unlock()
		return
	}
	out := d.output
	loop := d.loopback
	d.mu.Unlock()

	if loop && out != nil {
		buf := make([]byte, len(raw))
		copy(buf, raw)
		if err := out.Send(buf); err != nil {
			log.Warn().Str("output", out.Name()).Err(err).Msg("loopback send failed")
		}
	}

	msg := Decode(raw)
	switch msg.Kind {
	case NoteOff:
		d.mu.Lock()
		delete(d.held, Key{Note: msg.Note, Channel: msg.Channel})
		d.mu.Unlock()
		return
	case Other:
		return
	}

	d.mu.Lock()
	d.counter++
	ev := NoteEvent{
		EventID:  d.counter,
		Note:     msg.Note,
		Channel:  msg.Channel,
		Velocity: msg.Velocity,
		At:       time.Now(),
	}
	d.last = ev
	d.held[ev.Key()] = true
	sinks := d.sinks
	learn := d.learn
	d.learn = nil
	handler := d.handler
	d.mu.Unlock()

	log.Debug().Uint64("event", ev.EventID).Uint8("note", ev.Note).Uint8("channel", ev.Channel).Uint8("velocity", ev.Velocity).Msg("note")

	for _, fn := range sinks {
		fn(ev)
	}
	if learn != nil {
		learn(ev)
	}
	if handler != nil {
		handler(ev)
	}
}
