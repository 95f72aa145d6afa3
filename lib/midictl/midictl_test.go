package midictl

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func setupTest(t *testing.T) (*FakePorts, *FakeInput, *Dispatcher) {
	t.Helper()
	ports := &FakePorts{}
	in := NewFakeInput("nanoKEY2 KEYBOARD")
	ports.AddInput(in)
	d := NewDispatcher(ports)
	if err := d.SelectInput("nanoKEY2 KEYBOARD"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(d.Disconnect)
	return ports, in, d
}

func TestDecode(t *testing.T) {
	tests := []struct {
		raw  []byte
		want Message
	}{
		{[]byte{0x90, 60, 100}, Message{Kind: NoteOn, Channel: 0, Note: 60, Velocity: 100}},
		{[]byte{0x9F, 36, 1}, Message{Kind: NoteOn, Channel: 15, Note: 36, Velocity: 1}},
		{[]byte{0x90, 60, 0}, Message{Kind: NoteOff, Channel: 0, Note: 60}},
		{[]byte{0x83, 61, 64}, Message{Kind: NoteOff, Channel: 3, Note: 61}},
		{[]byte{0xB0, 7, 127}, Message{Kind: Other}},
	}
	for _, tt := range tests {
		if got := Decode(tt.raw); got != tt.want {
			t.Errorf("Decode(% x) = %+v, want %+v", tt.raw, got, tt.want)
		}
	}
}

func TestNoteName(t *testing.T) {
	for note, want := range map[uint8]string{60: "C4", 0: "C-1", 69: "A4", 127: "G9"} {
		if got := NoteName(note); got != want {
			t.Errorf("NoteName(%d) = %q, want %q", note, got, want)
		}
	}
}

func TestEventIDsIncrease(t *testing.T) {
	_, in, d := setupTest(t)

	var mu sync.Mutex
	var got []NoteEvent
	d.SetNoteHandler(func(ev NoteEvent) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	in.NoteOn(0, 60, 100)
	in.NoteOff(0, 60)
	in.NoteOn(0, 60, 100)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Key() != got[1].Key() {
		t.Error("expected the same key twice")
	}
	if got[1].EventID <= got[0].EventID {
		t.Errorf("event ids not increasing: %d then %d", got[0].EventID, got[1].EventID)
	}
}

func TestLearnFiresOnce(t *testing.T) {
	_, in, d := setupTest(t)

	var learned []NoteEvent
	d.StartLearning(func(ev NoteEvent) {
		learned = append(learned, ev)
	})
	var handled int
	d.SetNoteHandler(func(NoteEvent) { handled++ })

	in.NoteOn(0, 60, 90)
	in.NoteOn(0, 60, 90)

	if len(learned) != 1 {
		t.Fatalf("learn fired %d times, want 1", len(learned))
	}
	if learned[0].EventID != 1 {
		t.Errorf("learned event %d, want the first press", learned[0].EventID)
	}
	if d.Learning() {
		t.Error("learning still armed")
	}
	if handled != 2 {
		t.Errorf("handler saw %d presses, want 2", handled)
	}
}

func TestStopLearning(t *testing.T) {
	_, in, d := setupTest(t)
	fired := false
	d.StartLearning(func(NoteEvent) { fired = true })
	d.StopLearning()
	in.NoteOn(0, 60, 90)
	if fired {
		t.Error("disarmed learn callback fired")
	}
}

func TestLearnContext(t *testing.T) {
	_, in, d := setupTest(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		in.NoteOn(2, 48, 64)
	}()
	ev, err := d.Learn(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ev.Note != 48 || ev.Channel != 2 {
		t.Errorf("got %s, want note 48 ch 3", ev.Key())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := d.Learn(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want deadline exceeded", err)
	}
	if d.Learning() {
		t.Error("timed out learn left capture armed")
	}
}

func TestSinksSeeNotesFirst(t *testing.T) {
	_, in, d := setupTest(t)
	var order []string
	d.OnNote(func(NoteEvent) { order = append(order, "sink") })
	d.StartLearning(func(NoteEvent) { order = append(order, "learn") })
	d.SetNoteHandler(func(NoteEvent) { order = append(order, "handler") })

	in.NoteOn(0, 60, 100)
	want := []string{"sink", "learn", "handler"}
	if len(order) != 3 || order[0] != want[0] || order[1] != want[1] || order[2] != want[2] {
		t.Errorf("got %v, want %v", order, want)
	}

	last, ok := d.Last()
	if !ok || last.Note != 60 {
		t.Errorf("Last() = %v, %v", last, ok)
	}
}

func TestNoteOffTrackedNotActioned(t *testing.T) {
	_, in, d := setupTest(t)
	handled := 0
	d.SetNoteHandler(func(NoteEvent) { handled++ })

	in.NoteOn(0, 60, 100)
	if !d.Held(Key{Note: 60}) {
		t.Error("expected note held")
	}
	in.Send([]byte{0x90, 60, 0})
	if d.Held(Key{Note: 60}) {
		t.Error("zero velocity note-on should release")
	}
	if handled != 1 {
		t.Errorf("got %d dispatches, want 1", handled)
	}
}

func TestLoopbackForwardsEverything(t *testing.T) {
	_, in, d := setupTest(t)
	out := NewFakeOutput("IAC Bus 1")
	d.SetOutput(out)
	d.SetLoopback(true)

	in.NoteOn(0, 60, 100)
	in.NoteOff(0, 60)
	in.Send([]byte{0xB0, 7, 100})

	sent := out.Sent()
	if len(sent) != 3 {
		t.Fatalf("got %d forwarded, want 3", len(sent))
	}
	if !bytes.Equal(sent[0], []byte{0x90, 60, 100}) {
		t.Errorf("got % x, want 90 3c 64", sent[0])
	}

	d.SetLoopback(false)
	in.NoteOn(0, 61, 100)
	if len(out.Sent()) != 3 {
		t.Error("forwarded with loopback off")
	}
}

func TestSelectInputSwitches(t *testing.T) {
	ports, first, d := setupTest(t)
	second := NewFakeInput("Launchpad Mini")
	ports.AddInput(second)

	if err := d.SelectInput("launchpad"); err != nil {
		t.Fatal(err)
	}
	if first.Listening() {
		t.Error("previous input still attached")
	}
	if d.Selected() != "Launchpad Mini" {
		t.Errorf("got %q, want %q", d.Selected(), "Launchpad Mini")
	}

	handled := 0
	d.SetNoteHandler(func(NoteEvent) { handled++ })
	first.NoteOn(0, 60, 100)
	second.NoteOn(0, 60, 100)
	if handled != 1 {
		t.Errorf("got %d dispatches, want 1", handled)
	}

	if err := d.SelectInput("launchpad"); err != nil {
		t.Fatal(err)
	}
	if second.Listens() != 1 {
		t.Error("reselecting the same input reattached it")
	}

	if err := d.SelectInput("missing"); err == nil {
		t.Error("expected error for unknown input")
	}
}

func TestRescanReattaches(t *testing.T) {
	ports, in, d := setupTest(t)

	ports.RemoveInput(in.Name())
	ok, err := d.Rescan()
	if err == nil || ok {
		t.Fatalf("got %v, %v; want detached with error", ok, err)
	}
	if d.Selected() != "" {
		t.Error("vanished input still selected")
	}

	ports.AddInput(in)
	ok, err = d.Rescan()
	if err != nil || !ok {
		t.Fatalf("got %v, %v; want reattached", ok, err)
	}
	if in.Listens() != 2 {
		t.Errorf("got %d listens, want 2", in.Listens())
	}

	d.Disconnect()
	if ok, _ := d.Rescan(); ok {
		t.Error("rescan reattached after an explicit disconnect")
	}
}

func TestFeedbackSendsChanges(t *testing.T) {
	out := NewFakeOutput("pads")
	fb := NewFeedback(out)

	fb.Set(Key{Note: 36}, LEDOn)
	fb.Set(Key{Note: 36}, LEDOn)
	if n := len(out.Sent()); n != 1 {
		t.Fatalf("got %d sends, want 1", n)
	}

	if err := fb.Sync(map[Key]LEDState{{Note: 37, Channel: 1}: LEDOn}); err != nil {
		t.Fatal(err)
	}
	sent := out.Sent()
	if len(sent) != 3 {
		t.Fatalf("got %d sends, want 3", len(sent))
	}
	var sawOff, sawOn bool
	for _, raw := range sent[1:] {
		switch {
		case bytes.Equal(raw, []byte{0x80, 36, 0}):
			sawOff = true
		case bytes.Equal(raw, []byte{0x91, 37, 127}):
			sawOn = true
		}
	}
	if !sawOff || !sawOn {
		t.Errorf("unexpected sends % x", sent[1:])
	}

	fb.Clear()
	if len(out.Sent()) != 4 {
		t.Errorf("got %d sends after clear, want 4", len(out.Sent()))
	}
}
