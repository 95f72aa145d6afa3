package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"stagectl/lib/device"
	"stagectl/lib/midictl"
	"stagectl/lib/sequence"
	"stagectl/lib/show"
)

func ptr(s string) *string { return &s }

func testShow() *show.Show {
	return &show.Show{
		ID:   "show",
		Name: "Test",
		Scenes: []*show.Scene{
			{ID: "scene-b", Name: "B", OrderIndex: 1},
			{ID: "scene-a", Name: "A", OrderIndex: 0, DeviceGroups: []*show.Group{
				{ID: "stage", Name: "Stage", Items: []*show.GroupItem{
					{DeviceID: "a", TurnOn: true},
					{DeviceID: "b", TurnOn: false},
					{DeviceID: "c", TurnOn: true},
				}},
			}},
		},
		Sequences: []*show.Sequence{
			{ID: "chase", Steps: []*show.Step{
				{ID: "s1", DelayMs: 100, Actions: []*show.StepAction{{DeviceID: "a", Action: show.On}}},
			}},
		},
		MIDIMappings: []*show.Mapping{
			{ID: "m1", MIDINote: 60, ActionType: show.GroupToggle, TargetID: ptr("stage")},
			{ID: "m2", MIDINote: 61, ActionType: show.SequencePlay, TargetID: ptr("chase")},
			{ID: "m3", MIDINote: 62, ActionType: show.SceneActivate, TargetID: ptr("scene-b")},
			{ID: "m4", MIDINote: 63, ActionType: show.GroupOn, TargetID: ptr("deleted")},
			{ID: "m5", MIDINote: 64, ActionType: show.Blackout},
			{ID: "m6", MIDINote: 65, ActionType: "strobe_all", TargetID: ptr("stage")},
		},
	}
}

func setupTest(t *testing.T) (*device.FakeGateway, *Router) {
	t.Helper()
	gw := device.NewFakeGateway("a", "b", "c", "d")
	ctrl := device.NewController(gw, device.NewTracker(), device.Options{Timeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	r := New(ctx, show.NewLive(testShow()), ctrl, Options{Sequence: sequence.Options{Tick: 10 * time.Millisecond}})
	t.Cleanup(func() {
		r.StopAll()
		r.Wait()
		cancel()
	})
	return gw, r
}

func note(n uint8) midictl.NoteEvent {
	return midictl.NoteEvent{EventID: uint64(n), Note: n, Velocity: 100}
}

func TestGroupToggle(t *testing.T) {
	_, r := setupTest(t)
	tr := r.Controller().Tracker()
	tr.Set("a", true)
	tr.Set("b", false)

	r.HandleNote(note(60))
	r.Wait()

	if tr.Get("a") || !tr.Get("b") || !tr.Get("c") {
		t.Errorf("got a=%v b=%v c=%v, want off on on", tr.Get("a"), tr.Get("b"), tr.Get("c"))
	}
}

func TestGroupOnSkipsOptedOut(t *testing.T) {
	gw, r := setupTest(t)
	rs, err := r.GroupOn(context.Background(), "stage")
	if err != nil {
		t.Fatal(err)
	}
	if len(rs) != 2 {
		t.Fatalf("got %d results, want 2", len(rs))
	}
	for _, c := range gw.Calls() {
		if c.DeviceID == "b" {
			t.Error("item with turn_on=false was switched")
		}
	}
}

func TestGroupOffIgnoresFlag(t *testing.T) {
	gw, r := setupTest(t)
	rs, err := r.GroupOff(context.Background(), "stage")
	if err != nil {
		t.Fatal(err)
	}
	if len(rs) != 3 || len(gw.Calls()) != 3 {
		t.Errorf("got %d results %d calls, want 3", len(rs), len(gw.Calls()))
	}
}

func TestGroupFailureIsolated(t *testing.T) {
	gw, r := setupTest(t)
	gw.Fail("a", errors.New("timeout"))

	rs, _ := r.GroupOn(context.Background(), "stage")
	if len(rs.Failed()) != 1 || rs.Succeeded() != 1 {
		t.Errorf("got %d failed %d ok", len(rs.Failed()), rs.Succeeded())
	}
	if !r.Controller().Tracker().Get("c") {
		t.Error("healthy item not on")
	}
}

func TestStaleTargetIsNoop(t *testing.T) {
	gw, r := setupTest(t)
	tr := r.Controller().Tracker()
	tr.Set("a", true)
	before := tr.Snapshot()

	r.HandleNote(note(63))
	r.Wait()

	if len(gw.Calls()) != 0 {
		t.Errorf("got %d calls, want 0", len(gw.Calls()))
	}
	after := tr.Snapshot()
	if len(after) != len(before) || after[0].IsOn != before[0].IsOn {
		t.Error("device state changed")
	}
	if _, err := r.GroupToggle(context.Background(), "deleted"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestUnknownActionIsNoop(t *testing.T) {
	gw, r := setupTest(t)
	r.HandleNote(note(65))
	r.Wait()
	if len(gw.Calls()) != 0 {
		t.Errorf("got %d calls, want 0", len(gw.Calls()))
	}
}

func TestUnmappedNote(t *testing.T) {
	gw, r := setupTest(t)
	r.HandleNote(midictl.NoteEvent{EventID: 1, Note: 60, Channel: 1})
	r.Wait()
	if len(gw.Calls()) != 0 {
		t.Error("note on another channel triggered a mapping")
	}
}

func TestBlackout(t *testing.T) {
	gw, r := setupTest(t)
	tr := r.Controller().Tracker()
	tr.Set("a", true)
	tr.Set("b", false)

	r.HandleNote(note(64))
	r.Wait()

	calls := gw.Calls()
	if len(calls) != 4 {
		t.Fatalf("got %d calls, want 4", len(calls))
	}
	for _, c := range calls {
		if c.On {
			t.Errorf("%s turned on", c.DeviceID)
		}
	}
}

func TestSequenceRetriggerIgnored(t *testing.T) {
	gw, r := setupTest(t)

	r.HandleNote(note(61))
	r.Wait()
	r.HandleNote(note(61))
	r.Wait()

	if err := r.PlaySequence("chase"); !errors.Is(err, sequence.ErrBusy) {
		t.Errorf("got %v, want ErrBusy", err)
	}
	pr, err := r.SequenceProgress("chase")
	if err != nil {
		t.Fatal(err)
	}
	if pr.State != sequence.Playing {
		t.Errorf("got %s, want playing", pr.State)
	}
	if len(r.Playing()) != 1 {
		t.Errorf("got %d playing, want 1", len(r.Playing()))
	}

	deadline := time.Now().Add(2 * time.Second)
	for r.Player("chase").State() != sequence.Idle {
		if time.Now().After(deadline) {
			t.Fatal("sequence did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := len(gw.Calls()); n != 1 {
		t.Errorf("got %d calls, want 1", n)
	}
}

func TestSequenceControls(t *testing.T) {
	_, r := setupTest(t)
	if r.PauseSequence("chase") || r.StopSequence("chase") {
		t.Error("controls on a never-played sequence should report false")
	}
	if err := r.PlaySequence("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	pr, err := r.SequenceProgress("chase")
	if err != nil || pr.State != sequence.Idle || pr.TotalMs != 100 {
		t.Errorf("got %+v, %v", pr, err)
	}

	if err := r.PlaySequence("chase"); err != nil {
		t.Fatal(err)
	}
	if !r.PauseSequence("chase") || !r.ResumeSequence("chase") || !r.StopSequence("chase") {
		t.Error("controls on a playing sequence should succeed")
	}
}

func TestScenes(t *testing.T) {
	_, r := setupTest(t)
	var seen []string
	r.opts.OnScene = func(s *show.Scene) { seen = append(seen, s.ID) }

	if got := r.ActiveScene().ID; got != "scene-a" {
		t.Errorf("got %q, want first scene by order", got)
	}

	r.HandleNote(note(62))
	r.Wait()
	if got := r.ActiveScene().ID; got != "scene-b" {
		t.Errorf("got %q, want scene-b", got)
	}

	if err := r.SelectSceneIndex(0); err != nil {
		t.Fatal(err)
	}
	if got := r.ActiveScene().ID; got != "scene-a" {
		t.Errorf("got %q, want scene-a", got)
	}
	if err := r.SelectSceneIndex(5); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	r.SelectSceneIndex(0)

	if len(seen) != 2 || seen[0] != "scene-b" || seen[1] != "scene-a" {
		t.Errorf("got scene changes %v", seen)
	}
}

func TestEditsDoNotAffectSnapshotLookup(t *testing.T) {
	gw, r := setupTest(t)
	r.live.Update(func(s *show.Show) error {
		s.Group("stage").Items = s.Group("stage").Items[:1]
		return nil
	})

	r.GroupOff(context.Background(), "stage")
	if len(gw.Calls()) != 1 {
		t.Errorf("got %d calls, want 1 after edit", len(gw.Calls()))
	}
}

func TestLitKeys(t *testing.T) {
	_, r := setupTest(t)
	r.Controller().Tracker().Set("c", true)
	if err := r.PlaySequence("chase"); err != nil {
		t.Fatal(err)
	}
	r.PauseSequence("chase")

	lit := r.LitKeys()
	if lit[midictl.Key{Note: 60}] != midictl.LEDOn {
		t.Error("group pad not lit")
	}
	if lit[midictl.Key{Note: 61}] != midictl.LEDFlash {
		t.Error("paused sequence pad not flashing")
	}
	if _, ok := lit[midictl.Key{Note: 62}]; ok {
		t.Error("inactive scene pad lit")
	}
	if _, ok := lit[midictl.Key{Note: 63}]; ok {
		t.Error("stale mapping pad lit")
	}
}
