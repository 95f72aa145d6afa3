package deck

import (
	"context"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"stagectl/lib/device"
	"stagectl/lib/router"
	"stagectl/lib/sequence"
	"stagectl/lib/show"
)

type fakePad struct {
	mu     sync.Mutex
	images map[int]image.Image
	draws  int
}

func (p *fakePad) KeyCount() int { return 8 }
func (p *fakePad) KeySize() int  { return 72 }

func (p *fakePad) SetKeyImage(key int, img image.Image) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.images[key] = img
	p.draws++
	return nil
}

func (p *fakePad) bg(key int) color.RGBA {
	p.mu.Lock()
	defer p.mu.Unlock()
	return color.RGBAModel.Convert(p.images[key].At(0, 0)).(color.RGBA)
}

func testShow() *show.Show {
	return &show.Show{
		ID: "show",
		Scenes: []*show.Scene{
			{ID: "act1", Name: "Act 1", Color: "#3b82f6", DeviceGroups: []*show.Group{
				{ID: "stage", Name: "Stage Wash", Color: "#ff0000", Items: []*show.GroupItem{
					{DeviceID: "a", TurnOn: true},
					{DeviceID: "b", TurnOn: true},
				}},
			}},
			{ID: "act2", Name: "Act 2", OrderIndex: 1},
		},
		Sequences: []*show.Sequence{
			{ID: "chase", Name: "Chase", Steps: []*show.Step{
				{ID: "s1", DelayMs: 5000, Actions: []*show.StepAction{{DeviceID: "a", Action: show.On}}},
			}},
		},
	}
}

func setupTest(t *testing.T, bindings []Binding) (*device.FakeGateway, *router.Router, *fakePad, *Surface) {
	t.Helper()
	gw := device.NewFakeGateway("a", "b", "c")
	ctrl := device.NewController(gw, device.NewTracker(), device.Options{Timeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	rt := router.New(ctx, show.NewLive(testShow()), ctrl, router.Options{Sequence: sequence.Options{Tick: 10 * time.Millisecond}})
	t.Cleanup(func() {
		rt.StopAll()
		rt.Wait()
		cancel()
	})

	pad := &fakePad{images: map[int]image.Image{}}
	s, err := NewSurface(pad, rt, bindings)
	if err != nil {
		t.Fatal(err)
	}
	return gw, rt, pad, s
}

func TestNewSurfaceRejectsBadBindings(t *testing.T) {
	pad := &fakePad{images: map[int]image.Image{}}
	bad := [][]Binding{
		{{Key: 8, Action: "blackout"}},
		{{Key: 0, Action: "strobe"}},
		{{Key: 1, Action: "blackout"}, {Key: 1, Action: "blackout"}},
	}
	for _, b := range bad {
		if _, err := NewSurface(pad, nil, b); err == nil {
			t.Errorf("%+v: expected error", b)
		}
	}
}

func TestPressGroupToggle(t *testing.T) {
	gw, rt, _, s := setupTest(t, []Binding{{Key: 0, Action: "device_group_toggle", Target: "stage"}})

	s.Press(context.Background(), 0)
	tr := rt.Controller().Tracker()
	if !tr.Get("a") || !tr.Get("b") {
		t.Error("group not switched on")
	}
	if len(gw.Calls()) != 2 {
		t.Errorf("got %d calls, want 2", len(gw.Calls()))
	}

	s.Press(context.Background(), 5)
	if len(gw.Calls()) != 2 {
		t.Error("unbound key made a call")
	}
}

func TestPressSceneIndexAndBlackout(t *testing.T) {
	gw, rt, _, s := setupTest(t, []Binding{
		{Key: 0, Action: SceneIndex, Target: "2"},
		{Key: 1, Action: "blackout"},
		{Key: 2, Action: SceneIndex, Target: "x"},
	})

	s.Press(context.Background(), 0)
	if got := rt.ActiveScene().ID; got != "act2" {
		t.Errorf("got %q, want act2", got)
	}
	s.Press(context.Background(), 2)
	if got := rt.ActiveScene().ID; got != "act2" {
		t.Errorf("bad index changed scene to %q", got)
	}

	s.Press(context.Background(), 1)
	if len(gw.Calls()) != 3 {
		t.Errorf("got %d calls, want 3", len(gw.Calls()))
	}
}

func TestSequenceKeys(t *testing.T) {
	_, rt, _, s := setupTest(t, []Binding{
		{Key: 0, Action: "sequence_play", Target: "chase"},
		{Key: 1, Action: SequenceStop, Target: "chase"},
	})

	s.Press(context.Background(), 0)
	if st := rt.Player("chase").State(); st != sequence.Playing {
		t.Fatalf("got %s, want playing", st)
	}
	f := s.Face(0)
	if !f.Lit || f.Label != "Chase\n0%" {
		t.Errorf("got %+v", f)
	}

	s.Press(context.Background(), 1)
	if st := rt.Player("chase").State(); st != sequence.Idle {
		t.Errorf("got %s, want idle", st)
	}
}

func TestFaces(t *testing.T) {
	_, rt, _, s := setupTest(t, []Binding{
		{Key: 0, Action: "device_group_on", Target: "stage"},
		{Key: 1, Action: "scene_activate", Target: "act1"},
		{Key: 2, Action: "blackout"},
		{Key: 3, Action: DeviceToggle, Target: "c", Label: "Fog"},
		{Key: 4, Action: "device_group_off", Target: "gone"},
	})

	f := s.Face(0)
	if f.Lit || f.Label != "Stage Wash" || f.Color != (color.RGBA{255, 0, 0, 255}) {
		t.Errorf("got %+v", f)
	}
	rt.Controller().Tracker().Set("b", true)
	if !s.Face(0).Lit {
		t.Error("group with a device on not lit")
	}

	if f := s.Face(1); !f.Lit || f.Label != "Act 1" {
		t.Errorf("got %+v, want lit active scene", f)
	}
	if f := s.Face(2); f.Label != "BLACKOUT" || f.Lit {
		t.Errorf("got %+v", f)
	}
	if f := s.Face(3); f.Label != "Fog" || f.Lit {
		t.Errorf("got %+v", f)
	}
	if f := s.Face(4); f.Lit || f.Color != defaultColor {
		t.Errorf("got %+v for stale target", f)
	}
}

func TestRenderDiffs(t *testing.T) {
	_, rt, pad, s := setupTest(t, []Binding{{Key: 0, Action: DeviceToggle, Target: "a"}})

	if err := s.Render(); err != nil {
		t.Fatal(err)
	}
	if pad.draws != 8 {
		t.Errorf("got %d draws, want every key once", pad.draws)
	}
	dim := pad.bg(0)

	s.Render()
	if pad.draws != 8 {
		t.Errorf("got %d draws, want no redraw without changes", pad.draws)
	}

	rt.Controller().Tracker().Set("a", true)
	s.Render()
	if pad.draws != 9 {
		t.Errorf("got %d draws, want 9", pad.draws)
	}
	if lit := pad.bg(0); lit.R <= dim.R {
		t.Errorf("got lit %v dim %v, want brighter when on", lit, dim)
	}
}

func TestRunHandlesPresses(t *testing.T) {
	gw, _, _, s := setupTest(t, []Binding{{Key: 2, Action: DeviceToggle, Target: "c"}})

	ctx, cancel := context.WithCancel(context.Background())
	keys := make(chan KeyEvent)
	done := make(chan struct{})
	go func() {
		s.Run(ctx, keys, time.Hour)
		close(done)
	}()

	keys <- KeyEvent{Key: 2, Pressed: true}
	keys <- KeyEvent{Key: 2, Pressed: false}
	<-gw.Started()
	cancel()
	<-done

	if !gw.Power("c") {
		t.Error("press did not toggle device")
	}
}

func TestParseColor(t *testing.T) {
	if got := ParseColor("#10b981"); got != (color.RGBA{0x10, 0xb9, 0x81, 255}) {
		t.Errorf("got %v", got)
	}
	if got := ParseColor("teal"); got != defaultColor {
		t.Errorf("got %v, want default", got)
	}
}

func TestWrap(t *testing.T) {
	if got := wrap("Stage Left Wash", 72); got != "Stage Left\nWash" {
		t.Errorf("got %q", got)
	}
	if got := wrap("Fog", 72); got != "Fog" {
		t.Errorf("got %q", got)
	}
}
