package show

import (
	"fmt"
	"math/rand/v2"
	"time"
)

var sceneNamePool = []string{
	"Preshow", "Opening", "Verse", "Chorus", "Bridge", "Finale",
	"Encore", "Interval", "Walk-in", "Walk-out",
}

var groupNamePool = []string{
	"Wash", "Spots", "Uplights", "Fairy Lights", "Fog", "Haze",
	"Strobe", "Practicals", "Backdrop", "Floor", "Marquee",
}

var colorPool = []string{
	"#ef4444", "#f59e0b", "#22c55e", "#3b82f6", "#a855f7", "#ec4899", "#14b8a6",
}

// GenerateMockShow builds a deterministic show over the given device ids:
// numScenes scenes with groupsPerScene groups each, numSequences sequences,
// and one mapping per group/sequence starting at middle C.
func GenerateMockShow(deviceIDs []string, numScenes, groupsPerScene, numSequences int) *Show {
	rng := rand.New(rand.NewPCG(42, 0))
	idx := 0
	nextID := func(prefix string) string {
		id := fmt.Sprintf("%s%d", prefix, idx)
		idx++
		return id
	}

	epoch := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &Show{
		ID:        "mock-show",
		Name:      "Mock Show",
		CreatedAt: epoch,
		UpdatedAt: epoch,
	}

	names := make([]string, len(groupNamePool))
	copy(names, groupNamePool)
	rng.Shuffle(len(names), func(i, j int) {
		names[i], names[j] = names[j], names[i]
	})

	pick := func() []string {
		if len(deviceIDs) == 0 {
			return nil
		}
		n := 1 + rng.IntN(len(deviceIDs))
		perm := rng.Perm(len(deviceIDs))[:n]
		out := make([]string, n)
		for i, p := range perm {
			out[i] = deviceIDs[p]
		}
		return out
	}

	note := uint8(60)
	addMapping := func(t ActionType, target string) {
		if note > MaxNote {
			return
		}
		tgt := target
		s.MIDIMappings = append(s.MIDIMappings, &Mapping{
			ID:         nextID("m"),
			MIDINote:   note,
			ActionType: t,
			TargetID:   &tgt,
		})
		note++
	}

	for i := range numScenes {
		scene := &Scene{
			ID:         nextID("scene"),
			Name:       sceneNamePool[i%len(sceneNamePool)],
			OrderIndex: i,
			Color:      colorPool[i%len(colorPool)],
		}
		for j := range groupsPerScene {
			g := &Group{
				ID:         nextID("group"),
				Name:       names[(i*groupsPerScene+j)%len(names)],
				Color:      colorPool[rng.IntN(len(colorPool))],
				OrderIndex: j,
			}
			for _, dev := range pick() {
				g.Items = append(g.Items, &GroupItem{
					ID:         nextID("item"),
					DeviceID:   dev,
					DeviceName: dev,
					TurnOn:     rng.Float64() < 0.8,
				})
			}
			scene.DeviceGroups = append(scene.DeviceGroups, g)
			addMapping(GroupToggle, g.ID)
		}
		s.Scenes = append(s.Scenes, scene)
	}

	for i := range numSequences {
		seq := &Sequence{ID: nextID("seq"), Name: fmt.Sprintf("Chase %d", i+1)}
		numSteps := 2 + rng.IntN(4)
		for k := range numSteps {
			step := &Step{
				ID:         nextID("step"),
				DelayMs:    uint32(100 * (1 + rng.IntN(10))),
				OrderIndex: k,
			}
			for _, dev := range pick() {
				p := On
				if rng.IntN(2) == 0 {
					p = Off
				}
				step.Actions = append(step.Actions, &StepAction{DeviceID: dev, DeviceName: dev, Action: p})
			}
			seq.Steps = append(seq.Steps, step)
		}
		s.Sequences = append(s.Sequences, seq)
		addMapping(SequencePlay, seq.ID)
	}

	if note <= MaxNote {
		s.MIDIMappings = append(s.MIDIMappings, &Mapping{
			ID:         nextID("m"),
			MIDINote:   note,
			ActionType: Blackout,
		})
	}

	return s
}
