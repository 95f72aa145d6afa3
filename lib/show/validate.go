package show

import "fmt"

const (
	MaxNote    = 127
	MaxChannel = 15
)

func (s *Show) Validate() error {
	if s == nil {
		return fmt.Errorf("show is nil")
	}
	if s.ID == "" {
		return fmt.Errorf("show has no id")
	}

	sceneIDs := map[string]bool{}
	groupIDs := map[string]bool{}
	for _, scene := range s.Scenes {
		if scene.ID == "" {
			return fmt.Errorf("scene %q has no id", scene.Name)
		}
		if sceneIDs[scene.ID] {
			return fmt.Errorf("duplicate scene id %q", scene.ID)
		}
		sceneIDs[scene.ID] = true
		for _, g := range scene.DeviceGroups {
			if groupIDs[g.ID] {
				return fmt.Errorf("duplicate device group id %q", g.ID)
			}
			groupIDs[g.ID] = true
			for _, item := range g.Items {
				if item.DeviceID == "" {
					return fmt.Errorf("device group %q has an item without device id", g.ID)
				}
			}
		}
	}

	seqIDs := map[string]bool{}
	for _, seq := range s.Sequences {
		if seqIDs[seq.ID] {
			return fmt.Errorf("duplicate sequence id %q", seq.ID)
		}
		seqIDs[seq.ID] = true
		for _, step := range seq.Steps {
			for _, a := range step.Actions {
				if a.Action != On && a.Action != Off {
					return fmt.Errorf("sequence %q step %q: invalid action %q", seq.ID, step.ID, a.Action)
				}
			}
		}
	}

	type binding struct {
		note    uint8
		channel uint8
	}
	bound := map[binding]*Mapping{}
	for _, m := range s.MIDIMappings {
		if m.MIDINote > MaxNote {
			return fmt.Errorf("mapping %q: note %d out of range", m.ID, m.MIDINote)
		}
		if m.MIDIChannel > MaxChannel {
			return fmt.Errorf("mapping %q: channel %d out of range", m.ID, m.MIDIChannel)
		}
		if !m.ActionType.Valid() {
			return fmt.Errorf("mapping %q: unknown action type %q", m.ID, m.ActionType)
		}
		if m.ActionType.NeedsTarget() && m.Target() == "" {
			return fmt.Errorf("mapping %q: %s requires a target", m.ID, m.ActionType)
		}
		b := binding{m.MIDINote, m.MIDIChannel}
		if prev, ok := bound[b]; ok {
			return fmt.Errorf("mappings %q and %q both bind note %d channel %d", prev.ID, m.ID, m.MIDINote, m.MIDIChannel)
		}
		bound[b] = m
	}

	return nil
}
