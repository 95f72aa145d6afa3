package router

import (
	"stagectl/lib/midictl"
	"stagectl/lib/sequence"
	"stagectl/lib/show"
)

// LitKeys computes which mapped controller pads should be lit: group pads
// while any device of the group is on, sequence pads while the sequence
// plays (flashing when paused), the active scene's pad, and nothing for
// blackout.
func (r *Router) LitKeys() map[midictl.Key]midictl.LEDState {
	s := r.live.Current()
	tracker := r.ctrl.Tracker()
	active := r.ActiveScene()

	lit := map[midictl.Key]midictl.LEDState{}
	for _, m := range s.MIDIMappings {
		k := midictl.Key{Note: m.MIDINote, Channel: m.MIDIChannel}
		if _, done := lit[k]; done {
			continue
		}
		switch m.ActionType {
		case show.GroupOn, show.GroupOff, show.GroupToggle:
			g := s.Group(m.Target())
			if g == nil {
				continue
			}
			for _, item := range g.Items {
				if tracker.Get(item.DeviceID) {
					lit[k] = midictl.LEDOn
					break
				}
			}
		case show.SequencePlay:
			p := r.existing(m.Target())
			if p == nil {
				continue
			}
			switch p.State() {
			case sequence.Playing:
				lit[k] = midictl.LEDOn
			case sequence.Paused:
				lit[k] = midictl.LEDFlash
			}
		case show.SceneActivate:
			if active != nil && active.ID == m.Target() {
				lit[k] = midictl.LEDOn
			}
		}
	}
	return lit
}
