package show

import (
	"time"

	"github.com/google/uuid"
)

type ActionType string

const (
	GroupOn       ActionType = "device_group_on"
	GroupOff      ActionType = "device_group_off"
	GroupToggle   ActionType = "device_group_toggle"
	SequencePlay  ActionType = "sequence_play"
	SceneActivate ActionType = "scene_activate"
	Blackout      ActionType = "blackout"
)

func (t ActionType) Valid() bool {
	switch t {
	case GroupOn, GroupOff, GroupToggle, SequencePlay, SceneActivate, Blackout:
		return true
	}
	return false
}

// NeedsTarget reports whether mappings of this type carry a target id.
func (t ActionType) NeedsTarget() bool {
	return t != Blackout
}

func (t ActionType) Label() string {
	switch t {
	case GroupOn:
		return "Turn Group ON"
	case GroupOff:
		return "Turn Group OFF"
	case GroupToggle:
		return "Toggle Group"
	case SequencePlay:
		return "Play Sequence"
	case SceneActivate:
		return "Activate Scene"
	case Blackout:
		return "Blackout"
	}
	return "Unknown"
}

type Power string

const (
	On  Power = "on"
	Off Power = "off"
)

type Show struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	Scenes       []*Scene    `json:"scenes"`
	Sequences    []*Sequence `json:"sequences"`
	MIDIMappings []*Mapping  `json:"midi_mappings"`
}

type Scene struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	OrderIndex   int      `json:"order_index"`
	Color        string   `json:"color"`
	DeviceGroups []*Group `json:"device_groups"`
}

type Group struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Color      string       `json:"color"`
	OrderIndex int          `json:"order_index"`
	Items      []*GroupItem `json:"items"`
}

type GroupItem struct {
	ID         string `json:"id,omitempty"`
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	DeviceType string `json:"device_type,omitempty"`
	TurnOn     bool   `json:"turn_on"`
}

type Sequence struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Steps []*Step `json:"steps"`
}

type Step struct {
	ID         string        `json:"id"`
	DelayMs    uint32        `json:"delay_ms"`
	OrderIndex int           `json:"order_index"`
	Actions    []*StepAction `json:"actions"`
}

func (s *Step) Delay() time.Duration {
	return time.Duration(s.DelayMs) * time.Millisecond
}

type StepAction struct {
	ID         string `json:"id,omitempty"`
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	Action     Power  `json:"action"`
}

type Mapping struct {
	ID          string     `json:"id"`
	MIDINote    uint8      `json:"midi_note"`
	MIDIChannel uint8      `json:"midi_channel"`
	ActionType  ActionType `json:"action_type"`
	TargetID    *string    `json:"target_id"`
}

func (m *Mapping) Target() string {
	if m.TargetID == nil {
		return ""
	}
	return *m.TargetID
}

func NewID() string {
	return uuid.NewString()
}

func NewShow(name string) *Show {
	now := time.Now().UTC()
	sceneID := NewID()
	return &Show{
		ID:        NewID(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
		Scenes: []*Scene{
			{ID: sceneID, Name: "Scene 1", Color: "#3b82f6"},
		},
		Sequences:    []*Sequence{},
		MIDIMappings: []*Mapping{},
	}
}
