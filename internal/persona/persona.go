package persona

import (
	"errors"
	"strings"
)

// ErrIncomplete is returned when a coach is missing the fields a session needs.
var ErrIncomplete = errors.New("coach configuration is incomplete (missing prompt or initial response)")

// Persona describes a selectable AI coach as sent by the client.
type Persona struct {
	ID                 string         `json:"_id,omitempty"`
	Name               string         `json:"name"`
	Topic              string         `json:"topic,omitempty"`
	Category           string         `json:"category,omitempty"`
	ShortDescription   string         `json:"shortDescription,omitempty"`
	TherapeuticFocus   string         `json:"therapeuticFocus,omitempty"`
	LearningObjectives []string       `json:"learningObjectives,omitempty"`
	Prompt             string         `json:"prompt"`
	InitialAIResponse  string         `json:"initialAIResponse"`
	VoiceSettings      *VoiceSettings `json:"voiceSettings,omitempty"`
}

// Validate reports ErrIncomplete when the coach cannot seed a conversation.
func (p Persona) Validate() error {
	if strings.TrimSpace(p.Prompt) == "" || strings.TrimSpace(p.InitialAIResponse) == "" {
		return ErrIncomplete
	}
	return nil
}
