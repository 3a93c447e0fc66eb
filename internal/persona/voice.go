package persona

import "strings"

const (
	DefaultVoiceID   = "en-US-amara"
	DefaultStyle     = "Conversational"
	DefaultRate      = 0
	DefaultPitch     = 0
	DefaultVariation = 1
)

// VoiceSettings is a partial synthesis configuration. Nil or empty fields
// mean "keep whatever was set before".
type VoiceSettings struct {
	VoiceID   string `json:"voiceId,omitempty"`
	Style     string `json:"style,omitempty"`
	Rate      *int   `json:"rate,omitempty"`
	Pitch     *int   `json:"pitch,omitempty"`
	Variation *int   `json:"variation,omitempty"`
}

// Voice is a fully resolved synthesis configuration.
type Voice struct {
	VoiceID   string
	Style     string
	Rate      int
	Pitch     int
	Variation int
}

// DefaultVoice returns the built-in voice, optionally overriding id and style.
func DefaultVoice(voiceID, style string) Voice {
	v := Voice{
		VoiceID:   DefaultVoiceID,
		Style:     DefaultStyle,
		Rate:      DefaultRate,
		Pitch:     DefaultPitch,
		Variation: DefaultVariation,
	}
	if id := strings.TrimSpace(voiceID); id != "" {
		v.VoiceID = id
	}
	if s := strings.TrimSpace(style); s != "" {
		v.Style = s
	}
	return v
}

// Merge applies the explicit fields of patch on top of v.
func (v Voice) Merge(patch *VoiceSettings) Voice {
	if patch == nil {
		return v
	}
	if id := strings.TrimSpace(patch.VoiceID); id != "" {
		v.VoiceID = id
	}
	if s := strings.TrimSpace(patch.Style); s != "" {
		v.Style = s
	}
	if patch.Rate != nil {
		v.Rate = *patch.Rate
	}
	if patch.Pitch != nil {
		v.Pitch = *patch.Pitch
	}
	if patch.Variation != nil {
		v.Variation = *patch.Variation
	}
	return v
}
