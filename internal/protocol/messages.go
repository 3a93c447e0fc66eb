package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ent0n29/voicecoach/internal/persona"
)

// MessageType identifies inbound control message variants.
type MessageType string

const (
	TypeSelectCoach       MessageType = "selectCoach"
	TypeStartSession      MessageType = "startSession"
	TypeEndSession        MessageType = "endSession"
	TypeUpdateVoiceConfig MessageType = "updateVoiceConfig"

	TypeCoachSetup     MessageType = "coachSetup"
	TypeInitialMessage MessageType = "initialMessage"
	TypeSessionEnded   MessageType = "sessionEnded"
)

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrMissingField    = errors.New("missing required field")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

type SelectCoach struct {
	Type   MessageType      `json:"type"`
	Coach  *persona.Persona `json:"coach"`
	UserID string           `json:"userId,omitempty"`
}

type StartSession struct {
	Type        MessageType            `json:"type"`
	VoiceConfig *persona.VoiceSettings `json:"voiceConfig,omitempty"`
	CoachType   string                 `json:"coachType,omitempty"`
}

type EndSession struct {
	Type MessageType `json:"type"`
}

type UpdateVoiceConfig struct {
	Type        MessageType            `json:"type"`
	VoiceConfig *persona.VoiceSettings `json:"voiceConfig"`
}

// AudioFrame is a raw PCM frame received on the transport.
type AudioFrame struct {
	PCM []byte
}

// IsControlFrame reports whether a transport payload carries a JSON control
// message rather than raw audio.
func IsControlFrame(payload []byte) bool {
	return len(payload) > 0 && payload[0] == '{'
}

// ParseFrame classifies a transport payload and decodes control messages.
func ParseFrame(payload []byte) (any, error) {
	if !IsControlFrame(payload) {
		return AudioFrame{PCM: bytes.Clone(payload)}, nil
	}
	return ParseClientMessage(payload)
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeSelectCoach:
		var msg SelectCoach
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Coach == nil {
			return nil, fmt.Errorf("selectCoach: coach: %w", ErrMissingField)
		}
		return msg, nil
	case TypeStartSession:
		var msg StartSession
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeEndSession:
		return EndSession{Type: env.Type}, nil
	case TypeUpdateVoiceConfig:
		var msg UpdateVoiceConfig
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.VoiceConfig == nil {
			return nil, fmt.Errorf("updateVoiceConfig: voiceConfig: %w", ErrMissingField)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
