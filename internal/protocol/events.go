package protocol

// Outbound events. Field names are part of the client contract.

type CoachSetup struct {
	Type    MessageType `json:"type"`
	Success bool        `json:"success"`
	Coach   string      `json:"coach"`
}

type Partial struct {
	Partial string `json:"partial"`
}

type UserTranscript struct {
	User string `json:"user"`
}

type ReplyChunk struct {
	GeminiChunk string `json:"geminiChunk"`
}

type ReplyDone struct {
	GeminiDone bool `json:"geminiDone"`
}

type InitialMessage struct {
	Type        MessageType `json:"type"`
	GeminiChunk string      `json:"geminiChunk"`
}

type AudioChunk struct {
	TTSAudioChunk string `json:"ttsAudioChunk"`
	ContextID     string `json:"contextId"`
}

type AudioDone struct {
	TTSDone   bool   `json:"ttsDone"`
	ContextID string `json:"contextId"`
}

type SessionEnded struct {
	Type      MessageType `json:"type"`
	Success   bool        `json:"success"`
	SessionID string      `json:"sessionId,omitempty"`
}

type ErrorEvent struct {
	Error string `json:"error"`
}

func NewCoachSetup(coach string) CoachSetup {
	return CoachSetup{Type: TypeCoachSetup, Success: true, Coach: coach}
}

func NewInitialMessage(text string) InitialMessage {
	return InitialMessage{Type: TypeInitialMessage, GeminiChunk: text}
}

func NewSessionEnded(sessionID string) SessionEnded {
	return SessionEnded{Type: TypeSessionEnded, Success: true, SessionID: sessionID}
}

// EventName returns a stable label for an outbound event, used for metrics.
func EventName(msg any) string {
	switch msg.(type) {
	case CoachSetup:
		return "coach_setup"
	case Partial:
		return "partial"
	case UserTranscript:
		return "user"
	case ReplyChunk:
		return "reply_chunk"
	case ReplyDone:
		return "reply_done"
	case InitialMessage:
		return "initial_message"
	case AudioChunk:
		return "tts_audio_chunk"
	case AudioDone:
		return "tts_done"
	case SessionEnded:
		return "session_ended"
	case ErrorEvent:
		return "error"
	default:
		return "unknown"
	}
}

// Critical reports whether an event must not be dropped under backpressure.
func Critical(msg any) bool {
	switch msg.(type) {
	case Partial, AudioChunk:
		return false
	default:
		return true
	}
}
