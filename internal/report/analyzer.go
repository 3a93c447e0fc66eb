package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"google.golang.org/genai"

	"github.com/ent0n29/voicecoach/internal/session"
)

var (
	ErrNoJSON = errors.New("model response contained no JSON object")

	jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)
)

// TextGenerator produces a single completion for a prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// GeminiGenerator is a TextGenerator backed by the Gemini models API.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

func NewGeminiGenerator(client *genai.Client, model string) *GeminiGenerator {
	return &GeminiGenerator{client: client, model: model}
}

func (g *GeminiGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return resp.Text(), nil
}

// ModelAnalyzer asks a language model to score the transcript and sanitizes
// whatever JSON it returns.
type ModelAnalyzer struct {
	gen TextGenerator
}

func NewModelAnalyzer(gen TextGenerator) *ModelAnalyzer {
	return &ModelAnalyzer{gen: gen}
}

func (a *ModelAnalyzer) Analyze(ctx context.Context, typ SessionType, req Request) (any, error) {
	text, err := a.gen.GenerateText(ctx, buildPrompt(typ, req))
	if err != nil {
		return nil, err
	}
	raw := jsonObjectRe.FindString(text)
	if raw == "" {
		return nil, ErrNoJSON
	}

	switch typ {
	case TypeTherapy:
		var r rawTherapy
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("decode therapy report: %w", err)
		}
		return r.sanitize(), nil
	case TypeCommunication:
		var r rawCommunication
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("decode communication report: %w", err)
		}
		return r.sanitize(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, typ)
	}
}

// HeuristicAnalyzer scores a session from its shape alone. It is used when no
// language model is configured.
type HeuristicAnalyzer struct{}

func (HeuristicAnalyzer) Analyze(_ context.Context, typ SessionType, req Request) (any, error) {
	userTurns, words := 0, 0
	for _, e := range req.Transcript {
		if e.Speaker != session.SpeakerUser {
			continue
		}
		userTurns++
		words += len(strings.Fields(e.Text))
	}
	score := heuristicScore(userTurns, words)
	summary := fmt.Sprintf("Session with %d user turn(s) and %d spoken word(s).", userTurns, words)
	length := lengthLabel(userTurns)

	switch typ {
	case TypeTherapy:
		r := Fallback(TypeTherapy).(TherapyReport)
		r.ConversationSummary = summary
		r.SessionLength = length
		r.Score = score
		r.ScoreJustification = "Score estimated from the number and length of user turns."
		return r, nil
	case TypeCommunication:
		r := Fallback(TypeCommunication).(CommunicationReport)
		r.ConversationSummary = summary
		r.ConversationLength = length
		r.Score = score
		r.ScoreJustification = "Score estimated from the number and length of user turns."
		return r, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, typ)
	}
}

// heuristicScore caps sessions with fewer than four user turns at 40.
func heuristicScore(userTurns, words int) int {
	score := userTurns*8 + words/10
	if userTurns < 4 {
		return min(score, 40)
	}
	return min(score, 70)
}

func lengthLabel(userTurns int) string {
	switch {
	case userTurns < 4:
		return "Brief"
	case userTurns < 10:
		return "Moderate"
	default:
		return "Extended"
	}
}

func formatTranscript(entries []session.TranscriptEntry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(string(e.Speaker)), e.Text)
	}
	return b.String()
}

func buildPrompt(typ SessionType, req Request) string {
	var b strings.Builder
	p := req.Persona
	if typ == TypeTherapy {
		focus := p.TherapeuticFocus
		if focus == "" {
			focus = "General mental health support"
		}
		b.WriteString("You are an expert therapeutic coach analyzer specializing in mental health support, stress management, anxiety treatment and mindfulness practices. Analyze the following conversation between a user and an AI therapy coach.\n\n")
		fmt.Fprintf(&b, "THERAPY COACH INFORMATION:\nName: %s\nCategory: %s\nDescription: %s\nTherapeutic Focus: %s\n\n", p.Name, p.Category, p.ShortDescription, focus)
	} else {
		b.WriteString("You are an expert communication coach analyzer. Analyze the following conversation between a user and an AI communication coach.\n\n")
		fmt.Fprintf(&b, "COACH INFORMATION:\nName: %s\nCategory: %s\nDescription: %s\nLearning Objectives: %s\n\n", p.Name, p.Category, p.ShortDescription, strings.Join(p.LearningObjectives, ", "))
	}
	b.WriteString("CONVERSATION HISTORY:\n")
	b.WriteString(formatTranscript(req.Transcript))
	b.WriteString(scoringGuidelines)
	if typ == TypeTherapy {
		b.WriteString(therapySchema)
	} else {
		b.WriteString(communicationSchema)
	}
	return b.String()
}

const scoringGuidelines = `
SCORING GUIDELINES:
Only score above 50 when the user engaged in at least 3-4 meaningful exchanges beyond greetings, shared specific details about their situation, and showed evidence of real work (reflection, goal-setting, emotional exploration or coping strategies).

SCORING CRITERIA (0-100):
- 90-100: Exceptional engagement with deep reflection and multiple breakthroughs.
- 80-89: Strong engagement with good reflection and actionable insights.
- 70-79: Moderate engagement with some progress toward objectives.
- 60-69: Limited but meaningful engagement lacking depth.
- 50-59: Minimal meaningful engagement.
- 30-49: Mostly surface-level responses.
- 10-29: User barely participates meaningfully.
- 0-9: Only greetings, one-word answers or off-topic responses.

Be strict. A conversation with fewer than 4 substantive user turns must not score above 40.

Respond with a single JSON object and nothing else, using exactly this structure:
`

const communicationSchema = `{
  "conversationSummary": "string",
  "conversationLength": "Brief|Moderate|Extended",
  "engagementLevel": "Minimal|Limited|Moderate|High",
  "score": 0,
  "scoreJustification": "string",
  "strengths": ["string"],
  "areasForImprovement": ["string"],
  "recommendedNextSteps": ["string"],
  "outcomeAchieved": "string",
  "keyInsights": ["string"],
  "learningObjectiveProgress": {"objectivesAddressed": ["string"], "progressLevel": "None|Minimal|Moderate|Significant", "specificEvidence": "string"},
  "communicationPatterns": {"positivePatterns": ["string"], "challengingPatterns": ["string"]},
  "coachingReadiness": "string"
}
`

const therapySchema = `{
  "conversationSummary": "string",
  "sessionLength": "Brief|Moderate|Extended",
  "engagementLevel": "Minimal|Limited|Moderate|High",
  "score": 0,
  "scoreJustification": "string",
  "concernsExpressed": ["string"],
  "emotionalState": {"initial": "string", "final": "string", "progressNoted": false},
  "copingStrategiesDiscussed": ["string"],
  "therapeuticTechniquesUsed": ["string"],
  "selfAwarenessIndicators": ["string"],
  "recommendedNextSteps": ["string"],
  "outcomeAchieved": "string",
  "keyBreakthroughs": ["string"],
  "therapeuticGoalProgress": {"goalsAddressed": ["string"], "progressLevel": "None|Minimal|Moderate|Significant", "specificEvidence": "string"},
  "therapeuticPatterns": {"positivePatterns": ["string"], "challengingPatterns": ["string"]},
  "therapyReadiness": "string",
  "riskAssessment": {"level": "None|Low|Moderate|High", "indicators": ["string"], "recommendedActions": ["string"]}
}
`
