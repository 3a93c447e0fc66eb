package report

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/voicecoach/internal/persona"
	"github.com/ent0n29/voicecoach/internal/session"
)

type stubGenerator struct {
	text   string
	err    error
	prompt string
}

func (g *stubGenerator) GenerateText(_ context.Context, prompt string) (string, error) {
	g.prompt = prompt
	return g.text, g.err
}

type failingStore struct{ InMemoryStore }

func (*failingStore) Save(context.Context, Record) error { return errors.New("disk full") }

func sampleRequest(typ string) Request {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return Request{
		UserID:      "user-1",
		CoachID:     "coach-1",
		SessionType: typ,
		Persona: persona.Persona{
			ID:                 "coach-1",
			Name:               "Ava",
			Category:           "Public speaking",
			LearningObjectives: []string{"pacing", "clarity"},
			Prompt:             "You coach public speaking.",
			InitialAIResponse:  "Hi there.",
		},
		Transcript: []session.TranscriptEntry{
			{Speaker: session.SpeakerAI, Text: "Hi there.", Timestamp: start},
			{Speaker: session.SpeakerUser, Text: "I get nervous before talks.", Timestamp: start.Add(5 * time.Second)},
			{Speaker: session.SpeakerAI, Text: "Tell me more.", Timestamp: start.Add(8 * time.Second)},
		},
		StartedAt: start,
	}
}

func TestParseSessionType(t *testing.T) {
	for _, v := range []string{"communication-coach", "therapy"} {
		if _, err := ParseSessionType(v); err != nil {
			t.Fatalf("ParseSessionType(%q) error = %v", v, err)
		}
	}
	for _, v := range []string{"", "fitness", "Therapy"} {
		if _, err := ParseSessionType(v); !errors.Is(err, ErrUnsupportedType) {
			t.Fatalf("ParseSessionType(%q) error = %v, want ErrUnsupportedType", v, err)
		}
	}
}

func TestModelAnalyzerSanitizesCommunicationReport(t *testing.T) {
	gen := &stubGenerator{text: "Here you go:\n```json\n" + `{
		"conversationSummary": "Talked about nerves.",
		"score": 140,
		"strengths": ["a","b","c","d","e","f","g","h"],
		"keyInsights": ["1","2","3","4","5"],
		"communicationPatterns": {"positivePatterns": ["p1"]}
	}` + "\n```"}
	rep, err := NewModelAnalyzer(gen).Analyze(context.Background(), TypeCommunication, sampleRequest("communication-coach"))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	r, ok := rep.(CommunicationReport)
	if !ok {
		t.Fatalf("Analyze() type = %T, want CommunicationReport", rep)
	}
	if r.Score != 100 {
		t.Fatalf("Score = %d, want 100", r.Score)
	}
	if len(r.Strengths) != 6 || len(r.KeyInsights) != 4 {
		t.Fatalf("list lengths = %d/%d, want 6/4", len(r.Strengths), len(r.KeyInsights))
	}
	if r.ConversationLength != "Brief" {
		t.Fatalf("ConversationLength = %q, want default Brief", r.ConversationLength)
	}
	if len(r.AreasForImprovement) != 1 {
		t.Fatalf("AreasForImprovement = %v, want default entry", r.AreasForImprovement)
	}
	if got := r.CommunicationPatterns.ChallengingPatterns; len(got) != 1 || got[0] != "Areas for development identified" {
		t.Fatalf("ChallengingPatterns = %v, want default", got)
	}
	if !strings.Contains(gen.prompt, "USER: I get nervous before talks.") {
		t.Fatalf("prompt missing formatted transcript:\n%s", gen.prompt)
	}
	if !strings.Contains(gen.prompt, "Learning Objectives: pacing, clarity") {
		t.Fatalf("prompt missing learning objectives")
	}
}

func TestModelAnalyzerSanitizesTherapyReport(t *testing.T) {
	gen := &stubGenerator{text: `{"score": -3, "riskAssessment": {"level": "Low", "indicators": ["1","2","3","4","5","6"]}, "emotionalState": {"initial": "anxious", "progressNoted": true}}`}
	rep, err := NewModelAnalyzer(gen).Analyze(context.Background(), TypeTherapy, sampleRequest("therapy"))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	r := rep.(TherapyReport)
	if r.Score != 0 {
		t.Fatalf("Score = %d, want 0", r.Score)
	}
	if r.RiskAssessment.Level != "Low" || len(r.RiskAssessment.Indicators) != 5 {
		t.Fatalf("RiskAssessment = %+v", r.RiskAssessment)
	}
	if r.EmotionalState.Initial != "anxious" || r.EmotionalState.Final != "Unchanged" || !r.EmotionalState.ProgressNoted {
		t.Fatalf("EmotionalState = %+v", r.EmotionalState)
	}
	if !strings.Contains(gen.prompt, "Therapeutic Focus: General mental health support") {
		t.Fatalf("prompt missing default therapeutic focus")
	}
}

func TestModelAnalyzerRejectsNonJSON(t *testing.T) {
	gen := &stubGenerator{text: "I cannot help with that."}
	if _, err := NewModelAnalyzer(gen).Analyze(context.Background(), TypeTherapy, sampleRequest("therapy")); !errors.Is(err, ErrNoJSON) {
		t.Fatalf("Analyze() error = %v, want ErrNoJSON", err)
	}
}

func TestHeuristicAnalyzerCapsShortSessions(t *testing.T) {
	rep, err := HeuristicAnalyzer{}.Analyze(context.Background(), TypeCommunication, sampleRequest("communication-coach"))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	r := rep.(CommunicationReport)
	if r.Score > 40 {
		t.Fatalf("Score = %d, want <= 40 for one user turn", r.Score)
	}
	if !strings.Contains(r.ConversationSummary, "1 user turn") {
		t.Fatalf("ConversationSummary = %q", r.ConversationSummary)
	}
}

func TestServiceSaveSessionStoresRecord(t *testing.T) {
	store := NewInMemoryStore()
	svc := NewService(NewModelAnalyzer(&stubGenerator{text: `{"score": 72}`}), store)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 10, 5, 30, 0, time.UTC) }

	id, err := svc.SaveSession(context.Background(), sampleRequest("communication-coach"))
	if err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}
	rec, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%q) error = %v", id, err)
	}
	if rec.DurationSeconds != 330 {
		t.Fatalf("DurationSeconds = %d, want 330", rec.DurationSeconds)
	}
	if rec.Type != TypeCommunication || rec.UserID != "user-1" || rec.CoachID != "coach-1" {
		t.Fatalf("record = %+v", rec)
	}
	if len(rec.Transcript) != 3 {
		t.Fatalf("len(Transcript) = %d, want 3", len(rec.Transcript))
	}
	var decoded CommunicationReport
	if err := json.Unmarshal(rec.Report, &decoded); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if decoded.Score != 72 {
		t.Fatalf("report score = %d, want 72", decoded.Score)
	}
}

func TestServiceFallsBackWhenAnalysisFails(t *testing.T) {
	store := NewInMemoryStore()
	svc := NewService(NewModelAnalyzer(&stubGenerator{err: errors.New("quota exceeded")}), store)

	id, err := svc.SaveSession(context.Background(), sampleRequest("therapy"))
	if err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}
	rec, _ := store.Get(context.Background(), id)
	var decoded TherapyReport
	if err := json.Unmarshal(rec.Report, &decoded); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if decoded.Score != 20 {
		t.Fatalf("fallback score = %d, want 20", decoded.Score)
	}
}

func TestServiceRejectsUnsupportedType(t *testing.T) {
	store := NewInMemoryStore()
	svc := NewService(nil, store)
	if _, err := svc.SaveSession(context.Background(), sampleRequest("fitness")); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("SaveSession() error = %v, want ErrUnsupportedType", err)
	}
	if store.Len() != 0 {
		t.Fatalf("store.Len() = %d, want 0", store.Len())
	}
}

func TestServicePropagatesStoreFailure(t *testing.T) {
	svc := NewService(nil, &failingStore{})
	if _, err := svc.SaveSession(context.Background(), sampleRequest("therapy")); err == nil {
		t.Fatal("SaveSession() error = nil, want store failure")
	}
}

func TestNewStoreDefaultsToInMemory(t *testing.T) {
	s, err := NewStore(context.Background(), "  ")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer s.Close()
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("NewStore() type = %T, want *InMemoryStore", s)
	}
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}
