package report

import "math"

type CommunicationReport struct {
	ConversationSummary       string                    `json:"conversationSummary"`
	ConversationLength        string                    `json:"conversationLength"`
	EngagementLevel           string                    `json:"engagementLevel"`
	Score                     int                       `json:"score"`
	ScoreJustification        string                    `json:"scoreJustification"`
	Strengths                 []string                  `json:"strengths"`
	AreasForImprovement       []string                  `json:"areasForImprovement"`
	RecommendedNextSteps      []string                  `json:"recommendedNextSteps"`
	OutcomeAchieved           string                    `json:"outcomeAchieved"`
	KeyInsights               []string                  `json:"keyInsights"`
	LearningObjectiveProgress LearningObjectiveProgress `json:"learningObjectiveProgress"`
	CommunicationPatterns     Patterns                  `json:"communicationPatterns"`
	CoachingReadiness         string                    `json:"coachingReadiness"`
}

type LearningObjectiveProgress struct {
	ObjectivesAddressed []string `json:"objectivesAddressed"`
	ProgressLevel       string   `json:"progressLevel"`
	SpecificEvidence    string   `json:"specificEvidence"`
}

type Patterns struct {
	PositivePatterns    []string `json:"positivePatterns"`
	ChallengingPatterns []string `json:"challengingPatterns"`
}

type TherapyReport struct {
	ConversationSummary       string                  `json:"conversationSummary"`
	SessionLength             string                  `json:"sessionLength"`
	EngagementLevel           string                  `json:"engagementLevel"`
	Score                     int                     `json:"score"`
	ScoreJustification        string                  `json:"scoreJustification"`
	ConcernsExpressed         []string                `json:"concernsExpressed"`
	EmotionalState            EmotionalState          `json:"emotionalState"`
	CopingStrategiesDiscussed []string                `json:"copingStrategiesDiscussed"`
	TherapeuticTechniquesUsed []string                `json:"therapeuticTechniquesUsed"`
	SelfAwarenessIndicators   []string                `json:"selfAwarenessIndicators"`
	RecommendedNextSteps      []string                `json:"recommendedNextSteps"`
	OutcomeAchieved           string                  `json:"outcomeAchieved"`
	KeyBreakthroughs          []string                `json:"keyBreakthroughs"`
	TherapeuticGoalProgress   TherapeuticGoalProgress `json:"therapeuticGoalProgress"`
	TherapeuticPatterns       Patterns                `json:"therapeuticPatterns"`
	TherapyReadiness          string                  `json:"therapyReadiness"`
	RiskAssessment            RiskAssessment          `json:"riskAssessment"`
}

type EmotionalState struct {
	Initial       string `json:"initial"`
	Final         string `json:"final"`
	ProgressNoted bool   `json:"progressNoted"`
}

type TherapeuticGoalProgress struct {
	GoalsAddressed   []string `json:"goalsAddressed"`
	ProgressLevel    string   `json:"progressLevel"`
	SpecificEvidence string   `json:"specificEvidence"`
}

type RiskAssessment struct {
	Level              string   `json:"level"`
	Indicators         []string `json:"indicators"`
	RecommendedActions []string `json:"recommendedActions"`
}

// rawCommunication mirrors CommunicationReport with optional fields so the
// model's omissions can be told apart from explicit values.
type rawCommunication struct {
	ConversationSummary       string   `json:"conversationSummary"`
	ConversationLength        string   `json:"conversationLength"`
	EngagementLevel           string   `json:"engagementLevel"`
	Score                     *float64 `json:"score"`
	ScoreJustification        string   `json:"scoreJustification"`
	Strengths                 []string `json:"strengths"`
	AreasForImprovement       []string `json:"areasForImprovement"`
	RecommendedNextSteps      []string `json:"recommendedNextSteps"`
	OutcomeAchieved           string   `json:"outcomeAchieved"`
	KeyInsights               []string `json:"keyInsights"`
	LearningObjectiveProgress *struct {
		ObjectivesAddressed []string `json:"objectivesAddressed"`
		ProgressLevel       string   `json:"progressLevel"`
		SpecificEvidence    string   `json:"specificEvidence"`
	} `json:"learningObjectiveProgress"`
	CommunicationPatterns *struct {
		PositivePatterns    []string `json:"positivePatterns"`
		ChallengingPatterns []string `json:"challengingPatterns"`
	} `json:"communicationPatterns"`
	CoachingReadiness string `json:"coachingReadiness"`
}

type rawTherapy struct {
	ConversationSummary string   `json:"conversationSummary"`
	SessionLength       string   `json:"sessionLength"`
	EngagementLevel     string   `json:"engagementLevel"`
	Score               *float64 `json:"score"`
	ScoreJustification  string   `json:"scoreJustification"`
	ConcernsExpressed   []string `json:"concernsExpressed"`
	EmotionalState      *struct {
		Initial       string `json:"initial"`
		Final         string `json:"final"`
		ProgressNoted bool   `json:"progressNoted"`
	} `json:"emotionalState"`
	CopingStrategiesDiscussed []string `json:"copingStrategiesDiscussed"`
	TherapeuticTechniquesUsed []string `json:"therapeuticTechniquesUsed"`
	SelfAwarenessIndicators   []string `json:"selfAwarenessIndicators"`
	RecommendedNextSteps      []string `json:"recommendedNextSteps"`
	OutcomeAchieved           string   `json:"outcomeAchieved"`
	KeyBreakthroughs          []string `json:"keyBreakthroughs"`
	TherapeuticGoalProgress   *struct {
		GoalsAddressed   []string `json:"goalsAddressed"`
		ProgressLevel    string   `json:"progressLevel"`
		SpecificEvidence string   `json:"specificEvidence"`
	} `json:"therapeuticGoalProgress"`
	TherapeuticPatterns *struct {
		PositivePatterns    []string `json:"positivePatterns"`
		ChallengingPatterns []string `json:"challengingPatterns"`
	} `json:"therapeuticPatterns"`
	TherapyReadiness string `json:"therapyReadiness"`
	RiskAssessment   *struct {
		Level              string   `json:"level"`
		Indicators         []string `json:"indicators"`
		RecommendedActions []string `json:"recommendedActions"`
	} `json:"riskAssessment"`
}

func (r rawCommunication) sanitize() CommunicationReport {
	out := CommunicationReport{
		ConversationSummary:  orDefault(r.ConversationSummary, "Communication session completed successfully."),
		ConversationLength:   orDefault(r.ConversationLength, "Brief"),
		EngagementLevel:      orDefault(r.EngagementLevel, "Limited"),
		Score:                clampScore(r.Score, 30),
		ScoreJustification:   orDefault(r.ScoreJustification, "Score assigned based on limited conversation depth and engagement."),
		Strengths:            limit(r.Strengths, 6),
		AreasForImprovement:  limitOr(r.AreasForImprovement, 6, "Continue practicing communication skills"),
		RecommendedNextSteps: limitOr(r.RecommendedNextSteps, 6, "Schedule follow-up sessions"),
		OutcomeAchieved:      orDefault(r.OutcomeAchieved, "User completed communication practice session"),
		KeyInsights:          limit(r.KeyInsights, 4),
		LearningObjectiveProgress: LearningObjectiveProgress{
			ObjectivesAddressed: []string{},
			ProgressLevel:       "None",
			SpecificEvidence:    "No specific evidence of progress toward learning objectives",
		},
		CommunicationPatterns: Patterns{
			PositivePatterns:    []string{},
			ChallengingPatterns: []string{"Areas for development identified"},
		},
		CoachingReadiness: orDefault(r.CoachingReadiness, "User shows basic readiness for coaching with room for increased engagement"),
	}
	if p := r.LearningObjectiveProgress; p != nil {
		out.LearningObjectiveProgress.ObjectivesAddressed = limit(p.ObjectivesAddressed, -1)
		out.LearningObjectiveProgress.ProgressLevel = orDefault(p.ProgressLevel, out.LearningObjectiveProgress.ProgressLevel)
		out.LearningObjectiveProgress.SpecificEvidence = orDefault(p.SpecificEvidence, out.LearningObjectiveProgress.SpecificEvidence)
	}
	if p := r.CommunicationPatterns; p != nil {
		out.CommunicationPatterns.PositivePatterns = limit(p.PositivePatterns, 4)
		out.CommunicationPatterns.ChallengingPatterns = limitOr(p.ChallengingPatterns, 4, out.CommunicationPatterns.ChallengingPatterns...)
	}
	return out
}

func (r rawTherapy) sanitize() TherapyReport {
	out := TherapyReport{
		ConversationSummary:       orDefault(r.ConversationSummary, "Therapeutic session completed with basic interaction."),
		SessionLength:             orDefault(r.SessionLength, "Brief"),
		EngagementLevel:           orDefault(r.EngagementLevel, "Limited"),
		Score:                     clampScore(r.Score, 25),
		ScoreJustification:        orDefault(r.ScoreJustification, "Score based on limited therapeutic engagement and emotional processing."),
		ConcernsExpressed:         limit(r.ConcernsExpressed, 8),
		EmotionalState:            EmotionalState{Initial: "Not clearly expressed", Final: "Unchanged"},
		CopingStrategiesDiscussed: limit(r.CopingStrategiesDiscussed, 6),
		TherapeuticTechniquesUsed: limit(r.TherapeuticTechniquesUsed, 6),
		SelfAwarenessIndicators:   limit(r.SelfAwarenessIndicators, 5),
		RecommendedNextSteps:      limitOr(r.RecommendedNextSteps, 6, "Continue building therapeutic rapport"),
		OutcomeAchieved:           orDefault(r.OutcomeAchieved, "Basic therapeutic interaction completed"),
		KeyBreakthroughs:          limit(r.KeyBreakthroughs, 4),
		TherapeuticGoalProgress: TherapeuticGoalProgress{
			GoalsAddressed:   []string{},
			ProgressLevel:    "None",
			SpecificEvidence: "No specific evidence of therapeutic progress in this session",
		},
		TherapeuticPatterns: Patterns{
			PositivePatterns:    []string{},
			ChallengingPatterns: []string{"Limited therapeutic engagement"},
		},
		TherapyReadiness: orDefault(r.TherapyReadiness, "Building readiness for therapeutic work"),
		RiskAssessment:   RiskAssessment{Level: "None", Indicators: []string{}, RecommendedActions: []string{}},
	}
	if e := r.EmotionalState; e != nil {
		out.EmotionalState.Initial = orDefault(e.Initial, out.EmotionalState.Initial)
		out.EmotionalState.Final = orDefault(e.Final, out.EmotionalState.Final)
		out.EmotionalState.ProgressNoted = e.ProgressNoted
	}
	if g := r.TherapeuticGoalProgress; g != nil {
		out.TherapeuticGoalProgress.GoalsAddressed = limit(g.GoalsAddressed, -1)
		out.TherapeuticGoalProgress.ProgressLevel = orDefault(g.ProgressLevel, out.TherapeuticGoalProgress.ProgressLevel)
		out.TherapeuticGoalProgress.SpecificEvidence = orDefault(g.SpecificEvidence, out.TherapeuticGoalProgress.SpecificEvidence)
	}
	if p := r.TherapeuticPatterns; p != nil {
		out.TherapeuticPatterns.PositivePatterns = limit(p.PositivePatterns, 5)
		out.TherapeuticPatterns.ChallengingPatterns = limitOr(p.ChallengingPatterns, 5, out.TherapeuticPatterns.ChallengingPatterns...)
	}
	if ra := r.RiskAssessment; ra != nil {
		out.RiskAssessment.Level = orDefault(ra.Level, "None")
		out.RiskAssessment.Indicators = limit(ra.Indicators, 5)
		out.RiskAssessment.RecommendedActions = limit(ra.RecommendedActions, 5)
	}
	return out
}

// Fallback returns the report stored when a transcript could not be analyzed.
func Fallback(typ SessionType) any {
	if typ == TypeTherapy {
		return TherapyReport{
			ConversationSummary: "Brief therapeutic interaction with very limited emotional processing and minimal engagement with therapeutic techniques.",
			SessionLength:       "Brief",
			EngagementLevel:     "Minimal",
			Score:               20,
			ScoreJustification:  "Very low score due to lack of meaningful therapeutic engagement, no emotional exploration, and absence of coping strategy discussion.",
			ConcernsExpressed:   []string{},
			EmotionalState: EmotionalState{
				Initial: "Not adequately assessed due to limited sharing",
				Final:   "No measurable change due to minimal engagement",
			},
			CopingStrategiesDiscussed: []string{},
			TherapeuticTechniquesUsed: []string{},
			SelfAwarenessIndicators:   []string{},
			RecommendedNextSteps: []string{
				"Focus on building therapeutic rapport and trust",
				"Start with very basic emotional check-ins",
				"Introduce simple grounding techniques gradually",
			},
			OutcomeAchieved:  "Very limited therapeutic progress due to minimal participation in the therapeutic process.",
			KeyBreakthroughs: []string{},
			TherapeuticGoalProgress: TherapeuticGoalProgress{
				GoalsAddressed:   []string{},
				ProgressLevel:    "None",
				SpecificEvidence: "No engagement with therapeutic goals was observed during this session",
			},
			TherapeuticPatterns: Patterns{
				PositivePatterns:    []string{},
				ChallengingPatterns: []string{"Extremely limited emotional expression", "Minimal response to therapeutic interventions"},
			},
			TherapyReadiness: "User may benefit from more time to build comfort with the therapeutic process",
			RiskAssessment:   RiskAssessment{Level: "None", Indicators: []string{}, RecommendedActions: []string{}},
		}
	}
	return CommunicationReport{
		ConversationSummary: "Brief communication session with limited user engagement and minimal coaching interaction.",
		ConversationLength:  "Brief",
		EngagementLevel:     "Minimal",
		Score:               25,
		ScoreJustification:  "Low score due to very limited conversation depth, lack of meaningful exchanges, and no evidence of coaching progress.",
		Strengths:           []string{},
		AreasForImprovement: []string{
			"Increase participation in coaching conversations",
			"Provide more detailed responses to questions",
			"Practice active engagement with coaching prompts",
		},
		RecommendedNextSteps: []string{
			"Start with very short, structured coaching exercises",
			"Practice responding to simple coaching questions with more detail",
		},
		OutcomeAchieved: "Minimal progress due to limited engagement in the coaching process.",
		KeyInsights:     []string{},
		LearningObjectiveProgress: LearningObjectiveProgress{
			ObjectivesAddressed: []string{},
			ProgressLevel:       "None",
			SpecificEvidence:    "No engagement with specific learning objectives was observed during this session",
		},
		CommunicationPatterns: Patterns{
			PositivePatterns:    []string{},
			ChallengingPatterns: []string{"Very brief, surface-level responses", "Limited engagement with coaching questions"},
		},
		CoachingReadiness: "User may benefit from a more structured introduction to the coaching process",
	}
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func clampScore(v *float64, fallback int) int {
	if v == nil || *v == 0 || math.IsNaN(*v) {
		return fallback
	}
	return int(math.Round(math.Min(100, math.Max(0, *v))))
}

// limit truncates items to n entries (n < 0 keeps all) and never returns nil.
func limit(items []string, n int) []string {
	if items == nil {
		return []string{}
	}
	if n >= 0 && len(items) > n {
		items = items[:n]
	}
	out := make([]string, len(items))
	copy(out, items)
	return out
}

func limitOr(items []string, n int, fallback ...string) []string {
	if items == nil {
		return limit(fallback, -1)
	}
	return limit(items, n)
}
