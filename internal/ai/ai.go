package ai

import (
	"context"
	"math"
)

// Message is a single chat turn. Role is "user" or "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type CVAnalysis struct {
	Score       float64  `json:"score"`
	Summary     string   `json:"summary"`
	Strengths   []string `json:"strengths"`
	Weaknesses  []string `json:"weaknesses"`
	Suggestions []string `json:"suggestions"`
	Skills      []string `json:"skills"`
	Raw         string   `json:"-"`
}

type MatchScore struct {
	Score         float64  `json:"score" mapstructure:"score"`
	Fit           bool     `json:"fit" mapstructure:"-"`
	Reasoning     string   `json:"reasoning" mapstructure:"reasoning"`
	MatchedSkills []string `json:"matched_skills" mapstructure:"matched_skills"`
	MissingSkills []string `json:"missing_skills" mapstructure:"missing_skills"`
	Cached        bool     `json:"cached,omitempty" mapstructure:"-"`
}

type BehaviorFeedback struct {
	Feedback   string  `json:"feedback"`
	EyeContact string  `json:"eye_contact"`
	Posture    string  `json:"posture"`
	Confidence float64 `json:"confidence"`
}

type InterviewReport struct {
	OverallScore float64  `json:"overall_score"`
	Summary      string   `json:"summary"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
}

type FootprintFinding struct {
	Source   string `json:"source"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

type FootprintReport struct {
	RiskScore       float64            `json:"risk_score"`
	Summary         string             `json:"summary"`
	Findings        []FootprintFinding `json:"findings"`
	Recommendations []string           `json:"recommendations"`
}

// Profile is the seeker-side input of a match.
type Profile struct {
	ID         string   `json:"id,omitempty"`
	FullName   string   `json:"full_name,omitempty"`
	Headline   string   `json:"headline,omitempty"`
	Skills     []string `json:"skills,omitempty"`
	Experience string   `json:"experience,omitempty"`
	CVText     string   `json:"cv_text,omitempty"`
}

// Job is the company-side input of a match.
type Job struct {
	ID           string   `json:"id,omitempty"`
	Title        string   `json:"title"`
	Company      string   `json:"company,omitempty"`
	Description  string   `json:"description,omitempty"`
	Requirements []string `json:"requirements,omitempty"`
	Location     string   `json:"location,omitempty"`
}

// InterviewSetup parametrises the interviewer persona.
type InterviewSetup struct {
	JobTitle      string `json:"job_title"`
	InterviewType string `json:"interview_type"`
	Difficulty    string `json:"difficulty"`
}

// FootprintInput describes what is known about a person's public presence.
type FootprintInput struct {
	FullName string   `json:"full_name"`
	Links    []string `json:"links"`
	Bio      string   `json:"bio"`
}

// Criteria carries company-supplied preferences for a match. All fields are optional.
type Criteria struct {
	ExtraCriteria string `json:"extra_criteria,omitempty"`
	DealBreakers  string `json:"deal_breakers,omitempty"`
	Keywords      string `json:"keywords,omitempty"`
	Instructions  string `json:"instructions,omitempty"`
}

type CVAnalyzer interface {
	AnalyzeCV(ctx context.Context, cvText, targetRole string) (*CVAnalysis, error)
}

type Matcher interface {
	Evaluate(ctx context.Context, profile *Profile, job *Job, criteria Criteria) (*MatchScore, error)
}

// Interviewer streams the next interviewer turn. yield receives text deltas in order.
type Interviewer interface {
	Reply(ctx context.Context, setup InterviewSetup, history []Message, yield func(delta string) error) error
	Report(ctx context.Context, setup InterviewSetup, history []Message, behaviorNotes []string) (*InterviewReport, error)
}

type BehaviorAnalyzer interface {
	AnalyzeFrame(ctx context.Context, image []byte, mimeType, question string) (*BehaviorFeedback, error)
}

type FootprintScanner interface {
	Scan(ctx context.Context, input FootprintInput) (*FootprintReport, error)
}

// ClampScore bounds a model-provided score to [0,100]. NaN becomes 0.
func ClampScore(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
