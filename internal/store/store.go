package store

import (
	"context"
	"errors"
	"time"

	"github.com/spigell/jobmatch/internal/ai"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Seeker is a job seeker profile.
type Seeker struct {
	ID                string    `json:"id"`
	FullName          string    `json:"full_name"`
	Headline          string    `json:"headline"`
	Skills            []string  `json:"skills"`
	Experience        string    `json:"experience"`
	CVText            string    `json:"cv_text"`
	HideFromCompanies bool      `json:"hide_from_companies"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Profile converts the seeker into the payload sent to the AI layer.
// The full name is left out so scoring stays blind to it.
func (s *Seeker) Profile() *ai.Profile {
	return &ai.Profile{
		ID:         s.ID,
		Headline:   s.Headline,
		Skills:     s.Skills,
		Experience: s.Experience,
		CVText:     s.CVText,
	}
}

type Job struct {
	ID           string    `json:"id"`
	CompanyID    string    `json:"company_id"`
	Title        string    `json:"title"`
	Company      string    `json:"company"`
	Description  string    `json:"description"`
	Requirements []string  `json:"requirements"`
	Location     string    `json:"location"`
	CreatedAt    time.Time `json:"created_at"`
}

func (j *Job) AI() *ai.Job {
	return &ai.Job{
		ID:           j.ID,
		Title:        j.Title,
		Company:      j.Company,
		Description:  j.Description,
		Requirements: j.Requirements,
		Location:     j.Location,
	}
}

// Application links a seeker to a job and carries the latest match score.
type Application struct {
	ID             string    `json:"id"`
	SeekerID       string    `json:"seeker_id"`
	JobID          string    `json:"job_id"`
	Status         string    `json:"status"`
	MatchScore     *float64  `json:"match_score,omitempty"`
	MatchReasoning string    `json:"match_reasoning,omitempty"`
	MatchedSkills  []string  `json:"matched_skills,omitempty"`
	MissingSkills  []string  `json:"missing_skills,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type CVAnalysisRecord struct {
	ID         string        `json:"id"`
	SeekerID   string        `json:"seeker_id,omitempty"`
	TargetRole string        `json:"target_role,omitempty"`
	Analysis   ai.CVAnalysis `json:"analysis"`
	CreatedAt  time.Time     `json:"created_at"`
}

type InterviewRecord struct {
	ID            string              `json:"id"`
	SeekerID      string              `json:"seeker_id,omitempty"`
	JobTitle      string              `json:"job_title"`
	InterviewType string              `json:"interview_type"`
	Difficulty    string              `json:"difficulty"`
	Transcript    []ai.Message        `json:"transcript"`
	BehaviorNotes []string            `json:"behavior_notes"`
	Report        *ai.InterviewReport `json:"report,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

type FootprintRecord struct {
	ID        string             `json:"id"`
	SeekerID  string             `json:"seeker_id,omitempty"`
	FullName  string             `json:"full_name"`
	Report    ai.FootprintReport `json:"report"`
	CreatedAt time.Time          `json:"created_at"`
}

// Store is the persistence surface used by the HTTP handlers.
type Store interface {
	GetSeeker(ctx context.Context, id string) (*Seeker, error)
	GetJob(ctx context.Context, id string) (*Job, error)
	// ListApplicants returns the seekers who applied to the job, oldest application first.
	ListApplicants(ctx context.Context, jobID string) ([]*Seeker, error)
	SaveMatchScore(ctx context.Context, seekerID, jobID string, score *ai.MatchScore) error
	SaveCVAnalysis(ctx context.Context, rec *CVAnalysisRecord) error
	SaveInterview(ctx context.Context, rec *InterviewRecord) error
	SaveFootprintScan(ctx context.Context, rec *FootprintRecord) error
	Close()
}
