package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spigell/jobmatch/internal/ai"
)

// Memory is an in-process Store used for development and tests.
type Memory struct {
	mu           sync.RWMutex
	seekers      map[string]*Seeker
	jobs         map[string]*Job
	applications []*Application
	cvAnalyses   []*CVAnalysisRecord
	interviews   map[string]*InterviewRecord
	footprints   []*FootprintRecord
	now          func() time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		seekers:    make(map[string]*Seeker),
		jobs:       make(map[string]*Job),
		interviews: make(map[string]*InterviewRecord),
		now:        time.Now,
	}
}

func (m *Memory) PutSeeker(s *Seeker) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	cp.Skills = slices.Clone(s.Skills)
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = m.now()
	}
	m.seekers[cp.ID] = &cp
}

func (m *Memory) PutJob(j *Job) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *j
	cp.Requirements = slices.Clone(j.Requirements)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.now()
	}
	m.jobs[cp.ID] = &cp
}

// Apply records an application of seekerID to jobID. Applying twice is a no-op.
func (m *Memory) Apply(seekerID, jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findApplication(seekerID, jobID) != nil {
		return
	}
	m.applications = append(m.applications, &Application{
		ID:        uuid.NewString(),
		SeekerID:  seekerID,
		JobID:     jobID,
		Status:    "applied",
		UpdatedAt: m.now(),
	})
}

func (m *Memory) GetSeeker(_ context.Context, id string) (*Seeker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.seekers[id]
	if !ok {
		return nil, fmt.Errorf("seeker %s: %w", id, ErrNotFound)
	}
	cp := *s
	cp.Skills = slices.Clone(s.Skills)
	return &cp, nil
}

func (m *Memory) GetJob(_ context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	cp := *j
	cp.Requirements = slices.Clone(j.Requirements)
	return &cp, nil
}

func (m *Memory) ListApplicants(_ context.Context, jobID string) ([]*Seeker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.jobs[jobID]; !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}

	seekers := make([]*Seeker, 0)
	for _, app := range m.applications {
		if app.JobID != jobID {
			continue
		}
		s, ok := m.seekers[app.SeekerID]
		if !ok {
			continue
		}
		cp := *s
		cp.Skills = slices.Clone(s.Skills)
		seekers = append(seekers, &cp)
	}
	return seekers, nil
}

func (m *Memory) SaveMatchScore(_ context.Context, seekerID, jobID string, score *ai.MatchScore) error {
	if score == nil {
		return fmt.Errorf("match score is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	app := m.findApplication(seekerID, jobID)
	if app == nil {
		app = &Application{ID: uuid.NewString(), SeekerID: seekerID, JobID: jobID, Status: "scored"}
		m.applications = append(m.applications, app)
	}

	value := score.Score
	app.MatchScore = &value
	app.MatchReasoning = score.Reasoning
	app.MatchedSkills = slices.Clone(score.MatchedSkills)
	app.MissingSkills = slices.Clone(score.MissingSkills)
	app.UpdatedAt = m.now()
	return nil
}

func (m *Memory) SaveCVAnalysis(_ context.Context, rec *CVAnalysisRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cvAnalyses = append(m.cvAnalyses, m.stampCV(rec))
	return nil
}

func (m *Memory) SaveInterview(_ context.Context, rec *InterviewRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rec
	if cp.ID == "" {
		cp.ID = uuid.NewString()
		rec.ID = cp.ID
	}
	cp.Transcript = slices.Clone(rec.Transcript)
	cp.BehaviorNotes = slices.Clone(rec.BehaviorNotes)
	if prev, ok := m.interviews[cp.ID]; ok {
		cp.CreatedAt = prev.CreatedAt
		if len(cp.BehaviorNotes) == 0 {
			cp.BehaviorNotes = prev.BehaviorNotes
		}
		if cp.Report == nil {
			cp.Report = prev.Report
		}
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.now()
	}
	m.interviews[cp.ID] = &cp
	return nil
}

func (m *Memory) SaveFootprintScan(_ context.Context, rec *FootprintRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rec
	if cp.ID == "" {
		cp.ID = uuid.NewString()
		rec.ID = cp.ID
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.now()
	}
	m.footprints = append(m.footprints, &cp)
	return nil
}

func (m *Memory) Close() {}

// Application returns the application of seekerID to jobID.
func (m *Memory) Application(seekerID, jobID string) (*Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	app := m.findApplication(seekerID, jobID)
	if app == nil {
		return nil, fmt.Errorf("application %s/%s: %w", seekerID, jobID, ErrNotFound)
	}
	cp := *app
	return &cp, nil
}

func (m *Memory) Interview(id string) (*InterviewRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.interviews[id]
	if !ok {
		return nil, fmt.Errorf("interview %s: %w", id, ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (m *Memory) CVAnalyses() []*CVAnalysisRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.cvAnalyses)
}

func (m *Memory) FootprintScans() []*FootprintRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.footprints)
}

func (m *Memory) findApplication(seekerID, jobID string) *Application {
	for _, app := range m.applications {
		if app.SeekerID == seekerID && app.JobID == jobID {
			return app
		}
	}
	return nil
}

func (m *Memory) stampCV(rec *CVAnalysisRecord) *CVAnalysisRecord {
	cp := *rec
	if cp.ID == "" {
		cp.ID = uuid.NewString()
		rec.ID = cp.ID
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.now()
	}
	return &cp
}
