package matching

import (
	"context"
	"fmt"

	"github.com/spigell/jobmatch/internal/ai"
	"github.com/spigell/jobmatch/internal/store"
	"go.uber.org/zap"
)

// Filter represents a single ranking step applied to candidates.
type Filter interface {
	Name() string
	Disable(reason string)
	IsEnabled() bool

	Validate() error
	Apply(ctx context.Context, target *Target, c *Candidates) (*Candidates, Step, error)
}

// Target is the job candidates are ranked for, with optional company criteria.
type Target struct {
	Job      *store.Job
	Criteria ai.Criteria
}

// Step describes the result of executing a ranking step.
type Step struct {
	Initial int `json:"initial"`
	Dropped int `json:"dropped"`
	Left    int `json:"left"`
}

// StepReport is a Step attributed to its filter.
type StepReport struct {
	Name string `json:"name"`
	Step
}

// Status represents runtime information about a filter.
type Status struct {
	Name    string            `json:"name"`
	Enabled bool              `json:"enabled"`
	Reason  string            `json:"reason,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

type statusProvider interface {
	Status() Status
}

type Matching struct {
	steps  []Filter
	logger *zap.Logger
}

func New(steps []Filter, logger *zap.Logger) *Matching {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matching{steps: steps, logger: logger}
}

// DisableByName marks a filter with the provided name as disabled while keeping it in the list.
func (m *Matching) DisableByName(name, reason string) {
	for _, step := range m.steps {
		if step.Name() == name {
			step.Disable(reason)
		}
	}
}

// Run executes the enabled filters sequentially and returns the candidates sorted by score.
func (m *Matching) Run(ctx context.Context, target *Target, c *Candidates) (*Candidates, []StepReport, error) {
	if target == nil || target.Job == nil {
		return nil, nil, fmt.Errorf("job is required")
	}

	for _, step := range m.steps {
		if !step.IsEnabled() {
			continue
		}
		if err := step.Validate(); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", step.Name(), err)
		}
	}

	reports := make([]StepReport, 0, len(m.steps))
	for _, step := range m.steps {
		if !step.IsEnabled() {
			m.logger.Info("filter disabled", zap.String("name", step.Name()))
			continue
		}

		next, info, err := step.Apply(ctx, target, c)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", step.Name(), err)
		}

		m.logger.Info("filter step",
			zap.String("name", step.Name()),
			zap.String("job_id", target.Job.ID),
			zap.Int("initial", info.Initial),
			zap.Int("dropped", info.Dropped),
			zap.Int("left", info.Left),
		)

		reports = append(reports, StepReport{Name: step.Name(), Step: info})
		c = next
	}

	c.SortByScore()
	return c, reports, nil
}

// Describe returns status entries for the configured filters.
func (m *Matching) Describe() []Status {
	statuses := make([]Status, 0, len(m.steps))
	for _, step := range m.steps {
		if reporter, ok := step.(statusProvider); ok {
			statuses = append(statuses, reporter.Status())
			continue
		}

		statuses = append(statuses, Status{
			Name:    step.Name(),
			Enabled: step.IsEnabled(),
		})
	}
	return statuses
}
