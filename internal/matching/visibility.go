package matching

import (
	"context"

	"go.uber.org/zap"
)

type visibilityFilter struct {
	logger *zap.Logger
}

// NewVisibility creates a filter that removes seekers who hid their profile from companies.
// It cannot be disabled.
func NewVisibility(logger *zap.Logger) Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &visibilityFilter{logger: logger}
}

func (f *visibilityFilter) Name() string { return "visibility" }

func (f *visibilityFilter) Disable(string) {}

func (f *visibilityFilter) IsEnabled() bool { return true }

func (f *visibilityFilter) Validate() error { return nil }

func (f *visibilityFilter) Apply(_ context.Context, _ *Target, c *Candidates) (*Candidates, Step, error) {
	initial := c.Len()
	excluded := c.Exclude(func(candidate *Candidate) bool {
		return candidate.Seeker.HideFromCompanies
	})
	if len(excluded) > 0 {
		f.logger.Debug("excluding hidden profiles",
			zap.Strings("excluded_seekers", excluded),
			zap.Int("candidates_left", c.Len()),
		)
	}

	return c, Step{Initial: initial, Dropped: len(excluded), Left: c.Len()}, nil
}
