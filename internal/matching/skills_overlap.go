package matching

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

type SkillsOverlapConfig struct {
	Enabled bool
}

type skillsOverlapFilter struct {
	enabled bool
	reason  string
	logger  *zap.Logger
}

// NewSkillsOverlap creates a filter that removes candidates sharing no skill with the job requirements.
func NewSkillsOverlap(cfg *SkillsOverlapConfig, logger *zap.Logger) Filter {
	enabled := cfg != nil && cfg.Enabled
	if logger == nil {
		logger = zap.NewNop()
	}
	return &skillsOverlapFilter{enabled: enabled, logger: logger}
}

func (f *skillsOverlapFilter) Name() string { return "skills_overlap" }

func (f *skillsOverlapFilter) Disable(reason string) {
	f.enabled = false
	f.reason = reason
}

func (f *skillsOverlapFilter) IsEnabled() bool { return f.enabled }

func (f *skillsOverlapFilter) Validate() error { return nil }

func (f *skillsOverlapFilter) Apply(_ context.Context, target *Target, c *Candidates) (*Candidates, Step, error) {
	initial := c.Len()

	required := normalizeSkills(target.Job.Requirements)
	if len(required) == 0 {
		f.logger.Debug("job has no requirements; keeping all candidates", zap.String("job_id", target.Job.ID))
		return c, Step{Initial: initial, Dropped: 0, Left: c.Len()}, nil
	}

	excluded := c.Exclude(func(candidate *Candidate) bool {
		for skill := range normalizeSkills(candidate.Seeker.Skills) {
			if _, ok := required[skill]; ok {
				return false
			}
		}
		return true
	})
	if len(excluded) > 0 {
		f.logger.Info("excluding candidates without required skills",
			zap.Strings("excluded_seekers", excluded),
			zap.Int("candidates_left", c.Len()),
		)
	}

	return c, Step{Initial: initial, Dropped: len(excluded), Left: c.Len()}, nil
}

func (f *skillsOverlapFilter) Status() Status {
	return Status{Name: f.Name(), Enabled: f.enabled, Reason: f.reason}
}

func normalizeSkills(skills []string) map[string]struct{} {
	set := make(map[string]struct{}, len(skills))
	for _, skill := range skills {
		if s := strings.ToLower(strings.Join(strings.Fields(skill), " ")); s != "" {
			set[s] = struct{}{}
		}
	}
	return set
}
