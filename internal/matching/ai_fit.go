package matching

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultAIFitConcurrency = 4

type AIFitFilterConfig struct {
	Enabled bool
	// Concurrency bounds the number of in-flight model calls.
	Concurrency     int
	MinimumFitScore float64
	Model           string
}

type AIFitFilterDeps struct {
	Scorer *Scorer
	Logger *zap.Logger
}

type aiFitFilter struct {
	enabled bool
	reason  string
	config  *AIFitFilterConfig
	deps    *AIFitFilterDeps
}

// NewAIFit creates the AI-based ranking step.
func NewAIFit(cfg *AIFitFilterConfig, deps *AIFitFilterDeps) Filter {
	if cfg == nil {
		cfg = &AIFitFilterConfig{}
	}
	return &aiFitFilter{
		enabled: cfg.Enabled,
		config:  cfg,
		deps:    deps,
	}
}

func (f *aiFitFilter) Name() string { return "ai_fit" }

func (f *aiFitFilter) Disable(reason string) {
	f.enabled = false
	f.reason = reason
}

func (f *aiFitFilter) IsEnabled() bool { return f.enabled }

func (f *aiFitFilter) Validate() error {
	if f.deps == nil || f.deps.Scorer == nil {
		return fmt.Errorf("deps are not initialized: filter is not usable")
	}
	if f.deps.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	return nil
}

func (f *aiFitFilter) Apply(ctx context.Context, target *Target, c *Candidates) (*Candidates, Step, error) {
	initial := c.Len()

	f.applyScorer(ctx, target, c)

	left := c.Len()
	return c, Step{Initial: initial, Dropped: initial - left, Left: left}, nil
}

func (f *aiFitFilter) applyScorer(ctx context.Context, target *Target, c *Candidates) {
	job := target.Job.AI()
	logger := f.deps.Logger

	limit := f.config.Concurrency
	if limit <= 0 {
		limit = defaultAIFitConcurrency
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for _, candidate := range c.Items {
		g.Go(func() error {
			score, err := f.deps.Scorer.Score(ctx, candidate.Seeker.Profile(), job, target.Criteria)
			if err != nil {
				logger.Warn("AI evaluation failed",
					zap.String("seeker_id", candidate.ID()),
					zap.Error(err),
				)
				candidate.Error = err.Error()
				return nil
			}
			candidate.Score = score
			return nil
		})
	}
	_ = g.Wait()

	excluded := c.Exclude(func(candidate *Candidate) bool {
		if candidate.Score == nil || candidate.Score.Fit {
			return false
		}
		logger.Info("candidate rejected by AI",
			zap.String("seeker_id", candidate.ID()),
			zap.Float64("ai_score", candidate.Score.Score),
			zap.String("reason", candidate.Score.Reasoning),
		)
		return true
	})

	logger.Info("AI ranking completed",
		zap.String("job_id", target.Job.ID),
		zap.Int("initial_candidates", len(excluded)+c.Len()),
		zap.Int("approved_candidates", c.Len()),
	)
}

func (f *aiFitFilter) Status() Status {
	details := map[string]string{}
	if f.config != nil {
		details["minimum_fit_score"] = fmt.Sprintf("%.2f", f.config.MinimumFitScore)
		details["concurrency"] = strconv.Itoa(f.config.Concurrency)
		if f.config.Model != "" {
			details["model"] = f.config.Model
		}
	}
	return Status{Name: f.Name(), Enabled: f.enabled, Reason: f.reason, Details: details}
}
