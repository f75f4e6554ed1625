package matching

import (
	"context"
	"errors"
	"fmt"

	"github.com/spigell/jobmatch/internal/ai"
	"github.com/spigell/jobmatch/internal/cache"
	"go.uber.org/zap"
)

// Scorer evaluates a profile against a job, serving repeated requests from the cache.
// Cache failures are logged and never fail the evaluation.
type Scorer struct {
	matcher ai.Matcher
	cache   cache.Cache
	logger  *zap.Logger
}

func NewScorer(matcher ai.Matcher, c cache.Cache, logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{matcher: matcher, cache: c, logger: logger}
}

func (s *Scorer) Score(ctx context.Context, profile *ai.Profile, job *ai.Job, criteria ai.Criteria) (*ai.MatchScore, error) {
	if s == nil || s.matcher == nil {
		return nil, errors.New("matcher is not configured")
	}
	if profile == nil || job == nil {
		return nil, errors.New("profile and job are required")
	}

	key := ""
	if s.cache != nil {
		var err error
		key, err = cache.MatchKey(profile, job, criteria)
		if err != nil {
			s.logger.Warn("building cache key failed", zap.Error(err))
		}
	}

	if key != "" {
		cached, err := s.cache.Get(ctx, key)
		switch {
		case err == nil:
			s.logger.Debug("match score served from cache",
				zap.String("profile_id", profile.ID),
				zap.String("job_id", job.ID),
			)
			cached.Cached = true
			return cached, nil
		case !errors.Is(err, cache.ErrMiss):
			s.logger.Warn("reading match cache failed", zap.Error(err))
		}
	}

	score, err := s.matcher.Evaluate(ctx, profile, job, criteria)
	if err != nil {
		return nil, fmt.Errorf("evaluate match: %w", err)
	}

	if key != "" {
		if err := s.cache.Set(ctx, key, score); err != nil {
			s.logger.Warn("writing match cache failed", zap.Error(err))
		}
	}

	return score, nil
}
