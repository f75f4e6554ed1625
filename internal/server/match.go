package server

import (
	"net/http"
	"strings"

	"github.com/spigell/jobmatch/internal/ai"
	"github.com/spigell/jobmatch/internal/matching"
	"go.uber.org/zap"
)

type matchRequest struct {
	SeekerID string      `json:"seeker_id"`
	JobID    string      `json:"job_id"`
	Profile  *ai.Profile `json:"profile"`
	Job      *ai.Job     `json:"job"`
	Criteria ai.Criteria `json:"criteria"`
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	log := s.requestLogger(r, "")
	if s.deps.Scorer == nil {
		s.writeError(w, r, ErrServiceUnavailable("matching is not configured"))
		return
	}

	var req matchRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, log, err)
		return
	}

	stored := req.SeekerID != "" && req.JobID != ""
	profile, job := req.Profile, req.Job
	switch {
	case stored:
		if s.deps.Store == nil {
			s.writeError(w, r, ErrServiceUnavailable("store is not configured"))
			return
		}
		seeker, err := s.deps.Store.GetSeeker(r.Context(), req.SeekerID)
		if err != nil {
			s.fail(w, r, log, err)
			return
		}
		posting, err := s.deps.Store.GetJob(r.Context(), req.JobID)
		if err != nil {
			s.fail(w, r, log, err)
			return
		}
		profile, job = seeker.Profile(), posting.AI()
	case profile == nil || job == nil:
		s.writeError(w, r, ErrBadRequest("either seeker_id and job_id or profile and job are required"))
		return
	case strings.TrimSpace(job.Title) == "":
		s.writeError(w, r, ErrBadRequest("job title is required"))
		return
	}

	score, err := s.deps.Scorer.Score(r.Context(), profile, job, req.Criteria)
	if err != nil {
		s.fail(w, r, log, err)
		return
	}

	if stored {
		if err := s.deps.Store.SaveMatchScore(r.Context(), req.SeekerID, req.JobID, score); err != nil {
			log.Warn("saving match score failed", zap.Error(err))
		}
	}

	log.Info("match scored",
		zap.String("seeker_id", req.SeekerID),
		zap.String("job_id", req.JobID),
		zap.Float64("score", score.Score),
		zap.Bool("cached", score.Cached),
	)
	writeJSON(w, http.StatusOK, score)
}

type candidatesRequest struct {
	Criteria ai.Criteria `json:"criteria"`
}

type candidatesResponse struct {
	JobID      string                `json:"job_id"`
	Candidates []*matching.Candidate `json:"candidates"`
	Steps      []matching.StepReport `json:"steps"`
	Filters    []matching.Status     `json:"filters"`
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	log := s.requestLogger(r, "")
	if s.deps.Ranking == nil || s.deps.Store == nil {
		s.writeError(w, r, ErrServiceUnavailable("candidate ranking is not configured"))
		return
	}

	jobID := r.PathValue("id")
	var req candidatesRequest
	if r.ContentLength != 0 {
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.fail(w, r, log, err)
			return
		}
	}

	job, err := s.deps.Store.GetJob(r.Context(), jobID)
	if err != nil {
		s.fail(w, r, log, err)
		return
	}

	seekers, err := s.deps.Store.ListApplicants(r.Context(), jobID)
	if err != nil {
		s.fail(w, r, log, err)
		return
	}

	ranked, steps, err := s.deps.Ranking.Run(r.Context(), &matching.Target{Job: job, Criteria: req.Criteria}, matching.NewCandidates(seekers))
	if err != nil {
		s.fail(w, r, log, err)
		return
	}

	for _, candidate := range ranked.Items {
		if candidate.Score == nil {
			continue
		}
		if err := s.deps.Store.SaveMatchScore(r.Context(), candidate.ID(), jobID, candidate.Score); err != nil {
			log.Warn("saving match score failed", zap.String("seeker_id", candidate.ID()), zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, candidatesResponse{
		JobID:      jobID,
		Candidates: ranked.Items,
		Steps:      steps,
		Filters:    s.deps.Ranking.Describe(),
	})
}
