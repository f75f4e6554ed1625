package server

import (
	"net/http"
	"strings"

	"github.com/spigell/jobmatch/internal/ai"
	"github.com/spigell/jobmatch/internal/store"
	"go.uber.org/zap"
)

type footprintRequest struct {
	SeekerID string   `json:"seeker_id"`
	FullName string   `json:"full_name"`
	Links    []string `json:"links"`
	Bio      string   `json:"bio"`
}

func (s *Server) handleFootprintScan(w http.ResponseWriter, r *http.Request) {
	log := s.requestLogger(r, "")
	if s.deps.Footprint == nil {
		s.writeError(w, r, ErrServiceUnavailable("footprint scanning is not configured"))
		return
	}

	var req footprintRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, log, err)
		return
	}
	if strings.TrimSpace(req.FullName) == "" {
		s.writeError(w, r, ErrBadRequest("full_name is required"))
		return
	}

	report, err := s.deps.Footprint.Scan(r.Context(), ai.FootprintInput{
		FullName: req.FullName,
		Links:    req.Links,
		Bio:      req.Bio,
	})
	if err != nil {
		s.fail(w, r, log, err)
		return
	}

	if s.deps.Store != nil {
		rec := &store.FootprintRecord{SeekerID: req.SeekerID, FullName: req.FullName, Report: *report}
		if err := s.deps.Store.SaveFootprintScan(r.Context(), rec); err != nil {
			log.Warn("saving footprint scan failed", zap.Error(err))
		}
	}

	log.Info("footprint scanned",
		zap.String("seeker_id", req.SeekerID),
		zap.Float64("risk_score", report.RiskScore),
		zap.Int("findings", len(report.Findings)),
	)
	writeJSON(w, http.StatusOK, report)
}
