package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/spigell/jobmatch/internal/ai"
	"github.com/spigell/jobmatch/internal/store"
	"go.uber.org/zap"
)

const maxChatMessages = 200

type chatRequest struct {
	SessionID     string       `json:"session_id"`
	SeekerID      string       `json:"seeker_id"`
	JobTitle      string       `json:"job_title"`
	InterviewType string       `json:"interview_type"`
	Difficulty    string       `json:"difficulty"`
	Messages      []ai.Message `json:"messages"`
}

func (r *chatRequest) setup() ai.InterviewSetup {
	return ai.InterviewSetup{JobTitle: r.JobTitle, InterviewType: r.InterviewType, Difficulty: r.Difficulty}
}

func validateMessages(messages []ai.Message) error {
	if len(messages) > maxChatMessages {
		return ErrBadRequest(fmt.Sprintf("at most %d messages are allowed", maxChatMessages))
	}
	for i, msg := range messages {
		if msg.Role != ai.RoleUser && msg.Role != ai.RoleAssistant {
			return ErrBadRequest(fmt.Sprintf("messages[%d]: unknown role %q", i, msg.Role))
		}
		if strings.TrimSpace(msg.Content) == "" {
			return ErrBadRequest(fmt.Sprintf("messages[%d]: content is empty", i))
		}
	}
	return nil
}

// handleInterviewChat streams the interviewer's next turn as server-sent events.
func (s *Server) handleInterviewChat(w http.ResponseWriter, r *http.Request) {
	if s.deps.Interviewer == nil {
		s.writeError(w, r, ErrServiceUnavailable("interview practice is not configured"))
		return
	}
	if !s.limit(w, r, s.chat) {
		return
	}

	var req chatRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, s.requestLogger(r, ""), err)
		return
	}
	if err := validateMessages(req.Messages); err != nil {
		s.fail(w, r, s.requestLogger(r, req.SessionID), err)
		return
	}
	if n := len(req.Messages); n > 0 && req.Messages[n-1].Role != ai.RoleUser {
		s.writeError(w, r, ErrBadRequest("the last message must come from the user"))
		return
	}

	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	w.Header().Set(sessionIDHeader, req.SessionID)
	log := s.requestLogger(r, req.SessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.streams, cancel)
	defer stop()

	stream := newSSEWriter(w, "chatcmpl-"+requestIDFrom(r.Context()), s.cfg.Model)
	var reply strings.Builder

	err := s.deps.Interviewer.Reply(ctx, req.setup(), req.Messages, func(delta string) error {
		reply.WriteString(delta)
		return stream.delta(delta)
	})
	if err != nil {
		if !stream.started {
			s.fail(w, r, log, err)
			return
		}
		log.Warn("interview stream interrupted", zap.Error(err), zap.Int("delivered_runes", len([]rune(reply.String()))))
		apiErr := s.toAPIError(w, err)
		if s.streams.Err() != nil {
			apiErr = ErrServiceUnavailable("server is shutting down")
		}
		apiErr.WithRequestID(requestIDFrom(r.Context()))
		stream.fail(apiErr)
		return
	}

	if err := stream.done(); err != nil {
		log.Debug("writing stream terminator failed", zap.Error(err))
	}

	log.Info("interview turn streamed",
		zap.Int("history_turns", len(req.Messages)),
		zap.Int("reply_runes", len([]rune(reply.String()))),
	)

	if s.deps.Store != nil {
		transcript := append(slices.Clone(req.Messages), ai.Message{Role: ai.RoleAssistant, Content: reply.String()})
		rec := &store.InterviewRecord{
			ID:            req.SessionID,
			SeekerID:      req.SeekerID,
			JobTitle:      req.JobTitle,
			InterviewType: req.InterviewType,
			Difficulty:    req.Difficulty,
			Transcript:    transcript,
		}
		if err := s.deps.Store.SaveInterview(r.Context(), rec); err != nil {
			log.Warn("saving interview transcript failed", zap.Error(err))
		}
	}
}

type frameRequest struct {
	SessionID string `json:"session_id"`
	Image     string `json:"image"`
	MIMEType  string `json:"mime_type"`
	Question  string `json:"question"`
}

func (s *Server) handleInterviewFrame(w http.ResponseWriter, r *http.Request) {
	if s.deps.Behavior == nil {
		s.writeError(w, r, ErrServiceUnavailable("behavioral analysis is not configured"))
		return
	}
	if !s.limit(w, r, s.frames) {
		return
	}

	var req frameRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, s.requestLogger(r, ""), err)
		return
	}
	log := s.requestLogger(r, req.SessionID)

	image, mimeType, err := decodeImage(req.Image, req.MIMEType)
	if err != nil {
		s.fail(w, r, log, err)
		return
	}

	feedback, err := s.deps.Behavior.AnalyzeFrame(r.Context(), image, mimeType, req.Question)
	if err != nil {
		s.fail(w, r, log, err)
		return
	}

	log.Debug("frame analyzed",
		zap.Int("image_bytes", len(image)),
		zap.String("eye_contact", feedback.EyeContact),
		zap.String("posture", feedback.Posture),
	)
	writeJSON(w, http.StatusOK, feedback)
}

// decodeImage accepts raw base64 or a data URL such as "data:image/png;base64,....".
func decodeImage(raw, mimeType string) ([]byte, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, "", ErrBadRequest("image is required")
	}

	if rest, ok := strings.CutPrefix(raw, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(meta, ";base64") {
			return nil, "", ErrBadRequest("image data url must be base64 encoded")
		}
		if mimeType == "" {
			mimeType = strings.TrimSuffix(meta, ";base64")
		}
		raw = payload
	}

	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, "", ErrBadRequest(fmt.Sprintf("unsupported mime type %q", mimeType))
	}

	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		var alt error
		data, alt = base64.RawStdEncoding.DecodeString(raw)
		if alt != nil {
			return nil, "", ErrBadRequest(fmt.Sprintf("invalid base64 image: %v", errors.Join(err, alt)))
		}
	}
	if len(data) == 0 {
		return nil, "", ErrBadRequest("image is empty")
	}
	return data, mimeType, nil
}

type reportRequest struct {
	SessionID     string       `json:"session_id"`
	SeekerID      string       `json:"seeker_id"`
	JobTitle      string       `json:"job_title"`
	InterviewType string       `json:"interview_type"`
	Difficulty    string       `json:"difficulty"`
	Messages      []ai.Message `json:"messages"`
	BehaviorNotes []string     `json:"behavior_notes"`
}

func (s *Server) handleInterviewReport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Interviewer == nil {
		s.writeError(w, r, ErrServiceUnavailable("interview practice is not configured"))
		return
	}

	var req reportRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, s.requestLogger(r, ""), err)
		return
	}
	if len(req.Messages) == 0 {
		s.writeError(w, r, ErrBadRequest("messages are required"))
		return
	}
	if err := validateMessages(req.Messages); err != nil {
		s.fail(w, r, s.requestLogger(r, req.SessionID), err)
		return
	}

	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	w.Header().Set(sessionIDHeader, req.SessionID)
	log := s.requestLogger(r, req.SessionID)

	setup := ai.InterviewSetup{JobTitle: req.JobTitle, InterviewType: req.InterviewType, Difficulty: req.Difficulty}
	report, err := s.deps.Interviewer.Report(r.Context(), setup, req.Messages, req.BehaviorNotes)
	if err != nil {
		s.fail(w, r, log, err)
		return
	}

	if s.deps.Store != nil {
		rec := &store.InterviewRecord{
			ID:            req.SessionID,
			SeekerID:      req.SeekerID,
			JobTitle:      req.JobTitle,
			InterviewType: req.InterviewType,
			Difficulty:    req.Difficulty,
			Transcript:    req.Messages,
			BehaviorNotes: req.BehaviorNotes,
			Report:        report,
		}
		if err := s.deps.Store.SaveInterview(r.Context(), rec); err != nil {
			log.Warn("saving interview report failed", zap.Error(err))
		}
	}

	log.Info("interview report generated", zap.Float64("overall_score", report.OverallScore))
	writeJSON(w, http.StatusOK, report)
}
