package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/spigell/jobmatch/internal/store"
	"go.uber.org/zap"
)

type analyzeCVRequest struct {
	SeekerID   string `json:"seeker_id"`
	CVText     string `json:"cv_text"`
	TargetRole string `json:"target_role"`
}

func (s *Server) handleAnalyzeCV(w http.ResponseWriter, r *http.Request) {
	log := s.requestLogger(r, "")
	if s.deps.CV == nil {
		s.writeError(w, r, ErrServiceUnavailable("cv analysis is not configured"))
		return
	}

	var req analyzeCVRequest
	var err error
	if isMultipart(r) {
		err = s.readCVForm(w, r, &req)
	} else {
		err = s.decodeJSON(w, r, &req)
	}
	if err != nil {
		s.fail(w, r, log, err)
		return
	}

	if strings.TrimSpace(req.CVText) == "" && req.SeekerID != "" && s.deps.Store != nil {
		seeker, err := s.deps.Store.GetSeeker(r.Context(), req.SeekerID)
		if err != nil {
			s.fail(w, r, log, err)
			return
		}
		req.CVText = seeker.CVText
	}
	if strings.TrimSpace(req.CVText) == "" {
		s.writeError(w, r, ErrBadRequest("cv_text or a cv file is required"))
		return
	}

	analysis, err := s.deps.CV.AnalyzeCV(r.Context(), req.CVText, req.TargetRole)
	if err != nil {
		s.fail(w, r, log, err)
		return
	}

	if s.deps.Store != nil {
		rec := &store.CVAnalysisRecord{SeekerID: req.SeekerID, TargetRole: req.TargetRole, Analysis: *analysis}
		if err := s.deps.Store.SaveCVAnalysis(r.Context(), rec); err != nil {
			log.Warn("saving cv analysis failed", zap.Error(err))
		}
	}

	log.Info("cv analyzed", zap.String("seeker_id", req.SeekerID), zap.Float64("score", analysis.Score))
	writeJSON(w, http.StatusOK, analysis)
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/form-data")
}

func (s *Server) readCVForm(w http.ResponseWriter, r *http.Request, req *analyzeCVRequest) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return ErrBadRequest(fmt.Sprintf("invalid multipart form: %v", err))
	}

	req.SeekerID = r.FormValue("seeker_id")
	req.TargetRole = r.FormValue("target_role")
	req.CVText = r.FormValue("cv_text")

	file, header, err := r.FormFile("cv")
	if errors.Is(err, http.ErrMissingFile) {
		return nil
	}
	if err != nil {
		return ErrBadRequest(fmt.Sprintf("read cv file: %v", err))
	}
	defer file.Close()

	text, err := cvFileText(file, header)
	if err != nil {
		return err
	}
	req.CVText = text
	return nil
}

func cvFileText(file multipart.File, header *multipart.FileHeader) (string, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return "", ErrBadRequest(fmt.Sprintf("read cv file: %v", err))
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	contentType := header.Header.Get("Content-Type")
	switch {
	case ext == ".pdf" || contentType == "application/pdf" || bytes.HasPrefix(data, []byte("%PDF")):
		text, err := extractPDFText(data)
		if err != nil {
			return "", ErrBadRequest(fmt.Sprintf("read pdf: %v", err))
		}
		return text, nil
	case ext == ".txt" || ext == ".md" || strings.HasPrefix(contentType, "text/"):
		return string(data), nil
	default:
		return "", ErrBadRequest("unsupported cv format: only pdf and plain text are accepted")
	}
}

func extractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", err
	}
	return normalizeWhitespace(buf.String()), nil
}

// normalizeWhitespace collapses runs of spaces inside lines and drops blank lines.
func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
