package apiclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spigell/jobmatch/internal/ai"
	"go.uber.org/zap"
)

const (
	userAgent      = "jobmatch-cli"
	contentType    = "application/json"
	defaultTimeout = 60 * time.Second
	maxErrorBody   = 64 << 10
)

// Client talks to the jobmatch HTTP API.
type Client struct {
	http   *resty.Client
	stream *resty.Client
	logger *zap.Logger
}

// New creates a client for baseURL. timeout bounds regular calls; chat streams are bounded by their context only.
func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	baseURL = strings.TrimRight(baseURL, "/")
	c := &Client{logger: logger}
	c.http = c.newResty(baseURL).SetTimeout(timeout)
	c.stream = c.newResty(baseURL)
	return c
}

func (c *Client) newResty(baseURL string) *resty.Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("User-Agent", userAgent)

	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		c.logger.Debug("make request", zap.String("method", req.Method), zap.String("url", req.URL))
		return nil
	})
	return client
}

type CVRequest struct {
	SeekerID   string `json:"seeker_id,omitempty"`
	CVText     string `json:"cv_text,omitempty"`
	TargetRole string `json:"target_role,omitempty"`
}

type MatchRequest struct {
	SeekerID string      `json:"seeker_id,omitempty"`
	JobID    string      `json:"job_id,omitempty"`
	Profile  *ai.Profile `json:"profile,omitempty"`
	Job      *ai.Job     `json:"job,omitempty"`
	Criteria ai.Criteria `json:"criteria"`
}

type FootprintRequest struct {
	SeekerID string `json:"seeker_id,omitempty"`
	ai.FootprintInput
}

type ChatRequest struct {
	SessionID     string       `json:"session_id,omitempty"`
	SeekerID      string       `json:"seeker_id,omitempty"`
	JobTitle      string       `json:"job_title"`
	InterviewType string       `json:"interview_type,omitempty"`
	Difficulty    string       `json:"difficulty,omitempty"`
	Messages      []ai.Message `json:"messages"`
}

type FrameRequest struct {
	SessionID string
	Image     []byte
	MIMEType  string
	Question  string
}

type ReportRequest struct {
	SessionID     string       `json:"session_id,omitempty"`
	SeekerID      string       `json:"seeker_id,omitempty"`
	JobTitle      string       `json:"job_title"`
	InterviewType string       `json:"interview_type,omitempty"`
	Difficulty    string       `json:"difficulty,omitempty"`
	Messages      []ai.Message `json:"messages"`
	BehaviorNotes []string     `json:"behavior_notes,omitempty"`
}

type RankedCandidate struct {
	Seeker struct {
		ID       string   `json:"id"`
		FullName string   `json:"full_name"`
		Headline string   `json:"headline"`
		Skills   []string `json:"skills"`
	} `json:"seeker"`
	Score *ai.MatchScore `json:"score,omitempty"`
	Error string         `json:"error,omitempty"`
}

type CandidatesResponse struct {
	JobID      string            `json:"job_id"`
	Candidates []RankedCandidate `json:"candidates"`
}

func (c *Client) AnalyzeCV(ctx context.Context, req CVRequest) (*ai.CVAnalysis, error) {
	var out ai.CVAnalysis
	if err := c.postJSON(ctx, "/v1/cv/analyze", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnalyzeCVFile uploads a PDF or plain text CV.
func (c *Client) AnalyzeCVFile(ctx context.Context, path, targetRole, seekerID string) (*ai.CVAnalysis, error) {
	var out ai.CVAnalysis
	resp, err := c.http.R().
		SetContext(ctx).
		SetFile("cv", path).
		SetFormData(map[string]string{
			"target_role": targetRole,
			"seeker_id":   seekerID,
		}).
		SetResult(&out).
		SetError(&APIError{}).
		Post("/v1/cv/analyze")
	if err != nil {
		return nil, fmt.Errorf("upload cv: %w", err)
	}
	if resp.IsError() {
		return nil, responseError(resp.StatusCode(), resp.Header(), resp.Error())
	}
	return &out, nil
}

func (c *Client) Match(ctx context.Context, req MatchRequest) (*ai.MatchScore, error) {
	var out ai.MatchScore
	if err := c.postJSON(ctx, "/v1/match", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RankCandidates(ctx context.Context, jobID string, criteria ai.Criteria) (*CandidatesResponse, error) {
	var out CandidatesResponse
	path := "/v1/jobs/" + jobID + "/candidates"
	if err := c.postJSON(ctx, path, map[string]any{"criteria": criteria}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ScanFootprint(ctx context.Context, req FootprintRequest) (*ai.FootprintReport, error) {
	var out ai.FootprintReport
	if err := c.postJSON(ctx, "/v1/footprint/scan", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AnalyzeFrame(ctx context.Context, req FrameRequest) (*ai.BehaviorFeedback, error) {
	if len(req.Image) == 0 {
		return nil, fmt.Errorf("frame image is empty")
	}
	body := map[string]string{
		"session_id": req.SessionID,
		"image":      base64.StdEncoding.EncodeToString(req.Image),
		"mime_type":  req.MIMEType,
		"question":   req.Question,
	}

	var out ai.BehaviorFeedback
	if err := c.postJSON(ctx, "/v1/interview/frame", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Report(ctx context.Context, req ReportRequest) (*ai.InterviewReport, error) {
	var out ai.InterviewReport
	if err := c.postJSON(ctx, "/v1/interview/report", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StreamChat starts an interview turn and returns the raw event stream. The caller must close it.
// A *RateLimitError is returned when the server answers 429.
func (c *Client) StreamChat(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	resp, err := c.stream.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetHeader("Accept", "text/event-stream").
		SetBody(req).
		SetDoNotParseResponse(true).
		Post("/v1/interview/chat")
	if err != nil {
		return nil, fmt.Errorf("start chat stream: %w", err)
	}

	body := resp.RawBody()
	if resp.StatusCode() != http.StatusOK {
		defer body.Close()
		data, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
		return nil, responseError(resp.StatusCode(), resp.Header(), decodeAPIError(data))
	}
	return body, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetBody(body).
		SetResult(out).
		SetError(&APIError{}).
		Post(path)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	if resp.IsError() {
		return responseError(resp.StatusCode(), resp.Header(), resp.Error())
	}
	return nil
}

// parseRetryAfter understands both delta-seconds and HTTP-date values.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
