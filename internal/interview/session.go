package interview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spigell/jobmatch/internal/ai"
	"github.com/spigell/jobmatch/internal/apiclient"
	"github.com/spigell/jobmatch/internal/logger"
	"github.com/spigell/jobmatch/internal/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = time.Second
	defaultMaxDelay   = 30 * time.Second
)

var (
	ErrClosed     = errors.New("interview session is closed")
	ErrBusy       = errors.New("interviewer is still answering")
	ErrNotStarted = errors.New("interview session is not started")
)

var wait = utils.WaitFor

// Client is the part of the API the session needs.
type Client interface {
	StreamChat(ctx context.Context, req apiclient.ChatRequest) (io.ReadCloser, error)
	AnalyzeFrame(ctx context.Context, req apiclient.FrameRequest) (*ai.BehaviorFeedback, error)
	Report(ctx context.Context, req apiclient.ReportRequest) (*ai.InterviewReport, error)
}

type Config struct {
	SessionID string
	SeekerID  string
	Setup     ai.InterviewSetup

	// FrameInterval is the behavioral sampling period. Zero disables sampling.
	FrameInterval time.Duration

	// ChatRate is the allowed chat requests per second. Zero means unlimited.
	ChatRate  float64
	ChatBurst int

	// MaxRetries is the total number of attempts when the server answers 429.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// OnFeedback is called from the sampler goroutine for every analysed frame.
	OnFeedback func(ai.BehaviorFeedback)
}

// Session runs one mock interview: chat turns, frame sampling and the final report.
type Session struct {
	cfg     Config
	client  Client
	frames  FrameSource
	limiter *rate.Limiter
	logger  *zap.Logger

	mu       sync.Mutex
	messages []ai.Message
	notes    []string
	busy     bool
	started  bool
	closed   bool

	stop      context.CancelFunc
	sampler   *errgroup.Group
	closeOnce sync.Once
	closeErr  error
}

func New(client Client, frames FrameSource, cfg Config, log *zap.Logger) *Session {
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if frames == nil {
		frames = NopFrameSource{}
	}

	limit := rate.Inf
	if cfg.ChatRate > 0 {
		limit = rate.Limit(cfg.ChatRate)
	}
	burst := cfg.ChatBurst
	if burst <= 0 {
		burst = 1
	}

	return &Session{
		cfg:     cfg,
		client:  client,
		frames:  frames,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.WithRequest(log, "", cfg.SessionID),
	}
}

func (s *Session) ID() string {
	return s.cfg.SessionID
}

// Start opens the frame source and launches the sampler. Close must be called afterwards.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.started {
		return errors.New("interview session is already started")
	}

	if err := s.frames.Open(ctx); err != nil {
		return fmt.Errorf("open frame source: %w", err)
	}

	sampleCtx, stop := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(sampleCtx)
	s.stop = stop
	s.sampler = group
	s.started = true

	if s.cfg.FrameInterval > 0 {
		group.Go(func() error {
			s.sample(groupCtx)
			return nil
		})
	}

	s.logger.Info("interview session started",
		zap.String("job_title", s.cfg.Setup.JobTitle),
		zap.Duration("frame_interval", s.cfg.FrameInterval),
	)
	return nil
}

// Open streams the interviewer's opening question.
func (s *Session) Open(ctx context.Context, onDelta func(string)) (string, error) {
	return s.turn(ctx, nil, onDelta)
}

// Ask sends the candidate's answer and streams the interviewer's reply.
// On failure the answer is removed from the transcript so it can be sent again.
func (s *Session) Ask(ctx context.Context, answer string, onDelta func(string)) (string, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", errors.New("answer must not be empty")
	}
	return s.turn(ctx, &ai.Message{Role: ai.RoleUser, Content: answer}, onDelta)
}

func (s *Session) turn(ctx context.Context, pending *ai.Message, onDelta func(string)) (string, error) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return "", ErrClosed
	case !s.started:
		s.mu.Unlock()
		return "", ErrNotStarted
	case s.busy:
		s.mu.Unlock()
		return "", ErrBusy
	}
	if pending == nil && len(s.messages) > 0 {
		s.mu.Unlock()
		return "", errors.New("interview is already open")
	}
	s.busy = true
	if pending != nil {
		s.messages = append(s.messages, *pending)
	}
	history := slices.Clone(s.messages)
	s.mu.Unlock()

	reply, err := s.stream(ctx, history, onDelta)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false

	if err != nil {
		if pending != nil {
			s.messages = s.messages[:len(s.messages)-1]
		}
		s.logger.Warn("interview turn failed", zap.Error(err), zap.Int("partial_runes", len([]rune(reply))))
		return "", err
	}

	s.messages = append(s.messages, ai.Message{Role: ai.RoleAssistant, Content: reply})
	return reply, nil
}

// stream sends the transcript and assembles the reply. Only requests rejected with 429 are retried.
func (s *Session) stream(ctx context.Context, history []ai.Message, onDelta func(string)) (string, error) {
	req := apiclient.ChatRequest{
		SessionID:     s.cfg.SessionID,
		SeekerID:      s.cfg.SeekerID,
		JobTitle:      s.cfg.Setup.JobTitle,
		InterviewType: s.cfg.Setup.InterviewType,
		Difficulty:    s.cfg.Setup.Difficulty,
		Messages:      history,
	}

	for attempt := 1; ; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("wait for chat limiter: %w", err)
		}

		body, err := s.client.StreamChat(ctx, req)
		if err == nil {
			reply, err := readReply(body, s.logger, onDelta)
			if closeErr := body.Close(); closeErr != nil {
				s.logger.Debug("closing chat stream failed", zap.Error(closeErr))
			}
			return reply, err
		}

		var limited *apiclient.RateLimitError
		if !errors.As(err, &limited) || attempt >= s.cfg.MaxRetries {
			return "", err
		}

		delay := s.retryDelay(limited.RetryAfter, attempt)
		s.logger.Warn("chat rate limited; retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.cfg.MaxRetries),
			zap.Duration("delay", delay),
		)

		if err := wait(ctx, delay); err != nil {
			return "", err
		}
	}
}

func (s *Session) retryDelay(hint time.Duration, attempt int) time.Duration {
	delay := hint
	if delay <= 0 {
		delay = s.cfg.BaseDelay << (attempt - 1)
	}
	if delay <= 0 || delay > s.cfg.MaxDelay {
		delay = s.cfg.MaxDelay
	}
	return delay
}

// sample analyses one frame per tick. A slow analysis makes the ticker drop ticks,
// so at most one request is in flight.
func (s *Session) sample(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sampleOnce(ctx)
		}
	}
}

func (s *Session) sampleOnce(ctx context.Context) {
	frame, err := s.frames.Next(ctx)
	if errors.Is(err, ErrNoFrame) {
		return
	}
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("capturing frame failed", zap.Error(err))
		}
		return
	}

	feedback, err := s.client.AnalyzeFrame(ctx, apiclient.FrameRequest{
		SessionID: s.cfg.SessionID,
		Image:     frame.Data,
		MIMEType:  frame.MIMEType,
		Question:  s.currentQuestion(),
	})
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("behavioral analysis failed", zap.Error(err))
		}
		return
	}

	s.mu.Lock()
	s.notes = append(s.notes, behaviorNote(feedback))
	s.mu.Unlock()

	s.logger.Debug("frame analyzed",
		zap.String("eye_contact", feedback.EyeContact),
		zap.String("posture", feedback.Posture),
		zap.Float64("confidence", feedback.Confidence),
	)
	if s.cfg.OnFeedback != nil {
		s.cfg.OnFeedback(*feedback)
	}
}

func (s *Session) currentQuestion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == ai.RoleAssistant {
			return s.messages[i].Content
		}
	}
	return ""
}

func behaviorNote(f *ai.BehaviorFeedback) string {
	var parts []string
	if f.EyeContact != "" {
		parts = append(parts, "eye contact "+f.EyeContact)
	}
	if f.Posture != "" {
		parts = append(parts, "posture "+f.Posture)
	}
	note := strings.Join(parts, ", ")
	if feedback := strings.TrimSpace(f.Feedback); feedback != "" {
		if note != "" {
			note += ": "
		}
		note += feedback
	}
	return note
}

// Transcript returns a copy of the completed turns.
func (s *Session) Transcript() []ai.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}

func (s *Session) BehaviorNotes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.notes)
}

// Finish stops sampling, requests the final report and closes the session.
func (s *Session) Finish(ctx context.Context) (*ai.InterviewReport, error) {
	defer s.Close()

	s.stopSampler()

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	transcript := slices.Clone(s.messages)
	notes := slices.Clone(s.notes)
	s.mu.Unlock()

	if len(transcript) == 0 {
		return nil, errors.New("nothing to report: the transcript is empty")
	}

	report, err := s.client.Report(ctx, apiclient.ReportRequest{
		SessionID:     s.cfg.SessionID,
		SeekerID:      s.cfg.SeekerID,
		JobTitle:      s.cfg.Setup.JobTitle,
		InterviewType: s.cfg.Setup.InterviewType,
		Difficulty:    s.cfg.Setup.Difficulty,
		Messages:      transcript,
		BehaviorNotes: notes,
	})
	if err != nil {
		return nil, fmt.Errorf("request interview report: %w", err)
	}

	s.logger.Info("interview finished",
		zap.Int("turns", len(transcript)),
		zap.Int("behavior_notes", len(notes)),
		zap.Float64("overall_score", report.OverallScore),
	)
	return report, nil
}

func (s *Session) stopSampler() {
	s.mu.Lock()
	stop, group := s.stop, s.sampler
	s.mu.Unlock()

	if stop == nil {
		return
	}
	stop()
	_ = group.Wait()
}

// Close stops the sampler and releases the frame source. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.stopSampler()

		s.mu.Lock()
		started := s.started
		s.closed = true
		s.mu.Unlock()

		if started {
			if err := s.frames.Close(); err != nil {
				s.closeErr = fmt.Errorf("close frame source: %w", err)
			}
		}
		s.logger.Debug("interview session closed")
	})
	return s.closeErr
}
