package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spigell/jobmatch/internal/ai"
	"github.com/spigell/jobmatch/internal/ai/gemini"
	"github.com/spigell/jobmatch/internal/logger"
	"github.com/spigell/jobmatch/internal/matching"
	"github.com/spigell/jobmatch/internal/store"
	"go.uber.org/zap"
)

const (
	defaultMaxBodyBytes    = 1 << 20
	defaultMaxUploadBytes  = 10 << 20
	defaultShutdownTimeout = 5 * time.Second
	requestIDHeader        = "X-Request-ID"
	sessionIDHeader        = "X-Session-ID"
)

type Config struct {
	// ChatRate is the sustained number of chat requests per second allowed per client.
	ChatRate  float64
	ChatBurst int
	// FrameRate is the same limit for behavioral frame uploads.
	FrameRate       float64
	FrameBurst      int
	MaxBodyBytes    int64
	MaxUploadBytes  int64
	ShutdownTimeout time.Duration
	// TrustForwardedFor makes the limiter key on X-Forwarded-For instead of the peer address.
	TrustForwardedFor bool
	Model             string
}

// Deps are the collaborators behind the endpoints. Nil AI components make their endpoints answer 503.
type Deps struct {
	Store       store.Store
	CV          ai.CVAnalyzer
	Scorer      *matching.Scorer
	Ranking     *matching.Matching
	Interviewer ai.Interviewer
	Behavior    ai.BehaviorAnalyzer
	Footprint   ai.FootprintScanner
	Logger      *zap.Logger
}

type Server struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
	chat   *clientLimiters
	frames *clientLimiters
	srv    *http.Server

	// streams is cancelled when shutdown starts so open SSE responses end.
	streams     context.Context
	stopStreams context.CancelFunc
}

func New(cfg Config, deps Deps) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: log,
		chat:   newClientLimiters(cfg.ChatRate, cfg.ChatBurst),
		frames: newClientLimiters(cfg.FrameRate, cfg.FrameBurst),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/cv/analyze", s.handleAnalyzeCV)
	mux.HandleFunc("POST /v1/match", s.handleMatch)
	mux.HandleFunc("POST /v1/jobs/{id}/candidates", s.handleCandidates)
	mux.HandleFunc("POST /v1/interview/chat", s.handleInterviewChat)
	mux.HandleFunc("POST /v1/interview/frame", s.handleInterviewFrame)
	mux.HandleFunc("POST /v1/interview/report", s.handleInterviewReport)
	mux.HandleFunc("POST /v1/footprint/scan", s.handleFootprintScan)

	s.streams, s.stopStreams = context.WithCancel(context.Background())

	s.srv = &http.Server{
		Handler:           cors(s.withRequest(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.srv.RegisterOnShutdown(s.stopStreams)
	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve accepts connections on l until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.logger.Info("http server listening", zap.String("addr", l.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()

	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(cctx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		s.logger.Info("http server stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, X-Session-ID, Retry-After")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// withRequest assigns a request id, recovers panics and writes the access log.
func (s *Server) withRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("handler panicked",
					zap.String(logger.FieldRequestID, id),
					zap.Any("panic", p),
				)
				if !rec.wrote {
					s.writeError(rec, r, ErrInternalServer(""))
				}
			}
			s.logger.Info("http request",
				zap.String(logger.FieldRequestID, id),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
			)
		}()

		next.ServeHTTP(rec, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wrote {
		r.status = status
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wrote = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) requestLogger(r *http.Request, sessionID string) *zap.Logger {
	return logger.WithRequest(s.logger, requestIDFrom(r.Context()), sessionID)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, apiErr *APIError) {
	apiErr.WithRequestID(requestIDFrom(r.Context()))
	writeJSON(w, apiErr.StatusCode(), apiErr)
}

// fail maps err to an API error, logs it and writes it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	apiErr := s.toAPIError(w, err)
	if apiErr.Code >= http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
	} else {
		log.Info("request rejected", zap.Int("status", apiErr.Code), zap.Error(err))
	}
	s.writeError(w, r, apiErr)
}

func (s *Server) toAPIError(w http.ResponseWriter, err error) *APIError {
	var apiErr *APIError
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.As(err, &maxBytes):
		return ErrTooLarge(fmt.Sprintf("body exceeds %d bytes", maxBytes.Limit))
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound(err.Error())
	case gemini.IsRateLimited(err):
		setRetryAfter(w, gemini.RetryAfter(err))
		return ErrTooManyRequests("ai provider quota exhausted")
	case errors.Is(err, context.Canceled):
		return NewAPIError(499, "Client Closed Request", "")
	default:
		return ErrLLMProcessing(err.Error())
	}
}

func setRetryAfter(w http.ResponseWriter, d time.Duration) {
	if d <= 0 {
		d = time.Second
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.Seconds()))))
}

// limit applies the per-client limiter and answers 429 when it is exhausted.
func (s *Server) limit(w http.ResponseWriter, r *http.Request, limiters *clientLimiters) bool {
	ok, wait := limiters.allow(s.clientKey(r))
	if ok {
		return true
	}
	setRetryAfter(w, wait)
	s.writeError(w, r, ErrTooManyRequests(fmt.Sprintf("retry in %s", wait.Round(time.Millisecond))))
	return false
}

func (s *Server) clientKey(r *http.Request) string {
	if s.cfg.TrustForwardedFor {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return ErrBadRequest("request body is empty")
		}
		return ErrBadRequest(fmt.Sprintf("invalid json: %v", err))
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if pinger, ok := s.deps.Store.(interface{ Ping(context.Context) error }); ok {
		if err := pinger.Ping(r.Context()); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_serving"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
