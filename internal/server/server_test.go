package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spigell/jobmatch/internal/ai"
	"github.com/spigell/jobmatch/internal/cache"
	"github.com/spigell/jobmatch/internal/matching"
	"github.com/spigell/jobmatch/internal/store"
	"go.uber.org/zap"
)

type fakeCV struct {
	lastText string
	lastRole string
}

func (f *fakeCV) AnalyzeCV(_ context.Context, cvText, targetRole string) (*ai.CVAnalysis, error) {
	f.lastText = cvText
	f.lastRole = targetRole
	return &ai.CVAnalysis{Score: 66, Summary: "ok", Skills: []string{"Go"}}, nil
}

type fakeMatcher struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeMatcher) Evaluate(_ context.Context, profile *ai.Profile, _ *ai.Job, _ ai.Criteria) (*ai.MatchScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	score := 80.0
	if profile.ID == "weak" {
		score = 10
	}
	return &ai.MatchScore{Score: score, Fit: score >= 50, Reasoning: "fake"}, nil
}

type fakeInterviewer struct {
	chunks      []string
	err         error
	lastHistory []ai.Message
	lastNotes   []string
}

func (f *fakeInterviewer) Reply(_ context.Context, _ ai.InterviewSetup, history []ai.Message, yield func(string) error) error {
	f.lastHistory = history
	for _, chunk := range f.chunks {
		if err := yield(chunk); err != nil {
			return err
		}
	}
	return f.err
}

func (f *fakeInterviewer) Report(_ context.Context, _ ai.InterviewSetup, history []ai.Message, notes []string) (*ai.InterviewReport, error) {
	f.lastHistory = history
	f.lastNotes = notes
	return &ai.InterviewReport{OverallScore: 72, Summary: "solid"}, nil
}

// stallingInterviewer sends one chunk and then holds the stream open until its context ends.
type stallingInterviewer struct {
	started chan struct{}
}

func (f *stallingInterviewer) Reply(ctx context.Context, _ ai.InterviewSetup, _ []ai.Message, yield func(string) error) error {
	if err := yield("Hello"); err != nil {
		return err
	}
	close(f.started)
	<-ctx.Done()
	return ctx.Err()
}

func (f *stallingInterviewer) Report(context.Context, ai.InterviewSetup, []ai.Message, []string) (*ai.InterviewReport, error) {
	return nil, errors.New("not used")
}

type fakeBehavior struct {
	lastImage []byte
	lastMIME  string
}

func (f *fakeBehavior) AnalyzeFrame(_ context.Context, image []byte, mimeType, _ string) (*ai.BehaviorFeedback, error) {
	f.lastImage = image
	f.lastMIME = mimeType
	return &ai.BehaviorFeedback{Feedback: "Sit up", EyeContact: "good", Posture: "fair", Confidence: 70}, nil
}

type fakeFootprint struct{}

func (fakeFootprint) Scan(_ context.Context, input ai.FootprintInput) (*ai.FootprintReport, error) {
	return &ai.FootprintReport{RiskScore: 15, Summary: input.FullName}, nil
}

type testEnv struct {
	server      *httptest.Server
	store       *store.Memory
	cv          *fakeCV
	matcher     *fakeMatcher
	interviewer *fakeInterviewer
	behavior    *fakeBehavior
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	mem := store.NewMemory()
	mem.PutSeeker(&store.Seeker{ID: "s1", FullName: "Jane", Skills: []string{"Go"}, CVText: "Go engineer"})
	mem.PutSeeker(&store.Seeker{ID: "weak", Skills: []string{"Go"}})
	mem.PutSeeker(&store.Seeker{ID: "hidden", Skills: []string{"Go"}, HideFromCompanies: true})
	mem.PutJob(&store.Job{ID: "j1", Title: "Go Developer", Requirements: []string{"Go"}})
	mem.Apply("s1", "j1")
	mem.Apply("weak", "j1")
	mem.Apply("hidden", "j1")

	env := &testEnv{
		store:       mem,
		cv:          &fakeCV{},
		matcher:     &fakeMatcher{},
		interviewer: &fakeInterviewer{chunks: []string{"Hello", ", tell me about yourself."}},
		behavior:    &fakeBehavior{},
	}

	logger := zap.NewNop()
	scorer := matching.NewScorer(env.matcher, cache.NewMemory(0), logger)
	ranking := matching.New([]matching.Filter{
		matching.NewVisibility(logger),
		matching.NewAIFit(&matching.AIFitFilterConfig{Enabled: true}, &matching.AIFitFilterDeps{Scorer: scorer, Logger: logger}),
	}, logger)

	srv := New(cfg, Deps{
		Store:       mem,
		CV:          env.cv,
		Scorer:      scorer,
		Ranking:     ranking,
		Interviewer: env.interviewer,
		Behavior:    env.behavior,
		Footprint:   fakeFootprint{},
		Logger:      logger,
	})

	env.server = httptest.NewServer(srv.Handler())
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, Config{})

	resp, err := http.Get(env.server.URL + "/v1/healthz")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatal("expected request id header")
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected cors header")
	}
}

func TestAnalyzeCVJSON(t *testing.T) {
	env := newTestEnv(t, Config{})

	resp := env.post(t, "/v1/cv/analyze", map[string]string{"seeker_id": "s1", "target_role": "SRE"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	analysis := decodeBody[ai.CVAnalysis](t, resp)
	if analysis.Score != 66 {
		t.Fatalf("unexpected analysis: %+v", analysis)
	}
	if env.cv.lastText != "Go engineer" {
		t.Fatalf("expected stored cv text to be used, got %q", env.cv.lastText)
	}
	if records := env.store.CVAnalyses(); len(records) != 1 || records[0].TargetRole != "SRE" {
		t.Fatalf("expected analysis to be persisted: %+v", records)
	}
}

func TestAnalyzeCVRequiresText(t *testing.T) {
	env := newTestEnv(t, Config{})

	resp := env.post(t, "/v1/cv/analyze", map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	apiErr := decodeBody[APIError](t, resp)
	if apiErr.Code != http.StatusBadRequest || apiErr.RequestID == "" {
		t.Fatalf("unexpected error body: %+v", apiErr)
	}
	if apiErr.RequestID != resp.Header.Get(requestIDHeader) {
		t.Fatalf("request id mismatch: %q vs %q", apiErr.RequestID, resp.Header.Get(requestIDHeader))
	}
}

func TestAnalyzeCVMultipartText(t *testing.T) {
	env := newTestEnv(t, Config{})

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	_ = form.WriteField("target_role", "Backend")
	part, err := form.CreateFormFile("cv", "cv.txt")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write([]byte("Ten years of Go"))
	_ = form.Close()

	resp, err := http.Post(env.server.URL+"/v1/cv/analyze", form.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if env.cv.lastText != "Ten years of Go" || env.cv.lastRole != "Backend" {
		t.Fatalf("unexpected analyzer input: %q / %q", env.cv.lastText, env.cv.lastRole)
	}
}

func postCVFile(t *testing.T, env *testEnv, filename string, data []byte) *http.Response {
	t.Helper()

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("cv", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write(data)
	_ = form.Close()

	resp, err := http.Post(env.server.URL+"/v1/cv/analyze", form.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAnalyzeCVMultipartPDF(t *testing.T) {
	env := newTestEnv(t, Config{})

	data, err := os.ReadFile("testdata/cv.pdf")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}

	resp := postCVFile(t, env, "cv.pdf", data)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if want := "Senior Go developer\nKubernetes, Postgres"; env.cv.lastText != want {
		t.Fatalf("expected extracted text %q, got %q", want, env.cv.lastText)
	}
}

func TestAnalyzeCVRejectsBrokenPDF(t *testing.T) {
	env := newTestEnv(t, Config{})

	resp := postCVFile(t, env, "cv.pdf", []byte("%PDF-1.4 garbage"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	apiErr := decodeBody[APIError](t, resp)
	if !strings.Contains(apiErr.Detail, "read pdf") {
		t.Fatalf("unexpected error body: %+v", apiErr)
	}
	if env.cv.lastText != "" {
		t.Fatalf("analyzer should not be called, got %q", env.cv.lastText)
	}
}

func TestAnalyzeCVRejectsUnknownFormat(t *testing.T) {
	env := newTestEnv(t, Config{})

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, _ := form.CreateFormFile("cv", "cv.docx")
	_, _ = part.Write([]byte("PK\x03\x04"))
	_ = form.Close()

	resp, err := http.Post(env.server.URL+"/v1/cv/analyze", form.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestMatchStoredPairIsCachedAndPersisted(t *testing.T) {
	env := newTestEnv(t, Config{})

	first := decodeBody[ai.MatchScore](t, env.post(t, "/v1/match", map[string]string{"seeker_id": "s1", "job_id": "j1"}))
	second := decodeBody[ai.MatchScore](t, env.post(t, "/v1/match", map[string]string{"seeker_id": "s1", "job_id": "j1"}))

	if first.Score != 80 || first.Cached {
		t.Fatalf("unexpected first score: %+v", first)
	}
	if !second.Cached {
		t.Fatalf("expected second score to come from cache")
	}
	if env.matcher.calls != 1 {
		t.Fatalf("expected one matcher call, got %d", env.matcher.calls)
	}

	app, err := env.store.Application("s1", "j1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if app.MatchScore == nil || *app.MatchScore != 80 {
		t.Fatalf("expected score to be persisted, got %v", app.MatchScore)
	}
}

func TestMatchInline(t *testing.T) {
	env := newTestEnv(t, Config{})

	resp := env.post(t, "/v1/match", map[string]any{
		"profile": map[string]any{"skills": []string{"Go"}},
		"job":     map[string]any{"title": "Go Developer"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestMatchErrors(t *testing.T) {
	env := newTestEnv(t, Config{})

	cases := []struct {
		name   string
		body   any
		status int
	}{
		{name: "unknown seeker", body: map[string]string{"seeker_id": "nope", "job_id": "j1"}, status: http.StatusNotFound},
		{name: "missing inputs", body: map[string]string{"seeker_id": "s1"}, status: http.StatusBadRequest},
		{name: "untitled job", body: map[string]any{"profile": map[string]any{}, "job": map[string]any{}}, status: http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.post(t, "/v1/match", tc.body)
			if resp.StatusCode != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, resp.StatusCode)
			}
		})
	}
}

func TestCandidatesRanking(t *testing.T) {
	env := newTestEnv(t, Config{})

	resp := env.post(t, "/v1/jobs/j1/candidates", map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	body := decodeBody[candidatesResponse](t, resp)
	if len(body.Candidates) != 1 || body.Candidates[0].ID() != "s1" {
		t.Fatalf("expected only s1 to be ranked, got %+v", body.Candidates)
	}
	if len(body.Steps) != 2 || body.Steps[0].Dropped != 1 || body.Steps[1].Dropped != 1 {
		t.Fatalf("unexpected steps: %+v", body.Steps)
	}

	if _, err := env.store.Application("s1", "j1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCandidatesUnknownJob(t *testing.T) {
	env := newTestEnv(t, Config{})

	resp := env.post(t, "/v1/jobs/missing/candidates", map[string]any{})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestInterviewChatStreams(t *testing.T) {
	env := newTestEnv(t, Config{Model: "test-model"})

	resp := env.post(t, "/v1/interview/chat", map[string]any{
		"session_id": "sess-1",
		"job_title":  "SRE",
		"messages":   []ai.Message{{Role: ai.RoleUser, Content: "Hi"}},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type: %q", ct)
	}
	if resp.Header.Get(sessionIDHeader) != "sess-1" {
		t.Fatalf("expected session header")
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	events := strings.Split(strings.TrimSpace(string(raw)), "\n\n")
	if len(events) != 3 {
		t.Fatalf("expected 2 chunks and a terminator, got %q", raw)
	}
	if events[2] != "data: [DONE]" {
		t.Fatalf("unexpected terminator: %q", events[2])
	}

	var chunk chatChunk
	if err := json.Unmarshal([]byte(strings.TrimPrefix(events[0], "data: ")), &chunk); err != nil {
		t.Fatalf("decode chunk: %v", err)
	}
	if chunk.Choices[0].Delta.Content != "Hello" || chunk.Model != "test-model" {
		t.Fatalf("unexpected chunk: %+v", chunk)
	}

	rec, err := env.store.Interview("sess-1")
	if err != nil {
		t.Fatalf("expected transcript to be saved: %v", err)
	}
	if len(rec.Transcript) != 2 || rec.Transcript[1].Content != "Hello, tell me about yourself." {
		t.Fatalf("unexpected transcript: %+v", rec.Transcript)
	}
}

func TestInterviewChatRejectsTrailingAssistant(t *testing.T) {
	env := newTestEnv(t, Config{})

	resp := env.post(t, "/v1/interview/chat", map[string]any{
		"messages": []ai.Message{{Role: ai.RoleAssistant, Content: "Question?"}},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestInterviewChatRateLimited(t *testing.T) {
	env := newTestEnv(t, Config{ChatRate: 0.001, ChatBurst: 1})

	body := map[string]any{"messages": []ai.Message{}}
	if resp := env.post(t, "/v1/interview/chat", body); resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected first status: %d", resp.StatusCode)
	}

	resp := env.post(t, "/v1/interview/chat", body)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestInterviewChatErrorBeforeStream(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.interviewer.chunks = nil
	env.interviewer.err = errors.New("model unavailable")

	resp := env.post(t, "/v1/interview/chat", map[string]any{"messages": []ai.Message{}})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	apiErr := decodeBody[APIError](t, resp)
	if !strings.Contains(apiErr.Detail, "model unavailable") {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestInterviewChatErrorAfterStream(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.interviewer.chunks = []string{"Hel"}
	env.interviewer.err = errors.New("stream interrupted")

	resp := env.post(t, "/v1/interview/chat", map[string]any{"messages": []ai.Message{}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	raw, _ := io.ReadAll(resp.Body)
	body := string(raw)
	if !strings.Contains(body, "event: error\ndata: ") {
		t.Fatalf("expected error event, got %q", body)
	}
	if strings.Contains(body, "[DONE]") {
		t.Fatalf("interrupted stream must not be terminated with [DONE]")
	}
}

func TestInterviewFrame(t *testing.T) {
	env := newTestEnv(t, Config{})

	resp := env.post(t, "/v1/interview/frame", map[string]string{
		"image":    "data:image/png;base64,AQID",
		"question": "Why Go?",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	feedback := decodeBody[ai.BehaviorFeedback](t, resp)
	if feedback.EyeContact != "good" {
		t.Fatalf("unexpected feedback: %+v", feedback)
	}
	if env.behavior.lastMIME != "image/png" || !bytes.Equal(env.behavior.lastImage, []byte{1, 2, 3}) {
		t.Fatalf("unexpected image forwarded: %q %v", env.behavior.lastMIME, env.behavior.lastImage)
	}
}

func TestInterviewReportPersists(t *testing.T) {
	env := newTestEnv(t, Config{})

	resp := env.post(t, "/v1/interview/report", map[string]any{
		"session_id":     "sess-2",
		"job_title":      "SRE",
		"messages":       []ai.Message{{Role: ai.RoleAssistant, Content: "Why?"}, {Role: ai.RoleUser, Content: "Because."}},
		"behavior_notes": []string{"good eye contact"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	report := decodeBody[ai.InterviewReport](t, resp)
	if report.OverallScore != 72 {
		t.Fatalf("unexpected report: %+v", report)
	}

	rec, err := env.store.Interview("sess-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Report == nil || len(rec.BehaviorNotes) != 1 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestFootprintScan(t *testing.T) {
	env := newTestEnv(t, Config{})

	resp := env.post(t, "/v1/footprint/scan", map[string]any{"full_name": "Jane Doe", "links": []string{"https://example.com"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if scans := env.store.FootprintScans(); len(scans) != 1 || scans[0].FullName != "Jane Doe" {
		t.Fatalf("expected scan to be persisted: %+v", scans)
	}

	if resp := env.post(t, "/v1/footprint/scan", map[string]any{}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing name, got %d", resp.StatusCode)
	}
}

func TestBodyTooLarge(t *testing.T) {
	env := newTestEnv(t, Config{MaxBodyBytes: 16})

	resp := env.post(t, "/v1/footprint/scan", map[string]any{"full_name": strings.Repeat("a", 64)})
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.StatusCode)
	}
}

func TestDecodeImage(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		mime     string
		wantMIME string
		wantErr  bool
	}{
		{name: "raw base64", raw: "AQID", wantMIME: "image/jpeg"},
		{name: "unpadded", raw: "AQI", wantMIME: "image/jpeg"},
		{name: "data url", raw: "data:image/webp;base64,AQID", wantMIME: "image/webp"},
		{name: "explicit mime wins", raw: "data:image/webp;base64,AQID", mime: "image/png", wantMIME: "image/png"},
		{name: "not base64 data url", raw: "data:image/png,AQID", wantErr: true},
		{name: "not an image", raw: "AQID", mime: "application/pdf", wantErr: true},
		{name: "garbage", raw: "!!!", wantErr: true},
		{name: "empty", raw: " ", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, mime, err := decodeImage(tc.raw, tc.mime)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if mime != tc.wantMIME {
				t.Fatalf("expected %q, got %q", tc.wantMIME, mime)
			}
		})
	}
}

func TestServeShutdownEndsOpenStreams(t *testing.T) {
	interviewer := &stallingInterviewer{started: make(chan struct{})}
	srv := New(Config{ShutdownTimeout: 5 * time.Second}, Deps{
		Interviewer: interviewer,
		Logger:      zap.NewNop(),
	})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, l) }()

	body, _ := json.Marshal(map[string]any{
		"messages": []ai.Message{{Role: ai.RoleUser, Content: "Hi"}},
	})
	resp, err := http.Post("http://"+l.Addr().String()+"/v1/interview/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	select {
	case <-interviewer.started:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not start")
	}

	start := time.Now()
	cancel()

	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(4 * time.Second):
		t.Fatal("shutdown waited for the open stream")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("shutdown took %s", elapsed)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(raw), `"content":"Hello"`) {
		t.Fatalf("expected the first chunk, got %q", raw)
	}
	if !strings.Contains(string(raw), "server is shutting down") {
		t.Fatalf("expected a shutdown error event, got %q", raw)
	}
}
