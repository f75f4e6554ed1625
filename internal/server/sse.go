package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

type chunkDelta struct {
	Content string `json:"content"`
}

type chunkChoice struct {
	Index int        `json:"index"`
	Delta chunkDelta `json:"delta"`
}

// chatChunk mirrors the OpenAI streaming chunk shape so existing SSE clients can consume it.
type chatChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Model   string        `json:"model,omitempty"`
	Choices []chunkChoice `json:"choices"`
}

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	id      string
	model   string
	started bool
}

func newSSEWriter(w http.ResponseWriter, id, model string) *sseWriter {
	flusher, _ := w.(http.Flusher)
	return &sseWriter{w: w, flusher: flusher, id: id, model: model}
}

// start sends the stream headers. Nothing can be reported as a JSON error afterwards.
func (s *sseWriter) start() {
	if s.started {
		return
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.flush()
}

func (s *sseWriter) delta(content string) error {
	s.start()
	payload, err := json.Marshal(chatChunk{
		ID:      s.id,
		Object:  "chat.completion.chunk",
		Model:   s.model,
		Choices: []chunkChoice{{Delta: chunkDelta{Content: content}}},
	})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *sseWriter) done() error {
	s.start()
	if _, err := fmt.Fprint(s.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *sseWriter) fail(apiErr *APIError) {
	payload, _ := json.Marshal(apiErr)
	_, _ = fmt.Fprintf(s.w, "event: error\ndata: %s\n\n", payload)
	s.flush()
}

func (s *sseWriter) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
