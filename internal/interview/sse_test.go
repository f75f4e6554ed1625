package interview

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"go.uber.org/zap"
)

func chunk(content string) string {
	return `{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"` + content + `"}}]}`
}

func TestEventReader(t *testing.T) {
	stream := ": keep-alive\r\n" +
		"event: message\r\n" +
		"data: first\r\n" +
		"data: second\r\n" +
		"\r\n" +
		"id: 7\n" +
		"\n" +
		"event: error\n" +
		"data:{\"code\":502}\n" +
		"\n" +
		"data: tail"

	reader := newEventReader(strings.NewReader(stream))

	ev, err := reader.next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.name != "message" || ev.data != "first\nsecond" {
		t.Fatalf("unexpected first event: %+v", ev)
	}

	ev, err = reader.next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.name != "error" || ev.data != `{"code":502}` {
		t.Fatalf("unexpected error event: %+v", ev)
	}

	ev, err = reader.next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.name != "" || ev.data != "tail" {
		t.Fatalf("unterminated event not returned: %+v", ev)
	}

	if _, err := reader.next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestReadReplyAssemblesDeltasAcrossPartialReads(t *testing.T) {
	stream := "data: " + chunk("Tell me ") + "\n\n" +
		": ping\n\n" +
		"data: not json\n\n" +
		"data: " + chunk("about Go.") + "\r\n\r\n" +
		"data: [DONE]\n\n"

	var deltas []string
	reply, err := readReply(iotest.OneByteReader(strings.NewReader(stream)), zap.NewNop(), func(d string) {
		deltas = append(deltas, d)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "Tell me about Go." {
		t.Fatalf("unexpected reply %q", reply)
	}
	if len(deltas) != 2 || deltas[0] != "Tell me " {
		t.Fatalf("unexpected deltas %q", deltas)
	}
}

func TestReadReplyFailures(t *testing.T) {
	cases := []struct {
		name    string
		stream  string
		partial string
		check   func(t *testing.T, err error)
	}{
		{
			name:    "truncated",
			stream:  "data: " + chunk("Hel") + "\n\n",
			partial: "Hel",
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrStreamTruncated) {
					t.Fatalf("expected ErrStreamTruncated, got %v", err)
				}
			},
		},
		{
			name:   "empty",
			stream: "data: [DONE]\n\n",
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrEmptyReply) {
					t.Fatalf("expected ErrEmptyReply, got %v", err)
				}
			},
		},
		{
			name:    "error event",
			stream:  "data: " + chunk("Hi") + "\n\nevent: error\ndata: {\"code\":502,\"message\":\"bad gateway\",\"request_id\":\"r1\"}\n\n",
			partial: "Hi",
			check: func(t *testing.T, err error) {
				var streamErr *StreamError
				if !errors.As(err, &streamErr) {
					t.Fatalf("expected StreamError, got %v", err)
				}
				if streamErr.Code != 502 || streamErr.Message != "bad gateway" || streamErr.RequestID != "r1" {
					t.Fatalf("unexpected stream error: %+v", streamErr)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reply, err := readReply(strings.NewReader(tc.stream), zap.NewNop(), nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if reply != tc.partial {
				t.Fatalf("unexpected partial reply %q", reply)
			}
			tc.check(t, err)
		})
	}
}
