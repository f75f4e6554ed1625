package interview

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const doneMarker = "[DONE]"

var (
	// ErrStreamTruncated is returned when the stream ends before the done marker.
	ErrStreamTruncated = errors.New("chat stream ended before completion")
	ErrEmptyReply      = errors.New("interviewer returned an empty reply")
)

// StreamError is an error event sent by the server after the stream has started.
type StreamError struct {
	Code      int
	Message   string
	Detail    string
	RequestID string
}

func (e *StreamError) Error() string {
	msg := e.Message
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	return fmt.Sprintf("chat stream failed (%d): %s", e.Code, msg)
}

type event struct {
	name string
	data string
}

// eventReader splits a text/event-stream body into events. Lines may end with LF or CRLF.
type eventReader struct {
	r *bufio.Reader
}

func newEventReader(r io.Reader) *eventReader {
	return &eventReader{r: bufio.NewReader(r)}
}

// next returns the next event carrying data. An unterminated event at EOF is still returned.
func (e *eventReader) next() (event, error) {
	var (
		ev      event
		data    []string
		hasData bool
	)

	for {
		line, err := e.r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return event{}, err
		}
		atEOF := err != nil
		if atEOF && line == "" {
			if hasData {
				ev.data = strings.Join(data, "\n")
				return ev, nil
			}
			return event{}, io.EOF
		}

		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")

		switch {
		case line == "":
			if hasData {
				ev.data = strings.Join(data, "\n")
				return ev, nil
			}
			ev = event{}
		case strings.HasPrefix(line, ":"):
			// comment or keep-alive
		default:
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "data":
				data = append(data, value)
				hasData = true
			case "event":
				ev.name = value
			}
		}

		if atEOF {
			if hasData {
				ev.data = strings.Join(data, "\n")
				return ev, nil
			}
			return event{}, io.EOF
		}
	}
}

// readReply assembles the interviewer reply from a chat stream, calling onDelta for every chunk.
// The partial reply is returned together with any error.
func readReply(r io.Reader, logger *zap.Logger, onDelta func(delta string)) (string, error) {
	events := newEventReader(r)
	var reply strings.Builder

	for {
		ev, err := events.next()
		if errors.Is(err, io.EOF) {
			return reply.String(), ErrStreamTruncated
		}
		if err != nil {
			return reply.String(), fmt.Errorf("read chat stream: %w", err)
		}

		if ev.name == "error" {
			return reply.String(), parseStreamError(ev.data)
		}
		if strings.TrimSpace(ev.data) == doneMarker {
			if reply.Len() == 0 {
				return "", ErrEmptyReply
			}
			return reply.String(), nil
		}

		if !gjson.Valid(ev.data) {
			logger.Debug("skipping malformed stream chunk", zap.Int("bytes", len(ev.data)))
			continue
		}
		delta := gjson.Get(ev.data, "choices.0.delta.content").String()
		if delta == "" {
			continue
		}

		reply.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}
}

func parseStreamError(data string) *StreamError {
	if !gjson.Valid(data) {
		return &StreamError{Message: strings.TrimSpace(data)}
	}
	fields := gjson.GetMany(data, "code", "message", "detail", "request_id")
	return &StreamError{
		Code:      int(fields[0].Int()),
		Message:   fields[1].String(),
		Detail:    fields[2].String(),
		RequestID: fields[3].String(),
	}
}
