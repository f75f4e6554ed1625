package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spigell/jobmatch/internal/ai"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	openingMessage    = "Please begin the interview."
	maxHistoryTurns   = 40
	maxTranscriptRune = 30000
)

type streamer interface {
	Stream(ctx context.Context, system string, history []*genai.Content, message string, yield func(delta string) error) error
}

type Interviewer struct {
	stream streamer
	json   jsonGenerator
	logger *zap.Logger
}

func NewInterviewer(stream streamer, json jsonGenerator, logger *zap.Logger) *Interviewer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interviewer{stream: stream, json: json, logger: logger}
}

// Reply streams the interviewer's next turn. The last history message, if any, must be the candidate's.
func (i *Interviewer) Reply(ctx context.Context, setup ai.InterviewSetup, history []ai.Message, yield func(delta string) error) error {
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}

	message := openingMessage
	prior := history
	if n := len(history); n > 0 {
		last := history[n-1]
		if last.Role != ai.RoleUser {
			return errors.New("last message must come from the candidate")
		}
		message = strings.TrimSpace(last.Content)
		if message == "" {
			return errors.New("candidate message must not be empty")
		}
		prior = history[:n-1]
	}

	contents, err := toContents(prior)
	if err != nil {
		return err
	}

	i.logger.Debug("interview turn",
		zap.String("job_title", setup.JobTitle),
		zap.Int("history_turns", len(prior)),
	)

	return i.stream.Stream(ctx, interviewerPrompt(setup), contents, message, yield)
}

func (i *Interviewer) Report(ctx context.Context, setup ai.InterviewSetup, history []ai.Message, behaviorNotes []string) (*ai.InterviewReport, error) {
	if len(history) == 0 {
		return nil, errors.New("transcript is empty")
	}
	setup = normalizeSetup(setup)

	var transcript strings.Builder
	for _, msg := range history {
		speaker := "Candidate"
		if msg.Role == ai.RoleAssistant {
			speaker = "Interviewer"
		}
		fmt.Fprintf(&transcript, "%s: %s\n", speaker, strings.TrimSpace(msg.Content))
	}

	notes := make([]string, 0, len(behaviorNotes))
	for _, note := range behaviorNotes {
		if note = sanitizeSingleLine(note); note != "" {
			notes = append(notes, "- "+note)
		}
	}
	noteBlock := "- none"
	if len(notes) > 0 {
		noteBlock = strings.Join(notes, "\n")
	}

	prompt := render(reportTemplate, map[string]string{
		"JOB_TITLE":      setup.JobTitle,
		"INTERVIEW_TYPE": setup.InterviewType,
		"TRANSCRIPT":     truncateRunes(transcript.String(), maxTranscriptRune),
		"BEHAVIOR_NOTES": noteBlock,
	})

	raw, err := i.json.GenerateJSON(ctx, "", prompt)
	if err != nil {
		return nil, err
	}

	data, err := parseObject(raw)
	if err != nil {
		return nil, err
	}

	return &ai.InterviewReport{
		OverallScore: ai.ClampScore(coerceFloat(data["overall_score"])),
		Summary:      coerceString(data["summary"]),
		Strengths:    coerceStrings(data["strengths"]),
		Improvements: coerceStrings(data["improvements"]),
	}, nil
}

func normalizeSetup(setup ai.InterviewSetup) ai.InterviewSetup {
	setup.JobTitle = sanitizeSingleLine(setup.JobTitle)
	if setup.JobTitle == "" {
		setup.JobTitle = "the open role"
	}
	setup.InterviewType = strings.ToLower(sanitizeSingleLine(setup.InterviewType))
	switch setup.InterviewType {
	case "behavioral", "technical", "system design", "mixed":
	default:
		setup.InterviewType = "mixed"
	}
	setup.Difficulty = strings.ToLower(sanitizeSingleLine(setup.Difficulty))
	switch setup.Difficulty {
	case "easy", "medium", "hard":
	default:
		setup.Difficulty = "medium"
	}
	return setup
}

func interviewerPrompt(setup ai.InterviewSetup) string {
	setup = normalizeSetup(setup)
	return render(interviewerTemplate, map[string]string{
		"JOB_TITLE":      setup.JobTitle,
		"INTERVIEW_TYPE": setup.InterviewType,
		"DIFFICULTY":     setup.Difficulty,
	})
}

// toContents converts chat history to genai contents. Gemini expects the history to open with a user turn.
func toContents(history []ai.Message) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(history)+1)
	for idx, msg := range history {
		role := roleUser
		switch msg.Role {
		case ai.RoleUser:
			role = roleUser
		case ai.RoleAssistant:
			role = roleModel
		default:
			return nil, fmt.Errorf("message %d: unknown role %q", idx, msg.Role)
		}

		if idx == 0 && role == roleModel {
			contents = append(contents, &genai.Content{Role: roleUser, Parts: []*genai.Part{{Text: openingMessage}}})
		}

		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: msg.Content}}})
	}
	return contents, nil
}
