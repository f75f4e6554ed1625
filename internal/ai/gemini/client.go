package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/spigell/jobmatch/internal/utils"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	defaultModel         = "gemini-2.5-flash"
	defaultMaxRetries    = 3
	defaultMaxQuotaDelay = 30 * time.Second
	baseBackoff          = time.Second
	maxBackoff           = 30 * time.Second
	jsonMIMEType         = "application/json"

	roleUser  = "user"
	roleModel = "model"
)

var pause = utils.WaitFor

type chatSession interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
	SendMessageStream(ctx context.Context, parts ...genai.Part) iter.Seq2[*genai.GenerateContentResponse, error]
}

type chatCreator interface {
	Create(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatSession, error)
}

type genaiChats struct {
	chats *genai.Chats
}

func (c genaiChats) Create(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatSession, error) {
	chat, err := c.chats.Create(ctx, model, config, history)
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// Config holds Generator settings.
type Config struct {
	APIKey string
	Model  string

	// VisionModel is used for image prompts. Defaults to Model.
	VisionModel string

	// MaxRetries is the total number of attempts for temporary failures.
	MaxRetries int

	// MaxQuotaDelay is the longest provider-requested wait that is still retried.
	MaxQuotaDelay time.Duration
}

// Generator wraps the Google GenAI client to provide prompt-based interactions with retries.
type Generator struct {
	chats         chatCreator
	model         string
	visionModel   string
	maxRetries    int
	maxQuotaDelay time.Duration
	logger        *zap.Logger
}

// NewGenerator creates a new Generator configured for the Gemini API backend.
func NewGenerator(ctx context.Context, cfg Config, logger *zap.Logger) (*Generator, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	vision := strings.TrimSpace(cfg.VisionModel)
	if vision == "" {
		vision = model
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Generator{
		chats:         genaiChats{chats: client.Chats},
		model:         model,
		visionModel:   vision,
		maxRetries:    cfg.MaxRetries,
		maxQuotaDelay: cfg.MaxQuotaDelay,
		logger:        logger,
	}, nil
}

// GenerateContent sends a single message with the given system instruction and returns the textual response.
func (g *Generator) GenerateContent(ctx context.Context, system, message string) (string, error) {
	return g.generateText(ctx, g.model, g.config(system), textParts(message))
}

// GenerateJSON is GenerateContent with the response constrained to JSON.
func (g *Generator) GenerateJSON(ctx context.Context, system, message string) (string, error) {
	cfg := g.config(system)
	cfg.ResponseMIMEType = jsonMIMEType
	return g.generateText(ctx, g.model, cfg, textParts(message))
}

// GenerateWithImage sends an inline image together with the message to the vision model.
func (g *Generator) GenerateWithImage(ctx context.Context, system, message string, image []byte, mimeType string) (string, error) {
	if len(image) == 0 {
		return "", errors.New("image must not be empty")
	}
	if mimeType = strings.TrimSpace(mimeType); mimeType == "" {
		mimeType = "image/jpeg"
	}

	cfg := g.config(system)
	cfg.ResponseMIMEType = jsonMIMEType

	parts := []genai.Part{{InlineData: &genai.Blob{Data: image, MIMEType: mimeType}}}
	parts = append(parts, textParts(message)...)

	return g.generateText(ctx, g.visionModel, cfg, parts)
}

// CallFunction forces the model to call decl and returns the call arguments.
// When the model answers with text instead, the text is parsed as a JSON object.
func (g *Generator) CallFunction(ctx context.Context, system, message string, decl *genai.FunctionDeclaration) (map[string]any, error) {
	if decl == nil || strings.TrimSpace(decl.Name) == "" {
		return nil, errors.New("function declaration with a name is required")
	}

	cfg := g.config(system)
	cfg.Tools = []*genai.Tool{{FunctionDeclarations: []*genai.FunctionDeclaration{decl}}}
	cfg.ToolConfig = &genai.ToolConfig{
		FunctionCallingConfig: &genai.FunctionCallingConfig{
			Mode:                 genai.FunctionCallingConfigModeAny,
			AllowedFunctionNames: []string{decl.Name},
		},
	}

	resp, err := g.send(ctx, g.model, cfg, textParts(message))
	if err != nil {
		return nil, err
	}

	if args, ok := functionArgs(resp, decl.Name); ok {
		return args, nil
	}

	text, err := responseText(resp)
	if err != nil {
		return nil, fmt.Errorf("model did not call %s: %w", decl.Name, err)
	}

	g.logger.Debug("model answered with text instead of a function call", zap.String("function", decl.Name))

	var args map[string]any
	if err := json.Unmarshal([]byte(extractJSON(text)), &args); err != nil {
		return nil, fmt.Errorf("parse %s fallback response: %w", decl.Name, err)
	}
	return args, nil
}

// Stream sends message on top of history and yields text deltas as they arrive.
// Temporary errors are retried only while nothing has been yielded yet.
func (g *Generator) Stream(ctx context.Context, system string, history []*genai.Content, message string, yield func(delta string) error) error {
	if g == nil || g.chats == nil {
		return errors.New("gemini generator is not initialized")
	}
	parts := textParts(message)
	if len(parts) == 0 {
		return errors.New("prompt must not be empty")
	}

	cfg := g.config(system)
	attempts := g.attempts()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		chat, err := g.chats.Create(ctx, g.model, cfg, history)
		if err != nil {
			return fmt.Errorf("create chat: %w", err)
		}

		emitted := false
		var streamErr error
		for resp, err := range chat.SendMessageStream(ctx, parts...) {
			if err != nil {
				streamErr = err
				break
			}
			delta := rawResponseText(resp)
			if delta == "" {
				continue
			}
			emitted = true
			if err := yield(delta); err != nil {
				return err
			}
		}

		if streamErr == nil {
			if !emitted {
				return errors.New("gemini api returned empty response")
			}
			return nil
		}

		if emitted {
			return fmt.Errorf("stream interrupted: %w", streamErr)
		}

		lastErr = streamErr
		if !g.wait(ctx, streamErr, attempt, attempts) {
			break
		}
	}

	return fmt.Errorf("stream content: %w", lastErr)
}

func (g *Generator) Model() string {
	if g == nil {
		return ""
	}
	return g.model
}

func (g *Generator) config(system string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if system = strings.TrimSpace(system); system != "" {
		cfg.SystemInstruction = &genai.Content{
			Role:  roleUser,
			Parts: []*genai.Part{{Text: system}},
		}
	}
	return cfg
}

func (g *Generator) attempts() int {
	if g.maxRetries <= 0 {
		return defaultMaxRetries
	}
	return g.maxRetries
}

func (g *Generator) generateText(ctx context.Context, model string, cfg *genai.GenerateContentConfig, parts []genai.Part) (string, error) {
	resp, err := g.send(ctx, model, cfg, parts)
	if err != nil {
		return "", err
	}
	return responseText(resp)
}

func (g *Generator) send(ctx context.Context, model string, cfg *genai.GenerateContentConfig, parts []genai.Part) (*genai.GenerateContentResponse, error) {
	if g == nil || g.chats == nil {
		return nil, errors.New("gemini generator is not initialized")
	}
	if len(parts) == 0 {
		return nil, errors.New("prompt must not be empty")
	}

	attempts := g.attempts()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		chat, err := g.chats.Create(ctx, model, cfg, nil)
		if err != nil {
			return nil, fmt.Errorf("create chat: %w", err)
		}

		resp, err := chat.SendMessage(ctx, parts...)
		if err == nil {
			return resp, nil
		}

		lastErr = err
		if !g.wait(ctx, err, attempt, attempts) {
			break
		}
	}

	return nil, fmt.Errorf("generate content: %w", lastErr)
}

// wait sleeps before the next attempt and reports whether one should be made.
func (g *Generator) wait(ctx context.Context, err error, attempt, attempts int) bool {
	if attempt >= attempts {
		return false
	}

	temporary, hinted := classifyError(err)
	if !temporary {
		return false
	}

	maxQuota := g.maxQuotaDelay
	if maxQuota <= 0 {
		maxQuota = defaultMaxQuotaDelay
	}
	if hinted > maxQuota {
		g.logger.Warn("provider asked to wait longer than allowed; giving up",
			zap.Duration("retry_after", hinted),
			zap.Duration("max_quota_delay", maxQuota),
			zap.Error(err),
		)
		return false
	}

	delay := hinted
	if delay <= 0 {
		delay = backoff(attempt)
	}

	g.logger.Warn("temporary gemini error; retrying",
		zap.Int("attempt", attempt),
		zap.Int("max_attempts", attempts),
		zap.Duration("delay", delay),
		zap.Error(err),
	)

	if err := pause(ctx, delay); err != nil {
		g.logger.Debug("retry wait interrupted", zap.Error(err))
		return false
	}
	return true
}

func backoff(attempt int) time.Duration {
	delay := baseBackoff << (attempt - 1)
	if delay <= 0 || delay > maxBackoff {
		return maxBackoff
	}
	return delay
}

func textParts(message string) []genai.Part {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil
	}
	return []genai.Part{{Text: message}}
}

func functionArgs(resp *genai.GenerateContentResponse, name string) (map[string]any, bool) {
	if resp == nil {
		return nil, false
	}
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.FunctionCall == nil {
				continue
			}
			if part.FunctionCall.Name == name {
				args := part.FunctionCall.Args
				if args == nil {
					args = map[string]any{}
				}
				return args, true
			}
		}
	}
	return nil, false
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", errors.New("gemini api returned empty response")
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}

	output := strings.TrimSpace(builder.String())
	if output == "" {
		return "", errors.New("gemini api returned empty response")
	}

	return output, nil
}

// rawResponseText concatenates text parts without trimming; stream deltas keep their spacing.
func rawResponseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			builder.WriteString(part.Text)
		}
	}
	return builder.String()
}
