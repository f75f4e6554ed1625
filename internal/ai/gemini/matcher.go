package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"unicode/utf8"

	"github.com/spigell/jobmatch/internal/ai"
	"github.com/spigell/jobmatch/internal/utils"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	defaultMaxLogLength     = 200
	maxUserInstructionRunes = 500
	matchFunctionName       = "report_match_score"
	matchSystemInstruction  = "You score candidate and job fit for a hiring marketplace. Always answer through the provided function."
)

type functionCaller interface {
	CallFunction(ctx context.Context, system, message string, decl *genai.FunctionDeclaration) (map[string]any, error)
}

type Matcher struct {
	generator functionCaller
	minScore  float64
	logger    *zap.Logger
	maxLogLen int
}

func NewMatcher(generator functionCaller, minScore float64, maxLogLength int, logger *zap.Logger) *Matcher {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Matcher{
		generator: generator,
		minScore:  ai.ClampScore(minScore),
		logger:    logger,
		maxLogLen: maxLogLength,
	}
}

func matchDeclaration() *genai.FunctionDeclaration {
	stringList := &genai.Schema{Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}}
	minScore, maxScore := 0.0, 100.0

	return &genai.FunctionDeclaration{
		Name:        matchFunctionName,
		Description: "Report how well a candidate fits a job posting.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"score": {
					Type:        genai.TypeInteger,
					Description: "Fit score from 0 to 100.",
					Minimum:     &minScore,
					Maximum:     &maxScore,
				},
				"reasoning":      {Type: genai.TypeString, Description: "Short factual justification."},
				"matched_skills": stringList,
				"missing_skills": stringList,
			},
			Required: []string{"score", "reasoning"},
		},
	}
}

func (m *Matcher) Evaluate(ctx context.Context, profile *ai.Profile, job *ai.Job, criteria ai.Criteria) (*ai.MatchScore, error) {
	if profile == nil {
		return nil, fmt.Errorf("candidate profile is required")
	}
	if job == nil {
		return nil, fmt.Errorf("job is required")
	}

	profileJSON, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal profile payload: %w", err)
	}

	jobJSON, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal job payload: %w", err)
	}

	prompt := buildMatchPrompt(string(profileJSON), string(jobJSON), criteria)

	m.logger.Debug("gemini match request",
		zap.String("profile_id", profile.ID),
		zap.String("job_id", job.ID),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, m.maxLogLen)),
	)

	args, err := m.generator.CallFunction(ctx, matchSystemInstruction, prompt, matchDeclaration())
	if err != nil {
		return nil, err
	}

	score, err := parseMatchArgs(args)
	if err != nil {
		return nil, err
	}

	score.Fit = score.Score >= m.minScore
	if !score.Fit {
		m.logger.Debug("set fit to false by score threshold",
			zap.String("job_id", job.ID),
			zap.Float64("score", score.Score),
			zap.Float64("threshold", m.minScore),
		)
	}

	return score, nil
}

func parseMatchArgs(args map[string]any) (*ai.MatchScore, error) {
	if args == nil {
		return nil, fmt.Errorf("empty %s arguments", matchFunctionName)
	}

	// Some models put the number in a string like "85%".
	if raw, ok := args["score"].(string); ok {
		args = maps.Clone(args)
		args["score"] = coerceFloat(raw)
	}

	var score ai.MatchScore
	if err := decodeArgs(args, &score); err != nil {
		return nil, fmt.Errorf("decode %s arguments: %w", matchFunctionName, err)
	}

	score.Score = ai.ClampScore(score.Score)
	score.Reasoning = strings.TrimSpace(score.Reasoning)
	return &score, nil
}

func buildMatchPrompt(profileJSON, jobJSON string, criteria ai.Criteria) string {
	return render(matchTemplate, map[string]string{
		"PROFILE_JSON":      profileJSON,
		"JOB_JSON":          jobJSON,
		"EXTRA_CRITERIA":    orNone(sanitizeSingleLine(criteria.ExtraCriteria)),
		"DEAL_BREAKERS":     orNone(sanitizeSingleLine(criteria.DealBreakers)),
		"KEYWORDS":          orNone(sanitizeKeywords(criteria.Keywords)),
		"USER_INSTRUCTIONS": sanitizeUserInstructions(criteria.Instructions),
	})
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// sanitizeSingleLine flattens whitespace and neutralises section markers like "[System]".
func sanitizeSingleLine(s string) string {
	s = strings.NewReplacer("[", "(", "]", ")").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

func sanitizeKeywords(s string) string {
	parts := strings.Split(s, ",")
	keywords := make([]string, 0, len(parts))
	for _, part := range parts {
		if kw := sanitizeSingleLine(part); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	return strings.Join(keywords, ", ")
}

func sanitizeUserInstructions(s string) string {
	s = strings.TrimSpace(s)
	if runes := []rune(s); len(runes) > maxUserInstructionRunes {
		s = string(runes[:maxUserInstructionRunes])
	}

	lines := make([]string, 0)
	for _, line := range strings.Split(s, "\n") {
		if line = sanitizeSingleLine(line); line != "" {
			lines = append(lines, "  - "+line)
		}
	}

	if len(lines) == 0 {
		return "  - none"
	}
	return strings.Join(lines, "\n")
}
