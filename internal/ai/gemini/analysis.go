package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spigell/jobmatch/internal/ai"
	"github.com/spigell/jobmatch/internal/utils"
	"go.uber.org/zap"
)

const (
	maxCVRunes   = 20000
	maxBioRunes  = 4000
	maxLinkCount = 20
)

type jsonGenerator interface {
	GenerateJSON(ctx context.Context, system, message string) (string, error)
}

type imageGenerator interface {
	GenerateWithImage(ctx context.Context, system, message string, image []byte, mimeType string) (string, error)
}

// Analyzer implements the single-shot JSON analyses: CV review, behavioral frames and footprint scans.
type Analyzer struct {
	json      jsonGenerator
	vision    imageGenerator
	logger    *zap.Logger
	maxLogLen int
}

func NewAnalyzer(json jsonGenerator, vision imageGenerator, maxLogLength int, logger *zap.Logger) *Analyzer {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{json: json, vision: vision, logger: logger, maxLogLen: maxLogLength}
}

func (a *Analyzer) AnalyzeCV(ctx context.Context, cvText, targetRole string) (*ai.CVAnalysis, error) {
	cvText = strings.TrimSpace(cvText)
	if cvText == "" {
		return nil, errors.New("cv text is required")
	}
	cvText = truncateRunes(cvText, maxCVRunes)

	clause := ""
	if role := sanitizeSingleLine(targetRole); role != "" {
		clause = fmt.Sprintf(" for the target role %q", role)
	}

	prompt := render(cvTemplate, map[string]string{
		"TARGET_ROLE_CLAUSE": clause,
		"CV_TEXT":            cvText,
	})

	data, raw, err := a.generateObject(ctx, "cv", prompt)
	if err != nil {
		return nil, err
	}

	return &ai.CVAnalysis{
		Score:       ai.ClampScore(coerceFloat(data["score"])),
		Summary:     coerceString(data["summary"]),
		Strengths:   coerceStrings(data["strengths"]),
		Weaknesses:  coerceStrings(data["weaknesses"]),
		Suggestions: coerceStrings(data["suggestions"]),
		Skills:      coerceStrings(data["skills"]),
		Raw:         raw,
	}, nil
}

func (a *Analyzer) AnalyzeFrame(ctx context.Context, image []byte, mimeType, question string) (*ai.BehaviorFeedback, error) {
	if a.vision == nil {
		return nil, errors.New("vision generator is not configured")
	}

	clause := ""
	if q := sanitizeSingleLine(question); q != "" {
		clause = fmt.Sprintf("The candidate is answering: %q", q)
	}
	prompt := render(behaviorTemplate, map[string]string{"QUESTION_CLAUSE": clause})

	raw, err := a.vision.GenerateWithImage(ctx, "", prompt, image, mimeType)
	if err != nil {
		return nil, err
	}

	data, err := parseObject(raw)
	if err != nil {
		return nil, err
	}

	return &ai.BehaviorFeedback{
		Feedback:   coerceString(data["feedback"]),
		EyeContact: normalizeRating(coerceString(data["eye_contact"])),
		Posture:    normalizeRating(coerceString(data["posture"])),
		Confidence: ai.ClampScore(coerceFloat(data["confidence"])),
	}, nil
}

func (a *Analyzer) Scan(ctx context.Context, input ai.FootprintInput) (*ai.FootprintReport, error) {
	name := sanitizeSingleLine(input.FullName)
	if name == "" {
		return nil, errors.New("full name is required")
	}

	links := make([]string, 0, len(input.Links))
	for _, link := range input.Links {
		if link = sanitizeSingleLine(link); link != "" && len(links) < maxLinkCount {
			links = append(links, "- "+link)
		}
	}
	linkBlock := "- none"
	if len(links) > 0 {
		linkBlock = strings.Join(links, "\n")
	}

	bio := truncateRunes(strings.TrimSpace(input.Bio), maxBioRunes)
	if bio == "" {
		bio = "none"
	}

	prompt := render(footprintTemplate, map[string]string{
		"FULL_NAME": name,
		"LINKS":     linkBlock,
		"BIO":       bio,
	})

	data, _, err := a.generateObject(ctx, "footprint", prompt)
	if err != nil {
		return nil, err
	}

	report := &ai.FootprintReport{
		RiskScore:       ai.ClampScore(coerceFloat(data["risk_score"])),
		Summary:         coerceString(data["summary"]),
		Recommendations: coerceStrings(data["recommendations"]),
	}

	if findings, ok := data["findings"].([]any); ok {
		for _, item := range findings {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			report.Findings = append(report.Findings, ai.FootprintFinding{
				Source:   coerceString(obj["source"]),
				Severity: normalizeSeverity(coerceString(obj["severity"])),
				Detail:   coerceString(obj["detail"]),
			})
		}
	}

	return report, nil
}

func (a *Analyzer) generateObject(ctx context.Context, kind, prompt string) (map[string]any, string, error) {
	if a.json == nil {
		return nil, "", errors.New("gemini generator is not configured")
	}

	a.logger.Debug("gemini generate content request",
		zap.String("kind", kind),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, a.maxLogLen)),
	)

	raw, err := a.json.GenerateJSON(ctx, "", prompt)
	if err != nil {
		return nil, "", err
	}

	a.logger.Debug("gemini generate content response",
		zap.String("kind", kind),
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, a.maxLogLen)),
	)

	data, err := parseObject(raw)
	if err != nil {
		return nil, raw, err
	}
	return data, raw, nil
}

func normalizeRating(v string) string {
	switch v = strings.ToLower(strings.TrimSpace(v)); v {
	case "good", "fair", "poor":
		return v
	default:
		return "unknown"
	}
}

func normalizeSeverity(v string) string {
	switch v = strings.ToLower(strings.TrimSpace(v)); v {
	case "low", "medium", "high":
		return v
	default:
		return "low"
	}
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
