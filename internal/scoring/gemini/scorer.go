package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	_ "embed"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/cvstore/internal/scoring"
	"github.com/spigell/cvstore/internal/utils"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, prompt string, config *genai.GenerateContentConfig) (string, error)
}

//go:embed prompt.md
var promptTemplate string

const (
	defaultMaxLogLength = 200
	// Incomplete answers are asked again this many times before defaults are filled in.
	defaultRepairs    = 2
	maxCandidateRunes = 4000
	maxNameRunes      = 1000
	maxNameLength     = 100
)

// Scorer evaluates candidates with a Gemini model.
type Scorer struct {
	generator contentGenerator
	logger    *zap.Logger
	maxLogLen int
	repairs   int
	language  string
}

var (
	_ scoring.Scorer        = (*Scorer)(nil)
	_ scoring.NameExtractor = (*Scorer)(nil)
)

// NewScorer creates a Scorer. language, when set, is the language the model
// writes its explanations in.
func NewScorer(generator contentGenerator, logger *zap.Logger, language string, maxLogLength int) *Scorer {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scorer{
		generator: generator,
		logger:    logger,
		maxLogLen: maxLogLength,
		repairs:   defaultRepairs,
		language:  strings.TrimSpace(language),
	}
}

func (s *Scorer) Score(ctx context.Context, candidateText, jobTitle, jobDescription string) (*scoring.Result, error) {
	if strings.TrimSpace(candidateText) == "" {
		return nil, errors.New("candidate text is required")
	}
	if strings.TrimSpace(jobTitle) == "" {
		return nil, errors.New("job title is required")
	}

	prompt := s.buildPrompt(candidateText, jobTitle, jobDescription)
	temperature := float32(0.2)
	config := &genai.GenerateContentConfig{
		Temperature:      &temperature,
		ResponseMIMEType: "application/json",
	}

	var result *scoring.Result
	for attempt := 0; attempt <= s.repairs; attempt++ {
		s.logger.Debug("gemini score request",
			zap.String("job_position", jobTitle),
			zap.Int("attempt", attempt+1),
			zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
			zap.String("prompt_preview", utils.TruncateForLog(prompt, s.maxLogLen)),
		)

		raw, err := s.generator.GenerateContent(ctx, prompt, config)
		if err != nil {
			return nil, err
		}

		s.logger.Debug("gemini score response",
			zap.String("job_position", jobTitle),
			zap.Int("response_length", utf8.RuneCountInString(raw)),
			zap.String("response_preview", utils.TruncateForLog(raw, s.maxLogLen)),
		)

		parsed, err := parseResponse(raw)
		if err != nil {
			s.logger.Warn("unparsable gemini response", zap.String("job_position", jobTitle), zap.Error(err))
			continue
		}
		result = parsed
		if result.Complete() {
			return result, nil
		}
		s.logger.Debug("gemini response is incomplete", zap.String("job_position", jobTitle), zap.Int("attempt", attempt+1))
	}

	if result == nil {
		return nil, fmt.Errorf("no usable gemini response after %d attempts", s.repairs+1)
	}
	result.FillDefaults(jobTitle)
	return result, nil
}

// ExtractName asks the model for the candidate's full name. Anything that
// does not look like a name becomes scoring.UnknownCandidate.
func (s *Scorer) ExtractName(ctx context.Context, candidateText string) (string, error) {
	text := strings.TrimSpace(candidateText)
	if text == "" {
		return scoring.UnknownCandidate, nil
	}
	if runes := []rune(text); len(runes) > maxNameRunes {
		text = string(runes[:maxNameRunes])
	}

	prompt := "Extract the candidate's full name from this resume text.\n" +
		"Return only the first and last name, without titles, degrees or positions.\n" +
		"If the name is missing or unclear, return \"" + scoring.UnknownCandidate + "\".\n\n" +
		"Resume text:\n" + text + "\n\nName:"

	temperature := float32(0.1)
	raw, err := s.generator.GenerateContent(ctx, prompt, &genai.GenerateContentConfig{Temperature: &temperature})
	if err != nil {
		return "", err
	}

	name := strings.TrimSpace(strings.NewReplacer(`"`, "", "'", "").Replace(raw))
	if name == "" || len(name) > maxNameLength || strings.Contains(name, "\n") {
		return scoring.UnknownCandidate, nil
	}
	return name, nil
}

func (s *Scorer) buildPrompt(candidateText, jobTitle, jobDescription string) string {
	template := promptTemplate
	if strings.TrimSpace(template) == "" {
		template = "Job Position:\n{{JOB_TITLE}}\n\nJob Description:\n{{JOB_DESCRIPTION}}\n\nCandidate CV:\n{{CANDIDATE}}\n\nJSON Response:"
	}

	candidate := strings.TrimSpace(candidateText)
	if runes := []rune(candidate); len(runes) > maxCandidateRunes {
		candidate = string(runes[:maxCandidateRunes])
	}

	languageRule := ""
	if s.language != "" {
		languageRule = "- Write summary, strengths, weaknesses and gaps in " + s.language + "."
	}

	description := strings.TrimSpace(jobDescription)
	if description == "" {
		description = "(not provided)"
	}

	return strings.NewReplacer(
		"{{LANGUAGE_RULE}}", languageRule,
		"{{JOB_TITLE}}", strings.TrimSpace(jobTitle),
		"{{JOB_DESCRIPTION}}", description,
		"{{CANDIDATE}}", candidate,
	).Replace(template)
}

func parseResponse(raw string) (*scoring.Result, error) {
	cleaned := extractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		start, end := strings.Index(cleaned, "{"), strings.LastIndex(cleaned, "}")
		if start == -1 || end <= start {
			return nil, fmt.Errorf("parse gemini response: %w", err)
		}
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), &data); err != nil {
			return nil, fmt.Errorf("parse gemini response: %w", err)
		}
	}

	score := coerceFloat(data["score"])
	if math.IsNaN(score) {
		score = 0
	}

	return &scoring.Result{
		Score:      int(math.Round(math.Max(0, math.Min(100, score)))),
		Summary:    coerceString(data["summary"]),
		Strengths:  coerceStrings(data["strengths"]),
		Weaknesses: coerceStrings(data["weaknesses"]),
		Gaps:       coerceStrings(data["gaps"]),
	}, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

func coerceFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return math.NaN()
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case nil:
		return ""
	default:
		bytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(bytes)
	}
}

func coerceStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		if s := coerceString(v); s != "" {
			return []string{s}
		}
		return nil
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := coerceString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
