package chat

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fpang/painting-studio/internal/assets"
	"github.com/fpang/painting-studio/internal/jsonutil"
	"github.com/fpang/painting-studio/internal/metrics"
	"github.com/fpang/painting-studio/internal/pipeline"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// contentGenerator is the subset of *genai.Models used by the critic.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiCritic scores stage studies with a Gemini text model. It implements
// pipeline.Critic and is safe for concurrent use.
type GeminiCritic struct {
	models  contentGenerator
	model   string
	limiter *rate.Limiter
}

// NewGeminiCritic creates a critic backed by client. rpm limits requests per
// minute; zero disables the limit.
func NewGeminiCritic(client *genai.Client, model string, rpm int) *GeminiCritic {
	return newGeminiCritic(client.Models, model, rpm)
}

func newGeminiCritic(models contentGenerator, model string, rpm int) *GeminiCritic {
	c := &GeminiCritic{models: models, model: CritiqueModelName(model)}
	if rpm > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
	}
	return c
}

// Model returns the critique model in use.
func (c *GeminiCritic) Model() string {
	return c.model
}

// critiqueSchema constrains the critic's reply to the fields we parse.
var critiqueSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"score": {
			Type:        genai.TypeNumber,
			Description: "Overall score from 1 to 10",
		},
		"passed": {
			Type:        genai.TypeBoolean,
			Description: "Whether the study is good enough to move on",
		},
		"issues": {
			Type:        genai.TypeArray,
			Items:       &genai.Schema{Type: genai.TypeString},
			Description: "Critical problems, each a short corrective instruction",
		},
		"summary": {
			Type: genai.TypeString,
		},
	},
	Required: []string{"score", "passed", "issues"},
}

type critiqueResponse struct {
	Score   *float64 `json:"score"`
	Passed  bool     `json:"passed"`
	Issues  []string `json:"issues"`
	Summary string   `json:"summary"`
}

// Critique sends the candidate, the source photo and the prior stage study
// to the critique model and parses its assessment.
func (c *GeminiCritic) Critique(ctx context.Context, req pipeline.CritiqueRequest) (*pipeline.Critique, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, pipeline.NewPortError(pipeline.KindRateLimited, fmt.Errorf("rate limiter: %w", err))
		}
	}

	prompt := assets.RenderCritiquePrompt(assets.CritiquePromptData{
		Index:     req.Stage.Index,
		Total:     req.Stage.Total,
		Name:      req.Stage.Name,
		Focus:     req.Stage.Focus,
		Criteria:  req.Stage.Criteria,
		HasPrior:  req.Prior != nil,
		PassScore: req.Stage.Threshold,
	})

	parts := []*genai.Part{
		{InlineData: &genai.Blob{MIMEType: req.Candidate.MIMEType, Data: req.Candidate.Data}},
		{InlineData: &genai.Blob{MIMEType: req.Source.MIMEType, Data: req.Source.Data}},
	}
	if req.Prior != nil {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: req.Prior.MIMEType, Data: req.Prior.Data}})
	}
	parts = append(parts, &genai.Part{Text: prompt})

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: assets.CritiqueSystemPrompt}},
		},
		ResponseMIMEType: "application/json",
		ResponseSchema:   critiqueSchema,
		Temperature:      genai.Ptr[float32](0.2),
	}

	log.Debug().
		Str("model", c.model).
		Int("stage", req.Stage.Index).
		Int("image_parts", len(parts)-1).
		Msg("Sending study to Gemini for critique")

	start := time.Now()
	resp, err := c.models.GenerateContent(ctx, c.model, []*genai.Content{{Role: "user", Parts: parts}}, config)
	elapsed := time.Since(start)

	m := metrics.New(metrics.Namespace).
		Dimension("Operation", "critique").
		Duration("GeminiApiLatencyMs", elapsed).
		Count("GeminiApiCalls")
	if err != nil {
		m.Count("GeminiApiErrors")
	}
	if resp != nil && resp.UsageMetadata != nil {
		m.Metric("GeminiInputTokens", float64(resp.UsageMetadata.PromptTokenCount), metrics.UnitCount)
		m.Metric("GeminiOutputTokens", float64(resp.UsageMetadata.CandidatesTokenCount), metrics.UnitCount)
	}
	m.Flush()

	if err != nil {
		log.Error().Err(err).Dur("duration", elapsed).Msg("Critique request failed")
		return nil, classifyError(fmt.Errorf("failed to generate critique: %w", err))
	}
	if resp == nil || resp.Text() == "" {
		return nil, pipeline.NewPortError(pipeline.KindServiceError, errors.New("received empty critique from Gemini API"))
	}

	crit, err := ParseCritique(resp.Text(), req.Stage.Threshold)
	if err != nil {
		return nil, pipeline.NewPortError(pipeline.KindServiceError, err)
	}

	log.Debug().
		Int("stage", req.Stage.Index).
		Float64("score", crit.Score).
		Bool("passed", crit.Passed).
		Dur("duration", elapsed).
		Msg("Critique received")
	return crit, nil
}

// defaultHeuristicScore is used when a free-text critique has no score.
const defaultHeuristicScore = 5

var (
	overallScoreRe = regexp.MustCompile(`(?i)overall\s*score[:\s]*(\d+(?:\.\d+)?)`)
	bulletRe       = regexp.MustCompile(`^\s*(?:[-•*]|\d+[.)])\s+(.+)$`)
	criticalRe     = regexp.MustCompile(`(?i)critical\s+issues`)
	verdictRe      = regexp.MustCompile(`(?i)verdict`)
)

// ParseCritique reads a critic reply. JSON replies are preferred; free-text
// replies with an OVERALL SCORE line, a CRITICAL ISSUES list and a PASS or
// FAIL verdict are also understood. A free-text reply without a verdict
// passes when its score reaches passScore. Scores are clamped to 0..10.
func ParseCritique(text string, passScore float64) (*pipeline.Critique, error) {
	parsed, err := jsonutil.ParseJSON[critiqueResponse](text)
	switch {
	case err == nil:
		if parsed.Score == nil {
			return nil, errors.New("critique has no score")
		}
		return &pipeline.Critique{
			Score:   clampScore(*parsed.Score),
			Passed:  parsed.Passed,
			Issues:  cleanIssues(parsed.Issues),
			Summary: strings.TrimSpace(parsed.Summary),
		}, nil
	case errors.Is(err, jsonutil.ErrNoJSON):
		return parseFreeText(text, passScore), nil
	default:
		return nil, fmt.Errorf("critique response: %w", err)
	}
}

func parseFreeText(text string, passScore float64) *pipeline.Critique {
	upper := strings.ToUpper(text)

	score := float64(defaultHeuristicScore)
	if m := overallScoreRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			score = v
		}
	}

	var passed bool
	if passIdx := strings.Index(upper, "PASS"); passIdx >= 0 {
		passed = !strings.Contains(upper[:passIdx], "FAIL")
	} else if !strings.Contains(upper, "FAIL") {
		passed = score >= passScore
	}

	var issues []string
	if loc := criticalRe.FindStringIndex(text); loc != nil {
		section := text[loc[0]:]
		if end := verdictRe.FindStringIndex(section); end != nil {
			section = section[:end[0]]
		}
		for _, line := range strings.Split(section, "\n")[1:] {
			if m := bulletRe.FindStringSubmatch(line); m != nil {
				issues = append(issues, m[1])
			}
		}
	}

	return &pipeline.Critique{
		Score:   clampScore(score),
		Passed:  passed,
		Issues:  cleanIssues(issues),
		Summary: jsonutil.Truncate(strings.TrimSpace(text), 300),
	}
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(10, v))
}

func cleanIssues(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
