package chat

// gemini_image.go provides a REST API client for Gemini image generation.
// Direct HTTP calls are used because imageConfig (aspect ratio and output
// size) must reach the image model exactly as documented for the REST API.

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fpang/painting-studio/internal/jsonutil"
	"github.com/fpang/painting-studio/internal/metrics"
	"github.com/fpang/painting-studio/internal/pipeline"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// geminiBaseURL is the Gemini REST API base URL.
const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiImageClient calls a Gemini image model via REST API. It implements
// pipeline.ImageGenerator and is safe for concurrent use.
type GeminiImageClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// ImageClientOption customises a GeminiImageClient.
type ImageClientOption func(*GeminiImageClient)

// WithImageModel selects the image model.
func WithImageModel(model string) ImageClientOption {
	return func(c *GeminiImageClient) { c.model = model }
}

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(url string) ImageClientOption {
	return func(c *GeminiImageClient) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) ImageClientOption {
	return func(c *GeminiImageClient) { c.httpClient = hc }
}

// WithRequestsPerMinute limits outgoing calls. Zero disables the limit.
func WithRequestsPerMinute(rpm int) ImageClientOption {
	return func(c *GeminiImageClient) {
		if rpm > 0 {
			c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
		} else {
			c.limiter = nil
		}
	}
}

// NewGeminiImageClient creates a new client for Gemini image generation.
func NewGeminiImageClient(apiKey string, opts ...ImageClientOption) *GeminiImageClient {
	c := &GeminiImageClient{
		apiKey:  apiKey,
		model:   DefaultImageModel,
		baseURL: geminiBaseURL,
		httpClient: &http.Client{
			// Upper bound only; the pipeline's per-call timeout normally fires first.
			Timeout: 10 * time.Minute,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the image model in use.
func (c *GeminiImageClient) Model() string {
	return c.model
}

// --- REST API request/response types ---

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string          `json:"text,omitempty"`
	InlineData       *geminiBlobData `json:"inlineData,omitempty"`
	Thought          bool            `json:"thought,omitempty"`
	ThoughtSignature string          `json:"thoughtSignature,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string           `json:"responseModalities,omitempty"`
	ImageConfig        *geminiImageConfig `json:"imageConfig,omitempty"`
}

type geminiImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	ImageSize   string `json:"imageSize,omitempty"`
}

type geminiBlobData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64 encoded
}

type geminiResponse struct {
	Candidates     []geminiCandidate     `json:"candidates"`
	PromptFeedback *geminiPromptFeedback `json:"promptFeedback,omitempty"`
	Error          *geminiError          `json:"error,omitempty"`
}

type geminiCandidate struct {
	Content          geminiContent `json:"content"`
	FinishReason     string        `json:"finishReason,omitempty"`
	FinishMessage    string        `json:"finishMessage,omitempty"`
	ThoughtSignature string        `json:"thoughtSignature,omitempty"`
}

type geminiPromptFeedback struct {
	BlockReason        string `json:"blockReason,omitempty"`
	BlockReasonMessage string `json:"blockReasonMessage,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type geminiErrorEnvelope struct {
	Error geminiError `json:"error"`
}

// Generate sends the prompt and reference images to the image model and
// returns the generated image. Failures are reported as *pipeline.PortError.
func (c *GeminiImageClient) Generate(ctx context.Context, req pipeline.GenerateRequest) (*pipeline.Image, error) {
	startTime := time.Now()
	img, err := c.generate(ctx, req)

	m := metrics.New(metrics.Namespace).
		Dimension("Operation", "generate").
		Duration("GeminiApiLatencyMs", time.Since(startTime)).
		Count("GeminiApiCalls")
	if err != nil {
		m.Count("GeminiApiErrors").Property("errorKind", string(pipeline.Classify(err)))
	} else {
		m.Metric("GeneratedImageBytes", float64(len(img.Data)), metrics.UnitBytes)
	}
	m.Flush()

	return img, err
}

func (c *GeminiImageClient) generate(ctx context.Context, req pipeline.GenerateRequest) (*pipeline.Image, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, pipeline.NewPortError(pipeline.KindInvalidInput, errors.New("empty prompt"))
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, pipeline.NewPortError(pipeline.KindRateLimited, fmt.Errorf("rate limiter: %w", err))
		}
	}

	refBytes, signed := 0, 0
	parts := make([]geminiPart, 0, len(req.References)+1)
	for _, ref := range req.References {
		refBytes += len(ref.Data)
		if ref.Signature != "" {
			signed++
		}
		parts = append(parts, geminiPart{
			InlineData: &geminiBlobData{
				MIMEType: ref.MIMEType,
				Data:     base64.StdEncoding.EncodeToString(ref.Data),
			},
			ThoughtSignature: ref.Signature,
		})
	}
	parts = append(parts, geminiPart{Text: req.Prompt})

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: &geminiGenerationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
			ImageConfig: &geminiImageConfig{
				AspectRatio: req.AspectRatio,
				ImageSize:   req.ImageSize,
			},
		},
	})
	if err != nil {
		return nil, pipeline.NewPortError(pipeline.KindInvalidInput, fmt.Errorf("failed to marshal request: %w", err))
	}

	log.Debug().
		Str("model", c.model).
		Int("references", len(req.References)).
		Int("reference_bytes", refBytes).
		Int("signed_references", signed).
		Int("prompt_length", len(req.Prompt)).
		Str("aspect_ratio", req.AspectRatio).
		Str("image_size", req.ImageSize).
		Msg("Sending generation request to Gemini")

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, pipeline.NewPortError(pipeline.KindInvalidInput, fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyError(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		log.Error().
			Int("status", resp.StatusCode).
			Str("body", jsonutil.Truncate(string(respBody), 500)).
			Msg("Gemini image API returned error")
		return nil, statusError(resp.StatusCode, respBody)
	}

	var geminiResp geminiResponse
	if err := json.Unmarshal(respBody, &geminiResp); err != nil {
		return nil, pipeline.NewPortError(pipeline.KindServiceError, fmt.Errorf("failed to parse response: %w", err))
	}
	if geminiResp.Error != nil {
		return nil, pipeline.NewPortError(
			classifyAPIError(geminiResp.Error.Code, geminiResp.Error.Status, geminiResp.Error.Message),
			fmt.Errorf("API error: %s (code: %d)", geminiResp.Error.Message, geminiResp.Error.Code))
	}

	return extractImage(&geminiResp)
}

// extractImage returns the last non-thought image part of the response.
// Thinking image models may emit draft images flagged as thoughts first.
// The thought signature of that part, or of its candidate, is kept on the
// returned image.
func extractImage(resp *geminiResponse) (*pipeline.Image, error) {
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return nil, policyRejection(fb.BlockReason, fb.BlockReasonMessage)
	}

	var data []byte
	var mimeType, signature, text, finish, finishMsg string
	for _, candidate := range resp.Candidates {
		if candidate.FinishReason != "" {
			finish = candidate.FinishReason
			finishMsg = candidate.FinishMessage
		}
		for _, part := range candidate.Content.Parts {
			if part.Thought {
				continue
			}
			if part.InlineData != nil {
				decoded, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					return nil, pipeline.NewPortError(pipeline.KindServiceError, fmt.Errorf("failed to decode image data: %w", err))
				}
				data = decoded
				mimeType = part.InlineData.MIMEType
				signature = part.ThoughtSignature
				if signature == "" {
					signature = candidate.ThoughtSignature
				}
			}
			if part.Text != "" {
				text += part.Text
			}
		}
	}

	if data == nil {
		if blockedFinishReasons[finish] {
			return nil, policyRejection(finish, finishMsg)
		}
		return nil, pipeline.NewPortError(pipeline.KindServiceError,
			fmt.Errorf("no image returned in response (finish: %s, text: %s)", finish, jsonutil.Truncate(text, 200)))
	}

	img := pipeline.NewImage(data, mimeType)
	img.Signature = signature
	log.Debug().
		Int("output_bytes", len(data)).
		Str("output_mime", mimeType).
		Bool("signed", signature != "").
		Msg("Gemini image generation complete")
	return &img, nil
}

func statusError(code int, body []byte) error {
	msg := jsonutil.Truncate(string(body), 200)
	status := ""
	var env geminiErrorEnvelope
	if json.Unmarshal(body, &env) == nil && env.Error.Message != "" {
		msg = env.Error.Message
		status = env.Error.Status
	}
	return pipeline.NewPortError(classifyAPIError(code, status, msg),
		fmt.Errorf("API returned status %d: %s", code, msg))
}
