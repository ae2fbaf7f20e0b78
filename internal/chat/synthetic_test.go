package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"net"
	"testing"

	"github.com/fpang/painting-studio/internal/pipeline"
)

func TestSyntheticGeneratorDeterministic(t *testing.T) {
	source := pipeline.NewImage([]byte("source"), "image/jpeg")
	req := pipeline.GenerateRequest{
		Prompt:      "stage 1",
		References:  []pipeline.Image{source},
		AspectRatio: "4:5",
	}

	gen := SyntheticGenerator{}
	a, err := gen.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	b, _ := gen.Generate(context.Background(), req)
	if a.SHA256 != b.SHA256 {
		t.Error("same request produced different images")
	}

	req.Prompt = "stage 1 with feedback"
	c, _ := gen.Generate(context.Background(), req)
	if c.SHA256 == a.SHA256 {
		t.Error("different prompts produced identical images")
	}

	cfg, err := png.DecodeConfig(bytes.NewReader(a.Data))
	if err != nil {
		t.Fatalf("synthetic image is not a PNG: %v", err)
	}
	if cfg.Width != 256 || cfg.Height != 320 {
		t.Errorf("size = %dx%d, want 256x320 for 4:5", cfg.Width, cfg.Height)
	}
}

func TestSyntheticCriticDeterministic(t *testing.T) {
	critic := SyntheticCritic{}
	stage := pipeline.StageContext{Index: 1, Name: "Block-in", Criteria: []string{"Big shapes", "Value groups"}, Threshold: 7}

	for i := 0; i < 20; i++ {
		req := pipeline.CritiqueRequest{
			Candidate: pipeline.NewImage([]byte(fmt.Sprintf("candidate-%d", i)), "image/png"),
			Stage:     stage,
		}
		first, err := critic.Critique(context.Background(), req)
		if err != nil {
			t.Fatalf("Critique() error = %v", err)
		}
		second, _ := critic.Critique(context.Background(), req)
		if first.Score != second.Score || first.Passed != second.Passed {
			t.Errorf("candidate %d scored %v then %v", i, first.Score, second.Score)
		}
		if first.Score < 4 || first.Score > 9 {
			t.Errorf("score %v out of range", first.Score)
		}
		if first.Passed != (first.Score >= stage.Threshold) {
			t.Errorf("Passed = %v for score %v", first.Passed, first.Score)
		}
		if !first.Passed && len(first.Issues) == 0 {
			t.Error("failing critique has no issues")
		}
	}
}

func TestAspectDimensions(t *testing.T) {
	tests := []struct {
		aspect string
		w, h   int
	}{
		{"4:5", 200, 250},
		{"16:9", 160, 90},
		{"1:1", 200, 200},
		{"bogus", 200, 250},
	}
	for _, tt := range tests {
		w, h := aspectDimensions(tt.aspect, tt.w)
		if w != tt.w || h != tt.h {
			t.Errorf("aspectDimensions(%q) = %dx%d, want %dx%d", tt.aspect, w, h, tt.w, tt.h)
		}
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string { return "i/o timeout" }
func (timeoutErr) Timeout() bool { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want pipeline.ErrorKind
	}{
		{"port error kept", pipeline.NewPortError(pipeline.KindPolicyRejected, errors.New("x")), pipeline.KindPolicyRejected},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), pipeline.KindTimeout},
		{"net timeout", fmt.Errorf("dial: %w", timeoutErr{}), pipeline.KindTimeout},
		{"unknown", errors.New("connection reset"), pipeline.KindServiceError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pipeline.Classify(classifyError(tt.err)); got != tt.want {
				t.Errorf("kind = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := map[int]pipeline.ErrorKind{
		429: pipeline.KindRateLimited,
		408: pipeline.KindTimeout,
		504: pipeline.KindTimeout,
		500: pipeline.KindServiceError,
		503: pipeline.KindServiceError,
		400: pipeline.KindInvalidInput,
		403: pipeline.KindInvalidInput,
		413: pipeline.KindInvalidInput,
		418: pipeline.KindServiceError,
	}
	for code, want := range tests {
		if got := classifyStatus(code); got != want {
			t.Errorf("classifyStatus(%d) = %q, want %q", code, got, want)
		}
	}
}
