package pipeline

import "context"

// GenerateRequest is the input to one image generation call. References are
// ordered: the previous stage image (when present) precedes the source photo.
type GenerateRequest struct {
	Prompt      string
	References  []Image
	ImageSize   string
	AspectRatio string
}

// ImageGenerator produces a candidate image from a prompt and references.
// Failures should be reported as *PortError so the controller can tell
// transient failures from fatal ones.
type ImageGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (*Image, error)
}

// StageContext tells the critic which stage a candidate belongs to.
type StageContext struct {
	Index     int
	Total     int
	Name      string
	Focus     string
	Criteria  []string
	Threshold float64
}

// CritiqueRequest is the input to one critique call. Prior is nil for the
// first stage.
type CritiqueRequest struct {
	Candidate Image
	Source    Image
	Prior     *Image
	Stage     StageContext
}

// Critic scores a candidate image against the stage criteria.
type Critic interface {
	Critique(ctx context.Context, req CritiqueRequest) (*Critique, error)
}
