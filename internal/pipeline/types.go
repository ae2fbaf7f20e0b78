// Package pipeline runs the staged generate/critique/retry loop that turns a
// single source photo into a progressive series of painting studies.
//
// The package owns no I/O of its own. Image generation and critique are
// reached through the ImageGenerator and Critic ports, and the caller
// persists the returned RunRecord.
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Image is an encoded image held in memory. Only the digest and MIME type
// are serialized; the bytes are written separately by the output sinks.
//
// Signature is an opaque token a generator may attach to its output. When
// the image is later passed back as a reference the generator can return
// the token to the model for editing continuity.
type Image struct {
	Data      []byte `json:"-"`
	MIMEType  string `json:"mime_type"`
	SHA256    string `json:"sha256"`
	Signature string `json:"-"`
}

// NewImage wraps raw bytes and computes their content digest.
func NewImage(data []byte, mimeType string) Image {
	sum := sha256.Sum256(data)
	return Image{
		Data:     data,
		MIMEType: mimeType,
		SHA256:   hex.EncodeToString(sum[:]),
	}
}

// SourcePhoto is the immutable input to a run.
type SourcePhoto struct {
	Image   Image     `json:"image"`
	Path    string    `json:"path,omitempty"`
	Width   int       `json:"width,omitempty"`
	Height  int       `json:"height,omitempty"`
	Camera  string    `json:"camera,omitempty"`
	TakenAt time.Time `json:"taken_at,omitempty"`
}

// PromptBuilder renders the generation prompt for one attempt. hasPrior
// reports whether a previous stage image is supplied as a reference, and
// issues holds the previous attempt's critique issues (empty on attempt 1).
// Implementations must be deterministic.
type PromptBuilder func(spec StageSpec, hasPrior bool, issues []string) string

// StageSpec is the static descriptor for one stage of the series.
type StageSpec struct {
	Index     int
	Name      string
	Focus     string
	Criteria  []string
	Threshold float64
	Prompt    PromptBuilder
}

// Critique is the structured assessment of one candidate image.
type Critique struct {
	Score   float64  `json:"score"`
	Passed  bool     `json:"passed"`
	Issues  []string `json:"issues,omitempty"`
	Summary string   `json:"summary,omitempty"`
}

// AttemptFailure records why an attempt produced no image or no critique.
type AttemptFailure struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Attempt is one generation plus critique cycle within a stage.
type Attempt struct {
	Number   int             `json:"number"`
	Prompt   string          `json:"prompt"`
	Image    *Image          `json:"image,omitempty"`
	Critique *Critique       `json:"critique,omitempty"`
	Failure  *AttemptFailure `json:"failure,omitempty"`
	Selected bool            `json:"selected"`
}

// Scored reports whether the attempt produced both an image and a critique.
func (a Attempt) Scored() bool {
	return a.Image != nil && a.Critique != nil
}

// StageState is the lifecycle state of a stage.
type StageState int

const (
	StateAttempting StageState = iota
	StateAccepted
	StateBestEffortAccepted
	StateExhausted
	StateAborted
)

var stageStateNames = map[StageState]string{
	StateAttempting:         "attempting",
	StateAccepted:           "accepted",
	StateBestEffortAccepted: "best_effort_accepted",
	StateExhausted:          "exhausted",
	StateAborted:            "aborted",
}

func (s StageState) String() string {
	if name, ok := stageStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the state by name so persisted records stay readable.
func (s StageState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name written by MarshalText.
func (s *StageState) UnmarshalText(text []byte) error {
	for state, name := range stageStateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown stage state %q", text)
}

// Done reports whether the stage produced an accepted image.
func (s StageState) Done() bool {
	return s == StateAccepted || s == StateBestEffortAccepted
}

// StageResult is the outcome of one stage.
type StageResult struct {
	Index         int        `json:"index"`
	Name          string     `json:"name"`
	State         StageState `json:"state"`
	Attempts      []Attempt  `json:"attempts"`
	AcceptedIndex int        `json:"accepted_index"`
	BestEffort    bool       `json:"best_effort"`
}

// Accepted returns the accepted attempt, or nil when the stage has none.
func (r *StageResult) Accepted() *Attempt {
	if r == nil || r.AcceptedIndex < 0 || r.AcceptedIndex >= len(r.Attempts) {
		return nil
	}
	return &r.Attempts[r.AcceptedIndex]
}

// AcceptedImage returns the image of the accepted attempt, or nil.
func (r *StageResult) AcceptedImage() *Image {
	if a := r.Accepted(); a != nil {
		return a.Image
	}
	return nil
}

// RunStatus describes whether a run finished.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunComplete  RunStatus = "complete"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// RunRecord is the ordered, append-only outcome of a run.
type RunRecord struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	Status     RunStatus     `json:"status"`
	Source     SourcePhoto   `json:"source"`
	Stages     []StageResult `json:"stages"`
}

// Complete reports whether every stage of the run finished.
func (r *RunRecord) Complete() bool {
	return r.Status == RunComplete
}

// Stage returns the completed stage with the given index, or nil.
func (r *RunRecord) Stage(index int) *StageResult {
	for i := range r.Stages {
		if r.Stages[i].Index == index {
			return &r.Stages[i]
		}
	}
	return nil
}

func (r *RunRecord) appendStage(result StageResult) {
	r.Stages = append(r.Stages, result)
}

// RunSummary aggregates the run for reports and results files.
type RunSummary struct {
	StagesPassed     int     `json:"stages_passed"`
	StagesBestEffort int     `json:"stages_best_effort"`
	StagesCompleted  int     `json:"stages_completed"`
	StagesTotal      int     `json:"stages_total"`
	AverageScore     float64 `json:"average_score"`
	TotalAttempts    int     `json:"total_attempts"`
}

// Summary computes aggregate figures over the completed stages. total is
// the number of stages the run was asked to perform.
func (r *RunRecord) Summary(total int) RunSummary {
	s := RunSummary{StagesTotal: total, StagesCompleted: len(r.Stages)}
	var scoreSum float64
	var scored int
	for _, stage := range r.Stages {
		s.TotalAttempts += len(stage.Attempts)
		switch stage.State {
		case StateAccepted:
			s.StagesPassed++
		case StateBestEffortAccepted:
			s.StagesBestEffort++
		}
		if a := stage.Accepted(); a != nil && a.Critique != nil {
			scoreSum += a.Critique.Score
			scored++
		}
	}
	if scored > 0 {
		s.AverageScore = scoreSum / float64(scored)
	}
	return s
}
