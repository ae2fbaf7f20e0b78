package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a port failure.
type ErrorKind string

const (
	KindRateLimited    ErrorKind = "rate_limited"
	KindTimeout        ErrorKind = "timeout"
	KindServiceError   ErrorKind = "service_error"
	KindInvalidInput   ErrorKind = "invalid_input"
	KindPolicyRejected ErrorKind = "policy_rejected"
)

// Transient reports whether a failure of this kind may succeed on retry.
func (k ErrorKind) Transient() bool {
	switch k {
	case KindInvalidInput, KindPolicyRejected:
		return false
	default:
		return true
	}
}

// PortError is returned by ImageGenerator and Critic implementations.
type PortError struct {
	Kind ErrorKind
	Err  error
}

func (e *PortError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *PortError) Unwrap() error {
	return e.Err
}

// NewPortError wraps err with a failure kind.
func NewPortError(kind ErrorKind, err error) error {
	return &PortError{Kind: kind, Err: err}
}

// Classify returns the failure kind of a port error. Deadline expiry is a
// timeout and anything unrecognised is treated as a transient service error.
func Classify(err error) ErrorKind {
	var pe *PortError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindServiceError
}

// StageErrorKind identifies why a stage could not produce an accepted image.
type StageErrorKind string

const (
	GenerationFailure StageErrorKind = "generation_failure"
	StageExhausted    StageErrorKind = "stage_exhausted"
	Cancelled         StageErrorKind = "cancelled"
)

var (
	// ErrGenerationFailure matches any StageError of kind GenerationFailure.
	ErrGenerationFailure = errors.New("generation failure")
	// ErrStageExhausted matches any StageError of kind StageExhausted.
	ErrStageExhausted = errors.New("stage exhausted")
	// ErrInvalidStages is returned when the stage list cannot be run.
	ErrInvalidStages = errors.New("invalid stage specs")
)

// StageError is a stage-fatal error. Result holds the attempts made before
// the stage gave up and is never part of RunRecord.Stages.
type StageError struct {
	Kind   StageErrorKind
	Stage  int
	Name   string
	Result *StageResult
	Err    error
}

func (e *StageError) Error() string {
	msg := fmt.Sprintf("stage %d (%s): %s", e.Stage, e.Name, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match StageErrors against the kind sentinels.
func (e *StageError) Is(target error) bool {
	switch target {
	case ErrGenerationFailure:
		return e.Kind == GenerationFailure
	case ErrStageExhausted:
		return e.Kind == StageExhausted
	}
	return false
}

// PipelineFailure stops a run. Record holds every stage completed before the
// failure; Stage describes the failing stage.
type PipelineFailure struct {
	Record *RunRecord
	Stage  *StageError
}

func (e *PipelineFailure) Error() string {
	return fmt.Sprintf("pipeline stopped after %d completed stage(s): %v", len(e.Record.Stages), e.Stage)
}

func (e *PipelineFailure) Unwrap() error {
	return e.Stage
}
