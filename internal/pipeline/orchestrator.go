package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Runner drives the stages of a run against a generator and a critic.
// A Runner holds no per-run state, so concurrent Run calls are safe as long
// as the ports are.
type Runner struct {
	gen      ImageGenerator
	critic   Critic
	cfg      Config
	observer Observer
	now      func() time.Time
	newID    func() string
}

// Option customises a Runner.
type Option func(*Runner)

// WithObserver registers progress observers. Nil observers are ignored.
func WithObserver(obs ...Observer) Option {
	return func(r *Runner) {
		var set Observers
		for _, o := range obs {
			if o != nil {
				set = append(set, o)
			}
		}
		switch len(set) {
		case 0:
			r.observer = NopObserver{}
		case 1:
			r.observer = set[0]
		default:
			r.observer = set
		}
	}
}

// WithClock replaces the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithIDGenerator replaces the run ID generator.
func WithIDGenerator(newID func() string) Option {
	return func(r *Runner) { r.newID = newID }
}

// NewRunner creates a Runner. Zero fields in cfg take their defaults.
func NewRunner(gen ImageGenerator, critic Critic, cfg Config, opts ...Option) *Runner {
	r := &Runner{
		gen:      gen,
		critic:   critic,
		cfg:      cfg.withDefaults(),
		observer: NopObserver{},
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the effective configuration.
func (r *Runner) Config() Config {
	return r.cfg
}

// Run executes the stages in order, feeding each accepted image into the
// next stage. On success the record is complete. When a stage fails or ctx
// is cancelled, Run returns the record of completed stages together with a
// *PipelineFailure carrying the same record.
func (r *Runner) Run(ctx context.Context, source SourcePhoto, specs []StageSpec, name string) (*RunRecord, error) {
	if err := ValidateSpecs(specs); err != nil {
		return nil, err
	}

	rec := &RunRecord{
		ID:        r.newID(),
		Name:      name,
		StartedAt: r.now().UTC(),
		Status:    RunRunning,
		Source:    source,
	}
	r.observer.RunStarted(rec, len(specs))

	log.Info().
		Str("run_id", rec.ID).
		Str("name", name).
		Int("stages", len(specs)).
		Int("max_attempts", r.cfg.MaxAttempts).
		Msg("Starting painting study run")

	var prior *Image
	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return r.fail(rec, &StageError{
				Kind:  Cancelled,
				Stage: spec.Index,
				Name:  spec.Name,
				Err:   context.Cause(ctx),
			})
		}

		start := time.Now()
		result, err := r.RunStage(ctx, spec, len(specs), prior, source)
		if err != nil {
			var se *StageError
			if !errors.As(err, &se) {
				se = stageError(GenerationFailure, spec, result, err)
			}
			return r.fail(rec, se)
		}

		rec.appendStage(*result)
		r.observer.StageFinished(rec, *result)
		prior = result.AcceptedImage()

		log.Info().
			Int("stage", spec.Index).
			Str("name", spec.Name).
			Str("state", result.State.String()).
			Int("attempts", len(result.Attempts)).
			Dur("duration", time.Since(start)).
			Msg("Stage complete")
	}

	rec.Status = RunComplete
	rec.FinishedAt = r.now().UTC()
	r.observer.RunFinished(rec, nil)
	return rec, nil
}

func (r *Runner) fail(rec *RunRecord, se *StageError) (*RunRecord, error) {
	if se.Kind == Cancelled {
		rec.Status = RunCancelled
	} else {
		rec.Status = RunFailed
	}
	rec.FinishedAt = r.now().UTC()

	failure := &PipelineFailure{Record: rec, Stage: se}
	r.observer.StageFailed(rec, se)
	r.observer.RunFinished(rec, failure)

	log.Error().
		Err(se).
		Str("run_id", rec.ID).
		Int("completed_stages", len(rec.Stages)).
		Str("status", string(rec.Status)).
		Msg("Run stopped")
	return rec, failure
}

// ValidateSpecs checks that stages are numbered 1..n in order and are runnable.
func ValidateSpecs(specs []StageSpec) error {
	if len(specs) == 0 {
		return fmt.Errorf("%w: no stages", ErrInvalidStages)
	}
	for i, spec := range specs {
		if spec.Index != i+1 {
			return fmt.Errorf("%w: stage at position %d has index %d", ErrInvalidStages, i+1, spec.Index)
		}
		if spec.Prompt == nil {
			return fmt.Errorf("%w: stage %d has no prompt builder", ErrInvalidStages, spec.Index)
		}
		if spec.Threshold < 0 || math.IsNaN(spec.Threshold) {
			return fmt.Errorf("%w: stage %d threshold must be zero or positive", ErrInvalidStages, spec.Index)
		}
	}
	return nil
}
