package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
)

// RunStage runs the generate, critique, accept-or-retry loop for one stage.
// prior is the accepted image of the previous stage and is nil for the first
// stage. total is the number of stages in the run, passed to the critic as
// context.
//
// The first attempt whose critique passes, or whose score reaches the stage
// threshold, is accepted. When no attempt qualifies the highest scoring
// attempt that produced an image is accepted as best effort. The returned
// StageResult is non-nil even when an error is returned.
func (r *Runner) RunStage(ctx context.Context, spec StageSpec, total int, prior *Image, source SourcePhoto) (*StageResult, error) {
	result := &StageResult{
		Index:         spec.Index,
		Name:          spec.Name,
		State:         StateAttempting,
		AcceptedIndex: -1,
	}

	var issues []string
	backoff := r.cfg.RetryBackoff

	for n := 1; n <= r.cfg.MaxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return result, stageError(Cancelled, spec, result, context.Cause(ctx))
		}

		attempt := Attempt{
			Number: n,
			Prompt: spec.Prompt(spec, prior != nil, issues),
		}
		log.Debug().
			Int("stage", spec.Index).
			Int("attempt", n).
			Int("feedback_issues", len(issues)).
			Msg("Starting stage attempt")
		issues = nil

		img, err := r.generate(ctx, attempt.Prompt, prior, source)
		if err != nil {
			kind := Classify(err)
			attempt.Failure = &AttemptFailure{Kind: kind, Message: err.Error()}
			r.record(spec, result, attempt)

			if !kind.Transient() {
				log.Warn().Err(err).
					Int("stage", spec.Index).
					Int("attempt", n).
					Str("kind", string(kind)).
					Msg("Image generation rejected, aborting stage")
				result.State = StateAborted
				return result, stageError(GenerationFailure, spec, result, err)
			}

			log.Warn().Err(err).
				Int("stage", spec.Index).
				Int("attempt", n).
				Str("kind", string(kind)).
				Msg("Image generation failed, will retry")
			if n < r.cfg.MaxAttempts {
				if err := r.pause(ctx, backoff); err != nil {
					return result, stageError(Cancelled, spec, result, err)
				}
				backoff = r.nextBackoff(backoff)
			}
			continue
		}
		attempt.Image = img

		crit, err := r.critique(ctx, spec, total, *img, prior, source)
		if err != nil {
			attempt.Failure = &AttemptFailure{Kind: Classify(err), Message: err.Error()}
			r.record(spec, result, attempt)

			log.Warn().Err(err).
				Int("stage", spec.Index).
				Int("attempt", n).
				Msg("Critique failed, candidate kept unscored")
			if n < r.cfg.MaxAttempts {
				if err := r.pause(ctx, backoff); err != nil {
					return result, stageError(Cancelled, spec, result, err)
				}
				backoff = r.nextBackoff(backoff)
			}
			continue
		}
		attempt.Critique = crit
		issues = crit.Issues
		backoff = r.cfg.RetryBackoff
		r.record(spec, result, attempt)

		log.Info().
			Int("stage", spec.Index).
			Int("attempt", n).
			Float64("score", crit.Score).
			Bool("passed", crit.Passed).
			Int("issues", len(crit.Issues)).
			Msg("Candidate critiqued")

		if crit.Passed || crit.Score >= spec.Threshold {
			result.accept(len(result.Attempts)-1, false)
			return result, nil
		}
	}

	best := selectBest(result.Attempts)
	if best < 0 {
		result.State = StateExhausted
		return result, stageError(StageExhausted, spec, result,
			fmt.Errorf("no image produced in %d attempt(s)", len(result.Attempts)))
	}

	result.accept(best, true)
	log.Warn().
		Int("stage", spec.Index).
		Int("accepted_attempt", result.Attempts[best].Number).
		Msg("No attempt met the threshold, accepting best effort")
	return result, nil
}

func (r *Runner) record(spec StageSpec, result *StageResult, attempt Attempt) {
	result.Attempts = append(result.Attempts, attempt)
	r.observer.AttemptFinished(spec, attempt)
}

func (r *StageResult) accept(idx int, bestEffort bool) {
	r.Attempts[idx].Selected = true
	r.AcceptedIndex = idx
	r.BestEffort = bestEffort
	if bestEffort {
		r.State = StateBestEffortAccepted
	} else {
		r.State = StateAccepted
	}
}

// selectBest returns the index of the highest scoring attempt that produced
// an image, preferring the earliest on ties. Attempts whose critique failed,
// or whose score is NaN, rank below every scored attempt. It returns -1 when
// no attempt has an image.
func selectBest(attempts []Attempt) int {
	best := -1
	for i, a := range attempts {
		if a.Image == nil {
			continue
		}
		if best < 0 || outranks(a, attempts[best]) {
			best = i
		}
	}
	return best
}

func outranks(a, b Attempt) bool {
	aScored, bScored := hasScore(a), hasScore(b)
	switch {
	case !aScored:
		return false
	case !bScored:
		return true
	default:
		return a.Critique.Score > b.Critique.Score
	}
}

func hasScore(a Attempt) bool {
	return a.Critique != nil && !math.IsNaN(a.Critique.Score)
}

// generate calls the image port on a context that survives run cancellation
// but is bounded by the call timeout, so an attempt is always recorded whole.
func (r *Runner) generate(ctx context.Context, prompt string, prior *Image, source SourcePhoto) (*Image, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.CallTimeout)
	defer cancel()

	refs := make([]Image, 0, 2)
	if prior != nil {
		refs = append(refs, *prior)
	}
	refs = append(refs, source.Image)

	img, err := r.gen.Generate(callCtx, GenerateRequest{
		Prompt:      prompt,
		References:  refs,
		ImageSize:   r.cfg.ImageSize,
		AspectRatio: r.cfg.AspectRatio,
	})
	if err != nil {
		if callCtx.Err() != nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, NewPortError(KindTimeout, err)
		}
		return nil, err
	}
	if img == nil || len(img.Data) == 0 {
		return nil, NewPortError(KindServiceError, errors.New("generator returned no image"))
	}
	if img.SHA256 == "" {
		withSum := NewImage(img.Data, img.MIMEType)
		withSum.Signature = img.Signature
		img = &withSum
	}
	return img, nil
}

func (r *Runner) critique(ctx context.Context, spec StageSpec, total int, candidate Image, prior *Image, source SourcePhoto) (*Critique, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.CritiqueTimeout)
	defer cancel()

	crit, err := r.critic.Critique(callCtx, CritiqueRequest{
		Candidate: candidate,
		Source:    source.Image,
		Prior:     prior,
		Stage: StageContext{
			Index:     spec.Index,
			Total:     total,
			Name:      spec.Name,
			Focus:     spec.Focus,
			Criteria:  spec.Criteria,
			Threshold: spec.Threshold,
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, NewPortError(KindTimeout, err)
		}
		return nil, err
	}
	if crit == nil {
		return nil, NewPortError(KindServiceError, errors.New("critic returned no assessment"))
	}
	if math.IsNaN(crit.Score) {
		return nil, NewPortError(KindServiceError, errors.New("critic returned a NaN score"))
	}
	return crit, nil
}

// pause waits for d after a transient failure. Cancellation during the wait
// is reported so the stage can stop at this safe point.
func (r *Runner) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-timer.C:
		return nil
	}
}

func (r *Runner) nextBackoff(d time.Duration) time.Duration {
	next := d * 2
	if next > r.cfg.MaxBackoff {
		next = r.cfg.MaxBackoff
	}
	return next
}

func stageError(kind StageErrorKind, spec StageSpec, result *StageResult, err error) *StageError {
	return &StageError{
		Kind:   kind,
		Stage:  spec.Index,
		Name:   spec.Name,
		Result: result,
		Err:    err,
	}
}
