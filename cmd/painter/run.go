package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fpang/painting-studio/internal/filehandler"
	"github.com/fpang/painting-studio/internal/pipeline"
	"github.com/fpang/painting-studio/internal/store"
	"github.com/rs/zerolog/log"
)

// publishTimeout bounds uploading a finished session. Publishing runs even
// after the run context is cancelled.
const publishTimeout = 5 * time.Minute

// errRunTimeout is the cancellation cause when a run exceeds its limit.
var errRunTimeout = errors.New("run timeout exceeded")

// runOutcome is what one pipeline run left behind.
type runOutcome struct {
	Photo   string
	Dir     string
	Results *store.Results
	Grids   []string
	Err     error
}

// runPhoto runs the pipeline for one photo and persists the outcome. A
// non-nil outcome is returned whenever a session directory was created,
// including for failed and cancelled runs. Its Results stay nil when the
// session could not be prepared; otherwise a failing run reports its
// *pipeline.PipelineFailure.
func (a *app) runPhoto(ctx context.Context, path, name string) (*runOutcome, error) {
	src, err := filehandler.LoadSourcePhoto(path)
	if err != nil {
		return nil, err
	}
	if name = strings.TrimSpace(name); name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	session, err := store.OpenSession(a.cfg.Output.Dir, name, a.now(), a.cfg.Output.KeepAttempts)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn().Err(err).Str("dir", session.Dir).Msg("Failed to close session")
		}
	}()
	outcome := &runOutcome{Photo: path, Dir: session.Dir}

	if err := session.SaveOriginal(src); err != nil {
		return outcome, err
	}

	ref, err := filehandler.PrepareReference(src.Image, a.cfg.Generation.ReferenceMaxDimension)
	if err != nil {
		return outcome, err
	}
	runSource := src
	runSource.Image = ref

	runCtx := ctx
	if timeout := a.cfg.RunTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeoutCause(ctx, timeout, errRunTimeout)
		defer cancel()
	}

	runner := pipeline.NewRunner(a.gen, a.critic, a.cfg.PipelineConfig(),
		pipeline.WithObserver(newSessionObserver(name, session, a.out)),
		pipeline.WithClock(a.now),
	)
	rec, runErr := runner.Run(runCtx, runSource, a.specs, name)
	if rec == nil {
		return outcome, runErr
	}
	// The record describes the photo as given, not the scaled reference.
	rec.Source.Image = src.Image

	res := store.NewResults(rec, len(a.specs), runErr, session.Dir)
	outcome.Results = res
	if err := session.SaveResults(res); err != nil {
		return outcome, errors.Join(runErr, err)
	}

	if a.cfg.Grid.Enabled && len(rec.Stages) > 0 {
		grids, err := filehandler.GridSession(session.Dir, a.cfg.GridOptions())
		if err != nil {
			log.Warn().Err(err).Str("dir", session.Dir).Msg("Grid overlay failed")
		}
		outcome.Grids = grids
	}

	if len(a.publishers) > 0 {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		if err := a.publishers.Publish(pubCtx, session, res); err != nil {
			log.Error().Err(err).Str("dir", session.Dir).Msg("Publishing failed, the local session is intact")
		}
		if err := session.SaveResults(res); err != nil {
			log.Warn().Err(err).Msg("Failed to record published location")
		}
	}

	return outcome, runErr
}

// describeFailure renders a one-line reason for a run that did not complete.
func describeFailure(res *store.Results) string {
	if res == nil || res.Failure == nil {
		return ""
	}
	f := res.Failure
	if f.Stage == 0 {
		return f.Message
	}
	return fmt.Sprintf("stage %d (%s): %s", f.Stage, f.Name, strings.ReplaceAll(f.Kind, "_", " "))
}
