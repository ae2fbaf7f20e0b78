package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fpang/painting-studio/internal/cli"
	"github.com/fpang/painting-studio/internal/metrics"
	"github.com/fpang/painting-studio/internal/pipeline"
	"github.com/fpang/painting-studio/internal/store"
	"github.com/rs/zerolog/log"
)

// outMu serializes progress lines from concurrent batch runs.
var outMu sync.Mutex

// sessionObserver prints progress, writes stage images into the session as
// each stage finishes, and emits per-stage metrics.
type sessionObserver struct {
	label   string
	session *store.LocalSession
	out     io.Writer
	total   int

	stageStart time.Time
	runStart   time.Time
}

var _ pipeline.Observer = (*sessionObserver)(nil)

func newSessionObserver(label string, session *store.LocalSession, out io.Writer) *sessionObserver {
	return &sessionObserver{label: label, session: session, out: out}
}

func (o *sessionObserver) printf(format string, args ...any) {
	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintf(o.out, "[%s] "+format+"\n", append([]any{o.label}, args...)...)
}

// RunStarted implements pipeline.Observer.
func (o *sessionObserver) RunStarted(rec *pipeline.RunRecord, total int) {
	o.total = total
	o.runStart = time.Now()
	o.stageStart = o.runStart
	o.printf("Run %s started: %d stages", rec.ID, total)
}

// AttemptFinished implements pipeline.Observer.
func (o *sessionObserver) AttemptFinished(spec pipeline.StageSpec, attempt pipeline.Attempt) {
	switch {
	case attempt.Failure != nil:
		o.printf("  %d/%d %s attempt %d failed: %s", spec.Index, o.total, spec.Name, attempt.Number, attempt.Failure.Kind)
	case attempt.Critique != nil:
		verdict := "below threshold"
		if attempt.Critique.Passed || attempt.Critique.Score >= spec.Threshold {
			verdict = "passed"
		}
		o.printf("  %d/%d %s attempt %d scored %s (%s)", spec.Index, o.total, spec.Name, attempt.Number,
			cli.FormatScore(attempt.Critique.Score, true), verdict)
	}
}

// StageFinished implements pipeline.Observer.
func (o *sessionObserver) StageFinished(rec *pipeline.RunRecord, result pipeline.StageResult) {
	elapsed := time.Since(o.stageStart)
	o.stageStart = time.Now()

	if err := o.session.SaveStage(&result); err != nil {
		log.Error().Err(err).Int("stage", result.Index).Msg("Failed to save stage images")
	}
	if err := o.session.SaveResults(store.NewResults(rec, o.total, nil, o.session.Dir)); err != nil {
		log.Warn().Err(err).Msg("Failed to save results snapshot")
	}

	score, scored := acceptedScore(&result)
	note := ""
	if result.BestEffort {
		note = " (best effort)"
	}
	o.printf("Stage %d/%d %s accepted attempt %d, score %s%s, %s", result.Index, o.total, result.Name,
		result.AcceptedIndex+1, cli.FormatScore(score, scored), note, cli.FormatDurationShort(elapsed))

	m := metrics.New(metrics.Namespace).
		Dimension("Stage", result.Name).
		Metric("Attempts", float64(len(result.Attempts)), metrics.UnitCount).
		Duration("StageDuration", elapsed).
		Property("run_id", rec.ID).
		Property("state", result.State.String())
	if scored {
		m.Metric("Score", score, metrics.UnitNone)
	}
	if result.BestEffort {
		m.Count("StageBestEffort")
	} else {
		m.Count("StagePassed")
	}
	m.Flush()
}

// StageFailed implements pipeline.Observer.
func (o *sessionObserver) StageFailed(rec *pipeline.RunRecord, se *pipeline.StageError) {
	if se.Result != nil {
		if err := o.session.SaveStage(se.Result); err != nil {
			log.Error().Err(err).Int("stage", se.Stage).Msg("Failed to save attempts of failed stage")
		}
	}
	o.printf("Stage %d/%d %s stopped: %s", se.Stage, o.total, se.Name, se.Kind)

	metrics.New(metrics.Namespace).
		Dimension("Stage", se.Name).
		Dimension("Kind", string(se.Kind)).
		Count("StageFailed").
		Property("run_id", rec.ID).
		Flush()
}

// RunFinished implements pipeline.Observer.
func (o *sessionObserver) RunFinished(rec *pipeline.RunRecord, err error) {
	summary := rec.Summary(o.total)
	o.printf("Run %s %s: %d/%d stages, %d attempts", rec.ID, rec.Status, summary.StagesCompleted,
		summary.StagesTotal, summary.TotalAttempts)

	m := metrics.New(metrics.Namespace).
		Dimension("Status", string(rec.Status)).
		Count("Runs").
		Metric("StagesCompleted", float64(summary.StagesCompleted), metrics.UnitCount).
		Metric("StagesBestEffort", float64(summary.StagesBestEffort), metrics.UnitCount).
		Metric("TotalAttempts", float64(summary.TotalAttempts), metrics.UnitCount).
		Duration("RunDuration", time.Since(o.runStart)).
		Property("run_id", rec.ID)
	if summary.StagesCompleted > 0 {
		m.Metric("AverageScore", summary.AverageScore, metrics.UnitNone)
	}
	if err != nil {
		m.Property("error", err.Error())
	}
	m.Flush()
}

func acceptedScore(result *pipeline.StageResult) (float64, bool) {
	if a := result.Accepted(); a != nil && a.Critique != nil {
		return a.Critique.Score, true
	}
	return 0, false
}
