// Package store persists painting runs.
//
// Every run is written to a local session directory holding the source
// photo, each candidate image, the accepted image of every stage and a
// results.json document. A finished session can additionally be published
// to S3 and indexed in DynamoDB. Publishers implement the Publisher
// interface and are combined with Multi.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/fpang/painting-studio/internal/pipeline"
)

// ResultsFileName is the name of the results document in a session.
const ResultsFileName = "results.json"

// Results is the document persisted for a run.
type Results struct {
	Record   *pipeline.RunRecord `json:"record"`
	Summary  pipeline.RunSummary `json:"summary"`
	Failure  *Failure            `json:"failure,omitempty"`
	Location string              `json:"location,omitempty"`
}

// Failure describes why a run stopped before its last stage. Attempts holds
// what the failing stage produced; that stage is not part of Record.Stages.
type Failure struct {
	Kind     string             `json:"kind"`
	Stage    int                `json:"stage,omitempty"`
	Name     string             `json:"name,omitempty"`
	Message  string             `json:"message"`
	Attempts []pipeline.Attempt `json:"attempts,omitempty"`
}

// NewResults builds the results document for rec. total is the number of
// stages the run was asked to perform and runErr the error returned by
// pipeline.Runner.Run.
func NewResults(rec *pipeline.RunRecord, total int, runErr error, location string) *Results {
	res := &Results{
		Record:   rec,
		Summary:  rec.Summary(total),
		Location: location,
	}
	if runErr == nil {
		return res
	}

	res.Failure = &Failure{Kind: "error", Message: runErr.Error()}
	var failure *pipeline.PipelineFailure
	if errors.As(runErr, &failure) && failure.Stage != nil {
		se := failure.Stage
		res.Failure.Kind = string(se.Kind)
		res.Failure.Stage = se.Stage
		res.Failure.Name = se.Name
		if se.Result != nil {
			res.Failure.Attempts = se.Result.Attempts
		}
	}
	return res
}

// Publisher copies a finished session somewhere durable.
type Publisher interface {
	Publish(ctx context.Context, session *LocalSession, res *Results) error
	Name() string
}

// Multi publishes to every publisher in order and joins their errors. A
// failing publisher does not stop the others.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, session *LocalSession, res *Results) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, session, res); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Name implements Publisher.
func (m Multi) Name() string {
	return "multi"
}
