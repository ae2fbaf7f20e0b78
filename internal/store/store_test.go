package store

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fpang/painting-studio/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func testImage(label string) *pipeline.Image {
	img := pipeline.NewImage([]byte("png:"+label), "image/png")
	return &img
}

func acceptedStage(index int, score float64, bestEffort bool) pipeline.StageResult {
	state := pipeline.StateAccepted
	if bestEffort {
		state = pipeline.StateBestEffortAccepted
	}
	return pipeline.StageResult{
		Index: index,
		Name:  "stage",
		State: state,
		Attempts: []pipeline.Attempt{
			{
				Number:  1,
				Prompt:  "paint it",
				Failure: &pipeline.AttemptFailure{Kind: pipeline.KindTimeout, Message: "deadline"},
			},
			{
				Number:   2,
				Prompt:   "paint it again",
				Image:    testImage("accepted"),
				Critique: &pipeline.Critique{Score: score, Passed: !bestEffort, Issues: []string{"edges too hard"}},
				Selected: true,
			},
		},
		AcceptedIndex: 1,
		BestEffort:    bestEffort,
	}
}

func testRecord() *pipeline.RunRecord {
	return &pipeline.RunRecord{
		ID:         "run-1",
		Name:       "harbour",
		StartedAt:  testStart,
		FinishedAt: testStart.Add(time.Minute),
		Status:     pipeline.RunComplete,
		Source: pipeline.SourcePhoto{
			Image: pipeline.NewImage([]byte("jpeg-source"), "image/jpeg"),
			Path:  "/photos/harbour.jpg",
		},
		Stages: []pipeline.StageResult{
			acceptedStage(1, 8, false),
			acceptedStage(2, 6, true),
		},
	}
}

func TestNewResults_Success(t *testing.T) {
	res := NewResults(testRecord(), 5, nil, "/out/harbour")

	assert.Nil(t, res.Failure)
	assert.Equal(t, "/out/harbour", res.Location)
	assert.Equal(t, 2, res.Summary.StagesCompleted)
	assert.Equal(t, 5, res.Summary.StagesTotal)
	assert.Equal(t, 1, res.Summary.StagesBestEffort)
	assert.InDelta(t, 7.0, res.Summary.AverageScore, 1e-9)
}

func TestNewResults_PipelineFailure(t *testing.T) {
	rec := testRecord()
	rec.Status = pipeline.RunFailed
	partial := &pipeline.StageResult{
		Index:         3,
		Name:          "colour",
		State:         pipeline.StateExhausted,
		Attempts:      []pipeline.Attempt{{Number: 1, Failure: &pipeline.AttemptFailure{Kind: pipeline.KindPolicyRejected}}},
		AcceptedIndex: -1,
	}
	runErr := &pipeline.PipelineFailure{
		Record: rec,
		Stage: &pipeline.StageError{
			Kind:   pipeline.GenerationFailure,
			Stage:  3,
			Name:   "colour",
			Result: partial,
		},
	}

	res := NewResults(rec, 5, runErr, "")
	require.NotNil(t, res.Failure)
	assert.Equal(t, "generation_failure", res.Failure.Kind)
	assert.Equal(t, 3, res.Failure.Stage)
	assert.Equal(t, "colour", res.Failure.Name)
	assert.Len(t, res.Failure.Attempts, 1)
	assert.Len(t, res.Record.Stages, 2, "failing stage stays out of the record")
}

func TestNewResults_OtherError(t *testing.T) {
	res := NewResults(testRecord(), 5, errors.New("disk full"), "")
	require.NotNil(t, res.Failure)
	assert.Equal(t, "error", res.Failure.Kind)
	assert.Equal(t, "disk full", res.Failure.Message)
	assert.Zero(t, res.Failure.Stage)
}

func TestEncodeDecodeResults(t *testing.T) {
	for _, compress := range []bool{false, true} {
		res := NewResults(testRecord(), 5, nil, "s3://bucket/runs/harbour")
		data, err := EncodeResults(res, compress)
		require.NoError(t, err)
		assert.Equal(t, compress, len(data) > 4 && string(data[:4]) == string(zstdMagic))

		got, err := DecodeResults(data)
		require.NoError(t, err)
		assert.Equal(t, "run-1", got.Record.ID)
		assert.Equal(t, pipeline.StateBestEffortAccepted, got.Record.Stages[1].State)
		assert.Equal(t, res.Summary, got.Summary)
		assert.Equal(t, res.Record.Stages[0].Attempts[1].Image.SHA256, got.Record.Stages[0].Attempts[1].Image.SHA256)
		assert.Empty(t, got.Record.Stages[0].Attempts[1].Image.Data, "image bytes are not serialized")
	}
}

func TestDecodeResults_Errors(t *testing.T) {
	_, err := DecodeResults([]byte("{not json"))
	assert.Error(t, err)

	_, err = DecodeResults([]byte(`{"summary":{}}`))
	assert.ErrorContains(t, err, "missing record")
}

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"harbour":          "harbour",
		"my photo (1)":     "my_photo_1_",
		"../../etc/passwd": ".._.._etc_passwd",
		"":                 "run",
		"..":               "run",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeName(in), "SanitizeName(%q)", in)
	}
}

func TestFileNames(t *testing.T) {
	assert.Equal(t, "00_original.jpg", OriginalFileName("image/jpeg"))
	assert.Equal(t, "v03_attempt2.png", AttemptFileName(3, 2, "image/png"))
	assert.Equal(t, "v05_final.webp", FinalFileName(5, "image/webp"))
}

func TestLocalSession(t *testing.T) {
	root := t.TempDir()
	session, err := OpenSession(root, "my harbour", testStart, true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "my_harbour_20260314_093000"), session.Dir)

	rec := testRecord()
	require.NoError(t, session.SaveOriginal(rec.Source))
	for i := range rec.Stages {
		require.NoError(t, session.SaveStage(&rec.Stages[i]))
	}
	require.NoError(t, session.SaveResults(NewResults(rec, 5, nil, session.Dir)))

	assert.Equal(t, []string{
		"00_original.jpg",
		"results.json",
		"v01_attempt2.png",
		"v01_final.png",
		"v02_attempt2.png",
		"v02_final.png",
	}, session.Files())

	data, err := os.ReadFile(filepath.Join(session.Dir, "v01_final.png"))
	require.NoError(t, err)
	assert.Equal(t, "png:accepted", string(data))

	got, err := ReadResultsFile(filepath.Join(session.Dir, ResultsFileName))
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.Record.ID)

	require.NoError(t, session.Close())
	_, err = os.Stat(filepath.Join(session.Dir, lockFileName))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalSession_FinalOnly(t *testing.T) {
	session, err := OpenSession(t.TempDir(), "harbour", testStart, false)
	require.NoError(t, err)
	defer session.Close()

	stage := acceptedStage(1, 8, false)
	require.NoError(t, session.SaveStage(&stage))

	exhausted := pipeline.StageResult{
		Index:         2,
		State:         pipeline.StateExhausted,
		Attempts:      []pipeline.Attempt{{Number: 1, Image: testImage("rejected")}},
		AcceptedIndex: -1,
	}
	require.NoError(t, session.SaveStage(&exhausted))

	assert.Equal(t, []string{"v01_final.png"}, session.Files())
}

func TestOpenSession_Collision(t *testing.T) {
	root := t.TempDir()
	first, err := OpenSession(root, "harbour", testStart, false)
	require.NoError(t, err)
	defer first.Close()

	second, err := OpenSession(root, "harbour", testStart, false)
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, first.Dir+"_2", second.Dir)
}

type stubPublisher struct {
	name  string
	err   error
	calls int
}

func (p *stubPublisher) Publish(_ context.Context, _ *LocalSession, _ *Results) error {
	p.calls++
	return p.err
}

func (p *stubPublisher) Name() string { return p.name }

func TestMulti_JoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a := &stubPublisher{name: "a", err: boom}
	b := &stubPublisher{name: "b"}
	c := &stubPublisher{name: "c", err: io.ErrUnexpectedEOF}

	err := Multi{a, b, c}.Publish(context.Background(), nil, &Results{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.ErrorContains(t, err, "a: boom")
	assert.Equal(t, 1, b.calls, "a failing publisher does not stop the rest")
	assert.Equal(t, 1, c.calls)

	assert.NoError(t, Multi{b}.Publish(context.Background(), nil, &Results{}))
}
