package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_AllStagesPassFirstTry(t *testing.T) {
	gen := &stubGenerator{}
	obs := &recordingObserver{}
	r := NewRunner(gen, &stubCritic{}, Config{}, WithObserver(obs))

	rec, err := r.Run(context.Background(), testSource(), testSpecs(5), "harbor")
	require.NoError(t, err)

	assert.Equal(t, RunComplete, rec.Status)
	assert.True(t, rec.Complete())
	require.Len(t, rec.Stages, 5)
	for i, stage := range rec.Stages {
		assert.Equal(t, i+1, stage.Index)
		assert.Len(t, stage.Attempts, 1)
		assert.Equal(t, StateAccepted, stage.State)
	}
	assert.Equal(t, 5, gen.total())
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.FinishedAt.IsZero())

	assert.Equal(t, []int{1, 2, 3, 4, 5}, obs.stages)
	assert.Equal(t, 5, obs.attempts)
	assert.True(t, obs.finished)
	assert.Nil(t, obs.failed)
}

func TestRun_ThreadsAcceptedImageForward(t *testing.T) {
	gen := &stubGenerator{}
	critic := &stubCritic{script: map[string]critiqueResult{
		// Stage 2 never passes; attempt 2 scores best and must be handed on.
		"v2-attempt1": scored(4, false),
		"v2-attempt2": scored(6, false),
		"v2-attempt3": scored(5, false),
	}}
	r := NewRunner(gen, critic, Config{})
	source := testSource()

	rec, err := r.Run(context.Background(), source, testSpecs(3), "threading")
	require.NoError(t, err)

	stage1 := gen.callsFor(1)
	require.Len(t, stage1, 1)
	require.Len(t, stage1[0].Refs, 1, "stage 1 gets only the source photo")
	assert.Equal(t, source.Image.SHA256, stage1[0].Refs[0].SHA256)
	assert.Contains(t, stage1[0].Prompt, "prior=false")

	for _, call := range gen.callsFor(2) {
		require.Len(t, call.Refs, 2)
		assert.Equal(t, rec.Stages[0].AcceptedImage().SHA256, call.Refs[0].SHA256)
		assert.Equal(t, source.Image.SHA256, call.Refs[1].SHA256)
		assert.Contains(t, call.Prompt, "prior=true")
	}

	assert.True(t, rec.Stages[1].BestEffort)
	assert.Equal(t, 2, rec.Stages[1].Accepted().Number)
	stage3 := gen.callsFor(3)
	require.Len(t, stage3, 1)
	assert.Equal(t, "v2-attempt2", string(stage3[0].Refs[0].Data))
}

func TestRun_StageExhaustedKeepsEarlierStages(t *testing.T) {
	gen := &stubGenerator{fail: func(stage, attempt int) error {
		if stage == 3 {
			return NewPortError(KindTimeout, context.DeadlineExceeded)
		}
		return nil
	}}
	obs := &recordingObserver{}
	r := NewRunner(gen, &stubCritic{}, Config{}, WithObserver(obs))

	rec, err := r.Run(context.Background(), testSource(), testSpecs(5), "exhausted")
	require.Error(t, err)

	var failure *PipelineFailure
	require.ErrorAs(t, err, &failure)
	assert.Same(t, rec, failure.Record)
	assert.Equal(t, StageExhausted, failure.Stage.Kind)
	assert.Equal(t, 3, failure.Stage.Stage)
	assert.ErrorIs(t, err, ErrStageExhausted)

	require.Len(t, rec.Stages, 2)
	assert.Equal(t, 1, rec.Stages[0].Index)
	assert.Equal(t, 2, rec.Stages[1].Index)
	assert.Equal(t, RunFailed, rec.Status)

	require.NotNil(t, failure.Stage.Result)
	assert.Len(t, failure.Stage.Result.Attempts, 3)
	assert.Len(t, gen.callsFor(3), 3)
	assert.Empty(t, gen.callsFor(4), "no stage runs past a failure")
	assert.Equal(t, failure.Stage, obs.failed)
}

func TestRun_PolicyRejectionStopsRun(t *testing.T) {
	gen := &stubGenerator{fail: func(stage, attempt int) error {
		if stage == 2 && attempt == 1 {
			return NewPortError(KindPolicyRejected, errors.New("blocked by safety filter"))
		}
		return nil
	}}
	r := NewRunner(gen, &stubCritic{}, Config{})

	rec, err := r.Run(context.Background(), testSource(), testSpecs(5), "policy")
	require.Error(t, err)

	var failure *PipelineFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, GenerationFailure, failure.Stage.Kind)
	assert.ErrorIs(t, err, ErrGenerationFailure)
	assert.Len(t, gen.callsFor(2), 1)
	require.Len(t, rec.Stages, 1)
	assert.Equal(t, RunFailed, rec.Status)
}

func TestRun_DeterministicRecord(t *testing.T) {
	run := func() *RunRecord {
		gen := &stubGenerator{fail: func(stage, attempt int) error {
			if stage == 4 && attempt == 1 {
				return NewPortError(KindRateLimited, errors.New("429"))
			}
			return nil
		}}
		critic := &stubCritic{script: map[string]critiqueResult{
			"v2-attempt1": scored(3, false, "values compressed"),
			"v2-attempt2": scored(9, true),
		}}
		r := NewRunner(gen, critic, Config{},
			WithClock(fixedClock()),
			WithIDGenerator(func() string { return "run-1" }))
		rec, err := r.Run(context.Background(), testSource(), testSpecs(5), "repeat")
		require.NoError(t, err)
		return rec
	}

	first, second := run(), run()
	assert.Equal(t, first, second)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
}

func TestRun_CancellationAtSafePoint(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var inFlightErr error
	critic := &stubCritic{
		script: map[string]critiqueResult{"v2-attempt1": scored(2, false)},
		hook: func(callCtx context.Context, req CritiqueRequest) {
			if req.Stage.Index == 2 {
				cancel()
				inFlightErr = callCtx.Err()
			}
		},
	}
	gen := &stubGenerator{}
	r := NewRunner(gen, critic, Config{})

	rec, err := r.Run(ctx, testSource(), testSpecs(5), "cancel")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, inFlightErr, "in-flight call is not torn down")

	var failure *PipelineFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, Cancelled, failure.Stage.Kind)
	assert.Equal(t, RunCancelled, rec.Status)
	assert.False(t, rec.Complete())
	require.Len(t, rec.Stages, 1)

	// The attempt in progress when cancel fired was recorded whole.
	require.NotNil(t, failure.Stage.Result)
	require.Len(t, failure.Stage.Result.Attempts, 1)
	assert.NotNil(t, failure.Stage.Result.Attempts[0].Critique)
	assert.Len(t, gen.callsFor(2), 1)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gen := &stubGenerator{}
	r := NewRunner(gen, &stubCritic{}, Config{})

	rec, err := r.Run(ctx, testSource(), testSpecs(5), "early")
	require.Error(t, err)
	assert.Equal(t, RunCancelled, rec.Status)
	assert.Empty(t, rec.Stages)
	assert.Zero(t, gen.total())
}

func TestRun_ConcurrentRunsAreIndependent(t *testing.T) {
	gen := &stubGenerator{}
	r := NewRunner(gen, &stubCritic{}, Config{})

	const runs = 4
	var wg sync.WaitGroup
	records := make([]*RunRecord, runs)
	errs := make([]error, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			records[i], errs[i] = r.Run(context.Background(), testSource(), testSpecs(5), fmt.Sprintf("run-%d", i))
		}(i)
	}
	wg.Wait()

	ids := make(map[string]bool)
	for i := 0; i < runs; i++ {
		require.NoError(t, errs[i])
		assert.Len(t, records[i].Stages, 5)
		ids[records[i].ID] = true
	}
	assert.Len(t, ids, runs)
}

func TestValidateSpecs(t *testing.T) {
	valid := testSpecs(5)

	outOfOrder := testSpecs(3)
	outOfOrder[1].Index = 3

	noPrompt := testSpecs(2)
	noPrompt[1].Prompt = nil

	zeroThreshold := testSpecs(1)
	zeroThreshold[0].Threshold = 0

	negativeThreshold := testSpecs(1)
	negativeThreshold[0].Threshold = -1

	nanThreshold := testSpecs(1)
	nanThreshold[0].Threshold = math.NaN()

	tests := []struct {
		name  string
		specs []StageSpec
		ok    bool
	}{
		{"valid", valid, true},
		{"empty", nil, false},
		{"out of order", outOfOrder, false},
		{"missing prompt builder", noPrompt, false},
		{"zero threshold", zeroThreshold, true},
		{"negative threshold", negativeThreshold, false},
		{"NaN threshold", nanThreshold, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSpecs(tt.specs)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidStages)
		})
	}
}

func TestRunRecordSummary(t *testing.T) {
	critic := &stubCritic{script: map[string]critiqueResult{
		"v1-attempt1": scored(9, true),
		"v2-attempt1": scored(5, false),
		"v2-attempt2": scored(6, false),
		"v2-attempt3": scored(4, false),
	}}
	r := NewRunner(&stubGenerator{}, critic, Config{})

	rec, err := r.Run(context.Background(), testSource(), testSpecs(2), "summary")
	require.NoError(t, err)

	s := rec.Summary(5)
	assert.Equal(t, 1, s.StagesPassed)
	assert.Equal(t, 1, s.StagesBestEffort)
	assert.Equal(t, 2, s.StagesCompleted)
	assert.Equal(t, 5, s.StagesTotal)
	assert.Equal(t, 4, s.TotalAttempts)
	assert.InDelta(t, 7.5, s.AverageScore, 0.001)
}

func TestStageStateText(t *testing.T) {
	for _, state := range []StageState{StateAttempting, StateAccepted, StateBestEffortAccepted, StateExhausted, StateAborted} {
		text, err := state.MarshalText()
		require.NoError(t, err)

		var decoded StageState
		require.NoError(t, decoded.UnmarshalText(text))
		assert.Equal(t, state, decoded)
	}

	var decoded StageState
	assert.Error(t, decoded.UnmarshalText([]byte("finished")))

	var result StageResult
	err := json.Unmarshal([]byte(`{"index":1,"state":"finished","accepted_index":-1}`), &result)
	assert.ErrorContains(t, err, "unknown stage state")
}

func TestRun_ZeroThresholdAcceptsFirstCritique(t *testing.T) {
	critic := &stubCritic{script: map[string]critiqueResult{
		"v1-attempt1": scored(0, false),
	}}
	specs := testSpecs(1)
	specs[0].Threshold = 0
	r := NewRunner(&stubGenerator{}, critic, Config{})

	rec, err := r.Run(context.Background(), testSource(), specs, "zero")
	require.NoError(t, err)
	assert.Equal(t, StateAccepted, rec.Stages[0].State)
	assert.Len(t, rec.Stages[0].Attempts, 1)
}

func TestWithObserver_IgnoresNil(t *testing.T) {
	obs := &recordingObserver{}
	tests := []struct {
		name string
		opt  Option
	}{
		{"only nil", WithObserver(nil)},
		{"no observers", WithObserver()},
		{"nil among observers", WithObserver(nil, obs, nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRunner(&stubGenerator{}, &stubCritic{}, Config{}, tt.opt)
			require.NotPanics(t, func() {
				_, err := r.Run(context.Background(), testSource(), testSpecs(2), "observed")
				require.NoError(t, err)
			})
		})
	}
	assert.True(t, obs.finished)
	assert.Equal(t, []int{1, 2}, obs.stages)
}
