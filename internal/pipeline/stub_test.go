package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// testPrompt renders a prompt that encodes its inputs so tests can assert on
// what the controller fed the builder.
func testPrompt(spec StageSpec, hasPrior bool, issues []string) string {
	return fmt.Sprintf("stage=%d|prior=%t|issues=%s", spec.Index, hasPrior, strings.Join(issues, ";"))
}

func testSpecs(n int) []StageSpec {
	specs := make([]StageSpec, n)
	for i := range specs {
		specs[i] = StageSpec{
			Index:     i + 1,
			Name:      fmt.Sprintf("stage-%d", i+1),
			Focus:     "focus",
			Criteria:  []string{"criterion"},
			Threshold: 7,
			Prompt:    testPrompt,
		}
	}
	return specs
}

func stageOf(prompt string) int {
	field := strings.TrimPrefix(strings.SplitN(prompt, "|", 2)[0], "stage=")
	n, _ := strconv.Atoi(field)
	return n
}

func testSource() SourcePhoto {
	return SourcePhoto{Image: NewImage([]byte("source-photo"), "image/jpeg"), Path: "photo.jpg"}
}

type genCall struct {
	Stage   int
	Attempt int
	Prompt  string
	Refs    []Image
}

// stubGenerator produces one image per call. fail, when set, is consulted
// with the stage and the 1-based call number within that stage.
type stubGenerator struct {
	mu      sync.Mutex
	calls   []genCall
	perStep map[int]int
	fail    func(stage, attempt int) error
	block   bool
}

func (g *stubGenerator) Generate(ctx context.Context, req GenerateRequest) (*Image, error) {
	stage := stageOf(req.Prompt)

	g.mu.Lock()
	if g.perStep == nil {
		g.perStep = make(map[int]int)
	}
	g.perStep[stage]++
	attempt := g.perStep[stage]
	g.calls = append(g.calls, genCall{Stage: stage, Attempt: attempt, Prompt: req.Prompt, Refs: req.References})
	fail := g.fail
	block := g.block
	g.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fail != nil {
		if err := fail(stage, attempt); err != nil {
			return nil, err
		}
	}
	img := NewImage([]byte(fmt.Sprintf("v%d-attempt%d", stage, attempt)), "image/png")
	return &img, nil
}

func (g *stubGenerator) callsFor(stage int) []genCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []genCall
	for _, c := range g.calls {
		if c.Stage == stage {
			out = append(out, c)
		}
	}
	return out
}

func (g *stubGenerator) total() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type critiqueResult struct {
	crit *Critique
	err  error
}

// stubCritic returns scripted results keyed by candidate content. Unscripted
// candidates pass with a score of 8.
type stubCritic struct {
	mu       sync.Mutex
	script   map[string]critiqueResult
	requests []CritiqueRequest
	hook     func(ctx context.Context, req CritiqueRequest)
}

func (c *stubCritic) Critique(ctx context.Context, req CritiqueRequest) (*Critique, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	res, ok := c.script[string(req.Candidate.Data)]
	hook := c.hook
	c.mu.Unlock()

	if hook != nil {
		hook(ctx, req)
	}
	if !ok {
		return &Critique{Score: 8, Passed: true}, nil
	}
	return res.crit, res.err
}

func scored(score float64, passed bool, issues ...string) critiqueResult {
	return critiqueResult{crit: &Critique{Score: score, Passed: passed, Issues: issues}}
}

func fixedClock() func() time.Time {
	t := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

type recordingObserver struct {
	NopObserver
	mu       sync.Mutex
	attempts int
	stages   []int
	failed   *StageError
	finished bool
}

func (o *recordingObserver) AttemptFinished(StageSpec, Attempt) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts++
}

func (o *recordingObserver) StageFinished(_ *RunRecord, result StageResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages = append(o.stages, result.Index)
}

func (o *recordingObserver) StageFailed(_ *RunRecord, err *StageError) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = err
}

func (o *recordingObserver) RunFinished(*RunRecord, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = true
}

// signingGenerator records the references it receives and returns images
// without a digest but with a signature, as a remote model would.
type signingGenerator struct {
	mu   sync.Mutex
	refs [][]Image
}

func (g *signingGenerator) Generate(_ context.Context, req GenerateRequest) (*Image, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refs = append(g.refs, req.References)
	return &Image{Data: []byte(req.Prompt), MIMEType: "image/png", Signature: "sig-out"}, nil
}
