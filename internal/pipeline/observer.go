package pipeline

// Observer receives progress notifications from a Runner. Calls are made on
// the goroutine running the pipeline, in order. Implementations must not
// modify the records they are handed.
type Observer interface {
	RunStarted(rec *RunRecord, totalStages int)
	AttemptFinished(spec StageSpec, attempt Attempt)
	StageFinished(rec *RunRecord, result StageResult)
	StageFailed(rec *RunRecord, err *StageError)
	RunFinished(rec *RunRecord, err error)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) RunStarted(*RunRecord, int) {}
func (NopObserver) AttemptFinished(StageSpec, Attempt) {}
func (NopObserver) StageFinished(*RunRecord, StageResult) {}
func (NopObserver) StageFailed(*RunRecord, *StageError) {}
func (NopObserver) RunFinished(*RunRecord, error) {}

// Observers fans notifications out to several observers in order.
type Observers []Observer

func (o Observers) RunStarted(rec *RunRecord, total int) {
	for _, ob := range o {
		ob.RunStarted(rec, total)
	}
}

func (o Observers) AttemptFinished(spec StageSpec, attempt Attempt) {
	for _, ob := range o {
		ob.AttemptFinished(spec, attempt)
	}
}

func (o Observers) StageFinished(rec *RunRecord, result StageResult) {
	for _, ob := range o {
		ob.StageFinished(rec, result)
	}
}

func (o Observers) StageFailed(rec *RunRecord, err *StageError) {
	for _, ob := range o {
		ob.StageFailed(rec, err)
	}
}

func (o Observers) RunFinished(rec *RunRecord, err error) {
	for _, ob := range o {
		ob.RunFinished(rec, err)
	}
}
