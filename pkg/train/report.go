package train

// StepStats describes one finished training step.
type StepStats struct {
	Step     int
	Loss     float64
	Accuracy float64
	LR       float64
}

// ValidStats describes one validation pass.
type ValidStats struct {
	Step     int
	Loss     float64
	Accuracy float64
	Batches  int
	Best     bool
}

// Reporter observes training progress. Calls happen on the training
// goroutine and must not block for long.
type Reporter interface {
	Step(s StepStats)
	Validated(v ValidStats)
	Saved(step int, accuracy float64)
}

type nopReporter struct{}

func (nopReporter) Step(StepStats)       {}
func (nopReporter) Validated(ValidStats) {}
func (nopReporter) Saved(int, float64)   {}
