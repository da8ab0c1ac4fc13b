package commands

import (
	"fmt"
	"io"
	"sync"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/haivivi/spkid/pkg/train"
)

// trainProgress draws one bar per validation window.
type trainProgress struct {
	p      *mpb.Progress
	window int

	mu   sync.Mutex
	bar  *mpb.Bar
	last train.StepStats
}

func newTrainProgress(w io.Writer, validSteps int) *trainProgress {
	return &trainProgress{
		p:      mpb.New(mpb.WithOutput(w), mpb.WithWidth(48)),
		window: validSteps,
	}
}

func (t *trainProgress) Step(s train.StepStats) {
	t.mu.Lock()
	t.last = s
	bar := t.bar
	t.mu.Unlock()
	if bar == nil {
		bar = t.p.AddBar(int64(t.window),
			mpb.PrependDecorators(decor.Name("Train "), decor.CountersNoUnit("%d/%d step")),
			mpb.AppendDecorators(decor.Any(t.postfix)),
		)
		t.mu.Lock()
		t.bar = bar
		t.mu.Unlock()
	}
	bar.Increment()
}

func (t *trainProgress) postfix(decor.Statistics) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fmt.Sprintf(" loss=%.2f accuracy=%.2f step=%d", t.last.Loss, t.last.Accuracy, t.last.Step)
}

func (t *trainProgress) Validated(v train.ValidStats) {
	t.mu.Lock()
	bar := t.bar
	t.bar = nil
	t.mu.Unlock()
	if bar != nil {
		bar.SetTotal(-1, true)
	}
}

func (t *trainProgress) Saved(int, float64) {}

// Close completes any open bar and waits for rendering to finish.
func (t *trainProgress) Close() {
	t.Validated(train.ValidStats{})
	t.p.Wait()
}

// countProgress is a single bar counting finished items.
type countProgress struct {
	p   *mpb.Progress
	bar *mpb.Bar
}

func newCountProgress(w io.Writer, name string, total int) *countProgress {
	p := mpb.New(mpb.WithOutput(w), mpb.WithWidth(48))
	bar := p.AddBar(int64(total),
		mpb.PrependDecorators(decor.Name(name+" "), decor.CountersNoUnit("%d/%d")),
		mpb.AppendDecorators(decor.Percentage()),
	)
	return &countProgress{p: p, bar: bar}
}

// Inc is safe for concurrent use.
func (c *countProgress) Inc() { c.bar.Increment() }

func (c *countProgress) Close() {
	c.bar.SetTotal(-1, true)
	c.p.Wait()
}
