// Package dispatcher supervises the long-running loops of a pipeline unit.
package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Runner is a named loop. Run returns nil when it stopped because ctx ended
// and an error when it terminated on its own.
type Runner interface {
	Name() string
	Run(ctx context.Context) error
}

// Result records how a runner ended.
type Result struct {
	Name string
	Err  error
}

// Dispatcher runs a set of loops concurrently. A loop that terminates with
// an error is logged and left stopped; the others keep running.
type Dispatcher struct {
	runners []Runner
	logger  *zap.Logger

	mu      sync.Mutex
	results []Result
}

// New creates a Dispatcher.
func New(runners []Runner, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		runners: runners,
		logger:  logger,
	}
}

// Run starts all runners and blocks until the context finishes and every
// runner has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, r := range d.runners {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			err := r.Run(ctx)
			d.record(r.Name(), err)
		}(r)
	}
	<-ctx.Done()
	wg.Wait()
}

// Results returns the runners that have ended so far.
func (d *Dispatcher) Results() []Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Result(nil), d.results...)
}

func (d *Dispatcher) record(name string, err error) {
	d.mu.Lock()
	d.results = append(d.results, Result{Name: name, Err: err})
	d.mu.Unlock()
	if err != nil {
		d.logger.Error("runner terminated", zap.String("runner", name), zap.Error(err))
		return
	}
	d.logger.Info("runner stopped", zap.String("runner", name))
}
