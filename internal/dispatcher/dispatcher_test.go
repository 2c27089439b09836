package dispatcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type funcRunner struct {
	name string
	run  func(ctx context.Context) error
}

func (r funcRunner) Name() string                  { return r.name }
func (r funcRunner) Run(ctx context.Context) error { return r.run(ctx) }

// TestDispatcherIsolatesFailures ensures one failing runner leaves the others running.
func TestDispatcherIsolatesFailures(t *testing.T) {
	t.Parallel()

	var ticks atomic.Int64
	failing := funcRunner{name: "broken", run: func(context.Context) error {
		return errors.New("fatal fetch error")
	}}
	healthy := funcRunner{name: "healthy", run: func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Millisecond):
				ticks.Add(1)
			}
		}
	}}
	d := New([]Runner{failing, healthy}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(d.Results()) == 1 }, time.Second, time.Millisecond)
	before := ticks.Load()
	require.Eventually(t, func() bool { return ticks.Load() > before+5 }, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}

	results := d.Results()
	require.Len(t, results, 2)
	assert.Equal(t, "broken", results[0].Name)
	assert.EqualError(t, results[0].Err, "fatal fetch error")
	assert.Equal(t, "healthy", results[1].Name)
	assert.NoError(t, results[1].Err)
}

// TestDispatcherWaitsForContext verifies Run blocks until cancel even when runners finish early.
func TestDispatcherWaitsForContext(t *testing.T) {
	t.Parallel()

	d := New([]Runner{funcRunner{name: "quick", run: func(context.Context) error { return nil }}}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	d.Run(ctx)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}
