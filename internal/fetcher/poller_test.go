package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/host-inventory/internal/inventory"
	queuememory "github.com/JakeFAU/host-inventory/internal/queue/memory"
)

// scriptedFetcher replays responses per source and records every request.
type scriptedFetcher struct {
	mu        sync.Mutex
	requests  map[string][]inventory.PageRequest
	responses map[string]func(call int, req inventory.PageRequest) ([]inventory.RawRecord, error)
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		requests:  make(map[string][]inventory.PageRequest),
		responses: make(map[string]func(int, inventory.PageRequest) ([]inventory.RawRecord, error)),
	}
}

func (f *scriptedFetcher) FetchPage(_ context.Context, req inventory.PageRequest) ([]inventory.RawRecord, error) {
	f.mu.Lock()
	f.requests[req.Source] = append(f.requests[req.Source], req)
	call := len(f.requests[req.Source])
	respond := f.responses[req.Source]
	f.mu.Unlock()
	if respond == nil {
		return nil, nil
	}
	return respond(call, req)
}

func (f *scriptedFetcher) skips(source string) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, 0, len(f.requests[source]))
	for _, r := range f.requests[source] {
		out = append(out, r.Skip)
	}
	return out
}

type capturePublisher struct {
	mu      sync.Mutex
	records []inventory.RawRecord
	err     error
}

func (p *capturePublisher) Publish(_ context.Context, r inventory.RawRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.records = append(p.records, r)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) snapshot() []inventory.RawRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]inventory.RawRecord(nil), p.records...)
}

func twoRecords(_ int, req inventory.PageRequest) ([]inventory.RawRecord, error) {
	return []inventory.RawRecord{
		{"hostname": req.Source + "-a"},
		{"hostname": req.Source + "-b"},
	}, nil
}

func TestPollerAdvancesCursorByLimit(t *testing.T) {
	t.Parallel()

	f := newScriptedFetcher()
	f.responses["crowdstrike"] = twoRecords
	pub := &capturePublisher{}
	p := New(inventory.Source{Name: "crowdstrike", URL: "http://cs", Limit: 2}, Options{
		Fetcher:   f,
		Publisher: pub,
		Token:     "secret",
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return len(f.skips("crowdstrike")) >= 4 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int{0, 2, 4, 6}, f.skips("crowdstrike")[:4])
	assert.GreaterOrEqual(t, p.Cursor().Skip, 8)

	f.mu.Lock()
	first := f.requests["crowdstrike"][0]
	f.mu.Unlock()
	assert.Equal(t, 2, first.Limit)
	assert.Equal(t, "http://cs", first.URL)
	assert.Equal(t, "secret", first.Headers.Get("Token"))
	assert.Equal(t, "application/json", first.Headers.Get("Accept"))

	records := pub.snapshot()
	require.GreaterOrEqual(t, len(records), 6)
	for _, r := range records {
		assert.Equal(t, "crowdstrike", r.SourceName())
	}
	assert.Equal(t, "crowdstrike-a", records[0]["hostname"])
	assert.Equal(t, "crowdstrike-b", records[1]["hostname"])
}

func TestPollerEmptyPageStillAdvances(t *testing.T) {
	t.Parallel()

	f := newScriptedFetcher()
	pub := &capturePublisher{}
	p := New(inventory.Source{Name: "qualys", URL: "http://q"}, Options{
		Fetcher:      f,
		Publisher:    pub,
		IdleInterval: time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	require.Eventually(t, func() bool { return len(f.skips("qualys")) >= 3 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int{0, 2, 4}, f.skips("qualys")[:3])
	assert.Empty(t, pub.snapshot())
}

func TestPollerRetriesSamePage(t *testing.T) {
	t.Parallel()

	f := newScriptedFetcher()
	f.responses["crowdstrike"] = func(call int, req inventory.PageRequest) ([]inventory.RawRecord, error) {
		if call <= 2 {
			return nil, inventory.Retryable(errors.New("bad gateway"), 502)
		}
		return twoRecords(call, req)
	}
	p := New(inventory.Source{Name: "crowdstrike", URL: "http://cs", Limit: 2}, Options{
		Fetcher:   f,
		Publisher: &capturePublisher{},
		Retry:     NewExponentialRetryPolicy(5, time.Millisecond, 2*time.Millisecond),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	require.Eventually(t, func() bool { return len(f.skips("crowdstrike")) >= 4 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int{0, 0, 0, 2}, f.skips("crowdstrike")[:4])
}

func TestPollerStopsOnFatalError(t *testing.T) {
	t.Parallel()

	cause := errors.New("unauthorized")
	f := newScriptedFetcher()
	f.responses["crowdstrike"] = func(int, inventory.PageRequest) ([]inventory.RawRecord, error) {
		return nil, inventory.Fatal(cause, 401)
	}
	p := New(inventory.Source{Name: "crowdstrike", URL: "http://cs"}, Options{
		Fetcher:   f,
		Publisher: &capturePublisher{},
		Retry:     NewExponentialRetryPolicy(5, time.Millisecond, time.Millisecond),
	})

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, []int{0}, f.skips("crowdstrike"))
	assert.Equal(t, 0, p.Cursor().Skip)
}

func TestPollerGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	f := newScriptedFetcher()
	f.responses["crowdstrike"] = func(int, inventory.PageRequest) ([]inventory.RawRecord, error) {
		return nil, inventory.Retryable(errors.New("timeout"), 0)
	}
	p := New(inventory.Source{Name: "crowdstrike", URL: "http://cs"}, Options{
		Fetcher:   f,
		Publisher: &capturePublisher{},
		Retry:     NewExponentialRetryPolicy(3, time.Millisecond, time.Millisecond),
	})

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.True(t, inventory.IsRetryable(err))
	assert.Len(t, f.skips("crowdstrike"), 3)
}

func TestPollerStopsOnPublishFailure(t *testing.T) {
	t.Parallel()

	f := newScriptedFetcher()
	f.responses["crowdstrike"] = twoRecords
	pub := &capturePublisher{err: errors.New("channel closed")}
	p := New(inventory.Source{Name: "crowdstrike", URL: "http://cs"}, Options{Fetcher: f, Publisher: pub})

	err := p.Run(context.Background())
	require.ErrorContains(t, err, "channel closed")
}

func TestPollerDropsRecordsRejectedByFullTransport(t *testing.T) {
	t.Parallel()

	f := newScriptedFetcher()
	f.responses["crowdstrike"] = twoRecords
	pub := &capturePublisher{err: fmt.Errorf("publish raw record: %w", queuememory.ErrQueueFull)}
	p := New(inventory.Source{Name: "crowdstrike", URL: "http://cs", Limit: 2}, Options{Fetcher: f, Publisher: pub})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return len(f.skips("crowdstrike")) >= 2 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, pub.snapshot())
}

func TestFailingSourceDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	f := newScriptedFetcher()
	f.responses["broken"] = func(int, inventory.PageRequest) ([]inventory.RawRecord, error) {
		return nil, inventory.Fatal(errors.New("not found"), 404)
	}
	f.responses["healthy"] = twoRecords
	pollers := NewAll([]inventory.Source{
		{Name: "broken", URL: "http://a"},
		{Name: "healthy", URL: "http://b"},
	}, Options{Fetcher: f, Publisher: &capturePublisher{}})
	require.Len(t, pollers, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	results := make(map[string]chan error)
	for _, p := range pollers {
		ch := make(chan error, 1)
		results[p.Name()] = ch
		go func(p *Poller) { ch <- p.Run(ctx) }(p)
	}

	require.Error(t, <-results["broken"])
	require.Eventually(t, func() bool { return len(f.skips("healthy")) >= 4 }, time.Second, time.Millisecond)
	assert.Equal(t, []int{0, 2, 4, 6}, f.skips("healthy")[:4])

	cancel()
	require.NoError(t, <-results["healthy"])
}

type blockingLimiter struct{}

func (blockingLimiter) Wait(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestPollerCancelWhileRateLimited(t *testing.T) {
	t.Parallel()

	f := newScriptedFetcher()
	p := New(inventory.Source{Name: "crowdstrike", URL: "http://cs"}, Options{
		Fetcher:   f,
		Publisher: &capturePublisher{},
		Limiter:   blockingLimiter{},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx))
	assert.Empty(t, f.skips("crowdstrike"))
}
