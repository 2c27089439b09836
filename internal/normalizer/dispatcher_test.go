package normalizer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/host-inventory/internal/inventory"
	queuememory "github.com/JakeFAU/host-inventory/internal/queue/memory"
	transportmemory "github.com/JakeFAU/host-inventory/internal/transport/memory"
)

func TestDispatcherNormalizesInOrder(t *testing.T) {
	t.Parallel()

	ch := transportmemory.New(8, queuememory.Block)
	work := queuememory.NewQueue[inventory.HostRecord]("work", 8, queuememory.Block)
	d := NewDispatcher(DefaultRegistry(), ch, work, zap.NewNop())

	ctx := context.Background()
	require.NoError(t, ch.Publish(ctx, inventory.RawRecord{"hostname": "a"}.Tag(SourceCrowdStrike)))
	require.NoError(t, ch.Publish(ctx, inventory.RawRecord{"hostname": "x"}.Tag("unsupported")))
	require.NoError(t, ch.Publish(ctx, inventory.RawRecord{"dnsHostName": "b"}.Tag(SourceQualys)))
	require.NoError(t, ch.Close())

	require.NoError(t, d.Run(ctx), "closed channel ends the loop cleanly")
	require.Equal(t, 2, work.Len(), "unknown source produces no queue entry")

	first, err := work.Dequeue(ctx)
	require.NoError(t, err)
	second, err := work.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", first.Hostname)
	assert.Equal(t, "b", second.Hostname)
	require.NotNil(t, second.SourceName)
	assert.Equal(t, SourceQualys, *second.SourceName)
}

func TestDispatcherNormalizeUnknownSource(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(DefaultRegistry(), nil, nil, nil)
	_, ok := d.Normalize(inventory.RawRecord{"hostname": "x"}.Tag("unsupported"))
	assert.False(t, ok)
	_, ok = d.Normalize(inventory.RawRecord{"hostname": "x"})
	assert.False(t, ok, "untagged records have no mapper")
}

type scriptedSubscriber struct {
	records []inventory.RawRecord
	errs    []error
}

func (s *scriptedSubscriber) Receive(ctx context.Context) (inventory.RawRecord, error) {
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(s.records) == 0 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	r := s.records[0]
	s.records = s.records[1:]
	return r, nil
}

func (s *scriptedSubscriber) Close() error { return nil }

func TestDispatcherSkipsMalformedMessages(t *testing.T) {
	t.Parallel()

	sub := &scriptedSubscriber{
		errs:    []error{inventory.ErrMalformedRecord},
		records: []inventory.RawRecord{inventory.RawRecord{"hostname": "a"}.Tag(SourceCrowdStrike)},
	}
	work := queuememory.NewQueue[inventory.HostRecord]("work", 4, queuememory.Block)
	d := NewDispatcher(DefaultRegistry(), sub, work, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	got, err := work.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Hostname)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestDispatcherReturnsReceiveErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection lost")
	d := NewDispatcher(DefaultRegistry(), &scriptedSubscriber{errs: []error{boom}}, nil, nil)
	require.ErrorIs(t, d.Run(context.Background()), boom)
}

func TestDispatcherRejectPolicyDrops(t *testing.T) {
	t.Parallel()

	sub := &scriptedSubscriber{records: []inventory.RawRecord{
		inventory.RawRecord{"hostname": "a"}.Tag(SourceCrowdStrike),
		inventory.RawRecord{"hostname": "b"}.Tag(SourceCrowdStrike),
	}}
	work := queuememory.NewQueue[inventory.HostRecord]("work", 1, queuememory.Reject)
	d := NewDispatcher(DefaultRegistry(), sub, work, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, d.Run(ctx))
	assert.Equal(t, 1, work.Len())
	assert.EqualValues(t, 1, work.Dropped())
}
