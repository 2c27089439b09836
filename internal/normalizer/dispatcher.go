package normalizer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/host-inventory/internal/inventory"
	"github.com/JakeFAU/host-inventory/internal/metrics"
	queuememory "github.com/JakeFAU/host-inventory/internal/queue/memory"
)

// Drop reasons reported to metrics.
const (
	ReasonUnknownSource = "unknown_source"
	ReasonMalformed     = "malformed"
	ReasonQueueFull     = "queue_full"
)

// Sink receives normalized records; the in-process work queue satisfies it.
type Sink interface {
	Enqueue(ctx context.Context, record inventory.HostRecord) error
}

// Dispatcher consumes the transport channel, maps each record with the
// mapper registered for its source, and hands the result to the sink.
type Dispatcher struct {
	registry *Registry
	in       inventory.Subscriber
	out      Sink
	logger   *zap.Logger
}

// NewDispatcher wires a Dispatcher.
func NewDispatcher(registry *Registry, in inventory.Subscriber, out Sink, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{registry: registry, in: in, out: out, logger: logger}
}

// Name identifies the loop to the runner supervisor.
func (d *Dispatcher) Name() string {
	return "normalizer"
}

// Normalize maps raw with its source's mapper. It reports false, after
// logging, when the source has no mapper.
func (d *Dispatcher) Normalize(raw inventory.RawRecord) (inventory.HostRecord, bool) {
	source := raw.SourceName()
	mapper, ok := d.registry.Lookup(source)
	if !ok {
		d.logger.Warn("dropping record from unknown source", zap.String("source", source))
		metrics.ObserveDropped(ReasonUnknownSource)
		return inventory.HostRecord{}, false
	}
	metrics.ObserveNormalized(source)
	return mapper(raw), true
}

// Run processes records until ctx ends or the channel is closed.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		raw, err := d.in.Receive(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil, errors.Is(err, queuememory.ErrClosed):
				return nil
			case errors.Is(err, inventory.ErrMalformedRecord):
				d.logger.Warn("dropping malformed record", zap.Error(err))
				metrics.ObserveDropped(ReasonMalformed)
				continue
			default:
				return fmt.Errorf("receive raw record: %w", err)
			}
		}

		record, ok := d.Normalize(raw)
		if !ok {
			continue
		}
		if err := d.out.Enqueue(ctx, record); err != nil {
			switch {
			case ctx.Err() != nil, errors.Is(err, queuememory.ErrClosed):
				return nil
			case errors.Is(err, queuememory.ErrQueueFull):
				d.logger.Warn("work queue full; dropping record", zap.String("hostname", record.Hostname))
				metrics.ObserveDropped(ReasonQueueFull)
			default:
				return fmt.Errorf("enqueue host record: %w", err)
			}
		}
	}
}
