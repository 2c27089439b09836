// Package worker implements the store writer loop of the normalize unit.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/host-inventory/internal/inventory"
	queuememory "github.com/JakeFAU/host-inventory/internal/queue/memory"
	"github.com/JakeFAU/host-inventory/internal/store"
)

// Source yields normalized records; the in-process work queue satisfies it.
type Source interface {
	Dequeue(ctx context.Context) (inventory.HostRecord, error)
}

// Upserter applies one record to the host store.
type Upserter interface {
	Upsert(ctx context.Context, record inventory.HostRecord) (store.Outcome, error)
}

// Worker consumes normalized records and upserts them one at a time.
type Worker struct {
	queue  Source
	writer Upserter
	logger *zap.Logger
}

// New constructs a Worker.
func New(queue Source, writer Upserter, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{queue: queue, writer: writer, logger: logger}
}

// Name identifies the loop to the runner supervisor.
func (w *Worker) Name() string {
	return "store-writer"
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed and drained. A failed upsert is logged and the loop moves on.
func (w *Worker) Run(ctx context.Context) error {
	for {
		record, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queuememory.ErrClosed) {
				return nil
			}
			return fmt.Errorf("work queue dequeue: %w", err)
		}
		outcome, err := w.writer.Upsert(ctx, record)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("upsert failed",
				zap.String("hostname", record.Hostname),
				zap.String("outcome", string(outcome)),
				zap.Error(err),
			)
			continue
		}
		w.logger.Debug("host upserted", zap.String("hostname", record.Hostname), zap.String("outcome", string(outcome)))
	}
}
