// Package memory implements the transport channel in-process for running
// both pipeline units inside one binary.
package memory

import (
	"context"
	"fmt"

	"github.com/JakeFAU/host-inventory/internal/inventory"
	queuememory "github.com/JakeFAU/host-inventory/internal/queue/memory"
)

// Channel is a bounded in-process transport. It satisfies both
// inventory.Publisher and inventory.Subscriber.
type Channel struct {
	queue *queuememory.Queue[inventory.RawRecord]
}

// New creates a channel holding at most capacity in-flight records.
func New(capacity int, policy queuememory.OverflowPolicy) *Channel {
	return &Channel{queue: queuememory.NewQueue[inventory.RawRecord]("transport", capacity, policy)}
}

// Publish enqueues a record. It is safe for concurrent callers.
func (c *Channel) Publish(ctx context.Context, record inventory.RawRecord) error {
	if err := c.queue.Enqueue(ctx, record); err != nil {
		return fmt.Errorf("publish raw record: %w", err)
	}
	return nil
}

// Receive returns the next record in publish order.
func (c *Channel) Receive(ctx context.Context) (inventory.RawRecord, error) {
	record, err := c.queue.Dequeue(ctx)
	if err != nil {
		return nil, fmt.Errorf("receive raw record: %w", err)
	}
	return record, nil
}

// Close stops the channel; records already queued can still be received.
func (c *Channel) Close() error {
	c.queue.Close()
	return nil
}
