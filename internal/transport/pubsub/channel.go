// Package pubsubtransport implements the transport channel on Google Cloud
// Pub/Sub. Records are published with the source name as ordering key so
// per-source order survives the hop.
package pubsubtransport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/JakeFAU/host-inventory/internal/inventory"
	"github.com/JakeFAU/host-inventory/internal/metrics"
	queuememory "github.com/JakeFAU/host-inventory/internal/queue/memory"
	"github.com/JakeFAU/host-inventory/internal/transport"
)

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	topic *pubsub.Topic
}

// NewPublisher returns a Publisher for topicID with message ordering enabled.
func NewPublisher(client *pubsub.Client, topicID string) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("pubsub client is not configured")
	}
	if topicID == "" {
		return nil, errors.New("pubsub topic id is required")
	}
	topic := client.Topic(topicID)
	topic.EnableMessageOrdering = true
	return &Publisher{topic: topic}, nil
}

// Publish encodes the record and waits for the server to acknowledge it.
func (p *Publisher) Publish(ctx context.Context, record inventory.RawRecord) error {
	data, err := transport.Encode(record)
	if err != nil {
		return err
	}

	msg := &pubsub.Message{
		Data:        data,
		Attributes:  map[string]string{inventory.SourceNameKey: record.SourceName()},
		OrderingKey: record.SourceName(),
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	if _, err := p.topic.Publish(ctx, msg).Get(ctx); err != nil {
		// A failed publish pauses its ordering key until resumed.
		p.topic.ResumePublish(msg.OrderingKey)
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Close flushes outstanding messages and stops the publisher goroutines.
func (p *Publisher) Close() error {
	p.topic.Stop()
	return nil
}

// Subscriber pulls from a subscription into a bounded local buffer.
type Subscriber struct {
	buffer *queuememory.Queue[inventory.RawRecord]
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// NewSubscriber starts streaming pull on subscriptionID. Messages are acked
// once they are buffered and nacked when the buffer refuses them.
func NewSubscriber(ctx context.Context, client *pubsub.Client, subscriptionID string, buffer int, logger *zap.Logger) (*Subscriber, error) {
	if client == nil {
		return nil, errors.New("pubsub client is not configured")
	}
	if subscriptionID == "" {
		return nil, errors.New("pubsub subscription id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 1
	}

	sub := client.Subscription(subscriptionID)
	sub.ReceiveSettings.NumGoroutines = 1
	sub.ReceiveSettings.MaxOutstandingMessages = buffer

	recvCtx, cancel := context.WithCancel(ctx)
	s := &Subscriber{
		buffer: queuememory.NewQueue[inventory.RawRecord]("transport", buffer, queuememory.Block),
		logger: logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		defer s.buffer.Close()
		err := sub.Receive(recvCtx, s.handle)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("pubsub receive stopped", zap.String("subscription", subscriptionID), zap.Error(err))
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
	}()
	return s, nil
}

func (s *Subscriber) handle(ctx context.Context, msg *pubsub.Message) {
	record, err := transport.Decode(msg.Data)
	if err != nil {
		s.logger.Warn("dropping malformed pubsub message", zap.String("message_id", msg.ID), zap.Error(err))
		metrics.ObserveDropped("malformed")
		msg.Ack()
		return
	}
	if err := s.buffer.Enqueue(ctx, record); err != nil {
		msg.Nack()
		return
	}
	msg.Ack()
}

// Receive returns the next buffered record.
func (s *Subscriber) Receive(ctx context.Context) (inventory.RawRecord, error) {
	record, err := s.buffer.Dequeue(ctx)
	if err != nil {
		s.mu.Lock()
		recvErr := s.err
		s.mu.Unlock()
		if recvErr != nil {
			return nil, fmt.Errorf("pubsub receive: %w", recvErr)
		}
		return nil, fmt.Errorf("pubsub receive: %w", err)
	}
	return record, nil
}

// Close stops streaming pull and waits for it to return.
func (s *Subscriber) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
