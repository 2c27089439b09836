// Package natstransport implements the transport channel on core NATS. The
// publisher side is shared by every poll loop; the subscriber joins a queue
// group so each record is delivered to exactly one normalizer.
package natstransport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/JakeFAU/host-inventory/internal/inventory"
	"github.com/JakeFAU/host-inventory/internal/metrics"
	"github.com/JakeFAU/host-inventory/internal/transport"
)

// Config captures the connection and subject settings.
type Config struct {
	URL     string
	Subject string
	Queue   string
	// PendingLimit bounds the messages buffered client-side for the
	// subscriber. NATS drops newer messages once it is reached.
	PendingLimit int
	Name         string
}

func (c Config) validate() error {
	if c.URL == "" {
		return errors.New("nats url is required")
	}
	if c.Subject == "" {
		return errors.New("nats subject is required")
	}
	return nil
}

func connect(cfg Config) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	return nc, nil
}

// Publisher publishes raw records to a NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// NewPublisher connects to NATS for publishing.
func NewPublisher(cfg Config) (*Publisher, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	nc, err := connect(cfg)
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc, subject: cfg.Subject}, nil
}

// Publish encodes and sends one record. nats.Conn is safe for concurrent use.
func (p *Publisher) Publish(_ context.Context, record inventory.RawRecord) error {
	data, err := transport.Encode(record)
	if err != nil {
		return err
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Close flushes buffered messages and closes the connection.
func (p *Publisher) Close() error {
	defer p.nc.Close()
	if err := p.nc.Flush(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}

// Subscriber receives raw records from a NATS queue group.
type Subscriber struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	logger *zap.Logger
}

// NewSubscriber connects to NATS and joins the configured queue group.
func NewSubscriber(cfg Config, logger *zap.Logger) (*Subscriber, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := connect(cfg)
	if err != nil {
		return nil, err
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "normalizer"
	}
	sub, err := nc.QueueSubscribeSync(cfg.Subject, queue)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats subscribe %s: %w", cfg.Subject, err)
	}
	if cfg.PendingLimit > 0 {
		if err := sub.SetPendingLimits(cfg.PendingLimit, -1); err != nil {
			nc.Close()
			return nil, fmt.Errorf("nats pending limits: %w", err)
		}
	}
	return &Subscriber{nc: nc, sub: sub, logger: logger}, nil
}

// Receive blocks for the next record. Messages NATS dropped for a slow
// consumer are counted and skipped.
func (s *Subscriber) Receive(ctx context.Context) (inventory.RawRecord, error) {
	for {
		msg, err := s.sub.NextMsgWithContext(ctx)
		if errors.Is(err, nats.ErrSlowConsumer) {
			dropped, _ := s.sub.Dropped()
			s.logger.Warn("nats subscriber fell behind; messages dropped", zap.Int("dropped_total", dropped))
			metrics.ObserveQueueOverflow("transport", "nats_slow_consumer")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("nats receive: %w", err)
		}
		return transport.Decode(msg.Data)
	}
}

// Close leaves the queue group and closes the connection.
func (s *Subscriber) Close() error {
	defer s.nc.Close()
	if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("nats unsubscribe: %w", err)
	}
	return nil
}
