// Package fetcher runs one independent poll loop per configured source. Each
// loop walks its source page by page and publishes every record, tagged with
// the source name, onto the transport channel.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/host-inventory/internal/inventory"
	"github.com/JakeFAU/host-inventory/internal/metrics"
	queuememory "github.com/JakeFAU/host-inventory/internal/queue/memory"
)

var tracer = otel.Tracer("github.com/JakeFAU/host-inventory/internal/fetcher")

// ErrNoSources is returned when the fetch unit is started without sources.
var ErrNoSources = errors.New("no sources configured")

// Options carries the dependencies shared by every poller.
type Options struct {
	Fetcher   inventory.PageFetcher
	Publisher inventory.Publisher
	Retry     inventory.RetryPolicy
	Limiter   inventory.Limiter
	Logger    *zap.Logger
	Token     string
	// IdleInterval is slept after an empty page before asking again.
	IdleInterval time.Duration
}

// Poller owns the pagination cursor of a single source.
type Poller struct {
	source inventory.Source
	skip   atomic.Int64
	opts   Options
	logger *zap.Logger
}

// New creates a Poller starting at the source's configured cursor.
func New(source inventory.Source, opts Options) *Poller {
	if source.Limit <= 0 {
		source.Limit = inventory.DefaultPageSize
	}
	if opts.Retry == nil {
		opts.Retry = NewExponentialRetryPolicy(1, 0, 0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Poller{
		source: source,
		opts:   opts,
		logger: logger.With(zap.String("source", source.Name)),
	}
	p.skip.Store(int64(source.Skip))
	return p
}

// NewAll creates one Poller per source.
func NewAll(sources []inventory.Source, opts Options) []*Poller {
	pollers := make([]*Poller, 0, len(sources))
	for _, src := range sources {
		pollers = append(pollers, New(src, opts))
	}
	return pollers
}

// Name returns the source name.
func (p *Poller) Name() string {
	return p.source.Name
}

// Cursor returns a snapshot of the source with its current skip.
func (p *Poller) Cursor() inventory.Source {
	src := p.source
	src.Skip = int(p.skip.Load())
	return src
}

// Run polls until ctx ends or the source fails in a way the retry policy
// will not absorb. A canceled context is a clean stop and returns nil.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started", zap.Int("skip", int(p.skip.Load())), zap.Int("limit", p.source.Limit))
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		if p.opts.Limiter != nil {
			if err := p.opts.Limiter.Wait(ctx, p.source.Name); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return p.stop(fmt.Errorf("rate limit source %s: %w", p.source.Name, err))
			}
		}

		request := p.request()
		records, err := p.fetch(ctx, request)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			attempt++
			metrics.ObserveFetchError(p.source.Name, string(inventory.KindOf(err)))
			if !p.opts.Retry.ShouldRetry(err, attempt) {
				return p.stop(fmt.Errorf("poll source %s at skip %d: %w", p.source.Name, request.Skip, err))
			}
			delay := p.opts.Retry.Backoff(attempt)
			p.logger.Warn("page fetch failed; retrying",
				zap.Int("skip", request.Skip),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(err),
			)
			if !sleep(ctx, delay) {
				return nil
			}
			continue
		}
		attempt = 0

		next := p.Cursor().Advance().Skip
		p.skip.Store(int64(next))
		metrics.ObservePage(p.source.Name, len(records), int(next))
		p.logger.Debug("page fetched", zap.Int("skip", request.Skip), zap.Int("records", len(records)))

		for _, record := range records {
			if err := p.opts.Publisher.Publish(ctx, record.Tag(p.source.Name)); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if errors.Is(err, queuememory.ErrQueueFull) {
					metrics.ObserveDropped("queue_full")
					p.logger.Warn("transport full; record dropped", zap.Int("skip", request.Skip))
					continue
				}
				return p.stop(fmt.Errorf("publish record from %s: %w", p.source.Name, err))
			}
		}

		if len(records) == 0 && !sleep(ctx, p.opts.IdleInterval) {
			return nil
		}
	}
}

func (p *Poller) request() inventory.PageRequest {
	headers := http.Header{}
	headers.Set("Accept", "application/json")
	if p.opts.Token != "" {
		headers.Set("Token", p.opts.Token)
	}
	return inventory.PageRequest{
		Source:  p.source.Name,
		URL:     p.source.URL,
		Skip:    int(p.skip.Load()),
		Limit:   p.source.Limit,
		Headers: headers,
	}
}

func (p *Poller) fetch(ctx context.Context, request inventory.PageRequest) ([]inventory.RawRecord, error) {
	ctx, span := tracer.Start(ctx, "fetch.page", trace.WithAttributes(
		attribute.String("source", request.Source),
		attribute.Int("skip", request.Skip),
		attribute.Int("limit", request.Limit),
	))
	defer span.End()

	records, err := p.opts.Fetcher.FetchPage(ctx, request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(inventory.KindOf(err)))
		return nil, err
	}
	span.SetAttributes(attribute.Int("records", len(records)))
	return records, nil
}

func (p *Poller) stop(err error) error {
	metrics.ObservePollerStopped(p.source.Name)
	p.logger.Error("poller stopped", zap.Int("skip", int(p.skip.Load())), zap.Error(err))
	return err
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
