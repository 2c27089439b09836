package inventory

import (
	"context"
	"time"
)

// PageFetcher retrieves one page of raw records from a source API.
type PageFetcher interface {
	FetchPage(ctx context.Context, request PageRequest) ([]RawRecord, error)
}

// Publisher sends raw records onto the transport channel. Publish must be
// safe for concurrent use by every poll loop of the fetch unit.
type Publisher interface {
	Publish(ctx context.Context, record RawRecord) error
	Close() error
}

// Subscriber is the single consumer side of the transport channel.
type Subscriber interface {
	Receive(ctx context.Context) (RawRecord, error)
	Close() error
}

// HostStore persists host documents keyed by hostname.
type HostStore interface {
	FindByHostname(ctx context.Context, hostname string) (StoredHost, error)
	Insert(ctx context.Context, record HostRecord) error
	Replace(ctx context.Context, id string, record HostRecord) error
}

// RetryPolicy decides whether and when a failed fetch is retried.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Limiter throttles requests per key.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// IDGenerator produces document IDs.
type IDGenerator interface {
	NewID() (string, error)
}
