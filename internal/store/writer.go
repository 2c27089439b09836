package store

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/host-inventory/internal/inventory"
	"github.com/JakeFAU/host-inventory/internal/metrics"
)

var tracer = otel.Tracer("github.com/JakeFAU/host-inventory/internal/store")

// Outcome describes what an upsert did.
type Outcome string

// Upsert outcomes.
const (
	OutcomeInserted Outcome = "inserted"
	OutcomeMerged   Outcome = "merged"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
)

// Writer upserts host records into a HostStore.
//
// The lookup and the write are separate store calls. Two writers upserting
// the same hostname concurrently can lose one of the updates.
type Writer struct {
	hosts  inventory.HostStore
	logger *zap.Logger
}

// NewWriter creates a Writer.
func NewWriter(hosts inventory.HostStore, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{hosts: hosts, logger: logger}
}

// Upsert inserts record when no document has its hostname, and otherwise
// replaces the stored document with inventory.Merge(stored, record).
func (w *Writer) Upsert(ctx context.Context, record inventory.HostRecord) (outcome Outcome, err error) {
	ctx, span := tracer.Start(ctx, "store.upsert", trace.WithAttributes(
		attribute.String("hostname", record.Hostname),
	))
	defer func() {
		span.SetAttributes(attribute.String("outcome", string(outcome)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(outcome))
		}
		span.End()
		metrics.ObserveUpsert(string(outcome))
	}()

	if record.Hostname == "" {
		return OutcomeRejected, inventory.ErrMissingHostname
	}

	existing, err := w.hosts.FindByHostname(ctx, record.Hostname)
	switch {
	case errors.Is(err, inventory.ErrNotFound):
		if err := w.hosts.Insert(ctx, record); err != nil {
			return OutcomeFailed, fmt.Errorf("insert host %q: %w", record.Hostname, err)
		}
		w.logger.Debug("host inserted", zap.String("hostname", record.Hostname))
		return OutcomeInserted, nil
	case err != nil:
		return OutcomeFailed, fmt.Errorf("find host %q: %w", record.Hostname, err)
	}

	merged := inventory.Merge(existing.Record, record)
	if err := w.hosts.Replace(ctx, existing.ID, merged); err != nil {
		return OutcomeFailed, fmt.Errorf("replace host %q: %w", record.Hostname, err)
	}
	w.logger.Debug("host merged", zap.String("hostname", record.Hostname), zap.String("id", existing.ID))
	return OutcomeMerged, nil
}
