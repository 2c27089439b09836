// Package inventory defines the core types shared across the ingest pipeline:
// source descriptors, raw records in flight, the canonical host record and the
// interfaces that connect fetch, transport, normalization and storage.
package inventory
