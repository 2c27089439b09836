// Package gcs provides a HostStore backed by Google Cloud Storage. Each host
// is one JSON object named after its hostname.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/host-inventory/internal/inventory"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	Prefix string
}

type objectStore interface {
	Read(ctx context.Context, name string) ([]byte, error)
	Write(ctx context.Context, name string, data []byte) error
}

// HostStore keeps host documents as bucket objects.
type HostStore struct {
	objects objectStore
	prefix  string
}

// New creates a GCS-backed host store.
func New(client *storage.Client, cfg Config) (*HostStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return newHostStore(&bucketObjects{bucket: client.Bucket(cfg.Bucket)}, cfg.Prefix), nil
}

func newHostStore(objects objectStore, prefix string) *HostStore {
	return &HostStore{objects: objects, prefix: strings.Trim(prefix, "/")}
}

// ObjectName returns the object holding hostname's document. The object
// name doubles as the document ID.
func (s *HostStore) ObjectName(hostname string) string {
	name := url.PathEscape(hostname) + ".json"
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

// FindByHostname reads the hostname's object.
func (s *HostStore) FindByHostname(ctx context.Context, hostname string) (inventory.StoredHost, error) {
	name := s.ObjectName(hostname)
	data, err := s.objects.Read(ctx, name)
	if err != nil {
		return inventory.StoredHost{}, err
	}
	var record inventory.HostRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return inventory.StoredHost{}, fmt.Errorf("decode host object %s: %w", name, err)
	}
	return inventory.StoredHost{ID: name, Record: record}, nil
}

// Insert writes the hostname's object.
func (s *HostStore) Insert(ctx context.Context, record inventory.HostRecord) error {
	return s.write(ctx, s.ObjectName(record.Hostname), record)
}

// Replace overwrites the object named id.
func (s *HostStore) Replace(ctx context.Context, id string, record inventory.HostRecord) error {
	return s.write(ctx, id, record)
}

func (s *HostStore) write(ctx context.Context, name string, record inventory.HostRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode host document: %w", err)
	}
	return s.objects.Write(ctx, name, data)
}

type bucketObjects struct {
	bucket *storage.BucketHandle
}

func (b *bucketObjects) Read(ctx context.Context, name string) ([]byte, error) {
	reader, err := b.bucket.Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, inventory.ErrNotFound
		}
		return nil, fmt.Errorf("open object %s: %w", name, err)
	}
	defer reader.Close() //nolint:errcheck
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", name, err)
	}
	return data, nil
}

func (b *bucketObjects) Write(ctx context.Context, name string, data []byte) error {
	writer := b.bucket.Object(name).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write object %s: %w (close writer: %v)", name, err, closeErr)
		}
		return fmt.Errorf("write object %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}
