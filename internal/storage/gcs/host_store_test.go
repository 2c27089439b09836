package gcs

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/host-inventory/internal/inventory"
)

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (f *fakeObjects) Read(_ context.Context, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.objects[name]
	if !ok {
		return nil, inventory.ErrNotFound
	}
	return data, nil
}

func (f *fakeObjects) Write(_ context.Context, name string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.objects[name] = append([]byte(nil), data...)
	return nil
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "hosts/web-01.json", newHostStore(nil, "/hosts/").ObjectName("web-01"))
	assert.Equal(t, "a%2Fb.json", newHostStore(nil, "").ObjectName("a/b"))
}

func TestHostStoreRoundTrip(t *testing.T) {
	t.Parallel()

	objects := &fakeObjects{objects: map[string][]byte{}}
	s := newHostStore(objects, "inventory")
	ctx := context.Background()

	_, err := s.FindByHostname(ctx, "h")
	require.ErrorIs(t, err, inventory.ErrNotFound)

	rec := inventory.HostRecord{Hostname: "h", Latitude: inventory.Float(39.04), Tags: []string{}}
	require.NoError(t, s.Insert(ctx, rec))
	assert.Contains(t, objects.objects, "inventory/h.json")

	found, err := s.FindByHostname(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, "inventory/h.json", found.ID)
	assert.Equal(t, rec, found.Record)

	merged := inventory.Merge(found.Record, inventory.HostRecord{Hostname: "h", OS: inventory.String("linux")})
	require.NoError(t, s.Replace(ctx, found.ID, merged))
	found, err = s.FindByHostname(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, "linux", *found.Record.OS)
	assert.InDelta(t, 39.04, *found.Record.Latitude, 1e-9)
}

func TestHostStoreErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("bucket unavailable")
	s := newHostStore(&fakeObjects{objects: map[string][]byte{}, err: boom}, "")
	_, err := s.FindByHostname(context.Background(), "h")
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, s.Insert(context.Background(), inventory.HostRecord{Hostname: "h"}), boom)

	corrupt := newHostStore(&fakeObjects{objects: map[string][]byte{"h.json": []byte("{")}}, "")
	_, err = corrupt.FindByHostname(context.Background(), "h")
	require.ErrorContains(t, err, "decode host object")
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
}
