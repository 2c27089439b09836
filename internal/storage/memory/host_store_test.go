package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/host-inventory/internal/inventory"
)

type sequentialIDs struct{ n int }

func (s *sequentialIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("id-%d", s.n), nil
}

func TestHostStoreInsertFindReplace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewHostStore(&sequentialIDs{})

	_, err := s.FindByHostname(ctx, "h")
	require.ErrorIs(t, err, inventory.ErrNotFound)

	require.NoError(t, s.Insert(ctx, inventory.HostRecord{Hostname: "h", OS: inventory.String("linux")}))
	found, err := s.FindByHostname(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, "id-1", found.ID)
	assert.Equal(t, "linux", *found.Record.OS)

	require.NoError(t, s.Replace(ctx, found.ID, inventory.HostRecord{Hostname: "h", OS: inventory.String("windows")}))
	found, err = s.FindByHostname(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, "windows", *found.Record.OS)

	require.ErrorIs(t, s.Replace(ctx, "missing", inventory.HostRecord{}), inventory.ErrNotFound)
}

func TestHostStoreHostnameIsExactMatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewHostStore(nil)
	require.NoError(t, s.Insert(ctx, inventory.HostRecord{Hostname: "Web-01"}))

	_, err := s.FindByHostname(ctx, "web-01")
	require.ErrorIs(t, err, inventory.ErrNotFound)
}

func TestHostStoreReturnsFirstInsertedDuplicate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewHostStore(&sequentialIDs{})
	require.NoError(t, s.Insert(ctx, inventory.HostRecord{Hostname: "h", Zone: inventory.String("a")}))
	require.NoError(t, s.Insert(ctx, inventory.HostRecord{Hostname: "h", Zone: inventory.String("b")}))

	found, err := s.FindByHostname(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, "id-1", found.ID)
	assert.Len(t, s.List(), 2)
}

func TestHostStoreCopiesRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewHostStore(nil)
	rec := inventory.HostRecord{Hostname: "h", Tags: []string{"a"}, OS: inventory.String("linux")}
	require.NoError(t, s.Insert(ctx, rec))

	rec.Tags[0] = "mutated"
	*rec.OS = "mutated"

	found, err := s.FindByHostname(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, found.Record.Tags)
	assert.Equal(t, "linux", *found.Record.OS)
}
