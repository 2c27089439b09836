package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/host-inventory/internal/inventory"
)

type fixedID string

func (f fixedID) NewID() (string, error) { return string(f), nil }

func newMockStore(t *testing.T) (*HostStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewHostStoreWithPool(mock, "hosts", fixedID("0192f7a4-0000-7000-8000-000000000001"))
	require.NoError(t, err)
	return store, mock
}

func TestFindByHostnameDecodesDocument(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	want := inventory.HostRecord{Hostname: "h", OS: inventory.String("linux"), Tags: []string{"prod"}}
	doc, err := json.Marshal(want)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT id::text, document FROM hosts WHERE hostname = \$1`).
		WithArgs("h").
		WillReturnRows(pgxmock.NewRows([]string{"id", "document"}).AddRow("row-1", doc))

	got, err := store.FindByHostname(context.Background(), "h")
	require.NoError(t, err)
	assert.Equal(t, "row-1", got.ID)
	assert.Equal(t, want, got.Record)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByHostnameNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id::text, document FROM hosts").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.FindByHostname(context.Background(), "missing")
	require.ErrorIs(t, err, inventory.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertWritesRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rec := inventory.HostRecord{Hostname: "h", Zone: inventory.String("us-east-1")}
	doc, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO hosts").
		WithArgs("0192f7a4-0000-7000-8000-000000000001", "h", doc).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Insert(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceUpdatesDocument(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rec := inventory.HostRecord{Hostname: "h", OS: inventory.String("windows")}
	doc, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE hosts SET document").
		WithArgs("row-1", doc).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE hosts SET document").
		WithArgs("row-2", doc).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.Replace(context.Background(), "row-1", rec))
	require.ErrorIs(t, store.Replace(context.Background(), "row-2", rec), inventory.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS hosts").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS hosts_hostname_idx").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecErrorsAreWrapped(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	boom := errors.New("connection reset")
	mock.ExpectExec("INSERT INTO hosts").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(boom)

	err := store.Insert(context.Background(), inventory.HostRecord{Hostname: "h"})
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "insert host")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewHostStoreWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewHostStoreWithPool(nil, "hosts", nil)
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewHostStoreWithPool(mock, "hosts; DROP TABLE x", nil)
	require.ErrorContains(t, err, "invalid table name")

	_, err = NewHostStore(context.Background(), Config{})
	require.ErrorContains(t, err, "dsn is required")
}
