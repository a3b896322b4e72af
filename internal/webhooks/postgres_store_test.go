package webhooks

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/podswap/internal/swap"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(db), mock
}

func TestPostgresStore_ListByOwner(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM webhooks WHERE owner_addr = $1")).
		WithArgs(proposer.Hex()).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "owner_addr", "url", "secret", "events", "active", "created_at", "last_error", "last_error_at",
		}).
			AddRow("wh_1", proposer.Hex(), "https://example.com/a", "s1", "{swap.claimed,swap.refunded}", true, created, nil, nil).
			AddRow("wh_2", proposer.Hex(), "https://example.com/b", "s2", "{}", false, created, "status 500", created))

	subs, err := store.ListByOwner(context.Background(), proposer)
	require.NoError(t, err)
	require.Len(t, subs, 2)

	assert.Equal(t, proposer, subs[0].Owner)
	assert.Equal(t, []swap.EventType{swap.EventClaimed, swap.EventRefunded}, subs[0].Events)
	assert.Nil(t, subs[0].LastErrorAt)

	assert.False(t, subs[1].Active)
	assert.Empty(t, subs[1].Events)
	assert.Equal(t, "status 500", subs[1].LastError)
	require.NotNil(t, subs[1].LastErrorAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetMissing(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM webhooks WHERE id = $1")).
		WithArgs("wh_gone").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.Get(context.Background(), "wh_gone")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_DeleteScopedToOwner(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM webhooks WHERE id = $1 AND owner_addr = $2")).
		WithArgs("wh_1", stranger.Hex()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM webhooks WHERE id = $1 AND owner_addr = $2")).
		WithArgs("wh_1", proposer.Hex()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.ErrorIs(t, store.Delete(context.Background(), "wh_1", stranger), ErrNotFound)
	assert.NoError(t, store.Delete(context.Background(), "wh_1", proposer))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetAndClearError(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE webhooks SET last_error = $1, last_error_at = $2 WHERE id = $3")).
		WithArgs("status 502", at, "wh_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE webhooks SET last_error = NULL")).
		WithArgs("wh_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.SetError(context.Background(), "wh_1", "status 502", at))
	require.NoError(t, store.ClearError(context.Background(), "wh_1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
