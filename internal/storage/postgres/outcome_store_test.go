package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/page-archiver/internal/archive"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fixedIDs struct {
	id  string
	err error
}

func (g fixedIDs) NewID() (string, error) { return g.id, g.err }

func TestRecordInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1700000000, 0).UTC()
	store, err := NewOutcomeStoreWithPool(mock, "", fixedIDs{id: "0190a1b2-0000-7000-8000-000000000001"}, fixedClock{t: now})
	require.NoError(t, err)

	outcome := archive.FetchOutcome{
		Success:      true,
		RequestedURL: "https://example.com/a/../b//c.html",
		ResolvedURL:  "https://example.com/b/c.html",
		StorageKey:   "example.com/b/c.html",
		Status:       200,
		Headers:      map[string]string{"content-type": "text/html"},
	}
	key := outcome.StorageKey

	mock.ExpectExec("INSERT INTO fetch_outcomes").
		WithArgs(
			"0190a1b2-0000-7000-8000-000000000001",
			now,
			outcome.RequestedURL,
			outcome.ResolvedURL,
			&key,
			true,
			200,
			[]byte(`{"content-type":"text/html"}`),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Record(context.Background(), outcome))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFailedOutcomeStoresNullKey(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1700000000, 0).UTC()
	store, err := NewOutcomeStoreWithPool(mock, "ledger", fixedIDs{id: "id-1"}, fixedClock{t: now})
	require.NoError(t, err)

	var nilKey *string
	mock.ExpectExec("INSERT INTO ledger").
		WithArgs("id-1", now, "https://void", "https://void", nilKey, false, 0, []byte(`{}`)).
		WillReturnError(errors.New("connection reset"))

	err = store.Record(context.Background(), archive.FailedOutcome("https://void"))
	require.ErrorContains(t, err, "insert outcome")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordIDFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewOutcomeStoreWithPool(mock, "", fixedIDs{err: errors.New("entropy")}, fixedClock{})
	require.NoError(t, err)
	assert.ErrorContains(t, store.Record(context.Background(), archive.FailedOutcome("https://x")), "entropy")
}

func TestNewOutcomeStoreValidation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewOutcomeStoreWithPool(nil, "", fixedIDs{}, fixedClock{})
	assert.Error(t, err)
	_, err = NewOutcomeStoreWithPool(mock, "bad-name;", fixedIDs{}, fixedClock{})
	assert.Error(t, err)
	_, err = NewOutcomeStoreWithPool(mock, "", nil, fixedClock{})
	assert.Error(t, err)
	_, err = NewOutcomeStore(context.Background(), Config{}, fixedIDs{}, fixedClock{})
	assert.Error(t, err)

	var nilStore *OutcomeStore
	assert.Error(t, nilStore.Record(context.Background(), archive.FetchOutcome{}))
	nilStore.Close()
}

func TestPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewOutcomeStoreWithPool(mock, "", fixedIDs{}, fixedClock{})
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	assert.ErrorContains(t, store.Ping(context.Background()), "connection refused")
	require.NoError(t, mock.ExpectationsWereMet())

	var nilStore *OutcomeStore
	assert.Error(t, nilStore.Ping(context.Background()))
}
