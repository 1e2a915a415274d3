package prices

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upsertPattern = regexp.QuoteMeta("INSERT INTO rubber_prices")

func TestSave_DedupesBatchAndSumsAffectedRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	inr := sample()
	usd := sample()
	usd.Currency = USD
	usd.Price = decimal.RequireFromString("2.10")

	mock.ExpectBegin()
	mock.ExpectPrepare(upsertPattern)
	mock.ExpectExec(upsertPattern).
		WithArgs(inr.Key(), "2025-03-01", "RSS4", CategoryNaturalRubber, sqlmock.AnyArg(), "INR",
			"DOMESTIC", "KOTTAYAM", sqlmock.AnyArg(), "Rubber Board", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(upsertPattern).
		WithArgs(usd.Key(), "2025-03-01", "RSS4", CategoryNaturalRubber, sqlmock.AnyArg(), "USD",
			"DOMESTIC", "KOTTAYAM", sqlmock.AnyArg(), "Rubber Board", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := NewStore(db).Save(context.Background(), []Record{inr, usd, inr})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSave_ReplayAffectsNothing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectPrepare(upsertPattern)
	mock.ExpectExec(upsertPattern).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	n, err := NewStore(db).Save(context.Background(), []Record{sample()})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSave_RollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectPrepare(upsertPattern)
	mock.ExpectExec(upsertPattern).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err = NewStore(db).Save(context.Background(), []Record{sample()})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSave_EmptyBatchSkipsDatabase(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	n, err := NewStore(db).Save(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryStore_SameBatchTwice(t *testing.T) {
	m := NewMemoryStore()
	inr := sample()
	usd := sample()
	usd.Currency = USD
	usd.Price = decimal.RequireFromString("2.10")
	batch := []Record{inr, usd}

	n, err := m.Save(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = m.Save(context.Background(), batch)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, m.Rows(), 2)

	inr.Price = decimal.RequireFromString("18600")
	n, err = m.Save(context.Background(), []Record{inr})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, m.Rows(), 2)
}
