package versioning

import (
	"context"
	"testing"

	"github.com/guregu/null/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func memberVersion(txID int64) *Version {
	return &Version{
		Entity:        "Member",
		Key:           Key{"id": int64(5)},
		TransactionID: txID,
		Fields:        map[string]any{"project_id": "trip", "name": "zed"},
	}
}

func TestSubqueryFetcherPrevious(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	reg := buildTestRegistry(t, Options{})
	d, _ := reg.Descriptor("Member")
	fetcher := FetcherFor(reg, d)

	mock.ExpectQuery(`SELECT \* FROM members_versions WHERE id = \$1 AND transaction_id = \(SELECT max\(transaction_id\) FROM members_versions v2 WHERE v2\.transaction_id < \$2 AND v2\.id = \$3\)`).
		WithArgs(int64(5), int64(20), int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "project_id", "name", "transaction_id", "operation_type"}).
			AddRow(int64(5), "trip", "zoe", int64(12), int16(OpInsert)))

	prev, err := fetcher.Previous(context.Background(), mock, memberVersion(20))
	require.NoError(t, err)
	require.NotNil(t, prev)
	require.Equal(t, int64(12), prev.TransactionID)
	require.Equal(t, OpInsert, prev.Operation)
	require.Equal(t, "zoe", prev.Field("name"))
	require.Equal(t, int64(5), prev.Key["id"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubqueryFetcherPreviousAtStartOfHistory(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	reg := buildTestRegistry(t, Options{})
	d, _ := reg.Descriptor("Member")
	fetcher := FetcherFor(reg, d)

	mock.ExpectQuery(`SELECT \* FROM members_versions`).
		WithArgs(int64(5), int64(20), int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "project_id", "name", "transaction_id", "operation_type"}))

	prev, err := fetcher.Previous(context.Background(), mock, memberVersion(20))
	require.NoError(t, err)
	require.Nil(t, prev)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubqueryFetcherNext(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	reg := buildTestRegistry(t, Options{})
	d, _ := reg.Descriptor("Member")
	fetcher := FetcherFor(reg, d)

	mock.ExpectQuery(`SELECT \* FROM members_versions WHERE id = \$1 AND transaction_id = \(SELECT min\(transaction_id\) FROM members_versions v2 WHERE v2\.transaction_id > \$2 AND v2\.id = \$3\)`).
		WithArgs(int64(5), int64(20), int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "project_id", "name", "transaction_id", "operation_type"}).
			AddRow(int64(5), "trip", "zara", int64(27), int16(OpUpdate)))

	next, err := fetcher.Next(context.Background(), mock, memberVersion(20))
	require.NoError(t, err)
	require.NotNil(t, next)
	require.Equal(t, int64(27), next.TransactionID)
	require.Equal(t, "zara", next.Field("name"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubqueryFetcherIndex(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	reg := buildTestRegistry(t, Options{})
	d, _ := reg.Descriptor("Member")
	fetcher := FetcherFor(reg, d)

	mock.ExpectQuery(`SELECT count\(\*\) FROM members_versions WHERE id = \$1 AND transaction_id < \$2`).
		WithArgs(int64(5), int64(20)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	index, err := fetcher.Index(context.Background(), mock, memberVersion(20))
	require.NoError(t, err)
	require.Equal(t, 3, index)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestValidityFetcherPrevious(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	reg := buildTestRegistry(t, Options{DefaultStrategy: StrategyValidity})
	d, _ := reg.Descriptor("Member")
	fetcher := FetcherFor(reg, d)

	// The previous version is the one whose interval this transaction closed.
	mock.ExpectQuery(`SELECT \* FROM members_versions WHERE id = \$1 AND end_transaction_id = \$2`).
		WithArgs(int64(5), int64(20)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "project_id", "name", "transaction_id", "end_transaction_id", "operation_type"}).
			AddRow(int64(5), "trip", "zoe", int64(12), int64(20), int16(OpInsert)))

	prev, err := fetcher.Previous(context.Background(), mock, memberVersion(20))
	require.NoError(t, err)
	require.NotNil(t, prev)
	require.Equal(t, int64(12), prev.TransactionID)
	require.True(t, prev.EndTxID.Valid)
	require.Equal(t, int64(20), prev.EndTxID.Int64)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestValidityFetcherNext(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	reg := buildTestRegistry(t, Options{DefaultStrategy: StrategyValidity})
	d, _ := reg.Descriptor("Member")
	fetcher := FetcherFor(reg, d)

	// An open interval means this is the newest version: no query runs.
	next, err := fetcher.Next(context.Background(), mock, memberVersion(20))
	require.NoError(t, err)
	require.Nil(t, next)
	require.NoError(t, mock.ExpectationsWereMet())

	closed := memberVersion(20)
	closed.EndTxID = null.IntFrom(27)
	mock.ExpectQuery(`SELECT \* FROM members_versions WHERE id = \$1 AND transaction_id = \$2`).
		WithArgs(int64(5), int64(27)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "project_id", "name", "transaction_id", "end_transaction_id", "operation_type"}).
			AddRow(int64(5), "trip", "zara", int64(27), nil, int16(OpUpdate)))

	next, err = fetcher.Next(context.Background(), mock, closed)
	require.NoError(t, err)
	require.NotNil(t, next)
	require.Equal(t, int64(27), next.TransactionID)
	require.False(t, next.EndTxID.Valid)
	require.NoError(t, mock.ExpectationsWereMet())
}
