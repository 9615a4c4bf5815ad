package repository

import (
	"context"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/fairshare-app/fairshare/internal/versioning"
)

func newHistoryRepoMock(t *testing.T) (*historyRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &historyRepository{db: mock}, mock
}

func TestBillOwerChangesSplitsByOperation(t *testing.T) {
	repo, mock := newHistoryRepoMock(t)

	mock.ExpectQuery("SELECT member_id, operation_type FROM bill_owers_versions").
		WithArgs(int64(9), int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"member_id", "operation_type"}).
			AddRow(int64(1), int16(versioning.OpDelete)).
			AddRow(int64(2), int16(versioning.OpInsert)))

	change, err := repo.BillOwerChanges(context.Background(), 9, 5)
	require.NoError(t, err)
	require.Equal(t, []int64{2}, change.Added)
	require.Equal(t, []int64{1}, change.Removed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStripRemoteAddrs(t *testing.T) {
	repo, mock := newHistoryRepoMock(t)

	mock.ExpectQuery("SELECT transaction_id FROM projects_versions").
		WithArgs("trip").
		WillReturnRows(pgxmock.NewRows([]string{"transaction_id"}).
			AddRow(int64(3)).
			AddRow(int64(4)))
	mock.ExpectExec("UPDATE transactions SET remote_addr = NULL").
		WithArgs([]int64{3, 4}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	require.NoError(t, repo.StripRemoteAddrs(context.Background(), "trip"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStripRemoteAddrsNoHistory(t *testing.T) {
	repo, mock := newHistoryRepoMock(t)

	mock.ExpectQuery("SELECT transaction_id FROM projects_versions").
		WithArgs("empty").
		WillReturnRows(pgxmock.NewRows([]string{"transaction_id"}))

	require.NoError(t, repo.StripRemoteAddrs(context.Background(), "empty"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeDeletesVersionsThenLedger(t *testing.T) {
	repo, mock := newHistoryRepoMock(t)

	mock.ExpectQuery("SELECT transaction_id FROM projects_versions").
		WithArgs("trip").
		WillReturnRows(pgxmock.NewRows([]string{"transaction_id"}).AddRow(int64(7)))

	for _, table := range []string{
		"DELETE FROM bill_owers_versions",
		"DELETE FROM bills_versions",
		"DELETE FROM members_versions",
		"DELETE FROM projects_versions",
	} {
		mock.ExpectExec(table).
			WithArgs("trip").
			WillReturnResult(pgxmock.NewResult("DELETE", 1))
	}
	for _, table := range []string{
		"DELETE FROM transaction_changes",
		"DELETE FROM transaction_meta",
		"DELETE FROM transactions",
	} {
		mock.ExpectExec(table).
			WithArgs([]int64{7}).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))
	}

	require.NoError(t, repo.Purge(context.Background(), "trip"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProjectHistoryAssemblesRecords(t *testing.T) {
	repo, mock := newHistoryRepoMock(t)
	issued := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM projects_versions WHERE id").
		WithArgs("trip").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "password", "contact_email", "default_currency", "logging_preference", "transaction_id", "operation_type",
		}).AddRow(strPtr("trip"), strPtr("Trip"), strPtr("hash"), strPtr("a@b.c"), strPtr("EUR"), int16Ptr(1), int64(1), int16(0)))
	mock.ExpectQuery("FROM members_versions WHERE project_id").
		WithArgs("trip").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "project_id", "name", "weight", "activated", "transaction_id", "operation_type",
		}))
	mock.ExpectQuery("FROM bills_versions").
		WithArgs("trip").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "payer_id", "amount", "date", "creation_date", "what", "external_link", "original_currency", "converted_amount", "transaction_id", "operation_type",
		}))
	mock.ExpectQuery("SELECT id, issued_at, remote_addr, actor_id FROM transactions").
		WithArgs([]int64{1}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "issued_at", "remote_addr", "actor_id"}).
			AddRow(int64(1), issued, nil, nil))

	records, err := repo.ProjectHistory(context.Background(), "trip")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "Project", records[0].Version.Entity)
	require.Equal(t, "Trip", records[0].Version.Fields["name"])
	require.Equal(t, issued, records[0].Tx.IssuedAt)
	require.False(t, records[0].Tx.RemoteAddr.Valid)
	require.NoError(t, mock.ExpectationsWereMet())
}

func strPtr(s string) *string { return &s }

func int16Ptr(n int16) *int16 { return &n }
