package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stadspuls/eventpipe/internal/database"
	"github.com/stadspuls/eventpipe/internal/domain"
)

func TestDLQInsertReturnsGeneratedFields(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewDLQRepository(db)

	now := time.Now()
	mock.ExpectQuery(`INSERT INTO dead_letter_queue`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("dlq-1", now))

	item := domain.NewDeadLetterItem("src-1", domain.StageParse, domain.ErrorSourceDrift, "no cards extracted")
	item.Payload = domain.JSONBMap{"jobId": "job-1"}
	item.OriginalJobID = strPtr("job-1")

	require.NoError(t, repo.Insert(context.Background(), item))
	assert.Equal(t, "dlq-1", item.ID)
	assert.Equal(t, now, item.CreatedAt)
}

func TestDLQMarkRetryingGuardsTerminalStates(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewDLQRepository(db)

	mock.ExpectExec(`SET status = 'retrying'`).
		WithArgs("dlq-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkRetrying(context.Background(), "dlq-1"))

	// Resolved, discarded, or exhausted items match zero rows.
	mock.ExpectExec(`SET status = 'retrying'`).
		WithArgs("dlq-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.MarkRetrying(context.Background(), "dlq-1"), domain.ErrNotFound)
}

func TestDLQDiscardRecordsReason(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewDLQRepository(db)

	mock.ExpectExec(`SET status = 'discarded'`).
		WithArgs("dlq-1", "Discarded after max retries").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkDiscarded(context.Background(), "dlq-1", "Discarded after max retries"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDLQStatsActive(t *testing.T) {
	db, mock := newMockDB(t)
	repo := database.NewDLQRepository(db)

	mock.ExpectQuery(`FROM dead_letter_queue`).
		WillReturnRows(sqlmock.NewRows([]string{"pending", "retrying", "resolved", "discarded"}).
			AddRow(40, 12, 100, 5))

	stats, err := repo.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(52), stats.Active())
	assert.True(t, stats.Active() >= domain.DLQAlertThreshold)
}

func strPtr(s string) *string { return &s }
