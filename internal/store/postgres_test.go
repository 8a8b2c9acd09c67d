package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efdreinf/reinf-cli/internal/model"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock, now: func() time.Time { return fixedNow }}
	return s, mock
}

var eventCols = []string{"id", "identity_id", "display_name", "stage", "outcome", "notes", "recorded_at"}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS progress_events`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Contains(t, postgresMigration, "dependent_values_processed")
}

func TestPostgresStore_RecordEvent(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO progress_events`).
		WithArgs("111", "ANA", model.StageSubmit, "success", "", fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.RecordEvent(context.Background(), model.ProgressEvent{
		IdentityID: "111", DisplayName: "ANA", Stage: model.StageSubmit, Outcome: model.OutcomeSuccess,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordEvent_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO progress_events`).
		WillReturnError(errors.New("connection reset"))

	err := s.RecordEvent(context.Background(), model.ProgressEvent{
		IdentityID: "111", Stage: model.StageSubmit, Outcome: model.OutcomeSuccess,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: insert event")
}

func TestPostgresStore_LatestEvent_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM progress_events WHERE identity_id = \$1 ORDER BY recorded_at DESC, id DESC LIMIT 1`).
		WithArgs("111").
		WillReturnError(pgx.ErrNoRows)

	ev, err := s.LatestEvent(context.Background(), "111")
	require.NoError(t, err)
	assert.Nil(t, ev)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GroupIsComplete(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM progress_events WHERE identity_id = \$1`).
		WithArgs("111").
		WillReturnRows(pgxmock.NewRows(eventCols).
			AddRow(int64(9), "111", "ANA", model.StageGroupComplete, "success", "", fixedNow))

	complete, err := s.GroupIsComplete(context.Background(), "111")
	require.NoError(t, err)
	assert.True(t, complete)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GroupWasSkipped(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM progress_events WHERE identity_id = \$1`).
		WithArgs("111").
		WillReturnRows(pgxmock.NewRows(eventCols).
			AddRow(int64(3), "111", "ANA", model.StageDuplicateDetected, "skipped", "", fixedNow))

	skipped, err := s.GroupWasSkipped(context.Background(), "111")
	require.NoError(t, err)
	assert.True(t, skipped)
}

func TestPostgresStore_ListEvents_BuildsPlaceholders(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE identity_id = \$1 AND outcome = \$2 ORDER BY recorded_at, id LIMIT \$3`).
		WithArgs("111", "error", 5).
		WillReturnRows(pgxmock.NewRows(eventCols).
			AddRow(int64(1), "111", "ANA", model.StageSubmit, "error", "timeout", fixedNow))

	evs, err := s.ListEvents(context.Background(), EventFilter{IdentityID: "111", Outcome: model.OutcomeError, Limit: 5})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "timeout", evs[0].Notes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordSubEntity(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO plans_processed`).
		WithArgs("111", "23.802.218/0001-65", "", "", "100,00", "success", fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.RecordSubEntity(context.Background(), model.SubEntityRecord{
		Kind: model.SubEntityPlan, IdentityID: "111", Key: "23.802.218/0001-65", Amount: "100,00", Outcome: model.OutcomeSuccess,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IsSubEntityDone(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM dependents_processed`).
		WithArgs("111", "222").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	done, err := s.IsSubEntityDone(context.Background(), model.SubEntityDependent, "111", "222")
	require.NoError(t, err)
	assert.True(t, done)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PurgeGroup(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM dependents_processed`).WithArgs("111").WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(`DELETE FROM plans_processed`).WithArgs("111").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM dependent_values_processed`).WithArgs("111").WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(`DELETE FROM progress_events`).WithArgs("111", model.StageGroupComplete).WillReturnResult(pgxmock.NewResult("DELETE", 4))
	mock.ExpectCommit()

	require.NoError(t, s.PurgeGroup(context.Background(), "111"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PurgeGroup_RollsBackOnError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM dependents_processed`).WithArgs("111").WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	err := s.PurgeGroup(context.Background(), "111")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: purge dependent")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CheckpointOrdinal(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO checkpoint_pointer .* ON CONFLICT \(id\) DO UPDATE`).
		WithArgs(5, fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT last_ordinal FROM checkpoint_pointer`).
		WillReturnRows(pgxmock.NewRows([]string{"last_ordinal"}).AddRow(5))

	ctx := context.Background()
	require.NoError(t, s.SetCheckpointOrdinal(ctx, 5))
	n, ok, err := s.GetCheckpointOrdinal(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCheckpointOrdinal_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT last_ordinal FROM checkpoint_pointer`).
		WillReturnError(pgx.ErrNoRows)

	_, ok, err := s.GetCheckpointOrdinal(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresStore_PurgeAll(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`TRUNCATE progress_events, checkpoint_pointer, dependents_processed`).
		WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))

	require.NoError(t, s.PurgeAll(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
