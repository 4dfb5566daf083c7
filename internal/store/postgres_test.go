package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/menu-extractor/internal/apperr"
	"github.com/sells-group/menu-extractor/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "Zia", 2, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"stage_states"}, []string{"run_id", "stage", "status", "stale", "error", "updated_at"}).
		WillReturnResult(4)
	mock.ExpectCommit()

	run, err := s.CreateRun(context.Background(), "Zia", 2)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, 2, run.PageCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun_InsertFails(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO runs`).WillReturnError(fmt.Errorf("disk full"))
	mock.ExpectRollback()

	_, err := s.CreateRun(context.Background(), "Zia", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, restaurant_name, page_count, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "restaurant_name", "page_count", "created_at", "updated_at"}).
			AddRow("run-1", "Zia", 3, now, now))

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "Zia", run.RestaurantName)
	assert.Equal(t, 3, run.PageCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, restaurant_name, page_count, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_Filter(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .* FROM runs WHERE true AND restaurant_name = \$1 ORDER BY created_at DESC, id LIMIT \$2 OFFSET \$3`).
		WithArgs("Zia", 10, 5).
		WillReturnRows(pgxmock.NewRows([]string{"id", "restaurant_name", "page_count", "created_at", "updated_at"}).
			AddRow("run-1", "Zia", 1, now, now).
			AddRow("run-2", "Zia", 2, now, now))

	runs, err := s.ListRuns(context.Background(), model.RunFilter{RestaurantName: "Zia", Limit: 10, Offset: 5})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveDocument(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE runs SET document`).
		WithArgs([]byte("pdf"), 2, pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`DELETE FROM run_pages`).
		WithArgs("run-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"run_pages"}, []string{"run_id", "page_number", "png"}).
		WillReturnResult(2)
	mock.ExpectCommit()

	err := s.SaveDocument(context.Background(), "run-1", Document{
		PDF:   []byte("pdf"),
		Pages: []model.PageImage{{PageNumber: 1, PNG: []byte("a")}, {PageNumber: 2, PNG: []byte("b")}},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveDocument_UnknownRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE runs SET document`).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := s.SaveDocument(context.Background(), "nope", Document{PDF: []byte("pdf")})
	assert.True(t, apperr.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CommitArtifact(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	data := []byte(`{"restaurant_name":"Zia","pages":[]}`)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE stage_states SET status = \$1, stale = false, error = '', generation = generation \+ 1`).
		WithArgs("succeeded", pgxmock.AnyArg(), "run-1", 2, int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`ON CONFLICT \(run_id, stage\)`).
		WithArgs("run-1", 2, data, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE stage_states SET stale = true, generation = generation \+ 1 .* stage > \$3`).
		WithArgs(pgxmock.AnyArg(), "run-1", 2).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()

	require.NoError(t, s.CommitArtifact(context.Background(), "run-1", model.StageItems, data, 3))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CommitArtifact_Superseded(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE stage_states SET status`).
		WithArgs("succeeded", pgxmock.AnyArg(), "run-1", 3, int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("run-1", 3).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := s.CommitArtifact(context.Background(), "run-1", model.StageBases, []byte(`{}`), 1)
	require.Error(t, err)
	assert.True(t, apperr.IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CommitArtifact_UnknownRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE stage_states SET status`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("nope", 1).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	err := s.CommitArtifact(context.Background(), "nope", model.StageCategories, []byte(`{}`), 0)
	assert.True(t, apperr.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailStage(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE stage_states SET status = \$1, error = \$2 .* AND status = \$6`).
		WithArgs("failed", "page 2: boom", pgxmock.AnyArg(), "run-1", 2, "running").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, s.FailStage(context.Background(), "run-1", model.StageItems, "page 2: boom"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetArtifact(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT a.data, COALESCE\(st.stale, false\), a.updated_at`).
		WithArgs("run-1", 3).
		WillReturnRows(pgxmock.NewRows([]string{"data", "stale", "updated_at"}).
			AddRow([]byte(`{"pages":[]}`), true, now))

	a, err := s.GetArtifact(context.Background(), "run-1", model.StageBases)
	require.NoError(t, err)
	assert.True(t, a.Stale)
	assert.Equal(t, model.StageBases, a.Stage)
	assert.JSONEq(t, `{"pages":[]}`, string(a.Data))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetArtifact_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM artifacts a`).
		WithArgs("run-1", 4).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetArtifact(context.Background(), "run-1", model.StageAddons)
	assert.True(t, apperr.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkStale(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE stage_states SET stale = true, generation = generation \+ 1 .* stage = ANY\(\$3\)`).
		WithArgs(pgxmock.AnyArg(), "run-1", []int{3, 4}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	require.NoError(t, s.MarkStale(context.Background(), "run-1", model.StageBases, model.StageAddons))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetStageStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE stage_states SET status`).
		WithArgs("running", "", pgxmock.AnyArg(), "nope", 1).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.SetStageStatus(context.Background(), "nope", model.StageCategories, model.StageStatusRunning, "")
	assert.True(t, apperr.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetStageStates(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT stage, status, stale, generation, error, updated_at FROM stage_states`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"stage", "status", "stale", "generation", "error", "updated_at"}).
			AddRow(1, "succeeded", false, int64(1), "", now).
			AddRow(2, "failed", false, int64(2), "page 2: boom", now).
			AddRow(3, "pending", true, int64(2), "", now).
			AddRow(4, "pending", true, int64(2), "", now))

	states, err := s.GetStageStates(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, states, 4)
	assert.True(t, states[0].Usable())
	assert.Equal(t, model.StageStatusFailed, states[1].Status)
	assert.Equal(t, "page 2: boom", states[1].Error)
	assert.True(t, states[3].Stale)
	assert.Equal(t, int64(2), states[1].Generation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS runs`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
