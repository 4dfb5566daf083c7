package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/menu-extractor/internal/apperr"
	"github.com/sells-group/menu-extractor/internal/db"
	"github.com/sells-group/menu-extractor/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"get_run":          `SELECT id, restaurant_name, page_count, created_at, updated_at FROM runs WHERE id = $1`,
	"get_artifact":     `SELECT a.data, COALESCE(st.stale, false), a.updated_at FROM artifacts a LEFT JOIN stage_states st ON st.run_id = a.run_id AND st.stage = a.stage WHERE a.run_id = $1 AND a.stage = $2`,
	"set_stage_status": `UPDATE stage_states SET status = $1, error = $2, updated_at = $3 WHERE run_id = $4 AND stage = $5`,
	"get_stage_states": `SELECT stage, status, stale, generation, error, updated_at FROM stage_states WHERE run_id = $1 ORDER BY stage`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	restaurant_name TEXT NOT NULL,
	page_count      INTEGER NOT NULL DEFAULT 0,
	document        BYTEA,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_pages (
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	page_number INTEGER NOT NULL,
	png         BYTEA NOT NULL,
	PRIMARY KEY (run_id, page_number)
);

CREATE TABLE IF NOT EXISTS stage_states (
	run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	stage      INTEGER NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	stale      BOOLEAN NOT NULL DEFAULT false,
	generation BIGINT NOT NULL DEFAULT 0,
	error      TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, stage)
);

CREATE TABLE IF NOT EXISTS artifacts (
	run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	stage      INTEGER NOT NULL,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, stage)
);

CREATE INDEX IF NOT EXISTS idx_runs_restaurant ON runs(restaurant_name);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, restaurantName string, pageCount int) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO runs (id, restaurant_name, page_count, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
			id, restaurantName, pageCount, now, now,
		); err != nil {
			return eris.Wrap(err, "postgres: insert run")
		}
		rows := make([][]any, 0, len(model.AllStages()))
		for _, st := range model.AllStages() {
			rows = append(rows, []any{id, int(st), string(model.StageStatusPending), false, "", now})
		}
		_, err := db.CopyFrom(ctx, tx, "stage_states",
			[]string{"run_id", "stage", "status", "stale", "error", "updated_at"}, rows)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &model.Run{
		ID:             id,
		RestaurantName: restaurantName,
		PageCount:      pageCount,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	err := s.pool.QueryRow(ctx,
		`SELECT id, restaurant_name, page_count, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.RestaurantName, &r.PageCount, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("run not found: %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error) {
	query := `SELECT id, restaurant_name, page_count, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.RestaurantName != "" {
		query += fmt.Sprintf(` AND restaurant_name = $%d`, argIdx)
		args = append(args, filter.RestaurantName)
		argIdx++
	}
	query += ` ORDER BY created_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	runs := []model.Run{}
	for rows.Next() {
		var r model.Run
		if err := rows.Scan(&r.ID, &r.RestaurantName, &r.PageCount, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) SaveDocument(ctx context.Context, runID string, doc Document) error {
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE runs SET document = $1, page_count = $2, updated_at = $3 WHERE id = $4`,
			doc.PDF, len(doc.Pages), time.Now().UTC(), runID,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: save document %s", runID)
		}
		if tag.RowsAffected() == 0 {
			return apperr.NotFound("run not found: %s", runID)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM run_pages WHERE run_id = $1`, runID); err != nil {
			return eris.Wrap(err, "postgres: clear pages")
		}
		rows := make([][]any, 0, len(doc.Pages))
		for _, p := range doc.Pages {
			rows = append(rows, []any{runID, p.PageNumber, p.PNG})
		}
		_, err = db.CopyFrom(ctx, tx, "run_pages", []string{"run_id", "page_number", "png"}, rows)
		return err
	})
}

func (s *PostgresStore) LoadDocument(ctx context.Context, runID string) (*Document, error) {
	var pdf []byte
	err := s.pool.QueryRow(ctx, `SELECT document FROM runs WHERE id = $1`, runID).Scan(&pdf)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("run not found: %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load document %s", runID)
	}
	if pdf == nil {
		return nil, apperr.NotFound("no document uploaded for run %s", runID)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT page_number, png FROM run_pages WHERE run_id = $1 ORDER BY page_number`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load pages")
	}
	defer rows.Close()

	doc := &Document{PDF: pdf, Pages: []model.PageImage{}}
	for rows.Next() {
		var p model.PageImage
		if err := rows.Scan(&p.PageNumber, &p.PNG); err != nil {
			return nil, eris.Wrap(err, "postgres: scan page")
		}
		doc.Pages = append(doc.Pages, p)
	}
	return doc, eris.Wrap(rows.Err(), "postgres: load pages iterate")
}

func (s *PostgresStore) CommitArtifact(ctx context.Context, runID string, stage model.Stage, data []byte, generation int64) error {
	now := time.Now().UTC()
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE stage_states SET status = $1, stale = false, error = '', generation = generation + 1, updated_at = $2
			 WHERE run_id = $3 AND stage = $4 AND generation = $5`,
			string(model.StageStatusSucceeded), now, runID, int(stage), generation,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: claim %s for run %s", stage, runID)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM stage_states WHERE run_id = $1 AND stage = $2)`, runID, int(stage),
			).Scan(&exists); err != nil {
				return eris.Wrap(err, "postgres: check stage state")
			}
			if !exists {
				return apperr.NotFound("run not found: %s", runID)
			}
			return errSuperseded(stage)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO artifacts (run_id, stage, data, updated_at) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (run_id, stage) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
			runID, int(stage), data, now,
		); err != nil {
			return eris.Wrapf(err, "postgres: save %s artifact for run %s", stage, runID)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE stage_states SET stale = true, generation = generation + 1, updated_at = $1 WHERE run_id = $2 AND stage > $3`,
			now, runID, int(stage),
		); err != nil {
			return eris.Wrap(err, "postgres: invalidate downstream")
		}
		return nil
	})
}

func (s *PostgresStore) GetArtifact(ctx context.Context, runID string, stage model.Stage) (*StoredArtifact, error) {
	a := StoredArtifact{RunID: runID, Stage: stage}
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT a.data, COALESCE(st.stale, false), a.updated_at
		 FROM artifacts a LEFT JOIN stage_states st ON st.run_id = a.run_id AND st.stage = a.stage
		 WHERE a.run_id = $1 AND a.stage = $2`,
		runID, int(stage),
	).Scan(&data, &a.Stale, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("%s artifact not found for run %s", stage, runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get %s artifact", stage)
	}
	a.Data = data
	return &a, nil
}

func (s *PostgresStore) SetStageStatus(ctx context.Context, runID string, stage model.Stage, status model.StageStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE stage_states SET status = $1, error = $2, updated_at = $3 WHERE run_id = $4 AND stage = $5`,
		string(status), errMsg, time.Now().UTC(), runID, int(stage),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set %s status", stage)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailStage(ctx context.Context, runID string, stage model.Stage, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE stage_states SET status = $1, error = $2, updated_at = $3 WHERE run_id = $4 AND stage = $5 AND status = $6`,
		string(model.StageStatusFailed), errMsg, time.Now().UTC(), runID, int(stage), string(model.StageStatusRunning),
	)
	return eris.Wrapf(err, "postgres: fail %s", stage)
}

func (s *PostgresStore) MarkStale(ctx context.Context, runID string, stages ...model.Stage) error {
	if len(stages) == 0 {
		return nil
	}
	ids := make([]int, len(stages))
	for i, st := range stages {
		ids[i] = int(st)
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE stage_states SET stale = true, generation = generation + 1, updated_at = $1 WHERE run_id = $2 AND stage = ANY($3)`,
		time.Now().UTC(), runID, ids,
	)
	return eris.Wrapf(err, "postgres: mark stale for run %s", runID)
}

func (s *PostgresStore) GetStageStates(ctx context.Context, runID string) ([]model.StageState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT stage, status, stale, generation, error, updated_at FROM stage_states WHERE run_id = $1 ORDER BY stage`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get stage states")
	}
	defer rows.Close()

	var states []model.StageState
	for rows.Next() {
		var st model.StageState
		var stage int
		var status string
		if err := rows.Scan(&stage, &status, &st.Stale, &st.Generation, &st.Error, &st.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stage state")
		}
		st.Stage = model.Stage(stage)
		st.Status = model.StageStatus(status)
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: stage states iterate")
	}
	if len(states) == 0 {
		return nil, apperr.NotFound("run not found: %s", runID)
	}
	return states, nil
}
