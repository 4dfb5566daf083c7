package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/menu-extractor/internal/apperr"
	"github.com/sells-group/menu-extractor/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	restaurant_name TEXT NOT NULL,
	page_count      INTEGER NOT NULL DEFAULT 0,
	document        BLOB,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_pages (
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	page_number INTEGER NOT NULL,
	png         BLOB NOT NULL,
	PRIMARY KEY (run_id, page_number)
);

CREATE TABLE IF NOT EXISTS stage_states (
	run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	stage      INTEGER NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	stale      INTEGER NOT NULL DEFAULT 0,
	generation INTEGER NOT NULL DEFAULT 0,
	error      TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (run_id, stage)
);

CREATE TABLE IF NOT EXISTS artifacts (
	run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	stage      INTEGER NOT NULL,
	data       TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (run_id, stage)
);

CREATE INDEX IF NOT EXISTS idx_runs_restaurant ON runs(restaurant_name);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, restaurantName string, pageCount int) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO runs (id, restaurant_name, page_count, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			id, restaurantName, pageCount, now, now,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert run")
		}
		for _, st := range model.AllStages() {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO stage_states (run_id, stage, status, stale, error, updated_at) VALUES (?, ?, ?, 0, '', ?)`,
				id, int(st), string(model.StageStatusPending), now,
			); err != nil {
				return eris.Wrapf(err, "sqlite: seed stage %s", st)
			}
		}
		return nil
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

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, restaurant_name, page_count, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("run not found: %s", runID)
	}
	return r, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error) {
	query := `SELECT id, restaurant_name, page_count, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.RestaurantName != "" {
		query += ` AND restaurant_name = ?`
		args = append(args, filter.RestaurantName)
	}
	query += ` ORDER BY created_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	runs := []model.Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveDocument(ctx context.Context, runID string, doc Document) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE runs SET document = ?, page_count = ?, updated_at = ? WHERE id = ?`,
			doc.PDF, len(doc.Pages), time.Now().UTC(), runID,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: save document %s", runID)
		}
		if err := checkRowsAffected(res, "run", runID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM run_pages WHERE run_id = ?`, runID); err != nil {
			return eris.Wrap(err, "sqlite: clear pages")
		}
		for _, p := range doc.Pages {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO run_pages (run_id, page_number, png) VALUES (?, ?, ?)`,
				runID, p.PageNumber, p.PNG,
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert page %d", p.PageNumber)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) LoadDocument(ctx context.Context, runID string) (*Document, error) {
	var pdf []byte
	err := s.db.QueryRowContext(ctx, `SELECT document FROM runs WHERE id = ?`, runID).Scan(&pdf)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("run not found: %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load document %s", runID)
	}
	if pdf == nil {
		return nil, apperr.NotFound("no document uploaded for run %s", runID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT page_number, png FROM run_pages WHERE run_id = ? ORDER BY page_number`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load pages")
	}
	defer rows.Close() //nolint:errcheck

	doc := &Document{PDF: pdf, Pages: []model.PageImage{}}
	for rows.Next() {
		var p model.PageImage
		if err := rows.Scan(&p.PageNumber, &p.PNG); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan page")
		}
		doc.Pages = append(doc.Pages, p)
	}
	return doc, eris.Wrap(rows.Err(), "sqlite: load pages iterate")
}

func (s *SQLiteStore) CommitArtifact(ctx context.Context, runID string, stage model.Stage, data []byte, generation int64) error {
	now := time.Now().UTC()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE stage_states SET status = ?, stale = 0, error = '', generation = generation + 1, updated_at = ?
			 WHERE run_id = ? AND stage = ? AND generation = ?`,
			string(model.StageStatusSucceeded), now, runID, int(stage), generation,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: claim %s for run %s", stage, runID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return eris.Wrap(err, "rows affected")
		}
		if n == 0 {
			var exists int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM stage_states WHERE run_id = ? AND stage = ?`, runID, int(stage),
			).Scan(&exists); err != nil {
				return eris.Wrap(err, "sqlite: check stage state")
			}
			if exists == 0 {
				return apperr.NotFound("run not found: %s", runID)
			}
			return errSuperseded(stage)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO artifacts (run_id, stage, data, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(run_id, stage) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
			runID, int(stage), string(data), now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: save %s artifact for run %s", stage, runID)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE stage_states SET stale = 1, generation = generation + 1, updated_at = ? WHERE run_id = ? AND stage > ?`,
			now, runID, int(stage),
		); err != nil {
			return eris.Wrap(err, "sqlite: invalidate downstream")
		}
		return nil
	})
}

func (s *SQLiteStore) GetArtifact(ctx context.Context, runID string, stage model.Stage) (*StoredArtifact, error) {
	a := StoredArtifact{RunID: runID, Stage: stage}
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT a.data, COALESCE(st.stale, 0), a.updated_at
		 FROM artifacts a LEFT JOIN stage_states st ON st.run_id = a.run_id AND st.stage = a.stage
		 WHERE a.run_id = ? AND a.stage = ?`,
		runID, int(stage),
	).Scan(&data, &a.Stale, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("%s artifact not found for run %s", stage, runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get %s artifact", stage)
	}
	a.Data = []byte(data)
	return &a, nil
}

func (s *SQLiteStore) SetStageStatus(ctx context.Context, runID string, stage model.Stage, status model.StageStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE stage_states SET status = ?, error = ?, updated_at = ? WHERE run_id = ? AND stage = ?`,
		string(status), errMsg, time.Now().UTC(), runID, int(stage),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set %s status", stage)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailStage(ctx context.Context, runID string, stage model.Stage, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE stage_states SET status = ?, error = ?, updated_at = ? WHERE run_id = ? AND stage = ? AND status = ?`,
		string(model.StageStatusFailed), errMsg, time.Now().UTC(), runID, int(stage), string(model.StageStatusRunning),
	)
	return eris.Wrapf(err, "sqlite: fail %s", stage)
}

func (s *SQLiteStore) MarkStale(ctx context.Context, runID string, stages ...model.Stage) error {
	if len(stages) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, st := range stages {
			if _, err := tx.ExecContext(ctx,
				`UPDATE stage_states SET stale = 1, generation = generation + 1, updated_at = ? WHERE run_id = ? AND stage = ?`,
				now, runID, int(st),
			); err != nil {
				return eris.Wrapf(err, "sqlite: mark %s stale", st)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) GetStageStates(ctx context.Context, runID string) ([]model.StageState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, status, stale, generation, error, updated_at FROM stage_states WHERE run_id = ? ORDER BY stage`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get stage states")
	}
	defer rows.Close() //nolint:errcheck

	var states []model.StageState
	for rows.Next() {
		var st model.StageState
		var stage int
		var status string
		if err := rows.Scan(&stage, &status, &st.Stale, &st.Generation, &st.Error, &st.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stage state")
		}
		st.Stage = model.Stage(stage)
		st.Status = model.StageStatus(status)
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: stage states iterate")
	}
	if len(states) == 0 {
		return nil, apperr.NotFound("run not found: %s", runID)
	}
	return states, nil
}

// helpers

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return apperr.NotFound("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	err := row.Scan(&r.ID, &r.RestaurantName, &r.PageCount, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	return &r, nil
}
