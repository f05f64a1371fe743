package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/shelfwatch/pricematch/internal/model"
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
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS reference_products (
	id           TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	brand        TEXT NOT NULL DEFAULT '',
	aliases      TEXT NOT NULL DEFAULT '[]',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	source_a   TEXT NOT NULL,
	source_b   TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_phases (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	name        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	error       TEXT NOT NULL DEFAULT '',
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	duration_ms INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS assignments (
	run_id       TEXT NOT NULL REFERENCES runs(id),
	reference_id TEXT NOT NULL,
	platform     TEXT NOT NULL,
	listing_id   TEXT NOT NULL,
	price        TEXT NOT NULL,
	currency     TEXT NOT NULL,
	available    INTEGER NOT NULL,
	confidence   REAL NOT NULL,
	method       TEXT NOT NULL,
	PRIMARY KEY (run_id, reference_id, platform)
);

CREATE TABLE IF NOT EXISTS comparison_rows (
	run_id       TEXT NOT NULL REFERENCES runs(id),
	reference_id TEXT NOT NULL,
	row          TEXT NOT NULL,
	PRIMARY KEY (run_id, reference_id)
);

CREATE TABLE IF NOT EXISTS audit_records (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	listing_id TEXT NOT NULL,
	platform   TEXT NOT NULL,
	record     TEXT NOT NULL,
	PRIMARY KEY (run_id, listing_id, platform)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
CREATE INDEX IF NOT EXISTS idx_assignments_run_id ON assignments(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// references

func (s *SQLiteStore) UpsertReference(ctx context.Context, ref model.ReferenceProduct) error {
	if ref.ID == "" {
		return eris.New("sqlite: reference id is empty")
	}
	aliasesJSON, err := json.Marshal(ref.Aliases)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal aliases")
	}
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reference_products (id, display_name, brand, aliases, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			brand        = excluded.brand,
			aliases      = excluded.aliases,
			updated_at   = excluded.updated_at`,
		ref.ID, ref.DisplayName, ref.Brand, string(aliasesJSON), now, now,
	)
	return eris.Wrapf(err, "sqlite: upsert reference %s", ref.ID)
}

func (s *SQLiteStore) GetReference(ctx context.Context, id string) (*model.ReferenceProduct, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, brand, aliases, created_at, updated_at
		 FROM reference_products WHERE id = ?`, id,
	)
	return scanReference(row)
}

func (s *SQLiteStore) ListReferences(ctx context.Context) ([]model.ReferenceProduct, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, display_name, brand, aliases, created_at, updated_at
		 FROM reference_products ORDER BY id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list references")
	}
	defer rows.Close()

	var refs []model.ReferenceProduct
	for rows.Next() {
		r, err := scanReference(rows)
		if err != nil {
			return nil, err
		}
		refs = append(refs, *r)
	}
	return refs, eris.Wrap(rows.Err(), "sqlite: list references iterate")
}

// AppendAlias is read-modify-write inside a transaction. Concurrent runs
// against the same SQLite file serialize on the write lock.
func (s *SQLiteStore) AppendAlias(ctx context.Context, referenceID, alias string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT id, display_name, brand, aliases, created_at, updated_at
		 FROM reference_products WHERE id = ?`, referenceID,
	)
	ref, err := scanReference(row)
	if err != nil {
		return false, err
	}
	if !ref.AddAlias(alias) {
		return false, nil
	}

	aliasesJSON, err := json.Marshal(ref.Aliases)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal aliases")
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE reference_products SET aliases = ?, updated_at = ? WHERE id = ?`,
		string(aliasesJSON), time.Now().UTC(), referenceID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: append alias to %s", referenceID)
	}
	return true, eris.Wrap(tx.Commit(), "sqlite: commit")
}

// runs

func (s *SQLiteStore) CreateRun(ctx context.Context, sourceA, sourceB string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, source_a, source_b, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, sourceA, sourceB, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Status:    model.RunStatusQueued,
		SourceA:   sourceA,
		SourceB:   sourceB,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET result = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run result %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_a, source_b, status, result, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, source_a, source_b, status, result, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
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
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// phases

func (s *SQLiteStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES (?, ?, ?, 'running', ?)`,
		id, runID, name, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert phase for run %s", runID)
	}

	return &model.RunPhase{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    "running",
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompletePhase(ctx context.Context, phaseID string, phaseErr error, durationMillis int64) error {
	status := "complete"
	errMsg := ""
	if phaseErr != nil {
		status = "failed"
		errMsg = phaseErr.Error()
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE run_phases SET status = ?, error = ?, duration_ms = ? WHERE id = ?`,
		status, errMsg, durationMillis, phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete phase %s", phaseID)
	}
	return checkRowsAffected(res, "phase", phaseID)
}

// run outputs

func (s *SQLiteStore) SaveAssignments(ctx context.Context, runID string, assignments []model.ResolvedAssignment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	for _, a := range assignments {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO assignments (run_id, reference_id, platform, listing_id, price, currency, available, confidence, method)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, a.ReferenceID, string(a.Platform), a.ListingID,
			a.Price.String(), a.Currency, boolToInt(a.Available), a.Confidence, string(a.Method),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert assignment %s/%s", a.ReferenceID, a.Platform)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

func (s *SQLiteStore) SaveComparisonRows(ctx context.Context, runID string, rows []model.ComparisonRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	for _, row := range rows {
		rowJSON, err := json.Marshal(row)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal comparison row")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO comparison_rows (run_id, reference_id, row) VALUES (?, ?, ?)`,
			runID, row.ReferenceID, string(rowJSON),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert comparison row %s", row.ReferenceID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

func (s *SQLiteStore) GetComparisonRows(ctx context.Context, runID string) ([]model.ComparisonRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT row FROM comparison_rows WHERE run_id = ? ORDER BY reference_id`, runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get comparison rows")
	}
	defer rows.Close()

	var out []model.ComparisonRow
	for rows.Next() {
		var rowJSON string
		if err := rows.Scan(&rowJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan comparison row")
		}
		var cr model.ComparisonRow
		if err := json.Unmarshal([]byte(rowJSON), &cr); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal comparison row")
		}
		out = append(out, cr)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: comparison rows iterate")
}

func (s *SQLiteStore) SaveAuditRecords(ctx context.Context, runID string, records []model.AuditRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	for _, rec := range records {
		recJSON, err := json.Marshal(rec)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal audit record")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO audit_records (run_id, listing_id, platform, record) VALUES (?, ?, ?, ?)`,
			runID, rec.ListingID, string(rec.Platform), string(recJSON),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert audit record %s", rec.ListingID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

func (s *SQLiteStore) GetAuditRecords(ctx context.Context, runID string) ([]model.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM audit_records WHERE run_id = ? ORDER BY listing_id, platform`, runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get audit records")
	}
	defer rows.Close()

	var out []model.AuditRecord
	for rows.Next() {
		var recJSON string
		if err := rows.Scan(&recJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit record")
		}
		var ar model.AuditRecord
		if err := json.Unmarshal([]byte(recJSON), &ar); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal audit record")
		}
		out = append(out, ar)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: audit records iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanReference(row scannable) (*model.ReferenceProduct, error) {
	var r model.ReferenceProduct
	var aliasesJSON string

	err := row.Scan(&r.ID, &r.DisplayName, &r.Brand, &aliasesJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "reference")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan reference")
	}
	if err := json.Unmarshal([]byte(aliasesJSON), &r.Aliases); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal aliases")
	}
	return &r, nil
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var resultJSON sql.NullString

	err := row.Scan(&r.ID, &r.SourceA, &r.SourceB, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if resultJSON.Valid {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
	}
	return &r, nil
}
