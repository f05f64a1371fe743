package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/shelfwatch/pricematch/internal/model"
)

// pgPool is the minimal pool surface used by PostgresStore. pgxpool.Pool
// satisfies it in production, pgxmock in tests.
type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool pgPool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
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

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS reference_products (
	id           TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	brand        TEXT NOT NULL DEFAULT '',
	aliases      TEXT[] NOT NULL DEFAULT '{}',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source_a   TEXT NOT NULL,
	source_b   TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_phases (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	name        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	error       TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	duration_ms BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS assignments (
	run_id       TEXT NOT NULL REFERENCES runs(id),
	reference_id TEXT NOT NULL,
	platform     TEXT NOT NULL,
	listing_id   TEXT NOT NULL,
	price        NUMERIC NOT NULL,
	currency     TEXT NOT NULL,
	available    BOOLEAN NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL,
	method       TEXT NOT NULL,
	PRIMARY KEY (run_id, reference_id, platform)
);

CREATE TABLE IF NOT EXISTS comparison_rows (
	run_id       TEXT NOT NULL REFERENCES runs(id),
	reference_id TEXT NOT NULL,
	row          JSONB NOT NULL,
	PRIMARY KEY (run_id, reference_id)
);

CREATE TABLE IF NOT EXISTS audit_records (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	listing_id TEXT NOT NULL,
	platform   TEXT NOT NULL,
	record     JSONB NOT NULL,
	PRIMARY KEY (run_id, listing_id, platform)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
CREATE INDEX IF NOT EXISTS idx_assignments_run_id ON assignments(run_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// references

func (s *PostgresStore) UpsertReference(ctx context.Context, ref model.ReferenceProduct) error {
	if ref.ID == "" {
		return eris.New("postgres: reference id is empty")
	}
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO reference_products (id, display_name, brand, aliases, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			brand        = EXCLUDED.brand,
			aliases      = EXCLUDED.aliases,
			updated_at   = EXCLUDED.updated_at`,
		ref.ID, ref.DisplayName, ref.Brand, ref.Aliases, now, now,
	)
	return eris.Wrapf(err, "postgres: upsert reference %s", ref.ID)
}

func (s *PostgresStore) GetReference(ctx context.Context, id string) (*model.ReferenceProduct, error) {
	var r model.ReferenceProduct
	err := s.pool.QueryRow(ctx,
		`SELECT id, display_name, brand, aliases, created_at, updated_at
		 FROM reference_products WHERE id = $1`, id,
	).Scan(&r.ID, &r.DisplayName, &r.Brand, &r.Aliases, &r.CreatedAt, &r.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "reference")
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get reference %s", id)
	}
	return &r, nil
}

func (s *PostgresStore) ListReferences(ctx context.Context) ([]model.ReferenceProduct, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, display_name, brand, aliases, created_at, updated_at
		 FROM reference_products ORDER BY id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list references")
	}
	defer rows.Close()

	var refs []model.ReferenceProduct
	for rows.Next() {
		var r model.ReferenceProduct
		if err := rows.Scan(&r.ID, &r.DisplayName, &r.Brand, &r.Aliases, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan reference")
		}
		refs = append(refs, r)
	}
	return refs, eris.Wrap(rows.Err(), "postgres: list references iterate")
}

// AppendAlias appends atomically: the guarded UPDATE only fires when the
// alias is not already present (case-insensitive, display name included).
func (s *PostgresStore) AppendAlias(ctx context.Context, referenceID, alias string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reference_products
		 SET aliases = array_append(aliases, $2), updated_at = now()
		 WHERE id = $1
		   AND lower(display_name) <> lower($2)
		   AND NOT EXISTS (SELECT 1 FROM unnest(aliases) a WHERE lower(a) = lower($2))`,
		referenceID, alias,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: append alias to %s", referenceID)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// Nothing changed: either the alias already exists or the reference
	// is missing. Tell those apart for the caller.
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM reference_products WHERE id = $1)`, referenceID,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: check reference %s", referenceID)
	}
	if !exists {
		return false, eris.Wrapf(ErrNotFound, "reference %s", referenceID)
	}
	return false, nil
}

// runs

func (s *PostgresStore) CreateRun(ctx context.Context, sourceA, sourceB string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, source_a, source_b, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, sourceA, sourceB, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
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

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
		resultJSON, string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run result %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var resultJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, source_a, source_b, status, result, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.SourceA, &r.SourceB, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "run")
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	if len(resultJSON) > 0 {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal(resultJSON, r.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, source_a, source_b, status, result, created_at, updated_at FROM runs`
	var args []any

	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var resultJSON []byte
		if err := rows.Scan(&r.ID, &r.SourceA, &r.SourceB, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if len(resultJSON) > 0 {
			r.Result = &model.RunResult{}
			if err := json.Unmarshal(resultJSON, r.Result); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal result")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// phases

func (s *PostgresStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES ($1, $2, $3, 'running', $4)`,
		id, runID, name, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert phase for run %s", runID)
	}

	return &model.RunPhase{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    "running",
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompletePhase(ctx context.Context, phaseID string, phaseErr error, durationMillis int64) error {
	status := "complete"
	errMsg := ""
	if phaseErr != nil {
		status = "failed"
		errMsg = phaseErr.Error()
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE run_phases SET status = $1, error = $2, duration_ms = $3 WHERE id = $4`,
		status, errMsg, durationMillis, phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete phase %s", phaseID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "phase %s", phaseID)
	}
	return nil
}

// run outputs

func (s *PostgresStore) SaveAssignments(ctx context.Context, runID string, assignments []model.ResolvedAssignment) error {
	for _, a := range assignments {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO assignments (run_id, reference_id, platform, listing_id, price, currency, available, confidence, method)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			runID, a.ReferenceID, string(a.Platform), a.ListingID,
			a.Price, a.Currency, a.Available, a.Confidence, string(a.Method),
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert assignment %s/%s", a.ReferenceID, a.Platform)
		}
	}
	return nil
}

func (s *PostgresStore) SaveComparisonRows(ctx context.Context, runID string, rows []model.ComparisonRow) error {
	for _, row := range rows {
		rowJSON, err := json.Marshal(row)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal comparison row")
		}
		_, err = s.pool.Exec(ctx,
			`INSERT INTO comparison_rows (run_id, reference_id, row) VALUES ($1, $2, $3)`,
			runID, row.ReferenceID, rowJSON,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert comparison row %s", row.ReferenceID)
		}
	}
	return nil
}

func (s *PostgresStore) GetComparisonRows(ctx context.Context, runID string) ([]model.ComparisonRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT row FROM comparison_rows WHERE run_id = $1 ORDER BY reference_id`, runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get comparison rows")
	}
	defer rows.Close()

	var out []model.ComparisonRow
	for rows.Next() {
		var rowJSON []byte
		if err := rows.Scan(&rowJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan comparison row")
		}
		var cr model.ComparisonRow
		if err := json.Unmarshal(rowJSON, &cr); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal comparison row")
		}
		out = append(out, cr)
	}
	return out, eris.Wrap(rows.Err(), "postgres: comparison rows iterate")
}

func (s *PostgresStore) SaveAuditRecords(ctx context.Context, runID string, records []model.AuditRecord) error {
	for _, rec := range records {
		recJSON, err := json.Marshal(rec)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal audit record")
		}
		_, err = s.pool.Exec(ctx,
			`INSERT INTO audit_records (run_id, listing_id, platform, record) VALUES ($1, $2, $3, $4)`,
			runID, rec.ListingID, string(rec.Platform), recJSON,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert audit record %s", rec.ListingID)
		}
	}
	return nil
}

func (s *PostgresStore) GetAuditRecords(ctx context.Context, runID string) ([]model.AuditRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT record FROM audit_records WHERE run_id = $1 ORDER BY listing_id, platform`, runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get audit records")
	}
	defer rows.Close()

	var out []model.AuditRecord
	for rows.Next() {
		var recJSON []byte
		if err := rows.Scan(&recJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit record")
		}
		var ar model.AuditRecord
		if err := json.Unmarshal(recJSON, &ar); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal audit record")
		}
		out = append(out, ar)
	}
	return out, eris.Wrap(rows.Err(), "postgres: audit records iterate")
}
