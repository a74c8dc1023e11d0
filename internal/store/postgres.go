package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/kylestephens-labs/fund-signal/internal/bundle"
	"github.com/kylestephens-labs/fund-signal/internal/lead"
)

// Pool is the subset of pgxpool.Pool the store uses, narrowed so tests can
// substitute pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
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

// NewPostgresFromPool wraps an existing pool. Tests use this with pgxmock.
func NewPostgresFromPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS capture_runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	bundle_id  TEXT NOT NULL,
	bundle_dir TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	providers  JSONB,
	error      TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS scored_leads (
	id           TEXT PRIMARY KEY,
	run_id       TEXT,
	company_name TEXT NOT NULL,
	points       INTEGER NOT NULL,
	label        TEXT NOT NULL,
	payload      JSONB NOT NULL,
	scored_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_capture_runs_status ON capture_runs(status);
CREATE INDEX IF NOT EXISTS idx_capture_runs_bundle_id ON capture_runs(bundle_id);
CREATE INDEX IF NOT EXISTS idx_scored_leads_label ON scored_leads(label);
CREATE INDEX IF NOT EXISTS idx_scored_leads_run_id ON scored_leads(run_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateCaptureRun(ctx context.Context, bundleID, bundleDir string) (*CaptureRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO capture_runs (id, bundle_id, bundle_dir, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, bundleID, bundleDir, string(RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert capture run")
	}

	return &CaptureRun{
		ID:        id,
		BundleID:  bundleID,
		BundleDir: bundleDir,
		Status:    RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteCaptureRun(ctx context.Context, runID string, providers []bundle.ProviderStats) error {
	providersJSON, err := json.Marshal(providers)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal provider stats")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE capture_runs SET status = $1, providers = $2, updated_at = $3 WHERE id = $4`,
		string(RunStatusComplete), providersJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete capture run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("capture run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailCaptureRun(ctx context.Context, runID string, cause string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE capture_runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(RunStatusFailed), cause, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail capture run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("capture run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetCaptureRun(ctx context.Context, runID string) (*CaptureRun, error) {
	var r CaptureRun
	var status string
	var providersJSON []byte
	var cause *string

	err := s.pool.QueryRow(ctx,
		`SELECT id, bundle_id, bundle_dir, status, providers, error, created_at, updated_at FROM capture_runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.BundleID, &r.BundleDir, &status, &providersJSON, &cause, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get capture run %s", runID)
	}

	r.Status = RunStatus(status)
	if len(providersJSON) > 0 {
		if err := json.Unmarshal(providersJSON, &r.Providers); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal provider stats")
		}
	}
	if cause != nil {
		r.Error = *cause
	}
	return &r, nil
}

func (s *PostgresStore) ListCaptureRuns(ctx context.Context, filter RunFilter) ([]CaptureRun, error) {
	query := `SELECT id, bundle_id, bundle_dir, status, providers, error, created_at, updated_at FROM capture_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
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
		return nil, eris.Wrap(err, "postgres: list capture runs")
	}
	defer rows.Close()

	var runs []CaptureRun
	for rows.Next() {
		var r CaptureRun
		var status string
		var providersJSON []byte
		var cause *string

		if err := rows.Scan(&r.ID, &r.BundleID, &r.BundleDir, &status, &providersJSON, &cause, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan capture run")
		}
		r.Status = RunStatus(status)
		if len(providersJSON) > 0 {
			if err := json.Unmarshal(providersJSON, &r.Providers); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal provider stats")
			}
		}
		if cause != nil {
			r.Error = *cause
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list capture runs iterate")
}

func (s *PostgresStore) SaveScoredLeads(ctx context.Context, runID string, leads []lead.ScoredLead) error {
	now := time.Now().UTC()
	for _, l := range leads {
		payload, err := json.Marshal(l)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal lead %s", l.ID)
		}
		_, err = s.pool.Exec(ctx,
			`INSERT INTO scored_leads (id, run_id, company_name, points, label, payload, scored_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (id) DO UPDATE SET
			   run_id = $2, company_name = $3, points = $4, label = $5, payload = $6, scored_at = $7`,
			l.ID, runID, l.CompanyName, l.ConfidencePoints, l.FinalLabel, payload, now,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert lead %s", l.ID)
		}
	}
	return nil
}

func (s *PostgresStore) ListScoredLeads(ctx context.Context, filter LeadFilter) ([]lead.ScoredLead, error) {
	query := `SELECT payload FROM scored_leads WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Label != "" {
		query += fmt.Sprintf(` AND label = $%d`, argIdx)
		args = append(args, filter.Label)
		argIdx++
	}
	query += ` ORDER BY id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
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
		return nil, eris.Wrap(err, "postgres: list scored leads")
	}
	defer rows.Close()

	var leads []lead.ScoredLead
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		var l lead.ScoredLead
		if err := json.Unmarshal(payload, &l); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal lead")
		}
		leads = append(leads, l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list scored leads iterate")
}

// ErrNotFound reports whether err is the driver's no-rows sentinel.
func ErrNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
