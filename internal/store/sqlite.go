package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/kylestephens-labs/fund-signal/internal/bundle"
	"github.com/kylestephens-labs/fund-signal/internal/lead"
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
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS capture_runs (
	id         TEXT PRIMARY KEY,
	bundle_id  TEXT NOT NULL,
	bundle_dir TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	providers  TEXT,
	error      TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS scored_leads (
	id           TEXT PRIMARY KEY,
	run_id       TEXT,
	company_name TEXT NOT NULL,
	points       INTEGER NOT NULL,
	label        TEXT NOT NULL,
	payload      TEXT NOT NULL,
	scored_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_capture_runs_status ON capture_runs(status);
CREATE INDEX IF NOT EXISTS idx_capture_runs_bundle_id ON capture_runs(bundle_id);
CREATE INDEX IF NOT EXISTS idx_scored_leads_label ON scored_leads(label);
CREATE INDEX IF NOT EXISTS idx_scored_leads_run_id ON scored_leads(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateCaptureRun(ctx context.Context, bundleID, bundleDir string) (*CaptureRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO capture_runs (id, bundle_id, bundle_dir, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, bundleID, bundleDir, string(RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert capture run")
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

func (s *SQLiteStore) CompleteCaptureRun(ctx context.Context, runID string, providers []bundle.ProviderStats) error {
	providersJSON, err := json.Marshal(providers)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal provider stats")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE capture_runs SET status = ?, providers = ?, updated_at = ? WHERE id = ?`,
		string(RunStatusComplete), string(providersJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete capture run %s", runID)
	}
	return checkRowsAffected(res, "capture run", runID)
}

func (s *SQLiteStore) FailCaptureRun(ctx context.Context, runID string, cause string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE capture_runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(RunStatusFailed), cause, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail capture run %s", runID)
	}
	return checkRowsAffected(res, "capture run", runID)
}

func (s *SQLiteStore) GetCaptureRun(ctx context.Context, runID string) (*CaptureRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, bundle_id, bundle_dir, status, providers, error, created_at, updated_at FROM capture_runs WHERE id = ?`,
		runID,
	)
	return scanCaptureRun(row)
}

func (s *SQLiteStore) ListCaptureRuns(ctx context.Context, filter RunFilter) ([]CaptureRun, error) {
	query := `SELECT id, bundle_id, bundle_dir, status, providers, error, created_at, updated_at FROM capture_runs WHERE 1=1`
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
		return nil, eris.Wrap(err, "sqlite: list capture runs")
	}
	defer rows.Close()

	var runs []CaptureRun
	for rows.Next() {
		r, err := scanCaptureRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list capture runs iterate")
}

func (s *SQLiteStore) SaveScoredLeads(ctx context.Context, runID string, leads []lead.ScoredLead) error {
	if len(leads) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, l := range leads {
		payload, err := json.Marshal(l)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal lead %s", l.ID)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO scored_leads (id, run_id, company_name, points, label, payload, scored_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
			   run_id = excluded.run_id, company_name = excluded.company_name,
			   points = excluded.points, label = excluded.label,
			   payload = excluded.payload, scored_at = excluded.scored_at`,
			l.ID, runID, l.CompanyName, l.ConfidencePoints, l.FinalLabel, string(payload), now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert lead %s", l.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit leads")
}

func (s *SQLiteStore) ListScoredLeads(ctx context.Context, filter LeadFilter) ([]lead.ScoredLead, error) {
	query := `SELECT payload FROM scored_leads WHERE 1=1`
	var args []any

	if filter.Label != "" {
		query += ` AND label = ?`
		args = append(args, filter.Label)
	}
	query += ` ORDER BY id`

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
		return nil, eris.Wrap(err, "sqlite: list scored leads")
	}
	defer rows.Close()

	var leads []lead.ScoredLead
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		var l lead.ScoredLead
		if err := json.Unmarshal([]byte(payload), &l); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal lead")
		}
		leads = append(leads, l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list scored leads iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanCaptureRun(row scannable) (*CaptureRun, error) {
	var r CaptureRun
	var status string
	var providersJSON, cause sql.NullString

	err := row.Scan(&r.ID, &r.BundleID, &r.BundleDir, &status, &providersJSON, &cause, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("capture run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan capture run")
	}

	r.Status = RunStatus(status)
	if providersJSON.Valid && providersJSON.String != "" {
		if err := json.Unmarshal([]byte(providersJSON.String), &r.Providers); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal provider stats")
		}
	}
	if cause.Valid {
		r.Error = cause.String
	}
	return &r, nil
}
