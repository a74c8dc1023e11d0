// Package store persists capture runs and scored leads behind a driver
// agnostic interface with SQLite and Postgres implementations.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/kylestephens-labs/fund-signal/internal/bundle"
	"github.com/kylestephens-labs/fund-signal/internal/config"
	"github.com/kylestephens-labs/fund-signal/internal/lead"
)

// RunStatus is the lifecycle state of a capture run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// CaptureRun records one capture invocation and its provider statistics.
type CaptureRun struct {
	ID        string                 `json:"id"`
	BundleID  string                 `json:"bundle_id"`
	BundleDir string                 `json:"bundle_dir"`
	Status    RunStatus              `json:"status"`
	Providers []bundle.ProviderStats `json:"providers,omitempty"`
	Error     string                 `json:"error,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// RunFilter specifies criteria for listing capture runs.
type RunFilter struct {
	Status RunStatus `json:"status,omitempty"`
	Limit  int       `json:"limit,omitempty"`
	Offset int       `json:"offset,omitempty"`
}

// LeadFilter specifies criteria for listing scored leads.
type LeadFilter struct {
	Label  string `json:"label,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for capture runs and scored leads.
type Store interface {
	// Capture runs
	CreateCaptureRun(ctx context.Context, bundleID, bundleDir string) (*CaptureRun, error)
	CompleteCaptureRun(ctx context.Context, runID string, providers []bundle.ProviderStats) error
	FailCaptureRun(ctx context.Context, runID string, cause string) error
	GetCaptureRun(ctx context.Context, runID string) (*CaptureRun, error)
	ListCaptureRuns(ctx context.Context, filter RunFilter) ([]CaptureRun, error)

	// Scored leads
	SaveScoredLeads(ctx context.Context, runID string, leads []lead.ScoredLead) error
	ListScoredLeads(ctx context.Context, filter LeadFilter) ([]lead.ScoredLead, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open builds a Store from the configured driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return NewSQLite(cfg.Path)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unsupported driver %q", cfg.Driver)
	}
}
