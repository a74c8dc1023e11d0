package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylestephens-labs/fund-signal/internal/bundle"
	"github.com/kylestephens-labs/fund-signal/internal/config"
	"github.com/kylestephens-labs/fund-signal/internal/lead"
)

func configFor(driver string) config.StoreConfig {
	return config.StoreConfig{Driver: driver}
}

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLiteCaptureRunLifecycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.CreateCaptureRun(ctx, "bundle-20260201T120000Z", "/data/bundles/2026/02/01/bundle-20260201T120000Z")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, RunStatusRunning, run.Status)

	stats := []bundle.ProviderStats{
		{Name: "youcom", Requests: 4, Successes: 3, RateLimits: 1, Errors: 1, DedupRatio: 0.6667},
		{Name: "tavily", Requests: 4, Successes: 4, DedupRatio: 0.5},
	}
	require.NoError(t, s.CompleteCaptureRun(ctx, run.ID, stats))

	loaded, err := s.GetCaptureRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusComplete, loaded.Status)
	assert.Equal(t, "bundle-20260201T120000Z", loaded.BundleID)
	require.Len(t, loaded.Providers, 2)
	assert.Equal(t, 0.6667, loaded.Providers[0].DedupRatio)
}

func TestSQLiteFailCaptureRun(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.CreateCaptureRun(ctx, "bundle-x", "/tmp/bundle-x")
	require.NoError(t, err)
	require.NoError(t, s.FailCaptureRun(ctx, run.ID, "context canceled"))

	loaded, err := s.GetCaptureRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, loaded.Status)
	assert.Equal(t, "context canceled", loaded.Error)
}

func TestSQLiteCompleteMissingRun(t *testing.T) {
	s := newTestSQLite(t)

	err := s.CompleteCaptureRun(context.Background(), "no-such-run", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capture run not found")
}

func TestSQLiteListCaptureRunsByStatus(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	first, err := s.CreateCaptureRun(ctx, "bundle-a", "/tmp/a")
	require.NoError(t, err)
	_, err = s.CreateCaptureRun(ctx, "bundle-b", "/tmp/b")
	require.NoError(t, err)
	require.NoError(t, s.CompleteCaptureRun(ctx, first.ID, nil))

	complete, err := s.ListCaptureRuns(ctx, RunFilter{Status: RunStatusComplete})
	require.NoError(t, err)
	require.Len(t, complete, 1)
	assert.Equal(t, "bundle-a", complete[0].BundleID)

	all, err := s.ListCaptureRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLiteScoredLeadsUpsert(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	leads := []lead.ScoredLead{
		{ID: "lead-001", CompanyName: "Acme AI", ConfidencePoints: 4, FinalLabel: "VERIFIED",
			VerifiedBy: []string{"Exa", "You.com"}, ProofLinks: []string{"https://techcrunch.com/acme"}},
		{ID: "lead-002", CompanyName: "Beta Robotics", ConfidencePoints: 1, FinalLabel: "EXCLUDE"},
	}
	require.NoError(t, s.SaveScoredLeads(ctx, "run-1", leads))

	// Re-scoring the same lead replaces the stored row.
	leads[0].ConfidencePoints = 3
	leads[0].FinalLabel = "LIKELY"
	require.NoError(t, s.SaveScoredLeads(ctx, "run-2", leads[:1]))

	all, err := s.ListScoredLeads(ctx, LeadFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "lead-001", all[0].ID)
	assert.Equal(t, "LIKELY", all[0].FinalLabel)
	assert.Equal(t, []string{"Exa", "You.com"}, all[0].VerifiedBy)

	excluded, err := s.ListScoredLeads(ctx, LeadFilter{Label: "EXCLUDE"})
	require.NoError(t, err)
	require.Len(t, excluded, 1)
	assert.Equal(t, "Beta Robotics", excluded[0].CompanyName)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), configFor("mysql"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported driver")
}

func TestOpenSQLiteDefault(t *testing.T) {
	cfg := configFor("")
	cfg.Path = filepath.Join(t.TempDir(), "default.db")
	s, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
