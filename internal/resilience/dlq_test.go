package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestNewDLQEntry(t *testing.T) {
	failedAt := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	entry := NewDLQEntry("acme-ai", "Acme AI Series A funding", "youcom",
		NewTransientError(errors.New("rate limited"), 429), 3, 3, failedAt)

	if entry.Slug != "acme-ai" {
		t.Errorf("unexpected slug %q", entry.Slug)
	}
	if entry.Provider != "youcom" {
		t.Errorf("unexpected provider %q", entry.Provider)
	}
	if entry.ErrorType != "transient" {
		t.Errorf("expected transient, got %q", entry.ErrorType)
	}
	if entry.FailedAt != "2026-02-01T12:00:00Z" {
		t.Errorf("unexpected failed_at %q", entry.FailedAt)
	}
	if entry.CanRetry() {
		t.Error("entry at max retries should not be retryable")
	}
}

func TestDLQEntry_CanRetry(t *testing.T) {
	entry := NewDLQEntry("acme-ai", "query", "tavily",
		errors.New("schema mismatch"), 1, 3, time.Now())

	if entry.ErrorType != "permanent" {
		t.Errorf("expected permanent, got %q", entry.ErrorType)
	}
	if !entry.CanRetry() {
		t.Error("entry below max retries should be retryable")
	}
}
