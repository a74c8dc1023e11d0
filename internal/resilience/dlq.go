package resilience

import "time"

// DLQEntry records a capture query that exhausted its retries against a
// provider. Entries are appended to the bundle's dead-letter JSONL so a
// later capture run can replay them.
type DLQEntry struct {
	Slug       string `json:"slug"`
	Query      string `json:"query"`
	Provider   string `json:"provider"`
	Error      string `json:"error"`
	ErrorType  string `json:"error_type"` // "transient" or "permanent"
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
	FailedAt   string `json:"failed_at"`
}

// NewDLQEntry builds a dead-letter entry for a failed provider call.
func NewDLQEntry(slug, query, provider string, err error, retryCount, maxRetries int, failedAt time.Time) DLQEntry {
	return DLQEntry{
		Slug:       slug,
		Query:      query,
		Provider:   provider,
		Error:      err.Error(),
		ErrorType:  ClassifyError(err),
		RetryCount: retryCount,
		MaxRetries: maxRetries,
		FailedAt:   failedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

// CanRetry returns true if this entry hasn't exceeded its max retry count.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}
