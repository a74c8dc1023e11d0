// Package readiness computes a 0-100 sales-readiness score for scored leads.
// Two engines exist behind one interface: a deterministic rubric and an
// LLM-backed engine. The two scales are independent; no reconciliation
// between them is attempted.
package readiness

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kylestephens-labs/fund-signal/internal/lead"
	"github.com/kylestephens-labs/fund-signal/internal/telemetry"
)

// Version identifies the readiness stage output schema.
const Version = "1.0.0"

// Engine names accepted by the CLI.
const (
	EngineRubric = "rubric"
	EngineLLM    = "llm"
)

// SkipEngineError marks a lead the engine could not score.
const SkipEngineError = "ENGINE_ERROR"

// BreakdownItem explains one rubric component's contribution.
type BreakdownItem struct {
	Reason string `json:"reason"`
	Points int    `json:"points"`
}

// Result is the readiness score for one lead.
type Result struct {
	ID          string          `json:"id"`
	CompanyName string          `json:"company_name"`
	Score       int             `json:"score"`
	Breakdown   []BreakdownItem `json:"breakdown,omitempty"`
	Reasoning   string          `json:"reasoning,omitempty"`
	Engine      string          `json:"engine"`
	Model       string          `json:"model,omitempty"`
}

// Engine scores a single lead.
type Engine interface {
	Name() string
	ScoreLead(ctx context.Context, l lead.ScoredLead) (*Result, error)
}

// Output is the readiness stage artifact.
type Output struct {
	ReadinessVersion string            `json:"readiness_version"`
	Engine           string            `json:"engine"`
	GeneratedAt      string            `json:"generated_at"`
	Results          []Result          `json:"results"`
	Skipped          []lead.SkippedRow `json:"skipped"`
}

// Run scores every lead with the given engine. Per-lead engine failures land
// in skipped[] rather than aborting the batch. Leads are ordered by
// (id, company name) so output order never depends on upstream ordering.
func Run(ctx context.Context, leads []lead.ScoredLead, engine Engine, generatedAt time.Time) (*Output, error) {
	ordered := make([]lead.ScoredLead, len(leads))
	copy(ordered, leads)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].ID != ordered[j].ID {
			return ordered[i].ID < ordered[j].ID
		}
		return strings.ToLower(ordered[i].CompanyName) < strings.ToLower(ordered[j].CompanyName)
	})

	out := &Output{
		ReadinessVersion: Version,
		Engine:           engine.Name(),
		GeneratedAt:      generatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		Results:          []Result{},
		Skipped:          []lead.SkippedRow{},
	}

	for _, l := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := engine.ScoreLead(ctx, l)
		if err != nil {
			zap.L().Warn("readiness scoring failed",
				zap.String("id", l.ID),
				zap.String("engine", engine.Name()),
				zap.Error(err),
			)
			out.Skipped = append(out.Skipped, lead.SkippedRow{
				ID:         l.ID,
				SkipReason: SkipEngineError,
			})
			continue
		}
		out.Results = append(out.Results, *result)
	}

	telemetry.Emit("readiness", "complete",
		zap.String("engine", engine.Name()),
		zap.Int("scored", len(out.Results)),
		zap.Int("skipped", len(out.Skipped)),
	)
	return out, nil
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
