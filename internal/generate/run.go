package generate

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/kylestephens-labs/fund-signal/internal/lead"
	"github.com/kylestephens-labs/fund-signal/internal/rules"
	"github.com/kylestephens-labs/fund-signal/internal/telemetry"
)

// Metrics summarizes a generation batch.
type Metrics struct {
	ItemsTotal          int     `json:"items_total"`
	ItemsWithCandidates int     `json:"items_with_candidates"`
	PublisherFlagged    int     `json:"publisher_flagged"`
	PublisherSplitUsed  int     `json:"publisher_split_used"`
	URLSlugUsed         int     `json:"url_slug_used"`
	AvgCandidates       float64 `json:"avg_candidates_per_item"`
}

// Output is the stage artifact written to disk.
type Output struct {
	GeneratorVersion    string              `json:"generator_version"`
	RulesetVersion      string              `json:"ruleset_version"`
	RulesetSHA256       string              `json:"ruleset_sha256"`
	ItemsTotal          int                 `json:"items_total"`
	ItemsWithCandidates int                 `json:"items_with_candidates"`
	Metrics             Metrics             `json:"metrics"`
	Data                []lead.CandidateSet `json:"data"`
	Skipped             []lead.SkippedRow   `json:"skipped"`
}

// Run decodes raw discovery rows and produces candidate sets for each.
// Malformed rows are recorded in Skipped, never dropped silently.
func Run(records []json.RawMessage, r *rules.GeneratorRules) *Output {
	gen := New(r)
	out := &Output{
		GeneratorVersion: Version,
		RulesetVersion:   r.Version,
		RulesetSHA256:    r.SHA256,
		Data:             []lead.CandidateSet{},
		Skipped:          []lead.SkippedRow{},
	}

	totalCandidates := 0
	for i, raw := range records {
		out.ItemsTotal++
		var rec lead.RawRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			out.Skipped = append(out.Skipped, lead.SkippedRow{
				RowIndex:   i,
				SkipReason: SkipRowParseError,
			})
			continue
		}
		set, skipReason := gen.Generate(rec, i)
		if skipReason != "" {
			out.Skipped = append(out.Skipped, lead.SkippedRow{
				RowIndex:   i,
				ID:         rec.ID,
				SkipReason: skipReason,
				RawTitle:   rec.Title,
			})
			continue
		}
		out.ItemsWithCandidates++
		totalCandidates += len(set.Candidates)
		if set.Features.PublisherFlagged {
			out.Metrics.PublisherFlagged++
		}
		if set.Features.PublisherSplitUsed {
			out.Metrics.PublisherSplitUsed++
		}
		if set.Features.URLSlugUsed {
			out.Metrics.URLSlugUsed++
		}
		out.Data = append(out.Data, *set)
	}

	out.Metrics.ItemsTotal = out.ItemsTotal
	out.Metrics.ItemsWithCandidates = out.ItemsWithCandidates
	if out.ItemsWithCandidates > 0 {
		out.Metrics.AvgCandidates = float64(totalCandidates) / float64(out.ItemsWithCandidates)
	}

	telemetry.Emit("generate", "batch_complete",
		zap.Int("items_total", out.ItemsTotal),
		zap.Int("items_with_candidates", out.ItemsWithCandidates),
		zap.Int("skipped", len(out.Skipped)),
		zap.String("ruleset_version", r.Version),
	)
	return out
}

func rowID(rowIndex int) string {
	return fmt.Sprintf("row-%d", rowIndex)
}
