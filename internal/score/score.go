// Package score assigns confidence points and terminal labels to unified
// leads. Scoring is a pure function of the unified evidence and the scoring
// ruleset; re-running it on the same inputs yields byte-identical output.
package score

import (
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kylestephens-labs/fund-signal/internal/lead"
	"github.com/kylestephens-labs/fund-signal/internal/rules"
	"github.com/kylestephens-labs/fund-signal/internal/telemetry"
)

// Output is the terminal scored artifact.
type Output struct {
	RulesetVersion string            `json:"ruleset_version"`
	RulesetSHA256  string            `json:"ruleset_sha256"`
	ScoredAt       string            `json:"scored_at"`
	Leads          []lead.ScoredLead `json:"leads"`
}

// Run scores every unified lead. Leads are ordered by (id, company name)
// before scoring so the output order never depends on upstream ordering.
func Run(leads []lead.UnifiedLead, r *rules.ScoringRules, scoredAt time.Time) *Output {
	ordered := make([]lead.UnifiedLead, len(leads))
	copy(ordered, leads)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].ID != ordered[j].ID {
			return ordered[i].ID < ordered[j].ID
		}
		return strings.ToLower(ordered[i].CompanyName) < strings.ToLower(ordered[j].CompanyName)
	})

	scored := make([]lead.ScoredLead, 0, len(ordered))
	counts := map[string]int{}
	for _, unified := range ordered {
		entry := scoreLead(unified, r)
		counts[entry.FinalLabel]++
		scored = append(scored, entry)
	}

	telemetry.Emit("confidence_scoring", "complete",
		zap.Int("verified", counts[lead.LabelVerified]),
		zap.Int("likely", counts[lead.LabelLikely]),
		zap.Int("exclude", counts[lead.LabelExclude]),
		zap.String("ruleset_version", r.Version),
	)

	return &Output{
		RulesetVersion: r.Version,
		RulesetSHA256:  r.SHA256,
		ScoredAt:       FormatTimestamp(scoredAt),
		Leads:          scored,
	}
}

func scoreLead(unified lead.UnifiedLead, r *rules.ScoringRules) lead.ScoredLead {
	leadID := unified.ID
	if leadID == "" {
		leadID = "unknown"
	}
	companyName := strings.TrimSpace(unified.CompanyName)
	if companyName == "" {
		companyName = "Unknown"
	}

	var warnings []string
	if unified.Normalized.Stage == "" {
		warnings = append(warnings, "missing_normalized_stage")
	}
	hasAmount := unified.Normalized.Amount.Unit != ""
	if !hasAmount {
		warnings = append(warnings, "missing_normalized_amount")
	}

	confirming := make(map[string][]lead.ArticleEvidence, len(r.VerificationSources))
	for _, source := range r.VerificationSources {
		articles := unified.Confirmations[source.ID]
		if len(articles) == 0 {
			warnings = append(warnings, "missing_"+source.ID+"_confirmations")
			continue
		}
		var kept []lead.ArticleEvidence
		for _, article := range articles {
			if article.Confirms() {
				kept = append(kept, article)
			}
		}
		if len(kept) == 0 {
			warnings = append(warnings, "no_confirming_"+source.ID+"_articles")
		}
		confirming[source.ID] = kept
	}

	points := calculatePoints(unified, confirming, hasAmount, r)

	return lead.ScoredLead{
		ID:               leadID,
		CompanyName:      companyName,
		ConfidencePoints: points,
		FinalLabel:       labelForPoints(points, r.Thresholds),
		VerifiedBy:       collectVerifiedBy(confirming, r),
		ProofLinks:       collectProofLinks(confirming, r.VerificationSources),
		Warnings:         dedupePreserveOrder(warnings),
		Normalized:       unified.Normalized,
	}
}

func calculatePoints(unified lead.UnifiedLead, confirming map[string][]lead.ArticleEvidence, hasAmount bool, r *rules.ScoringRules) int {
	points := 0

	mainstream := make(map[string]bool)
	anyStage, anyAmount := false, false
	allConfirmed := len(r.VerificationSources) > 0
	for _, source := range r.VerificationSources {
		articles := confirming[source.ID]
		if len(articles) == 0 {
			allConfirmed = false
		}
		for _, article := range articles {
			if article.Domain != "" && r.MainstreamDomains[article.Domain] {
				mainstream[article.Domain] = true
			}
			anyStage = anyStage || article.Match.Stage
			anyAmount = anyAmount || article.Match.Amount
		}
	}

	if len(mainstream) >= 2 {
		points += r.Weights.MainstreamDomainPair
	}
	if (unified.Normalized.Stage != "" && anyStage) || (hasAmount && anyAmount) {
		points += r.Weights.NormalizedFieldMatch
	}
	if allConfirmed {
		points += r.Weights.DualSourceConfirmation
	}
	return points
}

func labelForPoints(points int, thresholds rules.ScoreThresholds) string {
	switch {
	case points >= thresholds.Verified:
		return lead.LabelVerified
	case points >= thresholds.Likely:
		return lead.LabelLikely
	default:
		return lead.LabelExclude
	}
}

func collectVerifiedBy(confirming map[string][]lead.ArticleEvidence, r *rules.ScoringRules) []string {
	verifiedBy := make([]string, 0, len(r.DiscoverySources)+len(r.VerificationSources))
	for _, source := range r.DiscoverySources {
		verifiedBy = append(verifiedBy, source.Label)
	}
	for _, source := range r.VerificationSources {
		if len(confirming[source.ID]) > 0 {
			verifiedBy = append(verifiedBy, source.Label)
		}
	}
	return verifiedBy
}

// collectProofLinks gathers sanitized confirming URLs in source order,
// deduplicated while preserving first occurrence.
func collectProofLinks(confirming map[string][]lead.ArticleEvidence, sources []rules.Source) []string {
	links := []string{}
	seen := make(map[string]bool)
	for _, source := range sources {
		for _, article := range confirming[source.ID] {
			sanitized := SanitizeProofURL(article.URL)
			if sanitized == "" || seen[sanitized] {
				continue
			}
			seen[sanitized] = true
			links = append(links, sanitized)
		}
	}
	return links
}

// SanitizeProofURL strips credential-bearing query parameters from a proof
// link. URLs without a scheme and host are dropped outright.
func SanitizeProofURL(rawURL string) string {
	candidate := strings.TrimSpace(rawURL)
	if candidate == "" {
		return ""
	}
	parsed, err := url.Parse(candidate)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	if parsed.RawQuery != "" {
		var kept []string
		for _, pair := range strings.Split(parsed.RawQuery, "&") {
			if pair == "" {
				continue
			}
			key := pair
			if idx := strings.Index(pair, "="); idx >= 0 {
				key = pair[:idx]
			}
			if decoded, err := url.QueryUnescape(key); err == nil {
				key = decoded
			}
			if strings.Contains(strings.ToLower(key), "key") {
				continue
			}
			kept = append(kept, pair)
		}
		parsed.RawQuery = strings.Join(kept, "&")
	}
	return parsed.String()
}

func dedupePreserveOrder(items []string) []string {
	seen := make(map[string]bool, len(items))
	result := []string{}
	for _, item := range items {
		if seen[item] {
			continue
		}
		seen[item] = true
		result = append(result, item)
	}
	return result
}

// FormatTimestamp renders a scoring timestamp as RFC 3339 UTC without
// sub-second precision.
func FormatTimestamp(value time.Time) string {
	return value.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")
}

// ParseTimestamp parses a scored_at override. Zone-less values are read as
// UTC.
func ParseTimestamp(value string) (time.Time, error) {
	candidate := strings.TrimSpace(value)
	if candidate == "" {
		return time.Time{}, eris.New("score: timestamp cannot be empty")
	}
	layouts := []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, candidate); err == nil {
			return parsed.UTC().Truncate(time.Second), nil
		}
	}
	return time.Time{}, eris.Errorf("score: invalid timestamp override: %s", value)
}
