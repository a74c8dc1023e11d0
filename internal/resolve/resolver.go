// Package resolve selects a single company name from each candidate set
// using weighted heuristic signals and an ordered tie-break chain. Given the
// same candidates and ruleset it always produces the same choice.
package resolve

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/agext/levenshtein"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/kylestephens-labs/fund-signal/internal/lead"
	"github.com/kylestephens-labs/fund-signal/internal/rules"
	"github.com/kylestephens-labs/fund-signal/internal/telemetry"
)

// Version identifies the resolver implementation embedded in output rows.
const Version = "1.0.0"

// Skip reason codes.
const (
	SkipEmptyCandidates  = "EMPTY_CANDIDATES_AFTER_FILTER"
	SkipMissingStage     = "MISSING_STAGE"
	SkipMissingAmount    = "MISSING_AMOUNT"
	SkipMissingSourceURL = "MISSING_SOURCE_URL"
)

var fundingTokens = map[string]bool{"seed": true, "series": true, "round": true, "funding": true}

var publisherTokens = []string{"news", "weekly", "report", "digest", "newsletter", "journal", "gazette", "daily", "times"}

var publisherPrefixes = map[string]bool{
	"the": true, "der": true, "die": true, "das": true,
	"la": true, "le": true, "los": true, "las": true, "el": true,
}

var fundingVerbs = []string{
	"raises", "raised", "secures", "secured", "lands", "landed",
	"announces", "announced", "bags", "bagged",
}

var verbStarters = append(append([]string{}, fundingVerbs...),
	"receives", "received", "receiving",
	"wins", "won",
	"acquires", "acquired", "acquiring",
	"earns", "earning",
)

var localeFundingVerbs = []string{
	"erhält", "erhaelt", "erhalten",
	"obtiene", "obtuvo",
	"obtient", "obtiennent",
	"recauda", "recaudo", "recaudó",
	"levanta", "levanto",
	"consegue", "conseguiu",
}

var gerundSuffixes = []string{"ing", "ando", "iendo"}

const verbWindow = 40

// candidateView is a preprocessed candidate string for scoring and
// tie-breaking.
type candidateView struct {
	raw             string
	normalized      string
	normalizedLower string
	rawLower        string
	tokens          []string
	meta            lead.CandidateMeta
}

func newCandidateView(raw string, meta lead.CandidateMeta) candidateView {
	normalized := normalizeText(raw)
	return candidateView{
		raw:             raw,
		normalized:      normalized,
		normalizedLower: strings.ToLower(normalized),
		rawLower:        strings.ToLower(raw),
		tokens:          strings.Fields(normalized),
		meta:            meta,
	}
}

// ResolveRow resolves one candidate set. A non-empty skip reason means the
// row carried no resolvable lead.
func ResolveRow(row lead.CandidateSet, r *rules.ResolverRules) (*lead.ResolutionResult, string) {
	if len(row.Candidates) == 0 {
		return nil, SkipEmptyCandidates
	}

	stage := strings.TrimSpace(row.FundingStage)
	if stage == "" {
		return nil, SkipMissingStage
	}
	amount, ok := lead.NormalizeAmount(row.FundingAmount, row.FundingCurrency)
	if !ok {
		return nil, SkipMissingAmount
	}
	sourceURL := strings.TrimSpace(row.SourceURL)
	if sourceURL == "" {
		return nil, SkipMissingSourceURL
	}

	titleLower := strings.ToLower(row.RawTitle)
	slugHead := strings.ToLower(extractSlugHead(sourceURL))

	views := make([]candidateView, len(row.Candidates))
	scores := make([]float64, len(row.Candidates))
	flags := make([]lead.CandidateSignals, len(row.Candidates))
	for i, candidate := range row.Candidates {
		views[i] = newCandidateView(candidate, row.CandidateFeatures[candidate])
		signals := computeSignals(views[i], titleLower, slugHead, r)
		scores[i] = scoreSignals(signals, r.Weights)
		flags[i] = lead.CandidateSignals{Candidate: candidate, Signals: signals}
	}

	bestIdx := chooseCandidate(views, scores, titleLower, r.TieBreakers)

	result := &lead.ResolutionResult{
		ID:           row.ID,
		CompanyName:  row.Candidates[bestIdx],
		FundingStage: stage,
		Amount:       amount,
		SourceURL:    sourceURL,
		RawTitle:     row.RawTitle,
		RawSnippet:   row.RawSnippet,
		Resolution: lead.Resolution{
			Method:       fmt.Sprintf("resolver_%s", r.Version),
			ChosenIdx:    bestIdx,
			Score:        scores[bestIdx],
			Candidates:   row.Candidates,
			Scores:       scores,
			FeatureFlags: flags,
		},
		ResolverRulesetVersion:  r.Version,
		ResolverRulesetSHA256:   r.SHA256,
		GeneratorRulesetVersion: row.RulesetVersion,
		GeneratorRulesetSHA256:  row.RulesetSHA256,
	}
	if parsed := normalizeAnnouncedDate(row.AnnouncedDate); parsed != "" {
		result.AnnouncedDate = parsed
	}
	return result, ""
}

// computeSignals evaluates the heuristic feature set for a candidate against
// the row's title and the first token of its URL slug.
func computeSignals(view candidateView, titleLower, slugHead string, r *rules.ResolverRules) map[string]any {
	signals := make(map[string]any)

	hasFundingToken := false
	for _, token := range view.tokens {
		if fundingTokens[strings.ToLower(token)] {
			hasFundingToken = true
			break
		}
	}
	signals["has_funding_token"] = hasFundingToken
	signals["no_funding_tokens"] = !hasFundingToken
	signals["token_count_1_3"] = len(view.tokens) >= 1 && len(view.tokens) <= 3
	signals["long_phrase_penalty"] = len(view.tokens) >= 5
	signals["proper_noun_or_dotted"] = hasProperNoun(view.tokens) || strings.Contains(view.raw, ".")

	if slugHead != "" {
		distance := levenshtein.Distance(view.normalizedLower, slugHead, nil)
		signals["slug_head_edit_distance"] = distance
		signals["close_to_slug_head"] = distance <= r.SlugHeadEditDistanceThreshold
		proximity := r.SlugHeadEditDistanceThreshold + 1 - distance
		if proximity < 0 {
			proximity = 0
		}
		signals["slug_head_proximity_bonus"] = proximity
	} else {
		signals["slug_head_edit_distance"] = nil
		signals["close_to_slug_head"] = false
		signals["slug_head_proximity_bonus"] = 0
	}

	signals["near_funding_verb"] = appearsNearKeywords(view.rawLower, titleLower, fundingVerbs)
	signals["locale_verb_hit"] = appearsNearKeywords(view.rawLower, titleLower, localeFundingVerbs)
	signals["has_publisher_token_or_domain"] = containsPublisherToken(view.rawLower, titleLower)
	signals["has_publisher_prefix"] = hasPublisherPrefix(view.tokens)
	signals["starts_with_verb_or_gerund"] = startsWithVerbOrGerund(view.tokens)
	signals["possessive_plural_repaired"] = view.meta.PossessivePluralRepaired
	return signals
}

// scoreSignals sums weight × signal over the ruleset weights. Weights are
// visited in sorted name order so the float accumulation is reproducible.
func scoreSignals(signals map[string]any, weights map[string]float64) float64 {
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)

	score := 0.0
	for _, name := range names {
		weight := weights[name]
		if weight == 0 {
			continue
		}
		value := featureScalar(signals[name])
		if value == 0 {
			continue
		}
		score += weight * value
	}
	return score
}

func featureScalar(value any) float64 {
	switch v := value.(type) {
	case bool:
		if v {
			return 1.0
		}
		return 0.0
	case int:
		return float64(v)
	case float64:
		return v
	default:
		return 0.0
	}
}

// chooseCandidate picks the winner by comparing candidates along the ruleset
// tie-break chain, earliest index winning exact ties.
func chooseCandidate(views []candidateView, scores []float64, titleLower string, tieBreakers []string) int {
	best := 0
	for i := 1; i < len(views); i++ {
		if tieLess(views[i], scores[i], views[best], scores[best], titleLower, tieBreakers) {
			best = i
		}
	}
	return best
}

func tieLess(a candidateView, aScore float64, b candidateView, bScore float64, titleLower string, tieBreakers []string) bool {
	for _, breaker := range tieBreakers {
		switch breaker {
		case rules.TieBreakScoreDesc:
			if aScore != bScore {
				return aScore > bScore
			}
		case rules.TieBreakTokenCountAsc:
			if len(a.tokens) != len(b.tokens) {
				return len(a.tokens) < len(b.tokens)
			}
		case rules.TieBreakAppearsInTitle:
			aPos := titlePosition(titleLower, a.rawLower)
			bPos := titlePosition(titleLower, b.rawLower)
			if aPos != bPos {
				return aPos < bPos
			}
		case rules.TieBreakLexicographic:
			aFold := strings.ToLower(a.raw)
			bFold := strings.ToLower(b.raw)
			if aFold != bFold {
				return aFold < bFold
			}
		}
	}
	return false
}

func titlePosition(titleLower, candidateLower string) int {
	pos := strings.Index(titleLower, candidateLower)
	if pos < 0 {
		return 10000
	}
	return pos
}

func hasProperNoun(tokens []string) bool {
	for _, token := range tokens {
		if token != "" && token[0] >= 'A' && token[0] <= 'Z' {
			return true
		}
	}
	return false
}

func hasPublisherPrefix(tokens []string) bool {
	if len(tokens) == 0 {
		return false
	}
	first := strings.ToLower(tokens[0])
	second := ""
	if len(tokens) > 1 {
		second = strings.ToLower(tokens[1])
	}
	third := ""
	if len(tokens) > 2 {
		third = strings.ToLower(tokens[2])
	}
	if publisherPrefixes[first] && (isPublisherToken(second) || isPublisherToken(third) || second == "news") {
		return true
	}
	return isPublisherToken(first)
}

func isPublisherToken(token string) bool {
	for _, pub := range publisherTokens {
		if token == pub {
			return true
		}
	}
	return false
}

func startsWithVerbOrGerund(tokens []string) bool {
	if len(tokens) == 0 {
		return false
	}
	first := strings.ToLower(tokens[0])
	for _, verb := range verbStarters {
		if first == verb {
			return true
		}
	}
	for _, verb := range localeFundingVerbs {
		if first == verb {
			return true
		}
	}
	for _, suffix := range gerundSuffixes {
		if strings.HasSuffix(first, suffix) {
			return true
		}
	}
	return false
}

// appearsNearKeywords reports whether any keyword falls within a 40-rune
// window around the candidate's occurrence in the title.
func appearsNearKeywords(candidateLower, titleLower string, keywords []string) bool {
	if candidateLower == "" || titleLower == "" {
		return false
	}
	index := strings.Index(titleLower, candidateLower)
	if index < 0 {
		return false
	}
	start := index - verbWindow
	if start < 0 {
		start = 0
	}
	end := index + len(candidateLower) + verbWindow
	if end > len(titleLower) {
		end = len(titleLower)
	}
	window := titleLower[start:end]
	for _, keyword := range keywords {
		if strings.Contains(window, keyword) {
			return true
		}
	}
	return false
}

// containsPublisherToken checks candidate and title together. A publisher
// token anywhere in the headline penalizes all of the row's candidates,
// which biases resolution toward the slug-derived name on publisher sites.
func containsPublisherToken(candidateLower, titleLower string) bool {
	if candidateLower == "" && titleLower == "" {
		return false
	}
	combined := candidateLower + " " + titleLower
	for _, token := range publisherTokens {
		if strings.Contains(combined, token) {
			return true
		}
	}
	return false
}

func normalizeText(value string) string {
	text := norm.NFKC.String(value)
	text = strings.ReplaceAll(text, "’", "'")
	return strings.Join(strings.Fields(text), " ")
}

// extractSlugHead returns the first word of the last non-empty URL path
// segment, hyphens treated as word separators.
func extractSlugHead(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		cleaned := strings.TrimSpace(segments[i])
		if cleaned == "" {
			continue
		}
		words := strings.Fields(normalizeText(strings.ReplaceAll(cleaned, "-", " ")))
		if len(words) == 0 {
			return ""
		}
		return words[0]
	}
	return ""
}

func normalizeAnnouncedDate(value string) string {
	candidate := strings.TrimSpace(value)
	if candidate == "" {
		return ""
	}
	if idx := strings.Index(candidate, "T"); idx >= 0 {
		candidate = candidate[:idx]
	}
	parsed, err := time.Parse("2006-01-02", candidate)
	if err != nil {
		return ""
	}
	return parsed.Format("2006-01-02")
}

// Metrics summarizes a resolver batch.
type Metrics struct {
	ItemsTotal    int     `json:"items_total"`
	ItemsResolved int     `json:"items_resolved"`
	ItemsSkipped  int     `json:"items_skipped"`
	AvgCandidates float64 `json:"avg_candidates_per_item"`
}

// Output is the stage artifact written to disk.
type Output struct {
	ResolverVersion       string                  `json:"resolver_version"`
	ResolverRulesetVer    string                  `json:"resolver_ruleset_version"`
	ResolverRulesetSHA256 string                  `json:"resolver_ruleset_sha256"`
	ItemsTotal            int                     `json:"items_total"`
	ItemsResolved         int                     `json:"items_resolved"`
	ItemsSkipped          int                     `json:"items_skipped"`
	Metrics               Metrics                 `json:"metrics"`
	Data                  []lead.ResolutionResult `json:"data"`
	Skipped               []lead.SkippedRow       `json:"skipped"`
}

// Run resolves every candidate set in the batch. Skipped rows carry reason
// codes; the batch never fails over a single row.
func Run(sets []lead.CandidateSet, r *rules.ResolverRules) *Output {
	out := &Output{
		ResolverVersion:       Version,
		ResolverRulesetVer:    r.Version,
		ResolverRulesetSHA256: r.SHA256,
		Data:                  []lead.ResolutionResult{},
		Skipped:               []lead.SkippedRow{},
	}

	totalCandidates := 0
	for i, row := range sets {
		out.ItemsTotal++
		totalCandidates += len(row.Candidates)
		result, skipReason := ResolveRow(row, r)
		if result == nil {
			out.ItemsSkipped++
			id := row.ID
			if id == "" {
				id = fmt.Sprintf("row_%06d", i+1)
			}
			out.Skipped = append(out.Skipped, lead.SkippedRow{ID: id, SkipReason: skipReason})
			continue
		}
		out.ItemsResolved++
		out.Data = append(out.Data, *result)
	}

	out.Metrics = Metrics{
		ItemsTotal:    out.ItemsTotal,
		ItemsResolved: out.ItemsResolved,
		ItemsSkipped:  out.ItemsSkipped,
	}
	if out.ItemsTotal > 0 {
		out.Metrics.AvgCandidates = float64(totalCandidates) / float64(out.ItemsTotal)
	}

	accuracy := 0.0
	if out.ItemsTotal > 0 {
		accuracy = float64(out.ItemsResolved) / float64(out.ItemsTotal)
	}
	telemetry.Emit("resolver", "summary",
		zap.String("resolver_version", Version),
		zap.String("resolver_ruleset_version", r.Version),
		zap.Int("items_total", out.ItemsTotal),
		zap.Int("items_resolved", out.ItemsResolved),
		zap.Int("items_skipped", out.ItemsSkipped),
		zap.Float64("accuracy_estimate", accuracy),
	)
	return out
}
