// Package feedback re-resolves low-confidence leads using entity spans that
// recur across verification evidence. A company name is replaced only when a
// capitalized span appears on at least two distinct verified domains, and the
// original name is always preserved alongside the correction.
package feedback

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kylestephens-labs/fund-signal/internal/jsonio"
	"github.com/kylestephens-labs/fund-signal/internal/lead"
	"github.com/kylestephens-labs/fund-signal/internal/resolve"
	"github.com/kylestephens-labs/fund-signal/internal/telemetry"
)

// Version tags every feedback correction.
const Version = "v1"

// Resolution scores below this mark a row as low confidence.
const lowConfidenceScore = 2.0

var spanStopwords = map[string]bool{
	"seed": true, "round": true, "series": true, "funding": true,
	"news": true, "digest": true, "weekly": true,
}

var spanRe = regexp.MustCompile(`\b([A-Z][A-Za-z0-9&'.]+(?: [A-Z][A-Za-z0-9&'.]+){0,2})\b`)

// EvidenceMap indexes, per lead ID, each extracted span to the set of
// verified domains it appeared on.
type EvidenceMap map[string]map[string]map[string]bool

type evidenceDoc struct {
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
	URL       string `json:"url"`
	SourceURL string `json:"source_url"`
	Domain    string `json:"domain"`
}

type evidenceRow struct {
	ID            string        `json:"id"`
	Company       string        `json:"company"`
	SourceURL     string        `json:"source_url"`
	Articles      []evidenceDoc `json:"articles"`
	PressArticles []evidenceDoc `json:"press_articles"`
}

// BuildEvidenceMap loads verified-article payloads and indexes their entity
// spans by lead and domain. Every listed evidence file must exist; a missing
// provider export means the run is operating on partial evidence and aborts.
func BuildEvidenceMap(paths ...string) (EvidenceMap, error) {
	evidence := make(EvidenceMap)
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			return nil, eris.Wrapf(err, "feedback: evidence file %s unavailable", path)
		}
		rows, err := loadEvidenceRows(path)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			rowID := firstNonEmpty(row.ID, row.Company, row.SourceURL)
			if rowID == "" {
				continue
			}
			docs := row.Articles
			if len(docs) == 0 {
				docs = row.PressArticles
			}
			for _, doc := range docs {
				domain := extractDomain(firstNonEmpty(doc.URL, doc.SourceURL), doc.Domain)
				if domain == "" {
					continue
				}
				for _, span := range extractSpans(doc.Title + " " + doc.Snippet) {
					byID, ok := evidence[rowID]
					if !ok {
						byID = make(map[string]map[string]bool)
						evidence[rowID] = byID
					}
					domains, ok := byID[span]
					if !ok {
						domains = make(map[string]bool)
						byID[span] = domains
					}
					domains[domain] = true
				}
			}
		}
	}
	return evidence, nil
}

func loadEvidenceRows(path string) ([]evidenceRow, error) {
	var wrapped struct {
		Data []evidenceRow `json:"data"`
	}
	if err := jsonio.ReadJSON(path, &wrapped); err == nil && wrapped.Data != nil {
		return wrapped.Data, nil
	}
	var rows []evidenceRow
	if err := jsonio.ReadJSON(path, &rows); err != nil {
		return nil, eris.Wrapf(err, "feedback: evidence file %s is neither a data envelope nor a list", path)
	}
	return rows, nil
}

func extractDomain(rawURL, fallback string) string {
	if fallback != "" {
		return strings.ToLower(fallback)
	}
	if rawURL == "" {
		return ""
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	return strings.TrimPrefix(host, "www.")
}

func extractSpans(text string) []string {
	var spans []string
	for _, match := range spanRe.FindAllStringSubmatch(text, -1) {
		value := strings.TrimSpace(match[1])
		if value == "" || spanStopwords[strings.ToLower(value)] {
			continue
		}
		spans = append(spans, value)
	}
	return spans
}

// isLowConfidence marks rows eligible for correction: an excluded label or a
// resolution score below 2.
func isLowConfidence(row lead.ResolutionResult) bool {
	if strings.EqualFold(row.Resolution.FinalLabel, lead.LabelExclude) {
		return true
	}
	return row.Resolution.Score < lowConfidenceScore
}

// chooseSpan picks the winning span among those seen on at least two
// distinct domains: most domains first, then fewest tokens, then
// case-insensitive lexicographic order.
func chooseSpan(spanDomains map[string]map[string]bool) (string, []string) {
	type ranked struct {
		span    string
		domains []string
	}
	var candidates []ranked
	for span, domains := range spanDomains {
		if len(domains) < 2 {
			continue
		}
		sorted := make([]string, 0, len(domains))
		for domain := range domains {
			sorted = append(sorted, domain)
		}
		sort.Strings(sorted)
		candidates = append(candidates, ranked{span: span, domains: sorted})
	}
	if len(candidates) == 0 {
		return "", nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if len(a.domains) != len(b.domains) {
			return len(a.domains) > len(b.domains)
		}
		aTokens, bTokens := len(strings.Fields(a.span)), len(strings.Fields(b.span))
		if aTokens != bTokens {
			return aTokens < bTokens
		}
		return strings.ToLower(a.span) < strings.ToLower(b.span)
	})
	return candidates[0].span, candidates[0].domains
}

// Metrics summarizes a feedback pass.
type Metrics struct {
	RowsTotal  int `json:"rows_total"`
	Reviewed   int `json:"reviewed"`
	SpansFound int `json:"spans_found"`
	Applied    int `json:"applied"`
}

// Output is the corrected resolver payload with feedback provenance.
type Output struct {
	resolve.Output
	FeedbackVersion string `json:"feedback_version"`
	FeedbackApplied int    `json:"feedback_applied"`
	FeedbackSHA256  string `json:"feedback_sha256"`
}

// Apply walks resolved rows and promotes cross-domain evidence spans on
// low-confidence leads. Rows are only ever corrected, never dropped, and a
// correction never overwrites an identical name.
func Apply(in *resolve.Output, evidence EvidenceMap) (*Output, Metrics, error) {
	metrics := Metrics{RowsTotal: len(in.Data)}

	for i := range in.Data {
		row := &in.Data[i]
		row.FeedbackApplied = false
		if row.ID == "" || !isLowConfidence(*row) {
			continue
		}
		spanDomains := evidence[row.ID]
		metrics.Reviewed++
		metrics.SpansFound += len(spanDomains)
		span, domains := chooseSpan(spanDomains)
		if span == "" || span == row.CompanyName {
			continue
		}
		metrics.Applied++
		applySpan(row, span, domains)
	}

	out := &Output{
		Output:          *in,
		FeedbackVersion: Version,
		FeedbackApplied: metrics.Applied,
	}
	sha, err := jsonio.CanonicalSHA256(out.Data)
	if err != nil {
		return nil, metrics, eris.Wrap(err, "feedback: hash corrected rows")
	}
	out.FeedbackSHA256 = sha

	telemetry.Emit("feedback_resolver", "summary",
		zap.Int("items_total", metrics.RowsTotal),
		zap.Int("feedback_applied", metrics.Applied),
		zap.Int("feedback_candidates_checked", metrics.Reviewed),
		zap.Int("unique_spans_found", metrics.SpansFound),
		zap.String("feedback_sha256", out.FeedbackSHA256),
	)
	return out, metrics, nil
}

func applySpan(row *lead.ResolutionResult, span string, domains []string) {
	row.OriginalCompanyName = row.CompanyName
	row.CompanyName = span
	row.FeedbackApplied = true
	row.FeedbackReason = fmt.Sprintf("Entity '%s' seen in %d verified domains", span, len(domains))
	row.FeedbackDomains = domains
	row.FeedbackVersion = Version
	row.FeedbackSHA256 = rowFeedbackHash(row.ID, span, domains)
}

func rowFeedbackHash(rowID, span string, domains []string) string {
	payload := struct {
		Domains []string `json:"domains"`
		ID      string   `json:"id"`
		Span    string   `json:"span"`
	}{Domains: domains, ID: rowID, Span: span}
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
