// Package verify merges per-provider verification evidence into unified
// leads. Articles are normalized against the resolved seed before they may
// confirm anything: the company name must appear, and stage or amount
// matches are recorded per article.
package verify

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/kylestephens-labs/fund-signal/internal/lead"
)

// Corporate suffixes dropped when building company aliases.
var corporateSuffixes = map[string]bool{
	"inc": true, "incorporated": true, "corp": true, "corporation": true,
	"co": true, "company": true, "ltd": true, "limited": true, "llc": true,
	"gmbh": true, "ag": true, "pty": true, "plc": true,
}

// Country-code public suffixes that need three labels for the registrable
// domain.
var twoPartSuffixes = map[string]bool{
	"com.au": true, "net.au": true, "org.au": true, "gov.au": true, "edu.au": true,
	"com.br": true, "com.cn": true, "com.hk": true, "com.mx": true, "com.my": true,
	"com.sg": true, "com.tr": true, "com.tw": true, "com.sa": true,
	"co.in": true, "co.jp": true, "co.kr": true, "co.nz": true, "co.uk": true,
	"ac.uk": true, "gov.uk": true,
}

var trackingPrefixes = []string{"utm_", "fbclid", "gclid", "mc_"}

var sensitiveTokens = []string{"key", "token", "signature"}

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)

var groupedPrinter = message.NewPrinter(language.English)

// ArticleNormalizer evaluates provider articles against one resolved seed.
type ArticleNormalizer struct {
	aliases      []string
	stageTokens  []string
	amountTokens []string
}

// NewArticleNormalizer precomputes the match token sets for a seed.
func NewArticleNormalizer(companyName, stage string, amount lead.FundingAmount) *ArticleNormalizer {
	return &ArticleNormalizer{
		aliases:      buildCompanyAliases(companyName),
		stageTokens:  buildStageTokens(stage),
		amountTokens: buildAmountTokens(amount),
	}
}

// RawArticle is a provider record reduced to the fields normalization needs.
type RawArticle struct {
	Title       string
	Snippet     string
	URL         string
	PublishedAt string
}

// Normalize canonicalizes an article and evaluates its matches. The second
// return is false when the article is unusable or never mentions the
// company.
func (n *ArticleNormalizer) Normalize(article RawArticle) (lead.ArticleEvidence, bool) {
	canonical := CanonicalizeURL(article.URL)
	if canonical == "" {
		return lead.ArticleEvidence{}, false
	}
	domain := NormalizeDomain(canonical)
	if domain == "" {
		return lead.ArticleEvidence{}, false
	}

	title := strings.TrimSpace(article.Title)
	haystack := strings.TrimSpace(strings.Join(nonEmpty(title, article.Snippet), " "))
	haystackLower := strings.ToLower(haystack)
	normalizedText := normalizeMatchText(haystack)
	if normalizedText == "" {
		return lead.ArticleEvidence{}, false
	}
	compactText := strings.ReplaceAll(normalizedText, " ", "")
	if !matchesAny(n.aliases, normalizedText, compactText) {
		return lead.ArticleEvidence{}, false
	}

	displayTitle := title
	if displayTitle == "" {
		displayTitle = canonical
	}
	return lead.ArticleEvidence{
		URL:         canonical,
		Domain:      domain,
		Title:       displayTitle,
		PublishedAt: NormalizeTimestamp(article.PublishedAt),
		Match: lead.ArticleMatch{
			Stage:  matchesStage(n.stageTokens, normalizedText, haystackLower),
			Amount: matchesAmount(n.amountTokens, haystackLower),
		},
	}, true
}

// CanonicalizeURL normalizes a URL for deduplication and display: tracking
// and credential-bearing query parameters are removed along with the
// fragment, remaining parameters keep their order.
func CanonicalizeURL(rawURL string) string {
	candidate := strings.TrimSpace(rawURL)
	if candidate == "" {
		return ""
	}
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}
	parsed, err := url.Parse(candidate)
	if err != nil || parsed.Host == "" {
		return ""
	}
	parsed.Fragment = ""
	parsed.RawQuery = filterQuery(parsed.RawQuery)
	return parsed.String()
}

func filterQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	var kept []string
	for _, pair := range strings.Split(rawQuery, "&") {
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
		if isFilteredKey(strings.ToLower(key)) {
			continue
		}
		kept = append(kept, pair)
	}
	return strings.Join(kept, "&")
}

func isFilteredKey(key string) bool {
	for _, prefix := range trackingPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	for _, token := range sensitiveTokens {
		if strings.Contains(key, token) {
			return true
		}
	}
	return false
}

// NormalizeDomain collapses a host into a comparable registrable domain.
func NormalizeDomain(value string) string {
	if value == "" {
		return ""
	}
	candidate := value
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}
	parsed, err := url.Parse(candidate)
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Host)
	if host == "" {
		host = strings.ToLower(parsed.Path)
	}
	if idx := strings.Index(host, ":"); idx >= 0 {
		host = host[:idx]
	}
	host = strings.TrimPrefix(host, "www.")

	var parts []string
	for _, part := range strings.Split(host, ".") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) <= 2 {
		return host
	}
	suffix := strings.Join(parts[len(parts)-2:], ".")
	if twoPartSuffixes[suffix] {
		return strings.Join(parts[len(parts)-3:], ".")
	}
	return suffix
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// NormalizeTimestamp parses common article timestamp shapes into RFC 3339
// UTC without sub-second precision. Unparseable values normalize to empty.
func NormalizeTimestamp(value string) string {
	candidate := strings.TrimSpace(value)
	if candidate == "" {
		return ""
	}
	for _, layout := range timestampLayouts {
		parsed, err := time.Parse(layout, candidate)
		if err != nil {
			continue
		}
		return parsed.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")
	}
	return ""
}

func normalizeMatchText(value string) string {
	return strings.TrimSpace(nonAlnumRe.ReplaceAllString(strings.ToLower(value), " "))
}

func matchesAny(aliases []string, normalizedText, compactText string) bool {
	for _, alias := range aliases {
		if alias == "" {
			continue
		}
		if strings.Contains(alias, " ") {
			if strings.Contains(normalizedText, alias) {
				return true
			}
		} else if strings.Contains(compactText, alias) {
			return true
		}
	}
	return false
}

func matchesStage(tokens []string, normalizedText, haystackLower string) bool {
	for _, token := range tokens {
		if token == "" {
			continue
		}
		if strings.ContainsAny(token, " -") {
			if strings.Contains(normalizedText, token) {
				return true
			}
		} else if strings.Contains(haystackLower, token) {
			return true
		}
	}
	return false
}

func matchesAmount(tokens []string, haystackLower string) bool {
	for _, token := range tokens {
		if token != "" && strings.Contains(haystackLower, token) {
			return true
		}
	}
	return false
}

func buildCompanyAliases(company string) []string {
	normalized := normalizeMatchText(company)
	aliases := make(map[string]bool)
	aliases[normalized] = true
	aliases[strings.ReplaceAll(normalized, " ", "")] = true
	aliases[strings.ReplaceAll(lead.Slugify(company), "-", "")] = true
	words := strings.Fields(normalized)
	if len(words) > 0 && corporateSuffixes[words[len(words)-1]] {
		trimmed := strings.Join(words[:len(words)-1], " ")
		if trimmed != "" {
			aliases[trimmed] = true
			aliases[strings.ReplaceAll(trimmed, " ", "")] = true
		}
	}
	return sortedNonEmpty(aliases)
}

func buildStageTokens(stage string) []string {
	stageLower := strings.ToLower(strings.TrimSpace(stage))
	tokens := make(map[string]bool)
	tokens[stageLower] = true
	tokens[strings.ReplaceAll(stageLower, "-", " ")] = true
	tokens[strings.ReplaceAll(stageLower, " ", "")] = true
	if suffix, ok := strings.CutPrefix(stageLower, "series "); ok {
		suffix = strings.TrimSpace(suffix)
		tokens["series"+suffix] = true
		tokens["series-"+suffix] = true
	}
	return sortedNonEmpty(tokens)
}

func buildAmountTokens(amount lead.FundingAmount) []string {
	scale, letter, word := amountUnit(amount.Unit)
	if scale == 0 {
		return nil
	}
	absolute := int64(amount.Value*float64(scale) + 0.5)
	grouped := groupedPrinter.Sprintf("%d", absolute)
	display := strconv.FormatFloat(amount.Value, 'g', -1, 64)
	rounded := strconv.FormatFloat(amount.Value, 'f', 0, 64)

	tokens := make(map[string]bool)
	for _, token := range []string{
		grouped,
		"$" + grouped,
		display + letter,
		"$" + display + letter,
		display + " " + word,
		"$" + display + " " + word,
		rounded + letter,
		"$" + rounded + letter,
		rounded + " " + word,
		"$" + rounded + " " + word,
	} {
		tokens[strings.ToLower(token)] = true
	}
	return sortedNonEmpty(tokens)
}

func amountUnit(unit string) (scale int64, letter, word string) {
	switch unit {
	case "K":
		return 1_000, "k", "thousand"
	case "M":
		return 1_000_000, "m", "million"
	case "B":
		return 1_000_000_000, "b", "billion"
	default:
		return 0, "", ""
	}
}

func sortedNonEmpty(set map[string]bool) []string {
	values := make([]string, 0, len(set))
	for value := range set {
		if value != "" {
			values = append(values, value)
		}
	}
	sort.Strings(values)
	return values
}

func nonEmpty(parts ...string) []string {
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			kept = append(kept, part)
		}
	}
	return kept
}
