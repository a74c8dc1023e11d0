// Package generate extracts company-name candidates from noisy funding
// headlines and URLs. Extraction is deterministic: regex verb patterns,
// publisher-aware delimiter splits, and a URL-slug fallback, followed by
// Unicode normalization and noise filtering.
package generate

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/kylestephens-labs/fund-signal/internal/lead"
	"github.com/kylestephens-labs/fund-signal/internal/rules"
)

// Version identifies the generator implementation embedded in output rows.
const Version = "1.0.0"

// Skip reason codes.
const (
	SkipRowParseError   = "ROW_PARSE_ERROR"
	SkipEmptyCandidates = "EMPTY_CANDIDATES_AFTER_NORMALIZATION"
)

// Extraction methods, highest priority last. When two extraction paths yield
// the same candidate (case-insensitive), the higher-priority method wins.
var methodPriority = map[string]int{
	"raw_title":       0,
	"delimiter_plain": 1,
	"delimiter_regex": 2,
	"title_regex":     3,
	"url_slug":        4,
}

const maxCandidateTokens = 6

var (
	quoteRe      = regexp.MustCompile(`["“”]`)
	spaceRe      = regexp.MustCompile(`\s+`)
	slugNumberRe = regexp.MustCompile(`[\d_]+`)
)

var slugTrimVerbs = []string{"raises", "secures", "lands", "announces", "bags", "nabs", "hauls", "closes"}

// Generator produces candidate company names for raw records.
type Generator struct {
	rules *rules.GeneratorRules
	re    *regexp.Regexp
}

// New builds a Generator for the given ruleset.
func New(r *rules.GeneratorRules) *Generator {
	return &Generator{rules: r, re: buildCompanyRegex(r.Verbs)}
}

func buildCompanyRegex(verbs []string) *regexp.Regexp {
	escaped := make([]string, 0, len(verbs))
	for _, verb := range verbs {
		trimmed := strings.ToLower(strings.TrimSpace(verb))
		if trimmed != "" {
			escaped = append(escaped, regexp.QuoteMeta(trimmed))
		}
	}
	if len(escaped) == 0 {
		escaped = []string{"raises"}
	}
	pattern := `(?i)(?P<company>[A-Z][A-Za-z0-9&'().-]+(?: [A-Z][A-Za-z0-9&'().-]+){0,5})\s+(?:` + strings.Join(escaped, "|") + `)`
	return regexp.MustCompile(pattern)
}

// Generate extracts candidates for a single record. A non-empty skip reason
// means the record produced no usable candidates; the generator never fails
// a whole batch over one record.
func (g *Generator) Generate(rec lead.RawRecord, rowIndex int) (*lead.CandidateSet, string) {
	title := strings.TrimSpace(rec.Title)
	snippet := strings.TrimSpace(rec.Snippet)
	if title == "" && rec.SourceURL == "" {
		return nil, SkipRowParseError
	}

	features := lead.RowFeatures{}
	raw := g.extractCandidates(title, snippet, rec.SourceURL, &features)
	candidates, methods, metas := g.normalizeCandidates(raw)
	if len(candidates) == 0 {
		return nil, SkipEmptyCandidates
	}

	id := rec.ID
	if id == "" {
		id = rowID(rowIndex)
	}
	return &lead.CandidateSet{
		ID:                id,
		RawTitle:          title,
		RawSnippet:        snippet,
		SourceURL:         rec.SourceURL,
		Features:          features,
		Candidates:        candidates,
		ExtractionMethods: methods,
		CandidateFeatures: metas,
		FundingStage:      rec.FundingStage,
		FundingAmount:     rec.FundingAmount,
		FundingCurrency:   defaultCurrency(rec.FundingCurrency),
		AnnouncedDate:     rec.FundingDate,
		RulesetVersion:    g.rules.Version,
		RulesetSHA256:     g.rules.SHA256,
		GeneratorVersion:  Version,
	}, ""
}

type rawCandidate struct {
	value  string
	method string
}

func (g *Generator) extractCandidates(title, snippet, sourceURL string, features *lead.RowFeatures) []rawCandidate {
	var candidates []rawCandidate
	haystack := joinText(title, snippet)

	if title != "" {
		candidates = append(candidates, rawCandidate{title, "raw_title"})
	}

	if match := g.findCompany(haystack); match != "" {
		candidates = append(candidates, rawCandidate{match, "title_regex"})
		if g.isPublisherPhrase(match, title, sourceURL) {
			features.PublisherFlagged = true
		}
	}

	if split := g.extractFromDelimiters(title, sourceURL); len(split) > 0 {
		features.PublisherSplitUsed = true
		candidates = append(candidates, split...)
	}

	if slug := g.extractFromSlug(sourceURL); slug != "" {
		features.URLSlugUsed = true
		candidates = append(candidates, rawCandidate{slug, "url_slug"})
	}

	return candidates
}

func (g *Generator) findCompany(text string) string {
	match := g.re.FindStringSubmatch(text)
	if match == nil {
		return ""
	}
	idx := g.re.SubexpIndex("company")
	if idx < 0 || idx >= len(match) {
		return ""
	}
	return match[idx]
}

// extractFromDelimiters splits publisher-style headings ("The SaaS News |
// Appy.ai raises $10M") on the first configured delimiter and extracts from
// each segment. Split direction is publisher-domain aware: some publishers
// put their name last.
func (g *Generator) extractFromDelimiters(title, sourceURL string) []rawCandidate {
	if title == "" {
		return nil
	}
	direction := g.rules.DelimiterDirection(normalizedHost(sourceURL))
	segments := []string{title}
	for _, delimiter := range g.rules.Delimiters {
		if !strings.Contains(title, delimiter) {
			continue
		}
		parts := make([]string, 0, 2)
		for _, segment := range strings.Split(title, delimiter) {
			if trimmed := strings.TrimSpace(segment); trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if direction == "right" {
			for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
				parts[i], parts[j] = parts[j], parts[i]
			}
		}
		segments = parts
		break
	}

	var results []rawCandidate
	for _, segment := range segments {
		if segment == "" {
			continue
		}
		if match := g.findCompany(segment); match != "" {
			results = append(results, rawCandidate{match, "delimiter_regex"})
		} else {
			results = append(results, rawCandidate{segment, "delimiter_plain"})
		}
	}
	return results
}

// extractFromSlug derives a candidate from the last meaningful URL path
// segment. Dotted brand names ("appy.ai") keep their dots; hyphenated slugs
// are re-capitalized word by word.
func (g *Generator) extractFromSlug(sourceURL string) string {
	if sourceURL == "" {
		return ""
	}
	parsed, err := url.Parse(sourceURL)
	if err != nil {
		return ""
	}
	segments := strings.Split(parsed.Path, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		cleaned := strings.Trim(slugNumberRe.ReplaceAllString(segments[i], ""), "-")
		if cleaned == "" {
			continue
		}
		lowered := strings.ToLower(cleaned)
		if g.isSlugStopword(lowered) {
			continue
		}
		trimmed := trimAtVerbs(lowered)
		if trimmed == "" {
			trimmed = lowered
		}
		if g.isSlugStopword(trimmed) {
			continue
		}
		return formatSlugCandidate(trimmed)
	}
	return ""
}

func (g *Generator) isSlugStopword(value string) bool {
	for _, stopword := range g.rules.SlugStopwords {
		if value == stopword {
			return true
		}
	}
	return false
}

func trimAtVerbs(text string) string {
	for _, verb := range slugTrimVerbs {
		needle := "-" + verb
		if idx := strings.Index(text, needle); idx >= 0 {
			return strings.Trim(text[:idx], "-")
		}
	}
	return ""
}

func formatSlugCandidate(value string) string {
	if strings.Contains(value, ".") {
		parts := strings.Split(value, ".")
		if len(parts) >= 2 {
			rest := make([]string, 0, len(parts)-1)
			for _, part := range parts[1:] {
				rest = append(rest, strings.ToLower(part))
			}
			return capitalize(parts[0]) + "." + strings.Join(rest, ".")
		}
		return value
	}
	tokens := strings.Fields(strings.ReplaceAll(value, "-", " "))
	if len(tokens) == 0 {
		return value
	}
	for i, token := range tokens {
		tokens[i] = capitalize(token)
	}
	return strings.Join(tokens, " ")
}

func capitalize(token string) string {
	if token == "" {
		return token
	}
	return strings.ToUpper(token[:1]) + token[1:]
}

func (g *Generator) normalizeCandidates(raw []rawCandidate) ([]string, map[string]string, map[string]lead.CandidateMeta) {
	var normalized []string
	methods := make(map[string]string)
	metas := make(map[string]lead.CandidateMeta)
	seen := make(map[string]int)

	for _, rc := range raw {
		cleaned, meta, ok := cleanCandidate(rc.value)
		if !ok {
			continue
		}
		key := strings.ToLower(cleaned)
		if g.isBadToken(key) {
			continue
		}
		priority := methodPriority[rc.method]
		if existing, dup := seen[key]; dup {
			if priority > existing {
				for i, candidate := range normalized {
					if strings.ToLower(candidate) == key {
						delete(methods, candidate)
						delete(metas, candidate)
						normalized[i] = cleaned
						methods[cleaned] = rc.method
						metas[cleaned] = meta
						break
					}
				}
				seen[key] = priority
			}
			continue
		}
		seen[key] = priority
		normalized = append(normalized, cleaned)
		methods[cleaned] = rc.method
		metas[cleaned] = meta
	}
	return normalized, methods, metas
}

// cleanCandidate applies NFKC normalization, strips quote noise, repairs
// possessive/plural suffixes, caps token count, and rejects all-consonant
// strings.
func cleanCandidate(value string) (string, lead.CandidateMeta, bool) {
	text := norm.NFKC.String(value)
	text = strings.ReplaceAll(text, "’", "'")
	text = quoteRe.ReplaceAllString(text, "")
	text = spaceRe.ReplaceAllString(strings.TrimSpace(text), " ")
	text = strings.Trim(text, " -_,.")
	if text == "" {
		return "", lead.CandidateMeta{}, false
	}

	repaired := false
	lower := strings.ToLower(text)
	switch {
	case strings.HasSuffix(lower, "'s"):
		text = text[:len(text)-2]
		repaired = true
	case strings.HasSuffix(lower, "es") && len(text) > 4 && !isVowel(lower[len(lower)-3]):
		text = text[:len(text)-2]
		repaired = true
	case strings.HasSuffix(lower, "s") && !strings.HasSuffix(lower, "ss") && len(text) > 3:
		text = text[:len(text)-1]
		repaired = true
	}

	text = strings.Trim(text, " -_,.")
	if text == "" {
		return "", lead.CandidateMeta{}, false
	}

	tokens := strings.Fields(text)
	if len(tokens) > maxCandidateTokens {
		tokens = tokens[:maxCandidateTokens]
		text = strings.Join(tokens, " ")
	}

	if !hasVowelLetter(text) {
		return "", lead.CandidateMeta{}, false
	}

	return text, lead.CandidateMeta{PossessivePluralRepaired: repaired}, true
}

func isVowel(b byte) bool {
	return strings.IndexByte("aeiou", b) >= 0
}

// hasVowelLetter reports whether any letter in s is a vowel. Strings whose
// letters are all consonants are URL/slug noise, not names.
func hasVowelLetter(s string) bool {
	sawLetter := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			sawLetter = true
			if strings.ContainsRune("aeiouyAEIOUY", r) {
				return true
			}
		}
	}
	return !sawLetter
}

func (g *Generator) isBadToken(lowered string) bool {
	for _, token := range g.rules.BadCompanyTokens {
		if lowered == token {
			return true
		}
	}
	return false
}

func (g *Generator) isPublisherPhrase(candidate, title, sourceURL string) bool {
	text := strings.ToLower(title) + " " + strings.ToLower(candidate)
	for _, keyword := range g.rules.PublisherKeywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	host := normalizedHost(sourceURL)
	if host == "" {
		return false
	}
	for _, domain := range g.rules.PublisherDomains {
		if host == domain {
			return true
		}
	}
	return false
}

func normalizedHost(sourceURL string) string {
	if sourceURL == "" {
		return ""
	}
	parsed, err := url.Parse(sourceURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	return strings.TrimPrefix(host, "www.")
}

func joinText(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			nonEmpty = append(nonEmpty, part)
		}
	}
	return strings.Join(nonEmpty, " ")
}

func defaultCurrency(currency string) string {
	if strings.TrimSpace(currency) == "" {
		return "USD"
	}
	return strings.ToUpper(strings.TrimSpace(currency))
}
