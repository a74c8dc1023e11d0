// Package lead defines the artifact types that flow between pipeline stages:
// raw discovery records, candidate sets, resolution results, verification
// evidence, and scored leads.
package lead

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Confidence tier labels assigned by the confidence scorer.
const (
	LabelVerified = "VERIFIED"
	LabelLikely   = "LIKELY"
	LabelExclude  = "EXCLUDE"
)

// RawRecord is one noisy discovery item as delivered by the seed provider.
// Upstream exports are inconsistent about key names, so unmarshaling
// coalesces the known aliases for each field.
type RawRecord struct {
	ID              string  `json:"id,omitempty"`
	Title           string  `json:"title,omitempty"`
	Snippet         string  `json:"snippet,omitempty"`
	SourceURL       string  `json:"source_url,omitempty"`
	FundingStage    string  `json:"funding_stage,omitempty"`
	FundingAmount   float64 `json:"funding_amount,omitempty"`
	FundingCurrency string  `json:"funding_currency,omitempty"`
	FundingDate     string  `json:"funding_date,omitempty"`
}

// UnmarshalJSON accepts the alias keys seen in provider exports
// (company/title, summary/snippet, url/source_url, lead_id/uuid/id, ...).
func (r *RawRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.ID = firstString(raw, "id", "lead_id", "uuid")
	r.Title = firstString(raw, "title", "company")
	r.Snippet = firstString(raw, "snippet", "summary")
	r.SourceURL = firstString(raw, "source_url", "url")
	r.FundingStage = firstString(raw, "funding_stage", "stage")
	r.FundingAmount = firstNumber(raw, "funding_amount", "amount")
	r.FundingCurrency = firstString(raw, "funding_currency", "currency")
	r.FundingDate = firstString(raw, "funding_date", "announced_date")
	return nil
}

func firstString(raw map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		value, ok := raw[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(value, &s); err == nil {
			trimmed := strings.TrimSpace(s)
			if trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

func firstNumber(raw map[string]json.RawMessage, keys ...string) float64 {
	for _, key := range keys {
		value, ok := raw[key]
		if !ok {
			continue
		}
		var f float64
		if err := json.Unmarshal(value, &f); err == nil && f != 0 {
			return f
		}
		// Some exports carry amounts as strings ("8000000").
		var s string
		if err := json.Unmarshal(value, &s); err == nil {
			if parsed, perr := parseNumber(s); perr == nil && parsed != 0 {
				return parsed
			}
		}
	}
	return 0
}

func parseNumber(s string) (float64, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	var f float64
	err := json.Unmarshal([]byte(cleaned), &f)
	return f, err
}

// FundingAmount is a scaled funding amount: 8_000_000 USD becomes
// {value: 8, unit: "M", currency: "USD"}.
type FundingAmount struct {
	Value    float64 `json:"value"`
	Unit     string  `json:"unit"`
	Currency string  `json:"currency"`
}

// RowFeatures records which extraction paths fired for a record.
type RowFeatures struct {
	PublisherFlagged   bool `json:"publisher_flagged"`
	PublisherSplitUsed bool `json:"publisher_split_used"`
	URLSlugUsed        bool `json:"url_slug_used"`
}

// CandidateMeta carries per-candidate normalization flags.
type CandidateMeta struct {
	PossessivePluralRepaired bool `json:"possessive_plural_repaired"`
}

// CandidateSet is the candidate generator's per-record output.
type CandidateSet struct {
	ID                 string                   `json:"id"`
	RawTitle           string                   `json:"raw_title,omitempty"`
	RawSnippet         string                   `json:"raw_snippet,omitempty"`
	SourceURL          string                   `json:"source_url,omitempty"`
	Features           RowFeatures              `json:"features"`
	Candidates         []string                 `json:"candidates"`
	ExtractionMethods  map[string]string        `json:"extraction_methods"`
	CandidateFeatures  map[string]CandidateMeta `json:"candidate_features"`
	FundingStage       string                   `json:"funding_stage,omitempty"`
	FundingAmount      float64                  `json:"funding_amount,omitempty"`
	FundingCurrency    string                   `json:"funding_currency,omitempty"`
	AnnouncedDate      string                   `json:"announced_date,omitempty"`
	RulesetVersion     string                   `json:"ruleset_version"`
	RulesetSHA256      string                   `json:"ruleset_sha256"`
	GeneratorVersion   string                   `json:"generator_version"`
}

// SkippedRow records a record that a stage could not process, with a
// machine-readable reason code.
type SkippedRow struct {
	RowIndex   int    `json:"row_index,omitempty"`
	ID         string `json:"id,omitempty"`
	SkipReason string `json:"skip_reason"`
	RawTitle   string `json:"raw_title,omitempty"`
}

// CandidateSignals records which scoring signals fired for one candidate.
type CandidateSignals struct {
	Candidate string         `json:"candidate"`
	Signals   map[string]any `json:"signals"`
}

// Resolution is the audit trail for one resolver decision.
type Resolution struct {
	Method       string             `json:"method"`
	ChosenIdx    int                `json:"chosen_idx"`
	Score        float64            `json:"score"`
	Candidates   []string           `json:"candidates"`
	Scores       []float64          `json:"scores"`
	FeatureFlags []CandidateSignals `json:"feature_flags"`
	FinalLabel   string             `json:"final_label,omitempty"`
}

// ResolutionResult is one resolved lead. The feedback resolver is the only
// stage permitted to mutate it after creation, and only via the feedback_*
// fields plus company_name.
type ResolutionResult struct {
	ID                      string        `json:"id"`
	CompanyName             string        `json:"company_name"`
	OriginalCompanyName     string        `json:"original_company_name,omitempty"`
	FundingStage            string        `json:"funding_stage"`
	Amount                  FundingAmount `json:"amount"`
	SourceURL               string        `json:"source_url"`
	RawTitle                string        `json:"raw_title,omitempty"`
	RawSnippet              string        `json:"raw_snippet,omitempty"`
	AnnouncedDate           string        `json:"announced_date,omitempty"`
	Resolution              Resolution    `json:"resolution"`
	ResolverRulesetVersion  string        `json:"resolver_ruleset_version"`
	ResolverRulesetSHA256   string        `json:"resolver_ruleset_sha256"`
	GeneratorRulesetVersion string        `json:"generator_ruleset_version,omitempty"`
	GeneratorRulesetSHA256  string        `json:"generator_ruleset_sha256,omitempty"`
	FeedbackApplied         bool          `json:"feedback_applied"`
	FeedbackReason          string        `json:"feedback_reason,omitempty"`
	FeedbackDomains         []string      `json:"feedback_domains,omitempty"`
	FeedbackVersion         string        `json:"feedback_version,omitempty"`
	FeedbackSHA256          string        `json:"feedback_sha256,omitempty"`
}

// ArticleMatch flags which normalized fields an article's text matched.
type ArticleMatch struct {
	Stage  bool `json:"stage"`
	Amount bool `json:"amount"`
}

// ArticleEvidence is one normalized verification article attributed to a
// provider.
type ArticleEvidence struct {
	URL         string       `json:"url"`
	Domain      string       `json:"domain"`
	Title       string       `json:"title,omitempty"`
	PublishedAt string       `json:"published_at,omitempty"`
	Match       ArticleMatch `json:"match"`
}

// Confirms reports whether the article confirms the lead: the company must
// already have matched during normalization, so either field match suffices.
func (a ArticleEvidence) Confirms() bool {
	return a.Match.Stage || a.Match.Amount
}

// ArticleRef is the deduplicated cross-provider article listing.
type ArticleRef struct {
	URL    string `json:"url"`
	Domain string `json:"domain"`
}

// NormalizedFields is the normalized seed subset carried on a unified lead.
type NormalizedFields struct {
	Stage         string        `json:"stage"`
	Amount        FundingAmount `json:"amount"`
	AnnouncedDate string        `json:"announced_date,omitempty"`
	SourceURL     string        `json:"source_url"`
	RawTitle      string        `json:"raw_title,omitempty"`
	RawSnippet    string        `json:"raw_snippet,omitempty"`
}

// UnifiedLead merges per-provider verification evidence for one lead.
// Read-only downstream of the unified verifier.
type UnifiedLead struct {
	ID                    string                       `json:"id"`
	CompanyName           string                       `json:"company_name"`
	Normalized            NormalizedFields             `json:"normalized"`
	Confirmations         map[string][]ArticleEvidence `json:"confirmations"`
	ArticlesAll           []ArticleRef                 `json:"articles_all"`
	UniqueDomainsTotal    int                          `json:"unique_domains_total"`
	UniqueDomainsBySource map[string]int               `json:"unique_domains_by_source"`
	VerifiedBy            []string                     `json:"verified_by"`
}

// ScoredLead is the terminal artifact; never mutated after creation. The
// normalized seed fields ride along so downstream consumers (readiness
// scoring, exports) never have to re-join against the unified payload.
type ScoredLead struct {
	ID               string           `json:"id"`
	CompanyName      string           `json:"company_name"`
	ConfidencePoints int              `json:"confidence_points"`
	FinalLabel       string           `json:"final_label"`
	VerifiedBy       []string         `json:"verified_by"`
	ProofLinks       []string         `json:"proof_links"`
	Warnings         []string         `json:"warnings"`
	Normalized       NormalizedFields `json:"normalized"`
}

var slugRe = regexp.MustCompile(`[^A-Za-z0-9]+`)

// Slugify produces the deterministic slug used to key fixture bundles and
// resume state for a company name.
func Slugify(value string) string {
	cleaned := slugRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(value)), "-")
	return strings.Trim(cleaned, "-")
}

// NormalizeAmount scales an absolute currency amount into a FundingAmount.
// Returns the zero value and false when the amount is missing or non-positive.
func NormalizeAmount(value float64, currency string) (FundingAmount, bool) {
	if value <= 0 {
		return FundingAmount{}, false
	}
	var scaled float64
	var unit string
	switch {
	case value >= 1_000_000_000:
		scaled = value / 1_000_000_000
		unit = "B"
	case value >= 1_000_000:
		scaled = value / 1_000_000
		unit = "M"
	default:
		scaled = value / 1_000
		unit = "K"
	}
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == "" {
		code = "USD"
	}
	return FundingAmount{Value: roundTo(scaled, 3), Unit: unit, Currency: code}, true
}

func roundTo(v float64, places int) float64 {
	scale := 1.0
	for i := 0; i < places; i++ {
		scale *= 10
	}
	if v >= 0 {
		return float64(int64(v*scale+0.5)) / scale
	}
	return float64(int64(v*scale-0.5)) / scale
}
