package rules

import (
	"strings"

	"github.com/rotisserie/eris"
)

// ScoreWeights holds the point value for each confidence heuristic.
type ScoreWeights struct {
	MainstreamDomainPair   int `yaml:"mainstream_domain_pair"`
	NormalizedFieldMatch   int `yaml:"normalized_field_match"`
	DualSourceConfirmation int `yaml:"dual_source_confirmation"`
}

// ScoreThresholds maps point totals to tier labels.
type ScoreThresholds struct {
	Verified int `yaml:"verified"`
	Likely   int `yaml:"likely"`
}

// ScoringRules is the validated confidence-scoring ruleset. It is versioned
// independently of the resolver ruleset.
type ScoringRules struct {
	Version             string
	Weights             ScoreWeights
	Thresholds          ScoreThresholds
	MainstreamDomains   map[string]bool
	DiscoverySources    []Source
	VerificationSources []Source
	SHA256              string
}

type scoringRulesDoc struct {
	Version           string          `yaml:"version"`
	Weights           ScoreWeights    `yaml:"weights"`
	Thresholds        ScoreThresholds `yaml:"thresholds"`
	MainstreamDomains []string        `yaml:"mainstream_domains"`
	Sources           struct {
		Discovery    []Source `yaml:"discovery"`
		Verification []Source `yaml:"verification"`
	} `yaml:"sources"`
}

// DefaultDiscoverySources is used when the ruleset does not name discovery
// providers.
func DefaultDiscoverySources() []Source {
	return []Source{{ID: "exa", Label: "Exa"}}
}

// DefaultVerificationSources is used when the ruleset does not name
// verification providers.
func DefaultVerificationSources() []Source {
	return []Source{
		{ID: "youcom", Label: "You.com"},
		{ID: "tavily", Label: "Tavily"},
	}
}

// LoadScoringRules reads and validates a confidence-scoring ruleset.
func LoadScoringRules(path string) (*ScoringRules, error) {
	var doc scoringRulesDoc
	sha, err := readRuleset(path, &doc)
	if err != nil {
		return nil, err
	}

	version := strings.TrimSpace(doc.Version)
	if version == "" {
		return nil, eris.Errorf("rules: scoring ruleset %s missing version", path)
	}
	if doc.Thresholds.Verified <= 0 || doc.Thresholds.Likely <= 0 {
		return nil, eris.Errorf("rules: scoring ruleset %s: thresholds must be positive", path)
	}
	if doc.Thresholds.Likely > doc.Thresholds.Verified {
		return nil, eris.Errorf("rules: scoring ruleset %s: likely threshold exceeds verified threshold", path)
	}
	if doc.Weights.MainstreamDomainPair < 0 || doc.Weights.NormalizedFieldMatch < 0 || doc.Weights.DualSourceConfirmation < 0 {
		return nil, eris.Errorf("rules: scoring ruleset %s: weights must be non-negative", path)
	}

	mainstream := make(map[string]bool, len(doc.MainstreamDomains))
	for _, domain := range cleanList(doc.MainstreamDomains) {
		mainstream[strings.ToLower(domain)] = true
	}

	discovery := validSources(doc.Sources.Discovery)
	if len(discovery) == 0 {
		discovery = DefaultDiscoverySources()
	}
	verification := validSources(doc.Sources.Verification)
	if len(verification) == 0 {
		verification = DefaultVerificationSources()
	}

	r := &ScoringRules{
		Version:             version,
		Weights:             doc.Weights,
		Thresholds:          doc.Thresholds,
		MainstreamDomains:   mainstream,
		DiscoverySources:    discovery,
		VerificationSources: verification,
		SHA256:              sha,
	}
	logLoaded("scoring", r.Version, r.SHA256)
	return r, nil
}

func validSources(entries []Source) []Source {
	valid := make([]Source, 0, len(entries))
	for _, entry := range entries {
		id := strings.TrimSpace(entry.ID)
		label := strings.TrimSpace(entry.Label)
		if id == "" || label == "" {
			continue
		}
		valid = append(valid, Source{ID: id, Label: label})
	}
	return valid
}
