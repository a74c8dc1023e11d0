package rules

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Tie-breaker names accepted in resolver rulesets, applied in the order the
// ruleset lists them.
const (
	TieBreakScoreDesc      = "score_desc"
	TieBreakTokenCountAsc  = "token_count_asc"
	TieBreakAppearsInTitle = "appears_in_title_first"
	TieBreakLexicographic  = "lexicographic_ci"
)

var allowedTieBreakers = map[string]bool{
	TieBreakScoreDesc:      true,
	TieBreakTokenCountAsc:  true,
	TieBreakAppearsInTitle: true,
	TieBreakLexicographic:  true,
}

// ResolverRules is the validated weighted-scoring ruleset for the resolver.
type ResolverRules struct {
	Version                       string
	Weights                       map[string]float64
	TieBreakers                   []string
	SlugHeadEditDistanceThreshold int
	TokenLimits                   map[string]int
	SHA256                        string
}

type resolverRulesDoc struct {
	Version                       string             `yaml:"version"`
	Weights                       map[string]float64 `yaml:"weights"`
	TieBreakers                   []string           `yaml:"tie_breakers"`
	SlugHeadEditDistanceThreshold *int               `yaml:"slug_head_edit_distance_threshold"`
	TokenLimits                   map[string]int     `yaml:"token_limits"`
}

// LoadResolverRules reads and validates a resolver ruleset from YAML.
// Any schema violation is a fatal configuration error; nothing is defaulted
// silently.
func LoadResolverRules(path string) (*ResolverRules, error) {
	var doc resolverRulesDoc
	sha, err := readRuleset(path, &doc)
	if err != nil {
		return nil, err
	}

	version := strings.TrimSpace(doc.Version)
	if version == "" {
		return nil, eris.Errorf("rules: resolver ruleset %s missing version", path)
	}
	if len(doc.Weights) == 0 {
		return nil, eris.Errorf("rules: resolver ruleset %s: weights must be a non-empty mapping", path)
	}
	if len(doc.TieBreakers) == 0 {
		return nil, eris.Errorf("rules: resolver ruleset %s: tie_breakers must be a non-empty list", path)
	}
	for _, breaker := range doc.TieBreakers {
		if !allowedTieBreakers[breaker] {
			return nil, eris.Errorf("rules: resolver ruleset %s: unsupported tie breaker %q", path, breaker)
		}
	}
	if doc.SlugHeadEditDistanceThreshold == nil || *doc.SlugHeadEditDistanceThreshold < 0 {
		return nil, eris.Errorf("rules: resolver ruleset %s: slug_head_edit_distance_threshold must be a non-negative integer", path)
	}
	for name, limit := range doc.TokenLimits {
		if limit < 0 {
			return nil, eris.Errorf("rules: resolver ruleset %s: token_limits[%s] must be non-negative", path, name)
		}
	}

	r := &ResolverRules{
		Version:                       version,
		Weights:                       doc.Weights,
		TieBreakers:                   doc.TieBreakers,
		SlugHeadEditDistanceThreshold: *doc.SlugHeadEditDistanceThreshold,
		TokenLimits:                   doc.TokenLimits,
		SHA256:                        sha,
	}
	logLoaded("resolver", r.Version, r.SHA256)
	return r, nil
}
