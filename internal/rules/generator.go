package rules

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Default extraction verbs applied when the ruleset omits them.
var defaultVerbs = []string{
	"raises", "raised",
	"secures", "secured",
	"snags", "snagged",
	"lands", "landed",
	"closes", "closed",
	"bags", "bagged",
	"nabs", "nabbed",
	"hauls", "hauled",
	"announces", "announced",
}

var defaultDelimiters = []string{" | ", " - ", " — ", " – ", ": "}

// GeneratorRules holds the versioned heuristics for candidate extraction.
type GeneratorRules struct {
	Version                     string
	Verbs                       []string
	Delimiters                  []string
	PublisherKeywords           []string
	PublisherDomains            []string
	SlugStopwords               []string
	BadCompanyTokens            []string
	PublisherDelimiterDirection map[string]string
	SHA256                      string
}

type generatorRulesDoc struct {
	Version                     string            `yaml:"version"`
	Verbs                       []string          `yaml:"verbs"`
	Delimiters                  []string          `yaml:"delimiters"`
	PublisherKeywords           []string          `yaml:"publisher_keywords"`
	PublisherDomains            []string          `yaml:"publisher_domains"`
	SlugStopwords               []string          `yaml:"slug_stopwords"`
	BadCompanyTokens            []string          `yaml:"bad_company_tokens"`
	PublisherDelimiterDirection map[string]string `yaml:"publisher_delimiter_direction"`
}

// LoadGeneratorRules reads and validates a generator ruleset from YAML.
func LoadGeneratorRules(path string) (*GeneratorRules, error) {
	var doc generatorRulesDoc
	sha, err := readRuleset(path, &doc)
	if err != nil {
		return nil, err
	}

	version := strings.TrimSpace(doc.Version)
	if version == "" {
		return nil, eris.Errorf("rules: generator ruleset %s missing version", path)
	}

	verbs := cleanList(doc.Verbs)
	if len(verbs) == 0 {
		verbs = defaultVerbs
	}
	delimiters := doc.Delimiters
	if len(delimiters) == 0 {
		delimiters = defaultDelimiters
	}

	direction := make(map[string]string, len(doc.PublisherDelimiterDirection))
	for domain, dir := range doc.PublisherDelimiterDirection {
		normalized := strings.ToLower(strings.TrimSpace(dir))
		if normalized != "left" && normalized != "right" {
			return nil, eris.Errorf("rules: generator ruleset %s: delimiter direction for %q must be left or right", path, domain)
		}
		direction[strings.ToLower(strings.TrimSpace(domain))] = normalized
	}

	r := &GeneratorRules{
		Version:                     version,
		Verbs:                       verbs,
		Delimiters:                  delimiters,
		PublisherKeywords:           lowerList(cleanList(doc.PublisherKeywords)),
		PublisherDomains:            lowerList(cleanList(doc.PublisherDomains)),
		SlugStopwords:               lowerList(cleanList(doc.SlugStopwords)),
		BadCompanyTokens:            lowerList(cleanList(doc.BadCompanyTokens)),
		PublisherDelimiterDirection: direction,
		SHA256:                      sha,
	}
	logLoaded("generator", r.Version, r.SHA256)
	return r, nil
}

// DelimiterDirection returns the configured split direction for a publisher
// domain, falling back to the "default" entry and then to left.
func (r *GeneratorRules) DelimiterDirection(domain string) string {
	if dir, ok := r.PublisherDelimiterDirection[strings.ToLower(domain)]; ok {
		return dir
	}
	if dir, ok := r.PublisherDelimiterDirection["default"]; ok {
		return dir
	}
	return "left"
}

func lowerList(values []string) []string {
	lowered := make([]string, 0, len(values))
	for _, v := range values {
		lowered = append(lowered, strings.ToLower(v))
	}
	return lowered
}
