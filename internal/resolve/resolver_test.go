package resolve

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylestephens-labs/fund-signal/internal/lead"
	"github.com/kylestephens-labs/fund-signal/internal/rules"
)

func testRules() *rules.ResolverRules {
	return &rules.ResolverRules{
		Version: "1.1",
		Weights: map[string]float64{
			"no_funding_tokens":             2,
			"has_funding_token":             -3,
			"token_count_1_3":               1,
			"long_phrase_penalty":           -2,
			"proper_noun_or_dotted":         1,
			"close_to_slug_head":            2,
			"slug_head_proximity_bonus":     1,
			"near_funding_verb":             1,
			"locale_verb_hit":               1,
			"has_publisher_token_or_domain": -2,
			"has_publisher_prefix":          -2,
			"starts_with_verb_or_gerund":    -2,
			"possessive_plural_repaired":    0.5,
		},
		TieBreakers: []string{
			rules.TieBreakScoreDesc,
			rules.TieBreakTokenCountAsc,
			rules.TieBreakAppearsInTitle,
			rules.TieBreakLexicographic,
		},
		SlugHeadEditDistanceThreshold: 2,
		SHA256:                        "cafef00d",
	}
}

func seedSet(id, title, sourceURL string, candidates ...string) lead.CandidateSet {
	return lead.CandidateSet{
		ID:              id,
		RawTitle:        title,
		SourceURL:       sourceURL,
		Candidates:      candidates,
		FundingStage:    "Series A",
		FundingAmount:   8_000_000,
		FundingCurrency: "USD",
		RulesetVersion:  "2026-02-01",
		RulesetSHA256:   "deadbeef",
	}
}

func TestResolveRowPrefersCompanyOverHeadline(t *testing.T) {
	row := seedSet("r1",
		"Acme AI raises $8M Series A",
		"https://techcrunch.com/2026/02/01/acme-ai-raises-8m-series-a",
		"Acme AI raises $8M Series A", "Acme AI",
	)

	result, skip := ResolveRow(row, testRules())

	require.Empty(t, skip)
	require.NotNil(t, result)
	assert.Equal(t, "Acme AI", result.CompanyName)
	assert.Equal(t, 1, result.Resolution.ChosenIdx)
	assert.Equal(t, "resolver_1.1", result.Resolution.Method)
	assert.Equal(t, lead.FundingAmount{Value: 8, Unit: "M", Currency: "USD"}, result.Amount)
	assert.Equal(t, "2026-02-01", result.GeneratorRulesetVersion)
	assert.Len(t, result.Resolution.Scores, 2)
	assert.Greater(t, result.Resolution.Scores[1], result.Resolution.Scores[0])
}

func TestResolveRowPublisherTieBrokenByTokenCount(t *testing.T) {
	row := seedSet("r2",
		"The SaaS News | Appy.ai raises $10M Series A",
		"https://thesaasnews.com/news/appy-ai-raises-10m-series-a",
		"The SaaS New", "Appy.ai",
	)

	result, skip := ResolveRow(row, testRules())

	require.Empty(t, skip)
	assert.Equal(t, "Appy.ai", result.CompanyName)
}

func TestResolveRowTitlePositionBreaksTie(t *testing.T) {
	row := seedSet("r3",
		"Acme Robotics raises $5M to outpace Beta Dynamics",
		"https://example.com/",
		"Beta Dynamics", "Acme Robotics",
	)

	result, skip := ResolveRow(row, testRules())

	require.Empty(t, skip)
	assert.Equal(t, "Acme Robotics", result.CompanyName)
	assert.Equal(t, 1, result.Resolution.ChosenIdx)
}

func TestResolveRowLexicographicLastResort(t *testing.T) {
	row := seedSet("r4",
		"Weekly funding roundup",
		"https://example.com/",
		"Zeta", "Alpha",
	)

	result, skip := ResolveRow(row, testRules())

	require.Empty(t, skip)
	assert.Equal(t, "Alpha", result.CompanyName)
}

func TestResolveRowSkipReasons(t *testing.T) {
	r := testRules()

	t.Run("no candidates", func(t *testing.T) {
		row := seedSet("s1", "t", "https://example.com/a")
		_, skip := ResolveRow(row, r)
		assert.Equal(t, SkipEmptyCandidates, skip)
	})

	t.Run("missing stage", func(t *testing.T) {
		row := seedSet("s2", "t", "https://example.com/a", "Acme")
		row.FundingStage = "  "
		_, skip := ResolveRow(row, r)
		assert.Equal(t, SkipMissingStage, skip)
	})

	t.Run("missing amount", func(t *testing.T) {
		row := seedSet("s3", "t", "https://example.com/a", "Acme")
		row.FundingAmount = 0
		_, skip := ResolveRow(row, r)
		assert.Equal(t, SkipMissingAmount, skip)
	})

	t.Run("missing source url", func(t *testing.T) {
		row := seedSet("s4", "t", "", "Acme")
		_, skip := ResolveRow(row, r)
		assert.Equal(t, SkipMissingSourceURL, skip)
	})
}

func TestResolveRowAnnouncedDate(t *testing.T) {
	row := seedSet("r5", "Acme raises $1M Seed", "https://example.com/acme", "Acme")
	row.AnnouncedDate = "2026-02-01T12:34:56Z"

	result, skip := ResolveRow(row, testRules())

	require.Empty(t, skip)
	assert.Equal(t, "2026-02-01", result.AnnouncedDate)
}

func TestExtractSlugHead(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://techcrunch.com/2026/02/01/acme-ai-raises-8m", "acme"},
		{"https://example.com/", ""},
		{"", ""},
		{"https://example.com/posts/hotglue", "hotglue"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extractSlugHead(tt.url), tt.url)
	}
}

func TestRunBatchCountsAndSkips(t *testing.T) {
	sets := []lead.CandidateSet{
		seedSet("r1", "Acme AI raises $8M Series A", "https://example.com/acme-ai", "Acme AI"),
		{ID: "", RawTitle: "broken"},
	}

	out := Run(sets, testRules())

	assert.Equal(t, 2, out.ItemsTotal)
	assert.Equal(t, 1, out.ItemsResolved)
	assert.Equal(t, 1, out.ItemsSkipped)
	require.Len(t, out.Skipped, 1)
	assert.Equal(t, "row_000002", out.Skipped[0].ID)
	assert.Equal(t, SkipEmptyCandidates, out.Skipped[0].SkipReason)
	assert.Equal(t, "cafef00d", out.ResolverRulesetSHA256)
}

func TestRunDeterministic(t *testing.T) {
	sets := []lead.CandidateSet{
		seedSet("r1", "The SaaS News | Appy.ai raises $10M Series A",
			"https://thesaasnews.com/news/appy-ai", "The SaaS New", "Appy.ai"),
		seedSet("r2", "Acme AI raises $8M Series A",
			"https://techcrunch.com/acme-ai", "Acme AI raises $8M Series A", "Acme AI"),
	}

	first, err := json.Marshal(Run(sets, testRules()))
	require.NoError(t, err)
	second, err := json.Marshal(Run(sets, testRules()))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
