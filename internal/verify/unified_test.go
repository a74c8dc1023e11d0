package verify

import (
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylestephens-labs/fund-signal/internal/lead"
)

func acmeSeed() lead.ResolutionResult {
	return lead.ResolutionResult{
		ID:           "r1",
		CompanyName:  "Acme AI",
		FundingStage: "Series A",
		Amount:       lead.FundingAmount{Value: 8, Unit: "M", Currency: "USD"},
		SourceURL:    "https://techcrunch.com/acme-ai",
		RawTitle:     "Acme AI raises $8M Series A",
	}
}

func staticProvider(id, label string, articles []RawArticle) Provider {
	return Provider{
		ID:    id,
		Label: label,
		Fetch: func(context.Context, lead.ResolutionResult, string) ([]RawArticle, error) {
			return articles, nil
		},
	}
}

func failingProvider(id, label string) Provider {
	return Provider{
		ID:    id,
		Label: label,
		Fetch: func(context.Context, lead.ResolutionResult, string) ([]RawArticle, error) {
			return nil, eris.New("boom")
		},
	}
}

func TestRunMergesProviderEvidence(t *testing.T) {
	providers := []Provider{
		staticProvider(SourceYoucom, "You.com", []RawArticle{
			{Title: "Acme AI raises $8M Series A", URL: "https://techcrunch.com/acme"},
			{Title: "Unrelated startup news", URL: "https://example.com/other"},
		}),
		staticProvider(SourceTavily, "Tavily", []RawArticle{
			{Title: "Acme AI closes Series A", URL: "https://venturebeat.com/acme"},
		}),
	}

	out := Run(context.Background(), []lead.ResolutionResult{acmeSeed()}, providers,
		time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC), "bundle-1")

	assert.Equal(t, Version, out.UnifiedVerifyVersion)
	assert.Equal(t, "2026-02-01T10:00:00Z", out.GeneratedAt)
	assert.Equal(t, "bundle-1", out.BundleID)
	require.Len(t, out.Leads, 1)

	unified := out.Leads[0]
	assert.Equal(t, "acme-ai", unified.ID)
	assert.Equal(t, []string{"Exa", "You.com", "Tavily"}, unified.VerifiedBy)
	assert.Equal(t, 2, unified.UniqueDomainsTotal)
	assert.Equal(t, 1, unified.UniqueDomainsBySource[SourceYoucom])
	assert.Equal(t, 1, unified.UniqueDomainsBySource[SourceTavily])
	require.Len(t, unified.ArticlesAll, 2)
	assert.Equal(t, "techcrunch.com", unified.ArticlesAll[0].Domain)
	assert.Equal(t, "venturebeat.com", unified.ArticlesAll[1].Domain)

	assert.Equal(t, 1, out.Metrics.YoucomHits)
	assert.Equal(t, 1, out.Metrics.TavilyHits)
	assert.Equal(t, 2, out.Metrics.UniqueDomainsTotal)
}

func TestRunDeduplicatesCrossProviderArticles(t *testing.T) {
	shared := RawArticle{Title: "Acme AI raises $8M Series A", URL: "https://techcrunch.com/acme?utm_source=feed"}
	providers := []Provider{
		staticProvider(SourceYoucom, "You.com", []RawArticle{shared}),
		staticProvider(SourceTavily, "Tavily", []RawArticle{
			{Title: "Acme AI raises $8M Series A", URL: "https://techcrunch.com/acme"},
		}),
	}

	out := Run(context.Background(), []lead.ResolutionResult{acmeSeed()}, providers, time.Now(), "")

	unified := out.Leads[0]
	require.Len(t, unified.ArticlesAll, 1)
	assert.Equal(t, "https://techcrunch.com/acme", unified.ArticlesAll[0].URL)
	assert.Equal(t, 1, unified.UniqueDomainsTotal)
	// Both providers still confirm and are attributed.
	assert.Equal(t, []string{"Exa", "You.com", "Tavily"}, unified.VerifiedBy)
}

func TestRunProviderFailureDegradesGracefully(t *testing.T) {
	providers := []Provider{
		failingProvider(SourceYoucom, "You.com"),
		staticProvider(SourceTavily, "Tavily", []RawArticle{
			{Title: "Acme AI raises $8M Series A", URL: "https://venturebeat.com/acme"},
		}),
	}

	out := Run(context.Background(), []lead.ResolutionResult{acmeSeed()}, providers, time.Now(), "")

	require.Len(t, out.Leads, 1)
	unified := out.Leads[0]
	assert.Equal(t, []string{"Exa", "Tavily"}, unified.VerifiedBy)
	assert.Empty(t, unified.Confirmations[SourceYoucom])
	assert.Equal(t, 0, out.Metrics.YoucomHits)
	assert.Equal(t, 1, out.Metrics.TavilyHits)
}

func TestRunZeroEvidenceLead(t *testing.T) {
	providers := []Provider{
		staticProvider(SourceYoucom, "You.com", nil),
		staticProvider(SourceTavily, "Tavily", nil),
	}

	out := Run(context.Background(), []lead.ResolutionResult{acmeSeed()}, providers, time.Now(), "")

	unified := out.Leads[0]
	assert.Equal(t, []string{"Exa"}, unified.VerifiedBy)
	assert.Empty(t, unified.ArticlesAll)
	assert.Zero(t, unified.UniqueDomainsTotal)
}

func TestRunDisambiguatesDuplicateSlugs(t *testing.T) {
	providers := []Provider{
		staticProvider(SourceYoucom, "You.com", nil),
		staticProvider(SourceTavily, "Tavily", nil),
	}
	seeds := []lead.ResolutionResult{acmeSeed(), acmeSeed()}

	out := Run(context.Background(), seeds, providers, time.Now(), "")

	require.Len(t, out.Leads, 2)
	assert.Equal(t, "acme-ai", out.Leads[0].ID)
	assert.Equal(t, "acme-ai-2", out.Leads[1].ID)
}

func TestLoadFixtureIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "youcom.jsonl.gz")

	file, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(file)
	_, err = gz.Write([]byte(`{"slug":"acme-ai","data":[{"url":"https://techcrunch.com/acme","title":"Acme AI raises $8M Series A"}]}
not json
{"slug":"","data":[]}
`))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, file.Close())

	index, err := loadFixtureIndex(path)
	require.NoError(t, err)
	require.Len(t, index, 1)
	require.Len(t, index["acme-ai"], 1)
	assert.Equal(t, "https://techcrunch.com/acme", index["acme-ai"][0]["url"])
}

func TestLoadFixtureIndexMissingFile(t *testing.T) {
	index, err := loadFixtureIndex(filepath.Join(t.TempDir(), "absent.jsonl.gz"))
	require.NoError(t, err)
	assert.Empty(t, index)
}

func TestFixtureProvidersServeBySlug(t *testing.T) {
	dir := t.TempDir()
	youcomPath := filepath.Join(dir, "youcom.jsonl")
	require.NoError(t, os.WriteFile(youcomPath, []byte(
		`{"slug":"acme-ai","data":[{"url":"https://techcrunch.com/acme","title":"Acme AI raises $8M Series A","summary":"Series A"}]}`+"\n",
	), 0o644))

	providers, err := NewFixtureProviders(youcomPath, filepath.Join(dir, "absent.jsonl"), 8)
	require.NoError(t, err)
	require.Len(t, providers, 2)

	articles, err := providers[0].Fetch(context.Background(), acmeSeed(), "acme-ai")
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, "Acme AI raises $8M Series A", articles[0].Title)
	assert.Equal(t, "Series A", articles[0].Snippet)

	empty, err := providers[1].Fetch(context.Background(), acmeSeed(), "acme-ai")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
