package verify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kylestephens-labs/fund-signal/internal/lead"
	"github.com/kylestephens-labs/fund-signal/internal/telemetry"
)

// Version identifies the unified verifier embedded in the output payload.
const Version = "1.0.0"

// The discovery source always heads the verified_by attribution chain.
const discoveryLabel = "Exa"

// Metrics summarizes a verification batch.
type Metrics struct {
	YoucomHits            int            `json:"youcom_hits"`
	TavilyHits            int            `json:"tavily_hits"`
	UniqueDomainsTotal    int            `json:"unique_domains_total"`
	UniqueDomainsBySource map[string]int `json:"unique_domains_by_source"`
}

// Output is the unified verification artifact written to disk.
type Output struct {
	UnifiedVerifyVersion string             `json:"unified_verify_version"`
	GeneratedAt          string             `json:"generated_at"`
	BundleID             string             `json:"bundle_id,omitempty"`
	Metrics              Metrics            `json:"metrics"`
	Leads                []lead.UnifiedLead `json:"leads"`
}

// Run verifies every resolved seed against all providers and merges the
// evidence. A provider failure on one lead logs a warning and contributes no
// articles; every seed always yields exactly one unified lead.
func Run(ctx context.Context, seeds []lead.ResolutionResult, providers []Provider, generatedAt time.Time, bundleID string) *Output {
	confirmingBySource := make(map[string]int, len(providers))
	globalDomains := make(map[string]bool)
	globalDomainsBySource := make(map[string]map[string]bool, len(providers))
	for _, provider := range providers {
		confirmingBySource[provider.ID] = 0
		globalDomainsBySource[provider.ID] = make(map[string]bool)
	}

	leads := make([]lead.UnifiedLead, 0, len(seeds))
	slugCounts := make(map[string]int)
	for i, seed := range seeds {
		slug := lead.Slugify(seed.CompanyName)
		if slug == "" {
			slug = fmt.Sprintf("lead-%04d", i+1)
		}
		slugCounts[slug]++
		leadID := slug
		if slugCounts[slug] > 1 {
			leadID = fmt.Sprintf("%s-%d", slug, slugCounts[slug])
		}

		normalizer := NewArticleNormalizer(seed.CompanyName, seed.FundingStage, seed.Amount)
		bySource := make(map[string][]lead.ArticleEvidence, len(providers))
		for _, provider := range providers {
			articles := collectArticles(ctx, provider, seed, slug, normalizer)
			bySource[provider.ID] = articles

			confirming := 0
			for _, article := range articles {
				if !article.Confirms() {
					continue
				}
				confirming++
				if article.Domain != "" {
					globalDomains[article.Domain] = true
					globalDomainsBySource[provider.ID][article.Domain] = true
				}
			}
			confirmingBySource[provider.ID] += confirming
		}

		leads = append(leads, buildUnifiedLead(leadID, seed, providers, bySource))
	}

	metrics := Metrics{
		YoucomHits:            confirmingBySource[SourceYoucom],
		TavilyHits:            confirmingBySource[SourceTavily],
		UniqueDomainsTotal:    len(globalDomains),
		UniqueDomainsBySource: make(map[string]int, len(providers)),
	}
	for id, domains := range globalDomainsBySource {
		metrics.UniqueDomainsBySource[id] = len(domains)
	}

	telemetry.Emit("unified_verify", "complete",
		zap.Int("leads", len(leads)),
		zap.Int("youcom_hits", metrics.YoucomHits),
		zap.Int("tavily_hits", metrics.TavilyHits),
		zap.Int("unique_domains_total", metrics.UniqueDomainsTotal),
	)

	return &Output{
		UnifiedVerifyVersion: Version,
		GeneratedAt:          generatedAt.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z"),
		BundleID:             bundleID,
		Metrics:              metrics,
		Leads:                leads,
	}
}

func collectArticles(ctx context.Context, provider Provider, seed lead.ResolutionResult, slug string, normalizer *ArticleNormalizer) []lead.ArticleEvidence {
	raw, err := provider.Fetch(ctx, seed, slug)
	if err != nil {
		zap.L().Warn("verify: provider query failed",
			zap.String("provider", provider.Label),
			zap.String("company", seed.CompanyName),
			zap.Error(err),
		)
		return nil
	}
	articles := make([]lead.ArticleEvidence, 0, len(raw))
	for _, article := range raw {
		if evidence, ok := normalizer.Normalize(article); ok {
			articles = append(articles, evidence)
		}
	}
	return articles
}

func buildUnifiedLead(leadID string, seed lead.ResolutionResult, providers []Provider, bySource map[string][]lead.ArticleEvidence) lead.UnifiedLead {
	confirmations := make(map[string][]lead.ArticleEvidence, len(providers))
	for _, provider := range providers {
		articles := bySource[provider.ID]
		if articles == nil {
			articles = []lead.ArticleEvidence{}
		}
		confirmations[provider.ID] = articles
	}

	// Cross-provider dedup keeps the first confirming article per
	// (domain, canonical URL) pair, in provider then article order.
	articlesAll := []lead.ArticleRef{}
	seenPairs := make(map[string]bool)
	uniqueDomains := make(map[string]bool)
	uniqueBySource := make(map[string]int, len(providers))
	verifiedBy := []string{discoveryLabel}

	for _, provider := range providers {
		confirming := false
		sourceDomains := make(map[string]bool)
		for _, article := range bySource[provider.ID] {
			if !article.Confirms() {
				continue
			}
			confirming = true
			if article.Domain != "" {
				sourceDomains[article.Domain] = true
			}
			pair := article.Domain + "\x00" + article.URL
			if seenPairs[pair] {
				continue
			}
			seenPairs[pair] = true
			uniqueDomains[article.Domain] = true
			articlesAll = append(articlesAll, lead.ArticleRef{URL: article.URL, Domain: article.Domain})
		}
		uniqueBySource[provider.ID] = len(sourceDomains)
		if confirming {
			verifiedBy = append(verifiedBy, provider.Label)
		}
	}

	return lead.UnifiedLead{
		ID:          leadID,
		CompanyName: seed.CompanyName,
		Normalized: lead.NormalizedFields{
			Stage:         seed.FundingStage,
			Amount:        seed.Amount,
			AnnouncedDate: seed.AnnouncedDate,
			SourceURL:     seed.SourceURL,
			RawTitle:      seed.RawTitle,
			RawSnippet:    seed.RawSnippet,
		},
		Confirmations:         confirmations,
		ArticlesAll:           articlesAll,
		UniqueDomainsTotal:    len(uniqueDomains),
		UniqueDomainsBySource: uniqueBySource,
		VerifiedBy:            verifiedBy,
	}
}
