package verify

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kylestephens-labs/fund-signal/internal/lead"
	"github.com/kylestephens-labs/fund-signal/pkg/tavily"
	"github.com/kylestephens-labs/fund-signal/pkg/youcom"
)

// Provider IDs.
const (
	SourceYoucom = "youcom"
	SourceTavily = "tavily"
)

// Provider fetches raw articles for one verification source. Fetch errors
// degrade a single lead's evidence, never the run.
type Provider struct {
	ID    string
	Label string
	Fetch func(ctx context.Context, seed lead.ResolutionResult, slug string) ([]RawArticle, error)
}

// coalesceYoucom maps the You.com result schema onto RawArticle, accepting
// the field aliases seen across API versions.
func coalesceYoucom(rec map[string]any) RawArticle {
	return RawArticle{
		URL:         stringField(rec, "url"),
		Title:       stringField(rec, "title", "name"),
		Snippet:     stringField(rec, "snippet", "summary", "description"),
		PublishedAt: stringField(rec, "published_at", "page_age", "date"),
	}
}

// coalesceTavily maps the Tavily result schema onto RawArticle.
func coalesceTavily(rec map[string]any) RawArticle {
	return RawArticle{
		URL:         stringField(rec, "url", "link"),
		Title:       stringField(rec, "title"),
		Snippet:     stringField(rec, "content", "snippet", "summary"),
		PublishedAt: stringField(rec, "published_at", "published_date"),
	}
}

func stringField(rec map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := rec[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// NewFixtureProviders builds providers that serve articles from captured
// JSONL bundles indexed by company slug. Missing fixture files produce empty
// indexes, matching a capture that found nothing.
func NewFixtureProviders(youcomPath, tavilyPath string, limit int) ([]Provider, error) {
	youcomIndex, err := loadFixtureIndex(youcomPath)
	if err != nil {
		return nil, err
	}
	tavilyIndex, err := loadFixtureIndex(tavilyPath)
	if err != nil {
		return nil, err
	}
	return []Provider{
		fixtureProvider(SourceYoucom, "You.com", youcomIndex, limit, coalesceYoucom),
		fixtureProvider(SourceTavily, "Tavily", tavilyIndex, limit, coalesceTavily),
	}, nil
}

func fixtureProvider(id, label string, index map[string][]map[string]any, limit int, coalesce func(map[string]any) RawArticle) Provider {
	return Provider{
		ID:    id,
		Label: label,
		Fetch: func(_ context.Context, _ lead.ResolutionResult, slug string) ([]RawArticle, error) {
			records := index[slug]
			if limit > 0 && len(records) > limit {
				records = records[:limit]
			}
			articles := make([]RawArticle, 0, len(records))
			for _, rec := range records {
				articles = append(articles, coalesce(rec))
			}
			return articles, nil
		},
	}
}

// NewClientProviders builds providers backed by the live search APIs.
func NewClientProviders(yc youcom.Client, tc tavily.Client, youcomLimit, tavilyLimit int) []Provider {
	return []Provider{
		{
			ID:    SourceYoucom,
			Label: "You.com",
			Fetch: func(ctx context.Context, seed lead.ResolutionResult, _ string) ([]RawArticle, error) {
				records, err := yc.SearchNews(ctx, YoucomQuery(seed), youcomLimit)
				if err != nil {
					return nil, err
				}
				articles := make([]RawArticle, 0, len(records))
				for _, rec := range records {
					articles = append(articles, coalesceYoucom(rec))
				}
				return articles, nil
			},
		},
		{
			ID:    SourceTavily,
			Label: "Tavily",
			Fetch: func(ctx context.Context, seed lead.ResolutionResult, _ string) ([]RawArticle, error) {
				records, err := tc.Search(ctx, TavilyQuery(seed), tavilyLimit)
				if err != nil {
					return nil, err
				}
				articles := make([]RawArticle, 0, len(records))
				for _, rec := range records {
					articles = append(articles, coalesceTavily(rec))
				}
				return articles, nil
			},
		},
	}
}

// YoucomQuery builds the You.com news query for a resolved lead. Capture
// uses the same query so recorded bundles replay the online requests.
func YoucomQuery(seed lead.ResolutionResult) string {
	return fmt.Sprintf("%s %s funding %s", seed.CompanyName, seed.FundingStage, queryAmount(seed.Amount))
}

// TavilyQuery builds the Tavily search query for a resolved lead.
func TavilyQuery(seed lead.ResolutionResult) string {
	return fmt.Sprintf("%s %s funding raised %s", seed.CompanyName, seed.FundingStage, queryAmount(seed.Amount))
}

func queryAmount(amount lead.FundingAmount) string {
	return fmt.Sprintf("$%s%s", trimFloat(amount.Value), strings.ToUpper(amount.Unit))
}

func trimFloat(value float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.3f", value), "0"), ".")
}

// loadFixtureIndex reads a slug-indexed capture file. Each JSONL line is
// {"slug": ..., "data": [...]}; single-bundle JSON files with a top-level
// slug are accepted too. Unreadable lines are skipped.
func loadFixtureIndex(path string) (map[string][]map[string]any, error) {
	index := make(map[string][]map[string]any)
	if path == "" {
		return index, nil
	}
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		zap.L().Warn("verify: fixture input missing", zap.String("path", path))
		return index, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "verify: open fixture %s", path)
	}
	defer file.Close()

	var reader io.Reader = file
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return nil, eris.Wrapf(err, "verify: gunzip fixture %s", path)
		}
		defer gz.Close()
		reader = gz
	}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var record struct {
			Slug string           `json:"slug"`
			Data []map[string]any `json:"data"`
		}
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			continue
		}
		if record.Slug == "" || record.Data == nil {
			continue
		}
		index[record.Slug] = record.Data
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrapf(err, "verify: read fixture %s", path)
	}
	return index, nil
}
