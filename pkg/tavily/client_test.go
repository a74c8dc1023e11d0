package tavily

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchSuccess(t *testing.T) {
	var gotBody searchRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
		assert.Equal(t, "test-key", r.Header.Get("X-Tavily-API-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"link":"https://bbc.co.uk/news/acme","title":"Acme raises","content":"$8M Series A"}]}`))
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL))
	results, err := client.Search(context.Background(), "Acme Series A funding raised $8M", 6)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "basic", gotBody.SearchDepth)
	assert.Equal(t, 6, gotBody.MaxResults)
	assert.Equal(t, "https://bbc.co.uk/news/acme", results[0].String("url", "link"))
	assert.Equal(t, "$8M Series A", results[0].String("content", "snippet"))
}

func TestSearchErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, check: IsRateLimit},
		{name: "gateway timeout", status: http.StatusGatewayTimeout, check: IsTimeout},
		{name: "not found", status: http.StatusNotFound, check: IsNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client := NewClient("test-key", WithBaseURL(server.URL))
			_, err := client.Search(context.Background(), "query", 5)

			require.Error(t, err)
			assert.True(t, tt.check(err))
		})
	}
}

func TestSearchSchemaError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL))
	_, err := client.Search(context.Background(), "query", 5)

	require.Error(t, err)
	assert.False(t, IsNotFound(err))
}

func TestSearchRejectsNonPositiveLimit(t *testing.T) {
	client := NewClient("test-key")
	_, err := client.Search(context.Background(), "query", 0)
	require.Error(t, err)
}
