package youcom

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchNewsSuccess(t *testing.T) {
	var gotPath, gotKey, gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-API-Key")
		gotContentType = r.Header.Get("Content-Type")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"url":"https://techcrunch.com/acme","title":"Acme AI raises $8M","snippet":"Series A"}]}`))
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL))
	results, err := client.SearchNews(context.Background(), "Acme AI Series A funding $8M", 8)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "/search", gotPath)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "https://techcrunch.com/acme", results[0].String("url"))
	assert.Equal(t, "Acme AI raises $8M", results[0].String("title", "name"))
}

func TestSearchNewsErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, check: IsRateLimit},
		{name: "gateway timeout", status: http.StatusGatewayTimeout, check: IsTimeout},
		{name: "request timeout", status: http.StatusRequestTimeout, check: IsTimeout},
		{name: "not found", status: http.StatusNotFound, check: IsNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client := NewClient("test-key", WithBaseURL(server.URL))
			_, err := client.SearchNews(context.Background(), "query", 5)

			require.Error(t, err)
			assert.True(t, tt.check(err))
		})
	}
}

func TestSearchNewsServerErrorDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"query too long"}`))
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL))
	_, err := client.SearchNews(context.Background(), "query", 5)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "query too long")
	assert.False(t, IsRateLimit(err))
}

func TestSearchNewsSchemaError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"unexpected":true}`))
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL))
	_, err := client.SearchNews(context.Background(), "query", 5)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "results missing")
}

func TestSearchNewsRejectsNonPositiveLimit(t *testing.T) {
	client := NewClient("test-key")
	_, err := client.SearchNews(context.Background(), "query", 0)
	require.Error(t, err)
}
