// Package youcom is a minimal client for the You.com News API.
package youcom

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.you.com/v1"

// Error codes returned by the client.
const (
	CodeError     = "YOUCOM_ERROR"
	CodeRateLimit = "YOUCOM_429"
	CodeTimeout   = "YOUCOM_TIMEOUT"
	CodeNotFound  = "YOUCOM_NOT_FOUND"
	CodeSchema    = "YOUCOM_SCHEMA_ERR"
)

// Error is a typed You.com client failure.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// IsRateLimit reports whether err is a You.com rate-limit rejection.
func IsRateLimit(err error) bool { return hasCode(err, CodeRateLimit) }

// IsTimeout reports whether err is a You.com timeout.
func IsTimeout(err error) bool { return hasCode(err, CodeTimeout) }

// IsNotFound reports whether err means no matching articles.
func IsNotFound(err error) bool { return hasCode(err, CodeNotFound) }

func hasCode(err error, code string) bool {
	var apiErr *Error
	return eris.As(err, &apiErr) && apiErr.Code == code
}

// Record is one raw news result. Field names vary across API versions, so
// records stay schemaless until normalization.
type Record map[string]any

// String returns the first non-empty string value among the given keys.
func (r Record) String(keys ...string) string {
	for _, key := range keys {
		if v, ok := r[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Client searches You.com news results.
type Client interface {
	SearchNews(ctx context.Context, query string, limit int) ([]Record, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a You.com API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type searchRequest struct {
	Query      string `json:"query"`
	NumResults int    `json:"num_results"`
	Type       string `json:"type"`
}

func (c *httpClient) SearchNews(ctx context.Context, query string, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, eris.New("youcom: limit must be a positive integer")
	}

	body, err := json.Marshal(searchRequest{Query: query, NumResults: limit, Type: "news"})
	if err != nil {
		return nil, eris.Wrap(err, "youcom: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "youcom: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		var netErr net.Error
		if eris.As(err, &netErr) && netErr.Timeout() {
			return nil, &Error{Code: CodeTimeout, Message: "youcom: request timed out: " + err.Error()}
		}
		return nil, &Error{Code: CodeError, Message: "youcom: request failed: " + err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "youcom: read response")
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{Code: CodeRateLimit, Message: "youcom: rate limited"}
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return nil, &Error{Code: CodeTimeout, Message: "youcom: request timed out"}
	case resp.StatusCode == http.StatusNotFound:
		return nil, &Error{Code: CodeNotFound, Message: "youcom: no news results found"}
	case resp.StatusCode >= 400:
		return nil, &Error{Code: CodeError, Message: "youcom: request failed: " + resp.Status + " - " + errorDetail(respBody)}
	}

	var payload struct {
		Results []Record `json:"results"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, &Error{Code: CodeSchema, Message: "youcom: decode response: " + err.Error()}
	}
	if payload.Results == nil {
		return nil, &Error{Code: CodeSchema, Message: "youcom: results missing from response"}
	}
	return payload.Results, nil
}

func errorDetail(body []byte) string {
	var detail struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(body, &detail); err == nil {
		if detail.Message != "" {
			return detail.Message
		}
		if detail.Detail != "" {
			return detail.Detail
		}
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
