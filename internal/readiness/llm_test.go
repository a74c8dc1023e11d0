package readiness

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylestephens-labs/fund-signal/internal/lead"
	"github.com/kylestephens-labs/fund-signal/pkg/anthropic"
)

// mockAnthropicClient implements anthropic.Client for testing.
type mockAnthropicClient struct {
	response *anthropic.MessageResponse
	err      error
	calls    int
}

func (m *mockAnthropicClient) CreateMessage(_ context.Context, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}
}

func TestLLMScoreLeadSuccess(t *testing.T) {
	client := &mockAnthropicClient{
		response: textResponse(`{"score": 87, "reasoning": "fresh Series A with broad coverage"}`),
	}
	engine := NewLLMEngine(client, "claude-haiku-4-5-20251001")

	result, err := engine.ScoreLead(context.Background(), verifiedLead())
	require.NoError(t, err)

	assert.Equal(t, 87, result.Score)
	assert.Equal(t, "fresh Series A with broad coverage", result.Reasoning)
	assert.Equal(t, EngineLLM, result.Engine)
	assert.Equal(t, "claude-haiku-4-5-20251001", result.Model)
	assert.Equal(t, 1, client.calls)
}

func TestLLMParsesEmbeddedJSON(t *testing.T) {
	client := &mockAnthropicClient{
		response: textResponse("Here is my assessment:\n{\"score\": 64, \"reasoning\": \"solid\"}\nHope that helps."),
	}
	engine := NewLLMEngine(client, "claude-haiku-4-5-20251001")

	result, err := engine.ScoreLead(context.Background(), verifiedLead())
	require.NoError(t, err)
	assert.Equal(t, 64, result.Score)
}

func TestLLMParsesCodeFencedJSON(t *testing.T) {
	client := &mockAnthropicClient{
		response: textResponse("```json\n{\"score\": 42, \"reasoning\": \"fenced\"}\n```"),
	}
	engine := NewLLMEngine(client, "claude-haiku-4-5-20251001")

	result, err := engine.ScoreLead(context.Background(), verifiedLead())
	require.NoError(t, err)
	assert.Equal(t, 42, result.Score)
}

func TestLLMClampsScore(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"above range", `{"score": 250, "reasoning": "x"}`, 100},
		{"below range", `{"score": -10, "reasoning": "x"}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockAnthropicClient{response: textResponse(tt.text)}
			engine := NewLLMEngine(client, "claude-haiku-4-5-20251001")

			result, err := engine.ScoreLead(context.Background(), verifiedLead())
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Score)
		})
	}
}

func TestLLMRejectsNonJSONResponse(t *testing.T) {
	client := &mockAnthropicClient{response: textResponse("I cannot provide a score.")}
	engine := NewLLMEngine(client, "claude-haiku-4-5-20251001")

	_, err := engine.ScoreLead(context.Background(), verifiedLead())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no JSON in response")
}

func TestLLMPermanentErrorFailsWithoutRetry(t *testing.T) {
	client := &mockAnthropicClient{err: eris.New("invalid api key")}
	engine := NewLLMEngine(client, "claude-haiku-4-5-20251001")

	_, err := engine.ScoreLead(context.Background(), verifiedLead())
	require.Error(t, err)
	assert.Equal(t, 1, client.calls)
}

func TestRunCollectsEngineFailures(t *testing.T) {
	client := &mockAnthropicClient{err: eris.New("invalid api key")}
	engine := NewLLMEngine(client, "claude-haiku-4-5-20251001")

	out, err := Run(context.Background(),
		[]lead.ScoredLead{verifiedLead()}, engine, time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Empty(t, out.Results)
	require.Len(t, out.Skipped, 1)
	assert.Equal(t, SkipEngineError, out.Skipped[0].SkipReason)
	assert.Equal(t, "2026-02-01T12:00:00Z", out.GeneratedAt)
	assert.Equal(t, EngineLLM, out.Engine)
}

func TestRunOrdersResultsByID(t *testing.T) {
	engine := NewRubricEngine(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))

	zebra := verifiedLead()
	zebra.ID = "zebra"
	alpha := verifiedLead()
	alpha.ID = "alpha"

	out, err := Run(context.Background(),
		[]lead.ScoredLead{zebra, alpha}, engine, time.Now())
	require.NoError(t, err)

	require.Len(t, out.Results, 2)
	assert.Equal(t, "alpha", out.Results[0].ID)
	assert.Equal(t, "zebra", out.Results[1].ID)
}
