package readiness

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/kylestephens-labs/fund-signal/internal/lead"
	"github.com/kylestephens-labs/fund-signal/internal/resilience"
	"github.com/kylestephens-labs/fund-signal/pkg/anthropic"
)

// systemPrompt asks for strict JSON so the response survives parsing even
// when the model wraps it in prose or code fences.
const systemPrompt = `You are evaluating a recently funded company for sales readiness. Score the company 0 to 100 based on:
- Funding recency and round size (fresh capital means budget for new tooling)
- Verification confidence (how well the funding event is corroborated)
- Evidence breadth (number of independent sources and proof links)

Respond with ONLY valid JSON, no other text:
{"score": 0, "reasoning": "brief explanation"}`

type llmResponse struct {
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
}

// LLMEngine scores leads with Claude. Transient provider failures are
// retried with backoff before a lead is given up on.
type LLMEngine struct {
	client anthropic.Client
	model  string
	retry  resilience.RetryConfig
}

// NewLLMEngine creates an LLM readiness engine.
func NewLLMEngine(client anthropic.Client, model string) *LLMEngine {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("anthropic", "readiness_score")
	return &LLMEngine{client: client, model: model, retry: retry}
}

func (e *LLMEngine) Name() string { return EngineLLM }

// ScoreLead sends the lead summary to the model and parses the JSON score.
func (e *LLMEngine) ScoreLead(ctx context.Context, l lead.ScoredLead) (*Result, error) {
	resp, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return e.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     e.model,
			MaxTokens: 256,
			System:    systemPrompt,
			Messages:  []anthropic.Message{{Role: "user", Content: renderLeadPrompt(l)}},
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "readiness: claude request")
	}
	resp.Usage.LogCost(e.model, "readiness")

	text := resp.Text()
	if text == "" {
		return nil, eris.New("readiness: empty claude response")
	}

	parsed, err := parseScorePayload(text)
	if err != nil {
		return nil, err
	}

	return &Result{
		ID:          l.ID,
		CompanyName: l.CompanyName,
		Score:       clampScore(int(parsed.Score)),
		Reasoning:   parsed.Reasoning,
		Engine:      EngineLLM,
		Model:       e.model,
	}, nil
}

func renderLeadPrompt(l lead.ScoredLead) string {
	amount := "unknown"
	if l.Normalized.Amount.Unit != "" {
		amount = fmt.Sprintf("%g%s %s", l.Normalized.Amount.Value, l.Normalized.Amount.Unit, l.Normalized.Amount.Currency)
	}
	return fmt.Sprintf(
		"Company: %s\nFunding stage: %s\nAmount: %s\nAnnounced: %s\nVerification tier: %s (%d points)\nVerified by: %s\nProof links:\n%s\nWarnings: %s\n",
		l.CompanyName,
		coalesce(l.Normalized.Stage, "unknown"),
		amount,
		coalesce(l.Normalized.AnnouncedDate, "unknown"),
		l.FinalLabel,
		l.ConfidencePoints,
		strings.Join(l.VerifiedBy, ", "),
		bulleted(l.ProofLinks),
		coalesce(strings.Join(l.Warnings, ", "), "none"),
	)
}

func bulleted(links []string) string {
	if len(links) == 0 {
		return "- none"
	}
	var b strings.Builder
	for _, link := range links {
		b.WriteString("- ")
		b.WriteString(link)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// parseScorePayload tolerates code fences and surrounding prose: it decodes
// the first top-level JSON object found in the response.
func parseScorePayload(text string) (*llmResponse, error) {
	candidate := strings.TrimSpace(text)
	if strings.HasPrefix(candidate, "```") {
		var kept []string
		for _, line := range strings.Split(candidate, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				continue
			}
			kept = append(kept, line)
		}
		candidate = strings.TrimSpace(strings.Join(kept, "\n"))
	}

	start := strings.Index(candidate, "{")
	end := strings.LastIndex(candidate, "}")
	if start < 0 || end <= start {
		return nil, eris.Errorf("readiness: no JSON in response: %s", truncate(candidate, 200))
	}

	var parsed llmResponse
	if err := json.Unmarshal([]byte(candidate[start:end+1]), &parsed); err != nil {
		return nil, eris.Wrap(err, "readiness: parse response JSON")
	}
	return &parsed, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
