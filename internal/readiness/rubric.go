package readiness

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kylestephens-labs/fund-signal/internal/lead"
	"github.com/kylestephens-labs/fund-signal/internal/score"
)

// RubricEngine is the deterministic readiness engine. Given the same lead
// and the same asOf instant it always produces the same score.
type RubricEngine struct {
	asOf time.Time
}

// NewRubricEngine creates a rubric engine that measures funding recency
// relative to asOf.
func NewRubricEngine(asOf time.Time) *RubricEngine {
	return &RubricEngine{asOf: asOf.UTC()}
}

func (e *RubricEngine) Name() string { return EngineRubric }

// ScoreLead applies the five rubric components and sums them. The component
// maxima total 100, so no clamping beyond the defensive one is needed.
func (e *RubricEngine) ScoreLead(_ context.Context, l lead.ScoredLead) (*Result, error) {
	breakdown := []BreakdownItem{
		e.recencyComponent(l),
		roundSizeComponent(l),
		confidenceComponent(l),
		proofDiversityComponent(l),
		sourceBreadthComponent(l),
	}

	total := 0
	for _, item := range breakdown {
		total += item.Points
	}

	return &Result{
		ID:          l.ID,
		CompanyName: l.CompanyName,
		Score:       clampScore(total),
		Breakdown:   breakdown,
		Engine:      EngineRubric,
	}, nil
}

// recencyComponent awards up to 30 points: full inside the 90-day window,
// then 5 points decay per further 15 days.
func (e *RubricEngine) recencyComponent(l lead.ScoredLead) BreakdownItem {
	announced, err := score.ParseTimestamp(l.Normalized.AnnouncedDate)
	if err != nil {
		return BreakdownItem{Reason: "Announcement date unknown", Points: 0}
	}

	days := int(e.asOf.Sub(announced).Hours() / 24)
	if days < 0 {
		days = 0
	}

	points := 30
	if days > 90 {
		points = 30 - ((days-90)/15)*5
		if points < 0 {
			points = 0
		}
	}
	return BreakdownItem{
		Reason: fmt.Sprintf("Funding announced %d days ago", days),
		Points: points,
	}
}

// roundSizeComponent awards up to 25 points by round size in millions.
func roundSizeComponent(l lead.ScoredLead) BreakdownItem {
	millions := amountMillions(l.Normalized.Amount)
	var points int
	switch {
	case millions >= 20:
		points = 25
	case millions >= 8:
		points = 18
	case millions >= 2:
		points = 10
	case millions > 0:
		points = 5
	}

	reason := "Round size unknown"
	if millions > 0 {
		reason = fmt.Sprintf("%s round of %g%s %s",
			coalesce(l.Normalized.Stage, "Funding"),
			l.Normalized.Amount.Value, l.Normalized.Amount.Unit, l.Normalized.Amount.Currency)
	}
	return BreakdownItem{Reason: reason, Points: points}
}

// confidenceComponent awards up to 25 points by verification tier.
func confidenceComponent(l lead.ScoredLead) BreakdownItem {
	switch l.FinalLabel {
	case lead.LabelVerified:
		return BreakdownItem{Reason: "Verification tier VERIFIED", Points: 25}
	case lead.LabelLikely:
		return BreakdownItem{Reason: "Verification tier LIKELY", Points: 15}
	default:
		return BreakdownItem{Reason: "Verification tier " + coalesce(l.FinalLabel, "unknown"), Points: 0}
	}
}

// proofDiversityComponent awards up to 10 points for distinct proof domains.
func proofDiversityComponent(l lead.ScoredLead) BreakdownItem {
	domains := map[string]bool{}
	for _, link := range l.ProofLinks {
		if host := linkHost(link); host != "" {
			domains[host] = true
		}
	}

	var points int
	switch {
	case len(domains) >= 3:
		points = 10
	case len(domains) == 2:
		points = 7
	case len(domains) == 1:
		points = 4
	}
	return BreakdownItem{
		Reason: fmt.Sprintf("Proof links across %d domains", len(domains)),
		Points: points,
	}
}

// sourceBreadthComponent awards up to 10 points for attribution breadth.
func sourceBreadthComponent(l lead.ScoredLead) BreakdownItem {
	n := len(l.VerifiedBy)
	var points int
	switch {
	case n >= 3:
		points = 10
	case n == 2:
		points = 6
	case n == 1:
		points = 2
	}
	return BreakdownItem{
		Reason: fmt.Sprintf("Attributed by %d sources", n),
		Points: points,
	}
}

func amountMillions(a lead.FundingAmount) float64 {
	switch a.Unit {
	case "B":
		return a.Value * 1000
	case "M":
		return a.Value
	case "K":
		return a.Value / 1000
	default:
		return 0
	}
}

func linkHost(link string) string {
	parsed, err := url.Parse(link)
	if err != nil || parsed.Host == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
}

func coalesce(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
