// Package advisor drives full advisory sessions: profile assessment,
// universe screening, candidate ranking, portfolio optimization, risk
// metrics and the final report run as one ordered pipeline with
// persisted state and progress events.
package advisor

import (
	"time"

	"github.com/aristath/steward/internal/modules/profile"
	"github.com/aristath/steward/internal/modules/ranking"
	"github.com/aristath/steward/internal/modules/risk"
)

// Session statuses. pending and running occupy the profile's session
// slot; completed and failed are terminal and never change again.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Pipeline stages in execution order.
const (
	StageCollectProfile    = "collect_profile"
	StageScreenUniverse    = "screen_universe"
	StageRankCandidates    = "rank_candidates"
	StageOptimizePortfolio = "optimize_portfolio"
	StageAssessRisk        = "assess_risk"
	StageComposeReport     = "compose_report"
)

// Stages lists the pipeline stages in execution order.
var Stages = []string{
	StageCollectProfile,
	StageScreenUniverse,
	StageRankCandidates,
	StageOptimizePortfolio,
	StageAssessRisk,
	StageComposeReport,
}

// DefaultTopN caps how many ranked candidates reach the optimizer when
// the request does not say otherwise.
const DefaultTopN = 15

// Session is one advisory run for a profile.
type Session struct {
	ID               string     `json:"id"`
	ProfileID        string     `json:"profile_id"`
	Status           string     `json:"status"`
	Stage            string     `json:"stage,omitempty"`
	Error            string     `json:"error,omitempty"`
	RecommendationID string     `json:"recommendation_id,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Active reports whether the session still occupies its profile's slot.
func (s *Session) Active() bool {
	return s.Status == StatusPending || s.Status == StatusRunning
}

// Terminal reports whether the session reached a final state.
func (s *Session) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// Recommendation is the persisted outcome of a completed session.
// Ranked holds the optimizer shortlist; Weights and Metrics stay empty
// when the screen left no candidates.
type Recommendation struct {
	ID             string                     `json:"id"`
	SessionID      string                     `json:"session_id"`
	ProfileID      string                     `json:"profile_id"`
	Assessment     profile.RiskAssessment     `json:"assessment"`
	CandidateCount int                        `json:"candidate_count"`
	Ranked         []ranking.RankedSecurity   `json:"ranked,omitempty"`
	Weights        map[string]float64         `json:"weights,omitempty"`
	Metrics        *risk.PortfolioRiskMetrics `json:"metrics,omitempty"`
	ReportID       string                     `json:"report_id,omitempty"`
	CreatedAt      time.Time                  `json:"created_at"`
}

// RunOptions tune a single run. Zero values select the defaults.
type RunOptions struct {
	// TopN caps the optimizer shortlist, DefaultTopN when zero.
	TopN int `json:"top_n,omitempty"`

	// Strategy names the optimization strategy, max_sharpe when empty.
	Strategy string `json:"strategy,omitempty"`
}
