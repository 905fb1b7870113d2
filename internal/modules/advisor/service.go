package advisor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/events"
	"github.com/aristath/steward/internal/modules/features"
	"github.com/aristath/steward/internal/modules/optimization"
	"github.com/aristath/steward/internal/modules/profile"
	"github.com/aristath/steward/internal/modules/ranking"
	"github.com/aristath/steward/internal/modules/reports"
	"github.com/aristath/steward/internal/modules/risk"
	"github.com/aristath/steward/internal/modules/screening"
	"github.com/aristath/steward/internal/modules/sentiment"
)

// Well-known errors the HTTP layer maps to status codes.
var (
	// ErrProfileNotFound means the requested profile does not exist.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrSessionActive means the profile already has a pending or
	// running session. One advisory run per profile at a time.
	ErrSessionActive = errors.New("an advisory session is already active for this profile")
)

// Deps bundles the pipeline's collaborators.
type Deps struct {
	Sessions        *SessionRepository
	Recommendations *RecommendationRepository
	Profiles        *profile.Repository
	Features        *features.Engine
	Screener        *screening.Screener
	Ranking         *ranking.Engine
	Optimizer       *optimization.Service
	Risk            *risk.Service
	Composer        *reports.Composer
	Reports         *reports.Repository
	Sentiment       *sentiment.Service
	Events          *events.Manager
}

// Service runs advisory sessions through the ordered stage pipeline.
type Service struct {
	deps Deps
	log  zerolog.Logger

	// startMu serializes the active-session check against session
	// creation so two concurrent starts cannot both pass it.
	startMu sync.Mutex
}

// NewService creates the advisor service.
func NewService(deps Deps, log zerolog.Logger) *Service {
	return &Service{
		deps: deps,
		log:  log.With().Str("service", "advisor").Logger(),
	}
}

// Start reserves the profile's session slot and launches the run in the
// background. The returned session is pending; progress arrives on the
// event bus.
func (s *Service) Start(profileID string, opts RunOptions) (*Session, error) {
	session, p, err := s.begin(profileID)
	if err != nil {
		return nil, err
	}

	// The pipeline mutates its own copy; the caller may still be
	// serializing the pending session.
	run := *session
	go func() {
		if _, err := s.execute(context.Background(), &run, p, opts); err != nil {
			s.log.Error().Err(err).Str("session_id", run.ID).Msg("Advisory session failed")
		}
	}()

	return session, nil
}

// Run executes a full advisory session synchronously and returns the
// terminal session. The scheduler and tests use this; HTTP goes through
// Start.
func (s *Service) Run(ctx context.Context, profileID string, opts RunOptions) (*Session, error) {
	session, p, err := s.begin(profileID)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, session, p, opts)
}

// Get returns a session, nil when the id is unknown.
func (s *Service) Get(id string) (*Session, error) {
	return s.deps.Sessions.Get(id)
}

// List returns all sessions, newest first.
func (s *Service) List() ([]Session, error) {
	return s.deps.Sessions.List()
}

// Latest returns the newest session for a profile.
func (s *Service) Latest(profileID string) (*Session, error) {
	return s.deps.Sessions.Latest(profileID)
}

// Recommendation returns a stored recommendation, nil when unknown.
func (s *Service) Recommendation(id string) (*Recommendation, error) {
	return s.deps.Recommendations.Get(id)
}

// begin validates the profile, enforces the one-active-session rule and
// persists the pending session.
func (s *Service) begin(profileID string) (*Session, *profile.Profile, error) {
	p, err := s.deps.Profiles.GetByID(profileID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load profile %s: %w", profileID, err)
	}
	if p == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrProfileNotFound, profileID)
	}

	s.startMu.Lock()
	defer s.startMu.Unlock()

	active, err := s.deps.Sessions.HasActive(p.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check active sessions: %w", err)
	}
	if active {
		return nil, nil, ErrSessionActive
	}

	session := &Session{ProfileID: p.ID, Status: StatusPending}
	if err := s.deps.Sessions.Create(session); err != nil {
		return nil, nil, err
	}

	return session, p, nil
}

// execute runs the stage chain, persisting every transition. It returns
// the terminal session together with the error that failed it, if any.
func (s *Service) execute(ctx context.Context, session *Session, p *profile.Profile, opts RunOptions) (*Session, error) {
	started := time.Now().UTC()
	session.Status = StatusRunning
	session.StartedAt = &started
	if err := s.deps.Sessions.Update(session); err != nil {
		return s.fail(session, err)
	}

	s.emit(events.SessionStarted, &events.SessionStartedData{
		SessionID: session.ID,
		ProfileID: session.ProfileID,
	})
	s.log.Info().
		Str("session_id", session.ID).
		Str("profile_id", session.ProfileID).
		Msg("Advisory session started")

	reporter := newProgressReporter(s.deps.Events, session.ID)

	rec, err := s.runStages(ctx, session, p, opts, reporter)
	if err != nil {
		return s.fail(session, err)
	}

	return s.complete(session, rec, started, reporter)
}

// runStages walks the six stages in order. The first failing stage
// aborts the run; session.Stage then names the culprit.
func (s *Service) runStages(ctx context.Context, session *Session, p *profile.Profile, opts RunOptions, reporter *progressReporter) (*Recommendation, error) {
	if err := s.enterStage(ctx, session, StageCollectProfile, 0); err != nil {
		return nil, err
	}
	assessment := profile.Assess(p)
	reporter.report(StageCollectProfile, stagePercent(0, 1),
		fmt.Sprintf("Profile assessed: %s band, %.0f%% target return", assessment.Band, assessment.TargetReturn*100))

	if err := s.enterStage(ctx, session, StageScreenUniverse, 1); err != nil {
		return nil, err
	}
	criteria := screening.DefaultCriteria().ForBand(assessment.Band)
	criteria.ExcludedSectors = p.ExcludedSectors

	vectors, err := s.deps.Features.ComputeUniverse(ctx, func(done, total int) {
		if total == 0 {
			return
		}
		frac := float64(done) / float64(total)
		reporter.report(StageScreenUniverse, stagePercent(1, frac),
			fmt.Sprintf("Computed features for %d of %d securities", done, total))
	})
	if err != nil {
		return nil, fmt.Errorf("feature computation failed: %w", err)
	}

	screen := s.deps.Screener.Screen(vectors, criteria)
	s.emit(events.ScreeningCompleted, &events.ScreeningCompletedData{
		Candidates:  len(screen.Candidates),
		Rejected:    len(screen.Rejected),
		LayerCounts: screen.LayerCounts,
	})
	reporter.report(StageScreenUniverse, stagePercent(1, 1),
		fmt.Sprintf("%d of %d securities passed the screen", len(screen.Candidates), len(vectors)))

	if err := s.enterStage(ctx, session, StageRankCandidates, 2); err != nil {
		return nil, err
	}
	regime := s.currentRegime()
	var ranked []ranking.RankedSecurity
	if len(screen.Candidates) > 0 {
		ranked, err = s.deps.Ranking.Rank(screen.Candidates, ranking.DefaultWeights(), regime)
		if err != nil {
			return nil, fmt.Errorf("ranking failed: %w", err)
		}
	}
	reporter.report(StageRankCandidates, stagePercent(2, 1),
		fmt.Sprintf("Ranked %d candidates in a %s regime", len(ranked), regime))

	if err := s.enterStage(ctx, session, StageOptimizePortfolio, 3); err != nil {
		return nil, err
	}
	shortlist := topCandidates(ranked, opts.TopN)

	var solution *optimization.Solution
	if len(shortlist) > 0 {
		req := optimization.Request{
			Symbols:       symbolsOf(shortlist),
			Strategy:      opts.Strategy,
			SentimentTilt: true,
		}
		solution, err = s.deps.Optimizer.OptimizeForBand(req, assessment.Band)
		if err != nil {
			return nil, fmt.Errorf("optimization failed: %w", err)
		}
		reporter.report(StageOptimizePortfolio, stagePercent(3, 1),
			fmt.Sprintf("Optimized %d positions, expected return %.1f%%", len(solution.Weights), solution.ExpectedReturn*100))
	} else {
		reporter.report(StageOptimizePortfolio, stagePercent(3, 1), "No candidates to optimize")
	}

	if err := s.enterStage(ctx, session, StageAssessRisk, 4); err != nil {
		return nil, err
	}
	var metrics *risk.PortfolioRiskMetrics
	if solution != nil {
		metrics, err = s.deps.Risk.ComputePortfolio(solution.Weights)
		if err != nil {
			return nil, fmt.Errorf("risk assessment failed: %w", err)
		}
		reporter.report(StageAssessRisk, stagePercent(4, 1), "Portfolio risk metrics computed")
	} else {
		reporter.report(StageAssessRisk, stagePercent(4, 1), "No portfolio to assess")
	}

	if err := s.enterStage(ctx, session, StageComposeReport, 5); err != nil {
		return nil, err
	}
	rec := &Recommendation{
		SessionID:      session.ID,
		ProfileID:      p.ID,
		Assessment:     assessment,
		CandidateCount: len(screen.Candidates),
		Ranked:         shortlist,
		Metrics:        metrics,
	}
	if solution != nil {
		rec.Weights = solution.Weights
	}
	if err := s.deps.Recommendations.Save(rec); err != nil {
		return nil, fmt.Errorf("failed to save recommendation: %w", err)
	}

	report := s.deps.Composer.Compose(p, &assessment, &screen, ranked, solution, metrics)
	report.RecommendationID = rec.ID
	if err := s.deps.Reports.SaveReport(report); err != nil {
		return nil, fmt.Errorf("failed to save report: %w", err)
	}

	rec.ReportID = report.ID
	if err := s.deps.Recommendations.Save(rec); err != nil {
		return nil, fmt.Errorf("failed to link report: %w", err)
	}

	return rec, nil
}

// enterStage persists the stage transition and announces it on the bus.
func (s *Service) enterStage(ctx context.Context, session *Session, stage string, index int) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("session cancelled before %s: %w", stage, err)
	}

	session.Stage = stage
	if err := s.deps.Sessions.Update(session); err != nil {
		return fmt.Errorf("failed to persist stage %s: %w", stage, err)
	}

	s.emit(events.StageStarted, &events.StageStartedData{
		SessionID: session.ID,
		Stage:     stage,
		Index:     index,
		Total:     len(Stages),
	})
	s.log.Debug().Str("session_id", session.ID).Str("stage", stage).Msg("Stage started")

	return nil
}

// fail marks the session failed at its current stage.
func (s *Service) fail(session *Session, cause error) (*Session, error) {
	now := time.Now().UTC()
	session.Status = StatusFailed
	session.Error = cause.Error()
	session.FinishedAt = &now
	if err := s.deps.Sessions.Update(session); err != nil {
		s.log.Error().Err(err).Str("session_id", session.ID).Msg("Failed to persist failed session")
	}

	s.emit(events.SessionFailed, &events.SessionFailedData{
		SessionID: session.ID,
		Stage:     session.Stage,
		Error:     cause.Error(),
	})
	s.log.Error().
		Err(cause).
		Str("session_id", session.ID).
		Str("stage", session.Stage).
		Msg("Advisory session failed")

	return session, cause
}

// complete marks the session done and announces the recommendation.
func (s *Service) complete(session *Session, rec *Recommendation, started time.Time, reporter *progressReporter) (*Session, error) {
	now := time.Now().UTC()
	session.Status = StatusCompleted
	session.RecommendationID = rec.ID
	session.FinishedAt = &now
	if err := s.deps.Sessions.Update(session); err != nil {
		return session, fmt.Errorf("failed to persist completed session: %w", err)
	}

	reporter.report(StageComposeReport, 100, "Advisory run complete")

	duration := now.Sub(started).Seconds()
	s.emit(events.SessionCompleted, &events.SessionCompletedData{
		SessionID:        session.ID,
		RecommendationID: rec.ID,
		DurationSeconds:  duration,
	})
	s.emit(events.RecommendationReady, &events.RecommendationReadyData{
		RecommendationID: rec.ID,
		SessionID:        session.ID,
		ProfileID:        session.ProfileID,
		Positions:        len(rec.Weights),
	})

	s.log.Info().
		Str("session_id", session.ID).
		Str("recommendation_id", rec.ID).
		Float64("duration_seconds", duration).
		Int("positions", len(rec.Weights)).
		Msg("Advisory session completed")

	return session, nil
}

// currentRegime asks the sentiment service for the market regime. A
// failed read falls back to sideways rather than failing the session.
func (s *Service) currentRegime() sentiment.MarketRegime {
	if s.deps.Sentiment == nil {
		return sentiment.RegimeSideways
	}

	snapshot, err := s.deps.Sentiment.CurrentRegime(0)
	if err != nil {
		s.log.Warn().Err(err).Msg("Regime detection failed, assuming sideways")
		return sentiment.RegimeSideways
	}
	return snapshot.Regime
}

func (s *Service) emit(eventType events.EventType, data events.EventData) {
	if s.deps.Events == nil {
		return
	}
	s.deps.Events.EmitTyped(eventType, "advisor", data)
}

// stagePercent maps progress within the 0-based stage index to overall
// pipeline percent, rounded to whole numbers.
func stagePercent(index int, frac float64) float64 {
	span := 100.0 / float64(len(Stages))
	return math.Round(float64(index)*span + frac*span)
}

// topCandidates returns the first n ranked securities, DefaultTopN when
// n is not positive. Rank order is already established.
func topCandidates(ranked []ranking.RankedSecurity, n int) []ranking.RankedSecurity {
	if n <= 0 {
		n = DefaultTopN
	}
	if n > len(ranked) {
		n = len(ranked)
	}
	return ranked[:n]
}

func symbolsOf(ranked []ranking.RankedSecurity) []string {
	symbols := make([]string, len(ranked))
	for i := range ranked {
		symbols[i] = ranked[i].Symbol
	}
	return symbols
}
