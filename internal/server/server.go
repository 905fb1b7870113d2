// Package server provides the HTTP server and routing for Steward.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/di"
	advisorhandlers "github.com/aristath/steward/internal/modules/advisor/handlers"
	featurehandlers "github.com/aristath/steward/internal/modules/features/handlers"
	optimizationhandlers "github.com/aristath/steward/internal/modules/optimization/handlers"
	profilehandlers "github.com/aristath/steward/internal/modules/profile/handlers"
	rankinghandlers "github.com/aristath/steward/internal/modules/ranking/handlers"
	reporthandlers "github.com/aristath/steward/internal/modules/reports/handlers"
	riskhandlers "github.com/aristath/steward/internal/modules/risk/handlers"
	screeninghandlers "github.com/aristath/steward/internal/modules/screening/handlers"
	sentimenthandlers "github.com/aristath/steward/internal/modules/sentiment/handlers"
	settingshandlers "github.com/aristath/steward/internal/modules/settings/handlers"
	universehandlers "github.com/aristath/steward/internal/modules/universe/handlers"
)

const serverVersion = "1.0.0"

// Config holds server configuration.
type Config struct {
	Log       zerolog.Logger
	Port      int
	DevMode   bool
	DataDir   string
	Container *di.Container
}

// Server is the HTTP surface over the advisory services.
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	port           int
	container      *di.Container
	systemHandlers *SystemHandlers
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		port:      cfg.Port,
		container: cfg.Container,
	}

	s.systemHandlers = NewSystemHandlers(
		cfg.Log,
		cfg.DataDir,
		cfg.Container.ManagedDatabases(),
		cfg.Container.SecurityRepo,
		cfg.Container.Scheduler,
	)

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
		// No WriteTimeout: the SSE and WebSocket endpoints hold their
		// responses open; per-request limits come from the middleware.
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Compress responses
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	c := s.container

	s.router.Get("/health", s.handleHealth)

	advisorHandlers := advisorhandlers.NewAdvisorHandlers(c.AdvisorService, c.EventManager, s.log)

	s.router.Route("/api", func(r chi.Router) {
		// Streaming endpoints stay outside the request timeout; they
		// hold their connections open until the client leaves.
		eventsStreamHandler := NewEventsStreamHandler(c.EventBus, s.log)
		r.Get("/events/stream", eventsStreamHandler.ServeHTTP)
		r.Get("/advisor/sessions/{id}/ws", advisorHandlers.HandleSessionWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			profileHandlers := profilehandlers.NewProfileHandlers(c.ProfileRepo, s.log)
			r.Route("/profiles", func(r chi.Router) {
				r.Post("/", profileHandlers.HandleCreate)
				r.Get("/", profileHandlers.HandleList)
				r.Get("/{id}", profileHandlers.HandleGet)
				r.Put("/{id}", profileHandlers.HandleUpdate)
				r.Delete("/{id}", profileHandlers.HandleDelete)
				r.Get("/{id}/assessment", profileHandlers.HandleAssessment)
			})

			uniHandlers := universehandlers.NewUniverseHandlers(
				c.SecurityRepo,
				c.FundamentalsRepo,
				c.SentimentRepo,
				c.ScoreRepo,
				c.HistoryDB,
				c.ImportService,
				s.log,
			)
			r.Route("/universe", func(r chi.Router) {
				r.Post("/import", uniHandlers.HandleImportUniverse)
				r.Post("/import/prices", uniHandlers.HandleImportPrices)
				r.Get("/securities", uniHandlers.HandleListSecurities)
				r.Get("/securities/{symbol}", uniHandlers.HandleGetSecurity)
				r.Put("/securities/{symbol}", uniHandlers.HandleUpdateSecurity)
				r.Delete("/securities/{symbol}", uniHandlers.HandleDeactivateSecurity)
				r.Get("/securities/{symbol}/prices", uniHandlers.HandleGetPrices)
				r.Get("/scores", uniHandlers.HandleGetScores)
				r.Get("/sectors", uniHandlers.HandleGetSectors)
			})

			featureHandlers := featurehandlers.NewFeatureHandlers(c.FeatureEngine, s.log)
			r.Get("/features/{symbol}", featureHandlers.HandleGetFeatures)

			screeningHandlers := screeninghandlers.NewScreeningHandlers(c.FeatureEngine, c.Screener, c.EventManager, s.log)
			r.Post("/screening/run", screeningHandlers.HandleRun)

			rankingHandlers := rankinghandlers.NewRankingHandlers(
				c.FeatureEngine,
				c.Screener,
				c.SentimentService,
				c.RankingEngine,
				c.ScoreRepo,
				s.log,
			)
			r.Route("/ranking", func(r chi.Router) {
				r.Post("/run", rankingHandlers.HandleRun)
				r.Get("/top", rankingHandlers.HandleTop)
			})

			optimizationHandlers := optimizationhandlers.NewOptimizationHandlers(c.OptimizerService, c.ScoreRepo, s.log)
			r.Post("/optimization/run", optimizationHandlers.HandleRun)

			riskHandlers := riskhandlers.NewRiskHandlers(c.RiskService, s.log)
			r.Route("/risk", func(r chi.Router) {
				r.Post("/portfolio", riskHandlers.HandlePortfolio)
				r.Get("/security/{symbol}", riskHandlers.HandleSecurity)
			})

			sentimentHandlers := sentimenthandlers.NewSentimentHandlers(c.SentimentService, s.log)
			r.Get("/sentiment/regime", sentimentHandlers.HandleGetRegime)

			r.Route("/advisor/sessions", func(r chi.Router) {
				r.Post("/", advisorHandlers.HandleCreateSession)
				r.Get("/", advisorHandlers.HandleListSessions)
				r.Get("/{id}", advisorHandlers.HandleGetSession)
			})

			reportHandlers := reporthandlers.NewReportHandlers(c.ReportRepo, s.log)
			r.Route("/reports", func(r chi.Router) {
				r.Get("/", reportHandlers.HandleList)
				r.Get("/{id}", reportHandlers.HandleGet)
			})

			settingsHandlers := settingshandlers.NewSettingsHandlers(c.SettingsService, c.EventManager, s.log)
			r.Route("/settings", func(r chi.Router) {
				r.Get("/", settingsHandlers.HandleGetAll)
				r.Put("/", settingsHandlers.HandleUpdateAll)
				r.Get("/{key}", settingsHandlers.HandleGet)
				r.Put("/{key}", settingsHandlers.HandleUpdate)
				r.Delete("/{key}", settingsHandlers.HandleReset)
			})

			r.Route("/system", func(r chi.Router) {
				r.Get("/status", s.systemHandlers.HandleStatus)
				r.Get("/jobs", s.systemHandlers.HandleJobs)
				r.Post("/jobs/{name}", s.systemHandlers.HandleTriggerJob)
			})
		})
	})
}

// Router exposes the handler tree, mostly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server. It blocks until the server stops and
// returns nil after a graceful Shutdown.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"version": serverVersion,
		"service": "steward",
	}

	s.writeJSON(w, http.StatusOK, response)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// loggingMiddleware logs each request with its status and duration.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
