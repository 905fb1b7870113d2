package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/steward/internal/database"
	"github.com/aristath/steward/internal/modules/reports"
)

func setupHandlers(t *testing.T) (*reports.Repository, *chi.Mux) {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "advisory.db"),
		Name:    "advisory",
		Profile: database.ProfileCritical,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	repo := reports.NewRepository(db.Conn(), zerolog.Nop())
	h := NewReportHandlers(repo, zerolog.Nop())

	router := chi.NewRouter()
	router.Get("/reports", h.HandleList)
	router.Get("/reports/{id}", h.HandleGet)

	return repo, router
}

func seedReport(t *testing.T, repo *reports.Repository, createdAt time.Time) *reports.Report {
	t.Helper()

	report := &reports.Report{
		RecommendationID: "rec-1",
		Markdown:         "# Portfolio Review\n\nHold steady, rebalance in autumn.",
		Summary: reports.Summary{
			ProfileName:    "Dana",
			Band:           "balanced",
			Candidates:     18,
			Positions:      12,
			ExpectedReturn: 0.08,
			Sharpe:         0.9,
		},
		CreatedAt: createdAt,
	}
	require.NoError(t, repo.SaveReport(report))
	return report
}

func doGet(router *chi.Mux, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHandleGet(t *testing.T) {
	repo, router := setupHandlers(t)
	seeded := seedReport(t, repo, time.Now().UTC())

	tests := []struct {
		name     string
		format   string
		validate func(t *testing.T, w *httptest.ResponseRecorder)
	}{
		{
			name:   "json by default",
			format: "",
			validate: func(t *testing.T, w *httptest.ResponseRecorder) {
				assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

				var report reports.Report
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
				assert.Equal(t, seeded.ID, report.ID)
				assert.Equal(t, seeded.Markdown, report.Markdown)
				assert.Equal(t, "Dana", report.Summary.ProfileName)
			},
		},
		{
			name:   "raw markdown",
			format: "?format=md",
			validate: func(t *testing.T, w *httptest.ResponseRecorder) {
				assert.Contains(t, w.Header().Get("Content-Type"), "text/markdown")
				assert.Equal(t, seeded.Markdown, w.Body.String())
			},
		},
		{
			name:   "rendered html",
			format: "?format=html",
			validate: func(t *testing.T, w *httptest.ResponseRecorder) {
				assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
				assert.Contains(t, w.Body.String(), "<h1>Portfolio Review</h1>")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doGet(router, "/reports/"+seeded.ID+tt.format)
			require.Equal(t, http.StatusOK, w.Code)
			tt.validate(t, w)
		})
	}
}

func TestHandleGet_UnknownFormat(t *testing.T) {
	repo, router := setupHandlers(t)
	seeded := seedReport(t, repo, time.Now().UTC())

	w := doGet(router, "/reports/"+seeded.ID+"?format=pdf")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleGet_NotFound(t *testing.T) {
	_, router := setupHandlers(t)

	w := doGet(router, "/reports/no-such-report")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleList(t *testing.T) {
	repo, router := setupHandlers(t)
	older := seedReport(t, repo, time.Now().UTC().Add(-time.Hour))
	newer := seedReport(t, repo, time.Now().UTC())

	w := doGet(router, "/reports")
	require.Equal(t, http.StatusOK, w.Code)

	var list []reports.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID, "newest first")
	assert.Equal(t, older.ID, list[1].ID)
	assert.Empty(t, list[0].Markdown, "listing omits the narrative body")
	assert.Equal(t, "balanced", list[0].Summary.Band)
}

func TestHandleList_Empty(t *testing.T) {
	_, router := setupHandlers(t)

	w := doGet(router, "/reports")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}
