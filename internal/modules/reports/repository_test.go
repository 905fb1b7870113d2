package reports

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/steward/internal/database"
)

func setupRepo(t *testing.T) *Repository {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "advisory.db"),
		Name:    "advisory",
		Profile: database.ProfileCritical,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	return NewRepository(db.Conn(), zerolog.Nop())
}

func sampleReport(recommendationID string) *Report {
	return &Report{
		RecommendationID: recommendationID,
		Markdown:         "# Investment Advisory Report\n\nBody text.\n",
		Summary: Summary{
			ProfileName:    "Jane Doe",
			Band:           "balanced",
			Candidates:     14,
			Positions:      6,
			ExpectedReturn: 0.094,
			Volatility:     0.142,
			Sharpe:         0.45,
			CVaR95:         -0.022,
			TopHolding:     "AAA",
			Regime:         "bull",
		},
	}
}

func TestRepository_SaveAndGet(t *testing.T) {
	repo := setupRepo(t)

	report := sampleReport("rec-1")
	require.NoError(t, repo.SaveReport(report))
	require.NotEmpty(t, report.ID, "save assigns an id")

	got, err := repo.GetReport(report.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, report.ID, got.ID)
	assert.Equal(t, "rec-1", got.RecommendationID)
	assert.Equal(t, report.Markdown, got.Markdown)
	assert.Equal(t, "Jane Doe", got.Summary.ProfileName)
	assert.Equal(t, 6, got.Summary.Positions)
	assert.InDelta(t, -0.022, got.Summary.CVaR95, 1e-9)
	assert.WithinDuration(t, time.Now().UTC(), got.CreatedAt, time.Minute)
}

func TestRepository_GetUnknown(t *testing.T) {
	repo := setupRepo(t)

	got, err := repo.GetReport("missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRepository_SaveValidation(t *testing.T) {
	repo := setupRepo(t)

	assert.ErrorContains(t, repo.SaveReport(nil), "cannot be nil")
	assert.ErrorContains(t, repo.SaveReport(&Report{Markdown: "  "}), "markdown cannot be empty")
}

func TestRepository_GetByRecommendation(t *testing.T) {
	repo := setupRepo(t)

	first := sampleReport("rec-9")
	first.CreatedAt = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SaveReport(first))

	second := sampleReport("rec-9")
	second.CreatedAt = time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SaveReport(second))

	got, err := repo.GetByRecommendation("rec-9")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.ID, got.ID, "newest report wins")

	none, err := repo.GetByRecommendation("rec-none")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestRepository_List(t *testing.T) {
	repo := setupRepo(t)

	older := sampleReport("rec-1")
	older.CreatedAt = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SaveReport(older))

	newer := sampleReport("rec-2")
	newer.CreatedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SaveReport(newer))

	list, err := repo.List()
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, newer.ID, list[0].ID, "newest first")
	assert.Equal(t, older.ID, list[1].ID)
	assert.Empty(t, list[0].Markdown, "listing omits the body")
	assert.Equal(t, "Jane Doe", list[0].Summary.ProfileName)
}
