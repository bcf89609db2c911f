package risk

import (
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newTestTargetRepo(t *testing.T) *TargetRepository {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE target_allocations (
			user_id    TEXT NOT NULL,
			symbol     TEXT NOT NULL,
			weight     REAL NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now')),
			PRIMARY KEY (user_id, symbol)
		)
	`)
	require.NoError(t, err)
	return NewTargetRepository(db, zerolog.Nop())
}

func TestTargetRepository_ReplaceAndGet(t *testing.T) {
	repo := newTestTargetRepo(t)

	require.NoError(t, repo.Replace("u1", map[string]float64{"AAPL": 0.6, "MSFT": 0.4}))

	targets, err := repo.Get("u1")
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, "AAPL", targets[0].Symbol)
	assert.Equal(t, 0.6, targets[0].Weight)
	assert.False(t, targets[0].UpdatedAt.IsZero())
	assert.Equal(t, "MSFT", targets[1].Symbol)
}

func TestTargetRepository_ReplaceIsWholesale(t *testing.T) {
	repo := newTestTargetRepo(t)

	require.NoError(t, repo.Replace("u1", map[string]float64{"AAPL": 0.5, "MSFT": 0.5}))
	require.NoError(t, repo.Replace("u1", map[string]float64{"SPY": 1.0}))

	targets, err := repo.Get("u1")
	require.NoError(t, err)
	require.Len(t, targets, 1, "a new run replaces the previous target set")
	assert.Equal(t, "SPY", targets[0].Symbol)
}

func TestTargetRepository_EmptyClearsAndGetIsNotError(t *testing.T) {
	repo := newTestTargetRepo(t)

	require.NoError(t, repo.Replace("u1", map[string]float64{"SPY": 1.0}))
	require.NoError(t, repo.Replace("u1", nil))

	targets, err := repo.Get("u1")
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestTargetRepository_UsersAreIsolated(t *testing.T) {
	repo := newTestTargetRepo(t)

	require.NoError(t, repo.Replace("u1", map[string]float64{"SPY": 1.0}))
	require.NoError(t, repo.Replace("u2", map[string]float64{"VTV": 1.0}))

	targets, err := repo.Get("u1")
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "SPY", targets[0].Symbol)
}
