//go:build integration

package postgres

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/healthsync/internal/domain"
)

func setupRepository(t *testing.T, ctx context.Context) (*Repository, *pgxpool.Pool) {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("healthsync"),
		postgrescontainer.WithUsername("platform"),
		postgrescontainer.WithPassword("platform"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, waitForDatabase(ctx, connStr))
	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return NewRepository(pool), pool
}

func TestCredentialRoundTripAndStateChangeEvent(t *testing.T) {
	ctx := context.Background()
	repo, pool := setupRepository(t, ctx)

	cred := domain.Credential{
		OwnerID:           "owner-1",
		AccessToken:       "access-1",
		RefreshToken:      "refresh-1",
		ExpiresAt:         time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond),
		Scopes:            []string{"fitness.activity.read"},
		ProviderAccountID: "acct-1",
		State:             domain.CredentialAuthorized,
		UpdatedAt:         time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, repo.Save(ctx, cred))

	stored, err := repo.Get(ctx, "owner-1")
	require.NoError(t, err)
	require.Equal(t, cred.AccessToken, stored.AccessToken)
	require.Equal(t, domain.CredentialAuthorized, stored.State)

	// First save transitions from no state; one event row expected.
	var events int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox WHERE event_type = 'credential.state_changed' AND owner_id = 'owner-1'`).Scan(&events))
	require.Equal(t, 1, events)

	// Saving with an unchanged state must not emit another event.
	cred.AccessToken = "access-2"
	require.NoError(t, repo.Save(ctx, cred))
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox WHERE event_type = 'credential.state_changed' AND owner_id = 'owner-1'`).Scan(&events))
	require.Equal(t, 1, events)

	_, err = repo.Get(ctx, "stranger")
	require.ErrorIs(t, err, domain.ErrCredentialNotFound)
}

func TestSaveBatchUpsertsPointsAndEmitsEvent(t *testing.T) {
	ctx := context.Background()
	repo, pool := setupRepository(t, ctx)

	now := time.Now().UTC().Truncate(time.Microsecond)
	window := domain.Window{Start: now.Add(-24 * time.Hour), End: now}
	batchID := uuid.NewString()

	points := []domain.HealthDataPoint{
		{Timestamp: now.Add(-2 * time.Hour), Metric: domain.MetricSteps, Value: 4000, Source: "watch", BatchID: batchID},
		{Timestamp: now.Add(-time.Hour), Metric: domain.MetricSteps, Value: 2500, Source: "watch", BatchID: batchID},
	}
	require.NoError(t, repo.SaveBatch(ctx, "owner-1", batchID, domain.MetricSteps, window, points))

	// Replaying an overlapping window updates in place.
	replayID := uuid.NewString()
	points[1].Value = 2600
	points[1].BatchID = replayID
	require.NoError(t, repo.SaveBatch(ctx, "owner-1", replayID, domain.MetricSteps, window, points[1:]))

	loaded, err := repo.LoadPoints(ctx, "owner-1", window)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	require.Equal(t, 2600.0, loaded[1].Value)

	var events int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox WHERE event_type = 'health.batch_normalized'`).Scan(&events))
	require.Equal(t, 2, events)
}

func TestGoalUpsertAndDelete(t *testing.T) {
	ctx := context.Background()
	repo, _ := setupRepository(t, ctx)

	goal := domain.Goal{OwnerID: "owner-1", Metric: domain.MetricSteps, Target: 10000, Period: domain.PeriodDay}
	require.NoError(t, repo.SaveGoal(ctx, goal))

	goal.Target = 12000
	require.NoError(t, repo.SaveGoal(ctx, goal))

	goals, err := repo.ListGoals(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, goals, 1)
	require.Equal(t, 12000.0, goals[0].Target)

	require.NoError(t, repo.DeleteGoal(ctx, "owner-1", domain.MetricSteps, domain.PeriodDay))
	goals, err = repo.ListGoals(ctx, "owner-1")
	require.NoError(t, err)
	require.Empty(t, goals)
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	files := []string{
		"../../../db/postgres/migrations/0001_init.up.sql",
	}

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	for _, rel := range files {
		path := resolvePath(t, rel)
		contents, readErr := os.ReadFile(path)
		require.NoError(t, readErr)

		_, execErr := pool.Exec(ctx, string(contents))
		require.NoError(t, execErr)
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
