package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/RMahshie/aurelius/internal/profile"
	"github.com/RMahshie/aurelius/pkg/models"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgContainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupDatabase starts a PostgreSQL container and applies the schema
func setupDatabase(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := pgContainer.Run(ctx,
		"postgres:15-alpine",
		pgContainer.WithDatabase("aurelius_test"),
		pgContainer.WithUsername("testuser"),
		pgContainer.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(context.Background())) })

	dbURL, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", dbURL)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(ctx, db))
	// Applying twice must be harmless.
	require.NoError(t, Migrate(ctx, db))
	return db
}

func builtProfile(t *testing.T, createdAt time.Time) *models.AudioProfile {
	t.Helper()
	bands, err := profile.Partition(profile.AudiogramFrequencies)
	require.NoError(t, err)
	ms := make([]models.ThresholdMeasurement, len(bands))
	for i, b := range bands {
		ms[i] = models.ThresholdMeasurement{Band: b, ThresholdSPL: 45, Trials: 14}
	}
	p, err := profile.NewBuilder(profile.WithClock(func() time.Time { return createdAt })).Build(bands, ms)
	require.NoError(t, err)
	return p
}

func TestCalibrationRepository_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := setupDatabase(t)
	repo := NewPostgresCalibrationRepository(db)
	ctx := context.Background()

	id := uuid.New()
	now := time.Now().UTC()
	require.NoError(t, repo.CreateSession(ctx, &models.CalibrationSession{
		ID:        id.String(),
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}))

	require.NoError(t, repo.UpdateStatus(ctx, id, models.StatusCalibrating, 40))
	session, err := repo.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCalibrating, session.Status)
	assert.Equal(t, 40, session.Progress)
	assert.Nil(t, session.CompletedAt)

	older := builtProfile(t, now.Add(-time.Hour).Truncate(time.Microsecond))
	newer := builtProfile(t, now.Truncate(time.Microsecond))
	require.NoError(t, repo.StoreProfile(ctx, id, older))
	require.NoError(t, repo.StoreProfile(ctx, id, newer))
	require.NoError(t, repo.UpdateStatus(ctx, id, models.StatusCompleted, 100))

	session, err = repo.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, session.Status)
	assert.NotNil(t, session.CompletedAt)
	require.NotNil(t, session.ProfileID)
	assert.Equal(t, newer.ID, *session.ProfileID)

	got, err := repo.GetProfile(ctx, newer.ID)
	require.NoError(t, err)
	assert.Equal(t, newer.Bands, got.Bands)
	assert.True(t, newer.CreatedAt.Equal(got.CreatedAt))

	list, err := repo.ListProfiles(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, len(profile.AudiogramFrequencies), list[0].Bands)
	assert.InDelta(t, newer.MaxGainDB(), list[0].MaxGainDB, 1e-9)
}

func TestCalibrationRepositoryMissingRecords_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := setupDatabase(t)
	repo := NewPostgresCalibrationRepository(db)
	ctx := context.Background()

	_, err := repo.GetSession(ctx, uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, repo.UpdateStatus(ctx, uuid.New(), models.StatusFailed, 0), models.ErrNotFound)
	assert.ErrorIs(t, repo.UpdateError(ctx, uuid.New(), "boom"), models.ErrNotFound)
	_, err = repo.GetProfile(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	id := uuid.New()
	now := time.Now().UTC()
	require.NoError(t, repo.CreateSession(ctx, &models.CalibrationSession{ID: id.String(), Status: models.StatusPending, CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, repo.UpdateError(ctx, id, "device lost"))
	session, err := repo.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, session.Status)
	require.NotNil(t, session.ErrorMsg)
	assert.Equal(t, "device lost", *session.ErrorMsg)
}

func TestPromptRepository_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := setupDatabase(t)
	repo := NewPostgresPromptRepository(db)
	ctx := context.Background()

	_, err := repo.GetPromptInteraction(ctx, "abc")
	assert.ErrorIs(t, err, models.ErrNotFound)

	interaction := &models.PromptInteraction{
		ID:           uuid.New().String(),
		QuestionHash: "abc",
		Question:     "welcome",
		Answer:       "Hello.",
		ModelUsed:    "llama3",
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, repo.CreatePromptInteraction(ctx, interaction))

	interaction.ID = uuid.New().String()
	interaction.Answer = "Hello again."
	require.NoError(t, repo.CreatePromptInteraction(ctx, interaction))

	got, err := repo.GetPromptInteraction(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "Hello again.", got.Answer)
	assert.Equal(t, "llama3", got.ModelUsed)
}
