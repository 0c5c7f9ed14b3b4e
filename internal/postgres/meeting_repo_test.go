package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/postgres"
	"github.com/cwrk-planet/meeting-service/internal/repository"
	"github.com/cwrk-planet/meeting-service/internal/repository/repotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) *postgres.DB {
	t.Helper()

	dsn := os.Getenv("MEETING_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MEETING_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	db, err := postgres.New(ctx, postgres.Config{DSN: dsn, MaxConns: 25, ApplicationName: "meeting-service-test"})
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(ctx))
	return db
}

func TestMeetingRepository(t *testing.T) {
	db := openDB(t)

	repotest.Run(t, func(t *testing.T) repository.MeetingRepository {
		return postgres.NewMeetingRepository(db.Pool)
	})
}

func TestMeetingRepository_RolledBackTx(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	code, err := domain.GenerateCode()
	require.NoError(t, err)
	now := time.Now().UTC().Truncate(time.Microsecond)

	tx, err := db.Pool.Begin(ctx)
	require.NoError(t, err)

	repo := postgres.NewMeetingRepositoryFromTx(tx)
	require.NoError(t, repo.Create(ctx, &domain.Meeting{
		Code: code, HostID: "tx-host", MaxParticipants: 3, IsActive: true, CreatedAt: now, UpdatedAt: now,
	}))

	// savepoint inside the outer transaction
	changed, err := repo.Deactivate(ctx, code, now.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, changed)

	require.NoError(t, tx.Rollback(ctx))

	_, err = postgres.NewMeetingRepository(db.Pool).FindLatestByCode(ctx, code)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
