// Package repotest holds the behaviour every MeetingRepository adapter must
// share. Adapter tests call Run with a factory for their store.
package repotest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Factory func(t *testing.T) repository.MeetingRepository

func Run(t *testing.T, newRepo Factory) {
	t.Run("CreateAndFind", func(t *testing.T) { testCreateAndFind(t, newRepo(t)) })
	t.Run("DuplicateActiveCode", func(t *testing.T) { testDuplicateActiveCode(t, newRepo(t)) })
	t.Run("FindByHostOrdering", func(t *testing.T) { testFindByHost(t, newRepo(t)) })
	t.Run("Deactivate", func(t *testing.T) { testDeactivate(t, newRepo(t)) })
	t.Run("IncrementUntilFull", func(t *testing.T) { testIncrement(t, newRepo(t)) })
	t.Run("DecrementFloor", func(t *testing.T) { testDecrement(t, newRepo(t)) })
	t.Run("SetCountVersioned", func(t *testing.T) { testSetCount(t, newRepo(t)) })
	t.Run("ConcurrentIncrements", func(t *testing.T) { testConcurrentIncrements(t, newRepo(t)) })
	t.Run("CreateReportsStoredRecord", func(t *testing.T) { testCreateReportsStoredRecord(t, newRepo(t)) })
}

func baseTime() time.Time {
	// microsecond precision survives every store round trip
	return time.Now().UTC().Truncate(time.Microsecond)
}

func newMeeting(t *testing.T, hostID string, limit int, at time.Time) *domain.Meeting {
	t.Helper()

	code, err := domain.GenerateCode()
	require.NoError(t, err)

	return &domain.Meeting{
		Code:            code,
		HostID:          hostID,
		CreatedAt:       at,
		UpdatedAt:       at,
		MaxParticipants: limit,
		IsActive:        true,
	}
}

func mustCreate(t *testing.T, repo repository.MeetingRepository, m *domain.Meeting) *domain.Meeting {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), m))
	return m
}

func testCreateAndFind(t *testing.T, repo repository.MeetingRepository) {
	ctx := context.Background()
	m := mustCreate(t, repo, newMeeting(t, uuid.NewString(), 4, baseTime()))

	assert.NotEmpty(t, m.ID)
	assert.Equal(t, int64(1), m.Version)

	got, err := repo.FindByCode(ctx, m.Code)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, m.HostID, got.HostID)
	assert.Equal(t, 4, got.MaxParticipants)
	assert.Equal(t, 0, got.ParticipantCount)
	assert.True(t, got.IsActive)
	assert.True(t, m.CreatedAt.Equal(got.CreatedAt))

	latest, err := repo.FindLatestByCode(ctx, m.Code)
	require.NoError(t, err)
	assert.Equal(t, m.ID, latest.ID)

	_, err = repo.FindByCode(ctx, "ZZZZZ0")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = repo.FindLatestByCode(ctx, "ZZZZZ0")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func testDuplicateActiveCode(t *testing.T, repo repository.MeetingRepository) {
	ctx := context.Background()
	now := baseTime()
	first := mustCreate(t, repo, newMeeting(t, uuid.NewString(), 10, now))

	dup := newMeeting(t, uuid.NewString(), 10, now)
	dup.Code = first.Code
	assert.ErrorIs(t, repo.Create(ctx, dup), repository.ErrAlreadyExists)

	changed, err := repo.Deactivate(ctx, first.Code, now.Add(time.Second))
	require.NoError(t, err)
	require.True(t, changed)

	// the code is free again once its holder is inactive
	reuse := newMeeting(t, uuid.NewString(), 10, now.Add(2*time.Second))
	reuse.Code = first.Code
	require.NoError(t, repo.Create(ctx, reuse))

	latest, err := repo.FindLatestByCode(ctx, first.Code)
	require.NoError(t, err)
	assert.Equal(t, reuse.ID, latest.ID)
	assert.True(t, latest.IsActive)
}

func testFindByHost(t *testing.T, repo repository.MeetingRepository) {
	ctx := context.Background()
	host := uuid.NewString()
	now := baseTime()

	var ids []string
	for i := 0; i < 3; i++ {
		m := mustCreate(t, repo, newMeeting(t, host, 10, now.Add(time.Duration(i)*time.Second)))
		ids = append(ids, m.ID)
	}
	closed := mustCreate(t, repo, newMeeting(t, host, 10, now.Add(10*time.Second)))
	_, err := repo.Deactivate(ctx, closed.Code, now.Add(11*time.Second))
	require.NoError(t, err)
	mustCreate(t, repo, newMeeting(t, uuid.NewString(), 10, now))

	got, err := repo.FindByHost(ctx, host)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, ids[2], got[0].ID)
	assert.Equal(t, ids[1], got[1].ID)
	assert.Equal(t, ids[0], got[2].ID)

	none, err := repo.FindByHost(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func testDeactivate(t *testing.T, repo repository.MeetingRepository) {
	ctx := context.Background()
	now := baseTime()
	m := mustCreate(t, repo, newMeeting(t, uuid.NewString(), 10, now))

	changed, err := repo.Deactivate(ctx, m.Code, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.Deactivate(ctx, m.Code, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = repo.FindByCode(ctx, m.Code)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	latest, err := repo.FindLatestByCode(ctx, m.Code)
	require.NoError(t, err)
	assert.False(t, latest.IsActive)
	assert.Greater(t, latest.Version, m.Version)
	assert.True(t, latest.UpdatedAt.Equal(now.Add(time.Minute)))

	_, err = repo.Deactivate(ctx, "ZZZZZ1", now)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func testIncrement(t *testing.T, repo repository.MeetingRepository) {
	ctx := context.Background()
	now := baseTime()
	m := mustCreate(t, repo, newMeeting(t, uuid.NewString(), 2, now))

	for i := 1; i <= 2; i++ {
		got, err := repo.IncrementCount(ctx, m.Code, now.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.Equal(t, i, got.ParticipantCount)
		assert.Equal(t, m.Version+int64(i), got.Version)
	}

	_, err := repo.IncrementCount(ctx, m.Code, now)
	assert.ErrorIs(t, err, repository.ErrNoMatch)

	_, err = repo.IncrementCount(ctx, "ZZZZZ2", now)
	assert.ErrorIs(t, err, repository.ErrNoMatch)

	other := mustCreate(t, repo, newMeeting(t, uuid.NewString(), 5, now))
	_, err = repo.Deactivate(ctx, other.Code, now)
	require.NoError(t, err)
	_, err = repo.IncrementCount(ctx, other.Code, now)
	assert.ErrorIs(t, err, repository.ErrNoMatch)
}

func testDecrement(t *testing.T, repo repository.MeetingRepository) {
	ctx := context.Background()
	now := baseTime()
	m := mustCreate(t, repo, newMeeting(t, uuid.NewString(), 5, now))

	got, err := repo.DecrementCount(ctx, m.Code, now)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ParticipantCount)

	_, err = repo.IncrementCount(ctx, m.Code, now)
	require.NoError(t, err)
	got, err = repo.DecrementCount(ctx, m.Code, now)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ParticipantCount)

	_, err = repo.Deactivate(ctx, m.Code, now)
	require.NoError(t, err)
	_, err = repo.DecrementCount(ctx, m.Code, now)
	assert.ErrorIs(t, err, repository.ErrNoMatch)
}

func testSetCount(t *testing.T, repo repository.MeetingRepository) {
	ctx := context.Background()
	now := baseTime()
	m := mustCreate(t, repo, newMeeting(t, uuid.NewString(), 8, now))

	got, err := repo.SetCount(ctx, m.ID, 6, m.Version, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 6, got.ParticipantCount)
	assert.Equal(t, m.Version+1, got.Version)

	_, err = repo.SetCount(ctx, m.ID, 3, m.Version, now)
	assert.ErrorIs(t, err, repository.ErrConflict)

	cur, err := repo.FindByCode(ctx, m.Code)
	require.NoError(t, err)
	assert.Equal(t, 6, cur.ParticipantCount)
}

func testConcurrentIncrements(t *testing.T, repo repository.MeetingRepository) {
	ctx := context.Background()
	m := mustCreate(t, repo, newMeeting(t, uuid.NewString(), 10, baseTime()))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		refused int
		other   []error
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.IncrementCount(ctx, m.Code, time.Now().UTC())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case err == repository.ErrNoMatch:
				refused++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, other)
	assert.Equal(t, 10, ok)
	assert.Equal(t, 10, refused)

	cur, err := repo.FindByCode(ctx, m.Code)
	require.NoError(t, err)
	assert.Equal(t, 10, cur.ParticipantCount)
}

// Create hands back what a later read returns, down to the timestamps.
func testCreateReportsStoredRecord(t *testing.T, repo repository.MeetingRepository) {
	at := baseTime()
	m := mustCreate(t, repo, newMeeting(t, uuid.NewString(), 6, at))

	got, err := repo.FindByCode(context.Background(), m.Code)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, m.Code, got.Code)
	assert.Equal(t, m.HostID, got.HostID)
	assert.Equal(t, m.ParticipantCount, got.ParticipantCount)
	assert.Equal(t, m.MaxParticipants, got.MaxParticipants)
	assert.Equal(t, m.IsActive, got.IsActive)
	assert.Equal(t, m.Version, got.Version)
	assert.True(t, m.CreatedAt.Equal(got.CreatedAt), "created %s, stored %s", m.CreatedAt, got.CreatedAt)
	assert.True(t, m.UpdatedAt.Equal(got.UpdatedAt), "updated %s, stored %s", m.UpdatedAt, got.UpdatedAt)
}
