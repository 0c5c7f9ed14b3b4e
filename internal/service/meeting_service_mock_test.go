package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/repository"
	"github.com/cwrk-planet/meeting-service/internal/repository/mocks"
	"github.com/cwrk-planet/meeting-service/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var errStoreDown = errors.New("dial tcp: connection refused")

func newMockedService(repo *mocks.MeetingRepository) *service.MeetingService {
	svc := service.NewMeetingService(repo)
	svc.SetRetryPolicy(service.RetryPolicy{
		MaxAttempts:    4,
		CodeAttempts:   3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})
	return svc
}

func activeMeeting() *domain.Meeting {
	return &domain.Meeting{
		ID:              "m-1",
		Code:            "ABC123",
		HostID:          "host",
		MaxParticipants: 5,
		IsActive:        true,
		Version:         3,
	}
}

func TestCreateMeeting_RetriesCodeCollision(t *testing.T) {
	repo := new(mocks.MeetingRepository)
	svc := newMockedService(repo)
	ctx := context.Background()

	repo.On("Create", ctx, mock.AnythingOfType("*domain.Meeting")).
		Return(repository.ErrAlreadyExists).Twice()
	repo.On("Create", ctx, mock.MatchedBy(func(m *domain.Meeting) bool {
		return domain.ValidCode(m.Code) && m.IsActive && m.ParticipantCount == 0 && m.Version == 1
	})).
		Run(func(args mock.Arguments) {
			args.Get(1).(*domain.Meeting).ID = "new-id"
		}).
		Return(nil).Once()

	m, err := svc.CreateMeeting(ctx, "host", 0)
	require.NoError(t, err)
	assert.Equal(t, "new-id", m.ID)

	repo.AssertNumberOfCalls(t, "Create", 3)
	repo.AssertExpectations(t)
}

func TestCreateMeeting_CollisionsExhausted(t *testing.T) {
	repo := new(mocks.MeetingRepository)
	svc := newMockedService(repo)
	ctx := context.Background()

	repo.On("Create", ctx, mock.Anything).Return(repository.ErrAlreadyExists)

	_, err := svc.CreateMeeting(ctx, "host", 0)
	assert.ErrorIs(t, err, domain.ErrConflict)
	repo.AssertNumberOfCalls(t, "Create", 3)
}

func TestCreateMeeting_StoreFailure(t *testing.T) {
	repo := new(mocks.MeetingRepository)
	svc := newMockedService(repo)
	ctx := context.Background()

	repo.On("Create", ctx, mock.Anything).Return(errStoreDown).Once()

	_, err := svc.CreateMeeting(ctx, "host", 0)
	assert.ErrorIs(t, err, domain.ErrUpstream)
	assert.ErrorIs(t, err, errStoreDown)
	repo.AssertExpectations(t)
}

func TestJoinMeeting_ContentionExhausted(t *testing.T) {
	repo := new(mocks.MeetingRepository)
	svc := newMockedService(repo)
	ctx := context.Background()

	repo.On("FindLatestByCode", ctx, "ABC123").Return(activeMeeting(), nil)
	repo.On("IncrementCount", ctx, "ABC123", mock.Anything).Return(nil, repository.ErrConflict)

	_, err := svc.JoinMeeting(ctx, "abc123", "user")
	assert.ErrorIs(t, err, domain.ErrConflict)
	repo.AssertNumberOfCalls(t, "IncrementCount", 4)
}

func TestJoinMeeting_LostRaceReevaluates(t *testing.T) {
	repo := new(mocks.MeetingRepository)
	svc := newMockedService(repo)
	ctx := context.Background()

	full := activeMeeting()
	full.ParticipantCount = full.MaxParticipants

	repo.On("FindLatestByCode", ctx, "ABC123").Return(activeMeeting(), nil).Once()
	repo.On("IncrementCount", ctx, "ABC123", mock.Anything).Return(nil, repository.ErrNoMatch).Once()
	repo.On("FindLatestByCode", ctx, "ABC123").Return(full, nil).Once()

	res, err := svc.JoinMeeting(ctx, "ABC123", "user")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "meeting is full (5/5)", res.Message)
	repo.AssertExpectations(t)
}

func TestJoinMeeting_StoreFailureIsNotRetried(t *testing.T) {
	repo := new(mocks.MeetingRepository)
	svc := newMockedService(repo)
	ctx := context.Background()

	repo.On("FindLatestByCode", ctx, "ABC123").Return(activeMeeting(), nil).Once()
	repo.On("IncrementCount", ctx, "ABC123", mock.Anything).Return(nil, errStoreDown).Once()

	_, err := svc.JoinMeeting(ctx, "ABC123", "user")
	assert.ErrorIs(t, err, domain.ErrUpstream)
	repo.AssertExpectations(t)
}

func TestGetMeeting_StoreFailure(t *testing.T) {
	repo := new(mocks.MeetingRepository)
	svc := newMockedService(repo)
	ctx := context.Background()

	repo.On("FindByCode", ctx, "ABC123").Return(nil, errStoreDown).Once()

	_, err := svc.GetMeeting(ctx, "ABC123")
	assert.ErrorIs(t, err, domain.ErrUpstream)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}

func TestReportParticipantCount_RetriesVersionConflict(t *testing.T) {
	repo := new(mocks.MeetingRepository)
	svc := newMockedService(repo)
	ctx := context.Background()

	stale := activeMeeting()
	fresh := activeMeeting()
	fresh.Version = 4
	written := activeMeeting()
	written.Version = 5
	written.ParticipantCount = 2

	repo.On("FindByCode", ctx, "ABC123").Return(stale, nil).Once()
	repo.On("SetCount", ctx, "m-1", 2, int64(3), mock.Anything).Return(nil, repository.ErrConflict).Once()
	repo.On("FindByCode", ctx, "ABC123").Return(fresh, nil).Once()
	repo.On("SetCount", ctx, "m-1", 2, int64(4), mock.Anything).Return(written, nil).Once()

	ok, err := svc.ReportParticipantCount(ctx, "ABC123", 2)
	require.NoError(t, err)
	assert.True(t, ok)
	repo.AssertExpectations(t)
}

func TestLeaveMeeting_ConflictExhausted(t *testing.T) {
	repo := new(mocks.MeetingRepository)
	svc := newMockedService(repo)
	ctx := context.Background()

	repo.On("DecrementCount", ctx, "ABC123", mock.Anything).Return(nil, repository.ErrConflict)

	_, err := svc.LeaveMeeting(ctx, "ABC123")
	assert.ErrorIs(t, err, domain.ErrConflict)
	repo.AssertNumberOfCalls(t, "DecrementCount", 4)
}

func TestCloseMeeting_StoreFailure(t *testing.T) {
	repo := new(mocks.MeetingRepository)
	svc := newMockedService(repo)
	ctx := context.Background()

	repo.On("Deactivate", ctx, "ABC123", mock.Anything).Return(false, errStoreDown).Once()

	_, err := svc.CloseMeeting(ctx, "ABC123")
	assert.ErrorIs(t, err, domain.ErrUpstream)
}

func TestListMeetingsForHost_NilBecomesEmpty(t *testing.T) {
	repo := new(mocks.MeetingRepository)
	svc := newMockedService(repo)
	ctx := context.Background()

	repo.On("FindByHost", ctx, "host").Return(nil, nil).Once()

	list, err := svc.ListMeetingsForHost(ctx, "host")
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}
