package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/badgerstore"
	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.MeetingEvent
}

func (r *recordingSink) Publish(_ context.Context, ev domain.MeetingEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) kinds() []domain.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func newService(t *testing.T) *service.MeetingService {
	t.Helper()

	db, err := badgerstore.Open(badgerstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	svc := service.NewMeetingService(badgerstore.NewMeetingRepository(db))
	clock := &stepClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc.SetClock(clock.Now)
	return svc
}

func TestCreateMeeting_Defaults(t *testing.T) {
	svc := newService(t)

	m, err := svc.CreateMeeting(context.Background(), "  host-1 ", 0)
	require.NoError(t, err)

	assert.NotEmpty(t, m.ID)
	assert.True(t, domain.ValidCode(m.Code))
	assert.Equal(t, "host-1", m.HostID)
	assert.Equal(t, 10, m.MaxParticipants)
	assert.Equal(t, 0, m.ParticipantCount)
	assert.True(t, m.IsActive)
	assert.Equal(t, m.CreatedAt, m.UpdatedAt)
}

func TestCreateMeeting_Validation(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		host   string
		max    int
		field  string
		reason string
	}{
		{"empty host", "   ", 5, "hostId", "is required"},
		{"below minimum", "h", 1, "maxParticipants", "must be >= 2"},
		{"negative", "h", -3, "maxParticipants", "must be >= 2"},
		{"above maximum", "h", 11, "maxParticipants", "must be <= 10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateMeeting(ctx, tt.host, tt.max)
			require.ErrorIs(t, err, domain.ErrValidation)

			var verr *domain.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, tt.reason, verr.Reason)
		})
	}

	for _, n := range []int{2, 10} {
		m, err := svc.CreateMeeting(ctx, "h", n)
		require.NoError(t, err)
		assert.Equal(t, n, m.MaxParticipants)
	}
}

func TestGetMeeting(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	m, err := svc.CreateMeeting(ctx, "host", 4)
	require.NoError(t, err)

	got, err := svc.GetMeeting(ctx, "  "+strings.ToLower(m.Code)+" ")
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)

	_, err = svc.GetMeeting(ctx, "ZZZZZZ")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.GetMeeting(ctx, "not-a-code")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.GetMeeting(ctx, " ")
	assert.ErrorIs(t, err, domain.ErrValidation)

	ok, err := svc.CloseMeeting(ctx, m.Code)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = svc.GetMeeting(ctx, m.Code)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListMeetingsForHost(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	first, err := svc.CreateMeeting(ctx, "host", 0)
	require.NoError(t, err)
	second, err := svc.CreateMeeting(ctx, "host", 0)
	require.NoError(t, err)
	closed, err := svc.CreateMeeting(ctx, "host", 0)
	require.NoError(t, err)
	_, err = svc.CreateMeeting(ctx, "someone-else", 0)
	require.NoError(t, err)

	_, err = svc.CloseMeeting(ctx, closed.Code)
	require.NoError(t, err)

	list, err := svc.ListMeetingsForHost(ctx, "host")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)

	empty, err := svc.ListMeetingsForHost(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	_, err = svc.ListMeetingsForHost(ctx, "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCanJoin(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	check, err := svc.CanJoin(ctx, "ABC123")
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Equal(t, "meeting not found or expired", check.Reason)

	m, err := svc.CreateMeeting(ctx, "host", 2)
	require.NoError(t, err)

	check, err = svc.CanJoin(ctx, m.Code)
	require.NoError(t, err)
	assert.True(t, check.Allowed)
	assert.Empty(t, check.Reason)
	require.NotNil(t, check.Meeting)
	assert.Equal(t, m.ID, check.Meeting.ID)

	for i := 0; i < 2; i++ {
		res, err := svc.JoinMeeting(ctx, m.Code, "u")
		require.NoError(t, err)
		require.True(t, res.Success)
	}
	check, err = svc.CanJoin(ctx, m.Code)
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Equal(t, "meeting is full (2/2)", check.Reason)

	_, err = svc.CloseMeeting(ctx, m.Code)
	require.NoError(t, err)
	check, err = svc.CanJoin(ctx, m.Code)
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Equal(t, "meeting is no longer active", check.Reason)
}

func TestJoinMeeting(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	m, err := svc.CreateMeeting(ctx, "host", 2)
	require.NoError(t, err)

	res, err := svc.JoinMeeting(ctx, strings.ToLower(m.Code), "user-1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "joined meeting", res.Message)
	assert.Equal(t, 1, res.Meeting.ParticipantCount)
	assert.True(t, res.Meeting.UpdatedAt.After(m.UpdatedAt))

	_, err = svc.JoinMeeting(ctx, m.Code, "user-2")
	require.NoError(t, err)

	res, err = svc.JoinMeeting(ctx, m.Code, "user-3")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "meeting is full (2/2)", res.Message)

	got, err := svc.GetMeeting(ctx, m.Code)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ParticipantCount)

	res, err = svc.JoinMeeting(ctx, "QQQQQQ", "user-1")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "meeting not found or expired", res.Message)

	_, err = svc.JoinMeeting(ctx, m.Code, " ")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestJoinMeeting_Closed(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	m, err := svc.CreateMeeting(ctx, "host", 0)
	require.NoError(t, err)
	_, err = svc.CloseMeeting(ctx, m.Code)
	require.NoError(t, err)

	res, err := svc.JoinMeeting(ctx, m.Code, "user")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "meeting is no longer active", res.Message)
}

func TestJoinMeeting_ConcurrentRespectsCap(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	m, err := svc.CreateMeeting(ctx, "host", 10)
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		joined   int
		refused  int
		failures []error
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.JoinMeeting(ctx, m.Code, "user")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				failures = append(failures, err)
			case res.Success:
				joined++
			case res.Message == "meeting is full (10/10)":
				refused++
			default:
				failures = append(failures, errors.New(res.Message))
			}
		}()
	}
	wg.Wait()

	require.Empty(t, failures)
	assert.Equal(t, 10, joined)
	assert.Equal(t, 10, refused)

	got, err := svc.GetMeeting(ctx, m.Code)
	require.NoError(t, err)
	assert.Equal(t, 10, got.ParticipantCount)
}

func TestLeaveMeeting(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	m, err := svc.CreateMeeting(ctx, "host", 0)
	require.NoError(t, err)
	_, err = svc.JoinMeeting(ctx, m.Code, "user")
	require.NoError(t, err)

	ok, err := svc.LeaveMeeting(ctx, m.Code)
	require.NoError(t, err)
	assert.True(t, ok)

	// already at zero: still a success, counter stays put
	ok, err = svc.LeaveMeeting(ctx, m.Code)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := svc.GetMeeting(ctx, m.Code)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ParticipantCount)

	ok, err = svc.LeaveMeeting(ctx, "QQQQQQ")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.CloseMeeting(ctx, m.Code)
	require.NoError(t, err)
	ok, err = svc.LeaveMeeting(ctx, m.Code)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReportParticipantCount(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	m, err := svc.CreateMeeting(ctx, "host", 6)
	require.NoError(t, err)

	ok, err := svc.ReportParticipantCount(ctx, m.Code, 4)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := svc.GetMeeting(ctx, m.Code)
	require.NoError(t, err)
	assert.Equal(t, 4, got.ParticipantCount)

	_, err = svc.ReportParticipantCount(ctx, m.Code, -1)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.ReportParticipantCount(ctx, m.Code, 7)
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "count", verr.Field)
	assert.Equal(t, "must be <= 6", verr.Reason)

	ok, err = svc.ReportParticipantCount(ctx, "QQQQQQ", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCloseMeeting(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	m, err := svc.CreateMeeting(ctx, "host", 0)
	require.NoError(t, err)

	ok, err := svc.CloseMeeting(ctx, m.Code)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.CloseMeeting(ctx, m.Code)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.CloseMeeting(ctx, "QQQQQQ")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEventsPublished(t *testing.T) {
	svc := newService(t)
	sink := &recordingSink{}
	svc.SetEventSink(sink)
	ctx := context.Background()

	m, err := svc.CreateMeeting(ctx, "host", 3)
	require.NoError(t, err)
	_, err = svc.JoinMeeting(ctx, m.Code, "u")
	require.NoError(t, err)
	_, err = svc.ReportParticipantCount(ctx, m.Code, 3)
	require.NoError(t, err)
	// full: refused, no event
	_, err = svc.JoinMeeting(ctx, m.Code, "u")
	require.NoError(t, err)
	_, err = svc.LeaveMeeting(ctx, m.Code)
	require.NoError(t, err)
	_, err = svc.CloseMeeting(ctx, m.Code)
	require.NoError(t, err)
	// no change: no event
	_, err = svc.CloseMeeting(ctx, m.Code)
	require.NoError(t, err)

	assert.Equal(t, []domain.EventKind{
		domain.EventCreated,
		domain.EventUpdated,
		domain.EventUpdated,
		domain.EventUpdated,
		domain.EventClosed,
	}, sink.kinds())

	last := sink.events[len(sink.events)-1]
	assert.False(t, last.Meeting.IsActive)
	assert.Equal(t, m.Code, last.Meeting.Code)
}

func TestCreateMeeting_RoundTripsAllFields(t *testing.T) {
	db, err := badgerstore.Open(badgerstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	svc := service.NewMeetingService(badgerstore.NewMeetingRepository(db))
	svc.SetClock(func() time.Time {
		return time.Date(2025, 1, 1, 0, 0, 0, 123456789, time.FixedZone("X", 3*3600))
	})
	ctx := context.Background()

	m, err := svc.CreateMeeting(ctx, "host", 5)
	require.NoError(t, err)

	// stores keep microseconds at best
	assert.Equal(t, 123456000, m.CreatedAt.Nanosecond())
	assert.Equal(t, time.UTC, m.CreatedAt.Location())

	got, err := svc.GetMeeting(ctx, m.Code)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, m.Code, got.Code)
	assert.Equal(t, m.HostID, got.HostID)
	assert.Equal(t, m.ParticipantCount, got.ParticipantCount)
	assert.Equal(t, m.MaxParticipants, got.MaxParticipants)
	assert.Equal(t, m.IsActive, got.IsActive)
	assert.Equal(t, m.Version, got.Version)
	assert.True(t, m.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, m.UpdatedAt.Equal(got.UpdatedAt))
	assert.True(t, got.CreatedAt.Equal(got.CreatedAt.Truncate(time.Microsecond)))
}

func TestCanceledContextPassesThrough(t *testing.T) {
	svc := newService(t)

	m, err := svc.CreateMeeting(context.Background(), "host", 5)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = svc.GetMeeting(ctx, m.Code)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrUpstream)

	_, err = svc.JoinMeeting(ctx, m.Code, "u1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrUpstream)

	_, err = svc.LeaveMeeting(ctx, m.Code)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrUpstream)
}
