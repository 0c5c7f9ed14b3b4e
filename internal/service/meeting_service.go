package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/repository"

	"github.com/cenkalti/backoff/v5"
)

const joinedMessage = "joined meeting"

// errContention marks an attempt that lost a race and may be replayed.
var errContention = errors.New("store contention")

// EventSink receives meeting changes after they are stored. Publish must not
// block for long; it runs on the request path.
type EventSink interface {
	Publish(ctx context.Context, ev domain.MeetingEvent)
}

type RetryPolicy struct {
	// MaxAttempts bounds counter updates that keep losing races.
	MaxAttempts int
	// CodeAttempts bounds code regeneration on collisions.
	CodeAttempts   int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		CodeAttempts:   8,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     100 * time.Millisecond,
	}
}

type MeetingService struct {
	repo   repository.MeetingRepository
	events EventSink
	now    func() time.Time
	retry  RetryPolicy
}

func NewMeetingService(repo repository.MeetingRepository) *MeetingService {
	return &MeetingService{
		repo:  repo,
		now:   time.Now,
		retry: DefaultRetryPolicy(),
	}
}

func (s *MeetingService) SetEventSink(sink EventSink) {
	s.events = sink
}

func (s *MeetingService) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SetRetryPolicy overrides the non-zero fields of p.
func (s *MeetingService) SetRetryPolicy(p RetryPolicy) {
	if p.MaxAttempts > 0 {
		s.retry.MaxAttempts = p.MaxAttempts
	}
	if p.CodeAttempts > 0 {
		s.retry.CodeAttempts = p.CodeAttempts
	}
	if p.InitialBackoff > 0 {
		s.retry.InitialBackoff = p.InitialBackoff
	}
	if p.MaxBackoff > 0 {
		s.retry.MaxBackoff = p.MaxBackoff
	}
}

func (s *MeetingService) CreateMeeting(ctx context.Context, hostID string, maxParticipants int) (*domain.Meeting, error) {
	hostID = strings.TrimSpace(hostID)
	if hostID == "" {
		return nil, domain.NewValidationError("hostId", "is required")
	}
	limit, err := resolveMaxParticipants(maxParticipants)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= s.retry.CodeAttempts; attempt++ {
		code, err := domain.GenerateCode()
		if err != nil {
			return nil, fmt.Errorf("generate code: %w", err)
		}

		now := s.clock()
		m := &domain.Meeting{
			Code:            code,
			HostID:          hostID,
			CreatedAt:       now,
			UpdatedAt:       now,
			MaxParticipants: limit,
			IsActive:        true,
			Version:         1,
		}

		err = s.repo.Create(ctx, m)
		switch {
		case err == nil:
			meetingsCreated.Inc()
			slog.Info("meeting created",
				slog.String("code", m.Code),
				slog.String("host_id", hostID),
				slog.Int("max_participants", limit),
			)
			s.publish(ctx, domain.EventCreated, m)
			return m, nil
		case errors.Is(err, repository.ErrAlreadyExists), errors.Is(err, repository.ErrConflict):
			codeCollisions.Inc()
			slog.Debug("meeting code taken, regenerating", slog.String("code", code), slog.Int("attempt", attempt))
		default:
			return nil, upstream("create meeting", err)
		}
	}

	return nil, fmt.Errorf("%w: no free meeting code after %d attempts", domain.ErrConflict, s.retry.CodeAttempts)
}

// GetMeeting returns the active meeting with code. Inactive and unknown codes
// both report ErrNotFound.
func (s *MeetingService) GetMeeting(ctx context.Context, code string) (*domain.Meeting, error) {
	code, err := normalizeCode(code)
	if err != nil {
		return nil, err
	}
	if !domain.ValidCode(code) {
		return nil, domain.ErrNotFound
	}

	m, err := s.repo.FindByCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, upstream("get meeting", err)
	}
	return m, nil
}

func (s *MeetingService) ListMeetingsForHost(ctx context.Context, hostID string) ([]domain.Meeting, error) {
	hostID = strings.TrimSpace(hostID)
	if hostID == "" {
		return nil, domain.NewValidationError("hostId", "is required")
	}

	list, err := s.repo.FindByHost(ctx, hostID)
	if err != nil {
		return nil, upstream("list meetings", err)
	}
	if list == nil {
		list = []domain.Meeting{}
	}
	return list, nil
}

func (s *MeetingService) CanJoin(ctx context.Context, code string) (*domain.JoinCheck, error) {
	code, err := normalizeCode(code)
	if err != nil {
		return nil, err
	}
	return s.canJoin(ctx, code)
}

func (s *MeetingService) canJoin(ctx context.Context, code string) (*domain.JoinCheck, error) {
	if !domain.ValidCode(code) {
		return &domain.JoinCheck{Reason: domain.ReasonNotFound}, nil
	}

	m, err := s.repo.FindLatestByCode(ctx, code)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return &domain.JoinCheck{Reason: domain.ReasonNotFound}, nil
	case err != nil:
		return nil, upstream("check meeting", err)
	case !m.IsActive:
		return &domain.JoinCheck{Reason: domain.ReasonInactive}, nil
	case m.IsFull():
		return &domain.JoinCheck{Reason: domain.ReasonFull(m.MaxParticipants), Meeting: m}, nil
	}
	return &domain.JoinCheck{Allowed: true, Meeting: m}, nil
}

// JoinMeeting admits one participant if the meeting is active and below its
// cap. A refusal is a result with Success false, not an error.
func (s *MeetingService) JoinMeeting(ctx context.Context, code, userID string) (*domain.JoinResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.NewValidationError("userId", "is required")
	}
	code, err := normalizeCode(code)
	if err != nil {
		return nil, err
	}

	var check *domain.JoinCheck
	res, err := backoff.Retry(ctx, func() (*domain.JoinResult, error) {
		check, err = s.canJoin(ctx, code)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if !check.Allowed {
			return &domain.JoinResult{Message: check.Reason, Meeting: check.Meeting}, nil
		}

		m, err := s.repo.IncrementCount(ctx, code, s.clock())
		switch {
		case err == nil:
			return &domain.JoinResult{Success: true, Message: joinedMessage, Meeting: m}, nil
		case errors.Is(err, repository.ErrNoMatch), errors.Is(err, repository.ErrConflict):
			contentionRetries.WithLabelValues("join").Inc()
			return nil, errContention
		default:
			return nil, backoff.Permanent(upstream("join meeting", err))
		}
	}, s.retryOptions()...)
	if err != nil {
		return nil, s.contention("join", code, err)
	}

	joinOutcomes.WithLabelValues(joinOutcome(check)).Inc()
	if res.Success {
		slog.Info("participant joined",
			slog.String("code", code),
			slog.String("user_id", userID),
			slog.Int("participants", res.Meeting.ParticipantCount),
		)
		s.publish(ctx, domain.EventUpdated, res.Meeting)
	}
	return res, nil
}

// LeaveMeeting removes one participant; the counter never drops below zero.
// It reports false when no active meeting holds code.
func (s *MeetingService) LeaveMeeting(ctx context.Context, code string) (bool, error) {
	code, err := normalizeCode(code)
	if err != nil {
		return false, err
	}
	if !domain.ValidCode(code) {
		return false, nil
	}

	m, err := backoff.Retry(ctx, func() (*domain.Meeting, error) {
		m, err := s.repo.DecrementCount(ctx, code, s.clock())
		switch {
		case err == nil:
			return m, nil
		case errors.Is(err, repository.ErrNoMatch):
			return nil, nil
		case errors.Is(err, repository.ErrConflict):
			contentionRetries.WithLabelValues("leave").Inc()
			return nil, errContention
		default:
			return nil, backoff.Permanent(upstream("leave meeting", err))
		}
	}, s.retryOptions()...)
	if err != nil {
		return false, s.contention("leave", code, err)
	}
	if m == nil {
		return false, nil
	}

	s.publish(ctx, domain.EventUpdated, m)
	return true, nil
}

// ReportParticipantCount overwrites the counter with an authoritative value
// from the real-time layer.
func (s *MeetingService) ReportParticipantCount(ctx context.Context, code string, count int) (bool, error) {
	if count < 0 {
		return false, domain.NewValidationError("count", "must be >= 0")
	}
	code, err := normalizeCode(code)
	if err != nil {
		return false, err
	}
	if !domain.ValidCode(code) {
		return false, nil
	}

	m, err := backoff.Retry(ctx, func() (*domain.Meeting, error) {
		cur, err := s.repo.FindByCode(ctx, code)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, backoff.Permanent(upstream("report count", err))
		}
		if count > cur.MaxParticipants {
			return nil, backoff.Permanent(domain.NewValidationError("count", fmt.Sprintf("must be <= %d", cur.MaxParticipants)))
		}

		m, err := s.repo.SetCount(ctx, cur.ID, count, cur.Version, s.clock())
		switch {
		case err == nil:
			return m, nil
		case errors.Is(err, repository.ErrConflict):
			contentionRetries.WithLabelValues("report").Inc()
			return nil, errContention
		default:
			return nil, backoff.Permanent(upstream("report count", err))
		}
	}, s.retryOptions()...)
	if err != nil {
		return false, s.contention("report", code, err)
	}
	if m == nil {
		return false, nil
	}

	s.publish(ctx, domain.EventUpdated, m)
	return true, nil
}

// CloseMeeting deactivates the meeting with code. Closing an already closed
// meeting succeeds; only a code that was never issued reports false.
func (s *MeetingService) CloseMeeting(ctx context.Context, code string) (bool, error) {
	code, err := normalizeCode(code)
	if err != nil {
		return false, err
	}
	if !domain.ValidCode(code) {
		return false, nil
	}

	changed, err := s.repo.Deactivate(ctx, code, s.clock())
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, upstream("close meeting", err)
	}
	if !changed {
		return true, nil
	}

	meetingsClosed.Inc()
	slog.Info("meeting closed", slog.String("code", code))

	if s.events != nil {
		m, err := s.repo.FindLatestByCode(ctx, code)
		if err != nil {
			slog.Warn("load closed meeting for event", slog.String("code", code), slog.Any("err", err))
		} else {
			s.publish(ctx, domain.EventClosed, m)
		}
	}
	return true, nil
}

// clock returns UTC time at microsecond precision, the finest every store
// keeps.
func (s *MeetingService) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *MeetingService) publish(ctx context.Context, kind domain.EventKind, m *domain.Meeting) {
	if s.events == nil || m == nil {
		return
	}
	s.events.Publish(ctx, domain.MeetingEvent{Kind: kind, Meeting: *m})
}

func (s *MeetingService) retryOptions() []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retry.InitialBackoff
	b.MaxInterval = s.retry.MaxBackoff

	return []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.retry.MaxAttempts)),
	}
}

// contention turns an exhausted retry into ErrConflict and passes anything
// else through.
func (s *MeetingService) contention(op, code string, err error) error {
	if !errors.Is(err, errContention) {
		return err
	}
	slog.Warn("meeting update gave up under contention",
		slog.String("op", op),
		slog.String("code", code),
		slog.Int("attempts", s.retry.MaxAttempts),
	)
	return fmt.Errorf("%w: %s %s: too much contention", domain.ErrConflict, op, code)
}

func resolveMaxParticipants(n int) (int, error) {
	switch {
	case n == 0:
		return domain.DefaultMaxParticipants, nil
	case n < domain.MinParticipants:
		return 0, domain.NewValidationError("maxParticipants", fmt.Sprintf("must be >= %d", domain.MinParticipants))
	case n > domain.MaxParticipants:
		return 0, domain.NewValidationError("maxParticipants", fmt.Sprintf("must be <= %d", domain.MaxParticipants))
	}
	return n, nil
}

func normalizeCode(code string) (string, error) {
	code = domain.NormalizeCode(code)
	if code == "" {
		return "", domain.NewValidationError("code", "is required")
	}
	return code, nil
}

// upstream wraps a store failure. Cancellation and deadlines belong to the
// caller and pass through unwrapped.
func upstream(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrUpstream, op, err)
}
