package repository

import (
	"context"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
)

// MeetingRepository maps meeting operations onto a record store. Codes passed
// in are already normalized. Every mutation stamps UpdatedAt and bumps Version.
type MeetingRepository interface {
	// Create inserts m and fills ID and Version. Returns ErrAlreadyExists if
	// an active meeting already holds m.Code.
	Create(ctx context.Context, m *domain.Meeting) error
	// FindByCode returns the active meeting with code.
	FindByCode(ctx context.Context, code string) (*domain.Meeting, error)
	// FindLatestByCode returns the most recent meeting with code in any state.
	FindLatestByCode(ctx context.Context, code string) (*domain.Meeting, error)
	// FindByHost returns active meetings of hostID, newest first.
	FindByHost(ctx context.Context, hostID string) ([]domain.Meeting, error)
	// Deactivate closes the active meeting with code. changed is false when
	// only inactive records hold the code; ErrNotFound when none does.
	Deactivate(ctx context.Context, code string, now time.Time) (changed bool, err error)
	// IncrementCount adds one participant iff the meeting is active and below
	// its cap, in one conditional write. ErrNoMatch otherwise.
	IncrementCount(ctx context.Context, code string, now time.Time) (*domain.Meeting, error)
	// DecrementCount removes one participant, floored at zero, iff the meeting
	// is active. ErrNoMatch otherwise.
	DecrementCount(ctx context.Context, code string, now time.Time) (*domain.Meeting, error)
	// SetCount overwrites the counter iff the record is active and still at
	// expectedVersion. ErrConflict otherwise.
	SetCount(ctx context.Context, id string, count int, expectedVersion int64, now time.Time) (*domain.Meeting, error)
}
