// Package mocks holds testify mocks of the repository contracts.
package mocks

import (
	"context"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/repository"

	"github.com/stretchr/testify/mock"
)

type MeetingRepository struct {
	mock.Mock
}

var _ repository.MeetingRepository = (*MeetingRepository)(nil)

func (m *MeetingRepository) Create(ctx context.Context, meeting *domain.Meeting) error {
	args := m.Called(ctx, meeting)
	return args.Error(0)
}

func (m *MeetingRepository) FindByCode(ctx context.Context, code string) (*domain.Meeting, error) {
	args := m.Called(ctx, code)
	return meetingArg(args, 0), args.Error(1)
}

func (m *MeetingRepository) FindLatestByCode(ctx context.Context, code string) (*domain.Meeting, error) {
	args := m.Called(ctx, code)
	return meetingArg(args, 0), args.Error(1)
}

func (m *MeetingRepository) FindByHost(ctx context.Context, hostID string) ([]domain.Meeting, error) {
	args := m.Called(ctx, hostID)
	list, _ := args.Get(0).([]domain.Meeting)
	return list, args.Error(1)
}

func (m *MeetingRepository) Deactivate(ctx context.Context, code string, now time.Time) (bool, error) {
	args := m.Called(ctx, code, now)
	return args.Bool(0), args.Error(1)
}

func (m *MeetingRepository) IncrementCount(ctx context.Context, code string, now time.Time) (*domain.Meeting, error) {
	args := m.Called(ctx, code, now)
	return meetingArg(args, 0), args.Error(1)
}

func (m *MeetingRepository) DecrementCount(ctx context.Context, code string, now time.Time) (*domain.Meeting, error) {
	args := m.Called(ctx, code, now)
	return meetingArg(args, 0), args.Error(1)
}

func (m *MeetingRepository) SetCount(ctx context.Context, id string, count int, expectedVersion int64, now time.Time) (*domain.Meeting, error) {
	args := m.Called(ctx, id, count, expectedVersion, now)
	return meetingArg(args, 0), args.Error(1)
}

func meetingArg(args mock.Arguments, i int) *domain.Meeting {
	m, _ := args.Get(i).(*domain.Meeting)
	return m
}
