package http

import (
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
)

type CreateMeetingRequest struct {
	MaxParticipants int `json:"maxParticipants,omitempty" validate:"omitempty,min=2,max=10"`
}

type ReportCountRequest struct {
	Count *int `json:"count" validate:"required,min=0"`
}

type MeetingItem struct {
	ID               string    `json:"id"`
	Code             string    `json:"code"`
	HostID           string    `json:"hostId"`
	ParticipantCount int       `json:"participantCount"`
	MaxParticipants  int       `json:"maxParticipants"`
	IsActive         bool      `json:"isActive"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// CreateMeetingResponse names the code meetingId; clients share it as the
// meeting link.
type CreateMeetingResponse struct {
	MeetingID       string      `json:"meetingId"`
	MaxParticipants int         `json:"maxParticipants"`
	Meeting         MeetingItem `json:"meeting"`
}

type MeetingsListResponse struct {
	Items []MeetingItem `json:"items"`
}

type CanJoinResponse struct {
	CanJoin bool         `json:"canJoin"`
	Reason  string       `json:"reason,omitempty"`
	Meeting *MeetingItem `json:"meeting,omitempty"`
}

type JoinResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Meeting *MeetingItem `json:"meeting,omitempty"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

func toItem(m *domain.Meeting) MeetingItem {
	return MeetingItem{
		ID:               m.ID,
		Code:             m.Code,
		HostID:           m.HostID,
		ParticipantCount: m.ParticipantCount,
		MaxParticipants:  m.MaxParticipants,
		IsActive:         m.IsActive,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func toItemPtr(m *domain.Meeting) *MeetingItem {
	if m == nil {
		return nil
	}
	it := toItem(m)
	return &it
}
