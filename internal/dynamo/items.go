package dynamo

import (
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
)

const codeLockPrefix = "CODE#"

type meetingItem struct {
	PK               string `dynamodbav:"pk"`
	Code             string `dynamodbav:"code"`
	HostID           string `dynamodbav:"hostId"`
	CreatedAt        int64  `dynamodbav:"createdAt"` // unix nanos
	UpdatedAt        int64  `dynamodbav:"updatedAt"`
	ParticipantCount int    `dynamodbav:"participantCount"`
	MaxParticipants  int    `dynamodbav:"maxParticipants"`
	IsActive         bool   `dynamodbav:"isActive"`
	Version          int64  `dynamodbav:"version"`
}

type codeLockItem struct {
	PK        string `dynamodbav:"pk"`
	MeetingID string `dynamodbav:"meetingId"`
	Active    bool   `dynamodbav:"active"`
}

func codeLockKey(code string) string {
	return codeLockPrefix + code
}

func toItem(m *domain.Meeting) meetingItem {
	return meetingItem{
		PK:               m.ID,
		Code:             m.Code,
		HostID:           m.HostID,
		CreatedAt:        m.CreatedAt.UnixNano(),
		UpdatedAt:        m.UpdatedAt.UnixNano(),
		ParticipantCount: m.ParticipantCount,
		MaxParticipants:  m.MaxParticipants,
		IsActive:         m.IsActive,
		Version:          m.Version,
	}
}

func (it meetingItem) toDomain() *domain.Meeting {
	return &domain.Meeting{
		ID:               it.PK,
		Code:             it.Code,
		HostID:           it.HostID,
		CreatedAt:        time.Unix(0, it.CreatedAt).UTC(),
		UpdatedAt:        time.Unix(0, it.UpdatedAt).UTC(),
		ParticipantCount: it.ParticipantCount,
		MaxParticipants:  it.MaxParticipants,
		IsActive:         it.IsActive,
		Version:          it.Version,
	}
}
