package ws

import "github.com/cwrk-planet/meeting-service/internal/domain"

// Message types on the meeting feed.
const (
	TypeState          = "state"           // snapshot sent on connect
	TypeMeetingUpdated = "meeting_updated" // counter changed
	TypeMeetingClosed  = "meeting_closed"
	TypeReportCount    = "report_count" // inbound, reporter connections only
	TypeReportAck      = "report_ack"
	TypeError          = "error"
)

type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type MeetingPayload struct {
	MeetingID        string `json:"meeting_id"`
	Code             string `json:"code"`
	HostID           string `json:"host_id"`
	ParticipantCount int    `json:"participant_count"`
	MaxParticipants  int    `json:"max_participants"`
	IsActive         bool   `json:"is_active"`
	UpdatedAtUnix    int64  `json:"updated_at_unix"`
}

type ReportCountPayload struct {
	Count int `json:"count"`
}

type ReportAckPayload struct {
	OK bool `json:"ok"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func meetingPayload(m *domain.Meeting) MeetingPayload {
	return MeetingPayload{
		MeetingID:        m.ID,
		Code:             m.Code,
		HostID:           m.HostID,
		ParticipantCount: m.ParticipantCount,
		MaxParticipants:  m.MaxParticipants,
		IsActive:         m.IsActive,
		UpdatedAtUnix:    m.UpdatedAt.Unix(),
	}
}
