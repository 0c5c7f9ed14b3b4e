package domain

import (
	"fmt"
	"time"
)

const (
	DefaultMaxParticipants = 10
	MinParticipants        = 2
	MaxParticipants        = 10
)

type Meeting struct {
	ID               string    `json:"id"`
	Code             string    `json:"code"`
	HostID           string    `json:"hostId"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
	ParticipantCount int       `json:"participantCount"`
	MaxParticipants  int       `json:"maxParticipants"`
	IsActive         bool      `json:"isActive"`
	// Version changes on every write; used for conditional updates.
	Version int64 `json:"version"`
}

func (m *Meeting) IsFull() bool {
	return m.ParticipantCount >= m.MaxParticipants
}

// Join refusal reasons, in the order CanJoin evaluates them.
const (
	ReasonNotFound = "meeting not found or expired"
	ReasonInactive = "meeting is no longer active"
)

func ReasonFull(limit int) string {
	return fmt.Sprintf("meeting is full (%d/%d)", limit, limit)
}

// JoinCheck is the outcome of a CanJoin evaluation.
type JoinCheck struct {
	Allowed bool
	Reason  string
	Meeting *Meeting
}

type JoinResult struct {
	Success bool
	Message string
	Meeting *Meeting
}

type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventClosed  EventKind = "closed"
)

type MeetingEvent struct {
	Kind    EventKind
	Meeting Meeting
}
