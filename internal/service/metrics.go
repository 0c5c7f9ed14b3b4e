package service

import (
	"github.com/cwrk-planet/meeting-service/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	meetingsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "meeting",
		Name:      "created_total",
		Help:      "Meetings created.",
	})
	meetingsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "meeting",
		Name:      "closed_total",
		Help:      "Meetings deactivated by a close call.",
	})
	joinOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meeting",
		Name:      "join_outcomes_total",
		Help:      "Join attempts by outcome.",
	}, []string{"outcome"})
	contentionRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meeting",
		Name:      "contention_retries_total",
		Help:      "Store writes retried after losing a race, by operation.",
	}, []string{"op"})
	codeCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "meeting",
		Name:      "code_collisions_total",
		Help:      "Generated codes already held by an active meeting.",
	})
)

func joinOutcome(check *domain.JoinCheck) string {
	switch {
	case check.Allowed:
		return "joined"
	case check.Meeting == nil && check.Reason == domain.ReasonNotFound:
		return "not_found"
	case check.Reason == domain.ReasonInactive:
		return "inactive"
	default:
		return "full"
	}
}
