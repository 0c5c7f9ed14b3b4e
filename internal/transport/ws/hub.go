package ws

import (
	"context"
	"sync"

	"github.com/cwrk-planet/meeting-service/internal/domain"
)

type Conn interface {
	Send(msg Message) error
	Close() error
	SubjectID() string
	Code() string
}

// Hub fans meeting events out to the connections watching each code.
type Hub struct {
	mu       sync.RWMutex
	meetings map[string]map[Conn]struct{} // code -> set of connections
}

func NewHub() *Hub {
	return &Hub{meetings: make(map[string]map[Conn]struct{})}
}

func (h *Hub) Add(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cs, ok := h.meetings[c.Code()]
	if !ok {
		cs = make(map[Conn]struct{})
		h.meetings[c.Code()] = cs
	}
	cs[c] = struct{}{}
}

func (h *Hub) Remove(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cs, ok := h.meetings[c.Code()]; ok {
		delete(cs, c)
		if len(cs) == 0 {
			delete(h.meetings, c.Code())
		}
	}
}

func (h *Hub) Count(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.meetings[code])
}

func (h *Hub) Broadcast(code string, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.meetings[code] {
		_ = c.Send(msg) // best-effort
	}
}

// Publish turns a stored meeting change into a feed message.
func (h *Hub) Publish(_ context.Context, ev domain.MeetingEvent) {
	switch ev.Kind {
	case domain.EventUpdated:
		h.Broadcast(ev.Meeting.Code, Message{Type: TypeMeetingUpdated, Payload: meetingPayload(&ev.Meeting)})
	case domain.EventClosed:
		h.Broadcast(ev.Meeting.Code, Message{Type: TypeMeetingClosed, Payload: meetingPayload(&ev.Meeting)})
	}
}
