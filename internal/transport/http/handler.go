package http

import (
	"context"
	"net/http"

	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/identity"
	"github.com/cwrk-planet/meeting-service/pkg/httputil"

	"github.com/go-chi/chi/v5"
)

type MeetingSvc interface {
	CreateMeeting(ctx context.Context, hostID string, maxParticipants int) (*domain.Meeting, error)
	GetMeeting(ctx context.Context, code string) (*domain.Meeting, error)
	ListMeetingsForHost(ctx context.Context, hostID string) ([]domain.Meeting, error)
	CanJoin(ctx context.Context, code string) (*domain.JoinCheck, error)
	JoinMeeting(ctx context.Context, code, userID string) (*domain.JoinResult, error)
	LeaveMeeting(ctx context.Context, code string) (bool, error)
	ReportParticipantCount(ctx context.Context, code string, count int) (bool, error)
	CloseMeeting(ctx context.Context, code string) (bool, error)
}

type Handler struct {
	svc MeetingSvc
}

func NewHandler(svc MeetingSvc) *Handler {
	return &Handler{svc: svc}
}

// POST /meetings
func (h *Handler) CreateMeeting(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		httputil.Error(r.Context(), w, http.StatusUnauthorized, "unauthenticated", nil)
		return
	}

	var req CreateMeetingRequest
	if err := httputil.Decode(r, &req); err != nil {
		writeInvalid(r.Context(), w, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeInvalid(r.Context(), w, err)
		return
	}

	m, err := h.svc.CreateMeeting(r.Context(), id.SubjectID, req.MaxParticipants)
	if err != nil {
		writeError(r.Context(), w, err, "create meeting failed")
		return
	}

	httputil.Created(w, CreateMeetingResponse{
		MeetingID:       m.Code,
		MaxParticipants: m.MaxParticipants,
		Meeting:         toItem(m),
	})
}

// GET /meetings/{code}
func (h *Handler) GetMeeting(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.GetMeeting(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(r.Context(), w, err, "get meeting failed")
		return
	}

	httputil.OK(w, toItem(m))
}

// GET /meetings/{code}/can-join
func (h *Handler) CanJoin(w http.ResponseWriter, r *http.Request) {
	check, err := h.svc.CanJoin(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(r.Context(), w, err, "can-join check failed")
		return
	}

	httputil.OK(w, CanJoinResponse{
		CanJoin: check.Allowed,
		Reason:  check.Reason,
		Meeting: toItemPtr(check.Meeting),
	})
}

// POST /meetings/{code}/join
func (h *Handler) JoinMeeting(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		httputil.Error(r.Context(), w, http.StatusUnauthorized, "unauthenticated", nil)
		return
	}

	res, err := h.svc.JoinMeeting(r.Context(), chi.URLParam(r, "code"), id.SubjectID)
	if err != nil {
		writeError(r.Context(), w, err, "join meeting failed")
		return
	}

	if !res.Success && res.Message == domain.ReasonNotFound {
		// callers branch on 404 to tell a bad code from a full room
		httputil.Error(r.Context(), w, http.StatusNotFound, res.Message, nil)
		return
	}
	httputil.OK(w, JoinResponse{Success: res.Success, Message: res.Message, Meeting: toItemPtr(res.Meeting)})
}

// POST /meetings/{code}/leave
func (h *Handler) LeaveMeeting(w http.ResponseWriter, r *http.Request) {
	h.respondBool(w, r, "leave meeting failed", func(ctx context.Context, code string) (bool, error) {
		return h.svc.LeaveMeeting(ctx, code)
	})
}

// PATCH /meetings/{code}/participants
func (h *Handler) ReportParticipants(w http.ResponseWriter, r *http.Request) {
	var req ReportCountRequest
	if err := httputil.Decode(r, &req); err != nil {
		writeInvalid(r.Context(), w, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeInvalid(r.Context(), w, err)
		return
	}

	h.respondBool(w, r, "report participants failed", func(ctx context.Context, code string) (bool, error) {
		return h.svc.ReportParticipantCount(ctx, code, *req.Count)
	})
}

// DELETE /meetings/{code}
func (h *Handler) CloseMeeting(w http.ResponseWriter, r *http.Request) {
	h.respondBool(w, r, "close meeting failed", func(ctx context.Context, code string) (bool, error) {
		return h.svc.CloseMeeting(ctx, code)
	})
}

// GET /hosts/{hostId}/meetings
func (h *Handler) ListHostMeetings(w http.ResponseWriter, r *http.Request) {
	h.listFor(w, r, chi.URLParam(r, "hostId"))
}

// GET /me/meetings
func (h *Handler) ListMyMeetings(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		httputil.Error(r.Context(), w, http.StatusUnauthorized, "unauthenticated", nil)
		return
	}
	h.listFor(w, r, id.SubjectID)
}

func (h *Handler) listFor(w http.ResponseWriter, r *http.Request, hostID string) {
	list, err := h.svc.ListMeetingsForHost(r.Context(), hostID)
	if err != nil {
		writeError(r.Context(), w, err, "list meetings failed")
		return
	}

	items := make([]MeetingItem, 0, len(list))
	for i := range list {
		items = append(items, toItem(&list[i]))
	}
	httputil.OK(w, MeetingsListResponse{Items: items})
}

// respondBool answers true with {"success": true} and false with 404: the
// operations that return a bool only fail on an unknown meeting.
func (h *Handler) respondBool(w http.ResponseWriter, r *http.Request, msg string, op func(ctx context.Context, code string) (bool, error)) {
	ok, err := op(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(r.Context(), w, err, msg)
		return
	}
	if !ok {
		writeError(r.Context(), w, domain.ErrNotFound, msg)
		return
	}
	httputil.OK(w, SuccessResponse{Success: true})
}
