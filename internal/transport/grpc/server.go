package grpcx

import (
	"context"
	"crypto/subtle"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/identity"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	mdAuthorization = "authorization"
	mdReporterKey   = "x-reporter-key"
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

type Server struct {
	svc         MeetingSvc
	verifier    identity.Verifier
	reporterKey string
}

var _ MeetingServiceServer = (*Server)(nil)

func NewServer(svc MeetingSvc, verifier identity.Verifier, reporterKey string) *Server {
	return &Server{
		svc:         svc,
		verifier:    verifier,
		reporterKey: reporterKey,
	}
}

// -------- helpers --------

func (s *Server) identityFromMD(ctx context.Context) (*domain.Identity, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing metadata")
	}
	// authorization: Bearer <token>
	auth := first(md.Get(mdAuthorization))
	if len(auth) <= 7 || !strings.EqualFold(auth[:7], "bearer ") {
		return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
	}

	id, err := s.verifier.Verify(ctx, strings.TrimSpace(auth[7:]))
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid credential")
	}
	return id, nil
}

func (s *Server) checkReporter(ctx context.Context) error {
	md, _ := metadata.FromIncomingContext(ctx)
	key := first(md.Get(mdReporterKey))
	if s.reporterKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.reporterKey)) != 1 {
		return status.Error(codes.Unauthenticated, "invalid reporter key")
	}
	return nil
}

func first(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}

func stringField(in *structpb.Struct, key string) string {
	return strings.TrimSpace(in.GetFields()[key].GetStringValue())
}

// intField reads an integral number. ok is false when the field is absent.
func intField(in *structpb.Struct, key string) (n int, ok bool, err error) {
	v, present := in.GetFields()[key]
	if !present {
		return 0, false, nil
	}
	nv, isNum := v.GetKind().(*structpb.Value_NumberValue)
	if !isNum || nv.NumberValue != math.Trunc(nv.NumberValue) || math.Abs(nv.NumberValue) > math.MaxInt32 {
		return 0, true, status.Errorf(codes.InvalidArgument, "%s: must be an integer", key)
	}
	return int(nv.NumberValue), true, nil
}

func meetingMap(m *domain.Meeting) map[string]any {
	return map[string]any{
		"id":               m.ID,
		"code":             m.Code,
		"hostId":           m.HostID,
		"participantCount": m.ParticipantCount,
		"maxParticipants":  m.MaxParticipants,
		"isActive":         m.IsActive,
		"createdAt":        m.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt":        m.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func reply(fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func success() (*structpb.Struct, error) {
	return reply(map[string]any{"success": true})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return status.Error(codes.InvalidArgument, verr.Error())
	case errors.Is(err, domain.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, domain.ReasonNotFound)
	case errors.Is(err, domain.ErrConflict):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, domain.ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, domain.ErrUpstream):
		return status.Error(codes.Unavailable, "meeting store unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func boolResult(ok bool, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, mapErr(err)
	}
	if !ok {
		return nil, mapErr(domain.ErrNotFound)
	}
	return success()
}

// -------- methods --------

func (s *Server) CreateMeeting(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := s.identityFromMD(ctx)
	if err != nil {
		return nil, err
	}
	limit, _, err := intField(in, "maxParticipants")
	if err != nil {
		return nil, err
	}

	m, err := s.svc.CreateMeeting(ctx, id.SubjectID, limit)
	if err != nil {
		return nil, mapErr(err)
	}

	return reply(map[string]any{
		"meetingId":       m.Code,
		"maxParticipants": m.MaxParticipants,
		"meeting":         meetingMap(m),
	})
}

func (s *Server) GetMeeting(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	m, err := s.svc.GetMeeting(ctx, stringField(in, "code"))
	if err != nil {
		return nil, mapErr(err)
	}
	return reply(map[string]any{"meeting": meetingMap(m)})
}

// ListMeetingsForHost lists the meetings of hostId, or of the caller when
// hostId is empty.
func (s *Server) ListMeetingsForHost(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	hostID := stringField(in, "hostId")
	if hostID == "" {
		id, err := s.identityFromMD(ctx)
		if err != nil {
			return nil, err
		}
		hostID = id.SubjectID
	}

	list, err := s.svc.ListMeetingsForHost(ctx, hostID)
	if err != nil {
		return nil, mapErr(err)
	}

	items := make([]any, 0, len(list))
	for i := range list {
		items = append(items, meetingMap(&list[i]))
	}
	return reply(map[string]any{"items": items})
}

func (s *Server) CanJoin(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	check, err := s.svc.CanJoin(ctx, stringField(in, "code"))
	if err != nil {
		return nil, mapErr(err)
	}

	out := map[string]any{"canJoin": check.Allowed}
	if check.Reason != "" {
		out["reason"] = check.Reason
	}
	if check.Meeting != nil {
		out["meeting"] = meetingMap(check.Meeting)
	}
	return reply(out)
}

func (s *Server) JoinMeeting(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := s.identityFromMD(ctx)
	if err != nil {
		return nil, err
	}

	res, err := s.svc.JoinMeeting(ctx, stringField(in, "code"), id.SubjectID)
	if err != nil {
		return nil, mapErr(err)
	}
	if !res.Success && res.Message == domain.ReasonNotFound {
		return nil, mapErr(domain.ErrNotFound)
	}

	out := map[string]any{"success": res.Success, "message": res.Message}
	if res.Meeting != nil {
		out["meeting"] = meetingMap(res.Meeting)
	}
	return reply(out)
}

func (s *Server) LeaveMeeting(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if _, err := s.identityFromMD(ctx); err != nil {
		return nil, err
	}
	return boolResult(s.svc.LeaveMeeting(ctx, stringField(in, "code")))
}

func (s *Server) ReportParticipantCount(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.checkReporter(ctx); err != nil {
		return nil, err
	}
	count, ok, err := intField(in, "count")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, mapErr(domain.NewValidationError("count", "is required"))
	}

	return boolResult(s.svc.ReportParticipantCount(ctx, stringField(in, "code"), count))
}

func (s *Server) CloseMeeting(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if _, err := s.identityFromMD(ctx); err != nil {
		return nil, err
	}
	return boolResult(s.svc.CloseMeeting(ctx, stringField(in, "code")))
}
