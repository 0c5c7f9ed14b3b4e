package ws_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/badgerstore"
	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/identity"
	"github.com/cwrk-planet/meeting-service/internal/service"
	"github.com/cwrk-planet/meeting-service/internal/transport/ws"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testReporterKey = "reporter-secret"

type env struct {
	svc *service.MeetingService
	hub *ws.Hub
	url string
}

func newEnv(t *testing.T) *env {
	t.Helper()

	db, err := badgerstore.Open(badgerstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	hub := ws.NewHub()
	svc := service.NewMeetingService(badgerstore.NewMeetingRepository(db))
	svc.SetEventSink(hub)

	r := chi.NewRouter()
	r.Get("/ws/meetings/{code}", ws.NewServer(hub, svc, identity.InsecureVerifier{}, testReporterKey).HandleWS)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &env{svc: svc, hub: hub, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func (e *env) dial(t *testing.T, code, query string) *websocket.Conn {
	t.Helper()

	conn, resp, err := websocket.DefaultDialer.Dial(e.url+"/ws/meetings/"+code+"?"+query, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type inbound struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

func readUntil(t *testing.T, conn *websocket.Conn, typ string) inbound {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg inbound
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == typ {
			return msg
		}
	}
}

func TestHandleWS_WatcherFeed(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	m, err := e.svc.CreateMeeting(ctx, "host", 3)
	require.NoError(t, err)

	conn := e.dial(t, strings.ToLower(m.Code), "access_token=viewer-1")

	state := readUntil(t, conn, ws.TypeState)
	assert.Equal(t, m.Code, state.Payload["code"])
	assert.EqualValues(t, 0, state.Payload["participant_count"])
	assert.EqualValues(t, 3, state.Payload["max_participants"])

	_, err = e.svc.JoinMeeting(ctx, m.Code, "user-1")
	require.NoError(t, err)
	upd := readUntil(t, conn, ws.TypeMeetingUpdated)
	assert.EqualValues(t, 1, upd.Payload["participant_count"])

	_, err = e.svc.CloseMeeting(ctx, m.Code)
	require.NoError(t, err)
	closed := readUntil(t, conn, ws.TypeMeetingClosed)
	assert.Equal(t, false, closed.Payload["is_active"])
}

func TestHandleWS_ReporterSetsCount(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	m, err := e.svc.CreateMeeting(ctx, "host", 5)
	require.NoError(t, err)

	conn := e.dial(t, m.Code, "reporter_key="+testReporterKey)
	readUntil(t, conn, ws.TypeState)

	require.NoError(t, conn.WriteJSON(ws.Message{Type: ws.TypeReportCount, Payload: ws.ReportCountPayload{Count: 4}}))
	ack := readUntil(t, conn, ws.TypeReportAck)
	assert.Equal(t, true, ack.Payload["ok"])

	got, err := e.svc.GetMeeting(ctx, m.Code)
	require.NoError(t, err)
	assert.Equal(t, 4, got.ParticipantCount)

	require.NoError(t, conn.WriteJSON(ws.Message{Type: ws.TypeReportCount, Payload: ws.ReportCountPayload{Count: 9}}))
	msg := readUntil(t, conn, ws.TypeError)
	assert.Contains(t, msg.Payload["message"], "must be <= 5")
}

func TestHandleWS_WatcherCannotReport(t *testing.T) {
	e := newEnv(t)

	m, err := e.svc.CreateMeeting(context.Background(), "host", 0)
	require.NoError(t, err)

	conn := e.dial(t, m.Code, "access_token=viewer")
	readUntil(t, conn, ws.TypeState)

	require.NoError(t, conn.WriteJSON(ws.Message{Type: ws.TypeReportCount, Payload: ws.ReportCountPayload{Count: 1}}))
	readUntil(t, conn, ws.TypeError)
}

func TestHandleWS_Rejects(t *testing.T) {
	e := newEnv(t)

	m, err := e.svc.CreateMeeting(context.Background(), "host", 0)
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"no credentials", "/ws/meetings/" + m.Code, http.StatusUnauthorized},
		{"bad reporter key", "/ws/meetings/" + m.Code + "?reporter_key=nope", http.StatusUnauthorized},
		{"unknown meeting", "/ws/meetings/QQQQQQ?access_token=viewer", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(e.url+tt.path, nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

type fakeConn struct {
	code string
	got  []ws.Message
}

func (f *fakeConn) Send(msg ws.Message) error { f.got = append(f.got, msg); return nil }
func (f *fakeConn) Close() error              { return nil }
func (f *fakeConn) SubjectID() string         { return "s" }
func (f *fakeConn) Code() string              { return f.code }

func TestHub_PublishRoutesByCode(t *testing.T) {
	hub := ws.NewHub()
	a := &fakeConn{code: "AAAAAA"}
	b := &fakeConn{code: "BBBBBB"}
	hub.Add(a)
	hub.Add(b)
	assert.Equal(t, 1, hub.Count("AAAAAA"))

	hub.Publish(context.Background(), domain.MeetingEvent{Kind: domain.EventUpdated, Meeting: domain.Meeting{Code: "AAAAAA"}})
	hub.Publish(context.Background(), domain.MeetingEvent{Kind: domain.EventCreated, Meeting: domain.Meeting{Code: "BBBBBB"}})

	require.Len(t, a.got, 1)
	assert.Equal(t, ws.TypeMeetingUpdated, a.got[0].Type)
	assert.Empty(t, b.got)

	hub.Remove(a)
	assert.Equal(t, 0, hub.Count("AAAAAA"))
}
