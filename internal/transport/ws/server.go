package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/identity"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const reporterSubject = "reporter"

type MeetingSvc interface {
	GetMeeting(ctx context.Context, code string) (*domain.Meeting, error)
	ReportParticipantCount(ctx context.Context, code string, count int) (bool, error)
}

type Server struct {
	upgrader    websocket.Upgrader
	hub         *Hub
	svc         MeetingSvc
	verifier    identity.Verifier
	reporterKey string

	pingEvery time.Duration
}

func NewServer(hub *Hub, svc MeetingSvc, verifier identity.Verifier, reporterKey string) *Server {
	return &Server{
		hub:         hub,
		svc:         svc,
		verifier:    verifier,
		reporterKey: reporterKey,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pingEvery: 15 * time.Second,
	}
}

func (s *Server) SetPingInterval(d time.Duration) {
	if d > 0 {
		s.pingEvery = d
	}
}

// HandleWS serves GET /ws/meetings/{code}?access_token=... for watchers and
// ?reporter_key=... for the real-time layer reporting participant counts.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		subject  string
		reporter bool
	)
	switch key := q.Get("reporter_key"); {
	case key != "":
		if s.reporterKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.reporterKey)) != 1 {
			http.Error(w, "invalid reporter_key", http.StatusUnauthorized)
			return
		}
		subject, reporter = reporterSubject, true
	default:
		id, err := s.verifier.Verify(r.Context(), q.Get("access_token"))
		if err != nil {
			http.Error(w, "invalid access_token", http.StatusUnauthorized)
			return
		}
		subject = id.SubjectID
	}

	m, err := s.svc.GetMeeting(r.Context(), chi.URLParam(r, "code"))
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrValidation):
		http.Error(w, "meeting not found", http.StatusNotFound)
		return
	case err != nil:
		slog.Error("ws load meeting failed", slog.Any("err", err))
		http.Error(w, "meeting lookup failed", http.StatusBadGateway)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already answered the client
		slog.Warn("ws upgrade failed", slog.Any("err", err))
		return
	}

	c := newWsConn(conn, m.Code, subject, reporter)
	s.hub.Add(c)

	if err := c.Send(Message{Type: TypeState, Payload: meetingPayload(m)}); err != nil {
		slog.Warn("ws send initial state failed", slog.String("code", m.Code), slog.String("subject", subject), slog.Any("err", err))
	}

	go s.writeLoop(r.Context(), c)
	s.readLoop(r.Context(), c)

	s.hub.Remove(c)
	if err := c.Close(); err != nil {
		slog.Debug("ws close failed", slog.String("code", m.Code), slog.Any("err", err))
	}
}

func (s *Server) readLoop(ctx context.Context, c *wsConn) {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(64 << 10)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case TypeReportCount:
			if !c.reporter {
				_ = c.Send(errorMessage("report_count requires a reporter connection"))
				continue
			}
			var p ReportCountPayload
			if err := decode(msg.Payload, &p); err != nil {
				_ = c.Send(errorMessage("invalid report_count payload"))
				continue
			}
			s.report(ctx, c, p.Count)
		default:
			// ignore
		}
	}
}

func (s *Server) report(ctx context.Context, c *wsConn, count int) {
	ok, err := s.svc.ReportParticipantCount(ctx, c.code, count)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			_ = c.Send(errorMessage(verr.Error()))
			return
		}
		slog.Warn("ws report count failed", slog.String("code", c.code), slog.Int("count", count), slog.Any("err", err))
		_ = c.Send(errorMessage("report failed"))
		return
	}
	_ = c.Send(Message{Type: TypeReportAck, Payload: ReportAckPayload{OK: ok}})
}

func (s *Server) writeLoop(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(s.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		}
	}
}

func errorMessage(msg string) Message {
	return Message{Type: TypeError, Payload: ErrorPayload{Message: msg}}
}

func decode(payload any, dst any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

type wsConn struct {
	conn     *websocket.Conn
	code     string
	subject  string
	reporter bool
	sendMu   chan struct{}
	closed   chan struct{}
	closeMu  chan struct{}
}

func newWsConn(c *websocket.Conn, code, subject string, reporter bool) *wsConn {
	return &wsConn{
		conn:     c,
		code:     strings.ToUpper(code),
		subject:  subject,
		reporter: reporter,
		sendMu:   make(chan struct{}, 1),
		closed:   make(chan struct{}),
		closeMu:  make(chan struct{}, 1),
	}
}

func (c *wsConn) Send(msg Message) error {
	c.sendMu <- struct{}{}
	defer func() { <-c.sendMu }()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	return c.conn.WriteJSON(msg)
}

func (c *wsConn) Close() error {
	c.closeMu <- struct{}{}
	defer func() { <-c.closeMu }()

	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return c.conn.Close()
}

func (c *wsConn) SubjectID() string { return c.subject }
func (c *wsConn) Code() string      { return c.code }
