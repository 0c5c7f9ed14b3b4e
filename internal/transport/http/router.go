package http

import (
	"net/http"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/identity"
	httpmw "github.com/cwrk-planet/meeting-service/internal/transport/http/middleware"
	"github.com/cwrk-planet/meeting-service/internal/transport/ws"
	"github.com/cwrk-planet/meeting-service/pkg/httputil"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Deps struct {
	Handler     *Handler
	Verifier    identity.Verifier
	ReporterKey string
	WS          *ws.Server // nil disables the feed

	AllowedOrigins []string
	RequestTimeout time.Duration
}

func NewRouter(d Deps) http.Handler {
	timeout := d.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middlewareChi.RealIP)
	r.Use(httputil.MiddlewareRequestID)
	r.Use(httputil.MiddlewareLogging)
	r.Use(middlewareChi.Recoverer)

	if len(d.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   d.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", httpmw.HeaderReporterKey},
			ExposedHeaders:   []string{httputil.HeaderRequestID},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// health
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httputil.OK(w, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	// WS endpoint, authenticates by query parameters
	if d.WS != nil {
		r.Get("/ws/meetings/{code}", d.WS.HandleWS)
	}

	h := d.Handler
	r.Group(func(api chi.Router) {
		api.Use(middlewareChi.Timeout(timeout))

		api.Get("/meetings/{code}", h.GetMeeting)
		api.Get("/meetings/{code}/can-join", h.CanJoin)
		api.Get("/hosts/{hostId}/meetings", h.ListHostMeetings)

		api.With(httpmw.ReporterKey(d.ReporterKey)).Patch("/meetings/{code}/participants", h.ReportParticipants)

		api.Group(func(pr chi.Router) {
			pr.Use(httpmw.Auth(d.Verifier))

			pr.Post("/meetings", h.CreateMeeting)
			pr.Post("/meetings/{code}/join", h.JoinMeeting)
			pr.Post("/meetings/{code}/leave", h.LeaveMeeting)
			pr.Delete("/meetings/{code}", h.CloseMeeting)
			pr.Get("/me/meetings", h.ListMyMeetings)
		})
	})

	return r
}
