package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes returns the router with all application routes. WebSocket upgrades
// are limited per client IP when UpgradeRateLimit is positive. A trailing
// slash is ignored, so /ws/room/general/ reaches the room endpoint.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Get("/", HealthHandler)
	r.Get("/healthz", s.healthzHandler)
	r.Get("/test", TestPageHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/api/presence", s.presenceSnapshotHandler)

	r.Group(func(r chi.Router) {
		if s.cfg.UpgradeRateLimit > 0 {
			r.Use(httprate.LimitByIP(s.cfg.UpgradeRateLimit, time.Minute))
		}
		r.Get("/ws/presence", s.PresenceHandler)
		r.Get("/ws/presence/{slug}", s.PresenceHandler)
		r.Get("/ws/room", s.RoomHandler)
		r.Get("/ws/room/{slug}", s.RoomHandler)
	})
	return r
}
