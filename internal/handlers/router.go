package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prudhvinik1/edgepresence/internal/feed"
	"github.com/prudhvinik1/edgepresence/internal/metrics"
	"github.com/prudhvinik1/edgepresence/internal/services"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Presence     *services.PresenceService
	Tokens       *services.TokenService
	Sweeper      Sweeper
	SweepKeyHash string
	Hub          *feed.Hub
	Metrics      *metrics.Metrics
	Log          *zap.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	presenceHandler := NewPresenceHandler(cfg.Presence, cfg.Log)
	streamHandler := NewStreamHandler(cfg.Hub, cfg.Log)
	sweepHandler := NewSweepHandler(cfg.Sweeper, cfg.SweepKeyHash, cfg.Log)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(Logging(cfg.Log))
	router.Use(Recover(cfg.Log))

	// Health check endpoints
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	router.Handle("/metrics", cfg.Metrics.Handler())

	router.Post("/internal/sweep", sweepHandler.Run)

	router.Route("/presence", func(r chi.Router) {
		r.Use(Auth(cfg.Tokens))
		r.Post("/connect", presenceHandler.Connect)
		r.Post("/disconnect", presenceHandler.Disconnect)
		r.Post("/activity", presenceHandler.Activity)
		r.Post("/heartbeat", presenceHandler.Heartbeat)
		r.Get("/", presenceHandler.Get)
		r.Get("/devices", presenceHandler.Devices)
		r.Get("/stream", streamHandler.Stream)
	})

	return router
}
