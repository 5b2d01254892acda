package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/contentops/stt-pipeline/internal/cache"
	"github.com/contentops/stt-pipeline/internal/config"
	"github.com/contentops/stt-pipeline/internal/dispatch"
	"github.com/contentops/stt-pipeline/internal/storage/sqlite"
	"github.com/contentops/stt-pipeline/internal/websocket"
	"github.com/contentops/stt-pipeline/pkg/logger"
)

// Router wraps the chi router with the API handlers
type Router struct {
	handler *Handler
	logger  *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(store *sqlite.Store, dispatcher dispatch.Dispatcher, invoker dispatch.Handler, c *cache.Cache, wsServer *websocket.Server, cfg *config.Config, log *logger.Logger) *Router {
	return &Router{
		handler: NewHandler(store, dispatcher, invoker, c, wsServer, cfg, log),
		logger:  log.Named("api-router"),
	}
}

// Routes returns the HTTP handler with all routes registered
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/campaigns", rt.handler.CreateCampaign)
		r.Get("/campaigns/{id}", rt.handler.GetCampaign)
		r.Get("/items/{id}/failures", rt.handler.GetItemFailures)
		r.Post("/invoke", rt.handler.Invoke)
		r.Get("/health", rt.handler.GetHealth)
	})

	// The http transport posts to /invoke without the API prefix.
	r.Post("/invoke", rt.handler.Invoke)

	r.Get("/ws", rt.handler.HandleWebSocket)

	return r
}
