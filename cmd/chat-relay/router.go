package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chat-relay/internal/config"
	"chat-relay/internal/handler"
	"chat-relay/internal/middleware"
	"chat-relay/internal/service"
	"chat-relay/internal/websocket"
)

func newWebSocketHandler(cfg *config.Config, hub *websocket.Hub, authorizer *service.Authorizer, chat *service.ChatService, publisher websocket.Publisher) *handler.WebSocketHandler {
	return handler.NewWebSocketHandler(websocket.Deps{
		Hub:        hub,
		Authorizer: authorizer,
		Chat:       chat,
		Publisher:  publisher,
		Config: websocket.SessionConfig{
			MaxMessageLength: cfg.MaxMessageLength,
			MessageRate:      cfg.MessageRate,
			MessageBurst:     cfg.MessageBurst,
			SendBufferSize:   cfg.SendBufferSize,
		},
	}, middleware.ParseOrigins(cfg.AllowedOrigins), cfg.SilentAdmission())
}

// newRouter mounts the health, metrics and chat endpoints.
func newRouter(cfg *config.Config, db handler.Pinger, broker handler.BrokerStatus, ws *handler.WebSocketHandler, validator middleware.TokenValidator, upgradeLimiter *middleware.RateLimiter) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.CORS(middleware.ParseOrigins(cfg.AllowedOrigins)))
	r.Use(middleware.Metrics())

	r.Get("/health", handler.Health)
	r.Get("/health/ready", handler.Ready(db, broker))
	r.Handle("/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not Found", http.StatusNotFound)
	})

	r.With(upgradeLimiter.Middleware(), middleware.Authenticate(validator)).
		Get("/ws/chat/{room_id}", ws.HandleConnection)

	return r
}
