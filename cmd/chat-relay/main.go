package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-relay/internal/config"
	"chat-relay/internal/handler"
	"chat-relay/internal/messaging"
	"chat-relay/internal/middleware"
	"chat-relay/internal/observability"
	"chat-relay/internal/repository/postgres"
	"chat-relay/internal/security"
	"chat-relay/internal/service"
	"chat-relay/internal/websocket"
)

const dbStatsInterval = 15 * time.Second

func main() {
	cfg := config.Load()
	observability.InitLogger(cfg.LogLevel, cfg.LogFormat)

	slog.Info("starting chat relay",
		slog.String("environment", cfg.Environment),
		slog.Bool("broker_enabled", cfg.BrokerEnabled))

	connCtx, connCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer connCancel()

	db, err := config.NewPostgresConnection(connCtx, cfg)
	if err != nil {
		slog.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to postgresql")

	if cfg.AutoMigrate {
		if err := postgres.Migrate(connCtx, db); err != nil {
			slog.Error("failed to migrate database", slog.String("error", err.Error()))
			os.Exit(1)
		}
		slog.Info("database schema is up to date")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	principalRepo := postgres.NewPrincipalRepository(db)
	roomRepo := postgres.NewRoomRepository(db)
	messageRepo := postgres.NewMessageRepository(db)

	authorizer := service.NewAuthorizer(principalRepo, roomRepo)
	chatService := service.NewChatService(messageRepo, cfg.HistoryLimit)
	tokenValidator := security.NewTokenValidator(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, principalRepo)

	hub := websocket.NewHub()

	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go func() {
		if err := hub.Run(hubCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("hub error", slog.String("error", err.Error()))
		}
	}()
	slog.Info("websocket hub started")

	notifier := service.NewMembershipNotifier(hub)

	var publisher websocket.Publisher = hub
	var broker handler.BrokerStatus
	if cfg.BrokerEnabled {
		rmqCtx, rmqCancel := context.WithTimeout(context.Background(), 60*time.Second)
		rmq, err := messaging.NewRabbitMQWithRetry(rmqCtx, cfg.RabbitMQURL)
		rmqCancel()
		if err != nil {
			slog.Error("failed to connect to rabbitmq", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer rmq.Close()

		if err := messaging.NewRoomConsumer(rmq, hub).Start(ctx); err != nil {
			slog.Error("failed to start room consumer", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := messaging.NewMembershipConsumer(rmq, notifier).Start(ctx); err != nil {
			slog.Error("failed to start membership consumer", slog.String("error", err.Error()))
			os.Exit(1)
		}

		publisher = messaging.NewRoomRelay(rmq)
		broker = rmq
		slog.Info("room frames relayed through rabbitmq")
	}

	if cfg.PGListenEnabled {
		listener := postgres.NewMembershipListener(cfg.DatabaseURL, notifier)
		go func() {
			if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("membership listener stopped", slog.String("error", err.Error()))
			}
		}()
	}

	go collectDBStats(ctx, db)

	wsHandler := newWebSocketHandler(cfg, hub, authorizer, chatService, publisher)
	upgradeLimiter := middleware.NewRateLimiter(ctx, 5, 10)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(cfg, db, broker, wsHandler, tokenValidator, upgradeLimiter),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("chat relay listening", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", slog.String("error", err.Error()))
	}

	// Sessions are hijacked connections; srv.Shutdown does not wait for them.
	hubCancel()
	waitForSessions(shutdownCtx, hub)
	time.Sleep(100 * time.Millisecond)

	cancel()

	slog.Info("server stopped gracefully")
}

// waitForSessions gives write pumps a chance to send their 1001 close frames.
func waitForSessions(ctx context.Context, hub *websocket.Hub) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for len(hub.Rooms()) > 0 {
		select {
		case <-ctx.Done():
			slog.Warn("sessions still open at shutdown deadline", slog.Int("rooms", len(hub.Rooms())))
			return
		case <-ticker.C:
		}
	}
}

// collectDBStats samples connection pool stats into the DB gauges.
func collectDBStats(ctx context.Context, db *sql.DB) {
	ticker := time.NewTicker(dbStatsInterval)
	defer ticker.Stop()

	for {
		observability.RecordDBStats(db.Stats())

		select {
		case <-ctx.Done():
			slog.Info("stopping db stats collector")
			return
		case <-ticker.C:
		}
	}
}
