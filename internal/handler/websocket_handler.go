package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"chat-relay/internal/middleware"
	"chat-relay/internal/observability"
	ws "chat-relay/internal/websocket"
)

const denialWriteWait = time.Second

// WebSocketHandler admits connections to /ws/chat/{room_id} and hands them to
// a session.
type WebSocketHandler struct {
	deps     ws.Deps
	upgrader websocket.Upgrader
	silent   bool
}

// NewWebSocketHandler creates a handler. With silentDenials set a rejected
// connection gets a bare HTTP status and never learns why; otherwise it is
// upgraded and closed with a 44xx code and reason.
func NewWebSocketHandler(deps ws.Deps, origins middleware.Origins, silentDenials bool) *WebSocketHandler {
	return &WebSocketHandler{
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.CheckOrigin,
		},
		silent: silentDenials,
	}
}

// HandleConnection runs admission then starts the session. The principal is
// resolved beforehand by middleware.Authenticate.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	ctx := observability.WithRequestID(r.Context(), chimiddleware.GetReqID(r.Context()))
	logger := observability.FromContext(ctx)

	principal := middleware.GetPrincipal(ctx)
	admission, err := ws.Admit(ctx, h.deps.Authorizer, principal, chi.URLParam(r, "room_id"))
	if err != nil {
		h.deny(w, r, logger, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	// The session outlives the request.
	client := ws.NewClient(context.WithoutCancel(ctx), h.deps, conn, admission)
	go client.Serve()
}

func (h *WebSocketHandler) deny(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	denial, ok := ws.AsAdmissionError(err)
	if !ok {
		logger.Error("admission failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	logger.Info("connection denied",
		slog.String("reason", denial.Reason),
		slog.Bool("silent", h.silent))

	if h.silent {
		w.WriteHeader(denialStatus(denial))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	msg := websocket.FormatCloseMessage(denial.CloseCode(), denial.Reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(denialWriteWait)); err != nil {
		logger.Debug("failed to write denial close frame", slog.String("error", err.Error()))
	}
}

func denialStatus(denial *ws.AdmissionError) int {
	switch denial.Reason {
	case ws.DenyInvalidRoom:
		return http.StatusBadRequest
	case ws.DenyUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusForbidden
	}
}
