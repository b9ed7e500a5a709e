package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"chat-relay/internal/domain"
	"chat-relay/internal/observability"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second // Must be less than pongWait
	storeTimeout = 5 * time.Second

	defaultSendBuffer   = 256
	defaultMaxMsgLength = 1000
)

const (
	closeGoingAway     = websocket.CloseGoingAway
	closeTryAgainLater = websocket.CloseTryAgainLater
	closeInternalError = websocket.CloseInternalServerErr
)

// Conn is the subset of *websocket.Conn a session uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Authorizer is the room membership oracle.
type Authorizer interface {
	CanRead(ctx context.Context, p domain.Principal, roomID int64) bool
	CanWrite(ctx context.Context, p domain.Principal, roomID int64) bool
}

// ChatService persists messages and loads history.
type ChatService interface {
	Post(ctx context.Context, sender domain.Principal, roomID int64, content string) (*domain.Message, error)
	History(ctx context.Context, roomID int64) ([]*domain.Message, error)
}

// Publisher fans an encoded frame out to every session in a room, on this node
// or across a broker. Implemented by *Hub and messaging.RoomRelay.
type Publisher interface {
	Publish(ctx context.Context, roomID int64, payload []byte) error
}

// State is the lifecycle position of a session. Transitions only move forward.
type State int32

const (
	StateConnecting State = iota
	StateAdmitted
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAdmitted:
		return "admitted"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var errInvalidTransition = errors.New("invalid session state transition")

type eventKind int

const (
	eventChat eventKind = iota
	eventEvict
	eventShutdown
)

// event is one entry of a client's outbound queue.
type event struct {
	kind    eventKind
	payload []byte // eventChat
	target  int64  // eventEvict
	reason  string // eventEvict
}

// SessionConfig tunes per-connection limits.
type SessionConfig struct {
	MaxMessageLength int
	MessageRate      float64
	MessageBurst     int
	SendBufferSize   int
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Hub        *Hub
	Authorizer Authorizer
	Chat       ChatService
	Publisher  Publisher
	Config     SessionConfig
}

// Client is one admitted websocket connection bound to a room.
type Client struct {
	id        string
	hub       *Hub
	conn      Conn
	principal domain.Principal
	roomID    int64

	authz     Authorizer
	chat      ChatService
	publisher Publisher
	maxLength int
	limiter   *rate.Limiter

	// send is never closed; done signals teardown instead.
	send chan event
	done chan struct{}

	state     atomic.Int32
	closeOnce sync.Once
	closeCode int
	closeText string

	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient creates a session for a connection that already passed admission.
func NewClient(ctx context.Context, deps Deps, conn Conn, admission Admission) *Client {
	cfg := deps.Config
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = defaultSendBuffer
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = defaultMaxMsgLength
	}
	limit := rate.Inf
	if cfg.MessageRate > 0 {
		limit = rate.Limit(cfg.MessageRate)
	}

	id := uuid.NewString()
	ctx = observability.WithConnID(ctx, id)
	ctx = observability.WithPrincipalID(ctx, admission.Principal.ID)
	ctx = observability.WithRoomID(ctx, admission.RoomID)
	clientCtx, cancel := context.WithCancel(ctx)

	publisher := deps.Publisher
	if publisher == nil {
		publisher = deps.Hub
	}

	c := &Client{
		id:        id,
		hub:       deps.Hub,
		conn:      conn,
		principal: admission.Principal,
		roomID:    admission.RoomID,
		authz:     deps.Authorizer,
		chat:      deps.Chat,
		publisher: publisher,
		maxLength: cfg.MaxMessageLength,
		limiter:   rate.NewLimiter(limit, max(cfg.MessageBurst, 1)),
		send:      make(chan event, cfg.SendBufferSize),
		done:      make(chan struct{}),
		ctx:       clientCtx,
		cancel:    cancel,
	}
	c.state.Store(int32(StateAdmitted))
	return c
}

// ID returns the connection id used in logs.
func (c *Client) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Client) State() State { return State(c.state.Load()) }

// Done is closed once the session has been torn down.
func (c *Client) Done() <-chan struct{} { return c.done }

// Serve activates the session and pumps frames until it closes.
func (c *Client) Serve() {
	if err := c.activate(); err != nil {
		code := closeInternalError
		if errors.Is(err, ErrHubClosed) {
			code = closeGoingAway
		}
		c.logger().Warn("session activation failed", slog.String("error", err.Error()))
		c.terminate(code, "", "")
	}

	go c.WritePump()
	c.ReadPump()
}

// activate joins the room and writes the welcome frame. It runs before the
// write pump starts, so welcome is always the first frame on the wire and any
// broadcast that arrives meanwhile waits in the queue.
func (c *Client) activate() error {
	if !c.state.CompareAndSwap(int32(StateAdmitted), int32(StateActive)) {
		return fmt.Errorf("%w: %s to %s", errInvalidTransition, c.State(), StateActive)
	}

	if err := c.hub.Register(c); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.ctx, storeTimeout)
	history, err := c.chat.History(ctx, c.roomID)
	cancel()

	var frame Frame
	if err != nil {
		c.logger().Error("failed to load history", slog.String("error", err.Error()))
		observability.SessionErrorsTotal.WithLabelValues(domain.KindOf(err)).Inc()
		frame = NewErrorFrame(HistoryUnavailable)
	} else {
		frame = NewWelcomeFrame(c.principal.Username, history)
	}

	data, err := EncodeFrame(frame)
	if err != nil {
		return err
	}
	if err := c.writeMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write %s frame: %w", frame.FrameType(), err)
	}
	observability.WebSocketMessagesSent.WithLabelValues(roomLabel(c.roomID), frame.FrameType()).Inc()
	return nil
}

// ReadPump reads client frames until the connection fails or the session closes.
func (c *Client) ReadPump() {
	defer c.terminate(0, "", "")

	c.conn.SetReadLimit(readLimit(c.maxLength))
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger().Warn("failed to set read deadline", slog.String("error", err.Error()))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				select {
				case <-c.done:
				default:
					c.logger().Warn("websocket error", slog.String("error", err.Error()))
				}
			}
			return
		}

		if err := c.handleInbound(data); err != nil {
			c.reportError(err)
		}
	}
}

// handleInbound is the Active state's single transition: it either publishes a
// new message or returns the session error to report inline.
func (c *Client) handleInbound(data []byte) error {
	content, err := parseInbound(data, c.maxLength)
	if err != nil {
		return err
	}

	if !c.limiter.Allow() {
		return domain.ErrRateLimited
	}

	ctx, cancel := context.WithTimeout(c.ctx, storeTimeout)
	defer cancel()

	if !c.authz.CanWrite(ctx, c.principal, c.roomID) {
		return domain.ErrStaleAuthorization
	}

	msg, err := c.chat.Post(ctx, c.principal, c.roomID, content)
	if err != nil {
		return err
	}

	payload, err := EncodeFrame(NewChatMessageFrame(msg))
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrDeliveryFailure, err)
	}

	if err := c.publisher.Publish(ctx, c.roomID, payload); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrDeliveryFailure, err)
	}
	return nil
}

func (c *Client) reportError(err error) {
	kind := domain.KindOf(err)
	observability.SessionErrorsTotal.WithLabelValues(kind).Inc()

	logger := c.logger().With(slog.String("kind", kind), slog.String("error", err.Error()))
	switch kind {
	case "store_failure", "delivery_failure", "internal":
		logger.Error("session error")
	default:
		logger.Info("rejected client message")
	}

	data, encErr := EncodeFrame(NewErrorFrame(clientMessage(err)))
	if encErr != nil {
		c.logger().Error("failed to encode error frame", slog.String("error", encErr.Error()))
		return
	}
	c.enqueue(event{kind: eventChat, payload: data})
}

// WritePump pumps queued events to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for {
		// Teardown wins over anything still queued.
		select {
		case <-c.done:
			return
		default:
		}

		select {
		case <-c.done:
			return

		case ev := <-c.send:
			if !c.dispatch(ev) {
				return
			}

		case <-ticker.C:
			if err := c.writeMessage(websocket.PingMessage, nil); err != nil {
				c.terminate(0, "", "")
				return
			}
		}
	}
}

// dispatch handles one queued event and reports whether the pump should continue.
func (c *Client) dispatch(ev event) bool {
	switch ev.kind {
	case eventChat:
		if err := c.writeMessage(websocket.TextMessage, ev.payload); err != nil {
			c.terminate(0, "", "")
			return false
		}
		return true

	case eventEvict:
		if ev.target != c.principal.ID {
			return true
		}
		c.terminate(CloseRemoved, ev.reason, ev.reason)
		return false

	case eventShutdown:
		c.terminate(closeGoingAway, "server shutting down", "")
		return false
	}
	return true
}

// enqueue offers ev without blocking. A full queue means the client cannot keep
// up; it is closed so one slow reader never stalls a room.
func (c *Client) enqueue(ev event) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- ev:
		return true
	case <-c.done:
		return false
	default:
		observability.DeliveriesDropped.Inc()
		c.logger().Warn("send queue full, closing slow client")
		c.terminate(closeTryAgainLater, "slow consumer", "slow_consumer")
		return false
	}
}

// signalEvict queues an eviction signal. The target is always terminated even
// when its queue is full; other clients just drop the signal in that case.
func (c *Client) signalEvict(target int64, reason string) {
	ev := event{kind: eventEvict, target: target, reason: reason}
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- ev:
	case <-c.done:
	default:
		if target == c.principal.ID {
			c.terminate(CloseRemoved, reason, reason)
		}
	}
}

// signalShutdown asks the session to close with 1001 after flushing what is
// already queued.
func (c *Client) signalShutdown() {
	select {
	case c.send <- event{kind: eventShutdown}:
	case <-c.done:
	default:
		c.terminate(closeGoingAway, "server shutting down", "")
	}
}

// terminate tears the session down once: it leaves the room, cancels in-flight
// work and tells the write pump which close frame to send. code 0 sends none.
func (c *Client) terminate(code int, text, evictReason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeText = text
		c.state.Store(int32(StateClosed))
		c.cancel()
		close(c.done)
		c.hub.Unregister(c)

		if evictReason != "" {
			observability.EvictionsTotal.WithLabelValues(evictReason).Inc()
		}
		c.logger().Info("session closed",
			slog.Int("close_code", code),
			slog.String("close_reason", text))
	})
}

// writeMessage writes a message to the WebSocket connection in a thread-safe manner
func (c *Client) writeMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// closeConnection sends the close frame chosen by terminate, if any, then
// closes the socket.
func (c *Client) closeConnection() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closeCode != 0 {
		msg := websocket.FormatCloseMessage(c.closeCode, c.closeText)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	}
	_ = c.conn.Close()
}

func (c *Client) logger() *slog.Logger {
	return observability.FromContext(c.ctx)
}

// Worst-case encoded size of one rune: a surrogate pair escape such as \ud83d\ude00.
const maxEscapedRuneBytes = 12

// readSlack covers the JSON envelope plus whitespace that parseInbound trims.
const readSlack = 4096

// readLimit allows the longest valid message even if every rune is escaped as a
// surrogate pair. Larger frames are closed with 1009.
func readLimit(maxLength int) int64 {
	return int64(maxLength)*maxEscapedRuneBytes + readSlack
}
