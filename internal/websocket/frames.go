package websocket

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"chat-relay/internal/domain"
)

// Frame types
const (
	FrameWelcome     = "welcome"
	FrameChatMessage = "chat_message"
	FrameError       = "error"
)

// Close codes sent to clients
const (
	CloseRemoved         = 4001
	CloseInvalidRoom     = 4400
	CloseUnauthenticated = 4401
	CloseForbidden       = 4403
)

const (
	WelcomeText        = "Welcome to the chat!"
	HistoryUnavailable = "Couldn't load message history"
)

var validate = validator.New()

// Frame is a server to client payload.
type Frame interface {
	FrameType() string
}

// MessageView is the wire shape of a persisted message.
type MessageView struct {
	ID        int64     `json:"id"`
	Channel   int64     `json:"channel"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func NewMessageView(m *domain.Message) MessageView {
	return MessageView{
		ID:        m.ID,
		Channel:   m.RoomID,
		Sender:    m.SenderName,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

type WelcomeFrame struct {
	Type    string        `json:"type"`
	Message string        `json:"message"`
	User    string        `json:"user"`
	History []MessageView `json:"history"`
}

func NewWelcomeFrame(user string, history []*domain.Message) WelcomeFrame {
	return WelcomeFrame{
		Type:    FrameWelcome,
		Message: WelcomeText,
		User:    user,
		History: lo.Map(history, func(m *domain.Message, _ int) MessageView {
			return NewMessageView(m)
		}),
	}
}

func (WelcomeFrame) FrameType() string { return FrameWelcome }

// ChatMessageFrame is a MessageView with a type tag.
type ChatMessageFrame struct {
	Type string `json:"type"`
	MessageView
}

func NewChatMessageFrame(m *domain.Message) ChatMessageFrame {
	return ChatMessageFrame{Type: FrameChatMessage, MessageView: NewMessageView(m)}
}

func (ChatMessageFrame) FrameType() string { return FrameChatMessage }

type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewErrorFrame(message string) ErrorFrame {
	return ErrorFrame{Type: FrameError, Message: message}
}

func (ErrorFrame) FrameType() string { return FrameError }

// EncodeFrame marshals f for the wire.
func EncodeFrame(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", f.FrameType(), err)
	}
	return data, nil
}

// inboundFrame is the only shape a client may send.
type inboundFrame struct {
	Message *string `json:"message"`
}

// parseInbound extracts trimmed message text from a client frame. Every
// rejection wraps domain.ErrMalformedInput.
func parseInbound(data []byte, maxLength int) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return "", fmt.Errorf("%w: expected a JSON object", domain.ErrMalformedInput)
	}

	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return "", fmt.Errorf("%w: message must be a string", domain.ErrMalformedInput)
		}
		return "", fmt.Errorf("%w: invalid JSON", domain.ErrMalformedInput)
	}
	if frame.Message == nil {
		return "", fmt.Errorf("%w: message field is required", domain.ErrMalformedInput)
	}

	content := strings.TrimSpace(*frame.Message)
	if content == "" {
		return "", fmt.Errorf("%w: message cannot be empty", domain.ErrMalformedInput)
	}
	if err := validate.Var(content, fmt.Sprintf("max=%d", maxLength)); err != nil {
		return "", fmt.Errorf("%w: message exceeds %d characters", domain.ErrMalformedInput, maxLength)
	}

	return content, nil
}

// clientMessage is the text of the inline error frame for a session error.
func clientMessage(err error) string {
	switch domain.KindOf(err) {
	case "malformed_input":
		// Carries the specific reason, e.g. "malformed input: message cannot be empty"
		return err.Error()
	case "rate_limited":
		return "You are sending messages too quickly"
	case "stale_authorization":
		return "You are not allowed to post in this room"
	case "store_failure":
		return "Couldn't save your message"
	case "delivery_failure":
		return "Your message was saved but could not be delivered"
	default:
		return "Something went wrong"
	}
}
