package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchanges
const (
	// RoomsExchange carries encoded chat frames, routed by room.
	RoomsExchange = "chat.rooms"
	// MembershipExchange carries membership events to every relay node.
	MembershipExchange = "chat.membership"

	roomKeyPrefix = "room."
)

var ErrInvalidRoutingKey = errors.New("invalid room routing key")

type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	rmq := &RabbitMQ{
		conn:    conn,
		channel: ch,
	}

	if err := rmq.Setup(); err != nil {
		rmq.Close()
		return nil, err
	}

	return rmq, nil
}

// NewRabbitMQWithRetry keeps dialing with exponential backoff until it
// connects or ctx expires.
func NewRabbitMQWithRetry(ctx context.Context, url string) (*RabbitMQ, error) {
	delay := 500 * time.Millisecond
	const maxDelay = 5 * time.Second

	for attempt := 1; ; attempt++ {
		rmq, err := NewRabbitMQ(url)
		if err == nil {
			return rmq, nil
		}

		slog.Warn("rabbitmq not ready, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("giving up on RabbitMQ after %d attempts: %w", attempt, errors.Join(ctx.Err(), err))
		case <-time.After(delay):
		}

		delay = min(delay*2, maxDelay)
	}
}

func (r *RabbitMQ) Setup() error {
	if err := r.channel.ExchangeDeclare(
		RoomsExchange, // name
		"topic",       // type
		true,          // durable
		false,         // auto-deleted
		false,         // internal
		false,         // no-wait
		nil,           // arguments
	); err != nil {
		return fmt.Errorf("failed to declare rooms exchange: %w", err)
	}

	if err := r.channel.ExchangeDeclare(
		MembershipExchange, // name
		"fanout",           // type
		true,               // durable
		false,              // auto-deleted
		false,              // internal
		false,              // no-wait
		nil,                // arguments
	); err != nil {
		return fmt.Errorf("failed to declare membership exchange: %w", err)
	}

	slog.Info("rabbitmq setup completed successfully")
	return nil
}

// RoomKey is the routing key for frames of roomID.
func RoomKey(roomID int64) string {
	return roomKeyPrefix + strconv.FormatInt(roomID, 10)
}

// ParseRoomKey is the inverse of RoomKey.
func ParseRoomKey(key string) (int64, error) {
	raw, ok := strings.CutPrefix(key, roomKeyPrefix)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRoutingKey, key)
	}
	roomID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || roomID <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRoutingKey, key)
	}
	return roomID, nil
}

// PublishRoomFrame sends an encoded frame to every node serving roomID.
// Frames are transient: a node that is down has no sessions to deliver to.
func (r *RabbitMQ) PublishRoomFrame(ctx context.Context, roomID int64, payload []byte) error {
	err := r.channel.PublishWithContext(
		ctx,
		RoomsExchange,
		RoomKey(roomID),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp.Transient,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish room frame: %w", err)
	}
	return nil
}

// subscribe binds a private, auto-deleted queue to exchange and starts
// consuming it. Each node gets its own copy of every matching message.
func (r *RabbitMQ) subscribe(exchange, key string) (string, <-chan amqp.Delivery, error) {
	queue, err := r.channel.QueueDeclare(
		"",    // auto-generated name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return "", nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := r.channel.QueueBind(
		queue.Name, // queue name
		key,        // routing key
		exchange,   // exchange
		false,
		nil,
	); err != nil {
		return "", nil, fmt.Errorf("failed to bind queue to %s: %w", exchange, err)
	}

	msgs, err := r.channel.Consume(
		queue.Name, // queue
		"",         // consumer
		true,       // auto-ack
		true,       // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		return "", nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	return queue.Name, msgs, nil
}

func (r *RabbitMQ) IsClosed() bool {
	return r.conn == nil || r.conn.IsClosed()
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
