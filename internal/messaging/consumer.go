package messaging

import (
	"context"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"chat-relay/internal/domain"
	"chat-relay/internal/observability"
)

// Broadcaster delivers a frame to the sessions of one room on this node.
type Broadcaster interface {
	Broadcast(roomID int64, payload []byte) int
}

// MembershipHandler reacts to membership events.
type MembershipHandler interface {
	Handle(ctx context.Context, event domain.MembershipEvent) error
}

// RoomConsumer feeds frames published by any node into the local hub.
type RoomConsumer struct {
	rmq *RabbitMQ
	hub Broadcaster
}

func NewRoomConsumer(rmq *RabbitMQ, hub Broadcaster) *RoomConsumer {
	return &RoomConsumer{rmq: rmq, hub: hub}
}

func (c *RoomConsumer) Start(ctx context.Context) error {
	queue, msgs, err := c.rmq.subscribe(RoomsExchange, roomKeyPrefix+"*")
	if err != nil {
		return err
	}

	slog.Info("started consuming room frames",
		slog.String("queue", queue),
		slog.String("exchange", RoomsExchange))

	go consume(ctx, "rooms", msgs, c.process)
	return nil
}

func (c *RoomConsumer) process(_ context.Context, msg amqp.Delivery) string {
	roomID, err := ParseRoomKey(msg.RoutingKey)
	if err != nil {
		slog.Warn("dropping room frame", slog.String("error", err.Error()))
		return "invalid"
	}

	c.hub.Broadcast(roomID, msg.Body)
	return "delivered"
}

// MembershipConsumer passes membership events from the broker to a handler.
type MembershipConsumer struct {
	rmq     *RabbitMQ
	handler MembershipHandler
}

func NewMembershipConsumer(rmq *RabbitMQ, handler MembershipHandler) *MembershipConsumer {
	return &MembershipConsumer{rmq: rmq, handler: handler}
}

func (c *MembershipConsumer) Start(ctx context.Context) error {
	queue, msgs, err := c.rmq.subscribe(MembershipExchange, "")
	if err != nil {
		return err
	}

	slog.Info("started consuming membership events",
		slog.String("queue", queue),
		slog.String("exchange", MembershipExchange))

	go consume(ctx, "membership", msgs, c.process)
	return nil
}

func (c *MembershipConsumer) process(ctx context.Context, msg amqp.Delivery) string {
	event, err := domain.ParseMembershipEvent(msg.Body)
	if err != nil {
		slog.Warn("dropping membership event",
			slog.Int("body_size", len(msg.Body)),
			slog.String("error", err.Error()))
		return "invalid"
	}

	if err := c.handler.Handle(ctx, event); err != nil {
		slog.Error("membership event handling failed",
			slog.String("type", string(event.Type)),
			slog.String("error", err.Error()))
		return "failed"
	}
	return "handled"
}

// consume runs process for each delivery until ctx ends or the channel closes.
func consume(ctx context.Context, queue string, msgs <-chan amqp.Delivery, process func(context.Context, amqp.Delivery) string) {
	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping consumer", slog.String("queue", queue))
			return
		case msg, ok := <-msgs:
			if !ok {
				slog.Warn("consumer channel closed", slog.String("queue", queue))
				return
			}
			outcome := process(ctx, msg)
			observability.BrokerDeliveriesTotal.WithLabelValues(queue, outcome).Inc()
		}
	}
}
