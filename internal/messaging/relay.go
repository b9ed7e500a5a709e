package messaging

import (
	"context"
)

// RoomRelay publishes room frames through the broker so that sessions on every
// node receive them. It implements websocket.Publisher; a RoomConsumer on each
// node turns the frames back into local broadcasts.
type RoomRelay struct {
	rmq *RabbitMQ
}

func NewRoomRelay(rmq *RabbitMQ) *RoomRelay {
	return &RoomRelay{rmq: rmq}
}

func (r *RoomRelay) Publish(ctx context.Context, roomID int64, payload []byte) error {
	return r.rmq.PublishRoomFrame(ctx, roomID, payload)
}
