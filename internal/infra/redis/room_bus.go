package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"lesson-flow-service/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	roomChannelPrefix = "lesson:room:"
	publishTimeout    = 5 * time.Second
)

// roomPayload is the message published to Redis for cross-instance room fanout.
type roomPayload struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
	At      int64           `json:"at"`
}

// RoomBus bridges shared-room events across service instances via Redis
// pub/sub. An instance publishes the room events its local flows emit and
// subscribes per room so clients connected elsewhere still see them.
type RoomBus struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRoomBus(client *redis.Client, logger *zap.Logger) *RoomBus {
	return &RoomBus{client: client, logger: logger}
}

// PublishRoomEvent publishes an event to the lesson's room channel.
func (b *RoomBus) PublishRoomEvent(lessonID string, event domain.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}
	body, err := json.Marshal(roomPayload{Name: event.Name, Payload: payload, At: event.At.Unix()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return b.client.Publish(ctx, roomChannelPrefix+lessonID, body).Err()
}

// SubscribeRoom subscribes to a lesson's room channel and calls handler for
// each event. Returns a cancel function to stop the subscription.
func (b *RoomBus) SubscribeRoom(lessonID string, handler func(event string, payload []byte)) (cancel func(), err error) {
	channel := roomChannelPrefix + lessonID
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := b.client.Subscribe(ctx, channel)
	if _, err = pubsub.Receive(ctx); err != nil {
		cancelCtx()
		return nil, fmt.Errorf("subscribe room: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var p roomPayload
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					b.logger.Warn("bad room payload", zap.String("lesson_id", lessonID), zap.Error(err))
					continue
				}
				handler(p.Name, p.Payload)
			}
		}
	}()
	return func() { cancelCtx() }, nil
}
