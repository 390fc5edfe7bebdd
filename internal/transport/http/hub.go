package http

import (
	"encoding/json"
	"sync"

	"lesson-flow-service/internal/app"
	"lesson-flow-service/internal/domain"

	"go.uber.org/zap"
)

// RoomPublisher publishes room events to other instances.
type RoomPublisher interface {
	PublishRoomEvent(lessonID string, event domain.Event) error
}

// RoomSubscriber subscribes to a lesson room channel and invokes handler for
// incoming events. Returns a cancel function.
type RoomSubscriber interface {
	SubscribeRoom(lessonID string, handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub fans flow events out to connected websockets. It maps userID -> client
// set for direct sends and lessonID -> client set for shared-room broadcasts.
// Sends never block: a client whose buffer is full misses the event.
type Hub struct {
	mu      sync.RWMutex
	users   map[string]map[*client]struct{}
	rooms   map[string]map[*client]struct{}
	subs    map[string]func() // cancel room subscription per lesson
	logger  *zap.Logger
	roomPub RoomPublisher
	roomSub RoomSubscriber
}

var _ app.PushChannel = (*Hub)(nil)

// NewHub creates a hub. roomPub/roomSub may be nil for single-instance setups.
func NewHub(logger *zap.Logger, roomPub RoomPublisher, roomSub RoomSubscriber) *Hub {
	return &Hub{
		users:   make(map[string]map[*client]struct{}),
		rooms:   make(map[string]map[*client]struct{}),
		subs:    make(map[string]func()),
		logger:  logger,
		roomPub: roomPub,
		roomSub: roomSub,
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	if h.users[c.userID] == nil {
		h.users[c.userID] = make(map[*client]struct{})
	}
	h.users[c.userID][c] = struct{}{}
	if h.rooms[c.lessonID] == nil {
		h.rooms[c.lessonID] = make(map[*client]struct{})
		if h.roomSub != nil {
			lessonID := c.lessonID
			cancel, err := h.roomSub.SubscribeRoom(lessonID, func(event string, payload []byte) {
				h.broadcastLocal(lessonID, event, payload)
			})
			if err == nil {
				h.subs[lessonID] = cancel
			} else {
				h.logger.Warn("room subscribe failed", zap.String("lesson_id", lessonID), zap.Error(err))
			}
		}
	}
	h.rooms[c.lessonID][c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("client connected", zap.String("user_id", c.userID), zap.String("lesson_id", c.lessonID))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if set, ok := h.users[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.users, c.userID)
		}
	}
	if set, ok := h.rooms[c.lessonID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.rooms, c.lessonID)
			if cancel, ok := h.subs[c.lessonID]; ok {
				cancel()
				delete(h.subs, c.lessonID)
			}
		}
	}
	h.mu.Unlock()
	// Stop the writer only after the client is out of both registries, so no
	// late emission can observe a half-torn-down client.
	c.shutdown()
	h.logger.Debug("client disconnected", zap.String("user_id", c.userID), zap.String("lesson_id", c.lessonID))
}

// SendToUser delivers an event to every socket the user has open.
func (h *Hub) SendToUser(userID string, event domain.Event) {
	msg := outboundMessage[any]{Type: event.Name, Payload: event.Payload}

	h.mu.RLock()
	clients := h.users[userID]
	h.mu.RUnlock()

	for c := range clients {
		c.enqueue(msg)
	}
}

// SendToRoom broadcasts an event to every socket in the lesson room. With a
// room bus configured it publishes to Redis only; the subscription callback
// then does the local broadcast once for all instances, avoiding duplicate
// delivery to local clients.
func (h *Hub) SendToRoom(lessonID string, event domain.Event) {
	if h.roomPub != nil {
		_ = h.roomPub.PublishRoomEvent(lessonID, event)
		return
	}
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return
	}
	h.broadcastLocal(lessonID, event.Name, payload)
}

func (h *Hub) broadcastLocal(lessonID, event string, payload []byte) {
	msg := outboundMessage[any]{Type: event, Payload: json.RawMessage(payload)}

	h.mu.RLock()
	clients := h.rooms[lessonID]
	h.mu.RUnlock()

	for c := range clients {
		c.enqueue(msg)
	}
}
