package http

import (
	"encoding/json"
	"net/http"

	"lesson-flow-service/internal/app"
	"lesson-flow-service/internal/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type WSHandler struct {
	orchestrator *app.Orchestrator
	hub          *Hub
	logger       *zap.Logger
	upgrader     websocket.Upgrader
}

func NewWSHandler(orchestrator *app.Orchestrator, hub *Hub, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		orchestrator: orchestrator,
		hub:          hub,
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type startPayload struct {
	Options domain.FlowOptions `json:"options"`
}

type messagePayload struct {
	Text string `json:"text"`
}

type speedPayload struct {
	Speed float64 `json:"speed"`
}

type controlPayload struct {
	Action string `json:"action"`
}

type endPayload struct {
	Reason string `json:"reason"`
}

// ServeWS upgrades HTTP requests to websockets and wires them into the flow
// use cases. State events arrive through the hub; command replies go straight
// back on the requesting socket.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	lessonID := r.URL.Query().Get("lessonId")
	if userID == "" || lessonID == "" {
		http.Error(w, "missing userId or lessonId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	c := newClient(userID, lessonID, conn, h.logger)
	h.hub.register(c)

	writerDone := make(chan struct{})
	go c.writeLoop(writerDone)
	defer func() {
		h.hub.unregister(c)
		<-writerDone
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		h.dispatch(r, c, inbound)
	}
}

func (h *WSHandler) dispatch(r *http.Request, c *client, inbound inboundMessage) {
	ctx := r.Context()

	switch inbound.Type {
	case "start":
		var payload startPayload
		if len(inbound.Payload) > 0 {
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				c.enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid start payload"}})
				return
			}
		}
		result, err := h.orchestrator.Start(ctx, c.userID, c.lessonID, payload.Options)
		if err != nil {
			c.enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
			return
		}
		c.enqueue(outboundMessage[any]{Type: "started", Payload: result})

	case "message":
		var payload messagePayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.Text == "" {
			c.enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid message payload"}})
			return
		}
		result, err := h.orchestrator.HandleMessage(ctx, c.userID, c.lessonID, payload.Text)
		if err != nil {
			c.enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
			return
		}
		c.enqueue(outboundMessage[any]{Type: "reply", Payload: result})

	case "navigate":
		var payload app.NavigateRequest
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			c.enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid navigate payload"}})
			return
		}
		if err := h.orchestrator.Navigate(ctx, c.userID, c.lessonID, payload); err != nil {
			c.enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		}

	case "control":
		var payload controlPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			c.enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid control payload"}})
			return
		}
		if err := h.orchestrator.Control(ctx, c.userID, c.lessonID, payload.Action); err != nil {
			c.enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		}

	case "change_speed":
		var payload speedPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			c.enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid speed payload"}})
			return
		}
		if err := h.orchestrator.ChangeSpeed(c.userID, c.lessonID, payload.Speed); err != nil {
			c.enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		}

	case "end":
		var payload endPayload
		if len(inbound.Payload) > 0 {
			_ = json.Unmarshal(inbound.Payload, &payload)
		}
		if err := h.orchestrator.End(ctx, c.userID, c.lessonID, payload.Reason); err != nil {
			c.enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		}

	default:
		c.enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}})
	}
}
