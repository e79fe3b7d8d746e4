package web

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/ccdesk/ccdesk/internal/conversation"
	"github.com/ccdesk/ccdesk/internal/session"
)

// eventsTopic carries every controller event, already encoded as a
// websocket envelope.
const eventsTopic = "ccdesk.events"

// Hub fans controller events out to websocket clients. It implements
// session.Observer. Publishing blocks until every subscriber has acked,
// which keeps per-client ordering identical to the controller's.
type Hub struct {
	pubsub *gochannel.GoChannel
	logger *slog.Logger
}

var _ session.Observer = (*Hub)(nil)

// NewHub creates a Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            64,
			BlockPublishUntilSubscriberAck: true,
		}, watermill.NopLogger{}),
		logger: logger,
	}
}

// Subscribe returns a stream of encoded envelopes. The stream closes when
// ctx is done or the hub is closed. Each message must be acked.
func (h *Hub) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return h.pubsub.Subscribe(ctx, eventsTopic)
}

// Close stops the hub and closes all subscriptions.
func (h *Hub) Close() error {
	return h.pubsub.Close()
}

func (h *Hub) OnProcessStateChange(state session.State) {
	h.publish(MsgState, statePayload{State: state})
}

func (h *Hub) OnActivity(text string) {
	h.publish(MsgActivity, activityPayload{Text: text})
}

func (h *Hub) OnTurnUpdated(turn conversation.Turn) {
	h.publish(MsgTurn, turn)
}

func (h *Hub) OnPermissionRequest(p session.PendingPermission) {
	h.publish(MsgPermission, p)
}

func (h *Hub) publish(msgType string, data any) {
	payload, err := encode(msgType, data)
	if err != nil {
		h.logger.Error("failed to encode event", "type", msgType, "error", err)
		return
	}
	if err := h.pubsub.Publish(eventsTopic, message.NewMessage(watermill.NewUUID(), payload)); err != nil {
		h.logger.Debug("event not published", "type", msgType, "error", err)
	}
}
