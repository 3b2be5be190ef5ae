package wsmarshaller

import (
	"encoding/json"
	"time"

	"github.com/webitel/im-mailbox-service/internal/domain/model"
)

const (
	EventConnected = "connected"
	EventMessages  = "messages"
	// EventResync is sent when the session missed messages; the client must
	// reload state.
	EventResync = "resync_required"
)

// WSEvent is a generic wrapper for WebSocket messages to provide consistent structure
type WSEvent struct {
	Event   string `json:"event"`
	SentAt  int64  `json:"sent_at"`
	Payload any    `json:"payload,omitempty"`
}

type WSMessage struct {
	ID        string `json:"id"`
	From      string `json:"from_id"`
	Text      string `json:"text"`
	CreatedAt int64  `json:"created_at"`
}

type ConnectedPayload struct {
	SessionID string `json:"session_id"`
}

// MarshallConnected is the first frame of every socket.
func MarshallConnected(sessionID model.SessionID, now time.Time) ([]byte, error) {
	return json.Marshal(&WSEvent{
		Event:   EventConnected,
		SentAt:  now.UnixMilli(),
		Payload: ConnectedPayload{SessionID: sessionID.String()},
	})
}

// MarshallBatch prepares one poll result for WebSocket transmission. A batch
// that reports a resync is sent as a resync event carrying the messages.
func MarshallBatch(batch model.Batch, now time.Time) ([]byte, error) {
	msgs := make([]WSMessage, 0, len(batch.Messages))
	for _, m := range batch.Messages {
		msgs = append(msgs, WSMessage{
			ID:        m.ID.String(),
			From:      m.Payload.Sender.String(),
			Text:      m.Payload.Text,
			CreatedAt: m.Delivery.Get.UnixMilli(),
		})
	}

	ev := &WSEvent{Event: EventMessages, SentAt: now.UnixMilli(), Payload: msgs}
	if batch.ResyncRequired {
		ev.Event = EventResync
	}
	return json.Marshal(ev)
}
