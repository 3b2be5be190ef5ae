package lpmarshaller

import (
	"encoding/json"

	"github.com/webitel/im-mailbox-service/internal/domain/model"
	"github.com/webitel/im-mailbox-service/internal/domain/router"
)

// LPMessage represents a single message structured for long-polling consumers.
type LPMessage struct {
	ID        string `json:"id"`
	From      string `json:"from_id"`
	To        string `json:"to_id"`
	Text      string `json:"text"`
	CreatedAt int64  `json:"created_at"`
}

// PollResponse carries one batch. ResyncRequired tells the client it missed
// messages and must reload state from the source of truth.
type PollResponse struct {
	Messages       []LPMessage `json:"messages"`
	ResyncRequired bool        `json:"resync_required"`
}

type StartSessionRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

type StartSessionResponse struct {
	SessionID string `json:"session_id"`
}

type SendRequest struct {
	Recipients []string `json:"recipients"`
	Text       string   `json:"text"`
}

type SendResponse struct {
	Successful int `json:"successful"`
	Dropped    int `json:"dropped"`
	Offline    int `json:"offline"`
}

type StatsResponse struct {
	OnlineUsers int64 `json:"online_users"`
	Limiters    int   `json:"limiters"`
}

// MarshallBatch converts a poll result into a single JSON document.
func MarshallBatch(batch model.Batch) ([]byte, error) {
	return json.Marshal(NewPollResponse(batch))
}

func NewPollResponse(batch model.Batch) PollResponse {
	res := PollResponse{
		Messages:       make([]LPMessage, 0, len(batch.Messages)),
		ResyncRequired: batch.ResyncRequired,
	}
	for _, m := range batch.Messages {
		res.Messages = append(res.Messages, LPMessage{
			ID:        m.ID.String(),
			From:      m.Payload.Sender.String(),
			To:        m.RecipientID.String(),
			Text:      m.Payload.Text,
			CreatedAt: m.Delivery.Get.UnixMilli(),
		})
	}
	return res
}

func NewSendResponse(r router.Result) SendResponse {
	return SendResponse{Successful: r.Successful, Dropped: r.Dropped, Offline: r.Offline}
}

func (r SendRequest) RecipientIDs() []model.UserID {
	ids := make([]model.UserID, 0, len(r.Recipients))
	for _, id := range r.Recipients {
		ids = append(ids, model.UserID(id))
	}
	return ids
}
