package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-mailbox-service/internal/domain/model"
)

// [BUS_V1] message.created payload published by the thread service.
type MessageV1 struct {
	MessageID  string   `json:"message_id"`
	SenderID   string   `json:"sender_id"`
	Recipients []string `json:"recipients"`
	Text       string   `json:"text"`
	OccurredAt string   `json:"occurred_at,omitempty"`
}

// Inbound is a message accepted from an upstream producer. It bypasses the
// send limiter.
type Inbound struct {
	ID         uuid.UUID
	Sender     model.UserID
	Recipients []model.UserID
	Text       string
	OccurredAt time.Time
}
