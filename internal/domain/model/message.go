package model

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxTextLength bounds a single message body, in runes.
const MaxTextLength = 4096

// MessagePayload is the immutable part of a message. One payload is shared by
// every copy of the message fanned out to sessions and recipients.
type MessagePayload struct {
	Sender UserID
	Text   string
}

// NewMessagePayload validates the sender and the text.
func NewMessagePayload(sender UserID, text string) (*MessagePayload, error) {
	if sender.IsEmpty() {
		return nil, fmt.Errorf("payload: empty sender: %w", ErrInvalidArgument)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("payload: empty text: %w", ErrInvalidArgument)
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return nil, fmt.Errorf("payload: text longer than %d runes: %w", MaxTextLength, ErrInvalidArgument)
	}
	return &MessagePayload{Sender: sender, Text: text}, nil
}

// DeliveryContext records pipeline timestamps. Used for latency metrics only.
type DeliveryContext struct {
	Get       time.Time
	Enqueued  time.Time
	Dequeued  time.Time
	Delivered time.Time
}

// [MESSAGE] ONE DELIVERABLE INSTANCE FOR ONE RECIPIENT
// Payload is shared and read-only; Delivery is owned by this instance and is
// mutated in place as the message moves through the queue.
type Message struct {
	ID          uuid.UUID
	Payload     *MessagePayload
	RecipientID UserID
	Delivery    DeliveryContext
}

// NewMessage creates a message with a fresh id, stamping Get with now.
func NewMessage(payload *MessagePayload, recipient UserID, now time.Time) *Message {
	return &Message{
		ID:          uuid.New(),
		Payload:     payload,
		RecipientID: recipient,
		Delivery:    DeliveryContext{Get: now},
	}
}

// Clone returns a copy sharing the payload but owning its own DeliveryContext.
func (m *Message) Clone() *Message {
	cp := *m
	return &cp
}

// Latency is the time from acceptance to hand-off to the client.
// Zero if the message has not been delivered yet.
func (m *Message) Latency() time.Duration {
	if m.Delivery.Delivered.IsZero() || m.Delivery.Get.IsZero() {
		return 0
	}
	return m.Delivery.Delivered.Sub(m.Delivery.Get)
}

// Batch is the result of one poll.
type Batch struct {
	Messages []*Message
	// ResyncRequired reports that at least one push to the session failed
	// since the previous poll.
	ResyncRequired bool
}

func (b Batch) Empty() bool { return len(b.Messages) == 0 }
