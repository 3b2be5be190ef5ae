package mapper

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-mailbox-service/internal/domain/model"
	"github.com/webitel/im-mailbox-service/internal/service/dto"
)

// InboundFromV1 validates identifiers of a bus payload. Text is validated
// later, when the payload is built.
func InboundFromV1(raw *dto.MessageV1) (dto.Inbound, error) {
	id, err := uuid.Parse(raw.MessageID)
	if err != nil {
		return dto.Inbound{}, fmt.Errorf("message_id %q: %w", raw.MessageID, model.ErrInvalidArgument)
	}
	if raw.SenderID == "" {
		return dto.Inbound{}, fmt.Errorf("message %s: empty sender_id: %w", id, model.ErrInvalidArgument)
	}
	if len(raw.Recipients) == 0 {
		return dto.Inbound{}, fmt.Errorf("message %s: no recipients: %w", id, model.ErrInvalidArgument)
	}

	recipients := make([]model.UserID, 0, len(raw.Recipients))
	for _, r := range raw.Recipients {
		if r == "" {
			return dto.Inbound{}, fmt.Errorf("message %s: empty recipient: %w", id, model.ErrInvalidArgument)
		}
		recipients = append(recipients, model.UserID(r))
	}

	return dto.Inbound{
		ID:         id,
		Sender:     model.UserID(raw.SenderID),
		Recipients: recipients,
		Text:       raw.Text,
		OccurredAt: parseOccurredAt(raw.OccurredAt),
	}, nil
}

// parseOccurredAt tolerates a missing or malformed timestamp.
func parseOccurredAt(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
