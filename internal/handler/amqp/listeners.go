package amqp

import (
	"context"
	"errors"
	"fmt"

	"github.com/webitel/im-mailbox-service/internal/domain/model"
	"github.com/webitel/im-mailbox-service/internal/service/dto"
	"github.com/webitel/im-mailbox-service/internal/service/mapper"
)

// [ON_MESSAGE_CREATED]
// Delivers an upstream message to the recipients connected to this node.
// Redeliveries of an already handled message_id are acknowledged and skipped.
func (h *MessageHandler) OnMessageCreatedV1(ctx context.Context, raw *dto.MessageV1) error {
	in, err := mapper.InboundFromV1(raw)
	if err != nil {
		settle(ctx, raw.MessageID, OutcomeInvalid, err)
		return nil // ACK: Retrying cannot fix it.
	}

	// [DEDUPLICATION]
	key := in.ID.String()
	if seen, _ := h.seen.ContainsOrAdd(key, struct{}{}); seen {
		settle(ctx, key, OutcomeDuplicate, nil)
		return nil
	}

	res, err := h.deliverer.Deliver(ctx, in)
	if err != nil {
		if errors.Is(err, model.ErrInvalidArgument) {
			settle(ctx, key, OutcomeInvalid, err)
			return nil
		}
		// Let the retry (or a later redelivery) through the dedup window.
		h.seen.Remove(key)
		settle(ctx, key, OutcomeFailed, err)
		return fmt.Errorf("deliver %s: %w", key, err) // NACK: triggers Retry policy.
	}

	settle(ctx, key, OutcomeDelivered, nil).result = res
	return nil
}
