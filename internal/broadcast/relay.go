package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/utafrali/wishlist-sync/internal/domain"
)

// Message is the relay envelope. Origin identifies the publishing instance
// so it can ignore its own messages.
type Message struct {
	Origin    string               `json:"origin"`
	Aggregate domain.ShopAggregate `json:"aggregate"`
}

// Relay carries stats events between service instances. Implementations are
// best-effort: a lost message only delays a dashboard until the next change
// or poll.
type Relay interface {
	// Publish sends msg to every instance, including possibly this one.
	Publish(ctx context.Context, msg Message) error

	// Subscribe delivers messages from all instances until ctx ends.
	Subscribe(ctx context.Context, deliver func(Message)) error

	Close() error
}

func encodeMessage(msg Message) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode relay message: %w", err)
	}
	return b, nil
}

func decodeMessage(b []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(b, &msg); err != nil {
		return Message{}, fmt.Errorf("decode relay message: %w", err)
	}
	if msg.Aggregate.Shop == "" {
		return Message{}, fmt.Errorf("decode relay message: missing shop")
	}
	return msg, nil
}
