package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/NordCoder/Storefront/internal/domain/session"
)

// SessionEvents publishes session events as JSON keyed by profile, so one
// profile's events stay ordered within a partition.
type SessionEvents struct {
	p *Producer
}

func NewSessionEvents(p *Producer) *SessionEvents { return &SessionEvents{p: p} }

var _ session.Publisher = (*SessionEvents)(nil)

func (e *SessionEvents) Publish(ctx context.Context, ev session.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode session event: %w", err)
	}
	return e.p.Publish(ctx, []byte(ev.Profile), b)
}
