// Package feed distributes presence change notifications to subscribers
// outside the presence core.
package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prudhvinik1/edgepresence/internal/models"
	"go.uber.org/multierr"
)

// Publisher delivers a change notification after a presence row is written.
// Delivery is best-effort; the presence row is already committed.
type Publisher interface {
	Publish(ctx context.Context, change models.PresenceChange) error
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Publish(context.Context, models.PresenceChange) error { return nil }

// Multi fans a notification out to several publishers. Every publisher is
// tried even if an earlier one fails.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, change models.PresenceChange) error {
	var err error
	for _, p := range m {
		err = multierr.Append(err, p.Publish(ctx, change))
	}
	return err
}

func encode(change models.PresenceChange) ([]byte, error) {
	body, err := json.Marshal(change)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal presence change: %w", err)
	}
	return body, nil
}

func decode(body []byte) (models.PresenceChange, error) {
	var change models.PresenceChange
	if err := json.Unmarshal(body, &change); err != nil {
		return change, fmt.Errorf("failed to unmarshal presence change: %w", err)
	}
	return change, nil
}
