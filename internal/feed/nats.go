package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prudhvinik1/edgepresence/internal/models"
)

// NATSPublisher publishes each change on "<prefix>.<user id>" so consumers
// can subscribe to one user or to "<prefix>.>".
type NATSPublisher struct {
	conn   natsConn
	prefix string
}

// natsConn is the part of *nats.Conn the publisher uses.
type natsConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("edgepresence"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect failed: %w", err)
	}
	return &NATSPublisher{conn: nc, prefix: prefix}, nil
}

func (p *NATSPublisher) Publish(_ context.Context, change models.PresenceChange) error {
	body, err := encode(change)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(Subject(p.prefix, change), body); err != nil {
		return fmt.Errorf("nats publish failed: %w", err)
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

func Subject(prefix string, change models.PresenceChange) string {
	return prefix + "." + change.UserID.String()
}
