// Package publisher fans download progress events out over NATS, for
// deployments that want a durable/cross-process progress feed in addition
// to (or instead of) the websocket hub in internal/progress.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/tgmedia/crawler/internal/model"
)

// NATSClient is the narrow seam this package depends on, so tests can
// substitute a fake in place of a *nats.Conn.
type NATSClient interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes progress events to subject "progress.<channelId>".
type NATSPublisher struct {
	js NATSClient
}

// NewNATSPublisher creates a new publisher
func NewNATSPublisher(conn *nats.Conn) *NATSPublisher {
	return &NATSPublisher{js: conn}
}

// PublishProgress publishes a single progress event.
func (p *NATSPublisher) PublishProgress(ctx context.Context, event model.Progress) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}

	subject := fmt.Sprintf("progress.%s", event.ChannelID)
	if err := p.js.Publish(subject, data); err != nil {
		return fmt.Errorf("publish progress event: %w", err)
	}

	return nil
}

// Adapter returns a func(model.Progress) suitable for scheduler.New's
// progress parameter, publishing through p and discarding (not propagating)
// publish failures — progress fan-out is best-effort and must never block
// or fail a download.
func Adapter(ctx context.Context, p *NATSPublisher) func(model.Progress) {
	return func(event model.Progress) {
		_ = p.PublishProgress(ctx, event)
	}
}
