// Package notify broadcasts canvas update events over Redis pub/sub so the
// gallery can end its loading state the moment a screenshot lands.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const channel = "canvasly:canvas-updated"

// CanvasUpdated is emitted after the screenshot worker swaps in a fresh
// thumbnail for a canvas.
type CanvasUpdated struct {
	CanvasID    string  `json:"canvasId"`
	URL         string  `json:"url"`
	Description *string `json:"description"`
	Thumbnail   *string `json:"thumbnail"`
}

// Broker publishes and subscribes to canvas update events.
type Broker struct {
	client *redis.Client
}

func NewBroker(redisURL string) (*Broker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Broker{client: client}, nil
}

// NewBrokerWithClient creates a broker from an existing Redis client.
func NewBrokerWithClient(client *redis.Client) *Broker {
	return &Broker{client: client}
}

// Publish sends an update event. Fire and forget from the caller's point of
// view; a publish failure only costs subscribers one notification.
func (b *Broker) Publish(ctx context.Context, event CanvasUpdated) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal canvas update: %w", err)
	}
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish canvas update: %w", err)
	}
	return nil
}

// Subscribe delivers update events until ctx is canceled. Undecodable
// messages are logged and skipped.
func (b *Broker) Subscribe(ctx context.Context) (<-chan CanvasUpdated, error) {
	sub := b.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	events := make(chan CanvasUpdated, 16)
	go func() {
		defer close(events)
		defer sub.Close()
		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event CanvasUpdated
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					log.Printf("notify: bad canvas update payload: %v", err)
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, nil
}

// Ping checks if Redis is reachable.
func (b *Broker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (b *Broker) Close() error {
	return b.client.Close()
}
