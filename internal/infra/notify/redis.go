package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"custodia/internal/domain"

	"github.com/redis/go-redis/v9"
)

const DefaultChannel = "custodia:events"

// Publisher is the slice of the go-redis client the notifier needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type Redis struct {
	client  Publisher
	channel string
}

func NewRedis(client Publisher, channel string) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{client: client, channel: channel}, nil
}

func (r *Redis) Notify(ctx context.Context, event domain.Event) error {
	msg, err := NewMessage(event)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type(), err)
	}
	return nil
}
