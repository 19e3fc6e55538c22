package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// PresenceFeed follows presence changes published by PresenceStore, for
// readers in other processes.
type PresenceFeed struct {
	sub *goredis.PubSub
}

// SubscribePresence returns once the subscription is confirmed, so no change
// published after it returns is missed.
func SubscribePresence(ctx context.Context, client *goredis.Client) (*PresenceFeed, error) {
	sub := client.Subscribe(ctx, PresenceChannel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe presence: %w", err)
	}
	return &PresenceFeed{sub: sub}, nil
}

// Next blocks for the next change. Malformed payloads are skipped.
func (f *PresenceFeed) Next(ctx context.Context) (PresenceStatus, error) {
	for {
		msg, err := f.sub.ReceiveMessage(ctx)
		if err != nil {
			return PresenceStatus{}, err
		}
		var status PresenceStatus
		if err := json.Unmarshal([]byte(msg.Payload), &status); err != nil {
			continue
		}
		return status, nil
	}
}

func (f *PresenceFeed) Close() error {
	return f.sub.Close()
}
