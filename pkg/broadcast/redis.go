package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisNotifier publishes on a Redis Pub/Sub channel per session.
type RedisNotifier struct {
	client redis.UniversalClient
	logger *slog.Logger
}

var _ Notifier = (*RedisNotifier)(nil)

// NewRedisNotifier creates a Redis-backed notifier.
func NewRedisNotifier(client redis.UniversalClient, logger *slog.Logger) *RedisNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisNotifier{client: client, logger: logger}
}

func channelFor(sessionID string) string {
	return Channel + ":" + sessionID
}

func (n *RedisNotifier) NotifyUnlock(ctx context.Context, sessionID string) error {
	return n.publish(ctx, newMessage(ActionUnlock, sessionID))
}

func (n *RedisNotifier) NotifyLock(ctx context.Context, sessionID string) error {
	return n.publish(ctx, newMessage(ActionLock, sessionID))
}

func (n *RedisNotifier) NotifySignOut(ctx context.Context, sessionID string) error {
	return n.publish(ctx, newMessage(ActionSignOut, sessionID))
}

func (n *RedisNotifier) publish(ctx context.Context, m Message) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	if err := n.client.Publish(ctx, channelFor(m.SessionID), data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", m.Action, err)
	}
	return nil
}

func (n *RedisNotifier) Subscribe(ctx context.Context, sessionID string) (<-chan Message, func(), error) {
	ps := n.client.Subscribe(ctx, channelFor(sessionID))
	// Wait for the subscription confirmation so no publish is missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", sessionID, err)
	}

	out := make(chan Message, subscriberBuffer)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			ps.Close()
		})
	}

	go func() {
		defer close(out)
		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case <-done:
				return
			case raw, ok := <-in:
				if !ok {
					return
				}
				m, err := Decode([]byte(raw.Payload))
				if err != nil {
					n.logger.Warn("dropping broadcast message", "session_id", sessionID, "error", err)
					continue
				}
				select {
				case out <- m:
				default:
				}
			}
		}
	}()
	return out, cancel, nil
}
