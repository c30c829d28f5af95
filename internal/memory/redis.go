package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a durable Memory backed by a single JSON value per session with a
// sliding TTL applied on every write. Concurrent writers to the same session
// key race last-write-wins; independent sessions never interfere.
type Redis struct {
	client      *redis.Client
	maxMessages int
	ttl         time.Duration
	prefix      string
}

// NewRedis creates a redis-backed memory. A zero ttl disables expiry.
func NewRedis(client *redis.Client, maxTurns int, ttl time.Duration, prefix string) *Redis {
	if maxTurns < 1 {
		maxTurns = 1
	}
	if prefix == "" {
		prefix = "docqa:session"
	}
	return &Redis{
		client:      client,
		maxMessages: maxTurns * 2,
		ttl:         ttl,
		prefix:      prefix,
	}
}

func (m *Redis) key(sessionID string) string {
	return fmt.Sprintf("%s:%s", m.prefix, sessionID)
}

// Read returns stored messages. An unparseable payload is treated as empty
// history and the corrupt record is deleted rather than surfaced as an error.
func (m *Redis) Read(ctx context.Context, sessionID string) ([]Message, error) {
	raw, err := m.client.Get(ctx, m.key(sessionID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", sessionID, err)
	}
	var messages []Message
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		_ = m.Clear(ctx, sessionID)
		return nil, nil
	}
	return messages, nil
}

func (m *Redis) Append(ctx context.Context, sessionID string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	stored, err := m.Read(ctx, sessionID)
	if err != nil {
		return err
	}
	trimmed := trim(append(stored, messages...), m.maxMessages)
	payload, err := json.Marshal(trimmed)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", sessionID, err)
	}
	if err := m.client.Set(ctx, m.key(sessionID), payload, m.ttl).Err(); err != nil {
		return fmt.Errorf("write session %s: %w", sessionID, err)
	}
	return nil
}

func (m *Redis) Clear(ctx context.Context, sessionID string) error {
	return m.client.Del(ctx, m.key(sessionID)).Err()
}
