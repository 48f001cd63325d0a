package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultMirrorTTL = 24 * time.Hour

// RedisMirror persists session snapshots in Redis with a TTL, so sessions
// survive a bridge restart but still die on their own schedule.
type RedisMirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisMirror creates a RedisMirror. prefix defaults to "voicebridge:session:".
func NewRedisMirror(client *redis.Client, prefix string, ttl time.Duration) *RedisMirror {
	if prefix == "" {
		prefix = "voicebridge:session:"
	}
	if ttl <= 0 {
		ttl = defaultMirrorTTL
	}
	return &RedisMirror{client: client, prefix: prefix, ttl: ttl}
}

func (m *RedisMirror) key(id string) string {
	return m.prefix + id
}

// Save implements Mirror.
func (m *RedisMirror) Save(ctx context.Context, snapshot Session) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode session %q: %w", snapshot.ID, err)
	}
	return m.client.Set(ctx, m.key(snapshot.ID), payload, m.ttl).Err()
}

// Delete implements Mirror.
func (m *RedisMirror) Delete(ctx context.Context, id string) error {
	return m.client.Del(ctx, m.key(id)).Err()
}

// LoadAll scans the mirror and returns every stored snapshot, for warming a
// Store at start-up.
func (m *RedisMirror) LoadAll(ctx context.Context) ([]Session, error) {
	var snapshots []Session

	iter := m.client.Scan(ctx, 0, m.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		val, err := m.client.Get(ctx, iter.Val()).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load session %q: %w", iter.Val(), err)
		}
		var snapshot Session
		if err := json.Unmarshal([]byte(val), &snapshot); err != nil {
			continue
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan sessions: %w", err)
	}
	return snapshots, nil
}
