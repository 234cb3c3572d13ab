package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	DefaultRedisKey     = "presence:online"
	DefaultRedisChannel = "presence:updates"
)

// RedisMirror copies online snapshots into a Redis set and publishes them on
// a channel. It is a read model for other services; routing never reads it.
// Only the latest pending snapshot is written.
type RedisMirror struct {
	client  redis.Cmdable
	key     string
	channel string
	log     *zap.Logger
	pending chan []string
}

func NewRedisMirror(client redis.Cmdable, key, channel string, log *zap.Logger) *RedisMirror {
	return &RedisMirror{
		client:  client,
		key:     key,
		channel: channel,
		log:     log.Named("presence.redis"),
		pending: make(chan []string, 1),
	}
}

// Mirror queues the snapshot, replacing one that was not written yet.
func (m *RedisMirror) Mirror(online []string) {
	for {
		select {
		case m.pending <- online:
			return
		default:
		}
		select {
		case <-m.pending:
		default:
		}
	}
}

func (m *RedisMirror) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case online := <-m.pending:
			if err := m.write(ctx, online); err != nil {
				m.log.Warn("failed to mirror presence", zap.Error(err), zap.Int("online", len(online)))
			}
		}
	}
}

func (m *RedisMirror) write(ctx context.Context, online []string) error {
	payload, err := json.Marshal(online)
	if err != nil {
		return err
	}
	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, m.key)
		if len(online) > 0 {
			pipe.SAdd(ctx, m.key, lo.ToAnySlice(online)...)
		}
		pipe.Publish(ctx, m.channel, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mirror presence to %s: %w", m.key, err)
	}
	return nil
}

// ReadOnline returns the mirrored online set, sorted.
func ReadOnline(ctx context.Context, client redis.Cmdable, key string) ([]string, error) {
	users, err := client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("read presence %s: %w", key, err)
	}
	sort.Strings(users)
	return users, nil
}

// RedisReader serves the mirrored set to processes that do not own sessions.
type RedisReader struct {
	client redis.Cmdable
	key    string
}

func NewRedisReader(client redis.Cmdable, key string) *RedisReader {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisReader{client: client, key: key}
}

func (r *RedisReader) Online(ctx context.Context) ([]string, error) {
	return ReadOnline(ctx, r.client, r.key)
}
