package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kiliankoe/turnwarden/internal/journal"
	"github.com/redis/go-redis/v9"
)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// TTL of archived journals, 0 keeps them forever.
	TTL time.Duration
}

// RedisSink stores each archived journal as a list of JSON entries under
// session:<code>:journal.
type RedisSink struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSink connects and pings the server before returning.
func NewRedisSink(ctx context.Context, opts RedisOptions) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisSink{client: client, ttl: opts.TTL}, nil
}

func (r *RedisSink) Archive(ctx context.Context, code string, entries []journal.Entry) error {
	values := make([]any, len(entries))
	for i, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal entry %s: %w", e.ID, err)
		}
		values[i] = data
	}

	key := journalKey(code)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) > 0 {
			pipe.RPush(ctx, key, values...)
		}
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to archive journal: %w", err)
	}
	return nil
}

// Journal reads back an archived journal as raw JSON entries.
func (r *RedisSink) Journal(ctx context.Context, code string) ([]json.RawMessage, error) {
	items, err := r.client.LRange(ctx, journalKey(code), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	out := make([]json.RawMessage, len(items))
	for i, it := range items {
		out[i] = json.RawMessage(it)
	}
	return out, nil
}

func (r *RedisSink) Close() error {
	return r.client.Close()
}

func journalKey(code string) string {
	return fmt.Sprintf("session:%s:journal", code)
}
