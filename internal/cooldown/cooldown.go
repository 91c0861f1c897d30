// Package cooldown remembers until when the delivery channel asked us to stop sending.
// Ticks consult it before claiming, so reminders are not claimed only to be released again.
package cooldown

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

type Gate interface {
	// Until returns the end of the current cooldown; the zero time means none was set.
	Until(ctx context.Context) (time.Time, error)
	// Extend moves the cooldown end to until. An earlier until never shortens it.
	Extend(ctx context.Context, until time.Time) error
}

// Memory is a process-local Gate, enough for a single server.
type Memory struct {
	mu    sync.Mutex
	until time.Time
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Until(context.Context) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.until, nil
}

func (m *Memory) Extend(_ context.Context, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if until.After(m.until) {
		m.until = until
	}
	return nil
}

// extendScript keeps the later of the stored and the requested end, expiring the key with it.
var extendScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if tonumber(ARGV[1]) > current then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
	return 1
end
return 0
`)

// Redis shares the cooldown between every server behind the same trigger.
type Redis struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

func NewRedis(client *redis.Client, key string) *Redis {
	return &Redis{client: client, key: key, now: time.Now}
}

func (r *Redis) Until(ctx context.Context) (time.Time, error) {
	ms, err := r.client.Get(ctx, r.key).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get cooldown: %w", err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

func (r *Redis) Extend(ctx context.Context, until time.Time) error {
	ttl := until.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	// PX must be a positive whole number of milliseconds.
	ttlMS := ttl.Milliseconds() + 1

	err := extendScript.Run(ctx, r.client, []string{r.key},
		strconv.FormatInt(until.UnixMilli(), 10),
		strconv.FormatInt(ttlMS, 10),
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("extend cooldown: %w", err)
	}
	return nil
}

// Key is the Redis key holding the cooldown of one delivery channel.
func Key(channel string) string {
	return "reminders:cooldown:" + channel
}
