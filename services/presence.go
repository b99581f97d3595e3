package services

import (
	"context"
	"fmt"
	"time"

	"go-tracker/models"

	"github.com/redis/go-redis/v9"
)

const presenceKeyPrefix = "tracker:presence:"

// Presence tracks liveness separately from the stored online flag.
type Presence interface {
	Touch(ctx context.Context, userID string) error
	Clear(ctx context.Context, userID string) error
	// Online reports liveness for each user, keyed by hex ID.
	Online(ctx context.Context, users []models.User) (map[string]bool, error)
}

// RedisPresence keeps one expiring key per live user.
type RedisPresence struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisPresence(rdb *redis.Client, ttl time.Duration) *RedisPresence {
	return &RedisPresence{rdb: rdb, ttl: ttl}
}

func presenceKey(userID string) string {
	return presenceKeyPrefix + userID
}

func (p *RedisPresence) Touch(ctx context.Context, userID string) error {
	if err := p.rdb.Set(ctx, presenceKey(userID), time.Now().Unix(), p.ttl).Err(); err != nil {
		return fmt.Errorf("touch presence %s: %w", userID, err)
	}
	return nil
}

func (p *RedisPresence) Clear(ctx context.Context, userID string) error {
	if err := p.rdb.Del(ctx, presenceKey(userID)).Err(); err != nil {
		return fmt.Errorf("clear presence %s: %w", userID, err)
	}
	return nil
}

func (p *RedisPresence) Online(ctx context.Context, users []models.User) (map[string]bool, error) {
	out := make(map[string]bool, len(users))
	if len(users) == 0 {
		return out, nil
	}

	pipe := p.rdb.Pipeline()
	cmds := make(map[string]*redis.IntCmd, len(users))
	for _, u := range users {
		id := u.ID.Hex()
		cmds[id] = pipe.Exists(ctx, presenceKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("read presence: %w", err)
	}
	for id, cmd := range cmds {
		out[id] = cmd.Val() > 0
	}
	return out, nil
}

func (p *RedisPresence) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

// FreshnessPresence derives liveness from the stored lastSeen stamp.
type FreshnessPresence struct {
	ttl time.Duration
	now func() time.Time
}

func NewFreshnessPresence(ttl time.Duration) *FreshnessPresence {
	return &FreshnessPresence{ttl: ttl, now: time.Now}
}

// Touch is a no-op; the store stamps lastSeen on every write.
func (p *FreshnessPresence) Touch(context.Context, string) error { return nil }

func (p *FreshnessPresence) Clear(context.Context, string) error { return nil }

func (p *FreshnessPresence) Online(_ context.Context, users []models.User) (map[string]bool, error) {
	now := p.now()
	out := make(map[string]bool, len(users))
	for _, u := range users {
		out[u.ID.Hex()] = u.LastSeen != nil && now.Sub(*u.LastSeen) <= p.ttl
	}
	return out, nil
}

// resolveOnline gates each stored online flag by live presence. On presence
// errors the stored flags are left as they are.
func resolveOnline(ctx context.Context, presence Presence, users []models.User) error {
	if presence == nil || len(users) == 0 {
		return nil
	}
	live, err := presence.Online(ctx, users)
	if err != nil {
		return err
	}
	for i := range users {
		users[i].IsOnline = users[i].IsOnline && live[users[i].ID.Hex()]
	}
	return nil
}
