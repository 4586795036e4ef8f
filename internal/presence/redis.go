package presence

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"telecare/internal/domain"
)

// RedisDirectory mirrors participant status into Redis so other services can
// read it. Each participant is a hash at presence:{id}.
type RedisDirectory struct {
	client *redis.Client
}

var _ domain.ParticipantDirectory = (*RedisDirectory)(nil)

// NewRedisDirectory connects to url and checks the server answers.
func NewRedisDirectory(ctx context.Context, url string) (*RedisDirectory, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisDirectory{client: c}, nil
}

func presenceKey(participantID string) string {
	return "presence:" + participantID
}

func (d *RedisDirectory) SetStatus(ctx context.Context, p domain.Peer, online bool, at time.Time) error {
	flag := "0"
	if online {
		flag = "1"
	}
	err := d.client.HSet(ctx, presenceKey(p.ID),
		"online", flag,
		"role", string(p.Role),
		"last_active", at.UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: redis presence: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

func (d *RedisDirectory) Get(ctx context.Context, participantID string) (*domain.Participant, error) {
	fields, err := d.client.HGetAll(ctx, presenceKey(participantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: redis presence: %v", domain.ErrStorageUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	p := &domain.Participant{
		ID:       participantID,
		Role:     domain.Role(fields["role"]),
		IsOnline: fields["online"] == "1",
	}
	if ts := fields["last_active"]; ts != "" {
		if p.LastActive, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("redis presence: bad last_active %q: %w", ts, err)
		}
	}
	return p, nil
}

func (d *RedisDirectory) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

func (d *RedisDirectory) Close() error {
	return d.client.Close()
}
