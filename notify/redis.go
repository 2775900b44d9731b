package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/warp/sales-engine/sales"
)

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	MaxRetries  int
	DialTimeout time.Duration
	Timeout     time.Duration

	// Prefix is prepended to the event type to form the channel name,
	// e.g. "sales:" publishes approvals on "sales:sale.approved".
	Prefix string
}

// RedisPublisher publishes every event as JSON on a per-type channel.
type RedisPublisher struct {
	raw    *redis.Client
	prefix string
}

var _ sales.Notifier = (*RedisPublisher)(nil)

// NewRedisPublisher connects and pings the server.
func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", cfg.Addr, err)
	}

	return NewRedisPublisherFromClient(rdb, cfg.Prefix), nil
}

// NewRedisPublisherFromClient wraps an existing client.
func NewRedisPublisherFromClient(rdb *redis.Client, prefix string) *RedisPublisher {
	return &RedisPublisher{raw: rdb, prefix: prefix}
}

// Channel is the channel events of typ are published on.
func (p *RedisPublisher) Channel(typ sales.EventType) string {
	return p.prefix + string(typ)
}

func (p *RedisPublisher) Notify(ctx context.Context, ev sales.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event %s: %w", ev.Type, err)
	}
	if err := p.raw.Publish(ctx, p.Channel(ev.Type), data).Err(); err != nil {
		return fmt.Errorf("publishing %s: %w", ev.Type, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	if p.raw == nil {
		return nil
	}
	return p.raw.Close()
}
