package telemetry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"windbuck-go/types"
)

// Sink receives the decimated sample stream.
type Sink interface {
	Write(ctx context.Context, s types.Sample) error
	Close() error
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	ListLen  int64 // 0 keeps the list unbounded
}

// RedisSink publishes each sample as JSON on a channel and keeps the recent
// history in the list buck:<session>:samples.
type RedisSink struct {
	client  *redis.Client
	channel string
	listLen int64
	log     *logrus.Entry
}

// ListKey is the per-session history list.
func ListKey(session string) string { return fmt.Sprintf("buck:%s:samples", session) }

// NewRedisSink connects and pings the server.
func NewRedisSink(ctx context.Context, cfg RedisConfig, log *logrus.Entry) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}
	log.WithField("addr", cfg.Addr).Info("redis sink connected")
	return &RedisSink{client: client, channel: cfg.Channel, listLen: cfg.ListLen, log: log}, nil
}

func encodeSample(s types.Sample) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode sample: %w", err)
	}
	return b, nil
}

func (r *RedisSink) Write(ctx context.Context, s types.Sample) error {
	data, err := encodeSample(s)
	if err != nil {
		return err
	}
	key := ListKey(s.Session)
	_, err = r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		if r.channel != "" {
			p.Publish(ctx, r.channel, data)
		}
		p.LPush(ctx, key, data)
		if r.listLen > 0 {
			p.LTrim(ctx, key, 0, r.listLen-1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis write: %w", err)
	}
	return nil
}

func (r *RedisSink) Close() error { return r.client.Close() }
