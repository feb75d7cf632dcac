// Package redis pushes records onto a Redis list.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/trailpipe/internal/config"
	"github.com/yairfalse/trailpipe/internal/sink"
	"github.com/yairfalse/trailpipe/pkg/record"
)

// DefaultPort is used when the output sets no port.
const DefaultPort = 6379

const socketTimeout = 30 * time.Second

// Client defines the Redis operations used by the sink.
type Client interface {
	RPush(ctx context.Context, key string, values ...interface{}) *goredis.IntCmd
	Ping(ctx context.Context) *goredis.StatusCmd
	Close() error
}

// Sink appends JSON records to a list with RPUSH.
type Sink struct {
	client Client
	addr   string
	key    string
}

// New creates a Sink and checks the server answers PING.
func New(ctx context.Context, client Client, addr, key string) (*Sink, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	log.Info().Str("addr", addr).Str("key", key).Msg("connected to redis")
	return &Sink{client: client, addr: addr, key: key}, nil
}

// FromConfig is the sink.Constructor for "redis" outputs.
func FromConfig(ctx context.Context, cfg config.OutputConfig, _ sink.Env) (sink.Sink, error) {
	if cfg.Host == "" {
		return nil, errors.New("redis: host is required")
	}
	if cfg.Key == "" {
		return nil, errors.New("redis: key is required")
	}
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	client := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		DB:           0,
		DialTimeout:  socketTimeout,
		ReadTimeout:  socketTimeout,
		WriteTimeout: socketTimeout,
	})
	return New(ctx, client, addr, cfg.Key)
}

// Name returns the sink identifier.
func (s *Sink) Name() string {
	return "redis:" + s.addr + "/" + s.key
}

// Deliver pushes the JSON-encoded record onto the list.
func (s *Sink) Deliver(ctx context.Context, rec record.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := s.client.RPush(ctx, s.key, data).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", s.key, err)
	}
	return nil
}

// Close closes the client connection pool.
func (s *Sink) Close() error {
	return s.client.Close()
}
