package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"kaswatch/internal/feed"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultChannel  = "updates"
	DefaultRatesKey = "kas-rates"
)

// commander is the subset of *redis.Client the bus uses.
type commander interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
	Close() error
}

type Options struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	RatesKey string
}

// Bus carries feed envelopes over Redis pub/sub and keeps the latest rates
// payload under a plain key so late joiners can seed their chart.
type Bus struct {
	logger   *zap.Logger
	client   commander
	channel  string
	ratesKey string

	published uint64
	received  uint64
}

// NewBus dials Redis with opts.
func NewBus(logger *zap.Logger, opts Options) *Bus {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return newBus(logger, client, opts)
}

func newBus(logger *zap.Logger, client commander, opts Options) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Channel == "" {
		opts.Channel = DefaultChannel
	}
	if opts.RatesKey == "" {
		opts.RatesKey = DefaultRatesKey
	}
	return &Bus{
		logger:   logger,
		client:   client,
		channel:  opts.Channel,
		ratesKey: opts.RatesKey,
	}
}

// Ping checks the connection to the Redis server.
func (b *Bus) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Publish wraps payload in an envelope and publishes it. A rates payload is
// also stored under the rates key.
func (b *Bus) Publish(ctx context.Context, method string, payload any) error {
	env, err := feed.EncodeEnvelope(method, payload)
	if err != nil {
		return err
	}

	if method == feed.MethodRates {
		inner, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode rates snapshot: %w", err)
		}
		if err := b.client.Set(ctx, b.ratesKey, inner, 0).Err(); err != nil {
			return fmt.Errorf("redis set %s: %w", b.ratesKey, err)
		}
	}

	if err := b.client.Publish(ctx, b.channel, env).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", b.channel, err)
	}
	atomic.AddUint64(&b.published, 1)
	return nil
}

// LatestRates returns the stored rates payload. ok is false when nothing has
// been stored yet.
func (b *Bus) LatestRates(ctx context.Context) (sample feed.RateSample, ok bool, err error) {
	raw, err := b.client.Get(ctx, b.ratesKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return feed.RateSample{}, false, nil
	}
	if err != nil {
		return feed.RateSample{}, false, fmt.Errorf("redis get %s: %w", b.ratesKey, err)
	}
	sample, err = feed.ParseRates(raw)
	if err != nil {
		return feed.RateSample{}, false, err
	}
	return sample, true, nil
}

// Subscribe forwards every envelope published on the channel until ctx is
// done. The returned channel is closed when the subscription ends.
func (b *Bus) Subscribe(ctx context.Context) (<-chan []byte, error) {
	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", b.channel, err)
	}

	b.logger.Info("redis subscription started", zap.String("channel", b.channel))

	out := make(chan []byte, 256)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					b.logger.Warn("redis subscription channel closed", zap.String("channel", b.channel))
					return
				}
				atomic.AddUint64(&b.received, 1)
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

type BusStats struct {
	Published uint64 `json:"published"`
	Received  uint64 `json:"received"`
}

func (b *Bus) Stats() BusStats {
	return BusStats{
		Published: atomic.LoadUint64(&b.published),
		Received:  atomic.LoadUint64(&b.received),
	}
}

func (b *Bus) Close() error {
	return b.client.Close()
}
