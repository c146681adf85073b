package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"kaswatch/internal/feed"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type fakeCommander struct {
	store     map[string]string
	published map[string][]string
	setErr    error
	pingErr   error
	closed    bool
}

func newFakeCommander() *fakeCommander {
	return &fakeCommander{
		store:     make(map[string]string),
		published: make(map[string][]string),
	}
}

func (f *fakeCommander) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.pingErr)
}

func (f *fakeCommander) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	f.store[key] = toString(value)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeCommander) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := f.store[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeCommander) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.published[channel] = append(f.published[channel], toString(message))
	return redis.NewIntResult(1, nil)
}

func (f *fakeCommander) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return nil
}

func (f *fakeCommander) Close() error {
	f.closed = true
	return nil
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case string:
		return t
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func TestNewBus_Defaults(t *testing.T) {
	bus := newBus(nil, newFakeCommander(), Options{})

	if bus.logger == nil {
		t.Error("expected logger to be set")
	}
	if bus.channel != DefaultChannel {
		t.Errorf("unexpected channel: %s", bus.channel)
	}
	if bus.ratesKey != DefaultRatesKey {
		t.Errorf("unexpected rates key: %s", bus.ratesKey)
	}
}

func TestPublish_Rates(t *testing.T) {
	fc := newFakeCommander()
	bus := newBus(zap.NewNop(), fc, Options{})

	sample := feed.RateSample{
		Timestamp: 1700000000000,
		PerSource: []feed.SourcePrice{
			{Name: "kraken", Price: feed.Price(0.12)},
			{Name: "mexc"},
		},
	}
	if err := bus.Publish(context.Background(), feed.MethodRates, sample); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored := fc.store[DefaultRatesKey]
	if stored != `{"timestamp":1700000000000,"data":[["kraken",0.12],["mexc",null]]}` {
		t.Errorf("unexpected stored snapshot: %s", stored)
	}

	msgs := fc.published[DefaultChannel]
	if len(msgs) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(msgs))
	}

	var env feed.Envelope
	if err := json.Unmarshal([]byte(msgs[0]), &env); err != nil {
		t.Fatalf("published message is not an envelope: %v", err)
	}
	if env.Method != feed.MethodRates {
		t.Errorf("unexpected method: %s", env.Method)
	}

	if got := bus.Stats().Published; got != 1 {
		t.Errorf("expected 1 published, got %d", got)
	}
}

func TestPublish_TransferDoesNotStoreSnapshot(t *testing.T) {
	fc := newFakeCommander()
	bus := newBus(nil, fc, Options{Channel: "feed"})

	payload := feed.TransferPayload{IDSource: 1, Ticker: "NACHO", KRC20Amount: 1000, KASAmount: 5}
	if err := bus.Publish(context.Background(), feed.MethodTransfer, payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fc.store) != 0 {
		t.Errorf("transfer should not be stored: %v", fc.store)
	}
	if len(fc.published["feed"]) != 1 {
		t.Errorf("expected message on custom channel, got %v", fc.published)
	}
}

func TestPublish_SetError(t *testing.T) {
	fc := newFakeCommander()
	fc.setErr = errors.New("READONLY")
	bus := newBus(nil, fc, Options{})

	err := bus.Publish(context.Background(), feed.MethodRates, feed.RateSample{})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(fc.published) != 0 {
		t.Error("nothing should be published when the snapshot write fails")
	}
}

func TestLatestRates(t *testing.T) {
	fc := newFakeCommander()
	bus := newBus(nil, fc, Options{})

	_, ok, err := bus.LatestRates(context.Background())
	if err != nil || ok {
		t.Errorf("expected no snapshot, got ok=%v err=%v", ok, err)
	}

	fc.store[DefaultRatesKey] = `{"data":[["bybit",0.5]],"timestamp":42}`
	sample, ok, err := bus.LatestRates(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected snapshot, got ok=%v err=%v", ok, err)
	}
	if sample.Timestamp != 42 || len(sample.PerSource) != 1 || *sample.PerSource[0].Price != 0.5 {
		t.Errorf("unexpected sample: %+v", sample)
	}

	fc.store[DefaultRatesKey] = `not json`
	if _, _, err := bus.LatestRates(context.Background()); err == nil {
		t.Error("expected decode error")
	}
}

func TestPingAndClose(t *testing.T) {
	fc := newFakeCommander()
	bus := newBus(nil, fc, Options{})

	if err := bus.Ping(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	fc.pingErr = errors.New("connection refused")
	if err := bus.Ping(context.Background()); err == nil {
		t.Error("expected ping error")
	}

	if err := bus.Close(); err != nil || !fc.closed {
		t.Error("expected client to be closed")
	}
}

// TestSubscribe_Live runs against a local Redis and is skipped when none is
// reachable.
func TestSubscribe_Live(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bus := NewBus(zap.NewNop(), Options{Addr: "localhost:6379", Channel: "kaswatch-test"})
	defer bus.Close()

	if err := bus.Ping(ctx); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	msgs, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := bus.Publish(ctx, "ping", map[string]int{"n": 1}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case raw := <-msgs:
		var env feed.Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Method != "ping" {
			t.Errorf("unexpected message %s (err %v)", raw, err)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for published message")
	}
}
