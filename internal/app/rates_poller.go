package app

import (
	"context"
	"kaswatch/internal/feed"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RateFetcher takes one price from every configured exchange.
type RateFetcher interface {
	FetchAll(ctx context.Context) feed.RateSample
}

// RatesPoller samples exchange prices on a fixed interval and publishes each
// sample as a rates envelope.
type RatesPoller struct {
	logger   *zap.Logger
	fetcher  RateFetcher
	pub      Publisher
	interval time.Duration

	mu           sync.RWMutex
	polls        int
	published    int
	failures     int
	emptyRounds  int
	lastSampleAt time.Time
}

// RatesPollerStats counts poller activity.
type RatesPollerStats struct {
	Polls        int       `json:"polls"`
	Published    int       `json:"published"`
	Failures     int       `json:"failures"`
	EmptyRounds  int       `json:"empty_rounds"`
	LastSampleAt time.Time `json:"-"`
}

func NewRatesPoller(logger *zap.Logger, fetcher RateFetcher, pub Publisher, interval time.Duration) *RatesPoller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RatesPoller{
		logger:   logger,
		fetcher:  fetcher,
		pub:      pub,
		interval: interval,
	}
}

// Run polls once immediately and then on every tick until ctx is done.
func (p *RatesPoller) Run(ctx context.Context) {
	p.logger.Info("rates poller started", zap.Duration("interval", p.interval))

	p.Poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("rates poller stopping")
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll fetches one sample and publishes it. A round in which no exchange
// answered is still published so the series stay in lockstep.
func (p *RatesPoller) Poll(ctx context.Context) {
	sample := p.fetcher.FetchAll(ctx)
	if ctx.Err() != nil {
		return
	}

	answered := 0
	for _, sp := range sample.PerSource {
		if sp.Price != nil {
			answered++
		}
	}

	err := p.pub.Publish(ctx, feed.MethodRates, sample)

	p.mu.Lock()
	p.polls++
	if answered == 0 {
		p.emptyRounds++
	}
	if err != nil {
		p.failures++
	} else {
		p.published++
		p.lastSampleAt = time.Now()
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("failed to publish rates", zap.Error(err))
		return
	}

	p.logger.Debug("rates published",
		zap.Int64("timestamp", sample.Timestamp),
		zap.Int("answered", answered),
		zap.Int("sources", len(sample.PerSource)),
	)
}

// Stats returns the poller counters.
func (p *RatesPoller) Stats() RatesPollerStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return RatesPollerStats{
		Polls:        p.polls,
		Published:    p.published,
		Failures:     p.failures,
		EmptyRounds:  p.emptyRounds,
		LastSampleAt: p.lastSampleAt,
	}
}
