package exchanges

import (
	"context"
	"fmt"
	"io"
	"kaswatch/internal/feed"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/58.0.3029.110 Safari/537.36"

// Options tunes the HTTP side of the client.
type Options struct {
	Timeout           time.Duration
	RequestsPerSecond float64
}

// ExchangeClient fetches KAS last prices from a fixed set of exchanges.
type ExchangeClient struct {
	logger     *zap.Logger
	httpClient *http.Client
	limiter    *rate.Limiter
	sources    []Source
	now        func() time.Time
}

func NewExchangeClient(logger *zap.Logger, sources []Source, opts Options) *ExchangeClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &ExchangeClient{
		logger: logger,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		limiter: rate.NewLimiter(limit, 1),
		sources: sources,
		now:     time.Now,
	}
}

// Names returns the exchange names in sample order.
func (c *ExchangeClient) Names() []string {
	return SourceNames(c.sources)
}

// FetchAll queries every exchange concurrently and returns one sample. An
// exchange that fails contributes a nil price; the order of the sample always
// matches the source order.
func (c *ExchangeClient) FetchAll(ctx context.Context) feed.RateSample {
	prices := make([]feed.SourcePrice, len(c.sources))

	var wg sync.WaitGroup
	for i, src := range c.sources {
		prices[i] = feed.SourcePrice{Name: src.Name}

		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()

			price, err := c.Fetch(ctx, src)
			if err != nil {
				c.logger.Warn("exchange price fetch failed",
					zap.String("exchange", src.Name),
					zap.Error(err),
				)
				return
			}
			prices[i].Price = feed.Price(price.InexactFloat64())
		}(i, src)
	}
	wg.Wait()

	return feed.RateSample{
		Timestamp: c.now().UnixMilli(),
		PerSource: prices,
	}
}

// Fetch queries a single exchange.
func (c *ExchangeClient) Fetch(ctx context.Context, src Source) (decimal.Decimal, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("rate limit: %w", err)
	}

	body, err := c.doGet(ctx, src.URL)
	if err != nil {
		return decimal.Zero, err
	}

	d, err := src.Extract(body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("extract %s price: %w", src.Name, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("extract %s price: non-positive %s", src.Name, d.String())
	}
	return d, nil
}

func (c *ExchangeClient) doGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(body))
	}

	return body, nil
}
