package app

import (
	"context"
	"kaswatch/clients/notifier"
	"kaswatch/config"
	"kaswatch/internal/feed"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/axiomhq/hyperloglog"
	"go.uber.org/zap"
)

const (
	maxRecentAlerts = 100
	alertQueueSize  = 64
)

// RecentAlertInfo holds summary info for a recent alert.
type RecentAlertInfo struct {
	Timestamp   time.Time `json:"timestamp"`
	Ticker      string    `json:"ticker"`
	KRC20       string    `json:"krc20"`
	KAS         string    `json:"kas"`
	PPU         string    `json:"ppu"`
	Attribution string    `json:"attribution,omitempty"`
	Reasons     []string  `json:"reasons"`
}

// TickerCount is how many transfers a ticker had this session.
type TickerCount struct {
	Ticker string `json:"ticker"`
	Count  int    `json:"count"`
}

// WatcherStats counts what the watcher has seen.
type WatcherStats struct {
	Transfers       int       `json:"transfers"`
	KSPRTransfers   int       `json:"kspr_transfers"`
	DistinctTickers uint64    `json:"distinct_tickers"`
	AlertsTotal     int       `json:"alerts_total"`
	AlertsLarge     int       `json:"alerts_large_transfer"`
	AlertsNewTicker int       `json:"alerts_new_ticker"`
	AlertsDropped   int       `json:"alerts_dropped"`
	LastTransferAt  time.Time `json:"-"`
	LastAlertAt     time.Time `json:"-"`
}

// TransferWatcher follows every rendered transfer, keeps session counters
// and raises alerts for large transfers and first sightings of a ticker.
type TransferWatcher struct {
	logger   *zap.Logger
	notifier notifier.Notifier
	settings func() config.NotifyConfig

	mu           sync.RWMutex
	tickers      *hyperloglog.Sketch
	tickerCounts map[string]int
	stats        WatcherStats
	recentAlerts []RecentAlertInfo
	alertHistory []time.Time

	queue chan notifier.TransferAlert
}

func NewTransferWatcher(logger *zap.Logger, n notifier.Notifier, settings func() config.NotifyConfig) *TransferWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings == nil {
		defaults := config.Defaults().Notify
		settings = func() config.NotifyConfig { return defaults }
	}
	return &TransferWatcher{
		logger:       logger,
		notifier:     n,
		settings:     settings,
		tickers:      hyperloglog.New14(),
		tickerCounts: make(map[string]int),
		recentAlerts: make([]RecentAlertInfo, 0, 10),
		queue:        make(chan notifier.TransferAlert, alertQueueSize),
	}
}

// Observe records a rendered transfer. It is meant to be installed as the
// dispatcher's OnTransfer hook and never blocks on delivery.
func (w *TransferWatcher) Observe(ev feed.TransferEvent, entry feed.Entry) {
	cfg := w.settings()
	now := time.Now()

	w.mu.Lock()
	w.stats.Transfers++
	w.stats.LastTransferAt = now
	if ev.SourceID == feed.KSPRSourceID {
		w.stats.KSPRTransfers++
	}

	isNew := false
	ticker := strings.TrimSpace(ev.Ticker)
	if ticker != "" {
		key := strings.ToUpper(ticker)
		isNew = w.tickerCounts[key] == 0
		w.tickerCounts[key]++
		w.tickers.Insert([]byte(key))
		w.stats.DistinctTickers = w.tickers.Estimate()
	}
	distinct := w.stats.DistinctTickers
	w.mu.Unlock()

	var reasons []notifier.AlertReason
	if cfg.MinKAS > 0 && !math.IsNaN(ev.BaseAmount) && ev.BaseAmount >= cfg.MinKAS {
		reasons = append(reasons, notifier.AlertReasonLargeTransfer)
	}
	if cfg.AlertNewTicker && isNew {
		reasons = append(reasons, notifier.AlertReasonNewTicker)
	}
	if len(reasons) == 0 {
		return
	}
	if ev.SourceID == feed.KSPRSourceID {
		reasons = append(reasons, notifier.AlertReasonKSPR)
	}

	alert := notifier.TransferAlert{
		Ticker:          entry.Ticker,
		KRC20Amount:     ev.TokenAmount,
		KASAmount:       ev.BaseAmount,
		PricePerUnit:    ev.PricePerUnit(),
		KRC20Text:       entry.KRC20,
		KASText:         entry.KAS,
		PPUText:         entry.PPU,
		TimeText:        entry.Time,
		Attribution:     entry.Attribution,
		DistinctTickers: distinct,
		Reasons:         reasons,
		Timestamp:       now,
	}
	if !math.IsNaN(ev.CreatedAt) {
		alert.CreatedAt = time.UnixMilli(int64(ev.CreatedAt)).UTC()
	}

	w.recordAlert(alert)

	select {
	case w.queue <- alert:
	default:
		w.mu.Lock()
		w.stats.AlertsDropped++
		w.mu.Unlock()
		w.logger.Warn("alert queue full, dropping alert", zap.String("ticker", alert.Ticker))
	}
}

func (w *TransferWatcher) recordAlert(alert notifier.TransferAlert) {
	reasons := make([]string, len(alert.Reasons))
	for i, r := range alert.Reasons {
		reasons[i] = string(r)
	}
	info := RecentAlertInfo{
		Timestamp:   alert.Timestamp,
		Ticker:      alert.Ticker,
		KRC20:       alert.KRC20Text,
		KAS:         alert.KASText,
		PPU:         alert.PPUText,
		Attribution: alert.Attribution,
		Reasons:     reasons,
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.stats.AlertsTotal++
	w.stats.LastAlertAt = alert.Timestamp
	if alert.HasReason(notifier.AlertReasonLargeTransfer) {
		w.stats.AlertsLarge++
	}
	if alert.HasReason(notifier.AlertReasonNewTicker) {
		w.stats.AlertsNewTicker++
	}

	w.recentAlerts = append([]RecentAlertInfo{info}, w.recentAlerts...)
	if len(w.recentAlerts) > maxRecentAlerts {
		w.recentAlerts = w.recentAlerts[:maxRecentAlerts]
	}

	w.alertHistory = append(w.alertHistory, alert.Timestamp)
	cutoff := alert.Timestamp.Add(-24 * time.Hour)
	i := 0
	for i < len(w.alertHistory) && w.alertHistory[i].Before(cutoff) {
		i++
	}
	w.alertHistory = w.alertHistory[i:]
}

// Run delivers queued alerts until ctx is done.
func (w *TransferWatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case alert := <-w.queue:
			if w.notifier == nil {
				continue
			}
			w.notifier.SendTransferAlert(alert)
		}
	}
}

// Stats returns the watcher counters.
func (w *TransferWatcher) Stats() WatcherStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// RecentAlerts returns the latest alerts, newest first.
func (w *TransferWatcher) RecentAlerts() []RecentAlertInfo {
	w.mu.RLock()
	defer w.mu.RUnlock()
	result := make([]RecentAlertInfo, len(w.recentAlerts))
	copy(result, w.recentAlerts)
	return result
}

// TopTickers returns the most active tickers, busiest first.
func (w *TransferWatcher) TopTickers(limit int) []TickerCount {
	w.mu.RLock()
	tickers := make([]TickerCount, 0, len(w.tickerCounts))
	for t, n := range w.tickerCounts {
		tickers = append(tickers, TickerCount{Ticker: t, Count: n})
	}
	w.mu.RUnlock()

	// Sort by count descending, ticker ascending on ties
	sort.Slice(tickers, func(i, j int) bool {
		if tickers[i].Count != tickers[j].Count {
			return tickers[i].Count > tickers[j].Count
		}
		return tickers[i].Ticker < tickers[j].Ticker
	})

	if limit > 0 && limit < len(tickers) {
		tickers = tickers[:limit]
	}
	return tickers
}

// AlertHistoryBuckets returns alert counts bucketed by time intervals for sparkline.
// Returns an array of counts, one per bucket, from oldest to newest.
func (w *TransferWatcher) AlertHistoryBuckets(duration time.Duration, buckets int) []int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	now := time.Now()
	bucketDuration := duration / time.Duration(buckets)
	result := make([]int, buckets)

	for _, t := range w.alertHistory {
		age := now.Sub(t)
		if age < 0 || age > duration {
			continue
		}
		bucketIdx := int(age / bucketDuration)
		if bucketIdx >= buckets {
			bucketIdx = buckets - 1
		}
		// Reverse index so newest is at the end
		result[buckets-1-bucketIdx]++
	}

	return result
}
