package app

import (
	"context"
	"fmt"
	clts "kaswatch/clients"
	"kaswatch/clients/kspr"
	"kaswatch/config"
	"kaswatch/internal/feed"
	"kaswatch/internal/surface"
	"net/http"
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ensure Runner implements ConfigObserver
var _ config.ConfigObserver = (*Runner)(nil)

// Build info - populated from embedded VCS info at init time
var (
	BuildCommit = "dev"
	BuildTime   = "unknown"
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if setting.Value != "" {
					BuildCommit = setting.Value
				}
			case "vcs.time":
				BuildTime = setting.Value
			}
		}
	}
}

type Runner struct {
	clients    *clts.Clients
	liveConfig *config.LiveConfig
	baseline   *config.Config

	board      *surface.Board
	aggregator *feed.Aggregator // owned by the dispatch goroutine
	sources    []string
	window     int
	dispatcher *feed.Dispatcher
	watcher    *TransferWatcher
	hub        *Hub
	publisher  Publisher
	poller     *RatesPoller
	listener   *kspr.Listener

	healthServer *http.Server
	startTime    time.Time
	reconnects   int64
}

// ServiceStats holds comprehensive service statistics.
type ServiceStats struct {
	// Build info
	Build struct {
		Commit    string `json:"commit"`
		Time      string `json:"time,omitempty"`
		GoVersion string `json:"go_version"`
	} `json:"build"`

	// Service info
	StartTime     string `json:"start_time"`
	Uptime        string `json:"uptime"`
	UptimeSec     int64  `json:"uptime_seconds"`
	ConfigVersion int    `json:"config_version"`

	// Feed consumer stats
	Feed struct {
		Enabled        bool   `json:"enabled"`
		URL            string `json:"url,omitempty"`
		Connected      bool   `json:"connected"`
		Reconnects     int64  `json:"reconnects"`
		MessageCount   uint64 `json:"message_count"`
		DroppedCount   uint64 `json:"dropped_count"`
		LastMessageAt  string `json:"last_message_at,omitempty"`
		LastMessageAgo string `json:"last_message_ago,omitempty"`
	} `json:"feed"`

	Dispatch feed.DispatchStats `json:"dispatch"`

	// Chart state
	Chart struct {
		Sources []string           `json:"sources"`
		Window  int                `json:"window"`
		Points  int                `json:"points"`
		Bounds  feed.DisplayBounds `json:"bounds"`
	} `json:"chart"`

	// Producer side
	Producers struct {
		Bus      string           `json:"bus"`        // "redis" or "local"
		Hub      HubStats         `json:"hub"`
		Rates    RatesPollerStats `json:"rates"`
		RatesAgo string           `json:"rates_ago,omitempty"`
		KSPR     struct {
			Enabled  bool   `json:"enabled"`
			Accepted uint64 `json:"accepted"`
			Rejected uint64 `json:"rejected"`
		} `json:"kspr"`
		RedisPublished uint64 `json:"redis_published,omitempty"`
		RedisReceived  uint64 `json:"redis_received,omitempty"`
	} `json:"producers"`

	// Transfer stats
	Transfers      WatcherStats      `json:"transfers"`
	LastTransferAt string            `json:"last_transfer_at,omitempty"`
	TopTickers     []TickerCount     `json:"top_tickers"`
	RecentAlerts   []RecentAlertInfo `json:"recent_alerts"`
	LastAlertAt    string            `json:"last_alert_at,omitempty"`
	LastAlertAgo   string            `json:"last_alert_ago,omitempty"`

	// Alert sparkline (last hour, 12 buckets = 5 min each)
	AlertSparkline []int `json:"alert_sparkline"`

	// Notification status
	Notifications struct {
		DiscordEnabled   bool    `json:"discord_enabled"`
		DiscordChannelID string  `json:"discord_channel_id,omitempty"`
		TelegramEnabled  bool    `json:"telegram_enabled"`
		TelegramChatID   string  `json:"telegram_chat_id,omitempty"`
		MinKAS           float64 `json:"min_kas"`
		AlertNewTicker   bool    `json:"alert_new_ticker"`
	} `json:"notifications"`

	// Runtime stats
	Runtime struct {
		Goroutines int    `json:"goroutines"`
		HeapAlloc  uint64 `json:"heap_alloc"` // bytes currently allocated on heap
		HeapSys    uint64 `json:"heap_sys"`   // bytes obtained from system for heap
		NumGC      uint32 `json:"num_gc"`     // number of completed GC cycles
		LastGC     string `json:"last_gc"`    // time of last GC
		GoVersion  string `json:"go_version"` // Go version
		NumCPU     int    `json:"num_cpu"`    // number of CPUs
		GOOS       string `json:"goos"`       // operating system
		GOARCH     string `json:"goarch"`     // architecture
	} `json:"runtime"`
}

func NewRunner(clients *clts.Clients, liveConfig *config.LiveConfig) *Runner {
	return &Runner{
		clients:    clients,
		liveConfig: liveConfig,
		baseline:   liveConfig.Get(),
	}
}

// OnConfigUpdate is called when the config changes.
// Implements config.ConfigObserver interface.
//
// Notify settings are read on every transfer, so they apply immediately.
// Everything else is wired once at startup and takes effect on restart.
func (r *Runner) OnConfigUpdate(cfg *config.Config) {
	r.clients.Logger.Info("config update received",
		zap.Float64("minKAS", cfg.Notify.MinKAS),
		zap.Bool("alertNewTicker", cfg.Notify.AlertNewTicker),
	)
}

// setup builds the board, the chart and the dispatcher from cfg.
func (r *Runner) setup(cfg *config.Config) error {
	logger := r.clients.Logger

	r.board = surface.NewBoard(logger)

	aggregator, err := feed.NewAggregator(
		cfg.Chart.Sources,
		r.board,
		feed.WithWindow(cfg.Chart.Window),
		feed.WithAggregatorLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("build rate chart: %w", err)
	}
	r.aggregator = aggregator
	r.sources = append([]string(nil), cfg.Chart.Sources...)
	r.window = aggregator.Window()

	renderer := feed.NewRenderer(
		logger,
		r.board,
		r.board,
		r.board,
		r.board,
		feed.WithHighlight(cfg.Render.HighlightDuration),
	)

	r.watcher = NewTransferWatcher(logger, r.clients.Notifier, r.liveConfig.Notify)

	r.dispatcher = feed.NewDispatcher(logger, renderer, aggregator)
	r.dispatcher.OnTransfer = r.watcher.Observe

	r.hub = NewHub(logger)
	r.publisher = r.hub

	return nil
}

// connectBus routes producers through redis and relays the channel into the
// hub. Without redis the hub is the publisher.
func (r *Runner) connectBus(ctx context.Context) error {
	bus := r.clients.Bus
	if bus == nil {
		return nil
	}
	logger := r.clients.Logger

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := bus.Ping(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	msgs, err := bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	go r.hub.Pump(ctx, msgs)

	loadCtx, loadCancel := context.WithTimeout(ctx, 5*time.Second)
	sample, ok, err := bus.LatestRates(loadCtx)
	loadCancel()
	switch {
	case err != nil:
		logger.Warn("failed to load latest rates from redis", zap.Error(err))
	case ok:
		if err := r.hub.SetLatestRates(sample); err != nil {
			logger.Warn("failed to seed hub with latest rates", zap.Error(err))
		} else {
			logger.Info("seeded hub with latest rates", zap.Int64("timestamp", sample.Timestamp))
		}
	}

	r.publisher = bus
	return nil
}

func (r *Runner) Run(ctx context.Context) error {
	r.startTime = time.Now()
	logger := r.clients.Logger
	cfg := r.liveConfig.Get()

	// Register as config observer for hot-reload
	r.liveConfig.AddObserver(r)

	if err := r.setup(cfg); err != nil {
		return err
	}

	if err := r.connectBus(ctx); err != nil {
		return err
	}

	go r.watcher.Run(ctx)

	if cfg.Rates.Enabled {
		r.poller = NewRatesPoller(logger, r.clients.Exchanges, r.publisher, cfg.Rates.PollInterval)
		go r.poller.Run(ctx)
	}

	if cfg.KSPR.BotToken != "" {
		listener, err := kspr.NewListener(logger, kspr.Options{
			BotToken: cfg.KSPR.BotToken,
			ChatID:   cfg.KSPR.ChatID,
			SenderID: cfg.KSPR.SenderID,
		}, r.publisher)
		if err != nil {
			logger.Warn("kspr listener disabled", zap.Error(err))
		} else {
			r.listener = listener
			go listener.Run(ctx)
		}
	}

	// Started once every field GetStats reads is wired
	if cfg.HealthServer.Enabled {
		r.startHealthServer(cfg.HealthServer.Port)
		logger.Info("health server started", zap.Int("port", cfg.HealthServer.Port))
	}

	if r.clients.Feed != nil {
		go r.dispatcher.Run(ctx, r.clients.Feed.Messages())
		go r.runFeed(ctx, cfg.Feed.ReconnectDelay)
	}

	logger.Info("kaswatch started",
		zap.Strings("sources", cfg.Chart.Sources),
		zap.Int("window", r.window),
		zap.Bool("redis", r.clients.Bus != nil),
		zap.Bool("rates", cfg.Rates.Enabled),
		zap.Bool("kspr", r.listener != nil),
		zap.Bool("feed", r.clients.Feed != nil),
	)

	<-ctx.Done()
	logger.Info("runner shutting down")

	// Close feed connection
	if r.clients.Feed != nil {
		_ = r.clients.Feed.Close()
	}

	r.hub.Close()

	// Shutdown health server
	if r.healthServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = r.healthServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	return nil
}

// runFeed keeps the feed connection open, redialing after every failure.
func (r *Runner) runFeed(ctx context.Context, delay time.Duration) {
	logger := r.clients.Logger
	fc := r.clients.Feed

	for {
		// Pass the parent context: Connect closes the connection when it is done.
		if err := fc.Connect(ctx); err != nil {
			logger.Warn("feed connect failed", zap.String("url", fc.URL()), zap.Error(err))
		} else {
			logger.Info("feed connected", zap.String("url", fc.URL()))
			select {
			case <-ctx.Done():
				return
			case err := <-fc.Errors():
				logger.Warn("feed connection lost", zap.Error(err))
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		atomic.AddInt64(&r.reconnects, 1)
	}
}

// GetStats returns comprehensive service statistics.
func (r *Runner) GetStats() ServiceStats {
	var stats ServiceStats

	// Build info
	stats.Build.Commit = BuildCommit
	stats.Build.Time = BuildTime
	stats.Build.GoVersion = runtime.Version()

	// Service info
	stats.StartTime = stamp(r.startTime)
	uptime := time.Since(r.startTime)
	stats.Uptime = uptime.Round(time.Second).String()
	stats.UptimeSec = int64(uptime.Seconds())
	stats.ConfigVersion = r.liveConfig.Version()

	// Feed stats
	stats.Feed.Enabled = r.clients.Feed != nil
	if fc := r.clients.Feed; fc != nil {
		wsStats := fc.Stats()
		stats.Feed.URL = fc.URL()
		stats.Feed.Connected = fc.Connected()
		stats.Feed.Reconnects = atomic.LoadInt64(&r.reconnects)
		stats.Feed.MessageCount = wsStats.MessageCount
		stats.Feed.DroppedCount = wsStats.DroppedCount
		stats.Feed.LastMessageAt = stamp(wsStats.LastMessageAt)
		stats.Feed.LastMessageAgo = ago(wsStats.LastMessageAt)
	}

	if r.dispatcher != nil {
		stats.Dispatch = r.dispatcher.Stats()
	}

	// Chart state comes from the board; the aggregator belongs to the
	// dispatch goroutine.
	stats.Chart.Sources = append([]string{}, r.sources...)
	stats.Chart.Window = r.window
	if r.board != nil {
		frame := r.board.Chart()
		stats.Chart.Bounds = frame.Bounds
		if len(frame.Series) > 0 {
			stats.Chart.Points = len(frame.Series[0].Points)
		}
	}

	// Producer stats
	stats.Producers.Bus = "local"
	if bus := r.clients.Bus; bus != nil {
		stats.Producers.Bus = "redis"
		busStats := bus.Stats()
		stats.Producers.RedisPublished = busStats.Published
		stats.Producers.RedisReceived = busStats.Received
	}
	if r.hub != nil {
		stats.Producers.Hub = r.hub.Stats()
	}
	if r.poller != nil {
		stats.Producers.Rates = r.poller.Stats()
		stats.Producers.RatesAgo = ago(stats.Producers.Rates.LastSampleAt)
	}
	if r.listener != nil {
		ls := r.listener.Stats()
		stats.Producers.KSPR.Enabled = true
		stats.Producers.KSPR.Accepted = ls.Accepted
		stats.Producers.KSPR.Rejected = ls.Rejected
	}

	// Transfer and alert stats
	if r.watcher != nil {
		stats.Transfers = r.watcher.Stats()
		stats.LastTransferAt = stamp(stats.Transfers.LastTransferAt)
		stats.LastAlertAt = stamp(stats.Transfers.LastAlertAt)
		stats.LastAlertAgo = ago(stats.Transfers.LastAlertAt)
		stats.TopTickers = r.watcher.TopTickers(5)
		stats.RecentAlerts = r.watcher.RecentAlerts()
		stats.AlertSparkline = r.watcher.AlertHistoryBuckets(1*time.Hour, 12)
	}

	// Notification status
	cfg := r.liveConfig.Get()
	stats.Notifications.DiscordEnabled = r.clients.Discord != nil && r.clients.Discord.Enabled()
	if r.clients.Discord != nil && cfg != nil {
		if cfg.IsProd {
			stats.Notifications.DiscordChannelID = cfg.Discord.ProdChannelID
		} else {
			stats.Notifications.DiscordChannelID = cfg.Discord.BetaChannelID
		}
	}
	stats.Notifications.TelegramEnabled = r.clients.Telegram != nil && cfg != nil && cfg.Telegram.BotToken != ""
	if r.clients.Telegram != nil && cfg != nil {
		if cfg.IsProd {
			stats.Notifications.TelegramChatID = cfg.Telegram.ProdChatID
		} else {
			stats.Notifications.TelegramChatID = cfg.Telegram.BetaChatID
		}
	}
	if cfg != nil {
		stats.Notifications.MinKAS = cfg.Notify.MinKAS
		stats.Notifications.AlertNewTicker = cfg.Notify.AlertNewTicker
	}

	// Runtime stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats.Runtime.Goroutines = runtime.NumGoroutine()
	stats.Runtime.HeapAlloc = memStats.HeapAlloc
	stats.Runtime.HeapSys = memStats.HeapSys
	stats.Runtime.NumGC = memStats.NumGC
	if memStats.LastGC > 0 {
		stats.Runtime.LastGC = stamp(time.Unix(0, int64(memStats.LastGC)))
	}
	stats.Runtime.GoVersion = runtime.Version()
	stats.Runtime.NumCPU = runtime.NumCPU()
	stats.Runtime.GOOS = runtime.GOOS
	stats.Runtime.GOARCH = runtime.GOARCH

	return stats
}
