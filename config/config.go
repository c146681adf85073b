package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultChartSources are the exchanges charted when CHART_SOURCES is unset,
// in legend order.
var DefaultChartSources = []string{
	"bybit", "kraken", "kucoin", "mexc", "coinex", "gate", "digifinex",
	"xeggex", "uphold", "bitget", "lbank", "bydfi", "btse",
}

// Config holds all application configuration.
type Config struct {
	// Environment
	IsProd bool `json:"is_prod"`

	// Inbound feed the board consumes
	Feed FeedConfig `json:"feed"`

	// Rate chart
	Chart ChartConfig `json:"chart"`

	// Transfer rendering
	Render RenderConfig `json:"render"`

	// Exchange rate polling
	Rates RatesConfig `json:"rates"`

	// Redis bus - optional, empty Addr keeps everything in-process
	Redis RedisConfig `json:"redis"`

	// KSPR Telegram intake
	KSPR KSPRConfig `json:"kspr"`

	// Discord
	Discord DiscordConfig `json:"discord"`

	// Telegram
	Telegram TelegramConfig `json:"telegram"`

	// Transfer alerts
	Notify NotifyConfig `json:"notify"`

	// Health server
	HealthServer HealthServerConfig `json:"health_server"`
}

// FeedConfig holds the websocket endpoint the board reads from.
type FeedConfig struct {
	Enabled        bool          `json:"enabled"`
	UseSecure      bool          `json:"use_secure"`
	Host           string        `json:"host"`
	Path           string        `json:"path"`
	ReconnectDelay time.Duration `json:"reconnect_delay"`
}

// ChartConfig holds the rate chart layout.
type ChartConfig struct {
	Window  int      `json:"window"`  // Points kept per series
	Sources []string `json:"sources"` // Exchange names, one series each
}

// RenderConfig holds transfer feed rendering options.
type RenderConfig struct {
	HighlightDuration time.Duration `json:"highlight_duration"`
}

// RatesConfig holds exchange polling configuration.
type RatesConfig struct {
	Enabled           bool          `json:"enabled"`
	PollInterval      time.Duration `json:"poll_interval"`
	RequestTimeout    time.Duration `json:"request_timeout"`
	RequestsPerSecond float64       `json:"requests_per_second"` // 0 = unlimited
}

// RedisConfig holds Redis bus configuration.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"-"` // Excluded - env var only
	DB       int    `json:"db"`
	Channel  string `json:"channel"`
	RatesKey string `json:"rates_key"`
}

// KSPRConfig holds the KSPR bot intake configuration.
type KSPRConfig struct {
	BotToken string `json:"-"` // Excluded - env var only
	ChatID   int64  `json:"chat_id"`
	SenderID int64  `json:"sender_id"` // 0 = any sender in the chat
}

// DiscordConfig holds Discord-related configuration.
type DiscordConfig struct {
	BotToken      string `json:"-"` // Excluded - env var only
	ProdChannelID string `json:"prod_channel_id"`
	BetaChannelID string `json:"beta_channel_id"`
}

// TelegramConfig holds Telegram-related configuration.
type TelegramConfig struct {
	BotToken   string `json:"-"` // Excluded - env var only
	ProdChatID string `json:"prod_chat_id"`
	BetaChatID string `json:"beta_chat_id"`
}

// NotifyConfig holds transfer alert thresholds.
type NotifyConfig struct {
	MinKAS         float64 `json:"min_kas"`          // Alert on transfers of at least this many KAS; 0 disables
	AlertNewTicker bool    `json:"alert_new_ticker"` // Also alert on the first transfer of each ticker
}

// HealthServerConfig holds health check server configuration.
type HealthServerConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`

	// SettingsToken guards settings writes; empty leaves them open.
	SettingsToken string `json:"-"`
}

// Clone creates a deep copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Chart.Sources != nil {
		clone.Chart.Sources = make([]string, len(c.Chart.Sources))
		copy(clone.Chart.Sources, c.Chart.Sources)
	}
	return &clone
}

// ToJSON serializes the config to JSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ConfigFromJSON deserializes JSON into a config, merging with base.
func ConfigFromJSON(data []byte, base *Config) (*Config, error) {
	if base == nil {
		base = Defaults()
	}
	cfg := base.Clone()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns a config with hardcoded default values.
func Defaults() *Config {
	sources := make([]string, len(DefaultChartSources))
	copy(sources, DefaultChartSources)

	return &Config{
		IsProd: false,
		Feed: FeedConfig{
			Enabled:        true,
			UseSecure:      false,
			Host:           "localhost:8080",
			Path:           "/ws",
			ReconnectDelay: 5 * time.Second,
		},
		Chart: ChartConfig{
			Window:  25,
			Sources: sources,
		},
		Render: RenderConfig{
			HighlightDuration: 2 * time.Second,
		},
		Rates: RatesConfig{
			Enabled:           true,
			PollInterval:      5 * time.Second,
			RequestTimeout:    10 * time.Second,
			RequestsPerSecond: 0,
		},
		Redis: RedisConfig{
			Channel:  "updates",
			RatesKey: "kas-rates",
		},
		Notify: NotifyConfig{
			MinKAS:         10000,
			AlertNewTicker: false,
		},
		HealthServer: HealthServerConfig{
			Enabled: true,
			Port:    8080,
		},
	}
}

// Load loads configuration from environment variables with defaults. A .env
// file in the working directory is read first when present; variables already
// set in the environment win.
func Load() *Config {
	_ = godotenv.Load()

	port := envInt("HTTP_PORT", envInt("HEALTH_SERVER_PORT", 8080))

	return &Config{
		IsProd: envBool("STAGE", "PROD"),

		Feed: FeedConfig{
			Enabled:        envBoolDefault("FEED_ENABLED", true),
			UseSecure:      envBoolDefault("FEED_USE_SECURE", false),
			Host:           envString("FEED_HOST", "localhost:"+strconv.Itoa(port)),
			Path:           envString("FEED_PATH", "/ws"),
			ReconnectDelay: envDuration("FEED_RECONNECT_DELAY", 5*time.Second),
		},

		Chart: ChartConfig{
			Window:  envInt("CHART_WINDOW", 25),
			Sources: normalizeSources(envStringSliceDefault("CHART_SOURCES", DefaultChartSources)),
		},

		Render: RenderConfig{
			HighlightDuration: envDuration("HIGHLIGHT_DURATION", 2*time.Second),
		},

		Rates: RatesConfig{
			Enabled:           envBoolDefault("RATES_ENABLED", true),
			PollInterval:      envDuration("RATES_POLL_INTERVAL", 5*time.Second),
			RequestTimeout:    envDuration("RATES_REQUEST_TIMEOUT", 10*time.Second),
			RequestsPerSecond: envFloat("RATES_REQUESTS_PER_SECOND", 0),
		},

		Redis: RedisConfig{
			Addr:     envString("REDIS_ADDR", ""),
			Password: envString("REDIS_PASSWORD", ""),
			DB:       envInt("REDIS_DB", 0),
			Channel:  envString("REDIS_CHANNEL", "updates"),
			RatesKey: envString("REDIS_RATES_KEY", "kas-rates"),
		},

		KSPR: KSPRConfig{
			BotToken: envString("KSPR_BOT_TOKEN", ""),
			ChatID:   envInt64("KSPR_CHAT_ID", 0),
			SenderID: envInt64("KSPR_SENDER_ID", 0),
		},

		Discord: DiscordConfig{
			BotToken:      envString("DISCORD_BOT_TOKEN", ""),
			ProdChannelID: envString("DISCORD_PROD_CHANNEL_ID", ""),
			BetaChannelID: envString("DISCORD_BETA_CHANNEL_ID", ""),
		},

		Telegram: TelegramConfig{
			BotToken:   envString("TELEGRAM_BOT_KEY", ""),
			ProdChatID: envString("TELEGRAM_PROD_CHAT_ID", ""),
			BetaChatID: envString("TELEGRAM_BETA_CHAT_ID", ""),
		},

		Notify: NotifyConfig{
			MinKAS:         envFloat("NOTIFY_MIN_KAS", 10000),
			AlertNewTicker: envBoolDefault("NOTIFY_NEW_TICKER", false),
		},

		HealthServer: HealthServerConfig{
			Enabled:       envBoolDefault("HEALTH_SERVER_ENABLED", true),
			Port:          port,
			SettingsToken: envString("SETTINGS_TOKEN", ""),
		},
	}
}

// Helper functions for parsing environment variables

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envInt64(key string, defaultVal int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envBool(key, trueValue string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(key)), trueValue)
}

func envBoolDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "1") || strings.EqualFold(v, "yes")
}

func envStringSliceDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

func normalizeSources(sources []string) []string {
	if sources == nil {
		return nil
	}
	result := make([]string, len(sources))
	for i, s := range sources {
		result[i] = strings.ToLower(s)
	}
	return result
}
