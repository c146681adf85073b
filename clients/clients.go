package clients

import (
	"fmt"
	"kaswatch/clients/discord"
	"kaswatch/clients/exchanges"
	"kaswatch/clients/feedws"
	"kaswatch/clients/notifier"
	"kaswatch/clients/redisbus"
	"kaswatch/clients/telegram"
	"kaswatch/config"

	"go.uber.org/zap"
)

type Clients struct {
	Logger *zap.Logger

	Discord   *discord.DiscordClient
	Telegram  *telegram.TelegramClient
	Notifier  notifier.Notifier // Combined notifier for all channels
	Exchanges *exchanges.ExchangeClient
	Bus       *redisbus.Bus      // nil when REDIS_ADDR is unset
	Feed      *feedws.FeedClient // nil when the feed consumer is disabled
}

func NewClients(logger *zap.Logger, cfg *config.Config) (*Clients, error) {
	discordClient := discord.NewDiscordClient(logger, cfg)
	telegramClient := telegram.NewTelegramClient(logger, cfg)

	// Create combined notifier for all channels
	multiNotifier := notifier.NewMultiNotifier(discordClient, telegramClient)

	sources, err := exchanges.FilterSources(exchanges.DefaultSources(), cfg.Chart.Sources)
	if err != nil {
		return nil, fmt.Errorf("chart sources: %w", err)
	}

	c := &Clients{
		Logger:   logger,
		Discord:  discordClient,
		Telegram: telegramClient,
		Notifier: multiNotifier,
		Exchanges: exchanges.NewExchangeClient(logger, sources, exchanges.Options{
			Timeout:           cfg.Rates.RequestTimeout,
			RequestsPerSecond: cfg.Rates.RequestsPerSecond,
		}),
	}

	if cfg.Redis.Addr != "" {
		c.Bus = redisbus.NewBus(logger, redisbus.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
			RatesKey: cfg.Redis.RatesKey,
		})
	}

	// Only create the WebSocket consumer if configured to use it
	if cfg.Feed.Enabled {
		c.Feed = feedws.NewFeedClient(logger, feedws.Endpoint{
			UseSecure: cfg.Feed.UseSecure,
			Host:      cfg.Feed.Host,
			Path:      cfg.Feed.Path,
		})
	}

	return c, nil
}

// Close releases every client that holds a connection.
func (c *Clients) Close() error {
	var firstErr error
	if c.Feed != nil {
		if err := c.Feed.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.Bus != nil {
		if err := c.Bus.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.Notifier != nil {
		if err := c.Notifier.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
