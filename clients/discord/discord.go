package discord

import (
	"fmt"
	"kaswatch/clients/notifier"
	"kaswatch/config"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	colorTransfer = 0x49EACB // Kaspa teal
	colorLarge    = 0xF1C40F
)

// DiscordClient sends transfer alerts to Discord.
// Implements notifier.Notifier interface.
type DiscordClient struct {
	logger    *zap.Logger
	session   *discordgo.Session
	channelID string
	isProd    bool
}

func NewDiscordClient(logger *zap.Logger, cfg *config.Config) *DiscordClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	channelID := cfg.Discord.BetaChannelID
	if cfg.IsProd {
		channelID = cfg.Discord.ProdChannelID
	}

	token := cfg.Discord.BotToken
	if token == "" {
		logger.Warn("DISCORD_BOT_TOKEN not set, Discord alerts disabled")
		return &DiscordClient{
			logger:    logger,
			channelID: channelID,
			isProd:    cfg.IsProd,
		}
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		logger.Error("failed to create discord session", zap.Error(err))
		return &DiscordClient{
			logger:    logger,
			channelID: channelID,
			isProd:    cfg.IsProd,
		}
	}

	logger.Info("discord bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("channelID", channelID),
	)

	return &DiscordClient{
		logger:    logger,
		session:   session,
		channelID: channelID,
		isProd:    cfg.IsProd,
	}
}

// Enabled reports whether alerts will actually be sent.
func (dc *DiscordClient) Enabled() bool {
	return dc.session != nil && dc.channelID != ""
}

// SendTransferAlert sends a rich embedded transfer alert.
// Implements notifier.Notifier interface.
func (dc *DiscordClient) SendTransferAlert(alert notifier.TransferAlert) {
	if dc.session == nil {
		dc.logger.Debug("discord session not initialized, skipping alert")
		return
	}

	embed := buildTransferEmbed(alert)

	_, err := dc.session.ChannelMessageSendEmbed(dc.channelID, embed)
	if err != nil {
		dc.logger.Error("failed to send discord embed", zap.Error(err))
		return
	}

	dc.logger.Info("sent discord transfer alert",
		zap.String("ticker", alert.Ticker),
		zap.Float64("kas", alert.KASAmount),
	)
}

func buildTransferEmbed(alert notifier.TransferAlert) *discordgo.MessageEmbed {
	color := colorTransfer
	if alert.HasReason(notifier.AlertReasonLargeTransfer) {
		color = colorLarge
	}

	fields := []*discordgo.MessageEmbedField{
		{
			Name:   "KRC20",
			Value:  orNA(alert.KRC20Text),
			Inline: true,
		},
		{
			Name:   "KAS",
			Value:  orNA(alert.KASText),
			Inline: true,
		},
		{
			Name:   "PPU (KAS/KRC20)",
			Value:  orNA(alert.PPUText),
			Inline: true,
		},
	}

	if alert.DistinctTickers > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Tickers seen",
			Value:  fmt.Sprintf("~%d", alert.DistinctTickers),
			Inline: true,
		})
	}

	description := fmt.Sprintf("**%s**", alert.Ticker)
	if alert.Attribution != "" {
		description += fmt.Sprintf("\nvia %s", alert.Attribution)
	}

	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	footerText := "kaswatch"
	if alert.TimeText != "" {
		footerText = fmt.Sprintf("kaswatch * %s UTC", alert.TimeText)
	}

	return &discordgo.MessageEmbed{
		Title:       alert.Title(),
		Description: description,
		Color:       color,
		Fields:      fields,
		Footer: &discordgo.MessageEmbedFooter{
			Text: footerText,
		},
		Timestamp: ts.Format(time.RFC3339),
	}
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// Close closes the Discord session.
func (dc *DiscordClient) Close() error {
	if dc.session != nil {
		return dc.session.Close()
	}
	return nil
}
