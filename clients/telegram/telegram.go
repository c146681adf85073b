package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"kaswatch/clients/notifier"
	"kaswatch/config"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const telegramAPIURL = "https://api.telegram.org"

// TelegramClient sends alerts to Telegram.
// Implements notifier.Notifier interface.
type TelegramClient struct {
	logger   *zap.Logger
	botToken string
	chatID   string
	isProd   bool
	apiURL   string
	client   *http.Client
}

func NewTelegramClient(logger *zap.Logger, cfg *config.Config) *TelegramClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	chatID := cfg.Telegram.BetaChatID
	if cfg.IsProd {
		chatID = cfg.Telegram.ProdChatID
	}

	token := cfg.Telegram.BotToken
	if token == "" {
		logger.Warn("TELEGRAM_BOT_KEY not set, Telegram alerts disabled")
		return &TelegramClient{
			logger: logger,
			chatID: chatID,
			isProd: cfg.IsProd,
			apiURL: telegramAPIURL,
		}
	}

	logger.Info("telegram bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("chatID", chatID),
	)

	return &TelegramClient{
		logger:   logger,
		botToken: token,
		chatID:   chatID,
		isProd:   cfg.IsProd,
		apiURL:   telegramAPIURL,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// SendTransferAlert sends a transfer alert notification.
// Implements notifier.Notifier interface.
func (tc *TelegramClient) SendTransferAlert(alert notifier.TransferAlert) {
	if tc.botToken == "" || tc.chatID == "" {
		tc.logger.Warn("telegram not configured, skipping alert")
		return
	}

	message := buildAlertMessage(alert)

	if err := tc.sendMessage(message); err != nil {
		tc.logger.Error("failed to send telegram message", zap.Error(err))
		return
	}

	tc.logger.Info("sent telegram transfer alert",
		zap.String("ticker", alert.Ticker),
		zap.Float64("kas", alert.KASAmount),
	)
}

func buildAlertMessage(alert notifier.TransferAlert) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("*%s*\n\n", escapeMarkdown(alert.Title())))
	sb.WriteString(fmt.Sprintf("*Ticker:* %s\n", escapeMarkdown(alert.Ticker)))
	sb.WriteString(fmt.Sprintf("*KRC20:* %s\n", escapeMarkdown(orNA(alert.KRC20Text))))
	sb.WriteString(fmt.Sprintf("*KAS:* %s\n", escapeMarkdown(orNA(alert.KASText))))
	sb.WriteString(fmt.Sprintf("*PPU:* %s KAS/KRC20\n", escapeMarkdown(orNA(alert.PPUText))))

	if alert.Attribution != "" {
		sb.WriteString(fmt.Sprintf("*Source:* %s\n", escapeMarkdown(alert.Attribution)))
	}
	if alert.DistinctTickers > 0 {
		sb.WriteString(fmt.Sprintf("*Tickers seen:* ~%d\n", alert.DistinctTickers))
	}

	ts := alert.TimeText
	if ts == "" {
		at := alert.Timestamp
		if at.IsZero() {
			at = time.Now()
		}
		ts = at.UTC().Format("15:04:05")
	}
	sb.WriteString(fmt.Sprintf("\n_kaswatch • %s UTC_", ts))

	return sb.String()
}

func (tc *TelegramClient) sendMessage(text string) error {
	url := fmt.Sprintf("%s/bot%s/%s", tc.apiURL, tc.botToken, "sendMessage")

	payload := map[string]interface{}{
		"chat_id":    tc.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := tc.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}

// Close cleans up resources. Implements notifier.Notifier interface.
func (tc *TelegramClient) Close() error {
	return nil
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// escapeMarkdown escapes special characters for Telegram Markdown.
func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"]", "\\]",
		"`", "\\`",
	)
	return replacer.Replace(s)
}
