package kspr

import (
	"context"
	"errors"
	"fmt"
	"kaswatch/internal/feed"
	"sync/atomic"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// Publisher sends an envelope for method to the feed.
type Publisher interface {
	Publish(ctx context.Context, method string, payload any) error
}

type Options struct {
	BotToken string
	ChatID   int64
	SenderID int64 // zero accepts any sender in the chat
}

// Listener turns KSPR bot posts in a Telegram chat into transfer events.
type Listener struct {
	logger *zap.Logger
	opts   Options
	pub    Publisher
	bot    *bot.Bot

	accepted uint64
	rejected uint64
}

func NewListener(logger *zap.Logger, opts Options, pub Publisher) (*Listener, error) {
	if opts.BotToken == "" {
		return nil, errors.New("kspr: bot token is required")
	}
	if opts.ChatID == 0 {
		return nil, errors.New("kspr: chat id is required")
	}

	l := newListener(logger, opts, pub)

	b, err := bot.New(opts.BotToken, bot.WithDefaultHandler(l.handle))
	if err != nil {
		return nil, fmt.Errorf("kspr: create bot: %w", err)
	}
	l.bot = b

	return l, nil
}

func newListener(logger *zap.Logger, opts Options, pub Publisher) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		logger: logger,
		opts:   opts,
		pub:    pub,
	}
}

// Run polls Telegram for updates until ctx is done.
func (l *Listener) Run(ctx context.Context) {
	l.logger.Info("kspr listener started",
		zap.Int64("chatID", l.opts.ChatID),
		zap.Int64("senderID", l.opts.SenderID),
	)
	l.bot.Start(ctx)
	l.logger.Info("kspr listener stopped")
}

type ListenerStats struct {
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
}

func (l *Listener) Stats() ListenerStats {
	return ListenerStats{
		Accepted: atomic.LoadUint64(&l.accepted),
		Rejected: atomic.LoadUint64(&l.rejected),
	}
}

func (l *Listener) handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	l.handleUpdate(ctx, update)
}

func (l *Listener) handleUpdate(ctx context.Context, update *models.Update) {
	msg := update.Message
	if msg == nil {
		msg = update.ChannelPost
	}
	if msg == nil || !l.fromKSPR(msg) {
		return
	}

	post, err := ParsePost(msg.Text)
	if err != nil {
		atomic.AddUint64(&l.rejected, 1)
		if errors.Is(err, ErrNotTransaction) {
			l.logger.Debug("ignoring kspr post", zap.Error(err))
		} else {
			l.logger.Warn("failed to parse kspr post", zap.Error(err), zap.Int("messageID", msg.ID))
		}
		return
	}

	createdAt := time.Unix(int64(msg.Date), 0)
	if err := l.pub.Publish(ctx, feed.MethodTransfer, post.Payload(createdAt)); err != nil {
		l.logger.Error("failed to publish kspr transfer", zap.Error(err), zap.String("ticker", post.Ticker))
		return
	}
	atomic.AddUint64(&l.accepted, 1)

	l.logger.Info("kspr transfer published",
		zap.String("ticker", post.Ticker),
		zap.String("krc20", post.KRC20Amount.String()),
		zap.String("kas", post.KASAmount.String()),
	)
}

func (l *Listener) fromKSPR(msg *models.Message) bool {
	if msg.Chat.ID != l.opts.ChatID {
		return false
	}
	if l.opts.SenderID == 0 {
		return true
	}
	return msg.From != nil && msg.From.ID == l.opts.SenderID
}
