package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Copyable field names bound on every entry.
const (
	FieldTicker = "ticker"
	FieldPPU    = "ppu"
	FieldKRC20  = "krc20"
	FieldKAS    = "kas"
)

// PPUTooltipElement is the element of an entry carrying the PPU tooltip.
const PPUTooltipElement = "ppu-label"

// PPUTooltipTitle is the tooltip text attached to the PPU label.
const PPUTooltipTitle = "Price Per Unit (KAS/KRC20)"

// KSPRAttribution is shown on entries reported by the KSPR bot.
const KSPRAttribution = "KSPR Bot"

// DefaultHighlight is how long a new entry stays highlighted.
const DefaultHighlight = 2 * time.Second

// copyTimeout bounds a single clipboard write.
const copyTimeout = 5 * time.Second

// CopyField is a field of an entry whose text can be copied.
type CopyField struct {
	Field string `json:"field"`
	Text  string `json:"text"`
}

// Entry is one rendered transfer.
type Entry struct {
	ID          string      `json:"id"`
	HTML        string      `json:"html"`
	Ticker      string      `json:"ticker"`
	PPU         string      `json:"ppu"`
	KRC20       string      `json:"krc20"`
	KAS         string      `json:"kas"`
	Time        string      `json:"time"`
	Attribution string      `json:"attribution"`
	Copyable    []CopyField `json:"copyable"`
}

// Renderer turns transfer events into feed entries.
type Renderer struct {
	logger    *zap.Logger
	feed      FeedSurface
	clipboard Clipboard
	toaster   Toaster
	tooltips  Tooltips

	highlight time.Duration
	schedule  Scheduler
	newID     func() string
}

// RendererOption customizes a Renderer.
type RendererOption func(*Renderer)

// WithHighlight overrides the highlight duration.
func WithHighlight(d time.Duration) RendererOption {
	return func(r *Renderer) {
		if d > 0 {
			r.highlight = d
		}
	}
}

// WithScheduler overrides how the highlight-clear timer is scheduled.
func WithScheduler(s Scheduler) RendererOption {
	return func(r *Renderer) {
		if s != nil {
			r.schedule = s
		}
	}
}

// WithIDs overrides entry id generation.
func WithIDs(fn func() string) RendererOption {
	return func(r *Renderer) {
		if fn != nil {
			r.newID = fn
		}
	}
}

func NewRenderer(
	logger *zap.Logger,
	feed FeedSurface,
	clipboard Clipboard,
	toaster Toaster,
	tooltips Tooltips,
	opts ...RendererOption,
) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Renderer{
		logger:    logger,
		feed:      feed,
		clipboard: clipboard,
		toaster:   toaster,
		tooltips:  tooltips,
		highlight: DefaultHighlight,
		schedule:  AfterFunc,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render formats the event, prepends it to the feed, highlights it for the
// configured duration and wires its tooltip and copy handlers.
func (r *Renderer) Render(ev TransferEvent) Entry {
	entry := r.build(ev)

	r.feed.Prepend(entry)

	r.feed.SetHighlight(entry.ID, true)
	id := entry.ID
	r.schedule(r.highlight, func() {
		r.feed.SetHighlight(id, false)
	})

	if r.tooltips != nil {
		r.tooltips.AttachTooltip(entry.ID, PPUTooltipElement, PPUTooltipTitle)
	}

	for _, cf := range entry.Copyable {
		text := cf.Text
		r.feed.BindActivation(entry.ID, cf.Field, func() {
			r.copy(text)
		})
	}

	return entry
}

func (r *Renderer) build(ev TransferEvent) Entry {
	ppu := FormatPPU(ev.PricePerUnit())
	krc20 := FormatAmount(ev.TokenAmount)
	kas := FormatAmount(ev.BaseAmount)
	clock := FormatClock(ev.CreatedAt)

	attribution := ""
	if ev.SourceID == KSPRSourceID {
		attribution = KSPRAttribution
	}

	entry := Entry{
		ID:          r.newID(),
		Ticker:      ev.Ticker,
		PPU:         ppu,
		KRC20:       krc20,
		KAS:         kas,
		Time:        clock,
		Attribution: attribution,
		Copyable: []CopyField{
			{Field: FieldTicker, Text: ev.Ticker},
			{Field: FieldPPU, Text: ppu},
			{Field: FieldKRC20, Text: krc20},
			{Field: FieldKAS, Text: kas},
		},
	}

	entry.HTML = fmt.Sprintf(entryTemplate,
		EscapeHTML(entry.ID),
		EscapeHTML(entry.Ticker),
		PPUTooltipElement,
		EscapeHTML(PPUTooltipTitle),
		EscapeHTML(entry.PPU),
		EscapeHTML(entry.KRC20),
		EscapeHTML(entry.KAS),
		EscapeHTML(entry.Attribution),
		EscapeHTML(entry.Time),
	)

	return entry
}

// copy writes text to the clipboard without blocking the caller. The
// confirmation is only shown once the write succeeded.
func (r *Renderer) copy(text string) {
	if r.clipboard == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), copyTimeout)
		defer cancel()

		if err := r.clipboard.CopyToClipboard(ctx, text); err != nil {
			r.logger.Warn("clipboard write failed", zap.Error(err))
			return
		}
		if r.toaster != nil {
			r.toaster.ShowConfirmation()
		}
	}()
}

const entryTemplate = `<div class="krc20-live__transaction" id="tx-%s">
  <div class="krc20-live__head">
    <h5 class="krc20-live__ticker"><span data-copy="ticker">%s</span></h5>
    <small><a class="krc20-live__link-tooltip" data-element="%s" href="#" title="%s">PPU</a>: <span data-copy="ppu">%s</span></small>
  </div>
  <div class="krc20-live__body">
    <div>
      <p>KRC20: <strong><span data-copy="krc20">%s</span></strong></p>
      <p>KAS: <strong><span data-copy="kas">%s</span></strong></p>
    </div>
    <div class="krc20-live__meta">
      <p><small>%s</small></p>
      <p><small><span>%s</span> UTC</small></p>
    </div>
  </div>
</div>`
