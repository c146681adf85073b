package surface

import (
	"context"
	"errors"
	"kaswatch/internal/feed"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrNoSuchEntry = errors.New("no such entry")
	ErrNoSuchField = errors.New("no such field")
)

// ensure Board implements every capability the feed package asks for
var (
	_ feed.FeedSurface  = (*Board)(nil)
	_ feed.ChartSurface = (*Board)(nil)
	_ feed.Clipboard    = (*Board)(nil)
	_ feed.Toaster      = (*Board)(nil)
	_ feed.Tooltips     = (*Board)(nil)
)

// Board is an in-memory rendering surface: the transfer feed, the rate
// chart and the widgets around them. The dashboard reads it through
// Snapshot.
type Board struct {
	logger *zap.Logger

	mu          sync.RWMutex
	entries     []*boardEntry // newest first
	byID        map[string]*boardEntry
	chart       feed.ChartFrame
	readouts    map[string]Readout
	clipboard   string
	toasts      int
	lastToastAt time.Time
}

type boardEntry struct {
	entry       feed.Entry
	highlighted bool
	tooltips    map[string]string
	handlers    map[string]func()
}

// Readout is the latest price shown next to a source.
type Readout struct {
	Price     float64   `json:"price"`
	Text      string    `json:"text"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EntryView is a read-only view of a rendered entry.
type EntryView struct {
	feed.Entry
	Highlighted bool              `json:"highlighted"`
	Tooltips    map[string]string `json:"tooltips,omitempty"`
}

// Snapshot is a point-in-time copy of the board.
type Snapshot struct {
	Entries     []EntryView        `json:"entries"`
	Chart       feed.ChartFrame    `json:"chart"`
	Readouts    map[string]Readout `json:"readouts"`
	Clipboard   string             `json:"clipboard,omitempty"`
	Toasts      int                `json:"toasts"`
	LastToastAt string             `json:"last_toast_at,omitempty"`
}

func NewBoard(logger *zap.Logger) *Board {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Board{
		logger:   logger,
		byID:     make(map[string]*boardEntry),
		readouts: make(map[string]Readout),
	}
}

// Prepend implements feed.FeedSurface.
func (b *Board) Prepend(entry feed.Entry) {
	be := &boardEntry{
		entry:    entry,
		tooltips: make(map[string]string),
		handlers: make(map[string]func()),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, nil)
	copy(b.entries[1:], b.entries)
	b.entries[0] = be
	b.byID[entry.ID] = be
}

// SetHighlight implements feed.FeedSurface.
func (b *Board) SetHighlight(entryID string, on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if be, ok := b.byID[entryID]; ok {
		be.highlighted = on
	}
}

// BindActivation implements feed.FeedSurface.
func (b *Board) BindActivation(entryID, field string, fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if be, ok := b.byID[entryID]; ok {
		be.handlers[field] = fn
	}
}

// Activate runs the handler bound to a field of an entry, as a click would.
func (b *Board) Activate(entryID, field string) error {
	b.mu.RLock()
	be, ok := b.byID[entryID]
	var fn func()
	if ok {
		fn = be.handlers[field]
	}
	b.mu.RUnlock()

	if !ok {
		return ErrNoSuchEntry
	}
	if fn == nil {
		return ErrNoSuchField
	}
	fn()
	return nil
}

// Redraw implements feed.ChartSurface.
func (b *Board) Redraw(frame feed.ChartFrame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chart = frame
}

// SetReadout implements feed.ChartSurface.
func (b *Board) SetReadout(source string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readouts[source] = Readout{
		Price:     price,
		Text:      feed.FormatRate(price),
		UpdatedAt: time.Now(),
	}
}

// CopyToClipboard implements feed.Clipboard. The board keeps the text so the
// dashboard can hand it to the browser clipboard.
func (b *Board) CopyToClipboard(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clipboard = text
	return nil
}

// ShowConfirmation implements feed.Toaster.
func (b *Board) ShowConfirmation() {
	b.mu.Lock()
	b.toasts++
	b.lastToastAt = time.Now()
	b.mu.Unlock()

	b.logger.Debug("copy confirmed")
}

// AttachTooltip implements feed.Tooltips.
func (b *Board) AttachTooltip(entryID, element, title string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if be, ok := b.byID[entryID]; ok {
		be.tooltips[element] = title
	}
}

// Clipboard returns the last copied text.
func (b *Board) Clipboard() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.clipboard
}

// Len returns the number of entries in the feed.
func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Chart returns a copy of the last frame drawn.
func (b *Board) Chart() feed.ChartFrame {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return copyFrame(b.chart)
}

// Snapshot copies the board. limit caps the number of entries returned,
// newest first; zero or less returns all of them.
func (b *Board) Snapshot(limit int) Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := len(b.entries)
	if limit > 0 && limit < n {
		n = limit
	}

	snap := Snapshot{
		Entries:   make([]EntryView, 0, n),
		Chart:     copyFrame(b.chart),
		Readouts:  make(map[string]Readout, len(b.readouts)),
		Clipboard: b.clipboard,
		Toasts:    b.toasts,
	}
	for _, be := range b.entries[:n] {
		view := EntryView{Entry: be.entry, Highlighted: be.highlighted}
		if len(be.tooltips) > 0 {
			view.Tooltips = make(map[string]string, len(be.tooltips))
			for k, v := range be.tooltips {
				view.Tooltips[k] = v
			}
		}
		snap.Entries = append(snap.Entries, view)
	}
	for k, v := range b.readouts {
		snap.Readouts[k] = v
	}
	if !b.lastToastAt.IsZero() {
		snap.LastToastAt = b.lastToastAt.UTC().Format(time.RFC3339)
	}
	return snap
}

func copyFrame(f feed.ChartFrame) feed.ChartFrame {
	out := feed.ChartFrame{Bounds: f.Bounds, Series: make([]feed.RateSeries, len(f.Series))}
	for i, s := range f.Series {
		pts := make([]feed.SeriesPoint, len(s.Points))
		copy(pts, s.Points)
		out.Series[i] = feed.RateSeries{Name: s.Name, Points: pts}
	}
	return out
}
