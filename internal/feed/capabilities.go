package feed

import (
	"context"
	"time"
)

// FeedSurface is the list container transfer entries are rendered into.
type FeedSurface interface {
	// Prepend inserts the entry at the head of the feed.
	Prepend(entry Entry)
	// SetHighlight toggles the highlight state of an entry.
	SetHighlight(entryID string, on bool)
	// BindActivation registers fn to run when the named field of the
	// entry is activated (clicked).
	BindActivation(entryID, field string, fn func())
}

// ChartSurface is the chart widget the aggregator redraws.
type ChartSurface interface {
	Redraw(frame ChartFrame)
	SetReadout(source string, price float64)
}

// Clipboard writes text to the system clipboard.
type Clipboard interface {
	CopyToClipboard(ctx context.Context, text string) error
}

// Toaster surfaces a transient "copied" confirmation.
type Toaster interface {
	ShowConfirmation()
}

// Tooltips attaches a tooltip to an element of a rendered entry.
type Tooltips interface {
	AttachTooltip(entryID, element, title string)
}

// Scheduler runs f once after d.
type Scheduler func(d time.Duration, f func())

// AfterFunc schedules f on its own goroutine with time.AfterFunc. The timer
// is never cancelled.
func AfterFunc(d time.Duration, f func()) {
	time.AfterFunc(d, f)
}
