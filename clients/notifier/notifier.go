package notifier

import (
	"time"
)

// AlertReason indicates why an alert was triggered.
type AlertReason string

const (
	AlertReasonLargeTransfer AlertReason = "large_transfer"
	AlertReasonNewTicker     AlertReason = "new_ticker" // First transfer of this ticker seen in the session
	AlertReasonKSPR          AlertReason = "kspr"
)

// TransferAlert contains all the data needed for a transfer alert notification.
type TransferAlert struct {
	Ticker       string
	KRC20Amount  float64
	KASAmount    float64
	PricePerUnit float64

	// Display strings as rendered on the feed
	KRC20Text string
	KASText   string
	PPUText   string
	TimeText  string // HH:MM:SS UTC

	Attribution string
	CreatedAt   time.Time

	// Approximate number of distinct tickers seen so far
	DistinctTickers uint64

	Reasons   []AlertReason
	Timestamp time.Time
}

// HasReason reports whether r is among the alert's reasons.
func (a TransferAlert) HasReason(r AlertReason) bool {
	for _, got := range a.Reasons {
		if got == r {
			return true
		}
	}
	return false
}

// Title returns the headline shared by every channel.
func (a TransferAlert) Title() string {
	large := a.HasReason(AlertReasonLargeTransfer)
	fresh := a.HasReason(AlertReasonNewTicker)

	switch {
	case large && fresh:
		return "🐋 Large Transfer + New Ticker"
	case large:
		return "🐋 Large KRC20 Transfer"
	case fresh:
		return "🆕 New Ticker on the Feed"
	}
	return "🔔 KRC20 Transfer"
}

// Notifier is the interface for sending transfer alerts to various channels.
type Notifier interface {
	// SendTransferAlert sends a transfer alert notification.
	SendTransferAlert(alert TransferAlert)

	// Close cleans up any resources.
	Close() error
}

// MultiNotifier broadcasts alerts to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a new MultiNotifier with the given notifiers.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	// Filter out nil notifiers
	var active []Notifier
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return &MultiNotifier{notifiers: active}
}

// SendTransferAlert sends the alert to all registered notifiers.
func (m *MultiNotifier) SendTransferAlert(alert TransferAlert) {
	for _, n := range m.notifiers {
		n.SendTransferAlert(alert)
	}
}

// Close closes all registered notifiers.
func (m *MultiNotifier) Close() error {
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Count returns the number of active notifiers.
func (m *MultiNotifier) Count() int {
	return len(m.notifiers)
}
