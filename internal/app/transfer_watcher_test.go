package app

import (
	"context"
	"fmt"
	"kaswatch/clients/notifier"
	"kaswatch/config"
	"kaswatch/internal/feed"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"
)

func notifySettings(minKAS float64, newTicker bool) func() config.NotifyConfig {
	return func() config.NotifyConfig {
		return config.NotifyConfig{MinKAS: minKAS, AlertNewTicker: newTicker}
	}
}

func transfer(ticker string, kas float64) (feed.TransferEvent, feed.Entry) {
	ev := feed.TransferEvent{
		SourceID:    feed.KSPRSourceID,
		Ticker:      ticker,
		TokenAmount: 1000,
		BaseAmount:  kas,
		CreatedAt:   1700000000000,
	}
	entry := feed.Entry{
		ID:          "id-" + ticker,
		Ticker:      ticker,
		KRC20:       "1,000",
		KAS:         "15,000",
		PPU:         "15.00000000",
		Time:        "22:13:20",
		Attribution: feed.KSPRAttribution,
	}
	return ev, entry
}

func drain(w *TransferWatcher) []notifier.TransferAlert {
	var out []notifier.TransferAlert
	for {
		select {
		case a := <-w.queue:
			out = append(out, a)
		default:
			return out
		}
	}
}

func TestTransferWatcher_LargeTransfer(t *testing.T) {
	w := NewTransferWatcher(zap.NewNop(), nil, notifySettings(10000, false))

	w.Observe(transfer("NACHO", 15000))
	w.Observe(transfer("NACHO", 500))

	alerts := drain(w)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	a := alerts[0]
	if !a.HasReason(notifier.AlertReasonLargeTransfer) {
		t.Errorf("expected large transfer reason, got %v", a.Reasons)
	}
	if !a.HasReason(notifier.AlertReasonKSPR) {
		t.Errorf("expected kspr reason for a KSPR transfer, got %v", a.Reasons)
	}
	if a.KASText != "15,000" || a.TimeText != "22:13:20" || a.Attribution != feed.KSPRAttribution {
		t.Errorf("alert should carry the rendered text: %+v", a)
	}
	if a.PricePerUnit != 15 {
		t.Errorf("expected PPU 15, got %v", a.PricePerUnit)
	}
	if !a.CreatedAt.Equal(time.UnixMilli(1700000000000)) {
		t.Errorf("unexpected created at: %v", a.CreatedAt)
	}

	stats := w.Stats()
	if stats.Transfers != 2 || stats.KSPRTransfers != 2 {
		t.Errorf("unexpected transfer counts: %+v", stats)
	}
	if stats.AlertsTotal != 1 || stats.AlertsLarge != 1 || stats.AlertsNewTicker != 0 {
		t.Errorf("unexpected alert counts: %+v", stats)
	}
}

func TestTransferWatcher_NewTicker(t *testing.T) {
	w := NewTransferWatcher(nil, nil, notifySettings(0, true))

	w.Observe(transfer("NACHO", 1))
	w.Observe(transfer("nacho", 1)) // same ticker, different case
	w.Observe(transfer("PEPE", 1))

	alerts := drain(w)
	if len(alerts) != 2 {
		t.Fatalf("expected 2 new-ticker alerts, got %d", len(alerts))
	}
	if alerts[0].Ticker != "NACHO" || alerts[1].Ticker != "PEPE" {
		t.Errorf("unexpected tickers: %s, %s", alerts[0].Ticker, alerts[1].Ticker)
	}
	if alerts[0].Title() != "🆕 New Ticker on the Feed" {
		t.Errorf("unexpected title: %s", alerts[0].Title())
	}
	if alerts[1].DistinctTickers != 2 {
		t.Errorf("expected 2 distinct tickers, got %d", alerts[1].DistinctTickers)
	}
	if got := w.Stats().DistinctTickers; got != 2 {
		t.Errorf("expected 2 distinct tickers in stats, got %d", got)
	}
}

func TestTransferWatcher_NoAlertWhenDisabled(t *testing.T) {
	w := NewTransferWatcher(nil, nil, notifySettings(0, false))

	w.Observe(transfer("NACHO", 1e9))

	if alerts := drain(w); len(alerts) != 0 {
		t.Errorf("expected no alerts, got %d", len(alerts))
	}
	if w.Stats().Transfers != 1 {
		t.Error("transfers are counted even without alerts")
	}
}

func TestTransferWatcher_UnparseableAmount(t *testing.T) {
	w := NewTransferWatcher(nil, nil, notifySettings(1, false))

	ev, entry := transfer("NACHO", math.NaN())
	w.Observe(ev, entry)

	if alerts := drain(w); len(alerts) != 0 {
		t.Errorf("NaN amount must not trigger a large transfer alert, got %d", len(alerts))
	}
}

func TestTransferWatcher_BlankTickerIsNotNew(t *testing.T) {
	w := NewTransferWatcher(nil, nil, notifySettings(0, true))

	w.Observe(transfer("", 1))

	if alerts := drain(w); len(alerts) != 0 {
		t.Errorf("expected no alert for a blank ticker, got %d", len(alerts))
	}
	if got := w.Stats().DistinctTickers; got != 0 {
		t.Errorf("expected 0 distinct tickers, got %d", got)
	}
}

func TestTransferWatcher_SettingsReadPerTransfer(t *testing.T) {
	live := config.NewLiveConfig(config.Defaults())
	w := NewTransferWatcher(nil, nil, live.Notify)

	// Default threshold is 10000
	w.Observe(transfer("NACHO", 5000))
	if n := len(drain(w)); n != 0 {
		t.Fatalf("expected no alert below the threshold, got %d", n)
	}

	if err := live.UpdatePartial(func(c *config.Config) { c.Notify.MinKAS = 1000 }); err != nil {
		t.Fatalf("update: %v", err)
	}

	w.Observe(transfer("NACHO", 5000))
	alerts := drain(w)
	if len(alerts) != 1 || !alerts[0].HasReason(notifier.AlertReasonLargeTransfer) {
		t.Errorf("expected a large transfer alert after lowering the threshold, got %+v", alerts)
	}
}

func TestTransferWatcher_RunDelivers(t *testing.T) {
	n := newMockNotifier()
	w := NewTransferWatcher(nil, n, notifySettings(10, false))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Observe(transfer("NACHO", 100))

	select {
	case a := <-n.sent:
		if a.Ticker != "NACHO" {
			t.Errorf("unexpected alert: %+v", a)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("alert was not delivered")
	}
}

func TestTransferWatcher_QueueFullDrops(t *testing.T) {
	w := NewTransferWatcher(nil, nil, notifySettings(1, false))

	for i := 0; i < alertQueueSize+3; i++ {
		w.Observe(transfer("NACHO", 100))
	}

	stats := w.Stats()
	if stats.AlertsDropped != 3 {
		t.Errorf("expected 3 dropped alerts, got %d", stats.AlertsDropped)
	}
	if stats.AlertsTotal != alertQueueSize+3 {
		t.Errorf("expected every alert counted, got %d", stats.AlertsTotal)
	}
}

func TestTransferWatcher_RecentAlertsAndTopTickers(t *testing.T) {
	w := NewTransferWatcher(nil, nil, notifySettings(1, false))

	w.Observe(transfer("PEPE", 100))
	w.Observe(transfer("NACHO", 100))
	w.Observe(transfer("NACHO", 100))
	w.Observe(transfer("KASPY", 100))

	recent := w.RecentAlerts()
	if len(recent) != 4 {
		t.Fatalf("expected 4 recent alerts, got %d", len(recent))
	}
	if recent[0].Ticker != "KASPY" {
		t.Errorf("expected newest first, got %s", recent[0].Ticker)
	}
	if len(recent[0].Reasons) == 0 || recent[0].Reasons[0] != string(notifier.AlertReasonLargeTransfer) {
		t.Errorf("unexpected reasons: %v", recent[0].Reasons)
	}

	top := w.TopTickers(2)
	if len(top) != 2 {
		t.Fatalf("expected 2 tickers, got %d", len(top))
	}
	if top[0].Ticker != "NACHO" || top[0].Count != 2 {
		t.Errorf("unexpected top ticker: %+v", top[0])
	}
	if top[1].Ticker != "KASPY" {
		t.Errorf("expected ties broken alphabetically, got %+v", top[1])
	}

	buckets := w.AlertHistoryBuckets(time.Hour, 12)
	if len(buckets) != 12 || buckets[11] != 4 {
		t.Errorf("expected all alerts in the newest bucket, got %v", buckets)
	}
}

func TestTransferWatcher_NewTickerIsExact(t *testing.T) {
	w := NewTransferWatcher(nil, nil, notifySettings(0, true))

	const distinct = 5000
	for i := 0; i < distinct; i++ {
		w.Observe(transfer(fmt.Sprintf("T%04d", i), 1))
	}
	for i := 0; i < distinct; i += 7 {
		w.Observe(transfer(fmt.Sprintf("t%04d", i), 1))
	}

	stats := w.Stats()
	if stats.AlertsNewTicker != distinct {
		t.Errorf("expected %d new-ticker alerts, got %d", distinct, stats.AlertsNewTicker)
	}
	// The sketch is only an estimate; allow its standard error.
	if est := float64(stats.DistinctTickers); math.Abs(est-distinct) > distinct*0.03 {
		t.Errorf("distinct estimate %v too far from %d", est, distinct)
	}
}

func TestTransferWatcher_TopTickersOrdering(t *testing.T) {
	w := NewTransferWatcher(nil, nil, notifySettings(0, false))

	for ticker, n := range map[string]int{"ZEAL": 3, "BURT": 1, "KASPY": 3, "NACHO": 5, "ABC": 1} {
		for i := 0; i < n; i++ {
			w.Observe(transfer(ticker, 1))
		}
	}

	want := []TickerCount{
		{Ticker: "NACHO", Count: 5},
		{Ticker: "KASPY", Count: 3},
		{Ticker: "ZEAL", Count: 3},
		{Ticker: "ABC", Count: 1},
		{Ticker: "BURT", Count: 1},
	}
	got := w.TopTickers(0)
	if len(got) != len(want) {
		t.Fatalf("expected %d tickers, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}
