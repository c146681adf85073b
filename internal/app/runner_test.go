package app

import (
	"context"
	"encoding/json"
	"io"
	"kaswatch/clients"
	"kaswatch/clients/feedws"
	"kaswatch/config"
	"kaswatch/internal/feed"
	"kaswatch/internal/surface"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestRunner(t *testing.T, mutate func(*config.Config)) (*Runner, *mockNotifier) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Chart.Sources = []string{"kraken", "mexc"}
	if mutate != nil {
		mutate(cfg)
	}

	n := newMockNotifier()
	clts := &clients.Clients{
		Logger:   zap.NewNop(),
		Notifier: n,
	}
	r := NewRunner(clts, config.NewLiveConfig(cfg))
	if err := r.setup(cfg); err != nil {
		t.Fatalf("setup: %v", err)
	}
	r.startTime = time.Now()
	return r, n
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func transferEnvelope(t *testing.T, ticker string, kas float64) []byte {
	t.Helper()
	raw, err := feed.EncodeEnvelope(feed.MethodTransfer, feed.TransferPayload{
		IDSource:    feed.KSPRSourceID,
		Ticker:      ticker,
		KRC20Amount: 1000,
		KASAmount:   kas,
		CreatedAt:   1700000000000,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return raw
}

func TestNewRunner(t *testing.T) {
	cfg := config.Defaults()
	clts := &clients.Clients{Logger: zap.NewNop()}
	liveConfig := config.NewLiveConfig(cfg)

	runner := NewRunner(clts, liveConfig)

	if runner.clients != clts {
		t.Error("unexpected clients")
	}
	if runner.liveConfig != liveConfig {
		t.Error("unexpected liveConfig")
	}
	if runner.baseline == nil || runner.baseline == cfg {
		t.Error("expected baseline to be a copy of the startup config")
	}
}

func TestRunner_SetupRejectsDuplicateSources(t *testing.T) {
	cfg := config.Defaults()
	cfg.Chart.Sources = []string{"kraken", "KRAKEN"}
	r := NewRunner(&clients.Clients{Logger: zap.NewNop()}, config.NewLiveConfig(config.Defaults()))

	if err := r.setup(cfg); err == nil {
		t.Error("expected duplicate sources to be rejected")
	}
}

func TestRunner_ConnectBusWithoutRedis(t *testing.T) {
	r, _ := newTestRunner(t, nil)

	if err := r.connectBus(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.publisher != Publisher(r.hub) {
		t.Error("expected the hub to publish when redis is not configured")
	}
}

func TestRunner_OnConfigUpdate(t *testing.T) {
	r, _ := newTestRunner(t, nil)

	// Should not panic
	r.OnConfigUpdate(config.Defaults())
}

func TestHealthMux_HealthAndDashboard(t *testing.T) {
	r, _ := newTestRunner(t, nil)
	srv := httptest.NewServer(r.newHealthMux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Errorf("unexpected health response: %d %q", resp.StatusCode, body)
	}

	resp, err = http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "<title>kaswatch</title>") {
		t.Error("expected dashboard HTML")
	}
	if !strings.Contains(string(body), "if (!r.ok) throw") {
		t.Error("dashboard should only write the clipboard after the copy is accepted")
	}

	resp, err = http.Get(srv.URL + "/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown path, got %d", resp.StatusCode)
	}
}

func TestHealthMux_Stats(t *testing.T) {
	r, _ := newTestRunner(t, nil)
	srv := httptest.NewServer(r.newHealthMux())
	defer srv.Close()

	if err := r.dispatcher.Dispatch(transferEnvelope(t, "NACHO", 1)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	resp, err := http.Get(srv.URL + "/stats")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var stats ServiceStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Chart.Window != feed.DefaultWindow {
		t.Errorf("expected window %d, got %d", feed.DefaultWindow, stats.Chart.Window)
	}
	if len(stats.Chart.Sources) != 2 || stats.Chart.Sources[0] != "kraken" {
		t.Errorf("unexpected sources: %v", stats.Chart.Sources)
	}
	if stats.Dispatch.Transfers != 1 || stats.Transfers.Transfers != 1 {
		t.Errorf("expected one transfer, got dispatch=%d watcher=%d", stats.Dispatch.Transfers, stats.Transfers.Transfers)
	}
	if stats.Producers.Bus != "local" {
		t.Errorf("expected local bus, got %q", stats.Producers.Bus)
	}
	if stats.Feed.Enabled {
		t.Error("feed should be reported disabled without a client")
	}
	if stats.Notifications.MinKAS != 10000 {
		t.Errorf("unexpected min kas: %v", stats.Notifications.MinKAS)
	}
}

func TestHealthMux_BoardAndCopy(t *testing.T) {
	r, _ := newTestRunner(t, nil)
	srv := httptest.NewServer(r.newHealthMux())
	defer srv.Close()

	if err := r.dispatcher.Dispatch(transferEnvelope(t, "NACHO", 15000)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	resp, err := http.Get(srv.URL + "/api/board?limit=10")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var snap surface.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if len(snap.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(snap.Entries))
	}
	entry := snap.Entries[0]
	if entry.Ticker != "NACHO" || entry.KAS != "15,000" {
		t.Errorf("unexpected entry: %+v", entry.Entry)
	}

	body := `{"entry_id":"` + entry.ID + `","field":"ticker"}`
	resp, err = http.Post(srv.URL+"/api/copy", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	eventually(t, "clipboard write", func() bool { return r.board.Clipboard() == "NACHO" })

	resp, err = http.Post(srv.URL+"/api/copy", "application/json", strings.NewReader(`{"entry_id":"missing","field":"ticker"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown entry, got %d", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/api/copy", "application/json", strings.NewReader(`{"entry_id":"`+entry.ID+`","field":"nope"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown field, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/copy")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/board?limit=abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", resp.StatusCode)
	}
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"", defaultBoardLimit, false},
		{"0", 0, false},
		{"7", 7, false},
		{"-1", 0, true},
		{"x", 0, true},
	}
	for _, tt := range tests {
		got, err := parseLimit(tt.raw)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseLimit(%q) = %d, %v", tt.raw, got, err)
		}
	}
}

// TestRunner_FeedLoopback publishes into the hub and checks that the board
// fills through the feed client, the dispatcher and the aggregator.
func TestRunner_FeedLoopback(t *testing.T) {
	r, n := newTestRunner(t, func(c *config.Config) {
		c.Notify.MinKAS = 10000
	})
	srv := httptest.NewServer(r.newHealthMux())
	defer srv.Close()

	r.clients.Feed = feedws.NewFeedClient(zap.NewNop(), feedws.Endpoint{
		Host: strings.TrimPrefix(srv.URL, "http://"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go r.watcher.Run(ctx)
	go r.dispatcher.Run(ctx, r.clients.Feed.Messages())
	go r.runFeed(ctx, 50*time.Millisecond)

	eventually(t, "feed client to join the hub", func() bool { return r.hub.Stats().Clients == 1 })

	sample := feed.RateSample{
		Timestamp: 1700000000000,
		PerSource: []feed.SourcePrice{
			{Name: "kraken", Price: feed.Price(0.12)},
			{Name: "mexc", Price: feed.Price(0.125)},
		},
	}
	if err := r.hub.Publish(ctx, feed.MethodRates, sample); err != nil {
		t.Fatalf("publish rates: %v", err)
	}
	if err := r.hub.Publish(ctx, feed.MethodTransfer, feed.TransferPayload{
		IDSource: 1, Ticker: "NACHO", KRC20Amount: 1000, KASAmount: 15000, CreatedAt: 1700000000000,
	}); err != nil {
		t.Fatalf("publish transfer: %v", err)
	}

	eventually(t, "transfer on the board", func() bool { return r.board.Len() == 1 })
	eventually(t, "rate point on the chart", func() bool {
		frame := r.board.Chart()
		return len(frame.Series) == 2 && len(frame.Series[0].Points) == 1
	})

	frame := r.board.Chart()
	if frame.Bounds.Min >= 0.12 || frame.Bounds.Max <= 0.125 {
		t.Errorf("expected padded bounds around the sample, got %+v", frame.Bounds)
	}

	select {
	case alert := <-n.sent:
		if alert.Ticker != "NACHO" || alert.Attribution != feed.KSPRAttribution {
			t.Errorf("unexpected alert: %+v", alert)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("expected a large transfer alert")
	}

	stats := r.GetStats()
	if !stats.Feed.Enabled || !stats.Feed.Connected {
		t.Errorf("expected connected feed in stats: %+v", stats.Feed)
	}
	if stats.Feed.MessageCount != 2 {
		t.Errorf("expected 2 feed messages, got %d", stats.Feed.MessageCount)
	}
}

func TestRunner_GetStatsWhileDispatching(t *testing.T) {
	r, _ := newTestRunner(t, nil)

	const samples = 200
	msgs := make(chan []byte, samples)
	for i := 0; i < samples; i++ {
		raw, err := feed.EncodeEnvelope(feed.MethodRates, feed.RateSample{
			Timestamp: int64(1700000000000 + i*5000),
			PerSource: []feed.SourcePrice{
				{Name: "kraken", Price: feed.Price(0.12 + float64(i)*1e-4)},
				{Name: "mexc", Price: feed.Price(0.125)},
			},
		})
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		msgs <- raw
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.dispatcher.Run(ctx, msgs)

	deadline := time.Now().Add(5 * time.Second)
	for r.dispatcher.Stats().Rates < samples {
		if time.Now().After(deadline) {
			t.Fatalf("dispatched %d of %d samples", r.dispatcher.Stats().Rates, samples)
		}
		stats := r.GetStats()
		if stats.Chart.Points > feed.DefaultWindow {
			t.Fatalf("chart exceeds the window: %d points", stats.Chart.Points)
		}
	}

	stats := r.GetStats()
	if stats.Chart.Points != feed.DefaultWindow {
		t.Errorf("expected %d points, got %d", feed.DefaultWindow, stats.Chart.Points)
	}
	if stats.Chart.Window != feed.DefaultWindow {
		t.Errorf("expected window %d, got %d", feed.DefaultWindow, stats.Chart.Window)
	}
	if len(stats.Chart.Sources) != 2 || stats.Chart.Sources[1] != "mexc" {
		t.Errorf("unexpected sources: %v", stats.Chart.Sources)
	}
}
