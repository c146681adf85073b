package app

import (
	"context"
	"kaswatch/clients/notifier"
	"kaswatch/internal/feed"
	"sync"
)

// mockNotifier records every alert it is given.
type mockNotifier struct {
	mu     sync.Mutex
	alerts []notifier.TransferAlert
	sent   chan notifier.TransferAlert
}

func newMockNotifier() *mockNotifier {
	return &mockNotifier{sent: make(chan notifier.TransferAlert, 16)}
}

func (m *mockNotifier) SendTransferAlert(alert notifier.TransferAlert) {
	m.mu.Lock()
	m.alerts = append(m.alerts, alert)
	m.mu.Unlock()
	select {
	case m.sent <- alert:
	default:
	}
}

func (m *mockNotifier) Close() error { return nil }

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alerts)
}

// published is one call to mockPublisher.Publish.
type published struct {
	method  string
	payload any
}

// mockPublisher records published payloads and can be made to fail.
type mockPublisher struct {
	mu    sync.Mutex
	calls []published
	err   error
}

func (m *mockPublisher) Publish(_ context.Context, method string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, published{method: method, payload: payload})
	return nil
}

func (m *mockPublisher) snapshot() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]published, len(m.calls))
	copy(out, m.calls)
	return out
}

// mockFetcher returns a fixed sample.
type mockFetcher struct {
	mu     sync.Mutex
	sample feed.RateSample
	calls  int
}

func (m *mockFetcher) FetchAll(_ context.Context) feed.RateSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.sample
}

func (m *mockFetcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
