package feed

import (
	"context"
	"sync"
	"time"
)

// fakeFeed records everything the renderer does to the feed surface.
type fakeFeed struct {
	mu          sync.Mutex
	entries     []Entry
	highlighted map[string]bool
	handlers    map[string]func()
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		highlighted: make(map[string]bool),
		handlers:    make(map[string]func()),
	}
}

func (f *fakeFeed) Prepend(entry Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append([]Entry{entry}, f.entries...)
}

func (f *fakeFeed) SetHighlight(entryID string, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.highlighted[entryID] = on
}

func (f *fakeFeed) BindActivation(entryID, field string, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[entryID+"/"+field] = fn
}

func (f *fakeFeed) isHighlighted(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.highlighted[id]
}

func (f *fakeFeed) handler(id, field string) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[id+"/"+field]
}

// fakeChart records redraws and readouts.
type fakeChart struct {
	frames   []ChartFrame
	readouts map[string]float64
}

func newFakeChart() *fakeChart {
	return &fakeChart{readouts: make(map[string]float64)}
}

func (c *fakeChart) Redraw(frame ChartFrame) {
	c.frames = append(c.frames, frame)
}

func (c *fakeChart) SetReadout(source string, price float64) {
	c.readouts[source] = price
}

// fakeClipboard signals every write on copied.
type fakeClipboard struct {
	err    error
	copied chan string
}

func newFakeClipboard() *fakeClipboard {
	return &fakeClipboard{copied: make(chan string, 8)}
}

func (c *fakeClipboard) CopyToClipboard(_ context.Context, text string) error {
	if c.err != nil {
		c.copied <- ""
		return c.err
	}
	c.copied <- text
	return nil
}

type fakeToaster struct {
	shown chan struct{}
}

func newFakeToaster() *fakeToaster {
	return &fakeToaster{shown: make(chan struct{}, 8)}
}

func (t *fakeToaster) ShowConfirmation() {
	t.shown <- struct{}{}
}

type tooltip struct {
	entryID, element, title string
}

type fakeTooltips struct {
	attached []tooltip
}

func (t *fakeTooltips) AttachTooltip(entryID, element, title string) {
	t.attached = append(t.attached, tooltip{entryID, element, title})
}

// manualScheduler captures deferred functions instead of running them.
type manualScheduler struct {
	delays []time.Duration
	funcs  []func()
}

func (s *manualScheduler) schedule(d time.Duration, f func()) {
	s.delays = append(s.delays, d)
	s.funcs = append(s.funcs, f)
}

func (s *manualScheduler) fire() {
	for _, f := range s.funcs {
		f()
	}
	s.funcs = nil
}
