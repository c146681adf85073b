package feed

import (
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestRenderer(t *testing.T) (*Renderer, *fakeFeed, *fakeClipboard, *fakeToaster, *fakeTooltips, *manualScheduler) {
	t.Helper()

	feed := newFakeFeed()
	clip := newFakeClipboard()
	toast := newFakeToaster()
	tips := &fakeTooltips{}
	sched := &manualScheduler{}

	n := 0
	r := NewRenderer(zap.NewNop(), feed, clip, toast, tips,
		WithScheduler(sched.schedule),
		WithIDs(func() string {
			n++
			return "entry-" + string(rune('0'+n))
		}),
	)
	return r, feed, clip, toast, tips, sched
}

func nachoEvent() TransferEvent {
	return TransferEvent{
		SourceID:    1,
		Ticker:      "nacho",
		TokenAmount: 1000,
		BaseAmount:  5,
		CreatedAt:   1700000000000,
	}
}

func TestRender_EndToEnd(t *testing.T) {
	r, feed, _, _, _, _ := newTestRenderer(t)

	entry := r.Render(nachoEvent())

	if entry.Ticker != "nacho" {
		t.Errorf("unexpected ticker: %q", entry.Ticker)
	}
	if entry.PPU != "0.00500000" {
		t.Errorf("unexpected ppu: %q", entry.PPU)
	}
	if entry.KAS != "5" {
		t.Errorf("unexpected kas: %q", entry.KAS)
	}
	if entry.KRC20 != "1,000" {
		t.Errorf("unexpected krc20: %q", entry.KRC20)
	}
	if entry.Time != "22:13:20" {
		t.Errorf("unexpected time: %q", entry.Time)
	}
	if entry.Attribution != KSPRAttribution {
		t.Errorf("expected KSPR attribution, got %q", entry.Attribution)
	}
	for _, want := range []string{"nacho", "0.00500000", "1,000", "22:13:20", KSPRAttribution} {
		if !strings.Contains(entry.HTML, want) {
			t.Errorf("markup missing %q", want)
		}
	}

	if len(feed.entries) != 1 || feed.entries[0].ID != entry.ID {
		t.Fatalf("expected entry to be prepended, got %+v", feed.entries)
	}
}

func TestRender_OtherSourceHasNoAttribution(t *testing.T) {
	r, _, _, _, _, _ := newTestRenderer(t)

	ev := nachoEvent()
	ev.SourceID = 2
	entry := r.Render(ev)

	if entry.Attribution != "" {
		t.Errorf("expected empty attribution, got %q", entry.Attribution)
	}
	if strings.Contains(entry.HTML, KSPRAttribution) {
		t.Error("markup should not carry the KSPR attribution")
	}
}

func TestRender_EscapesTicker(t *testing.T) {
	r, _, _, _, _, _ := newTestRenderer(t)

	ev := nachoEvent()
	ev.Ticker = `<script>&"'`
	entry := r.Render(ev)

	if strings.Contains(entry.HTML, "<script>") {
		t.Error("markup contains unescaped ticker")
	}
	if !strings.Contains(entry.HTML, "&lt;script&gt;&amp;&quot;&apos;") {
		t.Error("markup missing escaped ticker")
	}
	// The copy text is the displayed text, not the escaped markup.
	if entry.Copyable[0].Text != `<script>&"'` {
		t.Errorf("unexpected copy text: %q", entry.Copyable[0].Text)
	}
}

func TestRender_NaNFields(t *testing.T) {
	r, _, _, _, _, _ := newTestRenderer(t)

	ev, err := ParseTransfer([]byte(`{"ticker":"x"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry := r.Render(ev)

	if entry.PPU != "NaN" || entry.KAS != "NaN" || entry.KRC20 != "NaN" {
		t.Errorf("expected NaN amounts, got %+v", entry)
	}
	if entry.Time != "NaN:NaN:NaN" {
		t.Errorf("unexpected time: %q", entry.Time)
	}
}

func TestRender_NewestFirst(t *testing.T) {
	r, feed, _, _, _, _ := newTestRenderer(t)

	first := r.Render(nachoEvent())
	second := r.Render(nachoEvent())

	if len(feed.entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(feed.entries))
	}
	if feed.entries[0].ID != second.ID || feed.entries[1].ID != first.ID {
		t.Error("expected most recent entry at the head")
	}
}

func TestRender_HighlightCleared(t *testing.T) {
	r, feed, _, _, _, sched := newTestRenderer(t)

	entry := r.Render(nachoEvent())

	if !feed.isHighlighted(entry.ID) {
		t.Error("expected new entry to be highlighted")
	}
	if len(sched.delays) != 1 || sched.delays[0] != DefaultHighlight {
		t.Fatalf("expected one %v timer, got %v", DefaultHighlight, sched.delays)
	}

	sched.fire()

	if feed.isHighlighted(entry.ID) {
		t.Error("expected highlight to be cleared after the timer")
	}
}

func TestRender_HighlightWithRealTimer(t *testing.T) {
	feed := newFakeFeed()
	r := NewRenderer(nil, feed, nil, nil, nil, WithHighlight(10*time.Millisecond))

	entry := r.Render(nachoEvent())

	deadline := time.Now().Add(time.Second)
	for feed.isHighlighted(entry.ID) {
		if time.Now().After(deadline) {
			t.Fatal("highlight was never cleared")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRender_Tooltip(t *testing.T) {
	r, _, _, _, tips, _ := newTestRenderer(t)

	entry := r.Render(nachoEvent())

	if len(tips.attached) != 1 {
		t.Fatalf("expected one tooltip, got %d", len(tips.attached))
	}
	got := tips.attached[0]
	if got.entryID != entry.ID || got.element != PPUTooltipElement || got.title != PPUTooltipTitle {
		t.Errorf("unexpected tooltip: %+v", got)
	}
}

func TestRender_CopyShowsConfirmation(t *testing.T) {
	r, feed, clip, toast, _, _ := newTestRenderer(t)

	entry := r.Render(nachoEvent())

	for _, field := range []string{FieldTicker, FieldPPU, FieldKRC20, FieldKAS} {
		if feed.handler(entry.ID, field) == nil {
			t.Errorf("no activation bound for %s", field)
		}
	}

	feed.handler(entry.ID, FieldKRC20)()

	select {
	case text := <-clip.copied:
		if text != "1,000" {
			t.Errorf("unexpected copied text: %q", text)
		}
	case <-time.After(time.Second):
		t.Fatal("clipboard was not written")
	}

	select {
	case <-toast.shown:
	case <-time.After(time.Second):
		t.Fatal("confirmation was not shown")
	}
}

func TestRender_CopyFailureShowsNoConfirmation(t *testing.T) {
	r, feed, clip, toast, _, _ := newTestRenderer(t)
	clip.err = errors.New("denied")

	entry := r.Render(nachoEvent())
	feed.handler(entry.ID, FieldTicker)()

	select {
	case <-clip.copied:
	case <-time.After(time.Second):
		t.Fatal("clipboard was not called")
	}

	select {
	case <-toast.shown:
		t.Error("confirmation shown after failed copy")
	case <-time.After(50 * time.Millisecond):
	}
}
