package feed

import (
	"math"
	"testing"
)

func TestEscapeHTML(t *testing.T) {
	got := EscapeHTML(`<script>&"'`)
	want := "&lt;script&gt;&amp;&quot;&apos;"
	if got != want {
		t.Errorf("EscapeHTML = %q, want %q", got, want)
	}
}

func TestEscapeHTML_PlainText(t *testing.T) {
	if got := EscapeHTML("nacho"); got != "nacho" {
		t.Errorf("unexpected escape of plain text: %q", got)
	}
	// Already-escaped input is escaped again rather than passed through.
	if got := EscapeHTML("&amp;"); got != "&amp;amp;" {
		t.Errorf("unexpected double escape: %q", got)
	}
}

func TestFormatPPU(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0.005, "0.00500000"},
		{0.000241310001, "0.00024131"},
		{12, "12.00000000"},
		{math.NaN(), "NaN"},
		{math.Inf(1), "Infinity"},
	}
	for _, tt := range tests {
		if got := FormatPPU(tt.in); got != tt.want {
			t.Errorf("FormatPPU(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1000, "1,000"},
		{5, "5"},
		{476574, "476,574"},
		{1234.5678, "1,234.568"},
		{0.5, "0.5"},
		{1000000.25, "1,000,000.25"},
		{math.NaN(), "NaN"},
	}
	for _, tt := range tests {
		if got := FormatAmount(tt.in); got != tt.want {
			t.Errorf("FormatAmount(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatClock(t *testing.T) {
	if got := FormatClock(1700000000000); got != "22:13:20" {
		t.Errorf("FormatClock = %q, want 22:13:20", got)
	}
	if got := FormatClock(0); got != "00:00:00" {
		t.Errorf("FormatClock(0) = %q", got)
	}
	if got := FormatClock(math.NaN()); got != "NaN:NaN:NaN" {
		t.Errorf("FormatClock(NaN) = %q", got)
	}
}
