package feed

import (
	"math"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
)

// FormatPPU renders a price per unit with 8 fractional digits.
func FormatPPU(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(v, 'f', 8, 64)
}

// FormatAmount renders an amount with thousands separators and at most
// three fractional digits, e.g. 1000 -> "1,000", 1234.5678 -> "1,234.568".
func FormatAmount(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "∞"
	case math.IsInf(v, -1):
		return "-∞"
	}
	// Above 1e15 every float64 is already an integer.
	if math.Abs(v) < 1e15 {
		v = math.Round(v*1000) / 1000
	}
	if v == 0 {
		v = 0 // drops negative zero
	}
	return humanize.CommafWithDigits(v, 3)
}

// FormatClock renders a unix-millisecond timestamp as HH:MM:SS in UTC.
func FormatClock(ms float64) string {
	if math.IsNaN(ms) || math.IsInf(ms, 0) {
		return "NaN:NaN:NaN"
	}
	return time.UnixMilli(int64(ms)).UTC().Format("15:04:05")
}

// FormatRate renders an exchange price for a readout.
func FormatRate(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
