package feed

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrUnknownSource is returned when a sample names a source the chart
	// was not built with.
	ErrUnknownSource = errors.New("unknown rate source")

	// ErrDuplicateSource is returned when a sample, or the initial source
	// list, names the same source twice.
	ErrDuplicateSource = errors.New("duplicate rate source")
)

// boundsPadding is the share of the sample's spread added above and below.
const boundsPadding = 0.05

// Aggregator keeps one rolling price series per exchange in lockstep and
// redraws the chart on every sample.
//
// It is not safe for concurrent use; all updates are expected to come from
// the single dispatch goroutine.
type Aggregator struct {
	logger *zap.Logger
	chart  ChartSurface
	window int

	series []RateSeries
	index  map[string]int // lower-cased name -> series index
	bounds DisplayBounds
}

// AggregatorOption customizes an Aggregator.
type AggregatorOption func(*Aggregator)

// WithWindow overrides the number of points kept per series.
func WithWindow(w int) AggregatorOption {
	return func(a *Aggregator) {
		if w > 0 {
			a.window = w
		}
	}
}

// WithAggregatorLogger sets the aggregator's logger.
func WithAggregatorLogger(logger *zap.Logger) AggregatorOption {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAggregator builds the fixed series set. Source names are matched
// case-insensitively and must be unique.
func NewAggregator(sources []string, chart ChartSurface, opts ...AggregatorOption) (*Aggregator, error) {
	a := &Aggregator{
		logger: zap.NewNop(),
		chart:  chart,
		window: DefaultWindow,
		series: make([]RateSeries, 0, len(sources)),
		index:  make(map[string]int, len(sources)),
	}
	for _, opt := range opts {
		opt(a)
	}

	if len(sources) == 0 {
		return nil, errors.New("aggregator needs at least one source")
	}
	for _, name := range sources {
		key := strings.ToLower(name)
		if _, ok := a.index[key]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateSource, name)
		}
		a.index[key] = len(a.series)
		a.series = append(a.series, RateSeries{
			Name:   name,
			Points: make([]SeriesPoint, 0, a.window+1),
		})
	}

	return a, nil
}

// Update appends the sample to every series, recomputes the display bounds
// from this sample's prices, trims every series to the window and redraws.
//
// Source names are resolved before anything is touched, so an unknown or
// repeated source leaves the chart exactly as it was.
func (a *Aggregator) Update(sample RateSample) error {
	prices := make([]*float64, len(a.series))
	seen := make([]bool, len(a.series))
	for _, sp := range sample.PerSource {
		i, ok := a.index[strings.ToLower(sp.Name)]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownSource, sp.Name)
		}
		if seen[i] {
			return fmt.Errorf("%w: %q", ErrDuplicateSource, sp.Name)
		}
		seen[i] = true
		prices[i] = sp.Price
	}

	for i := range a.series {
		var y *float64
		if prices[i] != nil {
			v := *prices[i]
			y = &v
		}
		a.series[i].Points = append(a.series[i].Points, SeriesPoint{X: sample.Timestamp, Y: y})
	}

	if b, ok := sampleBounds(sample); ok {
		a.bounds = b
	}

	if len(a.series[0].Points) > a.window {
		for i := range a.series {
			pts := a.series[i].Points
			drop := len(pts) - a.window
			a.series[i].Points = append(pts[:0], pts[drop:]...)
		}
	}

	if a.chart != nil {
		a.chart.Redraw(a.Snapshot())
		for _, sp := range sample.PerSource {
			if sp.Price == nil {
				continue
			}
			a.chart.SetReadout(a.series[a.index[strings.ToLower(sp.Name)]].Name, *sp.Price)
		}
	}

	a.logger.Debug("rate sample applied",
		zap.Int64("timestamp", sample.Timestamp),
		zap.Int("sources", len(sample.PerSource)),
		zap.Int("points", len(a.series[0].Points)),
	)

	return nil
}

// Bounds returns the current display bounds.
func (a *Aggregator) Bounds() DisplayBounds {
	return a.bounds
}

// Window returns the maximum series length.
func (a *Aggregator) Window() int {
	return a.window
}

// Snapshot returns a deep copy of the chart state.
func (a *Aggregator) Snapshot() ChartFrame {
	frame := ChartFrame{
		Bounds: a.bounds,
		Series: make([]RateSeries, len(a.series)),
	}
	for i, s := range a.series {
		pts := make([]SeriesPoint, len(s.Points))
		copy(pts, s.Points)
		frame.Series[i] = RateSeries{Name: s.Name, Points: pts}
	}
	return frame
}

// sampleBounds computes the padded range of the non-null prices in a
// sample. It reports false when the sample carries no price at all.
func sampleBounds(sample RateSample) (DisplayBounds, bool) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, sp := range sample.PerSource {
		if sp.Price == nil {
			continue
		}
		lo = math.Min(lo, *sp.Price)
		hi = math.Max(hi, *sp.Price)
	}
	if math.IsInf(lo, 1) {
		return DisplayBounds{}, false
	}
	padding := (hi - lo) * boundsPadding
	return DisplayBounds{Min: lo - padding, Max: hi + padding}, true
}
