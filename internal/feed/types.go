package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Methods carried in the envelope "method" field.
const (
	MethodTransfer = "last_krc20_transaction"
	MethodRates    = "kas-rates"
)

// DefaultWindow is the number of points kept per rate series.
const DefaultWindow = 25

// KSPRSourceID identifies transfers reported by the KSPR bot.
const KSPRSourceID = 1

// TransferEvent is one KRC20 transfer as delivered by the producer.
type TransferEvent struct {
	SourceID    int
	Ticker      string
	TokenAmount float64
	BaseAmount  float64
	CreatedAt   float64 // unix milliseconds
}

// PricePerUnit returns the base amount paid per token (KAS per KRC20).
func (e TransferEvent) PricePerUnit() float64 {
	return e.BaseAmount / e.TokenAmount
}

// transferWire is the JSON shape of a transfer payload. Fields are kept raw
// so that strings, nulls and missing values can degrade to NaN or empty text.
type transferWire struct {
	IDSource    json.RawMessage `json:"id_source"`
	Ticker      json.RawMessage `json:"ticker"`
	KRC20Amount json.RawMessage `json:"krc20_amount"`
	KASAmount   json.RawMessage `json:"kas_amount"`
	CreatedAt   json.RawMessage `json:"created_at"`
}

// TransferPayload is the producer-side form of a transfer.
type TransferPayload struct {
	IDSource    int     `json:"id_source"`
	Ticker      string  `json:"ticker"`
	KRC20Amount float64 `json:"krc20_amount"`
	KASAmount   float64 `json:"kas_amount"`
	CreatedAt   int64   `json:"created_at"`
}

// ParseTransfer decodes a transfer payload. Only a payload that is not a JSON
// object is rejected; individual bad fields surface as NaN or empty text.
func ParseTransfer(data []byte) (TransferEvent, error) {
	var w transferWire
	if err := json.Unmarshal(data, &w); err != nil {
		return TransferEvent{}, fmt.Errorf("decode transfer: %w", err)
	}

	ev := TransferEvent{
		Ticker:      looseString(w.Ticker),
		TokenAmount: looseNumber(w.KRC20Amount),
		BaseAmount:  looseNumber(w.KASAmount),
		CreatedAt:   looseNumber(w.CreatedAt),
	}

	id := looseNumber(w.IDSource)
	if !math.IsNaN(id) && !math.IsInf(id, 0) && id == math.Trunc(id) {
		ev.SourceID = int(id)
	}

	return ev, nil
}

// looseNumber coerces a raw JSON value into a float the way a browser's
// Number() does for scalars: numbers pass through, booleans are 1 or 0,
// numeric strings are parsed and blank strings are zero. Arrays, objects and
// anything unparseable are NaN.
func looseNumber(raw json.RawMessage) float64 {
	switch string(raw) {
	case "", "null":
		return math.NaN()
	case "true":
		return 1
	case "false":
		return 0
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return math.NaN()
	}
	return numericString(s)
}

// numericString parses a decimal literal with optional sign and exponent,
// an unsigned 0x, 0o or 0b integer, or a signed Infinity.
func numericString(s string) float64 {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return 0
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}

	if len(s) > 2 && s[0] == '0' {
		switch s[1] {
		case 'x', 'X':
			return radixInteger(s[2:], 16)
		case 'o', 'O':
			return radixInteger(s[2:], 8)
		case 'b', 'B':
			return radixInteger(s[2:], 2)
		}
	}

	// ParseFloat also takes inf, nan, hex floats and underscores.
	if strings.IndexFunc(s, func(r rune) bool {
		return !strings.ContainsRune("0123456789+-.eE", r)
	}) >= 0 {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) {
			return v // ±Inf or 0, as Number() rounds
		}
		return math.NaN()
	}
	return v
}

func radixInteger(digits string, base int) float64 {
	if digits == "" {
		return math.NaN()
	}
	var v float64
	for _, r := range digits {
		d, err := strconv.ParseUint(string(r), base, 8)
		if err != nil {
			return math.NaN()
		}
		v = v*float64(base) + float64(d)
	}
	return v
}

func looseString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// SourcePrice is one exchange's price inside a RateSample. A nil Price means
// the exchange did not answer this round.
type SourcePrice struct {
	Name  string
	Price *float64
}

// MarshalJSON encodes the pair as the two-element array used on the wire.
func (sp SourcePrice) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{sp.Name, sp.Price})
}

// UnmarshalJSON decodes a [name, price|null] pair.
func (sp *SourcePrice) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("source price: want 2 elements, got %d", len(pair))
	}
	if err := json.Unmarshal(pair[0], &sp.Name); err != nil {
		return fmt.Errorf("source price name: %w", err)
	}
	sp.Price = nil
	if string(pair[1]) == "null" {
		return nil
	}
	var p float64
	if err := json.Unmarshal(pair[1], &p); err != nil {
		return fmt.Errorf("source price %q: %w", sp.Name, err)
	}
	sp.Price = &p
	return nil
}

// RateSample is one batch of exchange prices taken at the same instant.
type RateSample struct {
	Timestamp int64         `json:"timestamp"`
	PerSource []SourcePrice `json:"data"`
}

// ParseRates decodes a rates payload.
func ParseRates(data []byte) (RateSample, error) {
	var s RateSample
	if err := json.Unmarshal(data, &s); err != nil {
		return RateSample{}, fmt.Errorf("decode rates: %w", err)
	}
	return s, nil
}

// Price is a convenience for building samples.
func Price(v float64) *float64 {
	return &v
}

// SeriesPoint is one chart point. Y is nil when the source had no price.
type SeriesPoint struct {
	X int64    `json:"x"`
	Y *float64 `json:"y"`
}

// RateSeries is the rolling window for one exchange.
type RateSeries struct {
	Name   string        `json:"name"`
	Points []SeriesPoint `json:"points"`
}

// DisplayBounds is the padded Y range of the chart.
type DisplayBounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// ChartFrame is everything a chart surface needs for one redraw.
type ChartFrame struct {
	Bounds DisplayBounds `json:"bounds"`
	Series []RateSeries  `json:"series"`
}
