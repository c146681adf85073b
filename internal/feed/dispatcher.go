package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// TransferSink consumes parsed transfer events.
type TransferSink interface {
	Render(ev TransferEvent) Entry
}

// RateSink consumes parsed rate samples.
type RateSink interface {
	Update(sample RateSample) error
}

// Envelope is the outer frame of every inbound message. Data normally holds
// the payload serialized as a JSON string.
type Envelope struct {
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data"`
}

// EncodeEnvelope serializes payload and wraps it in an envelope for method.
func EncodeEnvelope(method string, payload any) ([]byte, error) {
	inner, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", method, err)
	}
	data, err := json.Marshal(string(inner))
	if err != nil {
		return nil, fmt.Errorf("encode %s data: %w", method, err)
	}
	return json.Marshal(Envelope{Method: method, Data: data})
}

// EnvelopeError reports a message that could not be decoded.
type EnvelopeError struct {
	Stage  string // "envelope" or "payload"
	Method string
	Err    error
}

func (e *EnvelopeError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("malformed %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("malformed %s for %q: %v", e.Stage, e.Method, e.Err)
}

func (e *EnvelopeError) Unwrap() error {
	return e.Err
}

// DispatchStats counts what the dispatcher has seen.
type DispatchStats struct {
	Received       uint64 `json:"received"`
	Transfers      uint64 `json:"transfers"`
	Rates          uint64 `json:"rates"`
	UnknownMethods uint64 `json:"unknown_methods"`
	Errors         uint64 `json:"errors"`
}

// Dispatcher routes inbound messages to the transfer and rate sinks by their
// method tag.
type Dispatcher struct {
	logger    *zap.Logger
	transfers TransferSink
	rates     RateSink

	// OnTransfer, when set, is called after each rendered transfer.
	OnTransfer func(ev TransferEvent, entry Entry)

	received  uint64
	nTransfer uint64
	nRates    uint64
	nUnknown  uint64
	nErrors   uint64
}

func NewDispatcher(logger *zap.Logger, transfers TransferSink, rates RateSink) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		logger:    logger,
		transfers: transfers,
		rates:     rates,
	}
}

// Dispatch decodes one message and hands it to the matching sink. Unknown
// methods are ignored and return nil.
func (d *Dispatcher) Dispatch(raw []byte) error {
	atomic.AddUint64(&d.received, 1)

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return d.fail(&EnvelopeError{Stage: "envelope", Err: err})
	}

	switch env.Method {
	case MethodTransfer:
		payload, err := unwrapData(env.Data)
		if err != nil {
			return d.fail(&EnvelopeError{Stage: "payload", Method: env.Method, Err: err})
		}
		ev, err := ParseTransfer(payload)
		if err != nil {
			return d.fail(&EnvelopeError{Stage: "payload", Method: env.Method, Err: err})
		}
		entry := d.transfers.Render(ev)
		atomic.AddUint64(&d.nTransfer, 1)
		if d.OnTransfer != nil {
			d.OnTransfer(ev, entry)
		}
		return nil

	case MethodRates:
		payload, err := unwrapData(env.Data)
		if err != nil {
			return d.fail(&EnvelopeError{Stage: "payload", Method: env.Method, Err: err})
		}
		sample, err := ParseRates(payload)
		if err != nil {
			return d.fail(&EnvelopeError{Stage: "payload", Method: env.Method, Err: err})
		}
		if err := d.rates.Update(sample); err != nil {
			return d.fail(fmt.Errorf("apply rates: %w", err))
		}
		atomic.AddUint64(&d.nRates, 1)
		return nil

	default:
		atomic.AddUint64(&d.nUnknown, 1)
		return nil
	}
}

// Run dispatches messages one at a time until ctx is done or msgs is
// closed. Failures are logged and the message is dropped.
func (d *Dispatcher) Run(ctx context.Context, msgs <-chan []byte) {
	d.logger.Info("dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping", zap.Error(ctx.Err()))
			return
		case raw, ok := <-msgs:
			if !ok {
				d.logger.Info("dispatcher stopping: input closed")
				return
			}
			if err := d.Dispatch(raw); err != nil {
				d.logger.Error("dropping message",
					zap.Error(err),
					zap.Int("bytes", len(raw)),
				)
			}
		}
	}
}

// Stats returns the dispatcher counters.
func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Received:       atomic.LoadUint64(&d.received),
		Transfers:      atomic.LoadUint64(&d.nTransfer),
		Rates:          atomic.LoadUint64(&d.nRates),
		UnknownMethods: atomic.LoadUint64(&d.nUnknown),
		Errors:         atomic.LoadUint64(&d.nErrors),
	}
}

func (d *Dispatcher) fail(err error) error {
	atomic.AddUint64(&d.nErrors, 1)
	return err
}

// unwrapData returns the nested payload. The canonical form is a JSON
// string holding serialized JSON; an inline JSON value is accepted as is.
func unwrapData(data json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, fmt.Errorf("missing data")
	}
	if trimmed[0] != '"' {
		return trimmed, nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil, fmt.Errorf("decode data string: %w", err)
	}
	return []byte(s), nil
}
