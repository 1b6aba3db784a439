package quote

import (
	"fmt"
	"time"
)

// OutcomeKind classifies the result of one provider fetch
type OutcomeKind int

const (
	Success          OutcomeKind = iota
	TransientFailure             // network error, timeout, 5xx
	ProtocolError                // malformed or unexpected response shape
	RateLimited                  // explicit backpressure from the provider
)

// String returns the label used in logs and metrics
func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case TransientFailure:
		return "transient_failure"
	case ProtocolError:
		return "protocol_error"
	case RateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Outcome is the adapter-reported result of a fetch
type Outcome struct {
	Kind   OutcomeKind
	Reason string
	Err    error
}

// Failed reports whether the outcome counts against the provider's breaker
func (o Outcome) Failed() bool {
	return o.Kind != Success
}

func (o Outcome) String() string {
	if o.Kind == Success {
		return o.Kind.String()
	}
	if o.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", o.Kind, o.Reason, o.Err)
	}
	return fmt.Sprintf("%s: %s", o.Kind, o.Reason)
}

func Succeeded() Outcome { return Outcome{Kind: Success} }

func Transient(reason string, err error) Outcome {
	return Outcome{Kind: TransientFailure, Reason: reason, Err: err}
}

func Protocol(reason string, err error) Outcome {
	return Outcome{Kind: ProtocolError, Reason: reason, Err: err}
}

func Throttled(reason string) Outcome {
	return Outcome{Kind: RateLimited, Reason: reason}
}

// Bar is one daily OHLCV bar
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// PartialRecord carries whatever one provider could supply. A field missing
// from Values is absent; it is never defaulted to zero.
type PartialRecord struct {
	SecurityID string
	Values     map[Field]float64
	History    []Bar // ascending by date
	Timestamp  time.Time
}

// NewPartial returns an empty partial record for securityID
func NewPartial(securityID string) PartialRecord {
	return PartialRecord{SecurityID: securityID, Values: map[Field]float64{}}
}

// Set stores a value; callers only set fields they actually received
func (p *PartialRecord) Set(f Field, v float64) {
	if p.Values == nil {
		p.Values = map[Field]float64{}
	}
	p.Values[f] = v
}

// Has reports whether the provider supplied f
func (p PartialRecord) Has(f Field) bool {
	if f == FieldHistory {
		return len(p.History) > 0
	}
	_, ok := p.Values[f]
	return ok
}

// Get returns the value for f and whether it was supplied
func (p PartialRecord) Get(f Field) (float64, bool) {
	v, ok := p.Values[f]
	return v, ok
}

// Empty reports whether nothing at all was supplied
func (p PartialRecord) Empty() bool {
	return len(p.Values) == 0 && len(p.History) == 0
}
