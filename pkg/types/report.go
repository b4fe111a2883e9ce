package types

import (
	"encoding/json"
	"errors"
	"time"
)

// FetchFailure records a service that could not be sampled in a round.
type FetchFailure struct {
	Service   string    `json:"service"`
	Error     string    `json:"error"`
	Round     int       `json:"round"`
	Timestamp time.Time `json:"timestamp"`
}

// Record is one entry of a run report: exactly one of Signal or Failure is set.
type Record struct {
	Signal  *Signal
	Failure *FetchFailure
}

// Service returns the service the record refers to.
func (r Record) Service() string {
	if r.Signal != nil {
		return r.Signal.Service
	}
	if r.Failure != nil {
		return r.Failure.Service
	}
	return ""
}

// MarshalJSON flattens the record into either the signal or the failure object.
func (r Record) MarshalJSON() ([]byte, error) {
	switch {
	case r.Signal != nil:
		return json.Marshal(r.Signal)
	case r.Failure != nil:
		return json.Marshal(r.Failure)
	default:
		return nil, errors.New("types: empty record")
	}
}

// UnmarshalJSON tells the two shapes apart by the presence of an "error" key.
func (r *Record) UnmarshalJSON(data []byte) error {
	var probe struct {
		Error *string `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Error != nil {
		var f FetchFailure
		if err := json.Unmarshal(data, &f); err != nil {
			return err
		}
		*r = Record{Failure: &f}
		return nil
	}
	var s Signal
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*r = Record{Signal: &s}
	return nil
}

// Report is the aggregate output of one detection run.
type Report struct {
	RunID       string    `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Samples     int       `json:"samples"`
	IntervalMs  int64     `json:"interval_ms"`
	Signals     []Record  `json:"signals"`
}

// SignalList returns only the fired signals of the report, in order.
func (r *Report) SignalList() []*Signal {
	var out []*Signal
	for _, rec := range r.Signals {
		if rec.Signal != nil {
			out = append(out, rec.Signal)
		}
	}
	return out
}

// Failures returns only the fetch failures of the report, in order.
func (r *Report) Failures() []*FetchFailure {
	var out []*FetchFailure
	for _, rec := range r.Signals {
		if rec.Failure != nil {
			out = append(out, rec.Failure)
		}
	}
	return out
}
