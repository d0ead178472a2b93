package monitor

import (
	"errors"
	"fmt"
)

// Sink accepts complete line-protocol lines without a trailing newline.
// Implementations are best effort: a failed line is reported, not retried.
type Sink interface {
	WriteLine(line string) error
	Name() string
}

// Fanout writes every line to each of its sinks.
type Fanout struct {
	sinks   []Sink
	metrics *Metrics
}

// NewFanout builds a fanout over the non-nil sinks.
func NewFanout(metrics *Metrics, sinks ...Sink) *Fanout {
	f := &Fanout{metrics: metrics}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Name implements Sink.
func (f *Fanout) Name() string { return "fanout" }

// Len returns the number of sinks.
func (f *Fanout) Len() int { return len(f.sinks) }

// Names lists the sinks in write order.
func (f *Fanout) Names() []string {
	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.Name()
	}
	return names
}

// WriteLine writes to every sink even when an earlier one fails. The
// returned error joins each failure, prefixed with the sink name.
func (f *Fanout) WriteLine(line string) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.WriteLine(line); err != nil {
			f.metrics.sinkError(s.Name())
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
