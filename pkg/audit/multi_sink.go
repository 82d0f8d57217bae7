package audit

import (
	"context"
	"errors"
)

// MultiSink writes to multiple sinks
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a sink that writes to every destination
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Write writes to all sinks, continuing past failures
func (m *MultiSink) Write(ctx context.Context, event *Event) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Write(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all sinks
func (m *MultiSink) Close() error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
