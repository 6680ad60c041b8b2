// Package multi delivers every report to several named destinations.
// A failing destination does not stop delivery to the others; its error is
// returned as a *DeliveryError naming the destination and report.
package multi

import (
	"context"
	"errors"
	"fmt"

	"github.com/strongdm/snagbridge/pkg/snag"
)

// Destination is a sink with the name used in delivery errors,
// e.g. "bugsnag" or "elasticsearch".
type Destination struct {
	Name string
	Sink snag.Sink
}

// DeliveryError reports a destination that failed to accept a report.
type DeliveryError struct {
	Destination string
	EventID     string
	Err         error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver report %s to %s: %v", e.EventID, e.Destination, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Sink fans reports out to its destinations in order.
type Sink struct {
	dests []Destination
}

// New creates a sink delivering to dests. Destinations without a sink are
// skipped.
func New(dests ...Destination) *Sink {
	kept := make([]Destination, 0, len(dests))
	for _, d := range dests {
		if d.Sink != nil {
			kept = append(kept, d)
		}
	}
	return &Sink{dests: kept}
}

// Names returns the destination names in delivery order.
func (s *Sink) Names() []string {
	names := make([]string, len(s.dests))
	for i, d := range s.dests {
		names[i] = d.Name
	}
	return names
}

// Write delivers report to every destination, even after one fails.
func (s *Sink) Write(ctx context.Context, report snag.Report) error {
	var errs []error
	for _, d := range s.dests {
		if err := d.Sink.Write(ctx, report); err != nil {
			errs = append(errs, &DeliveryError{Destination: d.Name, EventID: report.EventID, Err: err})
		}
	}
	return errors.Join(errs...)
}

// Flush flushes every destination.
func (s *Sink) Flush(ctx context.Context) error {
	var errs []error
	for _, d := range s.dests {
		if err := d.Sink.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", d.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every destination.
func (s *Sink) Close() error {
	var errs []error
	for _, d := range s.dests {
		if err := d.Sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", d.Name, err))
		}
	}
	return errors.Join(errs...)
}
