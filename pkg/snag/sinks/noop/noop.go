// Package noop provides a sink that discards every report.
// Useful for tests and for disabling delivery without touching call sites.
package noop

import (
	"context"

	"github.com/strongdm/snagbridge/pkg/snag"
)

type noopSink struct{}

// New creates a sink that discards all reports.
func New() snag.Sink {
	return noopSink{}
}

func (noopSink) Write(ctx context.Context, report snag.Report) error {
	return nil
}

func (noopSink) Flush(ctx context.Context) error {
	return nil
}

func (noopSink) Close() error {
	return nil
}
