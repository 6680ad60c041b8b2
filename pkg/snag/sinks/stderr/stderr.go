// Package stderr provides a sink that prints reports in human-readable form.
// Useful for development and debugging.
package stderr

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/strongdm/snagbridge/pkg/snag"
)

// Option configures the stderr sink.
type Option func(*stderrSink)

// WithVerbose prints the stacktrace and metadata keys as well.
func WithVerbose() Option {
	return func(s *stderrSink) {
		s.verbose = true
	}
}

// WithWriter redirects output (default: os.Stderr).
func WithWriter(w io.Writer) Option {
	return func(s *stderrSink) {
		if w != nil {
			s.out = w
		}
	}
}

type stderrSink struct {
	verbose bool

	mu  sync.Mutex
	out io.Writer
}

// New creates a sink that writes to stderr.
func New(opts ...Option) snag.Sink {
	s := &stderrSink{out: os.Stderr}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write prints the report.
// Format: [SNAG] <timestamp> <SEVERITY> <category> (<context>) [unhandled]
func (s *stderrSink) Write(ctx context.Context, report snag.Report) error {
	var b strings.Builder

	header := []string{fmt.Sprintf("[SNAG] %s %s %s",
		report.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
		strings.ToUpper(string(report.Severity)),
		report.Category)}
	if report.Context != "" {
		header = append(header, fmt.Sprintf("(%s)", report.Context))
	}
	if report.Unhandled {
		header = append(header, "[unhandled]")
	}
	b.WriteString(strings.Join(header, " "))
	b.WriteString("\n")

	if report.Message != "" {
		fmt.Fprintf(&b, "        Message: %s\n", report.Message)
	}
	if report.User != nil {
		fmt.Fprintf(&b, "        User: %s\n", report.User.ID)
	}
	if report.Fingerprint != "" {
		fmt.Fprintf(&b, "        Fingerprint: %s\n", report.Fingerprint)
	}

	if s.verbose {
		if len(report.Metadata) > 0 {
			keys := make([]string, 0, len(report.Metadata))
			for k := range report.Metadata {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintf(&b, "        Metadata: %s\n", strings.Join(keys, ", "))
		}
		if len(report.Stacktrace) > 0 {
			b.WriteString("        Stack trace:\n")
			for _, f := range report.Stacktrace {
				fmt.Fprintf(&b, "          %s:%d %s\n", f.File, f.Line, f.Function)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.out, b.String())
	return err
}

func (s *stderrSink) Flush(ctx context.Context) error {
	return nil
}

func (s *stderrSink) Close() error {
	return nil
}
