// Package bugsnag delivers reports to Bugsnag through the official notifier.
//
// The snag client already gates on release stage, scrubs metadata and rebuilds
// the stacktrace, so the notifier is configured to send exactly what it is
// given: the stacktrace travels on the error through StackFrames, category
// becomes the error class and metadata keys become dashboard tabs.
package bugsnag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	bugsnaggo "github.com/bugsnag/bugsnag-go/v2"
	bserrors "github.com/bugsnag/bugsnag-go/v2/errors"
	"go.uber.org/zap"

	"github.com/strongdm/snagbridge/pkg/snag"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("bugsnag sink: closed")

// customTab holds metadata values that are not maps themselves.
const customTab = "custom"

// Notifier is the part of *bugsnaggo.Notifier the sink uses.
type Notifier interface {
	Notify(err error, rawData ...interface{}) error
}

// Config configures the notifier built by New.
type Config struct {
	APIKey           string
	ReleaseStage     string
	NotifyEndpoint   string
	SessionsEndpoint string
	Logger           *zap.Logger
}

type sink struct {
	notifier Notifier

	mu     sync.RWMutex
	closed bool
}

// New builds a synchronous Bugsnag notifier from cfg.
// Delivery happens on the caller's goroutine; wrap the client with batch
// sending to keep it off request paths.
func New(cfg Config) (snag.Sink, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &snag.ConfigError{Field: "api_key", Reason: "must be set"}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	conf := bugsnaggo.Configuration{
		APIKey:       cfg.APIKey,
		ReleaseStage: cfg.ReleaseStage,
		Synchronous:  true,
		Logger:       zap.NewStdLog(logger.Named("bugsnag")),
		// Sessions are not tracked; only reports are sent.
		AutoCaptureSessions: false,
	}
	if cfg.NotifyEndpoint != "" || cfg.SessionsEndpoint != "" {
		conf.Endpoints = bugsnaggo.Endpoints{
			Notify:   cfg.NotifyEndpoint,
			Sessions: cfg.SessionsEndpoint,
		}
	}
	return NewWithNotifier(bugsnaggo.New(conf)), nil
}

// NewWithNotifier wraps an existing notifier.
func NewWithNotifier(n Notifier) snag.Sink {
	return &sink{notifier: n}
}

// Write sends report as one Bugsnag event.
func (s *sink) Write(ctx context.Context, report snag.Report) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.notifier.Notify(NewError(report), RawData(report)...); err != nil {
		return fmt.Errorf("bugsnag notify: %w", err)
	}
	return nil
}

// Flush is a no-op; delivery is synchronous.
func (s *sink) Flush(ctx context.Context) error {
	return nil
}

func (s *sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// RawData converts the report fields into notifier raw data values.
func RawData(report snag.Report) []interface{} {
	raw := []interface{}{
		severity(report.Severity),
		bugsnaggo.ErrorClass{Name: report.Category},
		metaData(report),
	}
	if report.Context != "" {
		raw = append(raw, bugsnaggo.Context{String: report.Context})
	}
	if report.User != nil {
		raw = append(raw, bugsnaggo.User{Id: report.User.ID})
	}
	if report.Unhandled {
		raw = append(raw, handledState(report.Severity))
	}
	return raw
}

func severity(s snag.Severity) interface{} {
	switch s {
	case snag.SeverityWarning:
		return bugsnaggo.SeverityWarning
	case snag.SeverityInfo:
		return bugsnaggo.SeverityInfo
	default:
		return bugsnaggo.SeverityError
	}
}

func handledState(s snag.Severity) bugsnaggo.HandledState {
	state := bugsnaggo.HandledState{
		SeverityReason:   bugsnaggo.SeverityReasonUnhandledPanic,
		OriginalSeverity: bugsnaggo.SeverityError,
		Unhandled:        true,
	}
	switch s {
	case snag.SeverityWarning:
		state.OriginalSeverity = bugsnaggo.SeverityWarning
	case snag.SeverityInfo:
		state.OriginalSeverity = bugsnaggo.SeverityInfo
	}
	return state
}

// metaData maps top-level map values to tabs and everything else into the
// custom tab. The log snapshot gets its own tab.
func metaData(report snag.Report) bugsnaggo.MetaData {
	md := bugsnaggo.MetaData{}
	for key, value := range report.Metadata {
		switch v := value.(type) {
		case map[string]any:
			for k, inner := range v {
				md.Add(key, k, inner)
			}
		default:
			if key == snag.LogsMetadataKey {
				md.Add(key, "lines", v)
				continue
			}
			md.Add(customTab, key, v)
		}
	}
	md.Add("report", "event_id", report.EventID)
	if report.Fingerprint != "" {
		md.Add("report", "fingerprint", report.Fingerprint)
	}
	if report.Notifier != nil {
		md.Add("report", "notifier", report.Notifier.Name+" "+report.Notifier.Version)
	}
	if d := report.Device; d != nil {
		md.Add("device", "memory_bytes", d.MemoryBytes)
		md.Add("device", "goroutine_count", d.GoroutineCount)
		md.Add("device", "uptime_ms", d.UptimeMs)
		if d.HostName != "" {
			md.Add("device", "hostname", d.HostName)
		}
	}
	return md
}

// Error carries a report's message and stacktrace into the notifier.
// It implements the notifier's ErrorWithStackFrames contract, so the
// report's stacktrace is used instead of the delivery goroutine's.
type Error struct {
	message string
	frames  []bserrors.StackFrame
}

// NewError builds the error value sent for report.
func NewError(report snag.Report) *Error {
	frames := make([]bserrors.StackFrame, 0, len(report.Stacktrace))
	for _, f := range report.Stacktrace {
		pkg, name := splitFunction(f.Function)
		frames = append(frames, bserrors.StackFrame{
			File:       f.File,
			LineNumber: f.Line,
			Name:       name,
			Package:    pkg,
		})
	}
	msg := report.Message
	if msg == "" {
		msg = report.Category
	}
	return &Error{message: msg, frames: frames}
}

func (e *Error) Error() string {
	return e.message
}

// StackFrames returns the report stacktrace, innermost first.
func (e *Error) StackFrames() []bserrors.StackFrame {
	return e.frames
}

// splitFunction splits "github.com/a/b.(*T).M" into "github.com/a/b" and "(*T).M".
func splitFunction(fn string) (pkg, name string) {
	slash := strings.LastIndex(fn, "/")
	dot := strings.Index(fn[slash+1:], ".")
	if dot < 0 {
		return "", fn
	}
	dot += slash + 1
	return fn[:dot], fn[dot+1:]
}
