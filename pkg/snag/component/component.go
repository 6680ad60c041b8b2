// Package component wires a snag client into an application: it builds the
// client from configuration, enriches every report with the current user and
// the buffered log lines, and installs the process-wide panic handler.
//
// Quick start:
//
//	cfg, err := config.Load("snag.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	buf := logbuffer.New()
//	reporter, err := component.Initialize(cfg, component.WithLogBuffer(buf))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer component.HandlePanic(ctx)
//	defer reporter.RunShutdownHandler(ctx)
package component

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/strongdm/snagbridge/pkg/snag"
	"github.com/strongdm/snagbridge/pkg/snag/config"
	"github.com/strongdm/snagbridge/pkg/snag/dedupe"
	"github.com/strongdm/snagbridge/pkg/snag/logbuffer"
	"github.com/strongdm/snagbridge/pkg/snag/sinks/multi"
)

// Version is reported in the notifier info of every report.
const Version = "0.1.0"

// IgnoredLogCategory is the logger name the reporter logs its own diagnostics
// and notified errors under. Lines from this logger are never exported as
// reports, so an error is not reported twice.
const IgnoredLogCategory = "snag notified exception"

// enrichStep marks reports BeforeDispatch already ran on.
const enrichStep = "component.enrich"

// DefaultNotifier identifies this library in reports.
var DefaultNotifier = snag.NotifierInfo{
	Name:    "snagbridge",
	URL:     "https://github.com/strongdm/snagbridge",
	Version: Version,
}

// LogBuffer is the accumulator of log lines for the current unit of work.
// *logbuffer.Buffer implements it.
type LogBuffer interface {
	// Flush drains pending lines; final marks the end of the unit of work.
	Flush(ctx context.Context, final bool)
	// Messages returns the flushed lines rendered as strings.
	Messages() []string
}

// exporterRegistry is implemented by log buffers that accept export targets.
type exporterRegistry interface {
	SetExporter(name string, e logbuffer.Exporter)
}

// SessionProvider exposes the identity of the current request, if any.
type SessionProvider interface {
	HasUser(ctx context.Context) bool
	CurrentUserID(ctx context.Context) (string, bool)
}

// HasCustomMetadata is implemented by errors that carry report metadata.
type HasCustomMetadata interface {
	Metadata() map[string]any
}

// HasCustomContext is implemented by errors that define their report context.
type HasCustomContext interface {
	Context() string
}

// Option configures Initialize.
type Option func(*options)

type options struct {
	logger        *zap.Logger
	logs          LogBuffer
	session       SessionProvider
	sinks         []snag.Sink
	notifier      snag.NotifierInfo
	batch         snag.BatchConfig
	watchSignals  bool
	skipConfSinks bool
}

// WithLogger sets the logger for reporter diagnostics (default: no-op).
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLogBuffer attaches the buffer whose lines are added to every report.
// When the buffer accepts exporters, flushed lines at or above the configured
// export level are reported too.
func WithLogBuffer(logs LogBuffer) Option {
	return func(o *options) {
		o.logs = logs
	}
}

// WithSession sets the provider used to look up the current user.
func WithSession(session SessionProvider) Option {
	return func(o *options) {
		o.session = session
	}
}

// WithSink adds a sink next to the ones built from configuration.
func WithSink(sink snag.Sink) Option {
	return func(o *options) {
		if sink != nil {
			o.sinks = append(o.sinks, sink)
		}
	}
}

// WithOnlySinks uses exactly the sinks given with WithSink and ignores the
// sink sections of the configuration.
func WithOnlySinks() Option {
	return func(o *options) {
		o.skipConfSinks = true
	}
}

// WithNotifierInfo overrides DefaultNotifier.
func WithNotifierInfo(info snag.NotifierInfo) Option {
	return func(o *options) {
		o.notifier = info
	}
}

// WithBatchConfig configures the background delivery queue.
func WithBatchConfig(cfg snag.BatchConfig) Option {
	return func(o *options) {
		o.batch = cfg
	}
}

// WithSignalWatcher runs the shutdown handler of the current component on
// SIGINT or SIGTERM and then re-raises the signal. The watcher is installed
// once per process.
func WithSignalWatcher() Option {
	return func(o *options) {
		o.watchSignals = true
	}
}

// Component enriches and dispatches reports for one application.
type Component struct {
	cfg         config.Config
	client      *snag.Client
	logs        LogBuffer
	session     SessionProvider
	logger      *zap.Logger
	exportLevel zapcore.Level
	dedupe      *dedupe.Filter
}

// Initialize validates cfg, builds the client and its sinks, and makes the
// component the target of the process-wide handlers. It fails with
// *snag.ConfigError when the API key is missing; nothing is registered then.
// Calling it again replaces the handler target instead of adding handlers.
func Initialize(cfg config.Config, opts ...Option) (*Component, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()

	o := &options{logger: zap.NewNop(), notifier: DefaultNotifier}
	for _, opt := range opts {
		opt(o)
	}
	diag := o.logger.Named(IgnoredLogCategory)

	exportLevel, err := zapcore.ParseLevel(cfg.ExportLevel)
	if err != nil {
		return nil, &snag.ConfigError{Field: "export_level", Reason: err.Error()}
	}

	var sinks []multi.Destination
	if !o.skipConfSinks {
		if sinks, err = configuredSinks(cfg, diag); err != nil {
			return nil, err
		}
	}
	for _, s := range o.sinks {
		sinks = append(sinks, multi.Destination{Name: destinationName(s), Sink: s})
	}

	client, err := snag.New(cfg.APIKey,
		snag.WithSink(combineSinks(sinks)),
		snag.WithLogger(diag),
		snag.WithBatchConfig(o.batch),
	)
	if err != nil {
		return nil, err
	}

	c := &Component{
		cfg:         cfg,
		client:      client,
		logs:        o.logs,
		session:     o.session,
		logger:      diag,
		exportLevel: exportLevel,
	}

	if len(cfg.NotifyReleaseStages) > 0 {
		client.SetNotifyReleaseStages(cfg.NotifyReleaseStages)
	}
	client.SetFilters(cfg.Filters)
	client.SetBatchSending(true)
	client.SetReleaseStage(cfg.ReleaseStage)
	client.SetNotifier(o.notifier)
	client.RegisterDefaultCallbacks()
	client.AddCallback(c.BeforeDispatch)

	if cfg.DedupeWindow > 0 {
		filter, err := dedupe.New(cfg.DedupeWindow, 0, diag)
		if err != nil {
			_ = client.Shutdown(context.Background())
			return nil, err
		}
		c.dedupe = filter
		client.AddCallback(filter.Callback())
	}

	if reg, ok := c.logs.(exporterRegistry); ok {
		reg.SetExporter(LogTargetName, c.LogTarget())
	}

	register(c, o.watchSignals)
	return c, nil
}

// Client returns the underlying reporter client.
func (c *Component) Client() *snag.Client {
	return c.client
}

// Config returns the effective configuration (defaults applied).
func (c *Component) Config() config.Config {
	return c.cfg
}

// CurrentUser returns the user of the current request, or nil when there is
// no session provider or no identity. A found user also becomes the client's
// ambient user. It never panics.
func (c *Component) CurrentUser(ctx context.Context) *snag.User {
	user := c.lookupUser(ctx)
	if user != nil {
		c.client.SetUser(user)
	}
	return user
}

// lookupUser asks the session provider for the user without touching the
// ambient user.
func (c *Component) lookupUser(ctx context.Context) (user *snag.User) {
	if c.session == nil {
		return nil
	}
	defer func() {
		if p := recover(); p != nil {
			c.logger.Warn("user lookup panicked", zap.Any("panic", p))
			user = nil
		}
	}()

	if !c.session.HasUser(ctx) {
		return nil
	}
	id, ok := c.session.CurrentUserID(ctx)
	if !ok || id == "" {
		return nil
	}
	return &snag.User{ID: id}
}

// WithRequestLogs returns ctx carrying logs as the buffer of the current unit
// of work. Reports built from ctx flush and attach logs instead of the buffer
// given to WithLogBuffer. When logs accepts exporters, the log target is
// registered on it.
func (c *Component) WithRequestLogs(ctx context.Context, logs LogBuffer) context.Context {
	if logs == nil {
		return ctx
	}
	if reg, ok := logs.(exporterRegistry); ok {
		reg.SetExporter(LogTargetName, c.LogTarget())
	}
	return context.WithValue(ctx, requestLogsKey{}, logs)
}

type requestLogsKey struct{}

// logsFor returns the request buffer carried by ctx, else the configured one.
func (c *Component) logsFor(ctx context.Context) LogBuffer {
	if logs, ok := ctx.Value(requestLogsKey{}).(LogBuffer); ok {
		return logs
	}
	return c.logs
}

// BeforeDispatch enriches report right before delivery. It flushes the log
// buffer (skipped while log lines are being exported, see
// snag.WithExportingLog), rebuilds the stacktrace from a raw trace stored
// under snag.TraceMetadataKey, fills the user and attaches the log snapshot
// under snag.LogsMetadataKey. It runs once per report and never drops it.
func (c *Component) BeforeDispatch(ctx context.Context, report *snag.Report) bool {
	if report == nil || !report.Mark(enrichStep) {
		return true
	}
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("report enrichment panicked", zap.Any("panic", p))
		}
	}()

	if !snag.ExportingLog(ctx) {
		c.flushLogs(ctx, false)
	}

	if raw, ok := report.PopMetadata(snag.TraceMetadataKey); ok {
		if frames, ok := snag.FramesFromValue(raw); ok && len(frames) > 0 {
			report.Stacktrace = snag.AnchorStacktrace(frames)
		}
	}

	if report.User == nil && !snag.HasScopedUser(ctx) {
		report.User = c.CurrentUser(ctx)
	}

	report.SetMetadata(snag.LogsMetadataKey, c.logMessages(ctx))
	return true
}

// Notify reports an event. trace, when non-empty, is a raw backtrace whose
// first frame is where the event happened. Delivery errors are logged, not
// returned.
func (c *Component) Notify(ctx context.Context, category, message string, severity snag.Severity, trace []snag.Frame) {
	raw := slices.Clone(trace)
	c.notify(ctx, category, message, func(r *snag.Report) {
		r.Severity = severity
		if len(raw) > 0 {
			r.SetMetadata(snag.TraceMetadataKey, raw)
		}
	})
}

// NotifyError reports an error-severity event.
func (c *Component) NotifyError(ctx context.Context, category, message string, trace ...snag.Frame) {
	c.Notify(ctx, category, message, snag.SeverityError, trace)
}

// NotifyWarning reports a warning-severity event.
func (c *Component) NotifyWarning(ctx context.Context, category, message string, trace ...snag.Frame) {
	c.Notify(ctx, category, message, snag.SeverityWarning, trace)
}

// NotifyInfo reports an info-severity event.
func (c *Component) NotifyInfo(ctx context.Context, category, message string, trace ...snag.Frame) {
	c.Notify(ctx, category, message, snag.SeverityInfo, trace)
}

// NotifyException reports err. The category is the error's Go type and the
// message is err.Error(). Errors in the chain implementing HasCustomMetadata
// or HasCustomContext contribute metadata and the report context. severity
// defaults to error.
func (c *Component) NotifyException(ctx context.Context, err error, severity ...snag.Severity) {
	if err == nil {
		return
	}
	sev := snag.SeverityError
	if len(severity) > 0 && severity[0].Valid() {
		sev = severity[0]
	}
	stack := snag.CaptureStack(1)
	category := errorClass(err)

	c.notify(ctx, category, err.Error(), func(r *snag.Report) {
		r.Severity = sev
		r.Stacktrace = stack

		var withMeta HasCustomMetadata
		if errors.As(err, &withMeta) {
			r.MergeMetadata(withMeta.Metadata())
		}
		var withContext HasCustomContext
		if errors.As(err, &withContext) {
			if rc := withContext.Context(); rc != "" {
				r.Context = rc
			}
		}
		if kind := classifyError(err); kind != "" {
			r.SetMetadata("error_kind", kind)
		}
	})

	c.logger.Info(err.Error(), zap.String("category", category), zap.String("severity", string(sev)))
}

// RunShutdownHandler flushes the log buffer (unless exporting) and shuts the
// client down, delivering queued reports.
func (c *Component) RunShutdownHandler(ctx context.Context) {
	if !snag.ExportingLog(ctx) {
		c.flushLogs(ctx, true)
	}
	if err := c.client.Shutdown(ctx); err != nil {
		c.logger.Warn("shutdown did not deliver every report", zap.Error(err))
	}
	if c.dedupe != nil {
		c.dedupe.Close()
	}
}

func (c *Component) notify(ctx context.Context, category, message string, configure func(*snag.Report)) {
	if err := c.client.NotifyError(ctx, category, message, configure); err != nil {
		c.logger.Warn("report not delivered", zap.String("category", category), zap.Error(err))
	}
}

// reportUnhandled reports a recovered panic value. skip counts frames above
// the caller to drop from the stacktrace.
func (c *Component) reportUnhandled(ctx context.Context, recovered any, skip int) {
	report := snag.PanicReport(recovered, skip+1)
	if err := c.client.Notify(ctx, report); err != nil {
		c.logger.Warn("panic report not delivered", zap.Error(err))
	}
}

func (c *Component) flushLogs(ctx context.Context, final bool) {
	logs := c.logsFor(ctx)
	if logs == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("log flush panicked", zap.Any("panic", p))
		}
	}()
	logs.Flush(ctx, final)
}

func (c *Component) logMessages(ctx context.Context) []string {
	logs := c.logsFor(ctx)
	if logs == nil {
		return []string{}
	}
	msgs := logs.Messages()
	if msgs == nil {
		return []string{}
	}
	return msgs
}

// errorClass returns the Go type name of err, e.g. "*fs.PathError".
func errorClass(err error) string {
	return reflect.TypeOf(err).String()
}

// classifyError tags context errors so they can be told apart from failures.
func classifyError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return ""
	}
}

// ignoredLogger reports whether name is IgnoredLogCategory, possibly under a
// parent logger name.
func ignoredLogger(name string) bool {
	return name == IgnoredLogCategory || strings.HasSuffix(name, "."+IgnoredLogCategory)
}
