// client.go provides the reporter client.

package snag

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrClientClosed is returned by notify calls after Shutdown.
var ErrClientClosed = errors.New("snag: client is shut down")

// Reporter accepts finished reports. *Client implements it.
type Reporter interface {
	// Notify runs the dispatch pipeline for report and delivers it.
	Notify(ctx context.Context, report Report) error
}

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	sink     Sink
	logger   *zap.Logger
	scrubber ScrubberConfig
	batch    BatchConfig
}

// WithSink sets the sink for the client.
func WithSink(sink Sink) Option {
	return func(c *clientConfig) {
		c.sink = sink
	}
}

// WithLogger sets the logger used for delivery diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(c *clientConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithScrubber replaces the default scrubber configuration.
// Filters set later with SetFilters override cfg.Filters.
func WithScrubber(cfg ScrubberConfig) Option {
	return func(c *clientConfig) {
		c.scrubber = cfg
	}
}

// WithBatchConfig configures the queue used when batch sending is enabled.
func WithBatchConfig(cfg BatchConfig) Option {
	return func(c *clientConfig) {
		c.batch = cfg
	}
}

// Client builds, enriches and delivers reports.
// It is safe for concurrent use; settings are changed only through setters.
type Client struct {
	apiKey    string
	logger    *zap.Logger
	startTime time.Time
	batchCfg  BatchConfig

	mu           sync.RWMutex
	sink         Sink
	batch        *batchSink
	scrubCfg     ScrubberConfig
	scrubber     *Scrubber
	releaseStage string
	notifyStages []string
	notifier     *NotifierInfo
	user         *User
	context      string
	callbacks    []Callback
	defaults     bool
	closed       bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a client for apiKey. It fails with *ConfigError when apiKey is
// empty; no client is returned in that case.
func New(apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errMissingAPIKey()
	}

	cfg := &clientConfig{
		logger:   zap.NewNop(),
		scrubber: DefaultScrubberConfig(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	// Default to a noop sink if none provided
	if cfg.sink == nil {
		cfg.sink = &noopSinkInternal{}
	}

	return &Client{
		apiKey:       apiKey,
		logger:       cfg.logger,
		startTime:    time.Now(),
		batchCfg:     cfg.batch,
		sink:         cfg.sink,
		scrubCfg:     cfg.scrubber,
		scrubber:     NewScrubber(cfg.scrubber),
		releaseStage: "production",
	}, nil
}

// APIKey returns the key the client was created with.
func (c *Client) APIKey() string {
	return c.apiKey
}

// SetFilters replaces the metadata key filters.
func (c *Client) SetFilters(filters []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scrubCfg.Filters = slices.Clone(filters)
	c.scrubber = NewScrubber(c.scrubCfg)
}

// Filters returns the active metadata key filters.
func (c *Client) Filters() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scrubber.Filters()
}

// SetNotifyReleaseStages restricts delivery to the given release stages.
// An empty list delivers in every stage.
func (c *Client) SetNotifyReleaseStages(stages []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifyStages = slices.Clone(stages)
}

// NotifyReleaseStages returns the release stage allow-list.
func (c *Client) NotifyReleaseStages() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.notifyStages)
}

// SetReleaseStage sets the stage attached to every report.
func (c *Client) SetReleaseStage(stage string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseStage = stage
}

// ReleaseStage returns the configured release stage.
func (c *Client) ReleaseStage() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.releaseStage
}

// SetBatchSending switches between queued background delivery and direct
// delivery. Disabling drains the queue first.
func (c *Client) SetBatchSending(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case enabled && c.batch == nil && !c.closed:
		c.batch = newBatchSink(c.sink, c.batchCfg, c.logger)
	case !enabled && c.batch != nil:
		c.batch.stop()
		c.batch = nil
	}
}

// BatchSending reports whether batched delivery is enabled.
func (c *Client) BatchSending() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.batch != nil
}

// SetNotifier sets the library identification attached to every report.
func (c *Client) SetNotifier(info NotifierInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifier = &info
}

// Notifier returns the library identification, or nil if unset.
func (c *Client) Notifier() *NotifierInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.notifier == nil {
		return nil
	}
	info := *c.notifier
	return &info
}

// SetUser sets the ambient user. A user carried in the notify context wins,
// and a context marked with WithAnonymousUser gets no user. A nil user clears it.
func (c *Client) SetUser(user *User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if user == nil {
		c.user = nil
		return
	}
	u := *user
	c.user = &u
}

// User returns the ambient user, or nil.
func (c *Client) User() *User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return nil
	}
	u := *c.user
	return &u
}

// SetContext sets the ambient report context. A context carried in the
// notify context wins.
func (c *Client) SetContext(reportContext string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.context = reportContext
}

// Context returns the ambient report context.
func (c *Client) Context() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.context
}

// AddCallback appends cb to the callbacks run before dispatch.
func (c *Client) AddCallback(cb Callback) {
	if cb == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, cb)
}

// RegisterDefaultCallbacks adds the device and tracing callbacks.
// Calling it more than once has no further effect.
func (c *Client) RegisterDefaultCallbacks() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.defaults {
		return
	}
	c.defaults = true
	c.callbacks = append(c.callbacks, DeviceCallback(c.startTime), TracingCallback())
}

// NotifyError builds a report with category and message, applies configure to
// it, and dispatches it. configure may be nil.
func (c *Client) NotifyError(ctx context.Context, category, message string, configure func(*Report)) error {
	report := Report{
		Category: category,
		Message:  message,
		Severity: SeverityError,
	}
	if configure != nil {
		c.safeConfigure(configure, &report)
	}
	return c.Notify(ctx, report)
}

// Notify runs callbacks, filtering and fingerprinting on report and writes it
// to the sink. Missing identity fields are filled in first.
func (c *Client) Notify(ctx context.Context, report Report) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrClientClosed
	}
	c.prepare(ctx, &report)
	allowed := c.shouldNotify()
	callbacks := slices.Clone(c.callbacks)
	scrubber := c.scrubber
	sink := c.activeSink()
	c.mu.RUnlock()

	if !allowed {
		c.logger.Debug("snag: release stage not in notify stages, report skipped",
			zap.String("release_stage", report.ReleaseStage))
		return nil
	}

	for _, cb := range callbacks {
		if !c.runCallback(ctx, cb, &report) {
			c.logger.Debug("snag: report dropped by callback", zap.String("event_id", report.EventID))
			return nil
		}
	}

	// A raw trace nobody consumed must not reach a sink.
	report.PopMetadata(TraceMetadataKey)
	if !report.Severity.Valid() {
		report.Severity = SeverityError
	}

	scrubber.Scrub(&report)
	report.Fingerprint = Fingerprint(report)

	if err := sink.Write(ctx, report); err != nil {
		return fmt.Errorf("write report %s: %w", report.EventID, err)
	}
	return nil
}

// Flush delivers queued reports and flushes the sink.
func (c *Client) Flush(ctx context.Context) error {
	c.mu.RLock()
	sink := c.activeSink()
	c.mu.RUnlock()
	return sink.Flush(ctx)
}

// Shutdown flushes queued reports and closes the sink. Later notify calls
// return ErrClientClosed. Shutdown is safe to call more than once.
func (c *Client) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		flushErr := c.Flush(ctx)

		c.mu.Lock()
		c.closed = true
		sink := c.activeSink()
		c.mu.Unlock()

		c.shutdownErr = errors.Join(flushErr, sink.Close())
	})
	return c.shutdownErr
}

// prepare fills identity fields. Called with c.mu held for reading.
func (c *Client) prepare(ctx context.Context, r *Report) {
	if r.EventID == "" {
		r.EventID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	if r.Severity == "" {
		r.Severity = SeverityError
	}
	if r.ReleaseStage == "" {
		r.ReleaseStage = c.releaseStage
	}
	if r.Notifier == nil && c.notifier != nil {
		info := *c.notifier
		r.Notifier = &info
	}
	if r.User == nil {
		if u, ok := UserFromContext(ctx); ok {
			r.User = &u
		} else if !HasScopedUser(ctx) && c.user != nil {
			u := *c.user
			r.User = &u
		}
	}
	if r.Context == "" {
		if rc, ok := ReportContextFromContext(ctx); ok {
			r.Context = rc
		} else {
			r.Context = c.context
		}
	}
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
}

// shouldNotify applies the release stage allow-list. Called with c.mu held.
func (c *Client) shouldNotify() bool {
	return len(c.notifyStages) == 0 || slices.Contains(c.notifyStages, c.releaseStage)
}

// activeSink returns the batch queue when enabled. Called with c.mu held.
func (c *Client) activeSink() Sink {
	if c.batch != nil {
		return c.batch
	}
	return c.sink
}

// runCallback runs cb, treating a panic as "keep the report".
func (c *Client) runCallback(ctx context.Context, cb Callback, r *Report) (keep bool) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("snag: callback panicked", zap.String("panic", formatRecovered(p)))
			keep = true
		}
	}()
	return cb(ctx, r)
}

func (c *Client) safeConfigure(configure func(*Report), r *Report) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("snag: report builder panicked", zap.String("panic", formatRecovered(p)))
		}
	}()
	configure(r)
}
