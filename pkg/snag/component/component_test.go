package component

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strongdm/snagbridge/pkg/snag"
	"github.com/strongdm/snagbridge/pkg/snag/config"
)

// recordingSink collects delivered reports.
type recordingSink struct {
	mu      sync.Mutex
	reports []snag.Report
	closed  bool
}

func (s *recordingSink) Write(ctx context.Context, report snag.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report)
	return nil
}

func (s *recordingSink) Flush(ctx context.Context) error {
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) getReports() []snag.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]snag.Report(nil), s.reports...)
}

// fakeLogBuffer moves pending lines into messages on Flush.
type fakeLogBuffer struct {
	mu       sync.Mutex
	pending  []string
	messages []string
	flushes  int
	finals   []bool
}

func (b *fakeLogBuffer) log(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, msg)
}

func (b *fakeLogBuffer) Flush(ctx context.Context, final bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushes++
	b.finals = append(b.finals, final)
	b.messages = append(b.messages, b.pending...)
	b.pending = nil
}

func (b *fakeLogBuffer) Messages() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.messages...)
}

func (b *fakeLogBuffer) flushCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushes
}

type fakeSession struct {
	id    string
	panic bool
}

func (s *fakeSession) HasUser(ctx context.Context) bool {
	if s.panic {
		panic("session store unavailable")
	}
	return s.id != ""
}

func (s *fakeSession) CurrentUserID(ctx context.Context) (string, bool) {
	return s.id, s.id != ""
}

// jobError carries custom metadata and context.
type jobError struct {
	jobID int
}

func (e *jobError) Error() string {
	return fmt.Sprintf("job %d failed", e.jobID)
}

func (e *jobError) Metadata() map[string]any {
	return map[string]any{"job_id": e.jobID}
}

func (e *jobError) Context() string {
	return "jobs/reindex"
}

func testConfig() config.Config {
	return config.Config{
		APIKey:  "abc123",
		Bugsnag: config.BugsnagConfig{Disabled: true},
	}
}

func newTestComponent(t *testing.T, cfg config.Config, opts ...Option) (*Component, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	c, err := Initialize(cfg, append([]Option{WithSink(sink)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Client().Shutdown(context.Background())
	})
	return c, sink
}

func flushed(t *testing.T, c *Component, sink *recordingSink) []snag.Report {
	t.Helper()
	require.NoError(t, c.Client().Flush(context.Background()))
	return sink.getReports()
}

func TestInitialize_MissingAPIKeyRegistersNothing(t *testing.T) {
	registryMu.Lock()
	current = nil
	registryMu.Unlock()

	c, err := Initialize(config.Config{Bugsnag: config.BugsnagConfig{Disabled: true}})

	assert.Nil(t, c)
	var cfgErr *snag.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "api_key", cfgErr.Field)
	assert.Nil(t, Current())
}

func TestInitialize_InvalidExportLevel(t *testing.T) {
	cfg := testConfig()
	cfg.ExportLevel = "loud"

	_, err := Initialize(cfg)
	var cfgErr *snag.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "export_level", cfgErr.Field)
}

func TestInitialize_ReleaseStage(t *testing.T) {
	t.Setenv("SNAG_ENV", "")
	t.Setenv("APP_ENV", "")

	cfg := testConfig()
	cfg.ReleaseStage = "staging"
	c, _ := newTestComponent(t, cfg)
	assert.Equal(t, "staging", c.Client().ReleaseStage())
	assert.Same(t, c, Current())

	c, _ = newTestComponent(t, testConfig())
	assert.Equal(t, "production", c.Client().ReleaseStage())

	t.Setenv("APP_ENV", "qa")
	c, _ = newTestComponent(t, testConfig())
	assert.Equal(t, "qa", c.Client().ReleaseStage())
}

func TestInitialize_ConfiguresClient(t *testing.T) {
	cfg := testConfig()
	cfg.NotifyReleaseStages = []string{"production", "staging"}
	c, _ := newTestComponent(t, cfg)

	client := c.Client()
	assert.Equal(t, []string{"production", "staging"}, client.NotifyReleaseStages())
	assert.Equal(t, []string{"password"}, client.Filters())
	assert.True(t, client.BatchSending())
	require.NotNil(t, client.Notifier())
	assert.Equal(t, DefaultNotifier, *client.Notifier())
}

func TestNotifyWarning_WithFilters(t *testing.T) {
	logs := &fakeLogBuffer{}
	logs.log("GET /reports 200")
	cfg := testConfig()
	cfg.Filters = []string{"password", "token"}
	c, sink := newTestComponent(t, cfg, WithLogBuffer(logs))

	assert.Equal(t, []string{"password", "token"}, c.Client().Filters())

	c.NotifyWarning(context.Background(), "db", "slow query")

	reports := flushed(t, c, sink)
	require.Len(t, reports, 1)
	r := reports[0]
	assert.Equal(t, snag.SeverityWarning, r.Severity)
	assert.Equal(t, "db", r.Category)
	assert.Equal(t, "slow query", r.Message)
	assert.Empty(t, r.Stacktrace)
	assert.Equal(t, []string{"GET /reports 200"}, r.Metadata[snag.LogsMetadataKey])
	assert.NotContains(t, r.Metadata, snag.TraceMetadataKey)
}

func TestNotify_FamilySeverities(t *testing.T) {
	c, sink := newTestComponent(t, testConfig())
	ctx := context.Background()

	c.NotifyError(ctx, "a", "one")
	c.NotifyInfo(ctx, "b", "two")
	c.Notify(ctx, "c", "three", snag.Severity("bogus"), nil)

	reports := flushed(t, c, sink)
	require.Len(t, reports, 3)
	assert.Equal(t, snag.SeverityError, reports[0].Severity)
	assert.Equal(t, snag.SeverityInfo, reports[1].Severity)
	assert.Equal(t, snag.SeverityError, reports[2].Severity, "invalid severity falls back to error")
	assert.Equal(t, []string{}, reports[0].Metadata[snag.LogsMetadataKey], "logs attached even without a buffer")
}

func TestNotify_TraceAnchorsStacktrace(t *testing.T) {
	c, sink := newTestComponent(t, testConfig())

	c.NotifyError(context.Background(), "render", "template missing",
		snag.Frame{File: "views/home.go", Line: 10},
		snag.Frame{File: "handlers.go", Line: 20, Function: "app.Home"},
		snag.Frame{File: "main.go", Line: 30, Function: "main.main"},
	)

	reports := flushed(t, c, sink)
	require.Len(t, reports, 1)
	st := reports[0].Stacktrace
	require.Len(t, st, 3)
	assert.Equal(t, "views/home.go", st[0].File)
	assert.Equal(t, 10, st[0].Line)
	assert.Equal(t, snag.Frame{File: "handlers.go", Line: 20, Function: "app.Home"}, st[1])
	assert.Equal(t, snag.Frame{File: "main.go", Line: 30, Function: "main.main"}, st[2])
	assert.NotContains(t, reports[0].Metadata, snag.TraceMetadataKey)
}

func TestCurrentUser(t *testing.T) {
	ctx := context.Background()

	c, _ := newTestComponent(t, testConfig())
	assert.Nil(t, c.CurrentUser(ctx), "no session provider")

	c, _ = newTestComponent(t, testConfig(), WithSession(&fakeSession{}))
	assert.Nil(t, c.CurrentUser(ctx), "no identity")

	c, _ = newTestComponent(t, testConfig(), WithSession(&fakeSession{panic: true}))
	assert.NotPanics(t, func() {
		assert.Nil(t, c.CurrentUser(ctx))
	})

	c, _ = newTestComponent(t, testConfig(), WithSession(&fakeSession{id: "u-42"}))
	user := c.CurrentUser(ctx)
	require.NotNil(t, user)
	assert.Equal(t, "u-42", user.ID)
	require.NotNil(t, c.Client().User())
	assert.Equal(t, "u-42", c.Client().User().ID)
}

func TestBeforeDispatch_FillsUser(t *testing.T) {
	c, sink := newTestComponent(t, testConfig(), WithSession(&fakeSession{id: "u-7"}))

	c.NotifyInfo(context.Background(), "cache", "miss storm")

	reports := flushed(t, c, sink)
	require.Len(t, reports, 1)
	require.NotNil(t, reports[0].User)
	assert.Equal(t, "u-7", reports[0].User.ID)
}

func TestBeforeDispatch_RawTrace(t *testing.T) {
	c, _ := newTestComponent(t, testConfig())
	ctx := context.Background()
	preset := []snag.Frame{{File: "keep.go", Line: 1}}

	r := &snag.Report{Stacktrace: preset}
	r.SetMetadata(snag.TraceMetadataKey, []any{
		map[string]any{"file": "f0.go", "line": 3},
		map[string]any{"file": "f1.go", "line": 4},
	})
	assert.True(t, c.BeforeDispatch(ctx, r))
	assert.Equal(t, []snag.Frame{{File: "f0.go", Line: 3}, {File: "f1.go", Line: 4}}, r.Stacktrace)
	assert.NotContains(t, r.Metadata, snag.TraceMetadataKey)

	empty := &snag.Report{Stacktrace: preset}
	empty.SetMetadata(snag.TraceMetadataKey, []snag.Frame{})
	c.BeforeDispatch(ctx, empty)
	assert.Equal(t, preset, empty.Stacktrace)
	assert.NotContains(t, empty.Metadata, snag.TraceMetadataKey)

	absent := &snag.Report{Stacktrace: preset}
	c.BeforeDispatch(ctx, absent)
	assert.Equal(t, preset, absent.Stacktrace)
}

func TestBeforeDispatch_AttachesLogsAfterFlush(t *testing.T) {
	logs := &fakeLogBuffer{}
	c, _ := newTestComponent(t, testConfig(), WithLogBuffer(logs))
	logs.log("first")
	logs.log("second")

	r := &snag.Report{}
	c.BeforeDispatch(context.Background(), r)

	assert.Equal(t, 1, logs.flushCount())
	assert.Equal(t, logs.Messages(), r.Metadata[snag.LogsMetadataKey])
	assert.Equal(t, []string{"first", "second"}, r.Metadata[snag.LogsMetadataKey])

	// Enrichment runs once per report.
	logs.log("third")
	c.BeforeDispatch(context.Background(), r)
	assert.Equal(t, 1, logs.flushCount())
	assert.Equal(t, []string{"first", "second"}, r.Metadata[snag.LogsMetadataKey])
}

func TestBeforeDispatch_NoFlushWhileExporting(t *testing.T) {
	logs := &fakeLogBuffer{}
	c, _ := newTestComponent(t, testConfig(), WithLogBuffer(logs))
	logs.log("flushed earlier")
	logs.Flush(context.Background(), false)
	logs.log("still pending")

	r := &snag.Report{}
	c.BeforeDispatch(snag.WithExportingLog(context.Background()), r)

	assert.Equal(t, 1, logs.flushCount(), "no additional flush inside the export window")
	assert.Equal(t, []string{"flushed earlier"}, r.Metadata[snag.LogsMetadataKey])
}

func TestNotifyException_MergesCustomMetadata(t *testing.T) {
	logs := &fakeLogBuffer{}
	logs.log("starting job")
	c, sink := newTestComponent(t, testConfig(), WithLogBuffer(logs))

	c.NotifyException(context.Background(), &jobError{jobID: 42})

	reports := flushed(t, c, sink)
	require.Len(t, reports, 1)
	r := reports[0]
	assert.Equal(t, 42, r.Metadata["job_id"])
	assert.Equal(t, []string{"starting job"}, r.Metadata[snag.LogsMetadataKey])
	assert.Equal(t, "*component.jobError", r.Category)
	assert.Equal(t, "job 42 failed", r.Message)
	assert.Equal(t, "jobs/reindex", r.Context)
	assert.Equal(t, snag.SeverityError, r.Severity)
	require.NotEmpty(t, r.Stacktrace)
	assert.Contains(t, r.Stacktrace[0].Function, "TestNotifyException_MergesCustomMetadata")
}

func TestNotifyException_WrappedErrorAndSeverity(t *testing.T) {
	c, sink := newTestComponent(t, testConfig())
	err := fmt.Errorf("reindex: %w", &jobError{jobID: 7})

	c.NotifyException(context.Background(), err, snag.SeverityWarning)
	c.NotifyException(context.Background(), nil)

	reports := flushed(t, c, sink)
	require.Len(t, reports, 1)
	r := reports[0]
	assert.Equal(t, "*fmt.wrapError", r.Category)
	assert.Equal(t, "reindex: job 7 failed", r.Message)
	assert.Equal(t, snag.SeverityWarning, r.Severity)
	assert.Equal(t, 7, r.Metadata["job_id"])
	assert.Equal(t, "jobs/reindex", r.Context)
}

func TestNotifyException_ClassifiesContextErrors(t *testing.T) {
	c, sink := newTestComponent(t, testConfig())

	c.NotifyException(context.Background(), fmt.Errorf("fetch: %w", context.DeadlineExceeded))
	c.NotifyException(context.Background(), errors.New("plain"))

	reports := flushed(t, c, sink)
	require.Len(t, reports, 2)
	assert.Equal(t, "timeout", reports[0].Metadata["error_kind"])
	assert.NotContains(t, reports[1].Metadata, "error_kind")
}

func TestRunShutdownHandler(t *testing.T) {
	logs := &fakeLogBuffer{}
	c, sink := newTestComponent(t, testConfig(), WithLogBuffer(logs))
	c.NotifyInfo(context.Background(), "deploy", "started")

	c.RunShutdownHandler(context.Background())

	assert.Len(t, sink.getReports(), 1, "queued reports delivered")
	assert.True(t, sink.closed)
	assert.Equal(t, []bool{false, true}, logs.finals)

	// Further reports are rejected and logged, not panicking.
	assert.NotPanics(t, func() {
		c.NotifyInfo(context.Background(), "deploy", "late")
	})
}

func TestRunShutdownHandler_SkipsFlushWhileExporting(t *testing.T) {
	logs := &fakeLogBuffer{}
	c, _ := newTestComponent(t, testConfig(), WithLogBuffer(logs))

	c.RunShutdownHandler(snag.WithExportingLog(context.Background()))

	assert.Equal(t, 0, logs.flushCount())
}

func TestHandlePanic_InitializeTwiceReportsOnce(t *testing.T) {
	sink := &recordingSink{}
	cfg := testConfig()

	_, err := Initialize(cfg, WithSink(sink))
	require.NoError(t, err)
	_, err = Initialize(cfg, WithSink(sink))
	require.NoError(t, err)

	assert.PanicsWithValue(t, "uncaught", func() {
		defer HandlePanic(context.Background())
		panic("uncaught")
	})

	reports := sink.getReports()
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Unhandled)
	assert.Equal(t, snag.PanicCategory, reports[0].Category)
	assert.Equal(t, "uncaught", reports[0].Message)
	assert.Contains(t, reports[0].Metadata, snag.LogsMetadataKey)
}

func TestHandlePanic_NoPanic(t *testing.T) {
	_, sink := newTestComponent(t, testConfig())

	assert.NotPanics(t, func() {
		defer HandlePanic(context.Background())
	})
	assert.Empty(t, sink.getReports())
}

func TestDedupeWindowDropsRepeats(t *testing.T) {
	cfg := testConfig()
	cfg.DedupeWindow = time.Minute
	c, sink := newTestComponent(t, cfg)

	for i := 0; i < 3; i++ {
		c.NotifyError(context.Background(), "db", "connection refused")
	}

	assert.Len(t, flushed(t, c, sink), 1)
}
