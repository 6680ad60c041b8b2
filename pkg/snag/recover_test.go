package snag

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// mockReporter captures reports for verification in recover tests.
type mockReporter struct {
	mu        sync.Mutex
	reports   []Report
	notifyErr error
}

func (m *mockReporter) Notify(ctx context.Context, report Report) error {
	if m.notifyErr != nil {
		return m.notifyErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, report)
	return nil
}

func TestRecover_CapturesPanic(t *testing.T) {
	reporter := &mockReporter{}

	func() {
		defer Recover(context.Background(), reporter)
		panic("test panic")
	}()

	if len(reporter.reports) != 1 {
		t.Fatalf("Expected 1 report, got %d", len(reporter.reports))
	}
	r := reporter.reports[0]
	if r.Category != PanicCategory {
		t.Errorf("Category = %q, want %q", r.Category, PanicCategory)
	}
	if r.Message != "test panic" {
		t.Errorf("Message = %q, want %q", r.Message, "test panic")
	}
	if !r.Unhandled || r.Severity != SeverityError {
		t.Errorf("want unhandled error report, got %+v", r)
	}
	if len(r.Stacktrace) == 0 {
		t.Error("Stacktrace should be captured")
	}
}

func TestRecover_NoPanicNoReport(t *testing.T) {
	reporter := &mockReporter{}

	func() {
		defer Recover(context.Background(), reporter)
	}()

	if len(reporter.reports) != 0 {
		t.Errorf("Expected no reports, got %d", len(reporter.reports))
	}
}

func TestRecover_ReporterErrorIgnored(t *testing.T) {
	reporter := &mockReporter{notifyErr: errors.New("down")}

	// must not re-panic even though the reporter fails
	func() {
		defer Recover(context.Background(), reporter)
		panic(errors.New("boom"))
	}()
}

func TestFormatRecovered(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "<nil>"},
		{errors.New("e"), "e"},
		{42, "42"},
	}
	for _, tt := range tests {
		if got := formatRecovered(tt.in); got != tt.want {
			t.Errorf("formatRecovered(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
