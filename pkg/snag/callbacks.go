// callbacks.go defines enrichment callbacks run before a report is dispatched.

package snag

import (
	"context"
	"os"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Callback enriches a report immediately before it is sent.
// Returning false drops the report.
// Callbacks run under recover; a panicking callback is logged and skipped.
type Callback func(ctx context.Context, report *Report) bool

// TracingMetadataKey holds the OpenTelemetry trace and span IDs of the
// request that produced a report.
const TracingMetadataKey = "tracing"

// DeviceCallback attaches system state captured at report time.
// The startTime parameter is used to calculate process uptime.
func DeviceCallback(startTime time.Time) Callback {
	return func(ctx context.Context, report *Report) bool {
		if report.Device == nil {
			report.Device = CaptureSystemState(startTime)
		}
		return true
	}
}

// TracingCallback attaches the trace and span ID of the active span, if any.
func TracingCallback() Callback {
	return func(ctx context.Context, report *Report) bool {
		sc := trace.SpanContextFromContext(ctx)
		if !sc.IsValid() {
			return true
		}
		report.SetMetadata(TracingMetadataKey, map[string]any{
			"trace_id": sc.TraceID().String(),
			"span_id":  sc.SpanID().String(),
			"sampled":  sc.IsSampled(),
		})
		return true
	}
}

// CaptureSystemState captures system metrics at the current moment.
func CaptureSystemState(startTime time.Time) *SystemState {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	hostname, _ := os.Hostname() // empty hostname is acceptable

	uptimeMs := time.Since(startTime).Milliseconds()
	if uptimeMs < 0 {
		uptimeMs = 0
	}

	return &SystemState{
		MemoryBytes:    int64(memStats.Alloc),
		GoroutineCount: runtime.NumGoroutine(),
		UptimeMs:       uptimeMs,
		HostName:       hostname,
	}
}
