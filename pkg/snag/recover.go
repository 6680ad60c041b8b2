// recover.go provides the Recover helper for standalone panic recovery.
// Use this in HTTP handlers, goroutines, or other code that must keep running.

package snag

import (
	"context"
	"fmt"
)

// PanicCategory is the category of reports built from recovered panics.
const PanicCategory = "panic"

// Recover captures a panic, reports it, and returns the recovered value.
// Recover does NOT re-panic after reporting.
//
// Use in defer:
//
//	func handler(ctx context.Context) {
//	    defer snag.Recover(ctx, client)
//	    // code that might panic
//	}
func Recover(ctx context.Context, reporter Reporter) any {
	r := recover()
	if r == nil {
		return nil
	}

	// ignore errors - we don't want to affect caller
	_ = reporter.Notify(ctx, PanicReport(r, 1))

	return r
}

// PanicReport builds an unhandled error report for a recovered panic value.
// skip is the number of frames above the caller to omit from the stacktrace.
func PanicReport(recovered any, skip int) Report {
	return Report{
		Category:   PanicCategory,
		Message:    formatRecovered(recovered),
		Severity:   SeverityError,
		Unhandled:  true,
		Stacktrace: CaptureStack(skip + 1),
	}
}

// formatRecovered formats a recovered panic value as a string.
func formatRecovered(recovered any) string {
	if recovered == nil {
		return "<nil>"
	}
	if err, ok := recovered.(error); ok {
		return err.Error()
	}
	return fmt.Sprintf("%v", recovered)
}
