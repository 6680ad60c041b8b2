// report.go defines the canonical report data structure for snag.

package snag

import (
	"strings"
	"time"
)

// Severity indicates the severity level of a report.
type Severity string

const (
	// SeverityError indicates an error that caused an operation to fail.
	SeverityError Severity = "error"

	// SeverityWarning indicates a non-fatal issue that may need attention.
	SeverityWarning Severity = "warning"

	// SeverityInfo indicates an informational event worth tracking.
	SeverityInfo Severity = "info"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityError, SeverityWarning, SeverityInfo:
		return true
	}
	return false
}

// ParseSeverity converts a string to a Severity. Unknown strings map to error.
func ParseSeverity(s string) Severity {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if sev == "warn" {
		return SeverityWarning
	}
	if !sev.Valid() {
		return SeverityError
	}
	return sev
}

// Reserved metadata keys.
const (
	// LogsMetadataKey holds the log snapshot attached before dispatch.
	LogsMetadataKey = "logs"

	// TraceMetadataKey holds a raw backtrace ([]Frame) until enrichment
	// rebuilds the stacktrace from it. It never reaches a sink.
	TraceMetadataKey = "trace"
)

// Frame is a single stack frame.
type Frame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function,omitempty"`
}

// User identifies the user affected by a report.
type User struct {
	ID string `json:"id"`
}

// NotifierInfo identifies the library sending reports.
type NotifierInfo struct {
	Name    string `json:"name"`
	URL     string `json:"url,omitempty"`
	Version string `json:"version,omitempty"`
}

// SystemState captures system metrics at the time of a report.
type SystemState struct {
	// MemoryBytes is the current memory allocation in bytes.
	MemoryBytes int64 `json:"memory_bytes"`

	// GoroutineCount is the number of active goroutines.
	GoroutineCount int `json:"goroutine_count"`

	// UptimeMs is the process uptime in milliseconds.
	UptimeMs int64 `json:"uptime_ms"`

	// HostName is the hostname of the machine where the report was built.
	HostName string `json:"host_name,omitempty"`
}

// Report is one error or event destined for a reporting service.
// The client fills identity fields before passing it to sinks.
type Report struct {
	// EventID is a unique identifier for this report (UUID).
	EventID string `json:"event_id"`

	// Timestamp is when the report was built.
	Timestamp time.Time `json:"timestamp"`

	// Fingerprint is a hash for grouping similar reports.
	Fingerprint string `json:"fingerprint,omitempty"`

	// Category is the error class, e.g. "db" or "*fs.PathError".
	Category string `json:"category"`

	// Message is the human-readable description.
	Message string `json:"message"`

	// Severity is error, warning or info.
	Severity Severity `json:"severity"`

	// Unhandled is set for reports produced by panic and shutdown handlers.
	Unhandled bool `json:"unhandled,omitempty"`

	// Context is the optional request route or error-defined context.
	Context string `json:"context,omitempty"`

	// User is the optional affected user.
	User *User `json:"user,omitempty"`

	// Metadata contains filtered key-value pairs for additional context.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Stacktrace is ordered innermost first.
	Stacktrace []Frame `json:"stacktrace,omitempty"`

	// ReleaseStage is the stage the report was produced in.
	ReleaseStage string `json:"release_stage,omitempty"`

	// Notifier identifies the sending library.
	Notifier *NotifierInfo `json:"notifier,omitempty"`

	// Device captures system state at report time.
	Device *SystemState `json:"device,omitempty"`

	marks map[string]struct{}
}

// SetMetadata stores value under key, allocating the map if needed.
func (r *Report) SetMetadata(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
}

// MergeMetadata copies every entry of meta into the report metadata.
func (r *Report) MergeMetadata(meta map[string]any) {
	for k, v := range meta {
		r.SetMetadata(k, v)
	}
}

// PopMetadata removes key from the metadata and returns its previous value.
func (r *Report) PopMetadata(key string) (any, bool) {
	v, ok := r.Metadata[key]
	if ok {
		delete(r.Metadata, key)
	}
	return v, ok
}

// Mark records that the named step ran on this report.
// It returns false when the step had already been marked.
func (r *Report) Mark(step string) bool {
	if r.marks == nil {
		r.marks = make(map[string]struct{})
	}
	if _, done := r.marks[step]; done {
		return false
	}
	r.marks[step] = struct{}{}
	return true
}
