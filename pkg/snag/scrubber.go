// scrubber.go implements filter-based redaction for reports.

package snag

import (
	"regexp"
	"strings"
)

// FilteredPlaceholder replaces the value of every filtered metadata key.
const FilteredPlaceholder = "[FILTERED]"

// ScrubberConfig controls scrubbing behavior.
type ScrubberConfig struct {
	// Filters are case-insensitive substrings of metadata keys to redact (default: password).
	Filters []string

	// MaxMessageSize is the maximum length for messages (default: 4096).
	MaxMessageSize int

	// MaxStringSize is the maximum length of any string metadata value (default: 8192).
	MaxStringSize int

	// MaxFrames is the maximum stacktrace depth kept (default: 100).
	MaxFrames int

	// ScrubMessages enables pattern scrubbing of messages for secrets/PII (default: true).
	ScrubMessages bool
}

// DefaultScrubberConfig returns production-safe defaults.
func DefaultScrubberConfig() ScrubberConfig {
	return ScrubberConfig{
		Filters:        []string{"password"},
		MaxMessageSize: 4096,
		MaxStringSize:  8192,
		MaxFrames:      100,
		ScrubMessages:  true,
	}
}

// Compiled regex patterns for message scrubbing (compiled once at package init)
var messageScrubPatterns = []*regexp.Regexp{
	// API keys and tokens
	regexp.MustCompile(`(?i)(api[_-]?key|token)[=:\s]+['"]?[\w\-\.]+['"]?`),
	regexp.MustCompile(`(?i)(authorization|bearer)[=:\s]+['"]?[\w\-\.]+['"]?[\s]+['"]?[\w\-\.]+['"]?`),
	regexp.MustCompile(`(?i)ghp_[a-zA-Z0-9]{36}`),                                   // GitHub tokens
	regexp.MustCompile(`(?i)xox[baprs]-[a-zA-Z0-9\-]{10,}`),                         // Slack tokens
	regexp.MustCompile(`(?i)eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`), // JWT

	// Credentials
	regexp.MustCompile(`(?i)password[=:\s]+['"]?[^\s'"",]+['"]?`),
	regexp.MustCompile(`(?i)secret[=:\s]+['"]?[^\s'"",]+['"]?`),

	// PII
	regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), // Email
}

// Path patterns to normalize in stack frames
var pathNormalizationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^/home/[^/]+/`),
	regexp.MustCompile(`^/Users/[^/]+/`),
	regexp.MustCompile(`^C:\\Users\\[^\\]+\\`),
}

// Scrubber redacts filtered and sensitive data from reports.
type Scrubber struct {
	cfg     ScrubberConfig
	filters []string
}

// NewScrubber creates a new scrubber with the given configuration.
func NewScrubber(cfg ScrubberConfig) *Scrubber {
	filters := make([]string, 0, len(cfg.Filters))
	for _, f := range cfg.Filters {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			filters = append(filters, f)
		}
	}
	return &Scrubber{cfg: cfg, filters: filters}
}

// Filters returns the normalized filter list.
func (s *Scrubber) Filters() []string {
	out := make([]string, len(s.filters))
	copy(out, s.filters)
	return out
}

// Scrub applies every scrubbing step to r in place.
func (s *Scrubber) Scrub(r *Report) {
	r.Message = s.ScrubMessage(r.Message)
	r.Metadata = s.ScrubMetadata(r.Metadata)
	r.Stacktrace = s.ScrubStacktrace(r.Stacktrace)
}

// ScrubMessage truncates a message and, if enabled, replaces sensitive patterns.
func (s *Scrubber) ScrubMessage(msg string) string {
	if s.cfg.MaxMessageSize > 0 && len(msg) > s.cfg.MaxMessageSize {
		msg = truncateWithMarker(msg, s.cfg.MaxMessageSize)
	}
	if !s.cfg.ScrubMessages {
		return msg
	}
	for _, pattern := range messageScrubPatterns {
		msg = pattern.ReplaceAllString(msg, "[REDACTED]")
	}
	return msg
}

// ScrubMetadata returns a copy of meta with filtered keys redacted at any depth.
func (s *Scrubber) ScrubMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	return s.scrubMap(meta)
}

// ScrubStacktrace normalizes user-specific paths and bounds the depth.
func (s *Scrubber) ScrubStacktrace(frames []Frame) []Frame {
	if len(frames) == 0 {
		return frames
	}
	if s.cfg.MaxFrames > 0 && len(frames) > s.cfg.MaxFrames {
		frames = frames[:s.cfg.MaxFrames]
	}
	out := make([]Frame, len(frames))
	for i, f := range frames {
		for _, pattern := range pathNormalizationPatterns {
			f.File = pattern.ReplaceAllString(f.File, "/[PATH]/")
		}
		out[i] = f
	}
	return out
}

// isFiltered checks if a metadata key matches a filter.
func (s *Scrubber) isFiltered(key string) bool {
	keyLower := strings.ToLower(key)
	for _, f := range s.filters {
		if strings.Contains(keyLower, f) {
			return true
		}
	}
	return false
}

func (s *Scrubber) scrubValue(val any) any {
	switch v := val.(type) {
	case map[string]any:
		return s.scrubMap(v)
	case map[string]string:
		out := make(map[string]any, len(v))
		for k, sv := range v {
			out[k] = sv
		}
		return s.scrubMap(out)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = s.scrubValue(item)
		}
		return out
	case string:
		if s.cfg.MaxStringSize > 0 && len(v) > s.cfg.MaxStringSize {
			return truncateWithMarker(v, s.cfg.MaxStringSize)
		}
		return v
	default:
		return v
	}
}

func (s *Scrubber) scrubMap(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for key, value := range m {
		if s.isFiltered(key) {
			result[key] = FilteredPlaceholder
			continue
		}
		result[key] = s.scrubValue(value)
	}
	return result
}

// truncateWithMarker truncates a string and adds a truncation marker.
func truncateWithMarker(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	marker := "...[TRUNCATED]"
	if maxLen <= len(marker) {
		return marker[:maxLen]
	}
	return s[:maxLen-len(marker)] + marker
}
