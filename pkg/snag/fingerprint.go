// fingerprint.go generates stable hashes for grouping similar reports.

package snag

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"regexp"
	"strings"
)

// Fingerprint generates a hash for grouping similar reports.
// The fingerprint is based on:
//   - category and context
//   - First 3 stack frames (file base name and function, no line numbers)
//   - the normalized message, only when there is no stacktrace
//
// It ignores variable data like timestamps, event IDs, user and metadata.
func Fingerprint(r Report) string {
	parts := []string{r.Category, r.Context}

	frames := normalizeFrames(r.Stacktrace)
	if len(frames) > 0 {
		parts = append(parts, frames...)
	} else {
		parts = append(parts, NormalizeMessage(r.Message))
	}

	input := strings.Join(parts, "|")
	hash := sha256.Sum256([]byte(input))

	// first 16 bytes (32 hex chars)
	return hex.EncodeToString(hash[:16])
}

var (
	// Match memory addresses like "0x1234abcd"
	memAddrPattern = regexp.MustCompile(`0x[0-9a-fA-F]+`)

	// Match runs of digits (ids, counts, durations)
	digitsPattern = regexp.MustCompile(`\d+`)
)

// normalizeFrames renders the first 3 frames without line numbers.
func normalizeFrames(frames []Frame) []string {
	var out []string
	for _, f := range frames {
		fn := memAddrPattern.ReplaceAllString(f.Function, "")
		out = append(out, filepath.Base(f.File)+":"+fn)
		if len(out) >= 3 {
			break
		}
	}
	return out
}

// NormalizeMessage masks memory addresses and digit runs so messages that
// differ only in ids or counts compare equal.
func NormalizeMessage(msg string) string {
	msg = memAddrPattern.ReplaceAllString(msg, "0x")
	return digitsPattern.ReplaceAllString(msg, "N")
}
