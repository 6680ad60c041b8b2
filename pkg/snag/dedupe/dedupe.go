// Package dedupe suppresses identical reports within a time window.
// Reports are keyed by their fingerprint and normalized message; the first report in a window is
// delivered and later ones are dropped until the entry expires.
package dedupe

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"

	"github.com/strongdm/snagbridge/pkg/snag"
)

// Filter remembers recently delivered fingerprints.
type Filter struct {
	cache      *ristretto.Cache
	window     time.Duration
	logger     *zap.Logger
	suppressed atomic.Int64
}

// New creates a filter with the given window. maxEntries bounds the number of
// fingerprints remembered (default: 10000 when <= 0).
func New(window time.Duration, maxEntries int64, logger *zap.Logger) (*Filter, error) {
	if window <= 0 {
		return nil, fmt.Errorf("dedupe window must be positive, got %s", window)
	}
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
		// Every entry costs 1 so MaxCost is the entry count.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}

	return &Filter{cache: cache, window: window, logger: logger}, nil
}

// Seen records the fingerprint and reports whether it was already recorded
// within the window.
func (f *Filter) Seen(fingerprint string) bool {
	if _, found := f.cache.Get(fingerprint); found {
		return true
	}
	f.cache.SetWithTTL(fingerprint, struct{}{}, 1, f.window)
	f.cache.Wait()
	return false
}

// Callback returns a snag.Callback that drops duplicate reports.
// Unhandled reports are never suppressed.
func (f *Filter) Callback() snag.Callback {
	return func(ctx context.Context, report *snag.Report) bool {
		if report.Unhandled {
			return true
		}
		fp := Key(*report)
		if f.Seen(fp) {
			f.suppressed.Add(1)
			f.logger.Debug("snag: duplicate report suppressed",
				zap.String("fingerprint", fp), zap.String("category", report.Category))
			return false
		}
		return true
	}
}

// Key returns the dedupe key of report: its fingerprint plus the normalized
// message. Grouping ignores the message once a stacktrace exists, but distinct
// messages from one call site are distinct reports.
func Key(report snag.Report) string {
	return snag.Fingerprint(report) + "|" + snag.NormalizeMessage(report.Message)
}

// Suppressed returns the number of reports dropped as duplicates.
func (f *Filter) Suppressed() int64 {
	return f.suppressed.Load()
}

// Close releases the cache.
func (f *Filter) Close() {
	f.cache.Close()
}
