// batch.go provides batched delivery: a bounded queue in front of a sink.
// Reports are queued and written in the background; the oldest report is
// dropped when the queue is full.

package snag

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrSinkClosed is returned by writes after the batch sink is closed.
var ErrSinkClosed = errors.New("snag: batch sink is closed")

// BatchConfig configures batched delivery.
type BatchConfig struct {
	// QueueSize is the maximum number of queued reports (default: 1000).
	QueueSize int

	// OnDropped is invoked when reports are dropped due to queue overflow.
	OnDropped func(count int)
}

// batchSink wraps a sink with a bounded queue.
type batchSink struct {
	inner     Sink
	queue     chan Report
	done      chan struct{}
	closeOnce sync.Once
	closeMu   sync.Mutex
	closed    bool
	wg        sync.WaitGroup
	pending   atomic.Int64
	onDropped func(count int)
	logger    *zap.Logger
}

// newBatchSink wraps inner with a bounded queue for async writes.
func newBatchSink(inner Sink, cfg BatchConfig, logger *zap.Logger) *batchSink {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	s := &batchSink{
		inner:     inner,
		queue:     make(chan Report, cfg.QueueSize),
		done:      make(chan struct{}),
		onDropped: cfg.OnDropped,
		logger:    logger,
	}

	s.wg.Add(1)
	go s.processLoop()

	return s
}

// processLoop drains the queue and writes to the inner sink.
func (s *batchSink) processLoop() {
	defer s.wg.Done()
	for {
		select {
		case report := <-s.queue:
			s.deliver(report)
		case <-s.done:
			for {
				select {
				case report := <-s.queue:
					s.deliver(report)
				default:
					return
				}
			}
		}
	}
}

func (s *batchSink) deliver(report Report) {
	defer s.pending.Add(-1)
	if err := s.inner.Write(context.Background(), report); err != nil {
		s.logger.Warn("snag: batched delivery failed",
			zap.String("event_id", report.EventID), zap.Error(err))
	}
}

// Write enqueues a report. If the queue is full, drops the oldest report.
func (s *batchSink) Write(ctx context.Context, report Report) error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}

	s.pending.Add(1)
	select {
	case s.queue <- report:
		return nil
	default:
		s.dropOldestAndEnqueue(report)
		return nil
	}
}

// dropOldestAndEnqueue drops the oldest report and enqueues the new one.
func (s *batchSink) dropOldestAndEnqueue(report Report) {
	select {
	case <-s.queue:
		s.pending.Add(-1)
		s.dropped(1)
	default:
		// Queue was emptied by processor, try again
	}

	select {
	case s.queue <- report:
	default:
		s.pending.Add(-1)
		s.dropped(1)
	}
}

func (s *batchSink) dropped(n int) {
	s.logger.Warn("snag: batch queue full, report dropped", zap.Int("count", n))
	if s.onDropped != nil {
		s.onDropped(n)
	}
}

// Flush blocks until all queued reports are delivered, then flushes the inner sink.
func (s *batchSink) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for s.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return s.inner.Flush(ctx)
}

// Close drains the queue and closes the inner sink.
func (s *batchSink) Close() error {
	s.stop()
	return s.inner.Close()
}

// stop drains the queue and stops the background writer without closing
// the inner sink.
func (s *batchSink) stop() {
	s.closeOnce.Do(func() {
		s.closeMu.Lock()
		s.closed = true
		s.closeMu.Unlock()

		close(s.done)
		s.wg.Wait()
	})
}
