package component

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownTimeout bounds the shutdown handler run by the signal watcher.
const ShutdownTimeout = 5 * time.Second

var (
	registryMu sync.RWMutex
	current    *Component
	watchOnce  sync.Once
)

// Current returns the component installed by the latest Initialize, or nil.
func Current() *Component {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return current
}

func register(c *Component, watchSignals bool) {
	registryMu.Lock()
	current = c
	registryMu.Unlock()

	if watchSignals {
		watchOnce.Do(startSignalWatcher)
	}
}

// HandlePanic reports a panic in progress as an unhandled error through the
// current component, runs its shutdown handler and re-panics. It must be
// deferred directly:
//
//	defer component.HandlePanic(ctx)
func HandlePanic(ctx context.Context) {
	r := recover()
	if r == nil {
		return
	}
	if c := Current(); c != nil {
		c.reportUnhandled(ctx, r, 1)
		c.RunShutdownHandler(ctx)
	}
	panic(r)
}

func startSignalWatcher() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-ch
		signal.Stop(ch)

		if c := Current(); c != nil {
			ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
			c.RunShutdownHandler(ctx)
			cancel()
		}

		// Restore the default disposition and deliver the signal again so the
		// process exits the way it would have without the watcher.
		signal.Reset(sig)
		if p, err := os.FindProcess(os.Getpid()); err == nil {
			_ = p.Signal(sig)
		}
	}()
}
