// Package logbuffer accumulates log lines for the current unit of work so they
// can be attached to error reports.
//
// Lines arrive through a zap core (Buffer.Core, Buffer.Wrap) or a logrus hook
// (Buffer.LogrusHook). Pending lines move to the retained message history on
// Flush, and every registered Exporter receives the flushed batch.
package logbuffer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// Line is one captured log line.
type Line struct {
	Time    time.Time
	Level   zapcore.Level
	Logger  string
	Message string
	File    string
	LineNo  int
	Fields  map[string]any
}

// String renders the line as "<time> [<level>][<logger>] <message> <fields>".
func (l Line) String() string {
	var b strings.Builder
	b.WriteString(l.Time.UTC().Format(time.RFC3339Nano))
	b.WriteString(" [")
	b.WriteString(l.Level.String())
	b.WriteString("]")
	if l.Logger != "" {
		b.WriteString("[")
		b.WriteString(l.Logger)
		b.WriteString("]")
	}
	b.WriteString(" ")
	b.WriteString(l.Message)
	if len(l.Fields) > 0 {
		if raw, err := json.Marshal(l.Fields); err == nil {
			b.WriteString(" ")
			b.Write(raw)
		} else {
			fmt.Fprintf(&b, " %v", l.Fields)
		}
	}
	return b.String()
}

// Exporter receives every flushed batch of lines.
// final is true for the flush at the end of a unit of work or at shutdown.
// Export is called without the buffer lock held and may log or notify.
type Exporter interface {
	Export(ctx context.Context, lines []Line, final bool)
}

// ExporterFunc adapts a function to Exporter.
type ExporterFunc func(ctx context.Context, lines []Line, final bool)

// Export calls f.
func (f ExporterFunc) Export(ctx context.Context, lines []Line, final bool) {
	f(ctx, lines, final)
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithFlushInterval sets how many pending lines trigger an automatic flush (default: 1000).
func WithFlushInterval(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.flushInterval = n
		}
	}
}

// WithMaxMessages bounds the retained message history (default: 1000).
// The oldest lines are discarded first.
func WithMaxMessages(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.maxMessages = n
		}
	}
}

// WithLevel sets the minimum level captured (default: debug).
func WithLevel(level zapcore.LevelEnabler) Option {
	return func(b *Buffer) {
		if level != nil {
			b.level = level
		}
	}
}

// Buffer accumulates log lines. It is safe for concurrent use.
type Buffer struct {
	flushInterval int
	maxMessages   int
	level         zapcore.LevelEnabler

	mu        sync.Mutex
	pending   []Line
	messages  []Line
	exporters []namedExporter
}

type namedExporter struct {
	name     string
	exporter Exporter
}

// New creates an empty buffer.
func New(opts ...Option) *Buffer {
	b := &Buffer{
		flushInterval: 1000,
		maxMessages:   1000,
		level:         zapcore.DebugLevel,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetExporter registers e under name, replacing any exporter with that name.
func (b *Buffer) SetExporter(name string, e Exporter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.exporters {
		if b.exporters[i].name == name {
			b.exporters[i].exporter = e
			return
		}
	}
	b.exporters = append(b.exporters, namedExporter{name: name, exporter: e})
}

// RemoveExporter unregisters the exporter with the given name.
func (b *Buffer) RemoveExporter(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.exporters {
		if b.exporters[i].name == name {
			b.exporters = append(b.exporters[:i], b.exporters[i+1:]...)
			return
		}
	}
}

// Append adds a line. Lines below the buffer level are ignored. Reaching the
// flush interval triggers a non-final flush.
func (b *Buffer) Append(line Line) {
	if !b.level.Enabled(line.Level) {
		return
	}
	if line.Time.IsZero() {
		line.Time = time.Now()
	}

	b.mu.Lock()
	b.pending = append(b.pending, line)
	full := len(b.pending) >= b.flushInterval
	b.mu.Unlock()

	if full {
		b.Flush(context.Background(), false)
	}
}

// Flush moves pending lines into the message history and hands them to every
// exporter. Exporters are not called when nothing was pending.
func (b *Buffer) Flush(ctx context.Context, final bool) {
	b.mu.Lock()
	drained := b.pending
	b.pending = nil
	b.messages = append(b.messages, drained...)
	if over := len(b.messages) - b.maxMessages; over > 0 {
		b.messages = append([]Line(nil), b.messages[over:]...)
	}
	exporters := make([]Exporter, len(b.exporters))
	for i, ne := range b.exporters {
		exporters[i] = ne.exporter
	}
	b.mu.Unlock()

	if len(drained) == 0 {
		return
	}
	for _, e := range exporters {
		e.Export(ctx, drained, final)
	}
}

// Lines returns a copy of the flushed message history, oldest first.
func (b *Buffer) Lines() []Line {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Line, len(b.messages))
	copy(out, b.messages)
	return out
}

// Messages returns the flushed message history rendered as strings.
func (b *Buffer) Messages() []string {
	lines := b.Lines()
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.String()
	}
	return out
}

// Pending returns the number of lines not flushed yet.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Reset discards pending lines and the message history, starting a new unit
// of work. Exporters stay registered.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = nil
	b.messages = nil
}
