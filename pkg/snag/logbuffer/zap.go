package logbuffer

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Core returns a zapcore.Core that appends every enabled entry to b.
// Entries above error level (dpanic, panic, fatal) force a final flush, since
// the process may not survive them.
func (b *Buffer) Core() zapcore.Core {
	return &bufferCore{buf: b}
}

// Wrap returns logger teed into b.
func (b *Buffer) Wrap(logger *zap.Logger) *zap.Logger {
	return logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, b.Core())
	}))
}

type bufferCore struct {
	buf    *Buffer
	fields []zapcore.Field
}

func (c *bufferCore) Enabled(level zapcore.Level) bool {
	return c.buf.level.Enabled(level)
}

func (c *bufferCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &bufferCore{buf: c.buf}
	clone.fields = append(append(clone.fields, c.fields...), fields...)
	return clone
}

func (c *bufferCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *bufferCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	line := Line{
		Time:    ent.Time,
		Level:   ent.Level,
		Logger:  ent.LoggerName,
		Message: ent.Message,
	}
	if ent.Caller.Defined {
		line.File = ent.Caller.File
		line.LineNo = ent.Caller.Line
	}

	if n := len(c.fields) + len(fields); n > 0 {
		enc := zapcore.NewMapObjectEncoder()
		for _, f := range c.fields {
			f.AddTo(enc)
		}
		for _, f := range fields {
			f.AddTo(enc)
		}
		line.Fields = enc.Fields
	}

	c.buf.Append(line)

	if ent.Level > zapcore.ErrorLevel {
		c.buf.Flush(context.Background(), true)
	}
	return nil
}

func (c *bufferCore) Sync() error {
	c.buf.Flush(context.Background(), true)
	return nil
}
