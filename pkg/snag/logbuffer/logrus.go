package logbuffer

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap/zapcore"
)

// LoggerField is the logrus field read as the logger (category) name.
const LoggerField = "logger"

// LogrusHook appends logrus entries to a Buffer.
type LogrusHook struct {
	buf *Buffer
}

// LogrusHook returns a hook for logrus.Logger.AddHook.
func (b *Buffer) LogrusHook() *LogrusHook {
	return &LogrusHook{buf: b}
}

// Levels implements logrus.Hook.
func (h *LogrusHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook.
func (h *LogrusHook) Fire(entry *logrus.Entry) error {
	line := Line{
		Time:    entry.Time,
		Level:   zapLevel(entry.Level),
		Message: entry.Message,
	}
	if entry.Caller != nil {
		line.File = entry.Caller.File
		line.LineNo = entry.Caller.Line
	}
	if len(entry.Data) > 0 {
		line.Fields = make(map[string]any, len(entry.Data))
		for k, v := range entry.Data {
			if k == LoggerField {
				line.Logger, _ = v.(string)
				continue
			}
			if err, ok := v.(error); ok {
				v = err.Error()
			}
			line.Fields[k] = v
		}
		if len(line.Fields) == 0 {
			line.Fields = nil
		}
	}

	h.buf.Append(line)

	if entry.Level <= logrus.FatalLevel {
		h.buf.Flush(context.Background(), true)
	}
	return nil
}

func zapLevel(level logrus.Level) zapcore.Level {
	switch level {
	case logrus.PanicLevel:
		return zapcore.PanicLevel
	case logrus.FatalLevel:
		return zapcore.FatalLevel
	case logrus.ErrorLevel:
		return zapcore.ErrorLevel
	case logrus.WarnLevel:
		return zapcore.WarnLevel
	case logrus.InfoLevel:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}
