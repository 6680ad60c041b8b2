package component

import (
	"context"

	"go.uber.org/zap/zapcore"

	"github.com/strongdm/snagbridge/pkg/snag"
	"github.com/strongdm/snagbridge/pkg/snag/logbuffer"
)

// LogTargetName is the exporter name the component registers on the log
// buffer. Initializing again replaces the previous target.
const LogTargetName = "snag"

// LogMetadataKey holds the structured fields of an exported log line.
const LogMetadataKey = "log"

// defaultLogCategory is used for lines from an unnamed logger.
const defaultLogCategory = "log"

// LogTarget returns the exporter that reports flushed log lines at or above
// the configured export level. Reports are sent with snag.WithExportingLog
// set, so their enrichment does not flush the buffer again. Lines logged under
// IgnoredLogCategory are skipped.
func (c *Component) LogTarget() logbuffer.Exporter {
	return logbuffer.ExporterFunc(c.exportLines)
}

func (c *Component) exportLines(ctx context.Context, lines []logbuffer.Line, final bool) {
	ctx = snag.WithExportingLog(ctx)
	for _, line := range lines {
		if line.Level < c.exportLevel || ignoredLogger(line.Logger) {
			continue
		}
		category := line.Logger
		if category == "" {
			category = defaultLogCategory
		}
		c.notify(ctx, category, line.Message, func(r *snag.Report) {
			r.Severity = severityForLevel(line.Level)
			r.Timestamp = line.Time
			if len(line.Fields) > 0 {
				r.SetMetadata(LogMetadataKey, line.Fields)
			}
			if line.File != "" {
				r.SetMetadata(snag.TraceMetadataKey, []snag.Frame{{File: line.File, Line: line.LineNo}})
			}
		})
	}
}

func severityForLevel(level zapcore.Level) snag.Severity {
	switch {
	case level >= zapcore.ErrorLevel:
		return snag.SeverityError
	case level == zapcore.WarnLevel:
		return snag.SeverityWarning
	default:
		return snag.SeverityInfo
	}
}
