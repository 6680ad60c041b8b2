// Package otlp exports reports as OTLP log records over gRPC.
//
// Each report becomes one LogRecord using the OpenTelemetry exception
// semantic conventions, so any OTLP logs backend can ingest and group them.
package otlp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/trace"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/strongdm/snagbridge/pkg/snag"
)

// ScopeName identifies the instrumentation scope of exported records.
const ScopeName = "github.com/strongdm/snagbridge"

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("otlp sink: closed")

// LogsClient is the part of collogspb.LogsServiceClient the sink uses.
type LogsClient interface {
	Export(ctx context.Context, in *collogspb.ExportLogsServiceRequest, opts ...grpc.CallOption) (*collogspb.ExportLogsServiceResponse, error)
}

// Sink sends one export request per report.
type Sink struct {
	client      LogsClient
	serviceName string
	conn        *grpc.ClientConn

	mu     sync.RWMutex
	closed bool
}

// Dial connects to an OTLP/gRPC collector at endpoint (host:port) without TLS.
func Dial(endpoint, serviceName string, opts ...grpc.DialOption) (*Sink, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial otlp collector %s: %w", endpoint, err)
	}
	s := New(collogspb.NewLogsServiceClient(conn), serviceName)
	s.conn = conn
	return s, nil
}

// New creates a sink over an existing logs client.
func New(client LogsClient, serviceName string) *Sink {
	if serviceName == "" {
		serviceName = "unknown_service"
	}
	return &Sink{client: client, serviceName: serviceName}
}

// Write exports report as a single log record.
func (s *Sink) Write(ctx context.Context, report snag.Report) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	req := &collogspb.ExportLogsServiceRequest{
		ResourceLogs: []*logspb.ResourceLogs{{
			Resource: &resourcepb.Resource{
				Attributes: []*commonpb.KeyValue{
					stringAttr("service.name", s.serviceName),
				},
			},
			ScopeLogs: []*logspb.ScopeLogs{{
				Scope:      &commonpb.InstrumentationScope{Name: ScopeName},
				LogRecords: []*logspb.LogRecord{LogRecord(report)},
			}},
		}},
	}

	resp, err := s.client.Export(ctx, req)
	if err != nil {
		return fmt.Errorf("export report %s: %w", report.EventID, err)
	}
	if ps := resp.GetPartialSuccess(); ps != nil && ps.GetRejectedLogRecords() > 0 {
		return fmt.Errorf("export report %s: rejected: %s", report.EventID, ps.GetErrorMessage())
	}
	return nil
}

// Flush is a no-op; every Write is one export call.
func (s *Sink) Flush(ctx context.Context) error {
	return nil
}

// Close closes the connection opened by Dial.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// LogRecord converts report into an OTLP log record.
func LogRecord(report snag.Report) *logspb.LogRecord {
	ts := uint64(report.Timestamp.UnixNano())
	rec := &logspb.LogRecord{
		TimeUnixNano:         ts,
		ObservedTimeUnixNano: ts,
		SeverityNumber:       severityNumber(report.Severity),
		SeverityText:         strings.ToUpper(string(report.Severity)),
		Body:                 &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: report.Message}},
	}

	attrs := []*commonpb.KeyValue{
		stringAttr("exception.type", report.Category),
		stringAttr("exception.message", report.Message),
		stringAttr("snag.event_id", report.EventID),
		{Key: "exception.escaped", Value: anyValue(report.Unhandled)},
	}
	if report.Fingerprint != "" {
		attrs = append(attrs, stringAttr("snag.fingerprint", report.Fingerprint))
	}
	if len(report.Stacktrace) > 0 {
		attrs = append(attrs, stringAttr("exception.stacktrace", renderStack(report.Stacktrace)))
	}
	if report.Context != "" {
		attrs = append(attrs, stringAttr("snag.context", report.Context))
	}
	if report.User != nil {
		attrs = append(attrs, stringAttr("enduser.id", report.User.ID))
	}
	if report.ReleaseStage != "" {
		attrs = append(attrs, stringAttr("deployment.environment", report.ReleaseStage))
	}

	keys := make([]string, 0, len(report.Metadata))
	for k := range report.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == snag.TracingMetadataKey {
			continue
		}
		attrs = append(attrs, &commonpb.KeyValue{Key: "snag.metadata." + k, Value: anyValue(report.Metadata[k])})
	}
	rec.Attributes = attrs

	if traceID, spanID, ok := traceIDs(report.Metadata[snag.TracingMetadataKey]); ok {
		rec.TraceId = traceID[:]
		rec.SpanId = spanID[:]
	}
	return rec
}

func severityNumber(s snag.Severity) logspb.SeverityNumber {
	switch s {
	case snag.SeverityInfo:
		return logspb.SeverityNumber_SEVERITY_NUMBER_INFO
	case snag.SeverityWarning:
		return logspb.SeverityNumber_SEVERITY_NUMBER_WARN
	default:
		return logspb.SeverityNumber_SEVERITY_NUMBER_ERROR
	}
}

func traceIDs(v any) (trace.TraceID, trace.SpanID, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return trace.TraceID{}, trace.SpanID{}, false
	}
	tid, _ := m["trace_id"].(string)
	sid, _ := m["span_id"].(string)
	traceID, err := trace.TraceIDFromHex(tid)
	if err != nil {
		return trace.TraceID{}, trace.SpanID{}, false
	}
	spanID, err := trace.SpanIDFromHex(sid)
	if err != nil {
		return trace.TraceID{}, trace.SpanID{}, false
	}
	return traceID, spanID, true
}

func renderStack(frames []snag.Frame) string {
	var b strings.Builder
	for i, f := range frames {
		if i > 0 {
			b.WriteString("\n")
		}
		if f.Function != "" {
			b.WriteString(f.Function)
			b.WriteString("\n\t")
		}
		fmt.Fprintf(&b, "%s:%d", f.File, f.Line)
	}
	return b.String()
}

func stringAttr(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{Key: key, Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: value}}}
}

func anyValue(v any) *commonpb.AnyValue {
	switch val := v.(type) {
	case nil:
		return &commonpb.AnyValue{}
	case string:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: val}}
	case bool:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_BoolValue{BoolValue: val}}
	case int:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: int64(val)}}
	case int64:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: val}}
	case float64:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_DoubleValue{DoubleValue: val}}
	case []string:
		values := make([]*commonpb.AnyValue, len(val))
		for i, s := range val {
			values[i] = anyValue(s)
		}
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_ArrayValue{ArrayValue: &commonpb.ArrayValue{Values: values}}}
	case []any:
		values := make([]*commonpb.AnyValue, len(val))
		for i, item := range val {
			values[i] = anyValue(item)
		}
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_ArrayValue{ArrayValue: &commonpb.ArrayValue{Values: values}}}
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		kvs := make([]*commonpb.KeyValue, 0, len(val))
		for _, k := range keys {
			kvs = append(kvs, &commonpb.KeyValue{Key: k, Value: anyValue(val[k])})
		}
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_KvlistValue{KvlistValue: &commonpb.KeyValueList{Values: kvs}}}
	default:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: fmt.Sprint(val)}}
	}
}
