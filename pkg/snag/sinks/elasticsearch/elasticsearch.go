// Package elasticsearch indexes reports into an Elasticsearch index so they can
// be searched next to the logs that produced them.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"github.com/strongdm/snagbridge/pkg/snag"
)

// DefaultIndex is used when no index name is configured.
const DefaultIndex = "snag-reports"

// reportIndex maps the fields used for grouping and filtering as keywords.
var reportIndex = map[string]interface{}{
	"mappings": map[string]interface{}{
		"properties": map[string]interface{}{
			"@timestamp":    map[string]interface{}{"type": "date"},
			"timestamp":     map[string]interface{}{"type": "date"},
			"event_id":      map[string]interface{}{"type": "keyword"},
			"fingerprint":   map[string]interface{}{"type": "keyword"},
			"category":      map[string]interface{}{"type": "keyword"},
			"severity":      map[string]interface{}{"type": "keyword"},
			"context":       map[string]interface{}{"type": "keyword"},
			"release_stage": map[string]interface{}{"type": "keyword"},
			"message":       map[string]interface{}{"type": "text"},
			"unhandled":     map[string]interface{}{"type": "boolean"},
			"metadata":      map[string]interface{}{"type": "object", "enabled": false},
		},
	},
}

// Config configures the sink.
type Config struct {
	Addresses []string
	Index     string
	// Transport overrides the HTTP transport (tests, custom TLS).
	Transport http.RoundTripper
	Logger    *zap.Logger
}

// Sink indexes each report as one document keyed by its event ID.
type Sink struct {
	es     *elasticsearch.Client
	index  string
	logger *zap.Logger
}

type document struct {
	snag.Report
	IndexedAt time.Time `json:"@timestamp"`
}

// New creates a sink for cfg.
func New(cfg Config) (*Sink, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return NewWithClient(es, cfg.Index, cfg.Logger), nil
}

// NewWithClient creates a sink over an existing client.
func NewWithClient(es *elasticsearch.Client, index string, logger *zap.Logger) *Sink {
	if index == "" {
		index = DefaultIndex
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{es: es, index: index, logger: logger}
}

// EnsureIndex creates the report index with its mapping if it does not exist.
func (s *Sink) EnsureIndex(ctx context.Context) error {
	res, err := s.es.Indices.Exists([]string{s.index}, s.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", s.index, err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	body, err := json.Marshal(reportIndex)
	if err != nil {
		return fmt.Errorf("marshal index mapping: %w", err)
	}
	res, err = s.es.Indices.Create(
		s.index,
		s.es.Indices.Create.WithBody(bytes.NewReader(body)),
		s.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", s.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		if strings.Contains(res.String(), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("create index %s: %s", s.index, res.String())
	}
	s.logger.Info("created report index", zap.String("index", s.index))
	return nil
}

// Write indexes report under its event ID, so retries overwrite instead of
// duplicating.
func (s *Sink) Write(ctx context.Context, report snag.Report) error {
	body, err := json.Marshal(document{Report: report, IndexedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal report %s: %w", report.EventID, err)
	}

	opts := []func(*esapi.IndexRequest){
		s.es.Index.WithContext(ctx),
	}
	if report.EventID != "" {
		opts = append(opts, s.es.Index.WithDocumentID(report.EventID))
	}
	res, err := s.es.Index(s.index, bytes.NewReader(body), opts...)
	if err != nil {
		return fmt.Errorf("index report %s: %w", report.EventID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index report %s: %s", report.EventID, res.String())
	}
	return nil
}

// Flush refreshes the index so written reports become searchable.
func (s *Sink) Flush(ctx context.Context) error {
	res, err := s.es.Indices.Refresh(
		s.es.Indices.Refresh.WithIndex(s.index),
		s.es.Indices.Refresh.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("refresh index %s: %w", s.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("refresh index %s: %s", s.index, res.String())
	}
	return nil
}

// Close is a no-op; the HTTP client has no resources to release.
func (s *Sink) Close() error {
	return nil
}
