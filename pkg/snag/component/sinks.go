package component

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/strongdm/snagbridge/pkg/snag"
	"github.com/strongdm/snagbridge/pkg/snag/config"
	"github.com/strongdm/snagbridge/pkg/snag/sinks/bugsnag"
	"github.com/strongdm/snagbridge/pkg/snag/sinks/elasticsearch"
	"github.com/strongdm/snagbridge/pkg/snag/sinks/file"
	"github.com/strongdm/snagbridge/pkg/snag/sinks/multi"
	"github.com/strongdm/snagbridge/pkg/snag/sinks/noop"
	"github.com/strongdm/snagbridge/pkg/snag/sinks/otlp"
	"github.com/strongdm/snagbridge/pkg/snag/sinks/stderr"
)

// indexSetupTimeout bounds the Elasticsearch index check at startup.
const indexSetupTimeout = 5 * time.Second

// configuredSinks builds the sinks enabled in cfg. Bugsnag is enabled unless
// explicitly disabled; the others are enabled by their section being set.
// Sinks already built are closed when a later one fails.
func configuredSinks(cfg config.Config, logger *zap.Logger) (sinks []multi.Destination, err error) {
	defer func() {
		if err != nil {
			for _, d := range sinks {
				err = errors.Join(err, d.Sink.Close())
			}
			sinks = nil
		}
	}()

	if !cfg.Bugsnag.Disabled {
		s, err := bugsnag.New(bugsnag.Config{
			APIKey:           cfg.APIKey,
			ReleaseStage:     cfg.ReleaseStage,
			NotifyEndpoint:   cfg.Bugsnag.NotifyEndpoint,
			SessionsEndpoint: cfg.Bugsnag.SessionsEndpoint,
			Logger:           logger,
		})
		if err != nil {
			return sinks, fmt.Errorf("build bugsnag sink: %w", err)
		}
		sinks = append(sinks, multi.Destination{Name: "bugsnag", Sink: s})
	}

	if cfg.Stderr.Enabled {
		var opts []stderr.Option
		if cfg.Stderr.Verbose {
			opts = append(opts, stderr.WithVerbose())
		}
		sinks = append(sinks, multi.Destination{Name: "stderr", Sink: stderr.New(opts...)})
	}

	if cfg.File.Path != "" {
		s, err := file.Open(cfg.File.Path)
		if err != nil {
			return sinks, fmt.Errorf("build file sink: %w", err)
		}
		sinks = append(sinks, multi.Destination{Name: "file", Sink: s})
	}

	if len(cfg.Elasticsearch.Addresses) > 0 {
		s, err := elasticsearch.New(elasticsearch.Config{
			Addresses: cfg.Elasticsearch.Addresses,
			Index:     cfg.Elasticsearch.Index,
			Logger:    logger,
		})
		if err != nil {
			return sinks, fmt.Errorf("build elasticsearch sink: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), indexSetupTimeout)
		if err := s.EnsureIndex(ctx); err != nil {
			// Reports still index into a dynamically mapped index.
			logger.Warn("report index setup failed", zap.Error(err))
		}
		cancel()
		sinks = append(sinks, multi.Destination{Name: "elasticsearch", Sink: s})
	}

	if cfg.OTLP.Endpoint != "" {
		s, err := otlp.Dial(cfg.OTLP.Endpoint, cfg.OTLP.ServiceName)
		if err != nil {
			return sinks, fmt.Errorf("build otlp sink: %w", err)
		}
		sinks = append(sinks, multi.Destination{Name: "otlp", Sink: s})
	}

	return sinks, nil
}

// combineSinks returns the single sink to hand to the client.
func combineSinks(dests []multi.Destination) snag.Sink {
	switch len(dests) {
	case 0:
		return noop.New()
	case 1:
		return dests[0].Sink
	default:
		return multi.New(dests...)
	}
}

// destinationName names a sink given with WithSink by its type.
func destinationName(sink snag.Sink) string {
	return fmt.Sprintf("%T", sink)
}
