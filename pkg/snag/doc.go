// Package snag provides the reporter client used to deliver crash and error
// reports to a reporting service such as Bugsnag.
//
// snag builds enriched reports for Go services: user identity, request context,
// severity, stack frames and buffered log lines travel together so engineers can
// see what the service was doing when it failed.
//
// # Core Components
//
// The library is organized around these concepts:
//
//   - Report: The canonical report with category, severity, context, user and metadata
//   - Client: Reporter that runs callbacks, filters and fingerprinting before delivery
//   - Callback: Enrichment step executed immediately before a report is dispatched
//   - Sink: Destination for reports (bugsnag, elasticsearch, otlp, file, stderr, multi, noop)
//   - Scrubber: Redacts filtered metadata keys and sensitive message content
//
// # Quick Start
//
// For standalone usage:
//
//	client, err := snag.New(apiKey, snag.WithSink(stderr.New()))
//	if err != nil {
//	    return err
//	}
//	client.SetFilters([]string{"password", "token"})
//	client.RegisterDefaultCallbacks()
//	defer client.Shutdown(ctx)
//	defer snag.Recover(ctx, client)
//
// Application code normally goes through component.Initialize, which also
// attaches log buffers, session users and process-wide handlers.
//
// # Design Principles
//
//   - Notify paths never fail the caller: sink errors are logged and returned, never panicked
//   - Enrichment steps run under recover: a broken callback never blocks the report
//   - Request-scoped state travels in context.Context, not in globals
package snag
