// Package observability provides the runtime's logging, tracing, and
// metrics layer.
//
// Three components cover the ambient concerns of an agent run:
//
//   - Logger: slog-backed structured logging with secret redaction and
//     context-derived correlation fields.
//   - Tracer: OpenTelemetry spans for turns, LLM requests, and tool
//     executions, exported over OTLP/gRPC when configured.
//   - Metrics: Prometheus collectors for runs, turns, provider calls,
//     token usage, and tool executions, served from the /metrics listener.
//
// # Logging
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//	logger.Info(ctx, "prompt received", "workspace", "/work/project")
//
// Secrets matching the redaction patterns (API keys, bearer tokens,
// passwords) are masked before the line is written.
//
// # Correlation
//
// Correlation IDs ride on the context; every log line and span derived
// from that context carries them automatically:
//
//	ctx = observability.AddRequestID(ctx, requestID)
//	ctx = observability.AddSessionID(ctx, session.ID)
//	ctx = observability.AddWorkspace(ctx, session.Workspace)
//	ctx = observability.AddRunID(ctx, runID)
//
// # Tracing
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName: "codeforge",
//	})
//	defer shutdown(ctx)
//
//	ctx, span := tracer.TraceTurn(ctx, session.ID, turnIndex)
//	defer span.End()
//
//	ctx, llmSpan := tracer.TraceLLMRequest(ctx, "anthropic", model)
//	defer llmSpan.End()
//
// # Metrics
//
//	metrics := observability.NewMetrics()
//	metrics.RunsStarted.Inc()
//	metrics.RecordLLMRequest("anthropic", model, "success", in, out)
//	metrics.RecordToolExecution("bash", "success", elapsed.Seconds())
//
// Collectors register with the default Prometheus registry; the serve
// command exposes them on the configured metrics port.
package observability
