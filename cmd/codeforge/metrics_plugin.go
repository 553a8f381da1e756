package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/segmentationf4u1t/codeforge/internal/observability"
	"github.com/segmentationf4u1t/codeforge/pkg/models"
)

// metricsPlugin feeds the Prometheus collectors from the agent event stream,
// so instrumenting the runtime costs one plugin registration instead of
// threading a metrics handle through every call site.
type metricsPlugin struct {
	metrics *observability.Metrics
}

func newMetricsPlugin(metrics *observability.Metrics) *metricsPlugin {
	return &metricsPlugin{metrics: metrics}
}

func (p *metricsPlugin) OnEvent(ctx context.Context, e models.AgentEvent) {
	switch e.Type {
	case models.AgentEventRunStarted:
		p.metrics.RunsStarted.Inc()
	case models.AgentEventRunFinished:
		p.metrics.RunsFinished.WithLabelValues("success").Inc()
		if e.Stats != nil && e.Stats.Run != nil && e.Stats.Run.WallTime > 0 {
			p.metrics.RunDuration.Observe(e.Stats.Run.WallTime.Seconds())
		}
	case models.AgentEventRunError:
		p.metrics.RunsFinished.WithLabelValues("error").Inc()
		p.metrics.RecordError("runtime")
	case models.AgentEventRunCancelled:
		p.metrics.RunsFinished.WithLabelValues("cancelled").Inc()
	case models.AgentEventRunTimedOut:
		p.metrics.RunsFinished.WithLabelValues("timeout").Inc()
	case models.AgentEventIterStarted:
		p.metrics.Turns.Inc()
	case models.AgentEventModelCompleted:
		if e.Stream != nil {
			p.metrics.RecordLLMRequest(e.Stream.Provider, e.Stream.Model, "success", e.Stream.InputTokens, e.Stream.OutputTokens)
		}
	case models.AgentEventToolFinished:
		if e.Tool != nil {
			status := "success"
			if !e.Tool.Success {
				status = "error"
			}
			p.metrics.RecordToolExecution(e.Tool.Name, status, e.Tool.Elapsed.Seconds())
		}
	}
}

// serveMetrics exposes the default Prometheus registry on the configured
// metrics port until ctx is cancelled. Port 0 disables the listener.
func serveMetrics(ctx context.Context, host string, port int, logger *observability.Logger) {
	if port <= 0 {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn(ctx, "metrics listener failed", "error", err)
	}
}
