package observability

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// Collectors register against the default registry, so the suite shares one
// Metrics instance.
var testMetrics = NewMetrics()

func TestRecordLLMRequest(t *testing.T) {
	before := testutil.ToFloat64(testMetrics.LLMRequests.WithLabelValues("anthropic", "claude-x", "success"))
	testMetrics.RecordLLMRequest("anthropic", "claude-x", "success", 120, 40)

	after := testutil.ToFloat64(testMetrics.LLMRequests.WithLabelValues("anthropic", "claude-x", "success"))
	if after-before != 1 {
		t.Errorf("request counter delta = %v, want 1", after-before)
	}
	if got := testutil.ToFloat64(testMetrics.LLMTokens.WithLabelValues("anthropic", "claude-x", "input")); got < 120 {
		t.Errorf("input tokens = %v, want >= 120", got)
	}
	if got := testutil.ToFloat64(testMetrics.LLMTokens.WithLabelValues("anthropic", "claude-x", "output")); got < 40 {
		t.Errorf("output tokens = %v, want >= 40", got)
	}
}

func TestRecordToolExecution(t *testing.T) {
	before := testutil.ToFloat64(testMetrics.ToolExecutions.WithLabelValues("bash", "success"))
	testMetrics.RecordToolExecution("bash", "success", 0.25)
	after := testutil.ToFloat64(testMetrics.ToolExecutions.WithLabelValues("bash", "success"))
	if after-before != 1 {
		t.Errorf("tool counter delta = %v, want 1", after-before)
	}
}

func TestRecordError(t *testing.T) {
	before := testutil.ToFloat64(testMetrics.Errors.WithLabelValues("provider"))
	testMetrics.RecordError("provider")
	after := testutil.ToFloat64(testMetrics.Errors.WithLabelValues("provider"))
	if after-before != 1 {
		t.Errorf("error counter delta = %v, want 1", after-before)
	}
}

func TestConcurrentMetrics(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				testMetrics.Turns.Inc()
				testMetrics.RecordToolExecution("read", "success", 0.01)
			}
		}()
	}
	wg.Wait()
}
