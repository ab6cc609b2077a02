package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	httpmiddleware "github.com/wolfman30/commerce-concierge/internal/http/middleware"
	"github.com/wolfman30/commerce-concierge/internal/observability/metrics"
)

func TestSetupMetricsExposesEngineMetrics(t *testing.T) {
	handler, registry := setupMetrics()
	if handler == nil || registry == nil {
		t.Fatalf("expected non-nil handler and registry")
	}

	m := metrics.NewEngineMetrics(registry)
	m.ObserveTurn("sales", "ok", 0.2)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "concierge_engine_turns_total") {
		t.Fatalf("expected turn counter to be exported")
	}
}

func TestEvictIdleBucketsStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		evictIdleBuckets(ctx, httpmiddleware.NewRateLimiter(1, 1), time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("evictor did not stop")
	}
}
