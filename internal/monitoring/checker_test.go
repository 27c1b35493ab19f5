package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/places-sync/internal/config"
)

func TestChecker_Check_DedupesPerDay(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	u := newMemUsage()
	u.set("2026-03-10", "api.search", 85)
	cfg := thresholds()
	cfg.WebhookURL = ts.URL

	now := fixedNow
	collector := NewCollector(u, nil, 100, WithNow(func() time.Time { return now }))
	checker := NewChecker(collector, newTestAlerter(cfg), u, cfg)
	ctx := context.Background()

	sent, err := checker.Check(ctx)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, AlertUsageWarning, sent[0].Type)

	sent, err = checker.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, sent, "same alert not repeated on the same day")

	// Crossing into critical is a different alert type.
	u.set("2026-03-10", "api.details", 11)
	sent, err = checker.Check(ctx)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, AlertUsageCritical, sent[0].Type)

	// A new day starts clean.
	now = now.Add(24 * time.Hour)
	u.set("2026-03-11", "api.search", 90)
	sent, err = checker.Check(ctx)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, int32(3), received.Load())
}

func TestChecker_Check_FailedDeliveryRetried(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	u := newMemUsage()
	u.set("2026-03-10", "ratelimit.denied", 1)
	cfg := config.MonitoringConfig{WebhookURL: ts.URL}
	checker := NewChecker(NewCollector(u, nil, 0, WithNow(clock)), newTestAlerter(cfg), u, cfg)

	sent, err := checker.Check(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sent)

	fail.Store(false)
	sent, err = checker.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, AlertRateLimitDenied, sent[0].Type)
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	u := newMemUsage()
	cfg := config.MonitoringConfig{CheckIntervalSecs: 1}
	checker := NewChecker(NewCollector(u, nil, 100), NewAlerter(cfg), u, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	u := newMemUsage()
	checker := NewChecker(NewCollector(u, nil, 0), NewAlerter(config.MonitoringConfig{}), u, config.MonitoringConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}
