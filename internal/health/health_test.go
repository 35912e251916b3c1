package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/relayfront/relayfront/internal/backend"
)

func TestCheckerPromotesAndDemotes(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	reg := backend.NewRegistry()
	b := reg.Ensure(srv.URL)

	cfg := Config{
		Enabled:     true,
		Interval:    10 * time.Millisecond,
		Timeout:     100 * time.Millisecond,
		DefaultPath: "/health",
		Thresholds:  backend.Thresholds{Unhealthy: 2, Healthy: 2},
	}
	c := New(cfg, reg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.probeOnce(ctx, b)
	if b.Status() != backend.Healthy {
		t.Fatal("expected healthy after a single success")
	}

	healthy = false
	c.probeOnce(ctx, b)
	c.probeOnce(ctx, b)
	if b.Status() != backend.Unhealthy {
		t.Fatal("expected unhealthy after threshold failures")
	}

	healthy = true
	c.probeOnce(ctx, b)
	if b.Status() != backend.Unhealthy {
		t.Fatal("one success should not yet recover")
	}
	c.probeOnce(ctx, b)
	if b.Status() != backend.Healthy {
		t.Fatal("expected recovery at healthy threshold")
	}
}

func TestCheckerStopIsImmediate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg := backend.NewRegistry()
	reg.Ensure(srv.URL)

	cfg := Config{
		Enabled:     true,
		Interval:    time.Hour,
		Timeout:     time.Second,
		DefaultPath: "/health",
		Thresholds:  backend.Thresholds{Unhealthy: 1, Healthy: 1},
	}
	c := New(cfg, reg)
	c.Start(context.Background())
	c.Stop()

	select {
	case <-c.done:
	default:
	}
}

func TestPerBackendPathOverride(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg := backend.NewRegistry()
	b := reg.Ensure(srv.URL)

	cfg := Config{
		Enabled:       true,
		Interval:      time.Hour,
		Timeout:       time.Second,
		DefaultPath:   "/health",
		PathOverrides: map[string]string{srv.URL: "/custom-health"},
		Thresholds:    backend.Thresholds{Unhealthy: 1, Healthy: 1},
	}
	c := New(cfg, reg)
	c.probeOnce(context.Background(), b)

	if gotPath != "/custom-health" {
		t.Errorf("expected override path, got %q", gotPath)
	}
}
