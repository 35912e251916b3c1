// Package health runs the periodic active prober that feeds backend
// health state (internal/backend). Probe results never panic or
// propagate an error to callers; they only update the backend record.
package health

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relayfront/relayfront/internal/backend"
)

// Config is the per-backend-set health-check policy (spec §6
// health_check block, plus per-backend path overrides).
type Config struct {
	Enabled           bool
	Interval          time.Duration
	Timeout           time.Duration
	DefaultPath       string
	PathOverrides     map[string]string // backend URL -> path
	Thresholds        backend.Thresholds
}

// Checker probes every backend in a registry on its own goroutine,
// staggered so probes don't herd on the same tick.
type Checker struct {
	cfg      Config
	registry *backend.Registry
	client   *http.Client

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Checker bound to registry. Start must be called to
// begin probing.
func New(cfg Config, registry *backend.Registry) *Checker {
	return &Checker{
		cfg:      cfg,
		registry: registry,
		client:   &http.Client{Timeout: cfg.Timeout},
		done:     make(chan struct{}),
	}
}

// Start launches one probing goroutine per currently-registered backend.
// Backends added to the registry after Start (for example by a config
// reload) are not probed; the supervisor does not restart the checker.
func (c *Checker) Start(ctx context.Context) {
	if !c.cfg.Enabled {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)

	backends := c.registry.List()
	for _, b := range backends {
		go c.run(ctx, b)
	}
}

// Stop cancels all in-flight probing loops. Per spec §4.C the checker
// must stop within one interval of a shutdown signal; cancellation is
// immediate, so the bound is trivially met.
func (c *Checker) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Checker) run(ctx context.Context, b *backend.State) {
	// Stagger the initial tick per backend to avoid a thundering herd of
	// simultaneous probes when many backends share one interval.
	jitter := time.Duration(rand.Int63n(int64(c.cfg.Interval)))
	timer := time.NewTimer(jitter)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			c.probeOnce(ctx, b)
			timer.Reset(c.cfg.Interval)
		}
	}
}

func (c *Checker) probeOnce(ctx context.Context, b *backend.State) {
	path := c.cfg.DefaultPath
	if override, ok := c.cfg.PathOverrides[b.URL]; ok && override != "" {
		path = override
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, b.URL+path, nil)
	if err != nil {
		b.RecordFailure(c.cfg.Thresholds, time.Now(), err.Error())
		return
	}

	before := b.Status()

	resp, err := c.client.Do(req)
	now := time.Now()
	if err != nil {
		b.RecordFailure(c.cfg.Thresholds, now, err.Error())
		c.logIfTransitioned(b, before)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		b.RecordSuccess(c.cfg.Thresholds, now)
	} else {
		b.RecordFailure(c.cfg.Thresholds, now, fmt.Sprintf("unhealthy status %d", resp.StatusCode))
	}
	c.logIfTransitioned(b, before)
}

// logIfTransitioned calls LogTransition only when the probe actually
// flipped the backend's status, so a steady healthy or unhealthy
// backend doesn't spam a log line on every interval.
func (c *Checker) logIfTransitioned(b *backend.State, before backend.Status) {
	snap := b.Snapshot()
	if snap.Status != before {
		LogTransition(snap.URL, snap)
	}
}

// LogTransition is a convenience hook routers/supervisors can poll to log
// state changes; it is not required for correctness, only observability.
func LogTransition(url string, s backend.Snapshot) {
	log.WithFields(log.Fields{
		"backend": url,
		"status":  s.Status.String(),
	}).Debug("health state")
}
