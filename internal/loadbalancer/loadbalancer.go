// Package loadbalancer selects a healthy backend from a target set. State
// is partitioned per target-set, keyed by a stable hash of the sorted
// target list, so flapping in one route's backends never perturbs another
// route's round-robin cursor.
package loadbalancer

import (
	"math/rand"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/relayfront/relayfront/internal/backend"
)

// Strategy selects among the healthy subset of a target set.
type Strategy string

const (
	RoundRobin Strategy = "round_robin"
	Random     Strategy = "random"
)

// setState is the mutable selection state for one target set.
type setState struct {
	cursor uint64 // atomic fetch-add, round_robin only
}

// Balancer holds per-target-set state across all routes sharing the
// Balancer instance. A single process-wide Balancer is expected; callers
// pass the target set on every Pick.
type Balancer struct {
	mu     sync.Mutex
	states map[uint64]*setState
}

// New returns an empty Balancer.
func New() *Balancer {
	return &Balancer{states: make(map[uint64]*setState)}
}

// targetSetKey hashes the sorted target list so the same set of targets,
// regardless of configured order, shares selection state.
func targetSetKey(targets []string) uint64 {
	sorted := append([]string(nil), targets...)
	sort.Strings(sorted)
	h := xxhash.New()
	_, _ = h.Write([]byte(strings.Join(sorted, "\x00")))
	return h.Sum64()
}

func (b *Balancer) stateFor(targets []string) *setState {
	key := targetSetKey(targets)

	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.states[key]
	if !ok {
		s = &setState{}
		b.states[key] = s
	}
	return s
}

// Pick chooses a healthy backend from targets under strategy, consulting
// registry for health status. Returns ("", false) if no target is
// currently healthy; the router converts that into a 503.
//
// Tie-break is the stable order of the configured targets slice.
func (b *Balancer) Pick(targets []string, registry *backend.Registry, strategy Strategy) (string, bool) {
	healthy := make([]string, 0, len(targets))
	for _, t := range targets {
		if st, ok := registry.Lookup(t); ok && st.Status() == backend.Healthy {
			healthy = append(healthy, t)
		}
	}
	if len(healthy) == 0 {
		return "", false
	}

	switch strategy {
	case Random:
		return healthy[rand.Intn(len(healthy))], true
	default: // RoundRobin
		s := b.stateFor(targets)
		idx := atomic.AddUint64(&s.cursor, 1) - 1
		return healthy[idx%uint64(len(healthy))], true
	}
}
