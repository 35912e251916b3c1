package loadbalancer

import (
	"testing"

	"github.com/relayfront/relayfront/internal/backend"
)

func allHealthy(targets ...string) *backend.Registry {
	reg := backend.NewRegistry()
	for _, t := range targets {
		reg.Ensure(t)
	}
	return reg
}

func TestPickRoundRobinCyclesHealthySubset(t *testing.T) {
	targets := []string{"https://a", "https://b", "https://c"}
	reg := allHealthy(targets...)
	b := New()

	var seen []string
	for i := 0; i < 6; i++ {
		pick, ok := b.Pick(targets, reg, RoundRobin)
		if !ok {
			t.Fatal("expected a pick")
		}
		seen = append(seen, pick)
	}
	// Expect two full cycles of the 3 targets in configured order.
	want := []string{"https://a", "https://b", "https://c", "https://a", "https://b", "https://c"}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("pick %d = %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestPickSkipsUnhealthy(t *testing.T) {
	targets := []string{"https://a", "https://b"}
	reg := allHealthy(targets...)
	st, _ := reg.Lookup("https://a")
	st.RecordFailure(backend.Thresholds{Unhealthy: 1, Healthy: 1}, st.Snapshot().LastCheckedAt, "down")

	b := New()
	for i := 0; i < 4; i++ {
		pick, ok := b.Pick(targets, reg, RoundRobin)
		if !ok {
			t.Fatal("expected a pick")
		}
		if pick != "https://b" {
			t.Errorf("expected only the healthy backend, got %s", pick)
		}
	}
}

func TestPickAllUnhealthyReturnsFalse(t *testing.T) {
	targets := []string{"https://a", "https://b"}
	reg := allHealthy(targets...)
	for _, url := range targets {
		st, _ := reg.Lookup(url)
		st.RecordFailure(backend.Thresholds{Unhealthy: 1, Healthy: 1}, st.Snapshot().LastCheckedAt, "down")
	}

	b := New()
	_, ok := b.Pick(targets, reg, RoundRobin)
	if ok {
		t.Fatal("expected no pick when all targets are unhealthy")
	}
}

func TestPickRandomStaysWithinHealthySet(t *testing.T) {
	targets := []string{"https://a", "https://b"}
	reg := allHealthy(targets...)
	st, _ := reg.Lookup("https://a")
	st.RecordFailure(backend.Thresholds{Unhealthy: 1, Healthy: 1}, st.Snapshot().LastCheckedAt, "down")

	b := New()
	for i := 0; i < 20; i++ {
		pick, ok := b.Pick(targets, reg, Random)
		if !ok || pick != "https://b" {
			t.Fatalf("expected only the healthy backend, got %q ok=%v", pick, ok)
		}
	}
}

func TestDistinctTargetSetsHaveIndependentCursors(t *testing.T) {
	setA := []string{"https://a", "https://b"}
	setB := []string{"https://c", "https://d"}
	reg := allHealthy("https://a", "https://b", "https://c", "https://d")

	b := New()
	a1, _ := b.Pick(setA, reg, RoundRobin)
	c1, _ := b.Pick(setB, reg, RoundRobin)
	if a1 != "https://a" || c1 != "https://c" {
		t.Fatalf("expected independent cursors starting at index 0, got %s %s", a1, c1)
	}
}
