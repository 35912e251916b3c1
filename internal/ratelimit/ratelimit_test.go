package ratelimit

import (
	"net/http"
	"testing"
	"time"
)

func TestTokenBucketAllowsUpToBurstThenRejects(t *testing.T) {
	s := NewStore()
	defer s.Close()

	p := Policy{By: ByIP, Requests: 2, Period: time.Second, Algorithm: TokenBucket}

	d1 := s.Admit("r1", "1.2.3.4", p)
	d2 := s.Admit("r1", "1.2.3.4", p)
	d3 := s.Admit("r1", "1.2.3.4", p)

	if !d1.Allow || !d2.Allow {
		t.Fatal("first two requests within burst should be allowed")
	}
	if d3.Allow {
		t.Fatal("third request should be rejected")
	}
	if d3.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected default 429, got %d", d3.StatusCode)
	}
	if d3.RetryAfter <= 0 {
		t.Error("expected a positive retry-after for token bucket rejection")
	}
}

func TestFixedWindowResetsOnRollover(t *testing.T) {
	s := NewStore()
	defer s.Close()

	p := Policy{By: ByIP, Requests: 1, Period: 20 * time.Millisecond, Algorithm: FixedWindow}

	if !s.Admit("r1", "k", p).Allow {
		t.Fatal("first request should be allowed")
	}
	if s.Admit("r1", "k", p).Allow {
		t.Fatal("second request in same window should be rejected")
	}

	time.Sleep(25 * time.Millisecond)
	if !s.Admit("r1", "k", p).Allow {
		t.Fatal("request after window rollover should be allowed")
	}
}

func TestSeparateRoutesHaveIndependentBuckets(t *testing.T) {
	s := NewStore()
	defer s.Close()

	p := Policy{By: ByIP, Requests: 1, Period: time.Second, Algorithm: TokenBucket}

	if !s.Admit("routeA", "k", p).Allow {
		t.Fatal("routeA first hit should be allowed")
	}
	if !s.Admit("routeB", "k", p).Allow {
		t.Fatal("routeB should have its own independent bucket")
	}
}

func TestKeyForByHeaderMissingRejectsByDefault(t *testing.T) {
	p := Policy{By: ByHeader, HeaderName: "X-User"}
	_, ok := KeyFor(p, "1.2.3.4", http.Header{})
	if ok {
		t.Fatal("missing header should fail to produce a key under the reject default")
	}
}

func TestKeyForByHeaderMissingAllowsWithSentinel(t *testing.T) {
	p := Policy{By: ByHeader, HeaderName: "X-User", OnMissingHeader: MissingHeaderAllow}
	key, ok := KeyFor(p, "1.2.3.4", http.Header{})
	if !ok || key == "" {
		t.Fatal("allow policy should produce a sentinel key")
	}
}

func TestKeyForByRouteIsFixed(t *testing.T) {
	p := Policy{By: ByRoute}
	key, ok := KeyFor(p, "1.2.3.4", http.Header{})
	if !ok || key != "route" {
		t.Fatalf("expected fixed route key, got %q", key)
	}
}

func TestRetryAfterHeaderRoundsUp(t *testing.T) {
	if got := RetryAfterHeader(1500 * time.Millisecond); got != "2" {
		t.Errorf("expected rounded-up 2, got %s", got)
	}
	if got := RetryAfterHeader(0); got != "0" {
		t.Errorf("expected 0, got %s", got)
	}
}
