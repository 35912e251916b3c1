// Package ratelimit admits or rejects requests per route under a
// configured algorithm, keyed by client IP, a header value, or the route
// itself. Admission decisions for a single key are serialized by a
// per-bucket lock; across keys they are independent (spec §4.E, §5).
package ratelimit

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Algorithm selects the admission strategy for a bucket.
type Algorithm string

const (
	TokenBucket   Algorithm = "token_bucket"
	FixedWindow   Algorithm = "fixed_window"
	SlidingWindow Algorithm = "sliding_window"
)

// By selects how the admission key is extracted from a request.
type By string

const (
	ByIP     By = "ip"
	ByHeader By = "header"
	ByRoute  By = "route"
)

// MissingHeaderPolicy controls admission when by=header names a header
// that is absent from the request. Spec §9's Open Question fixes the
// default to reject.
type MissingHeaderPolicy string

const (
	MissingHeaderReject MissingHeaderPolicy = "reject"
	MissingHeaderAllow  MissingHeaderPolicy = "allow"
)

// Policy is a route's rate_limit configuration (spec §6).
type Policy struct {
	By                By
	HeaderName        string
	Requests          int
	Period            time.Duration
	StatusCode        int // default 429
	Message           string
	Algorithm         Algorithm // default TokenBucket
	OnMissingHeader   MissingHeaderPolicy
}

func (p Policy) algorithm() Algorithm {
	if p.Algorithm == "" {
		return TokenBucket
	}
	return p.Algorithm
}

func (p Policy) statusCode() int {
	if p.StatusCode == 0 {
		return http.StatusTooManyRequests
	}
	return p.StatusCode
}

func (p Policy) onMissingHeader() MissingHeaderPolicy {
	if p.OnMissingHeader == "" {
		return MissingHeaderReject
	}
	return p.OnMissingHeader
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allow      bool
	StatusCode int
	Message    string
	RetryAfter time.Duration // zero means "not derivable"
}

// KeyFor extracts the bucket key for a request under policy p. ok is
// false only for by=header with a missing header and OnMissingHeader
// "reject", in which case the caller should reject immediately without
// consulting a bucket.
func KeyFor(p Policy, clientIP string, header http.Header) (key string, ok bool) {
	switch p.By {
	case ByHeader:
		v := header.Get(p.HeaderName)
		if v == "" {
			if p.onMissingHeader() == MissingHeaderReject {
				return "", false
			}
			return "__missing_header__", true
		}
		return v, true
	case ByRoute:
		return "route", true
	default: // ByIP
		return clientIP, true
	}
}

// bucket is algorithm-specific admission state for one (route, key) pair.
// All fields are guarded by mu except the embedded limiter, which has its
// own internal synchronization; mu still serializes admit() calls so the
// windowed algorithms' read-modify-write stays atomic.
type bucket struct {
	mu sync.Mutex

	limiter *rate.Limiter // token bucket
	period  time.Duration // retained for idle-eviction horizon

	windowStart time.Time // fixed/sliding window
	windowCount int
	prevCount   int // sliding window only: previous window's count

	lastTouched time.Time
}

func newBucket(p Policy, now time.Time) *bucket {
	b := &bucket{lastTouched: now}
	if p.algorithm() == TokenBucket {
		refillPerSec := float64(p.Requests) / p.Period.Seconds()
		b.limiter = rate.NewLimiter(rate.Limit(refillPerSec), p.Requests)
	} else {
		b.windowStart = now
	}
	return b
}

func (b *bucket) admit(p Policy, now time.Time) Decision {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastTouched = now

	switch p.algorithm() {
	case FixedWindow:
		return b.admitFixedWindow(p, now)
	case SlidingWindow:
		return b.admitSlidingWindow(p, now)
	default:
		return b.admitTokenBucket(p, now)
	}
}

func (b *bucket) admitTokenBucket(p Policy, now time.Time) Decision {
	if b.limiter.AllowN(now, 1) {
		return Decision{Allow: true}
	}
	reservation := b.limiter.ReserveN(now, 1)
	delay := reservation.DelayFrom(now)
	reservation.Cancel()
	return Decision{
		Allow:      false,
		StatusCode: p.statusCode(),
		Message:    p.Message,
		RetryAfter: delay,
	}
}

func (b *bucket) rollWindow(p Policy, now time.Time) {
	elapsed := now.Sub(b.windowStart)
	if elapsed < p.Period {
		return
	}
	windowsElapsed := int(elapsed / p.Period)
	if windowsElapsed == 1 {
		b.prevCount = b.windowCount
	} else {
		b.prevCount = 0
	}
	b.windowCount = 0
	b.windowStart = b.windowStart.Add(time.Duration(windowsElapsed) * p.Period)
}

func (b *bucket) admitFixedWindow(p Policy, now time.Time) Decision {
	b.rollWindow(p, now)
	if b.windowCount < p.Requests {
		b.windowCount++
		return Decision{Allow: true}
	}
	retryAfter := p.Period - now.Sub(b.windowStart)
	return Decision{
		Allow:      false,
		StatusCode: p.statusCode(),
		Message:    p.Message,
		RetryAfter: retryAfter,
	}
}

// admitSlidingWindow approximates a sliding window as a weighted sum of
// the current and previous fixed windows by elapsed fraction, per spec
// §4.E ("implementation may choose either").
func (b *bucket) admitSlidingWindow(p Policy, now time.Time) Decision {
	b.rollWindow(p, now)
	fraction := now.Sub(b.windowStart).Seconds() / p.Period.Seconds()
	if fraction > 1 {
		fraction = 1
	}
	weighted := float64(b.prevCount)*(1-fraction) + float64(b.windowCount)
	if weighted < float64(p.Requests) {
		b.windowCount++
		return Decision{Allow: true}
	}
	retryAfter := p.Period - now.Sub(b.windowStart)
	return Decision{
		Allow:      false,
		StatusCode: p.statusCode(),
		Message:    p.Message,
		RetryAfter: retryAfter,
	}
}

// bucketID ties a bucket to its owning route so two routes never share
// admission state even if they happen to compute the same key.
type bucketID struct {
	routeID string
	key     string
}

// Store is the shared, concurrent bucket map described in spec §3 and
// §5: a concurrent map with per-entry locks, buckets created lazily and
// reclaimed by idle timeout.
type Store struct {
	mu      sync.Mutex
	buckets map[bucketID]*bucket

	stop chan struct{}
}

// NewStore returns an empty Store and starts its idle-eviction sweeper.
func NewStore() *Store {
	s := &Store{
		buckets: make(map[bucketID]*bucket),
		stop:    make(chan struct{}),
	}
	go s.evictLoop()
	return s
}

// Close stops the eviction sweeper. Safe to call once.
func (s *Store) Close() {
	close(s.stop)
}

func (s *Store) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.evict(now)
		}
	}
}

func (s *Store) evict(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, b := range s.buckets {
		b.mu.Lock()
		idle := now.Sub(b.lastTouched)
		b.mu.Unlock()
		if idle > idleTimeout(id, s) {
			delete(s.buckets, id)
		}
	}
}

// idleTimeout returns the eviction horizon for a bucket: max(period*4,
// 10 min), per spec §4.E. Since the Store does not retain each bucket's
// originating Policy once created, Admit stores the policy's period on
// the bucket; this helper reads it back.
func idleTimeout(id bucketID, s *Store) time.Duration {
	const floor = 10 * time.Minute
	b, ok := s.buckets[id]
	if !ok || b.period == 0 {
		return floor
	}
	if d := b.period * 4; d > floor {
		return d
	}
	return floor
}

// Admit makes the admission decision for (routeID, key) under policy p,
// creating the backing bucket lazily on first hit.
func (s *Store) Admit(routeID, key string, p Policy) Decision {
	now := time.Now()
	id := bucketID{routeID: routeID, key: key}

	s.mu.Lock()
	b, ok := s.buckets[id]
	if !ok {
		b = newBucket(p, now)
		b.period = p.Period
		s.buckets[id] = b
	}
	s.mu.Unlock()

	return b.admit(p, now)
}

// RetryAfterHeader formats d as the integer-seconds value the Retry-After
// header expects, rounding up so a client never retries too early.
func RetryAfterHeader(d time.Duration) string {
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%d", secs)
}
