// Package supervisor owns the process lifecycle: loading the initial
// configuration, watching the config file for changes, validating and
// atomically swapping snapshots, reconciling the backend registry, and
// driving graceful shutdown on SIGTERM/SIGINT (spec §4.K).
package supervisor

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/relayfront/relayfront/internal/backend"
	"github.com/relayfront/relayfront/internal/config"
)

// Dispatcher is the subset of *router.Dispatcher the supervisor needs.
// Declared locally so the supervisor depends only on the one method it
// calls rather than on router's full surface.
type Dispatcher interface {
	SetSnapshot(snap *config.Snapshot)
}

// backendGraceWindow is how long a backend stays in the registry after
// no longer being referenced by any route, so in-flight requests routed
// to it under the old snapshot don't race a premature GC.
const backendGraceWindow = 30 * time.Second

// Supervisor owns the config path, the live dispatcher, and the backend
// registry's reconciliation against successive snapshots.
type Supervisor struct {
	configPath string
	dispatcher Dispatcher
	backends   *backend.Registry

	watcher *fsnotify.Watcher

	mu            sync.Mutex
	lastSeenAt    map[string]time.Time // backend URL -> time it stopped being referenced
	shutdownGrace time.Duration
	backendGrace  time.Duration
}

// New builds a Supervisor. shutdownGrace bounds how long Shutdown waits
// for in-flight requests to drain before forcing close.
func New(configPath string, dispatcher Dispatcher, backends *backend.Registry, shutdownGrace time.Duration) *Supervisor {
	if shutdownGrace <= 0 {
		shutdownGrace = 30 * time.Second
	}
	return &Supervisor{
		configPath:    configPath,
		dispatcher:    dispatcher,
		backends:      backends,
		lastSeenAt:    make(map[string]time.Time),
		shutdownGrace: shutdownGrace,
		backendGrace:  backendGraceWindow,
	}
}

// LoadInitial reads, validates, and publishes the first snapshot. The
// process should not start accepting connections until this succeeds.
func (s *Supervisor) LoadInitial() (*config.Snapshot, error) {
	raw, err := config.Load(s.configPath)
	if err != nil {
		return nil, err
	}
	snap, errs := config.Validate(raw)
	if len(errs) > 0 {
		return nil, batchedError(errs)
	}
	s.publish(snap)
	logRouteTable(snap)
	return snap, nil
}

// reload re-reads the config file and swaps in a new snapshot only if it
// validates cleanly; an invalid edit is logged and the prior snapshot
// stays live (spec §4.K: "reload leaves the running config untouched on
// validation failure").
func (s *Supervisor) reload() {
	raw, err := config.Load(s.configPath)
	if err != nil {
		log.WithError(err).Warn("config reload: read failed, keeping current snapshot")
		return
	}
	snap, errs := config.Validate(raw)
	if len(errs) > 0 {
		log.WithField("errors", errs).Warn("config reload: validation failed, keeping current snapshot")
		return
	}
	s.publish(snap)
	log.Info("config reload: new snapshot published")
	logRouteTable(snap)
}

// logRouteTable emits the compact, eskip-flavored notation for every
// route in snap at debug level, the same notation FormatRoute produces
// for the validate CLI.
func logRouteTable(snap *config.Snapshot) {
	for _, rs := range snap.RouteStrings() {
		log.Debug(rs)
	}
}

// publish pushes snap to the dispatcher and reconciles the backend
// registry against it (spec §4.K: "backend registry entries no longer
// referenced by any route are garbage-collected after a grace period").
func (s *Supervisor) publish(snap *config.Snapshot) {
	s.dispatcher.SetSnapshot(snap)
	s.reconcileBackends(snap)
}

func (s *Supervisor) reconcileBackends(snap *config.Snapshot) {
	reachable := make(map[string]struct{})
	for _, u := range snap.BackendURLs() {
		reachable[u] = struct{}{}
		s.backends.Ensure(u)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, st := range s.backends.List() {
		url := st.URL
		if _, ok := reachable[url]; ok {
			delete(s.lastSeenAt, url)
			continue
		}
		if _, tracked := s.lastSeenAt[url]; !tracked {
			s.lastSeenAt[url] = now
		}
	}

	expired := make(map[string]struct{})
	for url, since := range s.lastSeenAt {
		if now.Sub(since) >= s.backendGrace {
			expired[url] = struct{}{}
		}
	}
	if len(expired) == 0 {
		return
	}
	keep := make(map[string]struct{})
	for _, st := range s.backends.List() {
		url := st.URL
		if _, gone := expired[url]; !gone {
			keep[url] = struct{}{}
		}
	}
	n := s.backends.GC(keep)
	for url := range expired {
		delete(s.lastSeenAt, url)
	}
	if n > 0 {
		log.WithField("removed", n).Info("backend registry GC")
	}
}

// WatchConfig starts an fsnotify watch on the config file's directory
// (watching the file itself misses the remove+recreate pattern common
// to editors and `kubectl cp`) and reloads on any write/create touching
// it, until ctx is cancelled.
func (s *Supervisor) WatchConfig(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	s.watcher = w

	dir := dirOf(s.configPath)
	if err := w.Add(dir); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if sameFile(ev.Name, s.configPath) && (ev.Op&(fsnotify.Write|fsnotify.Create) != 0) {
					s.reload()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("config watcher error")
			}
		}
	}()
	return nil
}

// Run installs signal handlers and blocks until SIGTERM/SIGINT is
// received, at which point it returns after driving drain is the
// caller's job (see Shutdown); SIGUSR1 triggers an immediate reload
// without affecting the block.
func (s *Supervisor) Run(ctx context.Context) os.Signal {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT, syscall.SIGUSR1)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigs:
			switch sig {
			case syscall.SIGUSR1:
				log.Info("SIGUSR1 received: reloading config")
				s.reload()
			default:
				log.WithField("signal", sig).Info("shutdown signal received")
				return sig
			}
		}
	}
}

// Drainer is the subset of *tracker.Tracker Shutdown needs.
type Drainer interface {
	Drain(deadline time.Duration) bool
}

// Shutdown drains in-flight requests against the supervisor's configured
// grace window, returning whether the drain completed cleanly before the
// deadline.
func (s *Supervisor) Shutdown(d Drainer) bool {
	return d.Drain(s.shutdownGrace)
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

func sameFile(a, b string) bool {
	return baseOf(a) == baseOf(b)
}

func baseOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

type batchedError []error

func (b batchedError) Error() string {
	if len(b) == 0 {
		return "no errors"
	}
	s := b[0].Error()
	for _, e := range b[1:] {
		s += "; " + e.Error()
	}
	return s
}
