// Package ratelimit implements sliding-window admission control for code
// execution requests.
//
// Each caller (identified by an opaque session or user ID) gets a window of
// recent request timestamps. A request is admitted if fewer than MaxRequests
// timestamps remain inside the trailing window after pruning expired ones.
//
// The limiter never returns an error — denial is a normal boolean result.
// A background ticker periodically drops identifiers whose window has fully
// drained, so memory stays bounded even with many one-off visitors. The
// ticker is owned by this instance: the server starts it in Start and stops
// it during shutdown, there is no package-level state.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

// Config controls the admission window.
type Config struct {
	// MaxRequests is the number of executions allowed per identifier
	// within one Window.
	MaxRequests int
	// Window is the trailing time window.
	Window time.Duration
	// CleanupEvery is how often drained identifiers are evicted.
	CleanupEvery time.Duration
}

// DefaultConfig allows 10 executions per minute per caller.
func DefaultConfig() Config {
	return Config{
		MaxRequests:  10,
		Window:       time.Minute,
		CleanupEvery: 5 * time.Minute,
	}
}

// Limiter tracks request timestamps per caller identifier.
//
// Concurrency: the map is guarded by mu, and each window additionally has its
// own lock so two requests for the SAME identifier serialize against each
// other without blocking requests for other identifiers.
type Limiter struct {
	config Config
	logger *slog.Logger

	mu      sync.Mutex
	windows map[string]*window

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once

	// now is the clock. Tests swap it for a fake to step through windows
	// without sleeping.
	now func() time.Time
}

// window is one identifier's timestamp sequence, oldest first.
type window struct {
	mu     sync.Mutex
	stamps []time.Time
}

// New creates a Limiter. Call Start to begin periodic cleanup and Stop on
// shutdown.
func New(cfg Config, logger *slog.Logger) *Limiter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultConfig().MaxRequests
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.CleanupEvery <= 0 {
		cfg.CleanupEvery = DefaultConfig().CleanupEvery
	}
	return &Limiter{
		config:  cfg,
		logger:  logger,
		windows: make(map[string]*window),
		done:    make(chan struct{}),
		now:     time.Now,
	}
}

// Allow reports whether the identifier may execute now, and records the
// request if admitted. Denied requests are NOT recorded — a caller hammering
// the endpoint while blocked does not push their window further out.
func (l *Limiter) Allow(id string) bool {
	w := l.window(id)
	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.now()
	w.prune(now.Add(-l.config.Window))

	if len(w.stamps) >= l.config.MaxRequests {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}

// Remaining reports how many executions the identifier has left in the
// current window. It prunes expired entries but never records anything.
func (l *Limiter) Remaining(id string) int {
	w := l.window(id)
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(l.now().Add(-l.config.Window))

	remaining := l.config.MaxRequests - len(w.stamps)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Reset forgets all history for the identifier.
func (l *Limiter) Reset(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, id)
}

// Cleanup evicts identifiers whose pruned window is empty. Called
// periodically by the background ticker; exported so tests and callers can
// trigger it directly.
func (l *Limiter) Cleanup() {
	cutoff := l.now().Add(-l.config.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	for id, w := range l.windows {
		w.mu.Lock()
		w.prune(cutoff)
		empty := len(w.stamps) == 0
		w.mu.Unlock()
		if empty {
			delete(l.windows, id)
		}
	}
}

// Start launches the periodic cleanup goroutine. Safe to call once; further
// calls are no-ops.
func (l *Limiter) Start() {
	l.startOnce.Do(func() {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			ticker := time.NewTicker(l.config.CleanupEvery)
			defer ticker.Stop()
			for {
				select {
				case <-l.done:
					return
				case <-ticker.C:
					l.Cleanup()
				}
			}
		}()
		if l.logger != nil {
			l.logger.Debug("rate limiter started",
				slog.Int("maxRequests", l.config.MaxRequests),
				slog.Duration("window", l.config.Window),
			)
		}
	})
}

// Stop terminates the cleanup goroutine and waits for it to exit.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
	})
}

// window returns the identifier's window, creating it if needed.
func (l *Limiter) window(id string) *window {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[id]
	if !ok {
		w = &window{}
		l.windows[id] = w
	}
	return w
}

// prune drops timestamps at or before the cutoff. Stamps are appended in
// time order, so the first retained index bounds the expired prefix.
// Caller must hold w.mu.
func (w *window) prune(cutoff time.Time) {
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}
