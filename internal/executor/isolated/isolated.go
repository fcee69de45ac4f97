// Package isolated runs guest code on dedicated worker goroutines that
// communicate with the caller purely by message passing.
//
// Every Execute gets its own unit: one goroutine, one sandbox runtime, a
// request channel and a response channel, nothing shared across the boundary.
// A unit serves exactly one request — DISPATCHED → {COMPLETED, FAILED,
// TIMED_OUT} — and is torn down afterwards, so no guest state and no suspect
// VM ever reaches a second request, and concurrent runs never queue behind
// each other.
//
// The executor keeps a registry of in-flight units so Discard can reach one
// that stopped answering: closing its teardown channel unblocks the awaiting
// Execute immediately, without waiting for the guest program to finish. The
// guest itself is bounded twice — by the unit's own interrupt timer (inside
// sandbox.Runtime), and by the orchestrator's outer timer, which relies on
// exactly this non-blocking teardown to reclaim a wedged run.
package isolated

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sakif/script-playground/internal/executor"
	"github.com/sakif/script-playground/internal/sandbox"
)

// ErrUnavailable is returned when the unit cannot accept or answer a
// request — the orchestrator treats it like any infrastructure failure and
// falls back to direct evaluation.
var ErrUnavailable = errors.New("isolated: execution unit unavailable")

// Executor implements executor.Executor on single-shot worker goroutines.
type Executor struct {
	config sandbox.Config
	logger *slog.Logger

	// mu guards the registry and the closed flag only. It is never held
	// while a request is in flight, so Discard and Close stay responsive
	// no matter what guest code is doing.
	mu       sync.Mutex
	inflight map[*worker]struct{}
	closed   bool
}

// worker is one isolated unit: a goroutine, its request/response channels,
// and a teardown signal. Channels are buffered (size 1) so a unit answering
// after the caller gave up parks its stale response in the buffer instead of
// blocking forever.
type worker struct {
	requests  chan executor.Request
	responses chan executor.Response
	done      chan struct{}
	stop      sync.Once
}

// shutdown is idempotent: Execute, Discard, and Close may race to tear the
// same unit down.
func (w *worker) shutdown() {
	w.stop.Do(func() { close(w.done) })
}

// New creates an Executor.
func New(cfg sandbox.Config, logger *slog.Logger) *Executor {
	return &Executor{
		config:   cfg,
		logger:   logger,
		inflight: make(map[*worker]struct{}),
	}
}

// Execute spawns a unit for this request, dispatches, and awaits its response
// or context cancellation. The unit is retired afterwards regardless of how
// the request ended.
func (e *Executor) Execute(ctx context.Context, req executor.Request) (*executor.Response, error) {
	w, err := e.checkout()
	if err != nil {
		return nil, err
	}
	defer e.checkin(w)

	// Dispatch. The request channel has room, so this only blocks if the
	// unit died without draining it.
	select {
	case w.requests <- req:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: dispatch cancelled: %s", ErrUnavailable, ctx.Err())
	case <-w.done:
		return nil, ErrUnavailable
	}

	// Await exactly one response. The done branch is the forcible-teardown
	// path: Discard or Close closed the unit while the guest still had it.
	select {
	case resp := <-w.responses:
		return &resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: no response: %s", ErrUnavailable, ctx.Err())
	case <-w.done:
		return nil, ErrUnavailable
	}
}

// Discard forcibly tears down every in-flight unit. The orchestrator calls
// it when a unit missed its deadline or errored; a unit still unanswered at
// that point is suspect, and its awaiting Execute unblocks with
// ErrUnavailable.
func (e *Executor) Discard() {
	for _, w := range e.snapshot() {
		w.shutdown()
	}
}

// Close tears everything down and marks the executor unusable.
func (e *Executor) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	for _, w := range e.snapshot() {
		w.shutdown()
	}
	return nil
}

// checkout spawns a unit for one request and registers it so Discard can
// reach it mid-flight.
func (e *Executor) checkout() (*worker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrUnavailable
	}
	w := e.spawn()
	e.inflight[w] = struct{}{}
	return w, nil
}

// checkin retires a unit after its single request. A goroutine still spinning
// inside guest code reclaims itself when its interrupt timer fires.
func (e *Executor) checkin(w *worker) {
	e.mu.Lock()
	delete(e.inflight, w)
	e.mu.Unlock()
	w.shutdown()
}

func (e *Executor) snapshot() []*worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	ws := make([]*worker, 0, len(e.inflight))
	for w := range e.inflight {
		ws = append(ws, w)
	}
	return ws
}

// spawn starts a single-shot worker goroutine with its own sandbox runtime.
func (e *Executor) spawn() *worker {
	w := &worker{
		requests:  make(chan executor.Request, 1),
		responses: make(chan executor.Response, 1),
		done:      make(chan struct{}),
	}
	rt := sandbox.New(e.config)

	go func() {
		select {
		case <-w.done:
			return
		case req := <-w.requests:
			resp := run(rt, req)
			select {
			case w.responses <- resp:
			case <-w.done:
			}
		}
	}()

	if e.logger != nil {
		e.logger.Debug("isolated execution unit started")
	}
	return w
}

// run evaluates one request and frames the result as a wire response.
func run(rt *sandbox.Runtime, req executor.Request) executor.Response {
	res, err := rt.Eval(req.Code, req.Timeout())
	if err != nil {
		msg := err.Error()
		if errors.Is(err, sandbox.ErrTimedOut) {
			// Exact message, so the orchestrator can classify it.
			msg = executor.TimeoutMessage
		}
		return executor.Response{
			Result: "",
			Output: res.Output,
			Error:  msg,
		}
	}
	return executor.Response{
		Result: res.Value,
		Output: res.Output,
	}
}
