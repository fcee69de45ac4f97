// Package service contains the business logic layer.
//
// RunService is the execution orchestrator: it owns the full safety pipeline
// for one code submission and is the only place the pieces meet. The order
// is fixed and load-bearing:
//
//	rate-gate → validate → sanitize → dispatch → race timeout → outcome
//
// The rate gate runs first so a blocked caller costs nothing beyond a map
// lookup; validation runs before any execution attempt, isolated or
// fallback, so rejected code is never dispatched anywhere.
package service

import (
	"context"
	"errors"
	"html"
	"log/slog"
	"time"

	"github.com/sakif/script-playground/internal/executor"
	"github.com/sakif/script-playground/internal/ratelimit"
	"github.com/sakif/script-playground/internal/sandbox"
	"github.com/sakif/script-playground/internal/validator"
)

// Outcome error kinds. Exactly one terminal outcome is produced per
// submission; ErrorKind is empty on success.
const (
	KindRateLimited      = "rate_limited"
	KindValidationFailed = "validation_failed"
	KindTimeout          = "timeout"
	KindRuntimeError     = "runtime_error"
)

// Outcome is the terminal result of one submission. Every text field is
// already HTML-entity escaped — safe to embed in markup as-is.
type Outcome struct {
	OK               bool     `json:"ok"`
	Result           string   `json:"result,omitempty"`
	Output           string   `json:"output,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
	ErrorKind        string   `json:"errorKind,omitempty"`
	ErrorMessage     string   `json:"error,omitempty"`
	ValidationErrors []string `json:"validationErrors,omitempty"`
	// Remaining is the caller's quota left in the current window.
	Remaining int `json:"remaining"`
}

// RunConfig controls execution budgets.
type RunConfig struct {
	// Timeout is the inner evaluation budget T: the default when a request
	// carries none, and the cap when it asks for more.
	Timeout time.Duration
	// OuterBuffer is added to T for the orchestrator's own timer T'. If
	// the isolated unit has not answered within T+OuterBuffer it is
	// presumed wedged or unreachable and the fallback path runs.
	OuterBuffer time.Duration
}

// DefaultRunConfig gives evaluations 5 seconds and the unit 1 extra second
// to frame and deliver its response.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Timeout:     5 * time.Second,
		OuterBuffer: time.Second,
	}
}

// RunService orchestrates safe execution of submitted code.
type RunService struct {
	limiter  *ratelimit.Limiter
	exec     executor.Executor
	fallback *sandbox.Runtime
	config   RunConfig
	logger   *slog.Logger
}

// NewRunService wires the orchestrator. The limiter is shared with the
// server (which owns its cleanup lifecycle); the executor is whichever
// isolation backend the deployment selected.
func NewRunService(
	limiter *ratelimit.Limiter,
	exec executor.Executor,
	cfg RunConfig,
	logger *slog.Logger,
) *RunService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRunConfig().Timeout
	}
	if cfg.OuterBuffer <= 0 {
		cfg.OuterBuffer = DefaultRunConfig().OuterBuffer
	}
	return &RunService{
		limiter:  limiter,
		exec:     exec,
		fallback: sandbox.New(sandbox.Config{Timeout: cfg.Timeout}),
		config:   cfg,
		logger:   logger,
	}
}

// Run executes one submission through the full pipeline and returns its
// single terminal outcome. It never returns an error: every failure mode is
// an outcome kind.
func (s *RunService) Run(ctx context.Context, callerID, code string, timeoutMs int) Outcome {
	// 1. Rate gate. Denied callers stop here — no validation, no
	// execution, and the denied attempt is not recorded against them.
	if !s.limiter.Allow(callerID) {
		s.logger.Info("execution denied by rate limit", slog.String("caller", callerID))
		return Outcome{
			ErrorKind:    KindRateLimited,
			ErrorMessage: escape("rate limit exceeded — try again shortly"),
			Remaining:    s.limiter.Remaining(callerID),
		}
	}
	remaining := s.limiter.Remaining(callerID)

	// 2. Validate. Any error blocks execution entirely; the full ordered
	// error list goes back so the user can fix everything in one pass.
	v := validator.ValidateCode(code)
	if !v.Valid {
		return Outcome{
			ErrorKind:        KindValidationFailed,
			ErrorMessage:     escape("code failed safety validation"),
			ValidationErrors: escapeAll(v.Errors),
			Remaining:        remaining,
		}
	}

	// 3. Sanitize: control bytes only. Dangerous constructs were already
	// grounds for rejection above; sanitize never rewrites code.
	code = validator.SanitizeCode(code)

	// Clamp the requested budget into (0, T].
	inner := executor.Request{TimeoutMs: timeoutMs}.Timeout()
	if inner <= 0 || inner > s.config.Timeout {
		inner = s.config.Timeout
	}
	req := executor.Request{
		Code:      code,
		TimeoutMs: int(inner / time.Millisecond),
	}

	// 4. Dispatch to the isolated unit and arm the outer timer T'. The
	// reply channel is buffered so a unit answering after we stop
	// listening parks its stale response instead of leaking a goroutine.
	type reply struct {
		resp *executor.Response
		err  error
	}
	replies := make(chan reply, 1)
	go func() {
		resp, err := s.exec.Execute(ctx, req)
		replies <- reply{resp: resp, err: err}
	}()

	outer := time.NewTimer(inner + s.config.OuterBuffer)
	defer outer.Stop()

	// 5. Race. This select is the settle-once guard: exactly one branch
	// runs, and a late message on the buffered channel after the outer
	// timer fired is never read — it cannot produce a second outcome.
	select {
	case r := <-replies:
		if r.err != nil {
			// Infrastructure failure: unit could not be created or the
			// channel broke. Not surfaced to the user — the fallback
			// path produces the terminal outcome.
			s.logger.Warn("isolated execution unavailable, falling back",
				slog.String("error", r.err.Error()),
			)
			s.exec.Discard()
			return s.runFallback(code, inner, v.Warnings, remaining)
		}
		return s.outcomeFrom(r.resp, v.Warnings, remaining)

	case <-outer.C:
		// Covers both "unit hung" and "unit infrastructure gone": the
		// unit is forcibly discarded and the same safe-context-bound
		// evaluation runs directly on this goroutine.
		s.logger.Warn("isolated unit missed the outer deadline, falling back",
			slog.Duration("budget", inner+s.config.OuterBuffer),
		)
		s.exec.Discard()
		return s.runFallback(code, inner, v.Warnings, remaining)
	}
}

// Remaining reports the caller's current quota without consuming any.
func (s *RunService) Remaining(callerID string) int {
	return s.limiter.Remaining(callerID)
}

// runFallback evaluates directly on the calling goroutine, with no isolation
// boundary. Discarding the unit has no effect here: a guest program that
// defeats the interrupt timer genuinely blocks this caller. That is a known
// structural property of the fallback path, accepted in exchange for the
// playground staying usable when the isolated backend is down.
func (s *RunService) runFallback(code string, timeout time.Duration, warnings []string, remaining int) Outcome {
	res, err := s.fallback.Eval(code, timeout)
	if err != nil {
		return s.failureOutcome(err.Error(), errors.Is(err, sandbox.ErrTimedOut), res.Output, remaining)
	}
	return Outcome{
		OK:        true,
		Result:    escape(res.Value),
		Output:    escape(res.Output),
		Warnings:  escapeAll(warnings),
		Remaining: remaining,
	}
}

// outcomeFrom converts a unit response into the terminal outcome.
func (s *RunService) outcomeFrom(resp *executor.Response, warnings []string, remaining int) Outcome {
	if resp.Failed() {
		return s.failureOutcome(resp.Error, resp.TimedOut(), resp.Output, remaining)
	}
	return Outcome{
		OK:        true,
		Result:    escape(resp.Result),
		Output:    escape(resp.Output),
		Warnings:  escapeAll(warnings),
		Remaining: remaining,
	}
}

// failureOutcome frames a guest failure. Timeouts are reported as timeouts,
// never as crashes; everything else relays the guest message verbatim after
// escaping. No stack trace, file path, or host identifier is ever included.
func (s *RunService) failureOutcome(message string, timedOut bool, output string, remaining int) Outcome {
	kind := KindRuntimeError
	if timedOut {
		kind = KindTimeout
		message = executor.TimeoutMessage
	}
	return Outcome{
		ErrorKind:    kind,
		ErrorMessage: escape(message),
		Output:       escape(output),
		Remaining:    remaining,
	}
}

// escape HTML-entity escapes the five markup-significant characters
// (& < > " '). Applied to every text field crossing the outcome boundary.
func escape(s string) string {
	return html.EscapeString(s)
}

func escapeAll(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = escape(s)
	}
	return out
}
