package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/script-playground/internal/executor"
	"github.com/sakif/script-playground/internal/executor/isolated"
	"github.com/sakif/script-playground/internal/ratelimit"
	"github.com/sakif/script-playground/internal/sandbox"
)

type mockExecutor struct {
	mu       sync.Mutex
	calls    int
	discards int
	execute  func(ctx context.Context, req executor.Request) (*executor.Response, error)
}

func (m *mockExecutor) Execute(ctx context.Context, req executor.Request) (*executor.Response, error) {
	m.mu.Lock()
	m.calls++
	fn := m.execute
	m.mu.Unlock()
	return fn(ctx, req)
}

func (m *mockExecutor) Discard() {
	m.mu.Lock()
	m.discards++
	m.mu.Unlock()
}

func (m *mockExecutor) Close() error { return nil }

func (m *mockExecutor) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockExecutor) discardCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.discards
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRunService(t *testing.T, exec *mockExecutor, maxRequests int) *RunService {
	t.Helper()
	limiter := ratelimit.New(ratelimit.Config{
		MaxRequests: maxRequests,
		Window:      time.Minute,
	}, testLogger())
	return NewRunService(limiter, exec, RunConfig{
		Timeout:     time.Second,
		OuterBuffer: 500 * time.Millisecond,
	}, testLogger())
}

func TestRun_Success(t *testing.T) {
	exec := &mockExecutor{
		execute: func(_ context.Context, req executor.Request) (*executor.Response, error) {
			return &executor.Response{Result: "42", Output: "hello\n"}, nil
		},
	}
	svc := newTestRunService(t, exec, 10)

	out := svc.Run(context.Background(), "caller-1", "console.log('hello'); return 42;", 0)

	assert.True(t, out.OK)
	assert.Equal(t, "42", out.Result)
	assert.Equal(t, "hello\n", out.Output)
	assert.Empty(t, out.ErrorKind)
	assert.Equal(t, 9, out.Remaining)
	assert.Equal(t, 1, exec.callCount())
}

func TestRun_RateLimitDeniesBeforeValidation(t *testing.T) {
	exec := &mockExecutor{
		execute: func(_ context.Context, _ executor.Request) (*executor.Response, error) {
			return &executor.Response{Result: "1"}, nil
		},
	}
	svc := newTestRunService(t, exec, 2)

	svc.Run(context.Background(), "caller-1", "1 + 1", 0)
	svc.Run(context.Background(), "caller-1", "1 + 1", 0)

	// Third submission is denied at the gate. Even plainly invalid code
	// produces a rate_limited outcome, not validation errors.
	out := svc.Run(context.Background(), "caller-1", "fetch('http://x')", 0)

	assert.False(t, out.OK)
	assert.Equal(t, KindRateLimited, out.ErrorKind)
	assert.Empty(t, out.ValidationErrors)
	assert.Equal(t, 0, out.Remaining)
	assert.Equal(t, 2, exec.callCount())
}

func TestRun_OtherCallersUnaffectedByDenial(t *testing.T) {
	exec := &mockExecutor{
		execute: func(_ context.Context, _ executor.Request) (*executor.Response, error) {
			return &executor.Response{Result: "1"}, nil
		},
	}
	svc := newTestRunService(t, exec, 1)

	svc.Run(context.Background(), "caller-1", "1", 0)
	denied := svc.Run(context.Background(), "caller-1", "1", 0)
	other := svc.Run(context.Background(), "caller-2", "1", 0)

	assert.Equal(t, KindRateLimited, denied.ErrorKind)
	assert.True(t, other.OK)
}

func TestRun_InvalidCodeIsNeverDispatched(t *testing.T) {
	exec := &mockExecutor{
		execute: func(_ context.Context, _ executor.Request) (*executor.Response, error) {
			t.Error("executor must not be reached for invalid code")
			return nil, nil
		},
	}
	svc := newTestRunService(t, exec, 10)

	out := svc.Run(context.Background(), "caller-1", `eval("1"); fetch("http://x");`, 0)

	assert.False(t, out.OK)
	assert.Equal(t, KindValidationFailed, out.ErrorKind)
	// Every violation is reported, not just the first.
	require.GreaterOrEqual(t, len(out.ValidationErrors), 2)
	assert.Equal(t, 0, exec.callCount())
}

func TestRun_GuestErrorBecomesRuntimeErrorOutcome(t *testing.T) {
	exec := &mockExecutor{
		execute: func(_ context.Context, _ executor.Request) (*executor.Response, error) {
			return &executor.Response{Output: "partial\n", Error: "Error: boom"}, nil
		},
	}
	svc := newTestRunService(t, exec, 10)

	out := svc.Run(context.Background(), "caller-1", `throw new Error("boom");`, 0)

	assert.False(t, out.OK)
	assert.Equal(t, KindRuntimeError, out.ErrorKind)
	assert.Equal(t, "Error: boom", out.ErrorMessage)
	assert.Equal(t, "partial\n", out.Output)
}

func TestRun_TimeoutResponseBecomesTimeoutOutcome(t *testing.T) {
	exec := &mockExecutor{
		execute: func(_ context.Context, _ executor.Request) (*executor.Response, error) {
			return &executor.Response{Error: executor.TimeoutMessage}, nil
		},
	}
	svc := newTestRunService(t, exec, 10)

	out := svc.Run(context.Background(), "caller-1", "for (let i = 0; i < 1e9; i++) {}", 0)

	assert.False(t, out.OK)
	assert.Equal(t, KindTimeout, out.ErrorKind)
	assert.Equal(t, executor.TimeoutMessage, out.ErrorMessage)
}

func TestRun_InfraErrorFallsBackToDirectEval(t *testing.T) {
	exec := &mockExecutor{
		execute: func(_ context.Context, _ executor.Request) (*executor.Response, error) {
			return nil, errors.New("unit unavailable")
		},
	}
	svc := newTestRunService(t, exec, 10)

	out := svc.Run(context.Background(), "caller-1", "return 1 + 1;", 0)

	// The infrastructure failure is invisible to the caller: the fallback
	// evaluator still produces a normal success outcome, and the broken
	// unit is discarded.
	assert.True(t, out.OK)
	assert.Equal(t, "2", out.Result)
	assert.Equal(t, 1, exec.discardCount())
}

func TestRun_OuterDeadlineFallsBackToDirectEval(t *testing.T) {
	exec := &mockExecutor{
		execute: func(_ context.Context, _ executor.Request) (*executor.Response, error) {
			// A wedged unit: the response arrives long after the outer
			// deadline and is never read.
			time.Sleep(400 * time.Millisecond)
			return &executor.Response{Result: "late"}, nil
		},
	}
	limiter := ratelimit.New(ratelimit.Config{MaxRequests: 10, Window: time.Minute}, testLogger())
	svc := NewRunService(limiter, exec, RunConfig{
		Timeout:     50 * time.Millisecond,
		OuterBuffer: 50 * time.Millisecond,
	}, testLogger())

	start := time.Now()
	out := svc.Run(context.Background(), "caller-1", "return 7;", 0)

	assert.True(t, out.OK)
	assert.Equal(t, "7", out.Result)
	assert.Equal(t, 1, exec.discardCount())
	// Outer budget (100ms) plus the fallback eval, with slack for CI.
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRun_FallbackGuestErrorIsRuntimeError(t *testing.T) {
	exec := &mockExecutor{
		execute: func(_ context.Context, _ executor.Request) (*executor.Response, error) {
			return nil, errors.New("unit unavailable")
		},
	}
	svc := newTestRunService(t, exec, 10)

	out := svc.Run(context.Background(), "caller-1", `throw new Error("direct boom");`, 0)

	assert.False(t, out.OK)
	assert.Equal(t, KindRuntimeError, out.ErrorKind)
	assert.Contains(t, out.ErrorMessage, "direct boom")
}

func TestRun_FallbackTimeoutIsTimeoutOutcome(t *testing.T) {
	exec := &mockExecutor{
		execute: func(_ context.Context, _ executor.Request) (*executor.Response, error) {
			return nil, errors.New("unit unavailable")
		},
	}
	limiter := ratelimit.New(ratelimit.Config{MaxRequests: 10, Window: time.Minute}, testLogger())
	svc := NewRunService(limiter, exec, RunConfig{
		Timeout:     50 * time.Millisecond,
		OuterBuffer: 50 * time.Millisecond,
	}, testLogger())

	out := svc.Run(context.Background(), "caller-1", "for (;;) {}", 0)

	assert.False(t, out.OK)
	assert.Equal(t, KindTimeout, out.ErrorKind)
	assert.Equal(t, executor.TimeoutMessage, out.ErrorMessage)
}

func TestRun_OutgoingTextIsEscaped(t *testing.T) {
	exec := &mockExecutor{
		execute: func(_ context.Context, _ executor.Request) (*executor.Response, error) {
			return &executor.Response{
				Result: `<script>alert(1)</script>`,
				Output: `a & b "quoted"`,
			}, nil
		},
	}
	svc := newTestRunService(t, exec, 10)

	out := svc.Run(context.Background(), "caller-1", "1", 0)

	assert.Equal(t, "&lt;script&gt;alert(1)&lt;/script&gt;", out.Result)
	assert.Equal(t, "a &amp; b &#34;quoted&#34;", out.Output)
	assert.NotContains(t, out.Result, "<")
	assert.NotContains(t, out.Output, `"`)
}

func TestRun_ErrorMessagesAreEscaped(t *testing.T) {
	exec := &mockExecutor{
		execute: func(_ context.Context, _ executor.Request) (*executor.Response, error) {
			return &executor.Response{Error: `Error: <img src=x>`}, nil
		},
	}
	svc := newTestRunService(t, exec, 10)

	out := svc.Run(context.Background(), "caller-1", "1", 0)

	assert.Equal(t, KindRuntimeError, out.ErrorKind)
	assert.NotContains(t, out.ErrorMessage, "<")
	assert.Contains(t, out.ErrorMessage, "&lt;img")
}

func TestRun_RequestedTimeoutIsClampedToCap(t *testing.T) {
	var got time.Duration
	exec := &mockExecutor{
		execute: func(_ context.Context, req executor.Request) (*executor.Response, error) {
			got = req.Timeout()
			return &executor.Response{Result: "1"}, nil
		},
	}
	svc := newTestRunService(t, exec, 10)

	svc.Run(context.Background(), "caller-1", "1", 3_600_000)
	assert.Equal(t, time.Second, got, "requests above the cap use the cap")

	svc.Run(context.Background(), "caller-1", "1", 200)
	assert.Equal(t, 200*time.Millisecond, got, "requests below the cap pass through")

	svc.Run(context.Background(), "caller-1", "1", -5)
	assert.Equal(t, time.Second, got, "negative budgets use the default")
}

func TestRun_WarningsDoNotBlockExecution(t *testing.T) {
	exec := &mockExecutor{
		execute: func(_ context.Context, _ executor.Request) (*executor.Response, error) {
			return &executor.Response{Result: "done"}, nil
		},
	}
	svc := newTestRunService(t, exec, 10)

	out := svc.Run(context.Background(), "caller-1", "while (true) { break; }", 0)

	assert.True(t, out.OK)
	assert.Equal(t, 1, exec.callCount())
	require.NotEmpty(t, out.Warnings)
	assert.Contains(t, out.Warnings[0], "infinite loop")
}

func TestRun_ConcurrentCallersDoNotShareAUnit(t *testing.T) {
	exec := isolated.New(sandbox.Config{Timeout: 2 * time.Second}, testLogger())
	t.Cleanup(func() { _ = exec.Close() })

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequests: 10,
		Window:      time.Minute,
	}, testLogger())
	svc := NewRunService(limiter, exec, RunConfig{
		Timeout:     600 * time.Millisecond,
		OuterBuffer: 150 * time.Millisecond,
	}, testLogger())

	code := "const end = Date.now() + 300; while (Date.now() < end) {} return 'ok';"

	start := time.Now()
	var wg sync.WaitGroup
	outcomes := make([]Outcome, 3)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = svc.Run(context.Background(), fmt.Sprintf("caller-%d", i), code, 500)
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	for i, out := range outcomes {
		require.True(t, out.OK, "caller %d got %+v", i, out)
		assert.Equal(t, "ok", out.Result)
	}

	// Each caller runs on its own unit: three 300ms programs overlap. If
	// they queued behind a shared unit, the slowest would blow past its
	// outer deadline and degrade to the fallback path.
	assert.Less(t, elapsed, 700*time.Millisecond)
}
