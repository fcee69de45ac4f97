package sandbox

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/dop251/goja"
)

// ErrTimedOut is returned when evaluation exceeds its wall-clock budget.
// Callers check it with errors.Is; the message is what users see.
var ErrTimedOut = errors.New("execution timed out")

// Config controls one evaluation environment.
type Config struct {
	// Timeout is the default wall-clock budget per evaluation, used when a
	// request does not carry its own.
	Timeout time.Duration
	// MaxCallStackSize bounds recursion depth so runaway recursion fails
	// with a guest error instead of exhausting the host stack.
	MaxCallStackSize int
}

// DefaultConfig gives evaluations 5 seconds and a 1024-frame stack.
func DefaultConfig() Config {
	return Config{
		Timeout:          5 * time.Second,
		MaxCallStackSize: 1024,
	}
}

// Result is the outcome of one evaluation.
type Result struct {
	// Value is the completion value of the program rendered to text, ""
	// for undefined/null completions.
	Value string
	// Output is the accumulated console text, preserved even when the
	// evaluation failed partway through.
	Output string
	// Duration is wall-clock evaluation time.
	Duration time.Duration
}

// guardScan is the reduced deny-list applied inside the sandbox immediately
// before evaluation. It is deliberately decoupled from internal/validator:
// if a caller ever reaches Eval without going through the full validation
// gate, the worst offenders are still refused here.
var guardScan = []*regexp.Regexp{
	regexp.MustCompile(`\beval\s*\(`),
	regexp.MustCompile(`\bFunction\s*\(`),
	regexp.MustCompile(`\brequire\s*\(`),
	regexp.MustCompile(`\bimport\s*\(`),
	regexp.MustCompile(`__proto__`),
	regexp.MustCompile(`\bglobalThis\b`),
	regexp.MustCompile(`\bprocess\b`),
}

// Runtime evaluates guest programs. It is stateless — every Eval builds a
// fresh VM and a fresh safe context, so nothing a guest does can leak into
// the next evaluation. Safe for concurrent use.
type Runtime struct {
	config Config
}

// New creates a Runtime.
func New(cfg Config) *Runtime {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.MaxCallStackSize <= 0 {
		cfg.MaxCallStackSize = DefaultConfig().MaxCallStackSize
	}
	return &Runtime{config: cfg}
}

// Eval runs one guest program with the given wall-clock budget (0 means the
// configured default).
//
// The program text is wrapped in a strict, immediately-invoked closure so
// top-level declarations stay lexically scoped to this evaluation and cannot
// leak — not that there is anywhere for them to leak to, since the VM dies
// with this call, but the wrapper also stops `var` from reaching the global
// object mid-run.
//
// A timer races real completion: if it fires first, the VM is interrupted
// and Eval returns ErrTimedOut. Console output accumulated before the
// failure is preserved in the Result either way.
func (r *Runtime) Eval(code string, timeout time.Duration) (*Result, error) {
	start := time.Now()

	res := &Result{}

	for _, p := range guardScan {
		if p.MatchString(code) {
			return res, fmt.Errorf("sandbox: code rejected by execution guard")
		}
	}

	vm := goja.New()
	vm.SetMaxCallStackSize(r.config.MaxCallStackSize)

	ctx := NewContext()
	if err := ctx.Install(vm); err != nil {
		return res, err
	}

	if timeout <= 0 {
		timeout = r.config.Timeout
	}
	timer := time.AfterFunc(timeout, func() {
		vm.Interrupt(ErrTimedOut)
	})
	defer timer.Stop()

	val, err := vm.RunString("(function() {\n'use strict';\n" + code + "\n})();")

	res.Output = ctx.Output()
	res.Duration = time.Since(start)

	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return res, fmt.Errorf("%w after %s", ErrTimedOut, timeout)
		}
		var exception *goja.Exception
		if errors.As(err, &exception) {
			// Guest-raised error: relay the message, nothing else. The
			// goja error string already contains no host paths.
			return res, fmt.Errorf("sandbox: %s", exception.Error())
		}
		return res, fmt.Errorf("sandbox: evaluation failed: %s", err.Error())
	}

	res.Value = renderValue(val)
	return res, nil
}

// renderValue turns the completion value into display text. Undefined and
// null render empty — an expressionless program should not print anything.
func renderValue(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return formatValue(v)
}
