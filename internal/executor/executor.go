// Package executor defines the wire contract between the run orchestrator
// and whichever isolation backend executes guest code.
package executor

import (
	"context"
	"time"
)

// TimeoutMessage is the exact error text a backend reports when the guest
// exceeded its wall-clock budget. The orchestrator matches on it to classify
// the outcome as a timeout rather than a crash.
const TimeoutMessage = "execution timed out"

// Request asks a backend to run one guest program.
type Request struct {
	Code string `json:"code"`
	// TimeoutMs is the wall-clock budget in milliseconds. Zero means "use
	// the backend's configured default"; negative values are clamped to
	// zero by Timeout.
	TimeoutMs int `json:"timeoutMs"`
}

// Timeout converts the request budget to a duration, clamping negative and
// missing values to zero so a malformed request can never buy extra time.
func (r Request) Timeout() time.Duration {
	if r.TimeoutMs <= 0 {
		return 0
	}
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// Response is the single reply to one Request. Exactly one of the two shapes
// is populated:
//
//	success: {Result, Output, Error: ""}
//	failure: {Result: "", Output, Error: <message>}
//
// Output may be non-empty in both shapes — whatever the guest printed before
// failing is preserved.
type Response struct {
	Result string `json:"result"`
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

// Failed reports whether the response carries a failure.
func (r *Response) Failed() bool {
	return r.Error != ""
}

// TimedOut reports whether the failure was the guest exceeding its budget.
func (r *Response) TimedOut() bool {
	return r.Error == TimeoutMessage
}

// Executor runs guest programs in some isolation backend.
//
// Execute returns an error only for infrastructure problems — the backend
// could not be reached, created, or answered on time. Guest-level failures
// (runtime errors, timeouts) travel inside the Response so the caller can
// distinguish "your code failed" from "the sandbox failed".
type Executor interface {
	Execute(ctx context.Context, req Request) (*Response, error)

	// Discard forcibly tears down the current execution unit. The next
	// Execute builds a fresh one. Called by the orchestrator after any
	// anomaly so a wedged unit can never serve a second request.
	Discard()

	// Close releases all resources. The executor is unusable afterwards.
	Close() error
}
