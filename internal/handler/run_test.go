package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sakif/script-playground/internal/executor"
	"github.com/sakif/script-playground/internal/ratelimit"
	"github.com/sakif/script-playground/internal/service"
)

type stubExecutor struct {
	resp executor.Response
}

func (s *stubExecutor) Execute(context.Context, executor.Request) (*executor.Response, error) {
	r := s.resp
	return &r, nil
}
func (s *stubExecutor) Discard()     {}
func (s *stubExecutor) Close() error { return nil }

func newRunHandler(t *testing.T, maxRequests int, resp executor.Response) *RunHandler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	limiter := ratelimit.New(ratelimit.Config{
		MaxRequests: maxRequests,
		Window:      time.Minute,
	}, logger)
	runs := service.NewRunService(limiter, &stubExecutor{resp: resp}, service.RunConfig{
		Timeout:     time.Second,
		OuterBuffer: time.Second,
	}, logger)
	return NewRunHandler(runs, logger)
}

func postRun(t *testing.T, h *RunHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/run", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleRun(rec, req)
	return rec
}

func TestHandleRun_Success(t *testing.T) {
	h := newRunHandler(t, 10, executor.Response{Result: "4", Output: ""})

	rec := postRun(t, h, `{"code":"2 + 2"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var outcome service.Outcome
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if !outcome.OK {
		t.Errorf("outcome.OK = false, error = %q", outcome.ErrorMessage)
	}
	if outcome.Result != "4" {
		t.Errorf("Result = %q, want %q", outcome.Result, "4")
	}
}

func TestHandleRun_InvalidJSON(t *testing.T) {
	h := newRunHandler(t, 10, executor.Response{})

	rec := postRun(t, h, `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleRun_EmptyCode(t *testing.T) {
	h := newRunHandler(t, 10, executor.Response{})

	rec := postRun(t, h, `{"code":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleRun_RateLimited(t *testing.T) {
	h := newRunHandler(t, 1, executor.Response{Result: "1"})

	if rec := postRun(t, h, `{"code":"1"}`); rec.Code != http.StatusOK {
		t.Fatalf("first run status = %d, want 200", rec.Code)
	}

	rec := postRun(t, h, `{"code":"1"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second run status = %d, want 429", rec.Code)
	}

	var outcome service.Outcome
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if outcome.ErrorKind != service.KindRateLimited {
		t.Errorf("ErrorKind = %q, want %q", outcome.ErrorKind, service.KindRateLimited)
	}
	if outcome.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", outcome.Remaining)
	}
}

func TestHandleRun_ValidationFailureIs200WithErrors(t *testing.T) {
	h := newRunHandler(t, 10, executor.Response{})

	rec := postRun(t, h, `{"code":"fetch('http://evil')"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var outcome service.Outcome
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if outcome.ErrorKind != service.KindValidationFailed {
		t.Errorf("ErrorKind = %q, want %q", outcome.ErrorKind, service.KindValidationFailed)
	}
	if len(outcome.ValidationErrors) == 0 {
		t.Error("expected validation errors in the outcome")
	}
}

func TestHandleQuota(t *testing.T) {
	h := newRunHandler(t, 5, executor.Response{Result: "1"})

	postRun(t, h, `{"code":"1"}`)

	req := httptest.NewRequest(http.MethodGet, "/api/run/quota", nil)
	rec := httptest.NewRecorder()
	h.HandleQuota(rec, req)

	var body map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if body["remaining"] != 4 {
		t.Errorf("remaining = %d, want 4", body["remaining"])
	}
}
