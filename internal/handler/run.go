package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sakif/script-playground/internal/auth"
	"github.com/sakif/script-playground/internal/service"
)

// RunHandler accepts code submissions and returns execution outcomes.
type RunHandler struct {
	runs   *service.RunService
	logger *slog.Logger
}

func NewRunHandler(runs *service.RunService, logger *slog.Logger) *RunHandler {
	return &RunHandler{
		runs:   runs,
		logger: logger,
	}
}

type runRequest struct {
	Code      string `json:"code"`
	TimeoutMs int    `json:"timeoutMs"`
}

// HandleRun executes one submission. The outcome is always 200 except for
// quota denials (429) — a guest error or timeout is a successful execution
// attempt from HTTP's point of view, with the detail in the body.
func (h *RunHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid run request body", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "invalid JSON body",
		})
		return
	}

	if req.Code == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "code cannot be empty",
		})
		return
	}

	callerID := auth.CallerID(r.Context())
	outcome := h.runs.Run(r.Context(), callerID, req.Code, req.TimeoutMs)

	status := http.StatusOK
	if outcome.ErrorKind == service.KindRateLimited {
		status = http.StatusTooManyRequests
	}

	writeJSON(w, status, outcome)
}

// HandleQuota reports the caller's remaining executions without consuming
// any. The UI polls this to grey out the run button.
func (h *RunHandler) HandleQuota(w http.ResponseWriter, r *http.Request) {
	callerID := auth.CallerID(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{
		"remaining": h.runs.Remaining(callerID),
	})
}
