package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/script-playground/internal/auth"
	"github.com/sakif/script-playground/internal/service"
)

// ScriptHandler exposes saved-script CRUD.
type ScriptHandler struct {
	scripts *service.ScriptService
	logger  *slog.Logger
}

func NewScriptHandler(scripts *service.ScriptService, logger *slog.Logger) *ScriptHandler {
	return &ScriptHandler{
		scripts: scripts,
		logger:  logger,
	}
}

type scriptRequest struct {
	Name        string `json:"name"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (h *ScriptHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req scriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid script JSON", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "invalid JSON body",
		})
		return
	}

	ownerID, _ := auth.UserIDFromContext(r.Context())

	script, err := h.scripts.Create(r.Context(), ownerID, req.Name, req.Code, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, script)
}

func (h *ScriptHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	script, err := h.scripts.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, script)
}

func (h *ScriptHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit")
	offset := queryInt(r, "offset")

	// ?mine=true narrows to the logged-in user's scripts.
	if r.URL.Query().Get("mine") == "true" {
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{
				Error:   "unauthorized",
				Message: "login required to list your scripts",
			})
			return
		}
		scripts, err := h.scripts.ListByUser(r.Context(), userID, limit, offset)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, scripts)
		return
	}

	scripts, err := h.scripts.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scripts)
}

func (h *ScriptHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req scriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "invalid JSON body",
		})
		return
	}

	callerID, _ := auth.UserIDFromContext(r.Context())

	script, err := h.scripts.Update(r.Context(), callerID, chi.URLParam(r, "id"),
		req.Name, req.Code, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, script)
}

func (h *ScriptHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	callerID, _ := auth.UserIDFromContext(r.Context())

	if err := h.scripts.Delete(r.Context(), callerID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}
