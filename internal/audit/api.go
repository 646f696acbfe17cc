package audit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foch-qualite/sequad/internal/analysis"
	"github.com/foch-qualite/sequad/internal/shared/auth"
	"github.com/foch-qualite/sequad/internal/shared/errors"
	"github.com/foch-qualite/sequad/internal/shared/types"
)

// Handler serves the run log. Users without full access only see their own
// runs.
type Handler struct {
	repo RunRepository
}

// NewHandler creates a run log handler.
func NewHandler(repo RunRepository) *Handler {
	return &Handler{repo: repo}
}

// Routes registers the run log routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListRuns)
	r.With(auth.RequireRoles(auth.RoleFullAccess)).Get("/verify", h.VerifyChain)
	// After /verify so it does not shadow it.
	r.Get("/{runID}", h.GetRun)

	return r
}

// ListRuns lists runs, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListRunsFilter{
		Username:   q.Get("username"),
		Mode:       analysis.Mode(q.Get("mode")),
		FailedOnly: q.Get("failed") == "true",
	}

	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, errors.InvalidQuery("since", "expected an RFC3339 time"))
			return
		}
		filter.Since = &t
	}

	if limit := q.Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			filter.Limit = l
		}
	}

	if offset := q.Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil && o >= 0 {
			filter.Offset = o
		}
	}

	if user := auth.GetUser(r.Context()); user != nil && !user.HasRole(auth.RoleFullAccess) {
		filter.Username = user.Username
	}

	runs, total, err := h.repo.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  runs,
		"total": total,
	})
}

// GetRun returns one run.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "runID")
	id, err := types.ParseID(raw)
	if err != nil {
		writeError(w, errors.InvalidQuery("run_id", "invalid run ID"))
		return
	}

	run, err := h.repo.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	if user := auth.GetUser(r.Context()); user != nil && !user.HasRole(auth.RoleFullAccess) && user.Username != run.Username {
		writeError(w, errors.NotFound("report run", raw))
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// VerifyChain verifies the latest runs.
func (h *Handler) VerifyChain(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	result, err := h.repo.VerifyChain(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := errors.As(err); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
