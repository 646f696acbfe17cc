package easily

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/foch-qualite/sequad/internal/shared/errors"
)

// LetterStore is the read side the handler needs.
type LetterStore interface {
	FindLetters(ctx context.Context, q LetterQuery) ([]StayRecord, error)
}

// Handler provides HTTP handlers for the Easily letters service
type Handler struct {
	store LetterStore
	log   zerolog.Logger
}

// NewHandler creates a new Easily handler
func NewHandler(store LetterStore, log zerolog.Logger) *Handler {
	return &Handler{store: store, log: log}
}

// Routes registers the Easily routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/letters", h.ListLetters)

	return r
}

// ListLetters returns letters for a discharge date range or a list of stay numbers.
func (h *Handler) ListLetters(w http.ResponseWriter, r *http.Request) {
	q, err := ParseLetterQuery(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}

	records, err := h.store.FindLetters(r.Context(), q)
	if err != nil {
		h.log.Error().Err(err).Str("query", q.Values().Encode()).Msg("letters request failed")
		writeError(w, err)
		return
	}
	if records == nil {
		records = []StayRecord{}
	}

	writeJSON(w, http.StatusOK, records)
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
