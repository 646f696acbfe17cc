package lifen

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/foch-qualite/sequad/internal/easily"
	"github.com/foch-qualite/sequad/internal/shared/errors"
	"github.com/foch-qualite/sequad/internal/shared/types"
)

// Handler provides HTTP handlers for the Lifen diffusion service
type Handler struct {
	fetcher       *Fetcher
	maxPeriodDays int
	log           zerolog.Logger
}

// NewHandler creates a new Lifen handler. maxPeriodDays bounds date-range requests.
func NewHandler(fetcher *Fetcher, maxPeriodDays int, log zerolog.Logger) *Handler {
	return &Handler{fetcher: fetcher, maxPeriodDays: maxPeriodDays, log: log}
}

// Routes registers the Lifen routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/data", h.GetData)
	r.Get("/metadata", h.GetMetadata)

	return r
}

// GetData returns the letter diffusions of explicit stay numbers, or of the
// stays discharged in a period.
func (h *Handler) GetData(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	rawVenues := strings.TrimSpace(params.Get("num_venues"))
	start, end, hasPeriod, err := h.parsePeriod(params.Get("start_date"), params.Get("end_date"))
	if err != nil {
		writeError(w, err)
		return
	}

	var (
		docs    []Document
		summary Summary
	)
	switch {
	case rawVenues != "":
		venues, err := ParseVenues(rawVenues, h.log)
		if err != nil {
			writeError(w, err)
			return
		}
		docs, summary, err = h.fetcher.ByVenues(r.Context(), venues)
		if err != nil {
			writeError(w, err)
			return
		}

	case hasPeriod:
		useEasily := true
		if s := params.Get("use_easily_api"); s != "" {
			useEasily, err = strconv.ParseBool(s)
			if err != nil {
				writeError(w, errors.InvalidQuery("use_easily_api", "use_easily_api must be a boolean"))
				return
			}
		}
		if !useEasily {
			writeError(w, errors.InvalidQuery("use_easily_api", "a period query needs the Easily venue lookup"))
			return
		}
		docs, summary, err = h.fetcher.ByPeriod(r.Context(), start, end)
		if err != nil {
			writeError(w, err)
			return
		}

	default:
		writeError(w, errors.InvalidQuery("num_venues", "num_venues or start_date and end_date are required"))
		return
	}

	h.log.Info().
		Str("strategy", summary.Strategy).
		Int("venues", summary.Venues).
		Int("batches", summary.Batches).
		Int("documents", len(docs)).
		Int("failed_chunks", summary.FailedChunks).
		Msg("diffusion data served")

	w.Header().Set("X-Fetch-Strategy", summary.Strategy)
	w.Header().Set("X-Failed-Chunks", strconv.Itoa(summary.FailedChunks))
	writeJSON(w, http.StatusOK, docs)
}

// GetMetadata previews the chunk plan of a period.
func (h *Handler) GetMetadata(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	start, end, hasPeriod, err := h.parsePeriod(params.Get("start_date"), params.Get("end_date"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !hasPeriod {
		writeError(w, errors.InvalidQuery("start_date", "start_date and end_date are required"))
		return
	}

	plan, err := NewPlan(start, end, h.fetcher.cfg.Tiers, h.fetcher.cfg.MaxChunks)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan.Metadata())
}

// parsePeriod validates an optional period. Both dates or neither must be set.
func (h *Handler) parsePeriod(rawStart, rawEnd string) (types.Date, types.Date, bool, error) {
	var start, end types.Date
	if rawStart == "" && rawEnd == "" {
		return start, end, false, nil
	}
	if rawStart == "" {
		return start, end, false, errors.InvalidQuery("start_date", "start_date is required with end_date")
	}
	if rawEnd == "" {
		return start, end, false, errors.InvalidQuery("end_date", "end_date is required with start_date")
	}

	start, err := easily.ParseDate("start_date", rawStart)
	if err != nil {
		return start, end, false, err
	}
	end, err = easily.ParseDate("end_date", rawEnd)
	if err != nil {
		return start, end, false, err
	}
	if end.Before(start.Time) {
		return start, end, false, errors.InvalidQuery("end_date", "start_date must not be after end_date")
	}
	if h.maxPeriodDays > 0 && start.DaysUntil(end) > h.maxPeriodDays {
		return start, end, false, errors.InvalidQuery("end_date",
			"period too long: "+strconv.Itoa(start.DaysUntil(end))+" days, max "+strconv.Itoa(h.maxPeriodDays))
	}
	return start, end, true, nil
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
