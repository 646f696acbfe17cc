// Package dashboard serves the reporting API: sessions holding a venue
// import and the last query, and report runs rendered in several formats.
package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/foch-qualite/sequad/internal/analysis"
	"github.com/foch-qualite/sequad/internal/audit"
	"github.com/foch-qualite/sequad/internal/session"
	"github.com/foch-qualite/sequad/internal/shared/auth"
	"github.com/foch-qualite/sequad/internal/shared/errors"
	"github.com/foch-qualite/sequad/internal/shared/types"
	"github.com/foch-qualite/sequad/internal/venues"
)

// MaxUploadSize bounds a venue file upload.
const MaxUploadSize = 10 << 20

// Runner executes one report.
type Runner interface {
	Run(ctx context.Context, state analysis.State, q analysis.Query) (analysis.State, *analysis.Report, error)
}

// SessionStore persists sessions.
type SessionStore interface {
	Create(ctx context.Context, owner string) (*session.Session, error)
	Get(ctx context.Context, id types.ID, owner string) (*session.Session, error)
	Save(ctx context.Context, sess *session.Session) error
	Delete(ctx context.Context, id types.ID) error
}

// RunLog records report runs.
type RunLog interface {
	Append(ctx context.Context, run *audit.Run) error
}

// Handler provides HTTP handlers for the dashboard
type Handler struct {
	runner    Runner
	sessions  SessionStore
	extractor *venues.Extractor
	runs      RunLog
	log       zerolog.Logger
}

// NewHandler creates a dashboard handler. runs may be nil.
func NewHandler(runner Runner, sessions SessionStore, extractor *venues.Extractor, runs RunLog, log zerolog.Logger) *Handler {
	return &Handler{runner: runner, sessions: sessions, extractor: extractor, runs: runs, log: log}
}

// Routes registers the dashboard routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/sessions", h.CreateSession)
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Delete("/", h.DeleteSession)
		r.Post("/venues", h.ImportVenues)
		r.Delete("/venues", h.ClearVenues)
		r.Post("/reports", h.CreateReport)
	})

	return r
}

func owner(r *http.Request) string {
	if user := auth.GetUser(r.Context()); user != nil {
		return user.Username
	}
	return ""
}

// loadSession returns the session named in the path, owned by the caller.
func (h *Handler) loadSession(r *http.Request) (*session.Session, error) {
	id, err := types.ParseID(chi.URLParam(r, "sessionID"))
	if err != nil {
		return nil, errors.InvalidQuery("session_id", "invalid session ID")
	}
	return h.sessions.Get(r.Context(), id, owner(r))
}

// CreateSession starts an empty session.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Create(r.Context(), owner(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// GetSession returns a session with its state.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.loadSession(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// DeleteSession ends a session.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.loadSession(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.sessions.Delete(r.Context(), sess.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ImportVenues reads stay numbers from the multipart "file" field. The
// optional "column" field picks the column of a table.
func (h *Handler) ImportVenues(w http.ResponseWriter, r *http.Request) {
	sess, err := h.loadSession(r)
	if err != nil {
		writeError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		writeError(w, errors.InvalidQuery("file", "expected a multipart upload of at most 10 MB"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, errors.InvalidQuery("file", "file is required"))
		return
	}
	defer file.Close()

	found, err := h.extractor.ExtractFile(header.Filename, file, venues.Options{Column: r.FormValue("column")})
	if err != nil {
		writeError(w, err)
		return
	}
	if len(found) == 0 {
		writeError(w, errors.Format(fmt.Sprintf("no stay number found in %s", header.Filename), nil))
		return
	}

	sess.State = sess.State.WithVenues(header.Filename, found)
	if err := h.sessions.Save(r.Context(), sess); err != nil {
		writeError(w, err)
		return
	}
	h.log.Info().
		Str("session_id", sess.ID.String()).
		Str("file", header.Filename).
		Int("venues", len(found)).
		Msg("venues imported")

	writeJSON(w, http.StatusOK, sess)
}

// ClearVenues drops the venue import of a session.
func (h *Handler) ClearVenues(w http.ResponseWriter, r *http.Request) {
	sess, err := h.loadSession(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sess.State = sess.State.WithoutVenues()
	if err := h.sessions.Save(r.Context(), sess); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// CreateReport runs the query in the request body against the session state
// and renders the report in the format given by the "format" parameter.
func (h *Handler) CreateReport(w http.ResponseWriter, r *http.Request) {
	format, err := ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, err)
		return
	}

	sess, err := h.loadSession(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var q analysis.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		if _, ok := errors.As(err); !ok {
			err = errors.Format("invalid report request body", err)
		}
		writeError(w, err)
		return
	}

	started := time.Now()
	state, report, runErr := h.runner.Run(r.Context(), sess.State, q)
	h.record(r, sess, q, report, runErr, time.Since(started))
	if runErr != nil {
		writeError(w, runErr)
		return
	}

	sess.State = state
	if err := h.sessions.Save(r.Context(), sess); err != nil {
		writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := Render(&buf, format, report); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	if format.Attachment() {
		w.Header().Set("Content-Disposition",
			fmt.Sprintf(`attachment; filename="sequad-%s.%s"`, report.RunID, format.Extension()))
	}
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// record appends the run to the run log. Only validated queries are logged.
func (h *Handler) record(r *http.Request, sess *session.Session, q analysis.Query, report *analysis.Report, runErr error, elapsed time.Duration) {
	if h.runs == nil || errors.Is(runErr, errors.ErrInvalidQuery) {
		return
	}
	run := audit.NewRun(owner(r), sess.ID, q, sess.State, report, runErr, elapsed)
	if err := h.runs.Append(r.Context(), run); err != nil {
		h.log.Error().Err(err).Str("run_id", run.ID.String()).Msg("failed to record report run")
	}
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
