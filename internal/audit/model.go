// Package audit keeps an append-only log of reporting runs. Each run is
// hash-chained to the previous one so that edits to the log are detectable.
package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/foch-qualite/sequad/internal/analysis"
	"github.com/foch-qualite/sequad/internal/shared/types"
)

// canonicalJSON produces JSON with sorted map keys so the hash does not depend
// on map iteration order.
func canonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}
	return canonicalMarshal(parsed)
}

func canonicalMarshal(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, _ := json.Marshal(k)
			buf.Write(keyBytes)
			buf.WriteByte(':')
			valBytes, err := canonicalMarshal(val[k])
			if err != nil {
				return nil, err
			}
			buf.Write(valBytes)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil

	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			itemBytes, err := canonicalMarshal(item)
			if err != nil {
				return nil, err
			}
			buf.Write(itemBytes)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil

	default:
		return json.Marshal(val)
	}
}

// Run is one reporting run as recorded in the log.
type Run struct {
	ID        types.ID `json:"id"`
	Sequence  int64    `json:"sequence"`
	Hash      string   `json:"hash"`
	PrevHash  string   `json:"prev_hash,omitempty"`
	Username  string   `json:"username"`
	SessionID types.ID `json:"session_id,omitempty"`

	Mode      analysis.Mode `json:"mode"`
	StartDate *time.Time    `json:"start_date,omitempty"`
	EndDate   *time.Time    `json:"end_date,omitempty"`

	VenueCount    int    `json:"venue_count"`
	LetterCount   int    `json:"letter_count"`
	DocumentCount int    `json:"document_count"`
	StayCount     int    `json:"stay_count"`
	NoData        bool   `json:"no_data"`
	Error         string `json:"error,omitempty"`

	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewRun records a run of q. report is nil when the run failed with runErr.
// The run id is the report id when there is one.
func NewRun(username string, sessionID types.ID, q analysis.Query, state analysis.State,
	report *analysis.Report, runErr error, elapsed time.Duration) *Run {
	run := &Run{
		ID:         types.NewID(),
		Username:   username,
		SessionID:  sessionID,
		Mode:       q.Mode,
		DurationMS: elapsed.Milliseconds(),
		// Postgres keeps microseconds.
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	if q.Mode == analysis.ModeVenues {
		run.VenueCount = len(state.ImportedVenues)
	} else {
		run.StartDate = datePtr(q.Start)
		run.EndDate = datePtr(q.End)
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if report != nil {
		if !report.RunID.IsZero() {
			run.ID = report.RunID
		}
		run.LetterCount = report.Letters.Letters
		run.DocumentCount = report.Diffusions.Diffusions
		run.StayCount = len(report.Stays)
		run.NoData = report.NoData
	}
	run.Hash = run.calculateHash()
	return run
}

func datePtr(d types.Date) *time.Time {
	if d.IsZero() {
		return nil
	}
	t := d.Time
	return &t
}

// calculateHash hashes the run content and the previous hash. Times are
// formatted in UTC so verification does not depend on the reader's zone.
func (r *Run) calculateHash() string {
	data := map[string]any{
		"id":             r.ID,
		"prev_hash":      r.PrevHash,
		"username":       r.Username,
		"mode":           r.Mode,
		"venue_count":    r.VenueCount,
		"letter_count":   r.LetterCount,
		"document_count": r.DocumentCount,
		"stay_count":     r.StayCount,
		"no_data":        r.NoData,
		"duration_ms":    r.DurationMS,
		"created_at":     r.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if !r.SessionID.IsZero() {
		data["session_id"] = r.SessionID
	}
	if r.StartDate != nil {
		data["start_date"] = r.StartDate.Format(types.DateLayout)
	}
	if r.EndDate != nil {
		data["end_date"] = r.EndDate.Format(types.DateLayout)
	}
	if r.Error != "" {
		data["error"] = r.Error
	}

	jsonData, _ := canonicalJSON(data)
	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:])
}

// VerifyHash reports whether the stored hash matches the run content.
func (r *Run) VerifyHash() bool {
	return r.Hash == r.calculateHash()
}

// ListRunsFilter selects runs for listing.
type ListRunsFilter struct {
	Username   string        `json:"username,omitempty"`
	Mode       analysis.Mode `json:"mode,omitempty"`
	FailedOnly bool          `json:"failed_only,omitempty"`
	Since      *time.Time    `json:"since,omitempty"`
	Limit      int           `json:"limit,omitempty"`
	Offset     int           `json:"offset,omitempty"`
}
