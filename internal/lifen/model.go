// Package lifen serves and consumes letter diffusion records from the Lifen
// (Oracle) schema. Long periods are fetched in chunks, stay numbers in batches.
package lifen

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	apperrors "github.com/foch-qualite/sequad/internal/shared/errors"
	"github.com/foch-qualite/sequad/internal/shared/types"
)

// Recipient roles and send statuses used by the reporting.
const (
	RolePatient   = "Patient"
	StatusSuccess = "Réussite"
	// LetterType is the only document type served.
	LetterType = "Lettre de liaison"
)

// Document is one diffusion of a letter to one recipient.
type Document struct {
	DocumentID    string          `json:"id_doc_lifen"`
	Service       string          `json:"service"`
	DocType       string          `json:"type_doc"`
	RecipientName string          `json:"nom_destinataire"`
	StayNumber    int64           `json:"num_sej"`
	DocStatus     string          `json:"statut_doc"`
	Channel       string          `json:"canal_envoi"`
	RecipientRole string          `json:"role_destinataire"`
	SentAt        types.Timestamp `json:"date_envoi"`
	SendStatus    string          `json:"statut_envoi"`
	RecipientID   string          `json:"id_destinataire"`
	CreatedAt     types.Timestamp `json:"date_creation_doc"`
	PatientID     string          `json:"ipp"`
	StayType      string          `json:"type_sej"`
	Unit          string          `json:"uf"`
	AdmissionDate types.Timestamp `json:"date_admission"`
	DischargeDate types.Timestamp `json:"date_sortie"`
	NotSentReason string          `json:"raison_non_envoi"`
	Finess        string          `json:"finess"`
}

// DedupKey identifies a diffusion across overlapping fetches: the Lifen
// document id per recipient when known, else the stay and send date.
func (d Document) DedupKey() string {
	if d.DocumentID != "" {
		if d.RecipientID != "" {
			return d.DocumentID + "/" + d.RecipientID
		}
		return d.DocumentID
	}
	return fmt.Sprintf("%d_%s", d.StayNumber, d.SentAt.String())
}

// Dedup keeps the first document of each DedupKey, in order. It returns the
// kept documents and the number dropped.
func Dedup(docs []Document) ([]Document, int) {
	seen := make(map[string]struct{}, len(docs))
	kept := make([]Document, 0, len(docs))
	for _, d := range docs {
		key := d.DedupKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, d)
	}
	return kept, len(docs) - len(kept)
}

// DocumentQuery selects diffusions by stay numbers, optionally scoped to
// a discharge period, or by period alone.
type DocumentQuery struct {
	Venues []int64
	Start  types.Date
	End    types.Date
}

// HasPeriod reports whether both dates are set.
func (q DocumentQuery) HasPeriod() bool {
	return !q.Start.IsZero() && !q.End.IsZero()
}

// Values encodes q as URL query parameters.
func (q DocumentQuery) Values() url.Values {
	v := url.Values{}
	if len(q.Venues) > 0 {
		v.Set("num_venues", JoinVenues(q.Venues))
	}
	if q.HasPeriod() {
		v.Set("start_date", q.Start.String())
		v.Set("end_date", q.End.String())
	}
	return v
}

// ParseVenues reads a comma-separated list of stay numbers. Invalid tokens
// are logged and skipped; the result is distinct and sorted. No valid token
// is an InvalidQuery error.
func ParseVenues(raw string, log zerolog.Logger) ([]int64, error) {
	var venues []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil || n <= 0 {
			log.Warn().Str("venue", part).Msg("skipping invalid stay number")
			continue
		}
		venues = append(venues, n)
	}
	venues = SortedVenues(venues)
	if len(venues) == 0 {
		return nil, apperrors.InvalidQuery("num_venues", "no valid stay number")
	}
	return venues, nil
}

// SortedVenues returns the distinct positive values of venues, sorted.
func SortedVenues(venues []int64) []int64 {
	seen := make(map[int64]struct{}, len(venues))
	out := make([]int64, 0, len(venues))
	for _, v := range venues {
		if v <= 0 {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// JoinVenues renders venues as a comma-separated list.
func JoinVenues(venues []int64) string {
	parts := make([]string, len(venues))
	for i, v := range venues {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(parts, ",")
}

// Batches splits venues into consecutive slices of at most size elements.
func Batches(venues []int64, size int) [][]int64 {
	if size <= 0 {
		size = len(venues)
	}
	var batches [][]int64
	for i := 0; i < len(venues); i += size {
		end := i + size
		if end > len(venues) {
			end = len(venues)
		}
		batches = append(batches, venues[i:end])
	}
	return batches
}
