// Package easily serves and consumes discharge-letter rows from the Easily
// (SQL Server) clinical records schema.
package easily

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	apperrors "github.com/foch-qualite/sequad/internal/shared/errors"
	"github.com/foch-qualite/sequad/internal/shared/types"
)

// StayRecord is one validated letter row. JSON names follow the Easily
// column aliases consumed by the dashboard.
type StayRecord struct {
	Year             int             `json:"annee"`
	Month            string          `json:"mois"`
	DaysToValidation int             `json:"LL_J0"`
	Nights           int             `json:"nuit_1"`
	PatientID        string          `json:"pat_IPP"`
	DeathDate        types.Timestamp `json:"pat_date_deces"`
	VisitID          int64           `json:"ven_id"`
	DocumentID       int64           `json:"fiche_id"`
	AdmissionDate    types.Timestamp `json:"sej_date_entree"`
	AdmissionUnit    string          `json:"sej_uf_medicale_code"`
	LastEntryDate    types.Timestamp `json:"sej_date_der_entree"`
	DischargeDate    types.Timestamp `json:"sej_date_sortie"`
	LastUnit         string          `json:"uf_der_pass"`
	LastStayService  string          `json:"cr_der_sej"`
	// StayNumber is 0 when the letter is not linked to a stay.
	StayNumber            int64           `json:"Num_Venue"`
	TheoreticalStayNumber int64           `json:"ven_theo"`
	LetterService         string          `json:"CR_courrier"`
	LetterType            string          `json:"Type_courrier"`
	SpecialtyFolder       string          `json:"Dos_Spe_ESL"`
	ServiceCode           string          `json:"CR_Doss_spe"`
	CreatedAt             types.Timestamp `json:"fic_date_creation"`
	ModifiedAt            types.Timestamp `json:"fic_date_modification"`
	ValidationDate        types.Timestamp `json:"date_min_val"`
	DiffusionDate         types.Timestamp `json:"Date diffusion"`
	SendStatus            string          `json:"Statut Envoi"`
}

// Validate reports the first required field that is missing.
func (r StayRecord) Validate() error {
	switch {
	case strings.TrimSpace(r.PatientID) == "":
		return fmt.Errorf("fiche %d: missing pat_IPP", r.DocumentID)
	case r.DocumentID == 0:
		return fmt.Errorf("patient %s: missing fiche_id", r.PatientID)
	case !r.DischargeDate.Valid():
		return fmt.Errorf("fiche %d: missing sej_date_sortie", r.DocumentID)
	case !r.ValidationDate.Valid():
		return fmt.Errorf("fiche %d: missing date_min_val", r.DocumentID)
	}
	return nil
}

// Send statuses of the secondary (mailbox) channel.
const (
	SendStatusPending   = "A diffuser"
	SendStatusFailed    = "Echec"
	SendStatusSent      = "Diffuse"
	SendStatusCancelled = "Annule"
	SendStatusNotQueued = "Pas dans boite envoi"
)

// SendStatus maps a mailbox status id to its label.
func SendStatus(id int64, valid bool) string {
	if !valid {
		return SendStatusNotQueued
	}
	switch id {
	case 1:
		return SendStatusPending
	case 3:
		return SendStatusFailed
	case 4:
		return SendStatusSent
	case 7:
		return SendStatusCancelled
	default:
		return SendStatusNotQueued
	}
}

// LetterQuery selects letters either by explicit stay numbers or by a
// discharge date range. Venues take precedence over dates.
type LetterQuery struct {
	Start  types.Date
	End    types.Date
	Venues []int64
}

// ByVenues reports whether q selects by stay numbers.
func (q LetterQuery) ByVenues() bool {
	return len(q.Venues) > 0
}

// Validate checks that one selection mode is fully specified.
func (q LetterQuery) Validate() error {
	if q.ByVenues() {
		for _, v := range q.Venues {
			if v <= 0 {
				return apperrors.InvalidQuery("venues", fmt.Sprintf("invalid stay number %d", v))
			}
		}
		return nil
	}
	if q.Start.IsZero() {
		return apperrors.InvalidQuery("start_date", "start_date is required without venues")
	}
	if q.End.IsZero() {
		return apperrors.InvalidQuery("end_date", "end_date is required without venues")
	}
	if q.End.Before(q.Start.Time) {
		return apperrors.InvalidQuery("end_date", "end_date must not be before start_date")
	}
	return nil
}

// Values encodes q as URL query parameters.
func (q LetterQuery) Values() url.Values {
	v := url.Values{}
	if q.ByVenues() {
		v.Set("venues", JoinVenues(q.Venues))
		return v
	}
	v.Set("start_date", q.Start.String())
	v.Set("end_date", q.End.String())
	return v
}

// ParseDate parses a YYYY-MM-DD query value for field.
func ParseDate(field, value string) (types.Date, error) {
	d, err := types.ParseDate(value)
	if err != nil {
		return types.Date{}, apperrors.InvalidDate(field, value)
	}
	return d, nil
}

// ParseLetterQuery reads a LetterQuery from request parameters.
func ParseLetterQuery(values url.Values) (LetterQuery, error) {
	var q LetterQuery

	if raw := strings.TrimSpace(values.Get("venues")); raw != "" {
		venues, err := ParseVenues(raw)
		if err != nil {
			return q, err
		}
		q.Venues = venues
	}

	if s := values.Get("start_date"); s != "" {
		d, err := ParseDate("start_date", s)
		if err != nil {
			return q, err
		}
		q.Start = d
	}
	if s := values.Get("end_date"); s != "" {
		d, err := ParseDate("end_date", s)
		if err != nil {
			return q, err
		}
		q.End = d
	}

	return q, q.Validate()
}

// ParseVenues parses a comma-separated list of positive stay numbers.
func ParseVenues(raw string) ([]int64, error) {
	var venues []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil || n <= 0 {
			return nil, apperrors.InvalidQuery("venues", fmt.Sprintf("invalid stay number %q", part))
		}
		venues = append(venues, n)
	}
	if len(venues) == 0 {
		return nil, apperrors.InvalidQuery("venues", "no stay number given")
	}
	return venues, nil
}

// JoinVenues renders venues as a comma-separated list.
func JoinVenues(venues []int64) string {
	parts := make([]string, len(venues))
	for i, v := range venues {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(parts, ",")
}

// StayNumbers returns the distinct positive stay numbers of records, sorted.
func StayNumbers(records []StayRecord) []int64 {
	seen := make(map[int64]bool)
	var venues []int64
	for _, r := range records {
		if r.StayNumber > 0 && !seen[r.StayNumber] {
			seen[r.StayNumber] = true
			venues = append(venues, r.StayNumber)
		}
	}
	sort.Slice(venues, func(i, j int) bool { return venues[i] < venues[j] })
	return venues
}
