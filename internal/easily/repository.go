package easily

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	apperrors "github.com/foch-qualite/sequad/internal/shared/errors"
	"github.com/foch-qualite/sequad/internal/shared/metrics"
	"github.com/foch-qualite/sequad/internal/shared/types"
)

// lockTimeoutMillis bounds how long a query waits on row locks.
const lockTimeoutMillis = 15000

// Repository reads letters from the Easily SQL Server schema.
type Repository struct {
	db  *sqlx.DB
	log zerolog.Logger
}

// NewRepository creates a new Easily repository
func NewRepository(db *sqlx.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log}
}

// letterRow mirrors the select list; every column may be NULL.
type letterRow struct {
	Year             sql.NullInt64   `db:"annee"`
	Month            sql.NullString  `db:"mois"`
	DaysToValidation sql.NullInt64   `db:"LL_J0"`
	Nights           sql.NullInt64   `db:"nuit_1"`
	PatientID        sql.NullString  `db:"pat_IPP"`
	DeathDate        types.Timestamp `db:"pat_date_deces"`
	VisitID          sql.NullInt64   `db:"ven_id"`
	DocumentID       sql.NullInt64   `db:"fiche_id"`
	AdmissionDate    types.Timestamp `db:"sej_date_entree"`
	AdmissionUnit    sql.NullString  `db:"sej_uf_medicale_code"`
	LastEntryDate    types.Timestamp `db:"sej_date_der_entree"`
	DischargeDate    types.Timestamp `db:"sej_date_sortie"`
	LastUnit         sql.NullString  `db:"uf_der_pass"`
	LastStayService  sql.NullString  `db:"cr_der_sej"`
	StayNumber       sql.NullInt64   `db:"Num_Venue"`
	TheoreticalStay  sql.NullInt64   `db:"ven_theo"`
	LetterService    sql.NullString  `db:"CR_courrier"`
	LetterType       sql.NullString  `db:"Type_courrier"`
	SpecialtyFolder  sql.NullString  `db:"Dos_Spe_ESL"`
	FolderService    sql.NullString  `db:"cr_specialite"`
	CreatedAt        types.Timestamp `db:"fic_date_creation"`
	ModifiedAt       types.Timestamp `db:"fic_date_modification"`
	ValidationDate   types.Timestamp `db:"date_min_val"`
	DiffusionDate    types.Timestamp `db:"date_diffusion"`
	SendStatusID     sql.NullInt64   `db:"statut_envoi_id"`
}

func (r letterRow) toRecord() (StayRecord, error) {
	rec := StayRecord{
		Year:                  int(r.Year.Int64),
		Month:                 r.Month.String,
		DaysToValidation:      int(r.DaysToValidation.Int64),
		Nights:                int(r.Nights.Int64),
		PatientID:             strings.TrimSpace(r.PatientID.String),
		DeathDate:             r.DeathDate,
		VisitID:               r.VisitID.Int64,
		DocumentID:            r.DocumentID.Int64,
		AdmissionDate:         r.AdmissionDate,
		AdmissionUnit:         r.AdmissionUnit.String,
		LastEntryDate:         r.LastEntryDate,
		DischargeDate:         r.DischargeDate,
		LastUnit:              r.LastUnit.String,
		LastStayService:       r.LastStayService.String,
		StayNumber:            r.StayNumber.Int64,
		TheoreticalStayNumber: r.TheoreticalStay.Int64,
		LetterService:         r.LetterService.String,
		LetterType:            r.LetterType.String,
		SpecialtyFolder:       r.SpecialtyFolder.String,
		ServiceCode:           ServiceCode(r.LetterType.String, r.SpecialtyFolder.String, r.FolderService.String),
		CreatedAt:             r.CreatedAt,
		ModifiedAt:            r.ModifiedAt,
		ValidationDate:        r.ValidationDate,
		DiffusionDate:         r.DiffusionDate,
		SendStatus:            SendStatus(r.SendStatusID.Int64, r.SendStatusID.Valid),
	}
	if !r.Year.Valid || !r.DaysToValidation.Valid || !r.Nights.Valid {
		return rec, fmt.Errorf("fiche %d: missing computed stay columns", rec.DocumentID)
	}
	return rec, rec.Validate()
}

// buildLetterQuery renders the SQL and its arguments for q, with '?' binds.
func buildLetterQuery(q LetterQuery) (string, []any, error) {
	if q.ByVenues() {
		return sqlx.In(fmt.Sprintf(lettersWithStay, venuePredicate), q.Venues)
	}

	from := q.Start.Time
	until := q.End.AddDays(1).Time
	query := fmt.Sprintf(lettersWithStay, dischargePredicate) +
		"\nUNION\n" +
		fmt.Sprintf(lettersWithoutStay, dischargePredicate)
	return query, []any{from, until, from, until}, nil
}

// FindLetters returns the validated letters selected by q. Rows failing
// validation are logged and dropped.
func (r *Repository) FindLetters(ctx context.Context, q LetterQuery) ([]StayRecord, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	query, args, err := buildLetterQuery(q)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	conn, err := r.db.Connx(ctx)
	if err != nil {
		return nil, apperrors.FromContext("easily-db", fmt.Errorf("acquire connection: %w", err))
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET LOCK_TIMEOUT %d", lockTimeoutMillis)); err != nil {
		return nil, apperrors.FromContext("easily-db", fmt.Errorf("set lock timeout: %w", err))
	}

	start := time.Now()
	var rows []letterRow
	err = conn.SelectContext(ctx, &rows, conn.Rebind(query), args...)
	metrics.RecordDBQuery("easily_letters", time.Since(start))
	if err != nil {
		r.log.Error().Err(err).Msg("letter query failed")
		return nil, upstreamDBError(err)
	}

	records := make([]StayRecord, 0, len(rows))
	dropped := 0
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			dropped++
			r.log.Warn().Err(err).Msg("dropping invalid letter row")
			continue
		}
		records = append(records, rec)
	}

	metrics.RecordLetters(len(records))
	metrics.RecordDroppedRows("easily", dropped)
	r.log.Debug().
		Int("rows", len(rows)).
		Int("dropped", dropped).
		Bool("by_venues", q.ByVenues()).
		Dur("duration", time.Since(start)).
		Msg("letters fetched")

	return records, nil
}

// Health checks database connectivity
func (r *Repository) Health(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func upstreamDBError(err error) error {
	mapped := apperrors.FromContext("easily-db", err)
	if _, ok := apperrors.As(mapped); ok {
		return mapped
	}
	return apperrors.Upstream("easily-db", 0, "", err)
}
