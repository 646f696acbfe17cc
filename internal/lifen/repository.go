package lifen

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

// DBTarget names the Lifen database in errors and metrics.
const DBTarget = "lifen-db"

const documentColumns = `ID_DOC_LIFEN, SERVICE, TYPE_DOC, NOM_DESTINATAIRE, NUM_SEJ, STATUT_DOC,
    CANAL_ENVOI, ROLE_DESTINATAIRE, DATE_ENVOI, STATUT_ENVOI, ID_DESTINATAIRE,
    DATE_CREATION_DOC, IPP, TYPE_SEJ, UF, DATE_ADMISSION, DATE_SORTIE,
    RAISON_NON_ENVOI, FINESS`

// Repository reads diffusion records from the Lifen Oracle schema.
type Repository struct {
	db       *sqlx.DB
	rowLimit int
	log      zerolog.Logger
}

// NewRepository creates a new Lifen repository. rowLimit caps the rows of
// one batch query.
func NewRepository(db *sqlx.DB, rowLimit int, log zerolog.Logger) *Repository {
	return &Repository{db: db, rowLimit: rowLimit, log: log}
}

type documentRow struct {
	DocumentID    sql.NullString  `db:"ID_DOC_LIFEN"`
	Service       sql.NullString  `db:"SERVICE"`
	DocType       sql.NullString  `db:"TYPE_DOC"`
	RecipientName sql.NullString  `db:"NOM_DESTINATAIRE"`
	StayNumber    sql.NullInt64   `db:"NUM_SEJ"`
	DocStatus     sql.NullString  `db:"STATUT_DOC"`
	Channel       sql.NullString  `db:"CANAL_ENVOI"`
	RecipientRole sql.NullString  `db:"ROLE_DESTINATAIRE"`
	SentAt        types.Timestamp `db:"DATE_ENVOI"`
	SendStatus    sql.NullString  `db:"STATUT_ENVOI"`
	RecipientID   sql.NullString  `db:"ID_DESTINATAIRE"`
	CreatedAt     types.Timestamp `db:"DATE_CREATION_DOC"`
	PatientID     sql.NullString  `db:"IPP"`
	StayType      sql.NullString  `db:"TYPE_SEJ"`
	Unit          sql.NullString  `db:"UF"`
	AdmissionDate types.Timestamp `db:"DATE_ADMISSION"`
	DischargeDate types.Timestamp `db:"DATE_SORTIE"`
	NotSentReason sql.NullString  `db:"RAISON_NON_ENVOI"`
	Finess        sql.NullString  `db:"FINESS"`
}

func (r documentRow) toDocument() Document {
	return Document{
		DocumentID:    strings.TrimSpace(r.DocumentID.String),
		Service:       r.Service.String,
		DocType:       r.DocType.String,
		RecipientName: r.RecipientName.String,
		StayNumber:    r.StayNumber.Int64,
		DocStatus:     r.DocStatus.String,
		Channel:       r.Channel.String,
		RecipientRole: r.RecipientRole.String,
		SentAt:        r.SentAt,
		SendStatus:    r.SendStatus.String,
		RecipientID:   strings.TrimSpace(r.RecipientID.String),
		CreatedAt:     r.CreatedAt,
		PatientID:     strings.TrimSpace(r.PatientID.String),
		StayType:      r.StayType.String,
		Unit:          r.Unit.String,
		AdmissionDate: r.AdmissionDate,
		DischargeDate: r.DischargeDate,
		NotSentReason: r.NotSentReason.String,
		Finess:        r.Finess.String,
	}
}

// batchQuery renders the query of one venue batch with Oracle positional binds.
// The row cap applies after ordering, so a capped batch keeps the newest rows.
func batchQuery(venues []int64, rowLimit int) (string, []any) {
	binds := make([]string, len(venues))
	args := make([]any, 0, len(venues)+2)
	for i, v := range venues {
		binds[i] = fmt.Sprintf(":%d", i+1)
		args = append(args, v)
	}
	n := len(venues)
	query := fmt.Sprintf(`SELECT %s
FROM NEUSTE.DOCUMENTS
WHERE NUM_SEJ IN (%s)
    AND TYPE_DOC = :%d
ORDER BY DATE_ENVOI DESC
FETCH FIRST :%d ROWS ONLY`, documentColumns, strings.Join(binds, ", "), n+1, n+2)
	args = append(args, LetterType, rowLimit)
	return query, args
}

// FindByVenues returns the letter diffusions of one batch of stay numbers,
// newest first.
func (r *Repository) FindByVenues(ctx context.Context, venues []int64) ([]Document, error) {
	if len(venues) == 0 {
		return nil, nil
	}

	query, args := batchQuery(venues, r.rowLimit)

	start := time.Now()
	var rows []documentRow
	err := r.db.SelectContext(ctx, &rows, query, args...)
	metrics.RecordDBQuery("lifen_documents", time.Since(start))
	if err != nil {
		return nil, dbError(err)
	}

	docs := make([]Document, len(rows))
	for i, row := range rows {
		docs[i] = row.toDocument()
	}
	if len(rows) >= r.rowLimit {
		r.log.Warn().Int("venues", len(venues)).Int("row_limit", r.rowLimit).Msg("batch hit the row limit")
	}
	return docs, nil
}

// Health checks database connectivity
func (r *Repository) Health(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func dbError(err error) error {
	mapped := apperrors.FromContext(DBTarget, err)
	if _, ok := apperrors.As(mapped); ok {
		return mapped
	}
	// Statement errors are not worth retrying.
	return apperrors.Wrap(err, "lifen query failed")
}
