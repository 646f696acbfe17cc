package easily

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/foch-qualite/sequad/internal/shared/metrics"
	"github.com/foch-qualite/sequad/internal/shared/tracing"
	"github.com/foch-qualite/sequad/internal/shared/types"
	"github.com/foch-qualite/sequad/internal/shared/upstream"
)

// Target is the upstream name of the Easily service.
const Target = "easily"

// Client calls the Easily letters service.
type Client struct {
	http *upstream.Client
	log  zerolog.Logger
}

// NewClient creates a new Easily client
func NewClient(cfg upstream.Config, log zerolog.Logger) *Client {
	if cfg.Target == "" {
		cfg.Target = Target
	}
	return &Client{http: upstream.New(cfg), log: log}
}

// Letters fetches the letters selected by q. Rows that cannot be decoded,
// or that lack a patient id or discharge date, are logged and dropped.
func (c *Client) Letters(ctx context.Context, q LetterQuery) (records []StayRecord, err error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracing.Start(ctx, "easily.letters",
		attribute.Bool("by_venues", q.ByVenues()),
		attribute.Int("venues", len(q.Venues)),
	)
	defer func() { tracing.End(span, err) }()

	rows, err := c.http.GetRows(ctx, "/patients/letters", q.Values())
	if err != nil {
		return nil, err
	}

	records = make([]StayRecord, 0, len(rows))
	dropped := 0
	for i, raw := range rows {
		var rec StayRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			dropped++
			c.log.Warn().Err(err).Int("row", i).Msg("dropping undecodable letter row")
			continue
		}
		rec.PatientID = strings.TrimSpace(rec.PatientID)
		if rec.PatientID == "" || !rec.DischargeDate.Valid() {
			dropped++
			c.log.Warn().Int("row", i).Int64("fiche_id", rec.DocumentID).Msg("dropping letter row without patient or discharge date")
			continue
		}
		records = append(records, rec)
	}

	metrics.RecordDroppedRows(Target, dropped)
	c.log.Debug().Int("rows", len(rows)).Int("dropped", dropped).Msg("letters received")
	return records, nil
}

// VenueNumbers returns the distinct positive stay numbers of the letters
// discharged between start and end, sorted.
func (c *Client) VenueNumbers(ctx context.Context, start, end types.Date) ([]int64, error) {
	records, err := c.Letters(ctx, LetterQuery{Start: start, End: end})
	if err != nil {
		return nil, err
	}
	return StayNumbers(records), nil
}
