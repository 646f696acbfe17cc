package lifen

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/foch-qualite/sequad/internal/shared/metrics"
	"github.com/foch-qualite/sequad/internal/shared/retry"
	"github.com/foch-qualite/sequad/internal/shared/tracing"
	"github.com/foch-qualite/sequad/internal/shared/upstream"
)

// Target is the upstream name of the Lifen service.
const Target = "lifen"

// Client calls the Lifen diffusion service.
type Client struct {
	http   *upstream.Client
	policy retry.Policy
	log    zerolog.Logger
}

// NewClient creates a new Lifen client. policy governs retries of each call.
func NewClient(cfg upstream.Config, policy retry.Policy, log zerolog.Logger) *Client {
	if cfg.Target == "" {
		cfg.Target = Target
	}
	return &Client{http: upstream.New(cfg), policy: policy, log: log}
}

// Documents fetches the diffusions selected by q. Stay numbers that are not
// positive are dropped; with none left the result is empty.
func (c *Client) Documents(ctx context.Context, q DocumentQuery) (docs []Document, err error) {
	q.Venues = SortedVenues(q.Venues)
	if len(q.Venues) == 0 {
		return []Document{}, nil
	}

	ctx, span := tracing.Start(ctx, "lifen.documents",
		attribute.Int("venues", len(q.Venues)),
		attribute.Bool("period", q.HasPeriod()),
	)
	defer func() { tracing.End(span, err) }()

	rows, err := retry.Do(ctx, c.policy, Target, func(ctx context.Context) ([]json.RawMessage, error) {
		return c.http.GetRows(ctx, "/diffusion/data", q.Values())
	})
	if err != nil {
		return nil, err
	}

	docs = make([]Document, 0, len(rows))
	dropped := 0
	for i, raw := range rows {
		var d Document
		if err := json.Unmarshal(raw, &d); err != nil {
			dropped++
			c.log.Warn().Err(err).Int("row", i).Msg("dropping undecodable diffusion row")
			continue
		}
		docs = append(docs, d)
	}

	metrics.RecordDroppedRows(Target, dropped)
	c.log.Debug().Int("rows", len(rows)).Int("dropped", dropped).Msg("diffusions received")
	return docs, nil
}

// Metadata fetches the chunk plan preview of a period.
func (c *Client) Metadata(ctx context.Context, q DocumentQuery) (*Metadata, error) {
	params := q.Values()
	params.Del("num_venues")

	var m Metadata
	if err := c.http.GetJSON(ctx, "/diffusion/metadata", params, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
