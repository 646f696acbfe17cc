package lifen

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/foch-qualite/sequad/internal/easily"
	"github.com/foch-qualite/sequad/internal/shared/config"
	"github.com/foch-qualite/sequad/internal/shared/metrics"
	"github.com/foch-qualite/sequad/internal/shared/retry"
	"github.com/foch-qualite/sequad/internal/shared/types"
)

// VenueSource lists the stay numbers discharged in a period.
type VenueSource interface {
	VenueNumbers(ctx context.Context, start, end types.Date) ([]int64, error)
}

// DocumentStore runs one batch query.
type DocumentStore interface {
	FindByVenues(ctx context.Context, venues []int64) ([]Document, error)
}

// FetcherConfig sizes batches and chunks.
type FetcherConfig struct {
	BatchSize           int
	DirectThresholdDays int
	MaxChunks           int
	Tiers               []config.ChunkTier
	// Pause separates consecutive chunks.
	Pause time.Duration
	// Retry governs venue lookups and batch queries.
	Retry retry.Policy
}

// FetcherConfigFrom builds a FetcherConfig from the service configuration.
func FetcherConfigFrom(cfg *config.Config) FetcherConfig {
	return FetcherConfig{
		BatchSize:           cfg.Chunking.BatchSize,
		DirectThresholdDays: cfg.Chunking.DirectThresholdDays,
		MaxChunks:           cfg.Chunking.MaxChunks,
		Tiers:               cfg.Analysis.ChunkTiers,
		Pause:               cfg.Chunking.Pause,
		Retry:               retry.Linear(cfg.Upstream.RetryAttempts, cfg.Upstream.Timeout, cfg.Upstream.RetryDelay),
	}
}

// Summary describes how a fetch went.
type Summary struct {
	Strategy     string `json:"strategy"`
	Chunks       int    `json:"chunks"`
	FailedChunks int    `json:"failed_chunks"`
	Batches      int    `json:"batches"`
	Venues       int    `json:"venues"`
	Documents    int    `json:"documents"`
	Duplicates   int    `json:"duplicates"`
}

// Fetcher collects diffusion records in batches of stay numbers, splitting
// long periods into chunks fetched one after the other.
type Fetcher struct {
	store  DocumentStore
	venues VenueSource
	cfg    FetcherConfig
	log    zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewFetcher creates a new fetcher
func NewFetcher(store DocumentStore, venues VenueSource, cfg FetcherConfig, log zerolog.Logger) *Fetcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 150
	}
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = config.DefaultChunkTiers()
	}
	return &Fetcher{
		store:  store,
		venues: venues,
		cfg:    cfg,
		log:    log,
		sleep:  sleepContext,
	}
}

// ByVenues fetches the diffusions of explicit stay numbers. Invalid numbers
// are dropped. A batch that still fails after retries fails the call.
func (f *Fetcher) ByVenues(ctx context.Context, venues []int64) ([]Document, Summary, error) {
	venues = SortedVenues(venues)
	summary := Summary{Strategy: "venues", Venues: len(venues)}
	docs, batches, err := f.fetchBatches(ctx, venues)
	summary.Batches = batches
	if err != nil {
		return nil, summary, err
	}
	summary.Documents = len(docs)
	metrics.RecordDocuments(len(docs))
	return docs, summary, nil
}

// ByPeriod fetches the diffusions of the stays discharged in [start, end].
// Short periods use one venue lookup; longer ones are chunked. A failing
// chunk is logged, counted and skipped. Chunked results are deduplicated.
func (f *Fetcher) ByPeriod(ctx context.Context, start, end types.Date) ([]Document, Summary, error) {
	plan, err := NewPlan(start, end, f.cfg.Tiers, f.cfg.MaxChunks)
	if err != nil {
		return nil, Summary{}, err
	}

	if plan.DurationDays <= f.cfg.DirectThresholdDays {
		return f.direct(ctx, start, end)
	}

	summary := Summary{Strategy: plan.Strategy, Chunks: len(plan.Chunks)}
	f.log.Info().
		Str("strategy", plan.Strategy).
		Int("chunks", len(plan.Chunks)).
		Int("chunk_days", plan.ChunkDays).
		Msg("fetching period in chunks")

	var all []Document
	for i, chunk := range plan.Chunks {
		if i > 0 && f.cfg.Pause > 0 {
			if err := f.sleep(ctx, f.cfg.Pause); err != nil {
				return nil, summary, err
			}
		}

		docs, batches, venues, err := f.fetchChunk(ctx, chunk)
		summary.Batches += batches
		summary.Venues += venues
		if err != nil {
			if ctx.Err() != nil {
				return nil, summary, ctx.Err()
			}
			summary.FailedChunks++
			metrics.RecordChunk("failed")
			f.log.Error().Err(err).
				Int("chunk", i+1).
				Str("range", chunk.String()).
				Msg("chunk failed, skipping")
			continue
		}
		metrics.RecordChunk("ok")
		f.log.Info().
			Int("chunk", i+1).
			Str("range", chunk.String()).
			Int("documents", len(docs)).
			Msg("chunk fetched")
		all = append(all, docs...)
	}

	kept, duplicates := Dedup(all)
	summary.Documents = len(kept)
	summary.Duplicates = duplicates
	metrics.RecordDocuments(len(kept))

	f.log.Info().
		Int("chunks_ok", summary.Chunks-summary.FailedChunks).
		Int("chunks", summary.Chunks).
		Int("documents", len(kept)).
		Int("duplicates", duplicates).
		Msg("period fetched")
	return kept, summary, nil
}

func (f *Fetcher) direct(ctx context.Context, start, end types.Date) ([]Document, Summary, error) {
	summary := Summary{Strategy: "direct", Chunks: 1}
	venues, err := f.lookupVenues(ctx, start, end)
	if err != nil {
		return nil, summary, err
	}
	summary.Venues = len(venues)
	if len(venues) == 0 {
		return []Document{}, summary, nil
	}

	docs, batches, err := f.fetchBatches(ctx, venues)
	summary.Batches = batches
	if err != nil {
		return nil, summary, err
	}
	summary.Documents = len(docs)
	metrics.RecordDocuments(len(docs))
	return docs, summary, nil
}

func (f *Fetcher) fetchChunk(ctx context.Context, chunk Chunk) ([]Document, int, int, error) {
	venues, err := f.lookupVenues(ctx, chunk.Start, chunk.End)
	if err != nil {
		return nil, 0, 0, err
	}
	if len(venues) == 0 {
		return nil, 0, 0, nil
	}
	docs, batches, err := f.fetchBatches(ctx, venues)
	return docs, batches, len(venues), err
}

func (f *Fetcher) lookupVenues(ctx context.Context, start, end types.Date) ([]int64, error) {
	venues, err := retry.Do(ctx, f.cfg.Retry, easily.Target, func(ctx context.Context) ([]int64, error) {
		return f.venues.VenueNumbers(ctx, start, end)
	})
	if err != nil {
		return nil, err
	}
	return SortedVenues(venues), nil
}

// fetchBatches queries venues batch by batch and concatenates the results.
func (f *Fetcher) fetchBatches(ctx context.Context, venues []int64) ([]Document, int, error) {
	batches := Batches(venues, f.cfg.BatchSize)
	var docs []Document
	for i, batch := range batches {
		rows, err := retry.Do(ctx, f.cfg.Retry, DBTarget, func(ctx context.Context) ([]Document, error) {
			return f.store.FindByVenues(ctx, batch)
		})
		if err != nil {
			f.log.Error().Err(err).
				Int("batch", i+1).
				Int("batches", len(batches)).
				Int("venues", len(batch)).
				Msg("batch failed")
			return nil, i + 1, err
		}
		f.log.Debug().
			Int("batch", i+1).
			Int("batches", len(batches)).
			Int("documents", len(rows)).
			Msg("batch fetched")
		docs = append(docs, rows...)
	}
	if docs == nil {
		docs = []Document{}
	}
	return docs, len(batches), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
