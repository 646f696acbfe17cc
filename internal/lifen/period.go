package lifen

import (
	"fmt"

	"github.com/foch-qualite/sequad/internal/shared/config"
	apperrors "github.com/foch-qualite/sequad/internal/shared/errors"
	"github.com/foch-qualite/sequad/internal/shared/types"
)

// secondsPerDay is the rough fetch cost of one day of data.
const secondsPerDay = 0.3

// Chunk is an inclusive date range.
type Chunk struct {
	Start types.Date `json:"start"`
	End   types.Date `json:"end"`
}

// Days returns the number of calendar days covered by c.
func (c Chunk) Days() int {
	return c.Start.DaysUntil(c.End) + 1
}

func (c Chunk) String() string {
	return fmt.Sprintf("%s..%s", c.Start, c.End)
}

// Plan splits a period into contiguous, non-overlapping chunks.
type Plan struct {
	Start        types.Date
	End          types.Date
	DurationDays int
	Strategy     string
	ChunkDays    int
	Chunks       []Chunk
}

// NewPlan sizes the chunks of [start, end] from the first tier whose
// MaxDays covers the duration (MaxDays 0 matches any duration). When more
// than maxChunks chunks would be needed, the chunks are widened instead.
func NewPlan(start, end types.Date, tiers []config.ChunkTier, maxChunks int) (Plan, error) {
	if start.IsZero() || end.IsZero() {
		return Plan{}, apperrors.InvalidQuery("start_date", "start_date and end_date are required")
	}
	if end.Before(start.Time) {
		return Plan{}, apperrors.InvalidQuery("end_date", "end_date must not be before start_date")
	}
	if len(tiers) == 0 {
		tiers = config.DefaultChunkTiers()
	}

	duration := start.DaysUntil(end)
	span := duration + 1

	tier := tiers[len(tiers)-1]
	for _, t := range tiers {
		if t.MaxDays == 0 || duration <= t.MaxDays {
			tier = t
			break
		}
	}

	size := tier.ChunkDays
	if size <= 0 || size > span {
		size = span
	}
	if maxChunks > 0 && ceilDiv(span, size) > maxChunks {
		size = ceilDiv(span, maxChunks)
	}

	plan := Plan{
		Start:        start,
		End:          end,
		DurationDays: duration,
		Strategy:     tier.Name,
		ChunkDays:    size,
	}
	for cur := start; !cur.After(end.Time); cur = cur.AddDays(size) {
		last := cur.AddDays(size - 1)
		if last.After(end.Time) {
			last = end
		}
		plan.Chunks = append(plan.Chunks, Chunk{Start: cur, End: last})
	}
	return plan, nil
}

// EstimatedSeconds is the expected fetch time of the plan.
func (p Plan) EstimatedSeconds() float64 {
	return float64(p.DurationDays) * secondsPerDay
}

// Metadata is the wire preview of a plan.
type Metadata struct {
	Period struct {
		StartDate    types.Date `json:"start_date"`
		EndDate      types.Date `json:"end_date"`
		DurationDays int        `json:"duration_days"`
	} `json:"period"`
	Strategy struct {
		Type                 string  `json:"type"`
		NumChunks            int     `json:"num_chunks"`
		ChunkSizeDays        int     `json:"chunk_size_days"`
		EstimatedTimeSeconds float64 `json:"estimated_time_seconds"`
	} `json:"strategy"`
	Chunks []Chunk `json:"chunks"`
}

// Metadata renders the plan preview.
func (p Plan) Metadata() Metadata {
	var m Metadata
	m.Period.StartDate = p.Start
	m.Period.EndDate = p.End
	m.Period.DurationDays = p.DurationDays
	m.Strategy.Type = p.Strategy
	m.Strategy.NumChunks = len(p.Chunks)
	m.Strategy.ChunkSizeDays = p.ChunkDays
	m.Strategy.EstimatedTimeSeconds = p.EstimatedSeconds()
	m.Chunks = p.Chunks
	return m
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
