package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/foch-qualite/sequad/internal/easily"
	"github.com/foch-qualite/sequad/internal/lifen"
	"github.com/foch-qualite/sequad/internal/shared/config"
	apperrors "github.com/foch-qualite/sequad/internal/shared/errors"
	"github.com/foch-qualite/sequad/internal/shared/metrics"
	"github.com/foch-qualite/sequad/internal/shared/tracing"
	"github.com/foch-qualite/sequad/internal/shared/types"
)

// Mode selects how a run picks its stays.
type Mode string

const (
	// ModeDates selects stays discharged in a period.
	ModeDates Mode = "dates"
	// ModeVenues selects the imported stay numbers.
	ModeVenues Mode = "venues"
)

// Query describes one reporting run.
type Query struct {
	Mode  Mode       `json:"mode"`
	Start types.Date `json:"start_date"`
	End   types.Date `json:"end_date"`
	// Specialties filters letters by service code.
	Specialties []string `json:"specialties,omitempty"`
	// Statuses and Channels filter diffusions.
	Statuses []string `json:"statuses,omitempty"`
	Channels []string `json:"channels,omitempty"`
	// ThresholdDays overrides the drill-down threshold.
	ThresholdDays *int     `json:"threshold_days,omitempty"`
	Join          JoinMode `json:"join,omitempty"`
}

// UnmarshalJSON reads a query body. Dates must be YYYY-MM-DD; any other
// spelling is reported as an invalid date naming its field.
func (q *Query) UnmarshalJSON(data []byte) error {
	type plain Query
	var body struct {
		plain
		Start *string `json:"start_date"`
		End   *string `json:"end_date"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return err
	}

	start, err := parseQueryDate("start_date", body.Start)
	if err != nil {
		return err
	}
	end, err := parseQueryDate("end_date", body.End)
	if err != nil {
		return err
	}
	*q = Query(body.plain)
	q.Start, q.End = start, end
	return nil
}

func parseQueryDate(field string, value *string) (types.Date, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return types.Date{}, nil
	}
	d, err := types.ParseDate(*value)
	if err != nil {
		return types.Date{}, apperrors.InvalidDate(field, *value)
	}
	return d, nil
}

// Validate checks q against the imported venues of state.
func (q Query) Validate(state State) error {
	switch q.Mode {
	case ModeVenues:
		if len(state.ImportedVenues) == 0 {
			return apperrors.InvalidQuery("venues", "import a venue file before running a venue report")
		}
	case ModeDates:
		if q.Start.IsZero() {
			return apperrors.InvalidQuery("start_date", "start_date is required")
		}
		if q.End.IsZero() {
			return apperrors.InvalidQuery("end_date", "end_date is required")
		}
		if q.End.Before(q.Start.Time) {
			return apperrors.InvalidQuery("end_date", "end_date must not be before start_date")
		}
	default:
		return apperrors.InvalidQuery("mode", fmt.Sprintf("unknown mode %q, expected dates or venues", q.Mode))
	}
	if q.ThresholdDays != nil && *q.ThresholdDays < 0 {
		return apperrors.InvalidQuery("threshold_days", "threshold_days must not be negative")
	}
	if _, ok := ParseJoinMode(string(q.Join)); !ok {
		return apperrors.InvalidQuery("join", fmt.Sprintf("unknown join %q, expected left or outer", q.Join))
	}
	return nil
}

// Describe renders q for report headers.
func (q Query) Describe() string {
	var parts []string
	if q.Mode == ModeVenues {
		parts = append(parts, "imported stays")
	} else {
		parts = append(parts, fmt.Sprintf("discharges from %s to %s", q.Start, q.End))
	}
	if len(q.Specialties) > 0 {
		parts = append(parts, "specialties "+strings.Join(q.Specialties, ", "))
	}
	if len(q.Statuses) > 0 {
		parts = append(parts, "statuses "+strings.Join(q.Statuses, ", "))
	}
	if len(q.Channels) > 0 {
		parts = append(parts, "channels "+strings.Join(q.Channels, ", "))
	}
	return strings.Join(parts, "; ")
}

// State is what a caller keeps between runs.
type State struct {
	ImportedVenues []int64        `json:"imported_venues"`
	ImportFile     string         `json:"import_file,omitempty"`
	LastQuery      *Query         `json:"last_query,omitempty"`
	LastRunID      types.ID       `json:"last_run_id,omitempty"`
	LastRunAt      *time.Time     `json:"last_run_at,omitempty"`
	Missing        *MissingVenues `json:"missing_venues,omitempty"`
}

// WithVenues returns s with a new venue import, forgetting stale missing venues.
func (s State) WithVenues(file string, venues []int64) State {
	s.ImportedVenues = append([]int64(nil), venues...)
	s.ImportFile = file
	s.Missing = nil
	return s
}

// WithoutVenues returns s with the venue import cleared.
func (s State) WithoutVenues() State {
	s.ImportedVenues = nil
	s.ImportFile = ""
	s.Missing = nil
	return s
}

// LetterSource fetches Easily letters.
type LetterSource interface {
	Letters(ctx context.Context, q easily.LetterQuery) ([]easily.StayRecord, error)
}

// DiffusionSource fetches Lifen diffusions.
type DiffusionSource interface {
	Documents(ctx context.Context, q lifen.DocumentQuery) ([]lifen.Document, error)
}

// Options configure a Pipeline.
type Options struct {
	Reconcile     ReconcileOptions
	Aggregate     AggregateOptions
	ThresholdDays int
}

// OptionsFrom reads pipeline options from configuration.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		Reconcile:     ReconcileOptions{AnomalyDays: cfg.Analysis.AnomalyThresholdDays, Join: JoinLeft},
		Aggregate:     AggregateOptions{ExcludeWeekends: cfg.Analysis.ExcludeWeekends},
		ThresholdDays: cfg.Analysis.DrilldownThresholdDays,
	}
}

// Pipeline runs one report: letters, then diffusions, then reconciliation
// and aggregation. It holds no state between runs.
type Pipeline struct {
	letters    LetterSource
	diffusions DiffusionSource
	opts       Options
	log        zerolog.Logger
	now        func() time.Time
}

// NewPipeline creates a pipeline over the two sources.
func NewPipeline(letters LetterSource, diffusions DiffusionSource, opts Options, log zerolog.Logger) *Pipeline {
	return &Pipeline{letters: letters, diffusions: diffusions, opts: opts, log: log, now: time.Now}
}

// Run executes q and returns the updated state with the report. Missing data
// is reported through Report.NoData and Report.Notices, not as an error. A
// failed run returns state unchanged.
func (p *Pipeline) Run(ctx context.Context, state State, q Query) (_ State, _ *Report, err error) {
	if err := q.Validate(state); err != nil {
		return state, nil, err
	}

	ctx, span := tracing.Start(ctx, "pipeline.run", attribute.String("mode", string(q.Mode)))
	defer func() { tracing.End(span, err) }()

	now := p.now()
	report := &Report{
		RunID:          types.NewID(),
		GeneratedAt:    now,
		Query:          q,
		Notices:        []string{},
		Stays:          []ReconciledStay{},
		AboveThreshold: []ReconciledStay{},
		Histogram:      []Bucket{},
		ThresholdDays:  p.opts.ThresholdDays,
	}
	if q.ThresholdDays != nil {
		report.ThresholdDays = *q.ThresholdDays
	}
	log := p.log.With().Str("run_id", report.RunID.String()).Str("mode", string(q.Mode)).Logger()

	letterQuery := easily.LetterQuery{Start: q.Start, End: q.End}
	if q.Mode == ModeVenues {
		letterQuery = easily.LetterQuery{Venues: state.ImportedVenues}
	}
	records, err := p.letters.Letters(ctx, letterQuery)
	if err != nil {
		return state, nil, err
	}
	metrics.RecordLetters(len(records))
	log.Info().Int("letters", len(records)).Msg("letters fetched")

	var docs []lifen.Document
	if q.Mode == ModeVenues {
		// Venue mode queries Lifen with the import itself so missing stays
		// are reported for both sources.
		docs, err = p.diffusions.Documents(ctx, lifen.DocumentQuery{Venues: state.ImportedVenues})
		if err != nil {
			return state, nil, err
		}
		missing := FindMissingVenues(state.ImportedVenues, records, docs)
		report.Missing = &missing
		if !missing.Empty() {
			report.Notices = append(report.Notices, fmt.Sprintf(
				"%d imported stays not found in Easily, %d not found in Lifen",
				len(missing.Easily), len(missing.Lifen)))
		}
	}

	records = filterLetters(records, q.Specialties)
	report.Letters = SummarizeLetters(records)

	next := state
	next.LastQuery = &q
	next.LastRunID = report.RunID
	next.LastRunAt = &now
	next.Missing = report.Missing

	if len(records) == 0 {
		report.NoData = true
		report.Notices = append(report.Notices, "No letters found in Easily for this query.")
		report.Aggregation = Aggregate(nil, p.opts.Aggregate)
		report.Sources = SourceCounts(nil)
		report.Diffusions = SummarizeDiffusions(nil, nil)
		log.Info().Msg("no letters, report is empty")
		return next, report, nil
	}

	if q.Mode == ModeDates {
		docs, err = p.diffusions.Documents(ctx, lifen.DocumentQuery{
			Venues: easily.StayNumbers(records),
			Start:  q.Start,
			End:    q.End,
		})
		if err != nil {
			return state, nil, err
		}
	}
	if len(q.Specialties) > 0 {
		// Lifen has no specialty: only diffusions of the kept letters' stays count.
		docs = diffusionsOf(docs, records)
	}
	docs = filterDiffusions(docs, q.Statuses, q.Channels)
	metrics.RecordDocuments(len(docs))
	if len(docs) == 0 {
		report.Notices = append(report.Notices, "No diffusions found in Lifen for these stays.")
	}

	opts := p.opts.Reconcile
	if q.Join != "" {
		opts.Join = q.Join
	}
	stays := Reconcile(records, docs, opts)
	for _, s := range stays {
		metrics.RecordReconciled(string(s.OptimalSource))
	}

	report.Stays = stays
	report.Diffusions = SummarizeDiffusions(docs, records)
	report.Aggregation = Aggregate(stays, p.opts.Aggregate)
	report.Histogram = Histogram(stays)
	report.Sources = SourceCounts(stays)
	report.AboveThreshold = AboveThreshold(stays, report.ThresholdDays)
	if report.Aggregation.NoData {
		report.NoData = true
		report.Notices = append(report.Notices, "No stay left after reconciliation.")
	}

	log.Info().
		Int("diffusions", len(docs)).
		Int("stays", len(stays)).
		Int("above_threshold", len(report.AboveThreshold)).
		Msg("report computed")
	return next, report, nil
}

func filterLetters(records []easily.StayRecord, specialties []string) []easily.StayRecord {
	if len(specialties) == 0 {
		return records
	}
	keep := toSet(specialties)
	out := make([]easily.StayRecord, 0, len(records))
	for _, r := range records {
		if keep[r.ServiceCode] {
			out = append(out, r)
		}
	}
	return out
}

// diffusionsOf keeps the diffusions of the stays of records.
func diffusionsOf(docs []lifen.Document, records []easily.StayRecord) []lifen.Document {
	stays := make(map[docKey]bool, len(records))
	for _, r := range records {
		stays[docKey{r.PatientID, r.StayNumber}] = true
	}
	out := make([]lifen.Document, 0, len(docs))
	for _, d := range docs {
		if stays[docKey{d.PatientID, d.StayNumber}] {
			out = append(out, d)
		}
	}
	return out
}

func filterDiffusions(docs []lifen.Document, statuses, channels []string) []lifen.Document {
	if len(statuses) == 0 && len(channels) == 0 {
		return docs
	}
	statusSet, channelSet := toSet(statuses), toSet(channels)
	out := make([]lifen.Document, 0, len(docs))
	for _, d := range docs {
		if len(statusSet) > 0 && !statusSet[d.SendStatus] {
			continue
		}
		if len(channelSet) > 0 && !channelSet[d.Channel] {
			continue
		}
		out = append(out, d)
	}
	return out
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
