package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/foch-qualite/sequad/internal/easily"
	"github.com/foch-qualite/sequad/internal/lifen"
	apperrors "github.com/foch-qualite/sequad/internal/shared/errors"
)

type fakeLetters struct {
	records []easily.StayRecord
	err     error
	queries []easily.LetterQuery
}

func (f *fakeLetters) Letters(ctx context.Context, q easily.LetterQuery) ([]easily.StayRecord, error) {
	f.queries = append(f.queries, q)
	return f.records, f.err
}

type fakeDiffusions struct {
	docs    []lifen.Document
	err     error
	queries []lifen.DocumentQuery
}

func (f *fakeDiffusions) Documents(ctx context.Context, q lifen.DocumentQuery) ([]lifen.Document, error) {
	f.queries = append(f.queries, q)
	return f.docs, f.err
}

func testPipeline(letters *fakeLetters, diffusions *fakeDiffusions) *Pipeline {
	return NewPipeline(letters, diffusions, Options{
		Reconcile:     DefaultReconcileOptions(),
		Aggregate:     AggregateOptions{ExcludeWeekends: true},
		ThresholdDays: 30,
	}, zerolog.Nop())
}

func datesQuery() Query {
	return Query{Mode: ModeDates, Start: ts("2024-01-01").Date(), End: ts("2024-01-31").Date()}
}

func TestRunDates(t *testing.T) {
	neuro := letter("P2", 7, 20, "2024-01-10", "2024-01-10", "")
	neuro.ServiceCode = "NEURO"
	letters := &fakeLetters{records: []easily.StayRecord{
		letter("P1", 5, 10, "2024-01-10", "2024-01-10", ""),
		neuro,
		letter("P3", 0, 30, "2024-01-10", "2024-01-10", ""),
	}}
	late := diffusion("P1", 5, "2024-03-01")
	late.Channel, late.SendStatus = "MSSANTE", lifen.StatusSuccess
	diffusions := &fakeDiffusions{docs: []lifen.Document{late}}
	p := testPipeline(letters, diffusions)

	state, report, err := p.Run(context.Background(), State{}, datesQuery())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	q := diffusions.queries[0]
	if !reflect.DeepEqual(q.Venues, []int64{5, 7}) || q.Start.String() != "2024-01-01" || q.End.String() != "2024-01-31" {
		t.Errorf("Unexpected Lifen query %+v", q)
	}
	if report.NoData || len(report.Stays) != 3 {
		t.Fatalf("Expected 3 stays, got %d (no data %v)", len(report.Stays), report.NoData)
	}
	if len(report.AboveThreshold) != 1 || report.AboveThreshold[0].PatientID != "P1" {
		t.Errorf("Expected P1 above the 30-day threshold, got %+v", report.AboveThreshold)
	}
	if report.Sources[SourceLifen] != 1 || report.Sources[SourceNone] != 2 {
		t.Errorf("Unexpected sources %v", report.Sources)
	}
	if report.Missing != nil {
		t.Error("Expected no missing venues in date mode")
	}
	if state.LastQuery == nil || state.LastRunID != report.RunID || state.LastRunAt == nil {
		t.Errorf("Expected state to record the run, got %+v", state)
	}
}

func TestRunFilters(t *testing.T) {
	neuro := letter("P2", 7, 20, "2024-01-10", "2024-01-10", "")
	neuro.ServiceCode = "NEURO"
	letters := &fakeLetters{records: []easily.StayRecord{
		letter("P1", 5, 10, "2024-01-10", "2024-01-10", ""),
		neuro,
	}}
	mail := diffusion("P1", 5, "2024-01-11")
	mail.Channel = "MSSANTE"
	post := diffusion("P1", 5, "2024-01-10")
	post.Channel = "COURRIER"
	diffusions := &fakeDiffusions{docs: []lifen.Document{post, mail}}
	p := testPipeline(letters, diffusions)

	q := datesQuery()
	q.Specialties = []string{"CARDIO"}
	q.Channels = []string{"MSSANTE"}
	_, report, err := p.Run(context.Background(), State{}, q)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !reflect.DeepEqual(diffusions.queries[0].Venues, []int64{5}) {
		t.Errorf("Expected filtered stays to drive the Lifen query, got %v", diffusions.queries[0].Venues)
	}
	if len(report.Stays) != 1 || *report.Stays[0].DelayDiffusionDischarge != 1 {
		t.Errorf("Expected only the MSSANTE diffusion to count, got %+v", report.Stays)
	}
	if report.Letters.Letters != 1 || report.Diffusions.Diffusions != 1 {
		t.Errorf("Expected summaries over filtered data, got %d letters and %d diffusions",
			report.Letters.Letters, report.Diffusions.Diffusions)
	}
}

func TestRunVenues(t *testing.T) {
	letters := &fakeLetters{records: []easily.StayRecord{
		letter("P1", 1, 10, "2024-01-10", "2024-01-10", ""),
		letter("P2", 2, 20, "2024-01-10", "2024-01-10", ""),
	}}
	diffusions := &fakeDiffusions{docs: []lifen.Document{
		diffusion("P1", 1, "2024-01-11"),
		diffusion("P3", 3, "2024-01-11"),
	}}
	p := testPipeline(letters, diffusions)
	state := State{}.WithVenues("venues.txt", []int64{1, 2, 3})

	state, report, err := p.Run(context.Background(), state, Query{Mode: ModeVenues})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !reflect.DeepEqual(letters.queries[0].Venues, []int64{1, 2, 3}) {
		t.Errorf("Expected Easily to be queried with the import, got %+v", letters.queries[0])
	}
	if q := diffusions.queries[0]; !reflect.DeepEqual(q.Venues, []int64{1, 2, 3}) || q.HasPeriod() {
		t.Errorf("Expected Lifen to be queried with the import only, got %+v", q)
	}
	expected := MissingVenues{Easily: []int64{3}, Lifen: []int64{2}, Both: []int64{}}
	if report.Missing == nil || !reflect.DeepEqual(*report.Missing, expected) {
		t.Errorf("Expected missing %+v, got %+v", expected, report.Missing)
	}
	if state.Missing == nil || len(report.Notices) != 1 {
		t.Errorf("Expected missing venues in state and a notice, got %+v and %v", state.Missing, report.Notices)
	}
	if len(report.Stays) != 2 {
		t.Errorf("Expected 2 stays, got %d", len(report.Stays))
	}
}

func TestRunSpecialtyFilterWithOuterJoin(t *testing.T) {
	neuro := letter("P2", 7, 20, "2024-01-10", "2024-01-10", "")
	neuro.ServiceCode = "NEURO"
	letters := &fakeLetters{records: []easily.StayRecord{
		letter("P1", 5, 10, "2024-01-10", "2024-01-10", ""),
		neuro,
	}}
	lifenDoc := func(patient string, stay int64) lifen.Document {
		d := diffusion(patient, stay, "2024-01-11")
		d.DischargeDate = ts("2024-01-10")
		d.StayType = "HC"
		return d
	}
	diffusions := &fakeDiffusions{docs: []lifen.Document{
		lifenDoc("P1", 5),
		lifenDoc("P2", 7),
		lifenDoc("P3", 9),
	}}
	state := State{}.WithVenues("venues.txt", []int64{5, 7, 9})

	tests := []struct {
		name        string
		specialties []string
		expected    []int64
		diffusions  int
	}{
		{"no filter", nil, []int64{5, 7, 9}, 3},
		{"cardio only", []string{"CARDIO"}, []int64{5}, 1},
		{"neuro only", []string{"NEURO"}, []int64{7}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testPipeline(letters, diffusions)
			q := Query{Mode: ModeVenues, Specialties: tt.specialties, Join: JoinOuter}

			_, report, err := p.Run(context.Background(), state, q)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}

			var got []int64
			for _, s := range report.Stays {
				got = append(got, s.StayNumber)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Expected stays %v, got %v", tt.expected, got)
			}
			if report.Diffusions.Diffusions != tt.diffusions {
				t.Errorf("Expected %d diffusions, got %d", tt.diffusions, report.Diffusions.Diffusions)
			}
		})
	}
}

func TestRunNoLetters(t *testing.T) {
	diffusions := &fakeDiffusions{}
	p := testPipeline(&fakeLetters{}, diffusions)

	state, report, err := p.Run(context.Background(), State{}, datesQuery())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !report.NoData || len(report.Notices) != 1 {
		t.Errorf("Expected no-data report with a notice, got %+v", report)
	}
	if len(diffusions.queries) != 0 {
		t.Error("Expected Lifen not to be queried without letters")
	}
	if state.LastQuery == nil {
		t.Error("Expected the query to be remembered")
	}
}

func TestRunValidation(t *testing.T) {
	negative := -1
	tests := []struct {
		name  string
		state State
		query Query
		field string
	}{
		{"venues without import", State{}, Query{Mode: ModeVenues}, "venues"},
		{"missing start", State{}, Query{Mode: ModeDates, End: ts("2024-01-31").Date()}, "start_date"},
		{"missing end", State{}, Query{Mode: ModeDates, Start: ts("2024-01-01").Date()}, "end_date"},
		{"reversed", State{}, Query{Mode: ModeDates, Start: ts("2024-02-01").Date(), End: ts("2024-01-01").Date()}, "end_date"},
		{"unknown mode", State{}, Query{Mode: "weekly"}, "mode"},
		{"negative threshold", State{}, Query{Mode: ModeDates, Start: ts("2024-01-01").Date(), End: ts("2024-01-01").Date(), ThresholdDays: &negative}, "threshold_days"},
		{"unknown join", State{}, Query{Mode: ModeDates, Start: ts("2024-01-01").Date(), End: ts("2024-01-01").Date(), Join: "inner"}, "join"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			letters := &fakeLetters{}
			p := testPipeline(letters, &fakeDiffusions{})
			_, _, err := p.Run(context.Background(), tt.state, tt.query)
			appErr, ok := apperrors.As(err)
			if !ok || !errors.Is(err, apperrors.ErrInvalidQuery) {
				t.Fatalf("Expected invalid query, got %v", err)
			}
			if appErr.Details["field"] != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, appErr.Details["field"])
			}
			if len(letters.queries) != 0 {
				t.Error("Expected no upstream call")
			}
		})
	}
}

func TestRunUpstreamError(t *testing.T) {
	letters := &fakeLetters{records: []easily.StayRecord{letter("P1", 1, 10, "2024-01-10", "2024-01-10", "")}}
	diffusions := &fakeDiffusions{err: apperrors.Upstream(lifen.Target, 502, "bad gateway", nil)}
	p := testPipeline(letters, diffusions)

	state, report, err := p.Run(context.Background(), State{ImportFile: "keep.csv"}, datesQuery())
	if !errors.Is(err, apperrors.ErrUpstream) {
		t.Errorf("Expected upstream error, got %v", err)
	}
	if report != nil || state.ImportFile != "keep.csv" || state.LastQuery != nil {
		t.Errorf("Expected state untouched on failure, got %+v", state)
	}
}

func TestStateVenues(t *testing.T) {
	venues := []int64{1, 2}
	s := State{Missing: &MissingVenues{}}.WithVenues("a.csv", venues)
	venues[0] = 99
	if s.ImportedVenues[0] != 1 || s.Missing != nil || s.ImportFile != "a.csv" {
		t.Errorf("Unexpected state %+v", s)
	}
	s = s.WithoutVenues()
	if len(s.ImportedVenues) != 0 || s.ImportFile != "" {
		t.Errorf("Expected cleared import, got %+v", s)
	}
}

func TestQueryUnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		start   string
		field   string
		wantErr error
	}{
		{"iso dates", `{"mode":"dates","start_date":"2024-01-01","end_date":"2024-01-31","join":"outer"}`, "2024-01-01", "", nil},
		{"null dates", `{"mode":"venues","start_date":null}`, "", "", nil},
		{"day-first start", `{"mode":"dates","start_date":"13/01/2024","end_date":"2024-01-31"}`, "", "start_date", apperrors.ErrInvalidDate},
		{"month-first end", `{"mode":"dates","start_date":"2024-01-01","end_date":"01/31/2024"}`, "", "end_date", apperrors.ErrInvalidDate},
		{"timestamp", `{"mode":"dates","start_date":"2024-01-01T10:00:00","end_date":"2024-01-31"}`, "", "start_date", apperrors.ErrInvalidDate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var q Query
			err := json.Unmarshal([]byte(tt.body), &q)
			if tt.wantErr != nil {
				appErr, ok := apperrors.As(err)
				if !ok || !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v", tt.wantErr, err)
				}
				if appErr.Details["field"] != tt.field {
					t.Errorf("Expected field %s, got %s", tt.field, appErr.Details["field"])
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if q.Start.String() != tt.start {
				t.Errorf("Expected start %q, got %q", tt.start, q.Start.String())
			}
		})
	}
}
