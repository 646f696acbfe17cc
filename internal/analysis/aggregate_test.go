package analysis

import (
	"math"
	"reflect"
	"testing"

	"github.com/foch-qualite/sequad/internal/easily"
	"github.com/foch-qualite/sequad/internal/lifen"
)

func stay(service string, validationDischarge, diffusionDischarge *int) ReconciledStay {
	return ReconciledStay{
		ServiceCode:              service,
		DelayValidationDischarge: validationDischarge,
		DelayDiffusionDischarge:  diffusionDischarge,
	}
}

func near(p *float64, want float64) bool {
	return p != nil && math.Abs(*p-want) < 1e-9
}

func TestAggregateByService(t *testing.T) {
	stays := []ReconciledStay{
		stay("NEURO", nil, nil),
		stay("CARDIO", intp(0), intp(2)),
		stay("CARDIO", intp(1), intp(10)),
		stay("CARDIO", intp(0), intp(4)),
	}

	agg := Aggregate(stays, AggregateOptions{})
	if agg.NoData {
		t.Fatal("Expected data")
	}
	if len(agg.Services) != 2 || agg.Services[0].Service != "CARDIO" {
		t.Fatalf("Expected services sorted by name, got %+v", agg.Services)
	}

	cardio := agg.Services[0]
	if cardio.Total != 3 || cardio.SameDay != 2 {
		t.Errorf("Expected 3 stays with 2 same-day, got %d and %d", cardio.Total, cardio.SameDay)
	}
	if math.Abs(cardio.SameDayPercent-200.0/3) > 1e-9 {
		t.Errorf("Expected 66.67%%, got %f", cardio.SameDayPercent)
	}
	if !near(cardio.MeanDelay, 16.0/3) || !near(cardio.MedianDelay, 4) {
		t.Errorf("Unexpected overall delays %v %v", *cardio.MeanDelay, *cardio.MedianDelay)
	}
	if !near(cardio.SameDayMean, 3) || !near(cardio.SameDayMedian, 3) {
		t.Errorf("Unexpected same-day delays %v %v", *cardio.SameDayMean, *cardio.SameDayMedian)
	}

	neuro := agg.Services[1]
	if neuro.Total != 1 || neuro.SameDay != 0 || neuro.MeanDelay != nil || neuro.SameDayMedian != nil {
		t.Errorf("Unexpected stats for a stay without delays %+v", neuro)
	}
}

func TestAggregateDiffusionValidation(t *testing.T) {
	withValidation := func(validation string, d int) ReconciledStay {
		return ReconciledStay{ServiceCode: "X", ValidationDate: ts(validation), DelayDiffusionValidation: intp(d)}
	}
	stays := []ReconciledStay{
		withValidation("2024-01-01", 1), // Monday
		withValidation("2024-01-02", 5),
		withValidation("2024-01-03", 2),
		withValidation("2024-01-06", 40), // Saturday
		withValidation("2024-01-07", 30), // Sunday
		{ServiceCode: "X"},
	}

	all := Aggregate(stays, AggregateOptions{})
	if got := all.DiffusionValidation; got == nil || got.Count != 5 || got.Max != 40 || got.Median != 5 {
		t.Errorf("Unexpected stats with weekends %+v", got)
	}

	weekdays := Aggregate(stays, AggregateOptions{ExcludeWeekends: true})
	got := weekdays.DiffusionValidation
	if got == nil {
		t.Fatal("Expected weekday statistics")
	}
	expected := DelayStats{Count: 3, Mean: 8.0 / 3, Median: 2, Min: 1, Max: 5}
	if got.Count != expected.Count || got.Min != expected.Min || got.Max != expected.Max ||
		math.Abs(got.Mean-expected.Mean) > 1e-9 || got.Median != expected.Median {
		t.Errorf("Expected %+v, got %+v", expected, *got)
	}
	if weekdays.WeekendExcluded != 2 {
		t.Errorf("Expected 2 weekend validations excluded, got %d", weekdays.WeekendExcluded)
	}
}

func TestAggregateEmpty(t *testing.T) {
	agg := Aggregate(nil, AggregateOptions{ExcludeWeekends: true})
	if !agg.NoData || len(agg.Services) != 0 || agg.DiffusionValidation != nil {
		t.Errorf("Expected an explicit no-data result, got %+v", agg)
	}
}

func TestAboveThreshold(t *testing.T) {
	stays := []ReconciledStay{
		stay("A", nil, intp(30)),
		stay("B", nil, intp(31)),
		stay("C", nil, nil),
		stay("D", nil, intp(45)),
	}

	got := AboveThreshold(stays, 30)
	if len(got) != 2 || got[0].ServiceCode != "B" || got[1].ServiceCode != "D" {
		t.Errorf("Expected B and D, got %+v", got)
	}
	if got := AboveThreshold(nil, 30); got == nil || len(got) != 0 {
		t.Errorf("Expected an empty list, got %v", got)
	}
}

func TestHistogramAndSources(t *testing.T) {
	stays := []ReconciledStay{
		{OptimalSource: SourceLifen, DelayDiffusionDischarge: intp(2)},
		{OptimalSource: SourceEasily, DelayDiffusionDischarge: intp(-1)},
		{OptimalSource: SourceLifen, DelayDiffusionDischarge: intp(2)},
		{OptimalSource: SourceNone},
	}

	expected := []Bucket{{Days: -1, Count: 1}, {Days: 2, Count: 2}}
	if got := Histogram(stays); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected %v, got %v", expected, got)
	}

	counts := SourceCounts(stays)
	if counts[SourceLifen] != 2 || counts[SourceEasily] != 1 || counts[SourceNone] != 1 {
		t.Errorf("Unexpected source counts %v", counts)
	}
}

func TestSummarizeLetters(t *testing.T) {
	records := []easily.StayRecord{
		{PatientID: "P1", ServiceCode: "CARDIO", Month: "February", Year: 2024, DischargeDate: ts("2024-02-03"), DaysToValidation: 2},
		{PatientID: "P1", ServiceCode: "NEURO", Month: "January", Year: 2024, DischargeDate: ts("2024-01-20"), DaysToValidation: 0},
		{PatientID: "P2", ServiceCode: "NEURO", Month: "January", Year: 2024, DischargeDate: ts("2024-01-21"), DaysToValidation: 4},
	}

	s := SummarizeLetters(records)
	if s.Letters != 3 || s.UniquePatients != 2 || !near(s.MeanDaysToValidation, 2) {
		t.Errorf("Unexpected totals %+v", s)
	}
	if !reflect.DeepEqual(s.BySpecialty, []Count{{"NEURO", 2}, {"CARDIO", 1}}) {
		t.Errorf("Unexpected specialties %v", s.BySpecialty)
	}
	if !reflect.DeepEqual(s.ByMonth, []Count{{"January", 2}, {"February", 1}}) {
		t.Errorf("Expected chronological months, got %v", s.ByMonth)
	}
}

func TestSummarizeDiffusions(t *testing.T) {
	records := []easily.StayRecord{
		{StayNumber: 1, ServiceCode: "CARDIO"},
		{StayNumber: 2, ServiceCode: "NEURO"},
		{StayNumber: 3, ServiceCode: "NEURO"},
		{StayNumber: 4, ServiceCode: "NEURO"},
	}
	docs := []lifen.Document{
		{StayNumber: 1, Channel: "MSSANTE", SendStatus: lifen.StatusSuccess, RecipientRole: lifen.RolePatient},
		{StayNumber: 1, Channel: "COURRIER", SendStatus: "Echec", RecipientRole: "Médecin"},
		{StayNumber: 2, Channel: "MSSANTE", SendStatus: lifen.StatusSuccess, RecipientRole: lifen.RolePatient},
		{StayNumber: 9, Channel: "MSSANTE", SendStatus: lifen.StatusSuccess, RecipientRole: lifen.RolePatient},
	}

	s := SummarizeDiffusions(docs, records)
	if s.Diffusions != 4 || s.SuccessRate != 75 {
		t.Errorf("Unexpected totals %+v", s)
	}
	// Stays 1, 2 and 9 have diffusions out of 4 Easily stays.
	if s.StayCoverage != 75 {
		t.Errorf("Expected 75%% coverage, got %f", s.StayCoverage)
	}
	if !reflect.DeepEqual(s.ByChannel, []Count{{"MSSANTE", 3}, {"COURRIER", 1}}) {
		t.Errorf("Unexpected channels %v", s.ByChannel)
	}
	expected := []CrossCount{
		{Specialty: "CARDIO", Channel: "COURRIER", Count: 1},
		{Specialty: "CARDIO", Channel: "MSSANTE", Count: 1},
		{Specialty: "NEURO", Channel: "MSSANTE", Count: 1},
	}
	if !reflect.DeepEqual(s.SpecialtyChannel, expected) {
		t.Errorf("Expected %v, got %v", expected, s.SpecialtyChannel)
	}
}

func TestFindMissingVenues(t *testing.T) {
	records := []easily.StayRecord{{StayNumber: 1}, {StayNumber: 2}}
	docs := []lifen.Document{{StayNumber: 1}, {StayNumber: 3}}

	m := FindMissingVenues([]int64{4, 3, 2, 1}, records, docs)
	if !reflect.DeepEqual(m.Easily, []int64{3, 4}) || !reflect.DeepEqual(m.Lifen, []int64{2, 4}) ||
		!reflect.DeepEqual(m.Both, []int64{4}) {
		t.Errorf("Unexpected missing venues %+v", m)
	}
	if m.Empty() {
		t.Error("Expected missing venues")
	}
}
