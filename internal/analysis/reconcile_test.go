package analysis

import (
	"reflect"
	"testing"

	"github.com/foch-qualite/sequad/internal/easily"
	"github.com/foch-qualite/sequad/internal/lifen"
	"github.com/foch-qualite/sequad/internal/shared/types"
)

func ts(s string) types.Timestamp {
	if s == "" {
		return types.Timestamp{}
	}
	t, err := types.ParseTimestamp(s)
	if err != nil {
		panic(err)
	}
	return t
}

func intp(n int) *int { return &n }

func letter(patient string, stay, fiche int64, discharge, validation, diffusion string) easily.StayRecord {
	return easily.StayRecord{
		PatientID:      patient,
		StayNumber:     stay,
		DocumentID:     fiche,
		ServiceCode:    "CARDIO",
		DischargeDate:  ts(discharge),
		ValidationDate: ts(validation),
		DiffusionDate:  ts(diffusion),
	}
}

func diffusion(patient string, stay int64, sent string) lifen.Document {
	return lifen.Document{
		PatientID:     patient,
		StayNumber:    stay,
		RecipientRole: lifen.RolePatient,
		SentAt:        ts(sent),
	}
}

func delay(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func TestReconcileScenarios(t *testing.T) {
	tests := []struct {
		name      string
		stays     []easily.StayRecord
		docs      []lifen.Document
		source    Source
		optimal   string
		diffDelay *int
	}{
		{
			name:      "easily closer than lifen",
			stays:     []easily.StayRecord{letter("P1", 1, 10, "2024-01-10", "2024-01-10", "2024-01-09")},
			docs:      []lifen.Document{diffusion("P1", 1, "2024-01-15")},
			source:    SourceEasily,
			optimal:   "2024-01-09",
			diffDelay: intp(-1),
		},
		{
			name:      "only lifen has a date",
			stays:     []easily.StayRecord{letter("P1", 1, 10, "2024-01-10", "2024-01-10", "")},
			docs:      []lifen.Document{diffusion("P1", 1, "2024-01-12T09:30:00")},
			source:    SourceLifen,
			optimal:   "2024-01-12T09:30:00",
			diffDelay: intp(2),
		},
		{
			name:      "lifen wins a tie",
			stays:     []easily.StayRecord{letter("P1", 1, 10, "2024-01-10", "2024-01-10", "2024-01-12")},
			docs:      []lifen.Document{diffusion("P1", 1, "2024-01-08")},
			source:    SourceLifen,
			optimal:   "2024-01-08",
			diffDelay: intp(-2),
		},
		{
			name:      "no date anywhere",
			stays:     []easily.StayRecord{letter("P1", 1, 10, "2024-01-10", "2024-01-10", "")},
			docs:      nil,
			source:    SourceNone,
			diffDelay: nil,
		},
		{
			name:  "non patient recipient ignored",
			stays: []easily.StayRecord{letter("P1", 1, 10, "2024-01-10", "2024-01-10", "")},
			docs: []lifen.Document{{
				PatientID: "P1", StayNumber: 1, RecipientRole: "Médecin traitant", SentAt: ts("2024-01-11"),
			}},
			source: SourceNone,
		},
		{
			name:      "closest of several diffusions",
			stays:     []easily.StayRecord{letter("P1", 1, 10, "2024-01-10", "2024-01-10", "")},
			docs:      []lifen.Document{diffusion("P1", 1, "2024-01-20"), diffusion("P1", 1, "2024-01-12")},
			source:    SourceLifen,
			optimal:   "2024-01-12",
			diffDelay: intp(2),
		},
		{
			name:      "equal diffusions keep input order",
			stays:     []easily.StayRecord{letter("P1", 1, 10, "2024-01-10", "2024-01-10", "")},
			docs:      []lifen.Document{diffusion("P1", 1, "2024-01-08"), diffusion("P1", 1, "2024-01-12")},
			source:    SourceLifen,
			optimal:   "2024-01-08",
			diffDelay: intp(-2),
		},
		{
			name:      "other patient does not join",
			stays:     []easily.StayRecord{letter("P1", 1, 10, "2024-01-10", "2024-01-10", "")},
			docs:      []lifen.Document{diffusion("P2", 1, "2024-01-11")},
			source:    SourceNone,
			diffDelay: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Reconcile(tt.stays, tt.docs, DefaultReconcileOptions())
			if len(out) != 1 {
				t.Fatalf("Expected 1 stay, got %d", len(out))
			}
			got := out[0]
			if got.OptimalSource != tt.source {
				t.Errorf("Expected source %s, got %s", tt.source, got.OptimalSource)
			}
			if got.OptimalDiffusionDate.String() != ts(tt.optimal).String() {
				t.Errorf("Expected optimal date %q, got %q", ts(tt.optimal), got.OptimalDiffusionDate)
			}
			if delay(got.DelayDiffusionDischarge) != delay(tt.diffDelay) {
				t.Errorf("Expected diffusion delay %v, got %v", delay(tt.diffDelay), delay(got.DelayDiffusionDischarge))
			}
		})
	}
}

func TestReconcileExcludesEarlyValidation(t *testing.T) {
	stays := []easily.StayRecord{
		letter("P1", 1, 10, "2024-01-10", "2024-01-05", "2024-01-11"),
		letter("P2", 2, 20, "2024-01-10", "2024-01-07", "2024-01-11"),
	}

	out := Reconcile(stays, nil, DefaultReconcileOptions())
	if len(out) != 1 || out[0].PatientID != "P2" {
		t.Fatalf("Expected only P2 to remain, got %v", out)
	}
	if *out[0].DelayValidationDischarge != -3 {
		t.Errorf("Expected validation delay -3, got %d", *out[0].DelayValidationDischarge)
	}
}

func TestReconcileExcludesEarlyDiffusion(t *testing.T) {
	stays := []easily.StayRecord{letter("P1", 1, 10, "2024-01-10", "2024-01-10", "")}
	docs := []lifen.Document{diffusion("P1", 1, "2024-01-05")}

	if out := Reconcile(stays, docs, DefaultReconcileOptions()); len(out) != 0 {
		t.Errorf("Expected stay to be excluded, got %v", out)
	}

	out := Reconcile(stays, docs, ReconcileOptions{AnomalyDays: 7})
	if len(out) != 1 {
		t.Errorf("Expected a wider threshold to keep the stay, got %d", len(out))
	}
}

func TestReconcileDelays(t *testing.T) {
	stays := []easily.StayRecord{letter("P1", 1, 10, "2024-01-10T18:00:00", "2024-01-11T08:00:00", "")}
	docs := []lifen.Document{diffusion("P1", 1, "2024-01-14T07:00:00")}

	got := Reconcile(stays, docs, DefaultReconcileOptions())[0]
	if *got.DelayDiffusionDischarge != 4 {
		t.Errorf("Expected diffusion-discharge 4, got %d", *got.DelayDiffusionDischarge)
	}
	if *got.DelayValidationDischarge != 1 {
		t.Errorf("Expected validation-discharge 1, got %d", *got.DelayValidationDischarge)
	}
	if *got.DelayDiffusionValidation != 3 {
		t.Errorf("Expected diffusion-validation 3, got %d", *got.DelayDiffusionValidation)
	}
}

func TestReconcileDedupLetters(t *testing.T) {
	stays := []easily.StayRecord{
		letter("P1", 1, 10, "2024-01-10", "2024-01-10", ""),
		letter("P1", 1, 10, "2024-01-10", "2024-01-10", "2024-01-15"),
		letter("P1", 1, 10, "2024-01-10", "2024-01-10", "2024-01-11"),
		letter("P1", 1, 10, "2024-01-10", "2024-01-10", "2024-01-09"),
	}

	out := Reconcile(stays, nil, DefaultReconcileOptions())
	if len(out) != 1 {
		t.Fatalf("Expected 1 stay, got %d", len(out))
	}
	if out[0].OptimalDiffusionDate.Date().String() != "2024-01-11" {
		t.Errorf("Expected earliest closest diffusion 2024-01-11, got %s", out[0].OptimalDiffusionDate)
	}
}

func TestReconcileOneResultPerStay(t *testing.T) {
	stays := []easily.StayRecord{
		letter("P2", 5, 50, "2024-01-10", "2024-01-10", ""),
		letter("P1", 1, 10, "2024-01-10", "2024-01-10", "2024-01-15"),
		letter("P1", 1, 11, "2024-01-10", "2024-01-10", "2024-01-11"),
		letter("P3", 0, 30, "2024-01-10", "2024-01-10", ""),
		letter("P3", 0, 31, "2024-01-10", "2024-01-10", ""),
	}
	docs := []lifen.Document{diffusion("P3", 0, "2024-01-10")}

	out := Reconcile(stays, docs, DefaultReconcileOptions())

	var order []string
	for _, s := range out {
		order = append(order, s.PatientID)
	}
	expected := []string{"P2", "P1", "P3", "P3"}
	if !reflect.DeepEqual(order, expected) {
		t.Fatalf("Expected order %v, got %v", expected, order)
	}
	if *out[1].DelayDiffusionDischarge != 1 {
		t.Errorf("Expected the second fiche to win for P1, got %d", *out[1].DelayDiffusionDischarge)
	}
	if out[2].OptimalSource != SourceNone || out[3].OptimalSource != SourceNone {
		t.Error("Expected stays without a number never to join diffusions")
	}
}

func TestReconcileOuterJoin(t *testing.T) {
	stays := []easily.StayRecord{letter("P1", 1, 10, "2024-01-10", "2024-01-10", "")}
	orphan := diffusion("P9", 99, "2024-02-03")
	orphan.DischargeDate = ts("2024-02-01")
	orphan.StayType = "HC"
	later := diffusion("P9", 99, "2024-02-10")
	later.DischargeDate = ts("2024-02-01")
	docs := []lifen.Document{diffusion("P1", 1, "2024-01-11"), later, orphan}

	left := Reconcile(stays, docs, DefaultReconcileOptions())
	if len(left) != 1 {
		t.Fatalf("Expected left join to keep 1 stay, got %d", len(left))
	}

	outer := Reconcile(stays, docs, ReconcileOptions{AnomalyDays: 3, Join: JoinOuter})
	if len(outer) != 2 {
		t.Fatalf("Expected outer join to add 1 stay, got %d", len(outer))
	}
	got := outer[1]
	if got.PatientID != "P9" || got.ServiceCode != "HC" || got.OptimalSource != SourceLifen {
		t.Errorf("Unexpected lifen-only stay %+v", got)
	}
	if *got.DelayDiffusionDischarge != 2 {
		t.Errorf("Expected closest diffusion delay 2, got %d", *got.DelayDiffusionDischarge)
	}
	if got.DelayValidationDischarge != nil || got.DelayDiffusionValidation != nil {
		t.Error("Expected validation delays to be absent")
	}
}

func TestReconcileIsDeterministic(t *testing.T) {
	stays := []easily.StayRecord{
		letter("P1", 1, 10, "2024-01-10", "2024-01-10", "2024-01-12"),
		letter("P2", 2, 20, "2024-01-10", "2024-01-11", ""),
		letter("P3", 3, 30, "2024-01-10", "2024-01-09", "2024-01-20"),
	}
	docs := []lifen.Document{
		diffusion("P1", 1, "2024-01-08"),
		diffusion("P2", 2, "2024-01-13"),
		diffusion("P2", 2, "2024-01-07"),
	}

	first := Reconcile(stays, docs, DefaultReconcileOptions())
	second := Reconcile(stays, docs, DefaultReconcileOptions())
	if !reflect.DeepEqual(first, second) {
		t.Error("Expected identical output for identical input")
	}

	for _, s := range first {
		if (s.OptimalSource == SourceNone) == s.OptimalDiffusionDate.Valid() {
			t.Errorf("Source %s inconsistent with optimal date %q", s.OptimalSource, s.OptimalDiffusionDate)
		}
	}
}
