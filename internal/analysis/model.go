// Package analysis reconciles Easily letters with Lifen diffusions and
// computes the delay statistics of the discharge-letter report.
package analysis

import (
	"github.com/foch-qualite/sequad/internal/shared/types"
)

// Source names the system an optimal diffusion date was taken from.
type Source string

const (
	SourceLifen  Source = "Lifen"
	SourceEasily Source = "Easily"
	SourceNone   Source = "None"
)

// ReconciledStay is the outcome of reconciling one stay. Delays are calendar
// days and nil when one of their operands is missing.
type ReconciledStay struct {
	PatientID                string          `json:"patient_id"`
	StayNumber               int64           `json:"stay_number"`
	ServiceCode              string          `json:"service_code"`
	OptimalSource            Source          `json:"optimal_source"`
	OptimalDiffusionDate     types.Timestamp `json:"optimal_diffusion_date"`
	DischargeDate            types.Timestamp `json:"discharge_date"`
	ValidationDate           types.Timestamp `json:"validation_date"`
	DelayDiffusionDischarge  *int            `json:"delay_diffusion_discharge"`
	DelayValidationDischarge *int            `json:"delay_validation_discharge"`
	DelayDiffusionValidation *int            `json:"delay_diffusion_validation"`
}

// JoinMode selects which stays the reconciliation emits.
type JoinMode string

const (
	// JoinLeft emits every Easily stay.
	JoinLeft JoinMode = "left"
	// JoinOuter also emits stays only Lifen knows about.
	JoinOuter JoinMode = "outer"
)

// ParseJoinMode reads a join mode, defaulting to JoinLeft.
func ParseJoinMode(s string) (JoinMode, bool) {
	switch JoinMode(s) {
	case "", JoinLeft:
		return JoinLeft, true
	case JoinOuter:
		return JoinOuter, true
	}
	return "", false
}

// DefaultAnomalyDays is how many days before discharge a validation or a
// diffusion may fall before the stay is treated as an anomaly.
const DefaultAnomalyDays = 3

// ReconcileOptions tune Reconcile.
type ReconcileOptions struct {
	AnomalyDays int
	Join        JoinMode
}

// DefaultReconcileOptions returns the options used when nothing is configured.
func DefaultReconcileOptions() ReconcileOptions {
	return ReconcileOptions{AnomalyDays: DefaultAnomalyDays, Join: JoinLeft}
}

// daysBetween returns the calendar days from a to b, or nil when either is missing.
func daysBetween(a, b types.Timestamp) *int {
	if !a.Valid() || !b.Valid() {
		return nil
	}
	n := a.Date().DaysUntil(b.Date())
	return &n
}

// distance returns |b - a| in calendar days and false when either is missing.
func distance(a, b types.Timestamp) (int, bool) {
	d := daysBetween(a, b)
	if d == nil {
		return 0, false
	}
	if *d < 0 {
		return -*d, true
	}
	return *d, true
}
