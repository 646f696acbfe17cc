package analysis

import (
	"sort"
)

// AggregateOptions tune Aggregate.
type AggregateOptions struct {
	// ExcludeWeekends drops stays validated on a Saturday or Sunday from the
	// global diffusion-validation statistics.
	ExcludeWeekends bool
}

// ServiceStats summarises the stays of one service.
type ServiceStats struct {
	Service        string   `json:"service"`
	Total          int      `json:"total"`
	SameDay        int      `json:"same_day"`
	SameDayPercent float64  `json:"same_day_percent"`
	MeanDelay      *float64 `json:"mean_delay"`
	MedianDelay    *float64 `json:"median_delay"`
	SameDayMean    *float64 `json:"same_day_mean_delay"`
	SameDayMedian  *float64 `json:"same_day_median_delay"`
}

// DelayStats describes a sample of delays in days.
type DelayStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    int     `json:"min"`
	Max    int     `json:"max"`
}

// Aggregation is the per-service and global view of reconciled stays.
type Aggregation struct {
	NoData   bool           `json:"no_data"`
	Services []ServiceStats `json:"services"`
	// DiffusionValidation is nil when no stay has both dates.
	DiffusionValidation *DelayStats `json:"diffusion_validation"`
	WeekendExcluded     int         `json:"weekend_excluded"`
}

// Aggregate groups stays by service code. Services are sorted by name.
func Aggregate(stays []ReconciledStay, opts AggregateOptions) Aggregation {
	if len(stays) == 0 {
		return Aggregation{NoData: true, Services: []ServiceStats{}}
	}

	type bucket struct {
		total, sameDay int
		delays         []int
		sameDayDelays  []int
	}
	buckets := make(map[string]*bucket)
	var global []int
	weekend := 0

	for _, s := range stays {
		b := buckets[s.ServiceCode]
		if b == nil {
			b = &bucket{}
			buckets[s.ServiceCode] = b
		}
		b.total++
		same := s.DelayValidationDischarge != nil && *s.DelayValidationDischarge == 0
		if same {
			b.sameDay++
		}
		if d := s.DelayDiffusionDischarge; d != nil {
			b.delays = append(b.delays, *d)
			if same {
				b.sameDayDelays = append(b.sameDayDelays, *d)
			}
		}

		if s.DelayDiffusionValidation == nil {
			continue
		}
		if opts.ExcludeWeekends && s.ValidationDate.Date().IsWeekend() {
			weekend++
			continue
		}
		global = append(global, *s.DelayDiffusionValidation)
	}

	agg := Aggregation{Services: make([]ServiceStats, 0, len(buckets)), WeekendExcluded: weekend}
	for name, b := range buckets {
		agg.Services = append(agg.Services, ServiceStats{
			Service:        name,
			Total:          b.total,
			SameDay:        b.sameDay,
			SameDayPercent: percent(b.sameDay, b.total),
			MeanDelay:      mean(b.delays),
			MedianDelay:    median(b.delays),
			SameDayMean:    mean(b.sameDayDelays),
			SameDayMedian:  median(b.sameDayDelays),
		})
	}
	sort.Slice(agg.Services, func(i, j int) bool { return agg.Services[i].Service < agg.Services[j].Service })

	if len(global) > 0 {
		sorted := sortedCopy(global)
		agg.DiffusionValidation = &DelayStats{
			Count:  len(sorted),
			Mean:   *mean(sorted),
			Median: *median(sorted),
			Min:    sorted[0],
			Max:    sorted[len(sorted)-1],
		}
	}
	return agg
}

// AboveThreshold returns the stays diffused more than days after discharge.
func AboveThreshold(stays []ReconciledStay, days int) []ReconciledStay {
	out := []ReconciledStay{}
	for _, s := range stays {
		if d := s.DelayDiffusionDischarge; d != nil && *d > days {
			out = append(out, s)
		}
	}
	return out
}

// Bucket is one bar of the delay histogram.
type Bucket struct {
	Days  int `json:"days"`
	Count int `json:"count"`
}

// Histogram counts stays per diffusion-discharge delay, sorted by delay.
func Histogram(stays []ReconciledStay) []Bucket {
	counts := make(map[int]int)
	for _, s := range stays {
		if d := s.DelayDiffusionDischarge; d != nil {
			counts[*d]++
		}
	}
	out := make([]Bucket, 0, len(counts))
	for days, n := range counts {
		out = append(out, Bucket{Days: days, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Days < out[j].Days })
	return out
}

// SourceCounts counts stays per optimal source.
func SourceCounts(stays []ReconciledStay) map[Source]int {
	counts := map[Source]int{SourceLifen: 0, SourceEasily: 0, SourceNone: 0}
	for _, s := range stays {
		counts[s.OptimalSource]++
	}
	return counts
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

func mean(xs []int) *float64 {
	if len(xs) == 0 {
		return nil
	}
	sum := 0
	for _, x := range xs {
		sum += x
	}
	m := float64(sum) / float64(len(xs))
	return &m
}

func median(xs []int) *float64 {
	if len(xs) == 0 {
		return nil
	}
	s := sortedCopy(xs)
	mid := len(s) / 2
	m := float64(s[mid])
	if len(s)%2 == 0 {
		m = float64(s[mid-1]+s[mid]) / 2
	}
	return &m
}

func sortedCopy(xs []int) []int {
	s := append([]int(nil), xs...)
	sort.Ints(s)
	return s
}
