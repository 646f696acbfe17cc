package analysis

import (
	"sort"

	"github.com/foch-qualite/sequad/internal/easily"
	"github.com/foch-qualite/sequad/internal/lifen"
)

// Count is a labelled tally.
type Count struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// CrossCount tallies diffusions per specialty and channel.
type CrossCount struct {
	Specialty string `json:"specialty"`
	Channel   string `json:"channel"`
	Count     int    `json:"count"`
}

// EasilySummary describes the letters returned by Easily.
type EasilySummary struct {
	Letters              int      `json:"letters"`
	UniquePatients       int      `json:"unique_patients"`
	MeanDaysToValidation *float64 `json:"mean_days_to_validation"`
	BySpecialty          []Count  `json:"by_specialty"`
	ByMonth              []Count  `json:"by_month"`
}

// SummarizeLetters computes the Easily summary. Specialties are sorted by
// descending count, months chronologically.
func SummarizeLetters(records []easily.StayRecord) EasilySummary {
	patients := make(map[string]bool)
	specialties := newCounter()
	months := newCounter()
	monthKeys := make(map[string]int)
	days := make([]int, 0, len(records))

	for _, r := range records {
		patients[r.PatientID] = true
		specialties.add(r.ServiceCode)
		months.add(r.Month)
		if _, ok := monthKeys[r.Month]; !ok {
			monthKeys[r.Month] = r.Year*100 + int(r.DischargeDate.Month())
		}
		days = append(days, r.DaysToValidation)
	}

	byMonth := months.counts()
	sort.SliceStable(byMonth, func(i, j int) bool {
		return monthKeys[byMonth[i].Label] < monthKeys[byMonth[j].Label]
	})

	return EasilySummary{
		Letters:              len(records),
		UniquePatients:       len(patients),
		MeanDaysToValidation: mean(days),
		BySpecialty:          specialties.byCount(),
		ByMonth:              byMonth,
	}
}

// LifenSummary describes the diffusions returned by Lifen.
type LifenSummary struct {
	Diffusions int `json:"diffusions"`
	// SuccessRate is the percentage of diffusions sent successfully.
	SuccessRate float64 `json:"success_rate"`
	// StayCoverage is the percentage of Easily stays with at least one diffusion.
	StayCoverage     float64      `json:"stay_coverage"`
	ByChannel        []Count      `json:"by_channel"`
	ByStatus         []Count      `json:"by_status"`
	ByRole           []Count      `json:"by_role"`
	SpecialtyChannel []CrossCount `json:"specialty_channel"`
}

// SummarizeDiffusions computes the Lifen summary. records supply the stay
// coverage denominator and the specialty of each stay.
func SummarizeDiffusions(docs []lifen.Document, records []easily.StayRecord) LifenSummary {
	s := LifenSummary{Diffusions: len(docs), SpecialtyChannel: []CrossCount{}}

	specialtyOf := make(map[int64]string)
	stays := make(map[int64]bool)
	for _, r := range records {
		if r.StayNumber <= 0 {
			continue
		}
		stays[r.StayNumber] = true
		if _, ok := specialtyOf[r.StayNumber]; !ok && r.ServiceCode != "" {
			specialtyOf[r.StayNumber] = r.ServiceCode
		}
	}

	channels, statuses, roles := newCounter(), newCounter(), newCounter()
	type pair struct{ specialty, channel string }
	cross := make(map[pair]int)
	covered := make(map[int64]bool)
	success := 0

	for _, d := range docs {
		channels.add(d.Channel)
		statuses.add(d.SendStatus)
		roles.add(d.RecipientRole)
		if d.SendStatus == lifen.StatusSuccess {
			success++
		}
		if d.StayNumber > 0 {
			covered[d.StayNumber] = true
		}
		if sp, ok := specialtyOf[d.StayNumber]; ok && d.Channel != "" {
			cross[pair{sp, d.Channel}]++
		}
	}

	s.SuccessRate = percent(success, len(docs))
	s.StayCoverage = percent(len(covered), len(stays))
	s.ByChannel = channels.byCount()
	s.ByStatus = statuses.byCount()
	s.ByRole = roles.byCount()

	for p, n := range cross {
		s.SpecialtyChannel = append(s.SpecialtyChannel, CrossCount{Specialty: p.specialty, Channel: p.channel, Count: n})
	}
	sort.Slice(s.SpecialtyChannel, func(i, j int) bool {
		a, b := s.SpecialtyChannel[i], s.SpecialtyChannel[j]
		if a.Specialty != b.Specialty {
			return a.Specialty < b.Specialty
		}
		return a.Channel < b.Channel
	})
	return s
}

// MissingVenues lists imported stay numbers one or both sources did not return.
type MissingVenues struct {
	Easily []int64 `json:"easily"`
	Lifen  []int64 `json:"lifen"`
	Both   []int64 `json:"both"`
}

// Empty reports whether every imported stay was found.
func (m MissingVenues) Empty() bool {
	return len(m.Easily) == 0 && len(m.Lifen) == 0
}

// FindMissingVenues compares the imported stay numbers with those found in
// each source. Lists are sorted.
func FindMissingVenues(imported []int64, records []easily.StayRecord, docs []lifen.Document) MissingVenues {
	inEasily := make(map[int64]bool)
	for _, r := range records {
		inEasily[r.StayNumber] = true
	}
	inLifen := make(map[int64]bool)
	for _, d := range docs {
		inLifen[d.StayNumber] = true
	}

	m := MissingVenues{Easily: []int64{}, Lifen: []int64{}, Both: []int64{}}
	for _, v := range lifen.SortedVenues(imported) {
		a, b := !inEasily[v], !inLifen[v]
		if a {
			m.Easily = append(m.Easily, v)
		}
		if b {
			m.Lifen = append(m.Lifen, v)
		}
		if a && b {
			m.Both = append(m.Both, v)
		}
	}
	return m
}

// counter tallies labels, remembering first-appearance order for ties.
type counter struct {
	order []string
	n     map[string]int
}

func newCounter() *counter {
	return &counter{n: make(map[string]int)}
}

func (c *counter) add(label string) {
	if label == "" {
		return
	}
	if _, ok := c.n[label]; !ok {
		c.order = append(c.order, label)
	}
	c.n[label]++
}

func (c *counter) counts() []Count {
	out := make([]Count, 0, len(c.order))
	for _, l := range c.order {
		out = append(out, Count{Label: l, Count: c.n[l]})
	}
	return out
}

func (c *counter) byCount() []Count {
	out := c.counts()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}
