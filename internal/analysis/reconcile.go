package analysis

import (
	"github.com/foch-qualite/sequad/internal/easily"
	"github.com/foch-qualite/sequad/internal/lifen"
	"github.com/foch-qualite/sequad/internal/shared/types"
)

// gap is a distance in days where a missing operand counts as infinite.
type gap struct {
	days   int
	finite bool
}

func gapBetween(a, b types.Timestamp) gap {
	d, ok := distance(a, b)
	return gap{days: d, finite: ok}
}

// less orders finite gaps first, then by size.
func (g gap) less(o gap) bool {
	if g.finite != o.finite {
		return g.finite
	}
	return g.finite && g.days < o.days
}

type docKey struct {
	patient string
	stay    int64
}

type stayKey struct {
	patient string
	stay    int64
	fiche   int64
}

// keyOf identifies the stay a letter belongs to. Letters without a stay
// number stand alone.
func keyOf(r easily.StayRecord) stayKey {
	k := stayKey{patient: r.PatientID, stay: r.StayNumber}
	if r.StayNumber <= 0 {
		k.fiche = r.DocumentID
	}
	return k
}

// candidate is one (letter, diffusion) pair. doc is nil when no diffusion joined.
type candidate struct {
	stay    easily.StayRecord
	doc     *lifen.Document
	source  Source
	optimal types.Timestamp
	gap     gap
}

// choose applies the optimal source rule to a pair. Lifen wins ties.
func choose(stay easily.StayRecord, doc *lifen.Document) candidate {
	c := candidate{stay: stay, doc: doc, source: SourceNone}

	easilyGap := gapBetween(stay.DiffusionDate, stay.DischargeDate)
	lifenGap := gap{}
	if doc != nil {
		lifenGap = gapBetween(doc.SentAt, stay.DischargeDate)
	}

	switch {
	case lifenGap.finite && (!easilyGap.finite || lifenGap.days <= easilyGap.days):
		c.source, c.optimal, c.gap = SourceLifen, doc.SentAt, lifenGap
	case easilyGap.finite:
		c.source, c.optimal, c.gap = SourceEasily, stay.DiffusionDate, easilyGap
	}
	return c
}

// Reconcile matches Easily letters with Lifen diffusions and keeps, for each
// stay, the diffusion closest to discharge. Ties are broken by input order:
// letters first, then diffusions. The result follows the order in which stays
// first appear and is a pure function of its inputs.
func Reconcile(stays []easily.StayRecord, docs []lifen.Document, opts ReconcileOptions) []ReconciledStay {
	patientDocs := patientOnly(docs)
	letters := dedupLetters(stays)

	byStay := make(map[docKey][]int)
	for i, d := range patientDocs {
		if d.StayNumber <= 0 {
			continue
		}
		k := docKey{d.PatientID, d.StayNumber}
		byStay[k] = append(byStay[k], i)
	}

	var order []stayKey
	best := make(map[stayKey]candidate)
	joined := make(map[docKey]bool)

	consider := func(k stayKey, c candidate) {
		cur, ok := best[k]
		if !ok {
			order = append(order, k)
			best[k] = c
			return
		}
		if c.gap.less(cur.gap) {
			best[k] = c
		}
	}

	for _, s := range letters {
		k := keyOf(s)
		var matches []int
		if s.StayNumber > 0 {
			dk := docKey{s.PatientID, s.StayNumber}
			matches = byStay[dk]
			joined[dk] = true
		}
		if len(matches) == 0 {
			consider(k, choose(s, nil))
			continue
		}
		for _, i := range matches {
			consider(k, choose(s, &patientDocs[i]))
		}
	}

	out := make([]ReconciledStay, 0, len(order))
	for _, k := range order {
		if r, keep := finish(best[k], opts.AnomalyDays); keep {
			out = append(out, r)
		}
	}

	if opts.Join == JoinOuter {
		for _, r := range lifenOnly(patientDocs, joined) {
			if r, keep := exclude(r, opts.AnomalyDays); keep {
				out = append(out, r)
			}
		}
	}
	return out
}

func patientOnly(docs []lifen.Document) []lifen.Document {
	out := make([]lifen.Document, 0, len(docs))
	for _, d := range docs {
		if d.RecipientRole == lifen.RolePatient {
			out = append(out, d)
		}
	}
	return out
}

// dedupLetters keeps one letter per (patient, fiche): the one whose Easily
// diffusion is closest to discharge. Groups keep their first-appearance order.
func dedupLetters(stays []easily.StayRecord) []easily.StayRecord {
	type ficheKey struct {
		patient string
		fiche   int64
	}
	index := make(map[ficheKey]int)
	var out []easily.StayRecord
	var gaps []gap

	for _, s := range stays {
		k := ficheKey{s.PatientID, s.DocumentID}
		g := gapBetween(s.DiffusionDate, s.DischargeDate)
		i, ok := index[k]
		if !ok {
			index[k] = len(out)
			out = append(out, s)
			gaps = append(gaps, g)
			continue
		}
		if g.less(gaps[i]) {
			out[i], gaps[i] = s, g
		}
	}
	return out
}

func finish(c candidate, anomalyDays int) (ReconciledStay, bool) {
	r := ReconciledStay{
		PatientID:      c.stay.PatientID,
		StayNumber:     c.stay.StayNumber,
		ServiceCode:    c.stay.ServiceCode,
		OptimalSource:  c.source,
		DischargeDate:  c.stay.DischargeDate,
		ValidationDate: c.stay.ValidationDate,
	}
	if c.source != SourceNone {
		r.OptimalDiffusionDate = c.optimal
	}
	return exclude(withDelays(r), anomalyDays)
}

func withDelays(r ReconciledStay) ReconciledStay {
	r.DelayDiffusionDischarge = daysBetween(r.DischargeDate, r.OptimalDiffusionDate)
	r.DelayValidationDischarge = daysBetween(r.DischargeDate, r.ValidationDate)
	r.DelayDiffusionValidation = daysBetween(r.ValidationDate, r.OptimalDiffusionDate)
	return r
}

// exclude drops stays validated or diffused more than anomalyDays before discharge.
func exclude(r ReconciledStay, anomalyDays int) (ReconciledStay, bool) {
	if d := r.DelayValidationDischarge; d != nil && *d < -anomalyDays {
		return r, false
	}
	if d := r.DelayDiffusionDischarge; d != nil && *d < -anomalyDays {
		return r, false
	}
	return r, true
}

// lifenOnly builds stays for diffusions no letter joined, one per
// (patient, stay), keeping the diffusion closest to its discharge date.
func lifenOnly(docs []lifen.Document, joined map[docKey]bool) []ReconciledStay {
	var order []docKey
	best := make(map[docKey]lifen.Document)
	gaps := make(map[docKey]gap)

	for _, d := range docs {
		if d.StayNumber <= 0 {
			continue
		}
		k := docKey{d.PatientID, d.StayNumber}
		if joined[k] {
			continue
		}
		g := gapBetween(d.SentAt, d.DischargeDate)
		cur, ok := gaps[k]
		if !ok {
			order = append(order, k)
		}
		if !ok || g.less(cur) {
			best[k], gaps[k] = d, g
		}
	}

	out := make([]ReconciledStay, 0, len(order))
	for _, k := range order {
		d := best[k]
		r := ReconciledStay{
			PatientID:     d.PatientID,
			StayNumber:    d.StayNumber,
			ServiceCode:   d.StayType,
			OptimalSource: SourceNone,
			DischargeDate: d.DischargeDate,
		}
		if d.SentAt.Valid() {
			r.OptimalSource = SourceLifen
			r.OptimalDiffusionDate = d.SentAt
		}
		out = append(out, withDelays(r))
	}
	return out
}
