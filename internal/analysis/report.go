package analysis

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/foch-qualite/sequad/internal/shared/types"
)

// Report is the outcome of one reporting run.
type Report struct {
	RunID       types.ID  `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Query       Query     `json:"query"`
	// NoData is set when no stay could be reconciled. Notices explain why.
	NoData         bool             `json:"no_data"`
	Notices        []string         `json:"notices"`
	Stays          []ReconciledStay `json:"stays"`
	Aggregation    Aggregation      `json:"aggregation"`
	Histogram      []Bucket         `json:"histogram"`
	Sources        map[Source]int   `json:"sources"`
	ThresholdDays  int              `json:"threshold_days"`
	AboveThreshold []ReconciledStay `json:"above_threshold"`
	Letters        EasilySummary    `json:"letters"`
	Diffusions     LifenSummary     `json:"diffusions"`
	Missing        *MissingVenues   `json:"missing_venues,omitempty"`
}

// Markdown renders the report summary.
func (r *Report) Markdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Discharge letter diffusion delays\n\n")
	fmt.Fprintf(&b, "Run `%s`, %s.\n\n", r.RunID, r.GeneratedAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Query: %s.\n\n", r.Query.Describe())

	for _, n := range r.Notices {
		fmt.Fprintf(&b, "> %s\n\n", n)
	}
	if r.NoData {
		return b.String()
	}

	fmt.Fprintf(&b, "## Overview\n\n")
	fmt.Fprintf(&b, "| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Letters | %d |\n", r.Letters.Letters)
	fmt.Fprintf(&b, "| Patients | %d |\n", r.Letters.UniquePatients)
	fmt.Fprintf(&b, "| Diffusions | %d |\n", r.Diffusions.Diffusions)
	fmt.Fprintf(&b, "| Success rate | %.1f%% |\n", r.Diffusions.SuccessRate)
	fmt.Fprintf(&b, "| Stay coverage | %.1f%% |\n", r.Diffusions.StayCoverage)
	fmt.Fprintf(&b, "| Reconciled stays | %d |\n", len(r.Stays))
	fmt.Fprintf(&b, "| Optimal source | Lifen %d, Easily %d, none %d |\n\n",
		r.Sources[SourceLifen], r.Sources[SourceEasily], r.Sources[SourceNone])

	fmt.Fprintf(&b, "## By service\n\n")
	fmt.Fprintf(&b, "| Service | Stays | Same-day validation | Mean delay | Median delay | Same-day mean | Same-day median |\n")
	fmt.Fprintf(&b, "|---|---:|---:|---:|---:|---:|---:|\n")
	for _, s := range r.Aggregation.Services {
		fmt.Fprintf(&b, "| %s | %d | %d (%.1f%%) | %s | %s | %s | %s |\n",
			cell(s.Service), s.Total, s.SameDay, s.SameDayPercent,
			number(s.MeanDelay), number(s.MedianDelay), number(s.SameDayMean), number(s.SameDayMedian))
	}
	b.WriteString("\n")

	if dv := r.Aggregation.DiffusionValidation; dv != nil {
		fmt.Fprintf(&b, "## Validation to diffusion\n\n")
		fmt.Fprintf(&b, "%d stays: mean %.2f days, median %.1f, min %d, max %d.", dv.Count, dv.Mean, dv.Median, dv.Min, dv.Max)
		if r.Aggregation.WeekendExcluded > 0 {
			fmt.Fprintf(&b, " %d weekend validations excluded.", r.Aggregation.WeekendExcluded)
		}
		b.WriteString("\n\n")
	}

	if len(r.AboveThreshold) > 0 {
		fmt.Fprintf(&b, "## Diffused more than %d days after discharge\n\n", r.ThresholdDays)
		fmt.Fprintf(&b, "| Patient | Stay | Service | Source | Delay |\n|---|---:|---|---|---:|\n")
		for _, s := range r.AboveThreshold {
			fmt.Fprintf(&b, "| %s | %d | %s | %s | %d |\n",
				cell(s.PatientID), s.StayNumber, cell(s.ServiceCode), s.OptimalSource, *s.DelayDiffusionDischarge)
		}
		b.WriteString("\n")
	}

	if m := r.Missing; m != nil && !m.Empty() {
		fmt.Fprintf(&b, "## Missing stays\n\n")
		fmt.Fprintf(&b, "- not in Easily: %s\n", venueList(m.Easily))
		fmt.Fprintf(&b, "- not in Lifen: %s\n", venueList(m.Lifen))
		fmt.Fprintf(&b, "- in neither: %s\n\n", venueList(m.Both))
	}
	return b.String()
}

// HTML renders the Markdown summary as a standalone page.
func (r *Report) HTML() ([]byte, error) {
	var content bytes.Buffer
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert([]byte(r.Markdown()), &content); err != nil {
		return nil, fmt.Errorf("markdown convert: %w", err)
	}

	var page bytes.Buffer
	page.WriteString("<!doctype html><html><head><meta charset='utf-8'><title>SEQUAD report</title>")
	page.WriteString("<style>body{font-family:sans-serif;max-width:1000px;margin:1rem auto;}" +
		"table{border-collapse:collapse;width:100%;}th,td{border:1px solid #ccc;padding:0.3rem 0.5rem;}" +
		"blockquote{color:#555;border-left:3px solid #999;margin:0;padding-left:0.8rem;}</style>")
	page.WriteString("</head><body>")
	page.Write(content.Bytes())
	page.WriteString("</body></html>")
	return page.Bytes(), nil
}

func number(f *float64) string {
	if f == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *f)
}

func cell(s string) string {
	if s == "" {
		return "-"
	}
	return strings.ReplaceAll(s, "|", `\|`)
}

func venueList(venues []int64) string {
	if len(venues) == 0 {
		return "none"
	}
	parts := make([]string, len(venues))
	for i, v := range venues {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}
