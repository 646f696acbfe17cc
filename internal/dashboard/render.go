package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/foch-qualite/sequad/internal/analysis"
	"github.com/foch-qualite/sequad/internal/shared/errors"
)

// Format is an output format of a report.
type Format string

const (
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatParquet  Format = "parquet"
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
)

// Formats lists the accepted formats.
var Formats = []Format{FormatJSON, FormatCSV, FormatParquet, FormatHTML, FormatMarkdown}

// ParseFormat parses a format name. Empty means JSON; "md" is Markdown.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	switch {
	case f == "":
		return FormatJSON, nil
	case f == "md":
		return FormatMarkdown, nil
	case slices.Contains(Formats, f):
		return f, nil
	}
	return "", errors.InvalidQuery("format", fmt.Sprintf("unknown format %q, expected json, csv, parquet, html or markdown", s))
}

// ContentType returns the media type of f.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatParquet:
		return "application/vnd.apache.parquet"
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	default:
		return "application/json"
	}
}

// Extension returns the file extension of f.
func (f Format) Extension() string {
	if f == FormatMarkdown {
		return "md"
	}
	return string(f)
}

// Attachment reports whether f is served as a download.
func (f Format) Attachment() bool {
	return f == FormatCSV || f == FormatParquet
}

// Render writes report to w in format f. The tabular formats carry the
// reconciled stays only.
func Render(w io.Writer, f Format, report *analysis.Report) error {
	switch f {
	case FormatCSV:
		return analysis.WriteCSV(w, report.Stays)
	case FormatParquet:
		return analysis.WriteParquet(w, report.Stays)
	case FormatHTML:
		page, err := report.HTML()
		if err != nil {
			return err
		}
		_, err = w.Write(page)
		return err
	case FormatMarkdown:
		_, err := io.WriteString(w, report.Markdown())
		return err
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
}
