// Package venues extracts stay ("venue") numbers from user-supplied files.
package venues

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	apperrors "github.com/foch-qualite/sequad/internal/shared/errors"
	"github.com/foch-qualite/sequad/internal/shared/metrics"
)

// Format is the kind of file a venue list is read from.
type Format string

const (
	FormatDelimited   Format = "csv"
	FormatSpreadsheet Format = "xlsx"
	FormatText        Format = "txt"
)

// ErrColumnRequired is returned when a table has several columns and none
// of them is a recognised stay number column.
var ErrColumnRequired = errors.New("venue column must be chosen")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DetectFormat maps a file name to its Format by extension.
func DetectFormat(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatDelimited, nil
	case ".xlsx", ".xlsm":
		return FormatSpreadsheet, nil
	case ".txt":
		return FormatText, nil
	case ".xls":
		return "", apperrors.Format("legacy .xls workbooks are not supported, save the file as .xlsx", nil)
	default:
		return "", apperrors.Format(fmt.Sprintf("unsupported file type %q, expected csv, xlsx or txt", filepath.Ext(filename)), nil)
	}
}

// Extractor reads venue numbers using a configurable set of column aliases.
type Extractor struct {
	aliases map[string]bool
}

// NewExtractor returns an Extractor recognising the given column names,
// compared case-insensitively after trimming.
func NewExtractor(aliases []string) *Extractor {
	set := make(map[string]bool, len(aliases))
	for _, a := range aliases {
		set[normalizeHeader(a)] = true
	}
	return &Extractor{aliases: set}
}

// Options tune a single extraction.
type Options struct {
	// Column forces the column to read from a table.
	Column string
}

// ExtractFile detects the format from filename and extracts from r.
func (e *Extractor) ExtractFile(filename string, r io.Reader, opts Options) ([]int64, error) {
	format, err := DetectFormat(filename)
	if err != nil {
		return nil, err
	}
	return e.Extract(r, format, opts)
}

// Extract returns the distinct positive stay numbers found in r, in order
// of first appearance.
func (e *Extractor) Extract(r io.Reader, format Format, opts Options) ([]int64, error) {
	var values []string
	var err error

	switch format {
	case FormatText:
		values, err = readLines(r)
	case FormatDelimited:
		var header []string
		var rows [][]string
		header, rows, err = readDelimited(r)
		if err == nil {
			values, err = e.pickColumn(header, rows, opts)
		}
	case FormatSpreadsheet:
		var header []string
		var rows [][]string
		header, rows, err = readSpreadsheet(r)
		if err == nil {
			values, err = e.pickColumn(header, rows, opts)
		}
	default:
		return nil, apperrors.Format(fmt.Sprintf("unsupported format %q", format), nil)
	}
	if err != nil {
		return nil, err
	}

	metrics.RecordVenueImport(string(format))
	return parseVenues(values), nil
}

// Columns returns the header of a delimited or spreadsheet file, so a caller
// can offer a choice after ErrColumnRequired.
func Columns(r io.Reader, format Format) ([]string, error) {
	switch format {
	case FormatDelimited:
		header, _, err := readDelimited(r)
		return header, err
	case FormatSpreadsheet:
		header, _, err := readSpreadsheet(r)
		return header, err
	default:
		return nil, nil
	}
}

func (e *Extractor) pickColumn(header []string, rows [][]string, opts Options) ([]string, error) {
	if len(header) == 0 {
		return nil, nil
	}

	idx := -1
	if opts.Column != "" {
		for i, h := range header {
			if normalizeHeader(h) == normalizeHeader(opts.Column) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, apperrors.InvalidQuery("column", fmt.Sprintf("column %q not found", opts.Column))
		}
	} else {
		for i, h := range header {
			if e.aliases[normalizeHeader(h)] {
				idx = i
				break
			}
		}
	}

	if idx < 0 {
		if len(header) != 1 {
			appErr := apperrors.InvalidQuery("column", "no stay number column recognised, choose one")
			appErr.Cause = ErrColumnRequired
			appErr.Details["columns"] = strings.Join(header, ",")
			return nil, appErr
		}
		idx = 0
	}

	values := make([]string, 0, len(rows))
	for _, row := range rows {
		if idx < len(row) {
			values = append(values, row[idx])
		}
	}
	return values, nil
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, string(bytes.TrimPrefix(scanner.Bytes(), utf8BOM)))
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.Format("failed to read text file", err)
	}
	return lines, nil
}

func readDelimited(r io.Reader) ([]string, [][]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, apperrors.Format("failed to read csv file", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = sniffDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, apperrors.Format("failed to parse csv file", err)
	}
	if len(records) == 0 {
		return nil, nil, nil
	}
	return records[0], records[1:], nil
}

// sniffDelimiter picks ';' when the header uses it and has no comma.
func sniffDelimiter(data []byte) rune {
	firstLine := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		firstLine = data[:i]
	}
	if bytes.IndexByte(firstLine, ';') >= 0 && bytes.IndexByte(firstLine, ',') < 0 {
		return ';'
	}
	if bytes.IndexByte(firstLine, '\t') >= 0 && bytes.IndexByte(firstLine, ',') < 0 {
		return '\t'
	}
	return ','
}

func readSpreadsheet(r io.Reader) ([]string, [][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, apperrors.Format("failed to open spreadsheet", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, apperrors.Format("failed to read spreadsheet rows", err)
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}
	return rows[0], rows[1:], nil
}

func normalizeHeader(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// parseVenues keeps values made only of decimal digits, parses them and
// drops zero, overflowing and repeated numbers.
func parseVenues(values []string) []int64 {
	seen := make(map[int64]bool, len(values))
	venues := make([]int64, 0, len(values))

	for _, raw := range values {
		s := strings.TrimSpace(raw)
		if s == "" || !isDigits(s) {
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n <= 0 || seen[n] {
			continue
		}
		seen[n] = true
		venues = append(venues, n)
	}
	return venues
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
