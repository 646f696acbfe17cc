package analysis

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"

	apperrors "github.com/foch-qualite/sequad/internal/shared/errors"
	"github.com/foch-qualite/sequad/internal/shared/types"
)

// utf8BOM lets spreadsheet tools detect the encoding of accented labels.
const utf8BOM = "\ufeff"

// CSVHeader is the fixed column order of exported stays.
var CSVHeader = []string{
	"patient_id",
	"stay_number",
	"service_code",
	"optimal_source",
	"optimal_diffusion_date",
	"discharge_date",
	"validation_date",
	"delay_diffusion_discharge",
	"delay_validation_discharge",
	"delay_diffusion_validation",
}

// stayRow is the flat export form of a ReconciledStay. Dates are YYYY-MM-DD.
type stayRow struct {
	PatientID                string  `parquet:"patient_id"`
	StayNumber               int64   `parquet:"stay_number"`
	ServiceCode              string  `parquet:"service_code"`
	OptimalSource            string  `parquet:"optimal_source"`
	OptimalDiffusionDate     *string `parquet:"optimal_diffusion_date,optional"`
	DischargeDate            *string `parquet:"discharge_date,optional"`
	ValidationDate           *string `parquet:"validation_date,optional"`
	DelayDiffusionDischarge  *int64  `parquet:"delay_diffusion_discharge,optional"`
	DelayValidationDischarge *int64  `parquet:"delay_validation_discharge,optional"`
	DelayDiffusionValidation *int64  `parquet:"delay_diffusion_validation,optional"`
}

func toRow(s ReconciledStay) stayRow {
	return stayRow{
		PatientID:                s.PatientID,
		StayNumber:               s.StayNumber,
		ServiceCode:              s.ServiceCode,
		OptimalSource:            string(s.OptimalSource),
		OptimalDiffusionDate:     dateString(s.OptimalDiffusionDate),
		DischargeDate:            dateString(s.DischargeDate),
		ValidationDate:           dateString(s.ValidationDate),
		DelayDiffusionDischarge:  int64Ptr(s.DelayDiffusionDischarge),
		DelayValidationDischarge: int64Ptr(s.DelayValidationDischarge),
		DelayDiffusionValidation: int64Ptr(s.DelayDiffusionValidation),
	}
}

func (r stayRow) stay() (ReconciledStay, error) {
	s := ReconciledStay{
		PatientID:                r.PatientID,
		StayNumber:               r.StayNumber,
		ServiceCode:              r.ServiceCode,
		OptimalSource:            Source(r.OptimalSource),
		DelayDiffusionDischarge:  intPtr(r.DelayDiffusionDischarge),
		DelayValidationDischarge: intPtr(r.DelayValidationDischarge),
		DelayDiffusionValidation: intPtr(r.DelayDiffusionValidation),
	}
	var err error
	if s.OptimalDiffusionDate, err = parseDateField("optimal_diffusion_date", r.OptimalDiffusionDate); err != nil {
		return s, err
	}
	if s.DischargeDate, err = parseDateField("discharge_date", r.DischargeDate); err != nil {
		return s, err
	}
	if s.ValidationDate, err = parseDateField("validation_date", r.ValidationDate); err != nil {
		return s, err
	}
	return s, nil
}

func (r stayRow) record() []string {
	return []string{
		r.PatientID,
		strconv.FormatInt(r.StayNumber, 10),
		r.ServiceCode,
		r.OptimalSource,
		deref(r.OptimalDiffusionDate),
		deref(r.DischargeDate),
		deref(r.ValidationDate),
		formatDelay(r.DelayDiffusionDischarge),
		formatDelay(r.DelayValidationDischarge),
		formatDelay(r.DelayDiffusionValidation),
	}
}

// WriteCSV writes stays as UTF-8 CSV with a BOM and the CSVHeader row.
func WriteCSV(w io.Writer, stays []ReconciledStay) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, s := range stays {
		if err := cw.Write(toRow(s).record()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads stays written by WriteCSV. The BOM is optional.
func ReadCSV(r io.Reader) ([]ReconciledStay, error) {
	br := bufio.NewReader(r)
	if b, err := br.Peek(len(utf8BOM)); err == nil && string(b) == utf8BOM {
		br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = len(CSVHeader)
	header, err := cr.Read()
	if err == io.EOF {
		return nil, apperrors.Format("empty CSV export", nil)
	}
	if err != nil {
		return nil, apperrors.Format("unreadable CSV header", err)
	}
	for i, name := range CSVHeader {
		if strings.TrimSpace(header[i]) != name {
			return nil, apperrors.Format(fmt.Sprintf("unexpected CSV column %q, want %q", header[i], name), nil)
		}
	}

	var stays []ReconciledStay
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.Format(fmt.Sprintf("invalid CSV line %d", line), err)
		}
		row, err := parseRecord(rec)
		if err != nil {
			return nil, apperrors.Format(fmt.Sprintf("invalid CSV line %d", line), err)
		}
		s, err := row.stay()
		if err != nil {
			return nil, apperrors.Format(fmt.Sprintf("invalid CSV line %d", line), err)
		}
		stays = append(stays, s)
	}
	return stays, nil
}

func parseRecord(rec []string) (stayRow, error) {
	row := stayRow{
		PatientID:            rec[0],
		ServiceCode:          rec[2],
		OptimalSource:        rec[3],
		OptimalDiffusionDate: optional(rec[4]),
		DischargeDate:        optional(rec[5]),
		ValidationDate:       optional(rec[6]),
	}
	var err error
	if row.StayNumber, err = strconv.ParseInt(strings.TrimSpace(rec[1]), 10, 64); err != nil {
		return row, fmt.Errorf("stay_number: %w", err)
	}
	delays := []**int64{&row.DelayDiffusionDischarge, &row.DelayValidationDischarge, &row.DelayDiffusionValidation}
	for i, dst := range delays {
		raw := strings.TrimSpace(rec[7+i])
		if raw == "" {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return row, fmt.Errorf("%s: %w", CSVHeader[7+i], err)
		}
		*dst = &n
	}
	return row, nil
}

// WriteParquet writes stays as a Parquet file.
func WriteParquet(w io.Writer, stays []ReconciledStay) error {
	rows := make([]stayRow, len(stays))
	for i, s := range stays {
		rows[i] = toRow(s)
	}
	writer := parquet.NewGenericWriter[stayRow](w)
	if _, err := writer.Write(rows); err != nil {
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

// ReadParquet reads stays written by WriteParquet.
func ReadParquet(r io.ReaderAt, size int64) ([]ReconciledStay, error) {
	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, apperrors.Format("unreadable parquet file", err)
	}
	reader := parquet.NewGenericReader[stayRow](pf)
	defer reader.Close()

	rows := make([]stayRow, reader.NumRows())
	read := 0
	for read < len(rows) {
		n, err := reader.Read(rows[read:])
		read += n
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read parquet rows: %w", err)
		}
	}

	stays := make([]ReconciledStay, 0, read)
	for _, row := range rows[:read] {
		s, err := row.stay()
		if err != nil {
			return nil, apperrors.Format("invalid parquet row", err)
		}
		stays = append(stays, s)
	}
	return stays, nil
}

func dateString(ts types.Timestamp) *string {
	if !ts.Valid() {
		return nil
	}
	s := ts.Date().String()
	return &s
}

func parseDateField(field string, s *string) (types.Timestamp, error) {
	if s == nil {
		return types.Timestamp{}, nil
	}
	d, err := types.ParseDate(*s)
	if err != nil {
		return types.Timestamp{}, fmt.Errorf("%s: invalid date %q", field, *s)
	}
	return types.NewTimestamp(d.Time), nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatDelay(n *int64) string {
	if n == nil {
		return ""
	}
	return strconv.FormatInt(*n, 10)
}

func int64Ptr(n *int) *int64 {
	if n == nil {
		return nil
	}
	v := int64(*n)
	return &v
}

func intPtr(n *int64) *int {
	if n == nil {
		return nil
	}
	v := int(*n)
	return &v
}
