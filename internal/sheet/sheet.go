package sheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nconklindev/draftmerge/internal/extractor"
	"github.com/nconklindev/draftmerge/internal/fields"
	"github.com/nconklindev/draftmerge/internal/types"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/japanese"
)

const (
	RowDetectionLimit = 10

	// maxExcelSerial is 9999-12-31, the last date a workbook can hold.
	maxExcelSerial = 2958465
)

var (
	ErrEmptyFile       = errors.New("empty file")
	ErrUnsupportedFile = errors.New("unsupported file type")

	utf8BOM      = []byte{0xEF, 0xBB, 0xBF}
	zipSignature = []byte("PK\x03\x04")
)

// ReadFile loads a .xlsx or .csv file into a Table.
func ReadFile(path string) (*types.Table, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".csv" && ext != ".xlsx" {
		return nil, errors.Join(types.ErrIngestion, fmt.Errorf("%w: %s", ErrUnsupportedFile, ext))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Join(types.ErrIngestion, err)
	}

	var table *types.Table
	if ext == ".csv" {
		table, err = ParseCSV(data)
	} else {
		table, err = ParseXLSX(data)
	}
	if err != nil {
		return nil, err
	}

	table.SourceFile = path
	return table, nil
}

// Ingest parses workbook or CSV bytes, telling them apart by the zip signature.
func Ingest(data []byte) (*types.Table, error) {
	if bytes.HasPrefix(data, zipSignature) {
		return ParseXLSX(data)
	}
	return ParseCSV(data)
}

// ParseXLSX reads the first sheet. Row 1 is the header; cells are taken raw so
// numbers are not reformatted, and date columns are rendered as YYYY-MM-DD.
func ParseXLSX(data []byte) (*types.Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Join(types.ErrIngestion, fmt.Errorf("open workbook: %w", err))
	}
	defer f.Close()

	sheetName := f.GetSheetName(0)
	rows, err := f.GetRows(sheetName, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, errors.Join(types.ErrIngestion, fmt.Errorf("read sheet %q: %w", sheetName, err))
	}

	if len(rows) == 0 {
		return nil, errors.Join(types.ErrIngestion, ErrEmptyFile)
	}

	date1904 := false
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		date1904 = *props.Date1904
	}

	return buildTable(rows, func(rowIdx, colIdx int, header, raw string) string {
		date := fields.IsDateColumn(header)
		// Raw booleans read back as 0/1; only those and date cells need the type.
		if !date && raw != "0" && raw != "1" {
			return raw
		}

		cell, err := excelize.CoordinatesToCellName(colIdx+1, rowIdx+1)
		if err != nil {
			return ""
		}
		typ, err := f.GetCellType(sheetName, cell)
		switch {
		case err != nil && date:
			return ""
		case err != nil:
			return raw
		case typ == excelize.CellTypeBool:
			return boolText(raw)
		case !date:
			return raw
		}
		return dateValue(typ, raw, date1904)
	}), nil
}

// ParseCSV reads comma-separated text. A UTF-8 BOM is dropped and input that
// is not valid UTF-8 is decoded as Shift_JIS. Date columns keep their text.
func ParseCSV(data []byte) (*types.Table, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		decoded, err := japanese.ShiftJIS.NewDecoder().Bytes(data)
		if err != nil {
			return nil, errors.Join(types.ErrIngestion, fmt.Errorf("decode Shift_JIS: %w", err))
		}
		data = decoded
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Join(types.ErrIngestion, err)
	}

	if len(records) == 0 {
		return nil, errors.Join(types.ErrIngestion, ErrEmptyFile)
	}

	return buildTable(records, nil), nil
}

// UniqueHeaders resolves header collisions left to right. The first use of a
// trimmed name is kept verbatim and later ones become name(1), name(2), ...
// Blank headers stay "" so the slot keeps its index.
func UniqueHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	counts := make(map[string]int)
	taken := make(map[string]bool)

	for i, h := range raw {
		trimmed := strings.TrimSpace(h)
		if trimmed == "" {
			continue
		}

		name := h
		if _, dup := counts[trimmed]; dup || taken[h] {
			n := counts[trimmed]
			for {
				n++
				name = fmt.Sprintf("%s(%d)", trimmed, n)
				if !taken[name] {
					break
				}
			}
			counts[trimmed] = n
		} else {
			counts[trimmed] = 0
		}

		taken[name] = true
		headers[i] = name
	}

	return headers
}

// buildTable turns raw records into rows keyed by the unique headers. Every
// row is built fresh; a short or blank cell is "". convert, when set, is
// applied to every non-empty cell.
func buildTable(records [][]string, convert func(rowIdx, colIdx int, header, raw string) string) *types.Table {
	headers := UniqueHeaders(records[0])

	table := &types.Table{}
	for _, h := range headers {
		if h != "" {
			table.Columns = append(table.Columns, h)
		}
	}

	for r := 1; r < len(records); r++ {
		var row types.Row
		for c, h := range headers {
			if h == "" {
				continue
			}

			value := ""
			if c < len(records[r]) {
				value = records[r][c]
			}
			if value != "" && convert != nil {
				value = convert(r, c, h, value)
			}

			row.Set(h, value)
		}

		if row.Len() > 0 {
			table.Rows = append(table.Rows, row)
		}
	}

	return table
}

// dateValue renders one date-column cell. Text stays as typed, typed dates and
// serial numbers become YYYY-MM-DD, anything undecodable becomes "".
func dateValue(typ excelize.CellType, raw string, date1904 bool) string {
	switch typ {
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString, excelize.CellTypeFormula:
		return raw
	case excelize.CellTypeBool:
		return boolText(raw)
	case excelize.CellTypeError:
		return ""
	case excelize.CellTypeDate:
		return isoFromText(raw)
	}

	serial, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return ""
	}
	return SerialToISO(serial, date1904)
}

// boolText renders a raw boolean cell the way it displays.
func boolText(raw string) string {
	switch raw {
	case "1":
		return "true"
	case "0":
		return "false"
	}
	return raw
}

// SerialToISO decodes a workbook date serial using calendar fields, with no
// timezone shift. Out-of-range serials yield "".
func SerialToISO(serial float64, date1904 bool) string {
	if math.IsNaN(serial) || serial < 0 || serial > maxExcelSerial {
		return ""
	}
	t, err := excelize.ExcelDateToTime(serial, date1904)
	if err != nil {
		return ""
	}
	return t.Format(time.DateOnly)
}

func isoFromText(raw string) string {
	layouts := []string{time.RFC3339Nano, "2006-01-02T15:04:05", time.DateTime, time.DateOnly}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, strings.TrimSpace(raw)); err == nil {
			return t.Format(time.DateOnly)
		}
	}
	return ""
}

// DetectAddressColumns lists columns whose populated values in the first
// RowDetectionLimit rows are all single addresses.
func DetectAddressColumns(table *types.Table) []string {
	var detected []string

	for _, col := range table.Columns {
		allAddresses := true
		checkedRows := 0

		for j := 0; j < len(table.Rows) && j < RowDetectionLimit; j++ {
			val, _ := table.Rows[j].Get(col)
			if strings.TrimSpace(val) == "" {
				continue
			}
			if !extractor.IsAddress(val) {
				allAddresses = false
				break
			}
			checkedRows++
		}

		if allAddresses && checkedRows > 0 {
			detected = append(detected, col)
		}
	}

	return detected
}
