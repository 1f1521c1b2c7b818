package processor

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/dvloznov/finance-import/internal/domain"
)

// Column names of the tabular format. Header matching ignores case,
// surrounding spaces and column order.
const (
	ColumnDate        = "date"
	ColumnDescription = "description"
	ColumnAmount      = "amount"
	ColumnKind        = "kind_of_transaction"
	ColumnCategory    = "category"
	ColumnAccount     = "account"
)

// RequiredColumns is the full tabular header in canonical order.
var RequiredColumns = []string{
	ColumnDate,
	ColumnDescription,
	ColumnAmount,
	ColumnKind,
	ColumnCategory,
	ColumnAccount,
}

var textDateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"02/01/2006",
	"02/01/2006 15:04:05",
}

// Excel serials for 1900-01-01 and 9999-12-31.
const (
	minExcelSerial = 1
	maxExcelSerial = 2958465
)

// RawRecord is one validated tabular row before entity resolution.
type RawRecord struct {
	// Line is the 1-based sheet row the record came from.
	Line        int
	Date        time.Time
	Description string
	Amount      decimal.Decimal
	Kind        domain.Kind
	Category    string
	Account     string
}

// ValidateTable checks a header row plus data rows and converts them to records.
// Checks run in a fixed order, each over the whole table: required columns,
// date conversion, amount conversion, kind literals, then empty cells.
func ValidateTable(rows [][]string) ([]RawRecord, error) {
	if len(rows) == 0 {
		return nil, &MissingColumnsError{Columns: append([]string(nil), RequiredColumns...)}
	}

	index := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}
	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Columns: missing}
	}

	type line struct {
		n     int
		cells []string
	}
	var data []line
	for i, row := range rows[1:] {
		if isBlankRow(row) {
			continue
		}
		data = append(data, line{n: i + 2, cells: row})
	}

	cell := func(l line, col string) string {
		idx := index[col]
		if idx >= len(l.cells) {
			return ""
		}
		return l.cells[idx]
	}

	records := make([]RawRecord, len(data))
	for i, l := range data {
		records[i].Line = l.n
	}

	for i, l := range data {
		v := strings.TrimSpace(cell(l, ColumnDate))
		if v == "" {
			continue
		}
		t, err := parseDate(v)
		if err != nil {
			return nil, &InvalidDataError{
				Field:  ColumnDate,
				Reason: fmt.Sprintf("date conversion failed on row %d", l.n),
				Values: []string{v},
				Err:    err,
			}
		}
		records[i].Date = t
	}

	for i, l := range data {
		v := strings.TrimSpace(cell(l, ColumnAmount))
		if v == "" {
			continue
		}
		amount, err := decimal.NewFromString(v)
		if err != nil {
			return nil, &InvalidDataError{
				Field:  ColumnAmount,
				Reason: fmt.Sprintf("amount conversion failed on row %d", l.n),
				Values: []string{v},
				Err:    err,
			}
		}
		records[i].Amount = amount
	}

	var invalidKinds []string
	seen := map[string]bool{}
	for i, l := range data {
		v := cell(l, ColumnKind)
		if strings.TrimSpace(v) == "" {
			continue
		}
		kind, err := domain.ParseKind(v)
		if err != nil {
			if !seen[v] {
				seen[v] = true
				invalidKinds = append(invalidKinds, v)
			}
			continue
		}
		records[i].Kind = kind
	}
	if len(invalidKinds) > 0 {
		return nil, &InvalidDataError{
			Field:  ColumnKind,
			Reason: "invalid transaction kinds",
			Values: invalidKinds,
		}
	}

	for _, col := range RequiredColumns {
		for _, l := range data {
			if strings.TrimSpace(cell(l, col)) == "" {
				return nil, &InvalidDataError{
					Field:  col,
					Reason: fmt.Sprintf("column contains empty values (first on row %d)", l.n),
				}
			}
		}
	}

	for i, l := range data {
		records[i].Description = cell(l, ColumnDescription)
		records[i].Category = strings.TrimSpace(cell(l, ColumnCategory))
		records[i].Account = strings.TrimSpace(cell(l, ColumnAccount))
	}

	return records, nil
}

// parseDate accepts compact YYYYMMDD text, Excel serial numbers between
// 1900-01-01 and 9999-12-31, and the text layouts in textDateLayouts.
func parseDate(v string) (time.Time, error) {
	if len(v) == 8 && isDigits(v) {
		if t, err := time.Parse("20060102", v); err == nil {
			return t, nil
		}
	}
	if serial, err := strconv.ParseFloat(v, 64); err == nil {
		if !(serial >= minExcelSerial && serial < maxExcelSerial+1) {
			return time.Time{}, fmt.Errorf("date serial %q out of range", v)
		}
		return excelize.ExcelDateToTime(serial, false)
	}
	for _, layout := range textDateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", v)
}

func isDigits(v string) bool {
	for _, r := range v {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
