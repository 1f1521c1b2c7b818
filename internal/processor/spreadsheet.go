package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"github.com/dvloznov/finance-import/internal/domain"
	"github.com/dvloznov/finance-import/internal/jobs"
)

// Notes attached to entities created from spreadsheet rows.
const (
	NoteSpreadsheetCategory = "Categoria criada automaticamente pela importação"
	NoteSpreadsheetAccount  = "Conta criada automaticamente pela importação"
)

// maxLegacyRows caps how many rows are read from a legacy .xls workbook.
const maxLegacyRows = 100000

var (
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// SpreadsheetProcessor reads the first sheet of an .xlsx or .xls workbook.
// Entity slugs are the lowercased name with spaces turned into hyphens.
type SpreadsheetProcessor struct {
	resolver *Resolver
}

// NewSpreadsheetProcessor creates a tabular processor backed by store.
func NewSpreadsheetProcessor(store EntityStore) *SpreadsheetProcessor {
	return &SpreadsheetProcessor{resolver: NewResolver(store, domain.SimpleSlug)}
}

// Name returns the processor identifier.
func (p *SpreadsheetProcessor) Name() string { return "spreadsheet" }

// Source returns the job source served by this processor.
func (p *SpreadsheetProcessor) Source() jobs.Source { return jobs.SourceTabular }

// Extensions returns the workbook extensions accepted.
func (p *SpreadsheetProcessor) Extensions() []string { return []string{".xlsx", ".xls"} }

// Process validates every row, then resolves entities and builds transactions.
func (p *SpreadsheetProcessor) Process(ctx context.Context, r io.Reader, ownerID string) ([]*domain.Transaction, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read spreadsheet: %w", err)
	}

	rows, err := readSheet(data)
	if err != nil {
		return nil, &InvalidDataError{Field: "file", Reason: "unreadable spreadsheet", Err: err}
	}

	records, err := ValidateTable(rows)
	if err != nil {
		return nil, err
	}

	transactions := make([]*domain.Transaction, 0, len(records))
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		category, err := p.resolver.Category(ctx, ownerID, rec.Category, NoteSpreadsheetCategory)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", rec.Line, err)
		}
		account, err := p.resolver.Account(ctx, ownerID, rec.Account, NoteSpreadsheetAccount)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", rec.Line, err)
		}
		transactions = append(transactions, domain.NewTransaction(
			ownerID, rec.Kind, rec.Amount, rec.Date, rec.Description, category, account))
	}

	return transactions, nil
}

// readSheet returns the cells of the first worksheet, detecting the workbook
// flavour from its leading bytes rather than trusting the extension.
func readSheet(data []byte) ([][]string, error) {
	switch {
	case bytes.HasPrefix(data, zipMagic):
		return readXLSX(data)
	case bytes.HasPrefix(data, oleMagic):
		return readXLS(data)
	}
	return nil, errors.New("file is neither an xlsx nor an xls workbook")
}

func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

func readXLS(data []byte) ([][]string, error) {
	workbook, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("open xls: %w", err)
	}
	return workbook.ReadAllCells(maxLegacyRows), nil
}
