package processor

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	// TemplateContentType is the media type of the downloadable template.
	TemplateContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	// TemplateFileName is the attachment name of the downloadable template.
	TemplateFileName = "transaction_import_template.xlsx"
)

// WriteTemplate writes an .xlsx workbook holding the required header and one
// example row dated today.
func WriteTemplate(w io.Writer, today time.Time) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	header := make([]interface{}, len(RequiredColumns))
	for i, col := range RequiredColumns {
		header[i] = col
	}
	example := []interface{}{
		today.Format("2006-01-02"),
		"Exemplo de transação",
		100.00,
		"EXPENSE",
		"Alimentação",
		"Conta Principal",
	}

	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("WriteTemplate: header: %w", err)
	}
	if err := f.SetSheetRow(sheet, "A2", &example); err != nil {
		return fmt.Errorf("WriteTemplate: example row: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("WriteTemplate: %w", err)
	}
	return nil
}
