// Package bigquery mirrors imported transactions and import runs into a
// BigQuery dataset for reporting. The sqlite store stays authoritative.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/dvloznov/finance-import/internal/domain"
	"github.com/dvloznov/finance-import/internal/jobs"
)

// DefaultImportRunsTable receives one row per finished import job.
const DefaultImportRunsTable = "import_runs"

// Exporter streams rows into the transactions and import-runs tables.
type Exporter struct {
	client            *bigquery.Client
	datasetID         string
	transactionsTable string
	importRunsTable   string
	now               func() time.Time
}

// NewExporter creates a BigQuery client for project.
func NewExporter(ctx context.Context, projectID, datasetID, transactionsTable string, opts ...option.ClientOption) (*Exporter, error) {
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewExporter: bigquery client: %w", err)
	}
	return NewExporterWithClient(client, datasetID, transactionsTable), nil
}

// NewExporterWithClient wraps an existing client.
func NewExporterWithClient(client *bigquery.Client, datasetID, transactionsTable string) *Exporter {
	return &Exporter{
		client:            client,
		datasetID:         datasetID,
		transactionsTable: transactionsTable,
		importRunsTable:   DefaultImportRunsTable,
		now:               time.Now,
	}
}

// Close closes the BigQuery client connection.
func (e *Exporter) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// MirrorTransaction streams one persisted transaction.
func (e *Exporter) MirrorTransaction(ctx context.Context, tx *domain.Transaction) error {
	return InsertTransactionsWithClient(ctx, e.client, e.datasetID, e.transactionsTable, []*TransactionRow{NewTransactionRow(tx)})
}

// RecordImportRun streams the final state of job.
func (e *Exporter) RecordImportRun(ctx context.Context, job *jobs.ImportJob) error {
	row := NewImportRunRow(job, e.now().UTC())
	table := e.client.Dataset(e.datasetID).Table(e.importRunsTable)
	if err := table.Inserter().Put(ctx, []*ImportRunRow{row}); err != nil {
		return fmt.Errorf("RecordImportRun: inserting row: %w", err)
	}
	return nil
}

// InsertTransactionsWithClient inserts a batch of TransactionRow into
// dataset.table using the provided BigQuery client.
func InsertTransactionsWithClient(ctx context.Context, client *bigquery.Client, datasetID, tableID string, rows []*TransactionRow) error {
	if len(rows) == 0 {
		return nil
	}
	inserter := client.Dataset(datasetID).Table(tableID).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("InsertTransactions: inserting rows: %w", err)
	}
	return nil
}

// EnsureTables creates the mirror tables when they do not exist yet. The
// transactions table is partitioned by transaction_date.
func (e *Exporter) EnsureTables(ctx context.Context) ([]string, error) {
	txSchema, err := bigquery.InferSchema(TransactionRow{})
	if err != nil {
		return nil, fmt.Errorf("EnsureTables: transactions schema: %w", err)
	}
	runSchema, err := bigquery.InferSchema(ImportRunRow{})
	if err != nil {
		return nil, fmt.Errorf("EnsureTables: import runs schema: %w", err)
	}

	specs := []struct {
		name string
		meta *bigquery.TableMetadata
	}{
		{e.transactionsTable, &bigquery.TableMetadata{
			Schema:           txSchema,
			TimePartitioning: &bigquery.TimePartitioning{Field: "transaction_date"},
		}},
		{e.importRunsTable, &bigquery.TableMetadata{Schema: runSchema}},
	}

	var created []string
	for _, spec := range specs {
		err := e.client.Dataset(e.datasetID).Table(spec.name).Create(ctx, spec.meta)
		if isAlreadyExists(err) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("EnsureTables: creating %s: %w", spec.name, err)
		}
		created = append(created, spec.name)
	}
	return created, nil
}

func isAlreadyExists(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusConflict
}
