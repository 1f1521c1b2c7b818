package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/finance-import/internal/domain"
	"github.com/dvloznov/finance-import/internal/jobs"
)

// TransactionRow mirrors one persisted transaction.
type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED
	OwnerID       string `bigquery:"owner_id"`       // REQUIRED

	ImportJobID bigquery.NullString `bigquery:"import_job_id"` // NULLABLE

	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED
	Amount          *big.Rat   `bigquery:"amount"`           // REQUIRED NUMERIC, never negative
	Kind            string     `bigquery:"kind"`             // REQUIRED INCOME|EXPENSE

	Description string `bigquery:"description"` // REQUIRED

	CategoryID   string `bigquery:"category_id"`   // REQUIRED
	CategoryName string `bigquery:"category_name"` // REQUIRED
	AccountID    string `bigquery:"account_id"`    // REQUIRED
	AccountName  string `bigquery:"account_name"`  // REQUIRED

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
}

// ImportRunRow records the terminal state of one import job.
type ImportRunRow struct {
	ImportJobID    string                 `bigquery:"import_job_id"`
	OwnerID        string                 `bigquery:"owner_id"`
	Source         string                 `bigquery:"source"`
	Status         string                 `bigquery:"status"`
	TaskID         bigquery.NullString    `bigquery:"task_id"`
	TotalItems     int64                  `bigquery:"total_items"`
	ProcessedItems int64                  `bigquery:"processed_items"`
	ErrorMessage   bigquery.NullString    `bigquery:"error_message"`
	StartedTS      bigquery.NullTimestamp `bigquery:"started_ts"`
	FinishedTS     bigquery.NullTimestamp `bigquery:"finished_ts"`
	RecordedTS     time.Time              `bigquery:"recorded_ts"`
}

// NewTransactionRow converts a persisted transaction to its warehouse row.
func NewTransactionRow(tx *domain.Transaction) *TransactionRow {
	row := &TransactionRow{
		TransactionID:   tx.ID,
		OwnerID:         tx.OwnerID,
		TransactionDate: civil.DateOf(tx.Date),
		Amount:          tx.Amount.Abs().Rat(),
		Kind:            string(tx.Kind),
		Description:     tx.Description,
		CreatedTS:       tx.CreatedAt,
	}
	if tx.ImportJobID != "" {
		row.ImportJobID = bigquery.NullString{StringVal: tx.ImportJobID, Valid: true}
	}
	if tx.Category != nil {
		row.CategoryID, row.CategoryName = tx.Category.ID, tx.Category.Name
	}
	if tx.Account != nil {
		row.AccountID, row.AccountName = tx.Account.ID, tx.Account.Name
	}
	if row.CreatedTS.IsZero() {
		row.CreatedTS = time.Now().UTC()
	}
	return row
}

// NewImportRunRow converts a job to its warehouse row.
func NewImportRunRow(job *jobs.ImportJob, recordedAt time.Time) *ImportRunRow {
	row := &ImportRunRow{
		ImportJobID:    job.ID,
		OwnerID:        job.OwnerID,
		Source:         string(job.Source),
		Status:         string(job.Status),
		TotalItems:     int64(job.TotalItems),
		ProcessedItems: int64(job.ProcessedItems),
		RecordedTS:     recordedAt,
	}
	if job.TaskID != "" {
		row.TaskID = bigquery.NullString{StringVal: job.TaskID, Valid: true}
	}
	if job.ErrorMessage != "" {
		row.ErrorMessage = bigquery.NullString{StringVal: job.ErrorMessage, Valid: true}
	}
	if job.StartedAt != nil {
		row.StartedTS = bigquery.NullTimestamp{Timestamp: *job.StartedAt, Valid: true}
	}
	if job.FinishedAt != nil {
		row.FinishedTS = bigquery.NullTimestamp{Timestamp: *job.FinishedAt, Valid: true}
	}
	return row
}
