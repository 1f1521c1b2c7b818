package bigquery

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/dvloznov/finance-import/internal/domain"
	"github.com/dvloznov/finance-import/internal/jobs"
)

func TestNewTransactionRow(t *testing.T) {
	created := time.Date(2024, 3, 27, 9, 0, 0, 0, time.UTC)
	tx := &domain.Transaction{
		ID:          "tx-1",
		OwnerID:     "alice",
		ImportJobID: "job-1",
		Kind:        domain.KindExpense,
		Amount:      decimal.RequireFromString("100.50"),
		Date:        time.Date(2024, 3, 26, 0, 0, 0, 0, time.UTC),
		Description: "Test Transaction",
		Category:    &domain.Category{ID: "cat-1", Name: "Test Category"},
		Account:     &domain.Account{ID: "acc-1", Name: "Test Account"},
		CreatedAt:   created,
	}

	row := NewTransactionRow(tx)
	assert.Equal(t, "tx-1", row.TransactionID)
	assert.Equal(t, bigquery.NullString{StringVal: "job-1", Valid: true}, row.ImportJobID)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.March, Day: 26}, row.TransactionDate)
	assert.Equal(t, "201/2", row.Amount.String())
	assert.Equal(t, "EXPENSE", row.Kind)
	assert.Equal(t, "Test Category", row.CategoryName)
	assert.Equal(t, "acc-1", row.AccountID)
	assert.Equal(t, created, row.CreatedTS)

	tx.ImportJobID = ""
	tx.CreatedAt = time.Time{}
	row = NewTransactionRow(tx)
	assert.False(t, row.ImportJobID.Valid)
	assert.False(t, row.CreatedTS.IsZero())
}

func TestNewImportRunRow(t *testing.T) {
	started := time.Date(2024, 3, 26, 10, 0, 0, 0, time.UTC)
	recorded := started.Add(time.Minute)
	job := &jobs.ImportJob{
		ID:             "job-1",
		OwnerID:        "alice",
		Source:         jobs.SourceTabular,
		Status:         jobs.JobStatusCompleted,
		TaskID:         "task-1",
		TotalItems:     2,
		ProcessedItems: 1,
		ErrorMessage:   "Error processing transaction: boom\n",
		StartedAt:      &started,
	}

	row := NewImportRunRow(job, recorded)
	assert.Equal(t, "COMPLETED", row.Status)
	assert.Equal(t, int64(2), row.TotalItems)
	assert.Equal(t, int64(1), row.ProcessedItems)
	assert.True(t, row.ErrorMessage.Valid)
	assert.True(t, row.StartedTS.Valid)
	assert.False(t, row.FinishedTS.Valid)
	assert.Equal(t, recorded, row.RecordedTS)
}

func TestSchemasInfer(t *testing.T) {
	schema, err := bigquery.InferSchema(TransactionRow{})
	require.NoError(t, err)
	assert.NotEmpty(t, schema)

	_, err = bigquery.InferSchema(ImportRunRow{})
	require.NoError(t, err)
}

func TestIsAlreadyExists(t *testing.T) {
	assert.True(t, isAlreadyExists(&googleapi.Error{Code: http.StatusConflict}))
	assert.False(t, isAlreadyExists(&googleapi.Error{Code: http.StatusNotFound}))
	assert.False(t, isAlreadyExists(errors.New("boom")))
	assert.False(t, isAlreadyExists(nil))
}
