package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-import/internal/domain"
	"github.com/dvloznov/finance-import/internal/jobs"
	"github.com/dvloznov/finance-import/internal/processor"
)

func TestRunner_SingleRowImport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	content := workbook(t, header(),
		[]interface{}{"2024-03-26", "Test Transaction", "100.00", "EXPENSE", "Test Category", "Test Account"})
	jobID := h.submit(t, "owner-1", jobs.SourceTabular, "march.xlsx", content)

	require.Len(t, h.publisher.messages, 1)
	msg := h.publisher.messages[0]
	require.NoError(t, h.runner(nil).Handle(ctx, msg))

	job, err := h.store.GetJob(ctx, "owner-1", jobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, job.TotalItems)
	assert.Equal(t, 1, job.ProcessedItems)
	assert.Empty(t, job.ErrorMessage)
	assert.Equal(t, msg.TaskID, job.TaskID)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.FinishedAt)
	assert.False(t, h.fileExists(t, job.FileKey))

	txs, err := h.store.ListTransactions(ctx, "owner-1", jobID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, decimal.RequireFromString("100.00").Equal(txs[0].Amount))
	assert.Equal(t, domain.KindExpense, txs[0].Kind)
	assert.Equal(t, "Test Transaction", txs[0].Description)
	assert.Equal(t, time.Date(2024, 3, 26, 0, 0, 0, 0, time.UTC), txs[0].Date)

	categories, err := h.store.ListCategories(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, categories, 1)
	assert.Equal(t, "Test Category", categories[0].Name)

	accounts, err := h.store.ListAccounts(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "Test Account", accounts[0].Name)
	assert.True(t, accounts[0].Balance.IsZero())
}

func TestRunner_UnsupportedFormat(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	jobID := h.submit(t, "owner-1", jobs.SourceManual, "export.csv", []byte("date,amount\n"))
	err := h.runner(nil).Handle(ctx, h.publisher.messages[0])
	require.Error(t, err)
	assert.ErrorIs(t, err, processor.ErrUnsupportedFormat)

	job, err := h.store.GetJob(ctx, "owner-1", jobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, ".csv")
	assert.Zero(t, job.TotalItems)
	assert.Zero(t, job.ProcessedItems)
	assert.NotNil(t, job.FinishedAt)
	assert.False(t, h.fileExists(t, job.FileKey))
}

func TestRunner_PartialFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	content := workbook(t, header(),
		[]interface{}{"2024-03-26", "Coffee", "4.50", "EXPENSE", "Food", "Wallet"},
		[]interface{}{"2024-03-27", "Salary", "3000", "INCOME", "Salary", "Bank"})
	jobID := h.submit(t, "owner-1", jobs.SourceTabular, "two.xlsx", content)

	sink := &failingSink{next: h.store, failOn: 2, err: errors.New("simulated constraint violation")}
	require.NoError(t, h.runner(sink).Handle(ctx, h.publisher.messages[0]))

	job, err := h.store.GetJob(ctx, "owner-1", jobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusCompleted, job.Status)
	assert.Equal(t, 2, job.TotalItems)
	assert.Equal(t, 1, job.ProcessedItems)
	assert.Equal(t, "Error processing transaction 2 (Salary): simulated constraint violation\n", job.ErrorMessage)
	assert.False(t, h.fileExists(t, job.FileKey))

	txs, err := h.store.ListTransactions(ctx, "owner-1", jobID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "Coffee", txs[0].Description)
}

func TestRunner_InvalidDataHasNoSideEffects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	content := workbook(t, header(),
		[]interface{}{"2024-03-26", "Refund", "10", "REFUND", "Shopping", "Card"})
	jobID := h.submit(t, "owner-1", jobs.SourceTabular, "bad.xlsx", content)

	err := h.runner(nil).Handle(ctx, h.publisher.messages[0])
	assert.ErrorIs(t, err, processor.ErrInvalidData)

	job, err := h.store.GetJob(ctx, "owner-1", jobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "REFUND")

	categories, err := h.store.ListCategories(ctx, "owner-1")
	require.NoError(t, err)
	assert.Empty(t, categories)
	accounts, err := h.store.ListAccounts(ctx, "owner-1")
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestRunner_MissingFile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	content := workbook(t, header())
	jobID := h.submit(t, "owner-1", jobs.SourceTabular, "gone.xlsx", content)
	job, err := h.store.GetJob(ctx, "owner-1", jobID)
	require.NoError(t, err)
	require.NoError(t, h.blobs.Delete(ctx, job.FileKey))

	require.Error(t, h.runner(nil).Handle(ctx, h.publisher.messages[0]))

	job, err = h.store.GetJob(ctx, "owner-1", jobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "source file unavailable")
}

func TestRunner_RefusesJobNotProcessing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	content := workbook(t, header())
	job, err := h.service.Register(ctx, "owner-1", jobs.SourceTabular, "later.xlsx", strings.NewReader(string(content)))
	require.NoError(t, err)

	err = h.runner(nil).Run(ctx, "owner-1", job.ID)
	assert.ErrorIs(t, err, jobs.ErrInvalidTransition)

	got, err := h.store.GetJob(ctx, "owner-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusPending, got.Status)
	assert.True(t, h.fileExists(t, job.FileKey))

	err = h.runner(nil).Run(ctx, "owner-2", job.ID)
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}

func TestRunner_StopsWhenReaped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	content := workbook(t, header(),
		[]interface{}{"2024-03-26", "Coffee", "4.50", "EXPENSE", "Food", "Wallet"},
		[]interface{}{"2024-03-27", "Tea", "3.00", "EXPENSE", "Food", "Wallet"})
	jobID := h.submit(t, "owner-1", jobs.SourceTabular, "slow.xlsx", content)

	sink := &reapingSink{next: h.store, store: h.store}
	err := h.runner(sink).Handle(ctx, h.publisher.messages[0])
	assert.ErrorIs(t, err, jobs.ErrInvalidTransition)
	assert.Equal(t, 1, sink.calls, "run stops at the first refused checkpoint")

	job, err := h.store.GetJob(ctx, "owner-1", jobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, job.Status)
	assert.Equal(t, "timed out", job.ErrorMessage)
	assert.False(t, h.fileExists(t, job.FileKey))
}

// reapingSink expires the job before persisting the first row.
type reapingSink struct {
	next  TransactionSink
	store jobs.JobStore
	calls int
}

func (s *reapingSink) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	s.calls++
	if s.calls == 1 {
		if _, err := s.store.ExpireJob(ctx, tx.OwnerID, tx.ImportJobID, time.Now().Add(time.Hour), "timed out"); err != nil {
			return err
		}
	}
	return s.next.CreateTransaction(ctx, tx)
}

func TestRunner_MirrorFailuresAreIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	content := workbook(t, header(),
		[]interface{}{"2024-03-26", "Coffee", "4.50", "EXPENSE", "Food", "Wallet"})
	jobID := h.submit(t, "owner-1", jobs.SourceTabular, "mirror.xlsx", content)

	mirror := &recordingMirror{err: errors.New("warehouse down")}
	require.NoError(t, h.runner(nil, WithMirror(mirror)).Handle(ctx, h.publisher.messages[0]))

	job, err := h.store.GetJob(ctx, "owner-1", jobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, job.ProcessedItems)
	assert.Empty(t, job.ErrorMessage)

	require.Len(t, mirror.txs, 1)
	assert.Equal(t, jobID, mirror.txs[0].ImportJobID)
	require.Len(t, mirror.runs, 1)
	assert.Equal(t, jobs.JobStatusCompleted, mirror.runs[0].Status)
}

func TestRunner_CancelledRunFails(t *testing.T) {
	h := newHarness(t)

	content := workbook(t, header(),
		[]interface{}{"2024-03-26", "Coffee", "4.50", "EXPENSE", "Food", "Wallet"},
		[]interface{}{"2024-03-27", "Tea", "3.00", "EXPENSE", "Food", "Wallet"})
	jobID := h.submit(t, "owner-1", jobs.SourceTabular, "cancel.xlsx", content)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &cancellingSink{next: h.store, cancel: cancel}
	err := h.runner(sink).Handle(ctx, h.publisher.messages[0])
	assert.ErrorIs(t, err, context.Canceled)

	job, err := h.store.GetJob(context.Background(), "owner-1", jobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, job.Status)
	assert.Equal(t, 2, job.TotalItems)
	assert.Equal(t, 1, job.ProcessedItems)
	assert.Contains(t, job.ErrorMessage, "interrupted after 1 of 2 rows")
	assert.False(t, h.fileExists(t, job.FileKey))
}

// cancellingSink cancels the run's context after persisting the first row.
type cancellingSink struct {
	next   TransactionSink
	cancel context.CancelFunc
}

func (s *cancellingSink) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	defer s.cancel()
	return s.next.CreateTransaction(ctx, tx)
}
