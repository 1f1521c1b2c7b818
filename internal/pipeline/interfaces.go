package pipeline

import (
	"context"

	"github.com/dvloznov/finance-import/internal/domain"
	"github.com/dvloznov/finance-import/internal/jobs"
	"github.com/dvloznov/finance-import/internal/processor"
)

// ProcessorFactory selects a processor for a file extension.
type ProcessorFactory interface {
	ForExtension(ext string) (processor.Processor, error)
}

// SourceResolver reports which declared source an extension belongs to.
type SourceResolver interface {
	SourceFor(ext string) (jobs.Source, bool)
	Supported() []string
}

// TransactionSink persists one transaction.
type TransactionSink interface {
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
}

// Mirror receives copies of persisted data for reporting. Its failures never
// change the outcome of an import.
type Mirror interface {
	MirrorTransaction(ctx context.Context, tx *domain.Transaction) error
	RecordImportRun(ctx context.Context, job *jobs.ImportJob) error
}
