package pipeline

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/dvloznov/finance-import/internal/blob"
	"github.com/dvloznov/finance-import/internal/domain"
	"github.com/dvloznov/finance-import/internal/jobs"
	"github.com/dvloznov/finance-import/internal/processor"
	"github.com/dvloznov/finance-import/internal/store/sqlite"
)

type harness struct {
	store     *sqlite.Store
	blobs     *blob.LocalStore
	factory   *processor.Factory
	publisher *capturePublisher
	service   *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "imports.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	blobs, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	factory := processor.NewDefaultFactory(store)
	pub := &capturePublisher{}
	return &harness{
		store:     store,
		blobs:     blobs,
		factory:   factory,
		publisher: pub,
		service:   NewService(store, blobs, factory, pub),
	}
}

// submit registers and triggers an upload, returning the job id.
func (h *harness) submit(t *testing.T, owner string, source jobs.Source, name string, content []byte) string {
	t.Helper()
	ctx := context.Background()
	job, err := h.service.Register(ctx, owner, source, name, bytes.NewReader(content))
	require.NoError(t, err)
	_, err = h.service.Trigger(ctx, owner, job.ID)
	require.NoError(t, err)
	return job.ID
}

func (h *harness) runner(sink TransactionSink, opts ...RunnerOption) *Runner {
	if sink == nil {
		sink = h.store
	}
	return NewRunner(h.store, h.blobs, h.factory, sink, opts...)
}

func (h *harness) fileExists(t *testing.T, key string) bool {
	t.Helper()
	rc, err := h.blobs.Open(context.Background(), key)
	if errors.Is(err, blob.ErrNotFound) {
		return false
	}
	require.NoError(t, err)
	_ = rc.Close()
	return true
}

type capturePublisher struct {
	mu       sync.Mutex
	messages []*jobs.ProcessImportMessage
	err      error
}

func (p *capturePublisher) PublishImport(ctx context.Context, msg *jobs.ProcessImportMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

// failingSink fails the n-th (1-based) transaction and delegates the rest.
type failingSink struct {
	next   TransactionSink
	failOn int
	calls  int
	err    error
}

func (s *failingSink) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	s.calls++
	if s.calls == s.failOn {
		return s.err
	}
	return s.next.CreateTransaction(ctx, tx)
}

// memorySink keeps transactions in memory.
type memorySink struct {
	mu  sync.Mutex
	txs []*domain.Transaction
}

func (s *memorySink) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = append(s.txs, tx)
	return nil
}

func (s *memorySink) all() []*domain.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.Transaction(nil), s.txs...)
}

type recordingMirror struct {
	mu   sync.Mutex
	txs  []*domain.Transaction
	runs []jobs.ImportJob
	err  error
}

func (m *recordingMirror) MirrorTransaction(ctx context.Context, tx *domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs = append(m.txs, tx)
	return m.err
}

func (m *recordingMirror) RecordImportRun(ctx context.Context, job *jobs.ImportJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, *job)
	return m.err
}

func workbook(t *testing.T, rows ...[]interface{}) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		r := row
		require.NoError(t, f.SetSheetRow(sheet, cell, &r))
	}
	buf := &bytes.Buffer{}
	require.NoError(t, f.Write(buf))
	return buf.Bytes()
}

func header() []interface{} {
	return []interface{}{"date", "description", "amount", "kind_of_transaction", "category", "account"}
}
