package processor

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/dvloznov/finance-import/internal/domain"
)

// fakeEntityStore is an in-memory EntityStore keyed by (owner, slug).
type fakeEntityStore struct {
	mu         sync.Mutex
	categories map[string]*domain.Category
	accounts   map[string]*domain.Account
	creates    int
}

func newFakeEntityStore() *fakeEntityStore {
	return &fakeEntityStore{
		categories: map[string]*domain.Category{},
		accounts:   map[string]*domain.Account{},
	}
}

func (s *fakeEntityStore) GetOrCreateCategory(ctx context.Context, c *domain.Category) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := c.OwnerID + "/" + c.Slug
	if existing, ok := s.categories[key]; ok {
		return existing, nil
	}
	s.categories[key] = c
	s.creates++
	return c, nil
}

func (s *fakeEntityStore) GetOrCreateAccount(ctx context.Context, a *domain.Account) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := a.OwnerID + "/" + a.Slug
	if existing, ok := s.accounts[key]; ok {
		return existing, nil
	}
	s.accounts[key] = a
	s.creates++
	return a, nil
}

func (s *fakeEntityStore) createCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

// buildWorkbook writes rows to the first sheet of a fresh .xlsx file.
func buildWorkbook(t *testing.T, rows ...[]interface{}) *bytes.Buffer {
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
	return buf
}

func header() []interface{} {
	return []interface{}{"date", "description", "amount", "kind_of_transaction", "category", "account"}
}
