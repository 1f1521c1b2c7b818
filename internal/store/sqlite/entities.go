package sqlite

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-import/internal/domain"
	"github.com/dvloznov/finance-import/internal/processor"
)

// GetOrCreateCategory inserts c unless the owner already has a category with
// the same slug, then returns whichever row is stored. The UNIQUE(owner_id, slug)
// constraint makes concurrent callers converge on one row.
func (s *Store) GetOrCreateCategory(ctx context.Context, c *domain.Category) (*domain.Category, error) {
	if c.OwnerID == "" || c.Slug == "" {
		return nil, fmt.Errorf("GetOrCreateCategory: owner and slug are required")
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, owner_id, name, slug, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, slug) DO NOTHING`,
		c.ID, c.OwnerID, c.Name, c.Slug, c.Description, formatTime(s.now())); err != nil {
		return nil, fmt.Errorf("GetOrCreateCategory: inserting: %w", err)
	}
	return s.categoryBySlug(ctx, c.OwnerID, c.Slug)
}

func (s *Store) categoryBySlug(ctx context.Context, ownerID, slug string) (*domain.Category, error) {
	var (
		c         domain.Category
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, slug, description, created_at
		FROM categories WHERE owner_id = ? AND slug = ?`, ownerID, slug).
		Scan(&c.ID, &c.OwnerID, &c.Name, &c.Slug, &c.Description, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("reading category %q: %w", slug, err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("reading category %q: created_at: %w", slug, err)
	}
	return &c, nil
}

// GetOrCreateAccount inserts a with a zero balance unless the owner already has
// an account with the same slug, then returns whichever row is stored.
func (s *Store) GetOrCreateAccount(ctx context.Context, a *domain.Account) (*domain.Account, error) {
	if a.OwnerID == "" || a.Slug == "" {
		return nil, fmt.Errorf("GetOrCreateAccount: owner and slug are required")
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, owner_id, name, slug, description, balance, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, slug) DO NOTHING`,
		a.ID, a.OwnerID, a.Name, a.Slug, a.Description, decimal.Zero.StringFixed(2), true, formatTime(s.now())); err != nil {
		return nil, fmt.Errorf("GetOrCreateAccount: inserting: %w", err)
	}
	return s.accountBySlug(ctx, a.OwnerID, a.Slug)
}

func (s *Store) accountBySlug(ctx context.Context, ownerID, slug string) (*domain.Account, error) {
	var (
		a         domain.Account
		balance   string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, slug, description, balance, is_active, created_at
		FROM accounts WHERE owner_id = ? AND slug = ?`, ownerID, slug).
		Scan(&a.ID, &a.OwnerID, &a.Name, &a.Slug, &a.Description, &balance, &a.IsActive, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("reading account %q: %w", slug, err)
	}
	if a.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("reading account %q: balance: %w", slug, err)
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("reading account %q: created_at: %w", slug, err)
	}
	return &a, nil
}

// ListCategories returns the owner's categories ordered by slug.
func (s *Store) ListCategories(ctx context.Context, ownerID string) ([]*domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, slug, description, created_at
		FROM categories WHERE owner_id = ? ORDER BY slug`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ListCategories: %w", err)
	}
	defer rows.Close()

	var out []*domain.Category
	for rows.Next() {
		var (
			c         domain.Category
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Slug, &c.Description, &createdAt); err != nil {
			return nil, fmt.Errorf("ListCategories: scanning: %w", err)
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("ListCategories: created_at: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// ListAccounts returns the owner's accounts ordered by slug.
func (s *Store) ListAccounts(ctx context.Context, ownerID string) ([]*domain.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, slug, description, balance, is_active, created_at
		FROM accounts WHERE owner_id = ? ORDER BY slug`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ListAccounts: %w", err)
	}
	defer rows.Close()

	var out []*domain.Account
	for rows.Next() {
		var (
			a         domain.Account
			balance   string
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.Name, &a.Slug, &a.Description, &balance, &a.IsActive, &createdAt); err != nil {
			return nil, fmt.Errorf("ListAccounts: scanning: %w", err)
		}
		if a.Balance, err = decimal.NewFromString(balance); err != nil {
			return nil, fmt.Errorf("ListAccounts: balance: %w", err)
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("ListAccounts: created_at: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

var _ processor.EntityStore = (*Store)(nil)
