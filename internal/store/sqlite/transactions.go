package sqlite

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-import/internal/domain"
)

// ErrForeignEntity is returned when a transaction references a category or
// account that does not belong to the transaction's owner.
var ErrForeignEntity = errors.New("category or account not owned by transaction owner")

// CreateTransaction persists tx. The category and account must belong to
// tx.OwnerID; the insert is skipped and ErrForeignEntity returned otherwise.
func (s *Store) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.Category == nil || tx.Account == nil {
		return fmt.Errorf("CreateTransaction: category and account are required")
	}
	if tx.Amount.IsNegative() {
		return fmt.Errorf("CreateTransaction: amount %s is negative", tx.Amount)
	}
	if _, err := domain.ParseKind(string(tx.Kind)); err != nil {
		return fmt.Errorf("CreateTransaction: %w", err)
	}
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = s.now()
	}

	var jobID any
	if tx.ImportJobID != "" {
		jobID = tx.ImportJobID
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, owner_id, import_job_id, kind, amount, date, description, category_id, account_id, created_at)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM categories WHERE id = ? AND owner_id = ?)
		  AND EXISTS (SELECT 1 FROM accounts WHERE id = ? AND owner_id = ?)`,
		tx.ID, tx.OwnerID, jobID, string(tx.Kind), tx.Amount.String(), formatTime(tx.Date), tx.Description,
		tx.Category.ID, tx.Account.ID, formatTime(tx.CreatedAt),
		tx.Category.ID, tx.OwnerID, tx.Account.ID, tx.OwnerID)
	if err != nil {
		return fmt.Errorf("CreateTransaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("CreateTransaction: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("CreateTransaction: %w", ErrForeignEntity)
	}
	return nil
}

// ListTransactions returns the owner's transactions, optionally restricted to
// one import job, in date order. Category and Account carry only id and name.
func (s *Store) ListTransactions(ctx context.Context, ownerID, jobID string) ([]*domain.Transaction, error) {
	query := `
		SELECT t.id, t.owner_id, COALESCE(t.import_job_id, ''), t.kind, t.amount, t.date, t.description, t.created_at,
		       c.id, c.name, a.id, a.name
		FROM transactions t
		JOIN categories c ON c.id = t.category_id
		JOIN accounts a ON a.id = t.account_id
		WHERE t.owner_id = ?`
	args := []any{ownerID}
	if jobID != "" {
		query += ` AND t.import_job_id = ?`
		args = append(args, jobID)
	}
	query += ` ORDER BY t.date, t.created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		var (
			tx              domain.Transaction
			kind, amount    string
			date, createdAt string
			category        domain.Category
			account         domain.Account
		)
		if err := rows.Scan(&tx.ID, &tx.OwnerID, &tx.ImportJobID, &kind, &amount, &date, &tx.Description, &createdAt,
			&category.ID, &category.Name, &account.ID, &account.Name); err != nil {
			return nil, fmt.Errorf("ListTransactions: scanning: %w", err)
		}
		tx.Kind = domain.Kind(kind)
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("ListTransactions: amount: %w", err)
		}
		if tx.Date, err = parseTime(date); err != nil {
			return nil, fmt.Errorf("ListTransactions: date: %w", err)
		}
		if tx.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("ListTransactions: created_at: %w", err)
		}
		category.OwnerID, account.OwnerID = tx.OwnerID, tx.OwnerID
		tx.Category, tx.Account = &category, &account
		out = append(out, &tx)
	}
	return out, rows.Err()
}
