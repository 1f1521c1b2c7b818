package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the direction of a transaction. The stored amount never carries a sign;
// direction lives here.
type Kind string

const (
	KindIncome  Kind = "INCOME"
	KindExpense Kind = "EXPENSE"
)

// ParseKind accepts exactly "INCOME" or "EXPENSE".
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindIncome, KindExpense:
		return Kind(s), nil
	}
	return "", fmt.Errorf("invalid transaction kind %q", s)
}

// KindFromSignedAmount maps a source-signed amount to a kind: strictly positive
// amounts are income, everything else (including zero) is an expense.
func KindFromSignedAmount(amount decimal.Decimal) Kind {
	if amount.IsPositive() {
		return KindIncome
	}
	return KindExpense
}

// Transaction is the canonical financial event produced by an import.
// It is constructed by a processor and persisted by the import pipeline.
type Transaction struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	ImportJobID string          `json:"import_job_id,omitempty"`
	Kind        Kind            `json:"kind_of_transaction"`
	Amount      decimal.Decimal `json:"amount"`
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	Category    *Category       `json:"category"`
	Account     *Account        `json:"account"`
	CreatedAt   time.Time       `json:"created_at"`
}

// NewTransaction builds a transaction, normalising the amount to its absolute value.
func NewTransaction(ownerID string, kind Kind, amount decimal.Decimal, date time.Time, description string, category *Category, account *Account) *Transaction {
	return &Transaction{
		OwnerID:     ownerID,
		Kind:        kind,
		Amount:      amount.Abs(),
		Date:        date,
		Description: description,
		Category:    category,
		Account:     account,
	}
}
