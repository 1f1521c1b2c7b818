package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	k, err := ParseKind("INCOME")
	require.NoError(t, err)
	assert.Equal(t, KindIncome, k)

	k, err = ParseKind("EXPENSE")
	require.NoError(t, err)
	assert.Equal(t, KindExpense, k)

	for _, bad := range []string{"REFUND", "income", "", " EXPENSE"} {
		_, err := ParseKind(bad)
		assert.Error(t, err, bad)
	}
}

func TestKindFromSignedAmount(t *testing.T) {
	assert.Equal(t, KindIncome, KindFromSignedAmount(decimal.RequireFromString("50.00")))
	assert.Equal(t, KindExpense, KindFromSignedAmount(decimal.RequireFromString("-50.00")))
	assert.Equal(t, KindExpense, KindFromSignedAmount(decimal.Zero))
}

func TestNewTransaction_AbsoluteAmount(t *testing.T) {
	tx := NewTransaction("owner-1", KindExpense, decimal.RequireFromString("-100.00"),
		time.Date(2024, 3, 26, 0, 0, 0, 0, time.UTC), "Test", nil, nil)
	assert.Equal(t, "100.00", tx.Amount.StringFixed(2))
	assert.Equal(t, KindExpense, tx.Kind)
}

func TestSimpleSlug(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Test Category", "test-category"},
		{"Conta Principal", "conta-principal"},
		{"Alimentação", "alimentação"},
		{"already-slugged", "already-slugged"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SimpleSlug(tt.in))
		})
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Test Category", "test-category"},
		{"Alimentação Básica", "alimentacao-basica"},
		{"  DEBIT  ", "debit"},
		{"TEST-ACCOUNT", "test-account"},
		{"Conta   Corrente -- 01", "conta-corrente-01"},
		{"Café & Co.", "cafe-co"},
		{"Outros", "outros"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Slugify(tt.in))
		})
	}
}
