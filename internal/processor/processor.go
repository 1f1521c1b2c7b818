// Package processor turns uploaded statement files into transactions.
//
// A Processor parses and validates the whole file before it resolves any
// category or account, so a rejected file leaves no entities behind.
package processor

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/dvloznov/finance-import/internal/domain"
	"github.com/dvloznov/finance-import/internal/jobs"
)

// Processor converts one file into transactions that are ready to persist.
type Processor interface {
	// Name returns the processor identifier.
	Name() string

	// Source is the declared job source this processor serves.
	Source() jobs.Source

	// Extensions lists the lowercase file extensions, with leading dot, the processor accepts.
	Extensions() []string

	// Process reads r and returns one unsaved transaction per source record, in file order.
	Process(ctx context.Context, r io.Reader, ownerID string) ([]*domain.Transaction, error)
}

// EntityStore provides atomic get-or-create for owner-scoped entities.
// Implementations must return the existing row unchanged when (OwnerID, Slug)
// is already taken, including when a concurrent caller created it first.
type EntityStore interface {
	GetOrCreateCategory(ctx context.Context, c *domain.Category) (*domain.Category, error)
	GetOrCreateAccount(ctx context.Context, a *domain.Account) (*domain.Account, error)
}

// Resolver looks up or creates categories and accounts by display name.
type Resolver struct {
	store EntityStore
	slug  func(string) string
}

// NewResolver creates a resolver that derives identifiers with slug.
func NewResolver(store EntityStore, slug func(string) string) *Resolver {
	return &Resolver{store: store, slug: slug}
}

// Category returns the owner's category for name, creating it with note when absent.
func (r *Resolver) Category(ctx context.Context, ownerID, name, note string) (*domain.Category, error) {
	slug := r.slug(name)
	if slug == "" {
		return nil, &InvalidDataError{Field: "category", Reason: "name has no usable characters", Values: []string{name}}
	}
	c, err := r.store.GetOrCreateCategory(ctx, &domain.Category{
		ID:          uuid.New().String(),
		OwnerID:     ownerID,
		Name:        name,
		Slug:        slug,
		Description: note,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve category %q: %w", name, err)
	}
	return c, nil
}

// Account returns the owner's account for name, creating it with a zero balance when absent.
func (r *Resolver) Account(ctx context.Context, ownerID, name, note string) (*domain.Account, error) {
	slug := r.slug(name)
	if slug == "" {
		return nil, &InvalidDataError{Field: "account", Reason: "name has no usable characters", Values: []string{name}}
	}
	a, err := r.store.GetOrCreateAccount(ctx, &domain.Account{
		ID:          uuid.New().String(),
		OwnerID:     ownerID,
		Name:        name,
		Slug:        slug,
		Description: note,
		IsActive:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve account %q: %w", name, err)
	}
	return a, nil
}
