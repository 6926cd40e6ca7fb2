package store

import (
	"context"

	"github.com/google/uuid"

	"medisched/backend/internal/domain"
)

// ProviderDirectory resolves provider identity and weekly availability rules.
// Providers are managed elsewhere; the scheduling core only reads them.
type ProviderDirectory interface {
	// GetProvider returns the provider with its availability rules loaded,
	// or ErrNotFound.
	GetProvider(ctx context.Context, id uuid.UUID) (domain.Provider, error)
	ListActiveProviders(ctx context.Context) ([]domain.Provider, error)
}

// UserDirectory confirms that a requesting user exists.
type UserDirectory interface {
	UserExists(ctx context.Context, id string) (bool, error)
}
