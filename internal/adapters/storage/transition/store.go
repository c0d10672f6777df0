package transition

import (
	"context"

	domain "rollcall/internal/domain/transition"
)

// Store persists the append-only member lifecycle history.
type Store interface {
	Append(ctx context.Context, t domain.Transition) error
	ListByMember(ctx context.Context, memberID string) ([]domain.Transition, error)
	ListByUnit(ctx context.Context, unitID string) ([]domain.Transition, error)
}

// Ensure SQLiteStore implements Store interface.
var _ Store = (*SQLiteStore)(nil)
