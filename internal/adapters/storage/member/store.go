package member

import (
	"context"

	domain "rollcall/internal/domain/member"
	"rollcall/internal/domain/roster"
	"rollcall/internal/domain/transition"
)

// Store persists Member state.
type Store interface {
	GetByID(ctx context.Context, id string) (domain.Member, error)
	GetByExternalID(ctx context.Context, externalID string) (domain.Member, error)
	ListByUnit(ctx context.Context, unitID string) ([]domain.Member, []*roster.MalformedRecordError, error)
	Save(ctx context.Context, value domain.Member) error
	SaveWithTransition(ctx context.Context, value domain.Member, t transition.Transition) error
	Delete(ctx context.Context, id string) error
}

// Ensure SQLiteStore implements Store interface.
var _ Store = (*SQLiteStore)(nil)
