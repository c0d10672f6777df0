package projections

import (
	"context"

	domainMember "rollcall/internal/domain/member"
	"rollcall/internal/domain/roster"
	domainTransition "rollcall/internal/domain/transition"
)

// MemberStore interface for member queries.
type MemberStore interface {
	GetByID(ctx context.Context, id string) (domainMember.Member, error)
	ListByUnit(ctx context.Context, unitID string) ([]domainMember.Member, []*roster.MalformedRecordError, error)
}

// TransitionStore interface for transition queries.
type TransitionStore interface {
	ListByMember(ctx context.Context, memberID string) ([]domainTransition.Transition, error)
	ListByUnit(ctx context.Context, unitID string) ([]domainTransition.Transition, error)
}
