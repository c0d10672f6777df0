package audit

import (
	"context"
	"time"

	domain "rollcall/internal/domain/audit"
)

// Store defines the interface for audit event persistence.
type Store interface {
	// Save persists an audit event.
	// PRE: event has an ID
	// POST: Event is persisted
	Save(ctx context.Context, event domain.Event) error

	// List returns audit events with optional filtering.
	// PRE: none; limit <= 0 means DefaultLimit
	// POST: Returns events ordered by timestamp desc
	List(ctx context.Context, filter Filter, limit int) ([]domain.Event, error)

	// GetByID retrieves a specific audit event.
	// PRE: id is non-empty
	// POST: Returns the event or error if not found
	GetByID(ctx context.Context, id string) (domain.Event, error)
}

// DefaultLimit caps List when the caller gives no limit.
const DefaultLimit = 100

// Filter defines query parameters for listing audit events.
// Zero values match everything.
type Filter struct {
	Category     domain.Category
	Action       domain.Action
	ActorID      string
	ResourceType string
	ResourceID   string
	From         time.Time
	To           time.Time
}

// Ensure SQLiteStore implements Store interface.
var _ Store = (*SQLiteStore)(nil)
