package transition

import (
	"context"
	"fmt"
	"time"

	"rollcall/internal/adapters/storage"
	"rollcall/internal/domain/member"
	"rollcall/internal/domain/section"
	domain "rollcall/internal/domain/transition"
)

const timeLayout = time.RFC3339Nano

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new transition store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Append records a transition. Transitions are never updated in place.
// PRE: t has been validated
// POST: t is persisted
func (s *SQLiteStore) Append(ctx context.Context, t domain.Transition) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO member_transition (id, member_id, kind, section, date, notes, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		t.ID, t.MemberID, string(t.Kind), string(t.Section), member.FormatDate(t.Date), t.Notes, t.CreatedAt.UTC().Format(timeLayout))
	return err
}

// ListByMember returns a member's transitions oldest first.
// PRE: memberID is non-empty
// POST: Returns the history, empty when none is recorded
func (s *SQLiteStore) ListByMember(ctx context.Context, memberID string) ([]domain.Transition, error) {
	return s.list(ctx,
		"SELECT id, member_id, kind, section, date, notes, created_at FROM member_transition WHERE member_id = ? ORDER BY date, created_at, id",
		memberID)
}

// ListByUnit returns the transitions of every member in a unit, grouped by
// member and oldest first within a member.
// PRE: unitID is non-empty
// POST: Returns all transitions for the unit's members
func (s *SQLiteStore) ListByUnit(ctx context.Context, unitID string) ([]domain.Transition, error) {
	return s.list(ctx,
		`SELECT t.id, t.member_id, t.kind, t.section, t.date, t.notes, t.created_at
		 FROM member_transition t JOIN member m ON m.id = t.member_id
		 WHERE m.unit_id = ? ORDER BY t.member_id, t.date, t.created_at, t.id`,
		unitID)
}

func (s *SQLiteStore) list(ctx context.Context, query string, arg string) ([]domain.Transition, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.Transition
	for rows.Next() {
		var t domain.Transition
		var kind, sec, date, createdAt string
		if err := rows.Scan(&t.ID, &t.MemberID, &kind, &sec, &date, &t.Notes, &createdAt); err != nil {
			return nil, err
		}
		t.Kind = section.Stage(kind)
		t.Section = section.Section(sec)
		if t.Date, err = member.ParseDate(date); err != nil {
			return nil, fmt.Errorf("transition %s date: %w", t.ID, err)
		}
		if t.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("transition %s created_at: %w", t.ID, err)
		}
		results = append(results, t)
	}
	return results, rows.Err()
}
