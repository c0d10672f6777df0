package member

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"rollcall/internal/adapters/storage"
	domain "rollcall/internal/domain/member"
	"rollcall/internal/domain/roster"
	"rollcall/internal/domain/section"
	"rollcall/internal/domain/transition"
)

const timeLayout = time.RFC3339Nano

const selectColumns = "SELECT id, unit_id, external_id, name, date_of_birth, section, member_number, created_at, updated_at FROM member"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new MemberStore.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// GetByID retrieves a Member by its ID.
// PRE: id is non-empty
// POST: Returns the entity or an error wrapping sql.ErrNoRows if not found
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (domain.Member, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id)
	entity, err := scanMember(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Member{}, fmt.Errorf("member not found: %w", err)
	}
	return entity, err
}

// GetByExternalID retrieves a Member by the roster system's identifier.
// PRE: externalID is non-empty
// POST: Returns the entity or an error wrapping sql.ErrNoRows if not found
func (s *SQLiteStore) GetByExternalID(ctx context.Context, externalID string) (domain.Member, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" WHERE external_id = ?", externalID)
	entity, err := scanMember(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Member{}, fmt.Errorf("member not found: %w", err)
	}
	return entity, err
}

// ListByUnit returns every member of a unit in creation order.
// A stored date or timestamp that no longer parses does not fail the listing:
// the member is returned without it and the row is reported in rejected.
// PRE: unitID is non-empty
// POST: Returns the unit's population, empty when it has none
func (s *SQLiteStore) ListByUnit(ctx context.Context, unitID string) ([]domain.Member, []*roster.MalformedRecordError, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+" WHERE unit_id = ? ORDER BY created_at, id", unitID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var results []domain.Member
	var rejected []*roster.MalformedRecordError
	for rows.Next() {
		entity, err := scanMember(rows.Scan)
		var colErr *columnError
		if errors.As(err, &colErr) {
			rejected = append(rejected, &roster.MalformedRecordError{
				Source:     roster.SourceLocal,
				Row:        len(results) + 1,
				ExternalID: entity.ExternalID,
				MemberID:   entity.ID,
				Field:      colErr.column,
				Reason:     fmt.Sprintf("%q is not a valid %s", colErr.raw, strings.ReplaceAll(colErr.column, "_", " ")),
			})
		} else if err != nil {
			return nil, nil, err
		}
		results = append(results, entity)
	}
	return results, rejected, rows.Err()
}

// Save persists a Member to the database.
// PRE: entity has been validated
// POST: Entity is persisted (insert or update)
func (s *SQLiteStore) Save(ctx context.Context, entity domain.Member) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := upsert(ctx, tx, entity); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveWithTransition persists a Member and appends one lifecycle transition atomically.
// PRE: entity and t have been validated; t.MemberID == entity.ID
// POST: Both rows are written, or neither is
func (s *SQLiteStore) SaveWithTransition(ctx context.Context, entity domain.Member, t transition.Transition) error {
	if t.MemberID != entity.ID {
		return fmt.Errorf("transition member %q does not match member %q", t.MemberID, entity.ID)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := upsert(ctx, tx, entity); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO member_transition (id, member_id, kind, section, date, notes, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		t.ID,
		t.MemberID,
		string(t.Kind),
		string(t.Section),
		domain.FormatDate(t.Date),
		t.Notes,
		t.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Delete removes a Member and its transitions.
// PRE: id is non-empty
// POST: Entity with given id is removed
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM member WHERE id = ?", id)
	return err
}

func upsert(ctx context.Context, tx *sql.Tx, entity domain.Member) error {
	fields := []string{"id", "unit_id", "external_id", "name", "date_of_birth", "section", "member_number", "created_at", "updated_at"}
	placeholders := strings.Repeat("?, ", len(fields)-1) + "?"
	updates := []string{
		"unit_id=excluded.unit_id",
		"external_id=excluded.external_id",
		"name=excluded.name",
		"date_of_birth=excluded.date_of_birth",
		"section=excluded.section",
		"member_number=excluded.member_number",
		"updated_at=excluded.updated_at",
	}

	query := fmt.Sprintf(
		"INSERT INTO member (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s",
		strings.Join(fields, ", "),
		placeholders,
		strings.Join(updates, ", "),
	)

	_, err := tx.ExecContext(ctx, query,
		entity.ID,
		entity.UnitID,
		nullable(entity.ExternalID),
		entity.Name,
		nullable(domain.FormatDate(entity.DateOfBirth)),
		string(entity.Section),
		nullable(entity.MemberNumber),
		entity.CreatedAt.UTC().Format(timeLayout),
		entity.UpdatedAt.UTC().Format(timeLayout),
	)
	return err
}

// nullable stores empty strings as NULL so the unique external_id index ignores them.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// scanMember extracts a Member from a row scanner function.
func scanMember(scan func(dest ...any) error) (domain.Member, error) {
	var entity domain.Member
	var externalID, dob, memberNumber sql.NullString
	var sec, createdAt, updatedAt string
	err := scan(
		&entity.ID,
		&entity.UnitID,
		&externalID,
		&entity.Name,
		&dob,
		&sec,
		&memberNumber,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return domain.Member{}, err
	}
	entity.ExternalID = externalID.String
	entity.MemberNumber = memberNumber.String
	entity.Section = section.Section(sec)

	// the first unreadable column is reported; the rest of the row is kept
	var bad *columnError
	if entity.DateOfBirth, err = domain.ParseDate(dob.String); err != nil {
		entity.DateOfBirth = time.Time{}
		bad = &columnError{column: "date_of_birth", raw: dob.String, err: err}
	}
	if entity.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil && bad == nil {
		bad = &columnError{column: "created_at", raw: createdAt, err: err}
	}
	if entity.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil && bad == nil {
		bad = &columnError{column: "updated_at", raw: updatedAt, err: err}
	}
	if bad != nil {
		return entity, bad
	}
	return entity, nil
}

// columnError marks a row whose other columns scanned fine.
type columnError struct {
	column string
	raw    string
	err    error
}

func (e *columnError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.column, e.raw, e.err)
}

func (e *columnError) Unwrap() error { return e.err }
