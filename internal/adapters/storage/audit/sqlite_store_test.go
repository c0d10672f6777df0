package audit

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"rollcall/internal/adapters/storage/storagetest"
	domain "rollcall/internal/domain/audit"
)

func TestSQLiteStore_SaveListGet(t *testing.T) {
	store := NewSQLiteStore(storagetest.Open(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	events := []domain.Event{
		domain.NewEvent("a1", "admin@rollcall.test", "admin", domain.CategorySync, domain.ActionApply).At(base).WithResource("unit", "u1"),
		domain.NewEvent("a1", "admin@rollcall.test", "admin", domain.CategorySync, domain.ActionPreview).At(base.Add(time.Minute)).WithResource("unit", "u1"),
		domain.NewEvent("a2", "l@rollcall.test", "leader", domain.CategorySync, domain.ActionPreview).At(base.Add(2*time.Minute)).WithResource("unit", "u2"),
		domain.NewEvent("a2", "l@rollcall.test", "leader", domain.CategoryAccount, domain.ActionLogin).At(base.Add(3 * time.Minute)),
	}
	for _, e := range events {
		if err := store.Save(ctx, e); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	all, err := store.List(ctx, Filter{}, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 4 || all[0].Action != domain.ActionLogin {
		t.Fatalf("all = %+v, want newest first", all)
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"by category", Filter{Category: domain.CategorySync}, 3},
		{"by action", Filter{Action: domain.ActionPreview}, 2},
		{"by unit", Filter{ResourceType: "unit", ResourceID: "u1"}, 2},
		{"by actor", Filter{ActorID: "a2"}, 2},
		{"time window", Filter{From: base.Add(time.Minute), To: base.Add(2 * time.Minute)}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.List(ctx, tt.filter, 10)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d events, want %d", len(got), tt.want)
			}
		})
	}

	limited, _ := store.List(ctx, Filter{}, 1)
	if len(limited) != 1 {
		t.Errorf("limit ignored: %d", len(limited))
	}

	got, err := store.GetByID(ctx, events[0].ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !got.Timestamp.Equal(base) || got.ResourceID != "u1" {
		t.Errorf("got %+v", got)
	}
}

func TestSQLiteStore_Errors(t *testing.T) {
	store := NewSQLiteStore(storagetest.Open(t))
	ctx := context.Background()

	if err := store.Save(ctx, domain.Event{}); err == nil {
		t.Error("expected error for event without id")
	}
	if _, err := store.GetByID(ctx, "missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("err = %v, want sql.ErrNoRows", err)
	}

	if _, err := store.db.ExecContext(ctx,
		"INSERT INTO audit_event (id, timestamp, category, action, severity) VALUES ('bad', 'noon', 'sync', 'apply', 'info')"); err != nil {
		t.Fatalf("seed event: %v", err)
	}
	if _, err := store.GetByID(ctx, "bad"); err == nil {
		t.Error("expected an error for an unreadable timestamp")
	}
}
