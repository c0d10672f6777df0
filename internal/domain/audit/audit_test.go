package audit_test

import (
	"testing"
	"time"

	"rollcall/internal/domain/audit"
)

func TestNewEvent_Builder(t *testing.T) {
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.FixedZone("NZST", 12*3600))

	e := audit.NewEvent("a1", "admin@rollcall.test", "admin", audit.CategorySync, audit.ActionApply).
		At(at).
		WithSeverity(audit.SeverityWarning).
		WithResource("unit", "unit-1").
		WithDescription("applied 3 changes").
		WithRequest("10.0.0.1", "curl").
		WithMetadata(`{"adds":1}`)

	if e.ID == "" {
		t.Error("ID not generated")
	}
	if !e.Timestamp.Equal(at) || e.Timestamp.Location() != time.UTC {
		t.Errorf("timestamp = %v, want %v in UTC", e.Timestamp, at)
	}
	if e.Category != audit.CategorySync || e.Action != audit.ActionApply || e.Severity != audit.SeverityWarning {
		t.Errorf("classification = %s/%s/%s", e.Category, e.Action, e.Severity)
	}
	if e.ResourceType != "unit" || e.ResourceID != "unit-1" || e.IPAddress != "10.0.0.1" || e.Metadata != `{"adds":1}` {
		t.Errorf("event = %+v", e)
	}
}

func TestNewEvent_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := audit.NewEvent("a", "", "", audit.CategorySystem, audit.ActionCreate).ID
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
