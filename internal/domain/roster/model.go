package roster

import (
	"fmt"
	"strings"
	"time"

	"rollcall/internal/domain/section"
)

// StatusActive is the roster status of a current member. Any other status
// means the roster source no longer considers the person a member.
const StatusActive = "active"

// Record is one member as reported by the external roster source.
type Record struct {
	ExternalID   string          `json:"external_id"`
	Name         string          `json:"name"`
	DateOfBirth  time.Time       `json:"date_of_birth"`
	Section      section.Section `json:"section"`
	MemberNumber string          `json:"member_number,omitempty"`
	Status       string          `json:"status"`
}

// IsActive reports whether the source considers the member current.
func (r Record) IsActive() bool {
	return strings.EqualFold(strings.TrimSpace(r.Status), StatusActive)
}

// DerivedStage is the stage implied by the roster status:
// member when active, retired otherwise.
func (r Record) DerivedStage() section.Stage {
	if r.IsActive() {
		return section.StageMember
	}
	return section.StageRetired
}

// Validate checks the fields a record needs before it can be reconciled.
// PRE: none
// POST: Returns a *MalformedRecordError naming the first bad field, nil otherwise
func (r Record) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return &MalformedRecordError{Source: SourceExternal, ExternalID: r.ExternalID, Field: "name", Reason: "is required"}
	}
	return nil
}

// Batch is a fully materialised roster fetch: the records that parsed and the
// rows that were rejected while parsing.
// Rows are numbered from 1 across both slices in source order.
type Batch struct {
	Records  []Record
	Rejected []*MalformedRecordError
}

// RecordRows returns the source row of each record: the row numbers not
// taken by a rejection, in order.
// PRE: Rejected rows are numbered within 1..len(Records)+len(Rejected)
// POST: len(result) == len(Records)
func (b Batch) RecordRows() []int {
	taken := make(map[int]bool, len(b.Rejected))
	for _, r := range b.Rejected {
		taken[r.Row] = true
	}
	rows := make([]int, 0, len(b.Records))
	for row := 1; len(rows) < len(b.Records); row++ {
		if !taken[row] {
			rows = append(rows, row)
		}
	}
	return rows
}

// Record sources for MalformedRecordError.
const (
	SourceExternal = "external"
	SourceLocal    = "local"
)

// MalformedRecordError reports a single record that cannot be reconciled,
// e.g. an unparseable date or a missing required field. It never aborts a batch.
type MalformedRecordError struct {
	Source     string // SourceExternal or SourceLocal
	Row        int    // 1-based position in the source, 0 when unknown
	ExternalID string
	MemberID   string
	Field      string
	Reason     string
}

// Error implements the error interface.
func (e *MalformedRecordError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "malformed %s record", e.Source)
	if e.Row > 0 {
		fmt.Fprintf(&b, " (row %d)", e.Row)
	}
	if e.ExternalID != "" {
		fmt.Fprintf(&b, " external_id=%s", e.ExternalID)
	}
	if e.MemberID != "" {
		fmt.Fprintf(&b, " member_id=%s", e.MemberID)
	}
	fmt.Fprintf(&b, ": %s %s", e.Field, e.Reason)
	return b.String()
}
