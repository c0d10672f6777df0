// Package terrain reads youth member rosters from the national membership
// system, either over its paginated HTTP API or from an exported file.
package terrain

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"rollcall/internal/domain/member"
	"rollcall/internal/domain/roster"
	"rollcall/internal/domain/section"
)

// wireMember is one member as the roster API and its JSON exports spell it.
type wireMember struct {
	ID           string `json:"member_id"`
	Name         string `json:"name"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	DateOfBirth  string `json:"date_of_birth"`
	Section      string `json:"section"`
	MemberNumber string `json:"member_number"`
	Status       string `json:"status"`
}

// page is one response from the members endpoint.
type page struct {
	Results []wireMember `json:"results"`
	Next    string       `json:"next"`
}

// FormatError reports a roster document whose overall shape is unusable,
// as opposed to individual bad rows.
type FormatError struct {
	Format string
	Reason string
}

// Error implements the error interface.
func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid %s roster: %s", e.Format, e.Reason)
}

// toRecord converts a wire member, rejecting rows whose birth date does not parse.
func (w wireMember) toRecord(row int) (roster.Record, *roster.MalformedRecordError) {
	name := strings.TrimSpace(w.Name)
	if name == "" {
		name = strings.TrimSpace(strings.TrimSpace(w.FirstName) + " " + strings.TrimSpace(w.LastName))
	}
	rec := roster.Record{
		ExternalID:   strings.TrimSpace(w.ID),
		Name:         name,
		Section:      section.Normalize(w.Section),
		MemberNumber: strings.TrimSpace(w.MemberNumber),
		Status:       strings.ToLower(strings.TrimSpace(w.Status)),
	}
	dob, err := member.ParseDate(w.DateOfBirth)
	if err != nil {
		return roster.Record{}, &roster.MalformedRecordError{
			Source:     roster.SourceExternal,
			Row:        row,
			ExternalID: rec.ExternalID,
			Field:      "date_of_birth",
			Reason:     fmt.Sprintf("%q is not a YYYY-MM-DD date", w.DateOfBirth),
		}
	}
	rec.DateOfBirth = dob
	return rec, nil
}

// appendRows converts wire members into batch, numbering rows from start.
func appendRows(batch *roster.Batch, members []wireMember, start int) {
	for i, w := range members {
		rec, bad := w.toRecord(start + i)
		if bad != nil {
			batch.Rejected = append(batch.Rejected, bad)
			continue
		}
		batch.Records = append(batch.Records, rec)
	}
}

// ParseJSON reads a roster export: either a bare array of members or a single
// API page object with a "results" array.
// PRE: r holds one JSON document
// POST: Returns parsed records and per-row rejections; a *FormatError when the document is unusable
func ParseJSON(r io.Reader) (roster.Batch, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return roster.Batch{}, err
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return roster.Batch{}, &FormatError{Format: "json", Reason: "document is empty"}
	}

	var members []wireMember
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &members); err != nil {
			return roster.Batch{}, &FormatError{Format: "json", Reason: err.Error()}
		}
	} else {
		var p page
		if err := json.Unmarshal(data, &p); err != nil {
			return roster.Batch{}, &FormatError{Format: "json", Reason: err.Error()}
		}
		members = p.Results
	}

	var batch roster.Batch
	appendRows(&batch, members, 1)
	return batch, nil
}

// tableColumns maps accepted header spellings onto wire fields.
var tableColumns = map[string]string{
	"MEMBER_ID":     "id",
	"EXTERNAL_ID":   "id",
	"ID":            "id",
	"NAME":          "name",
	"FULL_NAME":     "name",
	"FIRST_NAME":    "first_name",
	"LAST_NAME":     "last_name",
	"DATE_OF_BIRTH": "date_of_birth",
	"DOB":           "date_of_birth",
	"SECTION":       "section",
	"MEMBER_NUMBER": "member_number",
	"STATUS":        "status",
}

// columns is the position of each wire field in a spreadsheet row.
type columns map[string]int

// readHeader maps a header row. Matching ignores case, surrounding spaces,
// and spaces versus underscores; unknown columns are ignored.
func readHeader(format string, header []string) (columns, error) {
	cols := make(columns, len(header))
	for i, h := range header {
		key := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF")), " ", "_"))
		if field, ok := tableColumns[key]; ok {
			if _, dup := cols[field]; !dup {
				cols[field] = i
			}
		}
	}
	_, hasName := cols["name"]
	_, hasFirst := cols["first_name"]
	if !hasName && !hasFirst {
		return nil, &FormatError{Format: format, Reason: "missing required column: NAME"}
	}
	return cols, nil
}

func (c columns) get(row []string, field string) string {
	i, ok := c[field]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (c columns) member(row []string) wireMember {
	return wireMember{
		ID:           c.get(row, "id"),
		Name:         c.get(row, "name"),
		FirstName:    c.get(row, "first_name"),
		LastName:     c.get(row, "last_name"),
		DateOfBirth:  c.get(row, "date_of_birth"),
		Section:      c.get(row, "section"),
		MemberNumber: c.get(row, "member_number"),
		Status:       c.get(row, "status"),
	}
}

// blank reports whether every cell of row is empty. Spreadsheets often
// carry formatted but empty trailing rows.
func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// ParseCSV reads a roster spreadsheet export with a header row.
// PRE: r is a CSV stream with a header row naming NAME or FIRST_NAME/LAST_NAME
// POST: Returns parsed records and per-row rejections; rows are numbered from 1 after the header
func ParseCSV(r io.Reader) (roster.Batch, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return roster.Batch{}, &FormatError{Format: "csv", Reason: "missing header row"}
	}
	if err != nil {
		return roster.Batch{}, &FormatError{Format: "csv", Reason: err.Error()}
	}
	cols, err := readHeader("csv", header)
	if err != nil {
		return roster.Batch{}, err
	}

	var batch roster.Batch
	rowNum := 0
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		rowNum++
		if err != nil {
			batch.Rejected = append(batch.Rejected, &roster.MalformedRecordError{
				Source: roster.SourceExternal, Row: rowNum, Field: "row", Reason: err.Error(),
			})
			continue
		}
		appendRows(&batch, []wireMember{cols.member(row)}, rowNum)
	}
	return batch, nil
}

// ParseXLSX reads the first sheet of a roster workbook. The layout matches
// ParseCSV; fully blank rows are skipped and not numbered.
// PRE: r is an XLSX workbook whose first sheet starts with a header row
// POST: Returns parsed records and per-row rejections
func ParseXLSX(r io.Reader) (roster.Batch, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return roster.Batch{}, &FormatError{Format: "xlsx", Reason: err.Error()}
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return roster.Batch{}, &FormatError{Format: "xlsx", Reason: "workbook has no sheets"}
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return roster.Batch{}, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return roster.Batch{}, &FormatError{Format: "xlsx", Reason: "missing header row"}
	}
	cols, err := readHeader("xlsx", rows[0])
	if err != nil {
		return roster.Batch{}, err
	}

	var batch roster.Batch
	rowNum := 0
	for _, row := range rows[1:] {
		if blank(row) {
			continue
		}
		rowNum++
		appendRows(&batch, []wireMember{cols.member(row)}, rowNum)
	}
	return batch, nil
}
