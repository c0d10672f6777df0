// Package export writes sync plans as spreadsheets for leaders to review.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"rollcall/internal/domain/member"
	"rollcall/internal/domain/rostersync"
)

// Header is the column layout shared by every export format.
var Header = []string{
	"action", "row", "member_id", "external_id", "name", "date_of_birth",
	"section", "changes", "transition", "reason",
}

// SheetName is the worksheet the XLSX export writes to.
const SheetName = "Sync plan"

// Rows flattens a result into export rows: additions, then updates, then
// diagnostics, each in input order.
func Rows(res rostersync.Result) [][]string {
	rows := make([][]string, 0, len(res.Plan.ToAdd)+len(res.Plan.ToUpdate)+len(res.Diagnostics))
	for _, a := range res.Plan.ToAdd {
		rows = append(rows, []string{
			string(rostersync.ActionAdd), "", "", a.Record.ExternalID, a.Record.Name,
			member.FormatDate(a.Record.DateOfBirth), string(a.Record.Section),
			"", string(a.TransitionKind), rostersync.ReasonNewMember,
		})
	}
	for _, u := range res.Plan.ToUpdate {
		rows = append(rows, []string{
			string(u.Action), "", u.MemberID, u.Record.ExternalID, u.Record.Name,
			member.FormatDate(u.Record.DateOfBirth), string(u.Record.Section),
			FormatChanges(u.FieldChanges), string(u.TransitionKind), u.Reason,
		})
	}
	for _, d := range res.Diagnostics {
		row := ""
		if d.Row > 0 {
			row = strconv.Itoa(d.Row)
		}
		rows = append(rows, []string{
			d.Kind, row, d.MemberID, d.ExternalID, d.Name, "", "", "", "", d.Reason,
		})
	}
	return rows
}

// FormatChanges renders field changes as "field: from -> to" pairs sorted by field.
func FormatChanges(changes map[string]rostersync.FieldChange) string {
	parts := make([]string, 0, len(changes))
	for _, field := range slices.Sorted(maps.Keys(changes)) {
		c := changes[field]
		parts = append(parts, fmt.Sprintf("%s: %q -> %q", field, c.From, c.To))
	}
	return strings.Join(parts, "; ")
}

// WritePlanCSV writes res as CSV with a header row.
// PRE: w is writable
// POST: All rows are flushed to w or an error is returned
func WritePlanCSV(w io.Writer, res rostersync.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	if err := cw.WriteAll(Rows(res)); err != nil {
		return fmt.Errorf("write plan csv: %w", err)
	}
	return nil
}

// WritePlanXLSX writes res as a single-sheet workbook with a frozen, bold header row.
// PRE: w is writable
// POST: The complete workbook is written to w or an error is returned
func WritePlanXLSX(w io.Writer, res rostersync.Result) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return err
	}

	rows := append([][]string{Header}, Rows(res)...)
	for i, row := range rows {
		axis, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		cells := make([]any, len(row))
		for j, v := range row {
			cells[j] = v
		}
		if err := f.SetSheetRow(SheetName, axis, &cells); err != nil {
			return fmt.Errorf("write plan row %d: %w", i+1, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(Header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetName, "A1", last, bold); err != nil {
		return err
	}
	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
	}); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write plan xlsx: %w", err)
	}
	return nil
}
