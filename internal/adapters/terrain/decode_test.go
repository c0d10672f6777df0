package terrain

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"rollcall/internal/domain/roster"
	"rollcall/internal/domain/section"
)

func TestParseJSON_Array(t *testing.T) {
	doc := `[
		{"member_id":"X1","name":" Jamie Lee ","date_of_birth":"2012-04-01","section":"Cubs","member_number":"1001","status":"Active"},
		{"member_id":"X2","first_name":"Sam","last_name":"Ng","date_of_birth":"2013-01-02T00:00:00Z","section":"joeys","status":"inactive"}
	]`
	batch, err := ParseJSON(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, batch.Records, 2)
	assert.Empty(t, batch.Rejected)

	jamie := batch.Records[0]
	assert.Equal(t, "X1", jamie.ExternalID)
	assert.Equal(t, "Jamie Lee", jamie.Name)
	assert.Equal(t, section.Section("cubs"), jamie.Section)
	assert.Equal(t, "active", jamie.Status)
	assert.Equal(t, time.Date(2012, 4, 1, 0, 0, 0, 0, time.UTC), jamie.DateOfBirth)

	sam := batch.Records[1]
	assert.Equal(t, "Sam Ng", sam.Name)
	assert.False(t, sam.IsActive())
}

func TestParseJSON_PageObject(t *testing.T) {
	doc := `{"results":[{"member_id":"X1","name":"Jamie","date_of_birth":"not a date"}],"next":""}`
	batch, err := ParseJSON(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Empty(t, batch.Records)
	require.Len(t, batch.Rejected, 1)

	bad := batch.Rejected[0]
	assert.Equal(t, roster.SourceExternal, bad.Source)
	assert.Equal(t, 1, bad.Row)
	assert.Equal(t, "X1", bad.ExternalID)
	assert.Equal(t, "date_of_birth", bad.Field)
}

func TestParseJSON_BlankBirthDateIsNotMalformed(t *testing.T) {
	batch, err := ParseJSON(strings.NewReader(`[{"member_id":"X1","name":"Jamie","date_of_birth":""}]`))
	require.NoError(t, err)
	require.Len(t, batch.Records, 1)
	assert.True(t, batch.Records[0].DateOfBirth.IsZero())
}

func TestParseJSON_FormatErrors(t *testing.T) {
	for _, doc := range []string{"", "   ", "{not json", `[{"name": 5}]`} {
		_, err := ParseJSON(strings.NewReader(doc))
		var fe *FormatError
		assert.True(t, errors.As(err, &fe), "doc %q: err = %v", doc, err)
	}
}

func TestParseCSV(t *testing.T) {
	doc := "\uFEFFMember ID,Full Name,DOB,Section,Member Number,Status,Notes\n" +
		"X1,Jamie Lee,2012-04-01,Cubs,1001,active,keen\n" +
		"X2,Sam Ng,01/02/2013,scouts,1002,active,\n" +
		"X3,Alex Kim,,venturers,,inactive,\n"
	batch, err := ParseCSV(strings.NewReader(doc))
	require.NoError(t, err)

	require.Len(t, batch.Records, 2)
	assert.Equal(t, "X1", batch.Records[0].ExternalID)
	assert.Equal(t, "1001", batch.Records[0].MemberNumber)
	assert.Equal(t, section.Section("cubs"), batch.Records[0].Section)
	assert.Equal(t, "X3", batch.Records[1].ExternalID)
	assert.True(t, batch.Records[1].DateOfBirth.IsZero())

	require.Len(t, batch.Rejected, 1)
	assert.Equal(t, 2, batch.Rejected[0].Row)
	assert.Equal(t, "X2", batch.Rejected[0].ExternalID)
}

func TestParseCSV_FirstAndLastName(t *testing.T) {
	doc := "first_name,last_name,status\nJamie,Lee,active\n"
	batch, err := ParseCSV(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, batch.Records, 1)
	assert.Equal(t, "Jamie Lee", batch.Records[0].Name)
}

func TestParseCSV_MissingNameColumn(t *testing.T) {
	_, err := ParseCSV(strings.NewReader("member_id,dob\nX1,2012-04-01\n"))
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Reason, "NAME")
}

func TestParseCSV_Empty(t *testing.T) {
	_, err := ParseCSV(strings.NewReader(""))
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "csv", fe.Format)
}

func TestParseCSV_BadQuotingRejectsRowOnly(t *testing.T) {
	doc := "name,status\n\"Jamie,active\nSam,active\n"
	batch, err := ParseCSV(strings.NewReader(doc))
	require.NoError(t, err)
	assert.NotEmpty(t, batch.Rejected)
	for _, bad := range batch.Rejected {
		assert.Equal(t, roster.SourceExternal, bad.Source)
	}
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "roster.JSON")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`[{"member_id":"X1","name":"Jamie"}]`), 0o600))
	csvPath := filepath.Join(dir, "roster.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("name\nSam\n"), 0o600))
	txtPath := filepath.Join(dir, "roster.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("Sam"), 0o600))

	batch, err := FileSource{Path: jsonPath}.FetchMembers(t.Context(), "unit-1")
	require.NoError(t, err)
	assert.Len(t, batch.Records, 1)

	batch, err = FileSource{Path: csvPath}.FetchMembers(t.Context(), "unit-1")
	require.NoError(t, err)
	assert.Equal(t, "Sam", batch.Records[0].Name)

	_, err = FileSource{Path: txtPath}.FetchMembers(t.Context(), "unit-1")
	var fe *FormatError
	assert.ErrorAs(t, err, &fe)

	_, err = FileSource{Path: filepath.Join(dir, "missing.csv")}.FetchMembers(t.Context(), "unit-1")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func buildXLSX(t *testing.T, rows [][]string) []byte {
	t.Helper()
	f := excelize.NewFile()
	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	for idx, row := range rows {
		axis, err := excelize.CoordinatesToCellName(1, idx+1)
		require.NoError(t, err)
		cells := make([]any, len(row))
		for i, val := range row {
			cells[i] = val
		}
		require.NoError(t, f.SetSheetRow(sheet, axis, &cells))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	require.NoError(t, f.Close())
	return buf.Bytes()
}

func TestParseXLSX(t *testing.T) {
	data := buildXLSX(t, [][]string{
		{"Member ID", "Name", "Date of Birth", "Section", "Status"},
		{"X1", "Jamie Lee", "2012-04-01", "cubs", "active"},
		{"", "", "", "", ""},
		{"X2", "Sam Ng", "someday", "scouts", "active"},
	})
	batch, err := ParseXLSX(bytes.NewReader(data))
	require.NoError(t, err)

	require.Len(t, batch.Records, 1)
	assert.Equal(t, "Jamie Lee", batch.Records[0].Name)
	require.Len(t, batch.Rejected, 1)
	assert.Equal(t, 2, batch.Rejected[0].Row)
}

func TestParseXLSX_NotAWorkbook(t *testing.T) {
	_, err := ParseXLSX(strings.NewReader("name\nJamie\n"))
	var fe *FormatError
	assert.ErrorAs(t, err, &fe)
}

func TestNewSource(t *testing.T) {
	src, err := NewSource(t.Context(), "roster.csv", ClientConfig{BaseURL: "https://terrain.example"})
	require.NoError(t, err)
	assert.Equal(t, FileSource{Path: "roster.csv"}, src, "a roster file wins over the api")

	src, err = NewSource(t.Context(), "", ClientConfig{BaseURL: "https://terrain.example"})
	require.NoError(t, err)
	assert.IsType(t, &Client{}, src)

	_, err = NewSource(t.Context(), "", ClientConfig{})
	assert.ErrorIs(t, err, ErrNoSource)
}
