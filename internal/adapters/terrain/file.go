package terrain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"rollcall/internal/domain/roster"
)

// Source fetches one unit's roster.
type Source interface {
	FetchMembers(ctx context.Context, unitID string) (roster.Batch, error)
}

// ErrNoSource is returned when neither a roster file nor an API URL is configured.
var ErrNoSource = errors.New("no roster source: set a roster file or the roster api url")

// NewSource prefers a local export at path and falls back to the roster API.
func NewSource(ctx context.Context, path string, cfg ClientConfig) (Source, error) {
	if path != "" {
		return FileSource{Path: path}, nil
	}
	if cfg.BaseURL == "" {
		return nil, ErrNoSource
	}
	c, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// FileSource serves a roster export from disk. The file is read on every
// fetch; the unit argument is ignored because an export covers one unit.
type FileSource struct {
	Path string
}

// FetchMembers parses the export, choosing the parser by file extension.
// PRE: Path names a .json, .csv or .xlsx file
// POST: Returns the parsed roster
func (f FileSource) FetchMembers(ctx context.Context, _ string) (roster.Batch, error) {
	if err := ctx.Err(); err != nil {
		return roster.Batch{}, err
	}
	file, err := os.Open(f.Path)
	if err != nil {
		return roster.Batch{}, fmt.Errorf("open roster file: %w", err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(f.Path)) {
	case ".json":
		return ParseJSON(file)
	case ".csv":
		return ParseCSV(file)
	case ".xlsx":
		return ParseXLSX(file)
	default:
		return roster.Batch{}, &FormatError{Format: filepath.Ext(f.Path), Reason: "unsupported file type; use .json, .csv or .xlsx"}
	}
}
