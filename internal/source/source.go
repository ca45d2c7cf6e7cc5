// Package source loads raw attempt rows from files and databases. Rows are
// returned unvalidated; attempt.Parse owns validation.
package source

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/abhisek/bktrace/internal/attempt"
)

// Source supplies a batch of raw attempt rows.
type Source interface {
	Load(ctx context.Context) ([]attempt.Raw, error)
}

// Config selects and tunes a source.
type Config struct {
	// URI is a file path, "sqlite:<path>", or a postgres:// URL.
	URI string
	// Sheet is the XLSX sheet to read; empty means the first sheet.
	Sheet string
	// Table is the Postgres table to read; empty means "attempts".
	Table string
}

// Open returns the source for cfg.URI, chosen by scheme or file extension.
func Open(cfg Config) (Source, error) {
	uri := strings.TrimSpace(cfg.URI)
	if uri == "" {
		return nil, fmt.Errorf("no input source given")
	}

	switch {
	case strings.HasPrefix(uri, "postgres://"), strings.HasPrefix(uri, "postgresql://"):
		return &Postgres{URL: uri, Table: cfg.Table}, nil
	case strings.HasPrefix(uri, "sqlite:"):
		return &SQLite{Path: strings.TrimPrefix(uri, "sqlite:")}, nil
	}

	switch strings.ToLower(filepath.Ext(uri)) {
	case ".json":
		return &JSONFile{Path: uri}, nil
	case ".jsonl", ".ndjson":
		return &JSONFile{Path: uri, Lines: true}, nil
	case ".csv":
		return &CSVFile{Path: uri}, nil
	case ".xlsx", ".xlsm":
		return &XLSXFile{Path: uri, Sheet: cfg.Sheet}, nil
	case ".db", ".sqlite", ".sqlite3":
		return &SQLite{Path: uri}, nil
	}
	return nil, fmt.Errorf("unsupported input %q: want .json, .jsonl, .csv, .xlsx, sqlite: or postgres://", uri)
}

// Load opens cfg and parses its rows into an attempt log.
func Load(ctx context.Context, cfg Config) (*attempt.Log, error) {
	src, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	rows, err := src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", cfg.URI, err)
	}
	log, err := attempt.Parse(rows)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", cfg.URI, err)
	}
	return log, nil
}

// tabular converts a header row plus data rows into raw rows. Blank cells
// are omitted so they read as absent fields.
func tabular(header []string, rows [][]string) []attempt.Raw {
	names := make([]string, len(header))
	for i, h := range header {
		names[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	out := make([]attempt.Raw, 0, len(rows))
	for _, row := range rows {
		if blank(row) {
			continue
		}
		raw := make(attempt.Raw, len(names))
		for i, name := range names {
			if name == "" || i >= len(row) {
				continue
			}
			if v := strings.TrimSpace(row[i]); v != "" {
				raw[name] = v
			}
		}
		out = append(out, raw)
	}
	return out
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
