package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

const insertBatchSize = 500

// loadSQLite streams a CSV file into t inside a single transaction. The header row
// names the columns; empty cells become NULL.
func (s *Store) loadSQLite(ctx context.Context, t Table, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.ReuseRecord = true
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("%s: empty file, expected a header row", path)
		}
		return 0, fmt.Errorf("%s: failed to read header: %w", path, err)
	}
	columns, err := headerColumns(t, header)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.Name, strings.Join(columns, ", "), placeholders))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	types := make([]Column, len(columns))
	for i, name := range columns {
		types[i], _ = t.Column(name)
	}

	var n int64
	args := make([]any, len(columns))
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, fmt.Errorf("%s: %w", path, err)
		}
		for i, v := range record {
			args[i] = cellValue(types[i], v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			line, _ := r.FieldPos(0)
			return n, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		n++
		if n%insertBatchSize == 0 {
			if err := ctx.Err(); err != nil {
				return n, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return n, fmt.Errorf("failed to commit: %w", err)
	}
	return n, nil
}

// loadDuckDB lets duckdb parse the CSV itself and inserts by column name.
func (s *Store) loadDuckDB(ctx context.Context, t Table, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	header, err := csv.NewReader(f).Read()
	f.Close()
	if err != nil {
		return 0, fmt.Errorf("%s: failed to read header: %w", path, err)
	}
	if _, err := headerColumns(t, header); err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}

	quoted := strings.ReplaceAll(path, "'", "''")
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO %s BY NAME SELECT * FROM read_csv('%s', header = true, all_varchar = true)",
		t.Name, quoted,
	))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// headerColumns validates a CSV header against the table and returns the trimmed
// column names.
func headerColumns(t Table, header []string) ([]string, error) {
	if len(header) == 0 {
		return nil, errors.New("header row is empty")
	}
	columns := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		name := strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if !t.HasColumn(name) {
			return nil, fmt.Errorf("%w: column %q is not part of table %s", ErrSchemaMismatch, name, t.Name)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: column %q appears twice", ErrSchemaMismatch, name)
		}
		seen[name] = true
		columns[i] = name
	}
	return columns, nil
}

// cellValue converts a CSV cell into the value bound for col. Booleans are stored
// as 1/0 and numbers as INTEGER or REAL so that comparisons in generated SQL behave
// like they do against a pandas-loaded table. Cells that do not parse are kept as
// text.
func cellValue(col Column, v string) any {
	if v == "" {
		return nil
	}
	typ := strings.ToLower(col.Type)
	switch {
	case typ == "boolean":
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "t", "1", "yes":
			return int64(1)
		case "false", "f", "0", "no":
			return int64(0)
		}
	case typ == "int":
		s := strings.TrimSpace(v)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
		// Integer columns with gaps are exported as floats ("3.0").
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) {
			return int64(f)
		}
	case typ == "float" || strings.HasPrefix(typ, "numeric"):
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return v
}
