package export

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb"
)

// SQLService answers ad-hoc SQL over the exported Parquet files using an
// in-memory DuckDB database. Queries reference the exports through the
// `buckets` view, which reads every Parquet file in the export directory.
type SQLService struct {
	db  *sql.DB
	dir string
}

// NewSQLService opens the in-memory database.
func NewSQLService(dir string) (*SQLService, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return &SQLService{db: db, dir: dir}, nil
}

// Close closes the database.
func (s *SQLService) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Result is a generic tabular query result.
type Result struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Query runs one SQL statement. The `buckets` view is (re)created first so
// new exports are always visible.
func (s *SQLService) Query(ctx context.Context, sqlText string) (*Result, error) {
	glob := filepath.Join(s.dir, "*.parquet")
	create := fmt.Sprintf(
		"CREATE OR REPLACE VIEW buckets AS SELECT * FROM read_parquet('%s')", glob)
	if _, err := s.db.ExecContext(ctx, create); err != nil {
		return nil, fmt.Errorf("create buckets view: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	result := &Result{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return result, nil
}
