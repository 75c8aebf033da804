// Package export writes query results to Parquet files and answers ad-hoc
// SQL over them through DuckDB.
//
// Exports are a data-export surface for offline analysis, not the
// engine's durability story: the engine stays in-memory.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/metron/internal/logging"
	"github.com/xtxerr/metron/internal/query"
)

var log = logging.Component("export")

// BucketRow is one output bucket in Parquet format.
type BucketRow struct {
	Metric string  `parquet:"metric,zstd"`
	Group  string  `parquet:"group,optional,zstd"`
	Time   float64 `parquet:"time"`
	Value  float64 `parquet:"value"`
}

// Info describes a completed export.
type Info struct {
	Path string `json:"path"`
	Rows int    `json:"rows"`
}

// Exporter writes query responses to Parquet files under one directory.
type Exporter struct {
	mu  sync.Mutex
	dir string
}

// NewExporter creates an exporter, creating the directory if needed.
func NewExporter(dir string) (*Exporter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	return &Exporter{dir: dir}, nil
}

// Dir returns the export directory.
func (e *Exporter) Dir() string { return e.dir }

// Export flattens a query response into bucket rows and writes them to a
// new Parquet file named after the metric and the current time.
func (e *Exporter) Export(metric string, resp *query.Response) (Info, error) {
	rows := make([]BucketRow, 0, 64)
	for _, g := range resp.Groups {
		for _, pt := range g.Series {
			rows = append(rows, BucketRow{
				Metric: metric,
				Group:  g.Label,
				Time:   pt.Time,
				Value:  pt.Value,
			})
		}
	}

	name := fmt.Sprintf("%s-%d.parquet", sanitize(metric), time.Now().UnixNano())
	path := filepath.Join(e.dir, name)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := writeRows(path, rows); err != nil {
		return Info{}, err
	}

	log.Info("exported query result", "metric", metric, "rows", len(rows), "path", path)
	return Info{Path: path, Rows: len(rows)}, nil
}

// writeRows writes rows to a Parquet file, replacing any partial file on
// failure.
func writeRows(path string, rows []BucketRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}

	w := parquet.NewGenericWriter[BucketRow](f, parquet.Compression(&parquet.Zstd))
	if _, err := w.Write(rows); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write rows: %w", err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("close writer: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("close file: %w", err)
	}
	return nil
}

// ReadRows reads every bucket row of a Parquet export. Used by tests and
// tooling; the SQL service is the usual read path.
func ReadRows(path string) ([]BucketRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := parquet.NewGenericReader[BucketRow](f)
	defer r.Close()

	var out []BucketRow
	buf := make([]BucketRow, 1024)
	for {
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			break
		}
	}
	return out, nil
}

// sanitize keeps file names to a safe character set.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}
