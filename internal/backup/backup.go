package backup

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ces-budgetfix/internal/store"
)

var header = []string{"site_id", "year", "month", "generation", "revenue", "created_at", "updated_at"}

// Writer persists per-site budget snapshots as CSV files under
// <dir>/<runID>/<siteID>.csv. Snapshots are written once, fsynced, and never
// mutated; they are the sole recovery path before a site's rows are deleted.
type Writer struct {
	dir string
}

// NewWriter creates a snapshot writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Write captures a site's existing rows to a durable snapshot file and
// returns its path. An empty row set still produces a (header-only) file, so
// restoration of a previously-empty site is representable. The file is synced
// to disk before Write returns; deletion must not proceed on error.
func (w *Writer) Write(runID, siteID string, rows []store.BudgetRow) (string, error) {
	runDir := filepath.Join(w.dir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	path := filepath.Join(runDir, siteID+".csv")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create backup file %s: %w", path, err)
	}

	cw := csv.NewWriter(f)
	if err := cw.Write(header); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write backup header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.SiteID,
			strconv.Itoa(row.Year),
			strconv.Itoa(row.Month),
			strconv.FormatFloat(row.Generation, 'f', -1, 64),
			strconv.FormatFloat(row.Revenue, 'f', -1, 64),
			row.CreatedAt.UTC().Format(time.RFC3339Nano),
			row.UpdatedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := cw.Write(record); err != nil {
			f.Close()
			return "", fmt.Errorf("failed to write backup row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to flush backup: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to sync backup file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close backup file: %w", err)
	}
	if err := syncDir(runDir); err != nil {
		return "", err
	}

	return path, nil
}

// Read loads a snapshot file back into budget rows, suitable for re-insertion
// with identical keys, values and timestamps.
func Read(path string) ([]store.BudgetRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup file %s: %w", path, err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse backup file %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("backup file %s has no header", path)
	}

	var rows []store.BudgetRow
	for i, record := range records[1:] {
		if len(record) != len(header) {
			return nil, fmt.Errorf("backup file %s row %d: expected %d fields, got %d", path, i+2, len(header), len(record))
		}
		row, err := parseRow(record)
		if err != nil {
			return nil, fmt.Errorf("backup file %s row %d: %w", path, i+2, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseRow(record []string) (store.BudgetRow, error) {
	var row store.BudgetRow
	var err error

	row.SiteID = record[0]
	if row.Year, err = strconv.Atoi(record[1]); err != nil {
		return row, fmt.Errorf("bad year: %w", err)
	}
	if row.Month, err = strconv.Atoi(record[2]); err != nil {
		return row, fmt.Errorf("bad month: %w", err)
	}
	if row.Generation, err = strconv.ParseFloat(record[3], 64); err != nil {
		return row, fmt.Errorf("bad generation: %w", err)
	}
	if row.Revenue, err = strconv.ParseFloat(record[4], 64); err != nil {
		return row, fmt.Errorf("bad revenue: %w", err)
	}
	if row.CreatedAt, err = time.Parse(time.RFC3339Nano, record[5]); err != nil {
		return row, fmt.Errorf("bad created_at: %w", err)
	}
	if row.UpdatedAt, err = time.Parse(time.RFC3339Nano, record[6]); err != nil {
		return row, fmt.Errorf("bad updated_at: %w", err)
	}
	return row, nil
}

// syncDir fsyncs a directory so a freshly created snapshot survives a crash.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open backup directory for sync: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync backup directory: %w", err)
	}
	return nil
}
