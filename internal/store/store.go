package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ces-budgetfix/internal/budget"
)

// BudgetRow is one persisted site_budgets row.
type BudgetRow struct {
	SiteID     string
	Year       int
	Month      int
	Generation float64
	Revenue    float64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SchemeSite is a site row belonging to the scheme's organization.
type SchemeSite struct {
	SiteID    string
	SchemeRef string
}

// Store provides site and budget access against Postgres.
type Store struct {
	db *sql.DB
}

// New creates a store over an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// SchemeSites returns all sites owned by the named account. Scheme sites are
// stored with the scheme reference number as the site name.
func (s *Store) SchemeSites(ctx context.Context, accountName string) ([]SchemeSite, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.name
		FROM sites s
		JOIN accounts a ON a.id = s.organization_id
		WHERE a.name ILIKE $1
		ORDER BY s.name
	`, "%"+accountName+"%")
	if err != nil {
		return nil, &PersistenceError{Op: "query scheme sites", Err: err}
	}
	defer rows.Close()

	var sites []SchemeSite
	for rows.Next() {
		var site SchemeSite
		if err := rows.Scan(&site.SiteID, &site.SchemeRef); err != nil {
			return nil, &PersistenceError{Op: "scan scheme site", Err: err}
		}
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "iterate scheme sites", Err: err}
	}
	return sites, nil
}

// SiteBudgets returns every budget row for a site, ordered by year and month.
func (s *Store) SiteBudgets(ctx context.Context, siteID string) ([]BudgetRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT site_id, year, month, generation, revenue, created_at, updated_at
		FROM site_budgets
		WHERE site_id = $1
		ORDER BY year, month
	`, siteID)
	if err != nil {
		return nil, &PersistenceError{Op: "read budgets", SiteID: siteID, Err: err}
	}
	defer rows.Close()

	var budgets []BudgetRow
	for rows.Next() {
		var row BudgetRow
		var revenue sql.NullFloat64
		if err := rows.Scan(&row.SiteID, &row.Year, &row.Month, &row.Generation, &revenue, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, &PersistenceError{Op: "scan budget row", SiteID: siteID, Err: err}
		}
		row.Revenue = revenue.Float64
		budgets = append(budgets, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "iterate budgets", SiteID: siteID, Err: err}
	}
	return budgets, nil
}

// DeleteSiteBudgets removes every budget row for a site in one transaction and
// returns the number of rows deleted.
func (s *Store) DeleteSiteBudgets(ctx context.Context, siteID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM site_budgets WHERE site_id = $1`, siteID)
	if err != nil {
		return 0, &PersistenceError{Op: "delete budgets", SiteID: siteID, Err: err}
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, &PersistenceError{Op: "delete budgets", SiteID: siteID, Err: err}
	}
	return deleted, nil
}

// InsertBudgets persists one batch of generated records in a single
// transaction. Generation and revenue are rounded to two decimal places here,
// at the persistence boundary, never earlier.
func (s *Store) InsertBudgets(ctx context.Context, siteID string, records []budget.Record) error {
	if len(records) == 0 {
		return nil
	}

	args := make([]interface{}, 0, len(records)*6)
	placeholders := make([]string, 0, len(records))
	now := time.Now().UTC()

	for i, rec := range records {
		base := i * 6
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6))
		revenue, _ := rec.RoundedRevenue().Float64()
		args = append(args, rec.SiteID, rec.Year, rec.Month, rec.RoundedGeneration(), revenue, now)
	}

	query := fmt.Sprintf(`
		INSERT INTO site_budgets (site_id, year, month, generation, revenue, created_at)
		VALUES %s
	`, strings.Join(placeholders, ",\n"))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return &PersistenceError{Op: "insert budgets", SiteID: siteID, Err: err}
	}
	return nil
}

// RestoreBudgets re-inserts snapshot rows verbatim, preserving original
// values and timestamps. Used only by the restoration path.
func (s *Store) RestoreBudgets(ctx context.Context, rows []BudgetRow) error {
	if len(rows) == 0 {
		return nil
	}
	siteID := rows[0].SiteID

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: "begin restore", SiteID: siteID, Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO site_budgets (site_id, year, month, generation, revenue, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	if err != nil {
		return &PersistenceError{Op: "prepare restore", SiteID: siteID, Err: err}
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row.SiteID, row.Year, row.Month, row.Generation, row.Revenue, row.CreatedAt, row.UpdatedAt); err != nil {
			return &PersistenceError{Op: "restore budgets", SiteID: siteID, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "commit restore", SiteID: siteID, Err: err}
	}
	return nil
}

// CountSiteBudgets returns the number of budget rows for a site.
func (s *Store) CountSiteBudgets(ctx context.Context, siteID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM site_budgets WHERE site_id = $1`, siteID).Scan(&count)
	if err != nil {
		return 0, &PersistenceError{Op: "count budgets", SiteID: siteID, Err: err}
	}
	return count, nil
}
