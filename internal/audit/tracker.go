package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Tracker persists correction-run progress so a partial run can be identified,
// audited and resumed. Each site's terminal state is recorded; a run row that
// never completes marks an interrupted run.
type Tracker struct {
	db *sql.DB
}

// NewTracker creates a tracker over an open database handle.
func NewTracker(db *sql.DB) *Tracker {
	return &Tracker{db: db}
}

// EnsureSchema creates the audit tables if they do not exist.
func (t *Tracker) EnsureSchema(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS fix_run (
			run_id          uuid PRIMARY KEY,
			label           text NOT NULL,
			started_at      timestamptz NOT NULL DEFAULT now(),
			completed_at    timestamptz,
			sites_total     int NOT NULL DEFAULT 0,
			sites_committed int NOT NULL DEFAULT 0,
			sites_skipped   int NOT NULL DEFAULT 0,
			sites_failed    int NOT NULL DEFAULT 0,
			rows_deleted    bigint NOT NULL DEFAULT 0,
			rows_inserted   bigint NOT NULL DEFAULT 0,
			notes           text
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create fix_run table: %w", err)
	}

	_, err = t.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS fix_run_site (
			run_id     uuid NOT NULL REFERENCES fix_run(run_id),
			site_id    text NOT NULL,
			scheme_ref text NOT NULL,
			state      text NOT NULL,
			detail     text,
			updated_at timestamptz NOT NULL DEFAULT now(),
			PRIMARY KEY (run_id, site_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create fix_run_site table: %w", err)
	}
	return nil
}

// StartRun records the beginning of a correction run.
func (t *Tracker) StartRun(ctx context.Context, runID, label string, sitesTotal int, notes string) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO fix_run (run_id, label, sites_total, notes)
		VALUES ($1, $2, $3, $4)
	`, runID, label, sitesTotal, notes)
	if err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}
	return nil
}

// RecordSiteState upserts a site's current lifecycle state within a run.
func (t *Tracker) RecordSiteState(ctx context.Context, runID, siteID, schemeRef, state, detail string) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO fix_run_site (run_id, site_id, scheme_ref, state, detail, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (run_id, site_id) DO UPDATE SET
			state = EXCLUDED.state,
			detail = EXCLUDED.detail,
			updated_at = now()
	`, runID, siteID, schemeRef, state, detail)
	if err != nil {
		return fmt.Errorf("failed to record site state: %w", err)
	}
	return nil
}

// CompleteRun records a run's final tallies.
func (t *Tracker) CompleteRun(ctx context.Context, runID string, committed, skipped, failed int, rowsDeleted, rowsInserted int64) error {
	_, err := t.db.ExecContext(ctx, `
		UPDATE fix_run SET
			completed_at = now(),
			sites_committed = $2,
			sites_skipped = $3,
			sites_failed = $4,
			rows_deleted = $5,
			rows_inserted = $6
		WHERE run_id = $1
	`, runID, committed, skipped, failed, rowsDeleted, rowsInserted)
	if err != nil {
		return fmt.Errorf("failed to record run completion: %w", err)
	}
	return nil
}

// RunSummary is one row of fix_run.
type RunSummary struct {
	RunID          string     `json:"run_id"`
	Label          string     `json:"label"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	SitesTotal     int        `json:"sites_total"`
	SitesCommitted int        `json:"sites_committed"`
	SitesSkipped   int        `json:"sites_skipped"`
	SitesFailed    int        `json:"sites_failed"`
	RowsDeleted    int64      `json:"rows_deleted"`
	RowsInserted   int64      `json:"rows_inserted"`
	Notes          string     `json:"notes,omitempty"`
}

// SiteState is one row of fix_run_site.
type SiteState struct {
	RunID     string    `json:"run_id"`
	SiteID    string    `json:"site_id"`
	SchemeRef string    `json:"scheme_ref"`
	State     string    `json:"state"`
	Detail    string    `json:"detail,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Runs returns recorded runs, newest first.
func (t *Tracker) Runs(ctx context.Context) ([]RunSummary, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT run_id, label, started_at, completed_at, sites_total,
		       sites_committed, sites_skipped, sites_failed, rows_deleted, rows_inserted,
		       COALESCE(notes, '')
		FROM fix_run
		ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var run RunSummary
		var completed sql.NullTime
		if err := rows.Scan(&run.RunID, &run.Label, &run.StartedAt, &completed, &run.SitesTotal,
			&run.SitesCommitted, &run.SitesSkipped, &run.SitesFailed, &run.RowsDeleted, &run.RowsInserted,
			&run.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if completed.Valid {
			run.CompletedAt = &completed.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RunSites returns the per-site states for one run.
func (t *Tracker) RunSites(ctx context.Context, runID string) ([]SiteState, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT run_id, site_id, scheme_ref, state, COALESCE(detail, ''), updated_at
		FROM fix_run_site
		WHERE run_id = $1
		ORDER BY scheme_ref
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run sites: %w", err)
	}
	defer rows.Close()

	var states []SiteState
	for rows.Next() {
		var s SiteState
		if err := rows.Scan(&s.RunID, &s.SiteID, &s.SchemeRef, &s.State, &s.Detail, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run site: %w", err)
		}
		states = append(states, s)
	}
	return states, rows.Err()
}

// IncompleteRuns returns runs that never recorded completion, for resume and
// audit decisions.
func (t *Tracker) IncompleteRuns(ctx context.Context) ([]RunSummary, error) {
	runs, err := t.Runs(ctx)
	if err != nil {
		return nil, err
	}
	var incomplete []RunSummary
	for _, run := range runs {
		if run.CompletedAt == nil {
			incomplete = append(incomplete, run)
		}
	}
	return incomplete, nil
}
