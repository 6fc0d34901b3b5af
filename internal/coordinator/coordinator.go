package coordinator

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/ces-budgetfix/internal/budget"
	"github.com/ces-budgetfix/internal/store"
)

// Site lifecycle states. A site only moves forward; FAILED is reachable from
// any non-terminal state.
const (
	StatePending   = "PENDING"
	StateBackedUp  = "BACKED_UP"
	StateDeleted   = "DELETED"
	StateInserted  = "INSERTED"
	StateCommitted = "COMMITTED"
	StateSkipped   = "SKIPPED"
	StateFailed    = "FAILED"
)

// BudgetStore is the persistence surface the coordinator drives.
type BudgetStore interface {
	SiteBudgets(ctx context.Context, siteID string) ([]store.BudgetRow, error)
	DeleteSiteBudgets(ctx context.Context, siteID string) (int64, error)
	InsertBudgets(ctx context.Context, siteID string, records []budget.Record) error
	RestoreBudgets(ctx context.Context, rows []store.BudgetRow) error
}

// SnapshotStore captures a site's rows durably before any destructive step.
type SnapshotStore interface {
	Write(runID, siteID string, rows []store.BudgetRow) (string, error)
}

// ProgressSink receives per-site state transitions. Sink failures are logged
// but never abort the run; the database work itself is the source of truth.
type ProgressSink interface {
	RecordSiteState(ctx context.Context, runID, siteID, schemeRef, state, detail string) error
}

// SitePlan is one site's replacement workload: the full regenerated budget
// matrix to install.
type SitePlan struct {
	SiteID    string
	SchemeRef string
	Records   []budget.Record
}

// SiteOutcome is the result of processing one site.
type SiteOutcome struct {
	SiteID       string `json:"site_id"`
	SchemeRef    string `json:"scheme_ref"`
	State        string `json:"state"`
	RowsDeleted  int64  `json:"rows_deleted"`
	RowsInserted int    `json:"rows_inserted"`
	BackupPath   string `json:"backup_path,omitempty"`
	Restored     bool   `json:"restored,omitempty"`
	Detail       string `json:"detail,omitempty"`
}

// Progress aggregates a run's outcomes.
type Progress struct {
	Committed    int           `json:"committed"`
	Skipped      int           `json:"skipped"`
	Failed       int           `json:"failed"`
	Untouched    int           `json:"untouched"`
	RowsDeleted  int64         `json:"rows_deleted"`
	RowsInserted int64         `json:"rows_inserted"`
	Outcomes     []SiteOutcome `json:"outcomes"`
}

// Options tune the coordinator's retry and skip behavior.
type Options struct {
	MaxRetries    int
	SkipUnchanged bool
}

// Coordinator replaces each site's budget rows with its regenerated matrix,
// one site at a time: snapshot, delete, insert in batches, commit. A failure
// past the delete step restores the snapshot before the run halts.
type Coordinator struct {
	store    BudgetStore
	snapshot SnapshotStore
	sink     ProgressSink
	sizer    *BatchSizer
	opts     Options
	log      *logrus.Logger
}

// New creates a coordinator. sink may be nil when progress tracking is
// unavailable (e.g. SQL-file mode verification runs).
func New(budgetStore BudgetStore, snapshot SnapshotStore, sink ProgressSink, sizer *BatchSizer, opts Options, log *logrus.Logger) *Coordinator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Coordinator{store: budgetStore, snapshot: snapshot, sink: sink, sizer: sizer, opts: opts, log: log}
}

// Run processes every plan in order. The first unrecoverable site failure
// halts the run: the failed site is restored from its snapshot and all
// remaining sites are left untouched. The returned Progress is valid even
// when err is non-nil.
func (c *Coordinator) Run(ctx context.Context, runID string, plans []SitePlan) (Progress, error) {
	progress := Progress{}

	for i, plan := range plans {
		if err := ctx.Err(); err != nil {
			progress.Untouched = len(plans) - i
			return progress, fmt.Errorf("run cancelled: %w", err)
		}

		outcome := c.processSite(ctx, runID, plan)
		progress.Outcomes = append(progress.Outcomes, outcome)
		progress.RowsDeleted += outcome.RowsDeleted
		progress.RowsInserted += int64(outcome.RowsInserted)

		switch outcome.State {
		case StateCommitted:
			progress.Committed++
		case StateSkipped:
			progress.Skipped++
		case StateFailed:
			progress.Failed++
			progress.Untouched = len(plans) - i - 1
			return progress, fmt.Errorf("site %s (%s) failed, halting run: %s", plan.SiteID, plan.SchemeRef, outcome.Detail)
		}
	}

	return progress, nil
}

func (c *Coordinator) processSite(ctx context.Context, runID string, plan SitePlan) SiteOutcome {
	outcome := SiteOutcome{SiteID: plan.SiteID, SchemeRef: plan.SchemeRef, State: StatePending}
	c.record(ctx, runID, plan, StatePending, "")

	existing, err := c.readExisting(ctx, plan.SiteID)
	if err != nil {
		return c.fail(ctx, runID, plan, outcome, fmt.Sprintf("read existing rows: %v", err))
	}

	if c.opts.SkipUnchanged && unchanged(existing, plan.Records) {
		outcome.State = StateSkipped
		outcome.Detail = "existing rows already match regenerated matrix"
		c.record(ctx, runID, plan, StateSkipped, outcome.Detail)
		c.log.WithFields(logrus.Fields{"site_id": plan.SiteID, "scheme_ref": plan.SchemeRef}).Info("Site unchanged, skipping")
		return outcome
	}

	// Snapshot before any destructive step. A backup failure leaves the site
	// untouched, so it is fatal but needs no recovery.
	path, err := c.snapshot.Write(runID, plan.SiteID, existing)
	if err != nil {
		return c.fail(ctx, runID, plan, outcome, fmt.Sprintf("backup: %v", err))
	}
	outcome.BackupPath = path
	outcome.State = StateBackedUp
	c.record(ctx, runID, plan, StateBackedUp, path)

	deleted, err := c.deleteWithRetry(ctx, plan.SiteID)
	if err != nil {
		// Delete may have partially applied; restore the snapshot.
		outcome.Restored = c.restore(ctx, plan.SiteID, existing)
		return c.fail(ctx, runID, plan, outcome, fmt.Sprintf("delete: %v", err))
	}
	outcome.RowsDeleted = deleted
	outcome.State = StateDeleted
	c.record(ctx, runID, plan, StateDeleted, fmt.Sprintf("%d rows deleted", deleted))

	inserted, err := c.insertBatches(ctx, plan)
	outcome.RowsInserted = inserted
	if err != nil {
		outcome.Restored = c.restore(ctx, plan.SiteID, existing)
		return c.fail(ctx, runID, plan, outcome, fmt.Sprintf("insert: %v", err))
	}
	outcome.State = StateInserted
	c.record(ctx, runID, plan, StateInserted, fmt.Sprintf("%d rows inserted", inserted))

	outcome.State = StateCommitted
	c.record(ctx, runID, plan, StateCommitted, "")
	c.log.WithFields(logrus.Fields{
		"site_id":       plan.SiteID,
		"scheme_ref":    plan.SchemeRef,
		"rows_deleted":  deleted,
		"rows_inserted": inserted,
	}).Info("Site committed")
	return outcome
}

// readExisting fetches the site's current rows with bounded transient retries.
func (c *Coordinator) readExisting(ctx context.Context, siteID string) ([]store.BudgetRow, error) {
	var rows []store.BudgetRow
	err := c.withRetry(ctx, func() error {
		var err error
		rows, err = c.store.SiteBudgets(ctx, siteID)
		return err
	})
	return rows, err
}

func (c *Coordinator) deleteWithRetry(ctx context.Context, siteID string) (int64, error) {
	var deleted int64
	err := c.withRetry(ctx, func() error {
		var err error
		deleted, err = c.store.DeleteSiteBudgets(ctx, siteID)
		return err
	})
	return deleted, err
}

// insertBatches installs the plan's records in adaptive batches. On a
// transient failure the failed batch is retried from its start (no committed
// batch is ever re-sent). Returns the number of rows actually inserted.
func (c *Coordinator) insertBatches(ctx context.Context, plan SitePlan) (int, error) {
	inserted := 0
	for inserted < len(plan.Records) {
		size := c.sizer.Size()
		end := inserted + size
		if end > len(plan.Records) {
			end = len(plan.Records)
		}
		batch := plan.Records[inserted:end]

		err := c.withRetryOnFailure(ctx, func() error {
			return c.store.InsertBudgets(ctx, plan.SiteID, batch)
		}, func() {
			c.sizer.RecordFailure()
			c.log.WithFields(logrus.Fields{
				"site_id":    plan.SiteID,
				"batch_size": len(batch),
			}).Warn("Batch insert failed, retrying at minimum batch size")
		})
		if err != nil {
			return inserted, err
		}
		c.sizer.RecordSuccess()
		inserted = end
	}
	return inserted, nil
}

// restore deletes whatever partial state the failed site holds and re-inserts
// its snapshot verbatim. Returns whether restoration succeeded; a false return
// means the operator must restore manually from the backup file.
func (c *Coordinator) restore(ctx context.Context, siteID string, rows []store.BudgetRow) bool {
	if _, err := c.store.DeleteSiteBudgets(ctx, siteID); err != nil {
		c.log.WithFields(logrus.Fields{"site_id": siteID}).WithError(err).Error("Restore failed clearing partial rows; manual restore required")
		return false
	}
	if err := c.store.RestoreBudgets(ctx, rows); err != nil {
		c.log.WithFields(logrus.Fields{"site_id": siteID}).WithError(err).Error("Restore failed re-inserting snapshot; manual restore required")
		return false
	}
	c.log.WithFields(logrus.Fields{"site_id": siteID, "rows": len(rows)}).Info("Site restored from snapshot")
	return true
}

func (c *Coordinator) fail(ctx context.Context, runID string, plan SitePlan, outcome SiteOutcome, detail string) SiteOutcome {
	outcome.State = StateFailed
	outcome.Detail = detail
	c.record(ctx, runID, plan, StateFailed, detail)
	c.log.WithFields(logrus.Fields{"site_id": plan.SiteID, "scheme_ref": plan.SchemeRef}).Error(detail)
	return outcome
}

func (c *Coordinator) record(ctx context.Context, runID string, plan SitePlan, state, detail string) {
	if c.sink == nil {
		return
	}
	if err := c.sink.RecordSiteState(ctx, runID, plan.SiteID, plan.SchemeRef, state, detail); err != nil {
		c.log.WithError(err).Warn("Failed to record site state")
	}
}

// withRetry runs op, retrying transient failures up to MaxRetries times.
func (c *Coordinator) withRetry(ctx context.Context, op func() error) error {
	return c.withRetryOnFailure(ctx, op, nil)
}

func (c *Coordinator) withRetryOnFailure(ctx context.Context, op func() error, onFailure func()) error {
	var err error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err = op(); err == nil {
			return nil
		}
		if !store.IsTransient(err) {
			return err
		}
		if onFailure != nil {
			onFailure()
		}
	}
	return fmt.Errorf("retries exhausted: %w", err)
}

// unchanged reports whether the existing rows already equal the regenerated
// matrix after rounding to the two decimal places stored at the persistence
// boundary.
func unchanged(existing []store.BudgetRow, records []budget.Record) bool {
	if len(existing) != len(records) {
		return false
	}

	type key struct {
		year  int
		month int
	}
	byMonth := make(map[key]store.BudgetRow, len(existing))
	for _, row := range existing {
		byMonth[key{row.Year, row.Month}] = row
	}

	for _, rec := range records {
		row, ok := byMonth[key{rec.Year, rec.Month}]
		if !ok {
			return false
		}
		revenue, _ := rec.RoundedRevenue().Float64()
		if !sameAmount(row.Generation, rec.RoundedGeneration()) || !sameAmount(row.Revenue, revenue) {
			return false
		}
	}
	return true
}

// sameAmount compares two already-rounded monetary/energy values, tolerating
// float representation noise well below the stored precision.
func sameAmount(a, b float64) bool {
	return math.Abs(a-b) < 0.005
}
