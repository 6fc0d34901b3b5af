package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ces-budgetfix/internal/audit"
	"github.com/ces-budgetfix/internal/budget"
	"github.com/ces-budgetfix/internal/config"
	"github.com/ces-budgetfix/internal/coordinator"
	"github.com/ces-budgetfix/internal/db"
	"github.com/ces-budgetfix/internal/matcher"
	"github.com/ces-budgetfix/internal/profile"
	"github.com/ces-budgetfix/internal/report"
	"github.com/ces-budgetfix/internal/source"
	"github.com/ces-budgetfix/internal/store"
	"github.com/ces-budgetfix/internal/tariff"
)

// pipeline wires the shared stages every command drives: workbook reading,
// reconciliation against the database, and matrix generation.
type pipeline struct {
	cfg     config.Config
	conn    *db.Connection
	store   *store.Store
	tracker *audit.Tracker
}

// newPipeline loads configuration and opens the database connection.
func newPipeline() (*pipeline, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	conn, err := db.NewConnection()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &pipeline{
		cfg:     cfg,
		conn:    conn,
		store:   store.New(conn.DB),
		tracker: audit.NewTracker(conn.DB),
	}, nil
}

func (p *pipeline) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

// reconcile reads both workbook sheets and the database site list and
// partitions every reference.
func (p *pipeline) reconcile(ctx context.Context) (matcher.Result, source.ReadStats, error) {
	reader := source.NewReader(p.cfg.ExcelFile, p.cfg.SourceSheet, p.cfg.MembershipSheet, log)

	records, anomalies, stats, err := reader.ReadSiteRecords()
	if err != nil {
		return matcher.Result{}, stats, err
	}

	membership, err := reader.ReadMembership()
	if err != nil {
		return matcher.Result{}, stats, err
	}

	schemeSites, err := p.store.SchemeSites(ctx, p.cfg.AccountName)
	if err != nil {
		return matcher.Result{}, stats, err
	}
	dbSites := make([]matcher.DatabaseSite, len(schemeSites))
	for i, site := range schemeSites {
		dbSites[i] = matcher.DatabaseSite{SiteID: site.SiteID, SchemeRef: site.SchemeRef}
	}

	result := matcher.Reconcile(debugMode, records, membership, dbSites, anomalies)
	return result, stats, nil
}

// buildPlans generates the replacement matrix for every matched site. Sites
// with unusable inputs are collected as failures rather than aborting the run.
func (p *pipeline) buildPlans(result matcher.Result) ([]coordinator.SitePlan, []report.InputFailure, error) {
	rate, err := tariff.NewFixedRate(p.cfg.TariffRate)
	if err != nil {
		return nil, nil, err
	}

	gen := budget.NewGenerator(budget.Config{
		Profile:         profile.CES(),
		DegradationRate: p.cfg.DegradationRate,
		HorizonYears:    p.cfg.HorizonYears,
	}, rate)

	var plans []coordinator.SitePlan
	var failures []report.InputFailure

	for _, match := range result.Matched {
		records, err := gen.Generate(match.SiteID, match.Record.AnnualGeneration,
			match.Record.CommissionYear, match.Record.CommissionMonth)
		if err != nil {
			var inputErr *budget.InputError
			if errors.As(err, &inputErr) {
				failures = append(failures, report.InputFailure{
					SiteID:    match.SiteID,
					SchemeRef: match.SchemeRef,
					Reason:    inputErr.Reason,
				})
				log.WithFields(logrus.Fields{
					"site_id":    match.SiteID,
					"scheme_ref": match.SchemeRef,
				}).WithError(err).Warn("Skipping site with unusable inputs")
				continue
			}
			return nil, nil, err
		}
		plans = append(plans, coordinator.SitePlan{
			SiteID:    match.SiteID,
			SchemeRef: match.SchemeRef,
			Records:   records,
		})
	}

	return plans, failures, nil
}

// newReport builds a report skeleton for the given mode.
func (p *pipeline) newReport(mode string, result matcher.Result, failures []report.InputFailure) *report.Report {
	r := report.New(mode, p.cfg.AccountName, p.cfg.ExcelFile, p.cfg.HorizonYears, p.cfg.DegradationRate, result)
	r.InputFailures = failures
	return r
}

// newValidator builds the spot-check validator from the run configuration.
func (p *pipeline) newValidator() *report.Validator {
	return report.NewValidator(profile.CES(), p.cfg.DegradationRate, p.cfg.HorizonYears, report.DefaultTolerances())
}

// spotCheck re-reads a sample of committed sites and verifies their persisted
// rows against the corrected profile and degradation schedule.
func (p *pipeline) spotCheck(ctx context.Context, result matcher.Result, plans []coordinator.SitePlan, progress coordinator.Progress) []report.SiteCheck {
	committed := make(map[string]bool, len(progress.Outcomes))
	for _, outcome := range progress.Outcomes {
		if outcome.State == coordinator.StateCommitted || outcome.State == coordinator.StateSkipped {
			committed[outcome.SiteID] = true
		}
	}

	var eligible []coordinator.SitePlan
	for _, plan := range plans {
		if committed[plan.SiteID] {
			eligible = append(eligible, plan)
		}
	}

	validator := p.newValidator()
	annuals := annualByRef(result)

	var samples []report.SiteCheck
	for _, plan := range samplePlans(eligible, p.cfg.SampleSize) {
		rows, err := p.store.SiteBudgets(ctx, plan.SiteID)
		if err != nil {
			log.WithFields(logrus.Fields{"site_id": plan.SiteID}).WithError(err).Warn("Spot check read failed")
			samples = append(samples, report.SiteCheck{
				SiteID:    plan.SiteID,
				SchemeRef: plan.SchemeRef,
				Issues:    []string{fmt.Sprintf("failed to read persisted rows: %v", err)},
			})
			continue
		}
		samples = append(samples, validator.CheckSite(plan.SiteID, plan.SchemeRef,
			annuals[plan.SchemeRef], report.FromRows(rows)))
	}
	return samples
}

// annualByRef indexes first-year annual generation by scheme reference for
// spot checks.
func annualByRef(result matcher.Result) map[string]float64 {
	annuals := make(map[string]float64, len(result.Matched))
	for _, match := range result.Matched {
		annuals[match.SchemeRef] = match.Record.AnnualGeneration
	}
	return annuals
}

// samplePlans picks up to n plans evenly spaced across the full list, so
// spot checks cover the start, middle and end of the run.
func samplePlans(plans []coordinator.SitePlan, n int) []coordinator.SitePlan {
	if n <= 0 || len(plans) == 0 {
		return nil
	}
	if len(plans) <= n {
		return plans
	}
	sampled := make([]coordinator.SitePlan, 0, n)
	step := float64(len(plans)) / float64(n)
	for i := 0; i < n; i++ {
		sampled = append(sampled, plans[int(float64(i)*step)])
	}
	return sampled
}
