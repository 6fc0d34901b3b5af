package matcher

import (
	"fmt"
	"sort"

	"github.com/ces-budgetfix/internal/debug"
	"github.com/ces-budgetfix/internal/normalize"
	"github.com/ces-budgetfix/internal/source"
)

// DatabaseSite is a site row from the store, as seen by the matcher.
type DatabaseSite struct {
	SiteID    string
	SchemeRef string
}

// Match is a site eligible for correction: present in the source sheet, a
// scheme member, and onboarded in the database.
type Match struct {
	SiteID    string
	SchemeRef string
	Record    source.SiteRecord
}

// Result partitions every reference seen in the source sheet or the database.
// Matched, SourceOnly and DatabaseOnly are disjoint and together cover the
// union of both reference sets. NotMember is an informational overlay: source
// references filtered out by the membership sheet (each still lands in exactly
// one partition category).
type Result struct {
	Matched      []Match
	SourceOnly   []string
	DatabaseOnly []string
	NotMember    []string
	Anomalies    []source.Anomaly
}

// Reconcile matches source records against the membership set and the database
// site list. Pure and deterministic: identical inputs always produce an
// identical partition, and no pair differing only by reference formatting is
// dropped (both sides are matched on normalized references).
func Reconcile(localDebug bool, records map[string]source.SiteRecord, membership map[string]bool, dbSites []DatabaseSite, anomalies []source.Anomaly) Result {
	defer debug.Timing(localDebug, "reconcile sites")()

	result := Result{Anomalies: anomalies}

	// Index database sites by normalized reference. Duplicate normalized
	// references are kept first-wins and surfaced as anomalies.
	byRef := make(map[string]DatabaseSite, len(dbSites))
	for _, site := range dbSites {
		ref := normalize.Reference(site.SchemeRef)
		if ref == "" {
			result.Anomalies = append(result.Anomalies, source.Anomaly{
				SchemeRef: site.SiteID,
				Reason:    "database site with blank scheme reference",
			})
			continue
		}
		if prev, exists := byRef[ref]; exists {
			result.Anomalies = append(result.Anomalies, source.Anomaly{
				SchemeRef: ref,
				Reason:    fmt.Sprintf("duplicate database sites %s and %s for one reference", prev.SiteID, site.SiteID),
			})
			continue
		}
		byRef[ref] = site
	}

	inEligibleSource := make(map[string]bool, len(records))

	for ref, record := range records {
		member := membership[ref]
		if !member {
			result.NotMember = append(result.NotMember, ref)
		}

		site, inDB := byRef[ref]
		switch {
		case member && inDB:
			inEligibleSource[ref] = true
			result.Matched = append(result.Matched, Match{
				SiteID:    site.SiteID,
				SchemeRef: ref,
				Record:    record,
			})
		case !inDB:
			// Candidate never onboarded; must not be processed further.
			result.SourceOnly = append(result.SourceOnly, ref)
		default:
			// In the database but not in the eligible source set: leave it
			// for the database-only sweep below.
		}
		debug.Output(localDebug, "ref %s: member=%v db=%v", ref, member, inDB)
	}

	// Database sites absent from the eligible source set: orphaned or
	// decommissioned, reported for human review only.
	for ref := range byRef {
		if !inEligibleSource[ref] {
			result.DatabaseOnly = append(result.DatabaseOnly, ref)
		}
	}

	sort.Slice(result.Matched, func(i, j int) bool {
		return result.Matched[i].SchemeRef < result.Matched[j].SchemeRef
	})
	sort.Strings(result.SourceOnly)
	sort.Strings(result.DatabaseOnly)
	sort.Strings(result.NotMember)

	return result
}

// Summary holds the partition counts for reporting.
type Summary struct {
	Matched      int `json:"matched"`
	SourceOnly   int `json:"source_only"`
	DatabaseOnly int `json:"database_only"`
	NotMember    int `json:"not_member"`
	Anomalies    int `json:"anomalies"`
}

// Summarize returns the partition counts.
func (r Result) Summarize() Summary {
	return Summary{
		Matched:      len(r.Matched),
		SourceOnly:   len(r.SourceOnly),
		DatabaseOnly: len(r.DatabaseOnly),
		NotMember:    len(r.NotMember),
		Anomalies:    len(r.Anomalies),
	}
}
