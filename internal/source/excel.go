package source

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"github.com/ces-budgetfix/internal/normalize"
)

// Column positions in the onboarding sheet (0-based).
const (
	colSentToOnboard  = 3  // "sent to Metris to onboard" flag
	colSchemeRef      = 5  // Property STO Number
	colCommissionDate = 6  // Install Commission Date
	colAnnualGen      = 18 // annual design generation (kWh)
)

// SiteRecord is one site read from the onboarding sheet. Immutable once read.
type SiteRecord struct {
	SchemeRef        string
	AnnualGeneration float64
	CommissionYear   int
	CommissionMonth  int
}

// Anomaly is a malformed source row: present but unusable. Anomalous sites
// are excluded from eligibility and reported, never processed.
type Anomaly struct {
	SchemeRef string `json:"scheme_ref"`
	Row       int    `json:"row"`
	Reason    string `json:"reason"`
}

// ReadStats counts row dispositions while reading the onboarding sheet.
type ReadStats struct {
	RowsProcessed       int `json:"rows_processed"`
	SkippedNoRef        int `json:"skipped_no_ref"`
	SkippedNotSent      int `json:"skipped_not_sent"`
	SkippedNoGeneration int `json:"skipped_no_generation"`
	Duplicates          int `json:"duplicates"`
	Anomalies           int `json:"anomalies"`
}

// Reader reads site records and the membership list from the Property Meter
// Directory workbook.
type Reader struct {
	path            string
	sourceSheet     string
	membershipSheet string
	log             *logrus.Logger
}

// NewReader creates a workbook reader.
func NewReader(path, sourceSheet, membershipSheet string, log *logrus.Logger) *Reader {
	return &Reader{path: path, sourceSheet: sourceSheet, membershipSheet: membershipSheet, log: log}
}

// ReadSiteRecords reads the onboarding sheet, keyed by normalized scheme
// reference. Rows without a reference, not flagged as sent to onboard, or with
// an absent/zero generation value are skipped with counters. Rows whose
// generation or commissioning date is present but unparseable become
// anomalies. Only the first occurrence of a reference is kept.
func (r *Reader) ReadSiteRecords() (map[string]SiteRecord, []Anomaly, ReadStats, error) {
	var stats ReadStats

	f, err := excelize.OpenFile(r.path)
	if err != nil {
		return nil, nil, stats, fmt.Errorf("failed to open workbook %s: %w", r.path, err)
	}
	defer f.Close()

	rows, err := f.GetRows(r.sourceSheet)
	if err != nil {
		return nil, nil, stats, fmt.Errorf("failed to read sheet %q: %w", r.sourceSheet, err)
	}

	records := make(map[string]SiteRecord)
	var anomalies []Anomaly

	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		stats.RowsProcessed++
		rowNum := i + 1

		ref := normalize.Reference(cell(row, colSchemeRef))
		if ref == "" {
			stats.SkippedNoRef++
			continue
		}

		sent := strings.ToLower(cell(row, colSentToOnboard))
		if !strings.Contains(sent, "yes") {
			stats.SkippedNotSent++
			continue
		}

		genRaw := cell(row, colAnnualGen)
		if genRaw == "" || genRaw == "0" {
			stats.SkippedNoGeneration++
			continue
		}
		annual, err := normalize.ParseFloat(genRaw)
		if err != nil {
			anomalies = append(anomalies, Anomaly{SchemeRef: ref, Row: rowNum,
				Reason: fmt.Sprintf("non-numeric annual generation %q", genRaw)})
			continue
		}
		if annual <= 0 {
			stats.SkippedNoGeneration++
			continue
		}

		dateRaw := cell(row, colCommissionDate)
		year, month, err := parseCommissionDate(dateRaw)
		if err != nil {
			anomalies = append(anomalies, Anomaly{SchemeRef: ref, Row: rowNum,
				Reason: fmt.Sprintf("invalid commission date %q", dateRaw)})
			continue
		}

		if _, exists := records[ref]; exists {
			stats.Duplicates++
			continue
		}

		records[ref] = SiteRecord{
			SchemeRef:        ref,
			AnnualGeneration: annual,
			CommissionYear:   year,
			CommissionMonth:  month,
		}
	}

	stats.Anomalies = len(anomalies)
	r.log.WithFields(logrus.Fields{
		"rows":       stats.RowsProcessed,
		"sites":      len(records),
		"anomalies":  stats.Anomalies,
		"duplicates": stats.Duplicates,
	}).Info("read onboarding sheet")

	return records, anomalies, stats, nil
}

// ReadMembership reads the authoritative membership sheet and returns the set
// of normalized scheme references. A workbook without the sheet yields an
// empty set, reported to the caller via the error.
func (r *Reader) ReadMembership() (map[string]bool, error) {
	f, err := excelize.OpenFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", r.path, err)
	}
	defer f.Close()

	rows, err := f.GetRows(r.membershipSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", r.membershipSheet, err)
	}

	members := make(map[string]bool)
	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		ref := normalize.Reference(cell(row, 0))
		if ref != "" {
			members[ref] = true
		}
	}

	r.log.WithField("members", len(members)).Info("read membership sheet")
	return members, nil
}

// cell returns a trimmed cell value; GetRows omits trailing empty cells.
func cell(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"02/01/2006",
	"01-02-06",
	"Jan 2, 2006",
	"2/1/06",
}

// parseCommissionDate extracts year and month from a commission date cell.
// Cells arrive either as a formatted date string or as an Excel serial
// number, depending on the cell style.
func parseCommissionDate(raw string) (int, int, error) {
	if raw == "" {
		return 0, 0, fmt.Errorf("empty commission date")
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Year(), int(t.Month()), nil
		}
	}

	if serial, err := strconv.ParseFloat(raw, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err == nil {
			return t.Year(), int(t.Month()), nil
		}
	}

	return 0, 0, fmt.Errorf("unrecognized date format %q", raw)
}
