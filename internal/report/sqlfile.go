package report

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ces-budgetfix/internal/coordinator"
)

// WriteSQLFile renders the full correction as a reviewable SQL script: one
// DELETE plus one multi-row INSERT per site, wrapped in a single transaction
// so a partial apply is impossible. Values are rounded exactly as the direct
// execution path rounds them.
func WriteSQLFile(path, account string, plans []coordinator.SitePlan) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create SQL file %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	totalRows := 0
	for _, plan := range plans {
		totalRows += len(plan.Records)
	}

	fmt.Fprintf(w, "-- Budget correction statements\n")
	fmt.Fprintf(w, "-- Account: %s\n", account)
	fmt.Fprintf(w, "-- Generated: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "-- Sites: %d, rows: %d\n", len(plans), totalRows)
	fmt.Fprintf(w, "-- Review before applying. The script is a single transaction.\n\n")
	fmt.Fprintf(w, "BEGIN;\n\n")

	for _, plan := range plans {
		fmt.Fprintf(w, "-- Site %s (%s): %d rows\n", plan.SiteID, plan.SchemeRef, len(plan.Records))
		fmt.Fprintf(w, "DELETE FROM site_budgets WHERE site_id = '%s';\n", escape(plan.SiteID))

		if len(plan.Records) == 0 {
			fmt.Fprintf(w, "\n")
			continue
		}

		fmt.Fprintf(w, "INSERT INTO site_budgets (site_id, year, month, generation, revenue, created_at) VALUES\n")
		for i, rec := range plan.Records {
			sep := ","
			if i == len(plan.Records)-1 {
				sep = ";"
			}
			revenue, _ := rec.RoundedRevenue().Float64()
			fmt.Fprintf(w, "    ('%s', %d, %d, %.2f, %.2f, now())%s\n",
				escape(rec.SiteID), rec.Year, rec.Month, rec.RoundedGeneration(), revenue, sep)
		}
		fmt.Fprintf(w, "\n")
	}

	fmt.Fprintf(w, "COMMIT;\n")

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write SQL file %s: %w", path, err)
	}
	return nil
}

func escape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
