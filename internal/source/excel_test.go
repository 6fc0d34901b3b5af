package source

import (
	"path/filepath"
	"strconv"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

const (
	testSourceSheet     = "Onboarding source sheet"
	testMembershipSheet = "Sites on Metris"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

// writeTestWorkbook builds a workbook covering the row dispositions the reader
// must handle.
func writeTestWorkbook(t *testing.T) string {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName("Sheet1", testSourceSheet)
	if _, err := f.NewSheet(testMembershipSheet); err != nil {
		t.Fatalf("NewSheet: %v", err)
	}

	type row struct {
		sent string
		ref  string
		date string
		gen  string
	}
	rows := []row{
		{"Yes", "", "2019-01-01", "500"},                    // no ref, skipped
		{"Yes", "STO-1234", "2019-03-15", "2348.25"},        // good
		{"No", "STO-2222", "2019-05-01", "1000"},            // not sent
		{"Yes", "STO-3333", "2019-05-01", "0"},              // zero generation
		{"Yes", "STO-4444", "not a date", "1500"},           // bad date -> anomaly
		{"Yes", "STO-5555", "2020-01-10", "lots"},           // bad generation -> anomaly
		{"Yes", "sto 1234", "2021-07-01", "9999"},           // duplicate of STO-1234
		{"yes please", "STO-6666", "01/02/2020", "1,250.5"}, // good, UK date, comma
	}

	set := func(cell, value string) {
		if err := f.SetCellValue(testSourceSheet, cell, value); err != nil {
			t.Fatalf("SetCellValue(%s): %v", cell, err)
		}
	}
	set("A1", "header")
	for i, r := range rows {
		n := i + 2
		set("D"+strconv.Itoa(n), r.sent)
		set("F"+strconv.Itoa(n), r.ref)
		set("G"+strconv.Itoa(n), r.date)
		set("S"+strconv.Itoa(n), r.gen)
	}

	members := []string{"header", "STO 1234", "sto-6666", "STO-7777", ""}
	for i, m := range members {
		if err := f.SetCellValue(testMembershipSheet, "A"+strconv.Itoa(i+1), m); err != nil {
			t.Fatalf("SetCellValue membership: %v", err)
		}
	}

	path := filepath.Join(t.TempDir(), "directory.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	return path
}

func TestReadSiteRecords(t *testing.T) {
	path := writeTestWorkbook(t)
	r := NewReader(path, testSourceSheet, testMembershipSheet, quietLogger())

	records, anomalies, stats, err := r.ReadSiteRecords()
	if err != nil {
		t.Fatalf("ReadSiteRecords: %v", err)
	}

	if len(records) != 2 {
		t.Fatalf("expected 2 eligible records, got %d: %v", len(records), records)
	}

	first, ok := records["STO1234"]
	if !ok {
		t.Fatal("STO1234 missing from records")
	}
	if first.AnnualGeneration != 2348.25 {
		t.Errorf("STO1234 annual = %v, want 2348.25", first.AnnualGeneration)
	}
	if first.CommissionYear != 2019 || first.CommissionMonth != 3 {
		t.Errorf("STO1234 commissioned %d-%02d, want 2019-03 (first occurrence wins)", first.CommissionYear, first.CommissionMonth)
	}

	second, ok := records["STO6666"]
	if !ok {
		t.Fatal("STO6666 missing from records")
	}
	if second.AnnualGeneration != 1250.5 {
		t.Errorf("STO6666 annual = %v, want 1250.5", second.AnnualGeneration)
	}
	if second.CommissionYear != 2020 || second.CommissionMonth != 2 {
		t.Errorf("STO6666 commissioned %d-%02d, want 2020-02", second.CommissionYear, second.CommissionMonth)
	}

	if stats.SkippedNoRef != 1 {
		t.Errorf("SkippedNoRef = %d, want 1", stats.SkippedNoRef)
	}
	if stats.SkippedNotSent != 1 {
		t.Errorf("SkippedNotSent = %d, want 1", stats.SkippedNotSent)
	}
	if stats.SkippedNoGeneration != 1 {
		t.Errorf("SkippedNoGeneration = %d, want 1", stats.SkippedNoGeneration)
	}
	if stats.Duplicates != 1 {
		t.Errorf("Duplicates = %d, want 1", stats.Duplicates)
	}
	if len(anomalies) != 2 {
		t.Fatalf("expected 2 anomalies, got %+v", anomalies)
	}
}

func TestReadMembership(t *testing.T) {
	path := writeTestWorkbook(t)
	r := NewReader(path, testSourceSheet, testMembershipSheet, quietLogger())

	members, err := r.ReadMembership()
	if err != nil {
		t.Fatalf("ReadMembership: %v", err)
	}

	want := []string{"STO1234", "STO6666", "STO7777"}
	if len(members) != len(want) {
		t.Fatalf("expected %d members, got %v", len(want), members)
	}
	for _, ref := range want {
		if !members[ref] {
			t.Errorf("membership missing %s", ref)
		}
	}
}

func TestReaderMissingSheet(t *testing.T) {
	path := writeTestWorkbook(t)
	r := NewReader(path, "No Such Sheet", testMembershipSheet, quietLogger())

	if _, _, _, err := r.ReadSiteRecords(); err == nil {
		t.Error("expected error for missing source sheet")
	}
}

func TestReaderMissingFile(t *testing.T) {
	r := NewReader("does-not-exist.xlsx", testSourceSheet, testMembershipSheet, quietLogger())
	if _, _, _, err := r.ReadSiteRecords(); err == nil {
		t.Error("expected error for missing workbook")
	}
}

func TestParseCommissionDate(t *testing.T) {
	tests := []struct {
		raw       string
		wantYear  int
		wantMonth int
		wantErr   bool
	}{
		{"2019-03-15", 2019, 3, false},
		{"01/02/2020", 2020, 2, false},
		{"43539", 2019, 3, false}, // Excel serial for 2019-03-15
		{"", 0, 0, true},
		{"soon", 0, 0, true},
	}

	for _, tt := range tests {
		year, month, err := parseCommissionDate(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseCommissionDate(%q): expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseCommissionDate(%q): %v", tt.raw, err)
			continue
		}
		if year != tt.wantYear || month != tt.wantMonth {
			t.Errorf("parseCommissionDate(%q) = %d-%02d, want %d-%02d", tt.raw, year, month, tt.wantYear, tt.wantMonth)
		}
	}
}
