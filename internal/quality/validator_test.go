package quality

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parquet-go/parquet-go"

	"marketgrab/internal/series"
	"marketgrab/internal/testutil"
)

func writeParquet[T any](t *testing.T, path string, rows []T) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w := parquet.NewGenericWriter[T](f)
	if _, err := w.Write(rows); err != nil {
		t.Fatalf("write parquet: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close parquet writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

// noCloseRow is a dataset row missing the required close column.
type noCloseRow struct {
	Timestamp int64   `parquet:"timestamp"`
	Open      float64 `parquet:"open,optional"`
	High      float64 `parquet:"high,optional"`
	Low       float64 `parquet:"low,optional"`
	Volume    int64   `parquet:"volume,optional"`
}

func datasetPath(t *testing.T, root, assetClass, symbol, name string) string {
	t.Helper()
	return filepath.Join(root, assetClass, symbol, name)
}

func goodDailyFile(t *testing.T, root string) string {
	t.Helper()
	path := datasetPath(t, root, "stock", "AAPL", "1d_20240101_20240110.parquet")
	writeParquet(t, path, testutil.DailyBars(testutil.Day(2024, 1, 1), testutil.Day(2024, 1, 10), 100))
	return path
}

func countRule(issues []Issue, ruleID string) int {
	n := 0
	for _, issue := range issues {
		if issue.RuleID == ruleID {
			n++
		}
	}
	return n
}

func TestValidateFileClean(t *testing.T) {
	root := t.TempDir()
	path := goodDailyFile(t, root)

	summary, issues := ValidateFile(path)
	if len(issues) != 0 {
		t.Errorf("clean file produced issues: %v", issues)
	}
	if summary.RowCount != 10 {
		t.Errorf("RowCount = %d, want 10", summary.RowCount)
	}
	if summary.Symbol != "AAPL" || summary.AssetClass != "stock" || summary.Granularity != "1d" {
		t.Errorf("inferred context = %+v", summary)
	}
}

func TestValidateFileMissingRequiredColumn(t *testing.T) {
	root := t.TempDir()
	path := datasetPath(t, root, "stock", "AAPL", "1d_20240101_20240103.parquet")
	writeParquet(t, path, []noCloseRow{
		{Timestamp: series.Millis(testutil.Day(2024, 1, 1)), Open: 100, High: 101, Low: 99, Volume: 1000},
		{Timestamp: series.Millis(testutil.Day(2024, 1, 2)), Open: 101, High: 102, Low: 100, Volume: 1000},
	})

	_, issues := ValidateFile(path)
	if got := countRule(issues, RuleMissingRequired); got != 1 {
		t.Errorf("schema.missing_required issues = %d, want exactly 1", got)
	}
	for _, issue := range issues {
		if issue.RuleID == RuleMissingRequired {
			if issue.Severity != SeverityError {
				t.Errorf("severity = %q, want ERROR", issue.Severity)
			}
			if !strings.Contains(issue.Message, "close") {
				t.Errorf("message %q does not name the column", issue.Message)
			}
		}
	}
}

func TestValidateFileMissingOptionalColumns(t *testing.T) {
	type closeOnlyRow struct {
		Timestamp int64   `parquet:"timestamp"`
		Close     float64 `parquet:"close"`
	}
	root := t.TempDir()
	path := datasetPath(t, root, "stock", "AAPL", "1d_20240101_20240102.parquet")
	writeParquet(t, path, []closeOnlyRow{
		{Timestamp: series.Millis(testutil.Day(2024, 1, 1)), Close: 100},
		{Timestamp: series.Millis(testutil.Day(2024, 1, 2)), Close: 101},
	})

	_, issues := ValidateFile(path)
	if got := countRule(issues, RuleMissingOptional); got != 4 {
		t.Errorf("schema.missing_optional issues = %d, want 4 (open, high, low, volume)", got)
	}
	if got := countRule(issues, RuleMissingRequired); got != 0 {
		t.Errorf("unexpected required-column issues: %v", issues)
	}
	for _, issue := range issues {
		if issue.Severity != SeverityWarn {
			t.Errorf("optional column issue severity = %q, want WARN", issue.Severity)
		}
	}
}

func TestValidateFileOHLCViolation(t *testing.T) {
	root := t.TempDir()
	path := datasetPath(t, root, "stock", "AAPL", "1d_20240101_20240103.parquet")
	bars := testutil.DailyBars(testutil.Day(2024, 1, 1), testutil.Day(2024, 1, 3), 100)
	bars[1].High = 90 // below Low
	writeParquet(t, path, bars)

	summary, issues := ValidateFile(path)
	if got := countRule(issues, RuleOHLCLogic); got != 1 {
		t.Errorf("ohlc.logic issues = %d, want exactly 1", got)
	}
	if summary.InvalidOHLC != 1 {
		t.Errorf("InvalidOHLC = %d, want 1", summary.InvalidOHLC)
	}
}

func TestValidateFileNegativeClose(t *testing.T) {
	root := t.TempDir()
	path := datasetPath(t, root, "stock", "AAPL", "1d_20240101_20240103.parquet")
	bars := testutil.DailyBars(testutil.Day(2024, 1, 1), testutil.Day(2024, 1, 3), 100)
	bars[2].Close = -5
	bars[2].Low = -6
	writeParquet(t, path, bars)

	summary, issues := ValidateFile(path)
	if got := countRule(issues, RuleCloseInvalid); got != 1 {
		t.Errorf("close.invalid issues = %d, want 1", got)
	}
	if summary.NegativeClose != 1 {
		t.Errorf("NegativeClose = %d, want 1", summary.NegativeClose)
	}
}

func TestValidateFileDuplicateTimestamps(t *testing.T) {
	root := t.TempDir()
	path := datasetPath(t, root, "stock", "AAPL", "1d_20240101_20240103.parquet")
	bars := testutil.DailyBars(testutil.Day(2024, 1, 1), testutil.Day(2024, 1, 3), 100)
	bars[1].Timestamp = bars[0].Timestamp
	writeParquet(t, path, bars)

	summary, issues := ValidateFile(path)
	if got := countRule(issues, RuleDupTimestamp); got != 1 {
		t.Errorf("timestamp.duplicate issues = %d, want 1", got)
	}
	if summary.DupTimestamps != 1 {
		t.Errorf("DupTimestamps = %d, want 1", summary.DupTimestamps)
	}
}

func TestValidateFileTimestampGap(t *testing.T) {
	root := t.TempDir()
	path := datasetPath(t, root, "stock", "AAPL", "1d_20240101_20240131.parquet")
	bars := append(
		testutil.DailyBars(testutil.Day(2024, 1, 1), testutil.Day(2024, 1, 3), 100),
		testutil.DailyBars(testutil.Day(2024, 1, 28), testutil.Day(2024, 1, 31), 110)...,
	)
	writeParquet(t, path, bars)

	_, issues := ValidateFile(path)
	if got := countRule(issues, RuleTimestampGap); got != 1 {
		t.Errorf("timestamp.gap issues = %d, want 1: %v", got, issues)
	}
}

func TestValidateFileWeekendGapAccepted(t *testing.T) {
	// A daily file with weekday-only rows never trips the gap rule.
	root := t.TempDir()
	path := datasetPath(t, root, "stock", "AAPL", "1d_20240105_20240109.parquet")
	bars := []series.Bar{
		{Timestamp: series.Millis(testutil.Day(2024, 1, 5)), Close: 100, High: 101, Low: 99},  // Friday
		{Timestamp: series.Millis(testutil.Day(2024, 1, 8)), Close: 101, High: 102, Low: 100}, // Monday
		{Timestamp: series.Millis(testutil.Day(2024, 1, 9)), Close: 102, High: 103, Low: 101},
	}
	writeParquet(t, path, bars)

	_, issues := ValidateFile(path)
	if got := countRule(issues, RuleTimestampGap); got != 0 {
		t.Errorf("weekend gap flagged: %v", issues)
	}
}

func TestValidateFileUnreadable(t *testing.T) {
	root := t.TempDir()
	path := datasetPath(t, root, "stock", "AAPL", "1d_20240101_20240131.parquet")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("not a parquet file"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, issues := ValidateFile(path)
	if len(issues) != 1 {
		t.Fatalf("issues = %v, want single unreadable error", issues)
	}
	if issues[0].RuleID != RuleUnreadable || issues[0].Severity != SeverityError {
		t.Errorf("issue = %+v", issues[0])
	}
}

func TestDiscoverFilters(t *testing.T) {
	root := t.TempDir()
	goodDailyFile(t, root)
	writeParquet(t, datasetPath(t, root, "stock", "MSFT", "1d_20240101_20240110.parquet"),
		testutil.DailyBars(testutil.Day(2024, 1, 1), testutil.Day(2024, 1, 10), 200))
	writeParquet(t, datasetPath(t, root, "crypto", "BTC-USD", "1h_20240101_20240110.parquet"),
		testutil.DailyBars(testutil.Day(2024, 1, 1), testutil.Day(2024, 1, 10), 40000))

	tests := []struct {
		name    string
		filters Filters
		want    int
	}{
		{"all", Filters{}, 3},
		{"by asset class", Filters{AssetClass: "stock"}, 2},
		{"by symbol", Filters{Symbol: "aapl"}, 1},
		{"by granularity", Filters{Granularity: "1h"}, 1},
		{"no match", Filters{Symbol: "TSLA"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files, err := Discover(root, tt.filters)
			if err != nil {
				t.Fatalf("Discover() error: %v", err)
			}
			if len(files) != tt.want {
				t.Errorf("Discover() found %d files, want %d: %v", len(files), tt.want, files)
			}
		})
	}
}

func TestDiscoverMissingRoot(t *testing.T) {
	if _, err := Discover(filepath.Join(t.TempDir(), "absent"), Filters{}); err == nil {
		t.Error("Discover() on a missing root succeeded")
	}
}

func TestScanAggregates(t *testing.T) {
	root := t.TempDir()
	goodDailyFile(t, root)

	badPath := datasetPath(t, root, "stock", "MSFT", "1d_20240101_20240131.parquet")
	if err := os.MkdirAll(filepath.Dir(badPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(badPath, []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}

	report, err := Scan(root, Filters{}, 4)
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if report.FilesScanned != 2 {
		t.Errorf("FilesScanned = %d, want 2", report.FilesScanned)
	}
	if report.FilesWithIssue != 1 {
		t.Errorf("FilesWithIssue = %d, want 1", report.FilesWithIssue)
	}
	if report.ErrorCount != 1 || report.WarnCount != 0 {
		t.Errorf("counts = %d errors, %d warns", report.ErrorCount, report.WarnCount)
	}
	if !report.Failed() {
		t.Error("Failed() = false with an ERROR issue present")
	}
}

func TestWriteJSONL(t *testing.T) {
	issues := []Issue{
		{Path: "a.parquet", Severity: SeverityError, RuleID: RuleUnreadable, Message: "m1", CreatedAt: "2024-01-01T00:00:00Z"},
		{Path: "b.parquet", Severity: SeverityWarn, RuleID: RuleOHLCLogic, Message: "m2", CreatedAt: "2024-01-01T00:00:00Z"},
	}

	var buf bytes.Buffer
	if err := WriteJSONL(&buf, issues); err != nil {
		t.Fatalf("WriteJSONL() error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if !strings.Contains(lines[0], `"rule_id":"file.unreadable"`) {
		t.Errorf("line = %s", lines[0])
	}
}

func TestWriteCSV(t *testing.T) {
	issues := []Issue{
		{Path: "a.parquet", Symbol: "AAPL", Severity: SeverityWarn, RuleID: RuleOHLCLogic, Message: "violation", CreatedAt: "2024-01-01T00:00:00Z"},
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, issues); err != nil {
		t.Fatalf("WriteCSV() error: %v", err)
	}
	r := csv.NewReader(&buf)
	rows, err := r.ReadAll()
	if err != nil {
		t.Fatalf("read exported CSV: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want header plus one issue", len(rows))
	}
	if rows[0][0] != "created_at" || rows[0][2] != "rule_id" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][2] != RuleOHLCLogic || rows[1][4] != "AAPL" {
		t.Errorf("row = %v", rows[1])
	}
}
