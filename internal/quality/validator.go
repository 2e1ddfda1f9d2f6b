package quality

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"marketgrab/internal/series"
)

// Filters narrow a scan after discovery. Empty fields match everything.
// Filtering happens on enumerated files, never by guessing paths, so a file
// with unexpected naming can only be included, not silently missed.
type Filters struct {
	AssetClass  string
	Symbol      string
	Granularity string
}

func (f Filters) match(ctx fileContext) bool {
	if f.AssetClass != "" && !strings.EqualFold(f.AssetClass, ctx.assetClass) {
		return false
	}
	if f.Symbol != "" && !strings.EqualFold(f.Symbol, ctx.symbol) {
		return false
	}
	if f.Granularity != "" && !strings.EqualFold(f.Granularity, ctx.granularity) {
		return false
	}
	return true
}

type fileContext struct {
	assetClass  string
	symbol      string
	granularity string
}

// inferContext derives (asset class, symbol, granularity) from the layout
// <root>/<asset_class>/<symbol>/<granularity>_<start>_<end>.parquet.
func inferContext(path string) fileContext {
	dir := filepath.Dir(path)
	ctx := fileContext{
		symbol:     filepath.Base(dir),
		assetClass: filepath.Base(filepath.Dir(dir)),
	}
	base := filepath.Base(path)
	if i := strings.Index(base, "_"); i > 0 {
		ctx.granularity = base[:i]
	}
	return ctx
}

// Discover enumerates dataset files under root and applies filters to the
// result. An unreadable root is a configuration-level error and aborts.
func Discover(root string, filters Filters) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("validation root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("validation root %s is not a directory", root)
	}
	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".parquet" {
			return nil
		}
		if filters.match(inferContext(path)) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

// Scan discovers and validates every dataset file under root.
func Scan(root string, filters Filters, workers int) (*Report, error) {
	files, err := Discover(root, filters)
	if err != nil {
		return nil, err
	}
	return ScanFiles(files, workers), nil
}

// ScanFiles validates files on a bounded worker pool. Issue order across
// files is not significant; aggregate counts are order-independent.
func ScanFiles(files []string, workers int) *Report {
	if workers < 1 {
		workers = 1
	}
	if workers > len(files) && len(files) > 0 {
		workers = len(files)
	}
	report := &Report{}
	paths := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range paths {
				summary, issues := ValidateFile(path)
				report.add(summary, issues)
			}
		}()
	}
	for _, path := range files {
		paths <- path
	}
	close(paths)
	wg.Wait()
	return report
}

// ValidateFile applies the rule set to one file. A parse failure
// short-circuits with a single unreadable ERROR instead of aborting the
// scan.
func ValidateFile(path string) (FileSummary, []Issue) {
	ctx := inferContext(path)
	summary := FileSummary{
		Path:        path,
		AssetClass:  ctx.assetClass,
		Symbol:      ctx.symbol,
		Granularity: ctx.granularity,
	}
	issue := func(severity Severity, ruleID, message, details string) Issue {
		return Issue{
			Path:        path,
			AssetClass:  ctx.assetClass,
			Symbol:      ctx.symbol,
			Granularity: ctx.granularity,
			Severity:    severity,
			RuleID:      ruleID,
			Message:     message,
			Details:     details,
			CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		}
	}

	stats, err := scanFileRows(path)
	if err != nil {
		return summary, []Issue{issue(SeverityError, RuleUnreadable, "dataset file unreadable", err.Error())}
	}

	var issues []Issue
	for _, col := range []string{"timestamp", "close"} {
		if !stats.hasColumn(col) {
			issues = append(issues, issue(SeverityError, RuleMissingRequired,
				"missing required column: "+col,
				"columns="+strings.Join(stats.columns, ",")))
		}
	}
	for _, col := range []string{"open", "high", "low", "volume"} {
		if !stats.hasColumn(col) {
			issues = append(issues, issue(SeverityWarn, RuleMissingOptional,
				"missing column: "+col,
				"columns="+strings.Join(stats.columns, ",")))
		}
	}

	summary.RowCount = stats.rowCount
	summary.NullClose = stats.nullClose
	summary.NegativeClose = stats.negativeClose
	summary.InvalidOHLC = stats.invalidOHLC

	if stats.nullClose+stats.negativeClose > 0 {
		issues = append(issues, issue(SeverityWarn, RuleCloseInvalid,
			fmt.Sprintf("close has %d null and %d negative values", stats.nullClose, stats.negativeClose), ""))
	}
	if stats.invalidOHLC > 0 {
		issues = append(issues, issue(SeverityWarn, RuleOHLCLogic,
			fmt.Sprintf("OHLC logical violation on %d rows", stats.invalidOHLC), ""))
	}

	if len(stats.timestamps) > 0 {
		sort.Slice(stats.timestamps, func(i, j int) bool { return stats.timestamps[i] < stats.timestamps[j] })
		summary.MinTimestamp = time.UnixMilli(stats.timestamps[0]).UTC()
		summary.MaxTimestamp = time.UnixMilli(stats.timestamps[len(stats.timestamps)-1]).UTC()
		dups := 0
		var maxGap time.Duration
		for i := 1; i < len(stats.timestamps); i++ {
			if stats.timestamps[i] == stats.timestamps[i-1] {
				dups++
				continue
			}
			gap := time.Duration(stats.timestamps[i]-stats.timestamps[i-1]) * time.Millisecond
			if gap > maxGap {
				maxGap = gap
			}
		}
		summary.DupTimestamps = dups
		summary.MaxGap = maxGap
		if dups > 0 {
			issues = append(issues, issue(SeverityWarn, RuleDupTimestamp,
				fmt.Sprintf("%d duplicate timestamps", dups), ""))
		}
		threshold := series.Granularity(ctx.granularity).GapThreshold()
		if threshold > 0 && maxGap > threshold {
			issues = append(issues, issue(SeverityWarn, RuleTimestampGap,
				fmt.Sprintf("timestamp gap %s exceeds threshold", maxGap),
				fmt.Sprintf("threshold=%s", threshold)))
		}
	}

	return summary, issues
}

// fileStats is the raw data gathered in one pass over a file's rows.
type fileStats struct {
	columns       []string
	rowCount      int
	timestamps    []int64
	nullClose     int
	negativeClose int
	invalidOHLC   int
}

func (s *fileStats) hasColumn(name string) bool {
	for _, c := range s.columns {
		if c == name {
			return true
		}
	}
	return false
}

// scanFileRows reads the parquet file dynamically, by column name rather
// than a fixed struct, so files with foreign or partial schemas can still
// be inspected.
func scanFileRows(path string) (*fileStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, err
	}

	fields := pf.Schema().Fields()
	stats := &fileStats{columns: make([]string, len(fields))}
	colIdx := make(map[string]int, len(fields))
	for i, field := range fields {
		stats.columns[i] = field.Name()
		colIdx[field.Name()] = i
	}
	tsCol, hasTS := colIdx["timestamp"]
	closeCol, hasClose := colIdx["close"]
	highCol, hasHigh := colIdx["high"]
	lowCol, hasLow := colIdx["low"]
	checkOHLC := hasClose && hasHigh && hasLow

	rowVals := make([]parquet.Value, len(fields))
	rowSeen := make([]bool, len(fields))
	buf := make([]parquet.Row, 64)
	for _, rg := range pf.RowGroups() {
		rows := rg.Rows()
		for {
			n, err := rows.ReadRows(buf)
			for _, row := range buf[:n] {
				stats.rowCount++
				for i := range rowSeen {
					rowSeen[i] = false
				}
				for _, v := range row {
					col := v.Column()
					if col >= 0 && col < len(rowVals) {
						rowVals[col] = v
						rowSeen[col] = true
					}
				}
				if hasTS && rowSeen[tsCol] && !rowVals[tsCol].IsNull() {
					stats.timestamps = append(stats.timestamps, rowVals[tsCol].Int64())
				}
				if hasClose {
					switch {
					case !rowSeen[closeCol] || rowVals[closeCol].IsNull():
						stats.nullClose++
					case rowVals[closeCol].Double() < 0:
						stats.negativeClose++
					}
				}
				if checkOHLC && rowSeen[closeCol] && rowSeen[highCol] && rowSeen[lowCol] &&
					!rowVals[closeCol].IsNull() && !rowVals[highCol].IsNull() && !rowVals[lowCol].IsNull() {
					high := rowVals[highCol].Double()
					low := rowVals[lowCol].Double()
					closeV := rowVals[closeCol].Double()
					if high < low || closeV < low || closeV > high {
						stats.invalidOHLC++
					}
				}
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				rows.Close()
				return nil, err
			}
			if n == 0 {
				break
			}
		}
		rows.Close()
	}
	return stats, nil
}
