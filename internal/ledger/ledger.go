// Package ledger persists failed fetch tasks as a versioned CSV file so a
// later run can replay exactly the work that failed.
package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"marketgrab/internal/series"
)

// SchemaVersion is the ledger row schema version.
const SchemaVersion = "1"

// dateLayout is the on-disk form of the optional start/end fields.
const dateLayout = "2006-01-02"

var header = []string{
	"version", "symbol", "granularity", "start", "end",
	"asset_class", "adjust", "reason", "created_at",
}

// FailureRecord is one ledger row. Start and End are optional; replay
// substitutes a default range when they are absent.
type FailureRecord struct {
	Version     string    `validate:"required,eq=1"`
	Symbol      string    `validate:"required"`
	Granularity string    `validate:"required"`
	Start       time.Time `validate:"-"`
	End         time.Time `validate:"-"`
	AssetClass  string    `validate:"required"`
	Adjust      string    `validate:"required"`
	Reason      string    `validate:"-"`
	CreatedAt   time.Time `validate:"-"`
}

// NewRecord builds a versioned record for one failed task.
func NewRecord(assetClass, symbol string, g series.Granularity, iv series.Interval, adjust series.AdjustMode, reason string) FailureRecord {
	return FailureRecord{
		Version:     SchemaVersion,
		Symbol:      symbol,
		Granularity: string(g),
		Start:       iv.Start,
		End:         iv.End,
		AssetClass:  assetClass,
		Adjust:      string(adjust),
		Reason:      reason,
		CreatedAt:   time.Now().UTC(),
	}
}

// Write persists records to path, replacing any previous ledger. The file
// is written to a temp location and renamed so a crash never leaves a
// truncated ledger.
func Write(path string, records []FailureRecord) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create ledger temp file: %w", err)
	}
	w := csv.NewWriter(f)
	writeErr := w.Write(header)
	for _, rec := range records {
		if writeErr != nil {
			break
		}
		writeErr = w.Write(recordRow(rec))
	}
	w.Flush()
	if writeErr == nil {
		writeErr = w.Error()
	}
	if cerr := f.Close(); writeErr == nil {
		writeErr = cerr
	}
	if writeErr != nil {
		os.Remove(tmp)
		return fmt.Errorf("write ledger: %w", writeErr)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish ledger: %w", err)
	}
	return nil
}

func recordRow(rec FailureRecord) []string {
	start, end := "", ""
	if !rec.Start.IsZero() {
		start = rec.Start.UTC().Format(dateLayout)
	}
	if !rec.End.IsZero() {
		end = rec.End.UTC().Format(dateLayout)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return []string{
		rec.Version, rec.Symbol, rec.Granularity, start, end,
		rec.AssetClass, rec.Adjust, rec.Reason,
		createdAt.UTC().Format(time.RFC3339),
	}
}

// Load parses a ledger file. In strict mode the first invalid row aborts
// with a row-numbered error; in lenient mode invalid rows are skipped and
// reported as warnings. A missing file yields no records and no error.
func Load(path string, strict bool) ([]FailureRecord, []string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	head, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read ledger header: %w", err)
	}
	cols := columnIndex(head)

	validate := validator.New()
	var records []FailureRecord
	var warnings []string
	for rowNo := 2; ; rowNo++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			msg := fmt.Sprintf("ledger row %d unreadable: %v", rowNo, err)
			if strict {
				return nil, nil, errors.New(msg)
			}
			warnings = append(warnings, msg)
			slog.Warn("ledger row skipped", "row", rowNo, "error", err)
			continue
		}
		rec, err := parseRow(row, cols, validate)
		if err != nil {
			msg := fmt.Sprintf("ledger row %d invalid: %v", rowNo, err)
			if strict {
				return nil, nil, errors.New(msg)
			}
			warnings = append(warnings, msg)
			slog.Warn("ledger row skipped", "row", rowNo, "error", err)
			continue
		}
		if !rec.Start.IsZero() && !rec.End.IsZero() && rec.Start.After(rec.End) {
			msg := fmt.Sprintf("ledger row %d: start after end", rowNo)
			if strict {
				return nil, nil, errors.New(msg)
			}
			// Lenient mode keeps the row but falls back to the replay
			// default range.
			warnings = append(warnings, msg+", range reset to default")
			rec.Start, rec.End = time.Time{}, time.Time{}
		}
		records = append(records, rec)
	}
	return records, warnings, nil
}

func columnIndex(head []string) map[string]int {
	cols := make(map[string]int, len(head))
	for i, name := range head {
		cols[strings.TrimSpace(strings.ToLower(name))] = i
	}
	return cols
}

func field(row []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parseRow(row []string, cols map[string]int, validate *validator.Validate) (FailureRecord, error) {
	rec := FailureRecord{
		Version:     field(row, cols, "version"),
		Symbol:      field(row, cols, "symbol"),
		Granularity: field(row, cols, "granularity"),
		AssetClass:  field(row, cols, "asset_class"),
		Adjust:      field(row, cols, "adjust"),
		Reason:      field(row, cols, "reason"),
	}
	if rec.Version == "" {
		rec.Version = SchemaVersion
	}
	if rec.AssetClass == "" {
		rec.AssetClass = "stock"
	}
	if rec.Adjust == "" {
		rec.Adjust = string(series.AdjustAuto)
	}
	if err := validate.Struct(rec); err != nil {
		return FailureRecord{}, err
	}
	if _, err := series.ParseGranularity(rec.Granularity); err != nil {
		return FailureRecord{}, err
	}
	if _, err := series.ParseAdjustMode(rec.Adjust); err != nil {
		return FailureRecord{}, err
	}
	var err error
	if raw := field(row, cols, "start"); raw != "" {
		rec.Start, err = parseDate(raw)
		if err != nil {
			return FailureRecord{}, fmt.Errorf("start: %w", err)
		}
	}
	if raw := field(row, cols, "end"); raw != "" {
		rec.End, err = parseDate(raw)
		if err != nil {
			return FailureRecord{}, fmt.Errorf("end: %w", err)
		}
	}
	if raw := field(row, cols, "created_at"); raw != "" {
		if at, err := time.Parse(time.RFC3339, raw); err == nil {
			rec.CreatedAt = at
		}
	}
	return rec, nil
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.ParseInLocation(dateLayout, raw, time.UTC); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", raw)
	}
	return t.UTC(), nil
}
