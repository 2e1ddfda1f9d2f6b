package quality

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
)

// WriteJSONL writes issues as line-delimited JSON. Record order carries no
// meaning.
func WriteJSONL(w io.Writer, issues []Issue) error {
	enc := json.NewEncoder(w)
	for _, issue := range issues {
		if err := enc.Encode(issue); err != nil {
			return fmt.Errorf("encode issue: %w", err)
		}
	}
	return nil
}

// csvHeader is a fixed column order so exports diff cleanly.
var csvHeader = []string{
	"created_at", "severity", "rule_id",
	"asset_class", "symbol", "granularity",
	"path", "message", "details",
}

// WriteCSV writes issues in tabular form.
func WriteCSV(w io.Writer, issues []Issue) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, issue := range issues {
		row := []string{
			issue.CreatedAt, string(issue.Severity), issue.RuleID,
			issue.AssetClass, issue.Symbol, issue.Granularity,
			issue.Path, issue.Message, issue.Details,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write issue row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
