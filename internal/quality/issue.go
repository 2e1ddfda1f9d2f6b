// Package quality scans stored dataset files with a fixed rule set and
// aggregates severity-tagged issues into a per-run report. The scan is
// read-only: it may run alongside a writer because it only ever sees
// finalized (renamed) files.
package quality

import (
	"sync"
	"time"
)

// Severity grades an issue.
type Severity string

const (
	SeverityError Severity = "ERROR"
	SeverityWarn  Severity = "WARN"
)

// Rule identifiers. Each file yields zero or more issues per rule.
const (
	RuleUnreadable      = "file.unreadable"
	RuleMissingRequired = "schema.missing_required"
	RuleMissingOptional = "schema.missing_optional"
	RuleCloseInvalid    = "close.invalid"
	RuleOHLCLogic       = "ohlc.logic"
	RuleDupTimestamp    = "timestamp.duplicate"
	RuleTimestampGap    = "timestamp.gap"
)

// Issue is one detected anomaly. Never mutated after creation.
type Issue struct {
	Path        string   `json:"path"`
	AssetClass  string   `json:"asset_class,omitempty"`
	Symbol      string   `json:"symbol,omitempty"`
	Granularity string   `json:"granularity,omitempty"`
	Severity    Severity `json:"severity"`
	RuleID      string   `json:"rule_id"`
	Message     string   `json:"message"`
	Details     string   `json:"details,omitempty"`
	CreatedAt   string   `json:"created_at"`
}

// FileSummary captures the per-file statistics behind the issues.
type FileSummary struct {
	Path          string
	AssetClass    string
	Symbol        string
	Granularity   string
	RowCount      int
	MinTimestamp  time.Time
	MaxTimestamp  time.Time
	DupTimestamps int
	NullClose     int
	NegativeClose int
	InvalidOHLC   int
	MaxGap        time.Duration
}

// Report aggregates a scan run. Aggregate counts are independent of the
// order workers report in.
type Report struct {
	mu             sync.Mutex
	Files          []FileSummary
	Issues         []Issue
	FilesScanned   int
	FilesWithIssue int
	ErrorCount     int
	WarnCount      int
}

func (r *Report) add(summary FileSummary, issues []Issue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Files = append(r.Files, summary)
	r.Issues = append(r.Issues, issues...)
	r.FilesScanned++
	if len(issues) > 0 {
		r.FilesWithIssue++
	}
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityError:
			r.ErrorCount++
		case SeverityWarn:
			r.WarnCount++
		}
	}
}

// Failed reports whether any ERROR-severity issue was found; it drives the
// caller's gating exit code.
func (r *Report) Failed() bool {
	return r.ErrorCount > 0
}
