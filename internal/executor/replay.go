package executor

import (
	"time"

	"marketgrab/internal/ledger"
	"marketgrab/internal/series"
)

// replayDefaultDays is the window substituted when a ledger row carries no
// start/end.
const replayDefaultDays = 365

// TargetsFromRecords converts previously persisted failure records back into
// fetch targets for replay. Rows without a range default to the last year
// ending at now.
func TargetsFromRecords(records []ledger.FailureRecord, now time.Time) []Target {
	defaultWindow := series.Interval{
		Start: now.AddDate(0, 0, -replayDefaultDays),
		End:   now,
	}
	targets := make([]Target, 0, len(records))
	for _, rec := range records {
		g, err := series.ParseGranularity(rec.Granularity)
		if err != nil {
			continue
		}
		adjust, err := series.ParseAdjustMode(rec.Adjust)
		if err != nil {
			adjust = series.AdjustAuto
		}
		window := defaultWindow
		if !rec.Start.IsZero() {
			window.Start = rec.Start
		}
		if !rec.End.IsZero() {
			window.End = rec.End
		}
		targets = append(targets, Target{
			AssetClass:  rec.AssetClass,
			Symbol:      rec.Symbol,
			Granularity: g,
			Window:      window,
			Adjust:      adjust,
		})
	}
	return targets
}
