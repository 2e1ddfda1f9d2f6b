// Package series holds the time-series primitives shared by the download
// pipeline and the quality validator: OHLCV bars, sampling granularities,
// and inclusive date intervals with gap arithmetic.
package series

import (
	"sort"
	"time"
)

// Bar is one OHLCV row. Timestamps are unix milliseconds. The parquet tags
// define the on-disk columnar schema; timestamp and close are the required
// columns, everything else is optional.
type Bar struct {
	Timestamp int64   `parquet:"timestamp"`
	Open      float64 `parquet:"open,optional"`
	High      float64 `parquet:"high,optional"`
	Low       float64 `parquet:"low,optional"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume,optional"`
	AdjClose  float64 `parquet:"adj_close,optional"`
}

// Time returns the bar timestamp as a UTC time.
func (b Bar) Time() time.Time {
	return time.UnixMilli(b.Timestamp).UTC()
}

// Millis converts a time to the bar timestamp representation.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// DedupeBars sorts bars by timestamp and removes duplicates, keeping the
// last occurrence of each timestamp in input order (last-write-wins).
func DedupeBars(bars []Bar) []Bar {
	if len(bars) == 0 {
		return nil
	}
	latest := make(map[int64]Bar, len(bars))
	for _, b := range bars {
		latest[b.Timestamp] = b
	}
	out := make([]Bar, 0, len(latest))
	for _, b := range latest {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// BarsInterval returns the inclusive time range covered by a sorted,
// deduplicated bar slice. ok is false for an empty slice.
func BarsInterval(bars []Bar) (Interval, bool) {
	if len(bars) == 0 {
		return Interval{}, false
	}
	return Interval{Start: bars[0].Time(), End: bars[len(bars)-1].Time()}, true
}
