package series

import (
	"fmt"
	"sort"
	"time"
)

// Interval is an inclusive [Start, End] time range.
type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) String() string {
	return fmt.Sprintf("%s..%s", iv.Start.Format("2006-01-02"), iv.End.Format("2006-01-02"))
}

// IsZero reports whether the interval is unset.
func (iv Interval) IsZero() bool {
	return iv.Start.IsZero() && iv.End.IsZero()
}

// Contains reports whether other lies fully inside iv.
func (iv Interval) Contains(other Interval) bool {
	return !other.Start.Before(iv.Start) && !other.End.After(iv.End)
}

// Overlaps reports whether the two intervals share any instant.
func (iv Interval) Overlaps(o Interval) bool {
	return !iv.Start.After(o.End) && !o.Start.After(iv.End)
}

// Touches reports whether o overlaps iv or starts within one step of its
// end (and vice versa), i.e. whether merging the two leaves no coverage gap.
func (iv Interval) Touches(o Interval, step time.Duration) bool {
	if iv.Overlaps(o) {
		return true
	}
	if iv.End.Before(o.Start) {
		return !o.Start.After(iv.End.Add(step))
	}
	return !iv.Start.After(o.End.Add(step))
}

// Union returns the smallest interval covering both.
func (iv Interval) Union(o Interval) Interval {
	out := iv
	if o.Start.Before(out.Start) {
		out.Start = o.Start
	}
	if o.End.After(out.End) {
		out.End = o.End
	}
	return out
}

// Normalize sorts intervals ascending and coalesces any that overlap or sit
// within one step of each other. The result never contains overlapping
// intervals.
func Normalize(ivs []Interval, step time.Duration) []Interval {
	if len(ivs) == 0 {
		return nil
	}
	sorted := make([]Interval, len(ivs))
	copy(sorted, ivs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })
	out := []Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &out[len(out)-1]
		if last.Touches(iv, step) {
			*last = last.Union(iv)
		} else {
			out = append(out, iv)
		}
	}
	return out
}

// Subtract returns the sub-ranges of req not covered by the given intervals,
// stepping at the granularity's bar spacing. covered need not be normalized.
// An empty result means req is fully covered.
func Subtract(req Interval, covered []Interval, step time.Duration) []Interval {
	if req.End.Before(req.Start) {
		return nil
	}
	var gaps []Interval
	cur := req.Start
	for _, cv := range Normalize(covered, step) {
		if cv.End.Before(cur) {
			continue
		}
		if cv.Start.After(req.End) {
			break
		}
		if cv.Start.After(cur) {
			gapEnd := cv.Start.Add(-step)
			if gapEnd.After(req.End) {
				gapEnd = req.End
			}
			if !gapEnd.Before(cur) {
				gaps = append(gaps, Interval{Start: cur, End: gapEnd})
			}
		}
		next := cv.End.Add(step)
		if next.After(cur) {
			cur = next
		}
	}
	if !cur.After(req.End) {
		gaps = append(gaps, Interval{Start: cur, End: req.End})
	}
	return gaps
}

// Chunks splits iv into consecutive sub-intervals no longer than max.
// Neighboring chunks share their boundary instant; the commit path dedupes
// by timestamp so the shared bar is harmless.
func (iv Interval) Chunks(max time.Duration) []Interval {
	if max <= 0 || iv.End.Sub(iv.Start) <= max {
		return []Interval{iv}
	}
	var out []Interval
	cur := iv.Start
	for cur.Before(iv.End) {
		end := cur.Add(max)
		if end.After(iv.End) {
			end = iv.End
		}
		out = append(out, Interval{Start: cur, End: end})
		cur = end
	}
	return out
}
