package series

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Granularity is the sampling interval of a stored time series, in the
// provider's compact notation: "1m", "5m", "1h", "1d", "1wk", "1mo", "1y".
type Granularity string

// Common granularities.
const (
	Minute  Granularity = "1m"
	Hourly  Granularity = "1h"
	Daily   Granularity = "1d"
	Weekly  Granularity = "1wk"
	Monthly Granularity = "1mo"
)

// ParseGranularity validates and normalizes a granularity string.
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(strings.ToLower(strings.TrimSpace(s)))
	if g == "" {
		return "", fmt.Errorf("empty granularity")
	}
	if _, err := g.step(); err != nil {
		return "", err
	}
	return g, nil
}

// Step returns the nominal spacing between consecutive bars. Weeks, months
// and years use calendar approximations (7, 30, 365 days), which is enough
// for coverage adjacency checks.
func (g Granularity) Step() time.Duration {
	d, err := g.step()
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

func (g Granularity) step() (time.Duration, error) {
	s := string(g)
	unit := ""
	switch {
	case strings.HasSuffix(s, "wk"):
		unit = "wk"
	case strings.HasSuffix(s, "mo"):
		unit = "mo"
	case strings.HasSuffix(s, "m"), strings.HasSuffix(s, "h"),
		strings.HasSuffix(s, "d"), strings.HasSuffix(s, "y"):
		unit = s[len(s)-1:]
	default:
		return 0, fmt.Errorf("invalid granularity %q", s)
	}
	countStr := strings.TrimSuffix(s, unit)
	count := 1
	if countStr != "" {
		n, err := strconv.Atoi(countStr)
		if err != nil || n < 1 {
			return 0, fmt.Errorf("invalid granularity %q", s)
		}
		count = n
	}
	switch unit {
	case "m":
		return time.Duration(count) * time.Minute, nil
	case "h":
		return time.Duration(count) * time.Hour, nil
	case "d":
		return time.Duration(count) * 24 * time.Hour, nil
	case "wk":
		return time.Duration(count) * 7 * 24 * time.Hour, nil
	case "mo":
		return time.Duration(count) * 30 * 24 * time.Hour, nil
	case "y":
		return time.Duration(count) * 365 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("invalid granularity %q", s)
}

// GapThreshold returns the largest inter-bar gap the quality validator
// accepts without flagging the file. Zero disables the check. The thresholds
// are deliberately coarse so holidays and weekends never flag daily data.
func (g Granularity) GapThreshold() time.Duration {
	s := string(g)
	switch {
	case strings.HasSuffix(s, "wk"):
		return 60 * 24 * time.Hour
	case strings.HasSuffix(s, "mo"):
		return 120 * 24 * time.Hour
	case strings.HasSuffix(s, "d"):
		return 10 * 24 * time.Hour
	case strings.HasSuffix(s, "m"), strings.HasSuffix(s, "h"):
		return 6 * time.Hour
	}
	return 0
}
