package series

import (
	"fmt"
	"strings"
)

// AdjustMode selects how price history is adjusted for corporate actions.
type AdjustMode string

const (
	AdjustNone    AdjustMode = "none"
	AdjustAuto    AdjustMode = "auto"
	AdjustBack    AdjustMode = "back"
	AdjustForward AdjustMode = "forward"
)

// ParseAdjustMode normalizes an adjustment-mode string, accepting the common
// aliases "front" and "backward".
func ParseAdjustMode(s string) (AdjustMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return AdjustAuto, nil
	case "none":
		return AdjustNone, nil
	case "back", "backward":
		return AdjustBack, nil
	case "forward", "front":
		return AdjustForward, nil
	}
	return "", fmt.Errorf("invalid adjustment mode %q", s)
}
