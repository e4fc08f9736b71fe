package reconcile

import (
	"strconv"
	"strings"

	"adsbx_history/internal/models"
)

// dbFlags bits
const (
	FlagMilitary    = models.DBFlagMilitary
	FlagInteresting = models.DBFlagInteresting
	FlagPIA         = models.DBFlagPIA
	FlagLADD        = models.DBFlagLADD
)

var flagLabels = []struct {
	bit   int64
	label string
}{
	{FlagMilitary, "Military"},
	{FlagInteresting, "Interesting"},
	{FlagPIA, "PIA"},
	{FlagLADD, "LADD"},
}

// DecodeFlags turns a dbFlags bitmask into a label list such as
// "Military, LADD". It returns "" for zero or non-numeric input.
func DecodeFlags(v any) string {
	mask, ok := flagMask(v)
	if !ok {
		return ""
	}
	var labels []string
	for _, fl := range flagLabels {
		if mask&fl.bit != 0 {
			labels = append(labels, fl.label)
		}
	}
	return strings.Join(labels, ", ")
}

func flagMask(v any) (int64, bool) {
	if i, ok := models.Integer(v); ok {
		return i, true
	}
	if f, ok := models.Number(v); ok {
		return int64(f), true
	}
	if s, ok := v.(string); ok {
		i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		return i, err == nil
	}
	return 0, false
}
