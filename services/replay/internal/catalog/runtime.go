package catalog

import (
	"regexp"
	"strconv"
)

var runtimeRe = regexp.MustCompile(`(?i)(?:(\d+)\s*h)?\s*(?:(\d+)\s*min)?`)

// ParseRuntime converts a display runtime like "2h 30min", "45min" or "2h"
// to seconds. Missing groups default to zero; an unparsable string yields 0
// rather than an error so bad catalog data never breaks percentage display.
func ParseRuntime(s string) int {
	m := runtimeRe.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	return groupInt(m[1])*3600 + groupInt(m[2])*60
}

func groupInt(s string) int {
	if s == "" {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}
