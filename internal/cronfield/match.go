// Package cronfield evaluates single crontab field expressions.
//
// Supported forms, in precedence order: "*", comma lists "a,b", ranges
// "a-b", steps "base/n" and bare integers. Lists recurse into the same
// grammar, so "1-5,*/15" is valid.
package cronfield

import (
	"strconv"
	"strings"
)

// Match reports whether expr matches value. It never panics; a component
// that does not parse as an integer simply fails to match.
func Match(expr string, value int) bool {
	if expr == "*" {
		return true
	}
	if strings.Contains(expr, ",") {
		for _, part := range strings.Split(expr, ",") {
			if Match(part, value) {
				return true
			}
		}
		return false
	}
	if strings.Contains(expr, "-") {
		lo, hi, ok := parseRange(expr)
		return ok && lo <= value && value <= hi
	}
	if strings.Contains(expr, "/") {
		base, step, ok := splitStep(expr)
		if !ok || step <= 0 {
			return false
		}
		if base == "*" {
			return value%step == 0
		}
		return Match(base, value) && value%step == 0
	}
	n, err := strconv.Atoi(expr)
	return err == nil && n == value
}

func parseRange(expr string) (lo, hi int, ok bool) {
	a, b, found := strings.Cut(expr, "-")
	if !found {
		return 0, 0, false
	}
	lo, err := strconv.Atoi(a)
	if err != nil {
		return 0, 0, false
	}
	hi, err = strconv.Atoi(b)
	if err != nil {
		return 0, 0, false
	}
	return lo, hi, true
}

func splitStep(expr string) (base string, step int, ok bool) {
	base, s, found := strings.Cut(expr, "/")
	if !found {
		return "", 0, false
	}
	step, err := strconv.Atoi(s)
	if err != nil {
		return "", 0, false
	}
	return base, step, true
}
