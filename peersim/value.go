package peersim

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// parseValue reads a define_property value. unset is reported for "null" and
// blank values. Hex (0x, #) and decimal integers become int64, then floats,
// then booleans; anything else stays a string.
func parseValue(s string) (v any, unset bool, err error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return nil, true, nil
	}
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "0x") || strings.HasPrefix(lower, "#") {
		digits := strings.TrimPrefix(strings.TrimPrefix(lower, "0x"), "#")
		n, err := strconv.ParseInt(digits, 16, 64)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %q is not hex", ErrBadValue, s)
		}
		return n, false, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, false, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return f, false, nil
	}
	if b, err := strconv.ParseBool(lower); err == nil && (lower == "true" || lower == "false") {
		return b, false, nil
	}
	return s, false, nil
}
