// Package phone canonicalizes customer phone numbers into the 12-digit
// Egyptian international form used as a chat-transport address.
package phone

import (
	"regexp"
	"strings"
)

var digitRun = regexp.MustCompile(`[0-9]{8,15}`)

// Canonical picks the best of two raw phone cells and canonicalizes it.
// The alternate cell wins when it yields a valid number, because operators
// put the reachable number there after a failed call. Returns "" when
// neither cell produces a valid Egyptian mobile number.
func Canonical(primary, alternate string) string {
	if n := canonicalOne(alternate); n != "" {
		return n
	}
	return canonicalOne(primary)
}

// canonicalOne canonicalizes a single raw cell. Accepted digit shapes:
//
//	20XXXXXXXXXX  already international
//	01XXXXXXXXX   local with trunk zero
//	1XXXXXXXXX    local without trunk zero
//
// The canonical form is always 20 followed by ten digits starting with 1.
func canonicalOne(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if n := normalize(digits(raw)); n != "" {
		return n
	}

	// Formula-error cells ("#ERROR! 01012345678") bury the number in
	// garbage. Try every contiguous 8-15 digit run before giving up.
	for _, run := range digitRun.FindAllString(raw, -1) {
		if n := normalize(run); n != "" {
			return n
		}
	}
	return ""
}

func normalize(d string) string {
	// International prefixes written as 00 or + collapse to the same digits.
	d = strings.TrimPrefix(d, "00")

	switch {
	case len(d) == 12 && strings.HasPrefix(d, "20"):
		// keep
	case len(d) == 11 && strings.HasPrefix(d, "0"):
		d = "20" + d[1:]
	case len(d) == 10 && strings.HasPrefix(d, "1"):
		d = "20" + d
	default:
		return ""
	}

	if len(d) != 12 || !strings.HasPrefix(d, "201") {
		return ""
	}
	return d
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
