package models

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// UnknownTotal is the set size placeholder used when a collector number has no total
const UnknownTotal = "???"

// ErrInvalidNumber is returned when a collector number cannot be standardized
var ErrInvalidNumber = errors.New("invalid collector number")

var (
	standardNumberRe = regexp.MustCompile(`^\d+/(\d+|\?\?\?)$`)
	rawNumberRe      = regexp.MustCompile(`^(\d+)(?:/(\d+|\?\?\?))?$`)

	// Card names sometimes embed the number: "Charizard - 004/102", "Charizard 4/102", "4/102 Charizard"
	dashSuffixNumberRe  = regexp.MustCompile(`^(.*?)\s*-\s*(\d{1,4}/\d{1,4})\s*$`)
	spaceSuffixNumberRe = regexp.MustCompile(`^(.*?)\s+(\d{1,4}/\d{1,4})\s*$`)
	prefixNumberRe      = regexp.MustCompile(`^(\d{1,4}/\d{1,4})\s+(.*)$`)
)

// IsStandardNumber reports whether n is already in "N/M" or "N/???" form
func IsStandardNumber(n string) bool {
	return standardNumberRe.MatchString(n)
}

// StandardizeNumber pads the card number to three digits and appends "/???" when the set total
// is unknown: "4/102" -> "004/102", "25" -> "025/???". Already standardized input is returned unchanged.
func StandardizeNumber(raw string) (string, error) {
	n := strings.Join(strings.Fields(raw), "")
	n = strings.TrimPrefix(n, "#")
	if n == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNumber)
	}

	m := rawNumberRe.FindStringSubmatch(n)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidNumber, raw)
	}

	num, err := strconv.Atoi(m[1])
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidNumber, raw)
	}

	total := m[2]
	if total == "" {
		total = UnknownTotal
	}

	return fmt.Sprintf("%03d/%s", num, total), nil
}

// ExtractNumber pulls a "number/total" token out of a display name. It returns the token as written,
// the name with the token removed, and whether a token was found.
func ExtractNumber(name string) (number, baseName string, ok bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", false
	}

	if m := dashSuffixNumberRe.FindStringSubmatch(name); m != nil {
		return m[2], strings.TrimSpace(m[1]), true
	}
	if m := spaceSuffixNumberRe.FindStringSubmatch(name); m != nil {
		return m[2], strings.TrimSpace(m[1]), true
	}
	if m := prefixNumberRe.FindStringSubmatch(name); m != nil {
		return m[1], strings.TrimSpace(m[2]), true
	}

	return "", "", false
}
