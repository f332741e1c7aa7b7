package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/nightsky/skycover/internal/faults"
	"github.com/nightsky/skycover/internal/models"
)

// Query length bounds in runes.
const (
	QueryMinLength = 2
	QueryMaxLength = 80
)

// ValidateQuery trims the input, enforces length bounds, and restricts to
// letters (Unicode), digits, space, comma, apostrophe, period, hyphen.
// Returns the trimmed string or a fault suitable for a 400 response.
// Normalization (lowercasing) is left to the caller building cache keys.
func ValidateQuery(input string) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", fmt.Errorf("%w: query is required", faults.ErrInvalidInput)
	}
	if n < QueryMinLength {
		return "", fmt.Errorf("%w: query too short", faults.ErrInvalidInput)
	}
	if n > QueryMaxLength {
		return "", fmt.Errorf("%w: query too long", faults.ErrInvalidInput)
	}
	for _, c := range r {
		if !isAllowedQueryRune(c) {
			return "", fmt.Errorf("%w: query contains invalid characters", faults.ErrInvalidInput)
		}
	}
	return s, nil
}

// isAllowedQueryRune returns true for letters (Unicode), digits, and a small
// set of punctuation seen in place names.
func isAllowedQueryRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '\'', '.', '-':
		return true
	}
	return false
}

// ValidateCoordinate rejects non-finite or out-of-range coordinates before
// any network call is made.
func ValidateCoordinate(c models.Coordinate) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: %v", faults.ErrInvalidInput, err)
	}
	return nil
}

// ClampHours applies the default horizon when hours is zero and caps it at
// max. Negative values are invalid.
func ClampHours(hours, def, max int) (int, error) {
	if hours == 0 {
		return def, nil
	}
	if hours < 0 {
		return 0, fmt.Errorf("%w: hours must be positive", faults.ErrInvalidInput)
	}
	if hours > max {
		return max, nil
	}
	return hours, nil
}
