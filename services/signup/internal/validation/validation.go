// Package validation holds the field predicates used by the sign-up forms.
// Every function is total: malformed input or a malformed constraint yields
// false, never a panic.
package validation

import (
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/diagnosis/luxsuv-signup/pkg/logger"
)

const (
	emailPattern    = `[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*`
	usernamePattern = `[\p{L}\p{N}_\-\.]{4,}`

	passwordSymbols   = "@$!%*?&."
	passwordMinLength = 8
)

var patterns sync.Map // string -> *regexp.Regexp, nil for invalid patterns

// Range reports whether min <= value <= max. A constraint with min > max is
// rejected.
func Range(value, min, max int) bool {
	if min > max {
		logger.Debug("Invalid range constraint", "min", min, "max", max)
		return false
	}
	return value >= min && value <= max
}

// RegexMatch reports whether pattern matches all of text once trailing
// whitespace is removed.
func RegexMatch(text, pattern string) bool {
	re := compile(pattern)
	if re == nil {
		return false
	}
	return re.MatchString(strings.TrimRightFunc(text, unicode.IsSpace))
}

func compile(pattern string) *regexp.Regexp {
	if cached, ok := patterns.Load(pattern); ok {
		re, _ := cached.(*regexp.Regexp)
		return re
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		logger.Debug("Invalid validation pattern", "pattern", pattern, "error", err)
		re = nil
	}
	patterns.Store(pattern, re)
	return re
}

func Equals[T comparable](a, b T) bool {
	return a == b
}

func OneOf[T comparable](value T, allowed ...T) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

// NonEmpty reports whether text has at least one non-whitespace character.
func NonEmpty(text string) bool {
	return strings.TrimSpace(text) != ""
}

func IsEmail(text string) bool {
	return RegexMatch(text, emailPattern)
}

// IsDecimalDigits checks a fixed-point numeric string. With precision 0 the
// text must be exactly total ASCII digits and contain no point. Otherwise it
// must hold a single point with total-precision digits before it and
// precision digits after it.
func IsDecimalDigits(text string, total, precision int) bool {
	if total < 0 || precision < 0 || precision > total {
		return false
	}

	whole, fraction, hasPoint := strings.Cut(text, ".")
	if !hasPoint {
		return precision == 0 && len(text) == total && allDigits(text)
	}
	if precision == 0 {
		return false
	}
	return len(whole) == total-precision && allDigits(whole) &&
		len(fraction) == precision && allDigits(fraction)
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// IsUsername accepts at least four letters, digits, underscores, hyphens or
// periods. Letters and digits from any script count.
func IsUsername(text string) bool {
	return RegexMatch(text, usernamePattern)
}

// IsPassword requires at least eight characters drawn only from letters,
// digits and @$!%*?&. with at least one of each class. Whitespace anywhere
// fails, since the password is hashed exactly as submitted.
func IsPassword(text string) bool {
	if len(text) < passwordMinLength {
		return false
	}

	var lower, upper, digit, symbol bool
	for _, r := range text {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSymbols, r):
			symbol = true
		default:
			return false
		}
	}
	return lower && upper && digit && symbol
}

// IsFutureOrPresentDate reports whether text, parsed with layout, is not
// before today.
func IsFutureOrPresentDate(text, layout string) bool {
	return IsFutureOrPresentDateAt(text, layout, time.Now())
}

// IsFutureOrPresentDateAt compares at the granularity of layout: now is
// formatted and re-parsed with the same layout so a "2006-01" layout treats
// the whole current month as present.
func IsFutureOrPresentDateAt(text, layout string, now time.Time) bool {
	date, err := time.Parse(layout, text)
	if err != nil {
		logger.Debug("Unparseable date", "layout", layout, "error", err)
		return false
	}
	today, err := time.Parse(layout, now.Format(layout))
	if err != nil {
		logger.Debug("Layout does not round-trip", "layout", layout, "error", err)
		return false
	}
	return !date.Before(today)
}

// LastDayOfMonth parses a "YYYY-MM" value and returns the last calendar day
// of that month at midnight UTC.
func LastDayOfMonth(yearMonth string) (time.Time, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(yearMonth))
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC), nil
}
