// Package normalize canonicalizes raw learner identity fields into
// comparable forms. Normalization is pure and deterministic: unparsable
// input becomes the canonical empty value rather than an error, and an
// empty field can never contribute a positive match.
package normalize

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/learnersafe/heron/internal/domain"
)

// Options holds the locale-dependent normalization parameters.
type Options struct {
	// PhoneCountryCode is the national dialing prefix a leading "0"
	// folds into, e.g. "27" for South Africa.
	PhoneCountryCode string
}

// DefaultOptions returns the normalization defaults.
func DefaultOptions() Options {
	return Options{PhoneCountryCode: "27"}
}

// stripAccents removes combining marks after NFD decomposition, so
// "Müller" and "Muller" compare equal.
var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Identity produces the canonical comparison form of a learner record.
func Identity(l *domain.LearnerIdentity, opts Options) *domain.NormalizedIdentity {
	n := &domain.NormalizedIdentity{
		LearnerID:       l.ID,
		NationalID:      IDNumber(l.NationalID),
		AlternateID:     IDNumber(l.AlternateID),
		PassportNumber:  IDNumber(l.PassportNumber),
		FirstName:       Name(l.FirstName),
		LastName:        Name(l.LastName),
		Phone:           Phone(l.Phone, opts.PhoneCountryCode),
		Email:           Email(l.Email),
		AffiliationCode: IDNumber(l.AffiliationCode),
	}
	if l.DateOfBirth != nil {
		n.DateOfBirth = Date(*l.DateOfBirth)
	}
	return n
}

// IDNumber strips non-alphanumeric characters and upper-cases the rest.
func IDNumber(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// Phone reduces a phone number to digits only and folds the national
// "0" trunk prefix into the given country code, so "0821234567" and
// "+27821234567" compare equal. An international "00" prefix is
// stripped. Numbers too short to be dialable normalize to empty.
func Phone(raw, countryCode string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < 7 {
		return ""
	}

	switch {
	case strings.HasPrefix(digits, "00"):
		digits = digits[2:]
	case strings.HasPrefix(digits, "0") && countryCode != "":
		digits = countryCode + digits[1:]
	}
	return digits
}

// Name case-folds, strips accents and collapses whitespace for
// comparison. The original casing stays on the learner record.
func Name(raw string) string {
	folded := strings.ToLower(strings.TrimSpace(raw))
	if folded == "" {
		return ""
	}
	stripped, _, err := transform.String(stripAccents, folded)
	if err != nil {
		stripped = folded
	}
	return strings.Join(strings.Fields(stripped), " ")
}

// Email lower-cases and trims. Anything without an "@" between
// non-empty parts normalizes to empty.
func Email(raw string) string {
	e := strings.ToLower(strings.TrimSpace(raw))
	at := strings.Index(e, "@")
	if at <= 0 || at == len(e)-1 {
		return ""
	}
	return e
}

// Date truncates to a calendar date in UTC with no time component.
func Date(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
