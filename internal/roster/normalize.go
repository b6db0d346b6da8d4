// Package roster provides the core domain logic for processing CSV rosters:
// field normalization, unique username generation, row validation, and the
// cleaned CSV export. This package has no network or UI dependencies.
package roster

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// PlaceholderName is substituted when normalization of a name yields nothing,
// so the username generator always has non-empty input.
const PlaceholderName = "user"

// foldDiacritics decomposes accented characters and strips combining marks,
// turning "José Müller" into "Jose Muller".
var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizedName holds ASCII-folded, lowercased name parts containing only [a-z0-9].
type NormalizedName struct {
	First string
	Last  string
}

// Normalize cleans raw first/last name text into username-safe fragments.
// It is total: unrecognized characters are dropped, never rejected. When both
// parts normalize to nothing (all-symbol input), First is set to PlaceholderName.
func Normalize(rawFirst, rawLast string) NormalizedName {
	n := NormalizedName{
		First: Slug(foldHonorifics(rawFirst)),
		Last:  Slug(rawLast),
	}
	if n.First == "" && n.Last == "" {
		n.First = PlaceholderName
	}
	return n
}

// Slug removes diacritics, lowercases, and strips every character outside [a-z0-9].
func Slug(s string) string {
	folded, _, err := transform.String(foldDiacritics, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// foldHonorifics strips a leading doctoral title and shortens common long
// patronymic prefixes so they do not dominate the username.
func foldHonorifics(s string) string {
	t := strings.TrimSpace(s)
	lower := strings.ToLower(t)
	if strings.HasPrefix(lower, "dr. ") || strings.HasPrefix(lower, "dr ") {
		if _, rest, ok := strings.Cut(t, " "); ok {
			t = rest
		}
	}
	lower = strings.ToLower(t)
	for _, prefix := range []string{"syeda ", "syed "} {
		if strings.HasPrefix(lower, prefix) {
			t = "s " + t[len(prefix):]
			break
		}
	}
	return strings.Join(strings.Fields(t), " ")
}

// CapWords trims, lowercases, and Title-Cases each word for display names:
// "  mARY  anne " -> "Mary Anne".
func CapWords(s string) string {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// CleanEmail strips internal spaces and surrounding quotes, then lowercases.
func CleanEmail(s string) string {
	s = strings.ReplaceAll(s, " ", "")
	s = strings.Trim(strings.TrimSpace(s), `"'`)
	return strings.ToLower(s)
}

// ValidEmail reports whether s is syntactically acceptable: exactly one "@"
// with non-empty local and domain parts and no whitespace.
func ValidEmail(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t") {
		return false
	}
	local, domain, ok := strings.Cut(s, "@")
	if !ok || strings.Contains(domain, "@") {
		return false
	}
	return local != "" && domain != ""
}
