// Package slug normalizes company identifiers for comparison.
//
// Company identifiers reach the ownership store in many spellings ("MS Byggsystem",
// "ms-byggsystem", "MS  Byggsystem "). Normalize maps all of them to one key. The
// normalized form is only used to compare identifiers and as the slug-fallback
// store key; raw identifiers are always what gets stored and displayed.
package slug

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize returns the comparison key for a raw identifier.
//
// The key is lower-case and trimmed, each whitespace run becomes a single hyphen,
// anything outside [a-z0-9-] is dropped and leading/trailing hyphens are trimmed.
// Literal hyphens and hyphens left next to dropped characters are kept as they are,
// so "A & B" is "a--b". Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))

	inSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte('-')
				inSpace = true
			}
			continue
		}
		inSpace = false
		if r == '-' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}

	return strings.Trim(b.String(), "-")
}

// Equal reports whether two raw identifiers name the same company.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// SiteSlug returns the URL slug requested from the directory service for a new
// site name. Diacritics are folded ("å" -> "a") and hyphen runs collapse, so
// "Åre Bygg – DK Anbud" is "are-bygg-dk-anbud". It is never an ownership key.
func SiteSlug(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))

	var b strings.Builder
	b.Grow(len(s))

	lastHyphen := false
	for _, r := range norm.NFD.String(s) {
		switch {
		case unicode.Is(unicode.Mn, r):
			continue
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case unicode.IsSpace(r), unicode.IsPunct(r), unicode.IsSymbol(r):
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	return strings.Trim(b.String(), "-")
}
