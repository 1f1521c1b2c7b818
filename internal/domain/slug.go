package domain

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SimpleSlug lowercases name and replaces each space with a hyphen.
// Spreadsheet imports derive identifiers this way.
func SimpleSlug(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "-")
}

// Slugify strips diacritics, lowercases, drops anything that is not a letter,
// digit, underscore or hyphen, and collapses whitespace and hyphen runs into a
// single hyphen. "Alimentação Básica" becomes "alimentacao-basica".
func Slugify(name string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r == '-' || unicode.IsSpace(r):
			pendingHyphen = b.Len() > 0
		case r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingHyphen {
				b.WriteByte('-')
				pendingHyphen = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}
