package business

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/places-sync/pkg/google"
)

const localityType = "locality"

// LocalityFromComponents returns the long name of the first address
// component typed "locality", or "" when there is none.
func LocalityFromComponents(comps []google.AddressComponent) string {
	for _, c := range comps {
		for _, t := range c.Types {
			if t == localityType {
				return CanonicalLocality(c.LongText)
			}
		}
	}
	return ""
}

// CanonicalLocality normalizes a locality name to NFC with single spaces.
// Case is kept as upstream reports it.
func CanonicalLocality(name string) string {
	return strings.Join(strings.Fields(norm.NFC.String(name)), " ")
}

// Slug returns a lowercase ASCII slug with diacritics stripped,
// e.g. "São Paulo" -> "sao-paulo".
func Slug(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, name)
	if err != nil {
		stripped = name
	}
	stripped = cases.Lower(language.Und).String(stripped)

	var b strings.Builder
	dash := false
	for _, r := range stripped {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
