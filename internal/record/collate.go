package record

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var upperCaser = cases.Upper(language.Und)

// FoldUpper upper-cases s using Unicode case-folding rules rather than
// the ASCII-only strings.ToUpper, so a NOCASE-style comparison (LIKE's
// case-insensitive match) behaves correctly on non-ASCII text too.
func FoldUpper(s string) string {
	return upperCaser.String(s)
}

// EqualNoCase reports whether a and b are equal under the same
// case-folding rule FoldUpper applies, a NOCASE-style equality as
// opposed to Compare's byte-for-byte one. Columns carry no collation,
// so Compare and the engine's comparisons do not use it.
func EqualNoCase(a, b string) bool {
	return FoldUpper(a) == FoldUpper(b)
}
