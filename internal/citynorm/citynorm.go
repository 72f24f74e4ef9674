// Package citynorm turns free-text city names into matching keys.
//
// Two spellings that differ only in accents, letter case, punctuation or
// spacing produce the same key, so "İzmir", "izmir " and "İZMİR" all map
// to "IZMIR". A key mismatch silently routes rows to the catch-all group.
package citynorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// letters maps characters that must become specific Latin letters. Some of
// them (ı, ł, ø, æ, ß, đ) have no canonical decomposition, so stripping
// combining marks would otherwise drop or keep them unchanged.
var letters = map[rune]string{
	'ı': "i", 'İ': "I",
	'ğ': "g", 'Ğ': "G",
	'ş': "s", 'Ş': "S",
	'ç': "c", 'Ç': "C",
	'ö': "o", 'Ö': "O",
	'ü': "u", 'Ü': "U",
	'â': "a", 'Â': "A",
	'î': "i", 'Î': "I",
	'û': "u", 'Û': "U",
	'ß': "SS",
	'æ': "AE", 'Æ': "AE",
	'ø': "O", 'Ø': "O",
	'ł': "L", 'Ł': "L",
	'đ': "D", 'Đ': "D",
}

// fold decomposes compatibility forms (full-width letters, ligatures) and
// drops the combining marks left behind.
func fold() transform.Transformer {
	return transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
}

// Normalize returns the matching key for raw. It never fails; input with
// no letters or digits yields "".
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}

	var mapped strings.Builder
	mapped.Grow(len(raw))
	for _, r := range raw {
		if repl, ok := letters[r]; ok {
			mapped.WriteString(repl)
			continue
		}
		mapped.WriteRune(r)
	}

	folded, _, err := transform.String(fold(), mapped.String())
	if err != nil {
		folded = mapped.String()
	}

	var b strings.Builder
	b.Grow(len(folded))
	pendingSpace := false
	for _, r := range strings.ToUpper(folded) {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			if pendingSpace {
				b.WriteByte(' ')
				pendingSpace = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}
