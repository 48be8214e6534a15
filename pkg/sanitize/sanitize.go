// Package sanitize normalizes raw input text before any policy or rule
// evaluation. Zero-width insertion and exotic Unicode are common evasion
// tricks; every downstream stage assumes it receives sanitized text.
package sanitize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// zeroWidth covers the zero-width space/joiner/non-joiner and the BOM.
// They are format characters that survive NFKC and must go explicitly.
var zeroWidth = map[rune]struct{}{
	'\u200b': {}, // zero-width space
	'\u200c': {}, // zero-width non-joiner
	'\u200d': {}, // zero-width joiner
	'\ufeff': {}, // byte order mark
}

// Text applies NFKC normalization, drops zero-width runes and every rune in
// the Unicode "other" super-category (control, format, surrogate, private
// use, unassigned), collapses whitespace runs to a single space and trims
// the result. It is total (empty in, empty out) and idempotent.
func Text(s string) string {
	if s == "" {
		return ""
	}

	s = norm.NFKC.String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if _, zw := zeroWidth[r]; zw {
			continue
		}
		if unicode.In(r, unicode.C) {
			continue
		}
		// unicode.C spans control, format, surrogate and private use.
		// Unassigned (Cn) code points have no range table of their own;
		// they are the runes that are neither graphic nor whitespace.
		if !unicode.IsGraphic(r) && !unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}

	return strings.Join(strings.Fields(b.String()), " ")
}
