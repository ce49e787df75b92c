package text

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// lineBreaks rewrites every line terminator Unicode text can carry to LF.
// The CRLF pair is listed first so it collapses to a single newline.
var lineBreaks = strings.NewReplacer(
	"\r\n", "\n",
	"\r", "\n",
	"\v", "\n",
	"\f", "\n",
	"\x1c", "\n", // file separator
	"\x1d", "\n", // group separator
	"\x1e", "\n", // record separator
	"", "\n", // next line
	" ", "\n", // line separator
	" ", "\n", // paragraph separator
)

// Clean canonicalizes text for storage: strips a leading BOM, normalizes to
// NFC, rewrites all line terminators to LF and trims surrounding whitespace.
// Clean is idempotent.
func Clean(s string) string {
	s = strings.TrimPrefix(s, "﻿")
	s = norm.NFC.String(s)
	s = lineBreaks.Replace(s)
	return strings.TrimSpace(s)
}

// Ligatures not covered by NFKC. Uppercase forms are already lower-cased by
// the time this table applies.
var ligatures = strings.NewReplacer(
	"œ", "oe",
	"æ", "ae",
)

// Fold normalizes a string for the search index. The same folding must be
// applied to indexed values and to query strings, or they won't match.
//
// The string is normalized to NFKC and runs of Unicode whitespace become a
// single SPACE: SQLite's tokenizer doesn't recognize non-ASCII whitespace.
// Case folding applies to non-ASCII code points only. We can't fold the whole
// string because the case of query operators (AND, OR, NOT) is significant,
// and SQLite already matches ASCII case-insensitively. Fold is idempotent.
func Fold(s string) string {
	s = norm.NFKC.String(s)
	s = strings.Join(strings.Fields(s), " ")

	var b strings.Builder
	b.Grow(len(s))
	folder := cases.Fold()
	for _, r := range s {
		if r < utf8.RuneSelf {
			b.WriteByte(byte(r))
		} else {
			b.WriteString(folder.String(string(r)))
		}
	}
	return ligatures.Replace(b.String())
}
