package text

import "strings"

// StripBoilerplate removes the Project Gutenberg header and footer that wrap
// the body of every book, along with embedded license blocks. Markers are
// matched by line prefix. The input must use LF line endings, as produced by
// Clean. The result ends with exactly one newline.
//
// Marker lines are ambiguous on their own, so matching is position-gated: a
// header may only end within the first 600 emitted lines and a footer may
// only begin after the first 100. The counter tracks emitted lines, not input
// lines.
func StripBoilerplate(s string) string {
	lines := strings.Split(s, "\n")

	out := make([]string, 0, len(lines))
	emitted := 0
	ignore := false

	for _, line := range lines {
		// Some books signal the end of the header more than once. Each
		// marker discards everything collected so far.
		if emitted <= 600 && hasAnyPrefix(line, headerEndMarkers) {
			out = out[:0]
			continue
		}

		if emitted >= 100 && hasAnyPrefix(line, footerStartMarkers) {
			break
		}

		switch {
		case hasAnyPrefix(line, legaleseStartMarkers):
			ignore = true
		case hasAnyPrefix(line, legaleseEndMarkers):
			ignore = false
		case !ignore:
			out = append(out, line)
			emitted++
		}
	}

	return strings.TrimSpace(strings.Join(out, "\n")) + "\n"
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
