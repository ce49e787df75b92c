package mirror

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Fallback encodings tried after the catalog-declared one. UTF-8 is
// unambiguous, Latin-1 covers most pre-Unicode texts, and the Windows and
// Latin-9 codepages absorb the stragglers.
var fallbackEncodings = []string{"utf-8", "iso-8859-1", "windows-1252", "iso-8859-15"}

// DecodeText converts a raw download to a string, trying the declared
// encoding first and then the fallback chain. The first encoding that
// decodes every byte cleanly wins.
func DecodeText(raw []byte, declared string) (string, error) {
	tried := make(map[string]bool, len(fallbackEncodings)+1)
	for _, label := range append([]string{normalizeEncoding(declared)}, fallbackEncodings...) {
		if label == "" || tried[label] {
			continue
		}
		tried[label] = true
		if s, err := decodeAs(raw, label); err == nil {
			return s, nil
		}
	}
	return "", fmt.Errorf("no encoding decodes this text (declared %q)", declared)
}

// normalizeEncoding maps the labels observed in catalog data, including
// historical typos, to canonical names.
func normalizeEncoding(label string) string {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "ascii", "us-ascii", "iso-646-us", "iso-646-us (us-ascii)":
		return "us-ascii"
	case "latin-1", "latin1", "iso-latin-1", "iso latin-1", "iso 8859-1 (latin-1)", "iso-8859-1", "iso-8858-1", "ido-8859-1":
		return "iso-8859-1"
	case "windows-1252", "windows codepage 1252", "cp-1252", "cp1252":
		return "windows-1252"
	case "latin-9", "iso-8859-15":
		return "iso-8859-15"
	case "utf-8", "utf8":
		return "utf-8"
	case "utf-16", "utf16":
		return "utf-16"
	default:
		return strings.ToLower(strings.TrimSpace(label))
	}
}

func decodeAs(raw []byte, label string) (string, error) {
	switch label {
	case "utf-8":
		if !utf8.Valid(raw) {
			return "", fmt.Errorf("invalid utf-8")
		}
		return string(raw), nil
	case "us-ascii":
		for _, b := range raw {
			if b >= 0x80 {
				return "", fmt.Errorf("byte %#x is not ascii", b)
			}
		}
		return string(raw), nil
	case "iso-8859-1":
		return decodeCharmap(raw, charmap.ISO8859_1)
	case "windows-1252":
		return decodeCharmap(raw, charmap.Windows1252)
	case "iso-8859-15":
		return decodeCharmap(raw, charmap.ISO8859_15)
	case "utf-16":
		out, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder().Bytes(raw)
		if err != nil {
			return "", err
		}
		return checkDecoded(string(out))
	default:
		return "", fmt.Errorf("unknown encoding %q", label)
	}
}

func decodeCharmap(raw []byte, cm *charmap.Charmap) (string, error) {
	out, err := cm.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return checkDecoded(string(out))
}

// checkDecoded rejects decodings that only succeeded mechanically: a
// replacement rune marks an undefined byte, and C1 control characters mean
// the bytes belong to another codepage. Neither occurs in genuine book text.
func checkDecoded(s string) (string, error) {
	for _, r := range s {
		if r == utf8.RuneError || (r >= 0x80 && r <= 0x9f) {
			return "", fmt.Errorf("decoded text holds control characters")
		}
	}
	return s, nil
}
