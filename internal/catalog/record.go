package catalog

import (
	"encoding/xml"
	"fmt"
	"io"
	"mime"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gutensync/internal/model"
	"gutensync/internal/text"
)

// Shadow structs for the catalog's RDF records. Element names are matched by
// local name only, which sidesteps the namespace soup (dcterms, pgterms, rdf)
// without hardcoding URIs.
type rdfRoot struct {
	Ebooks []rdfEbook `xml:"ebook"`
}

type rdfEbook struct {
	Creators  []rdfAgent  `xml:"creator"`
	Titles    []string    `xml:"title"`
	Languages []rdfValued `xml:"language"`
	Subjects  []rdfValued `xml:"subject"`
	Files     []rdfFile   `xml:"hasFormat>file"`
}

type rdfAgent struct {
	Names []string `xml:"agent>name"`
}

// rdfValued covers the rdf:Description/rdf:value indirection used by
// language, subject and format elements.
type rdfValued struct {
	Values []string `xml:"Description>value"`
}

type rdfFile struct {
	About    string      `xml:"about,attr"`
	Formats  []rdfValued `xml:"format"`
	Modified []string    `xml:"modified"`
}

// One download candidate surviving the per-file filters.
type candidate struct {
	url      string
	fileName string
	encoding string
	modified time.Time
}

var (
	// Canonical layout: the last path segment is the book id, optionally
	// followed by a known variant suffix.
	modernName = regexp.MustCompile(`(?:^|/)(\d+)(-\d|-u|-body|-utf-16|-utf-8)?\.txt$`)

	// Pre-2004 flat layout: an etextNN directory holding files with
	// unrelated names, e.g. etext96/zncli10.txt.
	legacyName = regexp.MustCompile(`(?:^|/)(etext\d+/[^/]+\.txt)$`)

	// Jervey, Susan R. (Susan Ravenel) -> Jervey, Susan Ravenel
	authorPreferred = regexp.MustCompile(`^([^,]+),[^(]+\(([^)]+)\)`)
)

// ExtractRecord parses one catalog record and resolves its download target.
// Books with no usable plain-text rendition yield (nil, nil); they are not
// part of the mirrored corpus. A record that does not hold exactly one ebook
// element is a structural error.
func ExtractRecord(id int, r io.Reader) (*model.Record, error) {
	var root rdfRoot
	if err := xml.NewDecoder(r).Decode(&root); err != nil {
		return nil, fmt.Errorf("parsing record %d: %w", id, err)
	}
	if len(root.Ebooks) != 1 {
		return nil, fmt.Errorf("record %d holds %d ebook elements, want exactly one", id, len(root.Ebooks))
	}
	ebook := &root.Ebooks[0]

	chosen, ok := pickTextFile(id, ebook.Files)
	if !ok {
		return nil, nil
	}

	rec := &model.Record{
		ID:           id,
		FileName:     chosen.fileName,
		Encoding:     chosen.encoding,
		LastModified: chosen.modified,
	}
	for _, creator := range ebook.Creators {
		for _, name := range creator.Names {
			rec.Authors = append(rec.Authors, reformatAuthor(text.Clean(name)))
		}
	}
	// A multi-line title usually carries the title proper on the first line
	// and subtitles below. Only the first title element counts; one book in
	// the corpus declares two nearly identical titles.
	if len(ebook.Titles) > 0 {
		for _, line := range strings.Split(text.Clean(ebook.Titles[0]), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				rec.Titles = append(rec.Titles, line)
			}
		}
	}
	rec.Languages = cleanValues(ebook.Languages)
	rec.Subjects = cleanValues(ebook.Subjects)
	return rec, nil
}

// pickTextFile filters a book's file entries down to genuine plain-text
// renditions and picks the canonical one.
func pickTextFile(id int, files []rdfFile) (candidate, bool) {
	var cands []candidate
	for _, f := range files {
		var formats []string
		for _, fv := range f.Formats {
			formats = append(formats, fv.Values...)
		}
		// Archives and other multi-format entries declare several format
		// values. Exactly one, and it must be plain text.
		if len(formats) != 1 {
			continue
		}
		mediaType, params, err := mime.ParseMediaType(formats[0])
		if err != nil || mediaType != "text/plain" {
			continue
		}
		// The MIME label alone is unreliable. Auto-generated renditions use
		// a .txt.utf-8 extension and mis-tagged non-text files exist, so
		// the URL must literally end in .txt as well.
		name, ok := fileNameForID(id, f.About)
		if !ok {
			continue
		}
		cands = append(cands, candidate{
			url:      f.About,
			fileName: name,
			encoding: encodingLabel(params["charset"]),
			modified: parseModified(f.Modified),
		})
	}

	cands = dedupeByURL(cands)
	if len(cands) == 0 {
		return candidate{}, false
	}
	// 7-bit renditions are lossy, so any richer encoding wins, and UTF-8 is
	// unambiguous, so it wins over the rest.
	for _, c := range cands {
		if c.encoding == "utf-8" {
			return c, true
		}
	}
	for _, c := range cands {
		if c.encoding != "us-ascii" {
			return c, true
		}
	}
	return cands[0], true
}

// fileNameForID extracts the mirror-relative file name from a book URL. The
// name must match the book id in the canonical layout; anything else is
// broken-link noise. Legacy etextNN paths keep their directory component.
func fileNameForID(id int, url string) (string, bool) {
	if m := modernName.FindStringSubmatch(url); m != nil {
		if m[1] != strconv.Itoa(id) {
			return "", false
		}
		return m[1] + m[2] + ".txt", true
	}
	if m := legacyName.FindStringSubmatch(url); m != nil {
		return m[1], true
	}
	return "", false
}

// Some catalog entries list the same URL twice with different modification
// dates. The most recent one is authoritative.
func dedupeByURL(cands []candidate) []candidate {
	out := cands[:0]
	seen := make(map[string]int, len(cands))
	for _, c := range cands {
		if i, ok := seen[c.url]; ok {
			if c.modified.After(out[i].modified) {
				out[i] = c
			}
			continue
		}
		seen[c.url] = len(out)
		out = append(out, c)
	}
	return out
}

func encodingLabel(charset string) string {
	label := strings.ToLower(strings.TrimSpace(charset))
	if label == "" {
		// The catalog omits the charset parameter on 7-bit files.
		return "us-ascii"
	}
	return label
}

func parseModified(values []string) time.Time {
	for _, v := range values {
		v = strings.TrimSpace(v)
		// Fractional seconds are accepted and dropped by time.Parse.
		if t, err := time.Parse("2006-01-02T15:04:05", v); err == nil {
			return t.UTC()
		}
		if t, err := time.Parse("2006-01-02", v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func reformatAuthor(name string) string {
	if m := authorPreferred.FindStringSubmatch(name); m != nil {
		return fmt.Sprintf("%s, %s", m[1], m[2])
	}
	return name
}

func cleanValues(nodes []rdfValued) []string {
	var out []string
	for _, n := range nodes {
		for _, v := range n.Values {
			out = append(out, text.Clean(v))
		}
	}
	return out
}
