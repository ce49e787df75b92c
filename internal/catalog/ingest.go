package catalog

import (
	"archive/tar"
	"compress/bzip2"
	"fmt"
	"io"
	"path"
	"strconv"

	"gutensync/internal/model"
)

// EachRecord reads a bz2-compressed tar stream of catalog records and invokes
// visit for every book that resolves to a plain-text rendition. The archive
// is processed incrementally and never materialized in full.
func EachRecord(r io.Reader, visit func(*model.Record) error) error {
	return eachTarRecord(tar.NewReader(bzip2.NewReader(r)), visit)
}

func eachTarRecord(tr *tar.Reader, visit func(*model.Record) error) error {
	seen := make(map[int]struct{})
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			// A truncated or non-tar stream usually means the catalog host
			// rate-limited this address.
			return fmt.Errorf("reading catalog archive (too many recent downloads?): %w", err)
		}
		// Records live one per book under a directory named by the book id.
		// The archive also carries a handful of empty placeholder files.
		if hdr.Typeflag != tar.TypeReg || hdr.Size == 0 {
			continue
		}
		id, err := strconv.Atoi(path.Base(path.Dir(hdr.Name)))
		if err != nil || id <= 0 {
			continue
		}
		// First record per book wins; a second file under the same id
		// directory must not derail the refresh.
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		rec, err := ExtractRecord(id, tr)
		if err != nil {
			return err
		}
		if rec == nil {
			continue
		}
		if err := visit(rec); err != nil {
			return err
		}
	}
}
