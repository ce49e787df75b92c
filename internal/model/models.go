package model

import (
	"database/sql"
	"time"
)

// Record is one book's catalog entry, extracted from the RDF catalog.
// Only books available as plain text make it into a Record.
type Record struct {
	ID           int       // Gutenberg book id
	Authors      []string  // "Last, Preferred" where the catalog gives a parenthesized preferred name
	Titles       []string  // one string per title line; subtitles usually follow the first line
	Languages    []string  // language codes, e.g. "en"
	Subjects     []string  // subject headings
	FileName     string    // chosen file name, e.g. "11716-8.txt" or "etext96/zncli10.txt"
	Encoding     string    // lower-cased charset label; "us-ascii" when the catalog declares none
	LastModified time.Time // dcterms:modified of the chosen file
}

// DownloadTask is one book the download orchestrator should fetch.
type DownloadTask struct {
	BookID          int
	FileName        string
	Encoding        string
	CatalogModified time.Time
	HasPrior        bool      // a stored download exists for this book
	PriorModified   time.Time // zero when HasPrior is false
}

// Download is the outcome of fetching one book.
type Download struct {
	BookID       int
	Body         []byte    // cleaned text, zlib-compressed
	URL          string    // the mirror URL actually fetched
	LastModified time.Time // catalog-reported last-modified at fetch time
}

// DownloadStats summarizes one orchestrator pass.
type DownloadStats struct {
	Downloaded int // fetched and handed to the save callback
	Skipped    int // mirror copy not yet updated
	Failed     int // retries exhausted, missing file, undecodable content, or missing headers
}

// QueryInfo is a registered download query.
type QueryInfo struct {
	Query      string // folded form; registration, matching and deletion all use it
	LastIssued time.Time
}

// BookInfo is a search result: a catalog record plus its download state.
type BookInfo struct {
	Record
	Downloaded bool
}

// BookText is one downloaded book's decompressed text.
type BookText struct {
	BookID int
	Text   string
}

// Run records one CLI operation that mutates the database.
type Run struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string // "success" or "error"
	StartedAt  time.Time
	FinishedAt sql.NullTime
}
