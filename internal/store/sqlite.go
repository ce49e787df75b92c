package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zlib"

	"gutensync/internal/library"
	"gutensync/internal/model"
	"gutensync/internal/store/migrations"
	"gutensync/internal/text"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// TimeLayout is how timestamps are stored, as TEXT in UTC. The layout
// orders lexicographically, so SQL string comparison of two columns is
// also a time comparison.
const TimeLayout = "2006-01-02 15:04:05"

// stateLastRefresh is the corpus_state key holding the catalog refresh time.
const stateLastRefresh = "last_catalog_update"

// SQLiteStore implements the library.Store interface using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the corpus database at path and brings
// its schema up to date. path can be a file path or ":memory:" for an
// in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	return &SQLiteStore{
		db:   db,
		path: path,
	}, nil
}

// NewSQLiteStoreFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly
// configured and the schema is in place.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{
		db:   db,
		path: "",
	}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// This is exported for use in tools and tests that need a properly configured SQLite connection.
// path can be a file path or ":memory:" for an in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every pool connection to :memory: is a separate empty database, so
	// keep the pool at a single connection there.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// metadataDoc is the JSON document stored in books.metadata.
type metadataDoc struct {
	Author   []string `json:"author"`
	Title    []string `json:"title"`
	Language []string `json:"language"`
	Subject  []string `json:"subject"`
}

// Catalog operations

func (s *SQLiteStore) ReplaceCatalog(records []*model.Record, refreshedAt time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("replacing catalog: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM books"); err != nil {
		return fmt.Errorf("clearing books: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM book_search"); err != nil {
		return fmt.Errorf("clearing search index: %w", err)
	}

	insertBook, err := tx.Prepare(`
		INSERT INTO books(book_id, metadata, file_name, encoding, last_modified)
		VALUES(?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing book insert: %w", err)
	}
	defer insertBook.Close()

	insertSearch, err := tx.Prepare(`
		INSERT INTO book_search(book_id, language, author, title, subject)
		VALUES(?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing search insert: %w", err)
	}
	defer insertSearch.Close()

	for _, rec := range records {
		doc, err := json.Marshal(metadataDoc{
			Author:   orEmpty(rec.Authors),
			Title:    orEmpty(rec.Titles),
			Language: orEmpty(rec.Languages),
			Subject:  orEmpty(rec.Subjects),
		})
		if err != nil {
			return fmt.Errorf("encoding metadata for book %d: %w", rec.ID, err)
		}

		if _, err := insertBook.Exec(rec.ID, string(doc), rec.FileName, rec.Encoding, formatTime(rec.LastModified)); err != nil {
			return fmt.Errorf("inserting book %d: %w", rec.ID, err)
		}

		if _, err := insertSearch.Exec(
			strconv.Itoa(rec.ID),
			foldJoin(rec.Languages),
			foldJoin(rec.Authors),
			foldJoin(rec.Titles),
			foldJoin(rec.Subjects),
		); err != nil {
			return fmt.Errorf("indexing book %d: %w", rec.ID, err)
		}
	}

	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO corpus_state(key, value) VALUES(?, ?)",
		stateLastRefresh, formatTime(refreshedAt),
	); err != nil {
		return fmt.Errorf("recording catalog refresh time: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing catalog replace: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LastCatalogRefresh() (time.Time, error) {
	var value string
	err := s.db.QueryRow(
		"SELECT value FROM corpus_state WHERE key = ?", stateLastRefresh,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil // Never refreshed
		}
		return time.Time{}, fmt.Errorf("reading catalog refresh time: %w", err)
	}

	t, err := parseTime(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("reading catalog refresh time: %w", err)
	}
	return t, nil
}

// Search operations

// book_search must stay the leftmost, unaliased table in these queries:
// SQLite resolves the MATCH operator against the virtual table's own name.

func (s *SQLiteStore) SearchRecords(query string) ([]*model.BookInfo, error) {
	rows, err := s.db.Query(`
		SELECT b.book_id, b.metadata, b.file_name, b.encoding, b.last_modified,
		       c.book_id IS NOT NULL
		FROM book_search
		JOIN books b ON b.book_id = book_search.book_id
		LEFT JOIN contents c ON c.book_id = b.book_id
		WHERE book_search MATCH ?
		ORDER BY b.book_id`, query)
	if err != nil {
		return nil, fmt.Errorf("searching records: %w", err)
	}
	defer rows.Close()

	var result []*model.BookInfo
	for rows.Next() {
		var (
			info               model.BookInfo
			metadata, modified string
		)
		if err := rows.Scan(&info.ID, &metadata, &info.FileName, &info.Encoding, &modified, &info.Downloaded); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}

		var doc metadataDoc
		if err := json.Unmarshal([]byte(metadata), &doc); err != nil {
			return nil, fmt.Errorf("decoding metadata for book %d: %w", info.ID, err)
		}
		info.Authors = doc.Author
		info.Titles = doc.Title
		info.Languages = doc.Language
		info.Subjects = doc.Subject

		if info.LastModified, err = parseTime(modified); err != nil {
			return nil, fmt.Errorf("scanning record for book %d: %w", info.ID, err)
		}
		result = append(result, &info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("searching records: %w", err)
	}
	return result, nil
}

func (s *SQLiteStore) MatchStale(query string) ([]model.DownloadTask, error) {
	rows, err := s.db.Query(`
		SELECT b.book_id, b.file_name, b.encoding, b.last_modified,
		       COALESCE(c.last_modified, '')
		FROM book_search
		JOIN books b ON b.book_id = book_search.book_id
		LEFT JOIN contents c ON c.book_id = b.book_id
		WHERE book_search MATCH ?
		  AND (c.book_id IS NULL OR b.last_modified > c.last_modified)
		ORDER BY b.book_id`, query)
	if err != nil {
		return nil, fmt.Errorf("matching stale books: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *SQLiteStore) StaleDownloaded() ([]model.DownloadTask, error) {
	rows, err := s.db.Query(`
		SELECT b.book_id, b.file_name, b.encoding, b.last_modified, c.last_modified
		FROM books b
		JOIN contents c ON c.book_id = b.book_id
		WHERE b.last_modified > c.last_modified
		ORDER BY b.book_id`)
	if err != nil {
		return nil, fmt.Errorf("finding stale downloads: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// scanTasks reads download task rows. The fifth column is the stored
// content's last_modified, '' when the book has never been downloaded.
func scanTasks(rows *sql.Rows) ([]model.DownloadTask, error) {
	var tasks []model.DownloadTask
	for rows.Next() {
		var (
			task            model.DownloadTask
			catalog, stored string
		)
		if err := rows.Scan(&task.BookID, &task.FileName, &task.Encoding, &catalog, &stored); err != nil {
			return nil, fmt.Errorf("scanning download task: %w", err)
		}

		var err error
		if task.CatalogModified, err = parseTime(catalog); err != nil {
			return nil, fmt.Errorf("scanning download task for book %d: %w", task.BookID, err)
		}
		if stored != "" {
			task.HasPrior = true
			if task.PriorModified, err = parseTime(stored); err != nil {
				return nil, fmt.Errorf("scanning download task for book %d: %w", task.BookID, err)
			}
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scanning download tasks: %w", err)
	}
	return tasks, nil
}

// Content operations

func (s *SQLiteStore) SaveContent(downloads []model.Download, at time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("saving contents: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO contents(book_id, body, url, last_modified, downloaded_at)
		VALUES(?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing content insert: %w", err)
	}
	defer stmt.Close()

	for _, dl := range downloads {
		if _, err := stmt.Exec(dl.BookID, dl.Body, dl.URL, formatTime(dl.LastModified), formatTime(at)); err != nil {
			return fmt.Errorf("saving content for book %d: %w", dl.BookID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing contents: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Texts(query string) ([]model.BookText, error) {
	rows, err := s.db.Query(`
		SELECT c.book_id, c.body
		FROM book_search
		JOIN contents c ON c.book_id = book_search.book_id
		WHERE book_search MATCH ?
		ORDER BY c.book_id`, query)
	if err != nil {
		return nil, fmt.Errorf("loading texts: %w", err)
	}
	defer rows.Close()

	var texts []model.BookText
	for rows.Next() {
		var (
			id   int
			body []byte
		)
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("scanning text: %w", err)
		}

		decompressed, err := decompress(body)
		if err != nil {
			return nil, fmt.Errorf("decompressing text for book %d: %w", id, err)
		}
		texts = append(texts, model.BookText{BookID: id, Text: string(decompressed)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading texts: %w", err)
	}
	return texts, nil
}

// Query registry

func (s *SQLiteStore) RecordQuery(query string, at time.Time) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO download_queries(query, last_issued) VALUES(?, ?)",
		query, formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("recording query: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Queries() ([]model.QueryInfo, error) {
	rows, err := s.db.Query(
		"SELECT query, last_issued FROM download_queries ORDER BY last_issued DESC, query")
	if err != nil {
		return nil, fmt.Errorf("listing queries: %w", err)
	}
	defer rows.Close()

	var queries []model.QueryInfo
	for rows.Next() {
		var (
			info   model.QueryInfo
			issued string
		)
		if err := rows.Scan(&info.Query, &issued); err != nil {
			return nil, fmt.Errorf("scanning query: %w", err)
		}
		if info.LastIssued, err = parseTime(issued); err != nil {
			return nil, fmt.Errorf("scanning query %q: %w", info.Query, err)
		}
		queries = append(queries, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing queries: %w", err)
	}
	return queries, nil
}

func (s *SQLiteStore) ForgetQuery(query string) error {
	if _, err := s.db.Exec("DELETE FROM download_queries WHERE query = ?", query); err != nil {
		return fmt.Errorf("forgetting query: %w", err)
	}
	return nil
}

// Run history

func (s *SQLiteStore) CreateRun(operation, parameters string, at time.Time) (int64, error) {
	res, err := s.db.Exec(
		"INSERT INTO runs(operation, parameters, started_at) VALUES(?, ?, ?)",
		operation, parameters, formatTime(at),
	)
	if err != nil {
		return 0, fmt.Errorf("creating run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("creating run: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) FinishRun(id int64, status string, at time.Time) error {
	_, err := s.db.Exec(
		"UPDATE runs SET finished_at = ?, status = ? WHERE id = ?",
		formatTime(at), status, id,
	)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Runs(limit int) ([]model.Run, error) {
	rows, err := s.db.Query(`
		SELECT id, operation, parameters, status, started_at, finished_at
		FROM runs
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var (
			run      model.Run
			started  string
			finished sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.Operation, &run.Parameters, &run.Status, &started, &finished); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if run.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("scanning run %d: %w", run.ID, err)
		}
		if finished.Valid {
			t, err := parseTime(finished.String)
			if err != nil {
				return nil, fmt.Errorf("scanning run %d: %w", run.ID, err)
			}
			run.FinishedAt = sql.NullTime{Time: t, Valid: true}
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteStore) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckStatus(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteStore) BackupTo(destPath string) error {
	_, err := s.db.Exec("VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// foldJoin folds each value for the search index and joins them into a
// single column, one indexed document field per metadata field.
func foldJoin(values []string) string {
	folded := make([]string, len(values))
	for i, v := range values {
		folded[i] = text.Fold(v)
	}
	return strings.Join(folded, " ")
}

func orEmpty(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func decompress(body []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Compile-time check that SQLiteStore implements the library.Store interface
var _ library.Store = (*SQLiteStore)(nil)
