package migrations

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	// Migrate up
	err := MigrateUp(db)
	if err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	// Verify tables were created
	tables := []string{"books", "book_search", "contents", "download_queries", "corpus_state", "runs", "schema_migrations"}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s was not created: %v", table, err)
		}
	}
}

func TestCheckStatus_FreshDatabase(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	// Fresh database should need migration
	err := CheckStatus(db)
	if err == nil {
		t.Error("CheckStatus() expected error for fresh database, got nil")
	}

	// Error should mention needing migration
	if err.Error() != "database has no schema version (needs migration)" {
		t.Errorf("CheckStatus() error = %q, want error about needing migration", err.Error())
	}
}

func TestCheckStatus_AfterMigration(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	// Migrate up
	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	// Status should be OK now
	err := CheckStatus(db)
	if err != nil {
		t.Errorf("CheckStatus() after migration returned error: %v", err)
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	// Run migration twice
	if err := MigrateUp(db); err != nil {
		t.Fatalf("First MigrateUp() failed: %v", err)
	}

	if err := MigrateUp(db); err != nil {
		t.Errorf("Second MigrateUp() failed: %v (should be idempotent)", err)
	}

	// Status should still be OK
	if err := CheckStatus(db); err != nil {
		t.Errorf("CheckStatus() after double migration returned error: %v", err)
	}
}

func TestSchema_SearchIndexMatches(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	// Insert a search row and query it back through MATCH
	_, err := db.Exec(`
		INSERT INTO book_search (book_id, language, author, title, subject)
		VALUES ('2701', 'en', 'melville, herman', 'moby dick', 'whaling fiction')
	`)
	if err != nil {
		t.Fatalf("Failed to insert search row: %v", err)
	}

	var id string
	err = db.QueryRow("SELECT book_id FROM book_search WHERE book_search MATCH 'whaling'").Scan(&id)
	if err != nil {
		t.Fatalf("MATCH query failed: %v", err)
	}
	if id != "2701" {
		t.Errorf("MATCH returned book_id = %q, want %q", id, "2701")
	}
}

func TestSchema_ContentsReplaceOnConflict(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	// Insert a content row, then replace it for the same book
	_, err := db.Exec(`
		INSERT OR REPLACE INTO contents (book_id, body, url, last_modified, downloaded_at)
		VALUES (11, x'0102', 'http://mirror.example/a', '2021-06-01 12:00:00', '2021-06-02 09:00:00')
	`)
	if err != nil {
		t.Fatalf("Failed to insert content: %v", err)
	}

	_, err = db.Exec(`
		INSERT OR REPLACE INTO contents (book_id, body, url, last_modified, downloaded_at)
		VALUES (11, x'0304', 'http://mirror.example/b', '2021-07-01 12:00:00', '2021-07-02 09:00:00')
	`)
	if err != nil {
		t.Fatalf("Failed to replace content: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM contents WHERE book_id = 11").Scan(&count); err != nil {
		t.Fatalf("Failed to count contents: %v", err)
	}
	if count != 1 {
		t.Errorf("contents rows for book 11 = %d, want 1", count)
	}

	var url string
	if err := db.QueryRow("SELECT url FROM contents WHERE book_id = 11").Scan(&url); err != nil {
		t.Fatalf("Failed to read content url: %v", err)
	}
	if url != "http://mirror.example/b" {
		t.Errorf("url = %q, want the replacing row's url", url)
	}
}

func TestSchema_RunsAutoincrement(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	res, err := db.Exec("INSERT INTO runs (operation, started_at) VALUES ('download', '2021-06-01 12:00:00')")
	if err != nil {
		t.Fatalf("Failed to insert run: %v", err)
	}
	first, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("LastInsertId() failed: %v", err)
	}

	res, err = db.Exec("INSERT INTO runs (operation, started_at) VALUES ('update', '2021-06-01 13:00:00')")
	if err != nil {
		t.Fatalf("Failed to insert second run: %v", err)
	}
	second, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("LastInsertId() failed: %v", err)
	}

	if second <= first {
		t.Errorf("second run id = %d, want greater than first id %d", second, first)
	}

	// Defaults apply to columns the insert left out
	var status, parameters string
	if err := db.QueryRow("SELECT status, parameters FROM runs WHERE id = ?", first).Scan(&status, &parameters); err != nil {
		t.Fatalf("Failed to read run defaults: %v", err)
	}
	if status != "running" {
		t.Errorf("default status = %q, want %q", status, "running")
	}
	if parameters != "" {
		t.Errorf("default parameters = %q, want empty", parameters)
	}
}

// openTestDB opens an in-memory SQLite database for testing.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}

	return db
}
