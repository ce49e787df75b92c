package library_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gutensync/internal/library"
	"gutensync/internal/model"
	"gutensync/internal/store"
	"gutensync/internal/testutil"
)

var catalogTime = time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)

// record builds a catalog record with one author and title.
func record(id int, author, title string) *model.Record {
	return &model.Record{
		ID:           id,
		Authors:      []string{author},
		Titles:       []string{title},
		Languages:    []string{"en"},
		Subjects:     []string{"Fiction"},
		FileName:     fmt.Sprintf("%d-8.txt", id),
		Encoding:     "utf-8",
		LastModified: catalogTime,
	}
}

// newer returns a copy of rec with its catalog timestamp moved forward.
func newer(rec *model.Record, by time.Duration) *model.Record {
	moved := *rec
	moved.LastModified = rec.LastModified.Add(by)
	return &moved
}

func setup(t *testing.T) (*library.Service, *store.SQLiteStore, *testutil.StubCatalog, *testutil.StubFetcher, *testutil.StubClock) {
	t.Helper()
	st := testutil.NewTestStore(t)
	cat := testutil.NewStubCatalog()
	fetcher := testutil.NewStubFetcher()
	clock := testutil.FixedClock()
	svc := library.NewService(st, cat, fetcher, library.NewNopLogger(), clock)
	return svc, st, cat, fetcher, clock
}

func TestService_Search(t *testing.T) {
	t.Run("folds the query to match the folded index", func(t *testing.T) {
		t.Parallel()
		svc, st, _, _, clock := setup(t)

		if err := st.ReplaceCatalog([]*model.Record{
			record(17192, "Molière", "Œuvres complètes"),
		}, clock.Now()); err != nil {
			t.Fatalf("ReplaceCatalog() error = %v", err)
		}

		found, err := svc.Search("Œuvres")
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(found) != 1 {
			t.Fatalf("Search(Œuvres) returned %d books, want 1", len(found))
		}
		if found[0].Titles[0] != "Œuvres complètes" {
			t.Errorf("Titles = %v, want the stored form back", found[0].Titles)
		}
	})

	t.Run("matching ignores letter case", func(t *testing.T) {
		t.Parallel()
		svc, st, _, _, clock := setup(t)

		if err := st.ReplaceCatalog([]*model.Record{
			record(17192, "Molière", "Œuvres complètes"),
		}, clock.Now()); err != nil {
			t.Fatalf("ReplaceCatalog() error = %v", err)
		}

		found, err := svc.Search("MOLIÈRE")
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(found) != 1 {
			t.Errorf("Search(MOLIÈRE) returned %d books, want 1", len(found))
		}
	})

	t.Run("reports whether a book was downloaded", func(t *testing.T) {
		t.Parallel()
		svc, st, _, _, clock := setup(t)

		if err := st.ReplaceCatalog([]*model.Record{
			record(2701, "Melville, Herman", "Moby Dick"),
		}, clock.Now()); err != nil {
			t.Fatalf("ReplaceCatalog() error = %v", err)
		}

		found, err := svc.Search("melville")
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(found) != 1 || found[0].Downloaded {
			t.Fatalf("Search() = %d books, downloaded %v; want 1 book not downloaded", len(found), found[0].Downloaded)
		}

		if err := st.SaveContent([]model.Download{{
			BookID:       2701,
			Body:         testutil.Compress("Call me Ishmael.\n"),
			URL:          "http://mirror.example/2701",
			LastModified: catalogTime,
		}}, clock.Now()); err != nil {
			t.Fatalf("SaveContent() error = %v", err)
		}

		found, err = svc.Search("melville")
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(found) != 1 || !found[0].Downloaded {
			t.Error("Search() after download does not report the book as downloaded")
		}
	})
}

func TestService_Texts(t *testing.T) {
	t.Run("returns stored texts for matching books", func(t *testing.T) {
		t.Parallel()
		svc, st, _, _, clock := setup(t)

		if err := st.ReplaceCatalog([]*model.Record{
			record(2701, "Melville, Herman", "Moby Dick"),
			record(1342, "Austen, Jane", "Pride and Prejudice"),
		}, clock.Now()); err != nil {
			t.Fatalf("ReplaceCatalog() error = %v", err)
		}

		if err := st.SaveContent([]model.Download{{
			BookID:       2701,
			Body:         testutil.Compress("Call me Ishmael.\n"),
			URL:          "http://mirror.example/2701",
			LastModified: catalogTime,
		}}, clock.Now()); err != nil {
			t.Fatalf("SaveContent() error = %v", err)
		}

		// ASCII case differs from the indexed form; matching must not care.
		texts, err := svc.Texts("Melville")
		if err != nil {
			t.Fatalf("Texts() error = %v", err)
		}
		if len(texts) != 1 {
			t.Fatalf("Texts(Melville) returned %d texts, want 1", len(texts))
		}
		if texts[0].Text != "Call me Ishmael.\n" {
			t.Errorf("Text = %q, want the stored text", texts[0].Text)
		}
	})
}

func TestService_Forget(t *testing.T) {
	t.Run("removes a registered query whatever its spelling", func(t *testing.T) {
		t.Parallel()
		svc, _, cat, _, _ := setup(t)
		cat.Records = []*model.Record{record(17192, "Molière", "Œuvres complètes")}

		ctx := context.Background()
		if _, err := svc.Download(ctx, "Œuvres"); err != nil {
			t.Fatalf("Download() error = %v", err)
		}

		queries, err := svc.Queries()
		if err != nil {
			t.Fatalf("Queries() error = %v", err)
		}
		if len(queries) != 1 || queries[0].Query != "oeuvres" {
			t.Fatalf("Queries() = %v, want the folded query [oeuvres]", queries)
		}

		// The ligature form folds to the registered form.
		if err := svc.Forget("Œuvres"); err != nil {
			t.Fatalf("Forget() error = %v", err)
		}

		queries, err = svc.Queries()
		if err != nil {
			t.Fatalf("Queries() error = %v", err)
		}
		if len(queries) != 0 {
			t.Errorf("Queries() returned %d queries after forget, want 0", len(queries))
		}
	})

	t.Run("forgetting keeps downloaded books", func(t *testing.T) {
		t.Parallel()
		svc, _, cat, _, _ := setup(t)
		cat.Records = []*model.Record{record(2701, "Melville, Herman", "Moby Dick")}

		ctx := context.Background()
		if _, err := svc.Download(ctx, "melville"); err != nil {
			t.Fatalf("Download() error = %v", err)
		}
		if err := svc.Forget("melville"); err != nil {
			t.Fatalf("Forget() error = %v", err)
		}

		texts, err := svc.Texts("melville")
		if err != nil {
			t.Fatalf("Texts() error = %v", err)
		}
		if len(texts) != 1 {
			t.Errorf("Texts() returned %d texts after forget, want the downloaded book kept", len(texts))
		}
	})
}

func TestService_Queries(t *testing.T) {
	t.Run("lists registered queries most recent first", func(t *testing.T) {
		t.Parallel()
		svc, _, cat, _, clock := setup(t)
		cat.Records = []*model.Record{
			record(2701, "Melville, Herman", "Moby Dick"),
			record(1342, "Austen, Jane", "Pride and Prejudice"),
		}

		ctx := context.Background()
		if _, err := svc.Download(ctx, "melville"); err != nil {
			t.Fatalf("Download() error = %v", err)
		}
		clock.Advance(time.Hour)
		if _, err := svc.Download(ctx, "austen"); err != nil {
			t.Fatalf("Download() error = %v", err)
		}

		queries, err := svc.Queries()
		if err != nil {
			t.Fatalf("Queries() error = %v", err)
		}
		if len(queries) != 2 {
			t.Fatalf("Queries() returned %d queries, want 2", len(queries))
		}
		if queries[0].Query != "austen" || queries[1].Query != "melville" {
			t.Errorf("Queries() order = [%s %s], want [austen melville]", queries[0].Query, queries[1].Query)
		}
	})
}

func TestService_History(t *testing.T) {
	t.Run("returns runs newest first with limit", func(t *testing.T) {
		t.Parallel()
		svc, st, _, _, clock := setup(t)

		for i, op := range []string{"download", "update", "forget"} {
			id, err := st.CreateRun(op, "", clock.Now().Add(time.Duration(i)*time.Minute))
			if err != nil {
				t.Fatalf("CreateRun() error = %v", err)
			}
			if err := st.FinishRun(id, "success", clock.Now().Add(time.Duration(i)*time.Minute+time.Second)); err != nil {
				t.Fatalf("FinishRun() error = %v", err)
			}
		}

		runs, err := svc.History(2)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(runs) != 2 {
			t.Fatalf("History(2) returned %d runs, want 2", len(runs))
		}
		if runs[0].ID <= runs[1].ID {
			t.Errorf("expected newest first: got IDs %d, %d", runs[0].ID, runs[1].ID)
		}
		if runs[0].Operation != "forget" {
			t.Errorf("newest run = %q, want forget", runs[0].Operation)
		}
	})

	t.Run("empty history returns no runs", func(t *testing.T) {
		t.Parallel()
		svc, _, _, _, _ := setup(t)

		runs, err := svc.History(50)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(runs) != 0 {
			t.Fatalf("History() returned %d runs, want 0", len(runs))
		}
	})
}
