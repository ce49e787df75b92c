package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"gutensync/internal/backup"
	"gutensync/internal/catalog"
	"gutensync/internal/config"
	"gutensync/internal/encryption"
	"gutensync/internal/library"
	"gutensync/internal/mirror"
	"gutensync/internal/model"
	"gutensync/internal/store"
)

// App is the application layer between the CLI and the library service.
// It constructs all dependencies from config, exposes high-level operations,
// and manages the database and snapshot lifecycle on Close.
type App struct {
	cfg       *config.Config
	store     *store.SQLiteStore
	target    backup.Target
	encryptor backup.Encryptor
	service   *library.Service
	run       *Run
	logFile   *os.File
}

// NewApp creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "Download", "Update");
// parameters carries its argument, usually the query. The caller must call
// Close when done.
func NewApp(cfg *config.Config, operation, parameters string) (*App, error) {
	st, err := store.NewStoreFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	target, err := backup.NewTargetFromConfig(cfg.Backup)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating backup target: %w", err)
	}

	// Check the local database against the shipped snapshot. A snapshot
	// version ahead of the local run history means this database is not the
	// one that produced the snapshot.
	if target != nil {
		remote, err := target.SnapshotVersion(backup.SnapshotName)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("checking snapshot version: %w", err)
		}
		local, err := maxRunID(st)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("checking local run history: %w", err)
		}
		if remote > local {
			st.Close()
			return nil, fmt.Errorf("local database is behind the stored snapshot (local=%d, snapshot=%d): restore it or point at a fresh database", local, remote)
		}
	}

	encryptor, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	runID := uuid.New().String()
	logger, logFile, err := newLogger(cfg.LogDir, runID)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	log := &slogAdapter{l: logger}
	cat := catalog.NewClient(cfg.Catalog.URL, nil, log)
	mirrors := mirror.NewList(cfg.Download.MirrorsURL, nil)
	fetcher := mirror.NewDownloader(mirrors, nil, log, cfg.Download.Workers)
	svc := library.NewService(st, cat, fetcher, log, library.RealClock{})

	return &App{
		cfg:       cfg,
		store:     st,
		target:    target,
		encryptor: encryptor,
		service:   svc,
		run:       NewRun(operation, parameters),
		logFile:   logFile,
	}, nil
}

// maxRunID returns the id of the newest recorded run, or 0 when the run
// history is empty.
func maxRunID(st *store.SQLiteStore) (int64, error) {
	runs, err := st.Runs(1)
	if err != nil {
		return 0, err
	}
	if len(runs) == 0 {
		return 0, nil
	}
	return runs[0].ID, nil
}

// persistRun saves the run to the database, giving it an auto-increment ID.
// This should only be called for DB-mutating commands.
func (a *App) persistRun() error {
	if a.run.Persisted() {
		return nil // already persisted
	}
	id, err := a.store.CreateRun(a.run.Operation, a.run.Parameters, time.Now())
	if err != nil {
		return fmt.Errorf("persisting run: %w", err)
	}
	a.run.ID = id
	return nil
}

// Search returns metadata for every catalog record matching the query.
func (a *App) Search(query string) ([]*model.BookInfo, error) {
	return a.service.Search(query)
}

// Texts returns the stored text of every downloaded book matching the query.
func (a *App) Texts(query string) ([]model.BookText, error) {
	return a.service.Texts(query)
}

// Download registers the query and fetches every matching book that is new
// or whose catalog entry moved on.
func (a *App) Download(ctx context.Context, query string) (model.DownloadStats, error) {
	if err := a.persistRun(); err != nil {
		return model.DownloadStats{}, err
	}
	stats, err := a.service.Download(ctx, query)
	if err != nil {
		a.run.Status = "error"
	}
	return stats, err
}

// Update refreshes the catalog when due, then re-runs every registered query
// and re-downloads stale books.
func (a *App) Update(ctx context.Context) (model.DownloadStats, error) {
	if err := a.persistRun(); err != nil {
		return model.DownloadStats{}, err
	}
	stats, err := a.service.Update(ctx)
	if err != nil {
		a.run.Status = "error"
	}
	return stats, err
}

// Queries returns all registered download queries, most recent first.
func (a *App) Queries() ([]model.QueryInfo, error) {
	return a.service.Queries()
}

// Forget withdraws a registered download query.
func (a *App) Forget(query string) error {
	if err := a.persistRun(); err != nil {
		return err
	}
	if err := a.service.Forget(query); err != nil {
		a.run.Status = "error"
		return err
	}
	return nil
}

// History returns the most recent recorded runs, newest first.
func (a *App) History(limit int) ([]model.Run, error) {
	return a.service.History(limit)
}

// Backup forces a database snapshot to the configured backup target. The
// snapshot itself is shipped during Close, once the run is finalized; Backup
// verifies the target and records the run that forces it.
func (a *App) Backup() error {
	if a.target == nil {
		return fmt.Errorf("no backup target configured")
	}
	if err := a.target.ValidateSetup(); err != nil {
		return fmt.Errorf("checking backup target: %w", err)
	}
	return a.persistRun()
}

// Close finalizes the run and closes all resources.
// For persisted runs: finishes the run record, snapshots the database, and
// ships the snapshot to the backup target. For read-only runs: just closes
// the database.
func (a *App) Close() error {
	var firstErr error

	if a.run.Persisted() {
		// Finalize the run record
		if err := a.store.FinishRun(a.run.ID, a.run.Status, time.Now()); err != nil {
			firstErr = fmt.Errorf("finishing run: %w", err)
		}

		// Snapshot the DB to a temp file
		var tmpPath string
		if a.target != nil {
			tmpFile, err := os.CreateTemp("", "gutensync-snapshot-*.db")
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("creating temp file for snapshot: %w", err)
				}
			} else {
				tmpPath = tmpFile.Name()
				tmpFile.Close()

				if err := a.store.BackupTo(tmpPath); err != nil {
					if firstErr == nil {
						firstErr = fmt.Errorf("snapshotting database: %w", err)
					}
					os.Remove(tmpPath)
					tmpPath = "" // skip the upload
				}
			}
		}

		// Close the database
		if err := a.store.Close(); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("closing database: %w", err)
			}
		}

		// Ship the snapshot with version = run ID
		if tmpPath != "" {
			if err := a.shipSnapshot(tmpPath, a.run.ID); err != nil && firstErr == nil {
				firstErr = err
			}
			os.Remove(tmpPath)
		}
	} else {
		// Read-only run: just close the database, no snapshot
		if err := a.store.Close(); err != nil {
			firstErr = fmt.Errorf("closing database: %w", err)
		}
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}

// shipSnapshot uploads the snapshot at path to the backup target, encrypting
// it first when snapshot encryption is configured.
func (a *App) shipSnapshot(path string, version int64) error {
	if a.encryptor != nil {
		encPath := path + ".age"
		if err := a.encryptSnapshot(path, encPath); err != nil {
			return err
		}
		defer os.Remove(encPath)
		path = encPath
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening snapshot for upload: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat snapshot: %w", err)
	}

	if err := a.target.PutSnapshot(backup.SnapshotName, f, info.Size(), version); err != nil {
		return fmt.Errorf("uploading snapshot: %w", err)
	}

	return nil
}

func (a *App) encryptSnapshot(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating encrypted snapshot: %w", err)
	}

	if err := a.encryptor.Encrypt(in, out); err != nil {
		out.Close()
		return fmt.Errorf("encrypting snapshot: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("finalizing encrypted snapshot: %w", err)
	}
	return nil
}
