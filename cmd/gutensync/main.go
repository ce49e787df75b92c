package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gutensync/internal/app"
	"gutensync/internal/config"
	"gutensync/internal/encryption"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "Download", "Update");
// parameters carries its argument, usually the query.
func newApp(operation, parameters string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(cfg, operation, parameters)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// promptPassphrase reads a passphrase from the terminal without echo.
func promptPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(pass), nil
}

var rootCmd = &cobra.Command{
	Use:          "gutensync",
	Short:        "Local mirror of the Project Gutenberg plain-text corpus",
	SilenceUsage: true,
}

// searchDoc is the JSON shape printed by the search command, one object per
// matching book.
type searchDoc struct {
	Key      int      `json:"key"`
	Author   []string `json:"author"`
	Title    []string `json:"title"`
	Language []string `json:"language"`
	Subject  []string `json:"subject"`
}

// search command
var searchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Display metadata of books matching a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Search", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		books, err := a.Search(args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetEscapeHTML(false)
		for _, b := range books {
			doc := searchDoc{
				Key:      b.ID,
				Author:   b.Authors,
				Title:    b.Titles,
				Language: b.Languages,
				Subject:  b.Subjects,
			}
			if err := enc.Encode(doc); err != nil {
				return fmt.Errorf("encoding result: %w", err)
			}
		}
		return nil
	},
}

// text command
var textCmd = &cobra.Command{
	Use:   "text QUERY",
	Short: "Display the contents of downloaded books matching a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Texts", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		texts, err := a.Texts(args[0])
		if err != nil {
			return err
		}

		for _, t := range texts {
			fmt.Println(t.Text)
		}
		return nil
	},
}

// download command
var downloadCmd = &cobra.Command{
	Use:   "download QUERY",
	Short: "Download all books matching a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Download", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.Download(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("download failed: %w", err)
		}

		fmt.Printf("Downloaded %d book(s), %d skipped, %d failed\n",
			stats.Downloaded, stats.Skipped, stats.Failed)
		return nil
	},
}

// update command
var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Refresh the catalog, download new and changed books for all queries",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Update", "")
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.Update(cmd.Context())
		if err != nil {
			return fmt.Errorf("update failed: %w", err)
		}

		fmt.Printf("Downloaded %d book(s), %d skipped, %d failed\n",
			stats.Downloaded, stats.Skipped, stats.Failed)
		return nil
	},
}

// queries command
var queriesCmd = &cobra.Command{
	Use:   "queries",
	Short: "Display submitted download queries",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Queries", "")
		if err != nil {
			return err
		}
		defer a.Close()

		queries, err := a.Queries()
		if err != nil {
			return err
		}

		for _, q := range queries {
			fmt.Println(q.Query)
		}
		return nil
	},
}

// forget command
var forgetCmd = &cobra.Command{
	Use:   "forget QUERY",
	Short: "Stop downloading new books matching a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Forget", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Forget(args[0]); err != nil {
			return err
		}

		fmt.Printf("Forgot query: %s\n", args[0])
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("History", "")
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.History(limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		for _, run := range runs {
			duration := ""
			if run.FinishedAt.Valid {
				d := run.FinishedAt.Time.Sub(run.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-10s  %-20s  %s  %-8s  %s\n",
				run.ID,
				run.Operation,
				run.Parameters,
				run.StartedAt.Format("2006-01-02 15:04:05"),
				run.Status,
				duration,
			)
		}
		return nil
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot the database to the backup target",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Backup", "")
		if err != nil {
			return err
		}

		if err := a.Backup(); err != nil {
			a.Close()
			return err
		}

		// The snapshot ships during Close, once the run is finalized.
		if err := a.Close(); err != nil {
			return fmt.Errorf("shipping snapshot: %w", err)
		}

		fmt.Println("Database snapshot shipped to backup target.")
		return nil
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore the database from the backup target",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("getting defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}

		dest := output
		if dest == "" {
			dest = cfg.Database.Path
		}
		if dest == "" {
			return fmt.Errorf("no restore destination: pass --output or configure a database path")
		}

		version, err := app.RestoreSnapshot(cfg, dest, func() (string, error) {
			return promptPassphrase("Passphrase: ")
		})
		if err != nil {
			return err
		}

		fmt.Printf("Restored database snapshot #%d to %s\n", version, dest)
		return nil
	},
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		encrypt, _ := cmd.Flags().GetBool("encrypt-backups")

		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])

		if encrypt {
			cfg.Encryption.Type = "age"

			pass, err := promptPassphrase("Passphrase for the backup key: ")
			if err != nil {
				return err
			}
			confirm, err := promptPassphrase("Confirm passphrase: ")
			if err != nil {
				return err
			}
			if pass != confirm {
				return fmt.Errorf("passphrases do not match")
			}

			if err := encryption.NewAgeEncryptor(cfg.Encryption).Setup(pass); err != nil {
				return fmt.Errorf("setting up encryption keys: %w", err)
			}
		}

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		if encrypt {
			fmt.Printf("Encryption keys: %s\n", filepath.Dir(cfg.Encryption.PublicKeyPath))
		}
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Database:   %s (%s)\n", cfg.Database.Path, cfg.Database.Type)
		fmt.Printf("Backup:     %s\n", cfg.Backup.Type)
		fmt.Printf("Encryption: %s\n", cfg.Encryption.Type)
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().Bool("encrypt-backups", false, "Generate an age key pair and encrypt database snapshots")

	// root commands
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(textCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(queriesCmd)
	rootCmd.AddCommand(forgetCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of runs to show")
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().StringP("output", "o", "", "Restore destination (default: the configured database path)")
	rootCmd.AddCommand(configCmd)
}
