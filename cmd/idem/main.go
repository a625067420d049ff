package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"idem/internal/app"
	"idem/internal/config"
	"idem/internal/index"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newReadOnlyApp reads the config and creates an App over the existing
// store without migrating it. The caller must defer app.Close().
// operation identifies the CLI command being run.
func newReadOnlyApp(operation string) (*app.App, *config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewReadOnlyApp(cfg, operation)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, cfg, nil
}

var rootCmd = &cobra.Command{
	Use:   "idem",
	Short: "Identify identical files across directory trees",
	Long: "idem indexes the content of files under configured root directories\n" +
		"into a durable, resumable index so duplicates can be found without\n" +
		"ever re-reading unchanged files.",
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
		force, _ := cmd.Flags().GetBool("force")

		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg, force); err != nil {
			return err
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
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
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Store:       %s (%s)\n", cfg.Store.Type, cfg.Store.DataDir)
		fmt.Printf("Concurrency: %d\n", cfg.Pipeline.Concurrency)
		fmt.Printf("Queue Size:  %d\n", cfg.Pipeline.QueueSize)
		fmt.Printf("Chunk Size:  %s\n", cfg.Pipeline.ChunkSize)
		if len(cfg.Roots) == 0 {
			fmt.Println("Roots:       (none)")
		} else {
			fmt.Println("Roots:")
			for _, r := range cfg.Roots {
				fmt.Printf("  %s\n", r)
			}
		}
		return nil
	},
}

// root command (manages configured root directories)
var rootsCmd = &cobra.Command{
	Use:   "root",
	Short: "Manage root directories",
}

var rootAddCmd = &cobra.Command{
	Use:   "add PATH...",
	Short: "Add root directories to the configuration",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		existing := make(map[string]bool, len(cfg.Roots))
		for _, r := range cfg.Roots {
			existing[r] = true
		}

		added := 0
		for _, raw := range args {
			abs, err := filepath.Abs(raw)
			if err != nil {
				return fmt.Errorf("resolving path %s: %w", raw, err)
			}
			info, err := os.Stat(abs)
			if err != nil {
				return fmt.Errorf("root directory %s: %w", abs, err)
			}
			if !info.IsDir() {
				return fmt.Errorf("root is not a directory: %s", abs)
			}
			if existing[abs] {
				continue
			}
			cfg.Roots = append(cfg.Roots, abs)
			existing[abs] = true
			added++
		}

		if err := config.WriteToFile(defaults["config_path"], cfg); err != nil {
			return err
		}

		fmt.Printf("Added %d root(s)\n", added)
		return nil
	},
}

var rootListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured root directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		if len(cfg.Roots) == 0 {
			fmt.Println("No roots configured.")
			return nil
		}
		for _, r := range cfg.Roots {
			fmt.Println(r)
		}
		return nil
	},
}

// index command
var indexCmd = &cobra.Command{
	Use:   "index [PATH...]",
	Short: "Index files under the given roots (default: configured roots)",
	RunE: func(cmd *cobra.Command, args []string) error {
		jobs, _ := cmd.Flags().GetInt("jobs")
		queue, _ := cmd.Flags().GetInt("queue")
		chunkSize, _ := cmd.Flags().GetString("chunk-size")
		force, _ := cmd.Flags().GetBool("force")

		a, cfg, err := newAppWithOverrides("Index", jobs, queue, chunkSize)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		summary, err := a.Index(ctx, args, index.Options{
			Concurrency: cfg.Pipeline.Concurrency,
			QueueSize:   cfg.Pipeline.QueueSize,
			Force:       force,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Discovered: %d\n", summary.Discovered)
		fmt.Printf("Hashed:     %d\n", summary.Hashed)
		fmt.Printf("Up to date: %d\n", summary.UpToDate)
		fmt.Printf("Errors:     %d\n", summary.Errors)
		fmt.Printf("Vanished:   %d\n", summary.Vanished)
		if summary.Cancelled {
			fmt.Println("Run cancelled; committed progress is kept and the next run resumes it.")
		}

		// Per-file errors don't fail the run unless nothing at all was
		// indexed successfully.
		if summary.Errors > 0 && summary.Hashed == 0 && summary.UpToDate == 0 {
			return fmt.Errorf("no files indexed successfully (%d errors)", summary.Errors)
		}
		return nil
	},
}

// newAppWithOverrides applies CLI flag overrides onto the config
// before wiring the app.
func newAppWithOverrides(operation string, jobs, queue int, chunkSize string) (*app.App, *config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, nil, fmt.Errorf("reading config: %w", err)
	}

	if jobs > 0 {
		cfg.Pipeline.Concurrency = jobs
	}
	if queue > 0 {
		cfg.Pipeline.QueueSize = queue
	}
	if chunkSize != "" {
		if _, err := config.ParseByteSize(chunkSize); err != nil {
			return nil, nil, err
		}
		cfg.Pipeline.ChunkSize = chunkSize
	}

	a, err := app.NewApp(cfg, operation)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, cfg, nil
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show indexing status and statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, err := newReadOnlyApp("Status")
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.Status()
		if err != nil {
			return err
		}

		fmt.Println("Index status")
		fmt.Println("------------")
		fmt.Printf("Roots:             %d\n", len(s.Roots))
		for _, r := range s.Roots {
			fmt.Printf("  %s (generation %d)\n", r.Path, r.Generation)
		}

		fmt.Println("\nFiles")
		fmt.Println("-----")
		fmt.Printf("Total records:     %d\n", s.TotalFiles)
		fmt.Printf("Pending:           %d\n", s.CountsByStatus[index.StatusPending])
		fmt.Printf("Hashing:           %d\n", s.CountsByStatus[index.StatusHashing])
		fmt.Printf("Hashed:            %d\n", s.CountsByStatus[index.StatusHashed])
		fmt.Printf("Errors:            %d\n", s.CountsByStatus[index.StatusError])
		fmt.Printf("Vanished:          %d\n", s.CountsByStatus[index.StatusVanished])
		fmt.Printf("Hashed bytes:      %d\n", s.HashedBytes)

		fmt.Println("\nContent")
		fmt.Println("-------")
		fmt.Printf("Unique hashes:     %d\n", s.UniqueHashes)
		fmt.Printf("Duplicate groups:  %d\n", s.DuplicateGroups)
		fmt.Printf("Duplicate files:   %d\n", s.DuplicateFiles)
		return nil
	},
}

// version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the idem version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing config file")
	configCmd.AddCommand(configListCmd)

	// root subcommands
	rootsCmd.AddCommand(rootAddCmd)
	rootsCmd.AddCommand(rootListCmd)

	// index flags
	indexCmd.Flags().IntP("jobs", "j", 0, "Maximum concurrent hashing operations")
	indexCmd.Flags().Int("queue", 0, "Walker backlog bound")
	indexCmd.Flags().String("chunk-size", "", "Read buffer size in bytes, or with K/M/G suffix (e.g. 32K, 4M)")
	indexCmd.Flags().Bool("force", false, "Re-hash every file, ignoring size/mtime short-circuits")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(rootsCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}
