package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"idem/internal/config"
	"idem/internal/database"
	"idem/internal/fs"
	"idem/internal/index"
)

// App is the application layer between the CLI and the indexing
// engine. It constructs all dependencies from config and manages the
// store lifecycle on Close.
type App struct {
	cfg     *config.Config
	store   index.Store
	service *index.Service
	logFile *os.File
}

// NewApp creates a fully wired App from the given config, migrating
// the store schema if needed. operation identifies the CLI command
// being run (e.g. "Index") and tags every log line of this invocation.
// The caller must call Close when done.
func NewApp(cfg *config.Config, operation string) (*App, error) {
	return newApp(cfg, operation, database.NewStoreFromConfig)
}

// NewReadOnlyApp wires an App over an existing store without running
// migrations; the schema is verified instead. Read paths such as the
// status command use this so they never mutate the index.
func NewReadOnlyApp(cfg *config.Config, operation string) (*App, error) {
	return newApp(cfg, operation, database.OpenStoreFromConfig)
}

func newApp(cfg *config.Config, operation string, openStore func(config.StoreConfig, index.Clock) (index.Store, error)) (*App, error) {
	chunkSize, err := cfg.ChunkSizeBytes()
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg.Store, index.RealClock{})
	if err != nil {
		return nil, fmt.Errorf("opening index store: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405Z") + "-" + operation
	logger, logFile, err := newLogger(cfg.LogDir, runID)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	service := index.NewService(
		store,
		fs.NewOSProber(),
		fs.NewChunkHasher(chunkSize),
		fs.NewIgnoreMatcher(cfg.Filesystem.Ignore),
		&slogAdapter{l: logger},
	)

	return &App{
		cfg:     cfg,
		store:   store,
		service: service,
		logFile: logFile,
	}, nil
}

// Index runs the engine over the given roots. When rootPaths is empty
// the configured roots are used.
func (a *App) Index(ctx context.Context, rootPaths []string, opts index.Options) (*index.Summary, error) {
	if len(rootPaths) == 0 {
		rootPaths = a.cfg.Roots
	}
	if len(rootPaths) == 0 {
		return nil, fmt.Errorf("no roots given and none configured (add one with 'idem root add')")
	}
	return a.service.Index(ctx, rootPaths, opts)
}

// Status returns the aggregate view of the index store.
func (a *App) Status() (*index.StoreSnapshot, error) {
	return a.store.Snapshot()
}

// Close closes the store and the log file.
func (a *App) Close() error {
	var firstErr error

	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing index store: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
