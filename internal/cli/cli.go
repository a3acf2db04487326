// Package cli implements the modeldag command-line interface.
package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/modeldag/pkg/buildinfo"
	"github.com/matzehuels/modeldag/pkg/cache"
	"github.com/matzehuels/modeldag/pkg/pipeline"
)

// =============================================================================
// Constants
// =============================================================================

// appName is the application name used for directories and display.
const appName = "modeldag"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "modeldag builds and samples probabilistic model graphs",
		Long: `modeldag loads probabilistic models written in HCL, runs
Metropolis-Hastings chains over them and draws their graphs.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cmd.SetContext(withLogger(cmd.Context(), c.Logger))
		},
	}

	root.SetVersionTemplate(buildinfo.Template())

	root.AddCommand(c.runCommand())
	root.AddCommand(c.graphCommand())
	root.AddCommand(c.inspectCommand())
	root.AddCommand(c.exploreCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.completionCommand())
	root.AddCommand(c.versionCommand())

	return root
}

// =============================================================================
// Runner Factory
// =============================================================================

// cacheFlags are the cache flags shared by run, graph and serve.
type cacheFlags struct {
	noCache  bool
	redisURL string
}

func (f *cacheFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.noCache, "no-cache", false, "disable caching")
	cmd.Flags().StringVar(&f.redisURL, "redis", "", "cache in redis at this URL instead of on disk")
}

// apply fills the cache section of opts from the flags. Flags win over
// the run configuration; without either the file cache is used.
func (f *cacheFlags) apply(opts *pipeline.Options) {
	switch {
	case f.noCache:
		opts.Cache = pipeline.CacheOptions{Backend: pipeline.CacheNone}
	case f.redisURL != "":
		opts.Cache = pipeline.CacheOptions{Backend: pipeline.CacheRedis, URL: f.redisURL, Prefix: opts.Cache.Prefix}
	case opts.Cache.Backend == "":
		if dir, err := cacheDir(); err == nil {
			opts.Cache = pipeline.CacheOptions{Backend: pipeline.CacheFile, Dir: dir}
		}
	}
}

// newRunner creates a pipeline runner backed by the cache opts selects.
// A nil keyer uses the default keys.
func (c *CLI) newRunner(ctx context.Context, opts pipeline.CacheOptions, keyer cache.Keyer) (*pipeline.Runner, error) {
	store, err := pipeline.OpenCache(ctx, opts)
	if err != nil {
		return nil, err
	}
	return pipeline.NewRunner(store, keyer, c.Logger), nil
}

// =============================================================================
// Paths
// =============================================================================

// cacheDir returns the cache directory using XDG standard (~/.cache/modeldag/).
func cacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}
