package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/matzehuels/modeldag/pkg/cache"
	"github.com/matzehuels/modeldag/pkg/errors"
	"github.com/matzehuels/modeldag/pkg/pipeline"
)

// cacheCommand creates the cache management command.
func (c *CLI) cacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage cached runs and rendered graphs",
	}

	cmd.AddCommand(c.cacheClearCommand())
	cmd.AddCommand(c.cachePathCommand())

	return cmd
}

// cacheClearCommand creates the "cache clear" subcommand.
func (c *CLI) cacheClearCommand() *cobra.Command {
	var redisURL string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove all cached entries",
		Long: `Remove all cached runs and rendered graphs from the file cache, or from
redis with --redis.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			opts := pipeline.CacheOptions{Backend: pipeline.CacheRedis, URL: redisURL}
			where := redisURL
			if redisURL == "" {
				dir, err := cacheDir()
				if err != nil {
					return fmt.Errorf("get cache dir: %w", err)
				}
				opts = pipeline.CacheOptions{Backend: pipeline.CacheFile, Dir: dir}
				where = dir
			}

			n, err := clearCache(ctx, opts)
			if err != nil {
				return err
			}
			if n == 0 {
				printInfo("Cache is empty")
				return nil
			}
			printSuccess("Cleared %d cached entries", n)
			printDetail("Location: %s", where)
			return nil
		},
	}

	cmd.Flags().StringVar(&redisURL, "redis", "", "clear the redis cache at this URL")
	return cmd
}

// clearCache opens the cache opts selects and removes every entry.
func clearCache(ctx context.Context, opts pipeline.CacheOptions) (int, error) {
	c, err := pipeline.OpenCache(ctx, opts)
	if err != nil {
		return 0, err
	}
	defer c.Close()

	clearer, ok := c.(cache.Clearer)
	if !ok {
		return 0, errors.New(errors.ErrCodeUnsupported, "%s cache cannot be cleared", opts.Backend)
	}
	return clearer.Clear(ctx)
}

// cachePathCommand creates the "cache path" subcommand.
func (c *CLI) cachePathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the cache directory path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printCacheDir(cmd.OutOrStdout())
		},
	}
}

func printCacheDir(w io.Writer) error {
	dir, err := cacheDir()
	if err != nil {
		return fmt.Errorf("get cache dir: %w", err)
	}
	_, err = fmt.Fprintln(w, dir)
	return err
}
