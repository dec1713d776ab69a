package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nao1215/crawlcache/internal/cache"
	"github.com/nao1215/crawlcache/internal/fetch"
)

// NewCacheCmd creates the cache command and its subcommands.
func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the response cache",
		Long: `Cache inspects and maintains the sqlite file that stores downloaded
responses. Use the global --cache-file flag to select another file.

Examples:
  # Number of cached responses
  crawlcache cache count

  # Print a cached body and its metadata
  crawlcache cache get https://example.com/
  crawlcache cache get --meta https://example.com/

  # Copy the entries of another cache file
  crawlcache cache merge other.db`,
	}

	cmd.AddCommand(newCacheGetCmd())
	cmd.AddCommand(newCacheKeysCmd())
	cmd.AddCommand(newCacheCountCmd())
	cmd.AddCommand(newCacheDeleteCmd())
	cmd.AddCommand(newCacheStaleCmd())
	cmd.AddCommand(newCacheSetMetaCmd())
	cmd.AddCommand(newCacheClearCmd())
	cmd.AddCommand(newCacheVacuumCmd())
	cmd.AddCommand(newCacheMergeCmd())

	return cmd
}

// withStore opens the cache selected by the global flags, runs fn and
// closes the cache.
func withStore(cmd *cobra.Command, fn func(*cache.Store) error) (err error) {
	cfg, err := buildConfig(cmd, nil)
	if err != nil {
		return err
	}
	if err := cfg.ValidateSettings(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(store)
}

// entryInfo is the YAML form of an entry's metadata.
type entryInfo struct {
	Key     string            `yaml:"key"`
	Status  string            `yaml:"status"`
	Updated string            `yaml:"updated"`
	Size    int               `yaml:"size"`
	Meta    map[string]string `yaml:"meta,omitempty"`
}

func newCacheGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print a cached response body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			showMeta, err := cmd.Flags().GetBool("meta")
			if err != nil {
				return err
			}
			return withStore(cmd, func(store *cache.Store) error {
				entry, err := store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				resp, err := fetch.DecodeEntry(entry)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if !showMeta {
					_, err := out.Write(resp.Body)
					return err
				}

				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(entryInfo{
					Key:     entry.Key,
					Status:  entry.Status.String(),
					Updated: entry.Updated.UTC().Format(time.RFC3339),
					Size:    len(resp.Body),
					Meta:    entry.Meta,
				}); err != nil {
					return err
				}
				return enc.Close()
			})
		},
	}
	cmd.Flags().Bool("meta", false, "Print the entry metadata as YAML instead of the body")
	return cmd
}

func newCacheKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List every cached key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(store *cache.Store) error {
				for key, err := range store.Keys(cmd.Context()) {
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), key)
				}
				return nil
			})
		},
	}
}

func newCacheCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of cached entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(store *cache.Store) error {
				n, err := store.Count(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			})
		},
	}
}

func newCacheDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>...",
		Short: "Delete cached entries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *cache.Store) error {
				for _, key := range args {
					if err := store.Delete(cmd.Context(), key); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newCacheStaleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stale <key>...",
		Short: "Mark entries so that they are downloaded again",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *cache.Store) error {
				for _, key := range args {
					if err := store.MarkStale(cmd.Context(), key); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newCacheSetMetaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-meta <key> <name=value>...",
		Short: "Replace the metadata of a cached entry",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta := make(cache.Meta, len(args)-1)
			for _, field := range args[1:] {
				name, value, ok := strings.Cut(field, "=")
				if !ok {
					return fmt.Errorf("invalid metadata %q (want name=value)", field)
				}
				meta[name] = value
			}
			return withStore(cmd, func(store *cache.Store) error {
				return store.SetMeta(cmd.Context(), args[0], meta)
			})
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			vacuum, err := cmd.Flags().GetBool("vacuum")
			if err != nil {
				return err
			}
			return withStore(cmd, func(store *cache.Store) error {
				if err := store.Clear(cmd.Context()); err != nil {
					return err
				}
				if vacuum {
					return store.Vacuum(cmd.Context())
				}
				return nil
			})
		},
	}
	cmd.Flags().Bool("vacuum", false, "Compact the file after clearing")
	return cmd
}

func newCacheVacuumCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vacuum",
		Short: "Compact the cache file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(store *cache.Store) error {
				return store.Vacuum(cmd.Context())
			})
		},
	}
}

func newCacheMergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge <other-cache-file>",
		Short: "Copy the entries of another cache file into this one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			override, err := cmd.Flags().GetBool("override")
			if err != nil {
				return err
			}
			return withStore(cmd, func(store *cache.Store) error {
				opts := cache.DefaultOptions()
				opts.CreateIfNotExists = false
				other, err := cache.Open(args[0], opts)
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", args[0], err)
				}
				defer other.Close()

				n, err := store.Merge(cmd.Context(), other, override)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "merged %d entries from %s\n", n, args[0])
				return nil
			})
		},
	}
	cmd.Flags().Bool("override", false, "Replace entries that already exist")
	return cmd
}
