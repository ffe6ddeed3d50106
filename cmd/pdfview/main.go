// pdfview is a command-line companion to the viewer core: it fetches remote
// documents through the disk cache, inspects local or remote files with the
// scanning backend, and maintains the cache directory.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wudi/pdfview/backend/scan"
	"github.com/wudi/pdfview/diskcache"
	"github.com/wudi/pdfview/fetch"
	"github.com/wudi/pdfview/observability"
	"github.com/wudi/pdfview/remote"
)

func main() {
	var (
		cacheDir string
		maxAge   time.Duration
		maxSize  int64
		verbose  bool
	)

	rootCmd := &cobra.Command{
		Use:   "pdfview",
		Short: "Fetch, inspect and cache PDF documents",
		Long: `pdfview exercises the viewer pipeline from the command line: it resolves
remote documents through the same disk cache and downloader the viewer uses,
and reports document structure via the scanning backend.`,
		SilenceUsage: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", defaultCacheDir(), "Disk cache directory")
	rootCmd.PersistentFlags().DurationVar(&maxAge, "max-age", 7*24*time.Hour, "How long cached documents stay fresh")
	rootCmd.PersistentFlags().Int64Var(&maxSize, "max-size", 256<<20, "Disk cache size budget in bytes")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	logger := func() observability.Logger {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		if verbose {
			l.SetLevel(logrus.DebugLevel)
		}
		return observability.NewLogrus(l)
	}
	policy := func() diskcache.Policy {
		return diskcache.Policy{MaxAge: maxAge, MaxSizeBytes: maxSize, ValidateOnAccess: true}
	}

	fetchCmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Download a document into the disk cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			path, err := resolve(ctx, args[0], cacheDir, policy(), logger(), true)
			if err != nil {
				return err
			}
			fmt.Printf("cached: %s\n", path)
			return nil
		},
	}

	infoCmd := &cobra.Command{
		Use:   "info <file-or-url>",
		Short: "Print page count and page sizes of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			path := args[0]
			if strings.Contains(path, "://") {
				var err error
				path, err = resolve(ctx, path, cacheDir, policy(), logger(), false)
				if err != nil {
					return err
				}
			}

			doc, err := scan.New().Open(path)
			if err != nil {
				return err
			}
			defer doc.Close()

			fmt.Printf("pages: %d\n", doc.PageCount())
			for i := 0; i < doc.PageCount(); i++ {
				w, h, err := doc.PageSize(i)
				if err != nil {
					return err
				}
				fmt.Printf("  page %d: %.0f x %.0f pt\n", i+1, w, h)
			}
			return nil
		},
	}

	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the disk cache",
	}

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show cache entries and total size",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := diskcache.New(cacheDir, logger())
			if err != nil {
				return err
			}
			entries := cache.Entries()
			for _, e := range entries {
				fmt.Printf("%s  %10d bytes  accessed %s\n",
					e.Key, e.SizeBytes, e.LastAccess.Format(time.RFC3339))
			}
			fmt.Printf("%d entries, %d bytes total\n", len(entries), cache.SizeBytes())
			return nil
		},
	})

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "clean",
		Short: "Delete expired cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := diskcache.New(cacheDir, logger())
			if err != nil {
				return err
			}
			before := cache.SizeBytes()
			cache.CleanExpired(policy())
			fmt.Printf("reclaimed %d bytes\n", before-cache.SizeBytes())
			return nil
		},
	})

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every cache entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := diskcache.New(cacheDir, logger())
			if err != nil {
				return err
			}
			cache.Clear()
			fmt.Println("cache cleared")
			return nil
		},
	})

	rootCmd.AddCommand(fetchCmd, infoCmd, cacheCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolve runs src through the remote loader and returns the cached path.
// showProgress prints a transfer progress line updated in place.
func resolve(ctx context.Context, url, cacheDir string, policy diskcache.Policy, log observability.Logger, showProgress bool) (string, error) {
	cache, err := diskcache.New(cacheDir, log)
	if err != nil {
		return "", err
	}
	loader := remote.NewLoader(cache, &fetch.Downloader{Logger: log}, log)

	var path string
	for state := range loader.Load(ctx, remote.Source{URL: url, Policy: policy}) {
		switch s := state.(type) {
		case remote.Downloading:
			if showProgress && s.Progress != nil {
				fmt.Printf("\rdownloading... %3.0f%%", *s.Progress*100)
			}
		case remote.Cached:
			if showProgress {
				fmt.Print("\r")
			}
			path = s.Path
		case remote.Failed:
			if showProgress {
				fmt.Print("\r")
			}
			return "", &fetch.Error{Kind: s.Kind, Status: s.Status, Message: s.Message}
		}
	}
	if path == "" {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("remote load produced no file")
	}
	return path, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "pdfview")
	}
	return filepath.Join(os.TempDir(), "pdfview-cache")
}
