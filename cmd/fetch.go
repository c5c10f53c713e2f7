package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/remote-fetch/internal/crawler"
	"github.com/JakeFAU/remote-fetch/internal/worker"
)

type fetchOptions struct {
	metadataOnly bool
	jsonOutput   bool
}

func newFetchCmd(root *rootOptions) *cobra.Command {
	opts := &fetchOptions{}
	cmd := &cobra.Command{
		Use:   "fetch URL...",
		Short: "Fetch one or more sftp:// or smb:// URLs",
		Long: `Fetches every URL concurrently and prints one summary line per URL:
kind, status, size, MIME type and URL. With --output, file bodies are written
below the directory, named by their SHA-256 digest.`,
		Args: cobra.MinimumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a App, args []string) error {
			return runFetch(cmd, a, root.cfg.Server.MaxConcurrentFetches, opts, args)
		}),
	}
	cmd.Flags().Int("parallel", 0, "maximum concurrent fetches (default server.max_concurrent_fetches)")
	cmd.Flags().String("output", "", "directory for fetched bodies (default output.dir)")
	cmd.Flags().BoolVar(&opts.metadataOnly, "metadata-only", false, "skip content, fetch metadata only")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "print one JSON summary per line")
	return cmd
}

func runFetch(cmd *cobra.Command, a App, parallel int, opts *fetchOptions, urls []string) error {
	logger := a.Logger()
	out := &lockedWriter{w: cmd.OutOrStdout()}

	var (
		mu     sync.Mutex
		failed int
	)
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(parallel)
	for _, url := range urls {
		g.Go(func() error {
			summary, err := a.Process(ctx, crawler.Request{URL: url, IncludeContent: !opts.metadataOnly})
			if err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				logger.Error("fetch failed", zap.String("url", url), zap.Error(err))
				out.printf("error\t-\t-\t-\t%s\t%v\n", url, err)
				return nil
			}
			return printSummary(out, url, summary, opts.jsonOutput)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d fetches failed", failed, len(urls))
	}
	return nil
}

func printSummary(out *lockedWriter, url string, s *worker.Summary, asJSON bool) error {
	if s == nil {
		if asJSON {
			return out.json(map[string]string{"url": url, "kind": "directory"})
		}
		out.printf("directory\t-\t-\t-\t%s\n", url)
		return nil
	}
	if asJSON {
		return out.json(s)
	}
	mimeType := s.MimeType
	if mimeType == "" {
		mimeType = "-"
	}
	out.printf("%s\t%d\t%d\t%s\t%s\n", s.Kind, s.StatusCode, s.ContentLength, mimeType, s.URL)
	for _, child := range s.Children {
		out.printf("  %s\n", child)
	}
	return nil
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = fmt.Fprintf(l.w, format, args...)
}

func (l *lockedWriter) json(v any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := json.NewEncoder(l.w).Encode(v); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return nil
}
