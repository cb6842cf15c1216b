package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-news-crawler/internal/dispatcher"
)

// errAllSitesFailed is returned when no requested site finished successfully.
var errAllSitesFailed = errors.New("every site failed")

type crawlOptions struct {
	sites       []string
	maxArticles int
	workers     int
	timeout     time.Duration
	listLinks   bool
	jsonOutput  bool
}

// newCrawlCmd creates the 'crawl' subcommand, which runs one crawl to
// completion and prints a per-site summary.
func newCrawlCmd() *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the configured sites once",
		Long: `Runs one crawl over every configured site, or only the sites named
with --site, and prints a summary per site. With --list-links the discovered
article URLs are printed instead of being fetched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, opts)
		},
	}
	cmd.Flags().StringSliceVarP(&opts.sites, "site", "s", nil, "site key to crawl (repeatable)")
	cmd.Flags().IntVar(&opts.maxArticles, "max-articles", 0, "article URLs to process per site (0 uses the configured limit)")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "concurrent sites (0 runs one per selected site); always capped by crawler.max_workers")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "run budget after which unstarted sites are abandoned")
	cmd.Flags().BoolVar(&opts.listLinks, "list-links", false, "discover and print article URLs without fetching them")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "print results as JSON")
	return cmd
}

func runCrawl(cmd *cobra.Command, opts *crawlOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	if opts.maxArticles < 0 || opts.workers < 0 || opts.timeout < 0 {
		return errors.New("--max-articles, --workers and --timeout must be >= 0")
	}

	maxArticles := opts.maxArticles
	if maxArticles == 0 {
		maxArticles = appInstance.Config().Crawler.MaxArticles
	}
	runID, results, err := appInstance.Crawl(cmd.Context(), dispatcher.RunRequest{
		Sites:        opts.sites,
		MaxArticles:  maxArticles,
		Workers:      opts.workers,
		Timeout:      opts.timeout,
		DiscoverOnly: opts.listLinks,
	})
	if err != nil {
		return fmt.Errorf("run crawl: %w", err)
	}

	out := cmd.OutOrStdout()
	switch {
	case opts.jsonOutput:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{"run_id": runID, "results": results}); err != nil {
			return fmt.Errorf("encode results: %w", err)
		}
	case opts.listLinks:
		printLinks(out, results)
	default:
		if err := printSummary(out, results); err != nil {
			return err
		}
	}

	appInstance.Logger().Info("crawl command finished", zap.String("run_id", runID))
	if len(results) > 0 && failedCount(results) == len(results) {
		return errAllSitesFailed
	}
	return nil
}

func sortedKeys(results map[string]crawler.CrawlResult) []string {
	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func failedCount(results map[string]crawler.CrawlResult) int {
	n := 0
	for _, r := range results {
		if r.State == crawler.StateFailed {
			n++
		}
	}
	return n
}

func printLinks(w io.Writer, results map[string]crawler.CrawlResult) {
	for _, key := range sortedKeys(results) {
		r := results[key]
		if r.State == crawler.StateFailed {
			fmt.Fprintf(w, "# %s failed: %s\n", key, r.Reason)
			continue
		}
		for _, link := range r.Links {
			fmt.Fprintf(w, "%s\t%s\n", key, link)
		}
	}
}

func printSummary(w io.Writer, results map[string]crawler.CrawlResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SITE\tSTATE\tMETHOD\tDISCOVERED\tFETCHED\tEXTRACTED\tSAVED\tDUPLICATES\tFAILED\tREASON")
	for _, key := range sortedKeys(results) {
		r := results[key]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			key, r.State, r.Method, r.Discovered, r.Fetched, r.Extracted, r.Saved, r.Duplicates, r.Failed, r.Reason)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}
