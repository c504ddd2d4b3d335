package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/scraper"
)

var (
	crawlOpts        scrapeFlags
	crawlDepth       int
	crawlMaxPages    int
	crawlSameDomain  bool
	crawlPattern     string
	crawlConcurrency int
	crawlDedupe      bool
)

var crawlCmd = &cobra.Command{
	Use:   "crawl <url>",
	Short: "Crawl a site breadth-first and print the pages as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sc, err := openScraper()
		if err != nil {
			return err
		}
		defer sc.Close()

		req := &models.CrawlRequest{
			StartURL:             args[0],
			MaxDepth:             &crawlDepth,
			MaxPages:             crawlMaxPages,
			SameDomainOnly:       crawlSameDomain,
			URLPattern:           crawlPattern,
			Concurrency:          crawlConcurrency,
			SkipDuplicateContent: crawlDedupe,
			Options:              crawlOpts.request(args[0]),
		}
		req.Defaults()

		bar := progressbar.NewOptions(req.MaxPages,
			progressbar.OptionSetDescription("crawling"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
		res, err := sc.Crawl(ctx, req, func(*models.CrawlPage) { _ = bar.Add(1) })
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return err
		}

		if err := writeJSON(crawlOpts.outputFile, res); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "%s: visited %d pages, %d failed, in %dms\n",
			scraper.CrawlStatus(res), res.Visited, res.Failed, res.DurationMs)
		return nil
	},
}

func init() {
	crawlOpts.register(crawlCmd)
	fl := crawlCmd.Flags()
	fl.IntVarP(&crawlDepth, "depth", "d", 2, "maximum link depth from the start URL")
	fl.IntVar(&crawlMaxPages, "max-pages", 50, "maximum number of pages visited")
	fl.BoolVar(&crawlSameDomain, "same-domain", false, "only follow links on the start URL's host")
	fl.StringVar(&crawlPattern, "pattern", "", "regular expression links must match")
	fl.IntVar(&crawlConcurrency, "concurrency", 1, "pages scraped in parallel")
	fl.BoolVar(&crawlDedupe, "skip-duplicates", false, "do not expand near-duplicate pages")
}
