package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/use-agent/harvest/engine"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/scraper"
)

// scrapeFlags are the job options shared by scrape and crawl.
type scrapeFlags struct {
	markdown        bool
	links           bool
	screenshotFile  string
	waitForSelector string
	waitUntil       string
	timeoutMs       int
	retries         int
	sessionID       string
	saveSession     bool
	noCache         bool
	noStealth       bool
	outputFile      string
}

func (f *scrapeFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.BoolVar(&f.markdown, "markdown", false, "include a Markdown rendering of the page")
	fl.BoolVar(&f.links, "links", false, "include the page's links")
	fl.StringVar(&f.waitForSelector, "wait-for", "", "CSS selector to wait for after navigation")
	fl.StringVar(&f.waitUntil, "wait-until", "", "navigation completion: load or networkidle")
	fl.IntVar(&f.timeoutMs, "timeout", 0, "per-attempt timeout in milliseconds")
	fl.IntVar(&f.retries, "retries", -1, "retries after the first attempt (default from config)")
	fl.StringVar(&f.sessionID, "session", "", "session id to restore")
	fl.BoolVar(&f.saveSession, "save-session", false, "save cookies and local storage under --session")
	fl.BoolVar(&f.noCache, "no-cache", false, "bypass the response cache")
	fl.BoolVar(&f.noStealth, "no-stealth", false, "disable fingerprint randomization")
	fl.StringVarP(&f.outputFile, "output", "o", "", "write JSON to this file instead of stdout")
}

func (f *scrapeFlags) request(url string) models.ScrapeRequest {
	req := models.ScrapeRequest{
		URL:             url,
		WaitForSelector: f.waitForSelector,
		WaitUntil:       f.waitUntil,
		TimeoutMs:       f.timeoutMs,
		SessionID:       f.sessionID,
		SaveSession:     f.saveSession,
		ExtractMarkdown: f.markdown,
		ExtractLinks:    f.links,
		Screenshot:      f.screenshotFile != "",
	}
	if f.retries >= 0 {
		req.Retries = &f.retries
	}
	if f.noCache {
		off := false
		req.Cache = &off
	}
	if f.noStealth {
		off := false
		req.Stealth = &off
	}
	return req
}

var scrapeOpts scrapeFlags

var scrapeCmd = &cobra.Command{
	Use:   "scrape <url>",
	Short: "Scrape one page and print the result as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sc, err := openScraper()
		if err != nil {
			return err
		}
		defer sc.Close()

		req := scrapeOpts.request(args[0])
		res := sc.Scrape(ctx, &req)

		if scrapeOpts.screenshotFile != "" && len(res.Screenshot) > 0 {
			if err := os.WriteFile(scrapeOpts.screenshotFile, res.Screenshot, 0o644); err != nil {
				return fmt.Errorf("write screenshot: %w", err)
			}
			res.Screenshot = nil
		}
		if err := writeJSON(scrapeOpts.outputFile, res); err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("%s: %s", res.Error.Code, res.Error.Message)
		}
		return nil
	},
}

func init() {
	scrapeOpts.register(scrapeCmd)
	scrapeCmd.Flags().StringVar(&scrapeOpts.screenshotFile, "screenshot", "", "save a PNG screenshot to this file")
}

func openScraper() (*scraper.Scraper, error) {
	log := slog.Default()
	return scraper.Open(cfg, engine.NewRodLauncher(cfg.Browser, log), log)
}

func writeJSON(path string, v any) error {
	var w io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
