package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/logging"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

var (
	configFile string
	logLevel   string

	cfg    *config.Config
	logOut io.WriteCloser
)

var rootCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Managed headless-browser scraping service",
	Long: `harvest runs scraping jobs on a shared pool of headless browsers.

Run it as an HTTP service:
  harvest serve

or drive single jobs from the shell:
  harvest scrape https://example.com --markdown
  harvest crawl https://example.com --max-pages 20 --same-domain
  harvest sessions list`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if logLevel != "" {
			c.Log.Level = logLevel
		}
		cfg = c
		logOut = logging.Init(cfg.Log)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logOut != nil {
			_ = logOut.Close()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("harvest %s (built %s)\n", Version, BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug|info|warn|error)")

	rootCmd.AddCommand(versionCmd, serveCmd, scrapeCmd, crawlCmd, sessionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
