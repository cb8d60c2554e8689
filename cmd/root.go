// Package cmd defines the CLI of the showtimes crawler.
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/showtimes-crawler/internal/config"
	"github.com/JakeFAU/showtimes-crawler/internal/logging"
)

type rootOptions struct {
	configFile string
	envFile    string
	verbose    bool

	cfg    config.Config
	logger *zap.Logger
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "showtimes-crawler",
		Short: "Crawls cinema showtimes described by crawler definitions.",
		Long: `showtimes-crawler interprets a declarative crawler definition, walks the
cinema, movie, date and showtimes pages it describes and writes one JSON
document per cinema.`,
		SilenceUsage: true,

		// Loads .env, the run configuration and the logger before any subcommand.
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return opts.init()
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync() //nolint:errcheck // best-effort flush
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "run configuration file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the configuration")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log debug output including progress updates")

	cmd.AddCommand(newCrawlCmd(opts))
	return cmd
}

func (o *rootOptions) init() error {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file: %w", err)
		}
	}
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if o.verbose {
		cfg.Logging.Verbose = true
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Verbose)
	if err != nil {
		return err
	}
	o.cfg = cfg
	o.logger = logger
	return nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
