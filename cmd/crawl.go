package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/showtimes-crawler/internal/app"
	"github.com/JakeFAU/showtimes-crawler/internal/config"
	"github.com/JakeFAU/showtimes-crawler/internal/definition"
)

const closeTimeout = 10 * time.Second

type crawlOptions struct {
	limit       int
	concurrency int
	timezone    string
	cacheDir    string
	statusAddr  string
	outputDir   string
	dryRun      bool
}

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd(root *rootOptions) *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl <definition>",
		Short: "Runs the crawl described by a crawler definition file",
		Long: `Loads and validates a crawler definition (YAML or JSON), crawls every
cinema it yields and writes one document per cinema. Flags override the run
configuration.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, root, opts, args[0])
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.limit, "limit", 0, "truncate every crawled list to this many items (development)")
	f.IntVar(&opts.concurrency, "concurrency", 0, "parallel branches; zero uses the definition's value")
	f.StringVar(&opts.timezone, "timezone", "", "timezone for date iteration; overrides the definition")
	f.StringVar(&opts.cacheDir, "cache-dir", "", "record responses to and replay them from this directory")
	f.StringVar(&opts.statusAddr, "status-addr", "", "serve progress and metrics on this address while crawling")
	f.StringVar(&opts.outputDir, "output-dir", "", "write documents as JSON files into this directory")
	f.BoolVar(&opts.dryRun, "dry-run", false, "keep documents in memory instead of writing them")
	return cmd
}

// apply copies explicitly set flags over the run configuration.
func (o *crawlOptions) apply(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("limit") {
		cfg.Crawl.Limit = o.limit
	}
	if f.Changed("concurrency") {
		cfg.Crawl.Concurrency = o.concurrency
	}
	if f.Changed("timezone") {
		cfg.Crawl.Timezone = o.timezone
	}
	if f.Changed("cache-dir") {
		cfg.Crawl.CacheDir = o.cacheDir
	}
	if f.Changed("status-addr") {
		cfg.Status.Addr = o.statusAddr
	}
	if f.Changed("output-dir") {
		cfg.Output.Writer = config.WriterLocal
		cfg.Output.Dir = o.outputDir
	}
	if o.dryRun {
		cfg.Output.Writer = config.WriterMemory
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

func runCrawl(cmd *cobra.Command, root *rootOptions, opts *crawlOptions, path string) error {
	cfg := root.cfg
	if err := opts.apply(cmd, &cfg); err != nil {
		return err
	}
	logger := root.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	def, err := definition.Load(path)
	if err != nil {
		return fmt.Errorf("load definition: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, def, logger)
	if err != nil {
		return fmt.Errorf("initialize crawl: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if cerr := a.Close(closeCtx); cerr != nil {
			logger.Warn("close failed", zap.Error(cerr))
		}
	}()

	if err := a.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("crawl interrupted")
		}
		return fmt.Errorf("crawl %s: %w", def.Crawler.ID, err)
	}
	if mem := a.Memory(); mem != nil {
		logger.Info("dry run finished", zap.Int("documents", len(mem.Documents())))
	}
	logger.Info("crawl command finished", zap.String("run_id", a.RunID()))
	return nil
}

// newApp builds the run container. Tests replace it to inject collaborators.
var newApp = func(ctx context.Context, cfg config.Config, def *definition.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, def, logger, app.Overrides{})
}
