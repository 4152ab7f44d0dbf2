// Command ghe-inventory crawls a GitHub Enterprise instance and writes
// a repository and organization inventory to CSV, SQLite or Postgres.
//
// Configuration is read from the environment (optionally seeded from a
// .env file); see pkg/config for the full list of variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/scaleops-labs/ghe-inventory/pkg/cache"
	"github.com/scaleops-labs/ghe-inventory/pkg/client"
	"github.com/scaleops-labs/ghe-inventory/pkg/config"
	"github.com/scaleops-labs/ghe-inventory/pkg/inventory"
	"github.com/scaleops-labs/ghe-inventory/pkg/logging"
	"github.com/scaleops-labs/ghe-inventory/pkg/metrics"
	"github.com/scaleops-labs/ghe-inventory/pkg/sink"
	"github.com/scaleops-labs/ghe-inventory/pkg/tokenpool"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "ghe-inventory",
	Short: "GitHub Enterprise inventory collector",
	Long: `Crawls every organization of a GitHub Enterprise instance and writes
a repository and organization inventory.

Organizations and repositories are enumerated over GraphQL with cursor
pagination; workflow, webhook, runner and app counts are filled in over
REST. The collector rotates through multiple personal access tokens and
appends each record as soon as it is complete, so an interrupted run
leaves valid partial output.`,
}

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Crawl the enterprise and write the inventory",
	Long:  `Collect the full repository and organization inventory and stream it to the configured sink.`,
	Args:  cobra.NoArgs,
	RunE:  runCollect,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("ghe-inventory version %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// getSink builds the output sink selected by SINK. CSV is the default.
func getSink(cfg *config.Config) (sink.Sink, error) {
	switch cfg.SinkKind {
	case config.SinkSQLite:
		return sink.NewSQLite(cfg.SQLitePath)
	case config.SinkPostgres:
		return sink.NewPostgres(cfg.PostgresDSN)
	default:
		return sink.NewCSV(cfg.RepoCSVFile, cfg.OrgCSVFile)
	}
}

func runCollect(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	runLog, err := logging.OpenRunLog(cfg.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to open run log: %w", err)
	}
	defer runLog.Close()

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: zerolog.MultiLevelWriter(os.Stderr, runLog),
	})
	logger := logging.NewLogger("main")
	logger.Info().
		Str("enterprise", cfg.EnterpriseName).
		Int("tokens", len(cfg.Tokens)).
		Str("sink", cfg.SinkKind).
		Str("run_log", runLog.Name()).
		Msg("Starting GitHub Enterprise inventory collection")

	out, err := getSink(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize sink: %w", err)
	}
	defer out.Close()

	pool, err := tokenpool.New(cfg.Tokens, cfg.GraphQLURL)
	if err != nil {
		return fmt.Errorf("failed to initialize credential pool: %w", err)
	}

	clientCfg := client.DefaultConfig()
	clientCfg.GraphQLURL = cfg.GraphQLURL
	clientCfg.RESTBaseURL = cfg.APIBaseURL
	clientCfg.RequestsPerSecond = cfg.RequestsPerSecond
	clientCfg.Retry.Cooldown = cfg.QuotaCooldown
	exec, err := client.New(pool, clientCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize API executor: %w", err)
	}

	var cacheManager *cache.Manager
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		cacheManager = cache.NewManager(rdb)
		logger.Info().Str("addr", cfg.RedisAddr).Msg("Enrichment cache enabled")
	}

	collector, err := inventory.New(exec, inventory.NewEnricher(exec, cacheManager), out, inventory.Config{
		Enterprise: cfg.EnterpriseName,
		MaxOrgs:    cfg.MaxOrgs,
		PageDelay:  cfg.PageDelay,
		RepoDelay:  cfg.RepoDelay,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize collector: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("Metrics endpoint listening")
	}

	metrics.MarkRun(collector.RunID(), cfg.EnterpriseName)

	stats, err := collector.Run(ctx)
	if err != nil {
		// A SIGINT during a retry wait surfaces as the executor's own
		// cancellation sentinel rather than context.Canceled.
		if errors.Is(err, context.Canceled) || errors.Is(err, client.ErrContextCancelled) {
			// The partial output written so far is valid; finish cleanly.
			logger.Warn().Msg("Operation cancelled by user")
			fmt.Fprintln(cmd.OutOrStdout(), "\nOperation cancelled by user.")
			printSummary(cmd.OutOrStdout(), stats)
			return nil
		}
		return fmt.Errorf("collection failed: %w", err)
	}

	logger.Info().
		Str("run_id", collector.RunID()).
		Int("organizations", stats.Organizations).
		Int("organizations_skipped", stats.OrganizationsSkipped).
		Int("repositories", stats.Repositories).
		Int("branches", stats.Branches).
		Int("workflows", stats.Workflows).
		Int("webhooks", stats.Webhooks).
		Int("github_apps", stats.GitHubApps).
		Int("pull_requests", stats.PullRequests).
		Int("open_issues", stats.OpenIssues).
		Msg("Inventory collection completed")

	printSummary(cmd.OutOrStdout(), stats)
	fmt.Fprintf(cmd.OutOrStdout(), "\nInventory written to %s\nRun log: %s\n", sinkDestination(cfg), runLog.Name())
	return nil
}

// printSummary renders the run totals as a table.
func printSummary(w io.Writer, stats *inventory.RunStats) {
	fmt.Fprintln(w, "\nINVENTORY SUMMARY")

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Metric", "Value"})
	table.Append([]string{"Organizations", strconv.Itoa(stats.Organizations)})
	table.Append([]string{"Organizations Skipped", strconv.Itoa(stats.OrganizationsSkipped)})
	table.Append([]string{"Total Repositories", strconv.Itoa(stats.Repositories)})
	table.Append([]string{"Private Repositories", strconv.Itoa(stats.PrivateRepos)})
	table.Append([]string{"Internal Repositories", strconv.Itoa(stats.InternalRepos)})
	table.Append([]string{"Public Repositories", strconv.Itoa(stats.PublicRepos)})
	table.Append([]string{"Archived Repositories", strconv.Itoa(stats.ArchivedRepos)})
	table.Append([]string{"Total Branches", strconv.Itoa(stats.Branches)})
	table.Append([]string{"Total Workflows", strconv.Itoa(stats.Workflows)})
	table.Append([]string{"Total Webhooks", strconv.Itoa(stats.Webhooks)})
	table.Append([]string{"Total GitHub Apps", strconv.Itoa(stats.GitHubApps)})
	table.Append([]string{"Total Pull Requests", strconv.Itoa(stats.PullRequests)})
	table.Append([]string{"Total Open Issues", strconv.Itoa(stats.OpenIssues)})
	table.Render()
}

// sinkDestination names where the inventory landed, for the completion
// message.
func sinkDestination(cfg *config.Config) string {
	switch cfg.SinkKind {
	case config.SinkSQLite:
		return cfg.SQLitePath
	case config.SinkPostgres:
		return "postgres"
	default:
		return fmt.Sprintf("%s and %s", cfg.RepoCSVFile, cfg.OrgCSVFile)
	}
}
