package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/scaleops-labs/ghe-inventory/pkg/client"
	"github.com/scaleops-labs/ghe-inventory/pkg/logging"
	"github.com/scaleops-labs/ghe-inventory/pkg/pagination"
)

var (
	recordsEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghinv_records_emitted_total",
		Help: "Total records handed to the sink by kind",
	}, []string{"kind"})

	organizationsSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghinv_organizations_skipped_total",
		Help: "Total organizations skipped after unrecoverable errors",
	})
)

// Config holds collector settings.
type Config struct {
	// Enterprise is the enterprise slug whose organizations are crawled.
	Enterprise string

	// MaxOrgs caps how many organizations are processed. Zero means no
	// cap.
	MaxOrgs int

	// PageDelay is the courtesy pause between repository pages.
	PageDelay time.Duration

	// RepoDelay is the courtesy pause after each repository's
	// enrichment calls.
	RepoDelay time.Duration
}

// Collector walks an enterprise and streams finished records to a
// sink: organizations first, then each organization's repositories,
// each enriched and appended before the next one starts. Appending
// record by record means an interrupted run leaves valid partial
// output.
type Collector struct {
	exec     *client.Executor
	enricher *Enricher
	sink     Sink
	cfg      Config
	logger   zerolog.Logger
	runID    string
	stats    RunStats
}

// New creates a collector. The run ID labels logs and metrics for this
// crawl.
func New(exec *client.Executor, enricher *Enricher, out Sink, cfg Config) (*Collector, error) {
	if exec == nil {
		return nil, fmt.Errorf("request executor is required")
	}
	if enricher == nil {
		return nil, fmt.Errorf("enricher is required")
	}
	if out == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if cfg.Enterprise == "" {
		return nil, fmt.Errorf("enterprise slug is required")
	}

	return &Collector{
		exec:     exec,
		enricher: enricher,
		sink:     out,
		cfg:      cfg,
		logger:   logging.NewLogger("collector"),
		runID:    uuid.New().String(),
	}, nil
}

// RunID returns the identifier of this crawl.
func (c *Collector) RunID() string {
	return c.runID
}

// Run performs the crawl. It returns the accumulated totals, complete
// or partial, and an error only when the context was cancelled; every
// other failure is degraded, logged and skipped so the run can finish.
func (c *Collector) Run(ctx context.Context) (*RunStats, error) {
	start := time.Now()
	c.logger.Info().
		Str("run_id", c.runID).
		Str("enterprise", c.cfg.Enterprise).
		Msg("Starting inventory collection")

	orgs, err := c.fetchOrganizations(ctx)
	if err != nil {
		if errors.Is(err, pagination.ErrNoData) {
			c.noOrganizations()
			return &c.stats, nil
		}
		return &c.stats, err
	}
	if len(orgs) == 0 {
		c.noOrganizations()
		return &c.stats, nil
	}
	c.logger.Info().Int("organizations", len(orgs)).Msg("Found organizations")

	if c.cfg.MaxOrgs > 0 && len(orgs) > c.cfg.MaxOrgs {
		c.logger.Warn().
			Int("max_orgs", c.cfg.MaxOrgs).
			Int("found", len(orgs)).
			Msg("Organization cap set, processing a subset")
		orgs = orgs[:c.cfg.MaxOrgs]
	}

	for i, org := range orgs {
		if err := ctx.Err(); err != nil {
			return &c.stats, err
		}
		c.logger.Info().
			Str("org", org.Login).
			Int("position", i+1).
			Int("total", len(orgs)).
			Msg("Processing organization")

		if err := c.collectOrganization(ctx, org); err != nil {
			if cancelled(err) {
				return &c.stats, err
			}
			c.stats.OrganizationsSkipped++
			organizationsSkippedTotal.Inc()
			c.logger.Error().
				Err(err).
				Str("org", org.Login).
				Msg("Error processing organization, skipping and continuing")
			continue
		}
		c.stats.Organizations++
	}

	c.logSummary(time.Since(start))
	return &c.stats, nil
}

// collectOrganization enriches one organization, walks its
// repositories and appends the records and final summary. Any panic
// below this frame degrades to an error so one broken organization
// cannot sink the run.
func (c *Collector) collectOrganization(ctx context.Context, org OrganizationNode) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("organization %s: panic: %v", org.Login, r)
		}
	}()

	derived := c.enricher.EnrichOrganization(ctx, org.Login)

	repos, err := c.fetchRepositories(ctx, org.Login)
	if err != nil {
		if errors.Is(err, pagination.ErrNoData) {
			return fmt.Errorf("organization %s: repositories not visible", org.Login)
		}
		return err
	}
	c.logger.Info().
		Str("org", org.Login).
		Int("repositories", len(repos)).
		Msg("Found repositories")

	summary := NewOrgSummary(org, derived)
	for i, repo := range repos {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.logger.Info().
			Str("repo", repo.NameWithOwner).
			Int("position", i+1).
			Int("total", len(repos)).
			Msg("Processing repository")

		owner, name := repo.OwnerAndName(org.Login)
		rec := &InventoryRecord{
			Organization: org.Login,
			Repository:   repo,
			Derived:      c.enricher.EnrichRepository(ctx, owner, name),
		}

		if err := c.sink.AppendRepository(ctx, rec); err != nil {
			return fmt.Errorf("append repository %s: %w", repo.NameWithOwner, err)
		}
		recordsEmittedTotal.WithLabelValues("repository").Inc()
		summary.CountRepository(rec)
		c.stats.CountRecord(rec)

		c.pause(ctx, c.cfg.RepoDelay)
	}

	if err := c.sink.AppendOrganization(ctx, summary); err != nil {
		return fmt.Errorf("append organization %s: %w", org.Login, err)
	}
	recordsEmittedTotal.WithLabelValues("organization").Inc()

	c.logger.Info().
		Str("org", org.Login).
		Int("repositories", summary.TotalRepos).
		Int("private", summary.PrivateRepos).
		Int("internal", summary.InternalRepos).
		Int("public", summary.PublicRepos).
		Int("archived", summary.ArchivedRepos).
		Int("forks", summary.ForkRepos).
		Msg("Completed organization")
	return nil
}

func (c *Collector) fetchOrganizations(ctx context.Context) ([]OrganizationNode, error) {
	cfg := pagination.Config{Entity: "organizations", CursorVar: "cursor"}
	return pagination.FetchAll(ctx, c.exec, organizationsQuery,
		map[string]any{"enterprise": c.cfg.Enterprise}, extractOrganizations, cfg)
}

func (c *Collector) fetchRepositories(ctx context.Context, login string) ([]RepositoryNode, error) {
	cfg := pagination.Config{Entity: "repositories", CursorVar: "cursor", PageDelay: c.cfg.PageDelay}
	return pagination.FetchAll(ctx, c.exec, repositoriesQuery,
		map[string]any{"org": login}, extractRepositories, cfg)
}

// pause sleeps for a courtesy delay, cut short by cancellation.
func (c *Collector) pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func (c *Collector) noOrganizations() {
	c.logger.Error().
		Str("enterprise", c.cfg.Enterprise).
		Msg("No organizations found - check the enterprise slug, that the tokens carry admin:enterprise scope, and that they grant enterprise access")
}

func (c *Collector) logSummary(elapsed time.Duration) {
	c.logger.Info().
		Str("run_id", c.runID).
		Int("organizations", c.stats.Organizations).
		Int("organizations_skipped", c.stats.OrganizationsSkipped).
		Int("repositories", c.stats.Repositories).
		Int("private", c.stats.PrivateRepos).
		Int("internal", c.stats.InternalRepos).
		Int("public", c.stats.PublicRepos).
		Int("archived", c.stats.ArchivedRepos).
		Int("branches", c.stats.Branches).
		Int("workflows", c.stats.Workflows).
		Int("webhooks", c.stats.Webhooks).
		Int("github_apps", c.stats.GitHubApps).
		Int("pull_requests", c.stats.PullRequests).
		Int("open_issues", c.stats.OpenIssues).
		Dur("duration", elapsed).
		Msg("Inventory collection complete")
}

// cancelled reports whether err stems from context cancellation, which
// must abort the whole run instead of skipping one organization.
func cancelled(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, client.ErrContextCancelled)
}
