package inventory

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-github/v55/github"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/scaleops-labs/ghe-inventory/pkg/cache"
	"github.com/scaleops-labs/ghe-inventory/pkg/client"
	"github.com/scaleops-labs/ghe-inventory/pkg/logging"
)

var enrichmentFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ghinv_enrichment_failures_total",
	Help: "Total enrichment lookups degraded to zero after errors, by metric",
}, []string{"metric"})

// listPage asks list endpoints for one large page; counting hooks or
// teams beyond that is not worth a pagination walk.
var listPage = &github.ListOptions{PerPage: 100}

// Enricher issues the secondary REST lookups for repositories and
// organizations. Every metric is fault-isolated: a failed lookup
// degrades that one count to zero and the record survives. Results are
// cached for a day so a rerun does not re-spend quota.
type Enricher struct {
	exec   *client.Executor
	cache  *cache.Manager
	logger zerolog.Logger
}

// NewEnricher creates an enricher. The cache manager may be backed by
// nil Redis, in which case every lookup fetches fresh.
func NewEnricher(exec *client.Executor, cacheManager *cache.Manager) *Enricher {
	if cacheManager == nil {
		cacheManager = cache.NewManager(nil)
	}
	return &Enricher{
		exec:   exec,
		cache:  cacheManager,
		logger: logging.NewLogger("enrich"),
	}
}

// EnrichRepository collects the derived metrics for one repository.
func (e *Enricher) EnrichRepository(ctx context.Context, owner, name string) DerivedMetrics {
	key := cache.Key{Kind: cache.KindRepository, Owner: owner, Name: name}
	var derived DerivedMetrics
	if e.fromCache(ctx, key, &derived) {
		return derived
	}

	derived = DerivedMetrics{
		Workflows:         e.repositoryWorkflows(ctx, owner, name),
		Webhooks:          e.repositoryWebhooks(ctx, owner, name),
		InstalledApps:     e.repositoryInstallation(ctx, owner, name),
		SizeKB:            e.repositorySize(ctx, owner, name),
		SelfHostedRunners: e.repositoryRunners(ctx, owner, name),
	}
	e.toCache(ctx, key, derived)
	return derived
}

// EnrichOrganization collects the derived metrics for one organization.
func (e *Enricher) EnrichOrganization(ctx context.Context, login string) OrgDerived {
	key := cache.Key{Kind: cache.KindOrganization, Owner: login}
	var derived OrgDerived
	if e.fromCache(ctx, key, &derived) {
		return derived
	}

	derived = OrgDerived{
		Webhooks:            e.organizationWebhooks(ctx, login),
		InstalledApps:       e.organizationInstallations(ctx, login),
		Teams:               e.organizationTeams(ctx, login),
		SelfHostedRunners:   e.organizationRunners(ctx, login),
		GitHubHostedRunners: e.organizationHostedRunners(ctx, login),
	}
	e.toCache(ctx, key, derived)

	e.logger.Info().
		Str("org", login).
		Int("webhooks", derived.Webhooks).
		Int("github_apps", derived.InstalledApps).
		Int("teams", derived.Teams).
		Int("runners_self_hosted", derived.SelfHostedRunners).
		Int("runners_github_hosted", derived.GitHubHostedRunners).
		Msg("Organization enrichment complete")
	return derived
}

// fromCache loads a cached result into out, reporting whether it hit.
func (e *Enricher) fromCache(ctx context.Context, key cache.Key, out any) bool {
	entry, err := e.cache.Get(ctx, key)
	if err != nil {
		return false
	}
	if err := entry.Decode(out); err != nil {
		e.logger.Debug().Err(err).Str("key", key.String()).Msg("Discarding undecodable cache entry")
		return false
	}
	e.logger.Debug().Str("key", key.String()).Bool("cache_hit", true).Msg("Enrichment served from cache")
	return true
}

func (e *Enricher) toCache(ctx context.Context, key cache.Key, v any) {
	entry, err := cache.NewEntry(v, cache.DefaultTTL)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, key, entry); err != nil {
		e.logger.Debug().Err(err).Str("key", key.String()).Msg("Failed to cache enrichment result")
	}
}

// zero records a degraded metric and returns its zero value. Permanent
// denials are expected absences (Actions off, app not installed) and
// log quieter than real failures.
func (e *Enricher) zero(metric, entity string, err error) int {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Class == client.ErrorClassForbidden {
		e.logger.Debug().
			Str("metric", metric).
			Str("entity", entity).
			Int("status_code", apiErr.StatusCode).
			Msg("Metric unavailable, using zero")
		return 0
	}
	enrichmentFailuresTotal.WithLabelValues(metric).Inc()
	e.logger.Warn().
		Err(err).
		Str("metric", metric).
		Str("entity", entity).
		Msg("Metric degraded to zero")
	return 0
}

func (e *Enricher) repositoryWorkflows(ctx context.Context, owner, name string) int {
	var count int
	err := e.exec.REST(ctx, "repo_workflows", func(ctx context.Context, gh *github.Client) (*github.Response, error) {
		workflows, resp, err := gh.Actions.ListWorkflows(ctx, owner, name, nil)
		if err == nil {
			count = workflows.GetTotalCount()
		}
		return resp, err
	})
	if err != nil {
		return e.zero("workflows", owner+"/"+name, err)
	}
	return count
}

func (e *Enricher) repositoryWebhooks(ctx context.Context, owner, name string) int {
	var count int
	err := e.exec.REST(ctx, "repo_webhooks", func(ctx context.Context, gh *github.Client) (*github.Response, error) {
		hooks, resp, err := gh.Repositories.ListHooks(ctx, owner, name, listPage)
		if err == nil {
			count = len(hooks)
		}
		return resp, err
	})
	if err != nil {
		return e.zero("repo_webhooks", owner+"/"+name, err)
	}
	return count
}

// repositoryInstallation reports 1 when at least one GitHub App is
// installed on the repository. The endpoint answers 200 or 404, never
// a count.
func (e *Enricher) repositoryInstallation(ctx context.Context, owner, name string) int {
	err := e.exec.REST(ctx, "repo_installation", func(ctx context.Context, gh *github.Client) (*github.Response, error) {
		_, resp, err := gh.Apps.FindRepositoryInstallation(ctx, owner, name)
		return resp, err
	})
	if err != nil {
		return e.zero("repo_apps", owner+"/"+name, err)
	}
	return 1
}

// repositorySize reads size through REST; the GraphQL diskUsage field
// is less reliable.
func (e *Enricher) repositorySize(ctx context.Context, owner, name string) int {
	var sizeKB int
	err := e.exec.REST(ctx, "repo_size", func(ctx context.Context, gh *github.Client) (*github.Response, error) {
		repo, resp, err := gh.Repositories.Get(ctx, owner, name)
		if err == nil {
			sizeKB = repo.GetSize()
		}
		return resp, err
	})
	if err != nil {
		return e.zero("repo_size", owner+"/"+name, err)
	}
	return sizeKB
}

// repositoryRunners counts self-hosted runners only; GitHub-hosted
// runners exist at the organization level.
func (e *Enricher) repositoryRunners(ctx context.Context, owner, name string) int {
	var count int
	err := e.exec.REST(ctx, "repo_runners", func(ctx context.Context, gh *github.Client) (*github.Response, error) {
		runners, resp, err := gh.Actions.ListRunners(ctx, owner, name, listPage)
		if err == nil {
			count = runners.TotalCount
		}
		return resp, err
	})
	if err != nil {
		return e.zero("repo_runners", owner+"/"+name, err)
	}
	return count
}

func (e *Enricher) organizationWebhooks(ctx context.Context, login string) int {
	var count int
	err := e.exec.REST(ctx, "org_webhooks", func(ctx context.Context, gh *github.Client) (*github.Response, error) {
		hooks, resp, err := gh.Organizations.ListHooks(ctx, login, listPage)
		if err == nil {
			count = len(hooks)
		}
		return resp, err
	})
	if err != nil {
		return e.zero("org_webhooks", login, err)
	}
	return count
}

func (e *Enricher) organizationInstallations(ctx context.Context, login string) int {
	var count int
	err := e.exec.REST(ctx, "org_installations", func(ctx context.Context, gh *github.Client) (*github.Response, error) {
		installs, resp, err := gh.Organizations.ListInstallations(ctx, login, listPage)
		if err == nil {
			count = installs.GetTotalCount()
		}
		return resp, err
	})
	if err != nil {
		return e.zero("org_apps", login, err)
	}
	return count
}

func (e *Enricher) organizationTeams(ctx context.Context, login string) int {
	var count int
	err := e.exec.REST(ctx, "org_teams", func(ctx context.Context, gh *github.Client) (*github.Response, error) {
		teams, resp, err := gh.Teams.ListTeams(ctx, login, listPage)
		if err == nil {
			count = len(teams)
		}
		return resp, err
	})
	if err != nil {
		return e.zero("org_teams", login, err)
	}
	return count
}

// organizationRunners counts self-hosted runners. Listing them needs
// the admin:org scope; without it the call degrades to zero.
func (e *Enricher) organizationRunners(ctx context.Context, login string) int {
	var count int
	err := e.exec.REST(ctx, "org_runners", func(ctx context.Context, gh *github.Client) (*github.Response, error) {
		runners, resp, err := gh.Actions.ListOrganizationRunners(ctx, login, listPage)
		if err == nil {
			count = runners.TotalCount
		}
		return resp, err
	})
	if err != nil {
		return e.zero("org_runners_self_hosted", login, err)
	}
	return count
}

// organizationHostedRunners counts GitHub-hosted runners. The client
// library has no typed call for this endpoint, so the request is built
// by hand.
func (e *Enricher) organizationHostedRunners(ctx context.Context, login string) int {
	var count int
	err := e.exec.REST(ctx, "org_hosted_runners", func(ctx context.Context, gh *github.Client) (*github.Response, error) {
		u := fmt.Sprintf("orgs/%v/actions/hosted-runners?per_page=100", login)
		req, err := gh.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		var out struct {
			TotalCount int `json:"total_count"`
		}
		resp, err := gh.Do(ctx, req, &out)
		if err == nil {
			count = out.TotalCount
		}
		return resp, err
	})
	if err != nil {
		return e.zero("org_runners_github_hosted", login, err)
	}
	return count
}
