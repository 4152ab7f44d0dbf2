package inventory

import (
	"context"
	"strings"
	"time"
)

// Visibility classifies who can see a repository.
type Visibility string

const (
	VisibilityPrivate  Visibility = "PRIVATE"
	VisibilityInternal Visibility = "INTERNAL"
	VisibilityPublic   Visibility = "PUBLIC"
)

// normalized treats a missing visibility as PRIVATE, the safest
// assumption for an enterprise crawl.
func (v Visibility) normalized() Visibility {
	if v == "" {
		return VisibilityPrivate
	}
	return v
}

// IsPrivate reports whether the repository is private. Unknown
// visibility counts as private.
func (v Visibility) IsPrivate() bool { return v.normalized() == VisibilityPrivate }

// IsInternal reports whether the repository is internal to the enterprise.
func (v Visibility) IsInternal() bool { return v.normalized() == VisibilityInternal }

// IsPublic reports whether the repository is public.
func (v Visibility) IsPublic() bool { return v.normalized() == VisibilityPublic }

// Count is the totalCount envelope GraphQL nests under counted
// connections.
type Count struct {
	TotalCount int `json:"totalCount"`
}

// Ref is a named git reference, as returned for defaultBranchRef.
type Ref struct {
	Name string `json:"name"`
}

// OrganizationNode is one organization as listed by the enterprise
// organizations query.
type OrganizationNode struct {
	Login       string    `json:"login"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	URL         string    `json:"url"`
}

// RepositoryNode is one repository as listed by the organization
// repositories query. Field shapes mirror the GraphQL selection so
// pages decode directly.
type RepositoryNode struct {
	Name             string     `json:"name"`
	NameWithOwner    string     `json:"nameWithOwner"`
	Description      string     `json:"description"`
	URL              string     `json:"url"`
	Visibility       Visibility `json:"visibility"`
	IsPrivate        bool       `json:"isPrivate"`
	IsFork           bool       `json:"isFork"`
	IsArchived       bool       `json:"isArchived"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	PushedAt         time.Time  `json:"pushedAt"`
	DefaultBranchRef *Ref       `json:"defaultBranchRef"`
	ForkCount        int        `json:"forkCount"`
	Issues           Count      `json:"issues"`
	PullRequests     Count      `json:"pullRequests"`
	Releases         Count      `json:"releases"`
	Branches         Count      `json:"branches"`
	Tags             Count      `json:"tags"`
}

// OwnerAndName splits the fully qualified name into its owner and
// repository parts, falling back to the given owner when the response
// did not carry a usable nameWithOwner.
func (r *RepositoryNode) OwnerAndName(fallbackOwner string) (owner, name string) {
	if i := strings.IndexByte(r.NameWithOwner, '/'); i > 0 && i < len(r.NameWithOwner)-1 {
		return r.NameWithOwner[:i], r.NameWithOwner[i+1:]
	}
	return fallbackOwner, r.Name
}

// DefaultBranch returns the default branch name, or "" when the
// repository has none (empty repositories).
func (r *RepositoryNode) DefaultBranch() string {
	if r.DefaultBranchRef == nil {
		return ""
	}
	return r.DefaultBranchRef.Name
}

// DerivedMetrics are the per-repository counts collected through
// secondary REST calls. Each metric degrades to zero independently.
// JSON tags fix the cache wire format.
type DerivedMetrics struct {
	Workflows         int `json:"workflows"`
	Webhooks          int `json:"webhooks"`
	InstalledApps     int `json:"installed_apps"`
	SizeKB            int `json:"size_kb"`
	SelfHostedRunners int `json:"self_hosted_runners"`
}

// OrgDerived are the per-organization counts collected through
// secondary REST calls. Self-hosted and GitHub-hosted runners come from
// distinct endpoints and stay separate.
type OrgDerived struct {
	Webhooks            int `json:"webhooks"`
	InstalledApps       int `json:"installed_apps"`
	Teams               int `json:"teams"`
	SelfHostedRunners   int `json:"self_hosted_runners"`
	GitHubHostedRunners int `json:"github_hosted_runners"`
}

// InventoryRecord is one finished per-repository row: the listed node,
// its derived metrics and the owning organization.
type InventoryRecord struct {
	Organization string
	Repository   RepositoryNode
	Derived      DerivedMetrics
}

// OrgSummary is one finished per-organization row. The repository
// counters are accumulated record by record so they always equal the
// sum of the flags across the records emitted for the organization.
type OrgSummary struct {
	Organization OrganizationNode
	Derived      OrgDerived

	TotalRepos    int
	PrivateRepos  int
	PublicRepos   int
	InternalRepos int
	ArchivedRepos int
	ForkRepos     int
}

// NewOrgSummary starts a summary for an organization with its derived
// metrics and zeroed repository counters.
func NewOrgSummary(org OrganizationNode, derived OrgDerived) *OrgSummary {
	return &OrgSummary{Organization: org, Derived: derived}
}

// CountRepository folds one emitted record into the summary counters.
func (s *OrgSummary) CountRepository(rec *InventoryRecord) {
	s.TotalRepos++
	switch rec.Repository.Visibility.normalized() {
	case VisibilityPrivate:
		s.PrivateRepos++
	case VisibilityInternal:
		s.InternalRepos++
	case VisibilityPublic:
		s.PublicRepos++
	}
	if rec.Repository.IsArchived {
		s.ArchivedRepos++
	}
	if rec.Repository.IsFork {
		s.ForkRepos++
	}
}

// RunStats accumulates run-wide totals for the final summary.
type RunStats struct {
	Organizations        int
	OrganizationsSkipped int

	Repositories  int
	PrivateRepos  int
	InternalRepos int
	PublicRepos   int
	ArchivedRepos int

	Branches     int
	Workflows    int
	Webhooks     int
	GitHubApps   int
	PullRequests int
	OpenIssues   int
}

// CountRecord folds one emitted record into the run totals.
func (s *RunStats) CountRecord(rec *InventoryRecord) {
	s.Repositories++
	switch rec.Repository.Visibility.normalized() {
	case VisibilityPrivate:
		s.PrivateRepos++
	case VisibilityInternal:
		s.InternalRepos++
	case VisibilityPublic:
		s.PublicRepos++
	}
	if rec.Repository.IsArchived {
		s.ArchivedRepos++
	}
	s.Branches += rec.Repository.Branches.TotalCount
	s.Workflows += rec.Derived.Workflows
	s.Webhooks += rec.Derived.Webhooks
	s.GitHubApps += rec.Derived.InstalledApps
	s.PullRequests += rec.Repository.PullRequests.TotalCount
	s.OpenIssues += rec.Repository.Issues.TotalCount
}

// Sink receives finished records. Each append must be durable, or
// clearly failed, before it returns; the collector treats it as atomic.
type Sink interface {
	AppendRepository(ctx context.Context, rec *InventoryRecord) error
	AppendOrganization(ctx context.Context, sum *OrgSummary) error
}
