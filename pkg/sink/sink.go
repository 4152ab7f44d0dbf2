// Package sink persists inventory records. Every sink writes the same
// two tables: one repository row per record and one organization row
// per summary, appended as they arrive so an interrupted crawl leaves
// the rows collected so far intact.
package sink

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/scaleops-labs/ghe-inventory/pkg/inventory"
)

// Sink extends the collector's sink with a Close for flushing and
// releasing the underlying file or connection.
type Sink interface {
	inventory.Sink
	Close() error
}

// repositoryColumns is the repository table layout. CSV uses the names
// verbatim as headers; the SQL sinks lowercase them into column names.
var repositoryColumns = []string{
	"Organization",
	"Repository",
	"Description",
	"URL",
	"Is_Private",
	"Is_Internal",
	"Is_Public",
	"Is_Fork",
	"Is_Archived",
	"Created_At",
	"Updated_At",
	"Pushed_At",
	"Size_KB",
	"Default_Branch",
	"Forks",
	"Open_Issues",
	"Pull_Requests",
	"Releases",
	"Branches",
	"Tags",
	"Workflows",
	"Repo_Webhooks",
	"Repo_Runners",
	"GitHub_Apps",
}

// organizationColumns is the organization table layout.
var organizationColumns = []string{
	"Organization",
	"Description",
	"URL",
	"Created_At",
	"Total_Repositories",
	"Private_Repositories",
	"Public_Repositories",
	"Internal_Repositories",
	"Archived_Repositories",
	"Fork_Repositories",
	"Org_Webhooks",
	"Org_GitHub_Apps",
	"Org_Teams",
	"Org_Runners_SelfHosted",
	"Org_Runners_GitHubHosted",
}

// repositoryValues renders one record in repositoryColumns order.
func repositoryValues(rec *inventory.InventoryRecord) []any {
	repo := &rec.Repository
	return []any{
		rec.Organization,
		repo.Name,
		repo.Description,
		repo.URL,
		repo.Visibility.IsPrivate(),
		repo.Visibility.IsInternal(),
		repo.Visibility.IsPublic(),
		repo.IsFork,
		repo.IsArchived,
		nullableTime(repo.CreatedAt),
		nullableTime(repo.UpdatedAt),
		nullableTime(repo.PushedAt),
		rec.Derived.SizeKB,
		repo.DefaultBranch(),
		repo.ForkCount,
		repo.Issues.TotalCount,
		repo.PullRequests.TotalCount,
		repo.Releases.TotalCount,
		repo.Branches.TotalCount,
		repo.Tags.TotalCount,
		rec.Derived.Workflows,
		rec.Derived.Webhooks,
		rec.Derived.SelfHostedRunners,
		rec.Derived.InstalledApps,
	}
}

// organizationValues renders one summary in organizationColumns order.
func organizationValues(s *inventory.OrgSummary) []any {
	return []any{
		s.Organization.Login,
		s.Organization.Description,
		s.Organization.URL,
		nullableTime(s.Organization.CreatedAt),
		s.TotalRepos,
		s.PrivateRepos,
		s.PublicRepos,
		s.InternalRepos,
		s.ArchivedRepos,
		s.ForkRepos,
		s.Derived.Webhooks,
		s.Derived.InstalledApps,
		s.Derived.Teams,
		s.Derived.SelfHostedRunners,
		s.Derived.GitHubHostedRunners,
	}
}

// nullableTime maps the zero time to nil so SQL sinks store NULL and
// CSV writes an empty field.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// csvField renders one value as a CSV cell.
func csvField(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

// columnList renders a column slice as a lowercase SQL column list, so
// the SQL sinks stay aligned with the CSV headers by construction.
func columnList(columns []string) string {
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = strings.ToLower(c)
	}
	return strings.Join(cols, ", ")
}

// placeholders renders n question-mark parameters.
func placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "?"
	}
	return strings.Join(parts, ", ")
}

// dollarPlaceholders renders $1..$n parameters for Postgres.
func dollarPlaceholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "$" + strconv.Itoa(i+1)
	}
	return strings.Join(parts, ", ")
}

// upsertSet renders the DO UPDATE SET list for every column except the
// conflict keys.
func upsertSet(columns []string, keys ...string) string {
	skip := make(map[string]bool, len(keys))
	for _, k := range keys {
		skip[k] = true
	}
	var parts []string
	for _, c := range columns {
		col := strings.ToLower(c)
		if skip[col] {
			continue
		}
		parts = append(parts, col+" = EXCLUDED."+col)
	}
	return strings.Join(parts, ", ")
}
