// Package testutil provides testing utilities for the inventory
// collector.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// MockGitHub is a configurable fake GitHub API server covering the two
// surfaces the collector talks to: the GraphQL endpoint at /graphql and
// the REST endpoints used for enrichment. GraphQL queries are
// dispatched on their shape: rate-limit probes always answer healthy,
// organization pages are served in the order they were scripted, and
// repository pages are served per organization login.
type MockGitHub struct {
	server *httptest.Server

	mu            sync.RWMutex
	restHandlers  map[string]http.HandlerFunc
	orgPages      []string
	orgServed     int
	repoPages     map[string][]string
	repoServed    map[string]int
	repoErrors    map[string]string
	rateRemaining int

	// Tracking
	RequestCount int
	pathCounts   map[string]int
}

// NewMockGitHub creates a mock server. Unconfigured REST paths answer
// 404 so enrichment degrades to zero by default; unconfigured
// repository listings answer an empty connection.
func NewMockGitHub() *MockGitHub {
	mock := &MockGitHub{
		restHandlers:  make(map[string]http.HandlerFunc),
		repoPages:     make(map[string][]string),
		repoServed:    make(map[string]int),
		repoErrors:    make(map[string]string),
		rateRemaining: 4999,
		pathCounts:    make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.pathCounts[r.URL.Path]++
		mock.mu.Unlock()

		if r.URL.Path == "/graphql" {
			mock.handleGraphQL(w, r)
			return
		}

		mock.mu.RLock()
		handler, exists := mock.restHandlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	}))

	return mock
}

// URL returns the mock server base URL.
func (m *MockGitHub) URL() string {
	return m.server.URL
}

// GraphQLURL returns the mock GraphQL endpoint.
func (m *MockGitHub) GraphQLURL() string {
	return m.server.URL + "/graphql"
}

// Close shuts down the mock server.
func (m *MockGitHub) Close() {
	m.server.Close()
}

// Requests returns how many calls hit the given path.
func (m *MockGitHub) Requests(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathCounts[path]
}

// SetRateRemaining changes what the rate-limit probe reports.
func (m *MockGitHub) SetRateRemaining(remaining int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateRemaining = remaining
}

// ScriptOrganizationPages sets the organization connection pages, each
// a full GraphQL response body, served in order. The last page repeats
// if more are requested.
func (m *MockGitHub) ScriptOrganizationPages(pages ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orgPages = pages
	m.orgServed = 0
}

// ScriptRepositoryPages sets the repository connection pages served for
// one organization login.
func (m *MockGitHub) ScriptRepositoryPages(login string, pages ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repoPages[login] = pages
	m.repoServed[login] = 0
}

// FailRepositories makes every repository query for the login answer
// with the given full GraphQL response body, e.g. a FORBIDDEN error
// envelope.
func (m *MockGitHub) FailRepositories(login, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repoErrors[login] = body
}

// SetRESTHandler installs a custom handler for an exact REST path.
func (m *MockGitHub) SetRESTHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restHandlers[path] = handler
}

// SetRESTResponse installs a fixed status and body for an exact REST path.
func (m *MockGitHub) SetRESTResponse(path string, status int, body string) {
	m.SetRESTHandler(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Remaining", "4900")
		w.Header().Set("X-RateLimit-Reset", "4102444800")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	})
}

// SetRepoEnrichment wires all five per-repository enrichment endpoints
// with fixed counts. An apps value of zero leaves the installation
// endpoint unconfigured (404).
func (m *MockGitHub) SetRepoEnrichment(owner, name string, workflows, webhooks, apps, sizeKB, runners int) {
	base := fmt.Sprintf("/repos/%s/%s", owner, name)
	m.SetRESTResponse(base+"/actions/workflows",
		http.StatusOK, fmt.Sprintf(`{"total_count":%d,"workflows":[]}`, workflows))
	m.SetRESTResponse(base+"/hooks", http.StatusOK, jsonArray(webhooks))
	if apps > 0 {
		m.SetRESTResponse(base+"/installation", http.StatusOK, `{"id":1,"app_id":7}`)
	}
	m.SetRESTResponse(base,
		http.StatusOK, fmt.Sprintf(`{"id":1,"name":%q,"size":%d}`, name, sizeKB))
	m.SetRESTResponse(base+"/actions/runners",
		http.StatusOK, fmt.Sprintf(`{"total_count":%d,"runners":[]}`, runners))
}

// SetOrgEnrichment wires all five per-organization enrichment
// endpoints with fixed counts.
func (m *MockGitHub) SetOrgEnrichment(login string, webhooks, apps, teams, selfHosted, githubHosted int) {
	base := "/orgs/" + login
	m.SetRESTResponse(base+"/hooks", http.StatusOK, jsonArray(webhooks))
	m.SetRESTResponse(base+"/installations",
		http.StatusOK, fmt.Sprintf(`{"total_count":%d,"installations":[]}`, apps))
	m.SetRESTResponse(base+"/teams", http.StatusOK, jsonArray(teams))
	m.SetRESTResponse(base+"/actions/runners",
		http.StatusOK, fmt.Sprintf(`{"total_count":%d,"runners":[]}`, selfHosted))
	m.SetRESTResponse(base+"/actions/hosted-runners",
		http.StatusOK, fmt.Sprintf(`{"total_count":%d,"runners":[]}`, githubHosted))
}

// handleGraphQL dispatches a GraphQL request on its query shape.
func (m *MockGitHub) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables"`
	}
	_ = json.Unmarshal(body, &req)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	switch {
	case strings.Contains(req.Query, "rateLimit"):
		m.mu.RLock()
		remaining := m.rateRemaining
		m.mu.RUnlock()
		fmt.Fprintf(w, `{"data":{"rateLimit":{"limit":5000,"cost":1,"remaining":%d,"resetAt":"2030-01-01T00:00:00Z"}}}`, remaining)

	case strings.Contains(req.Query, "organizations("):
		m.mu.Lock()
		page := `{"data":{"enterprise":{"organizations":{"pageInfo":{"hasNextPage":false,"endCursor":""},"nodes":[]}}}}`
		if len(m.orgPages) > 0 {
			i := m.orgServed
			if i >= len(m.orgPages) {
				i = len(m.orgPages) - 1
			}
			page = m.orgPages[i]
			m.orgServed++
		}
		m.mu.Unlock()
		fmt.Fprint(w, page)

	case strings.Contains(req.Query, "repositories("):
		login, _ := req.Variables["org"].(string)
		m.mu.Lock()
		if body, ok := m.repoErrors[login]; ok {
			m.mu.Unlock()
			fmt.Fprint(w, body)
			return
		}
		page := `{"data":{"organization":{"repositories":{"pageInfo":{"hasNextPage":false,"endCursor":""},"nodes":[]}}}}`
		if pages := m.repoPages[login]; len(pages) > 0 {
			i := m.repoServed[login]
			if i >= len(pages) {
				i = len(pages) - 1
			}
			page = pages[i]
			m.repoServed[login]++
		}
		m.mu.Unlock()
		fmt.Fprint(w, page)

	default:
		fmt.Fprint(w, `{"data":{}}`)
	}
}

// jsonArray renders an array of n stub objects, the shape webhook and
// team list endpoints return.
func jsonArray(n int) string {
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf(`{"id":%d}`, i+1)
	}
	return "[" + strings.Join(items, ",") + "]"
}

// MockRepo describes one repository node for a scripted page.
type MockRepo struct {
	Name         string
	Visibility   string // defaults to PUBLIC
	IsFork       bool
	IsArchived   bool
	Forks        int
	Issues       int
	PullRequests int
	Releases     int
	Branches     int
	Tags         int
}

// OrganizationsPage builds one full GraphQL response body carrying an
// organization connection page.
func OrganizationsPage(hasNext bool, endCursor string, logins ...string) string {
	nodes := make([]map[string]any, 0, len(logins))
	for _, login := range logins {
		nodes = append(nodes, map[string]any{
			"login":       login,
			"name":        strings.ToUpper(login[:1]) + login[1:],
			"description": "",
			"createdAt":   "2019-01-01T00:00:00Z",
			"url":         "https://github.example.com/" + login,
		})
	}
	return connectionPage("enterprise", "organizations", hasNext, endCursor, nodes)
}

// RepositoriesPage builds one full GraphQL response body carrying a
// repository connection page owned by the given login.
func RepositoriesPage(owner string, hasNext bool, endCursor string, repos ...MockRepo) string {
	nodes := make([]map[string]any, 0, len(repos))
	for _, repo := range repos {
		visibility := repo.Visibility
		if visibility == "" {
			visibility = "PUBLIC"
		}
		nodes = append(nodes, map[string]any{
			"name":             repo.Name,
			"nameWithOwner":    owner + "/" + repo.Name,
			"description":      "",
			"url":              "https://github.example.com/" + owner + "/" + repo.Name,
			"visibility":       visibility,
			"isPrivate":        visibility == "PRIVATE",
			"isFork":           repo.IsFork,
			"isArchived":       repo.IsArchived,
			"createdAt":        "2020-01-01T00:00:00Z",
			"updatedAt":        "2024-06-01T00:00:00Z",
			"pushedAt":         "2024-06-01T00:00:00Z",
			"defaultBranchRef": map[string]any{"name": "main"},
			"forkCount":        repo.Forks,
			"issues":           map[string]any{"totalCount": repo.Issues},
			"pullRequests":     map[string]any{"totalCount": repo.PullRequests},
			"releases":         map[string]any{"totalCount": repo.Releases},
			"branches":         map[string]any{"totalCount": repo.Branches},
			"tags":             map[string]any{"totalCount": repo.Tags},
		})
	}
	return connectionPage("organization", "repositories", hasNext, endCursor, nodes)
}

// ForbiddenBody builds a GraphQL response denying the whole query with
// FORBIDDEN errors and a null data node.
func ForbiddenBody(node, message string) string {
	return fmt.Sprintf(`{"data":{%q:null},"errors":[{"type":"FORBIDDEN","message":%q}]}`, node, message)
}

func connectionPage(root, connection string, hasNext bool, endCursor string, nodes []map[string]any) string {
	page := map[string]any{
		"data": map[string]any{
			root: map[string]any{
				connection: map[string]any{
					"pageInfo": map[string]any{"hasNextPage": hasNext, "endCursor": endCursor},
					"nodes":    nodes,
				},
			},
		},
	}
	b, err := json.Marshal(page)
	if err != nil {
		panic(err)
	}
	return string(b)
}
