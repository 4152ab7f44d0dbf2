package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-github/v55/github"

	"github.com/scaleops-labs/ghe-inventory/pkg/tokenpool"
)

// scriptedResponse is one canned GraphQL reply.
type scriptedResponse struct {
	status int
	body   string
}

// recordedCall captures one non-probe GraphQL request.
type recordedCall struct {
	auth string
	body string
}

// graphqlScript serves a healthy rate-limit probe and a scripted
// sequence of responses for every other query, recording the
// credential and body of each call. When the script runs out the last
// response repeats.
type graphqlScript struct {
	mu        sync.Mutex
	responses []scriptedResponse
	calls     []recordedCall
}

func (s *graphqlScript) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "rateLimit") {
			fmt.Fprint(w, `{"data":{"rateLimit":{"limit":5000,"cost":1,"remaining":4999,"resetAt":"2030-01-01T00:00:00Z"}}}`)
			return
		}

		s.mu.Lock()
		s.calls = append(s.calls, recordedCall{
			auth: r.Header.Get("Authorization"),
			body: string(body),
		})
		resp := scriptedResponse{status: http.StatusOK, body: `{"data":{}}`}
		if len(s.responses) > 0 {
			resp = s.responses[0]
			if len(s.responses) > 1 {
				s.responses = s.responses[1:]
			}
		}
		s.mu.Unlock()

		w.WriteHeader(resp.status)
		fmt.Fprint(w, resp.body)
	}
}

func (s *graphqlScript) recorded() []recordedCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]recordedCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// newTestExecutor wires an executor and pool against test servers with
// a fast retry schedule.
func newTestExecutor(t *testing.T, graphqlURL, restURL string, tokens ...string) (*Executor, *tokenpool.Pool) {
	t.Helper()
	if len(tokens) == 0 {
		tokens = []string{"ghp_a"}
	}

	pool, err := tokenpool.New(tokens, graphqlURL)
	if err != nil {
		t.Fatalf("tokenpool.New() error = %v", err)
	}

	cfg := DefaultConfig()
	cfg.GraphQLURL = graphqlURL
	if restURL != "" {
		cfg.RESTBaseURL = restURL + "/"
	}
	cfg.Retry = fastRetryConfig()
	cfg.RequestsPerSecond = 0 // no pacing in tests

	exec, err := New(pool, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return exec, pool
}

func TestNew_Validation(t *testing.T) {
	pool, err := tokenpool.New([]string{"ghp_a"}, "http://unused.invalid/graphql")
	if err != nil {
		t.Fatalf("tokenpool.New() error = %v", err)
	}

	t.Run("nil_pool", func(t *testing.T) {
		if _, err := New(nil, DefaultConfig()); err == nil {
			t.Error("New() with nil pool should fail")
		}
	})

	t.Run("missing_graphql_url", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.GraphQLURL = ""
		if _, err := New(pool, cfg); err == nil {
			t.Error("New() without GraphQL URL should fail")
		}
	})

	t.Run("missing_rest_url", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RESTBaseURL = ""
		if _, err := New(pool, cfg); err == nil {
			t.Error("New() without REST base URL should fail")
		}
	})

	t.Run("defaults_filled_in", func(t *testing.T) {
		cfg := Config{
			GraphQLURL:  "http://example.invalid/graphql",
			RESTBaseURL: "http://example.invalid/api/v3",
		}
		exec, err := New(pool, cfg)
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if exec.config.UserAgent == "" {
			t.Error("Expected default user agent")
		}
		if exec.config.Timeout != 60*time.Second {
			t.Errorf("Timeout = %v, want 60s default", exec.config.Timeout)
		}
		if exec.config.Retry.MaxAttempts != 3 {
			t.Errorf("Retry.MaxAttempts = %d, want 3 default", exec.config.Retry.MaxAttempts)
		}
		if !strings.HasSuffix(exec.config.RESTBaseURL, "/") {
			t.Errorf("RESTBaseURL = %q, want trailing slash", exec.config.RESTBaseURL)
		}
	})
}

func TestHasData(t *testing.T) {
	tests := []struct {
		name string
		data string
		want bool
	}{
		{"empty", "", false},
		{"json_null", "null", false},
		{"empty_object", "{}", true},
		{"object", `{"viewer":{}}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasData([]byte(tt.data)); got != tt.want {
				t.Errorf("HasData(%q) = %v, want %v", tt.data, got, tt.want)
			}
		})
	}
}

func TestOnlyForbidden(t *testing.T) {
	tests := []struct {
		name string
		errs []GraphQLError
		want bool
	}{
		{"empty_list", nil, false},
		{"single_forbidden", []GraphQLError{{Type: "FORBIDDEN"}}, true},
		{"all_forbidden", []GraphQLError{{Type: "FORBIDDEN"}, {Type: "FORBIDDEN"}}, true},
		{"mixed", []GraphQLError{{Type: "FORBIDDEN"}, {Type: "INTERNAL"}}, false},
		{"none_forbidden", []GraphQLError{{Type: "NOT_FOUND"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := onlyForbidden(tt.errs); got != tt.want {
				t.Errorf("onlyForbidden() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExecute_Success(t *testing.T) {
	script := &graphqlScript{responses: []scriptedResponse{
		{http.StatusOK, `{"data":{"viewer":{"login":"octocat"}}}`},
	}}
	server := httptest.NewServer(script.handler())
	defer server.Close()

	exec, _ := newTestExecutor(t, server.URL, "")

	data, err := exec.Execute(context.Background(), "query { viewer { login } }", nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(string(data), "octocat") {
		t.Errorf("Execute() data = %s, want viewer payload", data)
	}
	if calls := script.recorded(); len(calls) != 1 {
		t.Errorf("Expected 1 call, got %d", len(calls))
	}
}

func TestExecute_PassesVariables(t *testing.T) {
	script := &graphqlScript{}
	server := httptest.NewServer(script.handler())
	defer server.Close()

	exec, _ := newTestExecutor(t, server.URL, "")

	_, err := exec.Execute(context.Background(),
		"query($enterprise: String!) { enterprise(slug: $enterprise) { name } }",
		map[string]any{"enterprise": "acme", "cursor": nil})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	calls := script.recorded()
	if len(calls) != 1 {
		t.Fatalf("Expected 1 call, got %d", len(calls))
	}
	if !strings.Contains(calls[0].body, `"enterprise":"acme"`) {
		t.Errorf("Request body missing enterprise variable: %s", calls[0].body)
	}
	if !strings.Contains(calls[0].body, `"cursor":null`) {
		t.Errorf("Request body missing null cursor variable: %s", calls[0].body)
	}
}

func TestExecute_ForbiddenOnlyReturnsImmediately(t *testing.T) {
	body := `{"data":{"enterprise":{"organizations":{"nodes":[]}}},` +
		`"errors":[{"type":"FORBIDDEN","message":"resource not accessible"},` +
		`{"type":"FORBIDDEN","message":"resource not accessible"}]}`
	script := &graphqlScript{responses: []scriptedResponse{{http.StatusOK, body}}}
	server := httptest.NewServer(script.handler())
	defer server.Close()

	exec, _ := newTestExecutor(t, server.URL, "")

	data, err := exec.Execute(context.Background(), "query { enterprise { organizations { nodes } } }", nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(string(data), "organizations") {
		t.Errorf("Execute() should return the partial payload, got %s", data)
	}
	// Permanent denials must not be retried
	if calls := script.recorded(); len(calls) != 1 {
		t.Errorf("Expected exactly 1 attempt for forbidden-only errors, got %d", len(calls))
	}
}

func TestExecute_MixedErrorsRetriedThenLastDataReturned(t *testing.T) {
	body := `{"data":{"enterprise":{"name":"Acme"}},` +
		`"errors":[{"type":"FORBIDDEN","message":"denied"},{"type":"INTERNAL","message":"boom"}]}`
	script := &graphqlScript{responses: []scriptedResponse{{http.StatusOK, body}}}
	server := httptest.NewServer(script.handler())
	defer server.Close()

	exec, _ := newTestExecutor(t, server.URL, "")

	data, err := exec.Execute(context.Background(), "query { enterprise { name } }", nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	// A mix of forbidden and other errors is transient: all attempts
	// are used, then the last received payload is returned.
	if calls := script.recorded(); len(calls) != 3 {
		t.Errorf("Expected 3 attempts for mixed errors, got %d", len(calls))
	}
	if !strings.Contains(string(data), "Acme") {
		t.Errorf("Execute() should return last received payload, got %s", data)
	}
}

func TestExecute_ServerErrorDegradesToEmpty(t *testing.T) {
	script := &graphqlScript{responses: []scriptedResponse{
		{http.StatusBadGateway, "upstream error"},
	}}
	server := httptest.NewServer(script.handler())
	defer server.Close()

	exec, _ := newTestExecutor(t, server.URL, "")

	data, err := exec.Execute(context.Background(), "query { viewer { login } }", nil)
	if err != nil {
		t.Fatalf("Execute() error = %v, want graceful degradation", err)
	}
	if HasData(data) {
		t.Errorf("Execute() data = %s, want empty result", data)
	}
	if calls := script.recorded(); len(calls) != 3 {
		t.Errorf("Expected 3 attempts, got %d", len(calls))
	}
}

func TestExecute_QuotaRotatesCredential(t *testing.T) {
	script := &graphqlScript{responses: []scriptedResponse{
		{http.StatusForbidden, `{"message":"API rate limit exceeded"}`},
		{http.StatusOK, `{"data":{"viewer":{"login":"octocat"}}}`},
	}}
	server := httptest.NewServer(script.handler())
	defer server.Close()

	exec, pool := newTestExecutor(t, server.URL, "", "ghp_a", "ghp_b")

	data, err := exec.Execute(context.Background(), "query { viewer { login } }", nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !HasData(data) {
		t.Error("Execute() should succeed after rotation")
	}

	calls := script.recorded()
	if len(calls) != 2 {
		t.Fatalf("Expected 2 attempts, got %d", len(calls))
	}
	if calls[0].auth != "Bearer ghp_a" {
		t.Errorf("First attempt used %q, want ghp_a", calls[0].auth)
	}
	if calls[1].auth != "Bearer ghp_b" {
		t.Errorf("Retry after rate limit used %q, want ghp_b", calls[1].auth)
	}
	// The cursor points one past the held credential, wrapping back to
	// ghp_a.
	if pool.Current() != "ghp_a" {
		t.Errorf("Current() = %q, want ghp_a", pool.Current())
	}
}

func TestExecute_NetworkErrorDegradesToEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // all calls fail at the transport level

	exec, _ := newTestExecutor(t, server.URL, "")

	data, err := exec.Execute(context.Background(), "query { viewer { login } }", nil)
	if err != nil {
		t.Fatalf("Execute() error = %v, want graceful degradation", err)
	}
	if HasData(data) {
		t.Errorf("Execute() data = %s, want empty result", data)
	}
}

func TestExecute_PacingSpacesAttempts(t *testing.T) {
	script := &graphqlScript{responses: []scriptedResponse{
		{http.StatusOK, `{"data":{"viewer":{"login":"octocat"}}}`},
	}}
	server := httptest.NewServer(script.handler())
	defer server.Close()

	pool, err := tokenpool.New([]string{"ghp_a"}, server.URL)
	if err != nil {
		t.Fatalf("tokenpool.New() error = %v", err)
	}
	cfg := DefaultConfig()
	cfg.GraphQLURL = server.URL
	cfg.Retry = fastRetryConfig()
	cfg.RequestsPerSecond = 100

	exec, err := New(pool, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := exec.Execute(context.Background(), "query { viewer { login } }", nil); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
	}
	// Three paced attempts at 100/s leave at least two 10ms gaps
	if elapsed := time.Since(start); elapsed < 18*time.Millisecond {
		t.Errorf("Elapsed = %v, expected pacing between attempts", elapsed)
	}
}

func TestExecute_ContextCancelledPropagates(t *testing.T) {
	script := &graphqlScript{responses: []scriptedResponse{
		{http.StatusBadGateway, "upstream error"},
	}}
	server := httptest.NewServer(script.handler())
	defer server.Close()

	exec, _ := newTestExecutor(t, server.URL, "")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := exec.Execute(ctx, "query { viewer { login } }", nil)
	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Execute() error = %v, want ErrContextCancelled", err)
	}
}

func TestREST_Success(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/web", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Remaining", "4321")
		w.Header().Set("X-RateLimit-Reset", "4102444800")
		fmt.Fprint(w, `{"id":1,"name":"web","size":2048}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	exec, pool := newTestExecutor(t, "http://unused.invalid/graphql", server.URL)

	var size int
	err := exec.REST(context.Background(), "repo_size", func(ctx context.Context, gh *github.Client) (*github.Response, error) {
		repo, resp, err := gh.Repositories.Get(ctx, "acme", "web")
		if err == nil {
			size = repo.GetSize()
		}
		return resp, err
	})
	if err != nil {
		t.Fatalf("REST() error = %v", err)
	}
	if size != 2048 {
		t.Errorf("size = %d, want 2048", size)
	}

	// Rate headers feed the pool's snapshot
	snap, ok := pool.LastSnapshot("ghp_a")
	if !ok {
		t.Fatal("Expected a snapshot recorded from REST rate headers")
	}
	if snap.Remaining != 4321 {
		t.Errorf("snapshot Remaining = %d, want 4321", snap.Remaining)
	}
}

func TestREST_NotFoundIsPermanent(t *testing.T) {
	// A 404 means Actions is off or the resource is hidden; it must
	// burn exactly one attempt so enrichment degrades quickly.
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/gone/actions/workflows", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	exec, _ := newTestExecutor(t, "http://unused.invalid/graphql", server.URL)

	err := exec.REST(context.Background(), "repo_workflows", func(ctx context.Context, gh *github.Client) (*github.Response, error) {
		_, resp, err := gh.Actions.ListWorkflows(ctx, "acme", "gone", nil)
		return resp, err
	})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Class != ErrorClassForbidden {
		t.Errorf("REST() error = %v, want forbidden-class APIError", err)
	}
	if hits.Load() != 1 {
		t.Errorf("Expected 1 attempt, got %d", hits.Load())
	}
}

func TestREST_ServerErrorExhaustsRetries(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/flaky/actions/workflows", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"message":"boom"}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	exec, _ := newTestExecutor(t, "http://unused.invalid/graphql", server.URL)

	err := exec.REST(context.Background(), "repo_workflows", func(ctx context.Context, gh *github.Client) (*github.Response, error) {
		_, resp, err := gh.Actions.ListWorkflows(ctx, "acme", "flaky", nil)
		return resp, err
	})
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("REST() error = %v, want ErrRetryExhausted", err)
	}
	if hits.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", hits.Load())
	}
}

func TestREST_QuotaRotatesCredential(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	mux := http.NewServeMux()
	mux.HandleFunc("/orgs/acme/teams", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auth := r.Header.Get("Authorization")
		seen = append(seen, auth)
		mu.Unlock()

		if auth == "Bearer ghp_a" {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"message":"API rate limit exceeded"}`)
			return
		}
		fmt.Fprint(w, `[{"id":1,"slug":"platform"}]`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	exec, pool := newTestExecutor(t, "http://unused.invalid/graphql", server.URL, "ghp_a", "ghp_b")

	var teams int
	err := exec.REST(context.Background(), "org_teams", func(ctx context.Context, gh *github.Client) (*github.Response, error) {
		list, resp, err := gh.Teams.ListTeams(ctx, "acme", nil)
		if err == nil {
			teams = len(list)
		}
		return resp, err
	})
	if err != nil {
		t.Fatalf("REST() error = %v", err)
	}
	if teams != 1 {
		t.Errorf("teams = %d, want 1", teams)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != "Bearer ghp_a" || seen[1] != "Bearer ghp_b" {
		t.Errorf("credential sequence = %v, want [Bearer ghp_a, Bearer ghp_b]", seen)
	}
	if pool.Current() != "ghp_a" {
		t.Errorf("Current() = %q, want cursor one past held ghp_b", pool.Current())
	}
}

func TestClassifyREST(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    error
		want   ErrorClass
	}{
		{
			name:   "rate_limit_error",
			status: 403,
			err:    &github.RateLimitError{},
			want:   ErrorClassQuota,
		},
		{
			name:   "abuse_rate_limit_error",
			status: 429,
			err:    &github.AbuseRateLimitError{},
			want:   ErrorClassQuota,
		},
		{
			name:   "error_response_403",
			status: 403,
			err:    &github.ErrorResponse{Response: &http.Response{StatusCode: http.StatusForbidden}},
			want:   ErrorClassQuota,
		},
		{
			name:   "error_response_404",
			status: 404,
			err:    &github.ErrorResponse{Response: &http.Response{StatusCode: http.StatusNotFound}},
			want:   ErrorClassForbidden,
		},
		{
			name:   "error_response_422",
			status: 422,
			err:    &github.ErrorResponse{Response: &http.Response{StatusCode: http.StatusUnprocessableEntity}},
			want:   ErrorClassForbidden,
		},
		{
			name:   "error_response_500",
			status: 500,
			err:    &github.ErrorResponse{Response: &http.Response{StatusCode: http.StatusInternalServerError}},
			want:   ErrorClassTransient,
		},
		{
			name:   "transport_error",
			status: 0,
			err:    errors.New("connection refused"),
			want:   ErrorClassNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyREST(tt.status, tt.err)
			if got.Class != tt.want {
				t.Errorf("classifyREST() class = %s, want %s", got.Class, tt.want)
			}
		})
	}
}
