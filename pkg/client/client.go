// Package client implements the rate-limit-aware request executor for
// GitHub GraphQL and REST calls. One logical call may issue several
// HTTP attempts under a bounded retry policy: permanent access denials
// return immediately with partial data, quota exhaustion rotates the
// credential and waits a fixed cool-down, and everything else backs off
// exponentially. A call that exhausts its attempts degrades to an empty
// result instead of failing the crawl.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v55/github"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/scaleops-labs/ghe-inventory/pkg/logging"
	"github.com/scaleops-labs/ghe-inventory/pkg/tokenpool"
)

// Prometheus metrics for API requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghinv_requests_total",
		Help: "Total API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ghinv_request_duration_seconds",
		Help:    "API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	requestErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghinv_request_errors_total",
		Help: "Total failed API attempts by endpoint and error class",
	}, []string{"endpoint", "error_class"})

	forbiddenNodesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghinv_forbidden_nodes_total",
		Help: "Total GraphQL error entries of the FORBIDDEN type",
	})
)

// ErrorClass represents the classification of a failed attempt.
type ErrorClass string

const (
	// ErrorClassForbidden is a permanent denial: GraphQL FORBIDDEN
	// errors, or REST 4xx responses other than the quota statuses.
	ErrorClassForbidden ErrorClass = "forbidden"

	// ErrorClassQuota is rate-limit exhaustion (HTTP 403 or 429).
	ErrorClassQuota ErrorClass = "quota"

	// ErrorClassTransient is any other non-200 response, or a 200
	// response carrying retryable GraphQL errors.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassNetwork is a transport failure before a response arrived.
	ErrorClassNetwork ErrorClass = "network"
)

// GraphQLError is one entry in a GraphQL response's errors list.
type GraphQLError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// GraphQLResponse is the raw envelope of a GraphQL call. Data stays raw
// so callers can decode into query-specific shapes.
type GraphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors,omitempty"`
}

// HasData reports whether a raw payload carries a usable (non-null) object.
func HasData(data json.RawMessage) bool {
	return len(data) > 0 && string(data) != "null"
}

// onlyForbidden reports whether every error entry is a permanent access
// denial. An empty list does not count as forbidden.
func onlyForbidden(errs []GraphQLError) bool {
	if len(errs) == 0 {
		return false
	}
	for _, e := range errs {
		if e.Type != "FORBIDDEN" {
			return false
		}
	}
	return true
}

// summarizeErrors renders a compact error list for logs.
func summarizeErrors(errs []GraphQLError) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		if e.Type != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", e.Type, e.Message))
		} else {
			parts = append(parts, e.Message)
		}
	}
	return strings.Join(parts, "; ")
}

// Config holds executor configuration.
type Config struct {
	// GraphQLURL is the GraphQL endpoint.
	GraphQLURL string

	// RESTBaseURL is the REST base URL. Must end with a slash.
	RESTBaseURL string

	// UserAgent is sent with every request.
	UserAgent string

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration

	// Retry bounds the per-call retry loop.
	Retry RetryConfig

	// RequestsPerSecond paces all outgoing attempts, GraphQL and REST
	// alike, so bursts never trip the secondary rate limits the
	// rotation logic cannot see coming. Zero disables pacing.
	RequestsPerSecond float64
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		GraphQLURL:        "https://api.github.com/graphql",
		RESTBaseURL:       "https://api.github.com/",
		UserAgent:         "ghe-inventory/1.0",
		Timeout:           60 * time.Second,
		Retry:             DefaultRetryConfig(),
		RequestsPerSecond: 2,
	}
}

// Executor performs logical API calls against a credential pool.
type Executor struct {
	pool       *tokenpool.Pool
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger

	// limiter paces attempts proactively; nil when pacing is disabled.
	limiter *rate.Limiter

	// token is the working credential, acquired from the pool at
	// construction and replaced on every rotation. The pool cursor
	// always points one past it, so a rotation hands back a different
	// credential whenever the pool has more than one.
	tokenMu sync.Mutex
	token   string

	// REST clients are constructed lazily, one per credential, because
	// the auth transport is baked into each client.
	restMu      sync.Mutex
	restClients map[string]*github.Client
	restBaseURL *url.URL
}

// New creates a request executor backed by the given credential pool.
func New(pool *tokenpool.Pool, cfg Config) (*Executor, error) {
	if pool == nil {
		return nil, fmt.Errorf("credential pool is required")
	}
	if cfg.GraphQLURL == "" {
		return nil, fmt.Errorf("GraphQL URL is required")
	}
	if cfg.RESTBaseURL == "" {
		return nil, fmt.Errorf("REST base URL is required")
	}
	if !strings.HasSuffix(cfg.RESTBaseURL, "/") {
		cfg.RESTBaseURL += "/"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultConfig().UserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	baseURL, err := url.Parse(cfg.RESTBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse REST base URL: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Executor{
		pool:        pool,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		config:      cfg,
		logger:      logging.NewLogger("client"),
		limiter:     limiter,
		token:       pool.Advance(),
		restClients: make(map[string]*github.Client),
		restBaseURL: baseURL,
	}, nil
}

// heldToken returns the working credential shared by GraphQL and REST
// calls.
func (e *Executor) heldToken() string {
	e.tokenMu.Lock()
	defer e.tokenMu.Unlock()
	return e.token
}

func (e *Executor) setToken(token string) {
	e.tokenMu.Lock()
	e.token = token
	e.tokenMu.Unlock()
}

// rotateToken swaps the working credential for the pool's next one.
func (e *Executor) rotateToken() string {
	token := e.pool.Advance()
	e.setToken(token)
	return token
}

// waitTurn blocks until the proactive limiter grants an attempt. The
// only error is context cancellation.
func (e *Executor) waitTurn(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	return e.limiter.Wait(ctx)
}

// Execute performs one logical GraphQL call and returns the raw data
// payload. The payload may be present even when some nodes were denied
// with FORBIDDEN (partial success). A nil payload with a nil error
// means the call degraded to an empty result after exhausting retries;
// only context cancellation is surfaced as an error.
func (e *Executor) Execute(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	// Select the credential once per logical call. When the working
	// credential is low on quota, EnsureHeadroom hands back the pool's
	// next one and this call already uses the replacement.
	token := e.pool.EnsureHeadroom(ctx, e.heldToken())
	e.setToken(token)

	var lastData json.RawMessage

	err := retryWithBackoff(ctx, e.config.Retry, func(attempt int) *APIError {
		resp, status, err := e.postGraphQL(ctx, token, query, variables)
		if err != nil {
			requestErrorsTotal.WithLabelValues("graphql", string(ErrorClassNetwork)).Inc()
			return &APIError{Class: ErrorClassNetwork, Message: "graphql request failed", Err: err}
		}

		switch {
		case status == http.StatusOK:
			if len(resp.Errors) > 0 {
				if onlyForbidden(resp.Errors) {
					// Some nodes are permanently invisible to this
					// credential; the rest of the payload is usable.
					// Warn only on the first attempt of a logical call.
					if attempt == 1 {
						forbiddenNodesTotal.Add(float64(len(resp.Errors)))
						e.logger.Warn().
							Int("forbidden_count", len(resp.Errors)).
							Msg("Access denied for some resources, continuing with partial data")
					}
					lastData = resp.Data
					return nil
				}
				lastData = resp.Data
				requestErrorsTotal.WithLabelValues("graphql", string(ErrorClassTransient)).Inc()
				return &APIError{
					StatusCode: status,
					Class:      ErrorClassTransient,
					Message:    "graphql errors: " + summarizeErrors(resp.Errors),
				}
			}
			lastData = resp.Data
			return nil

		case status == http.StatusForbidden || status == http.StatusTooManyRequests:
			requestErrorsTotal.WithLabelValues("graphql", string(ErrorClassQuota)).Inc()
			e.logger.Warn().
				Int("status_code", status).
				Msg("Rate limit hit, rotating credential")
			token = e.rotateToken()
			return &APIError{StatusCode: status, Class: ErrorClassQuota, Message: "rate limited"}

		default:
			requestErrorsTotal.WithLabelValues("graphql", string(ErrorClassTransient)).Inc()
			return &APIError{StatusCode: status, Class: ErrorClassTransient, Message: "unexpected status"}
		}
	})

	if err != nil {
		if errors.Is(err, ErrContextCancelled) {
			return nil, err
		}
		// Degrade to whatever was last received, possibly nothing. A
		// failed call must not abort the crawl.
		e.logger.Warn().Err(err).Msg("GraphQL call degraded after exhausting retries")
		return lastData, nil
	}
	return lastData, nil
}

// postGraphQL issues a single GraphQL HTTP attempt.
func (e *Executor) postGraphQL(ctx context.Context, token, query string, variables map[string]any) (*GraphQLResponse, int, error) {
	if err := e.waitTurn(ctx); err != nil {
		return nil, 0, fmt.Errorf("pacing wait: %w", err)
	}

	payload := map[string]any{"query": query}
	if len(variables) > 0 {
		payload["variables"] = variables
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal graphql payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.GraphQLURL, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("build graphql request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", e.config.UserAgent)

	start := time.Now()
	resp, err := e.httpClient.Do(req)
	requestDuration.WithLabelValues("graphql").Observe(time.Since(start).Seconds())
	if err != nil {
		requestsTotal.WithLabelValues("graphql", "error").Inc()
		return nil, 0, err
	}
	defer resp.Body.Close()
	requestsTotal.WithLabelValues("graphql", strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		// Drain a snippet for the log; the status drives classification.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		e.logger.Debug().
			Int("status_code", resp.StatusCode).
			Str("body", string(snippet)).
			Msg("GraphQL endpoint returned non-200")
		return nil, resp.StatusCode, nil
	}

	var decoded GraphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode graphql response: %w", err)
	}
	return &decoded, resp.StatusCode, nil
}

// SetHTTPClient sets the underlying HTTP client used for GraphQL calls
// (for testing).
func (e *Executor) SetHTTPClient(client *http.Client) {
	e.httpClient = client
}
