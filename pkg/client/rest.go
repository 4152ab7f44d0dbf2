package client

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/go-github/v55/github"
	"golang.org/x/oauth2"

	"github.com/scaleops-labs/ghe-inventory/pkg/tokenpool"
)

// restClient returns a REST client bound to the given credential,
// constructing it on first use.
func (e *Executor) restClient(token string) *github.Client {
	e.restMu.Lock()
	defer e.restMu.Unlock()

	if gh, ok := e.restClients[token]; ok {
		return gh
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(context.Background(), ts)
	httpClient.Timeout = e.config.Timeout

	gh := github.NewClient(httpClient)
	gh.BaseURL = e.restBaseURL
	gh.UserAgent = e.config.UserAgent

	e.restClients[token] = gh
	return gh
}

// REST performs one logical REST call under the standard retry policy.
// fn is invoked once per attempt with a client bound to the credential
// current at that attempt; a quota failure rotates the pool so the next
// attempt uses the next credential. The endpoint name is only a metrics
// and log label. Returns nil on success, the classified *APIError for
// permanent denials (4xx other than quota), a wrapped ErrRetryExhausted
// when attempts ran out, or ErrContextCancelled.
func (e *Executor) REST(ctx context.Context, endpoint string, fn func(ctx context.Context, gh *github.Client) (*github.Response, error)) error {
	token := e.heldToken()

	return retryWithBackoff(ctx, e.config.Retry, func(attempt int) *APIError {
		if err := e.waitTurn(ctx); err != nil {
			return &APIError{Class: ErrorClassNetwork, Message: "pacing wait", Err: err}
		}

		start := time.Now()
		resp, err := fn(ctx, e.restClient(token))
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

		status := 0
		if resp != nil {
			status = resp.StatusCode
			requestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
			e.recordRate(token, resp)
		} else {
			requestsTotal.WithLabelValues(endpoint, "error").Inc()
		}

		if err == nil {
			return nil
		}

		apiErr := classifyREST(status, err)
		requestErrorsTotal.WithLabelValues(endpoint, string(apiErr.Class)).Inc()

		if apiErr.Class == ErrorClassQuota {
			e.logger.Warn().
				Str("endpoint", endpoint).
				Int("status_code", apiErr.StatusCode).
				Msg("Rate limit hit, rotating credential")
			token = e.rotateToken()
		}
		return apiErr
	})
}

// classifyREST maps a REST call failure to an error class.
func classifyREST(status int, err error) *APIError {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	var respErr *github.ErrorResponse

	switch {
	case errors.As(err, &rateErr), errors.As(err, &abuseErr):
		return &APIError{StatusCode: status, Class: ErrorClassQuota, Message: "rate limited", Err: err}
	case errors.As(err, &respErr):
		s := status
		if respErr.Response != nil {
			s = respErr.Response.StatusCode
		}
		switch {
		case s == http.StatusForbidden || s == http.StatusTooManyRequests:
			return &APIError{StatusCode: s, Class: ErrorClassQuota, Message: "rate limited", Err: err}
		case s >= 400 && s < 500:
			// 404 means the feature is off or the resource is hidden;
			// no number of retries changes that.
			return &APIError{StatusCode: s, Class: ErrorClassForbidden, Message: "resource unavailable", Err: err}
		default:
			return &APIError{StatusCode: s, Class: ErrorClassTransient, Message: "unexpected status", Err: err}
		}
	default:
		return &APIError{StatusCode: status, Class: ErrorClassNetwork, Message: "rest request failed", Err: err}
	}
}

// recordRate feeds REST rate-limit headers back into the pool so the
// next headroom check and the quota gauges see fresh data without an
// extra probe.
func (e *Executor) recordRate(token string, resp *github.Response) {
	if resp == nil || resp.Rate.Limit == 0 {
		return
	}
	e.pool.UpdateSnapshot(token, tokenpool.Snapshot{
		Remaining:  resp.Rate.Remaining,
		Limit:      resp.Rate.Limit,
		ResetAt:    resp.Rate.Reset.Time,
		ObservedAt: time.Now(),
	})
}
