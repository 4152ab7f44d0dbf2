package tokenpool

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/scaleops-labs/ghe-inventory/pkg/config"
	"github.com/scaleops-labs/ghe-inventory/pkg/logging"
)

// Prometheus metrics for credential rotation.
var (
	credentialQuotaRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ghinv_credential_quota_remaining",
		Help: "Last observed rate-limit quota remaining per credential (by pool index)",
	}, []string{"credential"})

	credentialRotationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghinv_credential_rotations_total",
		Help: "Total number of credential rotations (low quota or failed probe)",
	})

	probeFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghinv_quota_probe_failures_total",
		Help: "Total number of rate-limit probes that failed and returned the unknown sentinel",
	})
)

// probeQuery is the lightweight rate-limit query issued before logical calls.
const probeQuery = `query { rateLimit { limit cost remaining resetAt } }`

// Pool holds the ordered credential set, the rotation cursor and the
// last observed rate-limit snapshot per credential. All cursor and
// snapshot access is serialized through one mutex so the pool can be
// shared by callers on different goroutines.
type Pool struct {
	mu        sync.Mutex
	tokens    []string
	cursor    int
	snapshots []Snapshot

	graphqlURL string
	httpClient *http.Client
	logger     zerolog.Logger
}

// New creates a credential pool from the given tokens. Entries are
// trimmed and empty ones dropped; a pool with zero usable credentials
// is a configuration error.
func New(tokens []string, graphqlURL string) (*Pool, error) {
	var usable []string
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			usable = append(usable, t)
		}
	}
	if len(usable) == 0 {
		return nil, &config.ConfigurationError{
			Field:  "GITHUB_PATS",
			Reason: "at least one non-empty credential required",
		}
	}

	p := &Pool{
		tokens:     usable,
		snapshots:  make([]Snapshot, len(usable)),
		graphqlURL: graphqlURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logging.NewLogger("tokenpool"),
	}

	p.logger.Info().Int("credentials", len(usable)).Msg("Credential pool initialized")
	return p, nil
}

// Len returns the number of credentials in the pool.
func (p *Pool) Len() int {
	return len(p.tokens)
}

// Current returns the credential at the cursor without moving it.
func (p *Pool) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokens[p.cursor]
}

// Advance returns the credential at the cursor, then moves the cursor
// forward by one, wrapping modulo the pool size.
func (p *Pool) Advance() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	token := p.tokens[p.cursor]
	p.cursor = (p.cursor + 1) % len(p.tokens)
	return token
}

// ProbeRateLimit issues the lightweight rate-limit query with the
// given credential. It never returns an error: any failure (network,
// non-200 status, malformed body) yields a snapshot with the
// RemainingUnknown sentinel, which callers treat as "no headroom".
func (p *Pool) ProbeRateLimit(ctx context.Context, token string) Snapshot {
	unknown := Snapshot{
		Remaining:  RemainingUnknown,
		Limit:      RemainingUnknown,
		ObservedAt: time.Now(),
	}

	payload, err := json.Marshal(map[string]string{"query": probeQuery})
	if err != nil {
		probeFailuresTotal.Inc()
		return unknown
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.graphqlURL, bytes.NewReader(payload))
	if err != nil {
		probeFailuresTotal.Inc()
		return unknown
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Rate limit probe failed")
		probeFailuresTotal.Inc()
		return unknown
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.logger.Warn().Int("status_code", resp.StatusCode).Msg("Rate limit probe returned non-200")
		probeFailuresTotal.Inc()
		return unknown
	}

	var body struct {
		Data struct {
			RateLimit *struct {
				Limit     int    `json:"limit"`
				Remaining int    `json:"remaining"`
				ResetAt   string `json:"resetAt"`
			} `json:"rateLimit"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Data.RateLimit == nil {
		p.logger.Warn().Msg("Rate limit probe returned unusable body")
		probeFailuresTotal.Inc()
		return unknown
	}

	snap := Snapshot{
		Remaining:  body.Data.RateLimit.Remaining,
		Limit:      body.Data.RateLimit.Limit,
		ObservedAt: time.Now(),
	}
	if t, err := time.Parse(time.RFC3339, body.Data.RateLimit.ResetAt); err == nil {
		snap.ResetAt = t
	}
	return snap
}

// EnsureHeadroom probes the given credential and decides which
// credential the caller's next logical call should use. A credential
// with at least HeadroomThreshold quota remaining is returned
// unchanged. Anything below the threshold, including a failed probe,
// triggers a rotation and the pool's next credential is handed back.
// Callers are expected to hold credentials acquired via Advance, which
// leaves the cursor pointing at the next candidate, so a rotation
// returns a different credential whenever the pool has more than one.
func (p *Pool) EnsureHeadroom(ctx context.Context, token string) string {
	snap := p.ProbeRateLimit(ctx, token)
	p.remember(token, snap)

	if snap.HasHeadroom() {
		p.logger.Debug().
			Int("remaining", snap.Remaining).
			Int("limit", snap.Limit).
			Msg("Credential has headroom")
		return token
	}

	p.logger.Warn().
		Int("remaining", snap.Remaining).
		Time("reset_at", snap.ResetAt).
		Msg("Rate limit low, switching to next credential")
	credentialRotationsTotal.Inc()
	return p.Advance()
}

// LastSnapshot returns the most recent snapshot observed for the given
// credential. The second return is false when the credential is not in
// the pool or has never been probed.
func (p *Pool) LastSnapshot(token string) (Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, t := range p.tokens {
		if t == token {
			if p.snapshots[i].ObservedAt.IsZero() {
				return Snapshot{}, false
			}
			return p.snapshots[i], true
		}
	}
	return Snapshot{}, false
}

// UpdateSnapshot records an externally observed rate-limit state for a
// credential, e.g. from REST response headers.
func (p *Pool) UpdateSnapshot(token string, snap Snapshot) {
	p.remember(token, snap)
}

// SetHTTPClient replaces the HTTP client used for probes. Useful for
// testing with custom transports.
func (p *Pool) SetHTTPClient(client *http.Client) {
	p.httpClient = client
}

func (p *Pool) remember(token string, snap Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, t := range p.tokens {
		if t == token {
			p.snapshots[i] = snap
			credentialQuotaRemaining.WithLabelValues(strconv.Itoa(i)).Set(float64(snap.Remaining))
			return
		}
	}
}
