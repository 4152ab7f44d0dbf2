package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// ErrNoData reports that the very first page of a walk produced no
// usable connection, so the caller never saw any data. Failures on
// later pages are soft stops instead and keep the accumulated nodes.
var ErrNoData = errors.New("connection returned no data")

// Pagination metrics
var (
	pagesFetchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghinv_pages_fetched_total",
			Help: "Total connection pages fetched",
		},
		[]string{"entity"},
	)

	nullNodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghinv_null_nodes_total",
			Help: "Total null connection nodes dropped (access-restricted entities)",
		},
		[]string{"entity"},
	)
)

// PageInfo is the cursor block every connection carries.
type PageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

// Connection is one page of a cursor connection. Nodes may contain
// nulls for entities the credential cannot see.
type Connection[T any] struct {
	PageInfo PageInfo `json:"pageInfo"`
	Nodes    []*T     `json:"nodes"`
}

// Executor is the slice of the GraphQL client the fetcher needs.
type Executor interface {
	Execute(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error)
}

// Extract pulls the connection out of a query-specific response
// envelope. A nil connection means the envelope no longer carries the
// expected path and the walk should stop.
type Extract[T any] func(data json.RawMessage) (*Connection[T], error)

// Config holds cursor walk configuration
type Config struct {
	// Entity names what is being fetched, for logs and metrics
	Entity string
	// CursorVar is the query variable carrying the page cursor
	CursorVar string
	// PageDelay is the pause between page fetches; zero disables it
	PageDelay time.Duration
}

// DefaultConfig returns crawl-friendly defaults
func DefaultConfig() Config {
	return Config{
		Entity:    "nodes",
		CursorVar: "cursor",
		PageDelay: 500 * time.Millisecond,
	}
}

// FetchAll walks a cursor connection to the end and returns every
// non-null node. Pages already fetched always survive: a degraded or
// malformed page stops the walk with the accumulated nodes and a nil
// error, context cancellation stops it with the context's error. When
// even the first page yields no connection the walk returns ErrNoData
// so callers can tell "nothing visible" from "genuinely empty".
func FetchAll[T any](ctx context.Context, exec Executor, query string, variables map[string]any, extract Extract[T], config Config) ([]T, error) {
	if config.Entity == "" {
		config.Entity = "nodes"
	}
	if config.CursorVar == "" {
		config.CursorVar = "cursor"
	}

	start := time.Now()
	var nodes []T
	var cursor any // null on the first page
	pages := 0

	for {
		vars := make(map[string]any, len(variables)+1)
		for k, v := range variables {
			vars[k] = v
		}
		vars[config.CursorVar] = cursor

		data, err := exec.Execute(ctx, query, vars)
		if err != nil {
			// Only cancellation surfaces from the executor
			return nodes, err
		}
		if len(data) == 0 {
			log.Warn().
				Str("entity", config.Entity).
				Int("pages", pages).
				Msg("Empty page result - stopping with partial data")
			if pages == 0 {
				return nodes, ErrNoData
			}
			break
		}

		conn, err := extract(data)
		if err != nil {
			log.Warn().
				Err(err).
				Str("entity", config.Entity).
				Int("pages", pages).
				Msg("Malformed page result - stopping with partial data")
			if pages == 0 {
				return nodes, ErrNoData
			}
			break
		}
		if conn == nil {
			log.Warn().
				Str("entity", config.Entity).
				Int("pages", pages).
				Msg("Connection missing from response - stopping with partial data")
			if pages == 0 {
				return nodes, ErrNoData
			}
			break
		}

		for _, node := range conn.Nodes {
			if node == nil {
				// Access restrictions surface as null nodes
				nullNodesTotal.WithLabelValues(config.Entity).Inc()
				continue
			}
			nodes = append(nodes, *node)
		}
		pages++
		pagesFetchedTotal.WithLabelValues(config.Entity).Inc()

		// Progress logging every 50 pages
		if pages%50 == 0 {
			log.Info().
				Str("entity", config.Entity).
				Int("pages", pages).
				Int("nodes", len(nodes)).
				Msg("Fetch progress")
		}

		if !conn.PageInfo.HasNextPage {
			break
		}
		if conn.PageInfo.EndCursor == "" {
			// hasNextPage without a cursor would spin forever
			log.Warn().
				Str("entity", config.Entity).
				Int("pages", pages).
				Msg("Page reports more data but no cursor - stopping")
			break
		}
		cursor = conn.PageInfo.EndCursor

		if config.PageDelay > 0 {
			select {
			case <-time.After(config.PageDelay):
			case <-ctx.Done():
				return nodes, ctx.Err()
			}
		}
	}

	log.Debug().
		Str("entity", config.Entity).
		Int("pages", pages).
		Int("nodes", len(nodes)).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return nodes, nil
}
