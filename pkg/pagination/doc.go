// Package pagination walks GraphQL cursor connections to completion.
//
// GitHub pages nested connections with pageInfo{hasNextPage,endCursor},
// and nodes may contain nulls for entities the querying credential
// cannot see. This package drives the cursor loop, filters null nodes,
// and keeps already-fetched pages when a later page degrades.
//
// Example usage:
//
//	cfg := pagination.DefaultConfig()
//	cfg.Entity = "repositories"
//	repos, err := pagination.FetchAll(ctx, executor, repositoriesQuery,
//		map[string]any{"org": "acme"}, extractRepositories, cfg)
//
// The fetcher:
//   - Sends the cursor variable as null on the first page
//   - Appends non-null nodes page by page
//   - Stops on hasNextPage=false or an unusable page (partial data wins)
//   - Observes a courtesy delay between pages
package pagination
