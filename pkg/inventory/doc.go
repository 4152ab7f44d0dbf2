// Package inventory implements the enterprise crawl.
//
// The collector lists every organization of an enterprise through the
// GraphQL API, then walks each organization in turn: repositories are
// paged in with cursor pagination, enriched with REST-side counts
// (workflows, webhooks, installed apps, size, runners) and appended to
// a sink one by one, followed by a single per-organization summary
// row. Because records are appended as they finish, an interrupted
// crawl leaves valid partial output.
//
// Failure handling is layered so a multi-hour run keeps moving:
//
//   - A single enrichment metric that cannot be fetched degrades to
//     zero; the record is still emitted.
//   - A repository page that degrades mid-walk stops that walk with
//     the repositories already collected.
//   - An organization whose repositories are completely invisible, or
//     that fails in any unexpected way, is logged and skipped; the run
//     continues with the next organization.
//
// Only a cancelled context aborts the run as a whole.
package inventory
