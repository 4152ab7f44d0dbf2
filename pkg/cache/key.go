package cache

import (
	"strings"
)

// Kind distinguishes the cached entity families.
type Kind string

const (
	// KindRepository caches per-repository enrichment results
	KindRepository Kind = "repo"

	// KindOrganization caches per-organization enrichment results
	KindOrganization Kind = "org"
)

// Key represents a unique identifier for one cached enrichment result.
type Key struct {
	// Kind is the entity family (repo, org)
	Kind Kind

	// Owner is the organization login
	Owner string

	// Name is the repository name; empty for organization keys
	Name string
}

// String generates a deterministic cache key string.
// Format: ghinv:v1:<kind>:<owner>[/<name>]
//
// Example:
//
//	ghinv:v1:repo:acme/web-app
//	ghinv:v1:org:acme
func (k Key) String() string {
	// GitHub treats owner and repository names case-insensitively
	entity := strings.ToLower(k.Owner)
	if k.Name != "" {
		entity += "/" + strings.ToLower(k.Name)
	}
	return strings.Join([]string{"ghinv", "v1", string(k.Kind), entity}, ":")
}
