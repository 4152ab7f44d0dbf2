package inventory

import (
	"encoding/json"

	"github.com/scaleops-labs/ghe-inventory/pkg/pagination"
)

// organizationsQuery lists the organizations of an enterprise, one
// cursor page at a time.
const organizationsQuery = `
query($enterprise: String!, $cursor: String) {
  enterprise(slug: $enterprise) {
    organizations(first: 100, after: $cursor) {
      pageInfo {
        hasNextPage
        endCursor
      }
      nodes {
        login
        name
        description
        createdAt
        url
      }
    }
  }
}`

// repositoriesQuery lists the repositories of an organization with the
// counts that come free in GraphQL. Branch and tag counts ride the refs
// connection with first: 0 so only totalCount is paid for.
const repositoriesQuery = `
query($org: String!, $cursor: String) {
  organization(login: $org) {
    repositories(first: 100, after: $cursor) {
      pageInfo {
        hasNextPage
        endCursor
      }
      nodes {
        name
        nameWithOwner
        description
        url
        visibility
        isPrivate
        isFork
        isArchived
        createdAt
        updatedAt
        pushedAt
        defaultBranchRef {
          name
        }
        forkCount
        issues {
          totalCount
        }
        pullRequests {
          totalCount
        }
        releases {
          totalCount
        }
        branches: refs(refPrefix: "refs/heads/", first: 0) {
          totalCount
        }
        tags: refs(refPrefix: "refs/tags/", first: 0) {
          totalCount
        }
      }
    }
  }
}`

// extractOrganizations pulls the organizations connection out of an
// enterprise query response. A nil return means the enterprise was not
// visible in this page.
func extractOrganizations(data json.RawMessage) (*pagination.Connection[OrganizationNode], error) {
	var envelope struct {
		Enterprise *struct {
			Organizations pagination.Connection[OrganizationNode] `json:"organizations"`
		} `json:"enterprise"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}
	if envelope.Enterprise == nil {
		return nil, nil
	}
	return &envelope.Enterprise.Organizations, nil
}

// extractRepositories pulls the repositories connection out of an
// organization query response. A nil return means the organization was
// not visible in this page.
func extractRepositories(data json.RawMessage) (*pagination.Connection[RepositoryNode], error) {
	var envelope struct {
		Organization *struct {
			Repositories pagination.Connection[RepositoryNode] `json:"repositories"`
		} `json:"organization"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}
	if envelope.Organization == nil {
		return nil, nil
	}
	return &envelope.Organization.Repositories, nil
}
