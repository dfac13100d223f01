// Package github wraps the GitHub GraphQL and REST APIs behind the small
// surface the fetch and mutation layers need: paginated listing, search, and
// the repository mutations.
package github

import (
	"github.com/shurcooL/githubv4"

	"repoctl"
)

// rateLimitFragment is appended to every query so each page response carries
// a rate-limit snapshot.
type rateLimitFragment struct {
	Remaining githubv4.Int
	Limit     githubv4.Int
	ResetAt   githubv4.DateTime
}

func (r rateLimitFragment) toModel() *repoctl.RateLimit {
	return &repoctl.RateLimit{
		Remaining: int(r.Remaining),
		Limit:     int(r.Limit),
		ResetAt:   r.ResetAt.Time,
	}
}

// commitHistoryRef selects a branch's total commit count.
type commitHistoryRef struct {
	Target struct {
		Commit struct {
			History struct {
				TotalCount githubv4.Int
			} `graphql:"history(first: 1)"`
		} `graphql:"... on Commit"`
	}
}

// repoNode is the repository field selection shared by listing and search.
// The default-branch history and fork parent are expensive sub-fields,
// included only when fork tracking is enabled.
type repoNode struct {
	ID              githubv4.String
	Name            githubv4.String
	NameWithOwner   githubv4.String
	Description     githubv4.String
	Visibility      githubv4.RepositoryVisibility
	IsPrivate       githubv4.Boolean
	IsFork          githubv4.Boolean
	IsArchived      githubv4.Boolean
	StargazerCount  githubv4.Int
	ForkCount       githubv4.Int
	DiskUsage       githubv4.Int
	UpdatedAt       githubv4.DateTime
	PushedAt        githubv4.DateTime
	PrimaryLanguage *struct {
		Name  githubv4.String
		Color githubv4.String
	}
	DefaultBranchRef *commitHistoryRef `graphql:"defaultBranchRef @include(if: $trackForks)"`
	Parent           *struct {
		NameWithOwner    githubv4.String
		DefaultBranchRef *commitHistoryRef
	} `graphql:"parent @include(if: $trackForks)"`
}

func (n *repoNode) toModel() repoctl.Repository {
	r := repoctl.Repository{
		ID:            string(n.ID),
		Name:          string(n.Name),
		NameWithOwner: string(n.NameWithOwner),
		Description:   string(n.Description),
		Visibility:    repoctl.Visibility(n.Visibility),
		IsPrivate:     bool(n.IsPrivate),
		IsFork:        bool(n.IsFork),
		IsArchived:    bool(n.IsArchived),
		Stars:         int(n.StargazerCount),
		Forks:         int(n.ForkCount),
		DiskUsage:     int(n.DiskUsage),
		UpdatedAt:     n.UpdatedAt.Time,
		PushedAt:      n.PushedAt.Time,
	}
	if n.PrimaryLanguage != nil {
		r.PrimaryLanguage = &repoctl.Language{
			Name:  string(n.PrimaryLanguage.Name),
			Color: string(n.PrimaryLanguage.Color),
		}
	}
	if n.DefaultBranchRef != nil {
		r.CommitCount = int(n.DefaultBranchRef.Target.Commit.History.TotalCount)
	}
	if n.Parent != nil {
		parent := &repoctl.ParentRepo{
			NameWithOwner: string(n.Parent.NameWithOwner),
		}
		if n.Parent.DefaultBranchRef != nil {
			parent.CommitCount = int(n.Parent.DefaultBranchRef.Target.Commit.History.TotalCount)
		}
		r.Parent = parent
	}
	return r
}

// repositoryConnection is the paginated listing envelope.
type repositoryConnection struct {
	TotalCount githubv4.Int
	Nodes      []repoNode
	PageInfo   struct {
		EndCursor   githubv4.String
		HasNextPage githubv4.Boolean
	}
}

func (c *repositoryConnection) toPage(rate rateLimitFragment) *repoctl.Page {
	page := &repoctl.Page{
		Repositories: make([]repoctl.Repository, 0, len(c.Nodes)),
		EndCursor:    string(c.PageInfo.EndCursor),
		HasNextPage:  bool(c.PageInfo.HasNextPage),
		TotalCount:   int(c.TotalCount),
		RateLimit:    rate.toModel(),
	}
	for i := range c.Nodes {
		page.Repositories = append(page.Repositories, c.Nodes[i].toModel())
	}
	return page
}

// viewerListQuery lists the viewer's own repositories.
type viewerListQuery struct {
	Viewer struct {
		Login        githubv4.String
		Repositories repositoryConnection `graphql:"repositories(first: $first, after: $after, orderBy: $orderBy, affiliations: $affiliations)"`
	}
	RateLimit rateLimitFragment
}

// orgListQuery lists an organization's repositories.
type orgListQuery struct {
	Organization struct {
		Repositories repositoryConnection `graphql:"repositories(first: $first, after: $after, orderBy: $orderBy, affiliations: $affiliations)"`
	} `graphql:"organization(login: $org)"`
	RateLimit rateLimitFragment
}

// searchQuery uses the provider-side text index; it has a different result
// envelope from listing (repositoryCount instead of totalCount, union nodes).
type searchQuery struct {
	Search struct {
		RepositoryCount githubv4.Int
		PageInfo        struct {
			EndCursor   githubv4.String
			HasNextPage githubv4.Boolean
		}
		Nodes []struct {
			Repository repoNode `graphql:"... on Repository"`
		}
	} `graphql:"search(query: $query, type: REPOSITORY, first: $first, after: $after)"`
	RateLimit rateLimitFragment
}

// viewerQuery resolves the authenticated login, used for key derivation and
// token validation.
type viewerQuery struct {
	Viewer struct {
		Login githubv4.String
	}
}

func orderBy(sort repoctl.SortSpec) githubv4.RepositoryOrder {
	var field githubv4.RepositoryOrderField
	switch sort.Field {
	case repoctl.SortName:
		field = githubv4.RepositoryOrderFieldName
	case repoctl.SortCreated:
		field = githubv4.RepositoryOrderFieldCreatedAt
	case repoctl.SortPushed:
		field = githubv4.RepositoryOrderFieldPushedAt
	case repoctl.SortStargazers:
		field = githubv4.RepositoryOrderFieldStargazers
	default:
		field = githubv4.RepositoryOrderFieldUpdatedAt
	}

	direction := githubv4.OrderDirectionDesc
	if sort.Direction == repoctl.SortAsc {
		direction = githubv4.OrderDirectionAsc
	}
	return githubv4.RepositoryOrder{Field: field, Direction: direction}
}

func affiliations(affs []repoctl.Affiliation) []githubv4.RepositoryAffiliation {
	out := make([]githubv4.RepositoryAffiliation, 0, len(affs))
	for _, a := range affs {
		out = append(out, githubv4.RepositoryAffiliation(a))
	}
	return out
}

// cursorVar converts a cursor string into the nullable after variable.
func cursorVar(cursor string) *githubv4.String {
	if cursor == "" {
		return (*githubv4.String)(nil)
	}
	v := githubv4.String(cursor)
	return &v
}
