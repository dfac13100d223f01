package github

import (
	"context"
	"fmt"
	"strings"

	gogithub "github.com/google/go-github/v62/github"

	"repoctl"
)

// splitNameWithOwner separates "owner/name" for the REST endpoints, which
// address repositories by slug rather than node id.
func splitNameWithOwner(nameWithOwner string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(nameWithOwner, "/")
	if !ok || owner == "" || name == "" {
		return "", "", fmt.Errorf("malformed repository name %q", nameWithOwner)
	}
	return owner, name, nil
}

// DeleteRepository permanently deletes a repository. Requires the
// delete_repo scope on the token.
func (c *Client) DeleteRepository(ctx context.Context, nameWithOwner string) error {
	owner, name, err := splitNameWithOwner(nameWithOwner)
	if err != nil {
		return err
	}

	_, err = c.rest.Repositories.Delete(ctx, owner, name)
	return wrapREST("deleting repository", err)
}

// SetVisibility changes a repository between public and private.
func (c *Client) SetVisibility(ctx context.Context, nameWithOwner string, private bool) error {
	owner, name, err := splitNameWithOwner(nameWithOwner)
	if err != nil {
		return err
	}

	_, _, err = c.rest.Repositories.Edit(ctx, owner, name, &gogithub.Repository{
		Private: gogithub.Bool(private),
	})
	return wrapREST("changing repository visibility", err)
}

// SyncForkResult reports what a merge-upstream call did.
type SyncForkResult struct {
	Message string
	// MergeType is "merge", "fast-forward" or "none" as reported upstream.
	MergeType string
}

// SyncFork merges the upstream default branch into a fork's branch.
func (c *Client) SyncFork(ctx context.Context, nameWithOwner, branch string) (*SyncForkResult, error) {
	owner, name, err := splitNameWithOwner(nameWithOwner)
	if err != nil {
		return nil, err
	}

	res, _, err := c.rest.Repositories.MergeUpstream(ctx, owner, name, &gogithub.RepoMergeUpstreamRequest{
		Branch: gogithub.String(branch),
	})
	if err != nil {
		return nil, wrapREST("syncing fork", err)
	}

	out := &SyncForkResult{}
	if res != nil {
		out.Message = res.GetMessage()
		out.MergeType = res.GetMergeType()
	}
	return out, nil
}

// GetRepository resolves a repository by slug, returning the subset of
// fields the REST surface exposes. Used to map owner/name arguments onto
// node ids when the repository is not in the cache.
func (c *Client) GetRepository(ctx context.Context, nameWithOwner string) (*repoctl.Repository, error) {
	owner, name, err := splitNameWithOwner(nameWithOwner)
	if err != nil {
		return nil, err
	}

	repo, _, err := c.rest.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, wrapREST("resolving repository", err)
	}

	out := &repoctl.Repository{
		ID:            repo.GetNodeID(),
		Name:          repo.GetName(),
		NameWithOwner: repo.GetFullName(),
		Description:   repo.GetDescription(),
		IsPrivate:     repo.GetPrivate(),
		IsFork:        repo.GetFork(),
		IsArchived:    repo.GetArchived(),
		Stars:         repo.GetStargazersCount(),
		Forks:         repo.GetForksCount(),
		DiskUsage:     repo.GetSize(),
		UpdatedAt:     repo.GetUpdatedAt().Time,
		PushedAt:      repo.GetPushedAt().Time,
	}
	if vis, err := repoctl.ParseVisibility(repo.GetVisibility()); err == nil {
		out.Visibility = vis
	} else if out.IsPrivate {
		out.Visibility = repoctl.VisibilityPrivate
	} else {
		out.Visibility = repoctl.VisibilityPublic
	}
	if lang := repo.GetLanguage(); lang != "" {
		out.PrimaryLanguage = &repoctl.Language{Name: lang}
	}
	if parent := repo.GetParent(); parent != nil {
		out.Parent = &repoctl.ParentRepo{NameWithOwner: parent.GetFullName()}
	}
	return out, nil
}

// DefaultBranch resolves a repository's default branch name, needed before a
// fork sync when the caller does not already know it.
func (c *Client) DefaultBranch(ctx context.Context, nameWithOwner string) (string, error) {
	owner, name, err := splitNameWithOwner(nameWithOwner)
	if err != nil {
		return "", err
	}

	repo, _, err := c.rest.Repositories.Get(ctx, owner, name)
	if err != nil {
		return "", wrapREST("resolving default branch", err)
	}
	return repo.GetDefaultBranch(), nil
}
