// Package mutate coordinates repository mutations: the remote call happens
// first, and the local cache is patched only once the remote reports success,
// so the cache never shows a state the provider rejected.
package mutate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"repoctl"
	"repoctl/github"
	"repoctl/repocache"
	"repoctl/telemetry"
)

// Remote is the mutation surface of the GitHub API. Satisfied by
// *github.Client.
type Remote interface {
	ArchiveRepository(ctx context.Context, id string, archived bool) error
	RenameRepository(ctx context.Context, id, newName string) error
	SetVisibility(ctx context.Context, nameWithOwner string, private bool) error
	DeleteRepository(ctx context.Context, nameWithOwner string) error
	SyncFork(ctx context.Context, nameWithOwner, branch string) (*github.SyncForkResult, error)
	DefaultBranch(ctx context.Context, nameWithOwner string) (string, error)
}

// Config configures a Coordinator.
type Config struct {
	Remote Remote
	Cache  *repocache.Store
	Logger *slog.Logger

	// Now is the clock, defaulting to time.Now.
	Now func() time.Time
}

// Coordinator applies mutations remotely and mirrors them into the cache.
type Coordinator struct {
	remote Remote
	cache  *repocache.Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Coordinator from cfg, applying defaults for unset fields.
func New(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{
		remote: cfg.Remote,
		cache:  cfg.Cache,
		logger: cfg.Logger,
		now:    cfg.Now,
	}
}

// Archive archives or unarchives a repository. The cache patch sets the flag
// absolutely, so repeating the call converges instead of toggling.
func (c *Coordinator) Archive(ctx context.Context, id string, archived bool) error {
	op := "archive"
	if !archived {
		op = "unarchive"
	}

	if err := c.remote.ArchiveRepository(ctx, id, archived); err != nil {
		telemetry.RecordMutation(ctx, op, "error")
		return err
	}
	telemetry.RecordMutation(ctx, op, "success")

	c.cache.Modify(id, func(r *repoctl.Repository) {
		r.IsArchived = archived
	})
	c.logger.Debug("repository archived state changed", "id", id, "archived", archived)
	return nil
}

// Rename renames a repository and rewrites both name fields in the cache.
func (c *Coordinator) Rename(ctx context.Context, id, newName string) error {
	if err := c.remote.RenameRepository(ctx, id, newName); err != nil {
		telemetry.RecordMutation(ctx, "rename", "error")
		return err
	}
	telemetry.RecordMutation(ctx, "rename", "success")

	c.cache.Modify(id, func(r *repoctl.Repository) {
		r.Name = newName
		if owner := r.Owner(); owner != "" {
			r.NameWithOwner = owner + "/" + newName
		}
	})
	c.logger.Debug("repository renamed", "id", id, "name", newName)
	return nil
}

// SetVisibility flips a repository between public and private. The REST
// surface addresses repositories by slug, so the current nameWithOwner is
// required alongside the node id used for the cache patch.
func (c *Coordinator) SetVisibility(ctx context.Context, id, nameWithOwner string, private bool) error {
	if err := c.remote.SetVisibility(ctx, nameWithOwner, private); err != nil {
		telemetry.RecordMutation(ctx, "visibility", "error")
		return err
	}
	telemetry.RecordMutation(ctx, "visibility", "success")

	c.cache.Modify(id, func(r *repoctl.Repository) {
		if private {
			r.Visibility = repoctl.VisibilityPrivate
		} else {
			r.Visibility = repoctl.VisibilityPublic
		}
		r.IsPrivate = private
	})
	c.logger.Debug("repository visibility changed", "id", id, "private", private)
	return nil
}

// Delete permanently deletes a repository, then evicts it from every cached
// page and reclaims anything the eviction orphaned.
func (c *Coordinator) Delete(ctx context.Context, id, nameWithOwner string) error {
	if err := c.remote.DeleteRepository(ctx, nameWithOwner); err != nil {
		telemetry.RecordMutation(ctx, "delete", "error")
		return err
	}
	telemetry.RecordMutation(ctx, "delete", "success")

	c.cache.Evict(id)
	c.cache.GC()
	c.logger.Debug("repository deleted", "id", id, "name", nameWithOwner)
	return nil
}

// SyncFork merges the upstream default branch into the fork. On success the
// cached fork is synthesized into the caught-up state: its commit count
// matches the parent's and its update time moves to now, without waiting for
// a refetch to observe it.
func (c *Coordinator) SyncFork(ctx context.Context, id, nameWithOwner, branch string) (*github.SyncForkResult, error) {
	if branch == "" {
		resolved, err := c.remote.DefaultBranch(ctx, nameWithOwner)
		if err != nil {
			telemetry.RecordMutation(ctx, "sync_fork", "error")
			return nil, fmt.Errorf("resolving branch for sync: %w", err)
		}
		branch = resolved
	}

	res, err := c.remote.SyncFork(ctx, nameWithOwner, branch)
	if err != nil {
		telemetry.RecordMutation(ctx, "sync_fork", "error")
		return nil, err
	}
	telemetry.RecordMutation(ctx, "sync_fork", "success")

	c.cache.WriteFragment(id, func(r *repoctl.Repository) {
		if r.Parent != nil {
			r.CommitCount = r.Parent.CommitCount
		}
		r.UpdatedAt = c.now()
	})
	c.logger.Debug("fork synced", "id", id, "name", nameWithOwner, "branch", branch)
	return res, nil
}
