// Command repoctl browses and manages the viewer's GitHub repositories
// through a persisted local cache: listings and searches are served from disk
// while fresh, and mutations are mirrored into the cache on success.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"

	"repoctl"
	"repoctl/config"
	"repoctl/fetcher"
	"repoctl/freshness"
	"repoctl/github"
	"repoctl/mutate"
	"repoctl/repocache"
	"repoctl/session"
	"repoctl/telemetry"
)

var version = "dev"

type cli struct {
	Debug bool `short:"d" help:"Enable debug logging."`

	Auth       authCmd       `cmd:"" help:"Validate an API token and store it."`
	List       listCmd       `cmd:"" help:"List repositories."`
	Search     searchCmd     `cmd:"" help:"Search repositories by text."`
	Archive    archiveCmd    `cmd:"" help:"Archive a repository."`
	Unarchive  unarchiveCmd  `cmd:"" help:"Unarchive a repository."`
	Rename     renameCmd     `cmd:"" help:"Rename a repository."`
	Visibility visibilityCmd `cmd:"" help:"Change a repository's visibility."`
	Delete     deleteCmd     `cmd:"" help:"Permanently delete a repository."`
	Sync       syncCmd       `cmd:"" help:"Merge a fork's upstream into its default branch."`
	Cache      cacheCmd      `cmd:"" help:"Inspect or purge the local cache."`

	Version kong.VersionFlag `help:"Print version and exit."`
}

func main() {
	var c cli
	parsed := kong.Parse(&c,
		kong.Name("repoctl"),
		kong.Description("Browse and manage GitHub repositories with a local cache."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, c.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer app.close()

	if err := parsed.Run(app); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		app.close()
		os.Exit(1)
	}
}

// app wires the long-lived pieces every command shares. API clients are
// created on demand so cache-only commands work without a token.
type app struct {
	ctx    context.Context
	dir    string
	cfg    *config.Config
	logger *slog.Logger

	fresh *freshness.Index
	cache *repocache.Store

	client    *github.Client
	secondary *github.Client
	fetch     *fetcher.Fetcher
	mut       *mutate.Coordinator

	shutdownMetrics func(context.Context) error
}

func newApp(ctx context.Context, debug bool) (*app, error) {
	dir, err := config.StateDir()
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.Debug = true
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)

	a := &app{ctx: ctx, dir: dir, cfg: cfg, logger: logger}

	// Metrics are best-effort; a bad OTLP endpoint must not block the CLI.
	shutdown, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:    "repoctl",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		logger.Warn("metrics disabled", "error", err)
	} else {
		a.shutdownMetrics = shutdown
	}

	a.fresh = freshness.Open(config.FreshnessPath(dir), freshness.WithLogger(logger))

	db, err := repocache.OpenDB(config.CachePath(dir), repocache.WithDBLogger(logger))
	if err != nil {
		logger.Debug("cache database unavailable, running memory-only", "error", err)
		a.cache = repocache.New()
	} else {
		a.cache = repocache.New(repocache.WithPersistence(db, repocache.DefaultFlushDelay))
	}

	return a, nil
}

func (a *app) close() {
	if err := a.cache.Close(); err != nil {
		a.logger.Debug("closing cache", "error", err)
	}
	if a.shutdownMetrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.shutdownMetrics(shutdownCtx)
	}
}

// ensureClients builds the API clients and the fetch/mutate layers on top of
// them. Fails when no usable token is available.
func (a *app) ensureClients() error {
	if a.client != nil {
		return nil
	}

	token := a.cfg.ValidToken()
	if token == "" {
		return errors.New("no API token available: run 'repoctl auth' or set GITHUB_TOKEN")
	}

	a.client = github.NewClient(token, github.WithLogger(a.logger))
	a.secondary = github.NewClient(token, github.WithLogger(a.logger))

	if a.cfg.Login == "" {
		login, err := a.client.Viewer(a.ctx)
		if err != nil {
			a.logger.Debug("viewer resolution failed, cache keys use fallback", "error", err)
		} else {
			a.cfg.Login = login
			if err := config.Save(a.dir, a.cfg); err != nil {
				a.logger.Debug("persisting login", "error", err)
			}
		}
	}

	a.fetch = fetcher.New(fetcher.Config{
		Viewer:    a.cfg.Login,
		Primary:   a.client,
		Secondary: a.secondary,
		Cache:     a.cache,
		Freshness: a.fresh,
		ListTTL:   a.cfg.CacheTTL,
		Logger:    a.logger,
	})
	a.mut = mutate.New(mutate.Config{
		Remote: a.client,
		Cache:  a.cache,
		Logger: a.logger,
	})
	return nil
}

// resolveRepo maps an owner/name argument onto the cached entity, or fetches
// it when the cache has never seen it.
func (a *app) resolveRepo(nameWithOwner string) (*repoctl.Repository, error) {
	if repo, ok := a.cache.FindByName(nameWithOwner); ok {
		return repo, nil
	}
	repo, err := a.client.GetRepository(a.ctx, nameWithOwner)
	if err != nil {
		return nil, describeAPIError(err)
	}
	return repo, nil
}

type authCmd struct {
	Token string `help:"Token to store; read from stdin when omitted."`
}

func (c *authCmd) Run(a *app) error {
	token := strings.TrimSpace(c.Token)
	if token == "" {
		fmt.Print("Paste token: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		token = strings.TrimSpace(line)
	}
	if token == "" {
		return errors.New("no token given")
	}

	client := github.NewClient(token, github.WithLogger(a.logger))
	login, err := client.ValidateToken(a.ctx)
	if err != nil {
		return describeAPIError(err)
	}

	if err := config.SaveToken(a.dir, token, login); err != nil {
		return err
	}
	fmt.Printf("Authenticated as %s\n", login)
	return nil
}

type listCmd struct {
	Org        string `help:"List an organization's repositories instead of your own."`
	Sort       string `help:"Sort order as field:direction (updated, pushed, name, stars, created)." placeholder:"FIELD:DIR"`
	PageSize   int    `help:"Repositories per page." placeholder:"N"`
	Pages      int    `default:"1" help:"Number of pages to fetch."`
	Visibility string `help:"Show only public, private or internal repositories." enum:"public,private,internal," default:""`
	Forks      bool   `help:"Track how far forks are behind their upstreams (slower)."`
	Refresh    bool   `short:"r" help:"Bypass the cache and refetch."`
}

func (c *listCmd) Run(a *app) error {
	if err := a.ensureClients(); err != nil {
		return err
	}

	sort := a.cfg.SortSpec()
	if c.Sort != "" {
		parsed, err := repoctl.ParseSortSpec(c.Sort)
		if err != nil {
			return err
		}
		sort = parsed
	}
	pageSize := c.PageSize
	if pageSize <= 0 {
		pageSize = a.cfg.UI.PageSize
	}
	trackForks := c.Forks || a.cfg.UI.TrackForks

	sess := session.New()
	if c.Visibility != "" {
		sess.SetFilter(visibilityFilter(c.Visibility))
	}

	policy := fetcher.PolicyAuto
	if c.Refresh {
		policy = fetcher.PolicyNetworkOnly
	}

	gen := sess.Begin()
	cursor := ""
	for i := 0; i < c.Pages; i++ {
		page, err := a.fetch.FetchPage(a.ctx, fetcher.PageRequest{
			Context:      repoctl.OwnerContext{Org: c.Org},
			Affiliations: repoctl.CanonicalAffiliations,
			Sort:         sort,
			PageSize:     pageSize,
			Cursor:       cursor,
			TrackForks:   trackForks,
			Policy:       policy,
		})
		if err != nil {
			return describeAPIError(err)
		}
		sess.ApplyPage(gen, page, i > 0)
		if !page.HasNextPage {
			break
		}
		cursor = page.EndCursor
	}

	printRepos(os.Stdout, sess.Visible(), trackForks)
	printFooter(os.Stdout, sess)
	return nil
}

type searchCmd struct {
	Query    []string `arg:"" help:"Search text (qualifiers like language:go allowed)."`
	PageSize int      `help:"Results per page." placeholder:"N"`
	Forks    bool     `help:"Track how far forks are behind their upstreams (slower)."`
	Refresh  bool     `short:"r" help:"Bypass the cache and refetch."`
}

func (c *searchCmd) Run(a *app) error {
	if err := a.ensureClients(); err != nil {
		return err
	}

	pageSize := c.PageSize
	if pageSize <= 0 {
		pageSize = a.cfg.UI.PageSize
	}
	policy := fetcher.PolicyAuto
	if c.Refresh {
		policy = fetcher.PolicyNetworkOnly
	}

	page, err := a.fetch.Search(a.ctx, fetcher.SearchRequest{
		Query:      strings.Join(c.Query, " "),
		PageSize:   pageSize,
		TrackForks: c.Forks,
		Policy:     policy,
	})
	if errors.Is(err, fetcher.ErrQueryTooShort) {
		return fmt.Errorf("search query must be at least %d characters", fetcher.MinSearchQueryLen)
	}
	if err != nil {
		return describeAPIError(err)
	}

	sess := session.New()
	sess.ApplyPage(sess.Begin(), page, false)
	printRepos(os.Stdout, sess.Visible(), c.Forks)
	printFooter(os.Stdout, sess)
	return nil
}

type archiveCmd struct {
	Repo string `arg:"" help:"Repository as owner/name."`
}

func (c *archiveCmd) Run(a *app) error {
	if err := a.ensureClients(); err != nil {
		return err
	}
	repo, err := a.resolveRepo(c.Repo)
	if err != nil {
		return err
	}
	if err := a.mut.Archive(a.ctx, repo.ID, true); err != nil {
		return describeAPIError(err)
	}
	fmt.Printf("Archived %s\n", repo.NameWithOwner)
	return nil
}

type unarchiveCmd struct {
	Repo string `arg:"" help:"Repository as owner/name."`
}

func (c *unarchiveCmd) Run(a *app) error {
	if err := a.ensureClients(); err != nil {
		return err
	}
	repo, err := a.resolveRepo(c.Repo)
	if err != nil {
		return err
	}
	if err := a.mut.Archive(a.ctx, repo.ID, false); err != nil {
		return describeAPIError(err)
	}
	fmt.Printf("Unarchived %s\n", repo.NameWithOwner)
	return nil
}

type renameCmd struct {
	Repo    string `arg:"" help:"Repository as owner/name."`
	NewName string `arg:"" help:"New repository name (without owner)."`
}

func (c *renameCmd) Run(a *app) error {
	if err := a.ensureClients(); err != nil {
		return err
	}
	repo, err := a.resolveRepo(c.Repo)
	if err != nil {
		return err
	}
	if err := a.mut.Rename(a.ctx, repo.ID, c.NewName); err != nil {
		return describeAPIError(err)
	}
	fmt.Printf("Renamed %s to %s/%s\n", repo.NameWithOwner, repo.Owner(), c.NewName)
	return nil
}

type visibilityCmd struct {
	Repo string `arg:"" help:"Repository as owner/name."`
	To   string `arg:"" enum:"public,private" help:"Target visibility."`
}

func (c *visibilityCmd) Run(a *app) error {
	if err := a.ensureClients(); err != nil {
		return err
	}
	repo, err := a.resolveRepo(c.Repo)
	if err != nil {
		return err
	}
	if err := a.mut.SetVisibility(a.ctx, repo.ID, repo.NameWithOwner, c.To == "private"); err != nil {
		return describeAPIError(err)
	}
	fmt.Printf("%s is now %s\n", repo.NameWithOwner, c.To)
	return nil
}

type deleteCmd struct {
	Repo string `arg:"" help:"Repository as owner/name."`
	Yes  bool   `help:"Skip the typed-name confirmation."`
}

func (c *deleteCmd) Run(a *app) error {
	if err := a.ensureClients(); err != nil {
		return err
	}
	repo, err := a.resolveRepo(c.Repo)
	if err != nil {
		return err
	}

	if !c.Yes {
		if !confirmTypedName(os.Stdin, os.Stdout, repo.NameWithOwner, 3) {
			return errors.New("deletion aborted")
		}
	}

	if err := a.mut.Delete(a.ctx, repo.ID, repo.NameWithOwner); err != nil {
		return describeAPIError(err)
	}
	fmt.Printf("Deleted %s\n", repo.NameWithOwner)
	return nil
}

// confirmTypedName requires the user to type the repository's full name
// before a destructive action, re-prompting on mismatch.
func confirmTypedName(in io.Reader, out io.Writer, want string, attempts int) bool {
	reader := bufio.NewReader(in)
	for i := 0; i < attempts; i++ {
		fmt.Fprintf(out, "Type %q to confirm deletion: ", want)
		line, err := reader.ReadString('\n')
		if strings.TrimSpace(line) == want {
			return true
		}
		if err != nil {
			return false
		}
		fmt.Fprintln(out, "Name does not match.")
	}
	return false
}

type syncCmd struct {
	Repo   string `arg:"" help:"Fork as owner/name."`
	Branch string `help:"Branch to sync; defaults to the repository's default branch."`
}

func (c *syncCmd) Run(a *app) error {
	if err := a.ensureClients(); err != nil {
		return err
	}
	repo, err := a.resolveRepo(c.Repo)
	if err != nil {
		return err
	}
	if !repo.IsFork {
		return fmt.Errorf("%s is not a fork", repo.NameWithOwner)
	}

	res, err := a.mut.SyncFork(a.ctx, repo.ID, repo.NameWithOwner, c.Branch)
	if err != nil {
		return describeAPIError(err)
	}
	if res.Message != "" {
		fmt.Println(res.Message)
	} else {
		fmt.Printf("Synced %s (%s)\n", repo.NameWithOwner, res.MergeType)
	}
	return nil
}

type cacheCmd struct {
	Stats cacheStatsCmd `cmd:"" help:"Show cache statistics."`
	Purge cachePurgeCmd `cmd:"" help:"Drop all cached data and freshness records."`
}

type cacheStatsCmd struct{}

func (c *cacheStatsCmd) Run(a *app) error {
	stats := a.cache.GetStats()

	var size int64
	if info, err := os.Stat(config.CachePath(a.dir)); err == nil {
		size = info.Size()
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Repositories\t%d\n", stats.Entities)
	fmt.Fprintf(w, "Pages\t%d\n", stats.Pages)
	fmt.Fprintf(w, "Fresh partitions\t%d\n", a.fresh.Len())
	fmt.Fprintf(w, "Database size\t%s\n", formatBytes(size))
	return w.Flush()
}

type cachePurgeCmd struct{}

func (c *cachePurgeCmd) Run(a *app) error {
	if err := a.cache.Purge(); err != nil {
		return fmt.Errorf("purging cache: %w", err)
	}
	// Purge the freshness index too so no partition claims freshness over
	// data that no longer exists.
	if err := a.fresh.Purge(); err != nil {
		return fmt.Errorf("purging freshness index: %w", err)
	}
	fmt.Println("Cache purged")
	return nil
}

func visibilityFilter(name string) session.Filter {
	switch name {
	case "public":
		return session.FilterPublic
	case "private":
		return session.FilterPrivate
	case "internal":
		return session.FilterInternal
	default:
		return session.FilterAll
	}
}

// describeAPIError turns a categorized API failure into actionable CLI text.
func describeAPIError(err error) error {
	var apiErr *github.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Category {
	case github.CategoryAuth:
		return fmt.Errorf("authentication failed: %s (run 'repoctl auth' with a fresh token)", apiErr.Message)
	case github.CategoryRateLimited:
		if !apiErr.RetryAfter.IsZero() {
			return fmt.Errorf("rate limited until %s", apiErr.RetryAfter.Local().Format(time.Kitchen))
		}
		return errors.New("rate limited, try again later")
	default:
		return err
	}
}

func printRepos(out io.Writer, repos []repoctl.Repository, trackForks bool) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if trackForks {
		fmt.Fprintln(w, "NAME\tVISIBILITY\tLANGUAGE\tSTARS\tUPDATED\tBEHIND")
	} else {
		fmt.Fprintln(w, "NAME\tVISIBILITY\tLANGUAGE\tSTARS\tUPDATED")
	}

	for i := range repos {
		r := &repos[i]

		name := r.NameWithOwner
		if r.IsArchived {
			name += " (archived)"
		}
		lang := ""
		if r.PrimaryLanguage != nil {
			lang = r.PrimaryLanguage.Name
		}
		updated := ""
		if !r.UpdatedAt.IsZero() {
			updated = r.UpdatedAt.Format("2006-01-02")
		}

		if trackForks {
			behind := ""
			if r.IsFork && r.Parent != nil {
				behind = fmt.Sprintf("%d", r.CommitsBehind())
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				name, strings.ToLower(string(r.Visibility)), lang, r.Stars, updated, behind)
		} else {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				name, strings.ToLower(string(r.Visibility)), lang, r.Stars, updated)
		}
	}
	_ = w.Flush()
}

func printFooter(out io.Writer, sess *session.Session) {
	fmt.Fprintf(out, "\n%d of %d repositories", sess.Loaded(), sess.TotalCount())
	if rate, delta := sess.RateLimit(); rate != nil {
		fmt.Fprintf(out, " · rate limit %d/%d", rate.Remaining, rate.Limit)
		if delta > 0 {
			fmt.Fprintf(out, " (-%d)", delta)
		}
	}
	fmt.Fprintln(out)
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
