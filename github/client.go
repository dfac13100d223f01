package github

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	gogithub "github.com/google/go-github/v62/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"repoctl"
)

// TokenValidationTimeout bounds the viewer lookup so a wedged connection
// falls back to the reauthentication prompt instead of hanging the CLI.
const TokenValidationTimeout = 15 * time.Second

// ListRequest describes one page of a repository listing.
type ListRequest struct {
	Context      repoctl.OwnerContext
	Affiliations []repoctl.Affiliation
	Sort         repoctl.SortSpec
	PageSize     int
	// Cursor is the pagination cursor; empty requests the first page.
	Cursor string
	// TrackForks includes the expensive fork-parent commit history fields.
	TrackForks bool
}

// SearchRequest describes one page of a repository search.
type SearchRequest struct {
	// Query is the raw search text, already carrying any qualifiers.
	Query    string
	PageSize int
	Cursor   string
	// TrackForks has the same meaning as on ListRequest.
	TrackForks bool
}

// Client is an authenticated GraphQL plus REST facade. Two instances with
// separate transports make up the primary/secondary fallback pair; the
// client itself holds no cache state.
type Client struct {
	gql    *githubv4.Client
	rest   *gogithub.Client
	logger *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// WithHTTPClient overrides the oauth2 transport, mainly for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *clientConfig) {
		c.httpClient = hc
	}
}

// WithBaseURL points both API surfaces at a non-default endpoint.
func WithBaseURL(url string) ClientOption {
	return func(c *clientConfig) {
		c.baseURL = url
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// NewClient creates a Client authenticated with token. Each call builds its
// own transport, so a primary and a secondary client share nothing.
func NewClient(token string, opts ...ClientOption) *Client {
	cfg := &clientConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}

	hc := cfg.httpClient
	if hc == nil {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		hc = oauth2.NewClient(context.Background(), ts)
	}

	c := &Client{logger: cfg.logger}
	if cfg.baseURL != "" {
		c.gql = githubv4.NewEnterpriseClient(cfg.baseURL+"/graphql", hc)
		if rest, err := gogithub.NewClient(hc).WithEnterpriseURLs(cfg.baseURL, cfg.baseURL); err == nil {
			c.rest = rest
		} else {
			c.logger.Warn("invalid enterprise base URL, using default REST endpoint", "url", cfg.baseURL, "error", err)
			c.rest = gogithub.NewClient(hc)
		}
	} else {
		c.gql = githubv4.NewClient(hc)
		c.rest = gogithub.NewClient(hc)
	}
	return c
}

// Viewer resolves the authenticated login.
func (c *Client) Viewer(ctx context.Context) (string, error) {
	var q viewerQuery
	if err := c.gql.Query(ctx, &q, nil); err != nil {
		return "", wrapGraphQL("resolving viewer", err)
	}
	return string(q.Viewer.Login), nil
}

// ValidateToken checks the token by resolving the viewer under a client-side
// timeout and returns the login on success.
func (c *Client) ValidateToken(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, TokenValidationTimeout)
	defer cancel()
	return c.Viewer(ctx)
}

// ListRepositories fetches one page of the viewer's or an organization's
// repositories.
func (c *Client) ListRepositories(ctx context.Context, req ListRequest) (*repoctl.Page, error) {
	vars := map[string]interface{}{
		"first":        githubv4.Int(req.PageSize),
		"after":        cursorVar(req.Cursor),
		"orderBy":      orderBy(req.Sort),
		"affiliations": affiliations(req.Affiliations),
		"trackForks":   githubv4.Boolean(req.TrackForks),
	}

	if req.Context.Org != "" {
		vars["org"] = githubv4.String(req.Context.Org)
		var q orgListQuery
		if err := c.gql.Query(ctx, &q, vars); err != nil {
			return nil, wrapGraphQL("listing organization repositories", err)
		}
		return q.Organization.Repositories.toPage(q.RateLimit), nil
	}

	var q viewerListQuery
	if err := c.gql.Query(ctx, &q, vars); err != nil {
		return nil, wrapGraphQL("listing repositories", err)
	}
	return q.Viewer.Repositories.toPage(q.RateLimit), nil
}

// SearchRepositories fetches one page of search results.
func (c *Client) SearchRepositories(ctx context.Context, req SearchRequest) (*repoctl.Page, error) {
	vars := map[string]interface{}{
		"query":      githubv4.String(req.Query),
		"first":      githubv4.Int(req.PageSize),
		"after":      cursorVar(req.Cursor),
		"trackForks": githubv4.Boolean(req.TrackForks),
	}

	var q searchQuery
	if err := c.gql.Query(ctx, &q, vars); err != nil {
		return nil, wrapGraphQL("searching repositories", err)
	}

	page := &repoctl.Page{
		Repositories: make([]repoctl.Repository, 0, len(q.Search.Nodes)),
		EndCursor:    string(q.Search.PageInfo.EndCursor),
		HasNextPage:  bool(q.Search.PageInfo.HasNextPage),
		TotalCount:   int(q.Search.RepositoryCount),
		RateLimit:    q.RateLimit.toModel(),
	}
	for i := range q.Search.Nodes {
		// Union nodes that are not repositories come back zero-valued.
		if q.Search.Nodes[i].Repository.ID == "" {
			continue
		}
		page.Repositories = append(page.Repositories, q.Search.Nodes[i].Repository.toModel())
	}
	return page, nil
}

// ArchiveRepository archives or unarchives a repository by node id.
func (c *Client) ArchiveRepository(ctx context.Context, id string, archived bool) error {
	if archived {
		var m struct {
			ArchiveRepository struct {
				Repository struct{ ID githubv4.ID }
			} `graphql:"archiveRepository(input: $input)"`
		}
		input := githubv4.ArchiveRepositoryInput{RepositoryID: githubv4.ID(id)}
		return wrapGraphQL("archiving repository", c.gql.Mutate(ctx, &m, input, nil))
	}

	var m struct {
		UnarchiveRepository struct {
			Repository struct{ ID githubv4.ID }
		} `graphql:"unarchiveRepository(input: $input)"`
	}
	input := githubv4.UnarchiveRepositoryInput{RepositoryID: githubv4.ID(id)}
	return wrapGraphQL("unarchiving repository", c.gql.Mutate(ctx, &m, input, nil))
}

// RenameRepository renames a repository by node id.
func (c *Client) RenameRepository(ctx context.Context, id, newName string) error {
	var m struct {
		UpdateRepository struct {
			Repository struct{ ID githubv4.ID }
		} `graphql:"updateRepository(input: $input)"`
	}
	name := githubv4.String(newName)
	input := githubv4.UpdateRepositoryInput{
		RepositoryID: githubv4.ID(id),
		Name:         &name,
	}
	return wrapGraphQL("renaming repository", c.gql.Mutate(ctx, &m, input, nil))
}
