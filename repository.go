// Package repoctl defines the core data model for the repository browser:
// repositories, pages, rate limits and the query parameter enums shared by
// the cache, fetch and mutation layers.
package repoctl

import (
	"fmt"
	"strings"
	"time"
)

// Visibility is a repository's visibility as reported by the API.
type Visibility string

const (
	VisibilityPublic   Visibility = "PUBLIC"
	VisibilityPrivate  Visibility = "PRIVATE"
	VisibilityInternal Visibility = "INTERNAL"
)

// IsPrivate reports whether the visibility implies the private flag.
// INTERNAL repositories are non-public but not private; callers filtering
// by visibility must branch on the Visibility value, not this flag.
func (v Visibility) IsPrivate() bool {
	return v == VisibilityPrivate
}

// ParseVisibility parses a case-insensitive visibility name.
func ParseVisibility(s string) (Visibility, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PUBLIC":
		return VisibilityPublic, nil
	case "PRIVATE":
		return VisibilityPrivate, nil
	case "INTERNAL":
		return VisibilityInternal, nil
	}
	return "", fmt.Errorf("invalid visibility: %q", s)
}

// Language is a repository's primary language.
type Language struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// ParentRepo carries the fields of a fork's upstream repository needed to
// compute how far the fork is behind.
type ParentRepo struct {
	NameWithOwner string `json:"name_with_owner"`
	CommitCount   int    `json:"commit_count"`
}

// Repository is the central entity. The ID is the opaque node id used as the
// cache's primary key.
type Repository struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	NameWithOwner string     `json:"name_with_owner"`
	Description   string     `json:"description,omitempty"`
	Visibility    Visibility `json:"visibility"`
	IsPrivate     bool       `json:"is_private"`
	IsFork        bool       `json:"is_fork"`
	IsArchived    bool       `json:"is_archived"`
	Stars         int        `json:"stars"`
	Forks         int        `json:"forks"`

	PrimaryLanguage *Language `json:"primary_language,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
	PushedAt  time.Time `json:"pushed_at"`

	// DiskUsage is the repository size in kibibytes.
	DiskUsage int `json:"disk_usage"`

	// CommitCount is the default-branch history total. Only populated when
	// fork tracking is enabled; zero otherwise.
	CommitCount int `json:"commit_count,omitempty"`

	// Parent is set for forks when fork tracking is enabled.
	Parent *ParentRepo `json:"parent,omitempty"`
}

// Owner returns the owner segment of NameWithOwner, or "" if unqualified.
func (r *Repository) Owner() string {
	owner, _, ok := strings.Cut(r.NameWithOwner, "/")
	if !ok {
		return ""
	}
	return owner
}

// CommitsBehind returns how many commits the fork's default branch is behind
// its parent. Zero for non-forks or when fork tracking data is absent.
func (r *Repository) CommitsBehind() int {
	if r.Parent == nil {
		return 0
	}
	behind := r.Parent.CommitCount - r.CommitCount
	if behind < 0 {
		return 0
	}
	return behind
}

// RateLimit is an ephemeral snapshot attached to a page response. It is never
// persisted; it exists only to compute a delta against the previous snapshot.
type RateLimit struct {
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// Delta returns how many requests were spent since prev. A negative result
// means the window reset between snapshots.
func (r RateLimit) Delta(prev RateLimit) int {
	return prev.Remaining - r.Remaining
}

// Page is a bounded, ordered slice of repositories plus the pagination state
// needed to continue the listing. Pages are never mutated in place.
type Page struct {
	Repositories []Repository
	EndCursor    string
	HasNextPage  bool
	TotalCount   int
	RateLimit    *RateLimit
}

// SortField is a repository listing sort key.
type SortField string

const (
	SortUpdated    SortField = "updated"
	SortPushed     SortField = "pushed"
	SortName       SortField = "name"
	SortStargazers SortField = "stars"
	SortCreated    SortField = "created"
)

// SortDirection orders a listing ascending or descending.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// SortSpec combines a sort field and direction.
type SortSpec struct {
	Field     SortField
	Direction SortDirection
}

// DefaultSort is the listing order used when none is configured.
var DefaultSort = SortSpec{Field: SortUpdated, Direction: SortDesc}

func (s SortSpec) String() string {
	return string(s.Field) + ":" + string(s.Direction)
}

// ParseSortSpec parses "field:direction" (e.g. "updated:desc"). Direction
// defaults to descending when omitted.
func ParseSortSpec(s string) (SortSpec, error) {
	field, direction, hasDirection := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")

	spec := SortSpec{Direction: SortDesc}
	switch SortField(field) {
	case SortUpdated, SortPushed, SortName, SortStargazers, SortCreated:
		spec.Field = SortField(field)
	default:
		return SortSpec{}, fmt.Errorf("invalid sort field: %q", field)
	}

	if hasDirection {
		switch SortDirection(direction) {
		case SortAsc, SortDesc:
			spec.Direction = SortDirection(direction)
		default:
			return SortSpec{}, fmt.Errorf("invalid sort direction: %q", direction)
		}
	}
	return spec, nil
}

// Affiliation scopes a listing to the viewer's relationship with repositories.
type Affiliation string

const (
	AffiliationOwner              Affiliation = "OWNER"
	AffiliationCollaborator       Affiliation = "COLLABORATOR"
	AffiliationOrganizationMember Affiliation = "ORGANIZATION_MEMBER"
)

// CanonicalAffiliations is the order affiliations are passed in by the CLI.
// Key derivation joins affiliations in caller order, so every caller must use
// this ordering to avoid fragmenting the cache.
var CanonicalAffiliations = []Affiliation{
	AffiliationOwner,
	AffiliationCollaborator,
	AffiliationOrganizationMember,
}

// OwnerContext selects the listing scope: the viewer's personal repositories
// or a single organization's.
type OwnerContext struct {
	// Org is the organization login, or "" for the personal context.
	Org string
}

func (c OwnerContext) String() string {
	if c.Org == "" {
		return "personal"
	}
	return "org:" + c.Org
}
