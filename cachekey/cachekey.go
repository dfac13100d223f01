// Package cachekey derives stable cache-partition keys from the semantically
// relevant parameters of a listing or search request. Keys are the unit of
// freshness tracking; they are not the object cache's per-entity identity.
package cachekey

import (
	"strconv"
	"strings"

	"repoctl"
)

// UnknownViewer is substituted when the viewer login is not yet known.
const UnknownViewer = "unknown"

// Params holds every input that distinguishes one request shape from another.
// Two requests with identical Params must produce identical keys; changing any
// field must produce a different key.
type Params struct {
	Viewer       string
	Context      repoctl.OwnerContext
	Affiliations []repoctl.Affiliation
	Sort         repoctl.SortSpec
	PageSize     int
	TrackForks   bool

	// Query is the free-text search query. Only consulted by SearchKey.
	Query string
}

// ListKey returns the partition key for a repository listing request.
func ListKey(p Params) string {
	return build("list", p, false)
}

// SearchKey returns the partition key for a repository search request. The
// query text is trimmed and lower-cased so whitespace and case differences do
// not fragment the cache.
func SearchKey(p Params) string {
	return build("search", p, true)
}

func build(op string, p Params, withQuery bool) string {
	viewer := p.Viewer
	if viewer == "" {
		viewer = UnknownViewer
	}

	affs := make([]string, 0, len(p.Affiliations))
	for _, a := range p.Affiliations {
		affs = append(affs, string(a))
	}

	var b strings.Builder
	b.WriteString("op:")
	b.WriteString(op)
	b.WriteString("|viewer:")
	b.WriteString(viewer)
	b.WriteString("|ctx:")
	b.WriteString(p.Context.String())
	b.WriteString("|aff:")
	b.WriteString(strings.Join(affs, ","))
	b.WriteString("|sort:")
	b.WriteString(p.Sort.String())
	b.WriteString("|first:")
	b.WriteString(strconv.Itoa(p.PageSize))
	b.WriteString("|forks:")
	b.WriteString(strconv.FormatBool(p.TrackForks))
	if withQuery {
		b.WriteString("|q:")
		b.WriteString(strings.ToLower(strings.TrimSpace(p.Query)))
	}
	return b.String()
}
