// Package asset implements the asset resolver (C1): a pure lookup from
// asset ID to media metadata, and from catalog:// URI to local file path.
package asset

import (
	"fmt"
	"strings"
)

// Kind enumerates the asset kinds the compiler can select.
type Kind string

const (
	KindEpisode    Kind = "episode"
	KindMovie      Kind = "movie"
	KindCollection Kind = "collection"
	KindFiller     Kind = "filler"
)

// Metadata is the immutable attributes of a catalog asset.
type Metadata struct {
	ID            string
	DurationMS    int64
	ChapterMarkerSec []float64 // strictly increasing, strictly > 0, excludes 0 and the end
	Rating        string
	Kind          Kind
	URI           string   // may be "catalog://<id>" pending resolution, or a direct path
	Children      []string // ordered child asset IDs, populated for KindCollection
}

// ResolutionError reports that an asset ID, pool, or collection could not
// be resolved to usable candidates.
type ResolutionError struct {
	Query  string
	Reason string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("asset resolution failed for %q: %s", e.Query, e.Reason)
}

// Resolver is the capability interface every compilation path depends on.
// Implementers vary: SQLiteResolver (production), and an in-memory fake for
// tests. The resolver is stateless from the caller's point of view; callers
// may cache results themselves.
type Resolver interface {
	// Lookup returns metadata for a single asset ID.
	Lookup(assetID string) (Metadata, error)
	// Children returns the ordered candidate asset IDs for a pool or
	// collection ID (a pool is just a named list of collection/asset ids
	// configured in the DSL document and passed in by the caller; this
	// method resolves the terminal "collection" case).
	Children(collectionID string) ([]string, error)
	// ResolveURI turns a "catalog://<id>" URI into a local path. Any other
	// URI form is passed through unchanged. On catalog lookup failure the
	// original URI is returned unchanged along with the error, so the
	// producer can fail fast when it opens the file (per C1 contract).
	ResolveURI(uri string) (string, error)
}

const catalogScheme = "catalog://"

// SplitCatalogURI returns (id, true) if uri has the catalog:// scheme.
func SplitCatalogURI(uri string) (id string, ok bool) {
	if !strings.HasPrefix(uri, catalogScheme) {
		return "", false
	}
	return strings.TrimPrefix(uri, catalogScheme), true
}
