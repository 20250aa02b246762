package asset

import (
	"path/filepath"
	"testing"
)

func TestSQLiteResolver_putAndLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assets.db")
	r, err := OpenSQLiteResolver(path)
	if err != nil {
		t.Fatalf("OpenSQLiteResolver: %v", err)
	}
	defer r.Close()

	m := Metadata{
		ID:               "ep-cheers-s06e01",
		DurationMS:       1320000,
		ChapterMarkerSec: []float64{420, 900},
		Rating:           "TV-PG",
		Kind:             KindEpisode,
		URI:              "/media/cheers/s06e01.mp4",
	}
	if err := r.Put(m); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := r.Lookup("ep-cheers-s06e01")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.DurationMS != m.DurationMS || got.URI != m.URI || len(got.ChapterMarkerSec) != 2 {
		t.Fatalf("Lookup() = %+v, want %+v", got, m)
	}
}

func TestSQLiteResolver_lookupMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assets.db")
	r, err := OpenSQLiteResolver(path)
	if err != nil {
		t.Fatalf("OpenSQLiteResolver: %v", err)
	}
	defer r.Close()

	_, err = r.Lookup("nonexistent")
	if err == nil {
		t.Fatal("Lookup() on missing id should error")
	}
	var resErr *ResolutionError
	if !asResolutionError(err, &resErr) {
		t.Fatalf("Lookup() error type = %T, want *ResolutionError", err)
	}
}

func TestSQLiteResolver_children(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assets.db")
	r, err := OpenSQLiteResolver(path)
	if err != nil {
		t.Fatalf("OpenSQLiteResolver: %v", err)
	}
	defer r.Close()

	coll := Metadata{
		ID:       "collection-sitcoms",
		Kind:     KindCollection,
		Children: []string{"ep-a", "ep-b", "ep-c"},
	}
	if err := r.Put(coll); err != nil {
		t.Fatalf("Put: %v", err)
	}
	kids, err := r.Children("collection-sitcoms")
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(kids) != 3 || kids[0] != "ep-a" {
		t.Fatalf("Children() = %v", kids)
	}
}

func TestSQLiteResolver_resolveURI(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assets.db")
	r, err := OpenSQLiteResolver(path)
	if err != nil {
		t.Fatalf("OpenSQLiteResolver: %v", err)
	}
	defer r.Close()

	if err := r.Put(Metadata{ID: "movie-1", URI: "/media/movie1.mp4", Kind: KindMovie}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	path1, err := r.ResolveURI("catalog://movie-1")
	if err != nil {
		t.Fatalf("ResolveURI: %v", err)
	}
	if path1 != "/media/movie1.mp4" {
		t.Errorf("ResolveURI() = %q", path1)
	}

	passthrough, err := r.ResolveURI("/already/a/path.mp4")
	if err != nil {
		t.Fatalf("ResolveURI passthrough: %v", err)
	}
	if passthrough != "/already/a/path.mp4" {
		t.Errorf("ResolveURI() passthrough = %q", passthrough)
	}

	missing, err := r.ResolveURI("catalog://does-not-exist")
	if err == nil {
		t.Fatal("ResolveURI on missing catalog id should error")
	}
	if missing != "catalog://does-not-exist" {
		t.Errorf("ResolveURI() on failure should pass URI through unchanged, got %q", missing)
	}
}

func asResolutionError(err error, target **ResolutionError) bool {
	re, ok := err.(*ResolutionError)
	if !ok {
		return false
	}
	*target = re
	return true
}
