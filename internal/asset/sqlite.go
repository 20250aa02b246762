package asset

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteResolver is the production Resolver, backed by a local sqlite
// database. Grounded on the teacher's internal/catalog.Catalog: same
// entity shapes (movie/series/episode/collection), promoted from a
// JSON-file-with-atomic-rename store into a real embedded database per
// the domain-stack wiring decision.
type SQLiteResolver struct {
	db *sql.DB
}

// OpenSQLiteResolver opens (creating if necessary) the sqlite database at
// path and ensures the assets schema exists.
func OpenSQLiteResolver(path string) (*SQLiteResolver, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("asset: open sqlite: %w", err)
	}
	r := &SQLiteResolver{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLiteResolver) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS assets (
	id TEXT PRIMARY KEY,
	duration_ms INTEGER NOT NULL,
	chapters_json TEXT NOT NULL DEFAULT '[]',
	rating TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL,
	uri TEXT NOT NULL,
	children_json TEXT NOT NULL DEFAULT '[]'
);`
	_, err := r.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("asset: migrate: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (r *SQLiteResolver) Close() error { return r.db.Close() }

// Put inserts or replaces a single asset row. Exercised by ingest tooling
// and by tests seeding a resolver; the runtime core itself is read-only.
func (r *SQLiteResolver) Put(m Metadata) error {
	chaptersJSON, err := json.Marshal(m.ChapterMarkerSec)
	if err != nil {
		return fmt.Errorf("asset: marshal chapters: %w", err)
	}
	childrenJSON, err := json.Marshal(m.Children)
	if err != nil {
		return fmt.Errorf("asset: marshal children: %w", err)
	}
	_, err = r.db.Exec(
		`INSERT INTO assets (id, duration_ms, chapters_json, rating, kind, uri, children_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   duration_ms=excluded.duration_ms,
		   chapters_json=excluded.chapters_json,
		   rating=excluded.rating,
		   kind=excluded.kind,
		   uri=excluded.uri,
		   children_json=excluded.children_json`,
		m.ID, m.DurationMS, string(chaptersJSON), m.Rating, string(m.Kind), m.URI, string(childrenJSON),
	)
	if err != nil {
		return fmt.Errorf("asset: put %q: %w", m.ID, err)
	}
	return nil
}

// Lookup implements Resolver.
func (r *SQLiteResolver) Lookup(assetID string) (Metadata, error) {
	row := r.db.QueryRow(
		`SELECT id, duration_ms, chapters_json, rating, kind, uri, children_json FROM assets WHERE id = ?`,
		assetID,
	)
	var m Metadata
	var kind, chaptersJSON, childrenJSON string
	if err := row.Scan(&m.ID, &m.DurationMS, &chaptersJSON, &m.Rating, &kind, &m.URI, &childrenJSON); err != nil {
		if err == sql.ErrNoRows {
			return Metadata{}, &ResolutionError{Query: assetID, Reason: "not found in catalog"}
		}
		return Metadata{}, fmt.Errorf("asset: lookup %q: %w", assetID, err)
	}
	m.Kind = Kind(kind)
	if err := json.Unmarshal([]byte(chaptersJSON), &m.ChapterMarkerSec); err != nil {
		return Metadata{}, fmt.Errorf("asset: decode chapters for %q: %w", assetID, err)
	}
	if err := json.Unmarshal([]byte(childrenJSON), &m.Children); err != nil {
		return Metadata{}, fmt.Errorf("asset: decode children for %q: %w", assetID, err)
	}
	return m, nil
}

// Children implements Resolver.
func (r *SQLiteResolver) Children(collectionID string) ([]string, error) {
	m, err := r.Lookup(collectionID)
	if err != nil {
		return nil, err
	}
	if m.Kind != KindCollection {
		return nil, &ResolutionError{Query: collectionID, Reason: "not a collection"}
	}
	if len(m.Children) == 0 {
		return nil, &ResolutionError{Query: collectionID, Reason: "collection has no candidates"}
	}
	return m.Children, nil
}

// ResolveURI implements Resolver.
func (r *SQLiteResolver) ResolveURI(uri string) (string, error) {
	id, ok := SplitCatalogURI(uri)
	if !ok {
		return uri, nil
	}
	m, err := r.Lookup(id)
	if err != nil {
		// Per C1 contract: pass the URI through unchanged on failure so the
		// producer fails fast when it opens the file.
		return uri, err
	}
	return m.URI, nil
}
