package asset

// Fake is an in-memory Resolver used by compiler and channel-manager tests
// (per spec.md §4.8's "tests substitute an in-process fake" idiom, applied
// here to the asset resolver rather than the producer).
type Fake struct {
	byID map[string]Metadata
}

// NewFake returns an empty Fake resolver.
func NewFake() *Fake {
	return &Fake{byID: make(map[string]Metadata)}
}

// Add registers m under m.ID.
func (f *Fake) Add(m Metadata) *Fake {
	f.byID[m.ID] = m
	return f
}

// Lookup implements Resolver.
func (f *Fake) Lookup(assetID string) (Metadata, error) {
	m, ok := f.byID[assetID]
	if !ok {
		return Metadata{}, &ResolutionError{Query: assetID, Reason: "not found"}
	}
	return m, nil
}

// Children implements Resolver.
func (f *Fake) Children(collectionID string) ([]string, error) {
	m, ok := f.byID[collectionID]
	if !ok {
		return nil, &ResolutionError{Query: collectionID, Reason: "not found"}
	}
	if len(m.Children) == 0 {
		return nil, &ResolutionError{Query: collectionID, Reason: "no candidates"}
	}
	return m.Children, nil
}

// ResolveURI implements Resolver.
func (f *Fake) ResolveURI(uri string) (string, error) {
	id, ok := SplitCatalogURI(uri)
	if !ok {
		return uri, nil
	}
	m, ok := f.byID[id]
	if !ok {
		return uri, &ResolutionError{Query: id, Reason: "not found"}
	}
	return m.URI, nil
}
