// Package dsl implements the programming DSL compiler (C2): parse a
// channel's programming document, bind slots to concrete assets, and emit
// a grid-aligned ProgramBlock plan.
package dsl

import "fmt"

// ContentKind tags the three variants of a slot's content union.
type ContentKind string

const (
	ContentAsset      ContentKind = "asset"
	ContentPool       ContentKind = "pool"
	ContentCollection ContentKind = "collection"
)

// SlotContent is the tagged sum type for a slot's content union
// (asset_id | {pool, policy} | {collection, policy}) — spec.md §9's "duck
// typing" note translated into a Go tagged struct instead of an interface,
// since there are exactly three closed variants and every call site
// switches on Kind.
type SlotContent struct {
	Kind         ContentKind
	AssetID      string
	PoolID       string
	CollectionID string
	Policy       string // "sequential" | "random", only meaningful for Pool/Collection
	Rating       string // optional filter narrowing the candidate list before picking
}

// Slot is one scheduled reservation within a day.
type Slot struct {
	Start       string // "HH:MM", channel-local
	SlotMinutes int
	Content     SlotContent
}

// Document is a parsed (but not yet compiled) programming DSL document.
type Document struct {
	Channel      string
	BroadcastDay string // YYYY-MM-DD, channel-local; may be overridden per-compilation
	Timezone     string
	Templates    map[string][]Slot
	Pools        map[string][]string // pool_id -> ordered collection/asset ids
	// Schedule maps a day key (day-of-week name or YYYY-MM-DD date) to
	// either a concrete slot list or a template reference.
	Schedule map[string]DaySchedule
}

// DaySchedule is either an inline slot list or a reference to a named
// template; exactly one of the two is populated.
type DaySchedule struct {
	Slots        []Slot
	TemplateName string // non-empty means "use this template"
}

// ProgramBlock is the DSL compiler's output unit (spec.md §3).
type ProgramBlock struct {
	AssetID           string
	StartAt           int64 // UTC unix ms, grid-aligned
	SlotDurationSec   int
	EpisodeDurationSec int
	Title             string
	Notes             string
}

// CompileResult is the full output of Compile.
type CompileResult struct {
	Version     int
	ChannelID   string
	BroadcastDay string
	ProgramBlocks []ProgramBlock
	Notes       []string
	Hash        string // SHA-256 of canonical JSON over the sorted block list
}

// CompileError reports a parse failure, an unknown template reference, or
// a missing required field. Not retried: compilation is deterministic, so
// a failure will repeat until the document is fixed.
type CompileError struct {
	Reason string
}

func (e *CompileError) Error() string { return fmt.Sprintf("dsl compile error: %s", e.Reason) }

// ValidationError reports a grid-alignment, overlap, or slot/episode
// duration violation.
type ValidationError struct {
	Reason string
	Slot   string
}

func (e *ValidationError) Error() string {
	if e.Slot != "" {
		return fmt.Sprintf("dsl validation error: %s (slot %s)", e.Reason, e.Slot)
	}
	return fmt.Sprintf("dsl validation error: %s", e.Reason)
}
