// Package schedule implements the schedule service (C5): a per-channel
// ExecutionWindowStore of compiled ScheduledBlocks, rolling-horizon
// extension, and the covering-block / playout-plan lookups the channel
// manager depends on.
package schedule

// SegmentType enumerates the four segment kinds in a compiled block.
type SegmentType string

const (
	SegmentAct     SegmentType = "act"
	SegmentAdBreak SegmentType = "ad_break" // placeholder before traffic fill
	SegmentPad     SegmentType = "pad"
	SegmentFiller  SegmentType = "filler"
)

// Segment is one ScheduledSegment (spec.md §3).
type Segment struct {
	Type               SegmentType
	AssetURI           string // local file path for act/filler; the pad asset's path (empty for a synthesized pad) for pad; empty for ad_break
	AssetStartOffsetMS int64
	DurationMS         int64
}

// Block is one ScheduledBlock (spec.md §3): a concrete, filled program
// block ready for insertion into the ExecutionWindowStore.
type Block struct {
	BlockID            string
	ChannelID          string
	ProgrammingDayDate string // YYYY-MM-DD, channel-local
	StartUTCMS         int64
	EndUTCMS           int64
	Segments           []Segment
}

// DurationMS returns end - start.
func (b Block) DurationMS() int64 { return b.EndUTCMS - b.StartUTCMS }

// SegmentsDurationMS sums every segment's duration; used by
// INV-BLOCK-DURATION-EXACT.
func (b Block) SegmentsDurationMS() int64 {
	var total int64
	for _, s := range b.Segments {
		total += s.DurationMS
	}
	return total
}

// PlayoutEntry is one row of a mid-stream join projection (§4.5
// get_playout_plan_now).
type PlayoutEntry struct {
	AssetPath        string
	StartPTSMS       int64
	SegmentType      SegmentType
	StartTimeUTCMS   int64
	EndTimeUTCMS     int64
	DurationSeconds  float64
}
