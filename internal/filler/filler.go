// Package filler implements the traffic filler (C4): greedy wrap-aware
// fill of ad_break placeholders from a single virtual looping filler strip.
package filler

import "github.com/retrovue/retrovue-core/internal/schedule"

// Asset is one candidate filler in the pool, in strip order.
type Asset struct {
	URI        string
	DurationMS int64
}

// PadAsset is the configurable fallback (black + silence, or a color-bar
// asset) used when the filler pool itself is exhausted.
type PadAsset struct {
	URI        string // empty means a synthesized black+silence pad, no file
	DurationMS int64  // not consulted by Fill; a pad segment always takes the full remaining duration
}

// Cursor tracks the current position in the virtual looping filler strip,
// carried forward across successive Fill calls within a channel so the
// filler "continues where the previous break left off" (per §4.4).
type Cursor struct {
	Index  int
	Offset int64
}

// Fill replaces a single ad_break placeholder (durationMS) with one or more
// filler/pad segments summing exactly to durationMS, advancing cur in place.
// If pool is empty, the remainder is covered by a single pad segment.
func Fill(pool []Asset, cur *Cursor, durationMS int64, pad PadAsset) []schedule.Segment {
	if durationMS <= 0 {
		return nil
	}
	if len(pool) == 0 {
		return []schedule.Segment{{Type: schedule.SegmentPad, AssetURI: pad.URI, DurationMS: durationMS}}
	}

	var out []schedule.Segment
	remaining := durationMS
	for remaining > 0 {
		asset := pool[cur.Index%len(pool)]
		available := asset.DurationMS - cur.Offset
		if available <= 0 {
			// defensive: a zero/negative-duration filler entry, skip it
			cur.Index++
			cur.Offset = 0
			continue
		}
		take := remaining
		if take > available {
			take = available
		}
		out = append(out, schedule.Segment{
			Type:               schedule.SegmentFiller,
			AssetURI:           asset.URI,
			AssetStartOffsetMS: cur.Offset,
			DurationMS:         take,
		})
		cur.Offset += take
		remaining -= take
		if cur.Offset >= asset.DurationMS {
			cur.Index = (cur.Index + 1) % len(pool)
			cur.Offset = 0
		}
	}
	return out
}

// FillBlock walks a block's segments (as emitted by the expander) and
// replaces every ad_break placeholder in place, preserving total duration.
func FillBlock(segments []schedule.Segment, pool []Asset, cur *Cursor, pad PadAsset) []schedule.Segment {
	out := make([]schedule.Segment, 0, len(segments))
	for _, seg := range segments {
		if seg.Type != schedule.SegmentAdBreak {
			out = append(out, seg)
			continue
		}
		out = append(out, Fill(pool, cur, seg.DurationMS, pad)...)
	}
	return out
}
