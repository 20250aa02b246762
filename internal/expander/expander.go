// Package expander implements the block expander (C3): split a
// ProgramBlock into chapter-aligned act segments plus ad_break gaps.
package expander

import "github.com/retrovue/retrovue-core/internal/schedule"

// Expand produces the segment list for one ProgramBlock, per spec.md §4.3.
// chapterMarkerSec must be strictly increasing, strictly > 0, and expressed
// in seconds (as asset.Metadata.ChapterMarkerSec is). episodeDurationMS and
// slotDurationMS are both derived from the compiled ProgramBlock.
func Expand(assetURI string, chapterMarkerSec []float64, episodeDurationMS, slotDurationMS int64) []schedule.Segment {
	adBreakTotal := slotDurationMS - episodeDurationMS
	if len(chapterMarkerSec) == 0 {
		segs := []schedule.Segment{
			{Type: schedule.SegmentAct, AssetURI: assetURI, AssetStartOffsetMS: 0, DurationMS: episodeDurationMS},
		}
		if adBreakTotal > 0 {
			segs = append(segs, schedule.Segment{Type: schedule.SegmentAdBreak, DurationMS: adBreakTotal})
		} else if adBreakTotal == 0 {
			// still emit the placeholder per §4.3's "possibly zero" duration
			segs = append(segs, schedule.Segment{Type: schedule.SegmentAdBreak, DurationMS: 0})
		}
		return segs
	}

	boundariesMS := make([]int64, 0, len(chapterMarkerSec)+1)
	for _, c := range chapterMarkerSec {
		boundariesMS = append(boundariesMS, int64(c*1000))
	}
	boundariesMS = append(boundariesMS, episodeDurationMS)

	segs := make([]schedule.Segment, 0, 2*len(boundariesMS))
	var prev int64
	for _, end := range boundariesMS {
		segs = append(segs, schedule.Segment{
			Type:               schedule.SegmentAct,
			AssetURI:           assetURI,
			AssetStartOffsetMS: prev,
			DurationMS:         end - prev,
		})
		segs = append(segs, schedule.Segment{Type: schedule.SegmentAdBreak, DurationMS: 0})
		prev = end
	}
	// The final ad_break placeholder carries the remaining slot time;
	// every interior placeholder stays zero-width until traffic fill.
	segs[len(segs)-1].DurationMS = adBreakTotal
	return segs
}
