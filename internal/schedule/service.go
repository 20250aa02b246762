package schedule

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/retrovue/retrovue-core/internal/asset"
	"github.com/retrovue/retrovue-core/internal/dsl"
	"github.com/retrovue/retrovue-core/internal/expander"
	"github.com/retrovue/retrovue-core/internal/filler"
)

// FillerSource supplies the per-channel virtual filler strip and pad asset
// the traffic filler (C4) draws from. Channels configure their own filler
// pool; the service itself holds no opinion on content.
type FillerSource interface {
	Pool(channelID string) []filler.Asset
	Pad(channelID string) filler.PadAsset
}

// DocumentSource supplies the parsed programming DSL document for a
// channel (the schedule service does not own document storage or the
// watch/reload of channel config files).
type DocumentSource interface {
	Document(channelID string) (*dsl.Document, error)
}

// Service owns one ExecutionWindowStore per channel plus the rolling
// horizon compile that keeps it filled. It is the direct translation of
// dsl_schedule_service.py's scheduling loop into Go: compile happens
// outside any lock, insertion happens under the per-channel store's own
// lock, and a boolean single-flight guard prevents concurrent extension of
// the same channel.
type Service struct {
	Resolver   asset.Resolver
	Fillers    FillerSource
	Documents  DocumentSource

	GridMinutes    int
	HorizonDays    int
	FixedEpochDate string // YYYY-MM-DD

	mu        sync.Mutex
	stores    map[string]*Store
	cursors   map[string]*filler.Cursor
	extending map[string]bool
	counters  map[string]int // per pool/collection id, per channel, accumulated across days
}

// NewService constructs a Service with empty per-channel state.
func NewService(resolver asset.Resolver, fillers FillerSource, documents DocumentSource, gridMinutes, horizonDays int, fixedEpochDate string) *Service {
	return &Service{
		Resolver:       resolver,
		Fillers:        fillers,
		Documents:      documents,
		GridMinutes:    gridMinutes,
		HorizonDays:    horizonDays,
		FixedEpochDate: fixedEpochDate,
		stores:         make(map[string]*Store),
		cursors:        make(map[string]*filler.Cursor),
		extending:      make(map[string]bool),
		counters:       make(map[string]int),
	}
}

// StoreFor returns (creating if necessary) the ExecutionWindowStore for a
// channel.
func (s *Service) StoreFor(channelID string) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storeForLocked(channelID)
}

func (s *Service) storeForLocked(channelID string) *Store {
	st, ok := s.stores[channelID]
	if !ok {
		st = NewStore()
		s.stores[channelID] = st
	}
	return st
}

func (s *Service) cursorForLocked(channelID string) *filler.Cursor {
	c, ok := s.cursors[channelID]
	if !ok {
		c = &filler.Cursor{}
		s.cursors[channelID] = c
	}
	return c
}

// CounterForPool derives the deterministic sequential counter for a
// pool/collection on a given broadcast day: counter = slots_per_day *
// (broadcast_day - fixed_epoch_date), so that resuming compilation on any
// day picks up exactly where a continuously-running service would have
// left off, without needing to persist the running count.
func CounterForPool(slotsPerDay int, broadcastDay, fixedEpochDate string) (int, error) {
	day, err := time.Parse("2006-01-02", broadcastDay)
	if err != nil {
		return 0, fmt.Errorf("schedule: invalid broadcast_day %q: %w", broadcastDay, err)
	}
	epoch, err := time.Parse("2006-01-02", fixedEpochDate)
	if err != nil {
		return 0, fmt.Errorf("schedule: invalid fixed_epoch_date %q: %w", fixedEpochDate, err)
	}
	dayOffset := int(day.Sub(epoch).Hours() / 24)
	return slotsPerDay * dayOffset, nil
}

// CompileDay compiles a single broadcast day's document into filled,
// seam-ready Blocks, without touching the store. Kept separate from
// ExtendDay so compilation — the expensive, lock-free part — never runs
// while holding the store's mutex.
func (s *Service) CompileDay(channelID, broadcastDay string) ([]Block, error) {
	doc, err := s.Documents.Document(channelID)
	if err != nil {
		return nil, err
	}

	slotsPerDay := countSlotsForDay(doc, broadcastDay)
	counters := map[string]int{}
	for _, poolID := range poolIDsReferenced(doc) {
		counter, err := CounterForPool(slotsPerDay, broadcastDay, s.FixedEpochDate)
		if err != nil {
			return nil, err
		}
		counters[poolID] = counter
	}

	result, err := dsl.Compile(doc, s.Resolver, dsl.Options{
		GridMinutes:          s.GridMinutes,
		SequentialCounters:   counters,
		BroadcastDayOverride: broadcastDay,
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	cur := s.cursorForLocked(channelID)
	s.mu.Unlock()

	pool := s.Fillers.Pool(channelID)
	pad := s.Fillers.Pad(channelID)

	blocks := make([]Block, 0, len(result.ProgramBlocks))
	for _, pb := range result.ProgramBlocks {
		meta, err := s.Resolver.Lookup(pb.AssetID)
		if err != nil {
			return nil, err
		}
		uri, err := s.Resolver.ResolveURI(meta.URI)
		if err != nil {
			uri = meta.URI
		}
		episodeMS := int64(pb.EpisodeDurationSec) * 1000
		slotMS := int64(pb.SlotDurationSec) * 1000
		segs := expander.Expand(uri, meta.ChapterMarkerSec, episodeMS, slotMS)
		segs = filler.FillBlock(segs, pool, cur, pad)

		blocks = append(blocks, Block{
			BlockID:            fmt.Sprintf("%s|%s|%d", channelID, broadcastDay, pb.StartAt),
			ChannelID:          channelID,
			ProgrammingDayDate: broadcastDay,
			StartUTCMS:         pb.StartAt,
			EndUTCMS:           pb.StartAt + slotMS,
			Segments:           segs,
		})
	}
	return blocks, nil
}

// BuildInitial compiles startDate plus the following days-1 broadcast days
// for a channel. Each day is isolated: a compile failure on one day is
// logged by the caller and does not prevent the remaining days from being
// attempted, matching the initial-load behavior of a continuously running
// service that tolerates a single bad programming day.
func (s *Service) BuildInitial(channelID, startDate string, days int) []error {
	var errs []error
	day, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return []error{fmt.Errorf("schedule: invalid start date %q: %w", startDate, err)}
	}
	for i := 0; i < days; i++ {
		dayStr := day.AddDate(0, 0, i).Format("2006-01-02")
		if err := s.ExtendDay(channelID, dayStr); err != nil {
			errs = append(errs, fmt.Errorf("day %s: %w", dayStr, err))
		}
	}
	return errs
}

// PruneOldBlocks drops blocks that ended more than 24h before nowUTCMS, for
// every channel the service currently tracks.
func (s *Service) PruneOldBlocks(nowUTCMS int64) {
	cutoff := nowUTCMS - 24*3600*1000
	s.mu.Lock()
	stores := make([]*Store, 0, len(s.stores))
	for _, st := range s.stores {
		stores = append(stores, st)
	}
	s.mu.Unlock()
	for _, st := range stores {
		st.PruneOlderThan(cutoff)
	}
}

// Channels returns the channel IDs the service currently holds a store for.
func (s *Service) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.stores))
	for id := range s.stores {
		out = append(out, id)
	}
	return out
}

// ExtendDay compiles and inserts one broadcast day for a channel. On a
// contiguity rejection the day is dropped and the existing store is left
// untouched (per-day failure isolation).
func (s *Service) ExtendDay(channelID, broadcastDay string) error {
	blocks, err := s.CompileDay(channelID, broadcastDay)
	if err != nil {
		return err
	}
	store := s.StoreFor(channelID)
	return store.Insert(blocks...)
}

// MaybeExtendHorizon extends a channel's execution window by one day if
// its remaining coverage has fallen under recompileThresholdHours, guarded
// by a single-flight boolean so concurrent tick callers never double-
// extend the same channel. nowUTCMS and the next broadcast day to compile
// are supplied by the caller (the horizon manager owns the wall-clock
// relationship between "now" and "which day is next").
func (s *Service) MaybeExtendHorizon(channelID string, nowUTCMS int64, recompileThresholdHours int, nextBroadcastDay func() string) (extended bool, err error) {
	s.mu.Lock()
	if s.extending[channelID] {
		s.mu.Unlock()
		return false, nil
	}
	store := s.storeForLocked(channelID)
	s.mu.Unlock()

	windowEnd, ok := store.WindowEnd()
	if ok {
		remaining := time.Duration(windowEnd-nowUTCMS) * time.Millisecond
		if remaining >= time.Duration(recompileThresholdHours)*time.Hour {
			return false, nil
		}
	}

	s.mu.Lock()
	if s.extending[channelID] {
		s.mu.Unlock()
		return false, nil
	}
	s.extending[channelID] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.extending[channelID] = false
		s.mu.Unlock()
	}()

	day := nextBroadcastDay()
	if err := s.ExtendDay(channelID, day); err != nil {
		return false, err
	}
	return true, nil
}

// GetPlayoutPlanNow projects the single block covering nowUTCMS into the
// flat PlayoutEntry shape a mid-stream joiner needs, exactly as
// dsl_schedule_service.py's get_playout_plan_now does: pad segments are
// skipped entirely, segments that have already ended are skipped, and the
// segment straddling nowUTCMS gets a join offset (asset_start_offset_ms
// plus elapsed time into the segment) instead of its nominal start offset.
func (s *Service) GetPlayoutPlanNow(channelID string, nowUTCMS int64, limit int) ([]PlayoutEntry, error) {
	store := s.StoreFor(channelID)
	block, err := store.GetBlockAt(nowUTCMS)
	if err != nil {
		return nil, err
	}

	var out []PlayoutEntry
	cursor := block.StartUTCMS
	for _, seg := range block.Segments {
		segEnd := cursor + seg.DurationMS

		if seg.Type == SegmentPad {
			cursor = segEnd
			continue
		}
		if segEnd <= nowUTCMS {
			cursor = segEnd
			continue
		}

		startPTS := seg.AssetStartOffsetMS
		if nowUTCMS > cursor {
			startPTS += nowUTCMS - cursor
		}

		out = append(out, PlayoutEntry{
			AssetPath:       seg.AssetURI,
			StartPTSMS:      startPTS,
			SegmentType:     seg.Type,
			StartTimeUTCMS:  cursor,
			EndTimeUTCMS:    segEnd,
			DurationSeconds: float64(seg.DurationMS) / 1000.0,
		})
		cursor = segEnd
		if limit > 0 && len(out) >= limit {
			return out, nil
		}
	}
	return out, nil
}

func countSlotsForDay(doc *dsl.Document, broadcastDay string) int {
	if ds, ok := doc.Schedule[broadcastDay]; ok {
		return slotsInDaySchedule(doc, ds)
	}
	if day, err := time.Parse("2006-01-02", broadcastDay); err == nil {
		if ds, ok := doc.Schedule[strings.ToLower(day.Weekday().String())]; ok {
			return slotsInDaySchedule(doc, ds)
		}
	}
	return 0
}

func slotsInDaySchedule(doc *dsl.Document, ds dsl.DaySchedule) int {
	if ds.TemplateName != "" {
		return len(doc.Templates[ds.TemplateName])
	}
	return len(ds.Slots)
}

func poolIDsReferenced(doc *dsl.Document) []string {
	ids := make([]string, 0, len(doc.Pools))
	for id := range doc.Pools {
		ids = append(ids, id)
	}
	return ids
}
