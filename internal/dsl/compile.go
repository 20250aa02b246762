package dsl

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/retrovue/retrovue-core/internal/asset"
)

// Options configures one compilation run.
type Options struct {
	GridMinutes int // channel.grid_minutes, per spec.md §4.2 step 3
	// SequentialCounters seeds the per-pool/per-collection sequential
	// counter (see schedule.CounterForPool), keyed by pool_id or
	// collection_id. Callers not using sequential selection may pass nil.
	SequentialCounters map[string]int
	// BroadcastDayOverride, if non-empty, overrides doc.BroadcastDay for
	// this compilation (used by the EPG endpoint to project a specific day
	// without mutating the document).
	BroadcastDayOverride string
}

// Compile runs the full C2 pipeline: template resolution, grid-alignment
// check, asset selection, duration validation, block emission, hashing.
func Compile(doc *Document, resolver asset.Resolver, opts Options) (*CompileResult, error) {
	broadcastDay := doc.BroadcastDay
	if opts.BroadcastDayOverride != "" {
		broadcastDay = opts.BroadcastDayOverride
	}
	if broadcastDay == "" {
		return nil, &CompileError{Reason: "missing broadcast_day"}
	}
	day, err := time.Parse("2006-01-02", broadcastDay)
	if err != nil {
		return nil, &CompileError{Reason: fmt.Sprintf("invalid broadcast_day %q: %v", broadcastDay, err)}
	}
	loc, err := time.LoadLocation(doc.Timezone)
	if err != nil {
		return nil, &CompileError{Reason: fmt.Sprintf("invalid timezone %q: %v", doc.Timezone, err)}
	}
	gridMinutes := opts.GridMinutes
	if gridMinutes <= 0 {
		gridMinutes = 30
	}

	slots, err := resolveDaySlots(doc, broadcastDay, day)
	if err != nil {
		return nil, err
	}

	blocks := make([]ProgramBlock, 0, len(slots))
	counters := opts.SequentialCounters
	if counters == nil {
		counters = map[string]int{}
	}

	for i, slot := range slots {
		startLocal, err := parseSlotStart(day, loc, slot.Start)
		if err != nil {
			return nil, &ValidationError{Reason: err.Error(), Slot: slot.Start}
		}
		if startLocal.Minute()%gridMinutes != 0 {
			return nil, &ValidationError{
				Reason: fmt.Sprintf("start minute %d is not aligned to grid_minutes=%d", startLocal.Minute(), gridMinutes),
				Slot:   slot.Start,
			}
		}

		assetID, err := selectAsset(doc, resolver, slot.Content, broadcastDay, i, counters)
		if err != nil {
			return nil, err
		}
		meta, err := resolver.Lookup(assetID)
		if err != nil {
			return nil, &asset.ResolutionError{Query: assetID, Reason: err.Error()}
		}
		episodeDurationSec := int(math.Ceil(float64(meta.DurationMS) / 1000.0))
		slotDurationSec := slot.SlotMinutes * 60
		if slotDurationSec < episodeDurationSec {
			return nil, &ValidationError{
				Reason: fmt.Sprintf("slot_minutes*60=%d < episode_duration_sec=%d", slotDurationSec, episodeDurationSec),
				Slot:   slot.Start,
			}
		}

		blocks = append(blocks, ProgramBlock{
			AssetID:            assetID,
			StartAt:            startLocal.UTC().UnixMilli(),
			SlotDurationSec:    slotDurationSec,
			EpisodeDurationSec: episodeDurationSec,
			Title:              assetID,
		})
	}

	sort.Slice(blocks, func(i, j int) bool { return blocks[i].StartAt < blocks[j].StartAt })

	for i := 1; i < len(blocks); i++ {
		prevEnd := blocks[i-1].StartAt + int64(blocks[i-1].SlotDurationSec)*1000
		if blocks[i].StartAt < prevEnd {
			return nil, &ValidationError{Reason: fmt.Sprintf(
				"block at %d overlaps previous block ending at %d", blocks[i].StartAt, prevEnd)}
		}
	}

	hash, err := contentHash(doc.Channel, broadcastDay, blocks)
	if err != nil {
		return nil, &CompileError{Reason: fmt.Sprintf("hashing: %v", err)}
	}

	return &CompileResult{
		Version:       1,
		ChannelID:     doc.Channel,
		BroadcastDay:  broadcastDay,
		ProgramBlocks: blocks,
		Hash:          hash,
	}, nil
}

// resolveDaySlots resolves templates for the selected broadcast day,
// falling back to the day-of-week name when no exact-date entry exists.
func resolveDaySlots(doc *Document, broadcastDay string, day time.Time) ([]Slot, error) {
	ds, ok := doc.Schedule[broadcastDay]
	if !ok {
		weekday := strings.ToLower(day.Weekday().String())
		ds, ok = doc.Schedule[weekday]
	}
	if !ok {
		return nil, &CompileError{Reason: fmt.Sprintf("no schedule entry for %q or its weekday", broadcastDay)}
	}
	if ds.TemplateName == "" {
		return ds.Slots, nil
	}
	tmpl, ok := doc.Templates[ds.TemplateName]
	if !ok {
		return nil, &CompileError{Reason: fmt.Sprintf("unknown template %q", ds.TemplateName)}
	}
	return tmpl, nil
}

func parseSlotStart(day time.Time, loc *time.Location, hhmm string) (time.Time, error) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return time.Time{}, fmt.Errorf("invalid start time %q, expected HH:MM", hhmm)
	}
	hh, err1 := strconv.Atoi(parts[0])
	mm, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return time.Time{}, fmt.Errorf("invalid start time %q, expected HH:MM", hhmm)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hh, mm, 0, 0, loc), nil
}

// selectAsset resolves a slot's content union to a concrete asset id.
func selectAsset(doc *Document, resolver asset.Resolver, c SlotContent, broadcastDay string, slotIndex int, counters map[string]int) (string, error) {
	switch c.Kind {
	case ContentAsset:
		return c.AssetID, nil
	case ContentPool:
		candidates, ok := doc.Pools[c.PoolID]
		if !ok || len(candidates) == 0 {
			return "", &asset.ResolutionError{Query: c.PoolID, Reason: "pool not found or empty"}
		}
		candidates = filterByRating(resolver, candidates, c.Rating)
		if len(candidates) == 0 {
			return "", &asset.ResolutionError{Query: c.PoolID, Reason: "no candidates match rating filter"}
		}
		return pick(candidates, c.PoolID, c.Policy, doc.Channel, broadcastDay, slotIndex, counters)
	case ContentCollection:
		candidates, err := resolver.Children(c.CollectionID)
		if err != nil {
			return "", err
		}
		candidates = filterByRating(resolver, candidates, c.Rating)
		if len(candidates) == 0 {
			return "", &asset.ResolutionError{Query: c.CollectionID, Reason: "no candidates match rating filter"}
		}
		return pick(candidates, c.CollectionID, c.Policy, doc.Channel, broadcastDay, slotIndex, counters)
	default:
		return "", &CompileError{Reason: "unrecognized slot content kind"}
	}
}

func filterByRating(resolver asset.Resolver, candidates []string, rating string) []string {
	if rating == "" {
		return candidates
	}
	out := make([]string, 0, len(candidates))
	for _, id := range candidates {
		m, err := resolver.Lookup(id)
		if err == nil && m.Rating == rating {
			out = append(out, id)
		}
	}
	return out
}

// pick implements §4.2 step 4's sequential/random asset selection.
func pick(candidates []string, poolOrCollectionID, policy, channel, broadcastDay string, slotIndex int, counters map[string]int) (string, error) {
	switch policy {
	case "random":
		seed := seedFor(channel, broadcastDay, slotIndex)
		r := rand.New(rand.NewSource(seed))
		return candidates[r.Intn(len(candidates))], nil
	case "sequential", "":
		counter := counters[poolOrCollectionID]
		idx := (counter + slotIndex) % len(candidates)
		return candidates[idx], nil
	default:
		return "", &CompileError{Reason: fmt.Sprintf("unknown selection policy %q", policy)}
	}
}

// seedFor derives a reproducible seed from (channel, broadcast_day,
// slot_index) so "random" selection is deterministic across repeated
// compilations of the same day.
func seedFor(channel, broadcastDay string, slotIndex int) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(fmt.Sprintf("%s|%s|%d", channel, broadcastDay, slotIndex)))
	return int64(h.Sum64())
}

// contentHash computes the SHA-256 of canonical JSON over the sorted block
// list, per §4.2 step 7. Hash determinism (the round-trip law in §8)
// depends on blocks already being sorted by StartAt and on json.Marshal's
// stable field ordering for a fixed struct.
func contentHash(channel, broadcastDay string, blocks []ProgramBlock) (string, error) {
	payload := struct {
		Channel      string         `json:"channel"`
		BroadcastDay string         `json:"broadcast_day"`
		Blocks       []ProgramBlock `json:"blocks"`
	}{channel, broadcastDay, blocks}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum), nil
}
