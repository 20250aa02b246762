package dsl

import (
	"testing"

	"github.com/retrovue/retrovue-core/internal/asset"
)

func twoSlotDoc() *Document {
	return &Document{
		Channel:      "retro1",
		BroadcastDay: "2026-07-30",
		Timezone:     "America/New_York",
		Schedule: map[string]DaySchedule{
			"2026-07-30": {Slots: []Slot{
				{Start: "22:00", SlotMinutes: 30, Content: SlotContent{Kind: ContentAsset, AssetID: "cheers-s06e01"}},
				{Start: "22:30", SlotMinutes: 30, Content: SlotContent{Kind: ContentAsset, AssetID: "taxi-s02e01"}},
			}},
		},
	}
}

func twoSlotResolver() asset.Resolver {
	return asset.NewFake().
		Add(asset.Metadata{ID: "cheers-s06e01", DurationMS: 22 * 60 * 1000, Kind: asset.KindEpisode}).
		Add(asset.Metadata{ID: "taxi-s02e01", DurationMS: 22 * 60 * 1000, Kind: asset.KindEpisode})
}

// Scenario 1 from spec.md §8: two-slot weeknight, no chapters.
func TestCompile_twoSlotScenario(t *testing.T) {
	doc := twoSlotDoc()
	res, err := Compile(doc, twoSlotResolver(), Options{GridMinutes: 30})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(res.ProgramBlocks) != 2 {
		t.Fatalf("len(ProgramBlocks) = %d, want 2", len(res.ProgramBlocks))
	}
	for _, b := range res.ProgramBlocks {
		if b.SlotDurationSec != 1800 {
			t.Errorf("SlotDurationSec = %d, want 1800", b.SlotDurationSec)
		}
		if b.EpisodeDurationSec != 1320 {
			t.Errorf("EpisodeDurationSec = %d, want 1320", b.EpisodeDurationSec)
		}
	}
	if res.ProgramBlocks[1].StartAt-res.ProgramBlocks[0].StartAt != 1800*1000 {
		t.Errorf("second block should start exactly one slot after the first")
	}
	if res.Hash == "" {
		t.Error("Hash should be non-empty")
	}
}

// INV-DSL-GRID-ALIGNMENT
func TestCompile_gridMisalignmentFails(t *testing.T) {
	doc := twoSlotDoc()
	doc.Schedule["2026-07-30"] = DaySchedule{Slots: []Slot{
		{Start: "22:07", SlotMinutes: 30, Content: SlotContent{Kind: ContentAsset, AssetID: "cheers-s06e01"}},
	}}
	_, err := Compile(doc, twoSlotResolver(), Options{GridMinutes: 30})
	if err == nil {
		t.Fatal("expected a ValidationError for grid misalignment")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
}

// INV-DSL-SLOT-COVERS-EPISODE
func TestCompile_slotShorterThanEpisodeFails(t *testing.T) {
	doc := &Document{
		Channel: "retro1", BroadcastDay: "2026-07-30", Timezone: "UTC",
		Schedule: map[string]DaySchedule{
			"2026-07-30": {Slots: []Slot{
				{Start: "22:00", SlotMinutes: 10, Content: SlotContent{Kind: ContentAsset, AssetID: "cheers-s06e01"}},
			}},
		},
	}
	_, err := Compile(doc, twoSlotResolver(), Options{GridMinutes: 30})
	if err == nil {
		t.Fatal("expected a ValidationError when slot is shorter than the episode")
	}
}

// INV-DSL-NO-OVERLAP
func TestCompile_overlapFails(t *testing.T) {
	doc := &Document{
		Channel: "retro1", BroadcastDay: "2026-07-30", Timezone: "UTC",
		Schedule: map[string]DaySchedule{
			"2026-07-30": {Slots: []Slot{
				{Start: "22:00", SlotMinutes: 30, Content: SlotContent{Kind: ContentAsset, AssetID: "cheers-s06e01"}},
				{Start: "22:15", SlotMinutes: 30, Content: SlotContent{Kind: ContentAsset, AssetID: "taxi-s02e01"}},
			}},
		},
	}
	_, err := Compile(doc, twoSlotResolver(), Options{GridMinutes: 15})
	if err == nil {
		t.Fatal("expected a ValidationError for overlapping blocks")
	}
}

// Round-trip law: hash determinism.
func TestCompile_hashDeterminism(t *testing.T) {
	doc := twoSlotDoc()
	r1, err := Compile(doc, twoSlotResolver(), Options{GridMinutes: 30})
	if err != nil {
		t.Fatalf("Compile (1): %v", err)
	}
	r2, err := Compile(doc, twoSlotResolver(), Options{GridMinutes: 30})
	if err != nil {
		t.Fatalf("Compile (2): %v", err)
	}
	if r1.Hash != r2.Hash {
		t.Errorf("hash should be deterministic: %q != %q", r1.Hash, r2.Hash)
	}
}

func TestCompile_sequentialPoolSelection(t *testing.T) {
	doc := &Document{
		Channel: "retro1", BroadcastDay: "2026-07-30", Timezone: "UTC",
		Pools: map[string][]string{"sitcoms": {"ep-a", "ep-b", "ep-c"}},
		Schedule: map[string]DaySchedule{
			"2026-07-30": {Slots: []Slot{
				{Start: "22:00", SlotMinutes: 30, Content: SlotContent{Kind: ContentPool, PoolID: "sitcoms", Policy: "sequential"}},
				{Start: "22:30", SlotMinutes: 30, Content: SlotContent{Kind: ContentPool, PoolID: "sitcoms", Policy: "sequential"}},
			}},
		},
	}
	resolver := asset.NewFake().
		Add(asset.Metadata{ID: "ep-a", DurationMS: 20 * 60 * 1000}).
		Add(asset.Metadata{ID: "ep-b", DurationMS: 20 * 60 * 1000}).
		Add(asset.Metadata{ID: "ep-c", DurationMS: 20 * 60 * 1000})

	res, err := Compile(doc, resolver, Options{GridMinutes: 30, SequentialCounters: map[string]int{"sitcoms": 3}})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if res.ProgramBlocks[0].AssetID != "ep-a" {
		t.Errorf("first pick = %q, want ep-a (counter 3, idx 0 -> (3+0)%%3=0)", res.ProgramBlocks[0].AssetID)
	}
	if res.ProgramBlocks[1].AssetID != "ep-b" {
		t.Errorf("second pick = %q, want ep-b ((3+1)%%3=1)", res.ProgramBlocks[1].AssetID)
	}
}

func TestCompile_templateResolution(t *testing.T) {
	doc := &Document{
		Channel: "retro1", BroadcastDay: "2026-08-03", Timezone: "UTC", // a Monday
		Templates: map[string][]Slot{
			"weeknight": {{Start: "22:00", SlotMinutes: 30, Content: SlotContent{Kind: ContentAsset, AssetID: "cheers-s06e01"}}},
		},
		Schedule: map[string]DaySchedule{
			"monday": {TemplateName: "weeknight"},
		},
	}
	res, err := Compile(doc, twoSlotResolver(), Options{GridMinutes: 30})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(res.ProgramBlocks) != 1 || res.ProgramBlocks[0].AssetID != "cheers-s06e01" {
		t.Fatalf("template resolution failed: %+v", res.ProgramBlocks)
	}
}

func TestCompile_unknownTemplateFails(t *testing.T) {
	doc := &Document{
		Channel: "retro1", BroadcastDay: "2026-08-03", Timezone: "UTC",
		Schedule: map[string]DaySchedule{"monday": {TemplateName: "does-not-exist"}},
	}
	_, err := Compile(doc, twoSlotResolver(), Options{GridMinutes: 30})
	if err == nil {
		t.Fatal("expected a CompileError for unknown template")
	}
	if _, ok := err.(*CompileError); !ok {
		t.Fatalf("error type = %T, want *CompileError", err)
	}
}
