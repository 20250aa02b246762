package schedule

import (
	"testing"

	"github.com/retrovue/retrovue-core/internal/asset"
	"github.com/retrovue/retrovue-core/internal/dsl"
	"github.com/retrovue/retrovue-core/internal/filler"
)

func TestCounterForPool(t *testing.T) {
	counter, err := CounterForPool(2, "2026-01-03", "2026-01-01")
	if err != nil {
		t.Fatalf("CounterForPool: %v", err)
	}
	if counter != 4 { // 2 days * 2 slots/day
		t.Errorf("counter = %d, want 4", counter)
	}
}

func TestCounterForPool_epochDayIsZero(t *testing.T) {
	counter, err := CounterForPool(3, "2026-01-01", "2026-01-01")
	if err != nil {
		t.Fatalf("CounterForPool: %v", err)
	}
	if counter != 0 {
		t.Errorf("counter = %d, want 0", counter)
	}
}

type fixedDocSource struct{ doc *dsl.Document }

func (f fixedDocSource) Document(channelID string) (*dsl.Document, error) { return f.doc, nil }

type fixedFillerSource struct {
	pool []filler.Asset
	pad  filler.PadAsset
}

func (f fixedFillerSource) Pool(channelID string) []filler.Asset { return f.pool }
func (f fixedFillerSource) Pad(channelID string) filler.PadAsset { return f.pad }

func twoSlotDoc() *dsl.Document {
	return &dsl.Document{
		Channel:      "retro1",
		BroadcastDay: "2026-01-05", // a Monday
		Timezone:     "UTC",
		Schedule: map[string]dsl.DaySchedule{
			"monday": {Slots: []dsl.Slot{
				{Start: "22:00", SlotMinutes: 30, Content: dsl.SlotContent{Kind: dsl.ContentAsset, AssetID: "cheers-101"}},
				{Start: "22:30", SlotMinutes: 30, Content: dsl.SlotContent{Kind: dsl.ContentAsset, AssetID: "taxi-101"}},
			}},
		},
	}
}

func twoSlotResolver() *asset.Fake {
	return asset.NewFake().
		Add(asset.Metadata{ID: "cheers-101", DurationMS: 22 * 60 * 1000, URI: "/media/cheers-101.mp4"}).
		Add(asset.Metadata{ID: "taxi-101", DurationMS: 21 * 60 * 1000, URI: "/media/taxi-101.mp4"})
}

func TestService_compileDayProducesContiguousSeamReadyBlocks(t *testing.T) {
	svc := NewService(
		twoSlotResolver(),
		fixedFillerSource{pool: []filler.Asset{{URI: "/filler/60min.mp4", DurationMS: 60 * 60 * 1000}}},
		fixedDocSource{doc: twoSlotDoc()},
		30, 3, "2026-01-01",
	)

	blocks, err := svc.CompileDay("retro1", "2026-01-05")
	if err != nil {
		t.Fatalf("CompileDay: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("len(blocks) = %d, want 2", len(blocks))
	}
	if blocks[0].EndUTCMS != blocks[1].StartUTCMS {
		t.Errorf("blocks not seam-contiguous: %d != %d", blocks[0].EndUTCMS, blocks[1].StartUTCMS)
	}
	for _, b := range blocks {
		if b.SegmentsDurationMS() != b.DurationMS() {
			t.Errorf("block %s: segments sum %d != block duration %d", b.BlockID, b.SegmentsDurationMS(), b.DurationMS())
		}
	}
}

func TestService_extendDayInsertsIntoStore(t *testing.T) {
	svc := NewService(
		twoSlotResolver(),
		fixedFillerSource{pool: []filler.Asset{{URI: "/filler/60min.mp4", DurationMS: 60 * 60 * 1000}}},
		fixedDocSource{doc: twoSlotDoc()},
		30, 3, "2026-01-01",
	)
	if err := svc.ExtendDay("retro1", "2026-01-05"); err != nil {
		t.Fatalf("ExtendDay: %v", err)
	}
	if svc.StoreFor("retro1").Len() != 2 {
		t.Errorf("store len = %d, want 2", svc.StoreFor("retro1").Len())
	}
}

func TestService_getPlayoutPlanNowProjectsFromCoveringBlock(t *testing.T) {
	svc := NewService(
		twoSlotResolver(),
		fixedFillerSource{pool: []filler.Asset{{URI: "/filler/60min.mp4", DurationMS: 60 * 60 * 1000}}},
		fixedDocSource{doc: twoSlotDoc()},
		30, 3, "2026-01-01",
	)
	if err := svc.ExtendDay("retro1", "2026-01-05"); err != nil {
		t.Fatalf("ExtendDay: %v", err)
	}
	all := svc.StoreFor("retro1").GetAllEntries()
	midFirstBlock := all[0].StartUTCMS + 60*1000

	entries, err := svc.GetPlayoutPlanNow("retro1", midFirstBlock, 0)
	if err != nil {
		t.Fatalf("GetPlayoutPlanNow: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one projected entry")
	}
	if entries[0].StartTimeUTCMS != all[0].StartUTCMS {
		t.Errorf("first entry start = %d, want %d", entries[0].StartTimeUTCMS, all[0].StartUTCMS)
	}
}

func TestService_getPlayoutPlanNowNoCoveringBlock(t *testing.T) {
	svc := NewService(
		twoSlotResolver(),
		fixedFillerSource{},
		fixedDocSource{doc: twoSlotDoc()},
		30, 3, "2026-01-01",
	)
	if _, err := svc.GetPlayoutPlanNow("retro1", 0, 0); err != ErrNoCoveringBlock {
		t.Errorf("err = %v, want ErrNoCoveringBlock", err)
	}
}

func TestService_maybeExtendHorizonSkipsWhenCoverageSufficient(t *testing.T) {
	svc := NewService(
		twoSlotResolver(),
		fixedFillerSource{pool: []filler.Asset{{URI: "/filler/60min.mp4", DurationMS: 60 * 60 * 1000}}},
		fixedDocSource{doc: twoSlotDoc()},
		30, 3, "2026-01-01",
	)
	if err := svc.ExtendDay("retro1", "2026-01-05"); err != nil {
		t.Fatalf("ExtendDay: %v", err)
	}
	windowEnd, _ := svc.StoreFor("retro1").WindowEnd()
	nowMS := windowEnd - 23*60*60*1000 // 23h of remaining coverage, well above a 6h threshold

	extended, err := svc.MaybeExtendHorizon("retro1", nowMS, 6, func() string { return "2026-01-06" })
	if err != nil {
		t.Fatalf("MaybeExtendHorizon: %v", err)
	}
	if extended {
		t.Error("should not have extended: coverage is well above threshold")
	}
}
