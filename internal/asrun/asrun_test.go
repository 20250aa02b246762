package asrun

import (
	"strings"
	"testing"
	"time"
)

func TestWriter_inMemoryRecordsCaptureAllThreeRecordKinds(t *testing.T) {
	w, err := NewWriter("")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	w.SegStart("retro1", 0, "/media/a.mp4", 1000)
	w.Terminal("retro1", 0, "AIRED", false, 2000, 900)
	w.Fence("retro1", 1, 1, 0, 0, "boundary_swap", 2000)

	records := w.Records()
	if len(records) != 3 {
		t.Fatalf("len(records) = %d, want 3", len(records))
	}
	if records[0].Kind != "SEG_START" || records[1].Kind != "AIRED" || records[2].Kind != "FENCE" {
		t.Errorf("unexpected record kinds: %+v", records)
	}
}

func TestRecord_textLineFormatsWhitespaceDelimitedRow(t *testing.T) {
	r := Record{ChannelID: "retro1", Kind: "AIRED", SegmentIndex: 3, AssetPath: "/media/a.mp4", ActualUTCMS: time.Date(2026, 1, 5, 22, 30, 0, 0, time.UTC).UnixMilli()}
	line := r.TextLine(time.UTC, 900000, 6)
	fields := strings.Fields(line)
	if len(fields) < 5 {
		t.Fatalf("expected at least 5 whitespace-delimited fields, got %d: %q", len(fields), line)
	}
	if fields[0] != "22:30:00" {
		t.Errorf("ACTUAL field = %q, want 22:30:00", fields[0])
	}
	if fields[2] != "AIRED" {
		t.Errorf("STATUS field = %q, want AIRED", fields[2])
	}
}

func TestRecord_textLineRendersPastBroadcastDayRollover(t *testing.T) {
	r := Record{ChannelID: "retro1", Kind: "AIRED", SegmentIndex: 7, ActualUTCMS: time.Date(2026, 1, 5, 0, 30, 0, 0, time.UTC).UnixMilli()}
	line := r.TextLine(time.UTC, 0, 6)
	fields := strings.Fields(line)
	if fields[0] != "24:30:00" {
		t.Errorf("ACTUAL field = %q, want 24:30:00", fields[0])
	}
}

func TestRecord_fenceTextLineCarriesTickFields(t *testing.T) {
	r := Record{ChannelID: "retro1", Kind: "FENCE", SwapTick: 5, FenceTick: 5, FrameBudgetRemaining: 0, Reason: "boundary_swap"}
	line := r.TextLine(time.UTC, 0, 6)
	if !strings.Contains(line, "swap_tick=5") || !strings.Contains(line, "fence_tick=5") {
		t.Errorf("fence text line missing tick fields: %q", line)
	}
}
