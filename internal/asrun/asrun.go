// Package asrun implements the as-run log (C11): an append-only text and
// structured record of what actually aired per channel, emitted by the
// channel manager, plus reconciliation against a planned transmission
// log. Persistence is a real embedded database, grounded on the
// teacher's own catalog storage (internal/asset's SQLiteResolver)
// promoted from the teacher's JSON-file-with-atomic-rename idiom.
package asrun

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/retrovue/retrovue-core/internal/metrics"
)

// Record is one row of the as-run log: either a SEG_START, a terminal
// status (AIRED/TRUNCATED/SKIPPED), or a FENCE.
type Record struct {
	ChannelID       string
	Kind            string // "SEG_START" | "AIRED" | "TRUNCATED" | "SKIPPED" | "FENCE"
	SegmentIndex    int
	AssetPath       string
	RuntimeRecovery bool
	ActualUTCMS     int64

	// FENCE-only fields.
	SwapTick             int64
	FenceTick            int64
	FramesEmitted        int64
	FrameBudgetRemaining int64
	Reason               string
}

// Writer implements channel.AsRunSink: SegStart/Terminal/Fence append a
// Record to an in-memory buffer (for reconciliation within the process)
// and to the durable sqlite log.
type Writer struct {
	mu      sync.Mutex
	records []Record
	db      *sql.DB
}

// NewWriter opens (creating if necessary) the sqlite-backed as-run log
// at path and ensures its schema exists. path == "" keeps the log
// in-memory only, useful for tests.
func NewWriter(path string) (*Writer, error) {
	w := &Writer{}
	if path == "" {
		return w, nil
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("asrun: open sqlite: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	w.db = db
	return w, nil
}

func migrate(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS asrun_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	segment_index INTEGER NOT NULL,
	asset_path TEXT NOT NULL DEFAULT '',
	runtime_recovery INTEGER NOT NULL DEFAULT 0,
	actual_utc_ms INTEGER NOT NULL,
	swap_tick INTEGER NOT NULL DEFAULT 0,
	fence_tick INTEGER NOT NULL DEFAULT 0,
	frames_emitted INTEGER NOT NULL DEFAULT 0,
	frame_budget_remaining INTEGER NOT NULL DEFAULT 0,
	reason TEXT NOT NULL DEFAULT ''
);`
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("asrun: migrate: %w", err)
	}
	return nil
}

// Close closes the underlying database handle, if any.
func (w *Writer) Close() error {
	if w.db == nil {
		return nil
	}
	return w.db.Close()
}

// Records returns a defensive copy of everything appended so far, for
// in-process reconciliation without a round trip through sqlite.
func (w *Writer) Records() []Record {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Record, len(w.records))
	copy(out, w.records)
	return out
}

func (w *Writer) append(r Record) {
	w.mu.Lock()
	w.records = append(w.records, r)
	w.mu.Unlock()

	metrics.AsRunRecordsTotal.WithLabelValues(r.ChannelID, r.Kind).Inc()

	if w.db == nil {
		return
	}
	recovery := 0
	if r.RuntimeRecovery {
		recovery = 1
	}
	_, err := w.db.Exec(
		`INSERT INTO asrun_records
			(channel_id, kind, segment_index, asset_path, runtime_recovery, actual_utc_ms,
			 swap_tick, fence_tick, frames_emitted, frame_budget_remaining, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ChannelID, r.Kind, r.SegmentIndex, r.AssetPath, recovery, r.ActualUTCMS,
		r.SwapTick, r.FenceTick, r.FramesEmitted, r.FrameBudgetRemaining, r.Reason,
	)
	if err != nil {
		// The in-memory copy is authoritative for the running process;
		// a durable-write failure degrades history, not live behavior.
		return
	}
}

// SegStart implements channel.AsRunSink.
func (w *Writer) SegStart(channelID string, segmentIndex int, assetPath string, atUTCMS int64) {
	w.append(Record{
		ChannelID: channelID, Kind: "SEG_START", SegmentIndex: segmentIndex,
		AssetPath: assetPath, ActualUTCMS: atUTCMS,
	})
}

// Terminal implements channel.AsRunSink. status is one of
// AIRED/TRUNCATED/SKIPPED.
func (w *Writer) Terminal(channelID string, segmentIndex int, status string, runtimeRecovery bool, atUTCMS int64, framesEmitted int64) {
	w.append(Record{
		ChannelID: channelID, Kind: status, SegmentIndex: segmentIndex,
		RuntimeRecovery: runtimeRecovery, ActualUTCMS: atUTCMS, FramesEmitted: framesEmitted,
	})
}

// Fence implements channel.AsRunSink.
func (w *Writer) Fence(channelID string, swapTick, fenceTick, framesEmitted, frameBudgetRemaining int64, reason string, atUTCMS int64) {
	w.append(Record{
		ChannelID: channelID, Kind: "FENCE",
		SwapTick: swapTick, FenceTick: fenceTick,
		FramesEmitted: framesEmitted, FrameBudgetRemaining: frameBudgetRemaining,
		Reason: reason, ActualUTCMS: atUTCMS,
	})
}

// TextLine renders a Record as one whitespace-delimited as-run text row:
// ACTUAL DUR STATUS TYPE EVENT_ID NOTES. ACTUAL is channel-local clock time
// HH:MM:SS and may exceed 23:59:59 (e.g. 24:30:00) when the record falls
// before dayStartHour on the calendar clock, i.e. still within the previous
// broadcast day.
func (r Record) TextLine(loc *time.Location, durationMS int64, dayStartHour int) string {
	if loc == nil {
		loc = time.UTC
	}
	actual := formatChannelClock(time.UnixMilli(r.ActualUTCMS).In(loc), dayStartHour)
	durSec := float64(durationMS) / 1000.0
	notes := ""
	switch r.Kind {
	case "FENCE":
		notes = fmt.Sprintf("swap_tick=%d fence_tick=%d frames_emitted=%d frame_budget_remaining=%d reason=%s",
			r.SwapTick, r.FenceTick, r.FramesEmitted, r.FrameBudgetRemaining, r.Reason)
	default:
		notes = fmt.Sprintf("segment_index=%d", r.SegmentIndex)
	}
	return fmt.Sprintf("%s %.3f %s %s %s %s", actual, durSec, r.Kind, r.ChannelID, r.AssetPath, notes)
}

// formatChannelClock renders HH:MM:SS relative to the broadcast day, which
// begins at dayStartHour rather than midnight: a calendar hour earlier than
// dayStartHour still belongs to the broadcast day that started the previous
// calendar day, so it renders as hour+24 (01:00:00 with dayStartHour=6
// becomes 25:00:00) instead of wrapping back to 00.
func formatChannelClock(t time.Time, dayStartHour int) string {
	hour := t.Hour()
	if hour < dayStartHour {
		hour += 24
	}
	return fmt.Sprintf("%02d:%02d:%02d", hour, t.Minute(), t.Second())
}
