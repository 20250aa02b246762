package producer

import (
	"io"
	"testing"
	"time"

	"github.com/retrovue/retrovue-core/internal/schedule"
)

func readN(t *testing.T, r io.Reader, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatalf("readN: %v", err)
	}
	return buf
}

func TestFake_startEmitsKeyframePacket(t *testing.T) {
	f := NewFake(0)
	plan := []schedule.PlayoutEntry{{StartTimeUTCMS: 0, EndTimeUTCMS: 30000}}
	if err := f.Start(plan, time.Now()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if f.Health() != HealthRunning {
		t.Errorf("Health() = %v, want running", f.Health())
	}
	pkt := readN(t, f.StreamEndpoint(), tsPacketSize)
	if pkt[0] != 0x47 {
		t.Errorf("sync byte = %#x, want 0x47", pkt[0])
	}
}

func TestFake_startIsIdempotent(t *testing.T) {
	f := NewFake(0)
	plan := []schedule.PlayoutEntry{{EndTimeUTCMS: 1000}}
	_ = f.Start(plan, time.Now())
	if err := f.Start(plan, time.Now()); err != nil {
		t.Errorf("second Start() = %v, want nil (idempotent)", err)
	}
}

func TestFake_loadPreviewRequiresRunning(t *testing.T) {
	f := NewFake(0)
	if err := f.LoadPreview("a.mp4", 0, 10, 30, 1); err == nil {
		t.Error("expected error when not running")
	}
}

func TestFake_switchToLiveRequiresPreview(t *testing.T) {
	f := NewFake(0)
	_ = f.Start(nil, time.Now())
	if _, err := f.SwitchToLive(time.Now()); err == nil {
		t.Error("expected ErrSwapTimeout without a loaded preview")
	}
}

func TestFake_switchToLiveSucceedsAfterPreview(t *testing.T) {
	f := NewFake(0)
	_ = f.Start(nil, time.Now())
	_ = f.LoadPreview("next.mp4", 0, 900, 30, 1)
	res, err := f.SwitchToLive(time.Now())
	if err != nil {
		t.Fatalf("SwitchToLive: %v", err)
	}
	if res.SwapTick != 1 {
		t.Errorf("SwapTick = %d, want 1", res.SwapTick)
	}

	// a second swap without a new preview should fail
	if _, err := f.SwitchToLive(time.Now()); err == nil {
		t.Error("expected failure: preview already consumed")
	}
}

func TestFake_onPacedTickEmitsContentThenDeficit(t *testing.T) {
	f := NewFake(188 * 10) // 10 packets/sec
	plan := []schedule.PlayoutEntry{{StartTimeUTCMS: 0, EndTimeUTCMS: 1000}}
	_ = f.Start(plan, time.Now())

	f.OnPacedTick(time.Now(), 500*time.Millisecond)
	if f.ContentDeficit() {
		t.Error("should not be in deficit with 500ms left of a 1000ms segment")
	}

	f.OnPacedTick(time.Now(), 600*time.Millisecond)
	if !f.ContentDeficit() {
		t.Error("should be in deficit after exceeding the segment's remaining duration")
	}
}

func TestFake_switchToLiveClearsDeficit(t *testing.T) {
	f := NewFake(0)
	plan := []schedule.PlayoutEntry{{EndTimeUTCMS: 100}}
	_ = f.Start(plan, time.Now())
	f.OnPacedTick(time.Now(), time.Second)
	if !f.ContentDeficit() {
		t.Fatal("expected deficit after exhausting a 100ms segment with a 1s tick")
	}
	_ = f.LoadPreview("next.mp4", 0, 100, 30, 1)
	if _, err := f.SwitchToLive(time.Now()); err != nil {
		t.Fatalf("SwitchToLive: %v", err)
	}
	if f.ContentDeficit() {
		t.Error("deficit should clear once the swap to the next asset lands")
	}
}

func TestFake_stopClosesStream(t *testing.T) {
	f := NewFake(0)
	_ = f.Start(nil, time.Now())
	ep := f.StreamEndpoint()
	// drain the initial keyframe packet so Stop's Close is what EOFs us
	_, _ = readAll188(ep)
	if err := f.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if f.Health() != HealthStopped {
		t.Errorf("Health() = %v, want stopped", f.Health())
	}
	buf := make([]byte, 1)
	if _, err := ep.Read(buf); err != io.EOF {
		t.Errorf("Read after Stop = %v, want io.EOF", err)
	}
}

func readAll188(r io.Reader) ([]byte, error) {
	buf := make([]byte, tsPacketSize)
	_, err := io.ReadFull(r, buf)
	return buf, err
}
