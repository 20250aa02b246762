// Package hls implements the stateful TS-to-HLS segmenter (C9b). It accepts
// arbitrary, possibly non-188-aligned byte chunks from the fanout reader,
// detects keyframe boundaries packet by packet, measures segment duration
// from PCR (falling back to wall-clock on absence or discontinuity), and
// maintains a bounded ring of finalized segments with a regenerate-on-finalize
// M3U8 playlist.
package hls

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	tsPacketSize  = 188
	tsSyncByte    = 0x47
	defaultTarget = 2 * time.Second
	defaultRing   = 10
)

// Mode distinguishes a segmenter fed from the live TS fanout (tee) from one
// reading an independently materialized file (standalone), per the
// original HLSManager's two operating modes.
type Mode int

const (
	ModeTee Mode = iota
	ModeStandalone
)

// Segment is one finalized, immutable chunk of the rolling ring.
type Segment struct {
	Index      int
	Name       string
	Data       []byte
	DurationMS int64
}

// Segmenter is safe for concurrent use: Write is called from a single
// fanout reader goroutine, while Playlist/GetSegment/WaitForPlaylist are
// called from HTTP handler goroutines.
type Segmenter struct {
	mode Mode

	targetDurationMS int64
	maxSegments      int

	mu         sync.Mutex
	cond       *sync.Cond
	leftover   []byte
	syncLosses int

	pmtPID    uint16
	pmtPIDSet bool
	pcrPID    uint16
	pcrPIDSet bool

	curBuf        []byte
	curStartWall  time.Time
	curPCRTicks   uint64
	curPCRSet     bool
	curDurationMS int64
	haveCurrent   bool

	segments      []Segment
	mediaSequence int
	nextIndex     int
	closed        bool

	warnLimiter *rate.Sometimes
}

// NewTee constructs a segmenter that consumes the same byte stream the TS
// fanout reader publishes to viewers.
func NewTee(targetDuration time.Duration, maxSegments int) *Segmenter {
	return newSegmenter(ModeTee, targetDuration, maxSegments)
}

// NewStandalone constructs a segmenter fed independently of the live
// fanout (e.g. from a materialized recording), for channels where the
// live TS path is disabled but HLS output is still wanted.
func NewStandalone(targetDuration time.Duration, maxSegments int) *Segmenter {
	return newSegmenter(ModeStandalone, targetDuration, maxSegments)
}

func newSegmenter(mode Mode, targetDuration time.Duration, maxSegments int) *Segmenter {
	if targetDuration <= 0 {
		targetDuration = defaultTarget
	}
	if maxSegments <= 0 {
		maxSegments = defaultRing
	}
	s := &Segmenter{
		mode:             mode,
		targetDurationMS: targetDuration.Milliseconds(),
		maxSegments:      maxSegments,
		warnLimiter:      &rate.Sometimes{Interval: 10 * time.Second},
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Write feeds the segmenter an arbitrary-length byte chunk, which may
// begin or end mid-packet; the leftover buffer carries any partial
// packet across calls.
func (s *Segmenter) Write(chunk []byte, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("hls: segmenter closed")
	}
	buf := append(s.leftover, chunk...)
	i := 0
	for i+tsPacketSize <= len(buf) {
		if buf[i] != tsSyncByte {
			s.syncLosses++
			i++
			continue
		}
		s.observePacket(buf[i:i+tsPacketSize], now)
		i += tsPacketSize
	}
	s.leftover = append([]byte(nil), buf[i:]...)
	return nil
}

func (s *Segmenter) observePacket(pkt []byte, now time.Time) {
	pid := (uint16(pkt[1]&0x1F) << 8) | uint16(pkt[2])
	pusi := (pkt[1] & 0x40) != 0
	afc := (pkt[3] >> 4) & 0x03
	hasPayload := afc == 1 || afc == 3
	hasAdapt := afc == 2 || afc == 3

	keyframe := false
	payloadOff := 4
	if hasAdapt && payloadOff < len(pkt) {
		alen := int(pkt[payloadOff])
		payloadOff++
		if payloadOff+alen <= len(pkt) && alen > 0 {
			flags := pkt[payloadOff]
			if flags&0x40 != 0 { // random_access_indicator
				keyframe = true
			}
			if flags&0x10 != 0 && alen >= 7 {
				if pcr, ok := parseTSPCR(pkt[payloadOff+1 : payloadOff+7]); ok {
					s.observePCR(pcr, now)
				}
			}
		}
		payloadOff += alen
	}

	if pid == 0 && pusi {
		s.parsePAT(pkt, payloadOff)
	} else if s.pmtPIDSet && pid == s.pmtPID && pusi {
		s.parsePMT(pkt, payloadOff)
	} else if pusi && hasPayload && payloadOff < len(pkt) {
		if containsIDROrSPS(pkt[payloadOff:]) {
			keyframe = true
		}
	}

	if !s.haveCurrent {
		s.startSegment(now)
	}

	if s.shouldFinalize(now, keyframe) {
		s.finalizeCurrent(now)
		s.startSegment(now)
	}
	s.curBuf = append(s.curBuf, pkt...)
}

func (s *Segmenter) observePCR(ticks uint64, now time.Time) {
	if !s.curPCRSet {
		s.curPCRTicks = ticks
		s.curPCRSet = true
		return
	}
	deltaMS := pcrDeltaMS(s.curPCRTicks, ticks)
	maxDeltaMS := int64(math.Max(float64(10*s.targetDurationMS), 120000))
	if deltaMS < 0 || deltaMS > maxDeltaMS {
		// discontinuity: fall back to wall-clock for this segment's duration
		s.warnLimiter.Do(func() {
			log.Printf("hls: PCR discontinuity (delta %d ms), using wall-clock segment duration", deltaMS)
		})
		s.curDurationMS = now.Sub(s.curStartWall).Milliseconds()
		return
	}
	s.curDurationMS = deltaMS
}

// shouldFinalize reports whether the buffered segment has reached target
// duration and the incoming packet is a keyframe start.
func (s *Segmenter) shouldFinalize(now time.Time, keyframe bool) bool {
	if !keyframe || len(s.curBuf) == 0 {
		return false
	}
	estimate := s.curDurationMS
	if !s.curPCRSet {
		estimate = now.Sub(s.curStartWall).Milliseconds()
	}
	return estimate >= s.targetDurationMS
}

func (s *Segmenter) startSegment(now time.Time) {
	s.curBuf = nil
	s.curStartWall = now
	s.curPCRSet = false
	s.curDurationMS = 0
	s.haveCurrent = true
}

func (s *Segmenter) finalizeCurrent(now time.Time) {
	if len(s.curBuf) == 0 {
		return
	}
	durMS := s.curDurationMS
	if durMS <= 0 {
		durMS = now.Sub(s.curStartWall).Milliseconds()
	}
	seg := Segment{
		Index:      s.nextIndex,
		Name:       fmt.Sprintf("seg_%05d.ts", s.nextIndex),
		Data:       append([]byte(nil), s.curBuf...),
		DurationMS: durMS,
	}
	s.nextIndex++
	s.segments = append(s.segments, seg)
	if len(s.segments) > s.maxSegments {
		evicted := len(s.segments) - s.maxSegments
		s.segments = s.segments[evicted:]
		s.mediaSequence += evicted
	}
	s.cond.Broadcast()
}

// Playlist renders the current live.m3u8 text. Returns an error if no
// segment has finalized yet; callers use WaitForPlaylist first.
func (s *Segmenter) Playlist() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.segments) == 0 {
		return "", fmt.Errorf("hls: no segments finalized yet")
	}
	var maxDurMS int64
	for _, seg := range s.segments {
		if seg.DurationMS > maxDurMS {
			maxDurMS = seg.DurationMS
		}
	}
	targetSec := int(math.Ceil(float64(maxDurMS)/1000.0)) + 1

	out := "#EXTM3U\n#EXT-X-VERSION:3\n"
	out += fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", targetSec)
	out += fmt.Sprintf("#EXT-X-MEDIA-SEQUENCE:%d\n", s.mediaSequence)
	for _, seg := range s.segments {
		out += fmt.Sprintf("#EXTINF:%.3f,\n%s\n", float64(seg.DurationMS)/1000.0, seg.Name)
	}
	return out, nil
}

// SegmentsFinalized returns the total count of segments finalized over the
// life of the Segmenter, monotonic even after older segments are evicted
// from the ring, so a caller can derive a counter metric from periodic polls.
func (s *Segmenter) SegmentsFinalized() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextIndex
}

// GetSegment returns the bytes of a still-retained segment by name.
func (s *Segmenter) GetSegment(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seg := range s.segments {
		if seg.Name == name {
			return seg.Data, true
		}
	}
	return nil, false
}

// WaitForPlaylist blocks until at least one segment has finalized, the
// context is canceled, or timeout elapses.
func (s *Segmenter) WaitForPlaylist(ctx context.Context, timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		s.mu.Lock()
		for len(s.segments) == 0 && !s.closed {
			s.cond.Wait()
		}
		s.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return fmt.Errorf("hls: timed out waiting for playlist")
	}
}

// Close discards the pending (never-finalized) segment and stops
// accepting writes; retained segments remain servable until eviction.
func (s *Segmenter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.curBuf = nil
	s.cond.Broadcast()
}

func (s *Segmenter) parsePAT(pkt []byte, payloadOff int) {
	if payloadOff >= len(pkt) {
		return
	}
	payload := pkt[payloadOff:]
	if len(payload) < 1 {
		return
	}
	ptr := int(payload[0])
	if 1+ptr >= len(payload) {
		return
	}
	sec := payload[1+ptr:]
	if len(sec) < 8 || sec[0] != 0x00 {
		return
	}
	sectionLen := int(sec[1]&0x0F)<<8 | int(sec[2])
	if sectionLen < 9 || 3+sectionLen > len(sec) {
		return
	}
	end := 3 + sectionLen
	for i := 8; i+4 <= end-4; i += 4 {
		progNum := uint16(sec[i])<<8 | uint16(sec[i+1])
		pid := (uint16(sec[i+2]&0x1F) << 8) | uint16(sec[i+3])
		if progNum != 0 {
			s.pmtPID = pid
			s.pmtPIDSet = true
			return
		}
	}
}

func (s *Segmenter) parsePMT(pkt []byte, payloadOff int) {
	if payloadOff >= len(pkt) {
		return
	}
	payload := pkt[payloadOff:]
	if len(payload) < 1 {
		return
	}
	ptr := int(payload[0])
	if 1+ptr >= len(payload) {
		return
	}
	sec := payload[1+ptr:]
	if len(sec) < 12 || sec[0] != 0x02 {
		return
	}
	sectionLen := int(sec[1]&0x0F)<<8 | int(sec[2])
	if sectionLen < 13 || 3+sectionLen > len(sec) {
		return
	}
	s.pcrPID = (uint16(sec[8]&0x1F) << 8) | uint16(sec[9])
	s.pcrPIDSet = true
}

// parseTSPCR extracts the 27MHz PCR value (base*300+ext) from a 6-byte
// adaptation-field PCR field.
func parseTSPCR(b []byte) (uint64, bool) {
	if len(b) < 6 {
		return 0, false
	}
	base := (uint64(b[0]) << 25) |
		(uint64(b[1]) << 17) |
		(uint64(b[2]) << 9) |
		(uint64(b[3]) << 1) |
		(uint64(b[4]) >> 7)
	ext := (uint64(b[4]&0x01) << 8) | uint64(b[5])
	return base*300 + ext, true
}

// pcrDeltaMS converts a difference of raw 27MHz ticks into milliseconds.
func pcrDeltaMS(prev, cur uint64) int64 {
	if cur < prev {
		return -1
	}
	return int64((cur - prev) / 27000)
}

// containsIDROrSPS scans a PUSI payload for a PES header followed by
// Annex-B NAL units, reporting whether an IDR (type 5) or SPS (type 7)
// NAL start appears before the payload ends.
func containsIDROrSPS(payload []byte) bool {
	if len(payload) < 9 || payload[0] != 0x00 || payload[1] != 0x00 || payload[2] != 0x01 {
		return false
	}
	hdrLen := int(payload[8])
	off := 9 + hdrLen
	if off >= len(payload) {
		return false
	}
	nal := payload[off:]
	for i := 0; i+3 < len(nal); i++ {
		if nal[i] == 0x00 && nal[i+1] == 0x00 && nal[i+2] == 0x01 {
			nalType := nal[i+3] & 0x1F
			if nalType == 5 || nalType == 7 {
				return true
			}
			i += 2
		}
	}
	return false
}
