// Package channel implements the channel manager (C7): the hardest
// component in the runtime core. Owns one channel's state machine and one
// producer at a time, guaranteeing output liveness across block
// boundaries, content deficits, and producer recovery.
package channel

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/retrovue/retrovue-core/internal/producer"
	"github.com/retrovue/retrovue-core/internal/schedule"
)

// LifecycleState is the channel's outer run state.
type LifecycleState string

const (
	StateIdle     LifecycleState = "IDLE"
	StateLoading  LifecycleState = "LOADING"
	StateRunning  LifecycleState = "RUNNING"
	StateStopping LifecycleState = "STOPPING"
	StateFailed   LifecycleState = "FAILED"
)

// BoundaryState tracks a single upcoming swap.
type BoundaryState string

const (
	BoundaryPlanned       BoundaryState = "PLANNED"
	BoundaryPrefeedIssued BoundaryState = "PREFEED_ISSUED"
	BoundarySwitchIssued  BoundaryState = "SWITCH_ISSUED"
	BoundaryLive          BoundaryState = "LIVE"
	BoundaryFailed        BoundaryState = "FAILED_TERMINAL"
)

// SwitchState is orthogonal to BoundaryState: it tracks only the
// preview/commit handshake with the producer.
type SwitchState string

const (
	SwitchIdle      SwitchState = "IDLE"
	SwitchArmed     SwitchState = "ARMED"
	SwitchCommitted SwitchState = "COMMITTED"
)

// BlockSource is the subset of schedule.Service the channel manager needs:
// the covering-block lookup it polls every tick.
type BlockSource interface {
	GetBlockAt(utcMS int64) (schedule.Block, error)
}

// AsRunSink receives the as-run records the channel manager emits as it
// drives boundaries (C11 consumes these; tests may use a no-op/recording
// sink instead of wiring the real log).
type AsRunSink interface {
	SegStart(channelID string, segmentIndex int, assetPath string, atUTCMS int64)
	Terminal(channelID string, segmentIndex int, status string, runtimeRecovery bool, atUTCMS int64, framesEmitted int64)
	Fence(channelID string, swapTick, fenceTick, framesEmitted, frameBudgetRemaining int64, reason string, atUTCMS int64)
}

// Config carries the lead times and deadlines §4.7 and §6 name.
type Config struct {
	PrefeedLeadTime             time.Duration // typical 5s, the scheduled point to attempt PREFEED_ISSUED
	SwitchLeadTime              time.Duration // sub-second, the scheduled point to attempt SWITCH_ISSUED
	MinPrefeedLeadTime          time.Duration // feasibility floor
	MaxStartupConvergenceWindow time.Duration
}

// Channel owns one channel's full C7 state. tick() is its sole mutator for
// boundaryState/switchState/converged/convergenceDeadline; every other
// method only reads.
type Channel struct {
	ID string

	producer producer.Producer
	blocks   BlockSource
	asrun    AsRunSink
	cfg      Config

	mu sync.RWMutex

	lifecycle LifecycleState
	boundary  BoundaryState
	swtch     SwitchState

	converged           bool
	convergenceDeadline time.Time
	pendingFatal        bool

	currentBlock      *schedule.Block
	segmentEndTimeUTC time.Time // the boundary currently being tracked
	segmentIndex      int

	inDeficit      bool
	segmentDeficit bool // inDeficit snapshotted at the outgoing segment's commitSwap, for its Terminal record
	lastTick       time.Time
}

// New constructs a freshly-created channel: not converged, with a
// convergence deadline MaxStartupConvergenceWindow from now.
func New(id string, p producer.Producer, blocks BlockSource, asrun AsRunSink, cfg Config, now time.Time) *Channel {
	return &Channel{
		ID:                  id,
		producer:            p,
		blocks:              blocks,
		asrun:               asrun,
		cfg:                 cfg,
		lifecycle:            StateIdle,
		boundary:            BoundaryPlanned,
		swtch:               SwitchIdle,
		convergenceDeadline: now.Add(cfg.MaxStartupConvergenceWindow),
		lastTick:            now,
	}
}

// Start brings the channel up: locates the block covering now, starts the
// producer against the projected playout plan, and begins boundary
// tracking at that block's end.
func (c *Channel) Start(now time.Time, plan []schedule.PlayoutEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lifecycle = StateLoading

	block, err := c.blocks.GetBlockAt(now.UnixMilli())
	if err != nil {
		c.lifecycle = StateFailed
		return fmt.Errorf("channel %s: no covering block at start: %w", c.ID, err)
	}
	if err := c.producer.Start(plan, now); err != nil {
		c.lifecycle = StateFailed
		return fmt.Errorf("channel %s: producer start: %w", c.ID, err)
	}
	c.currentBlock = &block
	c.segmentEndTimeUTC = time.UnixMilli(block.EndUTCMS).UTC()
	c.lifecycle = StateRunning
	if c.asrun != nil && len(block.Segments) > 0 {
		c.asrun.SegStart(c.ID, c.segmentIndex, block.Segments[0].AssetURI, now.UnixMilli())
	}
	return nil
}

// Tick runs one pass of the §4.7.4 contract. Must be called from a single
// dispatcher goroutine per channel, at ≥10 Hz.
func (c *Channel) Tick(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dt := now.Sub(c.lastTick)
	if dt < 0 {
		dt = 0
	}
	c.lastTick = now

	if c.lifecycle != StateRunning {
		return
	}

	if c.pendingFatal {
		c.failTerminal(now, "pending fatal")
		return
	}
	if !c.converged && now.After(c.convergenceDeadline) {
		log.Printf("channel[%s]: INV-STARTUP-CONVERGENCE-001 FATAL: Convergence timeout expired", c.ID)
		c.pendingFatal = true
		return
	}

	c.evaluateBoundary(now)
	c.producer.OnPacedTick(now, dt)

	if f, ok := c.producer.(interface{ ContentDeficit() bool }); ok {
		deficit := f.ContentDeficit()
		if deficit && !c.inDeficit {
			log.Printf("channel[%s]: CONTENT_DEFICIT_FILL_START segment=%d", c.ID, c.segmentIndex)
			c.inDeficit = true
		} else if !deficit && c.inDeficit {
			log.Printf("channel[%s]: CONTENT_DEFICIT_FILL_END segment=%d", c.ID, c.segmentIndex)
			c.inDeficit = false
		}
	}
}

func (c *Channel) failTerminal(now time.Time, reason string) {
	c.boundary = BoundaryFailed
	c.lifecycle = StateFailed
	_ = c.producer.Stop()
	log.Printf("channel[%s]: FAILED (%s)", c.ID, reason)
}

// evaluateBoundary advances boundaryState/switchState/converged per
// §4.7.1/§4.7.2. It is the only place that mutates those fields.
func (c *Channel) evaluateBoundary(now time.Time) {
	boundary := c.segmentEndTimeUTC
	leadTime := boundary.Sub(now)

	switch c.boundary {
	case BoundaryPlanned:
		if leadTime > c.cfg.PrefeedLeadTime {
			return // not time to act yet
		}
		if leadTime < c.cfg.MinPrefeedLeadTime {
			c.handleInfeasibleBoundary(now, leadTime)
			return
		}
		next, err := c.nextAsset()
		if err != nil {
			// no planned content yet for the next boundary; wait for the
			// horizon manager to extend coverage and retry next tick
			return
		}
		if err := c.producer.LoadPreview(next.AssetPath, 0, 0, 30, 1); err != nil {
			c.handleInfeasibleBoundary(now, leadTime)
			return
		}
		c.boundary = BoundaryPrefeedIssued
		c.swtch = SwitchArmed

	case BoundaryPrefeedIssued:
		if leadTime > c.cfg.SwitchLeadTime {
			return
		}
		c.swtch = SwitchCommitted
		res, err := c.producer.SwitchToLive(boundary)
		if err != nil {
			c.handleSwapFailure(now, err)
			return
		}
		c.boundary = BoundarySwitchIssued
		c.commitSwap(now, res)

	case BoundarySwitchIssued:
		// commitSwap already advanced us to LIVE synchronously above; a
		// real producer that acks asynchronously would be polled here.
		c.advanceToNextBoundary(now)

	case BoundaryLive:
		c.advanceToNextBoundary(now)

	case BoundaryFailed:
		// terminal; nothing to do until restarted externally
	}
}

func (c *Channel) nextAsset() (schedule.PlayoutEntry, error) {
	if c.currentBlock == nil {
		return schedule.PlayoutEntry{}, fmt.Errorf("no current block")
	}
	nextBlock, err := c.blocks.GetBlockAt(c.currentBlock.EndUTCMS)
	if err != nil {
		return schedule.PlayoutEntry{}, err
	}
	if len(nextBlock.Segments) == 0 {
		return schedule.PlayoutEntry{}, fmt.Errorf("block %s has no segments", nextBlock.BlockID)
	}
	return schedule.PlayoutEntry{AssetPath: nextBlock.Segments[0].AssetURI, StartPTSMS: nextBlock.Segments[0].AssetStartOffsetMS}, nil
}

// handleInfeasibleBoundary implements §4.7.2's skip-vs-fatal split.
func (c *Channel) handleInfeasibleBoundary(now time.Time, leadTime time.Duration) {
	if !c.converged {
		log.Printf("channel[%s]: STARTUP_BOUNDARY_SKIPPED boundary=%s lead_time=%s min_required=%s",
			c.ID, c.segmentEndTimeUTC.Format(time.RFC3339), leadTime, c.cfg.MinPrefeedLeadTime)
		c.advanceSegmentEndPastBoundary(now)
		return
	}
	log.Printf("channel[%s]: INV-STARTUP-BOUNDARY-FEASIBILITY-001 FATAL: infeasible boundary after convergence", c.ID)
	c.pendingFatal = true
}

func (c *Channel) handleSwapFailure(now time.Time, err error) {
	c.swtch = SwitchIdle
	if !c.converged {
		log.Printf("channel[%s]: pre-convergence swap failure (%v), skipping boundary", c.ID, err)
		c.boundary = BoundaryPlanned
		c.advanceSegmentEndPastBoundary(now)
		return
	}
	log.Printf("channel[%s]: post-convergence swap failure: %v", c.ID, err)
	c.boundary = BoundaryFailed
	c.pendingFatal = true
}

// advanceSegmentEndPastBoundary skips the current boundary entirely and
// retargets tracking at the block after it, per the startup-skip contract.
func (c *Channel) advanceSegmentEndPastBoundary(now time.Time) {
	nextBlock, err := c.blocks.GetBlockAt(c.segmentEndTimeUTC.UnixMilli())
	if err != nil {
		// nothing planned yet; retry from the same boundary next tick
		return
	}
	c.currentBlock = &nextBlock
	c.segmentEndTimeUTC = time.UnixMilli(nextBlock.EndUTCMS).UTC()
	c.segmentIndex++
}

// commitSwap reads back swap_tick, emits the FENCE record, and transitions
// to LIVE. This is the tick the outgoing segment actually stops airing and
// the incoming one starts, so it snapshots inDeficit for advanceToNextBoundary
// to use later (the live flag may flip again before that bookkeeping runs, on
// the same or a later tick, once it reflects the new segment instead of the
// one that just ended) and emits SEG_START for the incoming segment. On a
// channel's first successful commit, convergence latches.
func (c *Channel) commitSwap(now time.Time, res producer.SwapResult) {
	c.segmentDeficit = c.inDeficit

	fenceTick := res.SwapTick // the fake/exec producers ack synchronously at the requested tick
	if c.asrun != nil {
		c.asrun.Fence(c.ID, res.SwapTick, fenceTick, 0, 0, "boundary_swap", now.UnixMilli())
	}

	if c.asrun != nil && c.currentBlock != nil {
		if nextBlock, err := c.blocks.GetBlockAt(c.currentBlock.EndUTCMS); err == nil && len(nextBlock.Segments) > 0 {
			c.asrun.SegStart(c.ID, c.segmentIndex+1, nextBlock.Segments[0].AssetURI, now.UnixMilli())
		}
	}

	c.boundary = BoundaryLive
	c.swtch = SwitchIdle
	if !c.converged {
		c.converged = true
		c.convergenceDeadline = time.Time{}
	}
}

// advanceToNextBoundary rolls tracking forward to the block that is now
// current, resetting boundary/switch state for the next cycle.
func (c *Channel) advanceToNextBoundary(now time.Time) {
	if c.currentBlock == nil {
		return
	}
	nextBlock, err := c.blocks.GetBlockAt(c.currentBlock.EndUTCMS)
	if err != nil {
		return // horizon not yet extended that far; retry next tick
	}
	if c.asrun != nil && c.currentBlock != nil {
		status := "AIRED"
		if c.segmentDeficit {
			status = "TRUNCATED"
		}
		frames := int64(producer.FrameOffset(c.currentBlock.DurationMS(), 30, 1))
		c.asrun.Terminal(c.ID, c.segmentIndex, status, c.segmentDeficit, now.UnixMilli(), frames)
	}
	c.segmentIndex++
	c.currentBlock = &nextBlock
	c.segmentEndTimeUTC = time.UnixMilli(nextBlock.EndUTCMS).UTC()
	c.boundary = BoundaryPlanned
	c.swtch = SwitchIdle
}

// Stop transitions the channel to STOPPING, stops the producer, and
// settles at IDLE.
func (c *Channel) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lifecycle = StateStopping
	err := c.producer.Stop()
	c.lifecycle = StateIdle
	return err
}

func (c *Channel) Lifecycle() LifecycleState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lifecycle
}

func (c *Channel) Boundary() BoundaryState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.boundary
}

func (c *Channel) Switch() SwitchState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.swtch
}

func (c *Channel) Converged() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.converged
}
