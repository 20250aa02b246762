// Package horizon implements the horizon manager (C6): the process-wide
// tick loop that keeps every channel's rolling execution window ahead of
// wall-clock time, proactively extending before the hard minimum is ever
// at risk, and reporting per-channel coverage health.
package horizon

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/retrovue/retrovue-core/internal/clock"
	"github.com/retrovue/retrovue-core/internal/metrics"
	"github.com/retrovue/retrovue-core/internal/schedule"
)

// ExtensionAttempt is one logged attempt to extend a channel's execution
// window, successful or not.
type ExtensionAttempt struct {
	AtUTCMS      int64
	ChannelID    string
	BroadcastDay string
	Proactive    bool
	Success      bool
	ErrorCode    string
}

// HealthReport is the per-channel coverage snapshot returned by
// GetHealthReport.
type HealthReport struct {
	ChannelID                   string
	ExecutionWindowEndUTCMS     int64
	CoverageCompliant           bool
	SeamViolation               string // empty if compliant
	ProactiveExtensionTriggered bool
	ExtensionAttemptCount       int
	ExtensionSuccessCount       int
}

type channelState struct {
	mu                     sync.Mutex
	attempts               []ExtensionAttempt
	attemptCount           int
	successCount           int
	proactiveTriggeredLast bool
}

// Manager owns the process-wide evaluate loop across every channel
// registered with it. It delegates the actual compile-and-insert work to a
// schedule.Service and adds the coverage bookkeeping and attempt logging
// the schedule service itself does not track.
type Manager struct {
	Service *schedule.Service
	Clock   clock.Clock

	HorizonDays              int
	RecompileThresholdHours  int
	ProactiveExtendThreshold time.Duration
	ProgrammingDayStartHour  int
	MinEPGDays               int

	mu       sync.Mutex
	channels map[string]*channelState
}

// NewManager constructs a Manager. Pass clock.Default() for production use
// and a clock.Controllable in tests.
func NewManager(svc *schedule.Service, c clock.Clock, horizonDays, recompileThresholdHours int, proactiveExtendThreshold time.Duration, programmingDayStartHour, minEPGDays int) *Manager {
	return &Manager{
		Service:                  svc,
		Clock:                    c,
		HorizonDays:              horizonDays,
		RecompileThresholdHours:  recompileThresholdHours,
		ProactiveExtendThreshold: proactiveExtendThreshold,
		ProgrammingDayStartHour:  programmingDayStartHour,
		MinEPGDays:               minEPGDays,
		channels:                 make(map[string]*channelState),
	}
}

func (m *Manager) stateFor(channelID string) *channelState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.channels[channelID]
	if !ok {
		st = &channelState{}
		m.channels[channelID] = st
	}
	return st
}

// EvaluateOnce runs a single evaluation pass for one channel: builds the
// initial horizon if the channel has no coverage yet, otherwise checks
// remaining depth against the proactive threshold and the hard minimum and
// extends if either is breached. Safe to call at any cadence; the schedule
// service's own single-flight guard prevents double-extension even if two
// callers race.
func (m *Manager) EvaluateOnce(channelID string) {
	st := m.stateFor(channelID)
	nowMS := clock.NowMS(m.Clock)

	store := m.Service.StoreFor(channelID)
	if store.Len() == 0 {
		m.buildInitial(channelID, nowMS, st)
		return
	}

	windowEnd, ok := store.WindowEnd()
	if !ok {
		return
	}
	remaining := time.Duration(windowEnd-nowMS) * time.Millisecond

	st.mu.Lock()
	st.proactiveTriggeredLast = false
	st.mu.Unlock()

	proactive := m.ProactiveExtendThreshold > 0 && remaining <= m.ProactiveExtendThreshold
	hardBreach := remaining <= time.Duration(m.RecompileThresholdHours)*time.Hour
	if !proactive && !hardBreach {
		return
	}

	day := time.UnixMilli(windowEnd).UTC().Format("2006-01-02")
	extended, err := m.Service.MaybeExtendHorizon(channelID, nowMS, m.RecompileThresholdHours, func() string { return day })

	proactiveLabel := "false"
	if proactive {
		proactiveLabel = "true"
	}
	metrics.HorizonExtensionAttemptsTotal.WithLabelValues(channelID, proactiveLabel).Inc()

	st.mu.Lock()
	st.proactiveTriggeredLast = proactive
	st.attemptCount++
	attempt := ExtensionAttempt{AtUTCMS: nowMS, ChannelID: channelID, BroadcastDay: day, Proactive: proactive}
	if err != nil {
		attempt.Success = false
		attempt.ErrorCode = classifyError(err)
		log.Printf("horizon: extension failed channel=%s day=%s err=%v", channelID, day, err)
	} else if extended {
		attempt.Success = true
		st.successCount++
		metrics.HorizonExtensionSuccessTotal.WithLabelValues(channelID).Inc()
	} else {
		// MaybeExtendHorizon declined (another caller already extended, or
		// coverage turned out sufficient by the time the lock was taken).
		attempt.Success = true
	}
	st.attempts = append(st.attempts, attempt)
	st.mu.Unlock()
}

func (m *Manager) buildInitial(channelID string, nowMS int64, st *channelState) {
	startDate := time.UnixMilli(nowMS).UTC().Format("2006-01-02")
	errs := m.Service.BuildInitial(channelID, startDate, m.HorizonDays)

	st.mu.Lock()
	defer st.mu.Unlock()
	for _, e := range errs {
		log.Printf("horizon: initial build error channel=%s: %v", channelID, e)
		st.attemptCount++
		metrics.HorizonExtensionAttemptsTotal.WithLabelValues(channelID, "false").Inc()
		st.attempts = append(st.attempts, ExtensionAttempt{
			AtUTCMS: nowMS, ChannelID: channelID, BroadcastDay: startDate,
			Success: false, ErrorCode: classifyError(e),
		})
	}
	st.attemptCount++
	st.successCount++
	metrics.HorizonExtensionAttemptsTotal.WithLabelValues(channelID, "false").Inc()
	metrics.HorizonExtensionSuccessTotal.WithLabelValues(channelID).Inc()
	st.attempts = append(st.attempts, ExtensionAttempt{AtUTCMS: nowMS, ChannelID: channelID, BroadcastDay: startDate, Success: true})
}

func classifyError(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%v", err)
}

// GetHealthReport returns a coverage snapshot for one channel.
func (m *Manager) GetHealthReport(channelID string) HealthReport {
	st := m.stateFor(channelID)
	store := m.Service.StoreFor(channelID)

	report := HealthReport{ChannelID: channelID}
	if end, ok := store.WindowEnd(); ok {
		report.ExecutionWindowEndUTCMS = end
	}
	if err := store.CheckContiguity(); err != nil {
		report.SeamViolation = err.Error()
	} else {
		report.CoverageCompliant = true
	}

	st.mu.Lock()
	report.ProactiveExtensionTriggered = st.proactiveTriggeredLast
	report.ExtensionAttemptCount = st.attemptCount
	report.ExtensionSuccessCount = st.successCount
	st.mu.Unlock()
	return report
}

// ExtensionAttemptLog returns a copy of every logged attempt for a channel,
// oldest first.
func (m *Manager) ExtensionAttemptLog(channelID string) []ExtensionAttempt {
	st := m.stateFor(channelID)
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]ExtensionAttempt, len(st.attempts))
	copy(out, st.attempts)
	return out
}

// Run evaluates every channel in channels() on a steady tick until ctx is
// canceled. The rate limiter, not a bare time.Ticker, paces the dispatch so
// a slow evaluate on one channel cannot starve the others indefinitely: a
// burst of 1 lets the loop catch up after a stall without free-running.
func (m *Manager) Run(ctx context.Context, channels func() []string, tickInterval time.Duration) {
	limiter := rate.NewLimiter(rate.Every(tickInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		for _, id := range channels() {
			m.EvaluateOnce(id)
		}
		m.Service.PruneOldBlocks(clock.NowMS(m.Clock))
	}
}
