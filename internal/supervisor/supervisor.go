// Package supervisor restarts a channel's producer pipeline when its health
// degrades, the in-process analogue of the teacher's child-process restart
// loop: back off by a fixed delay, then bring it back up against a freshly
// recomputed playout plan.
package supervisor

import (
	"context"
	"log"
	"time"

	"github.com/retrovue/retrovue-core/internal/producer"
	"github.com/retrovue/retrovue-core/internal/schedule"
)

// Policy bounds how aggressively a crashed producer is restarted.
type Policy struct {
	HealthPollInterval time.Duration
	RestartDelay       time.Duration
}

// Supervise polls p.Health() at HealthPollInterval and, whenever it reports
// anything other than HealthRunning, restarts the producer against a
// freshly computed plan after RestartDelay. This is the teacher's own
// runInstanceLoop restart-with-delay-under-ctx-cancellation shape, applied
// to an in-process producer.Producer instead of a re-exec'd child process:
// there is no child PID or stdout/stderr copier here, only Stop-then-Start
// against the producer interface. onRestart, if non-nil, runs after every
// successful restart so a caller can re-attach anything keyed to the
// previous stream endpoint (a fanout reader goroutine, for instance), since
// restarting the producer invalidates the old io.Reader from
// StreamEndpoint.
func Supervise(ctx context.Context, channelID string, p producer.Producer, plan func() []schedule.PlayoutEntry, policy Policy, onRestart func()) {
	interval := policy.HealthPollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.Health() == producer.HealthRunning {
				continue
			}
			log.Printf("supervisor[%s]: producer health=%s, restarting in %s", channelID, p.Health(), policy.RestartDelay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(policy.RestartDelay):
			}
			if err := restart(p, plan); err != nil {
				log.Printf("supervisor[%s]: restart failed: %v", channelID, err)
				continue
			}
			log.Printf("supervisor[%s]: producer restarted", channelID)
			if onRestart != nil {
				onRestart()
			}
		}
	}
}

func restart(p producer.Producer, plan func() []schedule.PlayoutEntry) error {
	_ = p.Stop()
	return p.Start(plan(), time.Now())
}
