// Package metrics registers the process-wide prometheus collectors the
// runtime exposes on /metrics, giving the teacher's own
// prometheus/client_golang dependency a concrete home: channel state,
// horizon extension attempts, fanout viewer counts, and HLS/as-run
// throughput.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChannelState reports each channel's current lifecycle state as a
	// gauge (0=IDLE,1=LOADING,2=RUNNING,3=STOPPING,4=FAILED), labeled by
	// channel_id, so a single time series per channel tracks transitions.
	ChannelState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "retrovue_channel_state",
		Help: "Current lifecycle state of a channel (0=IDLE,1=LOADING,2=RUNNING,3=STOPPING,4=FAILED).",
	}, []string{"channel_id"})

	HorizonExtensionAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retrovue_horizon_extension_attempts_total",
		Help: "Count of horizon extension attempts per channel.",
	}, []string{"channel_id", "proactive"})

	HorizonExtensionSuccessTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retrovue_horizon_extension_success_total",
		Help: "Count of successful horizon extension attempts per channel.",
	}, []string{"channel_id"})

	FanoutViewers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "retrovue_fanout_viewers",
		Help: "Current number of attached HTTP viewers per channel.",
	}, []string{"channel_id"})

	HLSSegmentsFinalizedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retrovue_hls_segments_finalized_total",
		Help: "Count of HLS segments finalized per channel.",
	}, []string{"channel_id"})

	AsRunRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retrovue_asrun_records_total",
		Help: "Count of as-run records emitted per channel, labeled by kind.",
	}, []string{"channel_id", "kind"})
)

// LifecycleStateValue maps a channel.LifecycleState's string value to the
// numeric gauge value ChannelState expects, kept here rather than in
// internal/channel so the channel package stays free of a metrics import.
func LifecycleStateValue(state string) float64 {
	switch state {
	case "IDLE":
		return 0
	case "LOADING":
		return 1
	case "RUNNING":
		return 2
	case "STOPPING":
		return 3
	case "FAILED":
		return 4
	default:
		return -1
	}
}
