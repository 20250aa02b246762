// Command retrovue-runtime boots the broadcast runtime core: it loads
// per-channel YAML configuration, builds a schedule service and horizon
// manager shared across every channel, starts one producer/fanout/HLS
// pipeline per channel, and serves the HTTP surface (stream, HLS, EPG,
// metrics) until interrupted.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/retrovue/retrovue-core/internal/asrun"
	"github.com/retrovue/retrovue-core/internal/asset"
	"github.com/retrovue/retrovue-core/internal/channel"
	"github.com/retrovue/retrovue-core/internal/channelconfig"
	"github.com/retrovue/retrovue-core/internal/clock"
	"github.com/retrovue/retrovue-core/internal/config"
	"github.com/retrovue/retrovue-core/internal/fanout"
	"github.com/retrovue/retrovue-core/internal/hls"
	"github.com/retrovue/retrovue-core/internal/horizon"
	"github.com/retrovue/retrovue-core/internal/metrics"
	"github.com/retrovue/retrovue-core/internal/producer"
	"github.com/retrovue/retrovue-core/internal/schedule"
	"github.com/retrovue/retrovue-core/internal/server"
	"github.com/retrovue/retrovue-core/internal/supervisor"
)

func main() {
	envFile := flag.String("env-file", ".env", "optional dotenv file loaded into the environment before config is read")
	configDirFlag := flag.String("config-dir", "", "directory of per-channel YAML config files (overrides RETROVUE_CHANNEL_CONFIG_DIR)")
	flag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		log.Printf("retrovue-runtime: env file %s: %v", *envFile, err)
	}
	cfg := config.Load()
	if *configDirFlag != "" {
		cfg.ChannelConfigDir = *configDirFlag
	}

	resolver, err := asset.OpenSQLiteResolver(cfg.CatalogDBPath)
	if err != nil {
		log.Fatalf("retrovue-runtime: open catalog: %v", err)
	}
	defer resolver.Close()

	asrunWriter, err := asrun.NewWriter(cfg.AsRunDBPath)
	if err != nil {
		log.Fatalf("retrovue-runtime: open as-run log: %v", err)
	}
	defer asrunWriter.Close()

	provider, loadErrs := channelconfig.NewProvider(cfg.ChannelConfigDir)
	for _, e := range loadErrs {
		log.Printf("retrovue-runtime: channel config: %v", e)
	}
	channelIDs := provider.ChannelIDs()
	if len(channelIDs) == 0 {
		log.Fatalf("retrovue-runtime: no channel configs loaded from %s", cfg.ChannelConfigDir)
	}

	sched := schedule.NewService(resolver, provider, provider, cfg.GridMinutes, cfg.HorizonDays, cfg.FixedEpochDate)

	sysClock := clock.Default()
	hz := horizon.NewManager(sched, sysClock, cfg.HorizonDays, cfg.RecompileThresholdHours, cfg.ProactiveExtendThreshold, cfg.ProgrammingDayStartHour, cfg.MinEPGDays)

	srv := server.NewServer(cfg.ListenAddr, provider, sched, promhttp.Handler())
	srv.ViewerQueueDepth = cfg.ViewerQueueDepth
	srv.WaitForPlaylistTimeout = cfg.WaitForPlaylistTimeout

	channels := make(map[string]*channel.Channel)
	fanouts := make(map[string]*fanout.Fanout)
	hlsSegmenters := make(map[string]*hls.Segmenter)
	now := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, id := range channelIDs {
		chCfg, _ := provider.ChannelConfig(id)

		hz.EvaluateOnce(id) // build the initial horizon before starting the channel

		seg := hls.NewTee(cfg.HLSTargetDuration, cfg.HLSMaxSegments)
		fo := fanout.New(id, seg)

		p := producer.NewExec(producer.FFmpegArgs)
		ch := channel.New(id, p, sched.StoreFor(id), asrunWriter, channel.Config{
			PrefeedLeadTime:             5 * time.Second,
			SwitchLeadTime:              200 * time.Millisecond,
			MinPrefeedLeadTime:          cfg.MinPrefeedLeadTime,
			MaxStartupConvergenceWindow: cfg.MaxStartupConvergenceWindow,
		}, now)

		plan, err := sched.GetPlayoutPlanNow(id, now.UnixMilli(), 0)
		if err != nil {
			log.Printf("retrovue-runtime: channel %s: no playout plan yet: %v", id, err)
			continue
		}
		if err := ch.Start(now, plan); err != nil {
			log.Printf("retrovue-runtime: channel %s: start: %v", id, err)
			continue
		}

		channels[id] = ch
		fanouts[id] = fo
		hlsSegmenters[id] = seg
		srv.RegisterChannel(id, &server.ChannelRuntime{ChannelNumInt: chCfg.ChannelNum, Name: chCfg.Name, Fanout: fo, HLS: seg})

		go runFanout(id, fo, p)
		go supervisor.Supervise(ctx, id, p, func() []schedule.PlayoutEntry {
			plan, _ := sched.GetPlayoutPlanNow(id, time.Now().UnixMilli(), 0)
			return plan
		}, supervisor.Policy{HealthPollInterval: time.Second, RestartDelay: 2 * time.Second}, func() {
			go runFanout(id, fo, p)
		})
		log.Printf("retrovue-runtime: channel %s (%s) started", id, chCfg.Name)
	}

	go dispatchTicks(ctx, channels, hz, time.Duration(float64(time.Second)/cfg.TickHz))
	go reportMetrics(ctx, channels, fanouts, hlsSegmenters, time.Second)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	serverDone := make(chan error, 1)
	go func() { serverDone <- srv.ListenAndServe(ctx) }()

	select {
	case <-sig:
		log.Print("retrovue-runtime: shutdown signal received")
	case err := <-serverDone:
		if err != nil {
			log.Printf("retrovue-runtime: server: %v", err)
		}
	}

	cancel()
	for id, ch := range channels {
		if err := ch.Stop(); err != nil {
			log.Printf("retrovue-runtime: channel %s: stop: %v", id, err)
		}
	}
}

// runFanout bridges one channel's producer stream to its fanout, retrying
// the read loop if the producer hands back a stream endpoint late (it is
// only set once the pipeline process has actually started).
func runFanout(channelID string, fo *fanout.Fanout, p producer.Producer) {
	for i := 0; i < 50; i++ {
		if r := p.StreamEndpoint(); r != nil {
			if err := fo.Run(context.Background(), r); err != nil {
				log.Printf("retrovue-runtime: channel %s: fanout: %v", channelID, err)
			}
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	log.Printf("retrovue-runtime: channel %s: producer never exposed a stream endpoint", channelID)
}

// dispatchTicks drives every channel's Tick at tickInterval and the horizon
// manager's EvaluateOnce once a second, all from this one goroutine, which
// satisfies the channel package's single-dispatcher-goroutine-per-channel
// contract.
func dispatchTicks(ctx context.Context, channels map[string]*channel.Channel, hz *horizon.Manager, tickInterval time.Duration) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	horizonTicker := time.NewTicker(time.Second)
	defer horizonTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, ch := range channels {
				ch.Tick(now)
			}
		case <-horizonTicker.C:
			for id := range channels {
				hz.EvaluateOnce(id)
			}
		}
	}
}

// reportMetrics polls the per-channel lifecycle, viewer-count, and HLS
// segment-finalization state that has no natural event hook and republishes
// it as gauges/counters.
func reportMetrics(ctx context.Context, channels map[string]*channel.Channel, fanouts map[string]*fanout.Fanout, segmenters map[string]*hls.Segmenter, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	lastFinalized := make(map[string]int, len(segmenters))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for id, ch := range channels {
				metrics.ChannelState.WithLabelValues(id).Set(metrics.LifecycleStateValue(string(ch.Lifecycle())))
			}
			for id, fo := range fanouts {
				metrics.FanoutViewers.WithLabelValues(id).Set(float64(fo.ViewerCount()))
			}
			for id, seg := range segmenters {
				finalized := seg.SegmentsFinalized()
				if delta := finalized - lastFinalized[id]; delta > 0 {
					metrics.HLSSegmentsFinalizedTotal.WithLabelValues(id).Add(float64(delta))
				}
				lastFinalized[id] = finalized
			}
		}
	}
}
