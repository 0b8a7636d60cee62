package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// decodeRingRetention is the per-channel decode history window (spec.md §3
// "Decode history", "default 15 minutes, configurable" — this hub does not
// yet expose that knob through config.go's minimal §6 field set, so the
// spec's stated default is the only value in play).
const decodeRingRetention = 15 * time.Minute

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON configuration document")
	metricsAddr := flag.String("metrics-addr", "", "override the config file's metrics.listen address")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Printf("fatal: %v", err)
		os.Exit(1)
	}
	if *metricsAddr != "" {
		cfg.Metrics.Listen = *metricsAddr
	}

	profile := StationProfileFrom(cfg.Station)

	logbook, err := NewLogbook(cfg.Logbook.Path, profile)
	if err != nil {
		log.Printf("fatal: %v", err)
		os.Exit(1)
	}
	defer logbook.Close()

	var telemetryForDecodes *MQTTTelemetry
	if cfg.Telemetry.Broker != "" {
		telemetry, err := NewMQTTTelemetry(cfg.Telemetry)
		if err != nil {
			log.Printf("telemetry: mqtt connect failed, continuing without it: %v", err)
		} else {
			logbook.SetTelemetry(telemetry)
			telemetryForDecodes = telemetry
			defer telemetry.Disconnect(context.Background())
		}
	}

	core := NewStateCore(decodeRingRetention)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var backend RadioBackend
	if cfg.Mode == ModeFlex {
		flex := NewFlexBackend()
		if cfg.Flex.CATBasePort != 0 {
			flex.WithPort(cfg.Flex.CATBasePort)
		}
		backend = flex
	} else {
		backend = NewStandardBackend()
	}

	supervisor := NewDecoderSupervisor(core, backend, logbook, profile)
	qso := NewQSOMachine(core, supervisor.EgressSenderFor)
	aiServer := NewAIToolServer(core, backend, supervisor, logbook, profile)

	supervisor.SetDecodeCallback(func(channel int, rec InternalDecodeRecord) {
		qso.OnDecode(channel, rec)
		aiServer.NotifyDecodeCycle()
		if telemetryForDecodes != nil {
			telemetryForDecodes.PublishDecode(rec.SliceLetter, rec)
		}
	})

	group, gctx := errgroup.WithContext(ctx)

	backend.OnSliceAdded(func(index int) { supervisor.OnSliceAdded(gctx, index) })
	backend.OnSliceRemoved(func(index int) { supervisor.OnSliceRemoved(index) })
	backend.OnSliceUpdated(func(index int, u BackendUpdate) { core.UpdateFromBackend(index, u) })
	backend.OnConnected(func() { core.SetBackendConnected(true) })
	backend.OnDisconnected(func() { core.SetBackendConnected(false) })
	backend.OnError(func(err error) { log.Printf("radio backend error: %v", err) })

	watchdog := NewStateWatchdog(core)
	group.Go(func() error { return watchdog.Run(gctx) })
	group.Go(func() error { return supervisor.Run(gctx) })

	if cfg.Mode == ModeFlex {
		if err := backend.Connect(cfg.Flex.Host); err != nil {
			log.Printf("fatal: flex connect: %v", err)
			os.Exit(1)
		}
		primeDefaultBands(backend, cfg.Flex.DefaultBands)
	} else {
		supervisor.OnSliceAddedNamed(gctx, 0, "IC-7300")
		core.SetTxChannel(0)
	}

	aggregate := NewHRDServer(hrdAggregateChannel, cfg.Logbook.HRDPort, core, backend)
	if cfg.Logbook.EnableHRDServer || cfg.Logbook.HRDPort != 0 {
		if err := aggregate.Start(gctx); err != nil {
			log.Printf("fatal: aggregate hrd server: %v", err)
			os.Exit(1)
		}
		aggregate.WatchStateCore()
		logHRDStart(hrdAggregateChannel, cfg.Logbook.HRDPort)
	}

	var metricsExporter *MetricsExporter
	if cfg.Metrics.Listen != "" {
		metricsExporter = NewMetricsExporter(core)
		group.Go(func() error { return metricsExporter.Run(gctx, cfg.Metrics.Listen) })
	}

	group.Go(func() error { return aiServer.Serve(gctx) })

	group.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigCh:
			log.Println("shutdown signal received, closing decoders gracefully")
			shutdownAll(context.Background(), supervisor, aggregate)
			cancel()
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Printf("wsjtx-hub: exiting on error: %v", err)
		os.Exit(1)
	}
}

// primeDefaultBands pre-tunes slices 0..3 to the configured default
// frequencies as they appear, per spec.md §6's "default-bands" field. A
// short-lived ticker rather than a direct call because slices may not have
// appeared yet at startup; tuning a not-yet-present slice is a harmless
// backend no-op.
func primeDefaultBands(backend RadioBackend, bands []uint64) {
	if len(bands) == 0 {
		return
	}
	go func() {
		time.Sleep(3 * time.Second)
		for i, hz := range bands {
			if i >= 4 || hz == 0 {
				continue
			}
			if err := backend.TuneSlice(i, hz); err != nil {
				log.Printf("prime default bands: slice %d: %v", i, err)
			}
		}
	}()
}

// shutdownAll implements spec.md §6's graceful shutdown sequence: Close UDP
// frames to every connected channel, a wait, then process termination with
// a kill fallback — all of which DecoderSupervisor.GracefulRestartAll's stop
// half already performs, so shutdown reuses its per-instance stop sequence
// instead of duplicating it.
func shutdownAll(ctx context.Context, supervisor *DecoderSupervisor, aggregate *HRDServer) {
	supervisor.ShutdownAll()
	if aggregate != nil {
		aggregate.Stop()
	}
}
