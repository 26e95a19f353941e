package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/withObsrvr/qubic-explorer-core/analytics"
	"github.com/withObsrvr/qubic-explorer-core/bobclient"
	"github.com/withObsrvr/qubic-explorer-core/epochs"
	"github.com/withObsrvr/qubic-explorer-core/flowtracker"
	"github.com/withObsrvr/qubic-explorer-core/identity"
	"github.com/withObsrvr/qubic-explorer-core/labels"
	"github.com/withObsrvr/qubic-explorer-core/logging"
	"github.com/withObsrvr/qubic-explorer-core/pushmon"
	"github.com/withObsrvr/qubic-explorer-core/snapshots"
	"github.com/withObsrvr/qubic-explorer-core/store"
)

const serviceVersion = "v1.2.0"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// .env is optional; real deployments configure through the file
	_ = godotenv.Load()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		logging.NewComponentLogger(
			"qubic-explorer-core", serviceVersion,
		).Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.SetLevel(cfg.Logging.Level)
	log := logging.NewComponentLogger(cfg.Service.Name, serviceVersion)
	log.Info().
		Str("rpc_url", cfg.Upstream.RPCURL).
		Int("health_port", cfg.Service.HealthPort).
		Msg("Starting explorer core")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Store
	st, err := store.Open(ctx, cfg.ClickHouse.DSN, log.Sub("store"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure schema")
	}

	// Upstream RPC client
	rpc := bobclient.New(cfg.Upstream.RPCURL, log.Sub("bobclient"))

	// Label registry
	registry := labels.New(cfg.Labels.BundleURL, log.Sub("labels"))

	// Epoch lifecycle manager
	epochMgr := epochs.New(st, rpc, identity.BurnAddress, log.Sub("epochs"))

	// Snapshot importers
	importer := snapshots.New(st, cfg.Snapshots.BaseURL, log.Sub("snapshots"))

	// Flow tracker and analytics snapshotter
	tracker := flowtracker.New(st, registry, cfg.Flow.MulticastContract, identity.BurnAddress, log.Sub("flowtracker"))
	snapshotter := analytics.New(st, tracker, registry, identity.BurnAddress, log.Sub("analytics"))

	// Address monitor
	vapid, err := pushmon.EnsureVAPIDKeys(
		cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey, cfg.Push.VAPIDSubject,
		log.Sub("pushmon"),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up VAPID identity")
	}
	monitor := pushmon.New(st, pushmon.NewWebPushSender(vapid), log.Sub("pushmon"))

	// Health and metrics
	healthServer := NewHealthServer(cfg.Service.HealthPort, epochMgr)
	if err := healthServer.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start health server")
	}
	defer healthServer.Stop()
	log.Info().Int("port", cfg.Service.HealthPort).Msg("Health server started")

	// Workers. Each owns its cancellation and restarts on its next
	// cycle; a failed iteration never takes the process down.
	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
			log.Info().Str("worker", name).Msg("Worker stopped")
		}()
	}

	run("rpc", rpc.Run)
	run("labels", registry.Run)
	run("meta-sync", epochMgr.RunMetaSync)
	run("transition-validator", epochMgr.RunTransitionValidator)
	run("snapshot-importer", importer.Run)
	run("analytics-snapshotter", snapshotter.Run)
	run("address-monitor", monitor.Run)
	run("tick-observer", func(ctx context.Context) {
		observeTicks(ctx, rpc.SubscribeTicks(), log.Sub("ticks"))
	})

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("Shutdown signal received")
	cancel()
	wg.Wait()
	log.Info().Msg("Explorer core stopped")
}

// observeTicks drains the live tick stream, deduplicating on a monotone
// high-water mark. The node re-emits each tick for every computor vote.
func observeTicks(ctx context.Context, ticks <-chan bobclient.TickEvent, log *logging.ComponentLogger) {
	var highWater uint64
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-ticks:
			if event.TickNumber <= highWater {
				continue
			}
			highWater = event.TickNumber
			log.Debug().
				Uint64("tick", event.TickNumber).
				Uint32("epoch", event.Epoch).
				Uint32("tx_count", event.TransactionCount).
				Msg("New tick")
		}
	}
}
