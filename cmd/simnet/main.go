// Command simnet runs an in-process MC-SOTDMA simulation: several MAC
// nodes sharing a synthetic radio medium, with a websocket dashboard
// feed, a REST API, and SQLite-backed run statistics. Follows a
// CLI-subcommand-check-before-flag-parsing startup shape: store setup,
// callback wiring, background goroutines, then signal-based graceful
// shutdown of a main server plus an optional separate API server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"mcsotdma/internal/config"
	"mcsotdma/internal/packet"
	"mcsotdma/internal/simnet"
	"mcsotdma/internal/statstore"
	"mcsotdma/internal/trace"
	"mcsotdma/internal/upperbot"
)

func main() {
	// Check for CLI subcommands before parsing the run-mode flags.
	if len(os.Args) > 1 {
		if simnet.RunCLI(os.Args[1:], "simnet.db") {
			return
		}
	}

	dashboardAddr := flag.String("dashboard-addr", ":8643", "websocket dashboard listen address")
	apiAddr := flag.String("api-addr", ":8644", "REST API listen address (empty to disable)")
	dbPath := flag.String("db", "simnet.db", "SQLite database path for run statistics")
	dataDir := flag.String("data-dir", ".", "directory for trace files")
	numNodes := flag.Int("num-nodes", 4, "number of simulated nodes, arranged in a ring of point-to-point links")
	slotInterval := flag.Duration("slot-interval", 10*time.Millisecond, "wall-clock duration of one simulated slot")
	runLabel := flag.String("run-label", "sim", "label recorded for this run")
	maxRtxAttempts := flag.Int("max-rtx-attempts", 5, "max retransmission attempts the virtual upper layer reports")
	frameBits := flag.Int("frame-bits", 256, "nominal bits of synthetic traffic enqueued per peer per tick")
	trafficInterval := flag.Duration("traffic-interval", 200*time.Millisecond, "wall-clock period between synthetic traffic bursts")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	stats, err := statstore.Open(*dbPath)
	if err != nil {
		logger.Error("open stat store", "err", err)
		os.Exit(1)
	}
	defer stats.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recorder, err := trace.StartRecorder(*runLabel, *dataDir, cancel)
	if err != nil {
		logger.Error("start trace recorder", "err", err)
		os.Exit(1)
	}
	defer recorder.Stop()

	runID, err := stats.StartRun(ctx, *runLabel, time.Now())
	if err != nil {
		logger.Error("start run", "err", err)
		os.Exit(1)
	}

	sim := simnet.New(*runLabel, recorder, stats, runID, logger)

	cfg := config.Default()
	shChannel := packet.NewSHChannel(978_000, 25)
	ppChannels := []packet.FrequencyChannel{
		packet.NewPPChannel(1_090_000, 25),
		packet.NewPPChannel(1_030_000, 25),
	}

	// Arrange nodes in a ring: node i opens a point-to-point link to
	// node i+1 and generates traffic toward it, plus shared-channel
	// broadcast traffic.
	for i := 0; i < *numNodes; i++ {
		id := packet.MacId(i + 1)
		next := packet.MacId((i+1)%(*numNodes) + 1)
		spec := simnet.NodeSpec{
			ID:    id,
			Peers: []packet.MacId{next},
			Targets: []upperbot.Target{
				{Peer: next, FrameBits: *frameBits, JitterBits: *frameBits / 4},
				{Broadcast: true, FrameBits: *frameBits / 2, JitterBits: *frameBits / 8},
			},
			Seed: uint64(i + 1),
		}
		node := sim.AddNode(spec, cfg, shChannel, ppChannels, *maxRtxAttempts)
		go node.Upper.Run(ctx, *trafficInterval, spec.Targets)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	dashboard := simnet.NewDashboardServer(*dashboardAddr, sim, logger)
	go dashboard.Run(ctx)

	if *apiAddr != "" {
		api := simnet.NewAPIServer(sim, stats, logger)
		go api.Run(ctx, *apiAddr)
		logger.Info("api server listening", "addr", *apiAddr)
	}

	go runSlotLoop(ctx, sim, dashboard, *slotInterval, logger)

	<-ctx.Done()

	finishCtx, finishCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer finishCancel()
	if err := stats.FinishRun(finishCtx, runID, time.Now()); err != nil {
		logger.Warn("finish run", "err", err)
	}
	if err := sim.PersistSnapshots(finishCtx); err != nil {
		logger.Warn("persist snapshots", "err", err)
	}
}

// runSlotLoop advances the simulation on a fixed tick and pushes each
// slot's node counters to the dashboard, until ctx is canceled.
func runSlotLoop(ctx context.Context, sim *simnet.Simulation, dashboard *simnet.DashboardServer, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := sim.RunSlot(); err != nil {
			logger.Error("run slot", "err", err)
			continue
		}

		ids := sim.Nodes()
		nodes := make([]simnet.NodeInfo, 0, len(ids))
		for _, id := range ids {
			nodes = append(nodes, simnet.NodeInfoFromSnapshot(sim.Snapshot(id)))
		}
		dashboard.Broadcast(simnet.DashboardMsg{Type: "tick", Slot: sim.Slot(), Nodes: nodes})
	}
}
