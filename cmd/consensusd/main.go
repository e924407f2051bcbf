// Command consensusd runs a standalone consensus engine node: Config ->
// xlog -> BlockGraph/BlockProducer/Controller, wired to in-memory mock
// protocol and pool channels since peer-to-peer transport and mempool
// storage are out of this module's scope (spec §1 Non-goals). It exists
// for local smoke-running the engine end to end, not as a production
// entrypoint.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/massa-labs/consensus-engine/internal/config"
	"github.com/massa-labs/consensus-engine/internal/metrics"
	"github.com/massa-labs/consensus-engine/internal/xlog"
	"github.com/massa-labs/consensus-engine/pkg/blockgraph"
	"github.com/massa-labs/consensus-engine/pkg/blockproducer"
	"github.com/massa-labs/consensus-engine/pkg/clock"
	"github.com/massa-labs/consensus-engine/pkg/controller"
	"github.com/massa-labs/consensus-engine/pkg/ledgerview"
	"github.com/massa-labs/consensus-engine/pkg/pool"
	"github.com/massa-labs/consensus-engine/pkg/protocol"
	"github.com/massa-labs/consensus-engine/pkg/rollledger"
	"github.com/massa-labs/consensus-engine/pkg/selector"
	"github.com/massa-labs/consensus-engine/pkg/xcrypto"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file (optional, overlays defaults)")
	verbosity := flag.Int("verbosity", int(xlog.LvlInfo), "log verbosity (0=crit .. 5=trace)")
	flag.Parse()

	xlog.SetRoot(xlog.NewTerminalHandler(os.Stderr, xlog.Level(*verbosity)))
	root := xlog.New("module", "main")

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			root.Crit("loading config", "err", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		root.Crit("invalid config", "err", err)
		os.Exit(1)
	}

	pub, priv, err := xcrypto.GenerateKeyPair()
	if err != nil {
		root.Crit("generating staking key", "err", err)
		os.Exit(1)
	}
	selfAddr := xcrypto.AddressOf(pub)
	root.Info("staking identity", "address", selfAddr.String())

	m := metrics.NewRegistry()
	rl := rollledger.New(cfg.ThreadCount, cfg.PosSavedCycles+cfg.PosLookbackCycles)
	rl.SeedInitial(selfAddr.Thread(cfg.ThreadCount), selfAddr, 1)

	sel := selector.New(cfg.ThreadCount, cfg.PeriodsPerCycle, cfg.PosLookbackCycles, rl, selfAddr)
	ledger := ledgerview.NewMapView(nil)

	proto := protocol.NewMock()
	poolCh := pool.NewMock()

	graph := blockgraph.New(cfg, sel, ledger, rl, proto, m)
	producer := blockproducer.New(cfg, graph, poolCh, ledger, pub, priv, m)
	wallClock := clock.NewWallClock(cfg)
	defer wallClock.Stop()

	ctrl := controller.New(cfg, graph, producer, proto, poolCh, wallClock)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root.Info("consensus engine starting", "threads", cfg.ThreadCount, "t0", cfg.T0)
	ctrl.Run(ctx)
	root.Info("consensus engine stopped")
}
