// tick2trade — a deterministic, sub-microsecond tick-to-trade pipeline
// for algorithmic market making on a single venue.
//
// Architecture:
//
//	main.go              — entry point: loads config, builds the core, waits for SIGINT/SIGTERM
//	internal/core        — orchestrator: wires ingress -> decode -> lob -> signal -> quoter -> risk -> router -> outbound into the hot loop
//	internal/ingress      — busy-polled packet ingress (simulator + WebSocket replay adapters)
//	internal/wire         — fixed-offset binary wire decoding and outbound order encoding
//	internal/lob          — N-level limit order book reconstruction with sequence-gap recovery
//	internal/signal        — deep OFI, Hawkes intensity, fixed-latency inference stage
//	internal/quoter       — Avellaneda-Stoikov quote computation with latency-cost gating
//	internal/risk          — wait-free pre-trade checks plus a background PnL/regime manager
//	internal/router        — venue health filtering, scoring, and per-venue throttling
//	internal/outbound      — pre-serialized order templates and the egress ring
//	internal/sched         — monotonic cycle clock and the O(1) timing wheel
//	internal/logtrace      — deterministic, signed trace logging
//	internal/backtest      — offline replay harness over the same stages
//
// The hot loop runs on a single pinned OS thread (§5); everything else
// (risk manager, venue poller, logger consumer) is a background goroutine
// that never blocks it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"tick2trade/internal/config"
	"tick2trade/internal/core"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("TT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	c, err := core.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to construct core", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be routed to a venue")
	}

	logger.Info("tick2trade starting",
		"venue_id", cfg.Wire.VenueID,
		"lob_depth", cfg.LOBDepth,
		"ring_capacity", cfg.RingCapacity,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", fmt.Sprintf("%v", sig))
		c.Stop()
	}()

	c.Run(context.Background())
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
