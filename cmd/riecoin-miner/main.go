// Command riecoin-miner is the CLI entry point: it resolves
// configuration, loads or builds the prime/primorial tables, wires up a
// solo or pool WorkManager, and drives miner.Miner.Run while printing
// colorized periodic stats, the way cmd/dilithium-miner/miner.go's
// main loop prints its own block/hashrate lines.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/fakecoinbase/PttnslashrieMiner/cache"
	"github.com/fakecoinbase/PttnslashrieMiner/miner"
	"github.com/fakecoinbase/PttnslashrieMiner/minerconfig"
	"github.com/fakecoinbase/PttnslashrieMiner/minerstats"
	"github.com/fakecoinbase/PttnslashrieMiner/primes"
	"github.com/fakecoinbase/PttnslashrieMiner/primorial"
)

func main() {
	if err := run(); err != nil {
		color.Red("fatal: %v", err)
		os.Exit(1)
	}
}

func run() error {
	fs := pflag.NewFlagSet("riecoin-miner", pflag.ExitOnError)
	minerconfig.Flags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg, v, err := minerconfig.Load(fs)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tables, err := loadOrBuildTables(ctx, cfg)
	if err != nil {
		return fmt.Errorf("preparing prime tables: %w", err)
	}

	opts, err := cfg.MinerOptions()
	if err != nil {
		return err
	}

	stats := minerstats.New(time.Now())

	var wm miner.WorkManager
	var runPool func(context.Context)
	switch cfg.Mode {
	case "solo", "benchmark":
		if err := checkNode(ctx, cfg.NodeAddress); err != nil {
			return fmt.Errorf("cannot reach node at %s: %w", cfg.NodeAddress, err)
		}
		wm = newSoloWorkManager(cfg, opts, stats)
	case "pool":
		pwm := newPoolWorkManager(cfg, opts, stats)
		wm = pwm
		runPool = pwm.Run
	default:
		return fmt.Errorf("unknown mode %q", cfg.Mode)
	}

	minerconfig.Watch(v, func(updated *minerconfig.Config) {
		color.Yellow("config reloaded: node=%s pool=%s wallet=%s", updated.NodeAddress, updated.PoolAddress, updated.WalletAddress)
	})

	if runPool != nil {
		go runPool(ctx)
	}

	m, err := miner.New(wm, tables)
	if err != nil {
		return fmt.Errorf("constructing miner: %w", err)
	}

	go printStats(ctx, stats, cfg.StatsInterval)

	color.Cyan("riecoin-miner starting: mode=%s threads=%d sieveWorkers=%d pattern=%s", cfg.Mode, cfg.Threads, cfg.SieveWorkers, cfg.Pattern)
	return m.Run(ctx)
}

// loadOrBuildTables tries cache.Load first and falls back to
// primes.Sieve + primorial.BuildTables, saving the result for next
// time, mirroring the teacher's own disk-cache-then-recompute shape in
// storage.go applied to this miner's tables instead of chain blocks.
func loadOrBuildTables(ctx context.Context, cfg *minerconfig.Config) (*primorial.Tables, error) {
	if tables, ok, err := cache.Load(cfg.CacheDir, cfg.PrimeTableLimit, cfg.PrimorialNumber); err != nil {
		color.Yellow("cache: %v (recomputing)", err)
	} else if ok {
		color.Cyan("loaded cached prime table (%d primes)", tables.NPrimes)
		return tables, nil
	}

	color.Cyan("building prime table up to %d...", cfg.PrimeTableLimit)
	ps := primes.Sieve(cfg.PrimeTableLimit)

	tables, err := primorial.BuildTables(ctx, ps, cfg.PrimorialNumber, cfg.Threads)
	if err != nil {
		return nil, err
	}

	if err := cache.Save(cfg.CacheDir, cfg.PrimeTableLimit, cfg.PrimorialNumber, tables); err != nil {
		color.Yellow("cache: failed to persist table: %v", err)
	}
	return tables, nil
}

// printStats polls Stats.Snapshot on a ticker and prints a single
// summary line, the teacher's periodic fmt.Printf style from
// pool_worker.go's Stop() summary, just repeated on an interval instead
// of printed once at shutdown.
func printStats(ctx context.Context, stats *minerstats.Stats, interval time.Duration) {
	if interval <= 0 {
		interval = minerconfig.DefaultStatsInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			snap := stats.Snapshot(now)
			color.White("candidates: %d (%.0f/s) | shares: %d | blocks: %d",
				snap.Candidates, snap.CandidatesRate, snap.Shares, snap.Blocks)
		}
	}
}
