package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/YCLstock/finnews-bot/internal/cli"
)

// runDaemon runs push batches on a fixed interval until interrupted.
// Batches never overlap: if one is still running when the next tick
// fires, the tick is dropped.
func runDaemon(args []string) int {
	fs := flag.NewFlagSet("daemon", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	interval := fs.Duration("interval", 0, "Batch interval (defaults to FN_BATCH_INTERVAL)")
	immediate := fs.Bool("immediate", true, "Run one batch right away before the first tick")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	rt := bootstrap(envLoader)
	if rt == nil {
		return 1
	}
	defer rt.close()

	smartPusher, err := rt.buildPusher()
	if err != nil {
		rt.logger.Error().Err(err).Msg("daemon setup failed")
		fmt.Fprintf(os.Stderr, "Failed to build pusher: %v\n", err)
		return 1
	}

	tick := *interval
	if tick <= 0 {
		tick = rt.cfg.BatchInterval
	}
	if tick < time.Minute {
		fmt.Fprintln(os.Stderr, "--interval must be at least 1m")
		return 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		rt.logger.Info().Msg("shutdown signal received")
		cancel()
	}()

	runBatch := func() {
		result, err := smartPusher.RunBatch(ctx)
		if err != nil {
			if ctx.Err() == nil {
				rt.logger.Error().Err(err).Msg("scheduled push batch failed")
			}
			return
		}
		rt.logger.Info().
			Int("pushed", result.Pushed).
			Int("articles", result.Articles).
			Int("failed", result.Failed).
			Msg("scheduled push batch finished")
	}

	scheduler := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
		cron.Recover(cron.DiscardLogger),
	))
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", tick), runBatch); err != nil {
		rt.logger.Error().Err(err).Msg("daemon schedule setup failed")
		return 1
	}

	rt.logger.Info().Dur("interval", tick).Msg("push daemon started")
	if *immediate {
		runBatch()
	}
	scheduler.Start()

	<-ctx.Done()
	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		rt.logger.Warn().Msg("daemon stop timed out waiting for running batch")
	}
	rt.logger.Info().Msg("push daemon stopped")
	return 0
}
