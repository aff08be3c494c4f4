package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/YCLstock/finnews-bot/internal/cli"
)

func runPush(args []string) int {
	fs := flag.NewFlagSet("push", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")

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
		rt.logger.Error().Err(err).Msg("push setup failed")
		fmt.Fprintf(os.Stderr, "Failed to build pusher: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	result, err := smartPusher.RunBatch(ctx)
	if err != nil {
		rt.logger.Error().Err(err).Msg("push batch failed")
		fmt.Fprintf(os.Stderr, "Push batch failed: %v\n", err)
		return 1
	}

	fmt.Printf(
		"subscriptions=%d pushed=%d articles=%d empty=%d skipped=%d conflicts=%d failed=%d config_errors=%d\n",
		result.Subscriptions,
		result.Pushed,
		result.Articles,
		result.Empty,
		result.Skipped,
		result.Conflicts,
		result.Failed,
		result.ConfigErrors,
	)
	if result.Failed > 0 {
		return 1
	}
	return 0
}
