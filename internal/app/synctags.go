package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/YCLstock/finnews-bot/internal/cli"
)

func runSyncTags(args []string) int {
	fs := flag.NewFlagSet("synctags", flag.ContinueOnError)
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
		fmt.Fprintf(os.Stderr, "Failed to build pusher: %v\n", err)
		return 1
	}

	refreshed, err := smartPusher.RefreshStaleTags(context.Background())
	if err != nil {
		rt.logger.Error().Err(err).Msg("tag sync failed")
		fmt.Fprintf(os.Stderr, "Tag sync failed: %v\n", err)
		return 1
	}

	fmt.Printf("refreshed=%d\n", refreshed)
	return 0
}
