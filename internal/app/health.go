package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/YCLstock/finnews-bot/internal/cli"
	"github.com/YCLstock/finnews-bot/internal/db"
	"github.com/YCLstock/finnews-bot/internal/topics"
)

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
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

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := rt.pool.DB().PingContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Database ping failed: %v\n", err)
		return 1
	}

	rows, err := db.LoadVocabularyRows(ctx, rt.pool)
	switch {
	case err != nil:
		fmt.Printf("database=ok vocabulary=builtin (db vocabulary unavailable: %v)\n", err)
	default:
		vocab, buildErr := topics.VocabularyFromRows(rows)
		if buildErr != nil {
			fmt.Printf("database=ok vocabulary=builtin (db vocabulary invalid: %v)\n", buildErr)
		} else {
			fmt.Printf("database=ok vocabulary=%s topics=%d\n", vocab.Version, len(vocab.Topics()))
		}
	}
	return 0
}
