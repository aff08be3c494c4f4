package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "push", "run-once":
		return runPush(args[1:])
	case "synctags":
		return runSyncTags(args[1:])
	case "daemon":
		return runDaemon(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "finnews-bot CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  finnews-bot <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health    Verify database connectivity and vocabulary")
	fmt.Fprintln(os.Stderr, "  push      Run one push batch over all active subscriptions")
	fmt.Fprintln(os.Stderr, "  run-once  Alias for push")
	fmt.Fprintln(os.Stderr, "  synctags  Refresh derived tags for stale subscriptions only")
	fmt.Fprintln(os.Stderr, "  daemon    Run push batches on a periodic schedule")
	fmt.Fprintln(os.Stderr, "  serve     Start the operational API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"finnews-bot <command> -h\" for command-specific flags.")
}
