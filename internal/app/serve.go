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

	"github.com/YCLstock/finnews-bot/internal/cli"
	"github.com/YCLstock/finnews-bot/internal/httpapi"
	"github.com/YCLstock/finnews-bot/internal/schedule"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	host := fs.String("host", "", "Host interface to bind (defaults to API_HOST)")
	port := fs.Int("port", 0, "HTTP port (defaults to API_PORT)")
	readTimeout := fs.Duration("read-timeout", 10*time.Second, "HTTP read timeout")
	writeTimeout := fs.Duration("write-timeout", 30*time.Second, "HTTP write timeout")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")

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

	bindHost := *host
	if bindHost == "" {
		bindHost = rt.cfg.APIHost
	}
	bindPort := *port
	if bindPort == 0 {
		bindPort = rt.cfg.APIPort
	}
	if bindPort <= 0 || bindPort > 65535 {
		fmt.Fprintln(os.Stderr, "--port must be between 1 and 65535")
		return 2
	}

	mapper, err := rt.loadMapper(context.Background())
	if err != nil {
		rt.logger.Error().Err(err).Msg("serve setup failed")
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

	srv := httpapi.NewServer(
		rt.pool,
		mapper,
		rt.buildClusterer(mapper),
		schedule.NewScheduler(rt.cfg.WindowTolerance),
		rt.logger,
		httpapi.Options{
			Host:            bindHost,
			Port:            bindPort,
			ReadTimeout:     *readTimeout,
			WriteTimeout:    *writeTimeout,
			ShutdownTimeout: *shutdownTimeout,
		},
	)
	if err := srv.Start(ctx); err != nil {
		rt.logger.Error().Err(err).Msg("http server failed")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}
	return 0
}
