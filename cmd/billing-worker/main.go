// Command billing-worker runs the billing sweeps and the outbox relay.
//
// Usage:
//
//	billing-worker            # run the scheduler until SIGINT/SIGTERM
//	billing-worker -once      # run every job once and exit
//	billing-worker -job name  # run one job once and exit
//	billing-worker -check     # probe postgres and redis and exit
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrymomot/billing/pkg/config"
	"github.com/dmitrymomot/billing/pkg/logger"
	"github.com/dmitrymomot/billing/svc/worker"
)

func main() {
	once := flag.Bool("once", false, "run every job once and exit")
	job := flag.String("job", "", "run the named job once and exit")
	check := flag.Bool("check", false, "probe the dependencies and exit")
	envFile := flag.String("env-file", "", "load variables from this .env file")
	flag.Parse()

	if err := run(*once, *check, *job, *envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(once, check bool, job, envFile string) error {
	var opts []config.Option
	if envFile != "" {
		opts = append(opts, config.WithEnvFiles(envFile))
	}
	var cfg worker.Config
	if err := config.Load(&cfg, opts...); err != nil {
		return err
	}

	log := logger.New(
		logger.WithEnvironment(cfg.Environment, cfg.ServiceName),
		logger.WithLevel(cfg.LogLevel),
	)
	logger.SetAsDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, closeFn, err := worker.Bootstrap(ctx, cfg, log)
	if err != nil {
		log.LogAttrs(ctx, slog.LevelError, "failed to bootstrap billing worker", logger.Error(err))
		return err
	}
	defer closeFn()

	if check {
		return app.Healthcheck(ctx)
	}

	scheduler, err := app.NewScheduler()
	if err != nil {
		return err
	}

	switch {
	case job != "":
		return scheduler.RunJob(ctx, job)
	case once:
		return scheduler.RunOnce(ctx)
	default:
		return scheduler.Run(ctx)
	}
}
