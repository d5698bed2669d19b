package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"

	"github.com/jdziat/simple-scheduled-mail/pkg/engine"
	"github.com/jdziat/simple-scheduled-mail/pkg/metrics"
)

func serve(c *cli.Context) error {
	env, err := setup(c)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	n, closers, err := buildNotifier(ctx, env.cfg, env.attachments, env.logger)
	if err != nil {
		return err
	}
	defer closeAll(closers)

	e := engine.New(env.queue, n, engineOptions(env)...)

	g, ctx := errgroup.WithContext(ctx)
	if env.cfg.Metrics.Addr != "" {
		collector := metrics.New(prometheus.DefaultRegisterer)
		g.Go(func() error {
			collector.Run(ctx, env.queue)
			return nil
		})
		g.Go(func() error {
			return metrics.Serve(ctx, env.cfg.Metrics.Addr, prometheus.DefaultGatherer)
		})
		env.logger.Info("serving metrics", "addr", env.cfg.Metrics.Addr)
	}
	g.Go(func() error {
		err := e.Start(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	return g.Wait()
}

func engineOptions(env *session) []engine.Option {
	cfg := env.cfg.Engine
	opts := []engine.Option{engine.WithLogger(env.logger)}
	if cfg.WorkerID != "" {
		opts = append(opts, engine.WorkerID(cfg.WorkerID))
	}
	if cfg.Concurrency > 0 {
		opts = append(opts, engine.Concurrency(cfg.Concurrency))
	}
	if cfg.BatchSize > 0 {
		opts = append(opts, engine.BatchSize(cfg.BatchSize))
	}
	if d := cfg.PollEvery(); d > 0 {
		opts = append(opts, engine.PollInterval(d))
	}
	if cfg.TickSchedule != "" {
		opts = append(opts, engine.TickSchedule(cfg.TickSchedule))
	}
	if d := cfg.Timeout(); d > 0 {
		opts = append(opts, engine.DispatchTimeout(d))
	}
	return opts
}

