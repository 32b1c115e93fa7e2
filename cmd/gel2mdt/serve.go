package main

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gel2mdt-server/internal/api"
	"github.com/gel2mdt-server/internal/scheduler"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			withScheduler, _ := cmd.Flags().GetBool("with-scheduler")
			return runServe(cmd, withScheduler)
		},
	}
	cmd.Flags().Bool("with-scheduler", false, "Also run the scheduled jobs in this process")
	return cmd
}

func runServe(cmd *cobra.Command, withScheduler bool) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cmd, appOptions{clients: true, alerts: true, archive: true})
	if err != nil {
		return err
	}
	defer a.Close()

	hub := api.NewHub(a.logger)
	ingester, err := a.newIngester(hub)
	if err != nil {
		return err
	}

	checks := map[string]api.HealthCheck{"database": a.db.Health}
	if a.cache != nil {
		checks["redis"] = a.cache.Ping
	}

	server := api.NewServer(a.config.Server, api.Deps{
		Cases:    a.caseService,
		MDTs:     a.mdtService,
		Ingester: ingester,
		Alerts:   a.alerts,
		Archive:  a.archive,
		Hub:      hub,
		Checks:   checks,
	}, a.logger)

	var jobs *scheduler.Scheduler
	if withScheduler {
		if jobs, err = a.newScheduler(ingester); err != nil {
			return err
		}
		a.logger.WithFields(logrus.Fields{"jobs": jobs.Jobs()}).Info("Scheduler enabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	if jobs != nil {
		g.Go(func() error {
			jobs.Start(gctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info("gel2mdt stopped")
	return nil
}
