package cmd

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stadspuls/eventpipe/internal/api"
	"github.com/stadspuls/eventpipe/internal/healer"
)

const (
	sweepEvery     = 10 * time.Minute
	enrichEvery    = 5 * time.Minute
	discoveryEvery = time.Hour
	dlqSweepLimit  = 50
	// nightly repair pass, after the evening scrape burst settles
	healerSchedule = "0 3 * * *"
)

func daemonCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the HTTP server with built-in scheduling",
		Long: `Run the full pipeline in one process: the HTTP endpoints plus cron
jobs for coordinator ticks, dead-letter sweeps, stale job reaping,
enrichment and nightly healing. Chain triggers loop back to this
instance when WORKER_URL points at it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return runDaemon(cmd.Context(), a)
		},
	}
}

func runDaemon(ctx context.Context, a *app) error {
	c := cron.New()

	c.Schedule(cron.Every(a.cfg.Scraper.ScrapeInterval), a.job("coordinator", func(ctx context.Context) error {
		_, err := a.coordinator.Tick(ctx, nil)
		return err
	}))
	c.Schedule(cron.Every(sweepEvery), a.job("dlq-sweep", func(ctx context.Context) error {
		_, err := a.dlq.Sweep(ctx, dlqSweepLimit)
		return err
	}))
	c.Schedule(cron.Every(sweepEvery), a.job("stale-reaper", func(ctx context.Context) error {
		_, err := a.worker.ReapStale(ctx, a.cfg.Scraper.StaleJobAfter)
		return err
	}))
	c.Schedule(cron.Every(discoveryEvery), a.job("discovery", func(ctx context.Context) error {
		_, err := a.discovery.Run(ctx, "")
		return err
	}))
	if a.enrich != nil {
		c.Schedule(cron.Every(enrichEvery), a.job("enrich", func(ctx context.Context) error {
			_, err := a.enrich.Sweep(ctx, 0)
			return err
		}))
	}
	if a.cfg.AI.GeminiAPIKey != "" {
		schedule, err := cron.ParseStandard(healerSchedule)
		if err != nil {
			return err
		}
		c.Schedule(schedule, a.job("healer", func(ctx context.Context) error {
			_, err := a.healer.Run(ctx, healer.Options{Mode: healer.ModeRepair})
			return err
		}))
	}

	server := api.New(a.coordinator, a.worker, a.discovery, a.healer,
		a.health, a.registry, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, a.cfg.Service.Port)
	})
	g.Go(func() error {
		c.Start()
		a.logger.Info("daemon scheduling started",
			"coordinator_every", a.cfg.Scraper.ScrapeInterval,
			"sweep_every", sweepEvery)
		<-gctx.Done()
		stopCtx := c.Stop()
		<-stopCtx.Done()
		return nil
	})
	return g.Wait()
}

// job wraps a cron function with logging and error-log persistence.
func (a *app) job(name string, fn func(ctx context.Context) error) cron.Job {
	return cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		if err := fn(ctx); err != nil {
			a.logger.Error("scheduled job failed", "job", name, "error", err)
			if logErr := a.errorLogs.Record(ctx, name, err.Error(), nil, false); logErr != nil {
				a.logger.Warn("failed to persist error log", "job", name, "error", logErr)
			}
		}
	})
}
