package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/modfin/kuvert"
	"github.com/modfin/kuvert/internal/api"
	"github.com/modfin/kuvert/internal/campaign"
	"github.com/modfin/kuvert/internal/clix"
	"github.com/modfin/kuvert/internal/config"
	"github.com/modfin/kuvert/internal/content"
	"github.com/modfin/kuvert/internal/dao"
	"github.com/modfin/kuvert/internal/metrics"
	"github.com/modfin/kuvert/internal/mta"
	"github.com/modfin/kuvert/internal/notify"
	"github.com/modfin/kuvert/internal/queue"
	"github.com/modfin/kuvert/internal/schedule"
	"github.com/modfin/kuvert/internal/signals"
	"github.com/modfin/kuvert/internal/transport"
	"github.com/modfin/kuvert/tools"
)

const shutdownGrace = 30 * time.Second

type serveArgs struct {
	EnvFiles []string `cli:"env-file"`
}

func main() {
	flags := []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "env-file",
			Usage: "read configuration from a .env file before the environment, may be repeated",
		},
	}

	app := &cli.App{
		Name:   "kuvertd",
		Usage:  "a service that delivers queued emails and campaigns",
		Flags:  flags,
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the processor, the scheduled sweeps and the operator api",
				Flags:  flags,
				Action: serve,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func serve(c *cli.Context) error {
	args := clix.Parse[serveArgs](c)

	cfg, err := config.Load(args.EnvFiles...)
	if err != nil {
		return err
	}

	lc := tools.LoggerCloner(tools.NewLogger(cfg.LogLevel, cfg.LogJSON))
	l := lc.New("kuvertd")
	cfg.Sanitize(l)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration, %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	l.Infof("Starting server")

	db, err := dao.New(cfg.DbURI, lc)
	if err != nil {
		return err
	}
	defer db.Close()

	prom := metrics.New(metrics.Config{Push: cfg.MetricsPush, PushInterval: cfg.MetricsPushEvery}, lc)

	gen, err := content.New()
	if err != nil {
		return fmt.Errorf("could not load templates, %w", err)
	}

	q := queue.New(db, lc, queue.WithMaxAttempts(cfg.MaxAttempts))
	processor := mta.New(mta.Config{
		BatchSize:   cfg.BatchSize,
		MaxBatches:  cfg.MaxBatches,
		BackoffStep: cfg.BackoffStep,
		StaleAfter:  cfg.StaleAfter,
		Retention:   cfg.Retention,
	}, db, transport.FromConfig(cfg, lc), lc, mta.WithMetrics(prom.Register()))
	campaigns := campaign.New(db, q, lc)
	notifier := notify.New(notify.Config{
		Admin:    kuvert.Address{Name: cfg.AdminName, Email: cfg.AdminEmail},
		AdminURL: cfg.AdminURL,
	}, q, content.Safe(gen, lc), lc)

	server := api.New(api.Config{
		Port:         cfg.APIPort,
		Hostname:     cfg.Hostname,
		Keys:         cfg.APIKeys,
		AutoTLS:      cfg.APIAutoTLS,
		AutoTLSCache: cfg.APIAutoTLSCache,
		Metrics:      true,
	}, q, processor, campaigns, lc, api.WithNotifier(notifier, db))

	messageQueued, unlisten := signals.Listen(signals.MessageQueued)
	defer unlisten()
	campaignQueued, unlistenCampaigns := signals.Listen(signals.CampaignQueued)
	defer unlistenCampaigns()

	scheduler := schedule.New(lc,
		schedule.Job{
			Name:  "tick",
			Every: cfg.TickInterval,
			Wake:  messageQueued,
			Run: func(ctx context.Context) error {
				_, err := processor.RunTick(ctx)
				return err
			},
		},
		schedule.Job{
			Name:  "retry-sweep",
			Every: cfg.RetrySweepInterval,
			Run: func(ctx context.Context) error {
				_, err := processor.RunRetrySweep(ctx)
				return err
			},
		},
		schedule.Job{
			Name:  "campaign-sweep",
			Every: cfg.CampaignSweepInterval,
			Wake:  campaignQueued,
			Run: func(ctx context.Context) error {
				_, err := campaigns.RunScheduledSweep(ctx)
				return err
			},
		},
		schedule.Job{
			Name:  "retention-sweep",
			Every: cfg.RetentionSweepInterval,
			Run: func(ctx context.Context) error {
				_, err := processor.RunRetentionSweep(ctx)
				return err
			},
		},
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return prom.Run(gctx) })

	done := make(chan struct{})
	go func() {
		<-gctx.Done()
		l.Info("Shutting down")
		select {
		case <-done:
		case <-time.After(shutdownGrace):
			l.Warn("Shutdown was forced, terminating now")
			os.Exit(1)
		}
	}()

	err = g.Wait()
	close(done)
	if err != nil {
		return err
	}
	l.Infof("Shutdown complete")
	return nil
}
