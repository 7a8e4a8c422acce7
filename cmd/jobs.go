package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tradelens/ms-go-billing/app/service"
	"github.com/tradelens/ms-go-billing/config"
)

var (
	workerMode bool
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Replay unprocessed gateway webhooks",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"sweep_webhooks",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.SweepInterval },
			func(s *service.BillingService, ctx context.Context) error {
				_, err := s.RunSweepWebhooksBatch(ctx)
				return err
			},
		)
	},
}

var renewCmd = &cobra.Command{
	Use:   "renew",
	Short: "Charge stored tokens for subscriptions due renewal",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"renew_subscriptions",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.RenewInterval },
			func(s *service.BillingService, ctx context.Context) error {
				return s.RunRenewalsBatch(ctx)
			},
		)
	},
}

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Run expiration-related commands",
}

var expireSessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Mark overdue open checkout sessions as expired",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"expire_sessions",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.ExpireInterval },
			func(s *service.BillingService, ctx context.Context) error {
				return s.RunExpireSessionsBatch(ctx)
			},
		)
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(renewCmd)
	rootCmd.AddCommand(expireCmd)
	expireCmd.AddCommand(expireSessionsCmd)

	rootCmd.PersistentFlags().BoolVar(&workerMode, "worker", false, "Run continuously using configured interval")
}

func runCommand(
	name string,
	intervalResolver func(cfg *config.Config) time.Duration,
	fn func(s *service.BillingService, ctx context.Context) error,
) {
	cfg, billingService, cleanup := mustCreateBillingService()
	defer cleanup()

	if workerMode {
		runWorker(name, intervalResolver(cfg), billingService, fn)
		return
	}

	ctx := context.Background()
	runJob(name, func() error { return fn(billingService, ctx) })
}

func runWorker(
	name string,
	interval time.Duration,
	billingService *service.BillingService,
	fn func(s *service.BillingService, ctx context.Context) error,
) {
	if interval <= 0 {
		logrus.WithField("job", name).Fatal("invalid worker interval")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runJob(name, func() error { return fn(billingService, ctx) })

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-quit:
			logrus.WithField("job", name).Info("Worker shutdown requested")
			return
		case <-ticker.C:
			runJob(name, func() error { return fn(billingService, ctx) })
		}
	}
}

func runJob(name string, fn func() error) {
	start := time.Now()
	err := fn()
	latency := time.Since(start)
	if err != nil {
		logrus.WithError(err).WithField("job", name).WithField("latency", latency.String()).Error("job_failed")
		return
	}
	logrus.WithField("job", name).WithField("latency", latency.String()).Info("job_completed")
}
