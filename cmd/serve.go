package cmd

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tradelens/ms-go-billing/app/controller"
	"github.com/tradelens/ms-go-billing/app/gateway"
	"github.com/tradelens/ms-go-billing/app/notify"
	"github.com/tradelens/ms-go-billing/app/repository"
	"github.com/tradelens/ms-go-billing/app/service"
	"github.com/tradelens/ms-go-billing/config"
	"github.com/tradelens/ms-go-billing/middleware/auth"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  "Start the HTTP (Echo) server for the billing service.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, billingService, cleanup := mustCreateBillingService()
	defer cleanup()

	billingController := controller.NewBillingController(billingService)
	jwtMiddleware := auth.NewJWTMiddleware(auth.JWTConfig{Secret: cfg.Auth.JWTSecret})

	e := setupHTTPServer(billingController, jwtMiddleware)

	go func() {
		httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}

	logrus.Info("Server stopped")
}

func setupHTTPServer(
	billingController *controller.BillingController,
	jwtMiddleware *auth.JWTMiddleware,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(echomiddleware.RequestID())

	e.GET("/health", billingController.Health)

	billing := e.Group("/billing")
	billing.GET("/plans", billingController.ListPlans)
	billing.POST("/checkouts", billingController.CreateCheckout, jwtMiddleware.Optional())
	billing.GET("/checkouts/:id/status", billingController.CheckoutStatus)
	billing.POST("/checkouts/verify", billingController.VerifyCheckout)
	billing.GET("/subscription", billingController.GetSubscription, jwtMiddleware.Require())
	billing.POST("/subscription/cancel", billingController.CancelSubscription, jwtMiddleware.Require())

	// The gateway posts or redirects here in whatever shape its terminal is
	// configured for; the handler sorts it out and never turns it away.
	e.Any("/webhooks/cardcom", billingController.HandleCardcomWebhook)

	return e
}

func mustCreateBillingService() (*config.Config, *service.BillingService, func()) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	sessionRepo := repository.NewCheckoutSessionRepository(db)
	webhookRepo := repository.NewWebhookRecordRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	tokenRepo := repository.NewPaymentTokenRepository(db)
	ledgerRepo := repository.NewLedgerEntryRepository(db)
	planRepo := repository.NewPlanRepository(db)
	userDirectory := repository.NewUserDirectory(db)

	cardcomGateway := gateway.NewCardcom(gateway.CardcomConfig{
		BaseURL:        cfg.Cardcom.BaseURL,
		TerminalNumber: cfg.Cardcom.TerminalNumber,
		APIName:        cfg.Cardcom.APIName,
		APIPassword:    cfg.Cardcom.APIPassword,
		HTTPTimeout:    cfg.Cardcom.HTTPTimeout,
	})

	smtpMailer := notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		Sender:   cfg.SMTP.Sender,
	})

	billingService := service.NewBillingService(
		sessionRepo,
		webhookRepo,
		subscriptionRepo,
		tokenRepo,
		ledgerRepo,
		planRepo,
		userDirectory,
		cardcomGateway,
		smtpMailer,
		cfg.Billing,
	)

	cleanup := func() {
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	}

	return cfg, billingService, cleanup
}

func configureLogging(cfg *config.Config) error {
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetOutput(os.Stdout)
	return nil
}
