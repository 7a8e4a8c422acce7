package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App     AppConfig
	HTTP    ServerConfig
	MySQL   MySQLConfig
	Log     LogConfig
	Auth    AuthConfig
	Cardcom CardcomConfig
	SMTP    SMTPConfig
	Billing BillingConfig
	Jobs    JobsConfig
}

type AppConfig struct {
	ServiceName string
}

type ServerConfig struct {
	Host string
	Port string
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type LogConfig struct {
	Level string
}

type AuthConfig struct {
	JWTSecret string
}

type CardcomConfig struct {
	BaseURL        string
	TerminalNumber string
	APIName        string
	APIPassword    string
	HTTPTimeout    time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Sender   string
}

type BillingConfig struct {
	SessionTTL           time.Duration
	SuccessRedirectURL   string
	FailureRedirectURL   string
	WebhookURL           string
	PollMaxAttempts      int32
	PollBaseInterval     time.Duration
	SweepMaxAttempts     int32
	SweepWindow          time.Duration
	RenewalFailThreshold int32
	JobBatchSize         int32
}

type JobsConfig struct {
	SweepInterval  time.Duration
	RenewInterval  time.Duration
	ExpireInterval time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	return &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "billing-service"),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		MySQL: MySQLConfig{
			DSN:             mysqlDSN,
			MaxOpenConns:    getIntEnv("MYSQL_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("MYSQL_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("MYSQL_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
		},
		Cardcom: CardcomConfig{
			BaseURL:        getEnv("CARDCOM_BASE_URL", ""),
			TerminalNumber: getEnv("CARDCOM_TERMINAL_NUMBER", ""),
			APIName:        getEnv("CARDCOM_API_NAME", ""),
			APIPassword:    getEnv("CARDCOM_API_PASSWORD", ""),
			HTTPTimeout:    getSecondsEnv("CARDCOM_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnv("SMTP_PORT", "587"),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			Sender:   getEnv("SMTP_SENDER", ""),
		},
		Billing: BillingConfig{
			SessionTTL:           getMinutesEnv("BILLING_SESSION_TTL_MINUTES", 30*time.Minute),
			SuccessRedirectURL:   getEnv("BILLING_SUCCESS_REDIRECT_URL", ""),
			FailureRedirectURL:   getEnv("BILLING_FAILURE_REDIRECT_URL", ""),
			WebhookURL:           getEnv("BILLING_WEBHOOK_URL", ""),
			PollMaxAttempts:      int32(getIntEnv("BILLING_POLL_MAX_ATTEMPTS", 3)),
			PollBaseInterval:     getSecondsEnv("BILLING_POLL_BASE_INTERVAL_SECONDS", 2*time.Second),
			SweepMaxAttempts:     int32(getIntEnv("BILLING_SWEEP_MAX_ATTEMPTS", 5)),
			SweepWindow:          getMinutesEnv("BILLING_SWEEP_WINDOW_MINUTES", 72*time.Hour),
			RenewalFailThreshold: int32(getIntEnv("BILLING_RENEWAL_FAIL_THRESHOLD", 3)),
			JobBatchSize:         int32(getIntEnv("BILLING_JOB_BATCH_SIZE", 100)),
		},
		Jobs: JobsConfig{
			SweepInterval:  getMinutesEnv("BILLING_SWEEP_INTERVAL_MINUTES", 5*time.Minute),
			RenewInterval:  getMinutesEnv("BILLING_RENEW_INTERVAL_MINUTES", 60*time.Minute),
			ExpireInterval: getMinutesEnv("BILLING_EXPIRE_INTERVAL_MINUTES", 5*time.Minute),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
