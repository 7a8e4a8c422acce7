package service

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/tradelens/ms-go-billing/app/entity"
	"github.com/tradelens/ms-go-billing/app/factory"
	"github.com/tradelens/ms-go-billing/app/gateway"
	"github.com/tradelens/ms-go-billing/config"
)

const (
	defaultBatchSize     = int32(100)
	defaultPollAttempts  = int32(3)
	defaultPollBase      = 2 * time.Second
	defaultSweepAttempts = int32(5)
	defaultSweepWindow   = 72 * time.Hour
	defaultFailThreshold = int32(3)
	defaultSessionTTL    = 30 * time.Minute
)

type checkoutSessionRepository interface {
	Create(ctx context.Context, session *entity.CheckoutSession) error
	Update(ctx context.Context, session *entity.CheckoutSession) error
	FindByID(ctx context.Context, id uint64) (*entity.CheckoutSession, error)
	FindByReference(ctx context.Context, reference string) (*entity.CheckoutSession, error)
	FindByLowProfileID(ctx context.Context, lowProfileID string) (*entity.CheckoutSession, error)
	FindOpenByUserAndPlan(ctx context.Context, userID, planCode string, now time.Time) (*entity.CheckoutSession, error)
	ListExpiredOpen(ctx context.Context, now time.Time, limit int32) ([]*entity.CheckoutSession, error)
}

type webhookRecordRepository interface {
	Create(ctx context.Context, record *entity.WebhookRecord) error
	Update(ctx context.Context, record *entity.WebhookRecord) error
	FindProcessedByReference(ctx context.Context, reference string) (*entity.WebhookRecord, error)
	ListUnprocessed(ctx context.Context, maxAttempts int32, since time.Time, limit int32) ([]*entity.WebhookRecord, error)
}

type subscriptionRepository interface {
	Create(ctx context.Context, subscription *entity.Subscription) error
	Update(ctx context.Context, subscription *entity.Subscription) error
	FindByUserID(ctx context.Context, userID string) (*entity.Subscription, error)
	ListDueRenewal(ctx context.Context, now time.Time, limit int32) ([]*entity.Subscription, error)
}

type paymentTokenRepository interface {
	Create(ctx context.Context, token *entity.PaymentToken) error
	FindByUserAndToken(ctx context.Context, userID, token string) (*entity.PaymentToken, error)
	Invalidate(ctx context.Context, userID string) error
}

type ledgerRepository interface {
	Create(ctx context.Context, entry *entity.LedgerEntry) error
	FindBySessionReference(ctx context.Context, reference string) (*entity.LedgerEntry, error)
	AttachDocument(ctx context.Context, id uint64, documentRef string) error
}

type planRepository interface {
	FindByCode(ctx context.Context, code string) (*entity.Plan, error)
	ListActive(ctx context.Context) ([]*entity.Plan, error)
}

type userDirectory interface {
	FindIDByEmail(ctx context.Context, email string) (string, error)
	FindEmailByID(ctx context.Context, id string) (string, error)
}

type paymentGateway interface {
	CreateSession(ctx context.Context, input *gateway.CreateSessionInput) (*gateway.CreateSessionOutput, error)
	GetSessionStatus(ctx context.Context, lowProfileID string) (*gateway.SessionStatus, error)
	ChargeToken(ctx context.Context, input *gateway.ChargeTokenInput) (*gateway.ChargeTokenOutput, error)
}

type mailer interface {
	Send(to, subject, body string) error
}

type BillingService struct {
	sessionRepo checkoutSessionRepository
	webhookRepo webhookRecordRepository
	subRepo     subscriptionRepository
	tokenRepo   paymentTokenRepository
	ledgerRepo  ledgerRepository
	planRepo    planRepository
	users       userDirectory
	gateway     paymentGateway
	mailer      mailer
	billingCfg  config.BillingConfig
	logger      logrus.FieldLogger

	// injectable for the poller tests
	sleep func(time.Duration)
}

func NewBillingService(
	sessionRepo checkoutSessionRepository,
	webhookRepo webhookRecordRepository,
	subRepo subscriptionRepository,
	tokenRepo paymentTokenRepository,
	ledgerRepo ledgerRepository,
	planRepo planRepository,
	users userDirectory,
	paymentGw paymentGateway,
	mail mailer,
	billingCfg config.BillingConfig,
) *BillingService {
	if billingCfg.SessionTTL <= 0 {
		billingCfg.SessionTTL = defaultSessionTTL
	}
	if billingCfg.PollMaxAttempts <= 0 {
		billingCfg.PollMaxAttempts = defaultPollAttempts
	}
	if billingCfg.PollBaseInterval <= 0 {
		billingCfg.PollBaseInterval = defaultPollBase
	}
	if billingCfg.SweepMaxAttempts <= 0 {
		billingCfg.SweepMaxAttempts = defaultSweepAttempts
	}
	if billingCfg.SweepWindow <= 0 {
		billingCfg.SweepWindow = defaultSweepWindow
	}
	if billingCfg.RenewalFailThreshold <= 0 {
		billingCfg.RenewalFailThreshold = defaultFailThreshold
	}

	return &BillingService{
		sessionRepo: sessionRepo,
		webhookRepo: webhookRepo,
		subRepo:     subRepo,
		tokenRepo:   tokenRepo,
		ledgerRepo:  ledgerRepo,
		planRepo:    planRepo,
		users:       users,
		gateway:     paymentGw,
		mailer:      mail,
		billingCfg:  billingCfg,
		logger:      factory.NewModuleLogger("billing-service"),
		sleep:       time.Sleep,
	}
}

func (s *BillingService) batchSize() int32 {
	if s.billingCfg.JobBatchSize > 0 {
		return s.billingCfg.JobBatchSize
	}
	return defaultBatchSize
}

func (s *BillingService) sendMail(to, subject, body string) {
	if s.mailer == nil || to == "" {
		return
	}
	if err := s.mailer.Send(to, subject, body); err != nil {
		s.logger.WithError(err).WithField("to", to).Warn("Confirmation mail failed")
	}
}

func normalizeOptionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// truncate trims to at most max bytes without splitting a rune; gateway
// descriptions are often Hebrew.
func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	for max > 0 && !utf8.RuneStart(value[max]) {
		max--
	}
	return value[:max]
}
