package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/tradelens/ms-go-billing/app/entity"
	"github.com/tradelens/ms-go-billing/app/gateway"
	"github.com/tradelens/ms-go-billing/app/repository"
	"github.com/tradelens/ms-go-billing/app/types"
	"github.com/tradelens/ms-go-billing/config"
)

type fakeSessionRepo struct {
	sessions map[uint64]*entity.CheckoutSession
	nextID   uint64
	// loseNextCreateRace stores the row as if a concurrent insert won, then
	// reports a duplicate.
	loseNextCreateRace bool
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: map[uint64]*entity.CheckoutSession{}, nextID: 1}
}

func (r *fakeSessionRepo) Create(_ context.Context, session *entity.CheckoutSession) error {
	for _, item := range r.sessions {
		if item.Reference == session.Reference {
			return repository.ErrSessionAlreadyExists
		}
	}
	id := r.nextID
	r.nextID++
	copyItem := *session
	copyItem.ID = id
	r.sessions[id] = &copyItem
	if r.loseNextCreateRace {
		r.loseNextCreateRace = false
		return repository.ErrSessionAlreadyExists
	}
	session.ID = id
	return nil
}

func (r *fakeSessionRepo) Update(_ context.Context, session *entity.CheckoutSession) error {
	if _, ok := r.sessions[session.ID]; !ok {
		return repository.ErrSessionNotFound
	}
	copyItem := *session
	r.sessions[session.ID] = &copyItem
	return nil
}

func (r *fakeSessionRepo) FindByID(_ context.Context, id uint64) (*entity.CheckoutSession, error) {
	item, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	copyItem := *item
	return &copyItem, nil
}

func (r *fakeSessionRepo) FindByReference(_ context.Context, reference string) (*entity.CheckoutSession, error) {
	for _, item := range r.sessions {
		if item.Reference == reference {
			copyItem := *item
			return &copyItem, nil
		}
	}
	return nil, nil
}

func (r *fakeSessionRepo) FindByLowProfileID(_ context.Context, lowProfileID string) (*entity.CheckoutSession, error) {
	for _, item := range r.sessions {
		if item.LowProfileID != nil && *item.LowProfileID == lowProfileID {
			copyItem := *item
			return &copyItem, nil
		}
	}
	return nil, nil
}

func (r *fakeSessionRepo) FindOpenByUserAndPlan(_ context.Context, userID, planCode string, now time.Time) (*entity.CheckoutSession, error) {
	for _, item := range r.sessions {
		if item.UserID == nil || *item.UserID != userID || item.PlanCode != planCode {
			continue
		}
		if item.Status != entity.SessionStatusPending && item.Status != entity.SessionStatusSubmitted {
			continue
		}
		if !item.ExpiresAt.After(now) {
			continue
		}
		copyItem := *item
		return &copyItem, nil
	}
	return nil, nil
}

func (r *fakeSessionRepo) ListExpiredOpen(_ context.Context, now time.Time, limit int32) ([]*entity.CheckoutSession, error) {
	items := make([]*entity.CheckoutSession, 0)
	for _, item := range r.sessions {
		if item.Status != entity.SessionStatusPending && item.Status != entity.SessionStatusSubmitted {
			continue
		}
		if item.ExpiresAt.After(now) {
			continue
		}
		copyItem := *item
		items = append(items, &copyItem)
		if limit > 0 && len(items) == int(limit) {
			break
		}
	}
	return items, nil
}

type fakeWebhookRepo struct {
	records map[uint64]*entity.WebhookRecord
	nextID  uint64
}

func newFakeWebhookRepo() *fakeWebhookRepo {
	return &fakeWebhookRepo{records: map[uint64]*entity.WebhookRecord{}, nextID: 1}
}

func (r *fakeWebhookRepo) Create(_ context.Context, record *entity.WebhookRecord) error {
	id := r.nextID
	r.nextID++
	copyItem := *record
	copyItem.ID = id
	r.records[id] = &copyItem
	record.ID = id
	return nil
}

func (r *fakeWebhookRepo) Update(_ context.Context, record *entity.WebhookRecord) error {
	if _, ok := r.records[record.ID]; !ok {
		return errors.New("webhook record not found")
	}
	copyItem := *record
	r.records[record.ID] = &copyItem
	return nil
}

func (r *fakeWebhookRepo) FindProcessedByReference(_ context.Context, reference string) (*entity.WebhookRecord, error) {
	var latest *entity.WebhookRecord
	for _, item := range r.records {
		if !item.Processed || item.Reference == nil || *item.Reference != reference {
			continue
		}
		if latest == nil || item.ID > latest.ID {
			latest = item
		}
	}
	if latest == nil {
		return nil, nil
	}
	copyItem := *latest
	return &copyItem, nil
}

func (r *fakeWebhookRepo) ListUnprocessed(_ context.Context, maxAttempts int32, since time.Time, limit int32) ([]*entity.WebhookRecord, error) {
	items := make([]*entity.WebhookRecord, 0)
	for id := uint64(1); id < r.nextID; id++ {
		item, ok := r.records[id]
		if !ok {
			continue
		}
		if item.Processed || item.Attempts >= maxAttempts || item.CreatedAt.Before(since) {
			continue
		}
		copyItem := *item
		items = append(items, &copyItem)
		if limit > 0 && len(items) == int(limit) {
			break
		}
	}
	return items, nil
}

type fakeSubRepo struct {
	subscriptions map[string]*entity.Subscription
	nextID        uint64
}

func newFakeSubRepo() *fakeSubRepo {
	return &fakeSubRepo{subscriptions: map[string]*entity.Subscription{}, nextID: 1}
}

func (r *fakeSubRepo) Create(_ context.Context, subscription *entity.Subscription) error {
	if _, ok := r.subscriptions[subscription.UserID]; ok {
		return repository.ErrSubscriptionAlreadyExists
	}
	id := r.nextID
	r.nextID++
	copyItem := *subscription
	copyItem.ID = id
	r.subscriptions[subscription.UserID] = &copyItem
	subscription.ID = id
	return nil
}

func (r *fakeSubRepo) Update(_ context.Context, subscription *entity.Subscription) error {
	existing, ok := r.subscriptions[subscription.UserID]
	if !ok || existing.ID != subscription.ID {
		return repository.ErrSubscriptionNotFound
	}
	copyItem := *subscription
	r.subscriptions[subscription.UserID] = &copyItem
	return nil
}

func (r *fakeSubRepo) FindByUserID(_ context.Context, userID string) (*entity.Subscription, error) {
	item, ok := r.subscriptions[userID]
	if !ok {
		return nil, nil
	}
	copyItem := *item
	return &copyItem, nil
}

func (r *fakeSubRepo) ListDueRenewal(_ context.Context, now time.Time, limit int32) ([]*entity.Subscription, error) {
	items := make([]*entity.Subscription, 0)
	for _, item := range r.subscriptions {
		if item.Status != entity.SubscriptionStatusTrial && item.Status != entity.SubscriptionStatusActive {
			continue
		}
		if item.NextChargeAt == nil || item.NextChargeAt.After(now) {
			continue
		}
		copyItem := *item
		items = append(items, &copyItem)
		if limit > 0 && len(items) == int(limit) {
			break
		}
	}
	return items, nil
}

type fakeTokenRepo struct {
	tokens []*entity.PaymentToken
	nextID uint64
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{nextID: 1}
}

func (r *fakeTokenRepo) Create(_ context.Context, token *entity.PaymentToken) error {
	for _, item := range r.tokens {
		if item.UserID == token.UserID && item.Token == token.Token {
			return repository.ErrTokenAlreadyExists
		}
	}
	copyItem := *token
	copyItem.ID = r.nextID
	r.nextID++
	r.tokens = append(r.tokens, &copyItem)
	token.ID = copyItem.ID
	return nil
}

func (r *fakeTokenRepo) FindByUserAndToken(_ context.Context, userID, token string) (*entity.PaymentToken, error) {
	for _, item := range r.tokens {
		if item.UserID == userID && item.Token == token {
			copyItem := *item
			return &copyItem, nil
		}
	}
	return nil, nil
}

func (r *fakeTokenRepo) Invalidate(_ context.Context, userID string) error {
	for _, item := range r.tokens {
		if item.UserID == userID {
			item.Valid = false
		}
	}
	return nil
}

type fakeLedgerRepo struct {
	entries []*entity.LedgerEntry
}

func (r *fakeLedgerRepo) Create(_ context.Context, entry *entity.LedgerEntry) error {
	copyItem := *entry
	copyItem.ID = uint64(len(r.entries) + 1)
	r.entries = append(r.entries, &copyItem)
	return nil
}

func (r *fakeLedgerRepo) FindBySessionReference(_ context.Context, reference string) (*entity.LedgerEntry, error) {
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].SessionReference != nil && *r.entries[i].SessionReference == reference {
			copyItem := *r.entries[i]
			return &copyItem, nil
		}
	}
	return nil, nil
}

func (r *fakeLedgerRepo) AttachDocument(_ context.Context, id uint64, documentRef string) error {
	for _, entry := range r.entries {
		if entry.ID == id {
			ref := documentRef
			entry.DocumentRef = &ref
			return nil
		}
	}
	return nil
}

func (r *fakeLedgerRepo) countByStatus(status string) int {
	count := 0
	for _, entry := range r.entries {
		if entry.Status == status {
			count++
		}
	}
	return count
}

type fakePlanRepo struct {
	plans map[string]*entity.Plan
}

func (r *fakePlanRepo) FindByCode(_ context.Context, code string) (*entity.Plan, error) {
	item, ok := r.plans[code]
	if !ok {
		return nil, nil
	}
	copyItem := *item
	return &copyItem, nil
}

func (r *fakePlanRepo) ListActive(_ context.Context) ([]*entity.Plan, error) {
	items := make([]*entity.Plan, 0, len(r.plans))
	for _, item := range r.plans {
		if !item.Active {
			continue
		}
		copyItem := *item
		items = append(items, &copyItem)
	}
	return items, nil
}

type fakeUserDirectory struct {
	byEmail map[string]string
}

func (r *fakeUserDirectory) FindIDByEmail(_ context.Context, email string) (string, error) {
	return r.byEmail[strings.ToLower(email)], nil
}

func (r *fakeUserDirectory) FindEmailByID(_ context.Context, id string) (string, error) {
	for email, userID := range r.byEmail {
		if userID == id {
			return email, nil
		}
	}
	return "", nil
}

type fakeGateway struct {
	createOutput *gateway.CreateSessionOutput
	createErr    error
	createCalls  int

	statusOutput *gateway.SessionStatus
	statusErr    error
	statusCalls  int

	chargeOutput *gateway.ChargeTokenOutput
	chargeErr    error
	chargeCalls  int
}

func (g *fakeGateway) CreateSession(context.Context, *gateway.CreateSessionInput) (*gateway.CreateSessionOutput, error) {
	g.createCalls++
	if g.createErr != nil {
		return nil, g.createErr
	}
	if g.createOutput != nil {
		return g.createOutput, nil
	}
	return &gateway.CreateSessionOutput{
		LowProfileID: "lp-123",
		CheckoutURL:  "https://secure.example/pay/lp-123",
	}, nil
}

func (g *fakeGateway) GetSessionStatus(context.Context, string) (*gateway.SessionStatus, error) {
	g.statusCalls++
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	if g.statusOutput != nil {
		return g.statusOutput, nil
	}
	return &gateway.SessionStatus{ResponseCode: 608, Description: "in progress"}, nil
}

func (g *fakeGateway) ChargeToken(context.Context, *gateway.ChargeTokenInput) (*gateway.ChargeTokenOutput, error) {
	g.chargeCalls++
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	if g.chargeOutput != nil {
		return g.chargeOutput, nil
	}
	return &gateway.ChargeTokenOutput{ResponseCode: 0, TransactionID: "112233"}, nil
}

type fakeMailer struct {
	sent []string
}

func (m *fakeMailer) Send(to, subject, _ string) error {
	m.sent = append(m.sent, to+": "+subject)
	return nil
}

type billingFixture struct {
	sessions *fakeSessionRepo
	webhooks *fakeWebhookRepo
	subs     *fakeSubRepo
	tokens   *fakeTokenRepo
	ledger   *fakeLedgerRepo
	plans    *fakePlanRepo
	users    *fakeUserDirectory
	gateway  *fakeGateway
	mailer   *fakeMailer
	svc      *BillingService
	sleeps   []time.Duration
}

func newBillingFixture() *billingFixture {
	monthly := entity.PlanIntervalMonth
	yearly := entity.PlanIntervalYear

	f := &billingFixture{
		sessions: newFakeSessionRepo(),
		webhooks: newFakeWebhookRepo(),
		subs:     newFakeSubRepo(),
		tokens:   newFakeTokenRepo(),
		ledger:   &fakeLedgerRepo{},
		plans: &fakePlanRepo{plans: map[string]*entity.Plan{
			"pro-monthly": {
				Code: "pro-monthly", Name: "Pro Monthly",
				Amount: decimal.NewFromInt(99), Currency: "ILS",
				Operation: entity.OperationChargeAndCreateToken,
				Interval:  &monthly, Active: true,
			},
			"pro-annual": {
				Code: "pro-annual", Name: "Pro Annual",
				Amount: decimal.NewFromInt(899), Currency: "ILS",
				Operation: entity.OperationChargeAndCreateToken,
				Interval:  &yearly, Active: true,
			},
			"trial-monthly": {
				Code: "trial-monthly", Name: "Trial Monthly",
				Amount: decimal.Zero, Currency: "ILS",
				Operation: entity.OperationCreateTokenOnly,
				Interval:  &monthly, Trial: true, Active: true,
			},
			"lifetime": {
				Code: "lifetime", Name: "Lifetime",
				Amount: decimal.NewFromInt(1499), Currency: "USD",
				Operation: entity.OperationChargeOnly, Active: true,
			},
		}},
		users:   &fakeUserDirectory{byEmail: map[string]string{}},
		gateway: &fakeGateway{},
		mailer:  &fakeMailer{},
	}

	f.svc = NewBillingService(
		f.sessions,
		f.webhooks,
		f.subs,
		f.tokens,
		f.ledger,
		f.plans,
		f.users,
		f.gateway,
		f.mailer,
		config.BillingConfig{
			SessionTTL:           30 * time.Minute,
			PollMaxAttempts:      3,
			PollBaseInterval:     time.Second,
			SweepMaxAttempts:     5,
			SweepWindow:          72 * time.Hour,
			RenewalFailThreshold: 3,
			JobBatchSize:         100,
		},
	)
	f.svc.sleep = func(d time.Duration) { f.sleeps = append(f.sleeps, d) }
	return f
}

// submittedSession seeds a session as CreateCheckout would leave it once the
// gateway accepted it.
func (f *billingFixture) submittedSession(t *testing.T, planCode string, userID *string) *entity.CheckoutSession {
	t.Helper()
	plan, _ := f.plans.FindByCode(context.Background(), planCode)
	if plan == nil {
		t.Fatalf("unknown plan %s", planCode)
	}
	now := time.Now().UTC()
	lowProfileID := "lp-123"
	session := &entity.CheckoutSession{
		Reference:    "cs_test",
		LowProfileID: &lowProfileID,
		UserID:       userID,
		Email:        "buyer@example.com",
		FullName:     "Buyer Example",
		PlanCode:     plan.Code,
		Amount:       plan.Amount,
		Currency:     plan.Currency,
		Operation:    plan.Operation,
		Status:       entity.SessionStatusSubmitted,
		ExpiresAt:    now.Add(30 * time.Minute),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := f.sessions.Create(context.Background(), session); err != nil {
		t.Fatalf("seed session failed: %v", err)
	}
	return session
}

func strPtr(v string) *string { return &v }

func TestCreateCheckoutSubmitsSessionToGateway(t *testing.T) {
	f := newBillingFixture()

	result, err := f.svc.CreateCheckout(context.Background(), &types.CreateCheckoutRequest{
		UserID:   "user-1",
		PlanCode: "pro-monthly",
		Email:    "buyer@example.com",
		FullName: "Buyer Example",
	})
	if err != nil {
		t.Fatalf("create checkout failed: %v", err)
	}
	if result.CheckoutURL == "" {
		t.Fatal("expected a hosted checkout URL")
	}
	if result.Session.Status != entity.SessionStatusSubmitted {
		t.Fatalf("expected submitted status, got %d", result.Session.Status)
	}
	if result.Session.LowProfileID == nil || *result.Session.LowProfileID != "lp-123" {
		t.Fatalf("expected gateway session id on the session, got %v", result.Session.LowProfileID)
	}
	if !strings.HasPrefix(result.Session.Reference, "cs_") {
		t.Fatalf("unexpected reference: %s", result.Session.Reference)
	}
}

func TestCreateCheckoutUnknownPlan(t *testing.T) {
	f := newBillingFixture()

	_, err := f.svc.CreateCheckout(context.Background(), &types.CreateCheckoutRequest{
		PlanCode: "no-such-plan",
		Email:    "buyer@example.com",
		FullName: "Buyer Example",
	})
	if !errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound, got %v", err)
	}
}

func TestCreateCheckoutReusesOpenSessionForSameUserAndPlan(t *testing.T) {
	f := newBillingFixture()

	first, err := f.svc.CreateCheckout(context.Background(), &types.CreateCheckoutRequest{
		UserID:   "user-1",
		PlanCode: "pro-monthly",
		Email:    "buyer@example.com",
		FullName: "Buyer Example",
	})
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}

	second, err := f.svc.CreateCheckout(context.Background(), &types.CreateCheckoutRequest{
		UserID:   "user-1",
		PlanCode: "pro-monthly",
		Email:    "buyer@example.com",
		FullName: "Buyer Example",
	})
	if err != nil {
		t.Fatalf("second create failed: %v", err)
	}
	if second.Session.ID != first.Session.ID {
		t.Fatalf("expected open session replay, got new session %d", second.Session.ID)
	}
	if second.CheckoutURL == "" || second.CheckoutURL != first.CheckoutURL {
		t.Fatalf("expected the replay to carry the stored checkout URL, got %q", second.CheckoutURL)
	}
	if f.gateway.createCalls != 1 {
		t.Fatalf("expected a single gateway call, got %d", f.gateway.createCalls)
	}
}

func TestCreateCheckoutGatewayFailureMarksSessionFailed(t *testing.T) {
	f := newBillingFixture()
	f.gateway.createErr = errors.New("connection refused")

	_, err := f.svc.CreateCheckout(context.Background(), &types.CreateCheckoutRequest{
		PlanCode: "pro-monthly",
		Email:    "buyer@example.com",
		FullName: "Buyer Example",
	})
	if !errors.Is(err, ErrGatewayRejected) {
		t.Fatalf("expected ErrGatewayRejected, got %v", err)
	}

	var stored *entity.CheckoutSession
	for _, item := range f.sessions.sessions {
		stored = item
	}
	if stored == nil || stored.Status != entity.SessionStatusFailed {
		t.Fatalf("expected the session to be marked failed, got %+v", stored)
	}
	if stored.FailureReason == nil || !strings.Contains(*stored.FailureReason, "connection refused") {
		t.Fatalf("expected failure reason recorded, got %v", stored.FailureReason)
	}
}

func TestCreateCheckoutLostInsertRaceReturnsExistingRow(t *testing.T) {
	f := newBillingFixture()
	f.sessions.loseNextCreateRace = true

	result, err := f.svc.CreateCheckout(context.Background(), &types.CreateCheckoutRequest{
		PlanCode: "pro-monthly",
		Email:    "buyer@example.com",
		FullName: "Buyer Example",
	})
	if err != nil {
		t.Fatalf("expected the winning row back, got error %v", err)
	}
	if result.Session == nil || result.Session.ID == 0 {
		t.Fatalf("expected the stored session, got %+v", result.Session)
	}
	if f.gateway.createCalls != 0 {
		t.Fatalf("expected no gateway call after losing the insert race, got %d", f.gateway.createCalls)
	}
	if len(f.sessions.sessions) != 1 {
		t.Fatalf("expected a single session row, got %d", len(f.sessions.sessions))
	}
}

func TestGetSubscriptionNotFound(t *testing.T) {
	f := newBillingFixture()

	_, err := f.svc.GetSubscription(context.Background(), "user-1")
	if !errors.Is(err, ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestCancelSubscriptionMarksCancelledAndInvalidatesTokens(t *testing.T) {
	f := newBillingFixture()
	next := time.Now().UTC().Add(24 * time.Hour)
	_ = f.subs.Create(context.Background(), &entity.Subscription{
		UserID:       "user-1",
		PlanCode:     "pro-monthly",
		Status:       entity.SubscriptionStatusActive,
		NextChargeAt: &next,
	})
	_ = f.tokens.Create(context.Background(), &entity.PaymentToken{UserID: "user-1", Token: "tok_123", Valid: true})

	cancelled, err := f.svc.CancelSubscription(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != entity.SubscriptionStatusCancelled || cancelled.CancelledAt == nil {
		t.Fatalf("expected cancelled state, got %+v", cancelled)
	}
	if cancelled.NextChargeAt != nil {
		t.Fatal("expected next charge cleared on cancel")
	}
	if f.tokens.tokens[0].Valid {
		t.Fatal("expected stored token to be invalidated")
	}

	// cancelled is terminal: a second cancel is rejected, not repeated
	if _, err := f.svc.CancelSubscription(context.Background(), "user-1"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus on repeat cancel, got %v", err)
	}
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	value := "העסקה נדחתה על ידי חברת האשראי"
	for max := 1; max < len(value); max++ {
		got := truncate(value, max)
		if len(got) > max {
			t.Fatalf("truncate(%d) returned %d bytes", max, len(got))
		}
		if !utf8.ValidString(got) {
			t.Fatalf("truncate(%d) split a rune: %q", max, got)
		}
		if !strings.HasPrefix(value, got) {
			t.Fatalf("truncate(%d) is not a prefix: %q", max, got)
		}
	}
	if truncate("short", 100) != "short" {
		t.Fatal("expected short values untouched")
	}
}
