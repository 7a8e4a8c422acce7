package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/tradelens/ms-go-billing/app/entity"
)

var (
	ErrSubscriptionNotFound      = errors.New("subscription not found")
	ErrSubscriptionAlreadyExists = errors.New("subscription already exists")
)

type SubscriptionRepository struct {
	db DBTX
}

func NewSubscriptionRepository(db DBTX) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const subscriptionColumns = `
	id, user_id, plan_code, status,
	trial_ends_at, current_period_ends_at, next_charge_at,
	card_brand, card_last4, card_expiry, token_ref,
	fail_count, cancelled_at, created_at, updated_at
`

func (r *SubscriptionRepository) Create(ctx context.Context, subscription *entity.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			user_id, plan_code, status,
			trial_ends_at, current_period_ends_at, next_charge_at,
			card_brand, card_last4, card_expiry, token_ref,
			fail_count, cancelled_at, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		subscription.UserID,
		subscription.PlanCode,
		subscription.Status,
		nullableTimeValue(subscription.TrialEndsAt),
		nullableTimeValue(subscription.CurrentPeriodEndsAt),
		nullableTimeValue(subscription.NextChargeAt),
		nullableStringValue(subscription.CardBrand),
		nullableStringValue(subscription.CardLast4),
		nullableStringValue(subscription.CardExpiry),
		nullableStringValue(subscription.TokenRef),
		subscription.FailCount,
		nullableTimeValue(subscription.CancelledAt),
		subscription.CreatedAt,
		subscription.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrSubscriptionAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	subscription.ID = uint64(id)
	return nil
}

func (r *SubscriptionRepository) Update(ctx context.Context, subscription *entity.Subscription) error {
	query := `
		UPDATE subscriptions SET
			plan_code = ?,
			status = ?,
			trial_ends_at = ?,
			current_period_ends_at = ?,
			next_charge_at = ?,
			card_brand = ?,
			card_last4 = ?,
			card_expiry = ?,
			token_ref = ?,
			fail_count = ?,
			cancelled_at = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		subscription.PlanCode,
		subscription.Status,
		nullableTimeValue(subscription.TrialEndsAt),
		nullableTimeValue(subscription.CurrentPeriodEndsAt),
		nullableTimeValue(subscription.NextChargeAt),
		nullableStringValue(subscription.CardBrand),
		nullableStringValue(subscription.CardLast4),
		nullableStringValue(subscription.CardExpiry),
		nullableStringValue(subscription.TokenRef),
		subscription.FailCount,
		nullableTimeValue(subscription.CancelledAt),
		subscription.UpdatedAt,
		subscription.ID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSubscriptionNotFound
	}

	return nil
}

func (r *SubscriptionRepository) FindByUserID(ctx context.Context, userID string) (*entity.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = ? LIMIT 1`

	subscription := &entity.Subscription{}
	if err := scanSubscription(r.db.QueryRowContext(ctx, query, userID), subscription); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return subscription, nil
}

func (r *SubscriptionRepository) ListDueRenewal(ctx context.Context, now time.Time, limit int32) ([]*entity.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE status IN (?, ?)
		  AND next_charge_at IS NOT NULL
		  AND next_charge_at <= ?
		ORDER BY next_charge_at ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query,
		entity.SubscriptionStatusTrial, entity.SubscriptionStatusActive, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subscriptions := make([]*entity.Subscription, 0)
	for rows.Next() {
		item := &entity.Subscription{}
		if err := scanSubscription(rows, item); err != nil {
			return nil, err
		}
		subscriptions = append(subscriptions, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return subscriptions, nil
}

func scanSubscription(scan rowScanner, subscription *entity.Subscription) error {
	var trialEndsAt sql.NullTime
	var currentPeriodEndsAt sql.NullTime
	var nextChargeAt sql.NullTime
	var cardBrand sql.NullString
	var cardLast4 sql.NullString
	var cardExpiry sql.NullString
	var tokenRef sql.NullString
	var cancelledAt sql.NullTime

	err := scan.Scan(
		&subscription.ID,
		&subscription.UserID,
		&subscription.PlanCode,
		&subscription.Status,
		&trialEndsAt,
		&currentPeriodEndsAt,
		&nextChargeAt,
		&cardBrand,
		&cardLast4,
		&cardExpiry,
		&tokenRef,
		&subscription.FailCount,
		&cancelledAt,
		&subscription.CreatedAt,
		&subscription.UpdatedAt,
	)
	if err != nil {
		return err
	}

	subscription.TrialEndsAt = timePtrFromNull(trialEndsAt)
	subscription.CurrentPeriodEndsAt = timePtrFromNull(currentPeriodEndsAt)
	subscription.NextChargeAt = timePtrFromNull(nextChargeAt)
	subscription.CardBrand = stringPtrFromNull(cardBrand)
	subscription.CardLast4 = stringPtrFromNull(cardLast4)
	subscription.CardExpiry = stringPtrFromNull(cardExpiry)
	subscription.TokenRef = stringPtrFromNull(tokenRef)
	subscription.CancelledAt = timePtrFromNull(cancelledAt)

	return nil
}
