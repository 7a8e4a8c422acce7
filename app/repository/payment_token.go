package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/tradelens/ms-go-billing/app/entity"
)

var ErrTokenAlreadyExists = errors.New("payment token already exists")

type PaymentTokenRepository struct {
	db DBTX
}

func NewPaymentTokenRepository(db DBTX) *PaymentTokenRepository {
	return &PaymentTokenRepository{db: db}
}

const paymentTokenColumns = `
	id, user_id, token, expires_at, card_brand, card_last4, valid, created_at, updated_at
`

// Create inserts a token guarded by the (user_id, token) unique key.
func (r *PaymentTokenRepository) Create(ctx context.Context, token *entity.PaymentToken) error {
	query := `
		INSERT INTO payment_tokens (
			user_id, token, expires_at, card_brand, card_last4, valid, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		token.UserID,
		token.Token,
		nullableTimeValue(token.ExpiresAt),
		nullableStringValue(token.CardBrand),
		nullableStringValue(token.CardLast4),
		token.Valid,
		token.CreatedAt,
		token.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrTokenAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	token.ID = uint64(id)
	return nil
}

func (r *PaymentTokenRepository) FindByUserAndToken(ctx context.Context, userID, token string) (*entity.PaymentToken, error) {
	query := `SELECT ` + paymentTokenColumns + ` FROM payment_tokens WHERE user_id = ? AND token = ? LIMIT 1`

	item := &entity.PaymentToken{}
	if err := scanPaymentToken(r.db.QueryRowContext(ctx, query, userID, token), item); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return item, nil
}

// Invalidate flags every token for the user; rows are kept for audit.
func (r *PaymentTokenRepository) Invalidate(ctx context.Context, userID string) error {
	query := `UPDATE payment_tokens SET valid = FALSE, updated_at = UTC_TIMESTAMP() WHERE user_id = ? AND valid = TRUE`
	_, err := r.db.ExecContext(ctx, query, userID)
	return err
}

func scanPaymentToken(scan rowScanner, token *entity.PaymentToken) error {
	var expiresAt sql.NullTime
	var cardBrand sql.NullString
	var cardLast4 sql.NullString

	err := scan.Scan(
		&token.ID,
		&token.UserID,
		&token.Token,
		&expiresAt,
		&cardBrand,
		&cardLast4,
		&token.Valid,
		&token.CreatedAt,
		&token.UpdatedAt,
	)
	if err != nil {
		return err
	}

	token.ExpiresAt = timePtrFromNull(expiresAt)
	token.CardBrand = stringPtrFromNull(cardBrand)
	token.CardLast4 = stringPtrFromNull(cardLast4)

	return nil
}
