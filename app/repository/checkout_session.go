package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/tradelens/ms-go-billing/app/entity"
)

var (
	ErrSessionNotFound      = errors.New("checkout session not found")
	ErrSessionAlreadyExists = errors.New("checkout session already exists")
)

type CheckoutSessionRepository struct {
	db DBTX
}

func NewCheckoutSessionRepository(db DBTX) *CheckoutSessionRepository {
	return &CheckoutSessionRepository{db: db}
}

const checkoutSessionColumns = `
	id, reference, low_profile_id, checkout_url, user_id, email, full_name, phone,
	plan_code, amount, currency, operation, status,
	transaction_id, invoice_number, failure_reason, registration_json,
	expires_at, created_at, updated_at
`

func (r *CheckoutSessionRepository) Create(ctx context.Context, session *entity.CheckoutSession) error {
	query := `
		INSERT INTO checkout_sessions (
			reference, low_profile_id, checkout_url, user_id, email, full_name, phone,
			plan_code, amount, currency, operation, status,
			transaction_id, invoice_number, failure_reason, registration_json,
			expires_at, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		session.Reference,
		nullableStringValue(session.LowProfileID),
		nullableStringValue(session.CheckoutURL),
		nullableStringValue(session.UserID),
		session.Email,
		session.FullName,
		nullableStringValue(session.Phone),
		session.PlanCode,
		session.Amount,
		session.Currency,
		session.Operation,
		session.Status,
		nullableStringValue(session.TransactionID),
		nullableStringValue(session.InvoiceNumber),
		nullableStringValue(session.FailureReason),
		nullableStringValue(session.RegistrationJSON),
		session.ExpiresAt,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrSessionAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	session.ID = uint64(id)
	return nil
}

func (r *CheckoutSessionRepository) Update(ctx context.Context, session *entity.CheckoutSession) error {
	query := `
		UPDATE checkout_sessions SET
			low_profile_id = ?,
			checkout_url = ?,
			user_id = ?,
			status = ?,
			transaction_id = ?,
			invoice_number = ?,
			failure_reason = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		nullableStringValue(session.LowProfileID),
		nullableStringValue(session.CheckoutURL),
		nullableStringValue(session.UserID),
		session.Status,
		nullableStringValue(session.TransactionID),
		nullableStringValue(session.InvoiceNumber),
		nullableStringValue(session.FailureReason),
		session.UpdatedAt,
		session.ID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSessionNotFound
	}

	return nil
}

func (r *CheckoutSessionRepository) FindByID(ctx context.Context, id uint64) (*entity.CheckoutSession, error) {
	query := `SELECT ` + checkoutSessionColumns + ` FROM checkout_sessions WHERE id = ?`

	session := &entity.CheckoutSession{}
	if err := scanCheckoutSession(r.db.QueryRowContext(ctx, query, id), session); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return session, nil
}

func (r *CheckoutSessionRepository) FindByReference(ctx context.Context, reference string) (*entity.CheckoutSession, error) {
	query := `SELECT ` + checkoutSessionColumns + ` FROM checkout_sessions WHERE reference = ? LIMIT 1`

	session := &entity.CheckoutSession{}
	if err := scanCheckoutSession(r.db.QueryRowContext(ctx, query, reference), session); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return session, nil
}

func (r *CheckoutSessionRepository) FindByLowProfileID(ctx context.Context, lowProfileID string) (*entity.CheckoutSession, error) {
	query := `SELECT ` + checkoutSessionColumns + ` FROM checkout_sessions WHERE low_profile_id = ? LIMIT 1`

	session := &entity.CheckoutSession{}
	if err := scanCheckoutSession(r.db.QueryRowContext(ctx, query, lowProfileID), session); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return session, nil
}

// FindOpenByUserAndPlan returns a not-yet-expired pending/submitted session
// for the pair, used to treat re-initiation as an idempotent replay.
func (r *CheckoutSessionRepository) FindOpenByUserAndPlan(ctx context.Context, userID, planCode string, now time.Time) (*entity.CheckoutSession, error) {
	query := `
		SELECT ` + checkoutSessionColumns + `
		FROM checkout_sessions
		WHERE user_id = ? AND plan_code = ?
		  AND status IN (?, ?)
		  AND expires_at > ?
		ORDER BY id DESC
		LIMIT 1
	`

	session := &entity.CheckoutSession{}
	err := scanCheckoutSession(r.db.QueryRowContext(ctx, query,
		userID, planCode, entity.SessionStatusPending, entity.SessionStatusSubmitted, now), session)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return session, nil
}

func (r *CheckoutSessionRepository) ListExpiredOpen(ctx context.Context, now time.Time, limit int32) ([]*entity.CheckoutSession, error) {
	query := `
		SELECT ` + checkoutSessionColumns + `
		FROM checkout_sessions
		WHERE status IN (?, ?)
		  AND expires_at <= ?
		ORDER BY expires_at ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query,
		entity.SessionStatusPending, entity.SessionStatusSubmitted, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]*entity.CheckoutSession, 0)
	for rows.Next() {
		item := &entity.CheckoutSession{}
		if err := scanCheckoutSession(rows, item); err != nil {
			return nil, err
		}
		sessions = append(sessions, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCheckoutSession(scan rowScanner, session *entity.CheckoutSession) error {
	var lowProfileID sql.NullString
	var checkoutURL sql.NullString
	var userID sql.NullString
	var phone sql.NullString
	var transactionID sql.NullString
	var invoiceNumber sql.NullString
	var failureReason sql.NullString
	var registrationJSON sql.NullString

	err := scan.Scan(
		&session.ID,
		&session.Reference,
		&lowProfileID,
		&checkoutURL,
		&userID,
		&session.Email,
		&session.FullName,
		&phone,
		&session.PlanCode,
		&session.Amount,
		&session.Currency,
		&session.Operation,
		&session.Status,
		&transactionID,
		&invoiceNumber,
		&failureReason,
		&registrationJSON,
		&session.ExpiresAt,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return err
	}

	session.LowProfileID = stringPtrFromNull(lowProfileID)
	session.CheckoutURL = stringPtrFromNull(checkoutURL)
	session.UserID = stringPtrFromNull(userID)
	session.Phone = stringPtrFromNull(phone)
	session.TransactionID = stringPtrFromNull(transactionID)
	session.InvoiceNumber = stringPtrFromNull(invoiceNumber)
	session.FailureReason = stringPtrFromNull(failureReason)
	session.RegistrationJSON = stringPtrFromNull(registrationJSON)

	return nil
}
