package repository

import (
	"context"
	"database/sql"

	"github.com/tradelens/ms-go-billing/app/entity"
)

type LedgerEntryRepository struct {
	db DBTX
}

func NewLedgerEntryRepository(db DBTX) *LedgerEntryRepository {
	return &LedgerEntryRepository{db: db}
}

func (r *LedgerEntryRepository) Create(ctx context.Context, entry *entity.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries (
			user_id, subscription_id, session_reference,
			amount, currency, status, description,
			transaction_id, invoice_number, card_brand, card_last4,
			document_ref, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		nullableStringValue(entry.UserID),
		nullableUint64Value(entry.SubscriptionID),
		nullableStringValue(entry.SessionReference),
		entry.Amount,
		entry.Currency,
		entry.Status,
		entry.Description,
		nullableStringValue(entry.TransactionID),
		nullableStringValue(entry.InvoiceNumber),
		nullableStringValue(entry.CardBrand),
		nullableStringValue(entry.CardLast4),
		nullableStringValue(entry.DocumentRef),
		entry.CreatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	entry.ID = uint64(id)
	return nil
}

// FindBySessionReference returns the newest ledger row for a checkout
// session, or nil.
func (r *LedgerEntryRepository) FindBySessionReference(ctx context.Context, reference string) (*entity.LedgerEntry, error) {
	query := `
		SELECT id, user_id, subscription_id, session_reference,
			amount, currency, status, description,
			transaction_id, invoice_number, card_brand, card_last4,
			document_ref, created_at
		FROM ledger_entries
		WHERE session_reference = ?
		ORDER BY id DESC
		LIMIT 1
	`

	entry := &entity.LedgerEntry{}
	var userID, sessionReference, transactionID, invoiceNumber, cardBrand, cardLast4, documentRef sql.NullString
	var subscriptionID sql.NullInt64

	err := r.db.QueryRowContext(ctx, query, reference).Scan(
		&entry.ID,
		&userID,
		&subscriptionID,
		&sessionReference,
		&entry.Amount,
		&entry.Currency,
		&entry.Status,
		&entry.Description,
		&transactionID,
		&invoiceNumber,
		&cardBrand,
		&cardLast4,
		&documentRef,
		&entry.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entry.UserID = stringPtrFromNull(userID)
	entry.SubscriptionID = uint64PtrFromNull(subscriptionID)
	entry.SessionReference = stringPtrFromNull(sessionReference)
	entry.TransactionID = stringPtrFromNull(transactionID)
	entry.InvoiceNumber = stringPtrFromNull(invoiceNumber)
	entry.CardBrand = stringPtrFromNull(cardBrand)
	entry.CardLast4 = stringPtrFromNull(cardLast4)
	entry.DocumentRef = stringPtrFromNull(documentRef)

	return entry, nil
}

// AttachDocument is the only permitted post-insert mutation on a ledger row.
func (r *LedgerEntryRepository) AttachDocument(ctx context.Context, id uint64, documentRef string) error {
	query := `UPDATE ledger_entries SET document_ref = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, documentRef, id)
	return err
}
