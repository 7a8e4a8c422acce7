package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/tradelens/ms-go-billing/app/entity"
)

type WebhookRecordRepository struct {
	db DBTX
}

func NewWebhookRecordRepository(db DBTX) *WebhookRecordRepository {
	return &WebhookRecordRepository{db: db}
}

const webhookRecordColumns = `
	id, reference, user_id, payload_json, processed, attempts, result, created_at, updated_at
`

func (r *WebhookRecordRepository) Create(ctx context.Context, record *entity.WebhookRecord) error {
	query := `
		INSERT INTO webhook_records (
			reference, user_id, payload_json, processed, attempts, result, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		nullableStringValue(record.Reference),
		nullableStringValue(record.UserID),
		record.PayloadJSON,
		record.Processed,
		record.Attempts,
		nullableStringValue(record.Result),
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	record.ID = uint64(id)
	return nil
}

func (r *WebhookRecordRepository) Update(ctx context.Context, record *entity.WebhookRecord) error {
	query := `
		UPDATE webhook_records SET
			reference = ?,
			user_id = ?,
			processed = ?,
			attempts = ?,
			result = ?,
			updated_at = ?
		WHERE id = ?
	`

	_, err := r.db.ExecContext(ctx, query,
		nullableStringValue(record.Reference),
		nullableStringValue(record.UserID),
		record.Processed,
		record.Attempts,
		nullableStringValue(record.Result),
		record.UpdatedAt,
		record.ID,
	)
	return err
}

// FindProcessedByReference returns the most recent successfully applied
// record for a session reference, if any. The redirect verifier trusts it
// over a fresh gateway call.
func (r *WebhookRecordRepository) FindProcessedByReference(ctx context.Context, reference string) (*entity.WebhookRecord, error) {
	query := `
		SELECT ` + webhookRecordColumns + `
		FROM webhook_records
		WHERE reference = ? AND processed = TRUE
		ORDER BY id DESC
		LIMIT 1
	`

	record := &entity.WebhookRecord{}
	if err := scanWebhookRecord(r.db.QueryRowContext(ctx, query, reference), record); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return record, nil
}

func (r *WebhookRecordRepository) ListUnprocessed(ctx context.Context, maxAttempts int32, since time.Time, limit int32) ([]*entity.WebhookRecord, error) {
	query := `
		SELECT ` + webhookRecordColumns + `
		FROM webhook_records
		WHERE processed = FALSE
		  AND attempts < ?
		  AND created_at >= ?
		ORDER BY id ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, maxAttempts, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]*entity.WebhookRecord, 0)
	for rows.Next() {
		item := &entity.WebhookRecord{}
		if err := scanWebhookRecord(rows, item); err != nil {
			return nil, err
		}
		records = append(records, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

func scanWebhookRecord(scan rowScanner, record *entity.WebhookRecord) error {
	var reference sql.NullString
	var userID sql.NullString
	var result sql.NullString

	err := scan.Scan(
		&record.ID,
		&reference,
		&userID,
		&record.PayloadJSON,
		&record.Processed,
		&record.Attempts,
		&result,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return err
	}

	record.Reference = stringPtrFromNull(reference)
	record.UserID = stringPtrFromNull(userID)
	record.Result = stringPtrFromNull(result)

	return nil
}
