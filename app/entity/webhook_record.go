package entity

import "time"

// WebhookRecord stores a gateway notification exactly as received. Records
// that could not be matched to a session or user stay processed=false until
// the sweeper resolves them or the attempt cap is hit; they are never deleted.
type WebhookRecord struct {
	ID uint64

	Reference *string
	UserID    *string

	PayloadJSON string

	Processed bool
	Attempts  int32
	Result    *string

	CreatedAt time.Time
	UpdatedAt time.Time
}
