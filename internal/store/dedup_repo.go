// Package store provides the DedupRepo interface for inbound update de-duplication.
package store

import "context"

// DedupRepo defines the interface for inbound update de-duplication.
type DedupRepo interface {
	// IsDuplicate checks if an update ID has already been recorded.
	IsDuplicate(ctx context.Context, messageID string) (bool, error)

	// RecordInbound inserts a new inbound record. Returns false if the
	// update was already recorded (duplicate).
	RecordInbound(ctx context.Context, messageID, chatID string) (bool, error)

	// MarkProcessed sets the processed_at timestamp for an update.
	MarkProcessed(ctx context.Context, messageID string) error
}
